// Package transport defines the message-bus contract used by the xappflow runtime.
// A Driver opens endpoints bound to a numeric port; an Endpoint hands out message
// buffers, signals readability and moves messages in and out. Driver
// implementations (loopback, tcp, watermill bridges) live in sub-packages and
// register themselves with the transport registry.
package transport

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
)

// Flags tune endpoint initialisation. Values match the RMR library.
type Flags int

const (
	FlagNone      Flags = 0x00
	FlagNoThread  Flags = 0x01
	FlagMTCall    Flags = 0x02
	FlagAutoAlloc Flags = 0x03
	FlagNameOnly  Flags = 0x04
	FlagNoLock    Flags = 0x08
)

// Has reports whether every bit of f2 is set in f.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

// MaxRcvBytes is the default buffer size used when allocating receive buffers.
const MaxRcvBytes = 4096

// MaxXactionLen bounds the transaction id carried by every message.
const MaxXactionLen = 32

// UnsetSubID marks a message without a subscription id.
const UnsetSubID int32 = -1

var (
	ErrInvalidPort  = errors.New("transport: invalid port")
	ErrPortInUse    = errors.New("transport: port already bound")
	ErrClosed       = errors.New("transport: endpoint closed")
	ErrNoRoute      = errors.New("transport: no route for message type")
	ErrUnknownPeer  = errors.New("transport: unknown peer")
	ErrNilMessage   = errors.New("transport: nil message")
	ErrNotReady     = errors.New("transport: endpoint not ready")
	ErrBadAllocSize = errors.New("transport: allocation size must be positive")
	ErrQueueFull    = errors.New("transport: peer queue full")
	ErrNoSource     = errors.New("transport: message has no source address")
)

// Endpoint is a bound message-bus attachment. Implementations must be safe for
// use from several goroutines, although the runtime serialises access.
type Endpoint interface {
	// Ready reports whether routing information is available.
	Ready() bool
	// RecvNotify returns a channel that yields one token per readable message.
	RecvNotify() (<-chan struct{}, error)
	// Alloc returns a fresh buffer whose payload capacity is size bytes.
	Alloc(size int) (*Msg, error)
	// Recv blocks until a message is available and fills msg with it.
	Recv(msg *Msg) (*Msg, error)
	// Send routes msg by its message type and subscription id.
	Send(msg *Msg) (*Msg, error)
	// ReturnToSender sends msg back to the endpoint that originated it.
	ReturnToSender(msg *Msg) (*Msg, error)
	// Free releases a buffer obtained from Alloc or Recv.
	Free(msg *Msg)
	// Close detaches the endpoint and unblocks pending receivers.
	Close() error
}

// Driver opens endpoints on a concrete message bus.
type Driver interface {
	Init(port string, maxSize int, flags Flags) (Endpoint, error)
	Close() error
}

// RouteInstaller is implemented by drivers that accept a route table after
// construction. Installing a table is what makes non-NoThread endpoints ready.
type RouteInstaller interface {
	InstallRoutes(rt *RouteTable)
}

// Builder is the function signature for creating a driver from config.
// Each transport package provides a Builder that is registered by name.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Driver, error)

// Config provides the configuration values needed by drivers.
// Drivers only see the getters they need, not the full config package.
type Config interface {
	// GetBusSystem returns the driver name.
	GetBusSystem() string

	// Routing
	GetRouteTableFile() string
	GetAdvertiseHost() string
	GetTopicPrefix() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// IO
	GetIOFile() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by drivers that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
