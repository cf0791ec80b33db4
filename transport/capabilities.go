package transport

// Capabilities describes what a driver offers. Use it to introspect a
// configured bus at runtime.
type Capabilities struct {
	// SupportsOrdering indicates messages from one sender arrive in order.
	SupportsOrdering bool

	// SupportsReturnToSender indicates replies can be addressed to the
	// originating endpoint without a route table entry.
	SupportsReturnToSender bool

	// SupportsRouting indicates Send resolves destinations through the route table.
	SupportsRouting bool

	// Networked indicates endpoints can live in different processes.
	Networked bool

	// SupportsAck indicates the underlying bus acknowledges delivery.
	SupportsAck bool

	// MaxMessageSize is the maximum payload in bytes (0 = unlimited/unknown).
	MaxMessageSize int64

	// Name is the human-readable name of the driver.
	Name string

	// Version is the driver version.
	Version string
}

// SupportsReplies returns true when the pong-style request/reply pattern works
// without extra routing configuration.
func (c Capabilities) SupportsReplies() bool {
	return c.SupportsReturnToSender
}

// Predefined capability sets for the built-in drivers.
var (
	LoopbackCapabilities = Capabilities{
		Name:                   "loopback",
		SupportsOrdering:       true,
		SupportsReturnToSender: true,
		SupportsRouting:        true,
	}

	TCPCapabilities = Capabilities{
		Name:                   "tcp",
		SupportsOrdering:       true,
		SupportsReturnToSender: true,
		SupportsRouting:        true,
		Networked:              true,
		MaxMessageSize:         16 << 20,
	}

	ChannelCapabilities = Capabilities{
		Name:                   "channel",
		SupportsOrdering:       true,
		SupportsReturnToSender: true,
		SupportsRouting:        true,
		SupportsAck:            true,
	}

	KafkaCapabilities = Capabilities{
		Name:                   "kafka",
		SupportsOrdering:       true,
		SupportsReturnToSender: true,
		SupportsRouting:        true,
		Networked:              true,
		SupportsAck:            true,
		MaxMessageSize:         1048576,
	}

	RabbitMQCapabilities = Capabilities{
		Name:                   "rabbitmq",
		SupportsOrdering:       true,
		SupportsReturnToSender: true,
		SupportsRouting:        true,
		Networked:              true,
		SupportsAck:            true,
	}

	NATSCapabilities = Capabilities{
		Name:                   "nats",
		SupportsReturnToSender: true,
		SupportsRouting:        true,
		Networked:              true,
		MaxMessageSize:         1048576,
	}

	NATSJetStreamCapabilities = Capabilities{
		Name:                   "nats-jetstream",
		SupportsOrdering:       true,
		SupportsReturnToSender: true,
		SupportsRouting:        true,
		Networked:              true,
		SupportsAck:            true,
		MaxMessageSize:         1048576,
	}

	AWSCapabilities = Capabilities{
		Name:                   "aws",
		SupportsOrdering:       true,
		SupportsReturnToSender: true,
		SupportsRouting:        true,
		Networked:              true,
		SupportsAck:            true,
		MaxMessageSize:         262144,
	}

	HTTPCapabilities = Capabilities{
		Name:            "http",
		SupportsRouting: true,
		Networked:       true,
	}

	IOCapabilities = Capabilities{
		Name:             "io",
		SupportsOrdering: true,
		SupportsRouting:  true,
	}
)

// GetCapabilities returns the capabilities for a driver by name.
// Returns a Capabilities value carrying only the name if the driver is unknown.
func GetCapabilities(name string) Capabilities {
	return DefaultRegistry.GetCapabilities(name)
}
