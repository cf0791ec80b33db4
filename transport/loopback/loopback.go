// Package loopback provides an in-process message bus driver. Endpoints opened
// on the same Bus exchange messages through bounded inboxes, which makes the
// driver the default for local development and tests.
package loopback

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/xappflow/transport"
)

// TransportName is the name used to register this driver.
const TransportName = "loopback"

// minPort is the first non-privileged port.
const minPort = 1024

// DefaultBus is shared by every driver built through the registry so that
// endpoints in one process can reach each other.
var DefaultBus = NewBus("localhost", nil)

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.LoopbackCapabilities)
}

// Build returns DefaultBus, installing the configured seed route table.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Driver, error) {
	rt, err := transport.RoutesFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	if rt != nil {
		DefaultBus.InstallRoutes(rt)
	}
	if logger != nil {
		DefaultBus.logger = logger
	}
	return DefaultBus, nil
}

// Capabilities returns the capabilities of this driver.
func Capabilities() transport.Capabilities {
	return transport.LoopbackCapabilities
}

// Bus connects loopback endpoints by address.
type Bus struct {
	mu        sync.RWMutex
	host      string
	endpoints map[string]*endpoint
	routes    transport.Routes
	inboxSize int
	logger    watermill.LoggerAdapter
}

// NewBus creates an empty bus. host is used to build endpoint addresses.
func NewBus(host string, logger watermill.LoggerAdapter) *Bus {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	if host == "" {
		host = "localhost"
	}
	return &Bus{
		host:      host,
		endpoints: make(map[string]*endpoint),
		inboxSize: transport.DefaultInboxSize,
		logger:    logger,
	}
}

// InstallRoutes makes every endpoint on the bus ready.
func (b *Bus) InstallRoutes(rt *transport.RouteTable) {
	b.routes.Install(rt)
	b.logger.Info("Loopback route table installed", watermill.LogFields{"entries": rt.Len()})
}

// Address returns the address an endpoint bound to port would advertise.
func (b *Bus) Address(port int) string {
	return transport.JoinAddress(b.host, port)
}

// Init binds an endpoint to port.
func (b *Bus) Init(port string, maxSize int, flags transport.Flags) (transport.Endpoint, error) {
	n, err := transport.ParsePort(port)
	if err != nil {
		return nil, err
	}
	if n < minPort {
		return nil, fmt.Errorf("%w: privileged port %d", transport.ErrInvalidPort, n)
	}
	if maxSize <= 0 {
		maxSize = transport.MaxRcvBytes
	}

	addr := b.Address(n)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, taken := b.endpoints[addr]; taken {
		return nil, fmt.Errorf("%w: %s", transport.ErrPortInUse, addr)
	}
	ep := &endpoint{
		bus:     b,
		addr:    addr,
		flags:   flags,
		maxSize: maxSize,
		inbox:   transport.NewInbox(b.inboxSize),
	}
	b.endpoints[addr] = ep
	b.logger.Debug("Loopback endpoint bound", watermill.LogFields{"addr": addr, "flags": int(flags)})
	return ep, nil
}

// Close detaches every endpoint. The bus itself stays usable.
func (b *Bus) Close() error {
	b.mu.Lock()
	eps := make([]*endpoint, 0, len(b.endpoints))
	for _, ep := range b.endpoints {
		eps = append(eps, ep)
	}
	b.mu.Unlock()

	for _, ep := range eps {
		_ = ep.Close()
	}
	return nil
}

func (b *Bus) deliver(addr string, msg *transport.Msg) error {
	b.mu.RLock()
	ep, ok := b.endpoints[addr]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", transport.ErrUnknownPeer, addr)
	}
	if !ep.inbox.Push(msg) {
		return fmt.Errorf("%w: %s", transport.ErrQueueFull, addr)
	}
	return nil
}

func (b *Bus) unbind(ep *endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.endpoints[ep.addr]; ok && cur == ep {
		delete(b.endpoints, ep.addr)
	}
}

type endpoint struct {
	bus     *Bus
	addr    string
	flags   transport.Flags
	maxSize int
	inbox   *transport.Inbox
	closed  atomic.Bool
}

func (e *endpoint) Ready() bool {
	if e.closed.Load() {
		return false
	}
	return e.flags.Has(transport.FlagNoThread) || e.bus.routes.Loaded()
}

func (e *endpoint) RecvNotify() (<-chan struct{}, error) {
	if e.closed.Load() {
		return nil, transport.ErrClosed
	}
	return e.inbox.Notify(), nil
}

func (e *endpoint) Alloc(size int) (*transport.Msg, error) {
	if e.closed.Load() {
		return nil, transport.ErrClosed
	}
	return transport.NewMsg(size)
}

func (e *endpoint) Recv(msg *transport.Msg) (*transport.Msg, error) {
	if msg == nil {
		return nil, transport.ErrNilMessage
	}
	in, err := e.inbox.Pop()
	if err != nil {
		msg.State = transport.StateRecvFailed
		return msg, err
	}
	return transport.Deliver(msg, in), nil
}

func (e *endpoint) Send(msg *transport.Msg) (*transport.Msg, error) {
	if e.closed.Load() {
		return msg, transport.ErrClosed
	}
	return transport.Dispatch(e.bus.routes.Table(), e.addr, msg, e.bus.deliver)
}

func (e *endpoint) ReturnToSender(msg *transport.Msg) (*transport.Msg, error) {
	if e.closed.Load() {
		return msg, transport.ErrClosed
	}
	return transport.Return(e.addr, msg, e.bus.deliver)
}

func (e *endpoint) Free(msg *transport.Msg) {
	if msg != nil {
		msg.Payload = nil
		msg.Len = 0
	}
}

func (e *endpoint) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.bus.unbind(e)
	e.inbox.Close()
	return nil
}
