// Package tcp provides a networked message bus driver. Each endpoint listens on
// its port and exchanges length-prefixed frames with its peers; destinations
// come from the route table or the sender address carried in every message.
package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/xappflow/transport"
)

// TransportName is the name used to register this driver.
const TransportName = "tcp"

const (
	defaultDialTimeout  = 2 * time.Second
	defaultMaxFrameSize = 16 << 20
)

// Listen allows overriding the listener creation for testing.
var Listen = func(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

// Dial allows overriding outbound connections for testing.
var Dial = func(addr string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", addr, timeout)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.TCPCapabilities)
}

// Build creates a tcp driver from config.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Driver, error) {
	drv := New(Options{
		Host:   cfg.GetAdvertiseHost(),
		Logger: logger,
	})
	rt, err := transport.RoutesFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	if rt != nil {
		drv.InstallRoutes(rt)
	}
	return drv, nil
}

// Capabilities returns the capabilities of this driver.
func Capabilities() transport.Capabilities {
	return transport.TCPCapabilities
}

// Options configures a Driver.
type Options struct {
	// Host is advertised as the source of outgoing messages.
	Host         string
	DialTimeout  time.Duration
	InboxSize    int
	MaxFrameSize int
	Logger       watermill.LoggerAdapter
}

// Driver opens tcp endpoints.
type Driver struct {
	opts   Options
	routes transport.Routes

	mu        sync.Mutex
	endpoints map[*endpoint]struct{}
}

// New creates a driver.
func New(opts Options) *Driver {
	if opts.Logger == nil {
		opts.Logger = watermill.NopLogger{}
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = defaultMaxFrameSize
	}
	return &Driver{opts: opts, endpoints: make(map[*endpoint]struct{})}
}

// InstallRoutes makes endpoints ready and enables Send.
func (d *Driver) InstallRoutes(rt *transport.RouteTable) {
	d.routes.Install(rt)
	d.opts.Logger.Info("TCP route table installed", watermill.LogFields{"entries": rt.Len()})
}

// Init starts listening on port.
func (d *Driver) Init(port string, maxSize int, flags transport.Flags) (transport.Endpoint, error) {
	n, err := transport.ParsePort(port)
	if err != nil {
		return nil, err
	}
	ln, err := Listen(fmt.Sprintf(":%d", n))
	if err != nil {
		return nil, fmt.Errorf("listen on %d: %w", n, err)
	}
	ep := &endpoint{
		drv:     d,
		addr:    transport.JoinAddress(d.opts.Host, n),
		flags:   flags,
		ln:      ln,
		inbox:   transport.NewInbox(d.opts.InboxSize),
		peers:   make(map[string]*peer),
		inbound: make(map[net.Conn]struct{}),
	}
	d.mu.Lock()
	d.endpoints[ep] = struct{}{}
	d.mu.Unlock()

	ep.wg.Add(1)
	go ep.acceptLoop()
	d.opts.Logger.Info("TCP endpoint listening", watermill.LogFields{"addr": ep.addr, "listen": ln.Addr().String()})
	return ep, nil
}

// Close shuts down every endpoint opened by the driver.
func (d *Driver) Close() error {
	d.mu.Lock()
	eps := make([]*endpoint, 0, len(d.endpoints))
	for ep := range d.endpoints {
		eps = append(eps, ep)
	}
	d.mu.Unlock()

	var errs []error
	for _, ep := range eps {
		if err := ep.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type peer struct {
	mu   sync.Mutex
	conn net.Conn
}

type endpoint struct {
	drv    *Driver
	addr   string
	flags  transport.Flags
	ln     net.Listener
	inbox  *transport.Inbox
	closed atomic.Bool
	wg     sync.WaitGroup

	mu      sync.Mutex
	peers   map[string]*peer
	inbound map[net.Conn]struct{}
}

func (e *endpoint) Ready() bool {
	if e.closed.Load() {
		return false
	}
	return e.flags.Has(transport.FlagNoThread) || e.drv.routes.Loaded()
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
	return transport.Dispatch(e.drv.routes.Table(), e.addr, msg, e.write)
}

func (e *endpoint) ReturnToSender(msg *transport.Msg) (*transport.Msg, error) {
	if e.closed.Load() {
		return msg, transport.ErrClosed
	}
	return transport.Return(e.addr, msg, e.write)
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
	err := e.ln.Close()

	e.mu.Lock()
	for _, p := range e.peers {
		_ = p.conn.Close()
	}
	for c := range e.inbound {
		_ = c.Close()
	}
	e.peers = map[string]*peer{}
	e.mu.Unlock()

	e.inbox.Close()
	e.wg.Wait()

	e.drv.mu.Lock()
	delete(e.drv.endpoints, e)
	e.drv.mu.Unlock()
	return err
}

func (e *endpoint) acceptLoop() {
	defer e.wg.Done()
	for {
		conn, err := e.ln.Accept()
		if err != nil {
			if !e.closed.Load() {
				e.drv.opts.Logger.Error("TCP accept failed", err, watermill.LogFields{"addr": e.addr})
			}
			return
		}
		e.mu.Lock()
		if e.closed.Load() {
			e.mu.Unlock()
			_ = conn.Close()
			return
		}
		e.inbound[conn] = struct{}{}
		e.mu.Unlock()

		e.wg.Add(1)
		go e.readLoop(conn)
	}
}

func (e *endpoint) readLoop(conn net.Conn) {
	defer e.wg.Done()
	defer func() {
		e.mu.Lock()
		delete(e.inbound, conn)
		e.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		msg, err := readFrame(conn, e.drv.opts.MaxFrameSize)
		if err != nil {
			if !errors.Is(err, io.EOF) && !e.closed.Load() {
				e.drv.opts.Logger.Error("TCP frame read failed", err, watermill.LogFields{
					"addr":   e.addr,
					"remote": conn.RemoteAddr().String(),
				})
			}
			return
		}
		if !e.inbox.Push(msg) {
			e.drv.opts.Logger.Info("TCP inbox full, message dropped", watermill.LogFields{
				"addr":  e.addr,
				"mtype": msg.MType,
			})
		}
	}
}

func (e *endpoint) write(addr string, msg *transport.Msg) error {
	p, err := e.peer(addr)
	if err != nil {
		return err
	}
	p.mu.Lock()
	err = writeFrame(p.conn, msg)
	p.mu.Unlock()
	if err == nil {
		return nil
	}

	// stale connection: redial once
	e.dropPeer(addr, p)
	p, err = e.peer(addr)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return writeFrame(p.conn, msg)
}

func (e *endpoint) peer(addr string) (*peer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Load() {
		return nil, transport.ErrClosed
	}
	if p, ok := e.peers[addr]; ok {
		return p, nil
	}
	conn, err := Dial(addr, e.drv.opts.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", transport.ErrUnknownPeer, addr, err)
	}
	p := &peer{conn: conn}
	e.peers[addr] = p
	return p, nil
}

func (e *endpoint) dropPeer(addr string, p *peer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.peers[addr]; ok && cur == p {
		delete(e.peers, addr)
	}
	_ = p.conn.Close()
}
