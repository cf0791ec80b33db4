// Package bridge runs the message bus contract on top of any watermill
// publisher/subscriber pair. Every endpoint subscribes to a topic derived from
// its address; sends publish to the topic of each routed destination.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cenkalti/backoff/v5"

	"github.com/drblury/xappflow/transport"
)

// Options configures a bridge Driver.
type Options struct {
	// Name identifies the underlying bus in logs.
	Name        string
	TopicPrefix string
	Host        string
	InboxSize   int
	Logger      watermill.LoggerAdapter

	// FullInboxDelay is the first wait before a message that found the inbox
	// full is offered again. Waits double up to maxFullInboxDelay.
	FullInboxDelay time.Duration
}

const (
	defaultFullInboxDelay = 5 * time.Millisecond
	maxFullInboxDelay     = 500 * time.Millisecond
)

// Driver adapts a watermill pair to transport.Driver.
type Driver struct {
	pub  message.Publisher
	sub  message.Subscriber
	opts Options

	routes transport.Routes

	mu        sync.Mutex
	endpoints map[*endpoint]struct{}
	closed    bool
}

// New wraps pub and sub. The driver owns both and closes them on Close.
func New(pub message.Publisher, sub message.Subscriber, opts Options) *Driver {
	if opts.Logger == nil {
		opts.Logger = watermill.NopLogger{}
	}
	if opts.Name == "" {
		opts.Name = "bridge"
	}
	if opts.FullInboxDelay <= 0 {
		opts.FullInboxDelay = defaultFullInboxDelay
	}
	return &Driver{
		pub:       pub,
		sub:       sub,
		opts:      opts,
		endpoints: make(map[*endpoint]struct{}),
	}
}

// FromConfig wraps pub and sub, applying routing settings from cfg.
func FromConfig(name string, pub message.Publisher, sub message.Subscriber, cfg transport.Config, logger watermill.LoggerAdapter) (*Driver, error) {
	drv := New(pub, sub, Options{
		Name:        name,
		TopicPrefix: cfg.GetTopicPrefix(),
		Host:        cfg.GetAdvertiseHost(),
		Logger:      logger,
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

// InstallRoutes makes endpoints ready and enables Send.
func (d *Driver) InstallRoutes(rt *transport.RouteTable) {
	d.routes.Install(rt)
	d.opts.Logger.Info("Bridge route table installed", watermill.LogFields{"bus": d.opts.Name, "entries": rt.Len()})
}

// Init subscribes a new endpoint to the topic of its address.
func (d *Driver) Init(port string, maxSize int, flags transport.Flags) (transport.Endpoint, error) {
	n, err := transport.ParsePort(port)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, transport.ErrClosed
	}

	addr := transport.JoinAddress(d.opts.Host, n)
	for ep := range d.endpoints {
		if ep.addr == addr {
			return nil, fmt.Errorf("%w: %s", transport.ErrPortInUse, addr)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	topic := TopicFor(d.opts.TopicPrefix, addr)
	messages, err := d.sub.Subscribe(ctx, topic)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	ep := &endpoint{
		drv:    d,
		addr:   addr,
		topic:  topic,
		flags:  flags,
		inbox:  transport.NewInbox(d.opts.InboxSize),
		ctx:    ctx,
		cancel: cancel,
	}
	d.endpoints[ep] = struct{}{}
	go ep.consume(messages)

	d.opts.Logger.Info("Bridge endpoint subscribed", watermill.LogFields{"bus": d.opts.Name, "topic": topic})
	return ep, nil
}

// Close closes every endpoint and the underlying publisher and subscriber.
func (d *Driver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	eps := make([]*endpoint, 0, len(d.endpoints))
	for ep := range d.endpoints {
		eps = append(eps, ep)
	}
	d.mu.Unlock()

	for _, ep := range eps {
		_ = ep.Close()
	}

	var errs []error
	if err := d.pub.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close publisher: %w", err))
	}
	if any(d.sub) != any(d.pub) {
		if err := d.sub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close subscriber: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (d *Driver) publish(addr string, msg *transport.Msg) error {
	return d.pub.Publish(TopicFor(d.opts.TopicPrefix, addr), ToWatermill(msg))
}

type endpoint struct {
	drv    *Driver
	addr   string
	topic  string
	flags  transport.Flags
	inbox  *transport.Inbox
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

func (e *endpoint) consume(messages <-chan *message.Message) {
	logger := e.drv.opts.Logger
	for wm := range messages {
		msg, err := FromWatermill(wm)
		if err != nil {
			logger.Error("Bridge message rejected", err, watermill.LogFields{"topic": e.topic, "uuid": wm.UUID})
			wm.Ack()
			continue
		}
		if !e.hold(msg) {
			wm.Nack()
			continue
		}
		wm.Ack()
	}
}

// hold offers msg to the inbox until it fits or the endpoint closes. The
// watermill message stays unacked meanwhile, so the subscriber does not
// deliver further messages to this endpoint.
func (e *endpoint) hold(msg *transport.Msg) bool {
	if e.inbox.Offer(msg) {
		return true
	}
	e.drv.opts.Logger.Info("Bridge inbox full, holding message", watermill.LogFields{"topic": e.topic, "mtype": msg.MType})

	wait := backoff.NewExponentialBackOff()
	wait.InitialInterval = e.drv.opts.FullInboxDelay
	wait.MaxInterval = maxFullInboxDelay
	wait.Reset()
	for {
		timer := time.NewTimer(wait.NextBackOff())
		select {
		case <-e.ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
		if e.inbox.Offer(msg) {
			return true
		}
	}
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
	return transport.Dispatch(e.drv.routes.Table(), e.addr, msg, e.drv.publish)
}

func (e *endpoint) ReturnToSender(msg *transport.Msg) (*transport.Msg, error) {
	if e.closed.Load() {
		return msg, transport.ErrClosed
	}
	return transport.Return(e.addr, msg, e.drv.publish)
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
	e.cancel()
	e.inbox.Close()

	e.drv.mu.Lock()
	delete(e.drv.endpoints, e)
	e.drv.mu.Unlock()
	return nil
}
