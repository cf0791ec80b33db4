package rmr

import (
	"fmt"
	"sync/atomic"

	"github.com/drblury/xappflow/internal/runtime/errors"
	"github.com/drblury/xappflow/internal/runtime/logging"
	"github.com/drblury/xappflow/transport"
)

// ClientOption customises NewClient.
type ClientOption func(*clientOptions)

type clientOptions struct {
	liveness *Liveness
	logger   logging.ServiceLogger
}

// WithLiveness binds the client to l instead of the process-wide marker.
func WithLiveness(l *Liveness) ClientOption {
	return func(o *clientOptions) {
		if l != nil {
			o.liveness = l
		}
	}
}

// WithLogger sets the logger used for buffer accounting problems.
func WithLogger(log logging.ServiceLogger) ClientOption {
	return func(o *clientOptions) {
		if log != nil {
			o.logger = log
		}
	}
}

// ClientStats counts buffers handed out and released by a client.
type ClientStats struct {
	Allocated   int64 `json:"allocated"`
	Freed       int64 `json:"freed"`
	Outstanding int64 `json:"outstanding"`
}

// Client is the transport context: one endpoint on the message bus plus the
// buffer accounting around it. Client is not safe for concurrent use; share it
// through SharedClient.
type Client struct {
	ep       transport.Endpoint
	port     string
	maxSize  int
	flags    transport.Flags
	liveness *Liveness
	logger   logging.ServiceLogger

	closed    atomic.Bool
	allocated atomic.Int64
	freed     atomic.Int64
}

// NewClient initialises an endpoint on port. It fails with ErrAlreadyInitialized
// while another client holds the same liveness marker, and with
// ErrNativeInitFailed when the driver rejects the port.
func NewClient(drv transport.Driver, port string, maxSize int, flags transport.Flags, opts ...ClientOption) (*Client, error) {
	o := clientOptions{liveness: processLiveness}
	for _, opt := range opts {
		opt(&o)
	}

	lv := o.liveness
	lv.mu.Lock()
	defer lv.mu.Unlock()

	if lv.live {
		return nil, errors.ErrAlreadyInitialized
	}
	if drv == nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrNativeInitFailed, errors.ErrDriverRequired)
	}
	if maxSize <= 0 {
		maxSize = transport.MaxRcvBytes
	}

	ep, err := drv.Init(port, maxSize, flags)
	if err != nil {
		return nil, fmt.Errorf("%w: port %q: %w", errors.ErrNativeInitFailed, port, err)
	}
	if ep == nil {
		return nil, fmt.Errorf("%w: port %q: driver returned no endpoint", errors.ErrNativeInitFailed, port)
	}

	lv.live = true
	return &Client{
		ep:       ep,
		port:     port,
		maxSize:  maxSize,
		flags:    flags,
		liveness: lv,
		logger:   o.logger,
	}, nil
}

// Port returns the port the client was initialised on.
func (c *Client) Port() string { return c.port }

// MaxSize returns the default buffer size.
func (c *Client) MaxSize() int { return c.maxSize }

// IsReady reports whether the transport can route messages.
func (c *Client) IsReady() bool {
	if c.closed.Load() {
		return false
	}
	return c.ep.Ready()
}

// RecvNotify returns the readability channel of the endpoint. It fails with
// ErrNotReady before routing information is available.
func (c *Client) RecvNotify() (<-chan struct{}, error) {
	if !c.IsReady() {
		return nil, errors.ErrNotReady
	}
	ch, err := c.ep.RecvNotify()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrNotReady, err)
	}
	return ch, nil
}

// Alloc returns an application-owned buffer of MaxSize bytes. The caller
// must Free it once done.
func (c *Client) Alloc() (*Buffer, error) {
	msg, err := c.allocMsg()
	if err != nil {
		return nil, err
	}
	return wrap(c, msg, false), nil
}

// Reply returns buf to the endpoint it came from. The buffer stays with the
// caller.
func (c *Client) Reply(buf *Buffer) error {
	if err := c.usable(buf); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrReplyFailed, err)
	}
	out, err := c.ep.ReturnToSender(buf.msg)
	if out != nil {
		buf.msg = out
	}
	if err != nil {
		return fmt.Errorf("%w: %w", errors.ErrReplyFailed, err)
	}
	if out == nil || out.State != transport.StateOK {
		return fmt.Errorf("%w: state %s", errors.ErrReplyFailed, buf.msg.State)
	}
	return nil
}

// Send routes buf by its message type. The buffer stays with the caller.
func (c *Client) Send(buf *Buffer) error {
	if err := c.usable(buf); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrSendFailed, err)
	}
	out, err := c.ep.Send(buf.msg)
	if out != nil {
		buf.msg = out
	}
	if err != nil {
		return fmt.Errorf("%w: %w", errors.ErrSendFailed, err)
	}
	if out == nil || out.State != transport.StateOK {
		return fmt.Errorf("%w: state %s", errors.ErrSendFailed, buf.msg.State)
	}
	return nil
}

// SendPayload allocates a buffer, fills it with payload and routes it by
// mtype. Handlers use it to originate messages through the client they are
// given.
func (c *Client) SendPayload(mtype int32, payload []byte) error {
	buf, err := c.Alloc()
	if err != nil {
		return err
	}
	defer func() { _ = buf.Free() }()

	buf.SetType(mtype)
	if err := buf.SetPayload(payload); err != nil {
		return err
	}
	return c.Send(buf)
}

// Stats returns buffer accounting counters.
func (c *Client) Stats() ClientStats {
	alloc, freed := c.allocated.Load(), c.freed.Load()
	return ClientStats{Allocated: alloc, Freed: freed, Outstanding: alloc - freed}
}

// Close releases the endpoint and the liveness marker. Calling it again is a no-op.
func (c *Client) Close() error {
	lv := c.liveness
	lv.mu.Lock()
	defer lv.mu.Unlock()

	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	lv.live = false
	if out := c.Stats().Outstanding; out != 0 && c.logger != nil {
		c.logger.Info("Transport context closed with outstanding buffers", logging.LogFields{"outstanding": out, "port": c.port})
	}
	return c.ep.Close()
}

// receive allocates a buffer and fills it with the next inbound message. The
// buffer is owned by the pipeline.
func (c *Client) receive() (*Buffer, error) {
	msg, err := c.allocMsg()
	if err != nil {
		return nil, err
	}
	out, err := c.ep.Recv(msg)
	if err != nil || out == nil || out.State != transport.StateOK {
		c.free(msg)
		if out != nil && out != msg {
			// out came from the endpoint, not from alloc
			c.allocated.Add(1)
			c.free(out)
		}
		if err == nil {
			state := transport.StateRecvFailed
			if out != nil {
				state = out.State
			}
			return nil, fmt.Errorf("%w: state %s", errors.ErrRecvFailed, state)
		}
		return nil, fmt.Errorf("%w: %w", errors.ErrRecvFailed, err)
	}
	if out != msg {
		// the driver handed back a different buffer; the original is gone
		c.free(msg)
		c.allocated.Add(1)
	}
	return wrap(c, out, true), nil
}

func (c *Client) allocMsg() (*transport.Msg, error) {
	if c.closed.Load() {
		return nil, errors.ErrClientClosed
	}
	msg, err := c.ep.Alloc(c.maxSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrAllocFailed, err)
	}
	if msg == nil {
		return nil, errors.ErrAllocFailed
	}
	c.allocated.Add(1)
	return msg, nil
}

func (c *Client) free(msg *transport.Msg) {
	if msg == nil {
		return
	}
	c.freed.Add(1)
	c.ep.Free(msg)
}

func (c *Client) usable(buf *Buffer) error {
	if c.closed.Load() {
		return errors.ErrClientClosed
	}
	if buf == nil || buf.freed {
		return errors.ErrBufferFreed
	}
	return nil
}
