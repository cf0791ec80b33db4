package rmr

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/drblury/xappflow/transport"
)

// fakeDriver hands out a single countingEndpoint per Init.
type fakeDriver struct {
	mu      sync.Mutex
	last    *countingEndpoint
	initErr error
}

func (d *fakeDriver) Init(port string, maxSize int, flags transport.Flags) (transport.Endpoint, error) {
	if d.initErr != nil {
		return nil, d.initErr
	}
	if _, err := transport.ParsePort(port); err != nil {
		return nil, err
	}
	ep := &countingEndpoint{inbox: transport.NewInbox(0), port: port}
	d.mu.Lock()
	d.last = ep
	d.mu.Unlock()
	return ep, nil
}

func (d *fakeDriver) Close() error { return nil }

func (d *fakeDriver) endpoint() *countingEndpoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

type countingEndpoint struct {
	port    string
	inbox   *transport.Inbox
	ready   atomic.Bool
	allocs  atomic.Int64
	frees   atomic.Int64
	recvErr error
	// recvSwap makes a failing Recv hand back a buffer of its own.
	recvSwap bool

	mu      sync.Mutex
	replies []*transport.Msg
	sent    []*transport.Msg
	closed  bool
}

func (e *countingEndpoint) Ready() bool { return e.ready.Load() }

func (e *countingEndpoint) RecvNotify() (<-chan struct{}, error) { return e.inbox.Notify(), nil }

func (e *countingEndpoint) Alloc(size int) (*transport.Msg, error) {
	e.allocs.Add(1)
	return transport.NewMsg(size)
}

func (e *countingEndpoint) Recv(msg *transport.Msg) (*transport.Msg, error) {
	if e.recvErr != nil {
		if e.recvSwap {
			out, _ := transport.NewMsg(len(msg.Payload))
			out.State = transport.StateRecvFailed
			return out, e.recvErr
		}
		msg.State = transport.StateRecvFailed
		return msg, e.recvErr
	}
	in, err := e.inbox.Pop()
	if err != nil {
		return msg, err
	}
	return transport.Deliver(msg, in), nil
}

func (e *countingEndpoint) Send(msg *transport.Msg) (*transport.Msg, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sent = append(e.sent, msg.Clone())
	msg.State = transport.StateOK
	return msg, nil
}

func (e *countingEndpoint) ReturnToSender(msg *transport.Msg) (*transport.Msg, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.replies = append(e.replies, msg.Clone())
	msg.State = transport.StateOK
	return msg, nil
}

func (e *countingEndpoint) Free(msg *transport.Msg) {
	e.frees.Add(1)
	msg.Payload = nil
}

func (e *countingEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.inbox.Close()
	return nil
}

func (e *countingEndpoint) push(mtype int32, payload string) {
	msg, _ := transport.NewMsg(len(payload) + 1)
	msg.MType = mtype
	msg.Len = copy(msg.Payload, payload)
	msg.State = transport.StateOK
	msg.Source = "localhost:" + strconv.Itoa(4570)
	e.inbox.Push(msg)
}

func (e *countingEndpoint) replyCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.replies)
}
