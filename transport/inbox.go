package transport

import (
	"sync"
	"sync/atomic"
)

// DefaultInboxSize is used when a driver does not pick its own queue depth.
const DefaultInboxSize = 4096

// Inbox is the bounded receive queue shared by drivers. It emits one token on
// its notify channel for every queued message that a reader has not yet been
// told about, so the channel behaves like a readable file descriptor.
type Inbox struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []*Msg
	limit   int
	closed  bool
	notify  chan struct{}
	dropped atomic.Uint64
}

// NewInbox creates an inbox holding at most limit messages.
func NewInbox(limit int) *Inbox {
	if limit <= 0 {
		limit = DefaultInboxSize
	}
	in := &Inbox{
		limit:  limit,
		notify: make(chan struct{}, 1),
	}
	in.cond = sync.NewCond(&in.mu)
	return in
}

// Notify returns the readability channel.
func (in *Inbox) Notify() <-chan struct{} {
	return in.notify
}

// Push queues msg. It returns false when the inbox is full or closed; the
// message is dropped and counted.
func (in *Inbox) Push(msg *Msg) bool {
	if in.Offer(msg) {
		return true
	}
	in.dropped.Add(1)
	return false
}

// Offer queues msg when there is room. A refused message stays with the
// caller and is not counted as dropped.
func (in *Inbox) Offer(msg *Msg) bool {
	in.mu.Lock()
	if in.closed || len(in.items) >= in.limit {
		in.mu.Unlock()
		return false
	}
	in.items = append(in.items, msg)
	in.mu.Unlock()

	in.cond.Signal()
	in.signal()
	return true
}

// Pop blocks until a message is queued or the inbox is closed.
func (in *Inbox) Pop() (*Msg, error) {
	in.mu.Lock()
	for len(in.items) == 0 && !in.closed {
		in.cond.Wait()
	}
	if len(in.items) == 0 {
		in.mu.Unlock()
		return nil, ErrClosed
	}
	msg := in.items[0]
	in.items[0] = nil
	in.items = in.items[1:]
	remaining := len(in.items)
	in.mu.Unlock()

	if remaining > 0 {
		in.signal()
	}
	return msg, nil
}

// Len returns the number of queued messages.
func (in *Inbox) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.items)
}

// Dropped returns how many messages were rejected.
func (in *Inbox) Dropped() uint64 {
	return in.dropped.Load()
}

// Close wakes blocked readers and rejects further pushes.
func (in *Inbox) Close() {
	in.mu.Lock()
	in.closed = true
	in.items = nil
	in.mu.Unlock()
	in.cond.Broadcast()
}

func (in *Inbox) signal() {
	select {
	case in.notify <- struct{}{}:
	default:
	}
}
