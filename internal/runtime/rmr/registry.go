package rmr

import (
	"sort"
	"sync"
)

// HandlerFunc handles one received message. The client is locked for the
// duration of the call and may be used to reply or send. The buffer is
// released after the handler returns, whatever it returns.
type HandlerFunc func(msg *Buffer, client *Client) error

// Middleware wraps a handler. Middlewares see every dispatched message,
// including those that fall through to the default handler.
type Middleware func(next HandlerFunc) HandlerFunc

// DefaultHandler drops messages that have no registered handler.
func DefaultHandler(*Buffer, *Client) error { return nil }

type registration struct {
	name    string
	handler HandlerFunc
}

// Registry maps message types to handlers. It is safe for concurrent use;
// registering while the pipeline runs affects subsequent messages.
type Registry struct {
	mu       sync.RWMutex
	handlers map[int32]registration
	fallback HandlerFunc
}

// NewRegistry returns an empty registry whose fallback is DefaultHandler.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[int32]registration), fallback: DefaultHandler}
}

// Register binds mtype to h, replacing any previous binding.
func (r *Registry) Register(mtype int32, h HandlerFunc) {
	r.RegisterNamed(mtype, "", h)
}

// RegisterNamed binds mtype to h under a display name.
func (r *Registry) RegisterNamed(mtype int32, name string, h HandlerFunc) {
	if h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[mtype] = registration{name: name, handler: h}
}

// Unregister removes the binding for mtype.
func (r *Registry) Unregister(mtype int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, mtype)
}

// SetFallback replaces the handler used for unregistered types.
func (r *Registry) SetFallback(h HandlerFunc) {
	if h == nil {
		h = DefaultHandler
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = h
}

// Lookup returns the handler for mtype and whether one was registered.
func (r *Registry) Lookup(mtype int32) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if reg, ok := r.handlers[mtype]; ok {
		return reg.handler, true
	}
	return r.fallback, false
}

// Name returns the display name bound to mtype, or "" when none is registered.
func (r *Registry) Name(mtype int32) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[mtype].name
}

// Has reports whether mtype has a registered handler.
func (r *Registry) Has(mtype int32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[mtype]
	return ok
}

// Entry describes one registered handler.
type Entry struct {
	MessageType int32  `json:"message_type"`
	Name        string `json:"name"`
}

// Entries lists registered handlers ordered by message type.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.handlers))
	for mtype, reg := range r.handlers {
		out = append(out, Entry{MessageType: mtype, Name: reg.name})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].MessageType < out[j].MessageType })
	return out
}
