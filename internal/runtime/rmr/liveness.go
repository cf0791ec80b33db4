package rmr

import "sync"

// Liveness tracks whether a transport context is open. A Client acquires it
// for its whole lifetime, so at most one Client is live per Liveness.
type Liveness struct {
	mu   sync.Mutex
	live bool
}

var processLiveness = NewLiveness()

// NewLiveness returns an independent marker. Tests use it to run several
// clients in one process.
func NewLiveness() *Liveness {
	return &Liveness{}
}

// DefaultLiveness returns the process-wide marker used when none is given.
func DefaultLiveness() *Liveness {
	return processLiveness
}

// Live reports whether a client currently holds the marker.
func (l *Liveness) Live() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.live
}
