package rmr

import "sync"

// SharedClient serialises access to a Client between the receiver, the
// processor and the application.
type SharedClient struct {
	mu     sync.Mutex
	client *Client
}

// NewSharedClient wraps c.
func NewSharedClient(c *Client) *SharedClient {
	return &SharedClient{client: c}
}

// Do runs fn with exclusive access to the client.
func (s *SharedClient) Do(fn func(*Client) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.client)
}

// IsReady reports client readiness under the lock.
func (s *SharedClient) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client.IsReady()
}

// Stats returns buffer counters. They are atomic, so no lock is taken.
func (s *SharedClient) Stats() ClientStats {
	return s.client.Stats()
}

// Close closes the client under the lock.
func (s *SharedClient) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client.Close()
}
