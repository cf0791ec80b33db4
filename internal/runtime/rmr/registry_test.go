package rmr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	called := 0
	h := func(*Buffer, *Client) error { called++; return nil }

	_, ok := r.Lookup(1)
	assert.False(t, ok)

	r.RegisterNamed(2, "pong", h)
	r.Register(1, h)
	r.Register(3, nil)
	assert.True(t, r.Has(2))
	assert.False(t, r.Has(3))

	got, ok := r.Lookup(2)
	assert.True(t, ok)
	_ = got(nil, nil)
	assert.Equal(t, 1, called)

	assert.Equal(t, []Entry{{MessageType: 1}, {MessageType: 2, Name: "pong"}}, r.Entries())
	assert.Equal(t, "pong", r.Name(2))
	assert.Empty(t, r.Name(7))

	r.Unregister(2)
	assert.False(t, r.Has(2))

	fallbackCalls := 0
	r.SetFallback(func(*Buffer, *Client) error { fallbackCalls++; return nil })
	fb, ok := r.Lookup(99)
	assert.False(t, ok)
	_ = fb(nil, nil)
	assert.Equal(t, 1, fallbackCalls)

	r.SetFallback(nil)
	fb, _ = r.Lookup(99)
	assert.NoError(t, fb(nil, nil))
}
