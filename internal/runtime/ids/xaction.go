// Package ids generates the identifiers the runtime stamps on messages and
// on the xApp itself. Both are ULIDs, so they sort by creation time.
package ids

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type source struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

func (s *source) next() ulid.ULID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(s.now()), s.entropy)
}

var global = &source{entropy: ulid.Monotonic(rand.Reader, 0), now: time.Now}

// NewXaction returns a fresh transaction id. The 26 byte encoding fits the
// transaction id field of a message buffer.
func NewXaction() []byte {
	id := global.next()
	out := make([]byte, ulid.EncodedSize)
	_ = id.MarshalTextTo(out)
	return out
}

// InstanceName derives an instance name for app, e.g. "pong-01jabc...".
// The suffix is lower case so the name is usable as a DNS label.
func InstanceName(app string) string {
	suffix := strings.ToLower(global.next().String())
	if app == "" {
		return suffix
	}
	return app + "-" + suffix
}

// XactionTime reports when a transaction id from NewXaction was minted.
func XactionTime(xaction []byte) (time.Time, bool) {
	id, err := ulid.ParseStrict(string(xaction))
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(id.Time()), true
}
