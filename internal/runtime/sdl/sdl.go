// Package sdl is the shared data layer of an xApp: namespaced key/value
// pairs plus named groups of members. Backends keep namespaces disjoint, so
// two xApps sharing a store only see their own keys.
package sdl

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/drblury/xappflow/internal/runtime/config"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendEtcd     = "etcd"
)

var (
	// ErrNamespaceRequired is returned for an empty namespace.
	ErrNamespaceRequired = errors.New("sdl: namespace is required")
	// ErrKeyRequired is returned for an empty key or group name.
	ErrKeyRequired = errors.New("sdl: key is required")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("sdl: storage closed")
)

// Storage is the data layer API.
type Storage interface {
	// IsReady reports whether the backend answers requests.
	IsReady(ctx context.Context) bool
	// Set writes every pair atomically.
	Set(ctx context.Context, ns string, pairs map[string][]byte) error
	// SetIfNotExists writes key only when it is absent and reports whether it did.
	SetIfNotExists(ctx context.Context, ns, key string, value []byte) (bool, error)
	// Get returns the values of the keys that exist. Missing keys are omitted.
	Get(ctx context.Context, ns string, keys ...string) (map[string][]byte, error)
	// Delete removes keys. Missing keys are ignored.
	Delete(ctx context.Context, ns string, keys ...string) error
	// DeleteIf removes key when its value equals value and reports whether it did.
	DeleteIf(ctx context.Context, ns, key string, value []byte) (bool, error)
	// ListKeys returns the sorted keys matching a glob pattern ("*", "?", "[...]").
	ListKeys(ctx context.Context, ns, pattern string) ([]string, error)
	// DeleteAll removes every key of ns. Groups are kept.
	DeleteAll(ctx context.Context, ns string) error
	// AddMember adds members to group. Existing members are left alone.
	AddMember(ctx context.Context, ns, group string, members ...[]byte) error
	DeleteMember(ctx context.Context, ns, group string, members ...[]byte) error
	// GetMembers returns the members of group in byte order.
	GetMembers(ctx context.Context, ns, group string) ([][]byte, error)
	DelGroup(ctx context.Context, ns, group string) error
	Close() error
}

// Open builds the backend named by cfg.SDLBackend. An empty name selects memory.
func Open(ctx context.Context, cfg *config.Config) (Storage, error) {
	if cfg == nil {
		return nil, errors.New("sdl: config is nil")
	}
	switch strings.ToLower(cfg.SDLBackend) {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendSQLite, "sqlite3":
		return OpenSQLite(ctx, cfg.SQLiteFile)
	case BackendPostgres, "postgresql":
		return OpenPostgres(ctx, cfg.PostgresURL)
	case BackendEtcd:
		return OpenEtcd(EtcdConfig{Endpoints: cfg.EtcdEndpoints, DialTimeout: cfg.EtcdDialTimeout})
	default:
		return nil, fmt.Errorf("sdl: unknown backend %q", cfg.SDLBackend)
	}
}

func checkKey(ns, key string) error {
	if ns == "" {
		return ErrNamespaceRequired
	}
	if key == "" {
		return ErrKeyRequired
	}
	return nil
}

// Match reports whether key matches the glob pattern. An empty pattern
// matches every key.
func Match(pattern, key string) bool {
	re, err := compilePattern(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(key)
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		pattern = "*"
	}
	var b strings.Builder
	b.WriteString(`(?s)^`)
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch c {
		case '*':
			b.WriteString(`.*`)
		case '?':
			b.WriteString(`.`)
		case '\\':
			if i+1 < len(pattern) {
				i++
				b.WriteString(regexp.QuoteMeta(pattern[i : i+1]))
			} else {
				b.WriteString(`\\`)
			}
		case '[':
			end := strings.IndexByte(pattern[i+1:], ']')
			if end <= 0 {
				b.WriteString(`\[`)
				continue
			}
			class := pattern[i+1 : i+1+end]
			if class[0] == '!' || class[0] == '^' {
				class = "^" + strings.ReplaceAll(class[1:], `\`, `\\`)
			} else {
				class = strings.ReplaceAll(class, `\`, `\\`)
			}
			b.WriteString("[" + class + "]")
			i += end + 1
		default:
			b.WriteString(regexp.QuoteMeta(pattern[i : i+1]))
		}
	}
	b.WriteString(`$`)
	return regexp.Compile(b.String())
}
