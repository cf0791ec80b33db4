package sdl

import (
	"bytes"
	"context"
	"sort"
	"sync"
)

// Memory keeps everything in process. It is the default backend for tests
// and single instance xApps.
type Memory struct {
	mu     sync.RWMutex
	kv     map[string]map[string][]byte
	groups map[string]map[string]map[string][]byte
	closed bool
}

var _ Storage = (*Memory)(nil)

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		kv:     make(map[string]map[string][]byte),
		groups: make(map[string]map[string]map[string][]byte),
	}
}

func (m *Memory) IsReady(context.Context) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed
}

func (m *Memory) Set(_ context.Context, ns string, pairs map[string][]byte) error {
	for key := range pairs {
		if err := checkKey(ns, key); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	space := m.space(ns)
	for key, value := range pairs {
		space[key] = bytes.Clone(value)
	}
	return nil
}

func (m *Memory) SetIfNotExists(_ context.Context, ns, key string, value []byte) (bool, error) {
	if err := checkKey(ns, key); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	space := m.space(ns)
	if _, ok := space[key]; ok {
		return false, nil
	}
	space[key] = bytes.Clone(value)
	return true, nil
}

func (m *Memory) Get(_ context.Context, ns string, keys ...string) (map[string][]byte, error) {
	if ns == "" {
		return nil, ErrNamespaceRequired
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		if v, ok := m.kv[ns][key]; ok {
			out[key] = bytes.Clone(v)
		}
	}
	return out, nil
}

func (m *Memory) Delete(_ context.Context, ns string, keys ...string) error {
	if ns == "" {
		return ErrNamespaceRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, key := range keys {
		delete(m.kv[ns], key)
	}
	return nil
}

func (m *Memory) DeleteIf(_ context.Context, ns, key string, value []byte) (bool, error) {
	if err := checkKey(ns, key); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	current, ok := m.kv[ns][key]
	if !ok || !bytes.Equal(current, value) {
		return false, nil
	}
	delete(m.kv[ns], key)
	return true, nil
}

func (m *Memory) ListKeys(_ context.Context, ns, pattern string) ([]string, error) {
	if ns == "" {
		return nil, ErrNamespaceRequired
	}
	re, err := compilePattern(pattern)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	keys := make([]string, 0, len(m.kv[ns]))
	for key := range m.kv[ns] {
		if re.MatchString(key) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) DeleteAll(_ context.Context, ns string) error {
	if ns == "" {
		return ErrNamespaceRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.kv, ns)
	return nil
}

func (m *Memory) AddMember(_ context.Context, ns, group string, members ...[]byte) error {
	if err := checkKey(ns, group); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	groups, ok := m.groups[ns]
	if !ok {
		groups = make(map[string]map[string][]byte)
		m.groups[ns] = groups
	}
	set, ok := groups[group]
	if !ok {
		set = make(map[string][]byte)
		groups[group] = set
	}
	for _, member := range members {
		if _, exists := set[string(member)]; !exists {
			set[string(member)] = bytes.Clone(member)
		}
	}
	return nil
}

func (m *Memory) DeleteMember(_ context.Context, ns, group string, members ...[]byte) error {
	if err := checkKey(ns, group); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	set := m.groups[ns][group]
	for _, member := range members {
		delete(set, string(member))
	}
	return nil
}

func (m *Memory) GetMembers(_ context.Context, ns, group string) ([][]byte, error) {
	if err := checkKey(ns, group); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	set := m.groups[ns][group]
	out := make([][]byte, 0, len(set))
	for _, member := range set {
		out = append(out, bytes.Clone(member))
	}
	sortMembers(out)
	return out, nil
}

func (m *Memory) DelGroup(_ context.Context, ns, group string) error {
	if err := checkKey(ns, group); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.groups[ns], group)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *Memory) space(ns string) map[string][]byte {
	space, ok := m.kv[ns]
	if !ok {
		space = make(map[string][]byte)
		m.kv[ns] = space
	}
	return space
}

func sortMembers(members [][]byte) {
	sort.Slice(members, func(i, j int) bool { return bytes.Compare(members[i], members[j]) < 0 })
}
