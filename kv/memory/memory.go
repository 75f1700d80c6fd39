// Package memory provides a fully in-memory kv.Store. Safe for concurrent
// access. Intended for unit testing and development.
package memory

import (
	"bytes"
	"context"
	"sync"

	"github.com/xraph/substrate/kv"
)

// Compile-time interface checks.
var (
	_ kv.Store            = (*Store)(nil)
	_ kv.ConditionalStore = (*Store)(nil)
	_ kv.Pinger           = (*Store)(nil)
)

// Store is an in-memory kv.Store keyed by namespace then key.
type Store struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

// New returns a new empty Store.
func New() *Store {
	return &Store{data: make(map[string]map[string][]byte)}
}

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Get returns the value at key, or ok=false if absent.
func (m *Store) Get(_ context.Context, namespace, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[namespace][key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

// Set writes all entries.
func (m *Store) Set(_ context.Context, namespace string, entries ...kv.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ns, ok := m.data[namespace]
	if !ok {
		ns = make(map[string][]byte)
		m.data[namespace] = ns
	}
	for _, e := range entries {
		cp := make([]byte, len(e.Value))
		copy(cp, e.Value)
		ns[e.Key] = cp
	}
	return nil
}

// Delete removes key. Deleting an absent key is a no-op.
func (m *Store) Delete(_ context.Context, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data[namespace], key)
	return nil
}

// CompareAndSwap writes value only if the current value equals old.
// old == nil means the key must not exist.
func (m *Store) CompareAndSwap(_ context.Context, namespace, key string, old, value []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ns, ok := m.data[namespace]
	if !ok {
		ns = make(map[string][]byte)
		m.data[namespace] = ns
	}

	cur, exists := ns[key]
	if old == nil {
		if exists {
			return false, nil
		}
	} else {
		if !exists || !bytes.Equal(cur, old) {
			return false, nil
		}
	}

	cp := make([]byte, len(value))
	copy(cp, value)
	ns[key] = cp
	return true, nil
}

// Len returns the number of keys in a namespace. Test helper.
func (m *Store) Len(namespace string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data[namespace])
}
