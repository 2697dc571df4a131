// Package keyedmutex provides a per-key mutex, grounded on the teacher's
// recurring "guard the map, not the payload" pattern
// (genai/conversation/cancel/memory.go, genai/service/core/stream/registry.go)
// generalized into a reusable helper instead of repeating the bespoke
// map-of-locks boilerplate in both historystore and partialstore.
package keyedmutex

import "sync"

// Map lazily creates one *sync.Mutex per key and never removes it; the
// expected key cardinality (workspace IDs) is small and long-lived for the
// process lifetime, matching the teacher's own registries.
type Map struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns an empty keyed-mutex map.
func New() *Map {
	return &Map{locks: make(map[string]*sync.Mutex)}
}

func (m *Map) lockFor(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

// Lock acquires the mutex for key, creating it on first use.
func (m *Map) Lock(key string) { m.lockFor(key).Lock() }

// Unlock releases the mutex for key.
func (m *Map) Unlock(key string) { m.lockFor(key).Unlock() }

// With runs fn while holding the lock for key.
func (m *Map) With(key string, fn func()) {
	m.Lock(key)
	defer m.Unlock(key)
	fn()
}
