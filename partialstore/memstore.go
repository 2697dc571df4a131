package partialstore

import (
	"context"
	"sync"

	"github.com/cmux/streamengine/message"
)

// MemStore is an in-memory Store for tests, grounded on the same
// map-plus-mutex shape as historystore.MemStore.
type MemStore struct {
	mu   sync.Mutex
	data map[string]message.Message
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string]message.Message)}
}

// Write implements Store.
func (s *MemStore) Write(_ context.Context, workspaceID string, msg *message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[workspaceID] = msg.Clone()
	return nil
}

// Read implements Store.
func (s *MemStore) Read(_ context.Context, workspaceID string) (*message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.data[workspaceID]
	if !ok {
		return nil, nil
	}
	out := m.Clone()
	return &out, nil
}

// Delete implements Store.
func (s *MemStore) Delete(_ context.Context, workspaceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, workspaceID)
	return nil
}
