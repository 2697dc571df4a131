package historystore

import (
	"context"
	"sync"

	"github.com/cmux/streamengine/message"
)

// MemStore is an in-memory Store, grounded on the teacher's
// genai/memory.HistoryStore (a map-backed store used directly in
// production, not just in tests). Useful here for unit tests of session
// and manager that do not need real file I/O.
type MemStore struct {
	mu   sync.Mutex
	data map[string][]message.Message
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]message.Message)}
}

// Append implements Store.
func (s *MemStore) Append(_ context.Context, workspaceID string, msg *message.Message) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var maxSeq uint64
	for _, m := range s.data[workspaceID] {
		if m.Metadata.HistorySequence > maxSeq {
			maxSeq = m.Metadata.HistorySequence
		}
	}
	seq := maxSeq + 1
	msg.Metadata.HistorySequence = seq
	s.data[workspaceID] = append(s.data[workspaceID], *msg)
	return seq, nil
}

// Update implements Store.
func (s *MemStore) Update(_ context.Context, workspaceID string, msg *message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, m := range s.data[workspaceID] {
		if m.ID == msg.ID {
			seq := m.Metadata.HistorySequence
			s.data[workspaceID][i] = *msg
			s.data[workspaceID][i].Metadata.HistorySequence = seq
			return nil
		}
	}
	return &ErrNotFound{WorkspaceID: workspaceID, MessageID: msg.ID}
}

// ReadAll implements Store.
func (s *MemStore) ReadAll(_ context.Context, workspaceID string) ([]message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]message.Message, len(s.data[workspaceID]))
	copy(out, s.data[workspaceID])
	return out, nil
}
