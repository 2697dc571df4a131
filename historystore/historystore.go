// Package historystore implements C1 of spec.md: the append-only,
// sequence-numbered log of completed messages per workspace. Grounded on the
// teacher's genai/memory.History interface (same Append/Update/Read shape,
// generalized from a map-only store to a file-backed one) and
// internal/repository/base.Repository's afs-backed file I/O.
package historystore

import (
	"context"

	"github.com/cmux/streamengine/message"
)

// Store is the C1 contract of spec.md §4.1.
type Store interface {
	// Append assigns the next history_sequence value (monotone per
	// workspace), persists msg atomically, and returns the assigned
	// sequence. The caller's msg.Metadata.HistorySequence is also updated.
	Append(ctx context.Context, workspaceID string, msg *message.Message) (uint64, error)

	// Update replaces the record whose ID matches msg.ID, preserving its
	// history_sequence. Returns an error when no such record exists.
	Update(ctx context.Context, workspaceID string, msg *message.Message) error

	// ReadAll returns every message for workspaceID in insertion order.
	ReadAll(ctx context.Context, workspaceID string) ([]message.Message, error)
}

// ErrNotFound is returned by Update when no message with a matching ID
// exists in the workspace's history.
type ErrNotFound struct {
	WorkspaceID string
	MessageID   string
}

func (e *ErrNotFound) Error() string {
	return "historystore: message " + e.MessageID + " not found in workspace " + e.WorkspaceID
}
