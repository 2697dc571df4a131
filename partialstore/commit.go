package partialstore

import (
	"context"

	"github.com/cmux/streamengine/historystore"
)

// CommitToHistory implements spec.md §4.2's commit_to_history: if a
// partial exists for workspaceID, mark it partial=true and land it in
// history (Update in place when it already carries a history_sequence,
// Append otherwise), then delete the partial. Re-invoking after a
// successful commit is a no-op because Read then finds nothing.
//
// This is a free function rather than a Store method because it needs
// both PartialStore and historystore.Store; spec.md describes it as a
// PartialStore operation, but in Go the natural home for a two-store
// operation is the caller (aiservice), not either store's interface.
func CommitToHistory(ctx context.Context, store Store, history historystore.Store, workspaceID string) error {
	partial, err := store.Read(ctx, workspaceID)
	if err != nil {
		return err
	}
	if partial == nil {
		return nil
	}

	partial.Metadata.Partial = true

	if partial.Metadata.HistorySequence == 0 {
		if _, err := history.Append(ctx, workspaceID, partial); err != nil {
			return err
		}
	} else if err := history.Update(ctx, workspaceID, partial); err != nil {
		if _, ok := err.(*historystore.ErrNotFound); ok {
			if _, err := history.Append(ctx, workspaceID, partial); err != nil {
				return err
			}
		} else {
			return err
		}
	}

	return store.Delete(ctx, workspaceID)
}
