package partialstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"

	"github.com/cmux/streamengine/historystore"
	"github.com/cmux/streamengine/message"
	"github.com/cmux/streamengine/partialstore"
)

func testStores(t *testing.T) map[string]partialstore.Store {
	t.Helper()
	return map[string]partialstore.Store{
		"mem":  partialstore.NewMemStore(),
		"file": partialstore.NewFileStore(afs.New(), t.TempDir()),
	}
}

func TestReadMissingReturnsNilNotError(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			msg, err := store.Read(ctx, "ws1")
			require.NoError(t, err)
			assert.Nil(t, msg)
		})
	}
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			placeholder := message.NewPlaceholderAssistant("openai/gpt")
			placeholder.Parts = []message.Part{message.NewTextPart("partial text")}
			require.NoError(t, store.Write(ctx, "ws1", &placeholder))

			got, err := store.Read(ctx, "ws1")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, placeholder.ID, got.ID)
			assert.Equal(t, "partial text", got.Parts[0].Text)
		})
	}
}

func TestWriteOverwritesPreviousPartial(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			first := message.NewPlaceholderAssistant("openai/gpt")
			first.Parts = []message.Part{message.NewTextPart("v1")}
			require.NoError(t, store.Write(ctx, "ws1", &first))

			second := first
			second.Parts = []message.Part{message.NewTextPart("v2")}
			require.NoError(t, store.Write(ctx, "ws1", &second))

			got, err := store.Read(ctx, "ws1")
			require.NoError(t, err)
			require.Len(t, got.Parts, 1)
			assert.Equal(t, "v2", got.Parts[0].Text)
		})
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Delete(ctx, "never-written"))

			m := message.NewPlaceholderAssistant("openai/gpt")
			require.NoError(t, store.Write(ctx, "ws1", &m))
			require.NoError(t, store.Delete(ctx, "ws1"))
			require.NoError(t, store.Delete(ctx, "ws1"))

			got, err := store.Read(ctx, "ws1")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestWorkspacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			a := message.NewPlaceholderAssistant("m")
			a.Parts = []message.Part{message.NewTextPart("a")}
			b := message.NewPlaceholderAssistant("m")
			b.Parts = []message.Part{message.NewTextPart("b")}
			require.NoError(t, store.Write(ctx, "ws-a", &a))
			require.NoError(t, store.Write(ctx, "ws-b", &b))

			require.NoError(t, store.Delete(ctx, "ws-a"))

			gotA, err := store.Read(ctx, "ws-a")
			require.NoError(t, err)
			assert.Nil(t, gotA)

			gotB, err := store.Read(ctx, "ws-b")
			require.NoError(t, err)
			require.NotNil(t, gotB)
			assert.Equal(t, "b", gotB.Parts[0].Text)
		})
	}
}

// Invariant 6: calling commit_to_history repeatedly is a no-op after the
// first call.
func TestCommitToHistoryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			history := historystore.NewMemStore()

			partial := message.NewPlaceholderAssistant("anthropic:claude")
			partial.Parts = []message.Part{message.NewTextPart("partial ")}
			require.NoError(t, store.Write(ctx, "ws1", &partial))

			require.NoError(t, partialstore.CommitToHistory(ctx, store, history, "ws1"))
			require.NoError(t, partialstore.CommitToHistory(ctx, store, history, "ws1"))

			msgs, err := history.ReadAll(ctx, "ws1")
			require.NoError(t, err)
			require.Len(t, msgs, 1)
			assert.True(t, msgs[0].Metadata.Partial)
			assert.Equal(t, "partial ", msgs[0].Parts[0].Text)

			got, err := store.Read(ctx, "ws1")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestCommitToHistoryWithNoPartialIsNoOp(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			history := historystore.NewMemStore()
			require.NoError(t, partialstore.CommitToHistory(ctx, store, history, "ws1"))

			msgs, err := history.ReadAll(ctx, "ws1")
			require.NoError(t, err)
			assert.Empty(t, msgs)
		})
	}
}

func TestCommitToHistoryUpdatesExistingPlaceholder(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			history := historystore.NewMemStore()

			placeholder := message.NewPlaceholderAssistant("anthropic:claude")
			seq, err := history.Append(ctx, "ws1", &placeholder)
			require.NoError(t, err)

			partial := placeholder
			partial.Parts = []message.Part{message.NewTextPart("interrupted")}
			partial.Metadata.HistorySequence = seq
			require.NoError(t, store.Write(ctx, "ws1", &partial))

			require.NoError(t, partialstore.CommitToHistory(ctx, store, history, "ws1"))

			msgs, err := history.ReadAll(ctx, "ws1")
			require.NoError(t, err)
			require.Len(t, msgs, 1)
			assert.Equal(t, seq, msgs[0].Metadata.HistorySequence)
			assert.Equal(t, "interrupted", msgs[0].Parts[0].Text)
		})
	}
}
