package historystore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"

	"github.com/cmux/streamengine/historystore"
	"github.com/cmux/streamengine/message"
)

func testStores(t *testing.T) map[string]historystore.Store {
	t.Helper()
	return map[string]historystore.Store{
		"mem":  historystore.NewMemStore(),
		"file": historystore.NewFileStore(afs.New(), t.TempDir()),
	}
}

func TestAppendAssignsMonotonicSequence(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			m1 := message.NewUserMessage("hi")
			seq1, err := store.Append(ctx, "ws1", &m1)
			require.NoError(t, err)
			assert.Equal(t, uint64(1), seq1)

			m2 := message.NewUserMessage("again")
			seq2, err := store.Append(ctx, "ws1", &m2)
			require.NoError(t, err)
			assert.Equal(t, uint64(2), seq2)

			msgs, err := store.ReadAll(ctx, "ws1")
			require.NoError(t, err)
			require.Len(t, msgs, 2)
			assert.Equal(t, uint64(1), msgs[0].Metadata.HistorySequence)
			assert.Equal(t, uint64(2), msgs[1].Metadata.HistorySequence)
		})
	}
}

func TestSequencesAreIndependentPerWorkspace(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			a := message.NewUserMessage("a")
			b := message.NewUserMessage("b")
			seqA, err := store.Append(ctx, "ws-a", &a)
			require.NoError(t, err)
			seqB, err := store.Append(ctx, "ws-b", &b)
			require.NoError(t, err)
			assert.Equal(t, uint64(1), seqA)
			assert.Equal(t, uint64(1), seqB)
		})
	}
}

func TestUpdatePreservesSequence(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			placeholder := message.NewPlaceholderAssistant("anthropic/claude")
			seq, err := store.Append(ctx, "ws1", &placeholder)
			require.NoError(t, err)

			completed := placeholder
			completed.Parts = []message.Part{message.NewTextPart("done")}
			completed.Metadata.Partial = false
			require.NoError(t, store.Update(ctx, "ws1", &completed))

			msgs, err := store.ReadAll(ctx, "ws1")
			require.NoError(t, err)
			require.Len(t, msgs, 1)
			assert.Equal(t, seq, msgs[0].Metadata.HistorySequence)
			assert.False(t, msgs[0].Metadata.Partial)
			assert.Equal(t, "done", msgs[0].Parts[0].Text)
		})
	}
}

func TestUpdateUnknownIDReturnsErrNotFound(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			missing := message.NewUserMessage("ghost")
			err := store.Update(ctx, "ws1", &missing)
			require.Error(t, err)
			var nf *historystore.ErrNotFound
			assert.ErrorAs(t, err, &nf)
		})
	}
}

func TestReadAllUnknownWorkspaceIsEmpty(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			msgs, err := store.ReadAll(ctx, "never-seen")
			require.NoError(t, err)
			assert.Empty(t, msgs)
		})
	}
}
