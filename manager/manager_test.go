package manager_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmux/streamengine/events"
	"github.com/cmux/streamengine/historystore"
	"github.com/cmux/streamengine/llm"
	"github.com/cmux/streamengine/manager"
	"github.com/cmux/streamengine/message"
	"github.com/cmux/streamengine/partialstore"
	"github.com/cmux/streamengine/session"
)

type blockingStream struct {
	release chan struct{}
	sent    bool
}

func (b *blockingStream) Next(ctx context.Context) (llm.Part, bool, error) {
	if !b.sent {
		b.sent = true
		return llm.Part{Kind: llm.PartTextDelta, Delta: "a"}, true, nil
	}
	select {
	case <-ctx.Done():
		return llm.Part{}, false, ctx.Err()
	case <-b.release:
		return llm.Part{}, false, nil
	}
}

func (b *blockingStream) Usage() *llm.Usage                        { return nil }
func (b *blockingStream) ProviderMetadata() map[string]interface{} { return nil }
func (b *blockingStream) Close() error                              { return nil }

func newCfg(workspaceID, messageID string, seq uint64, dispatcher *events.Dispatcher, partial partialstore.Store, history historystore.Store) session.Config {
	return session.Config{
		WorkspaceID:     workspaceID,
		MessageID:       messageID,
		HistorySequence: seq,
		Model:           "anthropic:claude",
		InitialMetadata: message.Metadata{Timestamp: time.Now()},
		Dispatcher:      dispatcher,
		PartialStore:    partial,
		HistoryStore:    history,
	}
}

// S5: starting a new stream on a workspace that already has one active
// aborts the old one (stream-abort observed) before the new stream-start
// is observed, and exactly one entry is ever considered active.
func TestStartDuringStreamAbortsPriorSessionFirst(t *testing.T) {
	partial := partialstore.NewMemStore()
	history := historystore.NewMemStore()
	m := manager.New()

	var seen []string
	m.Dispatcher().Subscribe("ws1", func(e events.Event) {
		seen = append(seen, string(e.Kind)+":"+e.MessageID)
	})

	phA := message.NewPlaceholderAssistant("anthropic:claude")
	seqA, err := history.Append(context.Background(), "ws1", &phA)
	require.NoError(t, err)
	streamA := &blockingStream{release: make(chan struct{})}
	m.StartStream(context.Background(), newCfg("ws1", phA.ID, seqA, nil, partial, history), streamA)

	assert.True(t, m.IsStreaming("ws1"))
	time.Sleep(20 * time.Millisecond)

	phB := message.NewPlaceholderAssistant("anthropic:claude")
	seqB, err := history.Append(context.Background(), "ws1", &phB)
	require.NoError(t, err)
	streamB := &blockingStream{release: make(chan struct{})}
	m.StartStream(context.Background(), newCfg("ws1", phB.ID, seqB, nil, partial, history), streamB)

	close(streamB.release)
	time.Sleep(20 * time.Millisecond)

	require.GreaterOrEqual(t, len(seen), 3)
	abortIdx, startBIdx := -1, -1
	for i, e := range seen {
		if e == "stream-abort:"+phA.ID {
			abortIdx = i
		}
		if e == "stream-start:"+phB.ID {
			startBIdx = i
		}
	}
	require.NotEqual(t, -1, abortIdx)
	require.NotEqual(t, -1, startBIdx)
	assert.Less(t, abortIdx, startBIdx, "stream-abort(A) must precede stream-start(B)")
}

func TestGetStreamStateIdleWhenAbsent(t *testing.T) {
	m := manager.New()
	assert.Equal(t, manager.StateIdle, m.GetStreamState("never-started"))
	assert.False(t, m.IsStreaming("never-started"))
}

func TestStopStreamIsIdempotent(t *testing.T) {
	partial := partialstore.NewMemStore()
	history := historystore.NewMemStore()
	m := manager.New()

	ph := message.NewPlaceholderAssistant("anthropic:claude")
	seq, err := history.Append(context.Background(), "ws1", &ph)
	require.NoError(t, err)
	stream := &blockingStream{release: make(chan struct{})}
	m.StartStream(context.Background(), newCfg("ws1", ph.ID, seq, nil, partial, history), stream)

	m.StopStream("ws1")
	m.StopStream("ws1")

	assert.False(t, m.IsStreaming("ws1"))
}
