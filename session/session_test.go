package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmux/streamengine/events"
	"github.com/cmux/streamengine/historystore"
	"github.com/cmux/streamengine/llm"
	"github.com/cmux/streamengine/message"
	"github.com/cmux/streamengine/partialstore"
	"github.com/cmux/streamengine/session"
)

// fakeStream is a canned llm.PartStream driven by a fixed slice of parts,
// with an optional block-until-released gate to simulate mid-stream
// abort (S3/S4).
type fakeStream struct {
	mu       sync.Mutex
	parts    []llm.Part
	i        int
	usage    *llm.Usage
	provMeta map[string]interface{}
	closed   bool

	// blockAfter, when >= 0, makes Next hang after emitting that many
	// parts until release is closed.
	blockAfter int
	release    chan struct{}
}

func newFakeStream(parts []llm.Part) *fakeStream {
	return &fakeStream{parts: parts, blockAfter: -1}
}

func (f *fakeStream) Next(ctx context.Context) (llm.Part, bool, error) {
	f.mu.Lock()
	i := f.i
	f.mu.Unlock()

	if f.blockAfter >= 0 && i == f.blockAfter {
		select {
		case <-ctx.Done():
			return llm.Part{}, false, ctx.Err()
		case <-f.release:
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.i >= len(f.parts) {
		return llm.Part{}, false, nil
	}
	p := f.parts[f.i]
	f.i++
	return p, true, nil
}

func (f *fakeStream) Usage() *llm.Usage                            { return f.usage }
func (f *fakeStream) ProviderMetadata() map[string]interface{}     { return f.provMeta }
func (f *fakeStream) Close() error                                 { f.closed = true; return nil }

func newConfig(t *testing.T, dispatcher *events.Dispatcher) (session.Config, partialstore.Store, historystore.Store) {
	t.Helper()
	partial := partialstore.NewMemStore()
	history := historystore.NewMemStore()
	placeholder := message.NewPlaceholderAssistant("anthropic:claude")
	seq, err := history.Append(context.Background(), "ws1", &placeholder)
	require.NoError(t, err)

	cfg := session.Config{
		WorkspaceID:     "ws1",
		MessageID:       placeholder.ID,
		HistorySequence: seq,
		Model:           "anthropic:claude",
		InitialMetadata: message.Metadata{Timestamp: time.Now()},
		Dispatcher:      dispatcher,
		PartialStore:    partial,
		HistoryStore:    history,
	}
	return cfg, partial, history
}

// S1: simple round trip.
func TestSimpleRoundTrip(t *testing.T) {
	dispatcher := events.NewDispatcher()
	var seen []events.Kind
	dispatcher.Subscribe("ws1", func(e events.Event) { seen = append(seen, e.Kind) })

	cfg, partial, history := newConfig(t, dispatcher)
	stream := newFakeStream([]llm.Part{
		{Kind: llm.PartTextDelta, Delta: "he"},
		{Kind: llm.PartTextDelta, Delta: "llo"},
	})
	stream.usage = &llm.Usage{InputTokens: 10, OutputTokens: 2}

	s := session.New(cfg)
	err := s.Run(context.Background(), stream)
	require.NoError(t, err)

	assert.Equal(t, session.StateCompleted, s.State())
	assert.Equal(t, []events.Kind{
		events.KindStreamStart, events.KindStreamDelta, events.KindStreamDelta, events.KindStreamEnd,
	}, seen)

	got, err := partial.Read(context.Background(), "ws1")
	require.NoError(t, err)
	assert.Nil(t, got, "partial must be absent after natural completion")

	msgs, err := history.ReadAll(context.Background(), "ws1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	final := msgs[0]
	assert.False(t, final.Metadata.Partial)
	require.Len(t, final.Parts, 2)
	assert.Equal(t, "he", final.Parts[0].Text)
	assert.Equal(t, "llo", final.Parts[1].Text)
}

// S2: tool round trip.
func TestToolRoundTrip(t *testing.T) {
	dispatcher := events.NewDispatcher()
	var seen []events.Kind
	dispatcher.Subscribe("ws1", func(e events.Event) { seen = append(seen, e.Kind) })

	cfg, _, history := newConfig(t, dispatcher)
	stream := newFakeStream([]llm.Part{
		{Kind: llm.PartToolCall, ToolCallID: "T1", ToolName: "bash", Input: map[string]interface{}{"script": "ls"}},
		{Kind: llm.PartToolResult, ToolCallID: "T1", Output: map[string]interface{}{"stdout": "a b"}},
	})

	s := session.New(cfg)
	require.NoError(t, s.Run(context.Background(), stream))

	assert.Contains(t, seen, events.KindToolCallStart)
	assert.Contains(t, seen, events.KindToolCallEnd)

	msgs, err := history.ReadAll(context.Background(), "ws1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	parts := msgs[0].Parts
	require.Len(t, parts, 1)
	assert.Equal(t, message.PartDynamicTool, parts[0].Kind)
	assert.Equal(t, "T1", parts[0].ToolCallID)
	assert.Equal(t, message.ToolOutputAvailable, parts[0].State)
	assert.Equal(t, "a b", parts[0].Output["stdout"])
}

// S3: mid-stream abort after text.
func TestMidStreamAbortAfterText(t *testing.T) {
	dispatcher := events.NewDispatcher()
	var seen []events.Kind
	dispatcher.Subscribe("ws1", func(e events.Event) { seen = append(seen, e.Kind) })

	cfg, partial, _ := newConfig(t, dispatcher)
	stream := newFakeStream([]llm.Part{
		{Kind: llm.PartTextDelta, Delta: "partial "},
		{Kind: llm.PartTextDelta, Delta: "more"},
	})
	stream.blockAfter = 1
	stream.release = make(chan struct{})

	s := session.New(cfg)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, stream) }()

	// Give the first delta a moment to be processed, then abort before
	// the second part is released.
	time.Sleep(20 * time.Millisecond)
	cancel()

	err := <-done
	assert.Error(t, err)
	assert.Equal(t, session.StateStopping, s.State())
	assert.Contains(t, seen, events.KindStreamAbort)
	assert.NotContains(t, seen, events.KindStreamEnd)

	got, rerr := partial.Read(context.Background(), "ws1")
	require.NoError(t, rerr)
	require.NotNil(t, got)
	assert.True(t, got.Metadata.Partial)
	require.Len(t, got.Parts, 1)
	assert.Equal(t, "partial ", got.Parts[0].Text)

	close(stream.release)
}

// S4: interrupted tool call.
func TestInterruptedToolCallPersistsInputAvailable(t *testing.T) {
	dispatcher := events.NewDispatcher()
	cfg, partial, _ := newConfig(t, dispatcher)
	stream := newFakeStream([]llm.Part{
		{Kind: llm.PartToolCall, ToolCallID: "T1", ToolName: "bash", Input: map[string]interface{}{"script": "ls"}},
	})
	stream.blockAfter = 1
	stream.release = make(chan struct{})

	s := session.New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, stream) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done
	close(stream.release)

	got, err := partial.Read(context.Background(), "ws1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Parts, 1)
	assert.Equal(t, message.ToolInputAvailable, got.Parts[0].State)
	assert.Equal(t, "T1", got.Parts[0].ToolCallID)
}

// Invariant 1: no partial remains on disk once a stream ends naturally.
func TestInvariantNoPartialAfterStreamEnd(t *testing.T) {
	cfg, partial, _ := newConfig(t, events.NewDispatcher())
	stream := newFakeStream([]llm.Part{{Kind: llm.PartTextDelta, Delta: "x"}})

	s := session.New(cfg)
	require.NoError(t, s.Run(context.Background(), stream))

	got, err := partial.Read(context.Background(), "ws1")
	require.NoError(t, err)
	assert.Nil(t, got)
}
