// Package session implements C4 of spec.md: one in-flight stream per
// workspace, consuming a provider part stream, accumulating a Parts
// vector, throttling crash-resilience writes to PartialStore, and
// committing the final message to HistoryStore. Grounded on
// genai/service/core/stream.go's consumeEvents/appendStreamEvent
// dispatch loop and genai/modelcallctx/sync.go's barrier-channel idiom
// for serializing writes.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cmux/streamengine/events"
	"github.com/cmux/streamengine/historystore"
	"github.com/cmux/streamengine/internal/debuglog"
	"github.com/cmux/streamengine/llm"
	"github.com/cmux/streamengine/message"
	"github.com/cmux/streamengine/partialstore"
)

// State is one node of the spec.md §4.4 state machine.
type State int32

const (
	StateStarting State = iota
	StateStreaming
	StateStopping
	StateError
	StateCompleted
)

// ThrottleInterval is the minimum spacing between partial writes
// (spec.md "Throttled partial write", 500ms).
const ThrottleInterval = 500 * time.Millisecond

// Config carries a Session's construction inputs (spec.md §4.4
// "Construction inputs").
type Config struct {
	WorkspaceID     string
	MessageID       string
	HistorySequence uint64
	Model           string
	InitialMetadata message.Metadata

	Dispatcher   *events.Dispatcher
	PartialStore partialstore.Store
	HistoryStore historystore.Store

	// Tokenizer estimates reasoning_tokens when the provider does not
	// report them directly (spec.md §4.4 "Natural completion" step 1).
	// Nil is valid; estimation is then skipped.
	Tokenizer llm.Tokenizer
}

// Session is one active stream for a workspace.
type Session struct {
	cfg Config

	stateMu sync.RWMutex
	state   State

	partsMu sync.Mutex
	parts   []message.Part

	limiter   *rate.Limiter
	flushMu   sync.Mutex
	timerMu   sync.Mutex
	timer     *time.Timer
	startTime time.Time
}

// New constructs a Session in the Starting state. The caller spawns Run
// in a goroutine; Session does not manage its own context cancellation
// source (spec.md says the session "owns" one, but in this Go rendering
// the owning context.CancelFunc is created and held by manager, which
// also registers it in cancel.Registry — Run is handed the already
// cancellable ctx instead of minting its own, since Go's context
// idiom is for the caller who creates a CancelFunc to also be the one
// responsible for eventually calling it).
func New(cfg Config) *Session {
	return &Session{
		cfg:       cfg,
		state:     StateStarting,
		limiter:   rate.NewLimiter(rate.Every(ThrottleInterval), 1),
		startTime: cfg.InitialMetadata.Timestamp,
	}
}

// State returns the session's current state.
func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

// Run consumes stream to completion, abort, or error and returns nil on
// natural completion. The cancellation flag is ctx; the caller is
// responsible for calling the matching CancelFunc (typically manager,
// routing stop_stream / takeover through cancel.Registry).
func (s *Session) Run(ctx context.Context, stream llm.PartStream) error {
	s.setState(StateStreaming)
	s.publish(events.Event{
		Kind:            events.KindStreamStart,
		WorkspaceID:     s.cfg.WorkspaceID,
		MessageID:       s.cfg.MessageID,
		Model:           s.cfg.Model,
		HistorySequence: s.cfg.HistorySequence,
	})

	for {
		if ctx.Err() != nil {
			return s.handleAbort(stream)
		}

		part, ok, err := stream.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return s.handleAbort(stream)
			}
			return s.handleError(ctx, err)
		}
		if !ok {
			return s.handleNaturalCompletion(ctx, stream)
		}
		if part.Kind == llm.PartError {
			perr := part.Err
			if perr == nil {
				perr = errors.New("session: provider reported an error part")
			}
			return s.handleError(ctx, perr)
		}

		s.dispatchPart(ctx, part)
	}
}

func (s *Session) dispatchPart(ctx context.Context, part llm.Part) {
	switch part.Kind {
	case llm.PartTextDelta:
		s.appendPart(message.NewTextPart(part.Delta))
		s.publish(events.Event{Kind: events.KindStreamDelta, WorkspaceID: s.cfg.WorkspaceID, MessageID: s.cfg.MessageID, Delta: part.Delta})
		s.schedulePartialWrite(ctx)

	case llm.PartReasoningDelta:
		s.appendPart(message.NewReasoningPart(part.Delta))
		s.publish(events.Event{Kind: events.KindReasoningDelta, WorkspaceID: s.cfg.WorkspaceID, MessageID: s.cfg.MessageID, Delta: part.Delta})
		s.schedulePartialWrite(ctx)

	case llm.PartReasoningEnd:
		s.publish(events.Event{Kind: events.KindReasoningEnd, WorkspaceID: s.cfg.WorkspaceID, MessageID: s.cfg.MessageID})

	case llm.PartToolCall:
		s.appendPart(message.NewToolCallPart(part.ToolCallID, part.ToolName, part.Input))
		s.publish(events.Event{
			Kind: events.KindToolCallStart, WorkspaceID: s.cfg.WorkspaceID, MessageID: s.cfg.MessageID,
			ToolCallID: part.ToolCallID, ToolName: part.ToolName, Input: part.Input,
		})
		s.schedulePartialWrite(ctx)

	case llm.PartToolResult:
		name := s.completeToolCall(part.ToolCallID, part.Output)
		s.publish(events.Event{
			Kind: events.KindToolCallEnd, WorkspaceID: s.cfg.WorkspaceID, MessageID: s.cfg.MessageID,
			ToolCallID: part.ToolCallID, ToolName: name, Output: part.Output,
		})
		s.schedulePartialWrite(ctx)

	case llm.PartStart, llm.PartStartStep, llm.PartFinish, llm.PartFinishStep, llm.PartTextStart:
		// framing events, no accumulation.

	case llm.PartError:
		// Run routes error parts to handleError before dispatching, so
		// this case is only reached if dispatchPart is called directly.
		debuglog.Printf("workspace %s: error part: %v", s.cfg.WorkspaceID, part.Err)
	}
}

func (s *Session) appendPart(p message.Part) {
	s.partsMu.Lock()
	s.parts = append(s.parts, p)
	s.partsMu.Unlock()
}

// completeToolCall locates the DynamicTool part matching toolCallID and
// transitions it to output-available, appending a defensive new part
// when no match is found (spec.md §4.4 accumulation rule for
// ToolResult). Returns the tool name for event emission.
func (s *Session) completeToolCall(toolCallID string, output map[string]interface{}) string {
	s.partsMu.Lock()
	defer s.partsMu.Unlock()
	for i, p := range s.parts {
		if p.Kind == message.PartDynamicTool && p.ToolCallID == toolCallID {
			s.parts[i] = p.WithOutput(output)
			return p.ToolName
		}
	}
	p := message.Part{Kind: message.PartDynamicTool, ToolCallID: toolCallID, State: message.ToolOutputAvailable, Output: output}
	s.parts = append(s.parts, p)
	return ""
}

func (s *Session) snapshotParts() []message.Part {
	s.partsMu.Lock()
	defer s.partsMu.Unlock()
	out := make([]message.Part, len(s.parts))
	copy(out, s.parts)
	return out
}

// schedulePartialWrite implements spec.md's throttle policy: flush
// immediately if the limiter has spare burst (meaning at least
// ThrottleInterval has elapsed since the last immediate flush; flushes
// run by the trailing timer do not consume limiter tokens), otherwise arm a
// single trailing timer that replaces any previously armed one.
func (s *Session) schedulePartialWrite(ctx context.Context) {
	if s.limiter.Allow() {
		s.flushPartial(ctx)
		return
	}

	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(ThrottleInterval, func() {
		s.flushPartial(ctx)
	})
}

// flushPartial serializes writes (spec.md: "first awaits any in-flight
// write... at most one write to disk at a time per session") using a
// mutex rather than the teacher's barrier-channel (modelcallctx/sync.go
// WithFinishBarrier/signalFinish): a plain sync.Mutex gives the same
// "next flush waits for the current one" guarantee with less machinery,
// since unlike the teacher's use case nothing here needs to observe
// completion without also being the next writer.
func (s *Session) flushPartial(ctx context.Context) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	msg := s.buildMessage(true, nil, message.ErrorType(""))
	if err := s.cfg.PartialStore.Write(ctx, s.cfg.WorkspaceID, &msg); err != nil {
		debuglog.Printf("workspace %s: partial write failed: %v", s.cfg.WorkspaceID, err)
	}
}

func (s *Session) buildMessage(partial bool, streamErr error, errType message.ErrorType) message.Message {
	meta := s.cfg.InitialMetadata
	meta.HistorySequence = s.cfg.HistorySequence
	meta.Model = s.cfg.Model
	meta.Partial = partial
	if streamErr != nil {
		meta.Error = streamErr.Error()
		meta.ErrorType = errType
	}
	return message.Message{
		ID:       s.cfg.MessageID,
		Role:     message.RoleAssistant,
		Parts:    s.snapshotParts(),
		Metadata: meta,
	}
}

// handleAbort implements spec.md §4.4 "Interruption/cancellation".
func (s *Session) handleAbort(stream llm.PartStream) error {
	s.setState(StateStopping)

	// flush_partial must happen even though ctx is already done; use a
	// background context so the write is not itself cancelled.
	s.flushPartial(context.Background())

	_ = stream.Close()

	s.publish(events.Event{Kind: events.KindStreamAbort, WorkspaceID: s.cfg.WorkspaceID, MessageID: s.cfg.MessageID})
	return context.Canceled
}

// handleError implements spec.md §4.4 "Error path".
func (s *Session) handleError(ctx context.Context, err error) error {
	s.setState(StateError)

	errType := message.ClassifyError(err)
	msg := s.buildMessage(true, err, errType)
	go func() {
		if werr := s.cfg.PartialStore.Write(context.Background(), s.cfg.WorkspaceID, &msg); werr != nil {
			debuglog.Printf("workspace %s: error-path partial write failed: %v", s.cfg.WorkspaceID, werr)
		}
	}()

	s.publish(events.Event{
		Kind: events.KindError, WorkspaceID: s.cfg.WorkspaceID, MessageID: s.cfg.MessageID,
		Error: err.Error(), ErrorType: errType,
	})
	return err
}

// handleNaturalCompletion implements spec.md §4.4 "Natural completion".
func (s *Session) handleNaturalCompletion(ctx context.Context, stream llm.PartStream) error {
	usage := s.computeUsage(ctx, stream)

	// step 2: defensive flush, still partial:true.
	s.flushPartial(ctx)

	meta := s.cfg.InitialMetadata
	meta.HistorySequence = s.cfg.HistorySequence
	meta.Model = s.cfg.Model
	meta.Partial = false
	meta.Usage = usage
	if !s.startTime.IsZero() {
		meta.Duration = time.Since(s.startTime)
	}
	if providerMeta := stream.ProviderMetadata(); providerMeta != nil {
		meta.ProviderMetadata = providerMeta
	}

	final := message.Message{
		ID:       s.cfg.MessageID,
		Role:     message.RoleAssistant,
		Parts:    s.snapshotParts(),
		Metadata: meta,
	}

	// step 4: delete the partial before committing history so a crash
	// between the two leaves either (partial + unchanged placeholder) or
	// (no partial + unchanged placeholder), both recoverable.
	if err := s.cfg.PartialStore.Delete(ctx, s.cfg.WorkspaceID); err != nil {
		debuglog.Printf("workspace %s: partial delete failed: %v", s.cfg.WorkspaceID, err)
	}
	if err := s.cfg.HistoryStore.Update(ctx, s.cfg.WorkspaceID, &final); err != nil {
		debuglog.Printf("workspace %s: history update failed: %v", s.cfg.WorkspaceID, err)
	}

	s.setState(StateCompleted)
	s.publish(events.Event{
		Kind: events.KindStreamEnd, WorkspaceID: s.cfg.WorkspaceID, MessageID: s.cfg.MessageID,
		Parts: final.Parts, Metadata: final.Metadata,
	})
	return nil
}

// computeUsage implements spec.md §4.4 "Natural completion" step 1.
func (s *Session) computeUsage(ctx context.Context, stream llm.PartStream) *message.Usage {
	providerUsage := stream.Usage()
	if providerUsage == nil {
		return nil
	}

	usage := &message.Usage{
		InputTokens:  providerUsage.InputTokens,
		OutputTokens: providerUsage.OutputTokens,
		CachedTokens: providerUsage.CachedInputTokens,
	}

	reasoningTokens := 0
	if providerUsage.ReasoningTokens != nil {
		reasoningTokens = *providerUsage.ReasoningTokens
	} else if s.cfg.Tokenizer != nil {
		reasoningTokens = s.estimateReasoningTokens(ctx)
	}
	usage.ReasoningTokens = reasoningTokens

	if providerUsage.ReasoningTokens != nil && reasoningTokens > 0 {
		// Provider includes reasoning in output_tokens; exclude it so
		// output_tokens reflects visible text only.
		usage.OutputTokens -= reasoningTokens
		if usage.OutputTokens < 0 {
			usage.OutputTokens = 0
		}
	}

	if usage.CachedTokens == 0 && providerUsage.ProviderMetadata != nil {
		if v, ok := providerUsage.ProviderMetadata["cacheReadTokens"]; ok {
			if n, ok := v.(int); ok {
				usage.CachedTokens = n
			}
		}
	}
	return usage
}

func (s *Session) estimateReasoningTokens(ctx context.Context) int {
	var sb strings.Builder
	for _, p := range s.snapshotParts() {
		if p.Kind == message.PartReasoning {
			sb.WriteString(p.Text)
		}
	}
	if sb.Len() == 0 {
		return 0
	}
	n, err := s.cfg.Tokenizer.CountTokens(ctx, sb.String())
	if err != nil {
		debuglog.Printf("workspace %s: reasoning token estimate failed: %v", s.cfg.WorkspaceID, err)
		return 0
	}
	return n
}

func (s *Session) publish(ev events.Event) {
	if s.cfg.Dispatcher != nil {
		s.cfg.Dispatcher.Publish(ev)
	}
}
