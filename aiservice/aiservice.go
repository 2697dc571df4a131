// Package aiservice implements C6 of spec.md: the orchestration boundary
// the rest of the host application calls to start a workspace stream.
// Grounded on genai/service/core/stream.go's Service.Stream (retry
// wrapping around starting the provider stream, consumeEvents dispatch)
// and genai/service/core/service.go's Service struct (holds the tool
// registry, model finder, fs handle) — generalized from one HTTP-style
// request/response call into spec.md §4.6's ten-step sequence ending in
// a spawned session.Session rather than a single aggregated response.
package aiservice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cmux/streamengine/events"
	"github.com/cmux/streamengine/historystore"
	"github.com/cmux/streamengine/internal/debuglog"
	"github.com/cmux/streamengine/llm"
	"github.com/cmux/streamengine/manager"
	"github.com/cmux/streamengine/message"
	"github.com/cmux/streamengine/normalizer"
	"github.com/cmux/streamengine/partialstore"
	"github.com/cmux/streamengine/providerconfig"
	"github.com/cmux/streamengine/session"
)

// ErrUnknownProvider is wrapped into the returned error when ProviderResolver
// cannot find a Finder for the provider prefix of a model string.
var ErrUnknownProvider = errors.New("aiservice: unknown provider")

// ErrMissingAPIKey is wrapped into the returned error when ProviderResolver
// finds the provider but it lacks the configuration needed to authenticate.
var ErrMissingAPIKey = errors.New("aiservice: api key not found")

// ProviderResolver resolves a model string's provider+id pair to a ready
// llm.Model, the external collaborator spec.md §4.6 step 2 calls out
// ("resolve the provider model from model_string"). Implementations
// should return an error wrapping ErrUnknownProvider or ErrMissingAPIKey
// so StreamMessage can classify it correctly; any other error is
// classified via message.ClassifyError.
type ProviderResolver interface {
	Resolve(ctx context.Context, provider, modelID string) (llm.Model, error)
}

// ToolResolver builds the tool set available to a workspace (spec.md
// §4.6 step 6, "build the tool set").
type ToolResolver interface {
	Resolve(ctx context.Context, workspacePath string) ([]llm.Tool, error)
}

// WorkspaceLookup resolves a workspace id to its filesystem path (spec.md
// §4.6 step 6, "resolve workspace filesystem path").
type WorkspaceLookup interface {
	Path(ctx context.Context, workspaceID string) (string, error)
}

// SendMessageError is the categorical, synchronous error StreamMessage
// returns when request assembly (spec.md §4.6 steps 1-8) fails before a
// stream is ever spawned. Once the stream is spawned, errors are
// delivered only via the error event (spec.md §7 "Propagation policy").
type SendMessageError struct {
	Kind message.ErrorType
	Err  error
}

func (e *SendMessageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("aiservice: %s", e.Kind)
	}
	return fmt.Sprintf("aiservice: %s: %v", e.Kind, e.Err)
}

func (e *SendMessageError) Unwrap() error { return e.Err }

func fail(kind message.ErrorType, err error) *SendMessageError {
	return &SendMessageError{Kind: kind, Err: err}
}

// Config carries Service's collaborators.
type Config struct {
	HistoryStore historystore.Store
	PartialStore partialstore.Store
	Manager      *manager.Manager

	Providers      ProviderResolver
	ProviderTable  providerconfig.Table
	Tools          ToolResolver
	Workspaces     WorkspaceLookup
	SystemMessages llm.SystemMessageBuilder
	Tokenizer      llm.Tokenizer
}

// Service is the C6 AIService.
type Service struct {
	cfg        Config
	dispatcher *events.Dispatcher
}

// New returns a Service wired to cfg. cfg.ProviderTable defaults to
// providerconfig.Default() when nil.
func New(cfg Config) *Service {
	if cfg.ProviderTable == nil {
		cfg.ProviderTable = providerconfig.Default()
	}
	return &Service{cfg: cfg, dispatcher: events.NewDispatcher()}
}

// Dispatcher returns the Service's own event dispatcher; subscribers see
// every event re-emitted from the underlying manager, with stream-abort
// always preceded by the workspace's partial having been committed to
// history (spec.md §4.6 step 10).
func (s *Service) Dispatcher() *events.Dispatcher {
	return s.dispatcher
}

// StopStream cancels the workspace's active stream, if any.
func (s *Service) StopStream(workspaceID string) {
	s.cfg.Manager.StopStream(workspaceID)
}

// GetStreamState reports the workspace's current stream state.
func (s *Service) GetStreamState(workspaceID string) session.State {
	return s.cfg.Manager.GetStreamState(workspaceID)
}

// Request carries stream_message's parameters (spec.md §4.6).
type Request struct {
	WorkspaceID string

	// RawMessages is the workspace's full conversation, including the
	// newest user submission, in the engine's history representation;
	// the caller is responsible for having already appended the user's
	// message to HistoryStore before calling StreamMessage.
	RawMessages []message.Message

	// ModelString has the form "provider:model-id".
	ModelString string

	ThinkingLevel                string
	ToolPolicy                   llm.ToolPolicy
	AdditionalSystemInstructions string
	MaxOutputTokens              int
}

// StreamMessage implements spec.md §4.6's stream_message. It returns
// synchronously once request assembly (steps 1-8) succeeds and the
// stream has been spawned (step 9); the actual generation outcome is
// delivered via Dispatcher() events (spec.md §7).
func (s *Service) StreamMessage(ctx context.Context, req Request) error {
	// Step 1: land any prior interrupted partial before starting anew.
	if err := partialstore.CommitToHistory(ctx, s.cfg.PartialStore, s.cfg.HistoryStore, req.WorkspaceID); err != nil {
		return fail(message.ErrUnknown, fmt.Errorf("commit prior partial: %w", err))
	}

	// Step 2: resolve the provider model.
	providerName, modelID, err := splitModelString(req.ModelString)
	if err != nil {
		return fail(message.ErrInvalidModelString, err)
	}
	if s.cfg.Providers == nil {
		return fail(message.ErrProviderNotSupport, fmt.Errorf("aiservice: no provider resolver configured"))
	}
	model, err := s.cfg.Providers.Resolve(ctx, providerName, modelID)
	if err != nil {
		return classifyResolveError(err)
	}
	streamer, ok := model.(llm.StreamingModel)
	if !ok {
		return fail(message.ErrProviderNotSupport, fmt.Errorf("aiservice: model %s does not support streaming", req.ModelString))
	}

	// Step 3: normalize outbound history for this provider.
	entry := s.cfg.ProviderTable.Lookup(providerName)
	providerMsgs, nerr := normalizer.New(entry).Run(req.RawMessages)
	if nerr != nil {
		// spec.md §4.3 step 8: the engine logs but does not abort.
		debuglog.Printf("workspace %s: normalizer validation: %v", req.WorkspaceID, nerr)
	}

	// Step 4-5: build and count the system message.
	systemMsg, sysTokens, err := s.buildSystemMessage(ctx, req)
	if err != nil {
		return fail(message.ErrUnknown, err)
	}

	// Step 6: resolve workspace path, build and filter the tool set.
	tools, err := s.resolveTools(ctx, req)
	if err != nil {
		return fail(message.ErrUnknown, err)
	}

	// Step 7: reserve a history_sequence and message id via a placeholder.
	placeholder := message.NewPlaceholderAssistant(req.ModelString)
	placeholder.Metadata.SystemMessageTokens = sysTokens
	seq, err := s.cfg.HistoryStore.Append(ctx, req.WorkspaceID, &placeholder)
	if err != nil {
		return fail(message.ErrUnknown, fmt.Errorf("append placeholder: %w", err))
	}

	// Step 8: build the provider-specific request.
	genReq := &llm.GenerateRequest{
		Messages:        providerMsgs,
		System:          systemMsg,
		Tools:           tools,
		MaxOutputTokens: req.MaxOutputTokens,
		Options: &llm.Options{
			Stream:   true,
			Thinking: thinkingFromLevel(req.ThinkingLevel),
		},
	}
	if entry.StripReasoning {
		genReq.PreviousResponseID = lastResponseID(req.RawMessages)
	}

	partStream, err := streamer.Stream(ctx, genReq)
	if err != nil {
		return fail(message.ClassifyError(err), err)
	}

	// Subscribe before starting so stream-start is never missed (spec.md
	// §5 ordering guarantee relies on in-order delivery from subscribe
	// time onward).
	s.forwardEvents(req.WorkspaceID, placeholder.ID)

	// Step 9: delegate to StreamManager.
	s.cfg.Manager.StartStream(ctx, session.Config{
		WorkspaceID:     req.WorkspaceID,
		MessageID:       placeholder.ID,
		HistorySequence: seq,
		Model:           req.ModelString,
		InitialMetadata: placeholder.Metadata,
		PartialStore:    s.cfg.PartialStore,
		HistoryStore:    s.cfg.HistoryStore,
		Tokenizer:       s.cfg.Tokenizer,
	}, partStream)

	return nil
}

// forwardEvents implements spec.md §4.6 step 10: re-emit every event the
// manager publishes for this call's own stream, committing an interrupted
// partial to history before forwarding a stream-abort, and unsubscribing
// once the session reaches a terminal event so a later StreamMessage call
// on the same workspace does not accumulate stale subscriptions.
//
// The underlying manager.Dispatcher fans events out per workspaceID only,
// so a second StreamMessage call on the same workspace while a prior
// stream is still active (spec.md §5/§8's "start-during-stream" scenario)
// registers a second subscription before the first has unsubscribed.
// Every event carries the message_id of the session that produced it
// (spec.md §6), so filtering on messageID keeps each call's subscription
// reacting only to its own session: the takeover's stream-abort for the
// prior session is ignored here instead of being mistaken for this call's
// own termination and unsubscribing before this session's stream-start
// has even been published.
func (s *Service) forwardEvents(workspaceID, messageID string) {
	var unsubscribe func()
	unsubscribe = s.cfg.Manager.Dispatcher().Subscribe(workspaceID, func(ev events.Event) {
		if ev.MessageID != messageID {
			return
		}

		if ev.Kind == events.KindStreamAbort {
			if err := partialstore.CommitToHistory(context.Background(), s.cfg.PartialStore, s.cfg.HistoryStore, workspaceID); err != nil {
				debuglog.Printf("workspace %s: commit on abort failed: %v", workspaceID, err)
			}
			if err := s.cfg.PartialStore.Delete(context.Background(), workspaceID); err != nil {
				debuglog.Printf("workspace %s: partial delete on abort failed: %v", workspaceID, err)
			}
		}

		s.dispatcher.Publish(ev)

		switch ev.Kind {
		case events.KindStreamEnd, events.KindStreamAbort, events.KindError:
			unsubscribe()
		}
	})
}

func (s *Service) buildSystemMessage(ctx context.Context, req Request) (string, int, error) {
	if s.cfg.SystemMessages == nil {
		return "", 0, nil
	}
	systemMsg, err := s.cfg.SystemMessages.BuildSystemMessage(ctx, req.WorkspaceID, req.AdditionalSystemInstructions)
	if err != nil {
		return "", 0, fmt.Errorf("build system message: %w", err)
	}
	if s.cfg.Tokenizer == nil || systemMsg == "" {
		return systemMsg, 0, nil
	}
	n, err := s.cfg.Tokenizer.CountTokens(ctx, systemMsg)
	if err != nil {
		debuglog.Printf("workspace %s: system message token count failed: %v", req.WorkspaceID, err)
		return systemMsg, 0, nil
	}
	return systemMsg, n, nil
}

func (s *Service) resolveTools(ctx context.Context, req Request) ([]llm.Tool, error) {
	if s.cfg.Tools == nil {
		return nil, nil
	}
	var path string
	if s.cfg.Workspaces != nil {
		var err error
		path, err = s.cfg.Workspaces.Path(ctx, req.WorkspaceID)
		if err != nil {
			return nil, fmt.Errorf("resolve workspace path: %w", err)
		}
	}
	tools, err := s.cfg.Tools.Resolve(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("resolve tools: %w", err)
	}
	policy := req.ToolPolicy
	if policy == nil {
		return tools, nil
	}
	filtered := make([]llm.Tool, 0, len(tools))
	for _, t := range tools {
		if policy.Allow(t.Definition.Name) {
			filtered = append(filtered, t)
		}
	}
	return filtered, nil
}

// splitModelString parses the "provider:model-id" format of spec.md §4.6.
func splitModelString(s string) (provider, modelID string, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("aiservice: invalid model string %q, want \"provider:model-id\"", s)
	}
	return parts[0], parts[1], nil
}

func classifyResolveError(err error) *SendMessageError {
	switch {
	case errors.Is(err, ErrUnknownProvider):
		return fail(message.ErrProviderNotSupport, err)
	case errors.Is(err, ErrMissingAPIKey):
		return fail(message.ErrAPIKeyNotFound, err)
	default:
		return fail(message.ClassifyError(err), err)
	}
}

// thinkingFromLevel adapts a caller-supplied thinking level into the
// provider-option shape; an empty level disables the field entirely
// rather than sending a zero-value Thinking struct.
func thinkingFromLevel(level string) *llm.Thinking {
	if strings.TrimSpace(level) == "" {
		return nil
	}
	return &llm.Thinking{Level: level}
}

// lastResponseID scans history for the most recent assistant message
// carrying a provider-assigned response id, used to correlate a new
// request with a prior one for providers that manage reasoning state
// out-of-band (spec.md §6 table, openai row; §4.6 step 8).
func lastResponseID(history []message.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.Role != message.RoleAssistant || m.Metadata.ProviderMetadata == nil {
			continue
		}
		if v, ok := m.Metadata.ProviderMetadata["responseId"]; ok {
			if id, ok := v.(string); ok && id != "" {
				return id
			}
		}
	}
	return ""
}
