// Package message defines the canonical data model shared by every workspace
// stream engine component: messages, their parts, and persistence metadata.
package message

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the sender of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartKind tags the variant held by a Part.
type PartKind string

const (
	PartText        PartKind = "text"
	PartReasoning   PartKind = "reasoning"
	PartDynamicTool PartKind = "dynamic-tool"
)

// ToolState is the lifecycle state of a DynamicTool part.
type ToolState string

const (
	ToolInputAvailable  ToolState = "input-available"
	ToolOutputAvailable ToolState = "output-available"
)

// Part is a tagged union over a single unit of assistant output: visible
// text, chain-of-thought reasoning, or a tool invocation with its result.
type Part struct {
	Kind PartKind `json:"kind"`

	// Text holds the content for PartText and PartReasoning.
	Text string `json:"text,omitempty"`

	// DynamicTool fields, populated only when Kind == PartDynamicTool.
	ToolCallID string                 `json:"toolCallId,omitempty"`
	ToolName   string                 `json:"toolName,omitempty"`
	State      ToolState              `json:"state,omitempty"`
	Input      map[string]interface{} `json:"input,omitempty"`
	Output     map[string]interface{} `json:"output,omitempty"`
}

// NewTextPart creates a visible-text part.
func NewTextPart(text string) Part {
	return Part{Kind: PartText, Text: text}
}

// NewReasoningPart creates a chain-of-thought part.
func NewReasoningPart(text string) Part {
	return Part{Kind: PartReasoning, Text: text}
}

// NewToolCallPart creates a DynamicTool part awaiting its result.
func NewToolCallPart(toolCallID, toolName string, input map[string]interface{}) Part {
	return Part{
		Kind:       PartDynamicTool,
		ToolCallID: toolCallID,
		ToolName:   toolName,
		State:      ToolInputAvailable,
		Input:      input,
	}
}

// WithOutput returns a copy of the part transitioned to output-available.
func (p Part) WithOutput(output map[string]interface{}) Part {
	p.State = ToolOutputAvailable
	p.Output = output
	return p
}

// HasVisibleContent reports whether the part counts toward invariant 2 of
// spec.md §3 (a completed assistant message needs at least one Text or
// DynamicTool part).
func (p Part) HasVisibleContent() bool {
	return p.Kind == PartText || p.Kind == PartDynamicTool
}

// ErrorType categorizes a failed stream, mirroring spec.md §7.
type ErrorType string

const (
	ErrInvalidModelString ErrorType = "invalid_model_string"
	ErrProviderNotSupport ErrorType = "provider_not_supported"
	ErrAPIKeyNotFound     ErrorType = "api_key_not_found"
	ErrAuthentication     ErrorType = "authentication"
	ErrRateLimit          ErrorType = "rate_limit"
	ErrServerError        ErrorType = "server_error"
	ErrNetwork            ErrorType = "network"
	ErrContextExceeded    ErrorType = "context_exceeded"
	ErrQuota              ErrorType = "quota"
	ErrAborted            ErrorType = "aborted"
	ErrRetryFailed        ErrorType = "retry_failed"
	ErrUnknown            ErrorType = "unknown"
)

// Usage holds token accounting for a completed or interrupted stream.
type Usage struct {
	InputTokens     int `json:"inputTokens,omitempty"`
	OutputTokens    int `json:"outputTokens,omitempty"`
	CachedTokens    int `json:"cachedTokens,omitempty"`
	ReasoningTokens int `json:"reasoningTokens,omitempty"`
}

// Metadata is the optional, additive bag attached to a Message.
type Metadata struct {
	HistorySequence    uint64                 `json:"historySequence,omitempty"`
	Timestamp          time.Time              `json:"timestamp,omitempty"`
	Model              string                 `json:"model,omitempty"`
	Partial            bool                   `json:"partial,omitempty"`
	Error              string                 `json:"error,omitempty"`
	ErrorType          ErrorType              `json:"errorType,omitempty"`
	SystemMessageTokens int                   `json:"systemMessageTokens,omitempty"`
	Usage              *Usage                 `json:"usage,omitempty"`
	ProviderMetadata   map[string]interface{} `json:"providerMetadata,omitempty"`
	Synthetic          bool                   `json:"synthetic,omitempty"`
	Duration           time.Duration          `json:"duration,omitempty"`
}

// Message is one entry in a workspace's conversation: a user submission or
// an assistant response assembled from Parts.
type Message struct {
	ID       string   `json:"id"`
	Role     Role     `json:"role"`
	Parts    []Part   `json:"parts,omitempty"`
	Metadata Metadata `json:"metadata"`
}

// NewUserMessage creates a single-part text user message.
func NewUserMessage(text string) Message {
	return Message{ID: uuid.NewString(), Role: RoleUser, Parts: []Part{NewTextPart(text)}}
}

// NewPlaceholderAssistant creates the empty assistant placeholder appended
// to history at stream start (spec.md §4.6 step 7) so a history_sequence and
// message id can be reserved before the provider stream begins.
func NewPlaceholderAssistant(model string) Message {
	return Message{
		ID:   uuid.NewString(),
		Role: RoleAssistant,
		Metadata: Metadata{
			Model:   model,
			Partial: true,
		},
	}
}

// NewInterruptionSentinel creates the synthetic user message inserted after
// a partial assistant message (spec.md §4.3 step 3).
func NewInterruptionSentinel() Message {
	return Message{
		ID:       uuid.NewString(),
		Role:     RoleUser,
		Parts:    []Part{NewTextPart("[INTERRUPTED]")},
		Metadata: Metadata{Synthetic: true},
	}
}

// IsEmptyAssistant reports whether an assistant message carries no Text and
// no DynamicTool parts (spec.md §4.3 step 1).
func (m Message) IsEmptyAssistant() bool {
	if m.Role != RoleAssistant {
		return false
	}
	for _, p := range m.Parts {
		if p.HasVisibleContent() {
			return false
		}
	}
	return true
}

// Clone returns a deep-enough copy safe for independent mutation of the
// top-level Parts slice (used by the normalizer, which never mutates a
// shared history in place).
func (m Message) Clone() Message {
	out := m
	out.Parts = append([]Part(nil), m.Parts...)
	return out
}
