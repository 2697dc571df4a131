package llm

import "context"

// PartKind tags one element of a provider's streamed response, exactly the
// set enumerated in spec.md §6.
type PartKind string

const (
	PartStart        PartKind = "start"
	PartStartStep    PartKind = "start-step"
	PartTextStart    PartKind = "text-start"
	PartTextDelta    PartKind = "text-delta"
	PartReasoningDelta PartKind = "reasoning-delta"
	PartReasoningEnd PartKind = "reasoning-end"
	PartToolCall     PartKind = "tool-call"
	PartToolResult   PartKind = "tool-result"
	PartFinishStep   PartKind = "finish-step"
	PartFinish       PartKind = "finish"
	PartError        PartKind = "error"
)

// Part is one tagged element yielded by a PartStream.
type Part struct {
	Kind PartKind

	// Delta holds the incremental text for PartTextDelta/PartReasoningDelta.
	Delta string

	// ToolCallID/ToolName/Input populate PartToolCall.
	ToolCallID string
	ToolName   string
	Input      map[string]interface{}

	// Output populates PartToolResult (ToolCallID identifies which call).
	Output map[string]interface{}

	// Err populates PartError.
	Err error
}

// PartStream is the lazy, finite sequence of Part values a provider model
// yields while streaming (spec.md §6). Closed by the provider when the
// stream ends, naturally or on error.
type PartStream interface {
	// Next blocks until the next part is available, the stream ends (ok ==
	// false), or ctx is done.
	Next(ctx context.Context) (part Part, ok bool, err error)

	// Usage returns provider-reported usage; only valid after Next has
	// returned ok == false.
	Usage() *Usage

	// ProviderMetadata returns the opaque provider metadata bag; only valid
	// after the stream has ended.
	ProviderMetadata() map[string]interface{}

	// Close releases the underlying transport resources. Idempotent.
	Close() error
}
