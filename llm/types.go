package llm

// MessageRole mirrors the provider-level wire role, distinct from
// message.Role which is the engine's persisted-history role (tool-role
// messages only ever exist transiently on the wire, never in history).
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// ToolCall is a structured tool invocation on the assistant side of a
// provider message.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// ProviderMessage is the wire-level message representation the normalizer
// produces (spec.md §4.3 step 4: "Convert to provider message
// representation").
type ProviderMessage struct {
	Role       MessageRole            `json:"role"`
	Text       string                 `json:"text,omitempty"`
	ToolCalls  []ToolCall             `json:"toolCalls,omitempty"`
	ToolCallID string                 `json:"toolCallId,omitempty"`
	ToolResult map[string]interface{} `json:"toolResult,omitempty"`
	CacheBreak bool                   `json:"cacheBreak,omitempty"`
}

// GenerateRequest is the outbound request built by aiservice and consumed by
// a Model/StreamingModel.
type GenerateRequest struct {
	Messages    []ProviderMessage `json:"messages"`
	System      string            `json:"system,omitempty"`
	Tools       []Tool            `json:"tools,omitempty"`
	Options     *Options          `json:"options,omitempty"`
	MaxOutputTokens int           `json:"maxOutputTokens,omitempty"`

	// PreviousResponseID correlates this request with a prior response for
	// providers that manage reasoning state out-of-band (spec.md §6 table,
	// openai row).
	PreviousResponseID string `json:"previousResponseId,omitempty"`
}

// GenerateResponse is the non-streaming counterpart of GenerateRequest.
type GenerateResponse struct {
	Text  string `json:"text,omitempty"`
	Usage *Usage `json:"usage,omitempty"`
}

// Usage is the provider-reported token accounting (spec.md §4.4 "Natural
// completion" step 1).
type Usage struct {
	InputTokens         int            `json:"inputTokens"`
	OutputTokens        int            `json:"outputTokens"`
	CachedInputTokens   int            `json:"cachedInputTokens,omitempty"`
	ReasoningTokens     *int           `json:"reasoningTokens,omitempty"`
	ProviderMetadata    map[string]any `json:"providerMetadata,omitempty"`
}

// Options carries per-request generation parameters.
type Options struct {
	Stream            bool      `json:"stream,omitempty"`
	Temperature       float64   `json:"temperature,omitempty"`
	Thinking          *Thinking `json:"thinking,omitempty"`
	ParallelToolCalls bool      `json:"parallelToolCalls,omitempty"`
}

// Thinking configures a reasoning/thinking budget.
type Thinking struct {
	Level        string `json:"level,omitempty"`
	BudgetTokens int    `json:"budgetTokens,omitempty"`
}
