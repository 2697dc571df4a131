// Package normalizer implements C3 of spec.md: the pure, ordered
// transforms that turn a workspace's history into a provider-ready
// message sequence. Grounded on genai/memory/policy.go's Policy /
// CombinedPolicy composition (apply each transform in sequence, thread
// the error) generalized from []memory.Message to the two-stage
// message -> provider-message pipeline spec.md §4.3 describes.
package normalizer

import (
	"fmt"
	"strings"

	"github.com/cmux/streamengine/llm"
	"github.com/cmux/streamengine/message"
	"github.com/cmux/streamengine/providerconfig"
)

// MessageStep transforms a message sequence, mirroring policy.Policy's
// Apply shape.
type MessageStep func([]message.Message) ([]message.Message, error)

// ProviderStep transforms a provider-message sequence.
type ProviderStep func([]llm.ProviderMessage) ([]llm.ProviderMessage, error)

// Pipeline runs the message-level steps (spec.md §4.3 steps 1-3),
// converts to provider-message representation (step 4), then runs the
// provider-level steps (steps 5-8), exactly mirroring
// CombinedPolicy's "apply each, thread the result" shape but split
// across the representation change the spec requires mid-pipeline.
type Pipeline struct {
	messageSteps  []MessageStep
	convert       func([]message.Message) []llm.ProviderMessage
	providerSteps []ProviderStep
}

// New builds the canonical eight-step pipeline for the given provider
// entry (spec.md §6 behavioral table row).
func New(entry providerconfig.Entry) *Pipeline {
	p := &Pipeline{
		messageSteps: []MessageStep{
			FilterEmptyAssistants,
		},
	}
	if entry.StripReasoning {
		p.messageSteps = append(p.messageSteps, StripReasoning)
	}
	p.messageSteps = append(p.messageSteps, InjectInterruptionSentinels)
	p.convert = ToProviderMessages
	if entry.Strict {
		p.providerSteps = append(p.providerSteps, SplitMixedContent)
	}
	p.providerSteps = append(p.providerSteps, MergeConsecutiveSameRole)
	if entry.CacheHints {
		p.providerSteps = append(p.providerSteps, ApplyCacheHints)
	}
	if entry.Strict {
		p.providerSteps = append(p.providerSteps, Validate)
	}
	return p
}

// Run applies every step in order and returns the provider-ready
// message sequence. A validation failure (step 8) is returned as an
// error but spec.md §4.3 directs callers to log and continue rather
// than abort the stream, so aiservice treats this return value as
// advisory, not fatal.
func (p *Pipeline) Run(history []message.Message) ([]llm.ProviderMessage, error) {
	msgs := cloneMessages(history)
	var err error
	for _, step := range p.messageSteps {
		msgs, err = step(msgs)
		if err != nil {
			return nil, err
		}
	}

	out := p.convert(msgs)
	for _, step := range p.providerSteps {
		out, err = step(out)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

func cloneMessages(in []message.Message) []message.Message {
	out := make([]message.Message, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}

// FilterEmptyAssistants is step 1.
func FilterEmptyAssistants(in []message.Message) ([]message.Message, error) {
	out := make([]message.Message, 0, len(in))
	for _, m := range in {
		if m.IsEmptyAssistant() {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// StripReasoning is step 2, applied only for providers whose table entry
// sets StripReasoning (spec.md §6, openai row).
func StripReasoning(in []message.Message) ([]message.Message, error) {
	out := make([]message.Message, len(in))
	for i, m := range in {
		parts := make([]message.Part, 0, len(m.Parts))
		for _, p := range m.Parts {
			if p.Kind == message.PartReasoning {
				continue
			}
			parts = append(parts, p)
		}
		m.Parts = parts
		out[i] = m
	}
	return out, nil
}

// InjectInterruptionSentinels is step 3: after every partial assistant
// message, insert a synthetic user "[INTERRUPTED]" message.
func InjectInterruptionSentinels(in []message.Message) ([]message.Message, error) {
	out := make([]message.Message, 0, len(in)+1)
	for _, m := range in {
		out = append(out, m)
		if m.Role == message.RoleAssistant && m.Metadata.Partial {
			out = append(out, message.NewInterruptionSentinel())
		}
	}
	return out, nil
}

// MergeConsecutiveSameRole is step 6, run after the provider-message
// conversion (and any strict-provider splitting) per spec.md §4.3's
// listed step order: filtering empty assistants or injecting sentinels
// upstream can leave two consecutive text-only user messages, which this
// step concatenates with a single newline.
func MergeConsecutiveSameRole(in []llm.ProviderMessage) ([]llm.ProviderMessage, error) {
	out := make([]llm.ProviderMessage, 0, len(in))
	for _, m := range in {
		if n := len(out); n > 0 && out[n-1].Role == m.Role && isTextOnly(out[n-1]) && isTextOnly(m) {
			out[n-1].Text = out[n-1].Text + "\n" + m.Text
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func isTextOnly(m llm.ProviderMessage) bool {
	return len(m.ToolCalls) == 0 && m.ToolResult == nil && m.ToolCallID == ""
}

// ToProviderMessages is step 4: convert each DynamicTool part into a
// provider tool-call (assistant side) or tool-result (a following
// tool-role message).
func ToProviderMessages(in []message.Message) []llm.ProviderMessage {
	out := make([]llm.ProviderMessage, 0, len(in))
	for _, m := range in {
		role := providerRole(m.Role)
		var text strings.Builder
		var calls []llm.ToolCall
		var results []llm.ProviderMessage

		for _, p := range m.Parts {
			switch p.Kind {
			case message.PartText:
				if text.Len() > 0 {
					text.WriteString("\n")
				}
				text.WriteString(p.Text)
			case message.PartReasoning:
				// already stripped for providers that need it; otherwise
				// reasoning parts pass through as plain text in history.
				if text.Len() > 0 {
					text.WriteString("\n")
				}
				text.WriteString(p.Text)
			case message.PartDynamicTool:
				calls = append(calls, llm.ToolCall{
					ID:        p.ToolCallID,
					Name:      p.ToolName,
					Arguments: p.Input,
				})
				if p.State == message.ToolOutputAvailable {
					results = append(results, llm.ProviderMessage{
						Role:       llm.RoleTool,
						ToolCallID: p.ToolCallID,
						ToolResult: p.Output,
					})
				}
			}
		}

		out = append(out, llm.ProviderMessage{
			Role:      role,
			Text:      text.String(),
			ToolCalls: calls,
		})
		out = append(out, results...)
	}
	return out
}

func providerRole(r message.Role) llm.MessageRole {
	switch r {
	case message.RoleAssistant:
		return llm.RoleAssistant
	default:
		return llm.RoleUser
	}
}

// SplitMixedContent is step 5, applied only for strict providers. It
// splits an assistant entry carrying both text and tool calls into
// text-only then tool-calls-with-results entries, and drops any tool
// call lacking a matching result (an interrupted call).
func SplitMixedContent(in []llm.ProviderMessage) ([]llm.ProviderMessage, error) {
	out := make([]llm.ProviderMessage, 0, len(in))
	for i := 0; i < len(in); i++ {
		m := in[i]
		if m.Role != llm.RoleAssistant || len(m.ToolCalls) == 0 {
			out = append(out, m)
			continue
		}

		// Collect the tool-role results immediately following this
		// message (ToProviderMessages already emits them contiguously).
		resultsByID := make(map[string]llm.ProviderMessage)
		j := i + 1
		for j < len(in) && in[j].Role == llm.RoleTool {
			resultsByID[in[j].ToolCallID] = in[j]
			j++
		}

		if m.Text != "" {
			out = append(out, llm.ProviderMessage{Role: llm.RoleAssistant, Text: m.Text})
		}

		var complete []llm.ToolCall
		var results []llm.ProviderMessage
		for _, tc := range m.ToolCalls {
			if r, ok := resultsByID[tc.ID]; ok {
				complete = append(complete, tc)
				results = append(results, r)
			}
		}
		if len(complete) > 0 {
			out = append(out, llm.ProviderMessage{Role: llm.RoleAssistant, ToolCalls: complete})
			out = append(out, results...)
		}

		i = j - 1
	}
	return out, nil
}

// ApplyCacheHints is step 7: mark the last message boundary with a
// cache breakpoint. Spec.md leaves the per-provider rule out of scope
// beyond "the engine must call the hook"; this implementation hints the
// single last message, the only boundary every supported provider's
// semantics agree on.
func ApplyCacheHints(in []llm.ProviderMessage) ([]llm.ProviderMessage, error) {
	if len(in) == 0 {
		return in, nil
	}
	in[len(in)-1].CacheBreak = true
	return in, nil
}

// Validate is step 8, applied only for strict providers: every tool-call
// must have exactly one tool-result in the immediately following
// tool-role message, and no tool-result may be dangling.
func Validate(in []llm.ProviderMessage) ([]llm.ProviderMessage, error) {
	for i, m := range in {
		if m.Role != llm.RoleAssistant || len(m.ToolCalls) == 0 {
			continue
		}
		want := make(map[string]bool, len(m.ToolCalls))
		for _, tc := range m.ToolCalls {
			want[tc.ID] = true
		}
		got := make(map[string]int, len(m.ToolCalls))
		for j := i + 1; j < len(in) && in[j].Role == llm.RoleTool; j++ {
			if !want[in[j].ToolCallID] {
				return in, fmt.Errorf("normalizer: dangling tool result %s", in[j].ToolCallID)
			}
			got[in[j].ToolCallID]++
		}
		for id := range want {
			if got[id] == 0 {
				return in, fmt.Errorf("normalizer: tool call %s has no matching result", id)
			}
			if got[id] > 1 {
				return in, fmt.Errorf("normalizer: tool call %s has %d results", id, got[id])
			}
		}
	}
	for i, m := range in {
		if m.Role != llm.RoleTool {
			continue
		}
		prevCalls := i > 0 && in[i-1].Role == llm.RoleAssistant && len(in[i-1].ToolCalls) > 0
		if i == 0 || !prevCalls && in[i-1].Role != llm.RoleTool {
			return in, fmt.Errorf("normalizer: dangling tool result %s", m.ToolCallID)
		}
	}
	return in, nil
}
