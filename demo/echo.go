// Package demo provides a self-contained, in-memory llm.Model used by
// cmd/streamdemo so the engine can be exercised end-to-end without a real
// provider SDK (spec.md §1 explicitly places provider transport out of
// scope for this module).
package demo

import (
	"context"
	"errors"
	"fmt"

	"github.com/cmux/streamengine/llm"
)

// EchoResolver resolves any "provider:model-id" string to an EchoModel,
// letting streamdemo exercise the full aiservice.StreamMessage path
// without wiring a real provider.
type EchoResolver struct{}

// NewEchoResolver returns a resolver that always succeeds with an
// EchoModel.
func NewEchoResolver() *EchoResolver { return &EchoResolver{} }

// Resolve implements aiservice.ProviderResolver.
func (r *EchoResolver) Resolve(_ context.Context, provider, modelID string) (llm.Model, error) {
	return &EchoModel{provider: provider, modelID: modelID}, nil
}

// EchoModel streams its request's last user message back in fixed-size
// chunks, simulating incremental token generation.
type EchoModel struct {
	provider string
	modelID  string
}

// Implements reports no optional capabilities.
func (m *EchoModel) Implements(string) bool { return false }

// Generate is unused by streamdemo (it always streams) but required to
// satisfy llm.Model.
func (m *EchoModel) Generate(context.Context, *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	return nil, errors.New("demo: non-streaming generate not supported")
}

// Stream implements llm.StreamingModel, echoing the last user message's
// text back in two-character chunks followed by natural completion.
func (m *EchoModel) Stream(_ context.Context, req *llm.GenerateRequest) (llm.PartStream, error) {
	text := lastUserText(req)
	if text == "" {
		text = fmt.Sprintf("(%s/%s heard nothing)", m.provider, m.modelID)
	}
	return newChunkStream(text), nil
}

func lastUserText(req *llm.GenerateRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == llm.RoleUser {
			return req.Messages[i].Text
		}
	}
	return ""
}

// chunkStream is a minimal llm.PartStream implementation that replays a
// fixed string as a sequence of PartTextDelta parts.
type chunkStream struct {
	chunks []string
	i      int
}

func newChunkStream(text string) *chunkStream {
	const size = 2
	var chunks []string
	for i := 0; i < len(text); i += size {
		end := i + size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[i:end])
	}
	return &chunkStream{chunks: chunks}
}

func (c *chunkStream) Next(ctx context.Context) (llm.Part, bool, error) {
	if ctx.Err() != nil {
		return llm.Part{}, false, ctx.Err()
	}
	if c.i >= len(c.chunks) {
		return llm.Part{}, false, nil
	}
	delta := c.chunks[c.i]
	c.i++
	return llm.Part{Kind: llm.PartTextDelta, Delta: delta}, true, nil
}

func (c *chunkStream) Usage() *llm.Usage {
	return &llm.Usage{InputTokens: len(c.chunks), OutputTokens: len(c.chunks)}
}

func (c *chunkStream) ProviderMetadata() map[string]interface{} { return nil }

func (c *chunkStream) Close() error { return nil }
