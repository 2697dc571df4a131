// Package llm declares the interfaces the workspace stream engine expects
// from its upstream collaborators: the provider model, the part-stream it
// yields, the tool and tokenizer contracts, and model preference/resolution
// helpers. None of these are implemented here — spec.md §1 places the actual
// provider SDKs, transport, and model selection heuristics out of scope; this
// package exists only so the engine can be compiled and tested against the
// interface, matching the teacher's genai/llm package split between generic
// contracts (this package) and concrete providers (out of scope, deleted).
package llm

import "context"

// Model is the minimal non-streaming contract a resolved provider model must
// satisfy.
type Model interface {
	Generate(ctx context.Context, request *GenerateRequest) (*GenerateResponse, error)
	// Implements reports whether the model supports a named optional
	// capability, e.g. "continuation-by-response-id".
	Implements(feature string) bool
}

// StreamingModel is the optional streaming capability a Model may provide.
type StreamingModel interface {
	Stream(ctx context.Context, request *GenerateRequest) (PartStream, error)
}

// BackoffAdvisor lets a provider recommend a retry delay for a failed
// stream-start attempt. aiservice does not consult it (StreamMessage starts
// the stream once); it is available to callers that retry on top of
// StreamMessage. Providers without special knowledge simply don't implement it.
type BackoffAdvisor interface {
	AdviseBackoff(err error, attempt int) (delay int64, retry bool)
}

// Finder resolves a bare model id (already split from its provider prefix)
// to a Model.
type Finder interface {
	Find(ctx context.Context, id string) (Model, error)
}

// Matcher picks the best model id for a set of preferences.
type Matcher interface {
	Best(preferences *ModelPreferences) string
}
