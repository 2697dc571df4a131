package llm

import "context"

// Tokenizer is the external collaborator spec.md §1 carves out: "the engine
// only calls count_tokens(text) -> usize". Implementation (BPE tables, model
// vocab, etc.) is out of scope.
type Tokenizer interface {
	CountTokens(ctx context.Context, text string) (int, error)
}

// SystemMessageBuilder composes the final system-message string from
// project files, agent configuration, etc. (spec.md §1: "System-message
// composition from project files (engine receives the final string)").
type SystemMessageBuilder interface {
	BuildSystemMessage(ctx context.Context, workspaceID string, additional string) (string, error)
}
