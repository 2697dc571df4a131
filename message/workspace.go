package message

import "time"

// WorkspaceMeta is the workspace descriptor persisted as metadata.json
// (spec.md §6), grounded on the teacher's memory.ConversationMeta.
type WorkspaceMeta struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Name      string    `json:"name,omitempty"`
	Project   string    `json:"project,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
