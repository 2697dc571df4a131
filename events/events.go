// Package events defines the StreamEvent sum type emitted by session and
// manager, and a per-workspace fan-out dispatcher. Grounded on the teacher's
// internal/log.Collector (channel-based pub/sub, non-blocking send,
// drop-if-subscriber-slow) and genai/streaming.Publisher (per-conversation
// subscriber map) — this module replaces the teacher's EventEmitter-style
// "many named events" with one typed, exhaustively-matchable sum type, per
// spec.md §9's design note.
package events

import (
	"sort"
	"sync"

	"github.com/cmux/streamengine/message"
)

// Kind enumerates the event variants of spec.md §6.
type Kind string

const (
	KindStreamStart    Kind = "stream-start"
	KindStreamDelta    Kind = "stream-delta"
	KindReasoningDelta Kind = "reasoning-delta"
	KindReasoningEnd   Kind = "reasoning-end"
	KindToolCallStart  Kind = "tool-call-start"
	KindToolCallEnd    Kind = "tool-call-end"
	KindStreamEnd      Kind = "stream-end"
	KindStreamAbort    Kind = "stream-abort"
	KindError          Kind = "error"
)

// Event is the single struct delivered for every Kind; fields not relevant
// to a given Kind are left zero. Consumers switch on Kind and read the
// matching fields, mirroring the teacher's discriminated Info struct
// (genai/modelcallctx/buffer.go).
type Event struct {
	Kind            Kind
	WorkspaceID     string
	MessageID       string
	Model           string
	HistorySequence uint64

	Delta string

	ToolCallID string
	ToolName   string
	Input      map[string]interface{}
	Output     map[string]interface{}

	Parts    []message.Part
	Metadata message.Metadata

	Error     string
	ErrorType message.ErrorType
}

// Handler receives one Event at a time, in emission order.
type Handler func(Event)

// Dispatcher fans out events to per-workspace subscribers, grounded on
// streaming.Publisher's per-conversation channel map.
type Dispatcher struct {
	mu   sync.RWMutex
	subs map[string]map[int]Handler
	next int
}

// NewDispatcher returns an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{subs: make(map[string]map[int]Handler)}
}

// Subscribe registers h for every event on workspaceID and returns an
// unsubscribe function.
func (d *Dispatcher) Subscribe(workspaceID string, h Handler) (cancel func()) {
	d.mu.Lock()
	if d.subs[workspaceID] == nil {
		d.subs[workspaceID] = make(map[int]Handler)
	}
	id := d.next
	d.next++
	d.subs[workspaceID][id] = h
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if subs, ok := d.subs[workspaceID]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(d.subs, workspaceID)
			}
		}
	}
}

// Publish delivers ev to every subscriber of ev.WorkspaceID, synchronously
// and in registration order. Handlers must not block significantly; the
// engine does not buffer or drop events (unlike the teacher's best-effort
// channel fan-out) because lifecycle events must be observed in order by
// aiservice (stream-abort must be seen before the next stream-start,
// spec.md §5).
func (d *Dispatcher) Publish(ev Event) {
	d.mu.RLock()
	ids := make([]int, 0, len(d.subs[ev.WorkspaceID]))
	for id := range d.subs[ev.WorkspaceID] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, d.subs[ev.WorkspaceID][id])
	}
	d.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}
