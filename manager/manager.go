// Package manager implements C5 of spec.md: the per-workspace registry
// enforcing "at most one StreamSession per workspace" with atomic
// takeover. Grounded on
// genai/service/core/stream/registry.go's Registry (session map guarded
// by a lock, Register/New/Finish lifecycle) generalized from "one
// handler per opaque stream token" to "one *session.Session per
// workspace, replaceable only by cancelling-then-inserting under one
// critical section." Stop/cancel routing reuses the cancel package,
// itself adapted from genai/conversation/cancel/memory.go.
package manager

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/cmux/streamengine/cancel"
	"github.com/cmux/streamengine/events"
	"github.com/cmux/streamengine/internal/keyedmutex"
	"github.com/cmux/streamengine/llm"
	"github.com/cmux/streamengine/session"
)

type entry struct {
	session *session.Session
	done    chan struct{}
}

// Manager is the C5 StreamManager.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*entry

	// locks serializes StartStream/StopStream per workspace so the
	// "cancel existing, then insert" sequence (spec.md §4.5's atomicity
	// contract) is never interleaved with a concurrent call for the same
	// workspace; distinct workspaces proceed independently.
	locks *keyedmutex.Map

	cancels    *cancel.Registry
	dispatcher *events.Dispatcher
}

// New returns an empty Manager, owning its own event dispatcher
// (spec.md §9 design note: "StreamManager holds an event dispatcher;
// AIService subscribes to it").
func New() *Manager {
	return &Manager{
		sessions:   make(map[string]*entry),
		locks:      keyedmutex.New(),
		cancels:    cancel.NewRegistry(),
		dispatcher: events.NewDispatcher(),
	}
}

// Dispatcher returns the Manager's event dispatcher. Every session
// launched by StartStream publishes to this dispatcher regardless of
// what cfg.Dispatcher was set to.
func (m *Manager) Dispatcher() *events.Dispatcher {
	return m.dispatcher
}

// GenerateStreamToken mints a fresh opaque token, exposed separately so
// callers can pre-provision auxiliary per-stream state (e.g. a tool
// scratch directory) before calling StartStream (spec.md §4.5).
func (m *Manager) GenerateStreamToken() string {
	return uuid.NewString()
}

// StartStream implements spec.md §4.5's atomic sequence: cancel any
// non-terminal session for the workspace and await its completion
// (which includes its final flush and stream-abort emission), then
// construct, register, and launch the new one. Provider stream
// construction (building the llm.PartStream) happens before this call,
// outside any lock, exactly as spec.md requires ("provider stream
// construction itself is not inside the lock").
func (m *Manager) StartStream(ctx context.Context, cfg session.Config, stream llm.PartStream) string {
	m.locks.Lock(cfg.WorkspaceID)
	defer m.locks.Unlock(cfg.WorkspaceID)

	m.cancelSafely(cfg.WorkspaceID)

	token := m.GenerateStreamToken()
	sessCtx, cancelFn := context.WithCancel(ctx)
	cfg.Dispatcher = m.dispatcher
	sess := session.New(cfg)
	e := &entry{session: sess, done: make(chan struct{})}

	m.mu.Lock()
	m.sessions[cfg.WorkspaceID] = e
	m.mu.Unlock()
	m.cancels.Register(cfg.WorkspaceID, cancelFn)

	go func() {
		defer close(e.done)
		_ = sess.Run(sessCtx, stream)

		m.mu.Lock()
		if m.sessions[cfg.WorkspaceID] == e {
			delete(m.sessions, cfg.WorkspaceID)
		}
		m.mu.Unlock()
		m.cancels.Clear(cfg.WorkspaceID)
	}()

	return token
}

// cancelSafely cancels and awaits the workspace's current session, if
// any (spec.md §4.5 "cancel_safely"). Must be called while holding
// m.locks for workspaceID. The actual cancellation is routed through
// cancels (cancel.Registry), which owns the workspace's sole
// context.CancelFunc; the entry itself only tracks the done channel
// used to await the session goroutine's exit.
func (m *Manager) cancelSafely(workspaceID string) {
	m.mu.Lock()
	e, ok := m.sessions[workspaceID]
	m.mu.Unlock()
	if !ok {
		return
	}
	m.cancels.Cancel(workspaceID)
	<-e.done
}

// StopStream idempotently cancels the workspace's active session, if
// any.
func (m *Manager) StopStream(workspaceID string) {
	m.locks.Lock(workspaceID)
	defer m.locks.Unlock(workspaceID)
	m.cancelSafely(workspaceID)
}

// GetStreamState returns the workspace's session state, or StateIdle if
// none is active.
func (m *Manager) GetStreamState(workspaceID string) session.State {
	m.mu.Lock()
	e, ok := m.sessions[workspaceID]
	m.mu.Unlock()
	if !ok {
		return StateIdle
	}
	return e.session.State()
}

// IsStreaming reports whether the workspace has a session in Starting or
// Streaming.
func (m *Manager) IsStreaming(workspaceID string) bool {
	st := m.GetStreamState(workspaceID)
	return st == session.StateStarting || st == session.StateStreaming
}

// StateIdle extends session.State with the "no active session" case,
// which session.Session itself never represents (it only exists once
// constructed, already past Idle).
const StateIdle session.State = -1
