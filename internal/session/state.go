// Package session implements the Session State Manager: a small status FSM
// plus the ack-gating booleans the Connection Orchestrator and Instruction
// Syncer consult before sending on the data channel.
package session

import "sync"

// Status is one of the four session states.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	StatusError      Status = "error"
)

// Change is delivered to status listeners.
type Change struct {
	Status Status
	Error  string
}

// Listener receives a Change. Per spec.md §4.4 it is called synchronously
// with the current state immediately upon subscription ("receive the
// current state synchronously on subscribe").
type Listener func(Change)

// Manager owns the status FSM and the ack-gating flags, grounded on the
// teacher's mutex-guarded append-only callback slice idiom (formerly
// audiocapture.Capture's onAudio list, now folded into a single-consumer
// callback per internal/audiostream.MicSource).
type Manager struct {
	mu sync.Mutex

	status Status
	errMsg string

	awaitingSessionAck bool
	sessionReady       bool
	fullyReady         bool

	listeners []Listener
}

// New creates a Manager in the idle state.
func New() *Manager {
	return &Manager{status: StatusIdle}
}

// OnStatusChange registers cb, which is invoked immediately with the
// current state, then again on every subsequent transition.
func (m *Manager) OnStatusChange(cb Listener) func() {
	m.mu.Lock()
	current := Change{Status: m.status, Error: m.errMsg}
	m.listeners = append(m.listeners, cb)
	idx := len(m.listeners) - 1
	m.mu.Unlock()

	cb(current)

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if idx < len(m.listeners) {
			m.listeners[idx] = nil
		}
	}
}

// validTransitions enumerates the FSM edges from spec.md §4.4.
var validTransitions = map[Status]map[Status]bool{
	StatusIdle:       {StatusConnecting: true},
	StatusConnecting: {StatusConnected: true, StatusError: true, StatusIdle: true},
	StatusConnected:  {StatusError: true, StatusIdle: true},
	StatusError:      {StatusIdle: true},
}

// Transition moves to next if the edge is valid; returns false (no-op) on
// an invalid edge.
func (m *Manager) Transition(next Status, errMsg string) bool {
	m.mu.Lock()
	if !validTransitions[m.status][next] {
		m.mu.Unlock()
		return false
	}
	m.status = next
	m.errMsg = errMsg
	if next != StatusConnected {
		m.sessionReady = false
		m.fullyReady = false
	}
	if next == StatusIdle {
		m.awaitingSessionAck = false
	}
	listeners := m.snapshotListenersLocked()
	change := Change{Status: next, Error: errMsg}
	m.mu.Unlock()

	for _, cb := range listeners {
		cb(change)
	}
	return true
}

func (m *Manager) snapshotListenersLocked() []Listener {
	out := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}

// Status returns the current status and error (if any).
func (m *Manager) Status() (Status, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, m.errMsg
}

// SetAwaitingSessionAck marks that outgoing session.update payloads must be
// queued until the ack arrives or the ack timer fires.
func (m *Manager) SetAwaitingSessionAck(v bool) {
	m.mu.Lock()
	m.awaitingSessionAck = v
	m.mu.Unlock()
}

// AwaitingSessionAck reports whether outgoing updates should be queued.
func (m *Manager) AwaitingSessionAck() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.awaitingSessionAck
}

// MarkSessionAck records that session.updated (or the ack timeout) has been
// observed; sessionReady becomes true.
func (m *Manager) MarkSessionAck() {
	m.mu.Lock()
	m.sessionReady = true
	m.awaitingSessionAck = false
	m.mu.Unlock()
}

// MarkRoundtripSucceeded records that at least one roundtrip has succeeded
// since the ack; fullyReady becomes true once sessionReady is also true.
func (m *Manager) MarkRoundtripSucceeded() {
	m.mu.Lock()
	if m.sessionReady {
		m.fullyReady = true
	}
	m.mu.Unlock()
}

// SessionReady reports whether the server ack has been received.
func (m *Manager) SessionReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionReady
}

// FullyReady reports whether the ack has arrived and at least one roundtrip
// has succeeded.
func (m *Manager) FullyReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fullyReady
}
