// Package emitter implements the two parallel event fan-outs the
// conversation core exposes to the UI: conversation events (status,
// partials, transcripts, mic level, ...) and finer-grained debug events with
// a bounded replay backlog.
package emitter

import (
	"log/slog"
	"sync"
)

// DefaultDebugBacklog is the default size of the debug ring buffer.
const DefaultDebugBacklog = 500

// ConversationEvent is delivered synchronously to all conversation
// listeners, in registration order, with per-subscriber error isolation.
type ConversationEvent struct {
	Type string
	Data any
}

// DebugKind classifies a DebugEvent.
type DebugKind string

const (
	DebugInfo  DebugKind = "info"
	DebugWarn  DebugKind = "warn"
	DebugError DebugKind = "error"
	DebugEvent DebugKind = "event"
)

// DebugEvent is a finer-grained diagnostic event.
type DebugEvent struct {
	Kind DebugKind
	Msg  string
	Data any
}

// ConversationListener receives conversation events. A panic inside a
// listener is recovered and logged; it never prevents delivery to the
// remaining listeners.
type ConversationListener func(ConversationEvent)

// DebugListener receives debug events.
type DebugListener func(DebugEvent)

// Emitter owns both fan-outs and the debug ring buffer.
type Emitter struct {
	mu sync.Mutex

	convListeners []ConversationListener

	debugEnabled   bool
	debugListeners []DebugListener
	ring           []DebugEvent
	ringCap        int
	ringNext       int
	ringLen        int
}

// New creates an Emitter with the given debug ring buffer capacity. A
// capacity of 0 uses DefaultDebugBacklog.
func New(ringCap int) *Emitter {
	if ringCap <= 0 {
		ringCap = DefaultDebugBacklog
	}
	return &Emitter{
		ring:    make([]DebugEvent, ringCap),
		ringCap: ringCap,
	}
}

// AddConversationListener registers cb and returns an unsubscribe func.
func (e *Emitter) AddConversationListener(cb ConversationListener) func() {
	e.mu.Lock()
	e.convListeners = append(e.convListeners, cb)
	idx := len(e.convListeners) - 1
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if idx < len(e.convListeners) {
			e.convListeners[idx] = nil
		}
	}
}

// EmitConversation delivers ev synchronously to every registered listener.
func (e *Emitter) EmitConversation(ev ConversationEvent) {
	e.mu.Lock()
	listeners := make([]ConversationListener, len(e.convListeners))
	copy(listeners, e.convListeners)
	e.mu.Unlock()

	for _, cb := range listeners {
		if cb == nil {
			continue
		}
		invokeConversation(cb, ev)
	}
}

func invokeConversation(cb ConversationListener, ev ConversationEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("conversation listener panicked", "recovered", r, "event", ev.Type)
		}
	}()
	cb(ev)
}

// AddDebugListener registers cb. If debug is enabled, the ring buffer
// backlog is flushed to cb first (oldest to newest), then a synthetic
// "debug enabled" info event is appended, and only then does cb start
// receiving live events. If debug is disabled, cb still receives nothing
// live, but events continue to be recorded into the ring buffer.
func (e *Emitter) AddDebugListener(cb DebugListener) func() {
	e.mu.Lock()
	backlog := e.snapshotRingLocked()
	enabled := e.debugEnabled
	e.debugListeners = append(e.debugListeners, cb)
	idx := len(e.debugListeners) - 1
	e.mu.Unlock()

	if enabled {
		for _, ev := range backlog {
			invokeDebug(cb, ev)
		}
		invokeDebug(cb, DebugEvent{Kind: DebugInfo, Msg: "debug enabled"})
	}

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if idx < len(e.debugListeners) {
			e.debugListeners[idx] = nil
		}
	}
}

// SetDebugEnabled toggles whether debug events are delivered live (they are
// always recorded into the ring buffer regardless).
func (e *Emitter) SetDebugEnabled(enabled bool) {
	e.mu.Lock()
	e.debugEnabled = enabled
	e.mu.Unlock()
}

// EmitDebug records ev in the ring buffer and, if debug is enabled,
// delivers it live to all registered debug listeners.
func (e *Emitter) EmitDebug(ev DebugEvent) {
	e.mu.Lock()
	e.ring[e.ringNext] = ev
	e.ringNext = (e.ringNext + 1) % e.ringCap
	if e.ringLen < e.ringCap {
		e.ringLen++
	}
	enabled := e.debugEnabled
	listeners := make([]DebugListener, len(e.debugListeners))
	copy(listeners, e.debugListeners)
	e.mu.Unlock()

	if !enabled {
		return
	}
	for _, cb := range listeners {
		if cb == nil {
			continue
		}
		invokeDebug(cb, ev)
	}
}

func invokeDebug(cb DebugListener, ev DebugEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("debug listener panicked", "recovered", r)
		}
	}()
	cb(ev)
}

// snapshotRingLocked returns backlog events oldest-first. Callers must hold e.mu.
func (e *Emitter) snapshotRingLocked() []DebugEvent {
	out := make([]DebugEvent, 0, e.ringLen)
	start := (e.ringNext - e.ringLen + e.ringCap) % e.ringCap
	for i := 0; i < e.ringLen; i++ {
		out = append(out, e.ring[(start+i)%e.ringCap])
	}
	return out
}

// ConversationListenerCount reports the number of live (non-unsubscribed)
// conversation listeners, for diagnostics.
func (e *Emitter) ConversationListenerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, cb := range e.convListeners {
		if cb != nil {
			n++
		}
	}
	return n
}

// DebugListenerCount reports the number of live debug listeners.
func (e *Emitter) DebugListenerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, cb := range e.debugListeners {
		if cb != nil {
			n++
		}
	}
	return n
}
