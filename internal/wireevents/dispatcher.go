package wireevents

import (
	"encoding/json"
	"log/slog"
)

// RawListener is called with every message before classification, for
// logging or replay. It must not block.
type RawListener func(Envelope)

// Handlers groups the per-family callbacks the Dispatcher routes to. A nil
// handler silently drops messages for that family.
type Handlers struct {
	OnSession          func(Envelope)
	OnSpeech           func(Envelope)
	OnTranscription    func(Envelope)
	OnAssistant        func(Envelope)
	OnConversationItem func(Envelope)
	OnError            func(Envelope)
	OnUnknown          func(Envelope)

	// OnDebug receives a debug tap for every dispatched message (kind
	// "error" when the type word contains error/warning, else "event"),
	// mirroring spec.md §4.5's "dispatcher also emits a debug event for
	// every message".
	OnDebug func(kind string, envelope Envelope)
}

// Dispatcher parses and classifies data-channel messages and routes them to
// the configured per-family handlers, generalizing the teacher's
// processEvents type switch in livetranslate/openai/service.go into an
// explicit family-routing table.
type Dispatcher struct {
	handlers    Handlers
	rawListener RawListener
}

// New creates a Dispatcher with the given handlers.
func New(h Handlers) *Dispatcher {
	return &Dispatcher{handlers: h}
}

// SetRawListener installs an optional listener invoked with every message
// before classification, per spec.md §4.5.
func (d *Dispatcher) SetRawListener(fn RawListener) {
	d.rawListener = fn
}

// Dispatch parses data as JSON and routes it. Malformed JSON is a
// structural error per spec.md §7: it is logged and dropped, never panics
// or propagates.
func (d *Dispatcher) Dispatch(data []byte) {
	env, err := Parse(data)
	if err != nil {
		slog.Warn("wireevents: malformed message dropped", "error", err)
		if d.handlers.OnDebug != nil {
			d.handlers.OnDebug("error", Envelope{Raw: json.RawMessage(data)})
		}
		return
	}

	if d.rawListener != nil {
		d.rawListener(env)
	}

	family := Classify(env.Type)

	if d.handlers.OnDebug != nil {
		kind := "event"
		if family == FamilyError {
			kind = "error"
		}
		d.handlers.OnDebug(kind, env)
	}

	switch family {
	case FamilySession:
		call(d.handlers.OnSession, env)
	case FamilySpeech:
		call(d.handlers.OnSpeech, env)
	case FamilyTranscription:
		call(d.handlers.OnTranscription, env)
	case FamilyAssistant:
		call(d.handlers.OnAssistant, env)
	case FamilyConversationItem:
		call(d.handlers.OnConversationItem, env)
	case FamilyError:
		call(d.handlers.OnError, env)
	default:
		call(d.handlers.OnUnknown, env)
		slog.Debug("wireevents: unknown type", "type", env.Type)
	}
}

func call(fn func(Envelope), env Envelope) {
	if fn != nil {
		fn(env)
	}
}
