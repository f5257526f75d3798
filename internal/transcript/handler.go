package transcript

import (
	"github.com/opensps/voicecore/internal/fingerprint"
	"github.com/opensps/voicecore/internal/types"
)

// Relay is the narrow backend-relay seam the Handler needs: relaying a
// final turn to the HTTP/socket backend so it can be broadcast back to all
// tabs as the canonical event (spec.md §4.6 "backend mode").
type Relay interface {
	RelayTranscript(t types.Turn) error
	// IsHealthy reports whether the relay path is currently usable; when
	// false the Handler operates in fallback mode regardless of
	// backendModeEnabled.
	IsHealthy() bool
}

// HandlerCallbacks are the local emission points the Handler drives.
type HandlerCallbacks struct {
	EmitPartial func(types.Partial)
	EmitFinal   func(types.Turn)
	EmitDebug   func(kind, msg string)
}

// Handler is the thin layer atop the Coordinator: it resolves timestamps,
// chooses local-vs-relay emission, and registers locally-emitted finals in
// the dedupe fingerprint set so a later socket replay of the same turn is
// suppressed. Grounded on the teacher's Service.emit (timestamp resolution,
// best-effort channel-send idiom) in livetranslate/openai/service.go.
type Handler struct {
	sessionID          string
	relay              Relay
	cb                 HandlerCallbacks
	backendModeEnabled bool
	dedupe             *fingerprint.Set
}

// NewHandler creates a Handler. backendModeEnabled is the default mode
// selector per spec.md §9 open question 3 (disabled legacy path by
// default means backendModeEnabled=true routes finals to relay).
func NewHandler(sessionID string, relay Relay, cb HandlerCallbacks, backendModeEnabled bool) *Handler {
	return &Handler{
		sessionID:          sessionID,
		relay:              relay,
		cb:                 cb,
		backendModeEnabled: backendModeEnabled,
		dedupe:             fingerprint.NewSet(),
	}
}

// HandlePartial always emits locally; partials never relay (spec.md §4.6:
// "partials still emit locally for responsive typing animation").
func (h *Handler) HandlePartial(p types.Partial) {
	if h.cb.EmitPartial != nil {
		h.cb.EmitPartial(p)
	}
}

// HandleFinal resolves eventTimestamp = startedAtMs ?? emittedAtMs (the
// property the UI orders by), then either relays or emits locally.
func (h *Handler) HandleFinal(t types.Turn) {
	if t.StartedAtMs == 0 {
		t.StartedAtMs = t.EmittedAtMs
	}

	inBackendMode := h.backendModeEnabled && h.relay != nil && h.relay.IsHealthy()

	if inBackendMode {
		if err := h.relay.RelayTranscript(t); err != nil {
			h.debug("warn", "relay failed, falling back to local emission: "+err.Error())
			h.emitLocalWithDedupe(t)
		}
		return
	}

	h.emitLocalWithDedupe(t)
}

func (h *Handler) emitLocalWithDedupe(t types.Turn) {
	fp := fingerprint.Compute(h.sessionID, t.Role, t.StartedAtMs, t.Text)
	h.dedupe.Record(fp)
	if h.cb.EmitFinal != nil {
		h.cb.EmitFinal(t)
	}
}

// HandleRelayedFinal processes a final turn that arrived via the backend
// socket (a live broadcast or part of a catch-up batch). It is suppressed
// if a matching fingerprint was already recorded by a local fallback
// emission within the dedupe window.
func (h *Handler) HandleRelayedFinal(t types.Turn) {
	fp := fingerprint.Compute(h.sessionID, t.Role, t.StartedAtMs, t.Text)
	if h.dedupe.Seen(fp) {
		h.debug("event", "suppressed duplicate relayed final")
		return
	}
	h.dedupe.Record(fp)
	if h.cb.EmitFinal != nil {
		h.cb.EmitFinal(t)
	}
}

func (h *Handler) debug(kind, msg string) {
	if h.cb.EmitDebug != nil {
		h.cb.EmitDebug(kind, msg)
	}
}
