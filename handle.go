package voicecore

import (
	"github.com/opensps/voicecore/internal/session"
	"github.com/opensps/voicecore/internal/types"
	"github.com/opensps/voicecore/internal/vad"
)

// Handle is the read-mostly snapshot the UI is allowed to see, per
// spec.md §6.4. The controller is the sole owner of every live resource
// (peer connection, data channel, mic stream, socket); callers only ever
// observe a Handle, taken on demand by Controller.Snapshot.
type Handle struct {
	Status  session.Status
	Error   string

	SessionID string

	UserPartial      string
	AssistantPartial string

	MicLevel  float64
	MicPaused bool

	// MicStreamActive/PeerConnectionActive report whether the controller
	// currently owns a live mic stream / peer connection, standing in for
	// the browser object handles spec.md's original micStream/
	// peerConnection properties expose to the UI.
	MicStreamActive      bool
	PeerConnectionActive bool

	EncounterPhase  string
	EncounterGate   types.GateState
	OutstandingGate []string

	Adaptive AdaptiveSnapshot
}

// AdaptiveSnapshot mirrors the current VAD category and recommendation,
// exposed to the UI for diagnostics.
type AdaptiveSnapshot struct {
	Category       vad.Category
	Recommendation vad.Recommendation
}
