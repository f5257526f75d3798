// Package types provides the shared data model for the conversation core:
// sessions, turns, partials, gate state, media references, and fingerprints.
package types

// Audience identifies who is on the other end of the encounter.
type Audience string

const (
	AudienceStudent Audience = "student"
	AudienceFaculty Audience = "faculty"
)

// Role identifies the speaker of a Turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Channel identifies which wire stream produced a Turn's winning final.
type Channel string

const (
	ChannelAudio Channel = "audio"
	ChannelText  Channel = "text"
)

// Session is created by the HTTP service and owned exclusively by the
// controller for its lifetime: from a successful start() to stop() or an
// unrecoverable error. Exactly one active session exists per controller
// instance.
type Session struct {
	SessionID         string   `json:"sessionId"`
	PersonaID         string   `json:"personaId"`
	ScenarioID        string   `json:"scenarioId"`
	Audience          Audience `json:"audience"`
	RealtimeSessionID string   `json:"realtimeSessionId,omitempty"`
	Status            string   `json:"status"`
	CreatedAtMs       int64    `json:"createdAtMs"`
}

// Turn is a unit of conversational exchange.
type Turn struct {
	ItemID        string  `json:"itemId,omitempty"`
	Role          Role    `json:"role"`
	Text          string  `json:"text"`
	Channel       Channel `json:"channel,omitempty"`
	IsFinal       bool    `json:"isFinal"`
	StartedAtMs   int64   `json:"startedAtMs"`
	EmittedAtMs   int64   `json:"emittedAtMs"`
	FinalizedAtMs int64   `json:"finalizedAtMs,omitempty"`
	Media         *Media  `json:"media,omitempty"`
}

// Partial is a running best-guess transcript for an in-progress turn. At
// most one user partial and one assistant partial exist at any moment.
type Partial struct {
	Role        Role   `json:"role"`
	ItemID      string `json:"itemId,omitempty"`
	Text        string `json:"text"`
	StartedAtMs int64  `json:"startedAtMs"`
	EmittedAtMs int64  `json:"emittedAtMs"`
}

// MediaType enumerates the kinds of media an assistant turn may cite.
type MediaType string

const (
	MediaImage     MediaType = "image"
	MediaVideo     MediaType = "video"
	MediaAnimation MediaType = "animation"
	MediaYouTube   MediaType = "youtube"
)

// Media is a structured citation the assistant may embed in its transcript
// as `[[MEDIA:<id>]]`.
type Media struct {
	ID          string    `json:"id"`
	Type        MediaType `json:"type"`
	URL         string    `json:"url,omitempty"`
	Thumbnail   string    `json:"thumbnail,omitempty"`
	Caption     string    `json:"caption,omitempty"`
	AnimationID string    `json:"animationId,omitempty"`
}

// GateState is the boolean/int condition set the assistant must satisfy
// during an encounter. The six named fields are carried structurally;
// additional keys round-trip only when nested under the "extra" object.
// Other top-level keys are dropped when a gate state is decoded.
type GateState struct {
	GreetingDone        bool           `json:"greeting_done"`
	IntroDone           bool           `json:"intro_done"`
	ConsentDone         bool           `json:"consent_done"`
	IdentityVerified    bool           `json:"identity_verified"`
	LockedPressureCount int            `json:"locked_pressure_count"`
	SupervisorEscalated bool           `json:"supervisor_escalated"`
	Extra               map[string]any `json:"extra,omitempty"`
}

// Fingerprint is a deterministic dedupe key over (sessionId, role,
// roundedTimestamp, normalizedText), used to reject duplicate turns when a
// client falls back to direct emission after a socket hiccup.
type Fingerprint string
