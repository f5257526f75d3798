package voicecore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/opensps/voicecore/internal/audiostream"
	"github.com/opensps/voicecore/internal/backend"
	"github.com/opensps/voicecore/internal/emitter"
	"github.com/opensps/voicecore/internal/instructions"
	"github.com/opensps/voicecore/internal/session"
	"github.com/opensps/voicecore/internal/transcript"
	"github.com/opensps/voicecore/internal/types"
	"github.com/opensps/voicecore/internal/vad"
	"github.com/opensps/voicecore/internal/webrtcmgr"
	"github.com/opensps/voicecore/internal/wireevents"
)

// retryDelays is the Connection Orchestrator's backoff curve for
// transient 5xx on the token/SDP calls, per spec.md §4.1.
var retryDelays = []time.Duration{250 * time.Millisecond, 750 * time.Millisecond, 2 * time.Second}

// Config configures a Controller for one encounter.
type Config struct {
	APIBaseURL string

	PersonaID  string
	ScenarioID string
	Audience   types.Audience

	STTFallbackMs       int64
	STTExtendedMs       int64
	MaxSocketFailures   int
	SessionAckTimeoutMs int
	AdaptiveVADEnabled  bool
	BackendRelayEnabled bool
	DebugRingCapacity   int

	// MicSource supplies microphone samples; the host (browser glue,
	// CLI demo harness, or test fake) provides the concrete
	// implementation since this package has no getUserMedia of its own.
	MicSource audiostream.MicSource
	// RemoteSink receives the remote assistant audio track; may be nil.
	RemoteSink audiostream.RemoteSink
}

// Controller is the Connection Orchestrator: it drives the seven-state
// FSM and exclusively owns the peer connection, data channel, mic stream,
// remote-audio binding, and socket client for the lifetime of one
// encounter (spec.md §4.1, §5 "Shared-resource policy"). Not safe for use
// by more than one instance per tab/process.
type Controller struct {
	cfg Config

	httpClient *backend.HTTPClient
	socket     backend.SocketClient

	epoch epoch

	mu sync.Mutex

	sessionMgr *session.Manager
	em         *emitter.Emitter

	webrtc   *webrtcmgr.Manager
	stream   *audiostream.Stream
	adaptive *vad.Adaptive
	coord    *transcript.Coordinator
	handler  *transcript.Handler
	dispatch *wireevents.Dispatcher
	syncer   *instructions.Syncer

	starting bool

	sessionID       string
	rtcToken        string
	encounterPhase  string
	encounterGate   types.GateState
	outstandingGate []string

	userPartial      string
	assistantPartial string
	micLevel         float64

	pendingVAD     *vad.Recommendation
	ackTimerCancel func()
	queuedUpdates  []sessionUpdatePayload
}

// sessionUpdatePayload is the shape sent on the data channel as
// `{type: "session.update", session: {...}}`.
type sessionUpdatePayload struct {
	Modalities    []string       `json:"modalities,omitempty"`
	Instructions  string         `json:"instructions,omitempty"`
	TurnDetection *turnDetection `json:"turn_detection,omitempty"`
}

type turnDetection struct {
	Threshold float64 `json:"threshold"`
	SilenceMs int     `json:"silence_duration_ms"`
}

// New creates a Controller wired from cfg. The HTTP and socket backends
// are constructed from cfg.APIBaseURL; a custom SocketClient can be
// swapped in afterward via SetSocketClient for tests.
func New(cfg Config) (*Controller, error) {
	if cfg.STTFallbackMs == 0 {
		cfg.STTFallbackMs = transcript.DefaultSTTFallbackMs
	}
	if cfg.STTExtendedMs == 0 {
		cfg.STTExtendedMs = transcript.DefaultSTTExtendedMs
	}
	if cfg.SessionAckTimeoutMs == 0 {
		cfg.SessionAckTimeoutMs = 5000
	}
	if cfg.MaxSocketFailures == 0 {
		cfg.MaxSocketFailures = 3
	}

	socketURL, err := backend.SocketURLFromBase(cfg.APIBaseURL)
	if err != nil {
		return nil, fmt.Errorf("derive socket url: %w", err)
	}

	c := &Controller{
		cfg:        cfg,
		httpClient: backend.NewHTTPClient(cfg.APIBaseURL),
		sessionMgr: session.New(),
		em:         emitter.New(cfg.DebugRingCapacity),
		adaptive:   vad.New(),
	}

	c.socket = backend.NewSocket(socketURL, cfg.MaxSocketFailures, backend.SocketCallbacks{
		OnConnect:     func() { c.debug("info", "socket connected") },
		OnDisconnect:  func(reason string) { c.debug("warn", "socket disconnected: "+reason) },
		OnReconnect:   func() { c.debug("info", "socket reconnected") },
		OnTranscript:  c.onSocketTranscript,
		OnCatchup:     c.onSocketCatchup,
		OnError:       func(e backend.TranscriptError) { c.debug("error", "transcript-error: "+e.Message) },
		OnFailure:     func(err error, attempt int) { c.debug("warn", fmt.Sprintf("socket failure attempt %d: %v", attempt, err)) },
		OnMaxFailures: c.onSocketMaxFailures,
		OnDebug:       c.debug,
	})

	return c, nil
}

// SetSocketClient swaps the socket client, for tests.
func (c *Controller) SetSocketClient(s backend.SocketClient) { c.socket = s }

func (c *Controller) debug(kind, msg string) {
	k := emitter.DebugInfo
	switch kind {
	case "warn":
		k = emitter.DebugWarn
	case "error":
		k = emitter.DebugError
	case "event":
		k = emitter.DebugEvent
	}
	c.em.EmitDebug(emitter.DebugEvent{Kind: k, Msg: msg})
	slog.Debug("voicecore", "kind", kind, "msg", msg)
}

// statusPayload is the Data carried by "status" conversation events.
type statusPayload struct {
	Status session.Status `json:"status"`
	Error  string         `json:"error,omitempty"`
}

func (c *Controller) emitStatus() {
	status, errMsg := c.sessionMgr.Status()
	c.em.EmitConversation(emitter.ConversationEvent{Type: "status", Data: statusPayload{Status: status, Error: errMsg}})
}

// AddConversationListener subscribes to conversation events.
func (c *Controller) AddConversationListener(cb emitter.ConversationListener) func() {
	return c.em.AddConversationListener(cb)
}

// AddEventListener subscribes to debug events (the finer-grained stream).
func (c *Controller) AddEventListener(cb emitter.DebugListener) func() {
	return c.em.AddDebugListener(cb)
}

// Start drives IDLE -> ... -> CONNECTED. Idempotent: calling Start while
// not idle returns already_starting rather than beginning a second
// attempt (spec.md §4.1).
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.starting {
		c.mu.Unlock()
		return &StartError{Kind: ErrAlreadyStarting}
	}
	status, _ := c.sessionMgr.Status()
	if status != session.StatusIdle {
		c.mu.Unlock()
		return &StartError{Kind: ErrAlreadyStarting}
	}
	c.starting = true
	snapshot := c.epoch.current()
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
	}()

	c.sessionMgr.Transition(session.StatusConnecting, "")
	c.emitStatus()
	c.emitProgress("mic", 0)

	if c.epoch.stale(snapshot) {
		return &StartError{Kind: ErrCancelled}
	}
	if c.cfg.MicSource == nil {
		return c.fail(&StartError{Kind: ErrMicDenied, Detail: "no mic source configured"})
	}

	stream, err := audiostream.New(c.cfg.MicSource, nil, c.cfg.RemoteSink, c.onMicLevel)
	if err != nil {
		return c.fail(&StartError{Kind: ErrMicDenied, Detail: err.Error()})
	}
	if err := stream.Start(); err != nil {
		return c.fail(&StartError{Kind: ErrMicDenied, Detail: err.Error()})
	}
	c.mu.Lock()
	c.stream = stream
	c.mu.Unlock()
	c.emitProgress("mic", 20)

	if c.epoch.stale(snapshot) {
		return &StartError{Kind: ErrCancelled}
	}
	created, err := withRetry(ctx, func(ctx context.Context) (backend.CreateSessionResponse, error) {
		return c.httpClient.CreateSession(ctx, backend.CreateSessionRequest{
			PersonaID: c.cfg.PersonaID, ScenarioID: c.cfg.ScenarioID, Mode: "sps",
		})
	})
	if err != nil {
		return c.fail(httpErrorKind(ErrSessionHTTP, extractStatus(err), err.Error()))
	}
	c.mu.Lock()
	c.sessionID = created.SessionID
	c.encounterPhase = created.Phase
	c.encounterGate = created.GateState
	c.mu.Unlock()
	c.emitProgress("session", 40)

	if c.epoch.stale(snapshot) {
		return &StartError{Kind: ErrCancelled}
	}
	token, err := withRetry(ctx, func(ctx context.Context) (backend.MintTokenResponse, error) {
		return c.httpClient.MintToken(ctx, backend.MintTokenRequest{SessionID: c.sessionID})
	})
	if err != nil {
		return c.fail(httpErrorKind(ErrTokenHTTP, extractStatus(err), err.Error()))
	}
	c.mu.Lock()
	c.rtcToken = token.RTCToken
	c.mu.Unlock()
	c.emitProgress("token", 60)

	if c.epoch.stale(snapshot) {
		return &StartError{Kind: ErrCancelled}
	}

	c.buildCollaborators()

	wm := webrtcmgr.New()
	exchanger := sdpExchangerFunc(func(ctx context.Context, offer string) (string, error) {
		return withRetry(ctx, func(ctx context.Context) (string, error) {
			return c.httpClient.ExchangeSDP(ctx, c.sessionID, offer, c.rtcToken)
		})
	})

	dcConfig := webrtcmgr.DataChannelConfig{
		OnOpen:    c.onDataChannelOpen,
		OnMessage: c.dispatch.Dispatch,
		OnError:   c.onDataChannelError,
		OnClose:   c.onDataChannelClose,
	}

	if err := wm.Connect(ctx, exchanger, dcConfig, c.onRemoteTrack); err != nil {
		return c.fail(httpErrorKind(ErrSDPHTTP, extractStatus(err), err.Error()))
	}
	c.mu.Lock()
	c.webrtc = wm
	c.stream.SetWriter(wm.AudioTrack())
	c.mu.Unlock()
	c.emitProgress("webrtc", 85)

	if c.epoch.stale(snapshot) {
		return &StartError{Kind: ErrCancelled}
	}

	go c.watchICEFailures(wm, snapshot)

	if err := c.socket.Connect(ctx); err != nil {
		c.debug("warn", "socket connect failed, operating in fallback mode: "+err.Error())
	} else {
		c.socket.JoinSession(c.sessionID)
	}

	c.armSessionAckTimer(snapshot)

	c.sessionMgr.Transition(session.StatusConnected, "")
	c.emitStatus()
	c.emitProgress("complete", 100)
	return nil
}

// fail drives the orchestrator through its ERROR state and back to IDLE,
// per spec.md §4.1's "(from any state) -> ERROR -> IDLE" edge, so a
// subsequent Start is always possible after a failed attempt.
func (c *Controller) fail(e *StartError) error {
	c.sessionMgr.Transition(session.StatusError, e.Error())
	c.emitStatus()
	c.teardown()
	c.sessionMgr.Transition(session.StatusIdle, "")
	c.emitStatus()
	return e
}

func (c *Controller) emitProgress(stage string, percent int) {
	c.em.EmitConversation(emitter.ConversationEvent{Type: "status", Data: map[string]any{"stage": stage, "percent": percent}})
}

func (c *Controller) buildCollaborators() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.coord = transcript.New(transcript.Config{
		SessionID: c.sessionID,
		FallbackMs: c.cfg.STTFallbackMs,
		ExtendedMs: c.cfg.STTExtendedMs,
		Callbacks: transcript.Callbacks{
			OnPartial: c.onTranscriptPartial,
			OnFinal:   c.onTranscriptFinal,
			OnDebug:   c.debug,
		},
	})

	c.handler = transcript.NewHandler(c.sessionID, relayAdapter{c}, transcript.HandlerCallbacks{
		EmitPartial: c.emitPartial,
		EmitFinal:   c.emitFinal,
		EmitDebug:   c.debug,
	}, c.cfg.BackendRelayEnabled)

	c.syncer = instructions.New(instructions.Config{
		SessionID: c.sessionID,
		Fetcher:   fetcherAdapter{c},
		Sender:    senderAdapter{c},
		OnSynced:  c.onInstructionsSynced,
		OnDebug:   c.debug,
	})

	c.dispatch = wireevents.New(wireevents.Handlers{
		OnSession:          c.handleSessionEnvelope,
		OnSpeech:           c.handleSpeechEnvelope,
		OnTranscription:    c.handleTranscriptionEnvelope,
		OnAssistant:        c.handleAssistantEnvelope,
		OnConversationItem: func(wireevents.Envelope) {},
		OnError:            c.handleErrorEnvelope,
		OnUnknown:          func(e wireevents.Envelope) { c.debug("event", "unknown wire type: "+e.Type) },
		OnDebug: func(kind string, e wireevents.Envelope) {
			c.debug(kind, "wire: "+e.Type)
		},
	})
}

func (c *Controller) onMicLevel(level float64) {
	c.mu.Lock()
	c.micLevel = level
	adaptiveEnabled := c.cfg.AdaptiveVADEnabled
	c.mu.Unlock()

	c.em.EmitConversation(emitter.ConversationEvent{Type: "mic-level", Data: level})

	if !adaptiveEnabled {
		return
	}
	cat, changed := c.adaptive.Observe(level)
	if !changed {
		return
	}
	rec := vad.RecommendationFor(cat)
	c.mu.Lock()
	c.pendingVAD = &rec
	c.mu.Unlock()
	if c.syncer != nil {
		_ = c.syncer.Refresh("vad.category-change", c.currentPhase(), c.currentGateMap())
	}
}

func (c *Controller) currentPhase() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encounterPhase
}

func (c *Controller) currentGateMap() map[string]any {
	c.mu.Lock()
	gate := c.encounterGate
	c.mu.Unlock()
	b, _ := json.Marshal(gate)
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	return m
}

func (c *Controller) onDataChannelOpen() {
	c.debug("event", "datachannel.open")
	_ = c.sendJSON(map[string]any{
		"type":    "session.update",
		"session": sessionUpdatePayload{Modalities: []string{"text", "audio"}},
	})
	c.sessionMgr.SetAwaitingSessionAck(true)
	if c.syncer != nil {
		_ = c.syncer.Refresh("datachannel.open", c.currentPhase(), c.currentGateMap())
	}
}

func (c *Controller) onDataChannelError(err error, channelOpen bool) {
	kind := "warn"
	if !channelOpen {
		kind = "error"
	}
	c.debug(kind, "datachannel error: "+err.Error())
}

func (c *Controller) onDataChannelClose() {
	c.debug("event", "datachannel.close")
	status, _ := c.sessionMgr.Status()
	if status == session.StatusConnected {
		c.epoch.bump()
		c.sessionMgr.Transition(session.StatusError, string(ErrDataChannelClosedEarly))
		c.emitStatus()
		c.teardown()
		c.sessionMgr.Transition(session.StatusIdle, "")
		c.emitStatus()
	}
}

func (c *Controller) onRemoteTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream == nil {
		return
	}
	if err := stream.BindRemote(); err != nil {
		c.debug("warn", "bind remote audio failed: "+err.Error())
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := track.Read(buf); err != nil {
				return
			}
		}
	}()
}

func (c *Controller) armSessionAckTimer(snapshot uint64) {
	timer := time.AfterFunc(time.Duration(c.cfg.SessionAckTimeoutMs)*time.Millisecond, func() {
		if c.epoch.stale(snapshot) {
			return
		}
		if c.sessionMgr.SessionReady() {
			return
		}
		c.debug("warn", "session ack timeout: treating session as ready")
		c.sessionMgr.MarkSessionAck()
		c.drainQueuedUpdates()
	})
	c.mu.Lock()
	c.ackTimerCancel = func() { timer.Stop() }
	c.mu.Unlock()
}

func (c *Controller) handleSessionEnvelope(env wireevents.Envelope) {
	if env.Type == wireevents.TypeSessionCreated {
		return
	}
	// session.updated: the server's ack.
	c.sessionMgr.MarkSessionAck()
	c.mu.Lock()
	if c.ackTimerCancel != nil {
		c.ackTimerCancel()
	}
	c.mu.Unlock()
	c.drainQueuedUpdates()
	if c.syncer != nil {
		_ = c.syncer.Refresh("session.updated", c.currentPhase(), c.currentGateMap())
	}
}

func (c *Controller) handleSpeechEnvelope(env wireevents.Envelope) {
	switch env.Type {
	case wireevents.TypeSpeechStarted:
		var p wireevents.SpeechStarted
		_ = json.Unmarshal(env.Raw, &p)
		c.coord.SpeechStarted(p.ItemID)
	case wireevents.TypeSpeechStopped, wireevents.TypeSpeechCommitted:
		c.coord.UserSpeechStoppedOrCommitted()
	}
}

func (c *Controller) handleTranscriptionEnvelope(env wireevents.Envelope) {
	switch env.Type {
	case wireevents.TypeTranscriptionDelta, wireevents.TypeItemTranscriptionDelta:
		var p wireevents.TranscriptionDelta
		_ = json.Unmarshal(env.Raw, &p)
		c.coord.UserTranscriptionDelta(p.ItemID, p.Delta)
	case wireevents.TypeTranscriptionCompleted, wireevents.TypeItemTranscriptionCompleted:
		var p wireevents.TranscriptionCompleted
		_ = json.Unmarshal(env.Raw, &p)
		c.coord.UserTranscriptionCompleted(p.ItemID, p.Transcript)
	case wireevents.TypeTranscriptionFailed, wireevents.TypeItemTranscriptionFailed:
		var p wireevents.TranscriptionFailed
		_ = json.Unmarshal(env.Raw, &p)
		c.coord.UserTranscriptionFailed(p.ItemID)
	}
}

func (c *Controller) handleAssistantEnvelope(env wireevents.Envelope) {
	switch env.Type {
	case wireevents.TypeAudioTranscriptDelta:
		var p wireevents.AudioTranscriptDelta
		_ = json.Unmarshal(env.Raw, &p)
		c.coord.AssistantAudioTranscriptDelta(p.ItemID, p.Delta)
	case wireevents.TypeAudioTranscriptDone:
		var p wireevents.AudioTranscriptDone
		_ = json.Unmarshal(env.Raw, &p)
		c.coord.AssistantAudioTranscriptDone(p.ItemID, p.FinalText())
	case wireevents.TypeOutputTextDelta:
		var p wireevents.OutputTextDelta
		_ = json.Unmarshal(env.Raw, &p)
		c.coord.AssistantOutputTextDelta(p.ItemID, p.Delta)
	case wireevents.TypeOutputTextDone:
		var p wireevents.OutputTextDone
		_ = json.Unmarshal(env.Raw, &p)
		c.coord.AssistantOutputTextDone(p.ItemID, p.Text)
	case wireevents.TypeContentPartAdded:
		var p wireevents.ContentPartAdded
		_ = json.Unmarshal(env.Raw, &p)
		if p.ContentPart.Type == "output_text" || p.ContentPart.Type == "text" {
			c.coord.AssistantContentPartAdded(p.ItemID, p.ContentPart.Text)
		}
	case wireevents.TypeContentPartDone:
		var p wireevents.ContentPartDone
		_ = json.Unmarshal(env.Raw, &p)
		if p.ContentPart.Type == "output_text" || p.ContentPart.Type == "text" {
			c.coord.AssistantContentPartDone(p.ItemID, p.ContentPart.Text)
		}
	case wireevents.TypeResponseCreated:
		c.sessionMgr.MarkRoundtripSucceeded()
	}
}

func (c *Controller) handleErrorEnvelope(env wireevents.Envelope) {
	var e wireevents.ErrorEvent
	_ = json.Unmarshal(env.Raw, &e)
	c.debug("error", "wire error: "+e.Error.Message)
}

func (c *Controller) onTranscriptPartial(p types.Partial) {
	c.mu.Lock()
	if p.Role == types.RoleUser {
		c.userPartial = p.Text
	} else {
		c.assistantPartial = p.Text
	}
	c.mu.Unlock()
	c.handler.HandlePartial(p)
}

func (c *Controller) onTranscriptFinal(t types.Turn) {
	c.mu.Lock()
	if t.Role == types.RoleUser {
		c.userPartial = ""
	} else {
		c.assistantPartial = ""
	}
	c.mu.Unlock()
	c.handler.HandleFinal(t)
}

func (c *Controller) emitPartial(p types.Partial) {
	c.em.EmitConversation(emitter.ConversationEvent{Type: "partial", Data: p})
}

func (c *Controller) emitFinal(t types.Turn) {
	c.em.EmitConversation(emitter.ConversationEvent{Type: "transcript", Data: t})
}

func (c *Controller) onInstructionsSynced(resp instructions.Response) {
	c.mu.Lock()
	c.encounterPhase = resp.Phase
	c.outstandingGate = resp.OutstandingGate
	c.mu.Unlock()
	c.em.EmitConversation(emitter.ConversationEvent{Type: "instructions", Data: resp})
}

func (c *Controller) onSocketTranscript(t backend.Transcript) {
	c.handler.HandleRelayedFinal(toTypesTurn(t))
}

func (c *Controller) onSocketCatchup(batch []backend.Transcript) {
	turns := make([]types.Turn, len(batch))
	for i, t := range batch {
		turns[i] = toTypesTurn(t)
	}
	sortByStartedAt(turns)
	for _, t := range turns {
		c.handler.HandleRelayedFinal(t)
	}
}

func (c *Controller) onSocketMaxFailures() {
	c.debug("warn", "socket failure budget exceeded: switching to fallback mode")
	c.mu.Lock()
	if c.handler != nil {
		c.handler = transcript.NewHandler(c.sessionID, relayAdapter{c}, transcript.HandlerCallbacks{
			EmitPartial: c.emitPartial,
			EmitFinal:   c.emitFinal,
			EmitDebug:   c.debug,
		}, false)
	}
	c.mu.Unlock()
}

func toTypesTurn(t backend.Transcript) types.Turn {
	var media *types.Media
	if t.Media != nil {
		media = &types.Media{ID: t.Media.ID, Type: types.MediaType(t.Media.Type), URL: t.Media.URL, Thumbnail: t.Media.Thumbnail, Caption: t.Media.Caption, AnimationID: t.Media.AnimationID}
	}
	return types.Turn{
		ItemID: t.ItemID, Role: types.Role(t.Role), Text: t.Text, IsFinal: t.IsFinal,
		StartedAtMs: t.StartedAt, EmittedAtMs: t.Timestamp, FinalizedAtMs: t.FinalizedAt, Media: media,
	}
}

func sortByStartedAt(turns []types.Turn) {
	for i := 1; i < len(turns); i++ {
		for j := i; j > 0 && turns[j].StartedAtMs < turns[j-1].StartedAtMs; j-- {
			turns[j], turns[j-1] = turns[j-1], turns[j]
		}
	}
}

// SendText queues a text-only user turn on the data channel
// (conversation.item.create followed by response.create), the text
// equivalent of a spoken user turn.
func (c *Controller) SendText(text string) error {
	item := map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type": "message", "role": "user",
			"content": []map[string]any{{"type": "input_text", "text": text}},
		},
	}
	if err := c.sendJSON(item); err != nil {
		return err
	}
	return c.sendJSON(map[string]any{"type": "response.create"})
}

// Pause mutes outgoing mic audio without tearing down the stream.
func (c *Controller) Pause() {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream != nil {
		stream.Pause()
	}
	c.em.EmitConversation(emitter.ConversationEvent{Type: "pause", Data: true})
}

// Resume un-mutes outgoing mic audio.
func (c *Controller) Resume() {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream != nil {
		stream.Resume()
	}
	c.em.EmitConversation(emitter.ConversationEvent{Type: "pause", Data: false})
}

// RefreshInstructions triggers an Instruction Syncer refresh for reason.
func (c *Controller) RefreshInstructions(reason string) error {
	if c.syncer == nil {
		return errors.New("controller not started")
	}
	return c.syncer.Refresh(reason, c.currentPhase(), c.currentGateMap())
}

// UpdateEncounterState updates the phase/gate and triggers a fresh
// instruction sync, per spec.md §4.9's "after a gate mutation" trigger.
func (c *Controller) UpdateEncounterState(phase string, gate types.GateState, reason string) error {
	c.mu.Lock()
	if phase != "" {
		c.encounterPhase = phase
	}
	c.encounterGate = gate
	c.mu.Unlock()
	if reason == "" {
		reason = "encounter-state-update"
	}
	return c.RefreshInstructions(reason)
}

// Snapshot returns the current read-mostly Handle for the UI.
func (c *Controller) Snapshot() Handle {
	status, errMsg := c.sessionMgr.Status()
	c.mu.Lock()
	defer c.mu.Unlock()
	return Handle{
		Status:               status,
		Error:                errMsg,
		SessionID:            c.sessionID,
		UserPartial:          c.userPartial,
		AssistantPartial:     c.assistantPartial,
		MicLevel:             c.micLevel,
		MicPaused:            c.stream != nil && c.stream.Paused(),
		MicStreamActive:      c.stream != nil,
		PeerConnectionActive: c.webrtc != nil,
		EncounterPhase:       c.encounterPhase,
		EncounterGate:        c.encounterGate,
		OutstandingGate:      c.outstandingGate,
		Adaptive: AdaptiveSnapshot{
			Category:       c.adaptive.Category(),
			Recommendation: vad.RecommendationFor(c.adaptive.Category()),
		},
	}
}

// Stop increments the epoch and tears down in this order: cancel the
// session-ack and transcript timers, close data channel, close peer
// connection, detach remote audio and stop local capture, request socket
// disconnect. Safe to call from any state.
func (c *Controller) Stop() {
	c.epoch.bump()
	c.teardown()
	c.sessionMgr.Transition(session.StatusIdle, "")
	c.emitStatus()
}

func (c *Controller) teardown() {
	c.mu.Lock()
	stream := c.stream
	wm := c.webrtc
	ackCancel := c.ackTimerCancel
	coord := c.coord
	c.stream = nil
	c.webrtc = nil
	c.ackTimerCancel = nil
	c.mu.Unlock()

	if ackCancel != nil {
		ackCancel()
	}
	if coord != nil {
		coord.Stop()
	}
	if wm != nil {
		_ = wm.Close()
	}
	if stream != nil {
		_ = stream.Stop()
	}
	if c.socket != nil {
		c.socket.Disconnect()
	}
}

func (c *Controller) watchICEFailures(wm *webrtcmgr.Manager, snapshot uint64) {
	err, ok := <-wm.ICEFailures()
	if !ok || c.epoch.stale(snapshot) {
		return
	}
	c.epoch.bump()
	c.sessionMgr.Transition(session.StatusError, fmt.Sprintf("%s: %s", ErrICEFailed, err))
	c.emitStatus()
	c.teardown()
	c.sessionMgr.Transition(session.StatusIdle, "")
	c.emitStatus()
}

// sendRaw sends a session.update, queuing it instead if the session is
// still awaiting its ack (spec.md §4.1's session-ack gating).
func (c *Controller) sendRaw(p sessionUpdatePayload) error {
	c.mu.Lock()
	awaiting := c.sessionMgr.AwaitingSessionAck()
	if awaiting {
		c.queuedUpdates = append(c.queuedUpdates, p)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.sendJSON(map[string]any{"type": "session.update", "session": p})
}

func (c *Controller) sendJSON(v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	wm := c.webrtc
	c.mu.Unlock()

	if wm == nil || !wm.IsActiveChannelOpen() {
		return errors.New("data channel not open")
	}
	return wm.ActiveChannel().SendText(string(body))
}

func (c *Controller) drainQueuedUpdates() {
	c.mu.Lock()
	queued := c.queuedUpdates
	c.queuedUpdates = nil
	c.mu.Unlock()
	for _, p := range queued {
		c.sendRaw(p)
	}
}

// withRetry calls fn once and, for transient failures, retries it up to
// len(retryDelays) more times after the 250ms/750ms/2s backoff delays.
func withRetry[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt <= len(retryDelays); attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !isTransient(err) || attempt == len(retryDelays) {
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(retryDelays[attempt]):
		}
	}
	return zero, lastErr
}

func isTransient(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "status 5")
}

// extractStatus pulls the HTTP status code out of a doJSON/ExchangeSDP
// error message (`... status 503: ...`), or 0 if none is present.
func extractStatus(err error) int {
	msg := err.Error()
	idx := strings.Index(msg, "status ")
	if idx < 0 {
		return 0
	}
	rest := msg[idx+len("status "):]
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	status := 0
	for _, r := range rest[:end] {
		status = status*10 + int(r-'0')
	}
	return status
}

type sdpExchangerFunc func(ctx context.Context, offer string) (string, error)

func (f sdpExchangerFunc) ExchangeSDP(ctx context.Context, offer string) (string, error) {
	return f(ctx, offer)
}

// relayAdapter satisfies transcript.Relay by delegating to the
// controller's HTTP client.
type relayAdapter struct{ c *Controller }

func (r relayAdapter) RelayTranscript(t types.Turn) error {
	var media *backend.MediaWire
	if t.Media != nil {
		media = &backend.MediaWire{ID: t.Media.ID, Type: string(t.Media.Type), URL: t.Media.URL, Thumbnail: t.Media.Thumbnail, Caption: t.Media.Caption, AnimationID: t.Media.AnimationID}
	}
	return r.c.httpClient.RelayTranscript(context.Background(), r.c.sessionID, backend.RelayTranscriptRequest{
		Role: t.Role, Text: t.Text, IsFinal: t.IsFinal, Timestamp: t.EmittedAtMs,
		ItemID: t.ItemID, StartedAt: t.StartedAtMs, FinalizedAt: t.FinalizedAtMs, EmittedAt: t.EmittedAtMs,
		Media: media,
	})
}

func (r relayAdapter) IsHealthy() bool {
	return r.c.socket != nil && r.c.socket.IsEnabled()
}

// fetcherAdapter satisfies instructions.Fetcher via the HTTP client.
type fetcherAdapter struct{ c *Controller }

func (f fetcherAdapter) FetchInstructions(sessionID, phase string, gate map[string]any) (instructions.Response, error) {
	resp, err := f.c.httpClient.FetchInstructions(context.Background(), backend.FetchInstructionsRequest{
		SessionID: sessionID, Phase: phase, Gate: gate,
	})
	if err != nil {
		return instructions.Response{}, err
	}
	return instructions.Response{
		Instructions: resp.Instructions, Phase: resp.Phase, OutstandingGate: resp.OutstandingGate,
		RoleID: resp.RoleID, AvailableRoles: resp.AvailableRoles,
	}, nil
}

// senderAdapter satisfies instructions.Sender, folding in the latest
// pending adaptive-VAD recommendation (spec.md §4.10) if one is due.
type senderAdapter struct{ c *Controller }

func (s senderAdapter) SendSessionUpdate(text string) error {
	s.c.mu.Lock()
	rec := s.c.pendingVAD
	s.c.pendingVAD = nil
	s.c.mu.Unlock()

	payload := sessionUpdatePayload{Instructions: text}
	if rec != nil {
		payload.TurnDetection = &turnDetection{Threshold: rec.Threshold, SilenceMs: rec.SilenceMs}
	}
	return s.c.sendRaw(payload)
}
