// Package transcript implements the Transcript Coordinator and Handler: the
// per-turn aggregator that reconciles the realtime wire's two parallel
// delta families (audio-transcript and text) into a single ordered,
// deduplicated transcript, plus media-marker extraction.
//
// This is built new rather than adapted from the teacher: the teacher's own
// assistant-side handling (livetranslate/openai/service.go's emit method)
// explicitly leaves the audio/text reconciliation problem unresolved. This
// file closes that gap per spec.md §4.6.
package transcript

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensps/voicecore/internal/types"
)

// Default fallback timer durations, per spec.md §6.5.
const (
	DefaultSTTFallbackMs = 800
	DefaultSTTExtendedMs = 1800
)

// Canceler stops a scheduled timer; Cancel is idempotent.
type Canceler interface {
	Cancel()
}

// Scheduler schedules a one-shot callback. The default implementation wraps
// time.AfterFunc; tests inject a fake to control firing deterministically.
type Scheduler interface {
	After(d time.Duration, f func()) Canceler
}

type realScheduler struct{}

type realCanceler struct{ t *time.Timer }

func (c realCanceler) Cancel() { c.t.Stop() }

func (realScheduler) After(d time.Duration, f func()) Canceler {
	return realCanceler{time.AfterFunc(d, f)}
}

// NewRealScheduler returns the production Scheduler backed by time.AfterFunc.
func NewRealScheduler() Scheduler { return realScheduler{} }

// MediaResolver looks up a media marker id against the scenario's media
// list, per spec.md §3/§4.6.
type MediaResolver func(id string) (types.Media, bool)

// Callbacks are invoked by the Coordinator as turns progress. They must not
// block; the caller (Transcript Handler) is responsible for emission.
type Callbacks struct {
	OnPartial func(types.Partial)
	OnFinal   func(types.Turn)
	OnDebug   func(kind, msg string)
}

// userTurn tracks in-flight user-role aggregation state.
type userTurn struct {
	itemID      string
	seq         int
	startedAtMs int64
	audioBuffer string
	fallback    Canceler
	extended    Canceler
}

// assistantTurn tracks in-flight assistant-role aggregation state for one
// item/response.
type assistantTurn struct {
	itemID         string
	startedAtMs    int64
	dominant       types.Channel // "" | audio | text
	audioBuffer    string
	textBuffer     string
	finalized      bool
	finalizedViaAudio bool
}

// Coordinator is the per-session Transcript Coordinator. One Coordinator
// exists per active voice session.
type Coordinator struct {
	sessionID string
	cb        Callbacks
	sched     Scheduler
	resolver  MediaResolver
	nowMs     func() int64

	fallbackMs int64
	extendedMs int64

	mu sync.Mutex

	user      *userTurn
	assistant map[string]*assistantTurn

	// finalizedAssistant remembers itemIDs whose assistant turn already
	// finalized, even after the in-flight assistantTurn entry is deleted,
	// so a late audio-done for an already-text-finalized item hits the
	// superseded path instead of assistantTurnLocked silently allocating
	// a fresh (unfinalized) turn for it.
	finalizedAssistant map[string]bool

	finalizedKeys map[string]bool
}

// Config configures a new Coordinator.
type Config struct {
	SessionID     string
	Callbacks     Callbacks
	Scheduler     Scheduler
	MediaResolver MediaResolver
	NowMs         func() int64
	FallbackMs    int64
	ExtendedMs    int64
}

// New creates a Coordinator. Config zero values fall back to spec defaults.
func New(cfg Config) *Coordinator {
	if cfg.Scheduler == nil {
		cfg.Scheduler = NewRealScheduler()
	}
	if cfg.NowMs == nil {
		cfg.NowMs = func() int64 { return time.Now().UnixMilli() }
	}
	if cfg.FallbackMs == 0 {
		cfg.FallbackMs = DefaultSTTFallbackMs
	}
	if cfg.ExtendedMs == 0 {
		cfg.ExtendedMs = DefaultSTTExtendedMs
	}
	if cfg.MediaResolver == nil {
		cfg.MediaResolver = func(string) (types.Media, bool) { return types.Media{}, false }
	}
	return &Coordinator{
		sessionID:          cfg.SessionID,
		cb:                 cfg.Callbacks,
		sched:              cfg.Scheduler,
		resolver:           cfg.MediaResolver,
		nowMs:              cfg.NowMs,
		fallbackMs:         cfg.FallbackMs,
		extendedMs:         cfg.ExtendedMs,
		assistant:          make(map[string]*assistantTurn),
		finalizedAssistant: make(map[string]bool),
		finalizedKeys:      make(map[string]bool),
	}
}

func finalKey(role types.Role, itemID string) string {
	return string(role) + "|" + itemID
}

func (c *Coordinator) debug(kind, msg string) {
	if c.cb.OnDebug != nil {
		c.cb.OnDebug(kind, msg)
	}
}

func (c *Coordinator) emitPartial(p types.Partial) {
	if c.cb.OnPartial != nil {
		c.cb.OnPartial(p)
	}
}

// emitFinal enforces invariant 2 ((role,itemId) at most one final) at the
// coordinator boundary, regardless of which code path reached it.
func (c *Coordinator) emitFinal(t types.Turn) bool {
	key := finalKey(t.Role, t.ItemID)
	if c.finalizedKeys[key] {
		return false
	}
	c.finalizedKeys[key] = true
	if c.cb.OnFinal != nil {
		c.cb.OnFinal(t)
	}
	return true
}

// --- User-side algorithm (spec.md §4.6) ---

// SpeechStarted allocates a new user turn.
func (c *Coordinator) SpeechStarted(itemID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startUserTurnLocked(itemID)
}

func (c *Coordinator) startUserTurnLocked(itemID string) {
	if c.user != nil {
		c.cancelUserTimersLocked()
	}
	if itemID == "" {
		itemID = uuid.NewString()
	}
	seq := 0
	if c.user != nil {
		seq = c.user.seq + 1
	}
	c.user = &userTurn{itemID: itemID, seq: seq, startedAtMs: c.nowMs()}
	c.emitPartial(types.Partial{Role: types.RoleUser, ItemID: itemID, Text: "", StartedAtMs: c.user.startedAtMs, EmittedAtMs: c.user.startedAtMs})
}

func (c *Coordinator) cancelUserTimersLocked() {
	if c.user.fallback != nil {
		c.user.fallback.Cancel()
	}
	if c.user.extended != nil {
		c.user.extended.Cancel()
	}
}

// UserTranscriptionDelta appends a running delta to the active user turn,
// auto-allocating one if none is active (boundary behavior, spec.md §8).
func (c *Coordinator) UserTranscriptionDelta(itemID, delta string) {
	c.mu.Lock()
	if c.user == nil {
		c.debug("event", "user delta without speech_started: auto-allocating turn")
		c.startUserTurnLocked(itemID)
	}
	c.user.audioBuffer += delta
	now := c.nowMs()
	p := types.Partial{Role: types.RoleUser, ItemID: c.user.itemID, Text: c.user.audioBuffer, StartedAtMs: c.user.startedAtMs, EmittedAtMs: now}
	c.mu.Unlock()
	c.emitPartial(p)
}

// UserSpeechStoppedOrCommitted arms the fallback and extended timers.
func (c *Coordinator) UserSpeechStoppedOrCommitted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return
	}
	turn := c.user
	seq := turn.seq

	turn.fallback = c.sched.After(time.Duration(c.fallbackMs)*time.Millisecond, func() {
		c.fireUserFallback(seq, false)
	})
	turn.extended = c.sched.After(time.Duration(c.extendedMs)*time.Millisecond, func() {
		c.fireUserFallback(seq, true)
	})
}

func (c *Coordinator) fireUserFallback(seq int, unconditional bool) {
	c.mu.Lock()
	if c.user == nil || c.user.seq != seq {
		c.mu.Unlock()
		return
	}
	turn := c.user
	c.user = nil
	now := c.nowMs()
	final := types.Turn{
		Role: types.RoleUser, ItemID: turn.itemID, Text: turn.audioBuffer,
		Channel: types.ChannelAudio, IsFinal: true,
		StartedAtMs: turn.startedAtMs, EmittedAtMs: now, FinalizedAtMs: now,
	}
	c.mu.Unlock()

	if turn.fallback != nil {
		turn.fallback.Cancel()
	}
	if turn.extended != nil {
		turn.extended.Cancel()
	}

	marker := "fallback"
	if unconditional {
		marker = "fallback.extended"
	}
	c.debug("warn", fmt.Sprintf("%s: true", marker))

	c.mu.Lock()
	c.emitFinal(final)
	c.mu.Unlock()
}

// UserTranscriptionCompleted finalizes the active user turn using the
// server-provided transcript, preferred over the running buffer.
func (c *Coordinator) UserTranscriptionCompleted(itemID, transcript string) {
	c.mu.Lock()
	if c.user == nil {
		c.mu.Unlock()
		return
	}
	turn := c.user
	c.user = nil
	c.cancelUserTimersForLocked(turn)
	now := c.nowMs()
	final := types.Turn{
		Role: types.RoleUser, ItemID: turn.itemID, Text: transcript,
		Channel: types.ChannelAudio, IsFinal: true,
		StartedAtMs: turn.startedAtMs, EmittedAtMs: now, FinalizedAtMs: now,
	}
	c.emitFinal(final)
	c.mu.Unlock()
}

func (c *Coordinator) cancelUserTimersForLocked(turn *userTurn) {
	if turn.fallback != nil {
		turn.fallback.Cancel()
	}
	if turn.extended != nil {
		turn.extended.Cancel()
	}
}

// UserTranscriptionFailed finalizes with a placeholder per spec.md §4.6.5.
func (c *Coordinator) UserTranscriptionFailed(itemID string) {
	c.mu.Lock()
	if c.user == nil {
		c.mu.Unlock()
		return
	}
	turn := c.user
	c.user = nil
	c.cancelUserTimersForLocked(turn)
	now := c.nowMs()
	final := types.Turn{
		Role: types.RoleUser, ItemID: turn.itemID, Text: "[Speech not transcribed]",
		Channel: types.ChannelAudio, IsFinal: true,
		StartedAtMs: turn.startedAtMs, EmittedAtMs: now, FinalizedAtMs: now,
	}
	c.emitFinal(final)
	c.mu.Unlock()
	c.debug("warn", "failed: true")
}

// --- Assistant-side algorithm (spec.md §4.6, the reconciliation problem) ---

func (c *Coordinator) assistantTurnLocked(itemID string) *assistantTurn {
	t, ok := c.assistant[itemID]
	if !ok {
		t = &assistantTurn{itemID: itemID, startedAtMs: c.nowMs()}
		c.assistant[itemID] = t
	}
	return t
}

// AssistantAudioTranscriptDelta appends to the audio buffer. If dominant is
// unset it becomes "audio" and this emits a partial; if dominant is "text",
// the buffer is updated silently (no partial), per rule 4.
func (c *Coordinator) AssistantAudioTranscriptDelta(itemID, delta string) {
	c.mu.Lock()
	t := c.assistantTurnLocked(itemID)
	t.audioBuffer += delta
	if t.dominant == "" {
		t.dominant = types.ChannelAudio
	}
	emit := t.dominant == types.ChannelAudio
	now := c.nowMs()
	p := types.Partial{Role: types.RoleAssistant, ItemID: itemID, Text: t.audioBuffer, StartedAtMs: t.startedAtMs, EmittedAtMs: now}
	c.mu.Unlock()
	if emit {
		c.emitPartial(p)
	}
}

// assistantTextArrived is the shared path for output_text deltas and
// content_part.added text, both of which can trigger the dominant-channel
// switch described in rule 4.
func (c *Coordinator) assistantTextArrived(itemID, text string, isDelta bool) {
	if text == "" {
		return
	}
	c.mu.Lock()
	t := c.assistantTurnLocked(itemID)
	if isDelta {
		t.textBuffer += text
	} else if len(text) > len(t.textBuffer) {
		// content_part.added carries a cumulative snapshot, not a delta;
		// only replace if it is at least as complete as what we have.
		t.textBuffer = text
	}
	t.dominant = types.ChannelText
	now := c.nowMs()
	p := types.Partial{Role: types.RoleAssistant, ItemID: itemID, Text: t.textBuffer, StartedAtMs: t.startedAtMs, EmittedAtMs: now}
	c.mu.Unlock()
	c.emitPartial(p)
}

// AssistantOutputTextDelta handles response.output_text.delta.
func (c *Coordinator) AssistantOutputTextDelta(itemID, delta string) {
	c.assistantTextArrived(itemID, delta, true)
}

// AssistantContentPartAdded handles response.content_part.added.
func (c *Coordinator) AssistantContentPartAdded(itemID, text string) {
	c.assistantTextArrived(itemID, text, false)
}

// AssistantOutputTextDone finalizes via the text channel. For an item that
// never received output text (no delta or content part), the event is a
// protocol error: it is logged as a debug error and ignored.
func (c *Coordinator) AssistantOutputTextDone(itemID, text string) {
	c.mu.Lock()
	t, ok := c.assistant[itemID]
	orphan := !c.finalizedAssistant[itemID] && (!ok || t.dominant != types.ChannelText)
	c.mu.Unlock()
	if orphan {
		c.debug("error", "assistant.output_text.done without prior output_text for "+itemID)
		return
	}
	c.finalizeAssistantText(itemID, text)
}

// AssistantContentPartDone finalizes via the text channel.
func (c *Coordinator) AssistantContentPartDone(itemID, text string) {
	c.finalizeAssistantText(itemID, text)
}

func (c *Coordinator) finalizeAssistantText(itemID, text string) {
	c.mu.Lock()
	if c.finalizedAssistant[itemID] {
		c.mu.Unlock()
		return
	}
	t := c.assistantTurnLocked(itemID)
	if t.finalized {
		c.mu.Unlock()
		return
	}
	if text == "" {
		text = t.textBuffer
	}
	t.finalized = true
	startedAtMs := t.startedAtMs
	c.mu.Unlock()

	c.finishAssistantTurn(itemID, text, types.ChannelText, startedAtMs)
}

// AssistantAudioTranscriptDone finalizes via the audio channel, unless the
// turn already finalized via text — rule 5/invariant 3: text wins, a late
// audio final is dropped with a superseded debug marker. finalizedAssistant
// is consulted instead of the assistantTurn map entry itself, because
// finishAssistantTurn deletes that entry on finalize; without this,
// assistantTurnLocked would silently hand back a fresh, unfinalized turn
// for an item whose text final already shipped.
func (c *Coordinator) AssistantAudioTranscriptDone(itemID, text string) {
	c.mu.Lock()
	if c.finalizedAssistant[itemID] {
		c.mu.Unlock()
		c.debug("event", "assistant.audio.done.superseded")
		return
	}
	t := c.assistantTurnLocked(itemID)
	if t.finalized {
		c.mu.Unlock()
		c.debug("event", "assistant.audio.done.superseded")
		return
	}
	t.finalized = true
	t.finalizedViaAudio = true
	startedAtMs := t.startedAtMs
	if text == "" {
		text = t.audioBuffer
	}
	c.mu.Unlock()

	c.finishAssistantTurn(itemID, text, types.ChannelAudio, startedAtMs)
}

func (c *Coordinator) finishAssistantTurn(itemID, text string, channel types.Channel, startedAtMs int64) {
	clean, media := parseMediaMarker(text, c.resolver)
	if media == nil && strings.Contains(text, "[[MEDIA:") {
		c.debug("warn", "media.marker.unresolved")
	}

	now := c.nowMs()
	final := types.Turn{
		Role: types.RoleAssistant, ItemID: itemID, Text: clean, Media: media,
		Channel: channel, IsFinal: true,
		StartedAtMs: startedAtMs, EmittedAtMs: now, FinalizedAtMs: now,
	}

	c.mu.Lock()
	delete(c.assistant, itemID)
	c.finalizedAssistant[itemID] = true
	c.emitFinal(final)
	c.mu.Unlock()
}

// Stop discards all in-flight state and cancels pending timers, per
// invariant 6 / spec.md §5 cancellation semantics ("following stop(), no
// further transcript/partial/mic-level events are emitted"). Callers must
// also stop invoking Coordinator methods after calling Stop.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user != nil {
		c.cancelUserTimersLocked()
		c.user = nil
	}
	c.assistant = make(map[string]*assistantTurn)
	c.finalizedAssistant = make(map[string]bool)
}
