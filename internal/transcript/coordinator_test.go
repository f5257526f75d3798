package transcript

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensps/voicecore/internal/types"
)

// fakeScheduler lets tests fire or cancel timers deterministically instead
// of sleeping real wall-clock time.
type fakeScheduler struct {
	calls []*fakeCall
}

type fakeCall struct {
	d         time.Duration
	f         func()
	cancelled bool
}

func (s *fakeScheduler) After(d time.Duration, f func()) Canceler {
	c := &fakeCall{d: d, f: f}
	s.calls = append(s.calls, c)
	return c
}

func (c *fakeCall) Cancel() { c.cancelled = true }

func (s *fakeScheduler) fire(idx int) {
	c := s.calls[idx]
	if !c.cancelled {
		c.f()
	}
}

func newTestCoordinator(t *testing.T) (*Coordinator, *fakeScheduler, *[]types.Turn, *[]types.Partial, *[]string) {
	t.Helper()
	sched := &fakeScheduler{}
	var finals []types.Turn
	var partials []types.Partial
	var debugs []string
	clockMs := int64(0)
	c := New(Config{
		SessionID: "sess-1",
		Scheduler: sched,
		NowMs:     func() int64 { return clockMs },
		Callbacks: Callbacks{
			OnFinal:   func(turn types.Turn) { finals = append(finals, turn) },
			OnPartial: func(p types.Partial) { partials = append(partials, p) },
			OnDebug:   func(kind, msg string) { debugs = append(debugs, kind+":"+msg) },
		},
	})
	return c, sched, &finals, &partials, &debugs
}

// Scenario A — normal greeting (spec.md §8).
func TestScenarioA_NormalGreeting(t *testing.T) {
	c, _, finals, _, _ := newTestCoordinator(t)

	c.SpeechStarted("item-1")
	c.UserTranscriptionDelta("item-1", "Hello")
	c.UserSpeechStoppedOrCommitted()
	c.UserTranscriptionCompleted("item-1", "Hello doctor")

	c.AssistantAudioTranscriptDelta("resp-1", "Hello! ")
	c.AssistantAudioTranscriptDelta("resp-1", "How can I help you?")
	c.AssistantAudioTranscriptDone("resp-1", "Hello! How can I help you?")

	require.Len(t, *finals, 2)
	assert.Equal(t, types.RoleUser, (*finals)[0].Role)
	assert.Equal(t, "Hello doctor", (*finals)[0].Text)
	assert.Equal(t, types.RoleAssistant, (*finals)[1].Role)
	assert.Equal(t, "Hello! How can I help you?", (*finals)[1].Text)
}

// Scenario B — text wins over gibberish audio (spec.md §8).
func TestScenarioB_TextWinsOverGibberishAudio(t *testing.T) {
	c, _, finals, _, debugs := newTestCoordinator(t)

	c.AssistantAudioTranscriptDelta("resp-1", "mmm skrrttt")
	c.AssistantContentPartAdded("resp-1", "Let me share those details.")
	c.AssistantAudioTranscriptDelta("resp-1", "blrrrp")
	c.AssistantContentPartDone("resp-1", "Let me share those details.")
	c.AssistantAudioTranscriptDone("resp-1", "blrrrp zoom")

	require.Len(t, *finals, 1)
	assert.Equal(t, "Let me share those details.", (*finals)[0].Text)
	assert.Contains(t, *debugs, "event:assistant.audio.done.superseded")
}

// Scenario C — missing completion triggers fallback (spec.md §8).
func TestScenarioC_MissingCompletionTriggersFallback(t *testing.T) {
	c, sched, finals, _, debugs := newTestCoordinator(t)

	c.SpeechStarted("item-1")
	c.UserTranscriptionDelta("item-1", "Good morning")
	c.UserSpeechStoppedOrCommitted()

	require.Len(t, sched.calls, 2, "fallback + extended timers armed")
	sched.fire(0) // fallback fires, no completed arrived

	require.Len(t, *finals, 1)
	assert.Equal(t, "Good morning", (*finals)[0].Text)
	assert.Contains(t, *debugs, "warn:fallback: true")
}

// Scenario D — repeated assistant turn, different itemIds, neither suppressed.
func TestScenarioD_RepeatedAssistantTurnNotSuppressed(t *testing.T) {
	c, _, finals, _, _ := newTestCoordinator(t)

	c.AssistantAudioTranscriptDelta("resp-1", "Take two tablets daily.")
	c.AssistantAudioTranscriptDone("resp-1", "Take two tablets daily.")

	c.AssistantAudioTranscriptDelta("resp-2", "Take two tablets daily.")
	c.AssistantAudioTranscriptDone("resp-2", "Take two tablets daily.")

	require.Len(t, *finals, 2)
	assert.Equal(t, (*finals)[0].Text, (*finals)[1].Text)
	assert.NotEqual(t, (*finals)[0].ItemID, (*finals)[1].ItemID)
}

func TestInvariant_AtMostOneFinalPerRoleItemID(t *testing.T) {
	c, _, finals, _, _ := newTestCoordinator(t)

	c.AssistantContentPartDone("resp-1", "final text")
	c.AssistantAudioTranscriptDone("resp-1", "should be dropped, already finalized")

	require.Len(t, *finals, 1)
	assert.Equal(t, "final text", (*finals)[0].Text)
}

func TestAutoAllocate_DeltaWithoutSpeechStarted(t *testing.T) {
	c, _, _, partials, debugs := newTestCoordinator(t)

	c.UserTranscriptionDelta("", "surprise")

	require.Len(t, *partials, 2)
	assert.Equal(t, "", (*partials)[0].Text)
	assert.Equal(t, "surprise", (*partials)[1].Text)
	assert.Contains(t, (*debugs)[0], "auto-allocating turn")
}

func TestMediaMarker_UnresolvedStripsMarkerNoMedia(t *testing.T) {
	sched := &fakeScheduler{}
	var finals []types.Turn
	var debugs []string
	c := New(Config{
		SessionID: "sess-1",
		Scheduler: sched,
		NowMs:     func() int64 { return 0 },
		Callbacks: Callbacks{
			OnFinal: func(t types.Turn) { finals = append(finals, t) },
			OnDebug: func(kind, msg string) { debugs = append(debugs, msg) },
		},
	})

	c.AssistantContentPartDone("resp-1", "See this [[MEDIA:xyz]] scan.")

	require.Len(t, finals, 1)
	assert.Equal(t, "See this  scan.", finals[0].Text)
	assert.Nil(t, finals[0].Media)
	assert.Contains(t, debugs, "media.marker.unresolved")
}

func TestMediaMarker_ResolvedAttachesMedia(t *testing.T) {
	sched := &fakeScheduler{}
	var finals []types.Turn
	c := New(Config{
		SessionID: "sess-1",
		Scheduler: sched,
		NowMs:     func() int64 { return 0 },
		MediaResolver: func(id string) (types.Media, bool) {
			if id == "xyz" {
				return types.Media{ID: "xyz", Type: types.MediaImage, Caption: "scan"}, true
			}
			return types.Media{}, false
		},
		Callbacks: Callbacks{OnFinal: func(t types.Turn) { finals = append(finals, t) }},
	})

	c.AssistantContentPartDone("resp-1", "See this [[MEDIA:xyz]] scan.")

	require.Len(t, finals, 1)
	require.NotNil(t, finals[0].Media)
	assert.Equal(t, "xyz", finals[0].Media.ID)
}
