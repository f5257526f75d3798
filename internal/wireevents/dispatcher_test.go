package wireevents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_FamiliesPerSpec(t *testing.T) {
	cases := map[string]Family{
		TypeSessionCreated:             FamilySession,
		TypeSpeechStarted:              FamilySpeech,
		TypeTranscriptionDelta:         FamilyTranscription,
		TypeItemTranscriptionCompleted: FamilyTranscription,
		TypeAudioTranscriptDelta:       FamilyAssistant,
		TypeResponseDone:               FamilyAssistant,
		TypeConversationItemCreated:    FamilyConversationItem,
		"some.random.error":            FamilyError,
		"rate_limit.warning":           FamilyError,
		"totally.unknown.type":         FamilyUnknown,
	}
	for typ, want := range cases {
		assert.Equal(t, want, Classify(typ), "type=%s", typ)
	}
}

func TestDispatch_RoutesToFamilyHandler(t *testing.T) {
	var gotFamily string
	var debugCalls int
	d := New(Handlers{
		OnSpeech: func(Envelope) { gotFamily = "speech" },
		OnDebug:  func(kind string, _ Envelope) { debugCalls++ },
	})

	d.Dispatch([]byte(`{"type":"input_audio_buffer.speech_started","item_id":"i1"}`))

	assert.Equal(t, "speech", gotFamily)
	assert.Equal(t, 1, debugCalls)
}

func TestDispatch_MalformedJSONIsDroppedNotPanicking(t *testing.T) {
	called := false
	d := New(Handlers{OnUnknown: func(Envelope) { called = true }})

	require.NotPanics(t, func() {
		d.Dispatch([]byte(`{not valid json`))
	})
	assert.False(t, called)
}

func TestDispatch_RawListenerRunsBeforeClassification(t *testing.T) {
	var seenType string
	d := New(Handlers{})
	d.SetRawListener(func(env Envelope) { seenType = env.Type })

	d.Dispatch([]byte(`{"type":"session.created"}`))
	assert.Equal(t, "session.created", seenType)
}
