package backend

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSocketURLFromBase_TranslatesSchemeAndAppendsNamespace(t *testing.T) {
	u, err := SocketURLFromBase("https://api.example.com/app")
	assert.NoError(t, err)
	assert.Equal(t, "wss://api.example.com/app/socket.io/?EIO=4&transport=websocket", u)

	u, err = SocketURLFromBase("http://localhost:4000")
	assert.NoError(t, err)
	assert.Equal(t, "ws://localhost:4000/socket.io/?EIO=4&transport=websocket", u)
}

func TestSocketURLFromBase_RejectsUnknownScheme(t *testing.T) {
	_, err := SocketURLFromBase("ftp://example.com")
	assert.Error(t, err)
}

func TestHandleEvent_TranscriptUpdatesLastReceivedTimestamp(t *testing.T) {
	var got Transcript
	s := &Socket{
		maxFailures: 3,
		cb: SocketCallbacks{
			OnTranscript: func(tr Transcript) { got = tr },
		},
	}

	payload, _ := json.Marshal(Transcript{Role: "user", Text: "hello", IsFinal: true, Timestamp: 1000})
	frame, _ := json.Marshal([]json.RawMessage{json.RawMessage(`"transcript"`), payload})
	s.handleEvent(frame)

	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, int64(1000), s.GetSnapshot().LastReceivedTimestamp)
}

func TestHandleEvent_CatchupAdvancesTimestampToBatchMax(t *testing.T) {
	var batch []Transcript
	s := &Socket{
		maxFailures: 3,
		cb: SocketCallbacks{
			OnCatchup: func(b []Transcript) { batch = b },
		},
	}
	s.lastReceivedTs = 500

	payload, _ := json.Marshal([]Transcript{
		{Role: "user", Text: "a", Timestamp: 600},
		{Role: "assistant", Text: "b", Timestamp: 900},
	})
	frame, _ := json.Marshal([]json.RawMessage{json.RawMessage(`"catchup-transcripts"`), payload})
	s.handleEvent(frame)

	assert.Len(t, batch, 2)
	assert.Equal(t, int64(900), s.GetSnapshot().LastReceivedTimestamp)
}

func TestHandleEvent_MalformedTranscriptDoesNotPanic(t *testing.T) {
	s := &Socket{maxFailures: 3}
	assert.NotPanics(t, func() {
		frame, _ := json.Marshal([]json.RawMessage{json.RawMessage(`"transcript"`), json.RawMessage(`"not-an-object"`)})
		s.handleEvent(frame)
	})
}

func TestSetEnabled_ResetsFailureCountOnReEnable(t *testing.T) {
	s := &Socket{maxFailures: 3}
	s.consecutiveFailures = 2
	s.enabled = false

	s.SetEnabled(true)
	snap := s.GetSnapshot()
	assert.True(t, snap.Enabled)
	assert.Equal(t, 0, snap.ConsecutiveFailures)
}
