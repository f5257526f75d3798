package transcript

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensps/voicecore/internal/types"
)

type fakeRelay struct {
	healthy  bool
	relayed  []types.Turn
	failNext bool
}

func (r *fakeRelay) IsHealthy() bool { return r.healthy }
func (r *fakeRelay) RelayTranscript(t types.Turn) error {
	if r.failNext {
		r.failNext = false
		return errors.New("relay down")
	}
	r.relayed = append(r.relayed, t)
	return nil
}

func TestHandler_BackendModeRelaysInsteadOfLocalEmit(t *testing.T) {
	relay := &fakeRelay{healthy: true}
	var locals []types.Turn
	h := NewHandler("sess-1", relay, HandlerCallbacks{
		EmitFinal: func(t types.Turn) { locals = append(locals, t) },
	}, true)

	h.HandleFinal(types.Turn{Role: types.RoleUser, Text: "hi", StartedAtMs: 1000})

	assert.Empty(t, locals)
	require.Len(t, relay.relayed, 1)
}

func TestHandler_FallbackModeEmitsLocallyAndRecordsDedupe(t *testing.T) {
	relay := &fakeRelay{healthy: false}
	var locals []types.Turn
	h := NewHandler("sess-1", relay, HandlerCallbacks{
		EmitFinal: func(t types.Turn) { locals = append(locals, t) },
	}, true)

	turn := types.Turn{Role: types.RoleUser, Channel: types.ChannelAudio, Text: "good morning", StartedAtMs: 1000}
	h.HandleFinal(turn)

	require.Len(t, locals, 1)

	// A later socket replay carries no Channel (the backend wire Transcript
	// has no channel field); the dedupe key must still match the locally
	// recorded fingerprint despite that difference.
	relayedTurn := turn
	relayedTurn.Channel = ""
	h.HandleRelayedFinal(relayedTurn)
	require.Len(t, locals, 1, "dedupe must suppress the replayed duplicate even without a matching channel")
}

func TestHandler_RelayFailureFallsBackToLocal(t *testing.T) {
	relay := &fakeRelay{healthy: true, failNext: true}
	var locals []types.Turn
	h := NewHandler("sess-1", relay, HandlerCallbacks{
		EmitFinal: func(t types.Turn) { locals = append(locals, t) },
	}, true)

	h.HandleFinal(types.Turn{Role: types.RoleUser, Text: "hi", StartedAtMs: 1000})
	require.Len(t, locals, 1)
}

func TestHandler_PartialsAlwaysEmitLocally(t *testing.T) {
	relay := &fakeRelay{healthy: true}
	var partials []types.Partial
	h := NewHandler("sess-1", relay, HandlerCallbacks{
		EmitPartial: func(p types.Partial) { partials = append(partials, p) },
	}, true)

	h.HandlePartial(types.Partial{Role: types.RoleUser, Text: "Hel"})
	require.Len(t, partials, 1)
}
