package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnStatusChange_DeliversCurrentStateSynchronously(t *testing.T) {
	m := New()
	var got Change
	m.OnStatusChange(func(c Change) { got = c })
	assert.Equal(t, StatusIdle, got.Status)
}

func TestTransition_ValidPathIdleToConnectedToIdle(t *testing.T) {
	m := New()
	var history []Status
	m.OnStatusChange(func(c Change) { history = append(history, c.Status) })

	require.True(t, m.Transition(StatusConnecting, ""))
	require.True(t, m.Transition(StatusConnected, ""))
	require.True(t, m.Transition(StatusIdle, ""))

	assert.Equal(t, []Status{StatusIdle, StatusConnecting, StatusConnected, StatusIdle}, history)
}

func TestTransition_InvalidEdgeIsNoOp(t *testing.T) {
	m := New()
	ok := m.Transition(StatusConnected, "")
	assert.False(t, ok)
	status, _ := m.Status()
	assert.Equal(t, StatusIdle, status)
}

func TestAckGating_ResetsOnErrorOrIdle(t *testing.T) {
	m := New()
	require.True(t, m.Transition(StatusConnecting, ""))
	require.True(t, m.Transition(StatusConnected, ""))
	m.SetAwaitingSessionAck(true)
	m.MarkSessionAck()
	m.MarkRoundtripSucceeded()
	assert.True(t, m.FullyReady())

	require.True(t, m.Transition(StatusError, "ice_failed"))
	assert.False(t, m.FullyReady())
	assert.False(t, m.SessionReady())
}

func TestUnsubscribe_StopsFurtherDelivery(t *testing.T) {
	m := New()
	count := 0
	unsub := m.OnStatusChange(func(Change) { count++ })
	unsub()
	m.Transition(StatusConnecting, "")
	assert.Equal(t, 1, count, "only the synchronous initial delivery should have happened")
}
