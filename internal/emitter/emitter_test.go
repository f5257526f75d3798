package emitter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitConversation_DeliversInOrderAndIsolatesPanics(t *testing.T) {
	e := New(0)

	var got []string
	e.AddConversationListener(func(ev ConversationEvent) {
		got = append(got, "a:"+ev.Type)
	})
	e.AddConversationListener(func(ev ConversationEvent) {
		panic("boom")
	})
	e.AddConversationListener(func(ev ConversationEvent) {
		got = append(got, "c:"+ev.Type)
	})

	e.EmitConversation(ConversationEvent{Type: "status"})

	require.Equal(t, []string{"a:status", "c:status"}, got)
}

func TestDebugEvents_RecordedWhenDisabledNotDelivered(t *testing.T) {
	e := New(4)

	var got []DebugEvent
	e.AddDebugListener(func(ev DebugEvent) { got = append(got, ev) })

	e.EmitDebug(DebugEvent{Kind: DebugInfo, Msg: "one"})
	assert.Empty(t, got, "debug disabled: no live delivery")
}

func TestDebugEvents_EnableFlushesBacklogThenSyntheticThenLive(t *testing.T) {
	e := New(4)
	e.EmitDebug(DebugEvent{Kind: DebugInfo, Msg: "backlog-1"})
	e.EmitDebug(DebugEvent{Kind: DebugInfo, Msg: "backlog-2"})
	e.SetDebugEnabled(true)

	var got []DebugEvent
	e.AddDebugListener(func(ev DebugEvent) { got = append(got, ev) })

	require.Len(t, got, 3)
	assert.Equal(t, "backlog-1", got[0].Msg)
	assert.Equal(t, "backlog-2", got[1].Msg)
	assert.Equal(t, "debug enabled", got[2].Msg)

	e.EmitDebug(DebugEvent{Kind: DebugEvent, Msg: "live"})
	require.Len(t, got, 4)
	assert.Equal(t, "live", got[3].Msg)
}

func TestDebugRing_BoundedCapacityEvictsOldest(t *testing.T) {
	e := New(2)
	e.SetDebugEnabled(true)
	e.EmitDebug(DebugEvent{Msg: "1"})
	e.EmitDebug(DebugEvent{Msg: "2"})
	e.EmitDebug(DebugEvent{Msg: "3"})

	var got []DebugEvent
	e.AddDebugListener(func(ev DebugEvent) { got = append(got, ev) })

	require.Len(t, got, 3) // "2", "3", synthetic
	assert.Equal(t, "2", got[0].Msg)
	assert.Equal(t, "3", got[1].Msg)
}

func TestListenerCounts(t *testing.T) {
	e := New(0)
	unsub := e.AddConversationListener(func(ConversationEvent) {})
	e.AddDebugListener(func(DebugEvent) {})
	assert.Equal(t, 1, e.ConversationListenerCount())
	assert.Equal(t, 1, e.DebugListenerCount())
	unsub()
	assert.Equal(t, 0, e.ConversationListenerCount())
}
