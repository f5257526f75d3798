package fingerprint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensps/voicecore/internal/types"
)

func TestCompute_NormalizesTextAndTimestamp(t *testing.T) {
	a := Compute("sess-1", types.RoleUser, 1000, "Hello   Doctor")
	b := Compute("sess-1", types.RoleUser, 1050, "hello doctor")
	assert.Equal(t, a, b, "rounding and normalization should collapse near-identical events")
}

func TestCompute_DiffersByRole(t *testing.T) {
	a := Compute("sess-1", types.RoleUser, 1000, "hi")
	b := Compute("sess-1", types.RoleAssistant, 1000, "hi")
	assert.NotEqual(t, a, b)
}

func TestSet_SeenWithinWindow(t *testing.T) {
	s := NewSet()
	now := time.Unix(0, 0)
	s.nowFunc = func() time.Time { return now }

	fp := Compute("sess-1", types.RoleUser, 1000, "good morning")
	require.False(t, s.Seen(fp))

	s.Record(fp)
	require.True(t, s.Seen(fp))

	now = now.Add(29 * time.Second)
	require.True(t, s.Seen(fp), "still within the 30s window")

	now = now.Add(2 * time.Second)
	require.False(t, s.Seen(fp), "should be evicted once the window elapses")
}
