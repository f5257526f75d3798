package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opensps/voicecore/internal/types"
)

func TestParseMediaMarker_NoMarkerPassesThrough(t *testing.T) {
	clean, media := parseMediaMarker("plain text", nil)
	assert.Equal(t, "plain text", clean)
	assert.Nil(t, media)
}

func TestParseMediaMarker_ResolvedStripsAndAttaches(t *testing.T) {
	resolver := func(id string) (types.Media, bool) {
		return types.Media{ID: id, Type: types.MediaVideo}, true
	}
	clean, media := parseMediaMarker("before [[MEDIA:vid-1]] after", resolver)
	assert.Equal(t, "before  after", clean)
	assert.NotNil(t, media)
	assert.Equal(t, "vid-1", media.ID)
}
