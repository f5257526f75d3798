package vad

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObserve_QuietRoomStaysQuiet(t *testing.T) {
	a := New()
	var cat Category
	for i := 0; i < 50; i++ {
		cat, _ = a.Observe(0.01)
	}
	assert.Equal(t, CategoryQuiet, cat)
}

func TestObserve_FloorCloseToSignalBecomesVeryNoisy(t *testing.T) {
	a := New()
	var cat Category
	// Alternate near-threshold "quiet" and "loud" samples so the noise
	// floor and signal peak EMAs converge close together, driving SNR down.
	for i := 0; i < 200; i++ {
		cat, _ = a.Observe(0.079)
		cat, _ = a.Observe(0.09)
	}
	assert.Equal(t, CategoryVeryNoisy, cat)
}

func TestRecommendationFor_MatchesSpecTable(t *testing.T) {
	assert.Equal(t, Recommendation{Threshold: 0.30, SilenceMs: 220}, RecommendationFor(CategoryQuiet))
	assert.Equal(t, Recommendation{Threshold: 0.45, SilenceMs: 320}, RecommendationFor(CategoryNoisy))
	assert.Equal(t, Recommendation{Threshold: 0.60, SilenceMs: 450}, RecommendationFor(CategoryVeryNoisy))
}

func TestObserve_FirstSampleAlwaysReportsChanged(t *testing.T) {
	a := New()
	_, changed := a.Observe(0.01)
	assert.True(t, changed)
}
