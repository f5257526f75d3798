// Package vad implements the client-side adaptive voice-activity estimator:
// it tracks ambient noise and recent signal peaks from per-frame RMS
// samples and recommends server turn_detection parameters.
package vad

import "math"

// Category classifies the current ambient noise level.
type Category string

const (
	CategoryQuiet     Category = "quiet"
	CategoryNoisy     Category = "noisy"
	CategoryVeryNoisy Category = "very-noisy"
)

// Recommendation is the turn_detection parameters advised for a Category.
type Recommendation struct {
	Threshold float64
	SilenceMs int
}

var recommendations = map[Category]Recommendation{
	CategoryQuiet:     {Threshold: 0.30, SilenceMs: 220},
	CategoryNoisy:     {Threshold: 0.45, SilenceMs: 320},
	CategoryVeryNoisy: {Threshold: 0.60, SilenceMs: 450},
}

// RecommendationFor returns the advisory turn_detection parameters for cat.
func RecommendationFor(cat Category) Recommendation {
	return recommendations[cat]
}

const (
	// noiseFloorAlpha/signalPeakAlpha are EMA smoothing factors: small for
	// the floor (slow-moving, robust to transient loud bursts), larger for
	// the peak (should track recent speech loudness responsively).
	noiseFloorAlpha = 0.05
	signalPeakAlpha = 0.2

	// quietRMS below this level, a frame counts toward the noise floor
	// rather than the signal peak estimate.
	quietRMS = 0.08

	// snrNoisyDb / snrVeryNoisyDb are the SNR thresholds (in dB) separating
	// quiet/noisy/very-noisy categories.
	snrNoisyDb     = 18.0
	snrVeryNoisyDb = 8.0

	// hysteresisThreshold: a category change is only actioned when the new
	// category's threshold differs from the last-sent one by more than
	// this delta, to avoid flapping session.update calls.
	hysteresisThreshold = 0.05
)

// Adaptive tracks noise floor and signal peak EMAs over per-frame RMS
// samples and categorizes ambient SNR.
type Adaptive struct {
	noiseFloor float64
	signalPeak float64
	warm       bool

	lastCategory     Category
	lastSentThresh   float64
	hasSentThreshold bool
}

// New creates an Adaptive estimator with sane initial EMA seeds.
func New() *Adaptive {
	return &Adaptive{
		noiseFloor: 0.02,
		signalPeak: 0.3,
		lastCategory: CategoryQuiet,
	}
}

// Observe folds in one RMS sample (already unit-centered, clamped 0..1 per
// the Audio Stream Manager's analyser) and returns the current category and
// whether it changed enough (beyond hysteresis) to warrant a fresh
// recommendation.
func (a *Adaptive) Observe(rms float64) (cat Category, changed bool) {
	if rms < quietRMS {
		a.noiseFloor = ema(a.noiseFloor, rms, noiseFloorAlpha)
	} else {
		a.signalPeak = ema(a.signalPeak, rms, signalPeakAlpha)
	}
	a.warm = true

	cat = a.categorize()
	rec := recommendations[cat]

	changed = cat != a.lastCategory ||
		!a.hasSentThreshold ||
		math.Abs(rec.Threshold-a.lastSentThresh) > hysteresisThreshold

	if changed {
		a.lastCategory = cat
		a.lastSentThresh = rec.Threshold
		a.hasSentThreshold = true
	}
	return cat, changed
}

// Category returns the last computed category without observing a new sample.
func (a *Adaptive) Category() Category {
	return a.categorize()
}

func (a *Adaptive) categorize() Category {
	snr := snrDb(a.signalPeak, a.noiseFloor)
	switch {
	case snr >= snrNoisyDb:
		return CategoryQuiet
	case snr >= snrVeryNoisyDb:
		return CategoryNoisy
	default:
		return CategoryVeryNoisy
	}
}

func snrDb(signal, noise float64) float64 {
	if noise <= 0 {
		noise = 1e-6
	}
	if signal <= 0 {
		signal = 1e-6
	}
	return 20 * math.Log10(signal/noise)
}

func ema(prev, sample, alpha float64) float64 {
	return prev + alpha*(sample-prev)
}
