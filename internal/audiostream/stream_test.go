package audiostream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pion/webrtc/v4/pkg/media"
)

type fakeMic struct {
	onSamples func([]float32)
	sampleRate int
	stopped   bool
}

func (m *fakeMic) Start(cb func([]float32)) error { m.onSamples = cb; return nil }
func (m *fakeMic) Stop() error                     { m.stopped = true; return nil }
func (m *fakeMic) SampleRate() int                 { return m.sampleRate }

type fakeWriter struct {
	samples []media.Sample
}

func (w *fakeWriter) WriteSample(s media.Sample) error {
	w.samples = append(w.samples, s)
	return nil
}

func TestCalculateRMS_ClampedUnitCentered(t *testing.T) {
	assert.Equal(t, 0.0, calculateRMS(nil))
	assert.InDelta(t, 1.0, calculateRMS([]float32{2, 2, 2}), 0.001)
	assert.InDelta(t, 0.5, calculateRMS([]float32{0.5, 0.5}), 0.001)
}

func TestStream_PauseSuppressesWrites(t *testing.T) {
	mic := &fakeMic{sampleRate: 48000}
	writer := &fakeWriter{}
	s, err := New(mic, writer, nil, nil)
	require.NoError(t, err)

	require.NoError(t, s.Start())
	mic.onSamples(make([]float32, 960))
	require.Len(t, writer.samples, 1)

	s.Pause()
	s.Pause() // idempotent
	mic.onSamples(make([]float32, 960))
	assert.Len(t, writer.samples, 1, "paused: no new sample written")

	s.Resume()
	mic.onSamples(make([]float32, 960))
	assert.Len(t, writer.samples, 2)
}

func TestStream_StopStopsMic(t *testing.T) {
	mic := &fakeMic{sampleRate: 48000}
	s, err := New(mic, &fakeWriter{}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())
	assert.True(t, mic.stopped)
}
