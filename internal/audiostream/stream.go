// Package audiostream owns microphone ownership, RMS metering, and remote
// audio playback. MicSource mirrors audiocapture.Capture's start/stop/
// single-callback shape so the platform capture package can implement it
// directly; the default encode path is lifted from
// livetranslate/openai/webrtc_client.go's SendAudio.
package audiostream

import (
	"fmt"
	"math"
	"sync"
	"time"

	opuscodec "github.com/jj11hh/opus"
	"github.com/pion/webrtc/v4/pkg/media"
)

// MicSource abstracts microphone capture so hosts without getUserMedia can
// supply a functional equivalent, per spec.md §9.
type MicSource interface {
	Start(onSamples func(samples []float32)) error
	Stop() error
	SampleRate() int
}

// SampleWriter is satisfied by webrtcmgr's local audio track.
type SampleWriter interface {
	WriteSample(s media.Sample) error
}

// RemoteSink abstracts remote audio playback (the browser's
// HTMLAudioElement), with a raised-cosine fade-in over fadeInDuration.
type RemoteSink interface {
	Bind() error
	SetVolume(v float64)
	Unbind()
}

const (
	fadeInDuration = 240 * time.Millisecond
	fadeInSteps    = 24
)

// Stream owns the mic source, the local encode pipeline, and optional
// remote playback fade-in.
type Stream struct {
	mic    MicSource
	writer SampleWriter
	remote RemoteSink

	encoder    *opuscodec.Encoder
	opusBuffer []byte

	onLevel func(level float64)

	mu      sync.Mutex
	running bool
	paused  bool

	fadeCancel chan struct{}
}

// New creates a Stream. writer may be nil until the WebRTC Manager has
// connected; SetWriter attaches it once available.
func New(mic MicSource, writer SampleWriter, remote RemoteSink, onLevel func(float64)) (*Stream, error) {
	enc, err := opuscodec.NewEncoder(48000, 2, opuscodec.AppRestrictedLowdelay)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	return &Stream{
		mic:        mic,
		writer:     writer,
		remote:     remote,
		encoder:    enc,
		opusBuffer: make([]byte, 1275),
		onLevel:    onLevel,
	}, nil
}

// SetWriter attaches the local audio track once the WebRTC Manager connects.
func (s *Stream) SetWriter(w SampleWriter) {
	s.mu.Lock()
	s.writer = w
	s.mu.Unlock()
}

// Start begins microphone capture, routing samples through RMS metering and
// the Opus-encode-then-WriteSample pipeline.
func (s *Stream) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	return s.mic.Start(s.handleSamples)
}

func (s *Stream) handleSamples(samples []float32) {
	level := calculateRMS(samples)
	if s.onLevel != nil {
		s.onLevel(level)
	}

	s.mu.Lock()
	paused := s.paused
	writer := s.writer
	s.mu.Unlock()

	if paused || writer == nil {
		return
	}

	n, err := s.encoder.EncodeFloat32(samples, s.opusBuffer)
	if err != nil {
		return
	}
	_ = writer.WriteSample(media.Sample{
		Data:     s.opusBuffer[:n],
		Duration: time.Duration(len(samples)/2) * time.Second / 48000,
	})
}

// Stop halts capture and any active fade-in, unbinding remote playback.
func (s *Stream) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	fadeCancel := s.fadeCancel
	s.fadeCancel = nil
	s.mu.Unlock()

	if fadeCancel != nil {
		close(fadeCancel)
	}
	if s.remote != nil {
		s.remote.Unbind()
	}
	return s.mic.Stop()
}

// BindRemote binds the remote stream and ramps its volume 0 -> 1 over
// fadeInDuration using a raised-cosine easing, so the first syllable does
// not thump (spec.md §4.3).
func (s *Stream) BindRemote() error {
	if s.remote == nil {
		return nil
	}
	if err := s.remote.Bind(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.fadeCancel != nil {
		close(s.fadeCancel)
	}
	cancel := make(chan struct{})
	s.fadeCancel = cancel
	s.mu.Unlock()

	go s.runFade(cancel)
	return nil
}

func (s *Stream) runFade(cancel chan struct{}) {
	ticker := time.NewTicker(fadeInDuration / fadeInSteps)
	defer ticker.Stop()

	step := 0
	for {
		select {
		case <-cancel:
			return
		case <-ticker.C:
			step++
			progress := float64(step) / float64(fadeInSteps)
			if progress > 1 {
				progress = 1
			}
			// Raised-cosine easing: smooth start and end of ramp.
			v := 0.5 * (1 - math.Cos(math.Pi*progress))
			s.remote.SetVolume(v)
			if progress >= 1 {
				return
			}
		}
	}
}

func calculateRMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		f := float64(v)
		sum += f * f
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms > 1 {
		rms = 1
	}
	if rms < 0 {
		rms = 0
	}
	return rms
}
