// Package audiocapture provides system audio capture using ScreenCaptureKit,
// shaped directly as an internal/audiostream.MicSource: a single Start call
// takes the sample callback instead of registering it separately, since a
// live voice session has exactly one consumer of the mic stream.
package audiocapture

import (
	"errors"
	"sync"
)

// ErrAlreadyCapturing is returned when trying to start capture while already capturing.
var ErrAlreadyCapturing = errors.New("already capturing audio")

// ErrNotSupported is returned on platforms without a captureImpl (anything
// but darwin).
var ErrNotSupported = errors.New("audio capture not supported on this platform")

// Capture provides system audio capture functionality.
// It uses ScreenCaptureKit on macOS to capture system audio without
// requiring a virtual audio device like BlackHole. Implements
// internal/audiostream.MicSource.
type Capture struct {
	mu sync.Mutex

	capturing  bool
	sampleRate int

	impl captureImpl
}

// captureImpl is the platform-specific capture implementation interface.
type captureImpl interface {
	start(sampleRate int, callback func(samples []float32)) error
	stop() error
	isCapturing() bool
}

// DefaultSampleRate matches the 48kHz stereo the opus encoder in
// internal/audiostream drives.
const DefaultSampleRate = 48000

// New creates a new audio capture instance. A sampleRate of 0 uses
// DefaultSampleRate.
func New(sampleRate int) (*Capture, error) {
	if sampleRate == 0 {
		sampleRate = DefaultSampleRate
	}

	impl, err := newCaptureImpl()
	if err != nil {
		return nil, err
	}

	return &Capture{sampleRate: sampleRate, impl: impl}, nil
}

// Start begins capturing system audio, delivering samples to onSamples
// until Stop is called.
func (c *Capture) Start(onSamples func(samples []float32)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capturing {
		return ErrAlreadyCapturing
	}

	if err := c.impl.start(c.sampleRate, onSamples); err != nil {
		return err
	}

	c.capturing = true
	return nil
}

// Stop stops capturing audio. Safe to call when not capturing.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.capturing {
		return nil
	}

	err := c.impl.stop()
	c.capturing = false
	return err
}

// SampleRate returns the configured sample rate.
func (c *Capture) SampleRate() int {
	return c.sampleRate
}
