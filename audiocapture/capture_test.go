package audiocapture

import (
	"errors"
	"runtime"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name       string
		sampleRate int
	}{
		{"explicit_48k", 48000},
		{"zero_uses_default", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.sampleRate)

			// Platform-dependent behavior
			if runtime.GOOS != "darwin" {
				if !errors.Is(err, ErrNotSupported) {
					t.Fatalf("expected ErrNotSupported on %s, got %v", runtime.GOOS, err)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if c == nil {
				t.Fatal("expected non-nil Capture")
			}
			want := tt.sampleRate
			if want == 0 {
				want = DefaultSampleRate
			}
			if got := c.SampleRate(); got != want {
				t.Fatalf("SampleRate() = %d, want %d", got, want)
			}
		})
	}
}

func TestDoubleStart(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if runtime.GOOS != "darwin" {
		t.Skip("skipping on non-darwin")
	}

	c, err := New(0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Stop()

	// First start should succeed
	if err := c.Start(func([]float32) {}); err != nil {
		t.Fatalf("first Start: %v", err)
	}

	// Second start should fail
	if err := c.Start(func([]float32) {}); !errors.Is(err, ErrAlreadyCapturing) {
		t.Fatalf("expected ErrAlreadyCapturing, got %v", err)
	}
}

func TestStopIdempotent(t *testing.T) {
	if runtime.GOOS != "darwin" {
		t.Skip("skipping on non-darwin")
	}

	c, err := New(0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Stop without start should be safe
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop without Start: %v", err)
	}

	// Double stop should be safe
	if err := c.Stop(); err != nil {
		t.Fatalf("double Stop: %v", err)
	}
}

func TestStartOnUnsupportedPlatformReturnsErrNotSupported(t *testing.T) {
	if runtime.GOOS == "darwin" {
		t.Skip("ScreenCaptureKit is available on darwin")
	}

	if _, err := New(0); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("expected ErrNotSupported, got %v", err)
	}
}
