// Command voicecored is a headless demo harness for the conversation
// core: it has no browser, so it supplies its own MicSource (system
// audio capture where available) and a RemoteSink that just logs the
// bind/unbind lifecycle, and prints every conversation and debug event
// to stdout until interrupted.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/opensps/voicecore"
	"github.com/opensps/voicecore/audiocapture"
	"github.com/opensps/voicecore/internal/audiostream"
	"github.com/opensps/voicecore/internal/config"
	"github.com/opensps/voicecore/internal/emitter"
	"github.com/opensps/voicecore/internal/types"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	slog.SetLogLoggerLevel(slog.LevelDebug)
	slog.Info("starting voicecored", "version", version, "commit", commit)

	apiBaseURL := flag.String("api-base-url", "http://localhost:8080", "base URL of the encounter backend")
	personaID := flag.String("persona", "", "persona ID for the encounter")
	scenarioID := flag.String("scenario", "", "scenario ID for the encounter")
	faculty := flag.Bool("faculty", false, "run as the faculty audience instead of student")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		cfg = config.Default()
	}

	audience := types.AudienceStudent
	if *faculty {
		audience = types.AudienceFaculty
	}

	// Declared as the interface type, not *audiocapture.Capture: assigning
	// a nil *audiocapture.Capture to an audiostream.MicSource field would
	// leave a non-nil interface wrapping a nil pointer, and Controller's
	// nil check on MicSource would pass right before it dereferenced
	// nothing.
	var mic audiostream.MicSource
	if m, err := audiocapture.New(0); err != nil {
		slog.Warn("no microphone source available, running with audio disabled", "error", err)
	} else {
		mic = m
	}

	controller, err := voicecore.New(voicecore.Config{
		APIBaseURL:          *apiBaseURL,
		PersonaID:           *personaID,
		ScenarioID:          *scenarioID,
		Audience:            audience,
		STTFallbackMs:       int64(cfg.STTFallbackMs),
		STTExtendedMs:       int64(cfg.STTExtendedMs),
		MaxSocketFailures:   cfg.MaxSocketFailures,
		SessionAckTimeoutMs: cfg.SessionAckTimeoutMs,
		AdaptiveVADEnabled:  cfg.AdaptiveVADEnabled,
		BackendRelayEnabled: cfg.BackendRelayEnabled,
		MicSource:           mic,
		RemoteSink:          loggingRemoteSink{},
	})
	if err != nil {
		slog.Error("construct controller", "error", err)
		os.Exit(1)
	}

	controller.AddConversationListener(func(ev emitter.ConversationEvent) {
		slog.Info("conversation event", "type", ev.Type, "data", ev.Data)
	})
	controller.AddEventListener(func(ev emitter.DebugEvent) {
		switch ev.Kind {
		case emitter.DebugError:
			slog.Error("debug event", "msg", ev.Msg, "data", ev.Data)
		case emitter.DebugWarn:
			slog.Warn("debug event", "msg", ev.Msg, "data", ev.Data)
		default:
			slog.Debug("debug event", "kind", ev.Kind, "msg", ev.Msg, "data", ev.Data)
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := controller.Start(ctx); err != nil {
		slog.Error("start encounter", "error", err)
		os.Exit(1)
	}
	slog.Info("encounter started, type a line and press enter to speak it, Ctrl-C to stop")

	go readStdinLines(controller)

	<-ctx.Done()
	slog.Info("shutting down")
	controller.Stop()
}

// readStdinLines lets the demo operator type assistant-directed text
// turns without needing a working microphone.
func readStdinLines(controller *voicecore.Controller) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := controller.SendText(line); err != nil {
			slog.Warn("send text", "error", err)
		}
	}
}

// loggingRemoteSink stands in for the browser's HTMLAudioElement; it has
// nowhere to play audio so it just reports the bind lifecycle.
type loggingRemoteSink struct{}

func (loggingRemoteSink) Bind() error {
	slog.Info("remote audio track bound (playback not implemented in the CLI demo)")
	return nil
}

func (loggingRemoteSink) SetVolume(v float64) {
	slog.Debug("remote audio volume changed", "volume", v)
}

func (loggingRemoteSink) Unbind() {
	slog.Info("remote audio track unbound")
}
