// Package webrtcmgr owns the WebRTC peer connection: ICE/STUN setup, the
// microphone audio track, the `oai-events` data channel, and remote-track
// routing. Directly generalizes livetranslate/openai/webrtc_client.go's
// Client.Connect from a single-vendor client into the reusable manager
// spec.md §4.2 describes.
package webrtcmgr

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// ErrClosed is returned by operations attempted after Close.
var ErrClosed = errors.New("webrtcmgr: manager closed")

// SDPExchanger performs the SDP offer/answer exchange against the backend
// (spec.md §6.1 `POST /api/voice/sdp`), kept external to this package so
// the Connection Orchestrator owns retry/backoff policy.
type SDPExchanger interface {
	ExchangeSDP(ctx context.Context, offerSDP string) (answerSDP string, err error)
}

// RemoteTrackHandler receives the remote audio track once negotiated, to be
// handed to the Audio Stream Manager's RemoteSink.
type RemoteTrackHandler func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)

// Manager owns one peer connection for the lifetime of a voice session.
type Manager struct {
	mu   sync.Mutex
	pc   *webrtc.PeerConnection
	dc   *webrtc.DataChannel
	track *webrtc.TrackLocalStaticSample
	closed bool

	iceFailure chan error
}

// New creates an unconnected Manager.
func New() *Manager {
	return &Manager{iceFailure: make(chan error, 1)}
}

// Connect creates the peer connection with a vanilla STUN configuration,
// adds the sendrecv audio track, creates the "oai-events" data channel,
// performs the offer/answer dance via exchanger, and wires onTrack /
// onICEConnectionStateChange. onRemoteTrack receives the remote stream
// instead of the teacher's discard-loop.
func (m *Manager) Connect(ctx context.Context, exchanger SDPExchanger, cfg DataChannelConfig, onRemoteTrack RemoteTrackHandler) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.mu.Unlock()

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return fmt.Errorf("register codecs: %w", err)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	})
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}

	audioTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "voicecore-audio",
	)
	if err != nil {
		pc.Close()
		return fmt.Errorf("create audio track: %w", err)
	}
	if _, err := pc.AddTrack(audioTrack); err != nil {
		pc.Close()
		return fmt.Errorf("add audio track: %w", err)
	}

	dc, err := pc.CreateDataChannel("oai-events", nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("create data channel: %w", err)
	}
	configureDataChannel(dc, cfg)

	if onRemoteTrack != nil {
		pc.OnTrack(onRemoteTrack)
	} else {
		pc.OnTrack(discardRemoteTrack)
	}

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		if state == webrtc.ICEConnectionStateFailed || state == webrtc.ICEConnectionStateClosed {
			select {
			case m.iceFailure <- fmt.Errorf("ice connection %s", state.String()):
			default:
			}
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-webrtc.GatheringCompletePromise(pc):
	case <-ctx.Done():
		pc.Close()
		return ctx.Err()
	}

	answerSDP, err := exchanger.ExchangeSDP(ctx, pc.LocalDescription().SDP)
	if err != nil {
		pc.Close()
		return fmt.Errorf("exchange sdp: %w", err)
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}); err != nil {
		pc.Close()
		return fmt.Errorf("set remote description: %w", err)
	}

	m.mu.Lock()
	m.pc = pc
	m.dc = dc
	m.track = audioTrack
	m.mu.Unlock()

	return nil
}

func discardRemoteTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := track.Read(buf); err != nil {
				return
			}
		}
	}()
}

// ICEFailures exposes the channel carrying fatal ICE state transitions
// (failed/closed), surfaced by the Connection Orchestrator as a controller
// error rather than discarded.
func (m *Manager) ICEFailures() <-chan error {
	return m.iceFailure
}

// ActiveChannel returns the data channel, or nil if not yet connected.
func (m *Manager) ActiveChannel() *webrtc.DataChannel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dc
}

// IsActiveChannelOpen reports whether the data channel is open and ready
// to send.
func (m *Manager) IsActiveChannelOpen() bool {
	m.mu.Lock()
	dc := m.dc
	m.mu.Unlock()
	return dc != nil && dc.ReadyState() == webrtc.DataChannelStateOpen
}

// AudioTrack returns the local audio track for the Audio Stream Manager's
// mic pipeline to write samples into, or nil if not yet connected.
func (m *Manager) AudioTrack() *webrtc.TrackLocalStaticSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.track
}

// Close shuts down the channel first (a clean signal to the server), then
// the peer connection, mirroring the teacher's ordering intent (though the
// teacher itself closes only the peer connection).
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	if m.dc != nil {
		_ = m.dc.Close()
	}
	if m.pc != nil {
		return m.pc.Close()
	}
	return nil
}
