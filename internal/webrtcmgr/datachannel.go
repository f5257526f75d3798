package webrtcmgr

import (
	"log/slog"

	"github.com/pion/webrtc/v4"
)

// DataChannelConfig groups the four callbacks spec.md §4.11 assigns to the
// Data Channel Configurator, generalizing the teacher's single
// dc.OnOpen/dc.OnMessage wiring in webrtc_client.go.
type DataChannelConfig struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnError   func(err error, channelOpen bool)
	OnClose   func()
}

func configureDataChannel(dc *webrtc.DataChannel, cfg DataChannelConfig) {
	dc.OnOpen(func() {
		slog.Debug("webrtcmgr: data channel open")
		if cfg.OnOpen != nil {
			cfg.OnOpen()
		}
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if cfg.OnMessage != nil {
			cfg.OnMessage(msg.Data)
		}
	})

	dc.OnError(func(err error) {
		open := dc.ReadyState() == webrtc.DataChannelStateOpen
		if cfg.OnError != nil {
			cfg.OnError(err, open)
		}
	})

	dc.OnClose(func() {
		slog.Debug("webrtcmgr: data channel closed")
		if cfg.OnClose != nil {
			cfg.OnClose()
		}
	})
}
