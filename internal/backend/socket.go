package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Socket.IO v4 packet types, restricted to the subset this client speaks.
// There is no Socket.IO client anywhere in the retrieved corpus, so the
// read-loop/channel-fanout shape is lifted from the gateway websocket
// adapter and the wire framing is hand-rolled against the protocol spec.
const (
	engineIOOpen    = '0'
	engineIOPing    = '2'
	engineIOPong    = '3'
	engineIOMessage = '4'

	socketIOConnect    = '0'
	socketIODisconnect = '1'
	socketIOEvent      = '2'
)

const (
	backoffBase = 250 * time.Millisecond
	backoffCap  = 5 * time.Second
)

// Transcript mirrors the `transcript` / `catchup-transcripts` payload shape
// (spec.md §6.3).
type Transcript struct {
	Role        string       `json:"role"`
	Text        string       `json:"text"`
	IsFinal     bool         `json:"isFinal"`
	Timestamp   int64        `json:"timestamp"`
	ItemID      string       `json:"itemId,omitempty"`
	StartedAt   int64        `json:"startedAt,omitempty"`
	FinalizedAt int64        `json:"finalizedAt,omitempty"`
	Media       *MediaWire   `json:"media,omitempty"`
}

// MediaWire is the wire shape of an attached media reference.
type MediaWire struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	URL        string `json:"url,omitempty"`
	Thumbnail  string `json:"thumbnail,omitempty"`
	Caption    string `json:"caption,omitempty"`
	AnimationID string `json:"animationId,omitempty"`
}

// TranscriptError is the `transcript-error` payload.
type TranscriptError struct {
	Message string `json:"message"`
}

// Snapshot is returned by getSnapshot for diagnostics/UI display.
type Snapshot struct {
	Enabled               bool
	Connected             bool
	ConsecutiveFailures   int
	LastReceivedTimestamp int64
}

// SocketCallbacks groups the lifecycle hooks spec.md §4.8 assigns to the
// Backend Socket Client.
type SocketCallbacks struct {
	OnConnect    func()
	OnDisconnect func(reason string)
	OnReconnect  func()
	OnTranscript func(Transcript)
	OnCatchup    func([]Transcript)
	OnError      func(TranscriptError)
	OnFailure    func(err error, attempt int)
	OnMaxFailures func()
	OnDebug      func(kind, message string)
}

// SocketClient is the interface the controller holds, per spec.md §4.8,
// so tests can swap it for a fake.
type SocketClient interface {
	Connect(ctx context.Context) error
	Disconnect()
	JoinSession(sessionID string)
	RequestCatchup(sessionID string, since int64)
	Emit(event string, payload any)
	IsEnabled() bool
	SetEnabled(enabled bool)
	GetSnapshot() Snapshot
}

// Socket is the production SocketClient, a minimal Engine.IO/Socket.IO v4
// text-frame client over gorilla/websocket.
type Socket struct {
	url             string
	dialer          websocket.Dialer
	cb              SocketCallbacks
	maxFailures     int

	mu                  sync.Mutex
	conn                *websocket.Conn
	enabled             bool
	connected           bool
	consecutiveFailures int
	lastReceivedTs      int64
	sessionID           string
	cancel              context.CancelFunc
	everConnected       bool
}

// NewSocket builds a Socket against wsURL (origin + "<path>/socket.io/",
// translated to ws(s) scheme), with a default failure budget of
// maxFailures (0 uses spec.md's default of 3).
func NewSocket(wsURL string, maxFailures int, cb SocketCallbacks) *Socket {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	return &Socket{
		url:         wsURL,
		maxFailures: maxFailures,
		cb:          cb,
		enabled:     true,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 5 * time.Second,
		},
	}
}

// Connect dials the socket namespace and starts the background read loop.
// It retries with exponential backoff (250ms*2^n capped at 5s) up to the
// failure budget before disabling itself and calling OnMaxFailures.
func (s *Socket) Connect(ctx context.Context) error {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return errors.New("socket disabled")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	return s.dialWithRetry(ctx)
}

func (s *Socket) dialWithRetry(ctx context.Context) error {
	attempt := 0
	for {
		err := s.dialOnce(ctx)
		if err == nil {
			return nil
		}

		s.mu.Lock()
		s.consecutiveFailures++
		failures := s.consecutiveFailures
		s.mu.Unlock()

		attempt++
		if s.cb.OnFailure != nil {
			s.cb.OnFailure(err, attempt)
		}

		if failures >= s.maxFailures {
			s.mu.Lock()
			s.enabled = false
			s.mu.Unlock()
			if s.cb.OnMaxFailures != nil {
				s.cb.OnMaxFailures()
			}
			return fmt.Errorf("socket disabled after %d consecutive failures: %w", failures, err)
		}

		wait := backoffBase * time.Duration(1<<uint(attempt-1))
		if wait > backoffCap {
			wait = backoffCap
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (s *Socket) dialOnce(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("socket dial: %w", err)
	}

	s.mu.Lock()
	reconnecting := s.everConnected
	s.conn = conn
	s.connected = true
	s.consecutiveFailures = 0
	s.everConnected = true
	sessionID := s.sessionID
	since := s.lastReceivedTs
	s.mu.Unlock()

	s.debug("info", "socket connected")
	go s.readLoop(ctx, conn)

	if sessionID != "" {
		s.JoinSession(sessionID)
	}
	if reconnecting {
		if s.cb.OnReconnect != nil {
			s.cb.OnReconnect()
		}
		s.RequestCatchup(sessionID, since)
	} else if s.cb.OnConnect != nil {
		s.cb.OnConnect()
	}
	return nil
}

func (s *Socket) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleDisconnect(ctx, err)
			return
		}
		s.handleFrame(data)
	}
}

func (s *Socket) handleDisconnect(ctx context.Context, err error) {
	s.mu.Lock()
	s.connected = false
	s.conn = nil
	enabled := s.enabled
	s.mu.Unlock()

	reason := "closed"
	if err != nil {
		reason = err.Error()
	}
	s.debug("warn", "socket disconnected: "+reason)
	if s.cb.OnDisconnect != nil {
		s.cb.OnDisconnect(reason)
	}

	if !enabled || ctx.Err() != nil {
		return
	}
	go func() {
		_ = s.dialWithRetry(ctx)
	}()
}

func (s *Socket) handleFrame(data []byte) {
	if len(data) == 0 {
		return
	}
	switch data[0] {
	case engineIOOpen:
		return
	case engineIOPing:
		s.writeRaw(string(engineIOPong))
		return
	case engineIOMessage:
		s.handleSocketIOPacket(data[1:])
	}
}

func (s *Socket) handleSocketIOPacket(data []byte) {
	if len(data) == 0 {
		return
	}
	switch data[0] {
	case socketIOConnect:
		return
	case socketIODisconnect:
		return
	case socketIOEvent:
		s.handleEvent(data[1:])
	}
}

func (s *Socket) handleEvent(data []byte) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || len(raw) == 0 {
		s.debug("error", "malformed socket event frame")
		return
	}
	var name string
	if err := json.Unmarshal(raw[0], &name); err != nil {
		return
	}
	var payload json.RawMessage
	if len(raw) > 1 {
		payload = raw[1]
	}

	switch name {
	case "transcript":
		var t Transcript
		if err := json.Unmarshal(payload, &t); err != nil {
			s.debug("error", "malformed transcript event")
			return
		}
		s.bumpLastReceived(t.Timestamp)
		if s.cb.OnTranscript != nil {
			s.cb.OnTranscript(t)
		}
	case "transcript-error":
		var e TranscriptError
		_ = json.Unmarshal(payload, &e)
		if s.cb.OnError != nil {
			s.cb.OnError(e)
		}
	case "catchup-transcripts":
		var batch []Transcript
		if err := json.Unmarshal(payload, &batch); err != nil {
			s.debug("error", "malformed catchup-transcripts event")
			return
		}
		for _, t := range batch {
			s.bumpLastReceived(t.Timestamp)
		}
		if s.cb.OnCatchup != nil {
			s.cb.OnCatchup(batch)
		}
	default:
		s.debug("info", "unhandled socket event: "+name)
	}
}

func (s *Socket) bumpLastReceived(ts int64) {
	s.mu.Lock()
	if ts > s.lastReceivedTs {
		s.lastReceivedTs = ts
	}
	s.mu.Unlock()
}

// Disconnect tears down the connection and disables reconnect attempts
// driven by this client (does not flip the enabled flag so callers can
// Connect again later).
func (s *Socket) Disconnect() {
	s.mu.Lock()
	cancel := s.cancel
	conn := s.conn
	s.conn = nil
	s.connected = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}
}

// JoinSession emits `join-session <sessionId>` and remembers the session
// for catch-up requests on reconnect.
func (s *Socket) JoinSession(sessionID string) {
	s.mu.Lock()
	s.sessionID = sessionID
	s.mu.Unlock()
	s.Emit("join-session", sessionID)
}

// RequestCatchup emits `request-catchup {sessionId, since}`.
func (s *Socket) RequestCatchup(sessionID string, since int64) {
	s.Emit("request-catchup", map[string]any{"sessionId": sessionID, "since": since})
}

// Emit sends a Socket.IO event frame: `42["event",payload]`.
func (s *Socket) Emit(event string, payload any) {
	body, err := json.Marshal([]any{event, payload})
	if err != nil {
		s.debug("error", "emit marshal failed: "+err.Error())
		return
	}
	s.writeRaw(string(engineIOMessage) + string(socketIOEvent) + string(body))
}

func (s *Socket) writeRaw(frame string) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(3 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		s.debug("warn", "socket write failed: "+err.Error())
	}
}

// IsEnabled reports whether the failure budget has not yet been exhausted.
func (s *Socket) IsEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// SetEnabled lets the controller re-arm the client after a deliberate
// disable (e.g. user toggling voice off and back on).
func (s *Socket) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	if enabled {
		s.consecutiveFailures = 0
	}
	s.mu.Unlock()
}

// GetSnapshot returns a diagnostic snapshot for the UI.
func (s *Socket) GetSnapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Enabled:               s.enabled,
		Connected:             s.connected,
		ConsecutiveFailures:   s.consecutiveFailures,
		LastReceivedTimestamp: s.lastReceivedTs,
	}
}

func (s *Socket) debug(kind, msg string) {
	slog.Debug("backend socket", "kind", kind, "msg", msg)
	if s.cb.OnDebug != nil {
		s.cb.OnDebug(kind, msg)
	}
}

// SocketURLFromBase derives the socket namespace URL from the HTTP base
// URL: origin + "<path>/socket.io/" with the scheme translated to ws(s),
// per spec.md §4.8.
func SocketURLFromBase(httpBaseURL string) (string, error) {
	u := httpBaseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	default:
		return "", fmt.Errorf("unsupported base url scheme: %s", httpBaseURL)
	}
	u = strings.TrimSuffix(u, "/")
	return u + "/socket.io/?EIO=4&transport=websocket", nil
}
