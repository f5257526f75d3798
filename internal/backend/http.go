// Package backend implements the two external collaborators the
// conversation core consumes: the HTTP REST surface (spec.md §6.1) and the
// socket namespace (spec.md §6.3, §4.8). Grounded on
// livetranslate/openai/session.go's CreateSession/ExchangeSDP HTTP
// plumbing, generalized from OpenAI's own session-minting contract to this
// system's own backend contract.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/opensps/voicecore/internal/types"
)

// Timeouts per spec.md §6.1.
const (
	jsonTimeout = 15 * time.Second
	sdpTimeout  = 30 * time.Second
)

// HTTPClient is a thin wrapper mapping 1:1 onto the REST surface table in
// spec.md §6.1.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates an HTTPClient against baseURL. The transport is
// wrapped with otelhttp so every call carries a trace span.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// CreateSessionRequest is the body of POST /api/sessions.
type CreateSessionRequest struct {
	PersonaID  string `json:"persona_id"`
	ScenarioID string `json:"scenario_id"`
	Mode       string `json:"mode"`
}

// CreateSessionResponse is the response of POST /api/sessions.
type CreateSessionResponse struct {
	SessionID    string         `json:"session_id"`
	SPSSessionID string         `json:"sps_session_id"`
	Phase        string         `json:"phase"`
	Gate         map[string]any `json:"gate"`
	GateState    types.GateState `json:"gate_state"`
}

// CreateSession performs POST /api/sessions.
func (c *HTTPClient) CreateSession(ctx context.Context, req CreateSessionRequest) (CreateSessionResponse, error) {
	var resp CreateSessionResponse
	err := c.doJSON(ctx, jsonTimeout, "POST", "/api/sessions", req, &resp)
	return resp, err
}

// MintTokenRequest is the body of POST /api/voice/token.
type MintTokenRequest struct {
	SessionID          string `json:"session_id"`
	Voice              string `json:"voice,omitempty"`
	InputLanguage      string `json:"input_language,omitempty"`
	Model              string `json:"model,omitempty"`
	TranscriptionModel string `json:"transcription_model,omitempty"`
	ReplyLanguage      string `json:"reply_language,omitempty"`
	PersonaID          string `json:"persona_id,omitempty"`
	ScenarioID         string `json:"scenario_id,omitempty"`
}

// MintTokenResponse is the response of POST /api/voice/token.
type MintTokenResponse struct {
	RTCToken string `json:"rtc_token"`
	Model    string `json:"model"`
	TTSVoice string `json:"tts_voice"`
	Opts     struct {
		ExpiresAt int64 `json:"expires_at"`
	} `json:"opts"`
	Persona string `json:"persona"`
	Context string `json:"context"`
}

// MintToken performs POST /api/voice/token.
func (c *HTTPClient) MintToken(ctx context.Context, req MintTokenRequest) (MintTokenResponse, error) {
	var resp MintTokenResponse
	err := c.doJSON(ctx, jsonTimeout, "POST", "/api/voice/token", req, &resp)
	return resp, err
}

// ExchangeSDP performs POST /api/voice/sdp: body is the raw SDP offer text,
// response is the raw SDP answer text.
func (c *HTTPClient) ExchangeSDP(ctx context.Context, sessionID, offerSDP, rtcToken string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, sdpTimeout)
	defer cancel()

	url := c.baseURL + "/api/voice/sdp?session_id=" + sessionID
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(offerSDP))
	if err != nil {
		return "", fmt.Errorf("build sdp request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/sdp")
	httpReq.Header.Set("Authorization", "Bearer "+rtcToken)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("sdp exchange: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read sdp answer: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("sdp exchange status %d: %s", resp.StatusCode, string(body))
	}
	return string(body), nil
}

// FetchInstructionsRequest is the body of POST /api/voice/instructions.
type FetchInstructionsRequest struct {
	SessionID string         `json:"session_id"`
	Phase     string         `json:"phase,omitempty"`
	Gate      map[string]any `json:"gate,omitempty"`
	RoleID    string         `json:"role_id,omitempty"`
	Audience  string         `json:"audience,omitempty"`
}

// FetchInstructionsResponse is the response of POST /api/voice/instructions.
type FetchInstructionsResponse struct {
	Instructions    string   `json:"instructions"`
	Phase           string   `json:"phase"`
	OutstandingGate []string `json:"outstanding_gate"`
	RoleID          string   `json:"role_id"`
	AvailableRoles  []string `json:"available_roles"`
}

// FetchInstructions performs POST /api/voice/instructions.
func (c *HTTPClient) FetchInstructions(ctx context.Context, req FetchInstructionsRequest) (FetchInstructionsResponse, error) {
	var resp FetchInstructionsResponse
	err := c.doJSON(ctx, jsonTimeout, "POST", "/api/voice/instructions", req, &resp)
	return resp, err
}

// RelayTranscriptRequest is the body of POST /api/transcript/relay/:sessionId.
type RelayTranscriptRequest struct {
	Role         types.Role    `json:"role"`
	Text         string        `json:"text"`
	IsFinal      bool          `json:"isFinal"`
	Timestamp    int64         `json:"timestamp"`
	ItemID       string        `json:"itemId,omitempty"`
	StartedAt    int64         `json:"startedAt,omitempty"`
	FinalizedAt  int64         `json:"finalizedAt,omitempty"`
	EmittedAt    int64         `json:"emittedAt,omitempty"`
	Media        *MediaWire    `json:"media,omitempty"`
	Source       string        `json:"source,omitempty"`
}

// RelayTranscript performs POST /api/transcript/relay/:sessionId.
func (c *HTTPClient) RelayTranscript(ctx context.Context, sessionID string, req RelayTranscriptRequest) error {
	return c.doJSON(ctx, jsonTimeout, "POST", "/api/transcript/relay/"+sessionID, req, nil)
}

// PersistTurnsRequest is the body of POST /api/sessions/:id/sps/turns.
type PersistTurnsRequest struct {
	Turns []PersistTurn `json:"turns"`
}

// PersistTurn is one entry of PersistTurnsRequest.
type PersistTurn struct {
	Role         types.Role `json:"role"`
	Text         string     `json:"text"`
	Channel      types.Channel `json:"channel"`
	TimestampMs  int64      `json:"timestamp_ms"`
	StartedAtMs  int64      `json:"started_at_ms"`
	FinalizedAtMs int64     `json:"finalized_at_ms"`
	EmittedAtMs  int64      `json:"emitted_at_ms"`
}

// PersistTurnsResponse is the response of POST /api/sessions/:id/sps/turns.
type PersistTurnsResponse struct {
	OK         bool `json:"ok"`
	Received   int  `json:"received"`
	Saved      int  `json:"saved"`
	Duplicates int  `json:"duplicates"`
}

// PersistTurns performs POST /api/sessions/:id/sps/turns.
func (c *HTTPClient) PersistTurns(ctx context.Context, sessionID string, req PersistTurnsRequest) (PersistTurnsResponse, error) {
	var resp PersistTurnsResponse
	err := c.doJSON(ctx, jsonTimeout, "POST", "/api/sessions/"+sessionID+"/sps/turns", req, &resp)
	return resp, err
}

// EndSessionResponse is the response of POST /api/sessions/:id/end.
type EndSessionResponse struct {
	Summary string         `json:"summary"`
	Metrics map[string]any `json:"metrics"`
}

// EndSession performs POST /api/sessions/:id/end.
func (c *HTTPClient) EndSession(ctx context.Context, sessionID string) (EndSessionResponse, error) {
	var resp EndSessionResponse
	err := c.doJSON(ctx, jsonTimeout, "POST", "/api/sessions/"+sessionID+"/end", nil, &resp)
	return resp, err
}

func (c *HTTPClient) doJSON(ctx context.Context, timeout time.Duration, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// IsRetriableStatus reports whether a status code is a transient 5xx
// eligible for the Connection Orchestrator's retry policy (spec.md §4.1).
func IsRetriableStatus(status int) bool {
	return status >= 500 && status < 600
}
