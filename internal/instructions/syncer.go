// Package instructions implements the Instruction Syncer: it pulls
// updated persona/gate-driven instructions from the backend, dedupes
// against the last hash sent, and pushes session.update on the data
// channel.
package instructions

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
)

// Fetcher is the narrow HTTP seam: calls the instructions endpoint and
// returns the response per spec.md §6.1 `POST /api/voice/instructions`.
type Fetcher interface {
	FetchInstructions(sessionID, phase string, gate map[string]any) (Response, error)
}

// Response mirrors the instructions endpoint's response body.
type Response struct {
	Instructions    string
	Phase           string
	OutstandingGate []string
	RoleID          string
	AvailableRoles  []string
}

// Sender pushes a session.update payload on the data channel, queuing it
// internally if the session is not yet ack'd (the implementation's
// responsibility; the Controller's sendRaw does this queuing).
type Sender interface {
	SendSessionUpdate(instructions string) error
}

// Syncer coordinates fetch -> dedupe -> send -> UI notify.
type Syncer struct {
	sessionID string
	fetcher   Fetcher
	sender    Sender
	onSynced  func(Response)
	onDebug   func(kind, msg string)

	mu         sync.Mutex
	lastHash   string
	inFlight   map[string]bool
}

// Config configures a Syncer.
type Config struct {
	SessionID string
	Fetcher   Fetcher
	Sender    Sender
	OnSynced  func(Response)
	OnDebug   func(kind, msg string)
}

// New creates a Syncer.
func New(cfg Config) *Syncer {
	return &Syncer{
		sessionID: cfg.SessionID,
		fetcher:   cfg.Fetcher,
		sender:    cfg.Sender,
		onSynced:  cfg.OnSynced,
		onDebug:   cfg.OnDebug,
		inFlight:  make(map[string]bool),
	}
}

// Refresh fetches fresh instructions for the given reason (triggers:
// session start, session.updated, phase change, gate mutation). Overlapping
// refreshes for the same reason collapse into one in-flight call, per
// spec.md §4.9's dedup-by-reason requirement.
func (s *Syncer) Refresh(reason, phase string, gate map[string]any) error {
	s.mu.Lock()
	if s.inFlight[reason] {
		s.mu.Unlock()
		s.debug("event", "refresh collapsed: "+reason)
		return nil
	}
	s.inFlight[reason] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inFlight, reason)
		s.mu.Unlock()
	}()

	resp, err := s.fetcher.FetchInstructions(s.sessionID, phase, gate)
	if err != nil {
		return fmt.Errorf("fetch instructions: %w", err)
	}

	hash := hashOf(resp.Instructions, resp.Phase, resp.OutstandingGate)

	s.mu.Lock()
	unchanged := hash == s.lastHash
	if !unchanged {
		s.lastHash = hash
	}
	s.mu.Unlock()

	if unchanged {
		s.debug("event", "instructions unchanged, not sending")
		return nil
	}

	if err := s.sender.SendSessionUpdate(resp.Instructions); err != nil {
		return fmt.Errorf("send session update: %w", err)
	}

	if s.onSynced != nil {
		s.onSynced(resp)
	}
	return nil
}

func (s *Syncer) debug(kind, msg string) {
	if s.onDebug != nil {
		s.onDebug(kind, msg)
	}
}

func hashOf(instructions, phase string, gate []string) string {
	payload := struct {
		Instructions string   `json:"instructions"`
		Phase        string   `json:"phase"`
		Gate         []string `json:"gate"`
	}{instructions, phase, gate}
	b, _ := json.Marshal(payload)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
