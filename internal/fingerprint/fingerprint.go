// Package fingerprint computes dedupe keys for finalized turns and keeps a
// bounded-age set of fingerprints already seen, so a turn emitted locally in
// fallback mode does not reappear when the backend socket replays it.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/opensps/voicecore/internal/types"
)

// window is the bounded age after which a recorded fingerprint is forgotten,
// per spec.md §3/§9 ("set of fingerprints with bounded age (30s window)").
const window = 30 * time.Second

// roundTo is the timestamp bucket width; two events within the same bucket
// hash identically even if their startedAtMs differ by a few ms.
const roundTo = int64(200)

// Compute derives the deterministic dedupe key over
// (sessionId, role, roundedTimestamp, normalizedText), per spec.md §4.6's
// suppression key `(role, normalizedText, startedAtMs±200ms, itemId?)`.
// Channel is deliberately excluded: the backend socket's wire Transcript
// carries no channel, so a locally-recorded fallback final (real channel)
// and its later socket replay (no channel) would never match if channel
// were part of the hash.
func Compute(sessionID string, role types.Role, startedAtMs int64, text string) types.Fingerprint {
	rounded := (startedAtMs / roundTo) * roundTo
	normalized := normalize(text)
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%s", sessionID, role, rounded, normalized)
	return types.Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Set is a thread-safe, bounded-TTL set of fingerprints.
type Set struct {
	mu      sync.Mutex
	seen    map[types.Fingerprint]time.Time
	nowFunc func() time.Time
}

// NewSet creates an empty fingerprint set.
func NewSet() *Set {
	return &Set{
		seen:    make(map[types.Fingerprint]time.Time),
		nowFunc: time.Now,
	}
}

// Record marks fp as seen, starting its TTL window.
func (s *Set) Record(fp types.Fingerprint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()
	s.seen[fp] = s.nowFunc()
}

// Seen reports whether fp was recorded within the last 30 seconds.
func (s *Set) Seen(fp types.Fingerprint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()
	_, ok := s.seen[fp]
	return ok
}

// evictLocked drops entries older than window. Callers must hold s.mu.
func (s *Set) evictLocked() {
	now := s.nowFunc()
	for fp, t := range s.seen {
		if now.Sub(t) > window {
			delete(s.seen, fp)
		}
	}
}
