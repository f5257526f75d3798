package audiostream

// Pause mutes outgoing mic samples without tearing down capture.
// pause();pause() is equivalent to pause(); pause();resume() returns the
// mic to its pre-pause state (spec.md §8 idempotence laws).
func (s *Stream) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume un-mutes outgoing mic samples.
func (s *Stream) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
}

// Paused reports the current pause state.
func (s *Stream) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}
