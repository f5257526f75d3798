package voicecore

import "sync/atomic"

// epoch implements the generation-counter cancellation pattern spec.md §5
// requires: stop() increments the epoch, and every suspension point
// captured under an earlier epoch must re-check it before mutating
// controller state. A stale check means a superseded start()/stop() cycle
// raced past this point and its result must be discarded.
type epoch struct {
	counter atomic.Uint64
}

// current returns the live epoch value, to be captured before any
// suspension point.
func (e *epoch) current() uint64 {
	return e.counter.Load()
}

// bump increments the epoch and returns the new value, invalidating every
// snapshot taken before this call.
func (e *epoch) bump() uint64 {
	return e.counter.Add(1)
}

// stale reports whether snapshot no longer matches the live epoch, i.e.
// whether a step resuming after an await should discard its result
// without mutating controller state.
func (e *epoch) stale(snapshot uint64) bool {
	return e.counter.Load() != snapshot
}
