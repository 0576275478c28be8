package protocol

import "github.com/finchly/deploylock/internal/model"

// RunState memoizes the lock observed on one host during one run, so
// the protocol steps agree on the lock's state without re-reading it.
// Each host's run gets its own instance; nothing here is shared.
type RunState struct {
	known   bool
	removed bool
	created bool
	lock    *model.Lock
}

// NewRunState returns the unchecked state for one host's run.
func NewRunState() *RunState {
	return &RunState{}
}

// Cached returns the memoized lock and whether the state is known. A
// known nil lock means the host was confirmed to have no lock, which
// is distinct from not having checked yet.
func (s *RunState) Cached() (*model.Lock, bool) {
	if s.removed {
		return nil, true
	}
	return s.lock, s.known
}

// Seed records the lock state without a remote read. Used both to
// cache fetch results and by create to store a freshly written record.
func (s *RunState) Seed(lock *model.Lock) {
	s.known = true
	s.removed = false
	s.lock = lock
}

// MarkRemoved records that the lock was deleted during this run.
// Subsequent lookups short-circuit to absent without touching the
// remote store, so a just-deleted lock is never reported as present.
func (s *RunState) MarkRemoved() {
	s.known = true
	s.removed = true
	s.lock = nil
}

// MarkCreated records that this run wrote the lock, which lets a later
// check step skip re-validating a lock the run itself just took.
func (s *RunState) MarkCreated() {
	s.created = true
}
