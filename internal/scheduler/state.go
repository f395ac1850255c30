package scheduler

import (
	"sync"
	"time"
)

// laneState tracks one feed lane: whether a cycle is in flight and the
// outcome of the most recent cycles. A lane fires at most one cycle at a
// time; manual triggers racing the automatic loop lose with ErrBusy.
type laneState struct {
	mu            sync.Mutex
	firing        bool
	lastFireAt    time.Time
	lastSuccess   string
	lastSuccessAt time.Time
	lastFailure   string
	lastFailureAt time.Time
}

// tryAcquire claims the lane for one cycle. Returns false when a cycle is
// already in flight.
func (s *laneState) tryAcquire(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firing {
		return false
	}
	s.firing = true
	s.lastFireAt = now
	return true
}

func (s *laneState) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.firing = false
}

func (s *laneState) recordSuccess(summary string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSuccess = summary
	s.lastSuccessAt = at
}

func (s *laneState) recordFailure(err error, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFailure = err.Error()
	s.lastFailureAt = at
}

// view copies the lane state for snapshot reporting.
func (s *laneState) view() laneState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return laneState{
		firing:        s.firing,
		lastFireAt:    s.lastFireAt,
		lastSuccess:   s.lastSuccess,
		lastSuccessAt: s.lastSuccessAt,
		lastFailure:   s.lastFailure,
		lastFailureAt: s.lastFailureAt,
	}
}
