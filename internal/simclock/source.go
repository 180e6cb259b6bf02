package simclock

import (
	"sync"
	"time"
)

// Source provides the current wall-clock time. It is the only place the
// clock reads real time, so tests can drive the clock deterministically.
type Source interface {
	Now() time.Time
}

// SystemSource reads the system clock.
type SystemSource struct{}

// Now returns the current UTC time.
func (SystemSource) Now() time.Time {
	return time.Now().UTC()
}

// ManualSource returns a time that only moves when told to.
// Safe for concurrent use.
type ManualSource struct {
	mu sync.Mutex
	t  time.Time
}

// NewManualSource creates a ManualSource starting at t.
func NewManualSource(t time.Time) *ManualSource {
	return &ManualSource{t: t}
}

// Now returns the current manual time.
func (s *ManualSource) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t
}

// Set moves the manual time to t.
func (s *ManualSource) Set(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t = t
}

// Advance moves the manual time forward by d and returns the new time.
func (s *ManualSource) Advance(d time.Duration) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t = s.t.Add(d)
	return s.t
}

// truncateMillis drops sub-millisecond precision so captured values match
// the millisecond units of SyncMessage.
func truncateMillis(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli()).UTC()
}
