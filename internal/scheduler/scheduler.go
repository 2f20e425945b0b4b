// Package scheduler paces capture cycles to a target interval.
package scheduler

import (
	"sync"
	"time"
)

// DefaultInterval is the capture interval used when none is configured.
const DefaultInterval = 30 * time.Millisecond

// MaxInterval caps configurable intervals; a slower cadence makes the
// remote screen feel frozen.
const MaxInterval = time.Second

// Scheduler computes how long the capture loop should sleep after each
// cycle. If a cycle overran the interval the delay collapses to zero, so the
// loop never bursts to catch up and never waits longer than one interval.
type Scheduler struct {
	mu       sync.Mutex
	interval time.Duration
	begin    time.Time
	now      func() time.Time
}

// New returns a Scheduler for interval. A non-positive interval selects
// DefaultInterval.
func New(interval time.Duration) *Scheduler {
	s := &Scheduler{now: time.Now}
	s.SetInterval(interval)
	return s
}

// SetInterval changes the target interval. The start of the current cycle
// is kept.
func (s *Scheduler) SetInterval(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if interval > MaxInterval {
		interval = MaxInterval
	}
	s.mu.Lock()
	s.interval = interval
	s.mu.Unlock()
}

// Interval returns the current target interval.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// BeginCapture records the start of a capture cycle.
func (s *Scheduler) BeginCapture() {
	now := s.now()
	s.mu.Lock()
	s.begin = now
	s.mu.Unlock()
}

// NextDelay returns clamp(interval - elapsed, 0, interval), where elapsed
// is the time since the last BeginCapture.
func (s *Scheduler) NextDelay() time.Duration {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.begin.IsZero() {
		return s.interval
	}
	delay := s.interval - now.Sub(s.begin)
	if delay < 0 {
		return 0
	}
	if delay > s.interval {
		return s.interval
	}
	return delay
}
