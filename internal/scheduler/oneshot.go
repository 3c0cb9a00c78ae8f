// Package scheduler runs delayed callbacks that can be superseded.
package scheduler

import (
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"
)

// MaxDelay is the longest delay a OneShot accepts
const MaxDelay = time.Duration(math.MaxInt64)

// ErrDelayTooLong is returned when a delay cannot be represented
var ErrDelayTooLong = errors.New("delay exceeds maximum schedulable interval")

// Timer is a pending callback that can be stopped
type Timer interface {
	Stop() bool
}

// Clock abstracts time so timers can be driven by tests
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

// RealClock returns a Clock backed by the time package
func RealClock() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// DelayFromSeconds converts whole seconds to a Duration, reporting false
// when the result would overflow
func DelayFromSeconds(secs int64) (time.Duration, bool) {
	if secs < 0 {
		return 0, false
	}
	if secs > int64(MaxDelay/time.Second) {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// OneShot holds at most one pending callback. Scheduling replaces the
// pending callback, and a callback whose generation has been superseded
// never runs.
type OneShot struct {
	mu         sync.Mutex
	clock      Clock
	logger     *slog.Logger
	timer      Timer
	generation uint64
	dueAt      time.Time
}

// NewOneShot creates a OneShot. A nil clock uses the wall clock.
func NewOneShot(clock Clock, logger *slog.Logger) *OneShot {
	if clock == nil {
		clock = RealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OneShot{
		clock:  clock,
		logger: logger.With("component", "scheduler"),
	}
}

// Schedule cancels any pending callback and arranges for fn to run after d.
// fn receives the generation it was scheduled under.
func (s *OneShot) Schedule(d time.Duration, fn func(generation uint64)) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.generation++
	gen := s.generation

	if d < 0 || d > MaxDelay {
		return gen, ErrDelayTooLong
	}

	s.dueAt = s.clock.Now().Add(d)
	s.timer = s.clock.AfterFunc(d, func() { s.fire(gen, fn) })

	s.logger.Debug("callback scheduled",
		slog.Uint64("generation", gen),
		slog.Duration("delay", d))
	return gen, nil
}

func (s *OneShot) fire(gen uint64, fn func(uint64)) {
	s.mu.Lock()
	if gen != s.generation || s.timer == nil {
		s.mu.Unlock()
		s.logger.Debug("stale callback dropped", slog.Uint64("generation", gen))
		return
	}
	s.timer = nil
	s.dueAt = time.Time{}
	s.mu.Unlock()

	fn(gen)
}

// Cancel stops the pending callback, if any
func (s *OneShot) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.generation++
}

func (s *OneShot) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.dueAt = time.Time{}
}

// Pending reports whether a callback is waiting to run
func (s *OneShot) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// DueAt returns when the pending callback will run
func (s *OneShot) DueAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dueAt, s.timer != nil
}

// Generation returns the current generation token
func (s *OneShot) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}
