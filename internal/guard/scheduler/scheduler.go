// Package scheduler provides cancellable one-shot keyed timers for
// deadline-driven state transitions.
package scheduler

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler owns one pending timer per key. Scheduling on an existing key
// replaces its timer. Cancellation is best-effort: a callback that already
// fired must re-validate state before acting.
type Scheduler struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	logger  *zap.Logger
	stopped bool
}

// New creates an empty Scheduler.
func New(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		timers: make(map[string]*time.Timer),
		logger: logger.Named("scheduler"),
	}
}

// Schedule registers fn to run once after delay. An existing timer for the
// same key is stopped and replaced.
func (s *Scheduler) Schedule(key string, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	if existing, ok := s.timers[key]; ok {
		existing.Stop()
		s.logger.Debug("Replaced scheduled callback", zap.String("key", key))
	}

	// The callback removes only its own entry: a replacement scheduled
	// while it is in flight must stay cancellable.
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.timers[key] == timer {
			delete(s.timers, key)
		}
		s.mu.Unlock()

		fn()
	})
	s.timers[key] = timer
}

// Cancel stops the timer for the given key. Returns true if a pending timer
// was found; false means the timer already fired or never existed.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer, ok := s.timers[key]
	if !ok {
		return false
	}

	delete(s.timers, key)

	return timer.Stop()
}

// Stop cancels all pending timers and rejects further scheduling.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true

	for key, timer := range s.timers {
		timer.Stop()
		delete(s.timers, key)
	}
}
