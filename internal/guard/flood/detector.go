// Package flood detects message flooding with a per-member sliding window.
package flood

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// key identifies one member's window in one group.
type key struct {
	MemberID uint64
	GroupID  uint64
}

// Detector keeps message timestamps per (member, group) pair and reports
// when a pair exceeds its group's flood limit. State is in-memory only; a
// restart forgives in-flight windows, which is acceptable because the
// windows are seconds long.
type Detector struct {
	mu      sync.Mutex
	windows map[key][]time.Time
	logger  *zap.Logger
}

// New creates an empty Detector.
func New(logger *zap.Logger) *Detector {
	return &Detector{
		windows: make(map[key][]time.Time),
		logger:  logger.Named("flood"),
	}
}

// Record notes one message and reports whether it pushed the pair over the
// limit. On a trigger the window is cleared so one burst yields exactly one
// enforcement; continued messages start a fresh count.
func (d *Detector) Record(memberID, groupID uint64, limit int, window time.Duration) bool {
	if limit <= 0 || window <= 0 {
		return false
	}

	now := time.Now()
	k := key{MemberID: memberID, GroupID: groupID}
	cutoff := now.Add(-window)

	d.mu.Lock()
	defer d.mu.Unlock()

	times := d.windows[k]

	// Drop timestamps that slid out of the window
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	kept = append(kept, now)

	if len(kept) > limit {
		delete(d.windows, k)
		d.logger.Debug("Flood threshold exceeded",
			zap.Uint64("memberID", memberID),
			zap.Uint64("groupID", groupID),
			zap.Int("count", len(kept)),
			zap.Int("limit", limit))

		return true
	}

	d.windows[k] = kept

	return false
}

// Forget discards the window for a pair, e.g. when the member leaves.
func (d *Detector) Forget(memberID, groupID uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.windows, key{MemberID: memberID, GroupID: groupID})
}

// Prune removes windows whose newest entry is older than maxAge. Called
// periodically so idle members do not accumulate state forever.
func (d *Detector) Prune(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)

	d.mu.Lock()
	defer d.mu.Unlock()

	for k, times := range d.windows {
		if len(times) == 0 || times[len(times)-1].Before(cutoff) {
			delete(d.windows, k)
		}
	}
}
