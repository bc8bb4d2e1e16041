// Package warnings maintains the escalation ledger of member infractions.
package warnings

import (
	"context"
	"fmt"
	"time"

	"github.com/wardenbot/warden/internal/database/types"
	"github.com/wardenbot/warden/pkg/utils"
	"go.uber.org/zap"
)

// pairKey identifies one member's ledger entry in one group.
type pairKey struct {
	MemberID uint64
	GroupID  uint64
}

// Store is the persistence capability the ledger consumes. GetWarnings
// returns a zero-count record for members never warned.
type Store interface {
	GetWarnings(ctx context.Context, memberID, groupID uint64) (*types.WarningRecord, error)
	SaveWarnings(ctx context.Context, record *types.WarningRecord) error
	AggregateWarnings(ctx context.Context, groupID uint64) (*types.WarningStats, error)
}

// Result reports the ledger state after an update.
type Result struct {
	// Count is the active warning count after the update.
	Count int
	// Escalated is true when the update reached the threshold and the
	// member should be removed. The count has already been reset.
	Escalated bool
}

// Ledger serializes warning updates per (member, group) pair so concurrent
// warnings from independent moderators read-modify-write cleanly.
type Ledger struct {
	store  Store
	locks  *utils.KeyMutex[pairKey]
	logger *zap.Logger
}

// New creates a Ledger backed by the given store.
func New(store Store, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:  store,
		locks:  utils.NewKeyMutex[pairKey](),
		logger: logger.Named("warnings"),
	}
}

// Add records one infraction. When the count reaches maxWarnings the member
// escalates: the count resets to zero so a future return starts clean, and
// the caller removes the member. History is append-only either way.
func (l *Ledger) Add(
	ctx context.Context, memberID, groupID uint64, reason string, issuedBy uint64, maxWarnings int,
) (Result, error) {
	k := pairKey{MemberID: memberID, GroupID: groupID}

	l.locks.Lock(k)
	defer l.locks.Unlock(k)

	record, err := l.store.GetWarnings(ctx, memberID, groupID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load warning record: %w", err)
	}

	record.Count++
	record.History = append(record.History, types.WarningEntry{
		Timestamp: time.Now(),
		Reason:    reason,
		IssuedBy:  issuedBy,
	})

	escalated := maxWarnings > 0 && record.Count >= maxWarnings
	if escalated {
		record.Count = 0
	}

	if err := l.store.SaveWarnings(ctx, record); err != nil {
		return Result{}, fmt.Errorf("failed to save warning record: %w", err)
	}

	count := record.Count
	if escalated {
		count = maxWarnings
	}

	l.logger.Info("Recorded warning",
		zap.Uint64("memberID", memberID),
		zap.Uint64("groupID", groupID),
		zap.Int("count", count),
		zap.Bool("escalated", escalated),
		zap.String("reason", reason))

	return Result{Count: count, Escalated: escalated}, nil
}

// Remove forgives one warning. The count floors at zero and history is left
// untouched.
func (l *Ledger) Remove(ctx context.Context, memberID, groupID uint64) (Result, error) {
	k := pairKey{MemberID: memberID, GroupID: groupID}

	l.locks.Lock(k)
	defer l.locks.Unlock(k)

	record, err := l.store.GetWarnings(ctx, memberID, groupID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load warning record: %w", err)
	}

	if record.Count > 0 {
		record.Count--

		if err := l.store.SaveWarnings(ctx, record); err != nil {
			return Result{}, fmt.Errorf("failed to save warning record: %w", err)
		}
	}

	return Result{Count: record.Count}, nil
}

// Count returns the active warning count for a pair.
func (l *Ledger) Count(ctx context.Context, memberID, groupID uint64) (int, error) {
	record, err := l.store.GetWarnings(ctx, memberID, groupID)
	if err != nil {
		return 0, fmt.Errorf("failed to load warning record: %w", err)
	}

	return record.Count, nil
}

// GroupStats summarizes the ledger for one group.
func (l *Ledger) GroupStats(ctx context.Context, groupID uint64) (*types.WarningStats, error) {
	return l.store.AggregateWarnings(ctx, groupID)
}
