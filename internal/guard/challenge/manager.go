package challenge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wardenbot/warden/internal/database/types"
	"github.com/wardenbot/warden/internal/guard/enforce"
	"github.com/wardenbot/warden/internal/guard/scheduler"
	"github.com/wardenbot/warden/internal/stats"
	"github.com/wardenbot/warden/pkg/utils"
	"go.uber.org/zap"
)

var (
	// ErrDuplicateChallenge is returned when a challenge already exists for
	// the pair. Callers treat it as an idempotent no-op.
	ErrDuplicateChallenge = errors.New("challenge already pending for member")
	// ErrNoChallenge is returned when no challenge is pending for the pair.
	ErrNoChallenge = errors.New("no challenge pending for member")
)

// Key identifies the per-member, per-group verification state.
type Key struct {
	MemberID uint64
	GroupID  uint64
}

// timerKey returns the scheduler key for this pair's timeout.
func (k Key) timerKey() string {
	return fmt.Sprintf("challenge:%d:%d", k.GroupID, k.MemberID)
}

// OutcomeStatus classifies the result of an answer submission.
type OutcomeStatus string

const (
	// OutcomeVerified means the answer was correct and the member unmuted.
	OutcomeVerified OutcomeStatus = "verified"
	// OutcomeRetry means the answer was wrong with attempts remaining.
	OutcomeRetry OutcomeStatus = "retry"
	// OutcomeFailed means attempts are exhausted and the member is removed.
	OutcomeFailed OutcomeStatus = "failed"
)

// Outcome is the result of submitting an answer.
type Outcome struct {
	Status            OutcomeStatus
	RemainingAttempts int
}

// Store is the persistence capability the manager consumes. Get returns nil
// without error when no record exists.
type Store interface {
	GetPendingVerification(ctx context.Context, memberID, groupID uint64) (*types.PendingVerification, error)
	SavePendingVerification(ctx context.Context, pending *types.PendingVerification) error
	DeletePendingVerification(ctx context.Context, memberID, groupID uint64) error
	ListPendingVerifications(ctx context.Context) ([]*types.PendingVerification, error)
}

// Manager owns all PendingVerification state. Operations for the same pair
// serialize through a keyed mutex so an answer can never race its own
// timeout; distinct pairs proceed in parallel.
type Manager struct {
	store   Store
	sink    enforce.Sink
	sched   *scheduler.Scheduler
	tracker stats.Counter
	locks   *utils.KeyMutex[Key]

	tokensMu sync.Mutex
	tokens   map[string]Key // portal token -> pair

	// onTerminal runs after a challenge reaches any terminal state.
	onTerminal func(memberID, groupID uint64)

	logger *zap.Logger
}

// OnTerminal registers fn to run whenever a challenge terminates, whatever
// the outcome. The join gate uses it to release its dedup marker so a
// removed member's rejoin starts a fresh challenge. Must be called before
// the manager handles events.
func (m *Manager) OnTerminal(fn func(memberID, groupID uint64)) {
	m.onTerminal = fn
}

// NewManager creates a challenge manager.
func NewManager(
	store Store, sink enforce.Sink, sched *scheduler.Scheduler,
	tracker stats.Counter, logger *zap.Logger,
) *Manager {
	return &Manager{
		store:   store,
		sink:    sink,
		sched:   sched,
		tracker: tracker,
		locks:   utils.NewKeyMutex[Key](),
		tokens:  make(map[string]Key),
		logger:  logger.Named("challenge"),
	}
}

// Start issues a new challenge for the pair and schedules its timeout.
// Fails with ErrDuplicateChallenge when one is already pending; this is the
// invariant guard behind the join gate's dedup.
func (m *Manager) Start(
	ctx context.Context, memberID, groupID uint64, policy *types.GroupPolicy,
) (*types.PendingVerification, error) {
	key := Key{MemberID: memberID, GroupID: groupID}

	m.locks.Lock(key)
	defer m.locks.Unlock(key)

	existing, err := m.store.GetPendingVerification(ctx, memberID, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to check for existing challenge: %w", err)
	}

	if existing != nil {
		return nil, ErrDuplicateChallenge
	}

	content := Generate(policy.ChallengeType)
	now := time.Now()

	pending := &types.PendingVerification{
		MemberID:      memberID,
		GroupID:       groupID,
		ChallengeType: content.Type,
		Question:      content.Question,
		Answer:        content.Answer,
		Options:       content.Options,
		IssuedAt:      now,
		Deadline:      now.Add(policy.VerificationTimeoutDuration()),
		MaxAttempts:   policy.MaxVerificationAttempts,
	}

	if err := m.store.SavePendingVerification(ctx, pending); err != nil {
		return nil, fmt.Errorf("failed to persist challenge: %w", err)
	}

	if content.Type == types.ChallengeTypePortal {
		m.registerToken(content.Answer, key)
	}

	m.sched.Schedule(key.timerKey(), policy.VerificationTimeoutDuration(), func() {
		m.onDeadlineElapsed(key)
	})

	m.logger.Info("Started verification challenge",
		zap.Uint64("memberID", memberID),
		zap.Uint64("groupID", groupID),
		zap.String("type", string(content.Type)),
		zap.Time("deadline", pending.Deadline))

	return pending, nil
}

// Submit checks an answer against the pending challenge. Correct answers
// unmute the member; the final wrong answer removes them. Duplicate correct
// submissions hit ErrNoChallenge because the record is gone after the first.
func (m *Manager) Submit(
	ctx context.Context, memberID, groupID uint64, answer string,
) (Outcome, error) {
	key := Key{MemberID: memberID, GroupID: groupID}

	m.locks.Lock(key)
	defer m.locks.Unlock(key)

	pending, err := m.store.GetPendingVerification(ctx, memberID, groupID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to load challenge: %w", err)
	}

	if pending == nil {
		return Outcome{}, ErrNoChallenge
	}

	if AnswerMatches(pending.Answer, answer) {
		if err := m.finalize(ctx, key, pending); err != nil {
			return Outcome{}, err
		}

		m.sink.Submit(&enforce.Intent{
			MemberID: memberID,
			GroupID:  groupID,
			Action:   enforce.ActionUnrestrict,
			Reason:   "verification passed",
			IdempotencyKey: enforce.IdempotencyKey(
				enforce.ActionUnrestrict, memberID, groupID, pending.IssuedAt.UnixNano()),
		})
		m.tracker.Increment(ctx, groupID, stats.FieldVerified)

		m.logger.Info("Member verified",
			zap.Uint64("memberID", memberID), zap.Uint64("groupID", groupID))

		return Outcome{Status: OutcomeVerified}, nil
	}

	pending.AttemptsUsed++

	if pending.AttemptsUsed >= pending.MaxAttempts {
		if err := m.finalize(ctx, key, pending); err != nil {
			return Outcome{}, err
		}

		m.removeMember(ctx, key, pending, "verification attempts exhausted")

		return Outcome{Status: OutcomeFailed}, nil
	}

	if err := m.store.SavePendingVerification(ctx, pending); err != nil {
		return Outcome{}, fmt.Errorf("failed to record attempt: %w", err)
	}

	return Outcome{
		Status:            OutcomeRetry,
		RemainingAttempts: pending.RemainingAttempts(),
	}, nil
}

// CompletePortal resolves a portal token to its pair and submits it as the
// answer. Unknown or already-redeemed tokens yield ErrNoChallenge.
func (m *Manager) CompletePortal(ctx context.Context, token string) (Outcome, Key, error) {
	m.tokensMu.Lock()
	key, ok := m.tokens[token]
	m.tokensMu.Unlock()

	if !ok {
		return Outcome{}, Key{}, ErrNoChallenge
	}

	outcome, err := m.Submit(ctx, key.MemberID, key.GroupID, token)

	return outcome, key, err
}

// Cancel clears any pending challenge without emitting actions. Used when
// the member leaves on their own.
func (m *Manager) Cancel(ctx context.Context, memberID, groupID uint64) error {
	key := Key{MemberID: memberID, GroupID: groupID}

	m.locks.Lock(key)
	defer m.locks.Unlock(key)

	pending, err := m.store.GetPendingVerification(ctx, memberID, groupID)
	if err != nil {
		return fmt.Errorf("failed to load challenge: %w", err)
	}

	if pending == nil {
		return nil
	}

	return m.finalize(ctx, key, pending)
}

// Restore reloads persisted challenges after a restart and reschedules their
// timeouts. Challenges whose deadline already passed expire immediately.
func (m *Manager) Restore(ctx context.Context) error {
	pending, err := m.store.ListPendingVerifications(ctx)
	if err != nil {
		return fmt.Errorf("failed to list pending challenges: %w", err)
	}

	now := time.Now()

	for _, p := range pending {
		key := Key{MemberID: p.MemberID, GroupID: p.GroupID}

		if p.ChallengeType == types.ChallengeTypePortal {
			m.registerToken(p.Answer, key)
		}

		remaining := p.Deadline.Sub(now)
		if remaining < 0 {
			remaining = 0
		}

		m.sched.Schedule(key.timerKey(), remaining, func() {
			m.onDeadlineElapsed(key)
		})
	}

	if len(pending) > 0 {
		m.logger.Info("Restored pending challenges", zap.Int("count", len(pending)))
	}

	return nil
}

// onDeadlineElapsed handles challenge expiry. Timer cancellation is
// best-effort, so existence is re-checked under the key lock before acting;
// a success that landed just before the timer fired leaves no record and
// this becomes a no-op.
func (m *Manager) onDeadlineElapsed(key Key) {
	ctx := context.Background()

	m.locks.Lock(key)
	defer m.locks.Unlock(key)

	pending, err := m.store.GetPendingVerification(ctx, key.MemberID, key.GroupID)
	if err != nil {
		m.logger.Error("Failed to load challenge on timeout",
			zap.Uint64("memberID", key.MemberID),
			zap.Uint64("groupID", key.GroupID),
			zap.Error(err))

		return
	}

	if pending == nil {
		return
	}

	if err := m.finalize(ctx, key, pending); err != nil {
		m.logger.Error("Failed to clear expired challenge",
			zap.Uint64("memberID", key.MemberID),
			zap.Uint64("groupID", key.GroupID),
			zap.Error(err))

		return
	}

	m.removeMember(ctx, key, pending, "verification timed out")
}

// finalize deletes the record, cancels the timer and drops any portal token.
func (m *Manager) finalize(ctx context.Context, key Key, pending *types.PendingVerification) error {
	if err := m.store.DeletePendingVerification(ctx, key.MemberID, key.GroupID); err != nil {
		return fmt.Errorf("failed to delete challenge: %w", err)
	}

	m.sched.Cancel(key.timerKey())

	if pending.ChallengeType == types.ChallengeTypePortal {
		m.dropToken(pending.Answer)
	}

	if m.onTerminal != nil {
		m.onTerminal(key.MemberID, key.GroupID)
	}

	return nil
}

// removeMember notifies the group and kicks the member.
func (m *Manager) removeMember(
	ctx context.Context, key Key, pending *types.PendingVerification, reason string,
) {
	bucket := pending.IssuedAt.UnixNano()

	m.sink.Submit(&enforce.Intent{
		GroupID: key.GroupID,
		Action:  enforce.ActionNotify,
		Message: fmt.Sprintf("Member %d was removed: %s.", key.MemberID, reason),
		IdempotencyKey: enforce.IdempotencyKey(
			enforce.ActionNotify, key.MemberID, key.GroupID, bucket),
	})
	m.sink.Submit(&enforce.Intent{
		MemberID: key.MemberID,
		GroupID:  key.GroupID,
		Action:   enforce.ActionKick,
		Reason:   reason,
		IdempotencyKey: enforce.IdempotencyKey(
			enforce.ActionKick, key.MemberID, key.GroupID, bucket),
	})
	m.tracker.Increment(ctx, key.GroupID, stats.FieldKicked)

	m.logger.Info("Removed unverified member",
		zap.Uint64("memberID", key.MemberID),
		zap.Uint64("groupID", key.GroupID),
		zap.String("reason", reason))
}

func (m *Manager) registerToken(token string, key Key) {
	m.tokensMu.Lock()
	defer m.tokensMu.Unlock()

	m.tokens[token] = key
}

func (m *Manager) dropToken(token string) {
	m.tokensMu.Lock()
	defer m.tokensMu.Unlock()

	delete(m.tokens, token)
}
