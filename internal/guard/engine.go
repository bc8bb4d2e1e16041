// Package guard wires the protection pipeline together: the join gate,
// challenge manager, flood detector, warning ledger and enforcement
// executor behind one engine facade.
package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/rueidis"
	"github.com/wardenbot/warden/internal/database/types"
	"github.com/wardenbot/warden/internal/guard/challenge"
	"github.com/wardenbot/warden/internal/guard/enforce"
	"github.com/wardenbot/warden/internal/guard/flood"
	"github.com/wardenbot/warden/internal/guard/gate"
	"github.com/wardenbot/warden/internal/guard/policy"
	"github.com/wardenbot/warden/internal/guard/scheduler"
	"github.com/wardenbot/warden/internal/guard/warnings"
	"github.com/wardenbot/warden/internal/platform"
	"github.com/wardenbot/warden/internal/stats"
	"go.uber.org/zap"
)

// Auditor records moderation actions for later review. Satisfied by
// models.ActionLogModel. Audit writes are best-effort.
type Auditor interface {
	LogAction(ctx context.Context, log *types.ActionLog) error
}

// Dependencies carries everything the engine needs. Stores are consumed as
// interfaces so tests run against in-memory fakes.
type Dependencies struct {
	Platform      platform.Client
	PolicyStore   policy.Store
	Verifications challenge.Store
	Warnings      warnings.Store
	Audit         Auditor
	// Dedup extends enforcement idempotency across processes. May be nil.
	Dedup    rueidis.Client
	Tracker  stats.Counter
	Defaults types.GroupPolicy
	Logger   *zap.Logger
}

// Engine is the single entry point for platform events and moderator
// commands. Event handlers never block on platform calls; all mutations go
// through the enforcement executor.
type Engine struct {
	policies   *policy.Cache
	gate       *gate.Gate
	challenges *challenge.Manager
	floods     *flood.Detector
	ledger     *warnings.Ledger
	executor   *enforce.Executor
	sched      *scheduler.Scheduler
	tracker    stats.Counter
	audit      Auditor
	logger     *zap.Logger
}

// New assembles an Engine from its dependencies.
func New(deps Dependencies) *Engine {
	logger := deps.Logger.Named("guard")
	tracker := deps.Tracker
	if tracker == nil {
		tracker = stats.NopCounter{}
	}

	sched := scheduler.New(logger)
	executor := enforce.New(deps.Platform, deps.Dedup, logger)
	challenges := challenge.NewManager(deps.Verifications, executor, sched, tracker, logger)

	// A terminated challenge releases the join dedup marker so a member
	// kicked for failing verification is rechallenged if they rejoin.
	joinGate := gate.New(challenges, executor, logger)
	challenges.OnTerminal(joinGate.Forget)

	return &Engine{
		policies:   policy.NewCache(deps.PolicyStore, deps.Defaults, logger),
		gate:       joinGate,
		challenges: challenges,
		floods:     flood.New(logger),
		ledger:     warnings.New(deps.Warnings, logger),
		executor:   executor,
		sched:      sched,
		tracker:    tracker,
		audit:      deps.Audit,
		logger:     logger,
	}
}

// Start restores persisted verification timers after a restart.
func (e *Engine) Start(ctx context.Context) error {
	return e.challenges.Restore(ctx)
}

// Close stops pending timers and drains in-flight enforcement actions.
func (e *Engine) Close() {
	e.sched.Stop()
	e.executor.Wait()
}

// OnMemberJoined runs the join gate. Returns the opened challenge for
// presentation, or nil when verification is disabled or the join was a
// duplicate delivery.
func (e *Engine) OnMemberJoined(
	ctx context.Context, memberID, groupID uint64,
) (*types.PendingVerification, error) {
	pol, err := e.policies.Get(ctx, groupID)
	if err != nil {
		e.logger.Warn("Proceeding with fallback policy", zap.Uint64("groupID", groupID), zap.Error(err))
	}

	return e.gate.OnMemberJoined(ctx, memberID, groupID, pol)
}

// OnMemberLeft clears all transient state for the member. A voluntary leave
// during verification is not punished.
func (e *Engine) OnMemberLeft(ctx context.Context, memberID, groupID uint64) error {
	e.floods.Forget(memberID, groupID)
	e.gate.Forget(memberID, groupID)

	if err := e.challenges.Cancel(ctx, memberID, groupID); err != nil {
		return fmt.Errorf("failed to cancel challenge: %w", err)
	}

	return nil
}

// OnMessage feeds one message into the flood detector and applies the
// group's flood response when the limit is exceeded.
func (e *Engine) OnMessage(ctx context.Context, memberID, groupID uint64) error {
	e.tracker.Increment(ctx, groupID, stats.FieldMessages)

	pol, err := e.policies.Get(ctx, groupID)
	if err != nil {
		e.logger.Warn("Proceeding with fallback policy", zap.Uint64("groupID", groupID), zap.Error(err))
	}

	if !e.floods.Record(memberID, groupID, pol.FloodLimit, pol.FloodWindowDuration()) {
		return nil
	}

	e.tracker.Increment(ctx, groupID, stats.FieldFloodBlocked)

	// The window cleared on trigger, so one burst produces one mute. The
	// bucket pins replays of the same burst to the same platform call.
	bucket := time.Now().Truncate(pol.FloodWindowDuration()).Unix()
	e.submitModeration(ctx, &enforce.Intent{
		MemberID: memberID,
		GroupID:  groupID,
		Action:   enforce.ActionMute,
		Reason:   "message flooding",
		Duration: pol.FloodMuteDurationValue(),
		IdempotencyKey: enforce.IdempotencyKey(
			enforce.ActionMute, memberID, groupID, bucket),
	}, 0, stats.FieldMuted)

	if pol.FloodCountsAsWarning {
		result, err := e.ledger.Add(ctx, memberID, groupID, "message flooding", 0, pol.MaxWarnings)
		if err != nil {
			return fmt.Errorf("failed to record flood warning: %w", err)
		}

		e.tracker.Increment(ctx, groupID, stats.FieldWarnings)

		if result.Escalated {
			e.escalate(ctx, memberID, groupID, 0)
		}
	}

	return nil
}

// SubmitAnswer arbitrates a member's answer to their pending challenge.
func (e *Engine) SubmitAnswer(
	ctx context.Context, memberID, groupID uint64, answer string,
) (challenge.Outcome, error) {
	return e.challenges.Submit(ctx, memberID, groupID, answer)
}

// CompletePortal redeems a portal verification token.
func (e *Engine) CompletePortal(
	ctx context.Context, token string,
) (challenge.Outcome, challenge.Key, error) {
	return e.challenges.CompletePortal(ctx, token)
}

// Warn records a moderator-issued warning and escalates to removal when the
// group's limit is reached.
func (e *Engine) Warn(
	ctx context.Context, memberID, groupID, issuedBy uint64, reason string,
) (warnings.Result, error) {
	pol, err := e.policies.Get(ctx, groupID)
	if err != nil {
		e.logger.Warn("Proceeding with fallback policy", zap.Uint64("groupID", groupID), zap.Error(err))
	}

	result, err := e.ledger.Add(ctx, memberID, groupID, reason, issuedBy, pol.MaxWarnings)
	if err != nil {
		return warnings.Result{}, err
	}

	e.tracker.Increment(ctx, groupID, stats.FieldWarnings)
	e.recordAudit(ctx, memberID, groupID, issuedBy, "warn", reason)

	if result.Escalated {
		e.escalate(ctx, memberID, groupID, issuedBy)
	}

	return result, nil
}

// Unwarn forgives one warning.
func (e *Engine) Unwarn(
	ctx context.Context, memberID, groupID, issuedBy uint64,
) (warnings.Result, error) {
	result, err := e.ledger.Remove(ctx, memberID, groupID)
	if err != nil {
		return warnings.Result{}, err
	}

	e.recordAudit(ctx, memberID, groupID, issuedBy, "unwarn", "")

	return result, nil
}

// WarningCount returns the active warning count for a member.
func (e *Engine) WarningCount(ctx context.Context, memberID, groupID uint64) (int, error) {
	return e.ledger.Count(ctx, memberID, groupID)
}

// WarningStats summarizes the warning ledger for one group.
func (e *Engine) WarningStats(ctx context.Context, groupID uint64) (*types.WarningStats, error) {
	return e.ledger.GroupStats(ctx, groupID)
}

// GroupStats combines the warning ledger summary with the moderation
// counters for one group. Backs the admin stats command.
type GroupStats struct {
	Warnings *types.WarningStats
	Counters map[stats.Field]int64
}

// Stats reports the full moderation summary for a group.
func (e *Engine) Stats(ctx context.Context, groupID uint64) (*GroupStats, error) {
	warningStats, err := e.ledger.GroupStats(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize warnings: %w", err)
	}

	counters, err := e.tracker.Snapshot(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to read counters: %w", err)
	}

	return &GroupStats{Warnings: warningStats, Counters: counters}, nil
}

// Kick removes a member without banning them.
func (e *Engine) Kick(ctx context.Context, memberID, groupID, issuedBy uint64, reason string) {
	e.submitModeration(ctx, &enforce.Intent{
		MemberID: memberID,
		GroupID:  groupID,
		Action:   enforce.ActionKick,
		Reason:   reason,
		IdempotencyKey: enforce.IdempotencyKey(
			enforce.ActionKick, memberID, groupID, time.Now().UnixNano()),
	}, issuedBy, stats.FieldKicked)
}

// Ban permanently removes a member.
func (e *Engine) Ban(ctx context.Context, memberID, groupID, issuedBy uint64, reason string) {
	e.submitModeration(ctx, &enforce.Intent{
		MemberID: memberID,
		GroupID:  groupID,
		Action:   enforce.ActionBan,
		Reason:   reason,
		IdempotencyKey: enforce.IdempotencyKey(
			enforce.ActionBan, memberID, groupID, time.Now().UnixNano()),
	}, issuedBy, stats.FieldBanned)
}

// Unban lifts a ban.
func (e *Engine) Unban(ctx context.Context, memberID, groupID, issuedBy uint64) {
	e.submitModeration(ctx, &enforce.Intent{
		MemberID: memberID,
		GroupID:  groupID,
		Action:   enforce.ActionUnban,
		IdempotencyKey: enforce.IdempotencyKey(
			enforce.ActionUnban, memberID, groupID, time.Now().UnixNano()),
	}, issuedBy, "")
}

// Mute silences a member. A non-positive duration falls back to the group's
// configured mute duration.
func (e *Engine) Mute(
	ctx context.Context, memberID, groupID, issuedBy uint64, duration time.Duration, reason string,
) {
	if duration <= 0 {
		pol, err := e.policies.Get(ctx, groupID)
		if err != nil {
			e.logger.Warn("Proceeding with fallback policy", zap.Uint64("groupID", groupID), zap.Error(err))
		}

		duration = time.Duration(pol.MuteDuration) * time.Second
	}

	e.submitModeration(ctx, &enforce.Intent{
		MemberID: memberID,
		GroupID:  groupID,
		Action:   enforce.ActionMute,
		Reason:   reason,
		Duration: duration,
		IdempotencyKey: enforce.IdempotencyKey(
			enforce.ActionMute, memberID, groupID, time.Now().UnixNano()),
	}, issuedBy, stats.FieldMuted)
}

// Unmute restores a member's permissions.
func (e *Engine) Unmute(ctx context.Context, memberID, groupID, issuedBy uint64) {
	e.submitModeration(ctx, &enforce.Intent{
		MemberID: memberID,
		GroupID:  groupID,
		Action:   enforce.ActionUnmute,
		IdempotencyKey: enforce.IdempotencyKey(
			enforce.ActionUnmute, memberID, groupID, time.Now().UnixNano()),
	}, issuedBy, "")
}

// Policy returns a snapshot of the group's protection settings.
func (e *Engine) Policy(ctx context.Context, groupID uint64) (*types.GroupPolicy, error) {
	return e.policies.Get(ctx, groupID)
}

// SavePolicy persists updated settings and invalidates the cached copy.
func (e *Engine) SavePolicy(ctx context.Context, pol *types.GroupPolicy) error {
	return e.policies.Save(ctx, pol)
}

// InvalidatePolicy drops the cached policy for a group, forcing a reload on
// next read. Used when settings change in another process.
func (e *Engine) InvalidatePolicy(groupID uint64) {
	e.policies.Invalidate(groupID)
}

// escalate removes a member whose warning count reached the group limit.
func (e *Engine) escalate(ctx context.Context, memberID, groupID, issuedBy uint64) {
	e.logger.Info("Warning limit reached, removing member",
		zap.Uint64("memberID", memberID), zap.Uint64("groupID", groupID))

	e.executor.Submit(&enforce.Intent{
		GroupID: groupID,
		Action:  enforce.ActionNotify,
		Message: fmt.Sprintf("Member %d was removed after reaching the warning limit.", memberID),
		IdempotencyKey: enforce.IdempotencyKey(
			enforce.ActionNotify, memberID, groupID, time.Now().UnixNano()),
	})
	e.submitModeration(ctx, &enforce.Intent{
		MemberID: memberID,
		GroupID:  groupID,
		Action:   enforce.ActionKick,
		Reason:   "warning limit reached",
		IdempotencyKey: enforce.IdempotencyKey(
			enforce.ActionKick, memberID, groupID, time.Now().UnixNano()),
	}, issuedBy, stats.FieldKicked)
}

// submitModeration queues an intent and records the counter and audit entry
// alongside it. Audit failures never block the action.
func (e *Engine) submitModeration(
	ctx context.Context, intent *enforce.Intent, issuedBy uint64, field stats.Field,
) {
	e.executor.Submit(intent)

	if field != "" {
		e.tracker.Increment(ctx, intent.GroupID, field)
	}

	e.recordAudit(ctx, intent.MemberID, intent.GroupID, issuedBy, string(intent.Action), intent.Reason)
}

func (e *Engine) recordAudit(
	ctx context.Context, memberID, groupID, issuedBy uint64, action, reason string,
) {
	if e.audit == nil {
		return
	}

	err := e.audit.LogAction(ctx, &types.ActionLog{
		GroupID:  groupID,
		MemberID: memberID,
		IssuedBy: issuedBy,
		Action:   action,
		Reason:   reason,
	})
	if err != nil {
		e.logger.Warn("Failed to write audit entry",
			zap.Uint64("memberID", memberID),
			zap.Uint64("groupID", groupID),
			zap.String("action", action),
			zap.Error(err))
	}
}
