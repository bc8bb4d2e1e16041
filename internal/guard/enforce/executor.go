package enforce

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/rueidis"
	"github.com/sourcegraph/conc"
	"github.com/wardenbot/warden/internal/platform"
	"github.com/wardenbot/warden/pkg/utils"
	"go.uber.org/zap"
)

// Status classifies the outcome of applying an intent.
type Status string

const (
	// StatusApplied means the platform call succeeded.
	StatusApplied Status = "applied"
	// StatusDuplicate means the idempotency key was seen within the
	// retention window and no platform call was made.
	StatusDuplicate Status = "duplicate"
	// StatusFailedTransient means retries were exhausted on a retryable error.
	StatusFailedTransient Status = "failed_transient"
	// StatusFailedPermanent means the platform rejected the call outright.
	StatusFailedPermanent Status = "failed_permanent"
)

// ActionResult reports how an intent was resolved.
type ActionResult struct {
	Status Status
	Err    error
}

// DedupRetention is how long idempotency keys are remembered. Long enough to
// absorb duplicate event delivery and overlapping detectors, short enough
// that a legitimately repeated action later still executes.
const DedupRetention = 10 * time.Minute

// dedupKeyPrefix namespaces Redis keys storing idempotency markers.
const dedupKeyPrefix = "enforce_dedup:"

// Executor is the single choke point for platform-mutating calls. It
// deduplicates intents by idempotency key, retries transient failures with
// bounded exponential backoff, and surfaces permanent failures immediately.
type Executor struct {
	platform  platform.Client
	dedup     rueidis.Client
	local     *utils.TTLMap[string, struct{}]
	wg        conc.WaitGroup
	retryOpts utils.RetryOptions
	logger    *zap.Logger
}

// New creates an Executor. The dedup client may be nil, in which case only
// the in-process retention map is consulted.
func New(platformClient platform.Client, dedup rueidis.Client, logger *zap.Logger) *Executor {
	return &Executor{
		platform:  platformClient,
		dedup:     dedup,
		local:     utils.NewTTLMap[string, struct{}](DedupRetention),
		retryOpts: utils.GetActionRetryOptions(),
		logger:    logger.Named("enforce"),
	}
}

// Submit queues an intent for asynchronous execution. State owned by the
// caller must already be finalized; a failed platform call is logged, never
// rolled back into detector state.
func (e *Executor) Submit(intent *Intent) {
	e.wg.Go(func() {
		result := e.Apply(context.Background(), intent)
		if result.Err != nil {
			e.logger.Error("Enforcement action failed",
				zap.String("action", string(intent.Action)),
				zap.Uint64("memberID", intent.MemberID),
				zap.Uint64("groupID", intent.GroupID),
				zap.String("status", string(result.Status)),
				zap.Error(result.Err))

			// Tell the group's admins; a failed notify is only logged,
			// never re-notified.
			if intent.Action != ActionNotify {
				e.Submit(&Intent{
					GroupID: intent.GroupID,
					Action:  ActionNotify,
					Message: fmt.Sprintf("Failed to %s member %d: %v",
						intent.Action, intent.MemberID, result.Err),
				})
			}
		}
	})
}

// Apply executes an intent synchronously and reports the result.
func (e *Executor) Apply(ctx context.Context, intent *Intent) ActionResult {
	if intent.IdempotencyKey != "" && !e.claim(ctx, intent.IdempotencyKey) {
		e.logger.Debug("Skipped duplicate intent",
			zap.String("action", string(intent.Action)),
			zap.String("idempotencyKey", intent.IdempotencyKey))

		return ActionResult{Status: StatusDuplicate}
	}

	_, err := utils.WithRetry(ctx, func() (struct{}, error) {
		callErr := e.call(ctx, intent)
		if callErr != nil && !platform.IsTransient(callErr) {
			return struct{}{}, backoff.Permanent(callErr)
		}

		return struct{}{}, callErr
	}, e.retryOpts)
	if err != nil {
		if platform.IsTransient(err) {
			return ActionResult{Status: StatusFailedTransient, Err: err}
		}

		return ActionResult{Status: StatusFailedPermanent, Err: err}
	}

	e.logger.Info("Applied enforcement action",
		zap.String("action", string(intent.Action)),
		zap.Uint64("memberID", intent.MemberID),
		zap.Uint64("groupID", intent.GroupID),
		zap.String("reason", intent.Reason))

	return ActionResult{Status: StatusApplied}
}

// Wait blocks until all submitted intents have been resolved.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// claim marks the idempotency key as seen. Returns false when the key was
// already claimed within the retention window. The local map catches
// same-process replays cheaply; Redis extends the window across processes.
// A Redis failure fails open: acting twice beats never acting.
func (e *Executor) claim(ctx context.Context, key string) bool {
	if !e.local.SetIfAbsent(key, struct{}{}) {
		return false
	}

	if e.dedup == nil {
		return true
	}

	set, err := e.dedup.Do(ctx,
		e.dedup.B().Set().Key(dedupKeyPrefix+key).Value("1").
			Nx().Px(DedupRetention).Build(),
	).AsBool()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			// SET NX returns nil when the key already exists
			return false
		}

		e.logger.Warn("Dedup store unavailable, proceeding without it", zap.Error(err))

		return true
	}

	return set
}

// call dispatches the intent to the matching action port operation.
func (e *Executor) call(ctx context.Context, intent *Intent) error {
	switch intent.Action {
	case ActionRestrict:
		return e.platform.Restrict(
			ctx, intent.GroupID, intent.MemberID, platform.MutedPermissions(), e.until(intent))
	case ActionMute:
		return e.platform.Restrict(
			ctx, intent.GroupID, intent.MemberID, platform.MutedPermissions(), e.until(intent))
	case ActionUnrestrict, ActionUnmute:
		return e.platform.Restrict(
			ctx, intent.GroupID, intent.MemberID, platform.FullPermissions(), time.Time{})
	case ActionKick:
		return e.platform.Kick(ctx, intent.GroupID, intent.MemberID)
	case ActionBan:
		return e.platform.Ban(ctx, intent.GroupID, intent.MemberID)
	case ActionUnban:
		return e.platform.Unban(ctx, intent.GroupID, intent.MemberID)
	case ActionNotify:
		return e.platform.SendMessage(ctx, intent.GroupID, intent.Message)
	default:
		e.logger.Warn("Dropping intent with unknown action", zap.String("action", string(intent.Action)))
		return nil
	}
}

// until converts the intent duration into an absolute expiry.
func (e *Executor) until(intent *Intent) time.Time {
	if intent.Duration <= 0 {
		return time.Time{}
	}

	return time.Now().Add(intent.Duration)
}
