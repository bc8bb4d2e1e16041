// Package gate handles member joins: it restricts newcomers and opens a
// verification challenge, collapsing duplicate join deliveries.
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wardenbot/warden/internal/database/types"
	"github.com/wardenbot/warden/internal/guard/challenge"
	"github.com/wardenbot/warden/internal/guard/enforce"
	"github.com/wardenbot/warden/pkg/utils"
	"go.uber.org/zap"
)

// joinDedupTTL is how long a join event is remembered for deduplication.
// Covers platform redelivery of the same join, not rapid leave/rejoin
// cycles, which legitimately restart verification.
const joinDedupTTL = 2 * time.Minute

// Challenger opens verification challenges. Satisfied by challenge.Manager.
type Challenger interface {
	Start(ctx context.Context, memberID, groupID uint64, policy *types.GroupPolicy) (*types.PendingVerification, error)
}

// Gate is the join-time entry point of the protection pipeline.
type Gate struct {
	challenger Challenger
	sink       enforce.Sink
	seen       *utils.TTLMap[string, struct{}]
	logger     *zap.Logger
}

// New creates a Gate.
func New(challenger Challenger, sink enforce.Sink, logger *zap.Logger) *Gate {
	return &Gate{
		challenger: challenger,
		sink:       sink,
		seen:       utils.NewTTLMap[string, struct{}](joinDedupTTL),
		logger:     logger.Named("gate"),
	}
}

// OnMemberJoined restricts the new member and opens a challenge per the
// group policy. Returns the pending challenge for presentation, or nil when
// verification is disabled or the join is a duplicate delivery.
func (g *Gate) OnMemberJoined(
	ctx context.Context, memberID, groupID uint64, policy *types.GroupPolicy,
) (*types.PendingVerification, error) {
	if !policy.VerificationEnabled {
		return nil, nil
	}

	dedupKey := fmt.Sprintf("join:%d:%d", groupID, memberID)
	if !g.seen.SetIfAbsent(dedupKey, struct{}{}) {
		g.logger.Debug("Ignoring duplicate join delivery",
			zap.Uint64("memberID", memberID), zap.Uint64("groupID", groupID))

		return nil, nil
	}

	// Restrict first so nothing can be posted while the challenge is open.
	// The marker above already collapses redeliveries, so the key is
	// scoped to this admission; a rejoin after removal restricts again.
	bucket := time.Now().UnixNano()
	g.sink.Submit(&enforce.Intent{
		MemberID: memberID,
		GroupID:  groupID,
		Action:   enforce.ActionRestrict,
		Reason:   "verification pending",
		IdempotencyKey: enforce.IdempotencyKey(
			enforce.ActionRestrict, memberID, groupID, bucket),
	})

	pending, err := g.challenger.Start(ctx, memberID, groupID, policy)
	if err != nil {
		if errors.Is(err, challenge.ErrDuplicateChallenge) {
			g.logger.Debug("Challenge already open for member",
				zap.Uint64("memberID", memberID), zap.Uint64("groupID", groupID))

			return nil, nil
		}

		return nil, fmt.Errorf("failed to open challenge: %w", err)
	}

	return pending, nil
}

// Forget clears the join dedup marker, letting an immediate rejoin start a
// fresh challenge.
func (g *Gate) Forget(memberID, groupID uint64) {
	g.seen.Delete(fmt.Sprintf("join:%d:%d", groupID, memberID))
}
