package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/wardenbot/warden/internal/database/dbretry"
	"github.com/wardenbot/warden/internal/database/types"
	"go.uber.org/zap"
)

// VerificationModel handles database operations for pending verifications.
type VerificationModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewVerification creates a VerificationModel with database access.
func NewVerification(db *bun.DB, logger *zap.Logger) *VerificationModel {
	return &VerificationModel{
		db:     db,
		logger: logger.Named("db_verification"),
	}
}

// GetPendingVerification retrieves the active challenge for a member in a
// group. Returns nil without error when no challenge is pending.
func (r *VerificationModel) GetPendingVerification(
	ctx context.Context, memberID, groupID uint64,
) (*types.PendingVerification, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.PendingVerification, error) {
		pending := &types.PendingVerification{MemberID: memberID, GroupID: groupID}

		err := r.db.NewSelect().Model(pending).
			WherePK().
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil
			}

			return nil, fmt.Errorf(
				"failed to get pending verification: %w (memberID=%d, groupID=%d)", err, memberID, groupID)
		}

		return pending, nil
	})
}

// SavePendingVerification creates or updates the active challenge row.
func (r *VerificationModel) SavePendingVerification(
	ctx context.Context, pending *types.PendingVerification,
) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := r.db.NewInsert().Model(pending).
			On("CONFLICT (member_id, group_id) DO UPDATE").
			Set("attempts_used = EXCLUDED.attempts_used").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to save pending verification: %w (memberID=%d, groupID=%d)",
				err, pending.MemberID, pending.GroupID)
		}

		return nil
	})
}

// DeletePendingVerification removes the active challenge row.
func (r *VerificationModel) DeletePendingVerification(
	ctx context.Context, memberID, groupID uint64,
) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		_, err := r.db.NewDelete().Model((*types.PendingVerification)(nil)).
			Where("member_id = ?", memberID).
			Where("group_id = ?", groupID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete pending verification: %w (memberID=%d, groupID=%d)",
				err, memberID, groupID)
		}

		return nil
	})
}

// ListPendingVerifications returns every pending challenge, used to restore
// timeout timers after a restart.
func (r *VerificationModel) ListPendingVerifications(
	ctx context.Context,
) ([]*types.PendingVerification, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.PendingVerification, error) {
		var pending []*types.PendingVerification

		err := r.db.NewSelect().Model(&pending).
			Order("deadline ASC").
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list pending verifications: %w", err)
		}

		return pending, nil
	})
}
