package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/wardenbot/warden/internal/database/dbretry"
	"github.com/wardenbot/warden/internal/database/types"
	"go.uber.org/zap"
)

// PolicyModel handles database operations for group protection policies.
type PolicyModel struct {
	db       *bun.DB
	logger   *zap.Logger
	defaults types.GroupPolicy
}

// NewPolicy creates a PolicyModel with database access. The defaults are
// applied to groups seen for the first time.
func NewPolicy(db *bun.DB, defaults types.GroupPolicy, logger *zap.Logger) *PolicyModel {
	return &PolicyModel{
		db:       db,
		logger:   logger.Named("db_policy"),
		defaults: defaults,
	}
}

// GetPolicy retrieves the policy for a group, creating a default row if the
// group has never been seen.
func (r *PolicyModel) GetPolicy(ctx context.Context, groupID uint64) (*types.GroupPolicy, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.GroupPolicy, error) {
		policy := r.defaults.Clone()
		policy.GroupID = groupID
		policy.UpdatedAt = time.Now()

		err := r.db.NewSelect().Model(policy).
			WherePK().
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				// Create default policy if none exists
				_, err = r.db.NewInsert().Model(policy).Exec(ctx)
				if err != nil {
					return nil, fmt.Errorf("failed to create group policy: %w (groupID=%d)", err, groupID)
				}
			} else {
				return nil, fmt.Errorf("failed to get group policy: %w (groupID=%d)", err, groupID)
			}
		}

		return policy, nil
	})
}

// SavePolicy updates or creates a group policy.
func (r *PolicyModel) SavePolicy(ctx context.Context, policy *types.GroupPolicy) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		policy.UpdatedAt = time.Now()

		_, err := r.db.NewInsert().Model(policy).
			On("CONFLICT (group_id) DO UPDATE").
			Set("verification_enabled = EXCLUDED.verification_enabled").
			Set("challenge_type = EXCLUDED.challenge_type").
			Set("verification_timeout = EXCLUDED.verification_timeout").
			Set("max_verification_attempts = EXCLUDED.max_verification_attempts").
			Set("flood_limit = EXCLUDED.flood_limit").
			Set("flood_window = EXCLUDED.flood_window").
			Set("flood_mute_duration = EXCLUDED.flood_mute_duration").
			Set("flood_counts_as_warning = EXCLUDED.flood_counts_as_warning").
			Set("max_warnings = EXCLUDED.max_warnings").
			Set("mute_duration = EXCLUDED.mute_duration").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to save group policy: %w (groupID=%d)", err, policy.GroupID)
		}

		return nil
	})
}
