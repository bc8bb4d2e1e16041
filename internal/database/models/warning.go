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

// WarningModel handles database operations for warning records.
type WarningModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewWarning creates a WarningModel with database access.
func NewWarning(db *bun.DB, logger *zap.Logger) *WarningModel {
	return &WarningModel{
		db:     db,
		logger: logger.Named("db_warning"),
	}
}

// GetWarnings retrieves the warning record for a member in a group.
// Returns a zero-count record when the member has never been warned.
func (r *WarningModel) GetWarnings(
	ctx context.Context, memberID, groupID uint64,
) (*types.WarningRecord, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.WarningRecord, error) {
		record := &types.WarningRecord{
			MemberID: memberID,
			GroupID:  groupID,
		}

		err := r.db.NewSelect().Model(record).
			WherePK().
			Scan(ctx)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to get warnings: %w (memberID=%d, groupID=%d)",
				err, memberID, groupID)
		}

		return record, nil
	})
}

// SaveWarnings creates or updates the warning record.
func (r *WarningModel) SaveWarnings(ctx context.Context, record *types.WarningRecord) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		record.UpdatedAt = time.Now()

		_, err := r.db.NewInsert().Model(record).
			On("CONFLICT (member_id, group_id) DO UPDATE").
			Set("count = EXCLUDED.count").
			Set("history = EXCLUDED.history").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to save warnings: %w (memberID=%d, groupID=%d)",
				err, record.MemberID, record.GroupID)
		}

		return nil
	})
}

// AggregateWarnings returns a summary of the warning ledger for one group.
func (r *WarningModel) AggregateWarnings(
	ctx context.Context, groupID uint64,
) (*types.WarningStats, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) (*types.WarningStats, error) {
		stats := &types.WarningStats{GroupID: groupID}

		err := r.db.NewSelect().Model((*types.WarningRecord)(nil)).
			ColumnExpr("count(*) FILTER (WHERE count > 0) AS warned_members").
			ColumnExpr("coalesce(sum(count), 0) AS active_warnings").
			Where("group_id = ?", groupID).
			Scan(ctx, &stats.WarnedMembers, &stats.ActiveWarnings)
		if err != nil {
			return nil, fmt.Errorf("failed to aggregate warnings: %w (groupID=%d)", err, groupID)
		}

		return stats, nil
	})
}
