package models

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/wardenbot/warden/internal/database/dbretry"
	"github.com/wardenbot/warden/internal/database/types"
	"go.uber.org/zap"
)

// ActionLogModel handles database operations for the moderation audit log.
type ActionLogModel struct {
	db     *bun.DB
	logger *zap.Logger
}

// NewActionLog creates an ActionLogModel with database access.
func NewActionLog(db *bun.DB, logger *zap.Logger) *ActionLogModel {
	return &ActionLogModel{
		db:     db,
		logger: logger.Named("db_action_log"),
	}
}

// LogAction appends a moderation action to the audit log.
func (r *ActionLogModel) LogAction(ctx context.Context, log *types.ActionLog) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		if log.Timestamp.IsZero() {
			log.Timestamp = time.Now()
		}

		_, err := r.db.NewInsert().Model(log).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to log action: %w (groupID=%d, memberID=%d, action=%s)",
				err, log.GroupID, log.MemberID, log.Action)
		}

		return nil
	})
}

// RecentActions returns the latest audit entries for a group.
func (r *ActionLogModel) RecentActions(
	ctx context.Context, groupID uint64, limit int,
) ([]*types.ActionLog, error) {
	return dbretry.Operation(ctx, func(ctx context.Context) ([]*types.ActionLog, error) {
		var logs []*types.ActionLog

		err := r.db.NewSelect().Model(&logs).
			Where("group_id = ?", groupID).
			Order("timestamp DESC").
			Limit(limit).
			Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list recent actions: %w (groupID=%d)", err, groupID)
		}

		return logs, nil
	})
}
