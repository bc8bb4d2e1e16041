package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/wardenbot/warden/internal/database/types"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		models := []any{
			(*types.GroupPolicy)(nil),
			(*types.PendingVerification)(nil),
			(*types.WarningRecord)(nil),
			(*types.ActionLog)(nil),
		}

		for _, model := range models {
			if _, err := db.NewCreateTable().
				Model(model).
				IfNotExists().
				Exec(ctx); err != nil {
				return fmt.Errorf("failed to create table for %T: %w", model, err)
			}
		}

		// Index for audit queries per group
		if _, err := db.NewCreateIndex().
			Model((*types.ActionLog)(nil)).
			Index("action_logs_group_timestamp_idx").
			IfNotExists().
			Column("group_id", "timestamp").
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to create action log index: %w", err)
		}

		// Deadline index for restoring timeout timers in order
		if _, err := db.NewCreateIndex().
			Model((*types.PendingVerification)(nil)).
			Index("pending_verifications_deadline_idx").
			IfNotExists().
			Column("deadline").
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to create pending verification index: %w", err)
		}

		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		models := []any{
			(*types.ActionLog)(nil),
			(*types.WarningRecord)(nil),
			(*types.PendingVerification)(nil),
			(*types.GroupPolicy)(nil),
		}

		for _, model := range models {
			if _, err := db.NewDropTable().
				Model(model).
				IfExists().
				Exec(ctx); err != nil {
				return fmt.Errorf("failed to drop table for %T: %w", model, err)
			}
		}

		return nil
	})
}
