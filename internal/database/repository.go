package database

import (
	"github.com/uptrace/bun"
	"github.com/wardenbot/warden/internal/database/models"
	"github.com/wardenbot/warden/internal/database/types"
	"go.uber.org/zap"
)

// Repository provides access to all database models.
type Repository struct {
	policy       *models.PolicyModel
	verification *models.VerificationModel
	warning      *models.WarningModel
	actionLog    *models.ActionLogModel
}

// NewRepository creates a new repository instance with all models.
func NewRepository(db *bun.DB, defaults types.GroupPolicy, logger *zap.Logger) *Repository {
	return &Repository{
		policy:       models.NewPolicy(db, defaults, logger),
		verification: models.NewVerification(db, logger),
		warning:      models.NewWarning(db, logger),
		actionLog:    models.NewActionLog(db, logger),
	}
}

// Policy returns the group policy model repository.
func (r *Repository) Policy() *models.PolicyModel {
	return r.policy
}

// Verification returns the pending verification model repository.
func (r *Repository) Verification() *models.VerificationModel {
	return r.verification
}

// Warning returns the warning record model repository.
func (r *Repository) Warning() *models.WarningModel {
	return r.warning
}

// ActionLog returns the moderation audit log repository.
func (r *Repository) ActionLog() *models.ActionLogModel {
	return r.actionLog
}
