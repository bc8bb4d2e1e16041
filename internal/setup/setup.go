// Package setup wires configuration, logging, storage and the guard engine
// into a runnable application.
package setup

import (
	"context"
	"fmt"

	"github.com/wardenbot/warden/internal/database"
	"github.com/wardenbot/warden/internal/database/types"
	"github.com/wardenbot/warden/internal/guard"
	"github.com/wardenbot/warden/internal/platform"
	"github.com/wardenbot/warden/internal/redis"
	"github.com/wardenbot/warden/internal/setup/config"
	"github.com/wardenbot/warden/internal/setup/logging"
	"github.com/wardenbot/warden/internal/stats"
	"go.uber.org/zap"
)

// App bundles all core dependencies.
type App struct {
	Config       *config.Config
	Logger       *zap.Logger
	DBLogger     *zap.Logger
	DB           database.Client
	RedisManager *redis.Manager
	Tracker      *stats.Tracker
	Engine       *guard.Engine
}

// InitializeApp bootstraps all application dependencies. The platform client
// is injected so entrypoints decide how actions reach the outside world.
func InitializeApp(
	ctx context.Context, platformClient platform.Client, logDir string,
) (*App, error) {
	// Load configuration first as other components depend on it
	cfg, configDir, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, dbLogger, err := logging.SetupLogging(
		logDir, cfg.Common.Debug.LogLevel, cfg.Common.Debug.MaxLogsToKeep)
	if err != nil {
		return nil, fmt.Errorf("failed to setup logging: %w", err)
	}

	logger.Info("Loaded configuration", zap.String("configDir", configDir))

	defaults := defaultPolicy(&cfg.Common.Defaults)

	db, err := database.NewConnection(ctx, &cfg.Common.PostgreSQL, defaults, dbLogger, true)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	redisManager := redis.NewManager(&cfg.Common.Redis, logger)

	statsClient, err := redisManager.GetClient(redis.StatsDBIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to create stats Redis client: %w", err)
	}

	dedupClient, err := redisManager.GetClient(redis.DedupDBIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup Redis client: %w", err)
	}

	tracker := stats.NewTracker(statsClient, logger)

	engine := guard.New(guard.Dependencies{
		Platform:      platformClient,
		PolicyStore:   db.Model().Policy(),
		Verifications: db.Model().Verification(),
		Warnings:      db.Model().Warning(),
		Audit:         db.Model().ActionLog(),
		Dedup:         dedupClient,
		Tracker:       tracker,
		Defaults:      defaults,
		Logger:        logger,
	})

	return &App{
		Config:       cfg,
		Logger:       logger,
		DBLogger:     dbLogger,
		DB:           db,
		RedisManager: redisManager,
		Tracker:      tracker,
		Engine:       engine,
	}, nil
}

// CleanupApp ensures proper shutdown of all components.
func (a *App) CleanupApp() {
	a.Engine.Close()

	if err := a.DB.Close(); err != nil {
		a.Logger.Error("Failed to close database connection", zap.Error(err))
	}

	a.RedisManager.Close()

	_ = a.Logger.Sync()
	_ = a.DBLogger.Sync()
}

// defaultPolicy converts configured defaults into the policy row template
// applied to groups seen for the first time.
func defaultPolicy(d *config.GroupDefaults) types.GroupPolicy {
	return types.GroupPolicy{
		VerificationEnabled:     d.VerificationEnabled,
		ChallengeType:           types.ChallengeType(d.ChallengeType),
		VerificationTimeout:     d.VerificationTimeout,
		MaxVerificationAttempts: d.MaxVerificationAttempts,
		FloodLimit:              d.FloodLimit,
		FloodWindow:             d.FloodWindow,
		FloodMuteDuration:       d.FloodMuteDuration,
		FloodCountsAsWarning:    d.FloodCountsAsWarning,
		MaxWarnings:             d.MaxWarnings,
		MuteDuration:            d.MuteDuration,
	}
}
