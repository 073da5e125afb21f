package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/promptstash/lockgate/internal/config"
)

// RetentionRepository defines the storage operations the sweep needs
type RetentionRepository interface {
	PurgeAttemptsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeactivateExpiredLockouts(ctx context.Context, now time.Time) (int64, error)
}

// RetentionManager periodically purges attempt rows past their retention
// horizon and bulk-expires temporary lockouts whose end has passed. The gate
// answers expiry correctly at read time regardless; the sweep only keeps the
// tables small.
type RetentionManager struct {
	repo   RetentionRepository
	logger *slog.Logger
	cfg    config.RetentionConfig
	stopCh chan struct{}
}

// NewRetentionManager creates a new retention manager
func NewRetentionManager(repo RetentionRepository, cfg config.RetentionConfig, logger *slog.Logger) *RetentionManager {
	return &RetentionManager{
		repo:   repo,
		logger: logger,
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}
}

// Start begins the periodic sweep
func (rm *RetentionManager) Start(ctx context.Context) {
	ticker := time.NewTicker(rm.cfg.SweepInterval)
	defer ticker.Stop()

	// Run immediately on startup
	rm.runSweep(ctx)

	for {
		select {
		case <-ticker.C:
			rm.runSweep(ctx)
		case <-rm.stopCh:
			rm.logger.Info("retention manager stopped")
			return
		case <-ctx.Done():
			rm.logger.Info("retention manager context cancelled")
			return
		}
	}
}

// RunOnce performs a single sweep. Used by the operator CLI.
func (rm *RetentionManager) RunOnce(ctx context.Context) {
	rm.runSweep(ctx)
}

func (rm *RetentionManager) runSweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	now := time.Now().UTC()

	purged, err := rm.repo.PurgeAttemptsBefore(sweepCtx, now.Add(-rm.cfg.AttemptRetention))
	if err != nil {
		rm.logger.Error("failed to purge old attempts", slog.Any("error", err))
	} else if purged > 0 {
		rm.logger.Info("old attempts purged", slog.Int64("rows_deleted", purged))
	}

	expired, err := rm.repo.DeactivateExpiredLockouts(sweepCtx, now)
	if err != nil {
		rm.logger.Error("failed to expire lockouts", slog.Any("error", err))
	} else if expired > 0 {
		rm.logger.Info("expired lockouts deactivated", slog.Int64("rows_updated", expired))
	}
}

// Stop signals the retention manager to stop
func (rm *RetentionManager) Stop() {
	close(rm.stopCh)
}
