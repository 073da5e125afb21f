package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/promptstash/lockgate/internal/config"
	"github.com/promptstash/lockgate/internal/models"
	pkglogger "github.com/promptstash/lockgate/pkg/logger"
)

// AdminService carries the administrative operations that share the lockout
// data model: explicit unlock (the only way a permanent lockout is lifted)
// and operator-initiated temporary locks.
type AdminService struct {
	repo   LockoutRepository
	policy config.LockoutConfig
	clock  Clock
	logger *slog.Logger
	audit  *pkglogger.AuditLogger
}

// NewAdminService creates a new AdminService
func NewAdminService(repo LockoutRepository, policy config.LockoutConfig, clock Clock, logger *slog.Logger, audit *pkglogger.AuditLogger) *AdminService {
	if clock == nil {
		clock = SystemClock()
	}
	return &AdminService{
		repo:   repo,
		policy: policy,
		clock:  clock,
		logger: logger,
		audit:  audit,
	}
}

// UnlockAccount deactivates every active lockout for the account and stamps
// the clearance, which also neutralizes the trailing failure window so the
// account does not immediately re-lock on its next failure. Idempotent: a
// second call finds nothing active and changes nothing.
func (s *AdminService) UnlockAccount(ctx context.Context, accountID, clearedBy string) error {
	if clearedBy == "" {
		clearedBy = "admin"
	}

	cleared, err := s.repo.DeactivateAllLockouts(ctx, accountID, clearedBy, s.clock.Now())
	if err != nil {
		return err
	}

	if cleared > 0 {
		s.logger.Info("account unlocked",
			slog.String("account_id", accountID),
			slog.String("cleared_by", clearedBy),
			slog.Int64("lockouts_cleared", cleared))
		s.audit.LogLockoutEvent(pkglogger.LockoutEvent{
			EventType: "lockout_cleared",
			AccountID: accountID,
			ClearedBy: clearedBy,
		})
	}

	return nil
}

// LockAccountUntil creates a temporary lockout ending at the given instant.
// The recorder itself only ever creates permanent lockouts; time-bounded
// ones enter through this administrative path and self-expire via the gate's
// lazy read-time check.
func (s *AdminService) LockAccountUntil(ctx context.Context, accountID string, until time.Time) error {
	now := s.clock.Now()

	return s.repo.InTx(ctx, func(ctx context.Context) error {
		failedAttempts, err := s.repo.CountFailedAttempts(ctx, accountID, now.Add(-s.policy.AttemptWindow))
		if err != nil {
			return err
		}

		lockout := &models.AccountLockout{
			ID:                      uuid.NewString(),
			AccountID:               accountID,
			LockoutStart:            now,
			LockoutEnd:              &until,
			FailedAttemptsAtLockout: failedAttempts,
			IsActive:                true,
		}
		if err := s.repo.InsertLockout(ctx, lockout); err != nil {
			return err
		}

		s.audit.LogLockoutEvent(pkglogger.LockoutEvent{
			EventType:      "lockout_created",
			AccountID:      accountID,
			FailedAttempts: failedAttempts,
		})
		return nil
	})
}

// LockedAccounts lists every lockout that is active and has not yet passed
// its end instant, for operator reporting.
func (s *AdminService) LockedAccounts(ctx context.Context) ([]*models.AccountLockout, error) {
	return s.repo.LockedAccounts(ctx, s.clock.Now())
}
