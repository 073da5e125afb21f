package services

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/promptstash/lockgate/internal/config"
	"github.com/promptstash/lockgate/internal/models"
	pkglogger "github.com/promptstash/lockgate/pkg/logger"
)

// LockoutRepository defines the interface for lockout database operations.
// InTx groups calls made with the derived context into one atomic unit.
type LockoutRepository interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	InsertAttempt(ctx context.Context, attempt *models.LoginAttempt) error
	CountFailedAttempts(ctx context.Context, accountID string, since time.Time) (int, error)
	LastFailedAttempt(ctx context.Context, accountID string, since time.Time) (*models.LoginAttempt, error)
	ActiveLockouts(ctx context.Context, accountID string) ([]*models.AccountLockout, error)
	InsertLockout(ctx context.Context, lockout *models.AccountLockout) error
	DeactivateLockout(ctx context.Context, lockoutID string) error
	DeactivateTemporaryLockouts(ctx context.Context, accountID string) error
	DeactivateAllLockouts(ctx context.Context, accountID, clearedBy string, clearedAt time.Time) (int64, error)
	LockedAccounts(ctx context.Context, now time.Time) ([]*models.AccountLockout, error)
}

// AttemptRecorder durably records authentication attempts and evolves
// lockout state as a side effect. It holds no in-memory state of its own;
// every decision is recomputed from persisted rows.
type AttemptRecorder struct {
	repo   LockoutRepository
	policy config.LockoutConfig
	clock  Clock
	logger *slog.Logger
	audit  *pkglogger.AuditLogger
}

// NewAttemptRecorder creates a new AttemptRecorder
func NewAttemptRecorder(repo LockoutRepository, policy config.LockoutConfig, clock Clock, logger *slog.Logger, audit *pkglogger.AuditLogger) *AttemptRecorder {
	if clock == nil {
		clock = SystemClock()
	}
	return &AttemptRecorder{
		repo:   repo,
		policy: policy,
		clock:  clock,
		logger: logger,
		audit:  audit,
	}
}

// Record persists one attempt for an account the caller has already resolved
// to exist. On failure it checks the trailing-window failure count and
// creates a permanent lockout once the threshold is reached; on success it
// clears any still-active temporary lockouts. Permanent lockouts survive a
// success, since a genuine success should be unreachable past a permanent
// lock. The attempt row and any lockout change commit as one transaction.
func (s *AttemptRecorder) Record(ctx context.Context, accountID string, succeeded bool, originAddress string) error {
	now := s.clock.Now()

	attempt := &models.LoginAttempt{
		ID:            uuid.NewString(),
		AccountID:     accountID,
		Succeeded:     succeeded,
		OriginAddress: normalizeOrigin(originAddress),
		OccurredAt:    now,
	}

	var lockedOut bool
	var failedAttempts int

	err := s.repo.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.InsertAttempt(ctx, attempt); err != nil {
			return err
		}

		if succeeded {
			return s.repo.DeactivateTemporaryLockouts(ctx, accountID)
		}

		count, err := s.repo.CountFailedAttempts(ctx, accountID, now.Add(-s.policy.AttemptWindow))
		if err != nil {
			return err
		}
		failedAttempts = count

		if count < s.policy.MaxFailedAttempts {
			return nil
		}

		lockout := &models.AccountLockout{
			ID:                      uuid.NewString(),
			AccountID:               accountID,
			LockoutStart:            now,
			LockoutEnd:              nil, // permanent, admin clearance only
			FailedAttemptsAtLockout: count,
			IsActive:                true,
		}
		if err := s.repo.InsertLockout(ctx, lockout); err != nil {
			return err
		}

		lockedOut = true
		return nil
	})
	if err != nil {
		return err
	}

	if lockedOut {
		s.logger.Warn("account locked",
			slog.String("account_id", accountID),
			slog.Int("failed_attempts", failedAttempts))
		s.audit.LogLockoutEvent(pkglogger.LockoutEvent{
			EventType:      "lockout_created",
			AccountID:      accountID,
			OriginAddress:  originAddress,
			FailedAttempts: failedAttempts,
		})
	}

	return nil
}

// normalizeOrigin maps an empty origin to NULL and bounds the stored length.
// Truncation backs off to a rune boundary so the stored value stays valid
// UTF-8 and the insert cannot fail on encoding.
func normalizeOrigin(origin string) *string {
	if origin == "" {
		return nil
	}
	if len(origin) > models.MaxOriginAddressLen {
		cut := models.MaxOriginAddressLen
		for cut > 0 && !utf8.RuneStart(origin[cut]) {
			cut--
		}
		origin = origin[:cut]
	}
	return &origin
}
