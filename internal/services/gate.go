package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/promptstash/lockgate/internal/config"
	pkglogger "github.com/promptstash/lockgate/pkg/logger"
)

// LockoutGate answers lock and backoff questions for an account before a
// credential check is attempted. Temporary lockouts found expired at read
// time are deactivated in place, so no background process is required for
// correctness.
type LockoutGate struct {
	repo   LockoutRepository
	policy config.LockoutConfig
	clock  Clock
	logger *slog.Logger
	audit  *pkglogger.AuditLogger
}

// NewLockoutGate creates a new LockoutGate
func NewLockoutGate(repo LockoutRepository, policy config.LockoutConfig, clock Clock, logger *slog.Logger, audit *pkglogger.AuditLogger) *LockoutGate {
	if clock == nil {
		clock = SystemClock()
	}
	return &LockoutGate{
		repo:   repo,
		policy: policy,
		clock:  clock,
		logger: logger,
		audit:  audit,
	}
}

// IsLocked reports whether the account currently holds an active lockout.
// Expired temporary lockouts are deactivated and do not count. The result is
// a plain boolean so the caller keeps full control over what it discloses
// about the lock.
func (s *LockoutGate) IsLocked(ctx context.Context, accountID string) (bool, error) {
	lockouts, err := s.repo.ActiveLockouts(ctx, accountID)
	if err != nil {
		return false, err
	}

	if len(lockouts) > 1 {
		// should be at most one under correct operation; treat any
		// active row as locked and flag the anomaly
		s.logger.Warn("multiple active lockouts for account",
			slog.String("account_id", accountID),
			slog.Int("count", len(lockouts)))
	}

	now := s.clock.Now()
	locked := false

	for _, lockout := range lockouts {
		if lockout.ExpiredAt(now) {
			if err := s.repo.DeactivateLockout(ctx, lockout.ID); err != nil {
				return false, err
			}
			s.audit.LogLockoutEvent(pkglogger.LockoutEvent{
				EventType: "lockout_expired",
				AccountID: accountID,
			})
			continue
		}
		locked = true
	}

	return locked, nil
}

// BackoffDelay returns the wait the caller must honor before the next
// attempt, rounded up to whole seconds, and whether a wait is required at
// all. Throttling runs strictly between the backoff start count and the
// lockout threshold; at or past the threshold IsLocked governs and no delay
// is reported. The subsystem never sleeps itself; the delay is a value for
// the caller to honor.
func (s *LockoutGate) BackoffDelay(ctx context.Context, accountID string) (time.Duration, bool, error) {
	now := s.clock.Now()
	since := now.Add(-s.policy.AttemptWindow)

	failedAttempts, err := s.repo.CountFailedAttempts(ctx, accountID, since)
	if err != nil {
		return 0, false, err
	}

	if failedAttempts < s.policy.BackoffStartAttempt || failedAttempts >= s.policy.MaxFailedAttempts {
		return 0, false, nil
	}

	lastFailure, err := s.repo.LastFailedAttempt(ctx, accountID, since)
	if err != nil {
		return 0, false, err
	}
	if lastFailure == nil {
		return 0, false, nil
	}

	elapsed := now.Sub(lastFailure.OccurredAt)
	if elapsed >= s.policy.BackoffWindow {
		return 0, false, nil
	}

	remaining := s.policy.BackoffWindow - elapsed
	delay := remaining.Truncate(time.Second)
	if delay < remaining {
		delay += time.Second
	}

	return delay, true, nil
}

// FailedAttemptCount exposes the trailing-window failure count directly, for
// callers that want to warn an account before the threshold is hit.
func (s *LockoutGate) FailedAttemptCount(ctx context.Context, accountID string) (int, error) {
	since := s.clock.Now().Add(-s.policy.AttemptWindow)
	return s.repo.CountFailedAttempts(ctx, accountID, since)
}
