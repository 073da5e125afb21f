package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/promptstash/lockgate/internal/database"
	"github.com/promptstash/lockgate/internal/models"
)

// LockoutRepository handles database operations for login attempts and
// account lockouts.
type LockoutRepository struct {
	db *database.DB
}

// NewLockoutRepository creates a new LockoutRepository
func NewLockoutRepository(db *database.DB) *LockoutRepository {
	return &LockoutRepository{db: db}
}

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx, so every query
// can run against the pool or against an enclosing transaction.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

func (r *LockoutRepository) q(ctx context.Context) pgxQuerier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return r.db.Pool
}

// InTx runs fn with a context that routes every repository call through one
// transaction. Nested calls reuse the enclosing transaction.
func (r *LockoutRepository) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// InsertAttempt records a login attempt. Attempt rows are immutable once
// written.
func (r *LockoutRepository) InsertAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	query := `
		INSERT INTO login_attempts (id, account_id, succeeded, origin_address, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.q(ctx).Exec(ctx, query,
		attempt.ID,
		attempt.AccountID,
		attempt.Succeeded,
		attempt.OriginAddress,
		attempt.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert login attempt: %w", database.MapPostgresError(err))
	}

	return nil
}

// CountFailedAttempts returns the number of failed attempts for an account
// since the given instant. Failures at or before the account's most recent
// administrative clearance are excluded, so a freshly unlocked account does
// not immediately re-lock on its next failure.
func (r *LockoutRepository) CountFailedAttempts(ctx context.Context, accountID string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE account_id = $1 AND succeeded = FALSE AND occurred_at >= $2
		  AND occurred_at > COALESCE(
			(SELECT MAX(cleared_at) FROM account_lockouts
			 WHERE account_id = $1 AND cleared_by IS NOT NULL),
			'-infinity'::timestamptz)
	`

	var count int
	if err := r.q(ctx).QueryRow(ctx, query, accountID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count failed attempts: %w", database.MapPostgresError(err))
	}

	return count, nil
}

// LastFailedAttempt returns the most recent failed attempt for an account
// since the given instant, or nil if there is none.
func (r *LockoutRepository) LastFailedAttempt(ctx context.Context, accountID string, since time.Time) (*models.LoginAttempt, error) {
	query := `
		SELECT id, account_id, succeeded, origin_address, occurred_at
		FROM login_attempts
		WHERE account_id = $1 AND succeeded = FALSE AND occurred_at >= $2
		ORDER BY occurred_at DESC
		LIMIT 1
	`

	var attempt models.LoginAttempt
	err := r.q(ctx).QueryRow(ctx, query, accountID, since).Scan(
		&attempt.ID,
		&attempt.AccountID,
		&attempt.Succeeded,
		&attempt.OriginAddress,
		&attempt.OccurredAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last failed attempt: %w", database.MapPostgresError(err))
	}

	return &attempt, nil
}

// ActiveLockouts returns every active lockout for an account, most recent
// first. Correct operation keeps this at zero or one rows; readers tolerate
// more.
func (r *LockoutRepository) ActiveLockouts(ctx context.Context, accountID string) ([]*models.AccountLockout, error) {
	query := `
		SELECT id, account_id, lockout_start, lockout_end,
		       failed_attempts_at_lockout, is_active, cleared_by, cleared_at
		FROM account_lockouts
		WHERE account_id = $1 AND is_active = TRUE
		ORDER BY lockout_start DESC
	`

	rows, err := r.q(ctx).Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query active lockouts: %w", database.MapPostgresError(err))
	}

	return scanLockoutRows(rows)
}

// InsertLockout creates a new lockout episode.
func (r *LockoutRepository) InsertLockout(ctx context.Context, lockout *models.AccountLockout) error {
	query := `
		INSERT INTO account_lockouts (id, account_id, lockout_start, lockout_end,
		                              failed_attempts_at_lockout, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.q(ctx).Exec(ctx, query,
		lockout.ID,
		lockout.AccountID,
		lockout.LockoutStart,
		lockout.LockoutEnd,
		lockout.FailedAttemptsAtLockout,
		lockout.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to insert lockout: %w", database.MapPostgresError(err))
	}

	return nil
}

// DeactivateLockout flips a single lockout inactive. Used by the gate when a
// temporary lockout is found expired at read time.
func (r *LockoutRepository) DeactivateLockout(ctx context.Context, lockoutID string) error {
	query := `UPDATE account_lockouts SET is_active = FALSE WHERE id = $1`

	_, err := r.q(ctx).Exec(ctx, query, lockoutID)
	if err != nil {
		return fmt.Errorf("failed to deactivate lockout: %w", database.MapPostgresError(err))
	}

	return nil
}

// DeactivateTemporaryLockouts flips every active self-expiring lockout for
// an account inactive. Permanent lockouts are left untouched.
func (r *LockoutRepository) DeactivateTemporaryLockouts(ctx context.Context, accountID string) error {
	query := `
		UPDATE account_lockouts SET is_active = FALSE
		WHERE account_id = $1 AND is_active = TRUE AND lockout_end IS NOT NULL
	`

	_, err := r.q(ctx).Exec(ctx, query, accountID)
	if err != nil {
		return fmt.Errorf("failed to deactivate temporary lockouts: %w", database.MapPostgresError(err))
	}

	return nil
}

// DeactivateAllLockouts clears every active lockout for an account on behalf
// of an administrative actor, stamping who cleared them and when. The
// cleared_at stamp doubles as the lower bound for subsequent failure counts.
// Returns the number of lockouts cleared.
func (r *LockoutRepository) DeactivateAllLockouts(ctx context.Context, accountID, clearedBy string, clearedAt time.Time) (int64, error) {
	query := `
		UPDATE account_lockouts
		SET is_active = FALSE, cleared_by = $2, cleared_at = $3
		WHERE account_id = $1 AND is_active = TRUE
	`

	tag, err := r.q(ctx).Exec(ctx, query, accountID, clearedBy, clearedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to clear lockouts: %w", database.MapPostgresError(err))
	}

	return tag.RowsAffected(), nil
}

// LockedAccounts returns the account IDs that currently hold an active
// lockout which has not yet passed its end instant.
func (r *LockoutRepository) LockedAccounts(ctx context.Context, now time.Time) ([]*models.AccountLockout, error) {
	query := `
		SELECT id, account_id, lockout_start, lockout_end,
		       failed_attempts_at_lockout, is_active, cleared_by, cleared_at
		FROM account_lockouts
		WHERE is_active = TRUE AND (lockout_end IS NULL OR lockout_end > $1)
		ORDER BY lockout_start DESC
	`

	rows, err := r.q(ctx).Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query locked accounts: %w", database.MapPostgresError(err))
	}

	return scanLockoutRows(rows)
}

// PurgeAttemptsBefore deletes attempt rows older than the cutoff and returns
// the number removed. Retention only; decision queries never reach rows this
// old.
func (r *LockoutRepository) PurgeAttemptsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM login_attempts WHERE occurred_at < $1`

	tag, err := r.q(ctx).Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge attempts: %w", database.MapPostgresError(err))
	}

	return tag.RowsAffected(), nil
}

// DeactivateExpiredLockouts bulk-expires temporary lockouts whose end instant
// has passed. The gate already answers correctly for these at read time; the
// sweep just keeps the active set small.
func (r *LockoutRepository) DeactivateExpiredLockouts(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE account_lockouts SET is_active = FALSE
		WHERE is_active = TRUE AND lockout_end IS NOT NULL AND lockout_end <= $1
	`

	tag, err := r.q(ctx).Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire lockouts: %w", database.MapPostgresError(err))
	}

	return tag.RowsAffected(), nil
}

// rowScanner abstracts pgx.Row and pgx.Rows for shared scan helpers
type rowScanner interface {
	Scan(dest ...any) error
}

func scanLockoutRow(row rowScanner) (*models.AccountLockout, error) {
	var lockout models.AccountLockout

	err := row.Scan(
		&lockout.ID, &lockout.AccountID, &lockout.LockoutStart, &lockout.LockoutEnd,
		&lockout.FailedAttemptsAtLockout, &lockout.IsActive, &lockout.ClearedBy, &lockout.ClearedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &lockout, nil
}

func scanLockoutRows(rows pgx.Rows) ([]*models.AccountLockout, error) {
	defer rows.Close()

	lockouts := make([]*models.AccountLockout, 0)

	for rows.Next() {
		lockout, err := scanLockoutRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lockout: %w", err)
		}
		lockouts = append(lockouts, lockout)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lockout rows: %w", err)
	}

	return lockouts, nil
}
