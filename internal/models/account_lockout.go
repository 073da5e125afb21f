package models

import "time"

// AccountLockout represents one lockout episode for an account.
//
// A nil LockoutEnd means the lockout is permanent and can only be lifted by
// an explicit administrative unlock. A set LockoutEnd means the lockout
// self-expires at that instant; expiry is evaluated lazily at read time.
// At most one lockout per account should be active at a time, but storage
// does not enforce that; readers tolerate extras and treat any active row
// as locked.
type AccountLockout struct {
	ID                      string     `db:"id"`
	AccountID               string     `db:"account_id"`
	LockoutStart            time.Time  `db:"lockout_start"`
	LockoutEnd              *time.Time `db:"lockout_end"`
	FailedAttemptsAtLockout int        `db:"failed_attempts_at_lockout"`
	IsActive                bool       `db:"is_active"`
	ClearedBy               *string    `db:"cleared_by"`
	ClearedAt               *time.Time `db:"cleared_at"`
}

// Permanent reports whether the lockout has no self-expiry.
func (l *AccountLockout) Permanent() bool {
	return l.LockoutEnd == nil
}

// ExpiredAt reports whether a temporary lockout has passed its end instant.
// Permanent lockouts never expire.
func (l *AccountLockout) ExpiredAt(now time.Time) bool {
	return l.LockoutEnd != nil && !l.LockoutEnd.After(now)
}
