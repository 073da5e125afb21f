package models

import "time"

// MaxOriginAddressLen bounds the stored origin address. 45 characters is
// enough for a full IPv6 literal.
const MaxOriginAddressLen = 45

// LoginAttempt represents a single authentication attempt. Rows are written
// once by the recorder and never mutated; the origin address is kept for
// audit purposes only and plays no part in lockout decisions.
type LoginAttempt struct {
	ID            string    `db:"id"`
	AccountID     string    `db:"account_id"`
	Succeeded     bool      `db:"succeeded"`
	OriginAddress *string   `db:"origin_address"`
	OccurredAt    time.Time `db:"occurred_at"`
}
