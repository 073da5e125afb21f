package logger

import (
	"context"
	"log/slog"
	"time"
)

// LockoutEvent represents a security audit event in the lockout lifecycle
type LockoutEvent struct {
	EventType      string // lockout_created, lockout_cleared, lockout_expired
	AccountID      string
	OriginAddress  string
	FailedAttempts int
	ClearedBy      string
}

// AuditLogger provides audit logging functionality
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// LogLockoutEvent logs lockout lifecycle events. Lockout creation is logged
// at WARN since it usually indicates an attack in progress; clearance and
// expiry are routine.
func (al *AuditLogger) LogLockoutEvent(event LockoutEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "lockout"),
		slog.String("event_type", event.EventType),
		slog.String("account_id", event.AccountID),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.OriginAddress != "" {
		attrs = append(attrs, slog.String("origin_address", SanitizedOrigin(event.OriginAddress)))
	}
	if event.FailedAttempts > 0 {
		attrs = append(attrs, slog.Int("failed_attempts", event.FailedAttempts))
	}
	if event.ClearedBy != "" {
		attrs = append(attrs, slog.String("cleared_by", event.ClearedBy))
	}

	level := slog.LevelInfo
	if event.EventType == "lockout_created" {
		level = slog.LevelWarn
	}

	al.logger.LogAttrs(context.Background(), level, "audit", attrs...)
}
