package services_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptstash/lockgate/internal/models"
)

func TestRecord_PersistsAttempt(t *testing.T) {
	h := newTestHarness(t)

	err := h.recorder.Record(context.Background(), "acct-1", false, "203.0.113.7")

	assert.NoError(t, err)
	require.Len(t, h.repo.attempts, 1)
	attempt := h.repo.attempts[0]
	assert.NotEmpty(t, attempt.ID)
	assert.Equal(t, "acct-1", attempt.AccountID)
	assert.False(t, attempt.Succeeded)
	require.NotNil(t, attempt.OriginAddress)
	assert.Equal(t, "203.0.113.7", *attempt.OriginAddress)
	assert.Equal(t, h.clock.Now(), attempt.OccurredAt)
}

func TestRecord_EmptyOriginStoredAsNil(t *testing.T) {
	h := newTestHarness(t)

	err := h.recorder.Record(context.Background(), "acct-1", true, "")

	assert.NoError(t, err)
	require.Len(t, h.repo.attempts, 1)
	assert.Nil(t, h.repo.attempts[0].OriginAddress)
}

func TestRecord_OriginTruncatedToColumnWidth(t *testing.T) {
	h := newTestHarness(t)
	long := strings.Repeat("a", models.MaxOriginAddressLen+20)

	err := h.recorder.Record(context.Background(), "acct-1", false, long)

	assert.NoError(t, err)
	require.NotNil(t, h.repo.attempts[0].OriginAddress)
	assert.Len(t, *h.repo.attempts[0].OriginAddress, models.MaxOriginAddressLen)
}

func TestRecord_MultibyteOriginTruncatedOnRuneBoundary(t *testing.T) {
	h := newTestHarness(t)
	long := strings.Repeat("é", models.MaxOriginAddressLen)

	err := h.recorder.Record(context.Background(), "acct-1", false, long)

	assert.NoError(t, err)
	require.NotNil(t, h.repo.attempts[0].OriginAddress)
	stored := *h.repo.attempts[0].OriginAddress
	assert.True(t, utf8.ValidString(stored), "the cut must not split a rune")
	assert.LessOrEqual(t, len(stored), models.MaxOriginAddressLen)
	assert.Equal(t, strings.Repeat("é", models.MaxOriginAddressLen/2), stored)
}

func TestRecord_NoLockoutBelowThreshold(t *testing.T) {
	h := newTestHarness(t)

	h.recordFailures(t, "acct-1", 9)

	locked, err := h.gate.IsLocked(context.Background(), "acct-1")
	assert.NoError(t, err)
	assert.False(t, locked)
	assert.Empty(t, h.repo.lockouts)
}

func TestRecord_LocksAtThreshold(t *testing.T) {
	h := newTestHarness(t)

	h.recordFailures(t, "acct-1", 10)

	locked, err := h.gate.IsLocked(context.Background(), "acct-1")
	assert.NoError(t, err)
	assert.True(t, locked)

	require.Len(t, h.repo.lockouts, 1)
	lockout := h.repo.lockouts[0]
	assert.Equal(t, "acct-1", lockout.AccountID)
	assert.True(t, lockout.IsActive)
	assert.Nil(t, lockout.LockoutEnd, "recorder only creates permanent lockouts")
	assert.Equal(t, 10, lockout.FailedAttemptsAtLockout)
	assert.Equal(t, h.clock.Now(), lockout.LockoutStart)
}

func TestRecord_FailuresOutsideWindowDoNotCount(t *testing.T) {
	h := newTestHarness(t)

	h.recordFailures(t, "acct-1", 9)
	h.clock.Advance(16 * time.Minute)
	h.recordFailures(t, "acct-1", 1)

	count, err := h.gate.FailedAttemptCount(context.Background(), "acct-1")
	assert.NoError(t, err)
	assert.Equal(t, 1, count)

	locked, err := h.gate.IsLocked(context.Background(), "acct-1")
	assert.NoError(t, err)
	assert.False(t, locked)
}

func TestRecord_SuccessClearsTemporaryLockout(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	until := h.clock.Now().Add(time.Hour)
	require.NoError(t, h.admin.LockAccountUntil(ctx, "acct-1", until))

	locked, err := h.gate.IsLocked(ctx, "acct-1")
	require.NoError(t, err)
	require.True(t, locked)

	require.NoError(t, h.recorder.Record(ctx, "acct-1", true, "203.0.113.7"))

	locked, err = h.gate.IsLocked(ctx, "acct-1")
	assert.NoError(t, err)
	assert.False(t, locked)
}

func TestRecord_SuccessPreservesPermanentLockout(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	h.recordFailures(t, "acct-1", 10)

	// a success should be unreachable past a permanent lock; if forced
	// through anyway, the lock stays
	require.NoError(t, h.recorder.Record(ctx, "acct-1", true, ""))

	locked, err := h.gate.IsLocked(ctx, "acct-1")
	assert.NoError(t, err)
	assert.True(t, locked)
}

func TestRecord_SuccessDoesNotResetFailureCount(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	h.recordFailures(t, "acct-1", 3)
	require.NoError(t, h.recorder.Record(ctx, "acct-1", true, ""))

	count, err := h.gate.FailedAttemptCount(ctx, "acct-1")
	assert.NoError(t, err)
	assert.Equal(t, 3, count, "counts derive from attempt rows; a success adds none and removes none")
}

func TestRecord_AccountsAreIndependent(t *testing.T) {
	h := newTestHarness(t)

	h.recordFailures(t, "acct-1", 10)
	h.recordFailures(t, "acct-2", 2)

	locked, err := h.gate.IsLocked(context.Background(), "acct-2")
	assert.NoError(t, err)
	assert.False(t, locked)

	count, err := h.gate.FailedAttemptCount(context.Background(), "acct-2")
	assert.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRecord_StorageErrorPropagates(t *testing.T) {
	h := newTestHarness(t)
	storageErr := errors.New("connection refused")
	h.repo.failWith = storageErr

	err := h.recorder.Record(context.Background(), "acct-1", false, "")

	assert.ErrorIs(t, err, storageErr)
}
