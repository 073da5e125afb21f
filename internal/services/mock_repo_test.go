package services_test

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/promptstash/lockgate/internal/config"
	"github.com/promptstash/lockgate/internal/models"
	"github.com/promptstash/lockgate/internal/services"
	pkglogger "github.com/promptstash/lockgate/pkg/logger"
)

// fakeClock is a manually advanced Clock for window arithmetic tests
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// MockLockoutRepository implements LockoutRepository in memory, mirroring
// the SQL semantics of the pgx implementation
type MockLockoutRepository struct {
	attempts []*models.LoginAttempt
	lockouts []*models.AccountLockout

	// when set, every operation fails with this error
	failWith error
}

func NewMockLockoutRepository() *MockLockoutRepository {
	return &MockLockoutRepository{}
}

func (m *MockLockoutRepository) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.failWith != nil {
		return m.failWith
	}
	return fn(ctx)
}

func (m *MockLockoutRepository) InsertAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	if m.failWith != nil {
		return m.failWith
	}
	cp := *attempt
	m.attempts = append(m.attempts, &cp)
	return nil
}

func (m *MockLockoutRepository) lastClearance(accountID string) time.Time {
	var last time.Time
	for _, l := range m.lockouts {
		if l.AccountID == accountID && l.ClearedBy != nil && l.ClearedAt != nil && l.ClearedAt.After(last) {
			last = *l.ClearedAt
		}
	}
	return last
}

func (m *MockLockoutRepository) CountFailedAttempts(ctx context.Context, accountID string, since time.Time) (int, error) {
	if m.failWith != nil {
		return 0, m.failWith
	}
	cleared := m.lastClearance(accountID)
	count := 0
	for _, a := range m.attempts {
		if a.AccountID == accountID && !a.Succeeded && !a.OccurredAt.Before(since) && a.OccurredAt.After(cleared) {
			count++
		}
	}
	return count, nil
}

func (m *MockLockoutRepository) LastFailedAttempt(ctx context.Context, accountID string, since time.Time) (*models.LoginAttempt, error) {
	if m.failWith != nil {
		return nil, m.failWith
	}
	var last *models.LoginAttempt
	for _, a := range m.attempts {
		if a.AccountID == accountID && !a.Succeeded && !a.OccurredAt.Before(since) {
			if last == nil || a.OccurredAt.After(last.OccurredAt) {
				last = a
			}
		}
	}
	return last, nil
}

func (m *MockLockoutRepository) ActiveLockouts(ctx context.Context, accountID string) ([]*models.AccountLockout, error) {
	if m.failWith != nil {
		return nil, m.failWith
	}
	active := make([]*models.AccountLockout, 0)
	for _, l := range m.lockouts {
		if l.AccountID == accountID && l.IsActive {
			active = append(active, l)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].LockoutStart.After(active[j].LockoutStart)
	})
	return active, nil
}

func (m *MockLockoutRepository) InsertLockout(ctx context.Context, lockout *models.AccountLockout) error {
	if m.failWith != nil {
		return m.failWith
	}
	cp := *lockout
	m.lockouts = append(m.lockouts, &cp)
	return nil
}

func (m *MockLockoutRepository) DeactivateLockout(ctx context.Context, lockoutID string) error {
	if m.failWith != nil {
		return m.failWith
	}
	for _, l := range m.lockouts {
		if l.ID == lockoutID {
			l.IsActive = false
		}
	}
	return nil
}

func (m *MockLockoutRepository) DeactivateTemporaryLockouts(ctx context.Context, accountID string) error {
	if m.failWith != nil {
		return m.failWith
	}
	for _, l := range m.lockouts {
		if l.AccountID == accountID && l.IsActive && l.LockoutEnd != nil {
			l.IsActive = false
		}
	}
	return nil
}

func (m *MockLockoutRepository) DeactivateAllLockouts(ctx context.Context, accountID, clearedBy string, clearedAt time.Time) (int64, error) {
	if m.failWith != nil {
		return 0, m.failWith
	}
	var cleared int64
	for _, l := range m.lockouts {
		if l.AccountID == accountID && l.IsActive {
			l.IsActive = false
			by := clearedBy
			at := clearedAt
			l.ClearedBy = &by
			l.ClearedAt = &at
			cleared++
		}
	}
	return cleared, nil
}

func (m *MockLockoutRepository) LockedAccounts(ctx context.Context, now time.Time) ([]*models.AccountLockout, error) {
	if m.failWith != nil {
		return nil, m.failWith
	}
	locked := make([]*models.AccountLockout, 0)
	for _, l := range m.lockouts {
		if l.IsActive && (l.LockoutEnd == nil || l.LockoutEnd.After(now)) {
			locked = append(locked, l)
		}
	}
	sort.Slice(locked, func(i, j int) bool {
		return locked[i].LockoutStart.After(locked[j].LockoutStart)
	})
	return locked, nil
}

func testPolicy() config.LockoutConfig {
	return config.LockoutConfig{
		MaxFailedAttempts:   10,
		BackoffStartAttempt: 5,
		BackoffWindow:       60 * time.Second,
		AttemptWindow:       15 * time.Minute,
	}
}

// testHarness bundles the services under test against one shared mock
// repository and fake clock
type testHarness struct {
	repo     *MockLockoutRepository
	clock    *fakeClock
	recorder *services.AttemptRecorder
	gate     *services.LockoutGate
	admin    *services.AdminService
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	audit := pkglogger.NewAuditLogger(logger)
	repo := NewMockLockoutRepository()
	clock := newFakeClock()
	policy := testPolicy()

	return &testHarness{
		repo:     repo,
		clock:    clock,
		recorder: services.NewAttemptRecorder(repo, policy, clock, logger, audit),
		gate:     services.NewLockoutGate(repo, policy, clock, logger, audit),
		admin:    services.NewAdminService(repo, policy, clock, logger, audit),
	}
}

// recordFailures records n failed attempts one second apart, leaving the
// clock just after the last one
func (h *testHarness) recordFailures(t *testing.T, accountID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		h.clock.Advance(time.Second)
		if err := h.recorder.Record(context.Background(), accountID, false, "192.168.1.50"); err != nil {
			t.Fatalf("failed to record attempt %d: %v", i+1, err)
		}
	}
}
