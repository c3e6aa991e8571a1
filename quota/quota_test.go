package quota_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/credit-engine/ledger"
	"github.com/warp/credit-engine/quota"
	"github.com/warp/credit-engine/store/memory"
)

func freeAccount(limit, used int64, lastReset string) *ledger.Account {
	return &ledger.Account{
		ID:             "acc-1",
		Kind:           ledger.KindLearner,
		DailyFreeLimit: limit,
		DailyFreeUsed:  used,
		LastResetDate:  lastReset,
	}
}

// =============================================================================
// PERSONAL ALLOWANCE TESTS
// =============================================================================

func TestTryConsume_WithinAllowance_Grants(t *testing.T) {
	// GIVEN: 3 of 50 used today
	// WHEN: Consuming 5
	// THEN: Granted, counter at 8

	acc := freeAccount(50, 3, "2026-08-31")

	err := quota.TryConsume(acc, 5, "2026-08-31")

	require.NoError(t, err)
	assert.Equal(t, int64(8), acc.DailyFreeUsed)
}

func TestTryConsume_ExceedsAllowance_DeniedUnchanged(t *testing.T) {
	// GIVEN: 48 of 50 used today
	// WHEN: Consuming 5
	// THEN: QuotaExhaustedError with the shortfall details; counter untouched

	acc := freeAccount(50, 48, "2026-08-31")

	err := quota.TryConsume(acc, 5, "2026-08-31")

	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrQuotaExhausted)
	var qErr *ledger.QuotaExhaustedError
	require.ErrorAs(t, err, &qErr)
	assert.Equal(t, int64(50), qErr.Limit)
	assert.Equal(t, int64(48), qErr.Used)
	assert.Equal(t, int64(5), qErr.Requested)
	assert.Equal(t, int64(48), acc.DailyFreeUsed)
}

func TestTryConsume_ExactlyRemaining_Grants(t *testing.T) {
	// GIVEN: 45 of 50 used
	// WHEN: Consuming exactly 5
	// THEN: Granted, allowance fully spent

	acc := freeAccount(50, 45, "2026-08-31")

	require.NoError(t, quota.TryConsume(acc, 5, "2026-08-31"))
	assert.Equal(t, int64(50), acc.DailyFreeUsed)
	assert.Equal(t, int64(0), quota.Remaining(acc, "2026-08-31"))
}

func TestTryConsume_NewCalendarDay_ResetsFirst(t *testing.T) {
	// GIVEN: Allowance exhausted yesterday
	// WHEN: Consuming today
	// THEN: Counter reset to zero before evaluating; grant succeeds

	acc := freeAccount(50, 50, "2026-08-30")

	err := quota.TryConsume(acc, 10, "2026-08-31")

	require.NoError(t, err)
	assert.Equal(t, int64(10), acc.DailyFreeUsed)
	assert.Equal(t, "2026-08-31", acc.LastResetDate)
}

func TestResetIfNewDay_SameDay_NoReset(t *testing.T) {
	acc := freeAccount(50, 12, "2026-08-31")

	assert.False(t, quota.ResetIfNewDay(acc, "2026-08-31"))
	assert.Equal(t, int64(12), acc.DailyFreeUsed)
}

func TestRemaining_StaleResetDate_ReportsFullAllowance(t *testing.T) {
	// GIVEN: Counter from yesterday
	// WHEN: Asking what's left today
	// THEN: The full limit, without mutating the account

	acc := freeAccount(50, 50, "2026-08-30")

	assert.Equal(t, int64(50), quota.Remaining(acc, "2026-08-31"))
	assert.Equal(t, int64(50), acc.DailyFreeUsed, "Remaining must not mutate")
}

// =============================================================================
// TENANT CEILING TESTS
// =============================================================================

type fixedLimits map[string]int64

func (f fixedLimits) TenantDailyLimit(tenantID string) int64 { return f[tenantID] }

func TestTenantTracker_WithinCeiling_CountsUsage(t *testing.T) {
	// GIVEN: Tenant ceiling of 100
	// WHEN: Two charges of 40
	// THEN: Both pass; usage persisted at 80

	store := memory.New()
	tracker := quota.NewTenantTracker(store, fixedLimits{"school-01": 100})
	ctx := context.Background()

	require.NoError(t, tracker.TryConsume(ctx, "school-01", 40, "2026-08-31"))
	require.NoError(t, tracker.TryConsume(ctx, "school-01", 40, "2026-08-31"))

	used, err := store.TenantUsage(ctx, "school-01", "2026-08-31")
	require.NoError(t, err)
	assert.Equal(t, int64(80), used)
}

func TestTenantTracker_ExceedsCeiling_DeniedUncounted(t *testing.T) {
	// GIVEN: 80 of 100 used
	// WHEN: Charging 30
	// THEN: TenantQuotaError; the denied attempt does not consume the ceiling

	store := memory.New()
	tracker := quota.NewTenantTracker(store, fixedLimits{"school-01": 100})
	ctx := context.Background()

	require.NoError(t, tracker.TryConsume(ctx, "school-01", 80, "2026-08-31"))

	err := tracker.TryConsume(ctx, "school-01", 30, "2026-08-31")
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrTenantQuotaExceeded)
	var tErr *ledger.TenantQuotaError
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, "school-01", tErr.TenantID)
	assert.Equal(t, int64(80), tErr.Used)

	used, err := store.TenantUsage(ctx, "school-01", "2026-08-31")
	require.NoError(t, err)
	assert.Equal(t, int64(80), used)
}

func TestTenantTracker_NoTenant_AlwaysPasses(t *testing.T) {
	// Accounts without a tenant have no ceiling.
	store := memory.New()
	tracker := quota.NewTenantTracker(store, fixedLimits{})

	assert.NoError(t, tracker.TryConsume(context.Background(), "", 1_000_000, "2026-08-31"))
}

func TestTenantTracker_ZeroLimit_MeansNoCeiling(t *testing.T) {
	store := memory.New()
	tracker := quota.NewTenantTracker(store, fixedLimits{"school-01": 0})

	assert.NoError(t, tracker.TryConsume(context.Background(), "school-01", 1_000_000, "2026-08-31"))
}

func TestTenantTracker_NewDay_FreshCounter(t *testing.T) {
	// GIVEN: Ceiling fully consumed on day D
	// WHEN: Charging on day D+1
	// THEN: Fresh counter; the charge passes

	store := memory.New()
	tracker := quota.NewTenantTracker(store, fixedLimits{"school-01": 100})
	ctx := context.Background()

	require.NoError(t, tracker.TryConsume(ctx, "school-01", 100, "2026-08-30"))
	require.Error(t, tracker.TryConsume(ctx, "school-01", 1, "2026-08-30"))

	assert.NoError(t, tracker.TryConsume(ctx, "school-01", 100, "2026-08-31"))
}
