/*
Package quota tracks non-monetary daily free-usage allowances.

PURPOSE:
  Two ceilings live here, both reset per calendar day:
  - the PERSONAL free allowance on each account (dailyFreeLimit), consumed
    before any paid pocket for quota-eligible tools
  - the TENANT ceiling (school/org daily cap), a hard limit checked before
    anything else

  Free-tier consumption never touches the ledger: it mutates counters on
  the account and returns. Which tools are quota-eligible is NOT a quota
  concern - the resolver consults the declared eligibility table.

DAY SEMANTICS:
  A "day" is date-string equality (YYYY-MM-DD), no timezone handling. The
  first call on a new day resets the counter before evaluating.

SEE ALSO:
  - resolver: orders quota against the paid pockets
  - ledger: Account carries the personal counters
*/
package quota

import (
	"context"
	"sync"

	"github.com/warp/credit-engine/ledger"
)

// =============================================================================
// PERSONAL ALLOWANCE
// =============================================================================

// ResetIfNewDay resets the account's daily counter when its last reset was
// on a different calendar day. Returns true if a reset happened; the
// caller owns persisting the account (it already holds the account lock).
func ResetIfNewDay(acc *ledger.Account, today string) bool {
	if acc.LastResetDate == today {
		return false
	}
	acc.DailyFreeUsed = 0
	acc.LastResetDate = today
	return true
}

// TryConsume grants amount from the personal free allowance, or returns
// QuotaExhaustedError leaving the counters unchanged. Must be called with
// the account lock held (inside ledger.Service.Update).
func TryConsume(acc *ledger.Account, amount int64, today string) error {
	ResetIfNewDay(acc, today)

	if acc.DailyFreeUsed+amount > acc.DailyFreeLimit {
		return &ledger.QuotaExhaustedError{
			AccountID: acc.ID,
			Limit:     acc.DailyFreeLimit,
			Used:      acc.DailyFreeUsed,
			Requested: amount,
		}
	}
	acc.DailyFreeUsed += amount
	return nil
}

// Remaining reports the allowance left today without mutating anything.
func Remaining(acc *ledger.Account, today string) int64 {
	used := acc.DailyFreeUsed
	if acc.LastResetDate != today {
		used = 0
	}
	if acc.DailyFreeLimit <= used {
		return 0
	}
	return acc.DailyFreeLimit - used
}

// =============================================================================
// TENANT CEILING
// =============================================================================

// TenantUsageStore persists per-tenant per-day consumption counters.
type TenantUsageStore interface {
	TenantUsage(ctx context.Context, tenantID, day string) (int64, error)
	SaveTenantUsage(ctx context.Context, tenantID, day string, used int64) error
}

// TenantLimits resolves the configured daily ceiling for a tenant.
// A limit of 0 means no ceiling.
type TenantLimits interface {
	TenantDailyLimit(tenantID string) int64
}

// TenantTracker serializes tenant counter updates. Tenant usage counts the
// attempt at check time and is not released if a later tier denies the
// charge - this mirrors the established product behavior (flagged in
// DESIGN.md for product confirmation).
type TenantTracker struct {
	store  TenantUsageStore
	limits TenantLimits
	mu     sync.Mutex
}

func NewTenantTracker(store TenantUsageStore, limits TenantLimits) *TenantTracker {
	return &TenantTracker{store: store, limits: limits}
}

// TryConsume enforces the tenant's daily ceiling. Denial here is final
// regardless of the account's personal balance.
func (t *TenantTracker) TryConsume(ctx context.Context, tenantID string, amount int64, today string) error {
	if tenantID == "" || t.limits == nil {
		return nil
	}
	limit := t.limits.TenantDailyLimit(tenantID)
	if limit <= 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	used, err := t.store.TenantUsage(ctx, tenantID, today)
	if err != nil {
		return err
	}
	if used+amount > limit {
		return &ledger.TenantQuotaError{
			TenantID:  tenantID,
			Limit:     limit,
			Used:      used,
			Requested: amount,
		}
	}
	return t.store.SaveTenantUsage(ctx, tenantID, today, used+amount)
}
