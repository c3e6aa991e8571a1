/*
Package resolver decides which pocket satisfies each charge.

PURPOSE:
  Every billable feature calls Consume. The resolution order is a product
  decision, followed exactly:

    1. Tenant quota (school/org daily ceiling) - denial here is final
    2. Personal free quota - only for quota-eligible tools, no ledger write
    3. Specialized bucket for the tool - atomic debit via the ledger
    4. Global balance - atomic debit via the ledger

  A quota-eligible charge that exceeds the remaining free allowance fails
  with QuotaExhausted; the paid pockets are only tried when the caller
  re-invokes with forceWallet. That dual path lets the UI ask "use paid
  credits instead?" before spending money.

  On every successful paid debit the resolver synchronously invokes
  commission settlement. A settlement failure never rolls back the
  committed debit - it becomes a reconciliation discrepancy on the
  operator queue.

CONCURRENCY:
  The whole decision for one account runs inside the ledger's per-account
  critical section, so quota counters, buckets and the global balance
  cannot interleave with another writer.
*/
package resolver

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/credit-engine/commission"
	"github.com/warp/credit-engine/factory"
	"github.com/warp/credit-engine/ledger"
	"github.com/warp/credit-engine/quota"
)

// =============================================================================
// RESOLVER
// =============================================================================

// Resolver coordinates the ledger, the quota trackers and commission
// settlement for consumption and purchase events.
type Resolver struct {
	Ledger        *ledger.Service
	Tenants       *quota.TenantTracker
	Registry      *factory.Registry
	Settlement    *commission.Engine
	Discrepancies commission.DiscrepancyQueue
	Logger        *zap.Logger

	// Clock is overridable for calendar-day tests.
	Clock func() time.Time
}

func New(l *ledger.Service, tenants *quota.TenantTracker, reg *factory.Registry, settle *commission.Engine, q commission.DiscrepancyQueue, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		Ledger:        l,
		Tenants:       tenants,
		Registry:      reg,
		Settlement:    settle,
		Discrepancies: q,
		Logger:        logger,
		Clock:         time.Now,
	}
}

func (r *Resolver) today() string {
	return ledger.DateKey(r.Clock())
}

// Consumed reports a satisfied charge.
type Consumed struct {
	Pocket     ledger.Pocket        `json:"pocket"`
	NewBalance int64                `json:"new_balance"` // global balance after
	TxID       ledger.TransactionID `json:"tx_id,omitempty"`
	QuotaUsed  int64                `json:"quota_used,omitempty"`
	QuotaLimit int64                `json:"quota_limit,omitempty"`
}

// =============================================================================
// CONSUME - The ordered resolution policy
// =============================================================================

// Consume resolves one charge against the ordered pockets. forceWallet
// skips the personal free quota and goes straight to the paid pockets.
func (r *Resolver) Consume(ctx context.Context, accountID ledger.AccountID, toolID string, amount int64, description string, forceWallet bool) (*Consumed, error) {
	if amount <= 0 {
		return nil, ledger.ErrInvalidAmount
	}

	today := r.today()
	var out Consumed
	var paidTx ledger.Transaction

	err := r.Ledger.Update(ctx, accountID, func(acc *ledger.Account, rec *ledger.Recorder) error {
		// Tier 1: tenant ceiling. A hard cap; checked before anything else.
		if r.Tenants != nil {
			if err := r.Tenants.TryConsume(ctx, acc.TenantID, amount, today); err != nil {
				return err
			}
		}

		// Tier 2: personal free quota, only for quota-eligible tools and
		// only when the caller didn't force the wallet. No ledger write.
		if !forceWallet && acc.DailyFreeLimit > 0 && r.Registry.QuotaEligible(toolID) {
			if err := quota.TryConsume(acc, amount, today); err != nil {
				return err
			}
			out = Consumed{
				Pocket:     ledger.PocketQuota,
				NewBalance: acc.GlobalBalance,
				QuotaUsed:  acc.DailyFreeUsed,
				QuotaLimit: acc.DailyFreeLimit,
			}
			return nil
		}

		// Tier 3: specialized bucket for this tool.
		if acc.BucketBalance(toolID) >= amount {
			tx, err := ledger.ApplyDelta(acc, -amount, ledger.Metadata{
				Kind:        ledger.TxUsage,
				Category:    "service_usage",
				ToolID:      toolID,
				Pocket:      ledger.PocketSpecialized,
				Description: description,
			})
			if err != nil {
				return err
			}
			rec.Record(tx)
			paidTx = tx
			out = Consumed{Pocket: ledger.PocketSpecialized, NewBalance: acc.GlobalBalance, TxID: tx.ID}
			return nil
		}

		// Tier 4: global balance.
		tx, err := ledger.ApplyDelta(acc, -amount, ledger.Metadata{
			Kind:        ledger.TxUsage,
			Category:    "service_usage",
			ToolID:      toolID,
			Pocket:      ledger.PocketGlobal,
			Description: description,
		})
		if err != nil {
			return err
		}
		rec.Record(tx)
		paidTx = tx
		out = Consumed{Pocket: ledger.PocketGlobal, NewBalance: acc.GlobalBalance, TxID: tx.ID}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.Pocket == ledger.PocketSpecialized || out.Pocket == ledger.PocketGlobal {
		r.settle(ctx, paidTx, toolID, amount)
	}
	return &out, nil
}

// settle invokes commission settlement for a committed paid debit. The
// debit stands no matter what happens here; failures go to the operator
// reconciliation queue.
func (r *Resolver) settle(ctx context.Context, tx ledger.Transaction, toolID string, amount int64) {
	err := r.Settlement.Settle(ctx, toolID, amount)
	if err == nil {
		return
	}

	r.Logger.Error("commission settlement failed after committed debit",
		zap.String("account", string(tx.AccountID)),
		zap.String("tx", string(tx.ID)),
		zap.String("tool", toolID),
		zap.Error(err))

	d := commission.Discrepancy{
		ID:        "disc-" + uuid.NewString(),
		AccountID: tx.AccountID,
		TxID:      tx.ID,
		ToolID:    toolID,
		Credits:   amount,
		Reason:    err.Error(),
		At:        time.Now(),
	}
	if qErr := r.Discrepancies.PushDiscrepancy(ctx, d); qErr != nil {
		// Last resort: the log line above is the only trace left.
		r.Logger.Error("failed to enqueue reconciliation discrepancy",
			zap.String("tx", string(tx.ID)), zap.Error(qErr))
	}
}

// =============================================================================
// PURCHASE - Credit a pack and record purchase-time aggregates
// =============================================================================

// Purchase credits a bought pack into the account (global balance, or a
// specialized bucket when toolID is set) and records the purchase-time
// revenue and projected commission ceiling.
func (r *Resolver) Purchase(ctx context.Context, accountID ledger.AccountID, credits int64, pricePaid decimal.Decimal, toolID string, description string) (*ledger.ApplyResult, error) {
	if credits <= 0 {
		return nil, ledger.ErrInvalidAmount
	}

	meta := ledger.Metadata{
		Kind:        ledger.TxPurchase,
		Category:    "purchase",
		Description: description,
	}
	if toolID != "" {
		meta.ToolID = toolID
		meta.Pocket = ledger.PocketSpecialized
	}

	res, err := r.Ledger.Apply(ctx, accountID, credits, meta)
	if err != nil {
		return nil, err
	}

	if err := r.Settlement.RecordPurchase(ctx, pricePaid); err != nil {
		// Credits are already delivered; aggregate bookkeeping is repaired
		// through the reconciliation queue, not by clawing the pack back.
		r.Logger.Error("purchase aggregate recording failed",
			zap.String("account", string(accountID)),
			zap.String("price", pricePaid.String()),
			zap.Error(err))
		d := commission.Discrepancy{
			ID:        "disc-" + uuid.NewString(),
			AccountID: accountID,
			TxID:      res.TxID,
			Credits:   credits,
			Reason:    "purchase aggregate recording failed: " + err.Error(),
			At:        time.Now(),
		}
		if qErr := r.Discrepancies.PushDiscrepancy(ctx, d); qErr != nil {
			r.Logger.Error("failed to enqueue reconciliation discrepancy",
				zap.String("tx", string(res.TxID)), zap.Error(qErr))
		}
	}
	return &res, nil
}
