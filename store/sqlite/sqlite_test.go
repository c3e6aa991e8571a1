/*
sqlite_test.go - Persistence round-trip tests for the SQLite store

Every test opens a fresh in-memory database so the schema migration runs
each time. The interesting cases are the ones a JSON file would get wrong:
decimal exactness, append order, atomic commit of account + transactions,
and status filtering.
*/
package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/credit-engine/approval"
	"github.com/warp/credit-engine/commission"
	"github.com/warp/credit-engine/ledger"
	"github.com/warp/credit-engine/payout"
	"github.com/warp/credit-engine/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testAccount(id string) *ledger.Account {
	return &ledger.Account{
		ID:             ledger.AccountID(id),
		Name:           "Test Account",
		Kind:           ledger.KindLearner,
		TenantID:       "school-01",
		GlobalBalance:  100,
		Buckets:        map[string]int64{"essay_review": 25},
		DailyFreeLimit: 50,
		DailyFreeUsed:  10,
		LastResetDate:  "2026-08-28",
		CreatedAt:      time.Now().UTC(),
	}
}

// =============================================================================
// ACCOUNT TESTS
// =============================================================================

func TestAccountRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	acc := testAccount("acc-1")

	require.NoError(t, store.SaveAccount(ctx, acc))

	got, err := store.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, got.ID)
	assert.Equal(t, acc.TenantID, got.TenantID)
	assert.Equal(t, int64(100), got.GlobalBalance)
	assert.Equal(t, int64(25), got.Buckets["essay_review"])
	assert.Equal(t, int64(10), got.DailyFreeUsed)
	assert.Equal(t, "2026-08-28", got.LastResetDate)
}

func TestGetAccount_Unknown(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetAccount(context.Background(), "ghost")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestSaveAccount_Upserts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	acc := testAccount("acc-1")
	require.NoError(t, store.SaveAccount(ctx, acc))

	acc.GlobalBalance = 42
	acc.Buckets["essay_review"] = 0
	require.NoError(t, store.SaveAccount(ctx, acc))

	got, err := store.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.GlobalBalance)
}

// =============================================================================
// TRANSACTION TESTS
// =============================================================================

func tx(id, accID string, amount int64) ledger.Transaction {
	return ledger.Transaction{
		ID:              ledger.TransactionID(id),
		AccountID:       ledger.AccountID(accID),
		Amount:          amount,
		Kind:            ledger.TxUsage,
		Category:        "service_usage",
		ToolID:          "ai_tutor",
		Pocket:          ledger.PocketGlobal,
		BalanceSnapshot: 100 + amount,
		Timestamp:       time.Now().UTC(),
	}
}

func TestTransactions_AppendOrderPreserved(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveAccount(ctx, testAccount("acc-1")))

	for i, id := range []string{"tx-a", "tx-b", "tx-c"} {
		require.NoError(t, store.AppendTransactions(ctx, []ledger.Transaction{tx(id, "acc-1", int64(-i - 1))}))
	}

	got, err := store.TransactionsByAccount(ctx, "acc-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, ledger.TransactionID("tx-a"), got[0].ID)
	assert.Equal(t, ledger.TransactionID("tx-b"), got[1].ID)
	assert.Equal(t, ledger.TransactionID("tx-c"), got[2].ID)
}

func TestCommitChange_AccountAndLogTogether(t *testing.T) {
	// CommitChange persists the mutated account and its transactions in
	// one database transaction.
	store := newTestStore(t)
	ctx := context.Background()
	acc := testAccount("acc-1")

	require.NoError(t, store.CommitChange(ctx, acc, []ledger.Transaction{tx("tx-1", "acc-1", -30)}))

	got, err := store.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.GlobalBalance)

	txs, err := store.TransactionsByAccount(ctx, "acc-1")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.TransactionID("tx-1"), txs[0].ID)
	assert.Equal(t, "ai_tutor", txs[0].ToolID)
}

// =============================================================================
// TENANT USAGE TESTS
// =============================================================================

func TestTenantUsage_UpsertAndDayIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveTenantUsage(ctx, "school-01", "2026-08-28", 80))
	require.NoError(t, store.SaveTenantUsage(ctx, "school-01", "2026-08-28", 95))
	require.NoError(t, store.SaveTenantUsage(ctx, "school-01", "2026-08-29", 5))

	used, err := store.TenantUsage(ctx, "school-01", "2026-08-28")
	require.NoError(t, err)
	assert.Equal(t, int64(95), used)

	used, err = store.TenantUsage(ctx, "school-01", "2026-08-29")
	require.NoError(t, err)
	assert.Equal(t, int64(5), used)

	used, err = store.TenantUsage(ctx, "school-02", "2026-08-28")
	require.NoError(t, err)
	assert.Equal(t, int64(0), used, "unknown tenant/day reads as zero")
}

// =============================================================================
// AGGREGATE TESTS
// =============================================================================

func TestAggregate_DecimalExactness(t *testing.T) {
	// Money is stored as decimal text. 0.1-style values must survive the
	// round trip without float drift.
	store := newTestStore(t)
	ctx := context.Background()

	agg := &commission.ProductAggregate{
		ProductID:   commission.CreditPackProductID,
		ProductName: "Credit Pack Recharges (Global)",
		Revenue:     decimal.RequireFromString("100.10"),
		Costs: commission.CostBreakdown{
			PlatformFees:         decimal.RequireFromString("4.99"),
			Taxes:                decimal.RequireFromString("6.006"),
			AffiliateCommissions: decimal.RequireFromString("1.64"),
			ProjectedCommissions: decimal.RequireFromString("17.802"),
		},
		NetProfit:  decimal.RequireFromString("89.104"),
		Margin:     decimal.RequireFromString("89.015"),
		SalesCount: 3,
		UpdatedAt:  time.Now().UTC(),
	}
	require.NoError(t, store.SaveAggregate(ctx, agg))

	got, err := store.GetAggregate(ctx, commission.CreditPackProductID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Revenue.Equal(decimal.RequireFromString("100.10")))
	assert.True(t, got.Costs.Taxes.Equal(decimal.RequireFromString("6.006")))
	assert.True(t, got.Costs.ProjectedCommissions.Equal(decimal.RequireFromString("17.802")))
	assert.Equal(t, 3, got.SalesCount)
}

func TestGetAggregate_UnknownReturnsNil(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetAggregate(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// =============================================================================
// REQUEST TESTS
// =============================================================================

func TestCreditRequest_RoundTripAndStatusFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	pending := &approval.CreditRequest{
		ID: "req-1", AccountID: "acc-1", RequesterID: "staff-7",
		Amount: 40, Reason: "goodwill", Status: approval.StatusPending, CreatedAt: now,
	}
	resolved := &approval.CreditRequest{
		ID: "req-2", AccountID: "acc-1", RequesterID: "staff-7",
		Amount: 10, Reason: "dup", Status: approval.StatusRejected,
		Feedback: "duplicate of req-1", CreatedAt: now.Add(time.Second),
		ResolvedAt: &now, ResolvedBy: "reviewer-1",
	}
	require.NoError(t, store.SaveCreditRequest(ctx, pending))
	require.NoError(t, store.SaveCreditRequest(ctx, resolved))

	got, err := store.GetCreditRequest(ctx, "req-2")
	require.NoError(t, err)
	assert.Equal(t, "duplicate of req-1", got.Feedback)
	assert.Equal(t, "reviewer-1", got.ResolvedBy)
	require.NotNil(t, got.ResolvedAt)

	onlyPending, err := store.ListCreditRequests(ctx, approval.StatusPending)
	require.NoError(t, err)
	require.Len(t, onlyPending, 1)
	assert.Equal(t, "req-1", onlyPending[0].ID)

	all, err := store.ListCreditRequests(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestGetCreditRequest_Unknown(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetCreditRequest(context.Background(), "req-missing")
	assert.ErrorIs(t, err, ledger.ErrRequestNotFound)
}

func TestWithdrawals_StatusFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mk := func(id string, status payout.Status) *payout.WithdrawalRequest {
		return &payout.WithdrawalRequest{
			ID: id, AccountID: "prod-1", Amount: 80, Status: status,
			PayoutRef: "po-" + id, ScheduledFor: now, RequestedAt: now,
			LockTxID: ledger.TransactionID("lock-" + id),
		}
	}
	require.NoError(t, store.SaveWithdrawal(ctx, mk("wd-1", payout.StatusPending)))
	require.NoError(t, store.SaveWithdrawal(ctx, mk("wd-2", payout.StatusCompleted)))
	require.NoError(t, store.SaveWithdrawal(ctx, mk("wd-3", payout.StatusProcessing)))

	due, err := store.ListWithdrawals(ctx, payout.StatusPending, payout.StatusProcessing)
	require.NoError(t, err)
	require.Len(t, due, 2)
	ids := []string{due[0].ID, due[1].ID}
	assert.ElementsMatch(t, []string{"wd-1", "wd-3"}, ids)

	all, err := store.ListWithdrawals(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
