package payout_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/credit-engine/factory"
	"github.com/warp/credit-engine/ledger"
	"github.com/warp/credit-engine/payout"
	"github.com/warp/credit-engine/store/memory"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

// fakeGateway records every Pay call and can be told how to respond per
// payout reference.
type fakeGateway struct {
	mu       sync.Mutex
	calls    []string
	failRefs map[string]error // ref -> error to return
	paidRefs map[string]bool  // refs the rail considers settled
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{failRefs: map[string]error{}, paidRefs: map[string]bool{}}
}

func (g *fakeGateway) Pay(_ context.Context, ref string, _ ledger.AccountID, _ int64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, ref)
	if g.paidRefs[ref] {
		return "", payout.ErrAlreadyPaid
	}
	if err, ok := g.failRefs[ref]; ok {
		return "", err
	}
	g.paidRefs[ref] = true
	return "gw-" + ref, nil
}

func (g *fakeGateway) callsFor(ref string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if c == ref {
			n++
		}
	}
	return n
}

type fixture struct {
	payouts *payout.Service
	ledger  *ledger.Service
	store   *memory.Store
	gateway *fakeGateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg, err := factory.ParseConfig([]byte("{}"))
	require.NoError(t, err)
	reg := factory.NewRegistry(cfg)

	store := memory.New()
	ledgerSvc := ledger.NewService(store, nil)
	gw := newFakeGateway()
	svc := payout.NewService(store, ledgerSvc, gw, reg, nil)

	return &fixture{payouts: svc, ledger: ledgerSvc, store: store, gateway: gw}
}

func (f *fixture) producer(t *testing.T, id string, balance int64) {
	t.Helper()
	require.NoError(t, f.ledger.CreateAccount(context.Background(), &ledger.Account{
		ID: ledger.AccountID(id), Kind: ledger.KindProducer, GlobalBalance: balance,
	}))
}

func (f *fixture) balance(t *testing.T, id string) int64 {
	t.Helper()
	acc, err := f.ledger.Account(context.Background(), ledger.AccountID(id))
	require.NoError(t, err)
	return acc.GlobalBalance
}

// at pins the service clock.
func (f *fixture) at(ts time.Time) { f.payouts.Clock = func() time.Time { return ts } }

var noon = time.Date(2026, time.August, 28, 12, 0, 0, 0, time.UTC)

// =============================================================================
// REQUEST TESTS
// =============================================================================

func TestRequest_LocksFundsImmediately(t *testing.T) {
	// GIVEN: A producer with 200 credits
	// WHEN: Requesting an 80-credit withdrawal
	// THEN: The funds are locked at request time, not at batch time

	f := newFixture(t)
	f.producer(t, "prod-1", 200)
	f.at(noon)
	ctx := context.Background()

	req, err := f.payouts.Request(ctx, "prod-1", 80)

	require.NoError(t, err)
	assert.Equal(t, payout.StatusPending, req.Status)
	assert.NotEmpty(t, req.PayoutRef)
	assert.NotEmpty(t, req.LockTxID)
	assert.Equal(t, payout.NextWindow(noon), req.ScheduledFor)
	assert.Equal(t, int64(120), f.balance(t, "prod-1"))

	txs, err := f.ledger.History(ctx, "prod-1")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	lock := txs[1]
	assert.Equal(t, ledger.TxWithdrawalLock, lock.Kind)
	assert.Equal(t, "withdrawal_lock", lock.Category)
	assert.Equal(t, req.ID, lock.ReferenceID)
}

func TestRequest_BelowMinimum_TakesNoLock(t *testing.T) {
	// GIVEN: A producer with plenty of balance
	// WHEN: Requesting 49, one under the 50 minimum
	// THEN: Rejected before anything touches the ledger

	f := newFixture(t)
	f.producer(t, "prod-1", 200)

	_, err := f.payouts.Request(context.Background(), "prod-1", 49)

	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrBelowMinimumWithdrawal)
	var bme *ledger.BelowMinimumError
	require.ErrorAs(t, err, &bme)
	assert.Equal(t, int64(50), bme.Minimum)
	assert.Equal(t, int64(49), bme.Requested)

	assert.Equal(t, int64(200), f.balance(t, "prod-1"))
	txs, err := f.ledger.History(context.Background(), "prod-1")
	require.NoError(t, err)
	assert.Len(t, txs, 1, "only the opening grant")
}

func TestRequest_InsufficientBalance_NothingLocked(t *testing.T) {
	f := newFixture(t)
	f.producer(t, "prod-1", 60)

	_, err := f.payouts.Request(context.Background(), "prod-1", 80)

	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.Equal(t, int64(60), f.balance(t, "prod-1"))
}

func TestRequest_LearnerAccount_Rejected(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ledger.CreateAccount(context.Background(), &ledger.Account{
		ID: "learner-1", Kind: ledger.KindLearner, GlobalBalance: 200,
	}))

	_, err := f.payouts.Request(context.Background(), "learner-1", 80)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot request withdrawals")
	assert.Equal(t, int64(200), f.balance(t, "learner-1"))
}

func TestRequest_ConcurrentRequests_CannotOverdraw(t *testing.T) {
	// Two 80-credit requests against 100: the lock at request time means
	// at most one can succeed.
	f := newFixture(t)
	f.producer(t, "prod-1", 100)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.payouts.Request(ctx, "prod-1", 80)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, int64(20), f.balance(t, "prod-1"))
}

// =============================================================================
// BATCH EXECUTION TESTS
// =============================================================================

func TestRunBatch_SettlesDueRequests(t *testing.T) {
	// GIVEN: A pending request scheduled for the next window
	// WHEN: The batch runs after that window opens
	// THEN: The gateway is paid and the request completes with a payout marker

	f := newFixture(t)
	f.producer(t, "prod-1", 200)
	f.at(noon)
	ctx := context.Background()

	req, err := f.payouts.Request(ctx, "prod-1", 80)
	require.NoError(t, err)

	f.at(payout.NextWindow(noon).Add(time.Minute))
	summary, err := f.payouts.RunBatch(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, int64(80), summary.TotalAmount)

	got, err := f.store.GetWithdrawal(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, payout.StatusCompleted, got.Status)
	assert.Equal(t, "gw-"+req.PayoutRef, got.GatewayPayoutID)
	require.NotNil(t, got.ProcessedAt)

	// Balance unchanged by settlement; the debit happened at lock time.
	assert.Equal(t, int64(120), f.balance(t, "prod-1"))

	txs, err := f.ledger.History(ctx, "prod-1")
	require.NoError(t, err)
	require.Len(t, txs, 3)
	marker := txs[2]
	assert.Equal(t, ledger.TxWithdrawalPayout, marker.Kind)
	assert.Equal(t, int64(0), marker.Amount, "payout marker carries no balance effect")
}

func TestRunBatch_NotYetDue_Skipped(t *testing.T) {
	f := newFixture(t)
	f.producer(t, "prod-1", 200)
	f.at(noon)
	ctx := context.Background()

	req, err := f.payouts.Request(ctx, "prod-1", 80)
	require.NoError(t, err)

	// Still noon: the 16:00 window hasn't opened.
	summary, err := f.payouts.RunBatch(ctx)

	require.NoError(t, err)
	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 1, summary.Skipped)
	assert.Zero(t, f.gateway.callsFor(req.PayoutRef))
}

func TestRunBatch_RerunIsIdempotent(t *testing.T) {
	// GIVEN: A batch that settled a request
	// WHEN: The batch runs again
	// THEN: Nothing is re-paid; the gateway saw exactly one call

	f := newFixture(t)
	f.producer(t, "prod-1", 200)
	f.at(noon)
	ctx := context.Background()

	req, err := f.payouts.Request(ctx, "prod-1", 80)
	require.NoError(t, err)

	f.at(payout.NextWindow(noon).Add(time.Minute))
	_, err = f.payouts.RunBatch(ctx)
	require.NoError(t, err)

	summary, err := f.payouts.RunBatch(ctx)

	require.NoError(t, err)
	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 1, f.gateway.callsFor(req.PayoutRef))
	assert.Equal(t, int64(120), f.balance(t, "prod-1"))
}

func TestRunBatch_GatewayFailure_ReleasesLock(t *testing.T) {
	// GIVEN: A gateway that rejects this reference
	// WHEN: The batch runs
	// THEN: The request fails and the locked funds come back via an
	//       explicit compensating credit

	f := newFixture(t)
	f.producer(t, "prod-1", 200)
	f.at(noon)
	ctx := context.Background()

	req, err := f.payouts.Request(ctx, "prod-1", 80)
	require.NoError(t, err)
	f.gateway.failRefs[req.PayoutRef] = errors.New("bank account closed")

	f.at(payout.NextWindow(noon).Add(time.Minute))
	summary, err := f.payouts.RunBatch(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Processed)

	got, err := f.store.GetWithdrawal(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, payout.StatusFailed, got.Status)
	assert.Equal(t, "bank account closed", got.FailureReason)

	assert.Equal(t, int64(200), f.balance(t, "prod-1"), "locked funds restored")

	txs, err := f.ledger.History(ctx, "prod-1")
	require.NoError(t, err)
	require.Len(t, txs, 3, "opening, lock, release; the lock entry is never edited")
	release := txs[2]
	assert.Equal(t, "lock_release", release.Category)
	assert.Equal(t, int64(80), release.Amount)
	assert.Equal(t, req.ID, release.ReferenceID)
}

func TestRunBatch_AlreadyPaidPending_HaltsWithDuplicatePayout(t *testing.T) {
	// GIVEN: A pending request whose reference the rail already settled
	// WHEN: The batch reaches it
	// THEN: The run halts with a duplicate-payout error; the queue state
	//       can't be trusted

	f := newFixture(t)
	f.producer(t, "prod-1", 200)
	f.at(noon)
	ctx := context.Background()

	req, err := f.payouts.Request(ctx, "prod-1", 80)
	require.NoError(t, err)
	f.gateway.paidRefs[req.PayoutRef] = true

	f.at(payout.NextWindow(noon).Add(time.Minute))
	_, err = f.payouts.RunBatch(ctx)

	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrDuplicatePayout)
	var dup *ledger.DuplicatePayoutError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, req.ID, dup.RequestID)
	assert.Equal(t, req.PayoutRef, dup.PayoutRef)
}

func TestRunBatch_AlreadyPaidProcessing_IsCrashRecovery(t *testing.T) {
	// GIVEN: A request stuck in processing from a crashed run, whose
	//        payment actually landed
	// WHEN: The batch re-runs
	// THEN: The request completes without paying again

	f := newFixture(t)
	f.producer(t, "prod-1", 200)
	f.at(noon)
	ctx := context.Background()

	req, err := f.payouts.Request(ctx, "prod-1", 80)
	require.NoError(t, err)

	req.Status = payout.StatusProcessing
	require.NoError(t, f.store.SaveWithdrawal(ctx, req))
	f.gateway.paidRefs[req.PayoutRef] = true

	f.at(payout.NextWindow(noon).Add(time.Minute))
	summary, err := f.payouts.RunBatch(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)

	got, err := f.store.GetWithdrawal(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, payout.StatusCompleted, got.Status)
	assert.Equal(t, "recovered-"+req.PayoutRef, got.GatewayPayoutID)
	assert.Equal(t, int64(120), f.balance(t, "prod-1"), "no double debit")
}

// =============================================================================
// WINDOW TESTS
// =============================================================================

func TestNextWindow(t *testing.T) {
	day := func(h, m int) time.Time {
		return time.Date(2026, time.August, 28, h, m, 0, 0, time.UTC)
	}

	// Before 10:00 the morning slot is next.
	assert.Equal(t, day(10, 0), payout.NextWindow(day(8, 30)))
	// Between the slots the afternoon is next.
	assert.Equal(t, day(16, 0), payout.NextWindow(day(10, 0)))
	assert.Equal(t, day(16, 0), payout.NextWindow(day(15, 59)))
	// After 16:00 it rolls to tomorrow morning.
	next := payout.NextWindow(day(16, 0))
	assert.Equal(t, time.Date(2026, time.August, 29, 10, 0, 0, 0, time.UTC), next)
	assert.Equal(t, time.Date(2026, time.August, 29, 10, 0, 0, 0, time.UTC), payout.NextWindow(day(23, 45)))
}
