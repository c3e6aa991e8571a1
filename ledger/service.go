/*
service.go - Per-account serialized mutation

PURPOSE:
  Every balance mutation in the engine funnels through this Service. It
  holds one mutex per account id so a read-check-write sequence can never
  interleave with another writer on the same account. Two concurrent
  debits against a balance that only covers one of them: exactly one
  succeeds.

CRITICAL INVARIANTS:
  1. SERIALIZED: one mutation at a time per account id
  2. NON-NEGATIVE: a mutation that would drive any balance below zero is
     rejected with no state change
  3. ATOMIC COMMIT: account state and the transactions it produced are
     persisted together
  4. COMPENSATED: transfers roll the source debit back explicitly if the
     destination credit fails

SEE ALSO:
  - resolver: runs its whole tiered decision inside Update()
  - store.go: the CommitChange contract implementations must honor
*/
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// SERVICE
// =============================================================================

// Service owns all account mutation. Construct once at startup and pass by
// reference to every component.
type Service struct {
	store  Store
	logger *zap.Logger

	mu    sync.Mutex
	locks map[AccountID]*sync.Mutex
}

func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		logger: logger,
		locks:  make(map[AccountID]*sync.Mutex),
	}
}

// lockFor returns the mutation lock for an account id, creating it on
// first use. Locks are never removed; the account population is small
// relative to the request volume.
func (s *Service) lockFor(id AccountID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// =============================================================================
// RECORDER - Collects transactions produced by one mutation
// =============================================================================

// Recorder accumulates the transactions a mutation produced so Update can
// commit them together with the new account state.
type Recorder struct {
	txs []Transaction
}

func (r *Recorder) Record(tx Transaction) {
	r.txs = append(r.txs, tx)
}

// Transactions returns the recorded entries in order.
func (r *Recorder) Transactions() []Transaction {
	return r.txs
}

// =============================================================================
// UPDATE - The single mutation path
// =============================================================================

// Update runs fn against the account under its mutation lock. fn receives
// a private copy; if it returns an error nothing is persisted. On success
// the new account state and any recorded transactions commit atomically.
//
// Quota consumption goes through here too: it mutates counters and
// records no transaction (the free tier is not a ledger event).
func (s *Service) Update(ctx context.Context, id AccountID, fn func(acc *Account, rec *Recorder) error) error {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	acc, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return err
	}

	rec := &Recorder{}
	if err := fn(acc, rec); err != nil {
		return err
	}

	acc.UpdatedAt = time.Now()
	if err := s.store.CommitChange(ctx, acc, rec.txs); err != nil {
		return fmt.Errorf("ledger commit failed for %s: %w", id, err)
	}
	return nil
}

// =============================================================================
// APPLY - applyTransaction contract
// =============================================================================

// ApplyResult reports a committed mutation.
type ApplyResult struct {
	NewBalance int64
	TxID       TransactionID
}

// Apply performs one signed balance mutation and appends its transaction.
// Positive delta credits, negative debits. Returns the new balance of the
// targeted pocket's account (global snapshot) and the transaction id, or
// InsufficientBalanceError with no state change.
func (s *Service) Apply(ctx context.Context, id AccountID, delta int64, meta Metadata) (ApplyResult, error) {
	var res ApplyResult
	err := s.Update(ctx, id, func(acc *Account, rec *Recorder) error {
		tx, err := ApplyDelta(acc, delta, meta)
		if err != nil {
			return err
		}
		rec.Record(tx)
		res = ApplyResult{NewBalance: acc.GlobalBalance, TxID: tx.ID}
		return nil
	})
	return res, err
}

// ApplyDelta mutates the account in place and builds the matching
// transaction. It is exported for callers (resolver, payout) that compose
// several checks and movements inside one Update critical section.
//
// The non-negativity invariant is enforced here and nowhere bypassed.
func ApplyDelta(acc *Account, delta int64, meta Metadata) (Transaction, error) {
	if delta == 0 {
		return Transaction{}, ErrInvalidAmount
	}

	pocket := meta.Pocket
	if pocket == "" {
		pocket = PocketGlobal
	}

	switch pocket {
	case PocketSpecialized:
		if meta.ToolID == "" {
			return Transaction{}, fmt.Errorf("specialized movement requires a tool id")
		}
		current := acc.BucketBalance(meta.ToolID)
		if current+delta < 0 {
			return Transaction{}, &InsufficientBalanceError{
				AccountID: acc.ID,
				Pocket:    PocketSpecialized,
				ToolID:    meta.ToolID,
				Available: current,
				Requested: -delta,
			}
		}
		if acc.Buckets == nil {
			acc.Buckets = make(map[string]int64)
		}
		acc.Buckets[meta.ToolID] = current + delta

	case PocketGlobal:
		if acc.GlobalBalance+delta < 0 {
			return Transaction{}, &InsufficientBalanceError{
				AccountID: acc.ID,
				Pocket:    PocketGlobal,
				Available: acc.GlobalBalance,
				Requested: -delta,
			}
		}
		acc.GlobalBalance += delta

	default:
		return Transaction{}, fmt.Errorf("pocket %q cannot carry ledger transactions", pocket)
	}

	return Transaction{
		ID:              NewTransactionID(),
		AccountID:       acc.ID,
		Amount:          delta,
		Kind:            meta.Kind,
		Category:        meta.Category,
		ToolID:          meta.ToolID,
		Pocket:          pocket,
		Description:     meta.Description,
		ReferenceID:     meta.ReferenceID,
		BalanceSnapshot: acc.GlobalBalance,
		Timestamp:       time.Now(),
	}, nil
}

// MarkerTransaction builds a zero-amount transaction used to record an
// event in the log without a balance effect (payout settlement markers).
func MarkerTransaction(acc *Account, meta Metadata) Transaction {
	pocket := meta.Pocket
	if pocket == "" {
		pocket = PocketGlobal
	}
	return Transaction{
		ID:              NewTransactionID(),
		AccountID:       acc.ID,
		Amount:          0,
		Kind:            meta.Kind,
		Category:        meta.Category,
		ToolID:          meta.ToolID,
		Pocket:          pocket,
		Description:     meta.Description,
		ReferenceID:     meta.ReferenceID,
		BalanceSnapshot: acc.GlobalBalance,
		Timestamp:       time.Now(),
	}
}

// =============================================================================
// ACCOUNTS
// =============================================================================

// CreateAccount registers a new wallet. Fails with ErrAccountExists if the
// id is taken.
func (s *Service) CreateAccount(ctx context.Context, acc *Account) error {
	l := s.lockFor(acc.ID)
	l.Lock()
	defer l.Unlock()

	if _, err := s.store.GetAccount(ctx, acc.ID); err == nil {
		return ErrAccountExists
	}
	now := time.Now()
	acc.CreatedAt = now
	acc.UpdatedAt = now
	if acc.LastResetDate == "" {
		acc.LastResetDate = Today()
	}

	// An opening balance enters through the log like any other credit so a
	// replay reproduces it.
	var txs []Transaction
	if acc.GlobalBalance > 0 {
		txs = append(txs, Transaction{
			ID:              NewTransactionID(),
			AccountID:       acc.ID,
			Amount:          acc.GlobalBalance,
			Kind:            TxCreditGrant,
			Category:        "opening_balance",
			Pocket:          PocketGlobal,
			Description:     "opening balance",
			BalanceSnapshot: acc.GlobalBalance,
			Timestamp:       now,
		})
	}
	return s.store.CommitChange(ctx, acc, txs)
}

// Account returns a copy of the current account state.
func (s *Service) Account(ctx context.Context, id AccountID) (*Account, error) {
	return s.store.GetAccount(ctx, id)
}

// History returns the account's ordered transaction log. Read-only.
func (s *Service) History(ctx context.Context, id AccountID) ([]Transaction, error) {
	return s.store.TransactionsByAccount(ctx, id)
}

// ListAccounts returns all accounts. Read-only.
func (s *Service) ListAccounts(ctx context.Context) ([]*Account, error) {
	return s.store.ListAccounts(ctx)
}

// =============================================================================
// TRANSFER - Two single-account mutations with compensation
// =============================================================================

// Transfer moves credits between two global balances. It decomposes into
// two independently-serialized single-account mutations in a fixed order:
// debit the source, then credit the destination. If the credit fails the
// source debit is rolled back with an explicit compensating credit.
func (s *Service) Transfer(ctx context.Context, from, to AccountID, amount int64, description string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if from == to {
		return fmt.Errorf("transfer requires two distinct accounts")
	}

	ref := "transfer-" + string(NewTransactionID())

	debit, err := s.Apply(ctx, from, -amount, Metadata{
		Kind:        TxTransfer,
		Category:    "transfer_out",
		Description: description,
		ReferenceID: ref,
	})
	if err != nil {
		return err
	}

	_, err = s.Apply(ctx, to, amount, Metadata{
		Kind:        TxTransfer,
		Category:    "transfer_in",
		Description: description,
		ReferenceID: ref,
	})
	if err == nil {
		return nil
	}

	// Destination failed: compensate the source. The original debit stays
	// in the log; the compensation is a new entry referencing it.
	if _, compErr := s.Apply(ctx, from, amount, Metadata{
		Kind:        TxTransfer,
		Category:    "transfer_compensation",
		Description: "compensation: " + description,
		ReferenceID: ref,
	}); compErr != nil {
		s.logger.Error("transfer compensation failed; manual reconciliation required",
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.Int64("amount", amount),
			zap.String("debit_tx", string(debit.TxID)),
			zap.Error(compErr))
		return fmt.Errorf("transfer failed and compensation failed: %w", compErr)
	}

	return fmt.Errorf("transfer to %s failed: %w", to, err)
}

// =============================================================================
// RECONCILIATION - Replay the log, reproduce the balances
// =============================================================================

// ReconciliationReport compares stored balances against a replay of the
// account's transaction log.
type ReconciliationReport struct {
	AccountID        AccountID        `json:"account_id"`
	StoredGlobal     int64            `json:"stored_global"`
	ReplayedGlobal   int64            `json:"replayed_global"`
	StoredBuckets    map[string]int64 `json:"stored_buckets,omitempty"`
	ReplayedBuckets  map[string]int64 `json:"replayed_buckets,omitempty"`
	SnapshotMismatch []TransactionID  `json:"snapshot_mismatch,omitempty"`
	Consistent       bool             `json:"consistent"`
}

// Reconcile replays the account's transactions in order and checks that
// the result matches the stored balances and every per-transaction global
// snapshot.
func (s *Service) Reconcile(ctx context.Context, id AccountID) (*ReconciliationReport, error) {
	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	acc, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	txs, err := s.store.TransactionsByAccount(ctx, id)
	if err != nil {
		return nil, err
	}

	report := &ReconciliationReport{
		AccountID:       id,
		StoredGlobal:    acc.GlobalBalance,
		StoredBuckets:   acc.Buckets,
		ReplayedBuckets: make(map[string]int64),
	}

	var global int64
	for _, tx := range txs {
		switch tx.Pocket {
		case PocketGlobal:
			global += tx.Amount
			if tx.BalanceSnapshot != global {
				report.SnapshotMismatch = append(report.SnapshotMismatch, tx.ID)
			}
		case PocketSpecialized:
			report.ReplayedBuckets[tx.ToolID] += tx.Amount
		}
	}
	report.ReplayedGlobal = global

	report.Consistent = report.ReplayedGlobal == report.StoredGlobal && len(report.SnapshotMismatch) == 0
	for tool, bal := range report.ReplayedBuckets {
		if acc.BucketBalance(tool) != bal {
			report.Consistent = false
		}
	}
	for tool, bal := range acc.Buckets {
		if bal != report.ReplayedBuckets[tool] {
			report.Consistent = false
		}
	}

	if !report.Consistent {
		s.logger.Warn("ledger reconciliation mismatch",
			zap.String("account", string(id)),
			zap.Int64("stored", report.StoredGlobal),
			zap.Int64("replayed", report.ReplayedGlobal))
	}
	return report, nil
}
