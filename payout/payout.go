/*
Package payout implements producer withdrawals and batch settlement.

PURPOSE:
  A producer asks for a payout; the engine locks the funds IMMEDIATELY
  (a debit transaction at request time, not at batch time) so two
  concurrent withdrawal requests can never both draw on the same balance.
  Requests then wait for the next batch window, where a scheduler settles
  every due request against the payment gateway.

LIFECYCLE:
  pending -> processing -> completed | failed

IDEMPOTENCY:
  Every request carries a payout reference fixed at creation. Re-running
  the batch touches only pending/processing requests; a completed request
  is never re-paid. If the gateway reports a reference already paid:
  - for a processing request that is crash recovery (mark completed)
  - for a pending request that is a fatal DuplicatePayout: halt and alert

FAILURE:
  A failed gateway payout releases the locked funds with an explicit
  compensating credit (category lock_release). The original lock stays in
  the log.
*/
package payout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/credit-engine/factory"
	"github.com/warp/credit-engine/ledger"
)

// =============================================================================
// TYPES
// =============================================================================

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// WithdrawalRequest is one producer payout.
type WithdrawalRequest struct {
	ID              string           `json:"id"`
	AccountID       ledger.AccountID `json:"account_id"`
	Amount          int64            `json:"amount"`
	Status          Status           `json:"status"`
	PayoutRef       string           `json:"payout_ref"` // idempotency key, fixed at creation
	GatewayPayoutID string           `json:"gateway_payout_id,omitempty"`
	ScheduledFor    time.Time        `json:"scheduled_for"`
	RequestedAt     time.Time        `json:"requested_at"`
	ProcessedAt     *time.Time       `json:"processed_at,omitempty"`
	FailureReason   string           `json:"failure_reason,omitempty"`

	// LockTxID links the request to its fund-locking debit.
	LockTxID ledger.TransactionID `json:"lock_tx_id,omitempty"`
}

// RequestStore persists withdrawal requests.
type RequestStore interface {
	GetWithdrawal(ctx context.Context, id string) (*WithdrawalRequest, error)
	SaveWithdrawal(ctx context.Context, req *WithdrawalRequest) error
	// ListWithdrawals filters by status; no statuses means all.
	ListWithdrawals(ctx context.Context, statuses ...Status) ([]*WithdrawalRequest, error)
}

// Gateway is the external payment rail. It must be idempotent on ref:
// paying the same reference twice returns ErrAlreadyPaid.
type Gateway interface {
	Pay(ctx context.Context, ref string, accountID ledger.AccountID, amount int64) (gatewayPayoutID string, err error)
}

// ErrAlreadyPaid is returned by gateways for a reference that settled.
var ErrAlreadyPaid = errors.New("payout reference already paid")

// =============================================================================
// BATCH WINDOWS
// =============================================================================

// NextWindow returns the next batch slot: 10:00 and 16:00 local time.
func NextWindow(now time.Time) time.Time {
	y, m, d := now.Date()
	loc := now.Location()
	morning := time.Date(y, m, d, 10, 0, 0, 0, loc)
	afternoon := time.Date(y, m, d, 16, 0, 0, 0, loc)

	switch {
	case now.Before(morning):
		return morning
	case now.Before(afternoon):
		return afternoon
	default:
		return morning.AddDate(0, 0, 1)
	}
}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	store    RequestStore
	ledger   *ledger.Service
	gateway  Gateway
	registry *factory.Registry
	logger   *zap.Logger

	// batchMu keeps at most one batch run in flight.
	batchMu sync.Mutex

	Clock func() time.Time
}

func NewService(store RequestStore, l *ledger.Service, gw Gateway, reg *factory.Registry, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		ledger:   l,
		gateway:  gw,
		registry: reg,
		logger:   logger,
		Clock:    time.Now,
	}
}

// Request validates, locks the funds, and enqueues the withdrawal for the
// next batch window. Validation failures take no lock.
func (s *Service) Request(ctx context.Context, accountID ledger.AccountID, amount int64) (*WithdrawalRequest, error) {
	if amount <= 0 {
		return nil, ledger.ErrInvalidAmount
	}
	if min := s.registry.Settings().MinWithdrawal; amount < min {
		return nil, &ledger.BelowMinimumError{Minimum: min, Requested: amount}
	}

	acc, err := s.ledger.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acc.Kind == ledger.KindLearner {
		return nil, fmt.Errorf("account kind %s cannot request withdrawals", acc.Kind)
	}

	req := &WithdrawalRequest{
		ID:           "wd-" + uuid.NewString(),
		AccountID:    accountID,
		Amount:       amount,
		Status:       StatusPending,
		PayoutRef:    "po-" + uuid.NewString(),
		ScheduledFor: NextWindow(s.Clock()),
		RequestedAt:  s.Clock(),
	}

	// Lock funds now. This is what prevents a second request against the
	// same balance before either is processed.
	lock, err := s.ledger.Apply(ctx, accountID, -amount, ledger.Metadata{
		Kind:        ledger.TxWithdrawalLock,
		Category:    "withdrawal_lock",
		Description: "funds locked for withdrawal",
		ReferenceID: req.ID,
	})
	if err != nil {
		return nil, err
	}
	req.LockTxID = lock.TxID

	if err := s.store.SaveWithdrawal(ctx, req); err != nil {
		// Persisting the request failed: release the lock with an explicit
		// compensating credit, never an edit of the lock entry.
		s.releaseLock(ctx, req, "request persistence failed")
		return nil, fmt.Errorf("save withdrawal request: %w", err)
	}
	return req, nil
}

// releaseLock returns locked funds with a compensating credit.
func (s *Service) releaseLock(ctx context.Context, req *WithdrawalRequest, why string) {
	if _, err := s.ledger.Apply(ctx, req.AccountID, req.Amount, ledger.Metadata{
		Kind:        ledger.TxWithdrawalLock,
		Category:    "lock_release",
		Description: "withdrawal lock released: " + why,
		ReferenceID: req.ID,
	}); err != nil {
		s.logger.Error("failed to release withdrawal lock; manual reconciliation required",
			zap.String("request", req.ID),
			zap.Int64("amount", req.Amount),
			zap.Error(err))
	}
}

// Queue returns all withdrawal requests.
func (s *Service) Queue(ctx context.Context) ([]*WithdrawalRequest, error) {
	return s.store.ListWithdrawals(ctx)
}

// =============================================================================
// BATCH EXECUTION
// =============================================================================

// BatchSummary reports one batch run.
type BatchSummary struct {
	Processed   int   `json:"processed"`
	Failed      int   `json:"failed"`
	Skipped     int   `json:"skipped"`
	TotalAmount int64 `json:"total_amount"`
}

// RunBatch settles every due pending/processing request exactly once.
// Completed requests are never touched, which makes re-running the batch
// after a crash safe. A duplicate-payout detection halts the batch.
func (s *Service) RunBatch(ctx context.Context) (*BatchSummary, error) {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	now := s.Clock()
	reqs, err := s.store.ListWithdrawals(ctx, StatusPending, StatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("load withdrawal queue: %w", err)
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].RequestedAt.Before(reqs[j].RequestedAt) })

	summary := &BatchSummary{}
	for _, req := range reqs {
		if req.ScheduledFor.After(now) {
			summary.Skipped++
			continue
		}

		resuming := req.Status == StatusProcessing
		if !resuming {
			req.Status = StatusProcessing
			if err := s.store.SaveWithdrawal(ctx, req); err != nil {
				return summary, fmt.Errorf("mark processing %s: %w", req.ID, err)
			}
		}

		gatewayID, payErr := s.gateway.Pay(ctx, req.PayoutRef, req.AccountID, req.Amount)
		if errors.Is(payErr, ErrAlreadyPaid) {
			if resuming {
				// Crash recovery: the payment landed but we never recorded
				// it. Complete the request without paying again.
				s.complete(ctx, req, "recovered-"+req.PayoutRef, now)
				summary.Processed++
				summary.TotalAmount += req.Amount
				continue
			}
			// A pending request whose reference was already paid means the
			// queue state cannot be trusted. Stop everything.
			dupErr := &ledger.DuplicatePayoutError{RequestID: req.ID, PayoutRef: req.PayoutRef}
			s.logger.Error("duplicate payout detected; batch halted",
				zap.String("request", req.ID),
				zap.String("payout_ref", req.PayoutRef))
			return summary, dupErr
		}
		if payErr != nil {
			req.Status = StatusFailed
			req.FailureReason = payErr.Error()
			processedAt := now
			req.ProcessedAt = &processedAt
			if err := s.store.SaveWithdrawal(ctx, req); err != nil {
				return summary, fmt.Errorf("mark failed %s: %w", req.ID, err)
			}
			s.releaseLock(ctx, req, "gateway payout failed")
			summary.Failed++
			continue
		}

		s.complete(ctx, req, gatewayID, now)
		summary.Processed++
		summary.TotalAmount += req.Amount
	}

	s.logger.Info("payout batch finished",
		zap.Int("processed", summary.Processed),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int64("total", summary.TotalAmount))
	return summary, nil
}

// complete marks the request settled and appends the zero-amount payout
// marker to the account's log (the balance effect happened at lock time).
func (s *Service) complete(ctx context.Context, req *WithdrawalRequest, gatewayID string, now time.Time) {
	req.Status = StatusCompleted
	req.GatewayPayoutID = gatewayID
	processedAt := now
	req.ProcessedAt = &processedAt
	if err := s.store.SaveWithdrawal(ctx, req); err != nil {
		s.logger.Error("failed to persist completed withdrawal",
			zap.String("request", req.ID), zap.Error(err))
		return
	}

	err := s.ledger.Update(ctx, req.AccountID, func(acc *ledger.Account, rec *ledger.Recorder) error {
		rec.Record(ledger.MarkerTransaction(acc, ledger.Metadata{
			Kind:        ledger.TxWithdrawalPayout,
			Category:    "payout",
			Description: "withdrawal settled: " + gatewayID,
			ReferenceID: req.ID,
		}))
		return nil
	})
	if err != nil {
		s.logger.Warn("failed to append payout marker transaction",
			zap.String("request", req.ID), zap.Error(err))
	}
}
