/*
Package approval implements staff-mediated credit grants.

PURPOSE:
  Support staff cannot touch balances. They file a CreditRequest; a
  finance reviewer approves or rejects it. Approval is the ONLY path by
  which a request mutates the ledger, and it goes through the same atomic
  apply as every other credit - recorded as a credit_grant transaction so
  reconciliation can trace it back to the request.

LIFECYCLE:
  pending -> approved (terminal, writes the grant)
  pending -> rejected (terminal, no balance effect; feedback persisted)
*/
package approval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/credit-engine/ledger"
)

// =============================================================================
// TYPES
// =============================================================================

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// CreditRequest is a pending staff-approval record.
type CreditRequest struct {
	ID          string           `json:"id"`
	AccountID   ledger.AccountID `json:"account_id"`
	RequesterID string           `json:"requester_id"`
	Amount      int64            `json:"amount"`
	Reason      string           `json:"reason"`
	Status      Status           `json:"status"`
	Feedback    string           `json:"feedback,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	ResolvedAt  *time.Time       `json:"resolved_at,omitempty"`
	ResolvedBy  string           `json:"resolved_by,omitempty"`

	// GrantTxID links an approved request to the transaction it produced.
	GrantTxID ledger.TransactionID `json:"grant_tx_id,omitempty"`
}

// RequestStore persists credit requests.
type RequestStore interface {
	GetCreditRequest(ctx context.Context, id string) (*CreditRequest, error)
	SaveCreditRequest(ctx context.Context, req *CreditRequest) error
	ListCreditRequests(ctx context.Context, status Status) ([]*CreditRequest, error)
}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	store  RequestStore
	ledger *ledger.Service
	logger *zap.Logger

	// mu serializes Resolve so the status check-then-act cannot race two
	// reviewers into a double grant.
	mu sync.Mutex
}

func NewService(store RequestStore, l *ledger.Service, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, ledger: l, logger: logger}
}

// Submit files a new pending request on behalf of a target account.
func (s *Service) Submit(ctx context.Context, accountID ledger.AccountID, requesterID string, amount int64, reason string) (*CreditRequest, error) {
	if amount <= 0 {
		return nil, ledger.ErrInvalidAmount
	}
	if _, err := s.ledger.Account(ctx, accountID); err != nil {
		return nil, err
	}

	req := &CreditRequest{
		ID:          "req-" + uuid.NewString(),
		AccountID:   accountID,
		RequesterID: requesterID,
		Amount:      amount,
		Reason:      reason,
		Status:      StatusPending,
		CreatedAt:   time.Now(),
	}
	if err := s.store.SaveCreditRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("save credit request: %w", err)
	}
	return req, nil
}

// Resolve moves a pending request to a terminal state. Approval writes a
// credit_grant transaction through the normal ledger path; rejection only
// persists the reviewer feedback.
func (s *Service) Resolve(ctx context.Context, requestID string, approve bool, feedback, reviewerID string) (*CreditRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.store.GetCreditRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPending {
		return nil, ledger.ErrRequestResolved
	}

	if approve {
		res, err := s.ledger.Apply(ctx, req.AccountID, req.Amount, ledger.Metadata{
			Kind:        ledger.TxCreditGrant,
			Category:    "credit",
			Description: fmt.Sprintf("credit grant approved: %s", req.Reason),
			ReferenceID: req.ID,
		})
		if err != nil {
			// The request stays pending; nothing was granted.
			return nil, fmt.Errorf("grant failed: %w", err)
		}
		req.Status = StatusApproved
		req.GrantTxID = res.TxID
		s.logger.Info("credit request approved",
			zap.String("request", req.ID),
			zap.String("account", string(req.AccountID)),
			zap.Int64("amount", req.Amount),
			zap.String("reviewer", reviewerID))
	} else {
		req.Status = StatusRejected
		s.logger.Info("credit request rejected",
			zap.String("request", req.ID),
			zap.String("reviewer", reviewerID))
	}

	now := time.Now()
	req.Feedback = feedback
	req.ResolvedAt = &now
	req.ResolvedBy = reviewerID

	if err := s.store.SaveCreditRequest(ctx, req); err != nil {
		// The grant transaction is already committed; surface loudly.
		s.logger.Error("failed to persist resolved credit request",
			zap.String("request", req.ID), zap.Error(err))
		return nil, fmt.Errorf("persist resolution: %w", err)
	}
	return req, nil
}

// Pending lists requests awaiting a decision.
func (s *Service) Pending(ctx context.Context) ([]*CreditRequest, error) {
	return s.store.ListCreditRequests(ctx, StatusPending)
}
