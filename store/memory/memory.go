// Package memory provides in-memory store implementations (for testing/dev).
package memory

import (
	"context"
	"sync"

	"github.com/warp/credit-engine/approval"
	"github.com/warp/credit-engine/commission"
	"github.com/warp/credit-engine/ledger"
	"github.com/warp/credit-engine/payout"
	"github.com/warp/credit-engine/quota"
)

// =============================================================================
// MEMORY STORE - Implements every engine store interface
// =============================================================================

type Store struct {
	mu           sync.RWMutex
	accounts     map[ledger.AccountID]*ledger.Account
	transactions map[ledger.AccountID][]ledger.Transaction
	tenantUsage  map[string]int64 // tenantID|day -> used
	aggregates   map[string]*commission.ProductAggregate
	requests     map[string]*approval.CreditRequest
	withdrawals  map[string]*payout.WithdrawalRequest
	discreps     []commission.Discrepancy
	tickets      []commission.AuditTicket
}

func New() *Store {
	return &Store{
		accounts:     make(map[ledger.AccountID]*ledger.Account),
		transactions: make(map[ledger.AccountID][]ledger.Transaction),
		tenantUsage:  make(map[string]int64),
		aggregates:   make(map[string]*commission.ProductAggregate),
		requests:     make(map[string]*approval.CreditRequest),
		withdrawals:  make(map[string]*payout.WithdrawalRequest),
	}
}

// =============================================================================
// ledger.Store
// =============================================================================

func (s *Store) GetAccount(_ context.Context, id ledger.AccountID) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[id]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return acc.Clone(), nil
}

func (s *Store) SaveAccount(_ context.Context, acc *ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts[acc.ID] = acc.Clone()
	return nil
}

func (s *Store) ListAccounts(_ context.Context) ([]*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*ledger.Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		out = append(out, acc.Clone())
	}
	return out, nil
}

func (s *Store) AppendTransactions(_ context.Context, txs []ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.appendLocked(txs)
	return nil
}

func (s *Store) appendLocked(txs []ledger.Transaction) {
	for _, tx := range txs {
		s.transactions[tx.AccountID] = append(s.transactions[tx.AccountID], tx)
	}
}

func (s *Store) TransactionsByAccount(_ context.Context, id ledger.AccountID) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txs := s.transactions[id]
	out := make([]ledger.Transaction, len(txs))
	copy(out, txs)
	return out, nil
}

// CommitChange saves account state and appends transactions under one lock.
func (s *Store) CommitChange(_ context.Context, acc *ledger.Account, txs []ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts[acc.ID] = acc.Clone()
	s.appendLocked(txs)
	return nil
}

// =============================================================================
// quota.TenantUsageStore
// =============================================================================

func (s *Store) TenantUsage(_ context.Context, tenantID, day string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.tenantUsage[tenantID+"|"+day], nil
}

func (s *Store) SaveTenantUsage(_ context.Context, tenantID, day string, used int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tenantUsage[tenantID+"|"+day] = used
	return nil
}

// =============================================================================
// commission.AggregateStore
// =============================================================================

func (s *Store) GetAggregate(_ context.Context, productID string) (*commission.ProductAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg, ok := s.aggregates[productID]
	if !ok {
		return nil, nil
	}
	cp := *agg
	return &cp, nil
}

func (s *Store) SaveAggregate(_ context.Context, agg *commission.ProductAggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *agg
	s.aggregates[agg.ProductID] = &cp
	return nil
}

func (s *Store) ListAggregates(_ context.Context) ([]*commission.ProductAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*commission.ProductAggregate, 0, len(s.aggregates))
	for _, agg := range s.aggregates {
		cp := *agg
		out = append(out, &cp)
	}
	return out, nil
}

// =============================================================================
// commission.DiscrepancyQueue / TicketStore
// =============================================================================

func (s *Store) PushDiscrepancy(_ context.Context, d commission.Discrepancy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.discreps = append(s.discreps, d)
	return nil
}

func (s *Store) ListDiscrepancies(_ context.Context) ([]commission.Discrepancy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]commission.Discrepancy, len(s.discreps))
	copy(out, s.discreps)
	return out, nil
}

func (s *Store) SaveTicket(_ context.Context, t commission.AuditTicket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tickets = append(s.tickets, t)
	return nil
}

func (s *Store) ListTickets(_ context.Context) ([]commission.AuditTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]commission.AuditTicket, len(s.tickets))
	copy(out, s.tickets)
	return out, nil
}

// =============================================================================
// approval.RequestStore
// =============================================================================

func (s *Store) GetCreditRequest(_ context.Context, id string) (*approval.CreditRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, ledger.ErrRequestNotFound
	}
	cp := *req
	return &cp, nil
}

func (s *Store) SaveCreditRequest(_ context.Context, req *approval.CreditRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *req
	s.requests[req.ID] = &cp
	return nil
}

func (s *Store) ListCreditRequests(_ context.Context, status approval.Status) ([]*approval.CreditRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*approval.CreditRequest
	for _, req := range s.requests {
		if status == "" || req.Status == status {
			cp := *req
			out = append(out, &cp)
		}
	}
	return out, nil
}

// =============================================================================
// payout.RequestStore
// =============================================================================

func (s *Store) GetWithdrawal(_ context.Context, id string) (*payout.WithdrawalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.withdrawals[id]
	if !ok {
		return nil, ledger.ErrRequestNotFound
	}
	cp := *req
	return &cp, nil
}

func (s *Store) SaveWithdrawal(_ context.Context, req *payout.WithdrawalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *req
	s.withdrawals[req.ID] = &cp
	return nil
}

func (s *Store) ListWithdrawals(_ context.Context, statuses ...payout.Status) ([]*payout.WithdrawalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	match := func(st payout.Status) bool {
		if len(statuses) == 0 {
			return true
		}
		for _, want := range statuses {
			if st == want {
				return true
			}
		}
		return false
	}

	var out []*payout.WithdrawalRequest
	for _, req := range s.withdrawals {
		if match(req.Status) {
			cp := *req
			out = append(out, &cp)
		}
	}
	return out, nil
}

// quota.TenantUsageStore compile-time checks live with the interfaces;
// keep one here for the widest surface.
var _ ledger.Store = (*Store)(nil)
var _ quota.TenantUsageStore = (*Store)(nil)
