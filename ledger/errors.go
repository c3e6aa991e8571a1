/*
errors.go - Centralized error taxonomy for the credit engine

PURPOSE:
  All engine error types in one place for consistency and discoverability.
  Domain packages (quota, resolver, payout, approval) return these so the
  API layer can map every failure to a distinct user action: top up, wait
  for the quota reset, or contact support.

ERROR CATEGORIES:
  1. Balance errors  - insufficient funds, invalid amounts
  2. Quota errors    - personal allowance or tenant ceiling exhausted
  3. Payout errors   - below minimum, duplicate payout reference
  4. Workflow errors - missing or already-resolved requests

USAGE:
  if errors.Is(err, ledger.ErrQuotaExhausted) {
      // offer "use paid credits instead" (forceWallet retry)
  }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientBalance is returned when a debit exceeds the available
	// balance of the pocket it targets. No state change happened.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrQuotaExhausted is returned when a quota-eligible charge exceeds the
	// remaining personal daily allowance. Distinct from ErrInsufficientBalance
	// so callers can offer a paid retry (forceWallet).
	ErrQuotaExhausted = errors.New("daily free quota exhausted")

	// ErrTenantQuotaExceeded is returned when the school/org daily ceiling is
	// hit. This denial is final regardless of personal balance.
	ErrTenantQuotaExceeded = errors.New("tenant daily limit exceeded")

	// ErrBelowMinimumWithdrawal is a validation failure: no funds were locked.
	ErrBelowMinimumWithdrawal = errors.New("below minimum withdrawal amount")

	// ErrDuplicatePayout indicates a batch idempotency violation. Fatal: the
	// running batch must halt and alert an operator.
	ErrDuplicatePayout = errors.New("duplicate payout")

	// ErrAccountNotFound is returned when a referenced account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountExists is returned when creating an account with a taken id.
	ErrAccountExists = errors.New("account already exists")

	// ErrRequestNotFound is returned when a referenced request doesn't exist.
	ErrRequestNotFound = errors.New("request not found")

	// ErrRequestResolved is returned when resolving a request that already
	// reached a terminal state.
	ErrRequestResolved = errors.New("request already resolved")

	// ErrInvalidAmount is returned for zero or negative operation amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError reports the shortage details.
type InsufficientBalanceError struct {
	AccountID AccountID
	Pocket    Pocket
	ToolID    string
	Available int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance for account %s: available %d, requested %d",
		e.Pocket, e.AccountID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// QuotaExhaustedError reports how far over the personal allowance the
// request went, so the UI can show "7 of 50 remaining".
type QuotaExhaustedError struct {
	AccountID AccountID
	Limit     int64
	Used      int64
	Requested int64
}

func (e *QuotaExhaustedError) Error() string {
	return fmt.Sprintf("daily free quota exhausted for account %s: used %d of %d, requested %d",
		e.AccountID, e.Used, e.Limit, e.Requested)
}

func (e *QuotaExhaustedError) Unwrap() error { return ErrQuotaExhausted }

// TenantQuotaError reports a school/org ceiling denial.
type TenantQuotaError struct {
	TenantID  string
	Limit     int64
	Used      int64
	Requested int64
}

func (e *TenantQuotaError) Error() string {
	return fmt.Sprintf("tenant %s daily limit exceeded: used %d of %d, requested %d",
		e.TenantID, e.Used, e.Limit, e.Requested)
}

func (e *TenantQuotaError) Unwrap() error { return ErrTenantQuotaExceeded }

// BelowMinimumError reports a withdrawal under the configured threshold.
type BelowMinimumError struct {
	Minimum   int64
	Requested int64
}

func (e *BelowMinimumError) Error() string {
	return fmt.Sprintf("withdrawal of %d is below the minimum of %d", e.Requested, e.Minimum)
}

func (e *BelowMinimumError) Unwrap() error { return ErrBelowMinimumWithdrawal }

// DuplicatePayoutError reports a payout reference that was already settled.
type DuplicatePayoutError struct {
	RequestID string
	PayoutRef string
}

func (e *DuplicatePayoutError) Error() string {
	return fmt.Sprintf("payout reference %s for request %s was already settled", e.PayoutRef, e.RequestID)
}

func (e *DuplicatePayoutError) Unwrap() error { return ErrDuplicatePayout }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is a recoverable, user-facing
// denial rather than an engine fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrQuotaExhausted) ||
		errors.Is(err, ErrTenantQuotaExceeded) ||
		errors.Is(err, ErrBelowMinimumWithdrawal) ||
		errors.Is(err, ErrRequestResolved) ||
		errors.Is(err, ErrInvalidAmount)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrRequestNotFound)
}
