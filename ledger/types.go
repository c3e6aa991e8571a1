/*
Package ledger is the source of truth for all credit movement.

PURPOSE:
  This package contains the core wallet model: accounts (global balance,
  per-tool specialized buckets, daily free allowance counters) and the
  immutable transaction log that records every movement. Balances are
  persisted, but the transaction log can always reproduce them - replaying
  an account's log in order is the reconciliation check.

KEY CONCEPTS IN THIS FILE (types.go):
  - Account: one wallet per user (learner, partner or producer)
  - Transaction: an immutable ledger entry recording a balance change
  - Metadata: the caller-supplied context attached to a mutation
  - Pocket: which sub-balance a movement touched (specialized/global/quota)

DESIGN PRINCIPLES:
  1. Immutability: transactions are never edited, only compensated
  2. Non-negativity: no mutation may drive any balance below zero
  3. Serialization: all mutations to one account go through one lock
  4. Auditability: every transaction carries a post-apply balance snapshot

SEE ALSO:
  - service.go: per-account serialized mutation (Apply/Update/Transfer)
  - store.go: persistence interfaces
  - errors.go: the error taxonomy shared by all engine packages
*/
package ledger

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type TransactionID string

// NewTransactionID returns a fresh unique transaction id.
func NewTransactionID() TransactionID {
	return TransactionID("tx-" + uuid.NewString())
}

// =============================================================================
// ACCOUNT - One wallet per user
// =============================================================================

// AccountKind distinguishes the three account populations. The ledger
// itself treats them identically; the resolver and payout layers apply
// kind-specific rules (quota eligibility, withdrawal rights).
type AccountKind string

const (
	KindLearner  AccountKind = "learner"
	KindPartner  AccountKind = "partner"
	KindProducer AccountKind = "producer"
)

// Account holds the current state of a wallet.
//
// INVARIANTS:
//   - GlobalBalance >= 0 and every bucket balance >= 0 at all times.
//   - DailyFreeUsed <= DailyFreeLimit whenever LastResetDate is today.
//   - Replaying the account's transactions reproduces GlobalBalance.
type Account struct {
	ID       AccountID   `json:"id"`
	Name     string      `json:"name"`
	Kind     AccountKind `json:"kind"`
	TenantID string      `json:"tenant_id,omitempty"`

	GlobalBalance int64            `json:"global_balance"`
	Buckets       map[string]int64 `json:"buckets,omitempty"` // tool id -> balance

	DailyFreeUsed  int64  `json:"daily_free_used"`
	DailyFreeLimit int64  `json:"daily_free_limit"` // 0 = no free tier
	LastResetDate  string `json:"last_reset_date"`  // YYYY-MM-DD

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BucketBalance returns the balance of the named tool bucket (0 if absent).
func (a *Account) BucketBalance(toolID string) int64 {
	if a.Buckets == nil {
		return 0
	}
	return a.Buckets[toolID]
}

// Clone returns a deep copy. Stores hand out clones so callers can only
// mutate accounts through the serialized Service paths.
func (a *Account) Clone() *Account {
	cp := *a
	if a.Buckets != nil {
		cp.Buckets = make(map[string]int64, len(a.Buckets))
		for k, v := range a.Buckets {
			cp.Buckets[k] = v
		}
	}
	return &cp
}

// =============================================================================
// TRANSACTION - Immutable ledger entry
// =============================================================================

// Kind is the business reason for a transaction.
type Kind string

const (
	TxPurchase         Kind = "purchase"
	TxUsage            Kind = "usage"
	TxBonus            Kind = "bonus"
	TxTransfer         Kind = "transfer"
	TxCreditGrant      Kind = "credit_grant"
	TxWithdrawalLock   Kind = "withdrawal_lock"
	TxWithdrawalPayout Kind = "withdrawal_payout"
)

// Pocket identifies which sub-balance a movement touched.
// PocketQuota never appears on a transaction: free-tier consumption is not
// a ledger event. It exists for consumption results only.
type Pocket string

const (
	PocketSpecialized Pocket = "specialized"
	PocketGlobal      Pocket = "global"
	PocketQuota       Pocket = "quota"
)

// Transaction is an immutable, append-only ledger entry.
// Amount is signed: positive credits, negative debits.
// BalanceSnapshot is the account's GLOBAL balance immediately after this
// transaction applied (bucket movements snapshot the untouched global).
type Transaction struct {
	ID              TransactionID `json:"id"`
	AccountID       AccountID     `json:"account_id"`
	Amount          int64         `json:"amount"`
	Kind            Kind          `json:"kind"`
	Category        string        `json:"category,omitempty"`
	ToolID          string        `json:"tool_id,omitempty"`
	Pocket          Pocket        `json:"pocket"`
	Description     string        `json:"description,omitempty"`
	ReferenceID     string        `json:"reference_id,omitempty"`
	BalanceSnapshot int64         `json:"balance_snapshot"`
	Timestamp       time.Time     `json:"timestamp"`
}

// Metadata is the caller-supplied context for a mutation. The ledger fills
// in id, snapshot and timestamp itself.
type Metadata struct {
	Kind        Kind
	Category    string
	ToolID      string
	Pocket      Pocket // zero value means global
	Description string
	ReferenceID string
}

// =============================================================================
// CALENDAR DAYS
// =============================================================================

// DateKey reduces a time to the calendar-day string used for quota resets.
// Day boundaries are date-string equality, nothing timezone-clever.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// Today returns the current day key.
func Today() string {
	return DateKey(time.Now())
}
