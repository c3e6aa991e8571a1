/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Accounts:
    AccountDTO, CreateAccountRequest

  Consumption:
    ConsumeRequest, ConsumeResponseDTO

  Purchases / transfers:
    PurchaseRequest, TransferRequest

  Transactions:
    TransactionDTO, ReconciliationDTO

  Credit requests:
    CreditRequestDTO, SubmitCreditRequest, ResolveCreditRequest

  Withdrawals:
    WithdrawalDTO, SubmitWithdrawalRequest, BatchSummaryDTO

  Financials:
    AggregateDTO, DiscrepancyDTO, AuditTicketDTO, FlagDisputeRequest

ERROR CODES:
  ErrorResponse carries a machine-readable code alongside the message so
  clients can branch without parsing text:
    DAILY_LIMIT_EXCEEDED    personal or tenant quota exhausted
    INSUFFICIENT_BALANCE    no pocket could cover the debit
    BELOW_MINIMUM           withdrawal under the configured floor
    DUPLICATE_PAYOUT        gateway saw this payout reference before

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/errors.go: Domain errors these codes map from
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/credit-engine/ledger"
)

// =============================================================================
// ACCOUNT TYPES
// =============================================================================

// AccountDTO represents a credit account in API responses.
type AccountDTO struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Kind           string           `json:"kind"`
	TenantID       string           `json:"tenant_id,omitempty"`
	GlobalBalance  int64            `json:"global_balance"`
	Buckets        map[string]int64 `json:"buckets,omitempty"`
	DailyFreeUsed  int64            `json:"daily_free_used"`
	DailyFreeLimit int64            `json:"daily_free_limit"`
	LastResetDate  string           `json:"last_reset_date,omitempty"`
	CreatedAt      string           `json:"created_at,omitempty"`
}

// CreateAccountRequest is the request to create an account.
type CreateAccountRequest struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Kind           string `json:"kind"`
	TenantID       string `json:"tenant_id"`
	InitialCredits int64  `json:"initial_credits"`
	DailyFreeLimit int64  `json:"daily_free_limit"`
}

// =============================================================================
// CONSUMPTION TYPES
// =============================================================================

// ConsumeRequest asks the resolver to charge an account for a tool run.
type ConsumeRequest struct {
	ToolID      string `json:"tool_id"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	ForceWallet bool   `json:"force_wallet"`
}

// ConsumeResponseDTO reports which pocket paid and what remains.
type ConsumeResponseDTO struct {
	Pocket     string `json:"pocket"`
	NewBalance int64  `json:"new_balance"`
	TxID       string `json:"tx_id,omitempty"`
	QuotaUsed  int64  `json:"quota_used,omitempty"`
	QuotaLimit int64  `json:"quota_limit,omitempty"`
}

// PurchaseRequest credits an account after a payment.
type PurchaseRequest struct {
	Credits     int64           `json:"credits"`
	PricePaid   decimal.Decimal `json:"price_paid"`
	ToolID      string          `json:"tool_id,omitempty"`
	Description string          `json:"description"`
}

// TransferRequest moves credits between two accounts.
type TransferRequest struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

// =============================================================================
// TRANSACTION TYPES
// =============================================================================

// TransactionDTO represents one ledger entry.
type TransactionDTO struct {
	ID              string `json:"id"`
	AccountID       string `json:"account_id"`
	Amount          int64  `json:"amount"`
	Kind            string `json:"kind"`
	Category        string `json:"category,omitempty"`
	ToolID          string `json:"tool_id,omitempty"`
	Pocket          string `json:"pocket"`
	Description     string `json:"description,omitempty"`
	ReferenceID     string `json:"reference_id,omitempty"`
	BalanceSnapshot int64  `json:"balance_snapshot"`
	Timestamp       string `json:"timestamp"`
}

// ReconciliationDTO reports a replay of the transaction log against
// the stored account state.
type ReconciliationDTO struct {
	AccountID        string           `json:"account_id"`
	StoredGlobal     int64            `json:"stored_global"`
	ReplayedGlobal   int64            `json:"replayed_global"`
	StoredBuckets    map[string]int64 `json:"stored_buckets,omitempty"`
	ReplayedBuckets  map[string]int64 `json:"replayed_buckets,omitempty"`
	SnapshotMismatch []string         `json:"snapshot_mismatch,omitempty"`
	Consistent       bool             `json:"consistent"`
}

// =============================================================================
// CREDIT REQUEST TYPES
// =============================================================================

// CreditRequestDTO represents a pending or resolved credit request.
type CreditRequestDTO struct {
	ID          string `json:"id"`
	AccountID   string `json:"account_id"`
	RequesterID string `json:"requester_id,omitempty"`
	Amount      int64  `json:"amount"`
	Reason      string `json:"reason,omitempty"`
	Status      string `json:"status"`
	Feedback    string `json:"feedback,omitempty"`
	CreatedAt   string `json:"created_at"`
	ResolvedAt  string `json:"resolved_at,omitempty"`
	ResolvedBy  string `json:"resolved_by,omitempty"`
	GrantTxID   string `json:"grant_tx_id,omitempty"`
}

// SubmitCreditRequest asks for credits to be granted to an account.
type SubmitCreditRequest struct {
	AccountID   string `json:"account_id"`
	RequesterID string `json:"requester_id"`
	Amount      int64  `json:"amount"`
	Reason      string `json:"reason"`
}

// ResolveCreditRequest approves or rejects a pending request.
type ResolveCreditRequest struct {
	Feedback   string `json:"feedback"`
	ReviewerID string `json:"reviewer_id"`
}

// =============================================================================
// WITHDRAWAL TYPES
// =============================================================================

// WithdrawalDTO represents a withdrawal request in API responses.
type WithdrawalDTO struct {
	ID              string `json:"id"`
	AccountID       string `json:"account_id"`
	Amount          int64  `json:"amount"`
	Status          string `json:"status"`
	PayoutRef       string `json:"payout_ref"`
	GatewayPayoutID string `json:"gateway_payout_id,omitempty"`
	ScheduledFor    string `json:"scheduled_for"`
	RequestedAt     string `json:"requested_at"`
	ProcessedAt     string `json:"processed_at,omitempty"`
	FailureReason   string `json:"failure_reason,omitempty"`
}

// SubmitWithdrawalRequest asks to cash out earned credits.
type SubmitWithdrawalRequest struct {
	AccountID string `json:"account_id"`
	Amount    int64  `json:"amount"`
}

// BatchSummaryDTO reports the outcome of one payout batch run.
type BatchSummaryDTO struct {
	Processed   int   `json:"processed"`
	Failed      int   `json:"failed"`
	Skipped     int   `json:"skipped"`
	TotalAmount int64 `json:"total_amount"`
}

// =============================================================================
// FINANCIAL TYPES
// =============================================================================

// AggregateDTO represents a product's financial rollup.
type AggregateDTO struct {
	ProductID            string          `json:"product_id"`
	ProductName          string          `json:"product_name,omitempty"`
	Revenue              decimal.Decimal `json:"revenue"`
	PlatformFees         decimal.Decimal `json:"platform_fees"`
	Taxes                decimal.Decimal `json:"taxes"`
	AffiliateCommissions decimal.Decimal `json:"affiliate_commissions"`
	ProjectedCommissions decimal.Decimal `json:"projected_commissions"`
	NetProfit            decimal.Decimal `json:"net_profit"`
	Margin               decimal.Decimal `json:"margin"`
	SalesCount           int             `json:"sales_count"`
	UpdatedAt            string          `json:"updated_at,omitempty"`
}

// DiscrepancyDTO represents a settlement failure awaiting operator review.
type DiscrepancyDTO struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	TxID      string `json:"tx_id"`
	ToolID    string `json:"tool_id,omitempty"`
	Credits   int64  `json:"credits"`
	Reason    string `json:"reason"`
	At        string `json:"at"`
}

// AuditTicketDTO represents an OCR-flagged payment audit.
type AuditTicketDTO struct {
	ID              string          `json:"id"`
	PaymentID       string          `json:"payment_id"`
	Status          string          `json:"status"`
	Issue           string          `json:"issue"`
	ExtractedAmount decimal.Decimal `json:"extracted_amount"`
	Confidence      float64         `json:"confidence"`
	AuditStatus     string          `json:"audit_status"`
	CreatedAt       string          `json:"created_at"`
}

// FlagDisputeRequest submits an OCR read of a payment receipt for audit.
type FlagDisputeRequest struct {
	PaymentID       string          `json:"payment_id"`
	ExtractedAmount decimal.Decimal `json:"extracted_amount"`
	Confidence      float64         `json:"confidence"`
	AuditStatus     string          `json:"audit_status"`
}

// =============================================================================
// SHARED TYPES
// =============================================================================

// ErrorResponse is the standard error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// toTransactionDTO converts a ledger transaction for API output.
func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:              string(tx.ID),
		AccountID:       string(tx.AccountID),
		Amount:          tx.Amount,
		Kind:            string(tx.Kind),
		Category:        tx.Category,
		ToolID:          tx.ToolID,
		Pocket:          string(tx.Pocket),
		Description:     tx.Description,
		ReferenceID:     tx.ReferenceID,
		BalanceSnapshot: tx.BalanceSnapshot,
		Timestamp:       tx.Timestamp.Format(time.RFC3339),
	}
}
