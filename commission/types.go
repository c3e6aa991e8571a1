/*
Package commission converts tool usage into producer commission.

PURPOSE:
  Tracks, per product aggregate, two distinct commission ledgers:
  - PROJECTED: the maximum liability recorded at purchase time, before any
    of the purchased credits are spent
  - REALIZED: the portion actually earned as credits are consumed against
    real cost

  Realized is drawn down against the projected ceiling over the credits'
  lifetime; the two tracks are never summed and both stay visible for
  audit. Cost overruns are absorbed by the platform, never by the
  producer: net profit floors at zero.

SEE ALSO:
  - engine.go: Settle (consumption) and RecordPurchase (purchase)
  - resolver: invokes Settle synchronously after each paid debit
*/
package commission

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/credit-engine/ledger"
)

// CreditPackProductID is the shared aggregate all credit-pack sales and
// their usage commission settle against.
const CreditPackProductID = "credit_packs_global"

// =============================================================================
// PRODUCT AGGREGATE
// =============================================================================

// CostBreakdown separates the liabilities booked against a product's
// revenue. AffiliateCommissions is the realized ledger;
// ProjectedCommissions is the purchase-time ceiling.
type CostBreakdown struct {
	PlatformFees         decimal.Decimal `json:"platform_fees"`
	Taxes                decimal.Decimal `json:"taxes"`
	AffiliateCommissions decimal.Decimal `json:"affiliate_commissions"`
	ProjectedCommissions decimal.Decimal `json:"projected_commissions"`
}

// ProductAggregate is the per-product financial rollup. It is mutated on
// exactly two events: purchase (revenue + projected ceiling) and
// consumption (projected -> realized drawdown).
type ProductAggregate struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Revenue     decimal.Decimal `json:"revenue"`
	Costs       CostBreakdown   `json:"costs"`
	NetProfit   decimal.Decimal `json:"net_profit"`
	Margin      decimal.Decimal `json:"margin"` // percent of revenue

	SalesCount      int `json:"sales_count"`
	RefundCount     int `json:"refund_count"`
	ChargebackCount int `json:"chargeback_count"`

	UpdatedAt time.Time `json:"updated_at"`
}

// CommissionHeadroom is the projected liability not yet realized.
func (p *ProductAggregate) CommissionHeadroom() decimal.Decimal {
	h := p.Costs.ProjectedCommissions.Sub(p.Costs.AffiliateCommissions)
	if h.IsNegative() {
		return decimal.Zero
	}
	return h
}

// recalcMargin keeps Margin derived, never stored independently.
func (p *ProductAggregate) recalcMargin() {
	if p.Revenue.IsZero() {
		p.Margin = decimal.Zero
		return
	}
	p.Margin = p.NetProfit.Div(p.Revenue).Mul(decimal.NewFromInt(100)).Round(4)
}

// AggregateStore persists product aggregates. GetAggregate returns
// (nil, nil) for an unknown product.
type AggregateStore interface {
	GetAggregate(ctx context.Context, productID string) (*ProductAggregate, error)
	SaveAggregate(ctx context.Context, agg *ProductAggregate) error
	ListAggregates(ctx context.Context) ([]*ProductAggregate, error)
}

// =============================================================================
// RECONCILIATION DISCREPANCIES
// =============================================================================

// Discrepancy records a settlement failure that happened AFTER a debit
// committed. The debit stands; the discrepancy goes to the operator queue
// for retry or manual reconciliation. Never silently dropped.
type Discrepancy struct {
	ID        string               `json:"id"`
	AccountID ledger.AccountID     `json:"account_id"`
	TxID      ledger.TransactionID `json:"tx_id"`
	ToolID    string               `json:"tool_id"`
	Credits   int64                `json:"credits"`
	Reason    string               `json:"reason"`
	At        time.Time            `json:"at"`
}

// DiscrepancyQueue is the operator-facing queue of settlement failures.
type DiscrepancyQueue interface {
	PushDiscrepancy(ctx context.Context, d Discrepancy) error
	ListDiscrepancies(ctx context.Context) ([]Discrepancy, error)
}

// =============================================================================
// OCR-FLAGGED DISPUTES
// =============================================================================

// OCRResult is the collaborator-supplied receipt extraction. The engine
// only consumes it: it flags commission-payment disputes, it never decides
// them.
type OCRResult struct {
	ExtractedAmount decimal.Decimal `json:"extracted_amount"`
	Confidence      float64         `json:"confidence"` // 0-1
	AuditStatus     string          `json:"audit_status"`
}

const (
	AuditConsistent   = "consistent"
	AuditInconsistent = "inconsistent"
	AuditPending      = "pending"
)

// AuditTicket is an open question for a human reviewer.
type AuditTicket struct {
	ID        string    `json:"id"`
	PaymentID string    `json:"payment_id"`
	Status    string    `json:"status"` // open, resolved
	Issue     string    `json:"issue"`
	OCR       OCRResult `json:"ocr"`
	CreatedAt time.Time `json:"created_at"`
}

// TicketStore persists audit tickets.
type TicketStore interface {
	SaveTicket(ctx context.Context, t AuditTicket) error
	ListTickets(ctx context.Context) ([]AuditTicket, error)
}
