package commission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/credit-engine/factory"
)

// =============================================================================
// SETTLEMENT ENGINE
// =============================================================================

// Engine applies purchase-time and consumption-time commission events to
// product aggregates. One mutex serializes aggregate mutation; aggregate
// writes are rare next to ledger traffic.
type Engine struct {
	store    AggregateStore
	tickets  TicketStore
	registry *factory.Registry
	logger   *zap.Logger

	mu sync.Mutex
}

func NewEngine(store AggregateStore, tickets TicketStore, registry *factory.Registry, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, tickets: tickets, registry: registry, logger: logger}
}

// loadOrInit returns the aggregate for a product, creating the zero-value
// rollup on first touch.
func (e *Engine) loadOrInit(ctx context.Context, productID, productName string) (*ProductAggregate, error) {
	agg, err := e.store.GetAggregate(ctx, productID)
	if err != nil {
		return nil, err
	}
	if agg == nil {
		agg = &ProductAggregate{ProductID: productID, ProductName: productName}
	}
	return agg, nil
}

// =============================================================================
// CONSUMPTION EVENT - projected -> realized
// =============================================================================

// Settle converts one paid consumption into realized commission:
//
//	revenue   = creditsSpent * unitCreditValue
//	cost      = tool.RealCostEstimate
//	netProfit = max(0, revenue - cost)   // overruns hit the platform
//	commission = netProfit * commissionPct / 100
//
// The commission moves to the realized ledger and is deducted from the
// aggregate's net profit (it is a payout obligation, not platform profit).
// Realization is clamped at the projected ceiling so the audit invariant
// realized <= projected always holds; a clamp is logged loudly.
//
// Callers treat failures as reconciliation discrepancies: the debit that
// triggered this call is never rolled back.
func (e *Engine) Settle(ctx context.Context, toolID string, creditsSpent int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	settings := e.registry.Settings()

	revenue := decimal.NewFromInt(creditsSpent).Mul(settings.UnitCreditValue)

	cost := decimal.Zero
	if tool, ok := e.registry.Tool(toolID); ok {
		cost = tool.RealCostEstimate
	}

	netProfit := revenue.Sub(cost)
	if netProfit.IsNegative() {
		netProfit = decimal.Zero
	}

	commission := netProfit.Mul(settings.CommissionPct).Div(decimal.NewFromInt(100))
	if !commission.IsPositive() {
		return nil
	}

	agg, err := e.loadOrInit(ctx, CreditPackProductID, "Credit Pack Recharges (Global)")
	if err != nil {
		return fmt.Errorf("load aggregate: %w", err)
	}

	if headroom := agg.CommissionHeadroom(); commission.GreaterThan(headroom) {
		e.logger.Warn("realized commission clamped at projected ceiling",
			zap.String("tool", toolID),
			zap.String("commission", commission.String()),
			zap.String("headroom", headroom.String()))
		commission = headroom
		if !commission.IsPositive() {
			return nil
		}
	}

	agg.Costs.AffiliateCommissions = agg.Costs.AffiliateCommissions.Add(commission)
	agg.NetProfit = agg.NetProfit.Sub(commission)
	agg.recalcMargin()
	agg.UpdatedAt = time.Now()

	if err := e.store.SaveAggregate(ctx, agg); err != nil {
		return fmt.Errorf("save aggregate: %w", err)
	}

	e.logger.Debug("usage commission realized",
		zap.String("tool", toolID),
		zap.Int64("credits", creditsSpent),
		zap.String("commission", commission.String()))
	return nil
}

// =============================================================================
// PURCHASE EVENT - revenue + projected ceiling
// =============================================================================

// RecordPurchase books a credit-pack sale: revenue, platform fee, tax, and
// the projected commission ceiling on the net cash. No commission is paid
// here - in the usage-based model commission is only realized as the
// credits are actually spent.
func (e *Engine) RecordPurchase(ctx context.Context, pricePaid decimal.Decimal) error {
	if !pricePaid.IsPositive() {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	settings := e.registry.Settings()

	agg, err := e.loadOrInit(ctx, CreditPackProductID, "Credit Pack Recharges (Global)")
	if err != nil {
		return fmt.Errorf("load aggregate: %w", err)
	}

	fees := pricePaid.Mul(settings.PlatformFeeRate)
	taxes := pricePaid.Mul(settings.TaxRate)
	netCash := pricePaid.Sub(fees).Sub(taxes)
	projected := netCash.Mul(settings.CommissionPct).Div(decimal.NewFromInt(100))

	agg.Revenue = agg.Revenue.Add(pricePaid)
	agg.Costs.PlatformFees = agg.Costs.PlatformFees.Add(fees)
	agg.Costs.Taxes = agg.Costs.Taxes.Add(taxes)
	agg.Costs.ProjectedCommissions = agg.Costs.ProjectedCommissions.Add(projected)
	agg.NetProfit = agg.NetProfit.Add(netCash)
	agg.SalesCount++
	agg.recalcMargin()
	agg.UpdatedAt = time.Now()

	return e.store.SaveAggregate(ctx, agg)
}

// Aggregate returns a product rollup for audit views.
func (e *Engine) Aggregate(ctx context.Context, productID string) (*ProductAggregate, error) {
	return e.store.GetAggregate(ctx, productID)
}

// =============================================================================
// DISPUTE FLAGGING
// =============================================================================

// FlagDispute opens an audit ticket when a receipt extraction looks wrong:
// inconsistent audit status, or confidence below the configured floor. The
// extraction only flags - a human resolves the ticket.
func (e *Engine) FlagDispute(ctx context.Context, paymentID string, ocr OCRResult) (*AuditTicket, error) {
	floor := e.registry.Settings().DisputeConfidenceFloor

	var issue string
	switch {
	case ocr.AuditStatus == AuditInconsistent:
		issue = "receipt extraction inconsistent with recorded commission payment"
	case ocr.Confidence < floor:
		issue = fmt.Sprintf("receipt extraction confidence %.2f below floor %.2f", ocr.Confidence, floor)
	default:
		return nil, nil
	}

	ticket := AuditTicket{
		ID:        "ticket-" + uuid.NewString(),
		PaymentID: paymentID,
		Status:    "open",
		Issue:     issue,
		OCR:       ocr,
		CreatedAt: time.Now(),
	}
	if err := e.tickets.SaveTicket(ctx, ticket); err != nil {
		return nil, fmt.Errorf("save audit ticket: %w", err)
	}

	e.logger.Info("commission payment flagged for audit",
		zap.String("payment", paymentID),
		zap.String("issue", issue))
	return &ticket, nil
}
