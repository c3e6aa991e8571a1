/*
handlers.go - HTTP API handlers for the credit engine

PURPOSE:
  Exposes the credit engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Accounts:
    GET    /api/accounts                    List all accounts
    POST   /api/accounts                    Create account
    GET    /api/accounts/{id}               Get account details
    GET    /api/accounts/{id}/transactions  Transaction history
    GET    /api/accounts/{id}/reconcile     Replay log vs stored state
    POST   /api/accounts/{id}/consume       Tiered credit consumption
    POST   /api/accounts/{id}/purchase      Credit pack purchase
    POST   /api/accounts/{id}/withdrawals   Submit withdrawal request

  Transfers:
    POST   /api/transfers                   Move credits between accounts

  Credit requests:
    POST   /api/credit-requests             Submit request
    GET    /api/credit-requests/pending     List pending
    POST   /api/credit-requests/{id}/approve
    POST   /api/credit-requests/{id}/reject

  Withdrawals:
    GET    /api/withdrawals                 Pending + processing queue
    POST   /api/admin/payouts/run           Trigger a payout batch now

  Financials:
    GET    /api/financials/aggregates       Product rollups
    GET    /api/financials/discrepancies    Operator review queue
    GET    /api/financials/tickets          OCR audit tickets
    POST   /api/financials/disputes         Flag a payment for audit

ARCHITECTURE:
  Handler struct holds all dependencies, constructed once at startup and
  passed by reference. No globals.

ERROR HANDLING:
  Domain errors map to HTTP status plus a machine-readable code:
  - 400: Validation errors, invalid input, below-minimum withdrawal
  - 402: Insufficient balance across all pockets
  - 404: Account or request not found
  - 409: Conflict (already resolved, duplicate account, duplicate payout)
  - 429: Daily quota exhausted (personal or tenant)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - resolver/resolver.go: The tiered consumption policy
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/credit-engine/approval"
	"github.com/warp/credit-engine/commission"
	"github.com/warp/credit-engine/factory"
	"github.com/warp/credit-engine/ledger"
	"github.com/warp/credit-engine/payout"
	"github.com/warp/credit-engine/resolver"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger        *ledger.Service
	Resolver      *resolver.Resolver
	Approvals     *approval.Service
	Payouts       *payout.Service
	Commission    *commission.Engine
	Registry      *factory.Registry
	Discrepancies commission.DiscrepancyQueue
	Tickets       commission.TicketStore
	Aggregates    commission.AggregateStore
	Logger        *zap.Logger
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// ListAccounts returns all accounts.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Ledger.ListAccounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list accounts", err)
		return
	}

	dtos := make([]AccountDTO, len(accounts))
	for i, acc := range accounts {
		dtos[i] = toAccountDTO(acc)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAccount returns a single account.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	acc, err := h.Ledger.Account(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acc))
}

// CreateAccount creates a new account.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "Account id is required", nil)
		return
	}
	kind := ledger.AccountKind(req.Kind)
	switch kind {
	case ledger.KindLearner, ledger.KindPartner, ledger.KindProducer:
	case "":
		kind = ledger.KindLearner
	default:
		writeError(w, http.StatusBadRequest, "Unknown account kind", nil)
		return
	}

	acc := &ledger.Account{
		ID:             ledger.AccountID(req.ID),
		Name:           req.Name,
		Kind:           kind,
		TenantID:       req.TenantID,
		GlobalBalance:  req.InitialCredits,
		DailyFreeLimit: req.DailyFreeLimit,
	}

	if err := h.Ledger.CreateAccount(r.Context(), acc); err != nil {
		writeDomainError(w, "Failed to create account", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(acc))
}

// GetTransactions returns the full transaction history for an account.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	txs, err := h.Ledger.History(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get transactions", err)
		return
	}

	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Reconcile replays the account's log and compares it to stored state.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	report, err := h.Ledger.Reconcile(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to reconcile account", err)
		return
	}

	dto := ReconciliationDTO{
		AccountID:       string(report.AccountID),
		StoredGlobal:    report.StoredGlobal,
		ReplayedGlobal:  report.ReplayedGlobal,
		StoredBuckets:   report.StoredBuckets,
		ReplayedBuckets: report.ReplayedBuckets,
		Consistent:      report.Consistent,
	}
	for _, txID := range report.SnapshotMismatch {
		dto.SnapshotMismatch = append(dto.SnapshotMismatch, string(txID))
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// CONSUMPTION HANDLERS
// =============================================================================

// Consume charges an account for a tool run through the tiered resolver.
func (h *Handler) Consume(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	var req ConsumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ToolID == "" {
		writeError(w, http.StatusBadRequest, "tool_id is required", nil)
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive", nil)
		return
	}

	res, err := h.Resolver.Consume(r.Context(), id, req.ToolID, req.Amount, req.Description, req.ForceWallet)
	if err != nil {
		writeDomainError(w, "Consumption denied", err)
		return
	}

	writeJSON(w, http.StatusOK, ConsumeResponseDTO{
		Pocket:     string(res.Pocket),
		NewBalance: res.NewBalance,
		TxID:       string(res.TxID),
		QuotaUsed:  res.QuotaUsed,
		QuotaLimit: res.QuotaLimit,
	})
}

// Purchase credits an account after a credit-pack payment.
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Credits <= 0 {
		writeError(w, http.StatusBadRequest, "credits must be positive", nil)
		return
	}

	res, err := h.Resolver.Purchase(r.Context(), id, req.Credits, req.PricePaid, req.ToolID, req.Description)
	if err != nil {
		writeDomainError(w, "Purchase failed", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"new_balance": res.NewBalance,
		"tx_id":       res.TxID,
	})
}

// Transfer moves credits between two accounts.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.From == "" || req.To == "" || req.From == req.To {
		writeError(w, http.StatusBadRequest, "from and to must be distinct accounts", nil)
		return
	}

	err := h.Ledger.Transfer(r.Context(), ledger.AccountID(req.From), ledger.AccountID(req.To), req.Amount, req.Description)
	if err != nil {
		writeDomainError(w, "Transfer failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// CREDIT REQUEST HANDLERS
// =============================================================================

// SubmitCreditRequest opens a pending credit request.
func (h *Handler) SubmitCreditRequest(w http.ResponseWriter, r *http.Request) {
	var req SubmitCreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	cr, err := h.Approvals.Submit(r.Context(), ledger.AccountID(req.AccountID), req.RequesterID, req.Amount, req.Reason)
	if err != nil {
		writeDomainError(w, "Failed to submit request", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCreditRequestDTO(cr))
}

// ListPendingCreditRequests returns requests awaiting review.
func (h *Handler) ListPendingCreditRequests(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.Approvals.Pending(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list requests", err)
		return
	}

	dtos := make([]CreditRequestDTO, len(reqs))
	for i, cr := range reqs {
		dtos[i] = toCreditRequestDTO(cr)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ApproveCreditRequest grants the requested credits.
func (h *Handler) ApproveCreditRequest(w http.ResponseWriter, r *http.Request) {
	h.resolveCreditRequest(w, r, true)
}

// RejectCreditRequest declines the request with feedback.
func (h *Handler) RejectCreditRequest(w http.ResponseWriter, r *http.Request) {
	h.resolveCreditRequest(w, r, false)
}

func (h *Handler) resolveCreditRequest(w http.ResponseWriter, r *http.Request, approve bool) {
	id := chi.URLParam(r, "id")

	var req ResolveCreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	cr, err := h.Approvals.Resolve(r.Context(), id, approve, req.Feedback, req.ReviewerID)
	if err != nil {
		writeDomainError(w, "Failed to resolve request", err)
		return
	}
	writeJSON(w, http.StatusOK, toCreditRequestDTO(cr))
}

// =============================================================================
// WITHDRAWAL HANDLERS
// =============================================================================

// SubmitWithdrawal locks funds and queues a withdrawal for the next window.
func (h *Handler) SubmitWithdrawal(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	var req SubmitWithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	wd, err := h.Payouts.Request(r.Context(), id, req.Amount)
	if err != nil {
		writeDomainError(w, "Withdrawal rejected", err)
		return
	}
	writeJSON(w, http.StatusCreated, toWithdrawalDTO(wd))
}

// ListWithdrawals returns the pending and processing queue.
func (h *Handler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.Payouts.Queue(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list withdrawals", err)
		return
	}

	dtos := make([]WithdrawalDTO, len(reqs))
	for i, wd := range reqs {
		dtos[i] = toWithdrawalDTO(wd)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RunPayoutBatch triggers an immediate payout batch (admin).
func (h *Handler) RunPayoutBatch(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Payouts.RunBatch(r.Context())
	if err != nil {
		writeDomainError(w, "Payout batch failed", err)
		return
	}
	writeJSON(w, http.StatusOK, BatchSummaryDTO{
		Processed:   summary.Processed,
		Failed:      summary.Failed,
		Skipped:     summary.Skipped,
		TotalAmount: summary.TotalAmount,
	})
}

// =============================================================================
// FINANCIAL HANDLERS
// =============================================================================

// ListAggregates returns per-product financial rollups.
func (h *Handler) ListAggregates(w http.ResponseWriter, r *http.Request) {
	aggs, err := h.Aggregates.ListAggregates(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list aggregates", err)
		return
	}

	dtos := make([]AggregateDTO, len(aggs))
	for i, agg := range aggs {
		dtos[i] = AggregateDTO{
			ProductID:            agg.ProductID,
			ProductName:          agg.ProductName,
			Revenue:              agg.Revenue,
			PlatformFees:         agg.Costs.PlatformFees,
			Taxes:                agg.Costs.Taxes,
			AffiliateCommissions: agg.Costs.AffiliateCommissions,
			ProjectedCommissions: agg.Costs.ProjectedCommissions,
			NetProfit:            agg.NetProfit,
			Margin:               agg.Margin,
			SalesCount:           agg.SalesCount,
			UpdatedAt:            agg.UpdatedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListDiscrepancies returns settlement failures awaiting operator review.
func (h *Handler) ListDiscrepancies(w http.ResponseWriter, r *http.Request) {
	ds, err := h.Discrepancies.ListDiscrepancies(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list discrepancies", err)
		return
	}

	dtos := make([]DiscrepancyDTO, len(ds))
	for i, d := range ds {
		dtos[i] = DiscrepancyDTO{
			ID:        d.ID,
			AccountID: string(d.AccountID),
			TxID:      string(d.TxID),
			ToolID:    d.ToolID,
			Credits:   d.Credits,
			Reason:    d.Reason,
			At:        d.At.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListAuditTickets returns OCR-flagged payment audits.
func (h *Handler) ListAuditTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.Tickets.ListTickets(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list tickets", err)
		return
	}

	dtos := make([]AuditTicketDTO, len(tickets))
	for i, t := range tickets {
		dtos[i] = toAuditTicketDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// FlagDispute submits an OCR receipt read; inconsistent or low-confidence
// reads open an audit ticket.
func (h *Handler) FlagDispute(w http.ResponseWriter, r *http.Request) {
	var req FlagDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.PaymentID == "" {
		writeError(w, http.StatusBadRequest, "payment_id is required", nil)
		return
	}

	ticket, err := h.Commission.FlagDispute(r.Context(), req.PaymentID, commission.OCRResult{
		ExtractedAmount: req.ExtractedAmount,
		Confidence:      req.Confidence,
		AuditStatus:     req.AuditStatus,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to flag dispute", err)
		return
	}
	if ticket == nil {
		// Consistent, confident read: nothing to audit.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusCreated, toAuditTicketDTO(*ticket))
}

// =============================================================================
// DTO CONVERSION
// =============================================================================

func toAccountDTO(acc *ledger.Account) AccountDTO {
	return AccountDTO{
		ID:             string(acc.ID),
		Name:           acc.Name,
		Kind:           string(acc.Kind),
		TenantID:       acc.TenantID,
		GlobalBalance:  acc.GlobalBalance,
		Buckets:        acc.Buckets,
		DailyFreeUsed:  acc.DailyFreeUsed,
		DailyFreeLimit: acc.DailyFreeLimit,
		LastResetDate:  acc.LastResetDate,
		CreatedAt:      acc.CreatedAt.Format(time.RFC3339),
	}
}

func toCreditRequestDTO(cr *approval.CreditRequest) CreditRequestDTO {
	dto := CreditRequestDTO{
		ID:          cr.ID,
		AccountID:   string(cr.AccountID),
		RequesterID: cr.RequesterID,
		Amount:      cr.Amount,
		Reason:      cr.Reason,
		Status:      string(cr.Status),
		Feedback:    cr.Feedback,
		CreatedAt:   cr.CreatedAt.Format(time.RFC3339),
		ResolvedBy:  cr.ResolvedBy,
		GrantTxID:   string(cr.GrantTxID),
	}
	if cr.ResolvedAt != nil {
		dto.ResolvedAt = cr.ResolvedAt.Format(time.RFC3339)
	}
	return dto
}

func toWithdrawalDTO(wd *payout.WithdrawalRequest) WithdrawalDTO {
	dto := WithdrawalDTO{
		ID:              wd.ID,
		AccountID:       string(wd.AccountID),
		Amount:          wd.Amount,
		Status:          string(wd.Status),
		PayoutRef:       wd.PayoutRef,
		GatewayPayoutID: wd.GatewayPayoutID,
		ScheduledFor:    wd.ScheduledFor.Format(time.RFC3339),
		RequestedAt:     wd.RequestedAt.Format(time.RFC3339),
		FailureReason:   wd.FailureReason,
	}
	if wd.ProcessedAt != nil {
		dto.ProcessedAt = wd.ProcessedAt.Format(time.RFC3339)
	}
	return dto
}

func toAuditTicketDTO(t commission.AuditTicket) AuditTicketDTO {
	return AuditTicketDTO{
		ID:              t.ID,
		PaymentID:       t.PaymentID,
		Status:          t.Status,
		Issue:           t.Issue,
		ExtractedAmount: t.OCR.ExtractedAmount,
		Confidence:      t.OCR.Confidence,
		AuditStatus:     t.OCR.AuditStatus,
		CreatedAt:       t.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

// writeDomainError maps domain errors to HTTP status and a stable code.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, ledger.ErrQuotaExhausted), errors.Is(err, ledger.ErrTenantQuotaExceeded):
		writeCodedError(w, http.StatusTooManyRequests, "DAILY_LIMIT_EXCEEDED", message, err)
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeCodedError(w, http.StatusPaymentRequired, "INSUFFICIENT_BALANCE", message, err)
	case errors.Is(err, ledger.ErrBelowMinimumWithdrawal):
		writeCodedError(w, http.StatusBadRequest, "BELOW_MINIMUM", message, err)
	case errors.Is(err, ledger.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, ledger.ErrAccountNotFound), errors.Is(err, ledger.ErrRequestNotFound):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, ledger.ErrAccountExists), errors.Is(err, ledger.ErrRequestResolved):
		writeError(w, http.StatusConflict, message, err)
	case errors.Is(err, ledger.ErrDuplicatePayout):
		writeCodedError(w, http.StatusConflict, "DUPLICATE_PAYOUT", message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeCodedError(w http.ResponseWriter, status int, code, message string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
