/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements all persistence interfaces (ledger.Store, quota.TenantUsageStore,
  commission.AggregateStore, approval.RequestStore, payout.RequestStore)
  using SQLite. In production, the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  The Store enforces append-only semantics on the transaction log:
  - No UPDATE statements on transactions table
  - No DELETE statements on transactions table
  - Corrections via compensating transactions only

KEY TABLES:
  accounts:             Current wallet state per account
  transactions:         Immutable ledger of all balance changes
  tenant_usage:         Per-tenant, per-day consumption counters
  product_ledgers:      Financial aggregates per product
  credit_requests:      Approval workflow records
  withdrawal_requests:  Payout batching records
  discrepancies:        Settlement failures awaiting operator review
  audit_tickets:        OCR-flagged payment audits

CONCURRENCY:
  Uses sync.RWMutex for thread-safety plus a single SQL connection, so the
  in-memory variant stays coherent under concurrent tests. In production
  with PostgreSQL, database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/credits.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := ledger.NewService(store, logger)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Core interface definitions
  - ledger/service.go: Higher-level ledger using Store
  - store/memory/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/credit-engine/approval"
	"github.com/warp/credit-engine/commission"
	"github.com/warp/credit-engine/ledger"
	"github.com/warp/credit-engine/payout"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ ledger.Store              = (*Store)(nil)
	_ approval.RequestStore     = (*Store)(nil)
	_ payout.RequestStore       = (*Store)(nil)
	_ commission.AggregateStore = (*Store)(nil)
)

// New creates a SQLite store. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps :memory: databases from evaporating when
	// the pool opens a second connection.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		tenant_id TEXT NOT NULL DEFAULT '',
		global_balance INTEGER NOT NULL DEFAULT 0,
		buckets_json TEXT NOT NULL DEFAULT '{}',
		daily_free_used INTEGER NOT NULL DEFAULT 0,
		daily_free_limit INTEGER NOT NULL DEFAULT 0,
		last_reset_date TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (global_balance >= 0)
	);

	-- Append-only; rowid preserves insertion order.
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		kind TEXT NOT NULL,
		category TEXT,
		tool_id TEXT,
		pocket TEXT NOT NULL,
		description TEXT,
		reference_id TEXT,
		balance_snapshot INTEGER NOT NULL,
		timestamp TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_account
		ON transactions(account_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_reference
		ON transactions(reference_id) WHERE reference_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_kind
		ON transactions(kind);

	CREATE TABLE IF NOT EXISTS tenant_usage (
		tenant_id TEXT NOT NULL,
		day TEXT NOT NULL,
		used INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (tenant_id, day)
	);

	-- Monetary columns hold decimal strings, never floats.
	CREATE TABLE IF NOT EXISTS product_ledgers (
		product_id TEXT PRIMARY KEY,
		product_name TEXT NOT NULL DEFAULT '',
		revenue TEXT NOT NULL DEFAULT '0',
		platform_fees TEXT NOT NULL DEFAULT '0',
		taxes TEXT NOT NULL DEFAULT '0',
		affiliate_commissions TEXT NOT NULL DEFAULT '0',
		projected_commissions TEXT NOT NULL DEFAULT '0',
		net_profit TEXT NOT NULL DEFAULT '0',
		margin TEXT NOT NULL DEFAULT '0',
		sales_count INTEGER NOT NULL DEFAULT 0,
		refund_count INTEGER NOT NULL DEFAULT 0,
		chargeback_count INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS credit_requests (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		requester_id TEXT NOT NULL DEFAULT '',
		amount INTEGER NOT NULL,
		reason TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		feedback TEXT,
		created_at TEXT NOT NULL,
		resolved_at TEXT,
		resolved_by TEXT,
		grant_tx_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_credit_requests_status
		ON credit_requests(status);

	CREATE TABLE IF NOT EXISTS withdrawal_requests (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		payout_ref TEXT NOT NULL UNIQUE,
		gateway_payout_id TEXT,
		scheduled_for TEXT NOT NULL,
		requested_at TEXT NOT NULL,
		processed_at TEXT,
		failure_reason TEXT,
		lock_tx_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_withdrawals_status
		ON withdrawal_requests(status);

	CREATE TABLE IF NOT EXISTS discrepancies (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		tx_id TEXT NOT NULL,
		tool_id TEXT,
		credits INTEGER NOT NULL,
		reason TEXT NOT NULL,
		at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS audit_tickets (
		id TEXT PRIMARY KEY,
		payment_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'open',
		issue TEXT NOT NULL,
		extracted_amount TEXT NOT NULL DEFAULT '0',
		confidence REAL NOT NULL DEFAULT 0,
		audit_status TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ACCOUNTS (ledger.AccountStore)
// =============================================================================

func (s *Store) GetAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, kind, tenant_id, global_balance, buckets_json,
		       daily_free_used, daily_free_limit, last_reset_date, created_at, updated_at
		FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

func (s *Store) SaveAccount(ctx context.Context, acc *ledger.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return upsertAccount(ctx, s.db, acc)
}

func (s *Store) ListAccounts(ctx context.Context) ([]*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, kind, tenant_id, global_balance, buckets_json,
		       daily_free_used, daily_free_limit, last_reset_date, created_at, updated_at
		FROM accounts ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var out []*ledger.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

// scannable covers both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanAccount(row scannable) (*ledger.Account, error) {
	var acc ledger.Account
	var bucketsJSON, createdAt, updatedAt string
	err := row.Scan(&acc.ID, &acc.Name, &acc.Kind, &acc.TenantID, &acc.GlobalBalance,
		&bucketsJSON, &acc.DailyFreeUsed, &acc.DailyFreeLimit, &acc.LastResetDate,
		&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	if err := json.Unmarshal([]byte(bucketsJSON), &acc.Buckets); err != nil {
		return nil, fmt.Errorf("corrupt buckets for account %s: %w", acc.ID, err)
	}
	acc.CreatedAt = parseTime(createdAt)
	acc.UpdatedAt = parseTime(updatedAt)
	return &acc, nil
}

// execer lets account/transaction writers run inside or outside a sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertAccount(ctx context.Context, db execer, acc *ledger.Account) error {
	buckets := acc.Buckets
	if buckets == nil {
		buckets = map[string]int64{}
	}
	bucketsJSON, err := json.Marshal(buckets)
	if err != nil {
		return fmt.Errorf("failed to encode buckets: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO accounts
		(id, name, kind, tenant_id, global_balance, buckets_json,
		 daily_free_used, daily_free_limit, last_reset_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			tenant_id = excluded.tenant_id,
			global_balance = excluded.global_balance,
			buckets_json = excluded.buckets_json,
			daily_free_used = excluded.daily_free_used,
			daily_free_limit = excluded.daily_free_limit,
			last_reset_date = excluded.last_reset_date,
			updated_at = excluded.updated_at`,
		acc.ID, acc.Name, acc.Kind, acc.TenantID, acc.GlobalBalance, string(bucketsJSON),
		acc.DailyFreeUsed, acc.DailyFreeLimit, acc.LastResetDate,
		formatTime(acc.CreatedAt), formatTime(acc.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// =============================================================================
// TRANSACTIONS (ledger.TransactionStore)
// =============================================================================

func (s *Store) AppendTransactions(ctx context.Context, txs []ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, tx := range txs {
		if err := insertTransaction(ctx, sqlTx, tx); err != nil {
			return err
		}
	}
	return sqlTx.Commit()
}

func insertTransaction(ctx context.Context, db execer, tx ledger.Transaction) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO transactions
		(id, account_id, amount, kind, category, tool_id, pocket,
		 description, reference_id, balance_snapshot, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.AccountID, tx.Amount, tx.Kind, nullString(tx.Category),
		nullString(tx.ToolID), tx.Pocket, nullString(tx.Description),
		nullString(tx.ReferenceID), tx.BalanceSnapshot, formatTime(tx.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (s *Store) TransactionsByAccount(ctx context.Context, id ledger.AccountID) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, amount, kind, category, tool_id, pocket,
		       description, reference_id, balance_snapshot, timestamp
		FROM transactions
		WHERE account_id = ?
		ORDER BY rowid ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		var tx ledger.Transaction
		var category, toolID, description, reference sql.NullString
		var ts string
		if err := rows.Scan(&tx.ID, &tx.AccountID, &tx.Amount, &tx.Kind, &category,
			&toolID, &tx.Pocket, &description, &reference, &tx.BalanceSnapshot, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.Category = category.String
		tx.ToolID = toolID.String
		tx.Description = description.String
		tx.ReferenceID = reference.String
		tx.Timestamp = parseTime(ts)
		out = append(out, tx)
	}
	return out, rows.Err()
}

// CommitChange saves the account state and appends its transactions inside a
// single SQL transaction: either both land or neither does.
func (s *Store) CommitChange(ctx context.Context, acc *ledger.Account, txs []ledger.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := upsertAccount(ctx, sqlTx, acc); err != nil {
		return err
	}
	for _, tx := range txs {
		if err := insertTransaction(ctx, sqlTx, tx); err != nil {
			return err
		}
	}
	return sqlTx.Commit()
}

// =============================================================================
// TENANT USAGE (quota.TenantUsageStore)
// =============================================================================

func (s *Store) TenantUsage(ctx context.Context, tenantID, day string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var used int64
	err := s.db.QueryRowContext(ctx,
		"SELECT used FROM tenant_usage WHERE tenant_id = ? AND day = ?",
		tenantID, day).Scan(&used)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return used, err
}

func (s *Store) SaveTenantUsage(ctx context.Context, tenantID, day string, used int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenant_usage (tenant_id, day, used) VALUES (?, ?, ?)
		ON CONFLICT(tenant_id, day) DO UPDATE SET used = excluded.used`,
		tenantID, day, used)
	return err
}

// =============================================================================
// PRODUCT AGGREGATES (commission.AggregateStore)
// =============================================================================

func (s *Store) GetAggregate(ctx context.Context, productID string) (*commission.ProductAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT product_id, product_name, revenue, platform_fees, taxes,
		       affiliate_commissions, projected_commissions, net_profit, margin,
		       sales_count, refund_count, chargeback_count, updated_at
		FROM product_ledgers WHERE product_id = ?`, productID)

	agg, err := scanAggregate(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return agg, err
}

func (s *Store) ListAggregates(ctx context.Context) ([]*commission.ProductAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, product_name, revenue, platform_fees, taxes,
		       affiliate_commissions, projected_commissions, net_profit, margin,
		       sales_count, refund_count, chargeback_count, updated_at
		FROM product_ledgers ORDER BY product_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query aggregates: %w", err)
	}
	defer rows.Close()

	var out []*commission.ProductAggregate
	for rows.Next() {
		agg, err := scanAggregate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, agg)
	}
	return out, rows.Err()
}

func scanAggregate(row scannable) (*commission.ProductAggregate, error) {
	var agg commission.ProductAggregate
	var revenue, fees, taxes, affiliate, projected, netProfit, margin, updatedAt string
	err := row.Scan(&agg.ProductID, &agg.ProductName, &revenue, &fees, &taxes,
		&affiliate, &projected, &netProfit, &margin,
		&agg.SalesCount, &agg.RefundCount, &agg.ChargebackCount, &updatedAt)
	if err != nil {
		return nil, err
	}
	agg.Revenue = parseDecimal(revenue)
	agg.Costs.PlatformFees = parseDecimal(fees)
	agg.Costs.Taxes = parseDecimal(taxes)
	agg.Costs.AffiliateCommissions = parseDecimal(affiliate)
	agg.Costs.ProjectedCommissions = parseDecimal(projected)
	agg.NetProfit = parseDecimal(netProfit)
	agg.Margin = parseDecimal(margin)
	agg.UpdatedAt = parseTime(updatedAt)
	return &agg, nil
}

func (s *Store) SaveAggregate(ctx context.Context, agg *commission.ProductAggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO product_ledgers
		(product_id, product_name, revenue, platform_fees, taxes,
		 affiliate_commissions, projected_commissions, net_profit, margin,
		 sales_count, refund_count, chargeback_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(product_id) DO UPDATE SET
			product_name = excluded.product_name,
			revenue = excluded.revenue,
			platform_fees = excluded.platform_fees,
			taxes = excluded.taxes,
			affiliate_commissions = excluded.affiliate_commissions,
			projected_commissions = excluded.projected_commissions,
			net_profit = excluded.net_profit,
			margin = excluded.margin,
			sales_count = excluded.sales_count,
			refund_count = excluded.refund_count,
			chargeback_count = excluded.chargeback_count,
			updated_at = excluded.updated_at`,
		agg.ProductID, agg.ProductName, agg.Revenue.String(),
		agg.Costs.PlatformFees.String(), agg.Costs.Taxes.String(),
		agg.Costs.AffiliateCommissions.String(), agg.Costs.ProjectedCommissions.String(),
		agg.NetProfit.String(), agg.Margin.String(),
		agg.SalesCount, agg.RefundCount, agg.ChargebackCount, formatTime(agg.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save aggregate: %w", err)
	}
	return nil
}

// =============================================================================
// DISCREPANCIES (commission.DiscrepancyQueue)
// =============================================================================

func (s *Store) PushDiscrepancy(ctx context.Context, d commission.Discrepancy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO discrepancies (id, account_id, tx_id, tool_id, credits, reason, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.AccountID, d.TxID, nullString(d.ToolID), d.Credits, d.Reason, formatTime(d.At))
	return err
}

func (s *Store) ListDiscrepancies(ctx context.Context) ([]commission.Discrepancy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, tx_id, tool_id, credits, reason, at
		FROM discrepancies ORDER BY rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []commission.Discrepancy
	for rows.Next() {
		var d commission.Discrepancy
		var toolID sql.NullString
		var at string
		if err := rows.Scan(&d.ID, &d.AccountID, &d.TxID, &toolID, &d.Credits, &d.Reason, &at); err != nil {
			return nil, err
		}
		d.ToolID = toolID.String
		d.At = parseTime(at)
		out = append(out, d)
	}
	return out, rows.Err()
}

// =============================================================================
// AUDIT TICKETS (commission.TicketStore)
// =============================================================================

func (s *Store) SaveTicket(ctx context.Context, t commission.AuditTicket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_tickets
		(id, payment_id, status, issue, extracted_amount, confidence, audit_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status`,
		t.ID, t.PaymentID, t.Status, t.Issue, t.OCR.ExtractedAmount.String(),
		t.OCR.Confidence, t.OCR.AuditStatus, formatTime(t.CreatedAt))
	return err
}

func (s *Store) ListTickets(ctx context.Context) ([]commission.AuditTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payment_id, status, issue, extracted_amount, confidence, audit_status, created_at
		FROM audit_tickets ORDER BY rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []commission.AuditTicket
	for rows.Next() {
		var t commission.AuditTicket
		var amount, createdAt string
		if err := rows.Scan(&t.ID, &t.PaymentID, &t.Status, &t.Issue, &amount,
			&t.OCR.Confidence, &t.OCR.AuditStatus, &createdAt); err != nil {
			return nil, err
		}
		t.OCR.ExtractedAmount = parseDecimal(amount)
		t.CreatedAt = parseTime(createdAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

// =============================================================================
// CREDIT REQUESTS (approval.RequestStore)
// =============================================================================

func (s *Store) GetCreditRequest(ctx context.Context, id string) (*approval.CreditRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, requester_id, amount, reason, status, feedback,
		       created_at, resolved_at, resolved_by, grant_tx_id
		FROM credit_requests WHERE id = ?`, id)

	req, err := scanCreditRequest(row)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrRequestNotFound
	}
	return req, err
}

func (s *Store) SaveCreditRequest(ctx context.Context, req *approval.CreditRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var resolvedAt any
	if req.ResolvedAt != nil {
		resolvedAt = formatTime(*req.ResolvedAt)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credit_requests
		(id, account_id, requester_id, amount, reason, status, feedback,
		 created_at, resolved_at, resolved_by, grant_tx_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			feedback = excluded.feedback,
			resolved_at = excluded.resolved_at,
			resolved_by = excluded.resolved_by,
			grant_tx_id = excluded.grant_tx_id`,
		req.ID, req.AccountID, req.RequesterID, req.Amount, nullString(req.Reason),
		req.Status, nullString(req.Feedback), formatTime(req.CreatedAt), resolvedAt,
		nullString(req.ResolvedBy), nullString(string(req.GrantTxID)))
	return err
}

func (s *Store) ListCreditRequests(ctx context.Context, status approval.Status) ([]*approval.CreditRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, account_id, requester_id, amount, reason, status, feedback,
		       created_at, resolved_at, resolved_by, grant_tx_id
		FROM credit_requests`
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*approval.CreditRequest
	for rows.Next() {
		req, err := scanCreditRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func scanCreditRequest(row scannable) (*approval.CreditRequest, error) {
	var req approval.CreditRequest
	var reason, feedback, resolvedAt, resolvedBy, grantTxID sql.NullString
	var createdAt string
	err := row.Scan(&req.ID, &req.AccountID, &req.RequesterID, &req.Amount, &reason,
		&req.Status, &feedback, &createdAt, &resolvedAt, &resolvedBy, &grantTxID)
	if err != nil {
		return nil, err
	}
	req.Reason = reason.String
	req.Feedback = feedback.String
	req.ResolvedBy = resolvedBy.String
	req.GrantTxID = ledger.TransactionID(grantTxID.String)
	req.CreatedAt = parseTime(createdAt)
	if resolvedAt.Valid {
		t := parseTime(resolvedAt.String)
		req.ResolvedAt = &t
	}
	return &req, nil
}

// =============================================================================
// WITHDRAWAL REQUESTS (payout.RequestStore)
// =============================================================================

func (s *Store) GetWithdrawal(ctx context.Context, id string) (*payout.WithdrawalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, amount, status, payout_ref, gateway_payout_id,
		       scheduled_for, requested_at, processed_at, failure_reason, lock_tx_id
		FROM withdrawal_requests WHERE id = ?`, id)

	req, err := scanWithdrawal(row)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrRequestNotFound
	}
	return req, err
}

func (s *Store) SaveWithdrawal(ctx context.Context, req *payout.WithdrawalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var processedAt any
	if req.ProcessedAt != nil {
		processedAt = formatTime(*req.ProcessedAt)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO withdrawal_requests
		(id, account_id, amount, status, payout_ref, gateway_payout_id,
		 scheduled_for, requested_at, processed_at, failure_reason, lock_tx_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			gateway_payout_id = excluded.gateway_payout_id,
			processed_at = excluded.processed_at,
			failure_reason = excluded.failure_reason`,
		req.ID, req.AccountID, req.Amount, req.Status, req.PayoutRef,
		nullString(req.GatewayPayoutID), formatTime(req.ScheduledFor),
		formatTime(req.RequestedAt), processedAt, nullString(req.FailureReason),
		nullString(string(req.LockTxID)))
	return err
}

func (s *Store) ListWithdrawals(ctx context.Context, statuses ...payout.Status) ([]*payout.WithdrawalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, account_id, amount, status, payout_ref, gateway_payout_id,
		       scheduled_for, requested_at, processed_at, failure_reason, lock_tx_id
		FROM withdrawal_requests`
	var args []any
	if len(statuses) > 0 {
		query += " WHERE status IN (?" + placeholderTail(len(statuses)-1) + ")"
		for _, st := range statuses {
			args = append(args, st)
		}
	}
	query += " ORDER BY requested_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*payout.WithdrawalRequest
	for rows.Next() {
		req, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func scanWithdrawal(row scannable) (*payout.WithdrawalRequest, error) {
	var req payout.WithdrawalRequest
	var gatewayID, processedAt, failure, lockTxID sql.NullString
	var scheduledFor, requestedAt string
	err := row.Scan(&req.ID, &req.AccountID, &req.Amount, &req.Status, &req.PayoutRef,
		&gatewayID, &scheduledFor, &requestedAt, &processedAt, &failure, &lockTxID)
	if err != nil {
		return nil, err
	}
	req.GatewayPayoutID = gatewayID.String
	req.FailureReason = failure.String
	req.LockTxID = ledger.TransactionID(lockTxID.String)
	req.ScheduledFor = parseTime(scheduledFor)
	req.RequestedAt = parseTime(requestedAt)
	if processedAt.Valid {
		t := parseTime(processedAt.String)
		req.ProcessedAt = &t
	}
	return &req, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func placeholderTail(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ",?"
	}
	return out
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
