/*
store.go - Persistence interfaces for accounts and the transaction log

PURPOSE:
  Defines the interface between the ledger and the database. The
  transaction log is APPEND-ONLY: no Update, no Delete, ever. Corrections
  are made via compensating transactions.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite (WAL)
  - store/memory: in-memory for tests and dev
*/
package ledger

import "context"

// AccountStore persists current account state.
type AccountStore interface {
	// GetAccount returns a copy of the account, or ErrAccountNotFound.
	GetAccount(ctx context.Context, id AccountID) (*Account, error)

	// SaveAccount upserts the account state.
	SaveAccount(ctx context.Context, acc *Account) error

	// ListAccounts returns all accounts.
	ListAccounts(ctx context.Context) ([]*Account, error)
}

// TransactionStore persists the append-only transaction log.
type TransactionStore interface {
	// AppendTransactions appends atomically: all or none.
	// This is the ONLY write operation on the log.
	AppendTransactions(ctx context.Context, txs []Transaction) error

	// TransactionsByAccount returns the account's full log in append order.
	TransactionsByAccount(ctx context.Context, id AccountID) ([]Transaction, error)
}

// Store combines everything the ledger Service needs.
type Store interface {
	AccountStore
	TransactionStore

	// CommitChange persists the new account state and the transactions the
	// same mutation produced, atomically: either both land or neither.
	CommitChange(ctx context.Context, acc *Account, txs []Transaction) error
}
