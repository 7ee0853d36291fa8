/*
store.go - Persistence interface for the ledger collections

PURPOSE:
  Defines the boundary between the engine and the database. Four logical
  collections: users, expenses, debt records, debt payments.

WRITE CONTRACT:
  - Expenses and payments are append-only.
  - Debt records are appended, and the ONLY in-place update is the
    active -> paid flip (MarkPaid), guarded by the record's version.
  - Nothing is ever deleted.

ORDERING:
  Every List* method returns records newest first (CreatedAt descending).
  Records with equal CreatedAt come back in reverse insertion order, so the
  order is stable across calls.

ATOMICITY:
  TxStore.WithTx runs a read-compute-write sequence in one transaction. A
  settlement touches N records plus one payment. Either all of them are
  written or none are.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - ledger/store/memory.go: In-memory for tests and dev
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE
// =============================================================================

// Store persists users, expenses, debt records and payments.
type Store interface {
	// SaveUser inserts or updates a user (display name, password hash).
	SaveUser(ctx context.Context, u User) error

	// GetUser returns a *NotFoundError when the user does not exist.
	GetUser(ctx context.Context, id UserID) (*User, error)

	// ListUsers returns all users ordered by id.
	ListUsers(ctx context.Context) ([]User, error)

	// AppendExpense persists a new expense.
	AppendExpense(ctx context.Context, e Expense) error

	// ListExpenses returns all expenses, newest first.
	ListExpenses(ctx context.Context) ([]Expense, error)

	// AppendDebtRecords persists new debt records.
	AppendDebtRecords(ctx context.Context, records []DebtRecord) error

	// GetDebtRecord returns a *NotFoundError when the record does not exist.
	GetDebtRecord(ctx context.Context, id DebtRecordID) (*DebtRecord, error)

	// ListDebtRecords returns matching records, newest first.
	ListDebtRecords(ctx context.Context, filter DebtFilter) ([]DebtRecord, error)

	// MarkPaid flips an active record to paid if its version still equals
	// expectedVersion, incrementing the version. Returns
	// ErrConcurrentModification otherwise.
	MarkPaid(ctx context.Context, id DebtRecordID, expectedVersion int64, closedBy PaymentID, paidAt time.Time) error

	// AppendPayment persists a payment. Returns ErrDuplicateIdempotencyKey if
	// a payment with the same non-empty key exists.
	AppendPayment(ctx context.Context, p DebtPayment) error

	// GetPaymentByKey returns (nil, nil) when no payment carries the key.
	GetPaymentByKey(ctx context.Context, key string) (*DebtPayment, error)

	// ListPayments returns all payments, newest first.
	ListPayments(ctx context.Context) ([]DebtPayment, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
