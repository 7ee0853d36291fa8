/*
Package sqlite provides a SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Persists the four ledger collections (users, expenses, debt records, debt
  payments). In production the same patterns apply to PostgreSQL with minor
  SQL dialect differences.

WRITE CONTRACT:
  - expenses and debt_payments: INSERT only
  - debt_records: INSERT, plus the single guarded UPDATE in MarkPaid
    (active -> paid, version = version + 1 WHERE version = ?)
  - users: upsert (display name, password hash)
  - No DELETE statements

KEY TABLES:
  users:         Group members and their bcrypt password hashes
  expenses:      Immutable expense log
  debt_records:  Per-pair obligations, with parent_id linking remainders
  debt_payments: Immutable settlement log, idempotency_key UNIQUE

ORDERING:
  Timestamps are stored as fixed-width UTC text so that lexical order equals
  chronological order. Lists are ORDER BY created_at DESC, rowid DESC.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single database connection
  (":memory:" databases are per-connection). Inside WithTx every read and
  write goes through the *sql.Tx, so a settlement sees its own writes.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := ledger.New(store)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/debt-ledger/ledger"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
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

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Expenses (append-only)
	CREATE TABLE IF NOT EXISTS expenses (
		id TEXT PRIMARY KEY,
		created_by TEXT NOT NULL REFERENCES users(id),
		created_by_name TEXT NOT NULL,
		amount TEXT NOT NULL,
		description TEXT NOT NULL,
		participants_json TEXT NOT NULL,
		split_amount TEXT NOT NULL,
		expense_type TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_expenses_created_at
		ON expenses(created_at DESC);

	-- Debt records: appended, flipped active -> paid exactly once
	CREATE TABLE IF NOT EXISTS debt_records (
		id TEXT PRIMARY KEY,
		creditor_id TEXT NOT NULL REFERENCES users(id),
		creditor_name TEXT NOT NULL,
		debtor_id TEXT NOT NULL REFERENCES users(id),
		debtor_name TEXT NOT NULL,
		amount TEXT NOT NULL,
		description TEXT NOT NULL,
		expense_id TEXT,
		expense_type TEXT,
		status TEXT NOT NULL CHECK (status IN ('active', 'paid')),
		parent_id TEXT REFERENCES debt_records(id),
		closed_by_payment TEXT,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		paid_at TEXT
	);

	-- Settlement hot path: active records of one pair
	CREATE INDEX IF NOT EXISTS idx_debt_records_pair_status
		ON debt_records(creditor_id, debtor_id, status);
	CREATE INDEX IF NOT EXISTS idx_debt_records_debtor_status
		ON debt_records(debtor_id, status);
	CREATE INDEX IF NOT EXISTS idx_debt_records_created_at
		ON debt_records(created_at DESC);

	-- Payments (append-only)
	CREATE TABLE IF NOT EXISTS debt_payments (
		id TEXT PRIMARY KEY,
		paid_by TEXT NOT NULL REFERENCES users(id),
		paid_by_name TEXT NOT NULL,
		paid_to TEXT NOT NULL REFERENCES users(id),
		paid_to_name TEXT NOT NULL,
		amount TEXT NOT NULL,
		description TEXT NOT NULL,
		debt_record_id TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_debt_payments_created_at
		ON debt_payments(created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER STORE (ledger.Store interface)
// =============================================================================

func (s *Store) SaveUser(ctx context.Context, u ledger.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveUser(ctx, s.db, u)
}

func (s *Store) GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getUser(ctx, s.db, id)
}

func (s *Store) ListUsers(ctx context.Context) ([]ledger.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listUsers(ctx, s.db)
}

func (s *Store) AppendExpense(ctx context.Context, e ledger.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendExpense(ctx, s.db, e)
}

func (s *Store) ListExpenses(ctx context.Context) ([]ledger.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listExpenses(ctx, s.db)
}

// AppendDebtRecords adds multiple records atomically.
func (s *Store) AppendDebtRecords(ctx context.Context, records []ledger.DebtRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := appendDebtRecords(ctx, sqlTx, records); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) GetDebtRecord(ctx context.Context, id ledger.DebtRecordID) (*ledger.DebtRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getDebtRecord(ctx, s.db, id)
}

func (s *Store) ListDebtRecords(ctx context.Context, filter ledger.DebtFilter) ([]ledger.DebtRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listDebtRecords(ctx, s.db, filter)
}

func (s *Store) MarkPaid(ctx context.Context, id ledger.DebtRecordID, expectedVersion int64, closedBy ledger.PaymentID, paidAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return markPaid(ctx, s.db, id, expectedVersion, closedBy, paidAt)
}

func (s *Store) AppendPayment(ctx context.Context, p ledger.DebtPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendPayment(ctx, s.db, p)
}

func (s *Store) GetPaymentByKey(ctx context.Context, key string) (*ledger.DebtPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPaymentByKey(ctx, s.db, key)
}

func (s *Store) ListPayments(ctx context.Context) ([]ledger.DebtPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPayments(ctx, s.db)
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) SaveUser(ctx context.Context, u ledger.User) error {
	return saveUser(ctx, ts.tx, u)
}

func (ts *txStore) GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	return getUser(ctx, ts.tx, id)
}

func (ts *txStore) ListUsers(ctx context.Context) ([]ledger.User, error) {
	return listUsers(ctx, ts.tx)
}

func (ts *txStore) AppendExpense(ctx context.Context, e ledger.Expense) error {
	return appendExpense(ctx, ts.tx, e)
}

func (ts *txStore) ListExpenses(ctx context.Context) ([]ledger.Expense, error) {
	return listExpenses(ctx, ts.tx)
}

func (ts *txStore) AppendDebtRecords(ctx context.Context, records []ledger.DebtRecord) error {
	return appendDebtRecords(ctx, ts.tx, records)
}

func (ts *txStore) GetDebtRecord(ctx context.Context, id ledger.DebtRecordID) (*ledger.DebtRecord, error) {
	return getDebtRecord(ctx, ts.tx, id)
}

func (ts *txStore) ListDebtRecords(ctx context.Context, filter ledger.DebtFilter) ([]ledger.DebtRecord, error) {
	return listDebtRecords(ctx, ts.tx, filter)
}

func (ts *txStore) MarkPaid(ctx context.Context, id ledger.DebtRecordID, expectedVersion int64, closedBy ledger.PaymentID, paidAt time.Time) error {
	return markPaid(ctx, ts.tx, id, expectedVersion, closedBy, paidAt)
}

func (ts *txStore) AppendPayment(ctx context.Context, p ledger.DebtPayment) error {
	return appendPayment(ctx, ts.tx, p)
}

func (ts *txStore) GetPaymentByKey(ctx context.Context, key string) (*ledger.DebtPayment, error) {
	return getPaymentByKey(ctx, ts.tx, key)
}

func (ts *txStore) ListPayments(ctx context.Context) ([]ledger.DebtPayment, error) {
	return listPayments(ctx, ts.tx)
}

// =============================================================================
// USERS
// =============================================================================

func saveUser(ctx context.Context, q querier, u ledger.User) error {
	now := time.Now().UTC()
	createdAt := u.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := u.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	query := `
		INSERT INTO users (id, display_name, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			password_hash = excluded.password_hash,
			updated_at = excluded.updated_at
	`
	_, err := q.ExecContext(ctx, query,
		u.ID, u.DisplayName, u.PasswordHash,
		formatTime(createdAt), formatTime(updatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func getUser(ctx context.Context, q querier, id ledger.UserID) (*ledger.User, error) {
	row := q.QueryRowContext(ctx,
		"SELECT id, display_name, password_hash, created_at, updated_at FROM users WHERE id = ?",
		id,
	)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ledger.NotFoundError{Kind: "user", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func listUsers(ctx context.Context, q querier) ([]ledger.User, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, display_name, password_hash, created_at, updated_at FROM users ORDER BY id",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []ledger.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (ledger.User, error) {
	var u ledger.User
	var createdAt, updatedAt string
	if err := row.Scan(&u.ID, &u.DisplayName, &u.PasswordHash, &createdAt, &updatedAt); err != nil {
		return u, err
	}
	var err error
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return u, fmt.Errorf("failed to parse created_at of user %s: %w", u.ID, err)
	}
	if u.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return u, fmt.Errorf("failed to parse updated_at of user %s: %w", u.ID, err)
	}
	return u, nil
}

// =============================================================================
// EXPENSES
// =============================================================================

func appendExpense(ctx context.Context, q querier, e ledger.Expense) error {
	participants, err := json.Marshal(e.Participants)
	if err != nil {
		return fmt.Errorf("failed to encode participants: %w", err)
	}

	query := `
		INSERT INTO expenses
		(id, created_by, created_by_name, amount, description, participants_json,
		 split_amount, expense_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = q.ExecContext(ctx, query,
		e.ID, e.CreatedBy, e.CreatedByName,
		e.Amount.String(), e.Description, string(participants),
		e.SplitAmount.String(), e.Type, formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append expense: %w", err)
	}
	return nil
}

func listExpenses(ctx context.Context, q querier) ([]ledger.Expense, error) {
	query := `
		SELECT id, created_by, created_by_name, amount, description, participants_json,
		       split_amount, expense_type, created_at
		FROM expenses
		ORDER BY created_at DESC, rowid DESC
	`
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query expenses: %w", err)
	}
	defer rows.Close()

	var expenses []ledger.Expense
	for rows.Next() {
		var (
			e            ledger.Expense
			amount       string
			participants string
			splitAmount  string
			createdAt    string
		)
		err := rows.Scan(&e.ID, &e.CreatedBy, &e.CreatedByName, &amount, &e.Description,
			&participants, &splitAmount, &e.Type, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		if err := json.Unmarshal([]byte(participants), &e.Participants); err != nil {
			return nil, fmt.Errorf("failed to decode participants of %s: %w", e.ID, err)
		}
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("failed to parse amount of %s: %w", e.ID, err)
		}
		if e.SplitAmount, err = decimal.NewFromString(splitAmount); err != nil {
			return nil, fmt.Errorf("failed to parse split amount of %s: %w", e.ID, err)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse created_at of %s: %w", e.ID, err)
		}
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

// =============================================================================
// DEBT RECORDS
// =============================================================================

const debtRecordColumns = `
	id, creditor_id, creditor_name, debtor_id, debtor_name, amount, description,
	expense_id, expense_type, status, parent_id, closed_by_payment, version,
	created_at, paid_at
`

func appendDebtRecords(ctx context.Context, q querier, records []ledger.DebtRecord) error {
	query := `INSERT INTO debt_records (` + debtRecordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	for _, r := range records {
		var paidAt sql.NullString
		if r.PaidAt != nil {
			paidAt = nullString(formatTime(*r.PaidAt))
		}
		_, err := q.ExecContext(ctx, query,
			r.ID, r.Creditor, r.CreditorName, r.Debtor, r.DebtorName,
			r.Amount.String(), r.Description,
			nullString(string(r.ExpenseID)), nullString(string(r.ExpenseType)),
			r.Status, nullString(string(r.ParentID)), nullString(string(r.ClosedBy)),
			r.Version, formatTime(r.CreatedAt), paidAt,
		)
		if err != nil {
			return fmt.Errorf("failed to append debt record %s: %w", r.ID, err)
		}
	}
	return nil
}

func getDebtRecord(ctx context.Context, q querier, id ledger.DebtRecordID) (*ledger.DebtRecord, error) {
	row := q.QueryRowContext(ctx, "SELECT "+debtRecordColumns+" FROM debt_records WHERE id = ?", id)
	r, err := scanDebtRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ledger.NotFoundError{Kind: "debt record", ID: string(id)}
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func listDebtRecords(ctx context.Context, q querier, filter ledger.DebtFilter) ([]ledger.DebtRecord, error) {
	var where []string
	var args []any
	if filter.Creditor != "" {
		where = append(where, "creditor_id = ?")
		args = append(args, filter.Creditor)
	}
	if filter.Debtor != "" {
		where = append(where, "debtor_id = ?")
		args = append(args, filter.Debtor)
	}
	if filter.Involves != "" {
		where = append(where, "(creditor_id = ? OR debtor_id = ?)")
		args = append(args, filter.Involves, filter.Involves)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}

	query := "SELECT " + debtRecordColumns + " FROM debt_records"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query debt records: %w", err)
	}
	defer rows.Close()

	var records []ledger.DebtRecord
	for rows.Next() {
		r, err := scanDebtRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func scanDebtRecord(row scanner) (ledger.DebtRecord, error) {
	var (
		r           ledger.DebtRecord
		amount      string
		expenseID   sql.NullString
		expenseType sql.NullString
		parentID    sql.NullString
		closedBy    sql.NullString
		createdAt   string
		paidAt      sql.NullString
	)
	err := row.Scan(
		&r.ID, &r.Creditor, &r.CreditorName, &r.Debtor, &r.DebtorName, &amount, &r.Description,
		&expenseID, &expenseType, &r.Status, &parentID, &closedBy, &r.Version,
		&createdAt, &paidAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("failed to scan debt record: %w", err)
	}

	if r.Amount, err = decimal.NewFromString(amount); err != nil {
		return r, fmt.Errorf("failed to parse amount of %s: %w", r.ID, err)
	}
	r.ExpenseID = ledger.ExpenseID(expenseID.String)
	r.ExpenseType = ledger.ExpenseType(expenseType.String)
	r.ParentID = ledger.DebtRecordID(parentID.String)
	r.ClosedBy = ledger.PaymentID(closedBy.String)
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return r, fmt.Errorf("failed to parse created_at of %s: %w", r.ID, err)
	}
	if paidAt.Valid {
		t, err := parseTime(paidAt.String)
		if err != nil {
			return r, fmt.Errorf("failed to parse paid_at of %s: %w", r.ID, err)
		}
		r.PaidAt = &t
	}
	return r, nil
}

// markPaid is the only UPDATE on debt_records. The version and status guards
// make a second flip of the same record impossible.
func markPaid(ctx context.Context, q querier, id ledger.DebtRecordID, expectedVersion int64, closedBy ledger.PaymentID, paidAt time.Time) error {
	query := `
		UPDATE debt_records
		SET status = 'paid', closed_by_payment = ?, paid_at = ?, version = version + 1
		WHERE id = ? AND version = ? AND status = 'active'
	`
	result, err := q.ExecContext(ctx, query, closedBy, formatTime(paidAt), id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to mark debt record paid: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = q.QueryRowContext(ctx, "SELECT COUNT(*) FROM debt_records WHERE id = ?", id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check debt record: %w", err)
	}
	if exists == 0 {
		return &ledger.NotFoundError{Kind: "debt record", ID: string(id)}
	}
	return ledger.ErrConcurrentModification
}

// =============================================================================
// PAYMENTS
// =============================================================================

const paymentColumns = `
	id, paid_by, paid_by_name, paid_to, paid_to_name, amount, description,
	debt_record_id, idempotency_key, created_at
`

func appendPayment(ctx context.Context, q querier, p ledger.DebtPayment) error {
	query := `INSERT INTO debt_payments (` + paymentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := q.ExecContext(ctx, query,
		p.ID, p.PaidBy, p.PaidByName, p.PaidTo, p.PaidToName,
		p.Amount.String(), p.Description,
		nullString(string(p.DebtRecordID)), nullString(p.IdempotencyKey),
		formatTime(p.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) && p.IdempotencyKey != "" {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append payment: %w", err)
	}
	return nil
}

func getPaymentByKey(ctx context.Context, q querier, key string) (*ledger.DebtPayment, error) {
	if key == "" {
		return nil, nil
	}
	row := q.QueryRowContext(ctx, "SELECT "+paymentColumns+" FROM debt_payments WHERE idempotency_key = ?", key)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func listPayments(ctx context.Context, q querier) ([]ledger.DebtPayment, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT "+paymentColumns+" FROM debt_payments ORDER BY created_at DESC, rowid DESC",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []ledger.DebtPayment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func scanPayment(row scanner) (ledger.DebtPayment, error) {
	var (
		p              ledger.DebtPayment
		amount         string
		debtRecordID   sql.NullString
		idempotencyKey sql.NullString
		createdAt      string
	)
	err := row.Scan(
		&p.ID, &p.PaidBy, &p.PaidByName, &p.PaidTo, &p.PaidToName, &amount, &p.Description,
		&debtRecordID, &idempotencyKey, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("failed to scan payment: %w", err)
	}
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return p, fmt.Errorf("failed to parse amount of %s: %w", p.ID, err)
	}
	p.DebtRecordID = ledger.DebtRecordID(debtRecordID.String)
	p.IdempotencyKey = idempotencyKey.String
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return p, fmt.Errorf("failed to parse created_at of %s: %w", p.ID, err)
	}
	return p, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
