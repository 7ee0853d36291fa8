// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/debt-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	users       map[ledger.UserID]ledger.User
	expenses    []ledger.Expense
	records     []ledger.DebtRecord
	recordIndex map[ledger.DebtRecordID]int
	payments    []ledger.DebtPayment
	idempotency map[string]int // key -> index into payments
}

func NewMemory() *Memory {
	return &Memory{
		users:       make(map[ledger.UserID]ledger.User),
		recordIndex: make(map[ledger.DebtRecordID]int),
		idempotency: make(map[string]int),
	}
}

func (m *Memory) SaveUser(_ context.Context, u ledger.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveUserLocked(u)
}

func (m *Memory) GetUser(_ context.Context, id ledger.UserID) (*ledger.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getUserLocked(id)
}

func (m *Memory) ListUsers(_ context.Context) ([]ledger.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listUsersLocked(), nil
}

func (m *Memory) AppendExpense(_ context.Context, e ledger.Expense) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendExpenseLocked(e)
}

func (m *Memory) ListExpenses(_ context.Context) ([]ledger.Expense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listExpensesLocked(), nil
}

// AppendDebtRecords adds multiple records atomically.
func (m *Memory) AppendDebtRecords(_ context.Context, records []ledger.DebtRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendRecordsLocked(records)
}

func (m *Memory) GetDebtRecord(_ context.Context, id ledger.DebtRecordID) (*ledger.DebtRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getRecordLocked(id)
}

func (m *Memory) ListDebtRecords(_ context.Context, filter ledger.DebtFilter) ([]ledger.DebtRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listRecordsLocked(filter), nil
}

func (m *Memory) MarkPaid(_ context.Context, id ledger.DebtRecordID, expectedVersion int64, closedBy ledger.PaymentID, paidAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markPaidLocked(id, expectedVersion, closedBy, paidAt)
}

func (m *Memory) AppendPayment(_ context.Context, p ledger.DebtPayment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendPaymentLocked(p)
}

func (m *Memory) GetPaymentByKey(_ context.Context, key string) (*ledger.DebtPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paymentByKeyLocked(key), nil
}

func (m *Memory) ListPayments(_ context.Context) ([]ledger.DebtPayment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPaymentsLocked(), nil
}

// =============================================================================
// LOCKED INTERNALS - caller holds m.mu
// =============================================================================

func (m *Memory) saveUserLocked(u ledger.User) error {
	if existing, ok := m.users[u.ID]; ok && u.CreatedAt.IsZero() {
		u.CreatedAt = existing.CreatedAt
	}
	m.users[u.ID] = u
	return nil
}

func (m *Memory) getUserLocked(id ledger.UserID) (*ledger.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, &ledger.NotFoundError{Kind: "user", ID: string(id)}
	}
	return &u, nil
}

func (m *Memory) listUsersLocked() []ledger.User {
	out := make([]ledger.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Memory) appendExpenseLocked(e ledger.Expense) error {
	e.Participants = append([]ledger.UserID(nil), e.Participants...)
	m.expenses = append(m.expenses, e)
	return nil
}

func (m *Memory) listExpensesLocked() []ledger.Expense {
	out := make([]ledger.Expense, 0, len(m.expenses))
	for i := len(m.expenses) - 1; i >= 0; i-- {
		e := m.expenses[i]
		e.Participants = append([]ledger.UserID(nil), e.Participants...)
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *Memory) appendRecordsLocked(records []ledger.DebtRecord) error {
	for _, r := range records {
		if _, exists := m.recordIndex[r.ID]; exists {
			return &ledger.ValidationError{Field: "id", Message: "duplicate debt record id " + string(r.ID)}
		}
	}
	for _, r := range records {
		m.recordIndex[r.ID] = len(m.records)
		m.records = append(m.records, r)
	}
	return nil
}

func (m *Memory) getRecordLocked(id ledger.DebtRecordID) (*ledger.DebtRecord, error) {
	i, ok := m.recordIndex[id]
	if !ok {
		return nil, &ledger.NotFoundError{Kind: "debt record", ID: string(id)}
	}
	r := m.records[i]
	return &r, nil
}

func (m *Memory) listRecordsLocked(filter ledger.DebtFilter) []ledger.DebtRecord {
	var out []ledger.DebtRecord
	for i := len(m.records) - 1; i >= 0; i-- {
		if filter.Match(m.records[i]) {
			out = append(out, m.records[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *Memory) markPaidLocked(id ledger.DebtRecordID, expectedVersion int64, closedBy ledger.PaymentID, paidAt time.Time) error {
	i, ok := m.recordIndex[id]
	if !ok {
		return &ledger.NotFoundError{Kind: "debt record", ID: string(id)}
	}
	r := m.records[i]
	if r.Version != expectedVersion || !r.IsActive() {
		return ledger.ErrConcurrentModification
	}
	r.Status = ledger.StatusPaid
	r.ClosedBy = closedBy
	r.PaidAt = &paidAt
	r.Version++
	m.records[i] = r
	return nil
}

func (m *Memory) appendPaymentLocked(p ledger.DebtPayment) error {
	if p.IdempotencyKey != "" {
		if _, exists := m.idempotency[p.IdempotencyKey]; exists {
			return ledger.ErrDuplicateIdempotencyKey
		}
		m.idempotency[p.IdempotencyKey] = len(m.payments)
	}
	m.payments = append(m.payments, p)
	return nil
}

func (m *Memory) paymentByKeyLocked(key string) *ledger.DebtPayment {
	i, ok := m.idempotency[key]
	if !ok || key == "" {
		return nil
	}
	p := m.payments[i]
	return &p
}

func (m *Memory) listPaymentsLocked() []ledger.DebtPayment {
	out := make([]ledger.DebtPayment, 0, len(m.payments))
	for i := len(m.payments) - 1; i >= 0; i-- {
		out = append(out, m.payments[i])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// Transactions are serialized by the store mutex.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	view := &txMemoryView{parent: tm.Memory}

	if err := fn(view); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	users       map[ledger.UserID]ledger.User
	expenses    []ledger.Expense
	records     []ledger.DebtRecord
	recordIndex map[ledger.DebtRecordID]int
	payments    []ledger.DebtPayment
	idempotency map[string]int
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		users:       make(map[ledger.UserID]ledger.User, len(tm.users)),
		expenses:    append([]ledger.Expense(nil), tm.expenses...),
		records:     append([]ledger.DebtRecord(nil), tm.records...),
		recordIndex: make(map[ledger.DebtRecordID]int, len(tm.recordIndex)),
		payments:    append([]ledger.DebtPayment(nil), tm.payments...),
		idempotency: make(map[string]int, len(tm.idempotency)),
	}
	for k, v := range tm.users {
		s.users[k] = v
	}
	for k, v := range tm.recordIndex {
		s.recordIndex[k] = v
	}
	for k, v := range tm.idempotency {
		s.idempotency[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.users = s.users
	tm.expenses = s.expenses
	tm.records = s.records
	tm.recordIndex = s.recordIndex
	tm.payments = s.payments
	tm.idempotency = s.idempotency
}

// txMemoryView is the Store handed to WithTx callbacks. The parent lock is
// already held, so it calls the locked internals directly.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) SaveUser(_ context.Context, u ledger.User) error {
	return tv.parent.saveUserLocked(u)
}

func (tv *txMemoryView) GetUser(_ context.Context, id ledger.UserID) (*ledger.User, error) {
	return tv.parent.getUserLocked(id)
}

func (tv *txMemoryView) ListUsers(_ context.Context) ([]ledger.User, error) {
	return tv.parent.listUsersLocked(), nil
}

func (tv *txMemoryView) AppendExpense(_ context.Context, e ledger.Expense) error {
	return tv.parent.appendExpenseLocked(e)
}

func (tv *txMemoryView) ListExpenses(_ context.Context) ([]ledger.Expense, error) {
	return tv.parent.listExpensesLocked(), nil
}

func (tv *txMemoryView) AppendDebtRecords(_ context.Context, records []ledger.DebtRecord) error {
	return tv.parent.appendRecordsLocked(records)
}

func (tv *txMemoryView) GetDebtRecord(_ context.Context, id ledger.DebtRecordID) (*ledger.DebtRecord, error) {
	return tv.parent.getRecordLocked(id)
}

func (tv *txMemoryView) ListDebtRecords(_ context.Context, filter ledger.DebtFilter) ([]ledger.DebtRecord, error) {
	return tv.parent.listRecordsLocked(filter), nil
}

func (tv *txMemoryView) MarkPaid(_ context.Context, id ledger.DebtRecordID, expectedVersion int64, closedBy ledger.PaymentID, paidAt time.Time) error {
	return tv.parent.markPaidLocked(id, expectedVersion, closedBy, paidAt)
}

func (tv *txMemoryView) AppendPayment(_ context.Context, p ledger.DebtPayment) error {
	return tv.parent.appendPaymentLocked(p)
}

func (tv *txMemoryView) GetPaymentByKey(_ context.Context, key string) (*ledger.DebtPayment, error) {
	return tv.parent.paymentByKeyLocked(key), nil
}

func (tv *txMemoryView) ListPayments(_ context.Context) ([]ledger.DebtPayment, error) {
	return tv.parent.listPaymentsLocked(), nil
}
