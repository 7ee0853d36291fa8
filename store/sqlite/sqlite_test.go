package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/debt-ledger/ledger"
	"github.com/warp/debt-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var t0 = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	for _, id := range []ledger.UserID{"A", "B", "C"} {
		require.NoError(t, store.SaveUser(ctx, ledger.User{ID: id, DisplayName: "User " + string(id), PasswordHash: "x"}))
	}
	return store
}

func record(id, creditor, debtor string, amount int64, at time.Time) ledger.DebtRecord {
	return ledger.DebtRecord{
		ID:           ledger.DebtRecordID(id),
		Creditor:     ledger.UserID(creditor),
		CreditorName: "User " + creditor,
		Debtor:       ledger.UserID(debtor),
		DebtorName:   "User " + debtor,
		Amount:       decimal.NewFromInt(amount),
		Description:  "Split: lunch",
		ExpenseID:    "e1",
		ExpenseType:  ledger.ExpenseSplit,
		Status:       ledger.StatusActive,
		CreatedAt:    at,
	}
}

// =============================================================================
// USERS
// =============================================================================

func TestStore_Users_UpsertAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveUser(ctx, ledger.User{ID: "A", DisplayName: "Alice", PasswordHash: "h2"}))

	u, err := store.GetUser(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.DisplayName)
	assert.Equal(t, "h2", u.PasswordHash)

	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, ledger.UserID("A"), users[0].ID)
	assert.Equal(t, ledger.UserID("C"), users[2].ID)

	_, err = store.GetUser(ctx, "ghost")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

// =============================================================================
// EXPENSES
// =============================================================================

func TestStore_Expenses_RoundTripNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	older := ledger.Expense{
		ID: "e1", CreatedBy: "A", CreatedByName: "User A",
		Amount: decimal.NewFromInt(300), Description: "[SPLIT] lunch",
		Participants: []ledger.UserID{"A", "B", "C"},
		SplitAmount:  decimal.NewFromInt(100), Type: ledger.ExpenseSplit,
		CreatedAt: t0,
	}
	newer := older
	newer.ID = "e2"
	newer.CreatedAt = t0.Add(time.Millisecond)

	require.NoError(t, store.AppendExpense(ctx, older))
	require.NoError(t, store.AppendExpense(ctx, newer))

	expenses, err := store.ListExpenses(ctx)
	require.NoError(t, err)
	require.Len(t, expenses, 2)
	assert.Equal(t, ledger.ExpenseID("e2"), expenses[0].ID)

	e := expenses[1]
	assert.Equal(t, []ledger.UserID{"A", "B", "C"}, e.Participants)
	assert.True(t, e.Amount.Equal(decimal.NewFromInt(300)))
	assert.True(t, e.SplitAmount.Equal(decimal.NewFromInt(100)))
	assert.True(t, e.CreatedAt.Equal(t0))
}

func TestStore_CorruptTimestamps_AreReported(t *testing.T) {
	// GIVEN: Rows whose timestamps do not match the stored layout
	// WHEN: They are read back
	// THEN: The read fails instead of returning a zero time

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendExpense(ctx, ledger.Expense{
		ID: "e1", CreatedBy: "A", CreatedByName: "User A",
		Amount: decimal.NewFromInt(300), Description: "[SPLIT] lunch",
		Participants: []ledger.UserID{"A", "B", "C"},
		SplitAmount:  decimal.NewFromInt(100), Type: ledger.ExpenseSplit,
		CreatedAt: t0,
	}))
	require.NoError(t, store.AppendDebtRecords(ctx, []ledger.DebtRecord{record("r1", "A", "B", 100, t0)}))

	_, err := store.DB().ExecContext(ctx, "UPDATE expenses SET created_at = 'yesterday' WHERE id = 'e1'")
	require.NoError(t, err)
	_, err = store.ListExpenses(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "created_at")

	_, err = store.DB().ExecContext(ctx, "UPDATE debt_records SET paid_at = '01/03/2025' WHERE id = 'r1'")
	require.NoError(t, err)
	_, err = store.ListDebtRecords(ctx, ledger.DebtFilter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "paid_at")

	_, err = store.DB().ExecContext(ctx, "UPDATE users SET updated_at = '' WHERE id = 'B'")
	require.NoError(t, err)
	_, err = store.GetUser(ctx, "B")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ledger.ErrNotFound)
}

// =============================================================================
// DEBT RECORDS
// =============================================================================

func TestStore_DebtRecords_FilterAndOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendDebtRecords(ctx, []ledger.DebtRecord{
		record("r1", "A", "B", 100, t0),
		record("r2", "A", "C", 50, t0),
		record("r3", "B", "A", 70, t0.Add(time.Second)),
	}))

	all, err := store.ListDebtRecords(ctx, ledger.DebtFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ledger.DebtRecordID("r3"), all[0].ID)
	// Equal timestamps come back in reverse insertion order.
	assert.Equal(t, ledger.DebtRecordID("r2"), all[1].ID)
	assert.Equal(t, ledger.DebtRecordID("r1"), all[2].ID)

	pair, err := store.ListDebtRecords(ctx, ledger.DebtFilter{Creditor: "A", Debtor: "B"})
	require.NoError(t, err)
	require.Len(t, pair, 1)
	assert.Equal(t, ledger.DebtRecordID("r1"), pair[0].ID)

	involving, err := store.ListDebtRecords(ctx, ledger.DebtFilter{Involves: "B"})
	require.NoError(t, err)
	assert.Len(t, involving, 2)

	r, err := store.GetDebtRecord(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, r.Amount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, ledger.ExpenseID("e1"), r.ExpenseID)
	assert.Nil(t, r.PaidAt)

	_, err = store.GetDebtRecord(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestStore_MarkPaid_VersionGuard(t *testing.T) {
	// GIVEN: An active record at version 0
	// WHEN: Flipped once, then flipped again with the stale version
	// THEN: The second flip is a concurrent modification

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.AppendDebtRecords(ctx, []ledger.DebtRecord{record("r1", "A", "B", 100, t0)}))

	paidAt := t0.Add(time.Hour)
	require.NoError(t, store.MarkPaid(ctx, "r1", 0, "p1", paidAt))

	r, err := store.GetDebtRecord(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPaid, r.Status)
	assert.Equal(t, int64(1), r.Version)
	assert.Equal(t, ledger.PaymentID("p1"), r.ClosedBy)
	require.NotNil(t, r.PaidAt)
	assert.True(t, r.PaidAt.Equal(paidAt))

	err = store.MarkPaid(ctx, "r1", 0, "p2", paidAt)
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)

	err = store.MarkPaid(ctx, "r1", 1, "p2", paidAt)
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification, "paid records never flip again")

	err = store.MarkPaid(ctx, "missing", 0, "p2", paidAt)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestStore_Payments_IdempotencyKeyUnique(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := ledger.DebtPayment{
		ID: "p1", PaidBy: "B", PaidByName: "User B", PaidTo: "A", PaidToName: "User A",
		Amount: decimal.NewFromInt(40), Description: "Debt payment",
		DebtRecordID: "r1", IdempotencyKey: "op-1", CreatedAt: t0,
	}
	require.NoError(t, store.AppendPayment(ctx, p))

	dup := p
	dup.ID = "p2"
	err := store.AppendPayment(ctx, dup)
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)

	// Payments without a key never collide.
	noKey := p
	noKey.ID, noKey.IdempotencyKey = "p3", ""
	require.NoError(t, store.AppendPayment(ctx, noKey))
	noKey.ID = "p4"
	require.NoError(t, store.AppendPayment(ctx, noKey))

	got, err := store.GetPaymentByKey(ctx, "op-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ledger.PaymentID("p1"), got.ID)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(40)))

	missing, err := store.GetPaymentByKey(ctx, "op-404")
	require.NoError(t, err)
	assert.Nil(t, missing)

	payments, err := store.ListPayments(ctx)
	require.NoError(t, err)
	require.Len(t, payments, 3)
	assert.Equal(t, ledger.PaymentID("p4"), payments[0].ID)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestStore_WithTx_RollbackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.AppendDebtRecords(ctx, []ledger.DebtRecord{record("r1", "A", "B", 100, t0)}))

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx ledger.Store) error {
		if err := tx.MarkPaid(ctx, "r1", 0, "p1", t0); err != nil {
			return err
		}
		// Reads inside the transaction see its own writes.
		r, err := tx.GetDebtRecord(ctx, "r1")
		if err != nil {
			return err
		}
		assert.Equal(t, ledger.StatusPaid, r.Status)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	r, err := store.GetDebtRecord(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusActive, r.Status)
	assert.Equal(t, int64(0), r.Version)
}

func TestStore_WithLedger_Settlement(t *testing.T) {
	// GIVEN: The ledger service over SQLite, B owes A {500, 300}
	// WHEN: B pays 600
	// THEN: 500 paid, 300 paid, 200 remainder active and linked to its parent

	store := newTestStore(t)
	ctx := context.Background()
	svc := ledger.New(store)

	for _, a := range []string{"500", "300"} {
		_, err := svc.SubmitExpense(ctx, ledger.ExpenseRequest{
			Type:         ledger.ExpenseBuyFor,
			Payer:        "A",
			Amount:       decimal.RequireFromString(a),
			Participants: []ledger.UserID{"B"},
		})
		require.NoError(t, err)
	}

	res, err := svc.SubmitPayment(ctx, ledger.PaymentRequest{
		Creditor: "A", Debtor: "B", Amount: decimal.NewFromInt(600), IdempotencyKey: "k1",
	})
	require.NoError(t, err)
	require.Len(t, res.Plan.Closures, 2)

	active, err := store.ListDebtRecords(ctx, ledger.DebtFilter{Status: ledger.StatusActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.True(t, active[0].Amount.Equal(decimal.NewFromInt(200)))
	assert.Equal(t, res.Plan.Closures[1].RecordID, active[0].ParentID)

	replay, err := svc.SubmitPayment(ctx, ledger.PaymentRequest{
		Creditor: "A", Debtor: "B", Amount: decimal.NewFromInt(600), IdempotencyKey: "k1",
	})
	require.NoError(t, err)
	assert.True(t, replay.Replayed)

	outstanding, err := svc.Outstanding(ctx, "A", "B")
	require.NoError(t, err)
	assert.True(t, outstanding.Equal(decimal.NewFromInt(200)))
}
