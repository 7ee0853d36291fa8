package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/debt-ledger/ledger"
	"github.com/warp/debt-ledger/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger(t *testing.T, s ledger.TxStore, opts ...ledger.Option) *ledger.Ledger {
	t.Helper()
	ctx := context.Background()
	for _, u := range members("A", "B", "C", "D") {
		require.NoError(t, s.SaveUser(ctx, u))
	}
	opts = append([]ledger.Option{
		ledger.WithClock(tickingClock(t0)),
		ledger.WithIDs(seqIDs("id")),
	}, opts...)
	return ledger.New(s, opts...)
}

func splitAmong(payer string, amount string, others ...ledger.UserID) ledger.ExpenseRequest {
	return ledger.ExpenseRequest{
		Type:         ledger.ExpenseSplit,
		Payer:        ledger.UserID(payer),
		Amount:       amt(amount),
		Description:  "shared",
		Participants: others,
	}
}

func buyFor(payer string, amount string, recipients ...ledger.UserID) ledger.ExpenseRequest {
	return ledger.ExpenseRequest{
		Type:         ledger.ExpenseBuyFor,
		Payer:        ledger.UserID(payer),
		Amount:       amt(amount),
		Description:  "errand",
		Participants: recipients,
	}
}

func pay(creditor, debtor, amount string) ledger.PaymentRequest {
	return ledger.PaymentRequest{
		Creditor: ledger.UserID(creditor),
		Debtor:   ledger.UserID(debtor),
		Amount:   amt(amount),
	}
}

// faultyStore injects failures into the Store handed to WithTx callbacks.
type faultyStore struct {
	*store.TxMemory
	conflicts     int // MarkPaid calls that report a concurrent modification
	failPayment   bool
	commitErr     error // returned after a successful callback, rolling it back
	markPaidCalls int
}

func (f *faultyStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return f.TxMemory.WithTx(ctx, func(tx ledger.Store) error {
		if err := fn(&faultyView{Store: tx, parent: f}); err != nil {
			return err
		}
		return f.commitErr
	})
}

type faultyView struct {
	ledger.Store
	parent *faultyStore
}

func (v *faultyView) MarkPaid(ctx context.Context, id ledger.DebtRecordID, version int64, closedBy ledger.PaymentID, paidAt time.Time) error {
	v.parent.markPaidCalls++
	if v.parent.conflicts > 0 {
		v.parent.conflicts--
		return ledger.ErrConcurrentModification
	}
	return v.Store.MarkPaid(ctx, id, version, closedBy, paidAt)
}

func (v *faultyView) AppendPayment(ctx context.Context, p ledger.DebtPayment) error {
	if v.parent.failPayment {
		return errors.New("disk full")
	}
	return v.Store.AppendPayment(ctx, p)
}

// =============================================================================
// EXPENSE SUBMISSION
// =============================================================================

func TestLedger_SubmitExpense_PersistsExpenseAndDebts(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, store.NewTxMemory())

	d, err := l.SubmitExpense(ctx, splitAmong("A", "100", "B", "C", "D"))
	require.NoError(t, err)
	require.Len(t, d.Debts, 3)

	expenses, err := l.Expenses(ctx)
	require.NoError(t, err)
	require.Len(t, expenses, 1)
	assert.Equal(t, d.Expense.ID, expenses[0].ID)

	owed, err := l.OwedToMe(ctx, "A")
	require.NoError(t, err)
	require.Len(t, owed, 3)
	for _, g := range owed {
		assertAmount(t, "25", g.Total)
	}

	iOwe, err := l.IOwe(ctx, "B")
	require.NoError(t, err)
	require.Len(t, iOwe, 1)
	assert.Equal(t, ledger.UserID("A"), iOwe[0].UserID)
}

func TestLedger_SubmitExpense_Rejected_NoMutation(t *testing.T) {
	// GIVEN: A buyfor expense with no recipients
	// WHEN: Submitted
	// THEN: Nothing is written

	ctx := context.Background()
	l := newTestLedger(t, store.NewTxMemory())

	_, err := l.SubmitExpense(ctx, buyFor("A", "90", "A"))
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = l.SubmitExpense(ctx, buyFor("A", "90", "ghost"))
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	snap, err := l.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Expenses)
	assert.Empty(t, snap.DebtRecords)
	assert.Empty(t, snap.Payments)
}

// =============================================================================
// SETTLEMENT
// =============================================================================

func TestLedger_SubmitPayment_PartialThenFull(t *testing.T) {
	// GIVEN: B owes A 300, 200 and 100 from three buyfor expenses
	// WHEN: B pays 250, then the rest
	// THEN: The pair disappears from both views and every record is paid

	ctx := context.Background()
	l := newTestLedger(t, store.NewTxMemory())

	for _, a := range []string{"300", "100", "200"} {
		_, err := l.SubmitExpense(ctx, buyFor("A", a, "B"))
		require.NoError(t, err)
	}

	res, err := l.SubmitPayment(ctx, pay("A", "B", "250"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts)
	assertAmount(t, "350", res.Plan.Remaining())

	outstanding, err := l.Outstanding(ctx, "A", "B")
	require.NoError(t, err)
	assertAmount(t, "350", outstanding)

	active, err := l.DebtRecords(ctx, ledger.DebtFilter{Creditor: "A", Debtor: "B", Status: ledger.StatusActive})
	require.NoError(t, err)
	require.Len(t, active, 3)

	closed, err := l.DebtRecords(ctx, ledger.DebtFilter{Status: ledger.StatusPaid})
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assertAmount(t, "300", closed[0].Amount)
	assert.Equal(t, res.Payment.ID, closed[0].ClosedBy)
	require.NotNil(t, closed[0].PaidAt)

	_, err = l.SubmitPayment(ctx, ledger.PaymentRequest{Creditor: "A", Debtor: "B", Full: true})
	require.NoError(t, err)

	owed, err := l.OwedToMe(ctx, "A")
	require.NoError(t, err)
	assert.Empty(t, owed)
	iOwe, err := l.IOwe(ctx, "B")
	require.NoError(t, err)
	assert.Empty(t, iOwe)

	payments, err := l.Timeline(ctx, "B")
	require.NoError(t, err)
	assert.Len(t, payments, 5)
	assert.Equal(t, ledger.KindPayment, payments[0].Kind)
}

func TestLedger_SubmitPayment_Rejected_NoMutation(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, store.NewTxMemory())

	_, err := l.SubmitExpense(ctx, buyFor("A", "100", "B"))
	require.NoError(t, err)
	before, err := l.Snapshot(ctx)
	require.NoError(t, err)

	_, err = l.SubmitPayment(ctx, pay("A", "B", "150"))
	var exErr *ledger.ExceedsOutstandingError
	assert.ErrorAs(t, err, &exErr)

	_, err = l.SubmitPayment(ctx, pay("A", "B", "0"))
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = l.SubmitPayment(ctx, pay("B", "A", "10"))
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = l.SubmitPayment(ctx, pay("A", "ghost", "10"))
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	after, err := l.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestLedger_SubmitPayment_IdempotentReplay(t *testing.T) {
	// GIVEN: A payment submitted with an idempotency key
	// WHEN: The same key is submitted again
	// THEN: The original payment is returned and nothing else changes

	ctx := context.Background()
	l := newTestLedger(t, store.NewTxMemory())
	_, err := l.SubmitExpense(ctx, buyFor("A", "100", "B"))
	require.NoError(t, err)

	req := pay("A", "B", "40")
	req.IdempotencyKey = "op-123"

	first, err := l.SubmitPayment(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := l.SubmitPayment(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Payment.ID, second.Payment.ID)

	payments, err := l.Store().ListPayments(ctx)
	require.NoError(t, err)
	assert.Len(t, payments, 1)

	outstanding, err := l.Outstanding(ctx, "A", "B")
	require.NoError(t, err)
	assertAmount(t, "60", outstanding)
}

func TestLedger_SubmitPayment_IdempotencyKeyReusedForDifferentPayment(t *testing.T) {
	// GIVEN: Key "k" already settled 50 of B's debt to A
	// WHEN: The same key is sent for a different pair or amount
	// THEN: The request is rejected and nothing is written for it

	ctx := context.Background()
	l := newTestLedger(t, store.NewTxMemory())
	_, err := l.SubmitExpense(ctx, buyFor("A", "100", "B"))
	require.NoError(t, err)
	_, err = l.SubmitExpense(ctx, buyFor("D", "100", "C"))
	require.NoError(t, err)

	first := pay("A", "B", "50")
	first.IdempotencyKey = "k"
	_, err = l.SubmitPayment(ctx, first)
	require.NoError(t, err)

	otherPair := pay("D", "C", "100")
	otherPair.IdempotencyKey = "k"
	_, err = l.SubmitPayment(ctx, otherPair)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrValidation)
	var vErr *ledger.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "idempotency_key", vErr.Field)

	otherAmount := pay("A", "B", "20")
	otherAmount.IdempotencyKey = "k"
	_, err = l.SubmitPayment(ctx, otherAmount)
	assert.ErrorIs(t, err, ledger.ErrValidation)

	outstanding, err := l.Outstanding(ctx, "D", "C")
	require.NoError(t, err)
	assertAmount(t, "100", outstanding)
	outstanding, err = l.Outstanding(ctx, "A", "B")
	require.NoError(t, err)
	assertAmount(t, "50", outstanding)

	payments, err := l.Store().ListPayments(ctx)
	require.NoError(t, err)
	assert.Len(t, payments, 1)

	// A full settlement of the same pair replays regardless of amount.
	full := ledger.PaymentRequest{Creditor: "A", Debtor: "B", Full: true, IdempotencyKey: "k"}
	res, err := l.SubmitPayment(ctx, full)
	require.NoError(t, err)
	assert.True(t, res.Replayed)
}

func TestLedger_SubmitPayment_RetriesOnConflict(t *testing.T) {
	// GIVEN: The first MarkPaid reports a concurrent modification
	// WHEN: A payment is submitted
	// THEN: The settlement is recomputed and succeeds on the second attempt

	ctx := context.Background()
	fs := &faultyStore{TxMemory: store.NewTxMemory(), conflicts: 1}
	var hookCalls []int
	l := newTestLedger(t, fs, ledger.WithConflictHook(func(attempt int) {
		hookCalls = append(hookCalls, attempt)
	}))

	_, err := l.SubmitExpense(ctx, buyFor("A", "100", "B"))
	require.NoError(t, err)

	res, err := l.SubmitPayment(ctx, pay("A", "B", "100"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, []int{1}, hookCalls)

	payments, err := fs.ListPayments(ctx)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}

func TestLedger_SubmitPayment_RetriesExhausted(t *testing.T) {
	ctx := context.Background()
	fs := &faultyStore{TxMemory: store.NewTxMemory(), conflicts: 100}
	l := newTestLedger(t, fs, ledger.WithMaxRetries(2))

	_, err := l.SubmitExpense(ctx, buyFor("A", "100", "B"))
	require.NoError(t, err)

	_, err = l.SubmitPayment(ctx, pay("A", "B", "100"))
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)
	assert.True(t, ledger.IsRetryable(err))
	assert.Equal(t, 3, fs.markPaidCalls)

	outstanding, err := l.Outstanding(ctx, "A", "B")
	require.NoError(t, err)
	assertAmount(t, "100", outstanding)
}

func TestLedger_SubmitPayment_StoreFailure_RollsBack(t *testing.T) {
	// GIVEN: Writing the payment fails after records were already flipped
	// THEN: The flips are rolled back and the error is a store error

	ctx := context.Background()
	fs := &faultyStore{TxMemory: store.NewTxMemory(), failPayment: true}
	l := newTestLedger(t, fs)

	_, err := l.SubmitExpense(ctx, buyFor("A", "300", "B"))
	require.NoError(t, err)
	_, err = l.SubmitExpense(ctx, buyFor("A", "200", "B"))
	require.NoError(t, err)

	_, err = l.SubmitPayment(ctx, pay("A", "B", "350"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrStoreOperation)
	assert.False(t, ledger.IsRetryable(err))

	var sErr *ledger.StoreError
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, "append payment", sErr.Op)

	records, err := fs.ListDebtRecords(ctx, ledger.DebtFilter{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, r := range records {
		assert.True(t, r.IsActive())
		assert.Equal(t, int64(0), r.Version)
	}
}

func TestLedger_CommitFailure_IsStoreError(t *testing.T) {
	// GIVEN: A store whose commit fails after every write succeeded
	// WHEN: An expense and a payment are submitted
	// THEN: Both fail as store operations and nothing is persisted

	ctx := context.Background()
	fs := &faultyStore{TxMemory: store.NewTxMemory()}
	l := newTestLedger(t, fs)
	_, err := l.SubmitExpense(ctx, buyFor("A", "100", "B"))
	require.NoError(t, err)

	fs.commitErr = errors.New("disk I/O error")

	_, err = l.SubmitExpense(ctx, buyFor("A", "40", "C"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrStoreOperation)
	var sErr *ledger.StoreError
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, "commit expense", sErr.Op)

	_, err = l.SubmitPayment(ctx, pay("A", "B", "30"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrStoreOperation)
	assert.False(t, ledger.IsRetryable(err))
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, "commit payment", sErr.Op)

	expenses, err := fs.ListExpenses(ctx)
	require.NoError(t, err)
	assert.Len(t, expenses, 1)
	outstanding, err := l.Outstanding(ctx, "A", "B")
	require.NoError(t, err)
	assertAmount(t, "100", outstanding)

	// Domain rejections keep their own kind.
	_, err = l.SubmitPayment(ctx, pay("A", "B", "500"))
	var exErr *ledger.ExceedsOutstandingError
	assert.ErrorAs(t, err, &exErr)
	assert.NotErrorIs(t, err, ledger.ErrStoreOperation)
}

func TestLedger_ConcurrentFullPayments_SettleOnce(t *testing.T) {
	ctx := context.Background()
	l := ledger.New(store.NewTxMemory())
	for _, u := range members("A", "B") {
		require.NoError(t, l.Store().SaveUser(ctx, u))
	}
	_, err := l.SubmitExpense(ctx, buyFor("A", "500", "B"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var succeeded, notFound int
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.SubmitPayment(ctx, ledger.PaymentRequest{Creditor: "A", Debtor: "B", Full: true})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case ledger.IsNotFound(err):
				notFound++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 4, notFound)

	payments, err := l.Store().ListPayments(ctx)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assertAmount(t, "500", payments[0].Amount)
}

// =============================================================================
// LIVE VIEW
// =============================================================================

func TestLedger_Subscribe_InitialAndAfterCommit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := newTestLedger(t, store.NewTxMemory())

	ch, err := l.Subscribe(ctx)
	require.NoError(t, err)

	select {
	case snap := <-ch:
		assert.Empty(t, snap.Expenses)
	case <-time.After(time.Second):
		t.Fatal("no initial snapshot")
	}

	_, err = l.SubmitExpense(ctx, splitAmong("A", "100", "B"))
	require.NoError(t, err)

	select {
	case snap := <-ch:
		assert.Len(t, snap.Expenses, 1)
		assert.Len(t, snap.DebtRecords, 1)
	case <-time.After(time.Second):
		t.Fatal("no snapshot after commit")
	}

	// Rejected mutations publish nothing.
	_, err = l.SubmitExpense(ctx, buyFor("A", "100"))
	require.Error(t, err)
	select {
	case <-ch:
		t.Fatal("unexpected snapshot after rejected expense")
	default:
	}

	cancel()
	select {
	case _, open := <-ch:
		assert.False(t, open, "channel should close when the context is done")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestLedger_Subscribe_LatestSnapshotAfterConcurrentCommits(t *testing.T) {
	// GIVEN: A subscriber that does not read while writers run
	// WHEN: Several expenses commit concurrently
	// THEN: The pending snapshot contains every one of them

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := ledger.New(store.NewTxMemory())
	for _, u := range members("A", "B", "C") {
		require.NoError(t, l.Store().SaveUser(ctx, u))
	}

	ch, err := l.Subscribe(ctx)
	require.NoError(t, err)
	<-ch

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.SubmitExpense(ctx, splitAmong("A", "30", "B", "C"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	select {
	case snap := <-ch:
		assert.Len(t, snap.Expenses, writers)
		assert.Len(t, snap.DebtRecords, 2*writers)
	case <-time.After(time.Second):
		t.Fatal("no snapshot after commits")
	}
}

func TestLedger_Subscribe_DuringWrites_EndsOnLatestState(t *testing.T) {
	// GIVEN: Subscribers joining while expenses commit
	// THEN: Each one's last pending snapshot matches the final state

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := ledger.New(store.NewTxMemory())
	for _, u := range members("A", "B") {
		require.NoError(t, l.Store().SaveUser(ctx, u))
	}

	const writers = 10
	var wg sync.WaitGroup
	chans := make(chan (<-chan ledger.Snapshot), writers)
	for i := 0; i < writers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := l.SubmitExpense(ctx, buyFor("A", "10", "B"))
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			ch, err := l.Subscribe(ctx)
			if assert.NoError(t, err) {
				chans <- ch
			}
		}()
	}
	wg.Wait()
	close(chans)

	for ch := range chans {
		select {
		case snap := <-ch:
			assert.Len(t, snap.Expenses, writers)
		case <-time.After(time.Second):
			t.Fatal("subscriber has no snapshot")
		}
	}
}

func TestLedger_Summary(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, store.NewTxMemory())

	_, err := l.SubmitExpense(ctx, buyFor("A", "100", "B"))
	require.NoError(t, err)
	_, err = l.SubmitExpense(ctx, buyFor("C", "30", "A"))
	require.NoError(t, err)

	s, err := l.Summary(ctx, "A")
	require.NoError(t, err)
	assertAmount(t, "100", s.TotalOwedToMe)
	assertAmount(t, "30", s.TotalIOwe)
	assertAmount(t, "70", s.Net)
}
