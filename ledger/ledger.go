/*
ledger.go - The ledger service: validated, atomic, observable mutations

PURPOSE:
  Ties derivation, settlement and views to a TxStore. Every mutation follows
  the same shape:

    WithTx {
      read   (users, active records)
      compute (DeriveDebts / PlanSettlement)  -- pure, may reject
      write  (append / flip, all or nothing)
    }
    publish snapshot to subscribers

IDENTITY:
  The service holds no "current user". Payer, creditor and debtor are always
  explicit arguments; the API layer maps its session onto them.

CONCURRENCY:
  Each MarkPaid checks the version read during planning. If another writer
  flipped the record in between, the transaction rolls back and the whole
  read-compute-write runs again on fresh data, up to MaxRetries times.

IDEMPOTENCY:
  A payment carrying an IdempotencyKey that was already committed returns the
  committed payment (Replayed = true) and writes nothing. Reusing a key for a
  different creditor, debtor or amount is a validation error.

LIVE VIEW:
  Snapshot reads and deliveries are serialized under pubMu, so the last
  snapshot a subscriber receives always reflects the latest commit.
*/
package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultMaxRetries bounds optimistic-concurrency retries per settlement.
const DefaultMaxRetries = 3

// Ledger is the debt ledger service.
type Ledger struct {
	store      TxStore
	feed       *Feed
	pubMu      sync.Mutex
	log        *zap.Logger
	now        func() time.Time
	newID      IDFunc
	scale      int32
	maxRetries int
	onConflict func(attempt int)
}

// Option configures a Ledger.
type Option func(*Ledger)

func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }
func WithIDs(newID IDFunc) Option           { return func(l *Ledger) { l.newID = newID } }
func WithScale(scale int32) Option          { return func(l *Ledger) { l.scale = scale } }
func WithLogger(log *zap.Logger) Option     { return func(l *Ledger) { l.log = log } }

func WithMaxRetries(n int) Option {
	return func(l *Ledger) {
		if n >= 0 {
			l.maxRetries = n
		}
	}
}

// WithConflictHook is called every time a settlement attempt hits a
// concurrent modification and is about to be retried.
func WithConflictHook(fn func(attempt int)) Option {
	return func(l *Ledger) { l.onConflict = fn }
}

// New creates a ledger service over store.
func New(store TxStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:      store,
		feed:       NewFeed(),
		log:        zap.NewNop(),
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
		scale:      DefaultScale,
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Scale returns the configured minor-unit precision.
func (l *Ledger) Scale() int32 { return l.scale }

// Store returns the underlying store.
func (l *Ledger) Store() TxStore { return l.store }

// =============================================================================
// EXPENSES
// =============================================================================

// SubmitExpense records an expense and derives its debt records in one
// transaction.
func (l *Ledger) SubmitExpense(ctx context.Context, req ExpenseRequest) (*Derivation, error) {
	var d *Derivation
	err := l.store.WithTx(ctx, func(tx Store) error {
		users, err := tx.ListUsers(ctx)
		if err != nil {
			return storeErr("list users", err)
		}
		d, err = DeriveDebts(req, users, l.scale, l.newID, l.now())
		if err != nil {
			return err
		}
		if err := tx.AppendExpense(ctx, d.Expense); err != nil {
			return storeErr("append expense", err)
		}
		if len(d.Debts) > 0 {
			if err := tx.AppendDebtRecords(ctx, d.Debts); err != nil {
				return storeErr("append debt records", err)
			}
		}
		return nil
	})
	if err = storeErr("commit expense", err); err != nil {
		l.log.Info("expense rejected",
			zap.String("payer", string(req.Payer)),
			zap.String("type", string(req.Type)),
			zap.Error(err))
		return nil, err
	}

	l.log.Info("expense recorded",
		zap.String("expense_id", string(d.Expense.ID)),
		zap.String("payer", string(d.Expense.CreatedBy)),
		zap.String("type", string(d.Expense.Type)),
		zap.String("amount", d.Expense.Amount.String()),
		zap.Int("debts", len(d.Debts)))
	l.publish(ctx)
	return d, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

// SettlementResult is the outcome of SubmitPayment.
type SettlementResult struct {
	Plan     *SettlementPlan // nil when Replayed
	Payment  DebtPayment
	Replayed bool // an earlier payment with the same key was returned
	Attempts int
}

// SubmitPayment settles req atomically. Validation and not-found errors are
// returned before anything is written.
func (l *Ledger) SubmitPayment(ctx context.Context, req PaymentRequest) (*SettlementResult, error) {
	if !req.Full {
		if err := ValidateAmount(req.Amount, l.scale); err != nil {
			return nil, err
		}
	}

	var result *SettlementResult
	var err error
	for attempt := 1; attempt <= l.maxRetries+1; attempt++ {
		result, err = l.settleOnce(ctx, req)
		if err == nil {
			result.Attempts = attempt
			break
		}
		if !IsRetryable(err) || attempt > l.maxRetries {
			break
		}
		l.log.Warn("settlement conflict, retrying",
			zap.String("creditor", string(req.Creditor)),
			zap.String("debtor", string(req.Debtor)),
			zap.Int("attempt", attempt))
		if l.onConflict != nil {
			l.onConflict(attempt)
		}
	}
	if err != nil {
		l.log.Info("payment rejected",
			zap.String("creditor", string(req.Creditor)),
			zap.String("debtor", string(req.Debtor)),
			zap.Error(err))
		return nil, err
	}

	if result.Replayed {
		l.log.Info("payment replayed",
			zap.String("payment_id", string(result.Payment.ID)),
			zap.String("idempotency_key", req.IdempotencyKey))
		return result, nil
	}

	l.log.Info("payment recorded",
		zap.String("payment_id", string(result.Payment.ID)),
		zap.String("creditor", string(result.Payment.PaidTo)),
		zap.String("debtor", string(result.Payment.PaidBy)),
		zap.String("amount", result.Payment.Amount.String()),
		zap.Int("closures", len(result.Plan.Closures)),
		zap.String("remaining", result.Plan.Remaining().String()))
	l.publish(ctx)
	return result, nil
}

func (l *Ledger) settleOnce(ctx context.Context, req PaymentRequest) (*SettlementResult, error) {
	var result *SettlementResult
	err := l.store.WithTx(ctx, func(tx Store) error {
		if req.IdempotencyKey != "" {
			prior, err := tx.GetPaymentByKey(ctx, req.IdempotencyKey)
			if err != nil {
				return storeErr("get payment by key", err)
			}
			if prior != nil {
				if !sameIntent(*prior, req) {
					return invalid("idempotency_key", "key %q was already used for a different payment", req.IdempotencyKey)
				}
				result = &SettlementResult{Payment: *prior, Replayed: true}
				return nil
			}
		}

		creditor, err := tx.GetUser(ctx, req.Creditor)
		if err != nil {
			return storeErr("get creditor", err)
		}
		debtor, err := tx.GetUser(ctx, req.Debtor)
		if err != nil {
			return storeErr("get debtor", err)
		}
		active, err := tx.ListDebtRecords(ctx, DebtFilter{
			Creditor: req.Creditor,
			Debtor:   req.Debtor,
			Status:   StatusActive,
		})
		if err != nil {
			return storeErr("list active debts", err)
		}

		plan, err := PlanSettlement(req, *creditor, *debtor, active, l.scale, l.newID, l.now())
		if err != nil {
			return err
		}
		if err := ApplyPlan(ctx, tx, plan); err != nil {
			return err
		}
		result = &SettlementResult{Plan: plan, Payment: plan.Payment}
		return nil
	})
	if errors.Is(err, ErrDuplicateIdempotencyKey) {
		// Lost a race with an identical submission; the winner's payment is
		// now committed and the next attempt will replay it.
		return nil, ErrConcurrentModification
	}
	if err = storeErr("commit payment", err); err != nil {
		return nil, err
	}
	return result, nil
}

// sameIntent reports whether a committed payment could have come from req.
// A full settlement carries no amount, so only the pair is compared.
func sameIntent(prior DebtPayment, req PaymentRequest) bool {
	if prior.PaidTo != req.Creditor || prior.PaidBy != req.Debtor {
		return false
	}
	return req.Full || prior.Amount.Equal(req.Amount)
}

// ApplyPlan writes every mutation of plan through store. Run it inside
// WithTx: on error the caller must roll back.
func ApplyPlan(ctx context.Context, store Store, plan *SettlementPlan) error {
	paidAt := plan.Payment.CreatedAt
	var remainders []DebtRecord
	for _, c := range plan.Closures {
		if err := store.MarkPaid(ctx, c.RecordID, c.Version, plan.Payment.ID, paidAt); err != nil {
			return storeErr("mark debt paid", err)
		}
		if c.Remainder != nil {
			remainders = append(remainders, *c.Remainder)
		}
	}
	if len(remainders) > 0 {
		if err := store.AppendDebtRecords(ctx, remainders); err != nil {
			return storeErr("append remainder", err)
		}
	}
	if err := store.AppendPayment(ctx, plan.Payment); err != nil {
		return storeErr("append payment", err)
	}
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

// OwedToMe returns who owes userID, grouped by debtor.
func (l *Ledger) OwedToMe(ctx context.Context, userID UserID) ([]CounterpartyTotal, error) {
	records, err := l.store.ListDebtRecords(ctx, DebtFilter{Creditor: userID, Status: StatusActive})
	if err != nil {
		return nil, storeErr("list debts", err)
	}
	return OwedToMe(userID, records), nil
}

// IOwe returns whom userID owes, grouped by creditor.
func (l *Ledger) IOwe(ctx context.Context, userID UserID) ([]CounterpartyTotal, error) {
	records, err := l.store.ListDebtRecords(ctx, DebtFilter{Debtor: userID, Status: StatusActive})
	if err != nil {
		return nil, storeErr("list debts", err)
	}
	return IOwe(userID, records), nil
}

// Summary returns both directions and the net balance of userID.
func (l *Ledger) Summary(ctx context.Context, userID UserID) (*BalanceSummary, error) {
	records, err := l.store.ListDebtRecords(ctx, DebtFilter{Involves: userID, Status: StatusActive})
	if err != nil {
		return nil, storeErr("list debts", err)
	}
	s := Summarize(userID, records)
	return &s, nil
}

// Outstanding returns what debtor currently owes creditor.
func (l *Ledger) Outstanding(ctx context.Context, creditor, debtor UserID) (decimal.Decimal, error) {
	records, err := l.store.ListDebtRecords(ctx, DebtFilter{Creditor: creditor, Debtor: debtor, Status: StatusActive})
	if err != nil {
		return decimal.Zero, storeErr("list debts", err)
	}
	return Outstanding(records, creditor, debtor), nil
}

// DebtRecords lists records matching filter, newest first.
func (l *Ledger) DebtRecords(ctx context.Context, filter DebtFilter) ([]DebtRecord, error) {
	records, err := l.store.ListDebtRecords(ctx, filter)
	if err != nil {
		return nil, storeErr("list debts", err)
	}
	return records, nil
}

// Expenses lists every expense, newest first.
func (l *Ledger) Expenses(ctx context.Context) ([]Expense, error) {
	expenses, err := l.store.ListExpenses(ctx)
	if err != nil {
		return nil, storeErr("list expenses", err)
	}
	return expenses, nil
}

// Timeline merges expenses and payments newest first. An empty forUser
// returns the global timeline.
func (l *Ledger) Timeline(ctx context.Context, forUser UserID) ([]TimelineEntry, error) {
	expenses, err := l.store.ListExpenses(ctx)
	if err != nil {
		return nil, storeErr("list expenses", err)
	}
	payments, err := l.store.ListPayments(ctx)
	if err != nil {
		return nil, storeErr("list payments", err)
	}
	return Timeline(expenses, payments, forUser), nil
}

// =============================================================================
// LIVE VIEW
// =============================================================================

// Snapshot reads the full ordered state of every collection.
func (l *Ledger) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	var err error
	if s.Expenses, err = l.store.ListExpenses(ctx); err != nil {
		return s, storeErr("list expenses", err)
	}
	if s.DebtRecords, err = l.store.ListDebtRecords(ctx, DebtFilter{}); err != nil {
		return s, storeErr("list debts", err)
	}
	if s.Payments, err = l.store.ListPayments(ctx); err != nil {
		return s, storeErr("list payments", err)
	}
	return s, nil
}

// Subscribe streams the current snapshot immediately and a fresh one after
// every committed mutation, until ctx is done.
func (l *Ledger) Subscribe(ctx context.Context) (<-chan Snapshot, error) {
	// Register before reading so no commit falls between the initial
	// snapshot and the first publish. On error the registration is released
	// when ctx is done.
	ch := l.feed.Subscribe(ctx)

	l.pubMu.Lock()
	defer l.pubMu.Unlock()
	s, err := l.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	l.feed.send(ch, s)
	return ch, nil
}

func (l *Ledger) publish(ctx context.Context) {
	if l.feed.Len() == 0 {
		return
	}
	l.pubMu.Lock()
	defer l.pubMu.Unlock()
	s, err := l.Snapshot(context.WithoutCancel(ctx))
	if err != nil {
		l.log.Warn("snapshot for subscribers failed", zap.Error(err))
		return
	}
	l.feed.Publish(s)
}
