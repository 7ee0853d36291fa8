/*
settle.go - Debt settlement: payment -> SettlementPlan

PURPOSE:
  Decides which active records a payment closes. The result is a plan value
  (closures + remainder + payment) that the service applies atomically. The
  planner itself is pure: same input, same plan.

ALGORITHM (largest-first greedy):
  1. Take the active records creditor <- debtor.
  2. Stable-sort by amount descending; equal amounts keep retrieval order
     (newest first).
  3. Walk with remaining = requested:
       remaining >= record.amount  -> close record, remaining -= amount
       remaining <  record.amount  -> close record, spawn remainder
                                      (amount - remaining), stop
  4. Emit one DebtPayment for the full requested amount.

  Largest-first keeps the number of open records small after a big payment.
  It does not settle oldest debts first.

EXAMPLE:
  active {300, 100, 200}, pay 250
    sorted   [300, 200, 100]
    300 -> split: paid, remainder 50
  active {200, 100, 50}, outstanding 350, one payment of 250

REJECTION:
  Non-positive, wrongly scaled, or larger than outstanding. FULL pays exactly
  the outstanding total. No debt between the pair is a not-found error.
*/
package ledger

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultPaymentDescription is used when a payment carries no description.
const DefaultPaymentDescription = "Debt payment"

// PaymentRequest records that Debtor paid Creditor.
type PaymentRequest struct {
	Creditor    UserID
	Debtor      UserID
	Amount      decimal.Decimal // ignored when Full
	Full        bool
	Description string

	// IdempotencyKey is a client-generated operation token. Resubmitting the
	// same key returns the original payment without touching any record.
	IdempotencyKey string
}

// ClosureAction says what happens to one record.
type ClosureAction string

const (
	ActionClose ClosureAction = "close" // fully paid
	ActionSplit ClosureAction = "split" // paid, remainder spawned
)

// Closure is one record flip in a plan.
type Closure struct {
	RecordID  DebtRecordID
	Version   int64           // version read at planning time
	Amount    decimal.Decimal // amount on the record before payment
	Applied   decimal.Decimal // portion of the payment absorbed
	Action    ClosureAction
	Remainder *DebtRecord // set for ActionSplit
}

// SettlementPlan is every mutation a payment causes, computed up front.
type SettlementPlan struct {
	Closures    []Closure
	Payment     DebtPayment
	Outstanding decimal.Decimal // before the payment
}

// Remaining returns the outstanding total after the plan is applied.
func (p *SettlementPlan) Remaining() decimal.Decimal {
	return p.Outstanding.Sub(p.Payment.Amount)
}

// Outstanding sums the active records creditor <- debtor.
func Outstanding(records []DebtRecord, creditor, debtor UserID) decimal.Decimal {
	total := decimal.Zero
	for _, r := range records {
		if r.IsActive() && r.Creditor == creditor && r.Debtor == debtor {
			total = total.Add(r.Amount)
		}
	}
	return total
}

// PlanSettlement computes the settlement of req against records. records may
// contain anything; only active creditor <- debtor records are considered, in
// the order given.
func PlanSettlement(req PaymentRequest, creditor, debtor User, records []DebtRecord, scale int32, newID IDFunc, now time.Time) (*SettlementPlan, error) {
	if req.Creditor == req.Debtor {
		return nil, invalid("debtor", "creditor and debtor must differ")
	}

	var active []DebtRecord
	for _, r := range records {
		if r.IsActive() && r.Creditor == req.Creditor && r.Debtor == req.Debtor {
			active = append(active, r)
		}
	}
	outstanding := Sum(amounts(active)...)
	if len(active) == 0 || !outstanding.IsPositive() {
		return nil, &NotFoundError{Kind: "debt", ID: string(req.Debtor) + "->" + string(req.Creditor)}
	}

	requested := req.Amount
	if req.Full {
		requested = outstanding
	} else {
		if err := ValidateAmount(requested, scale); err != nil {
			return nil, err
		}
		if requested.GreaterThan(outstanding) {
			return nil, &ExceedsOutstandingError{
				Creditor:    req.Creditor,
				Debtor:      req.Debtor,
				Outstanding: outstanding,
				Requested:   requested,
			}
		}
	}

	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Amount.GreaterThan(active[j].Amount)
	})

	paymentID := PaymentID(newID())
	plan := &SettlementPlan{Outstanding: outstanding}
	remaining := requested

	for _, r := range active {
		if !remaining.IsPositive() {
			break
		}
		if remaining.GreaterThanOrEqual(r.Amount) {
			plan.Closures = append(plan.Closures, Closure{
				RecordID: r.ID,
				Version:  r.Version,
				Amount:   r.Amount,
				Applied:  r.Amount,
				Action:   ActionClose,
			})
			remaining = remaining.Sub(r.Amount)
			continue
		}

		remainder := DebtRecord{
			ID:           DebtRecordID(newID()),
			Creditor:     r.Creditor,
			CreditorName: r.CreditorName,
			Debtor:       r.Debtor,
			DebtorName:   r.DebtorName,
			Amount:       r.Amount.Sub(remaining),
			Description:  r.Description,
			ExpenseID:    r.ExpenseID,
			ExpenseType:  r.ExpenseType,
			Status:       StatusActive,
			ParentID:     r.ID,
			CreatedAt:    now,
		}
		plan.Closures = append(plan.Closures, Closure{
			RecordID:  r.ID,
			Version:   r.Version,
			Amount:    r.Amount,
			Applied:   remaining,
			Action:    ActionSplit,
			Remainder: &remainder,
		})
		remaining = decimal.Zero
	}

	desc := strings.TrimSpace(req.Description)
	if desc == "" {
		desc = DefaultPaymentDescription
	}
	plan.Payment = DebtPayment{
		ID:             paymentID,
		PaidBy:         debtor.ID,
		PaidByName:     debtor.Name(),
		PaidTo:         creditor.ID,
		PaidToName:     creditor.Name(),
		Amount:         requested,
		Description:    desc,
		DebtRecordID:   plan.Closures[0].RecordID,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
	}
	return plan, nil
}

func amounts(records []DebtRecord) []decimal.Decimal {
	out := make([]decimal.Decimal, len(records))
	for i, r := range records {
		out[i] = r.Amount
	}
	return out
}
