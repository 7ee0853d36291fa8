/*
Package ledger provides the group debt ledger engine.

PURPOSE:
  Members record shared expenses and "bought-for" purchases. The engine turns
  each expense into itemized per-pair debt records, settles those records when
  a debtor pays, and aggregates the live record set into "who owes whom" views
  and a merged chronological timeline.

KEY CONCEPTS IN THIS FILE (types.go):
  - Expense:     Immutable record of money spent by one member
  - DebtRecord:  One creditor->debtor obligation (active or paid)
  - DebtPayment: Immutable audit entry for one settlement
  - User:        A member of the fixed group

DEBT RECORD LIFECYCLE:
  active ──(full payment)────▶ paid
  active ──(partial payment)─▶ paid + new active remainder record

  A record is never decremented in place. The remainder record points back to
  the record it replaced (ParentID), so the records of one original debt form
  a tree of settlement history.

AMOUNTS:
  All money is decimal.Decimal at a fixed scale (minor-unit decimal places).
  See allocate.go for the rounding policy.

SEE ALSO:
  - derive.go: Expense -> DebtRecords
  - settle.go: Payment -> SettlementPlan
  - views.go:  OwedToMe, IOwe, Timeline
  - ledger.go: Service that applies plans against a TxStore
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type ExpenseID string
type DebtRecordID string
type PaymentID string

// =============================================================================
// ENUMS
// =============================================================================

// ExpenseType distinguishes an even split from a purchase made for others.
type ExpenseType string

const (
	ExpenseSplit  ExpenseType = "split"  // payer + participants share evenly, payer's share absorbed
	ExpenseBuyFor ExpenseType = "buyfor" // payer fronts money for recipients only
)

func (t ExpenseType) Valid() bool {
	return t == ExpenseSplit || t == ExpenseBuyFor
}

// DebtStatus is the lifecycle state of a DebtRecord.
// There is no partially-paid state: partial settlement closes the
// record and spawns a remainder record.
type DebtStatus string

const (
	StatusActive DebtStatus = "active"
	StatusPaid   DebtStatus = "paid"
)

// =============================================================================
// USER
// =============================================================================

type User struct {
	ID           UserID
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Name returns the display name, falling back to the id.
func (u User) Name() string {
	if u.DisplayName == "" {
		return string(u.ID)
	}
	return u.DisplayName
}

// =============================================================================
// EXPENSE
// =============================================================================

type Expense struct {
	ID            ExpenseID
	CreatedBy     UserID
	CreatedByName string
	Amount        decimal.Decimal
	Description   string
	Participants  []UserID        // everyone who carries a share (split: includes payer)
	SplitAmount   decimal.Decimal // per-person share owed by non-payers
	Type          ExpenseType
	CreatedAt     time.Time
}

// Involves reports whether the user paid for or takes part in the expense.
func (e Expense) Involves(id UserID) bool {
	if e.CreatedBy == id {
		return true
	}
	for _, p := range e.Participants {
		if p == id {
			return true
		}
	}
	return false
}

// =============================================================================
// DEBT RECORD
// =============================================================================

type DebtRecord struct {
	ID           DebtRecordID
	Creditor     UserID
	CreditorName string
	Debtor       UserID
	DebtorName   string
	Amount       decimal.Decimal // remaining owed on this record
	Description  string
	ExpenseID    ExpenseID    // origin expense, empty for remainders of unlinked debts
	ExpenseType  ExpenseType
	Status       DebtStatus
	ParentID     DebtRecordID // record this one is the remainder of
	ClosedBy     PaymentID    // payment that moved this record to paid
	Version      int64        // optimistic concurrency token, bumped on every flip
	CreatedAt    time.Time
	PaidAt       *time.Time
}

func (r DebtRecord) IsActive() bool { return r.Status == StatusActive }

// DebtFilter narrows a debt record query. Zero fields match everything.
type DebtFilter struct {
	Creditor UserID
	Debtor   UserID
	Involves UserID // creditor OR debtor
	Status   DebtStatus
}

func (f DebtFilter) Match(r DebtRecord) bool {
	if f.Creditor != "" && r.Creditor != f.Creditor {
		return false
	}
	if f.Debtor != "" && r.Debtor != f.Debtor {
		return false
	}
	if f.Involves != "" && r.Creditor != f.Involves && r.Debtor != f.Involves {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}

// =============================================================================
// DEBT PAYMENT
// =============================================================================

type DebtPayment struct {
	ID             PaymentID
	PaidBy         UserID // debtor
	PaidByName     string
	PaidTo         UserID // creditor
	PaidToName     string
	Amount         decimal.Decimal
	Description    string
	DebtRecordID   DebtRecordID // first record touched by the settlement
	IdempotencyKey string
	CreatedAt      time.Time
}

// Involves reports whether the user paid or received the payment.
func (p DebtPayment) Involves(id UserID) bool {
	return p.PaidBy == id || p.PaidTo == id
}
