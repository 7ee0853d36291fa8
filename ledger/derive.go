/*
derive.go - Debt derivation: Expense -> DebtRecords

PURPOSE:
  Pure fan-out from one submitted expense to one active DebtRecord per
  (payer -> other participant) pair. Nothing here touches the store; the
  service writes the expense and its records in one transaction.

SPLIT:
  participants = all users (SplitAll) or payer + chosen subset.
  The payer counts in the denominator but never owes themself.

    100 split among {A(payer), B, C, D}: B, C, D each owe A 25.

BUY FOR:
  recipients = chosen subset minus payer, must be non-empty.
  The payer has no share.

    90 bought for {B, C}: B and C each owe A 45.

CONSERVATION:
  split:  sum(records) = amount - payerShare
  buyfor: sum(records) = amount
*/
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ExpenseRequest is one member's expense submission.
type ExpenseRequest struct {
	Type        ExpenseType
	Payer       UserID
	Amount      decimal.Decimal
	Description string

	// Participants are the chosen other members. For split the payer is
	// added automatically; for buyfor the payer is removed.
	Participants []UserID

	// SplitAll shares a split expense among every known user.
	SplitAll bool
}

// Derivation is the expense plus the debt records it creates.
type Derivation struct {
	Expense Expense
	Debts   []DebtRecord
}

// IDFunc generates a new unique identifier.
type IDFunc func() string

// DeriveDebts validates req against the user directory and computes the
// expense and its debt records. users must contain every known member.
func DeriveDebts(req ExpenseRequest, users []User, scale int32, newID IDFunc, now time.Time) (*Derivation, error) {
	if !req.Type.Valid() {
		return nil, invalid("type", "unknown expense type %q", req.Type)
	}
	if err := ValidateAmount(req.Amount, scale); err != nil {
		return nil, err
	}

	directory := make(map[UserID]User, len(users))
	for _, u := range users {
		directory[u.ID] = u
	}
	payer, ok := directory[req.Payer]
	if !ok {
		return nil, &NotFoundError{Kind: "user", ID: string(req.Payer)}
	}

	chosen, err := resolveParticipants(req, users, directory)
	if err != nil {
		return nil, err
	}

	desc := strings.TrimSpace(req.Description)
	expense := Expense{
		ID:            ExpenseID(newID()),
		CreatedBy:     payer.ID,
		CreatedByName: payer.Name(),
		Amount:        req.Amount,
		Type:          req.Type,
		CreatedAt:     now,
	}

	var shares []decimal.Decimal
	var debtors []UserID
	var recordDesc string

	switch req.Type {
	case ExpenseSplit:
		expense.Participants = append([]UserID{payer.ID}, chosen...)
		expense.Description = "[SPLIT] " + desc
		recordDesc = "Split: " + desc

		share := evenShare(req.Amount, len(expense.Participants), scale)
		expense.SplitAmount = share
		debtors = chosen
		shares = make([]decimal.Decimal, len(chosen))
		for i := range shares {
			shares[i] = share
		}

	case ExpenseBuyFor:
		if len(chosen) == 0 {
			return nil, invalid("participants", "select at least one person to buy for")
		}
		expense.Participants = chosen
		expense.Description = "[BUY FOR] " + desc
		recordDesc = "Buy for: " + desc

		expense.SplitAmount = evenShare(req.Amount, len(chosen), scale)
		debtors = chosen
		shares = allocate(req.Amount, len(chosen), scale)
	}

	debts := make([]DebtRecord, 0, len(debtors))
	for i, id := range debtors {
		if !shares[i].IsPositive() {
			return nil, invalid("amount", "%s is too small to share among %d people",
				req.Amount, len(expense.Participants))
		}
		debtor := directory[id]
		debts = append(debts, DebtRecord{
			ID:           DebtRecordID(newID()),
			Creditor:     payer.ID,
			CreditorName: payer.Name(),
			Debtor:       debtor.ID,
			DebtorName:   debtor.Name(),
			Amount:       shares[i],
			Description:  recordDesc,
			ExpenseID:    expense.ID,
			ExpenseType:  req.Type,
			Status:       StatusActive,
			CreatedAt:    now,
		})
	}

	return &Derivation{Expense: expense, Debts: debts}, nil
}

// resolveParticipants returns the deduplicated non-payer participants in
// request order (or directory order for SplitAll).
func resolveParticipants(req ExpenseRequest, users []User, directory map[UserID]User) ([]UserID, error) {
	ids := req.Participants
	if req.Type == ExpenseSplit && req.SplitAll {
		ids = make([]UserID, 0, len(users))
		for _, u := range users {
			ids = append(ids, u.ID)
		}
	}

	seen := map[UserID]bool{req.Payer: true}
	var out []UserID
	for _, id := range ids {
		if seen[id] {
			continue
		}
		if _, ok := directory[id]; !ok {
			return nil, &NotFoundError{Kind: "user", ID: string(id)}
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}

// PayerShare returns what the payer of a split expense carries themself:
// the amount minus everything the other participants owe.
func PayerShare(d *Derivation) decimal.Decimal {
	owed := decimal.Zero
	for _, r := range d.Debts {
		owed = owed.Add(r.Amount)
	}
	return d.Expense.Amount.Sub(owed)
}

func (r ExpenseRequest) String() string {
	return fmt.Sprintf("%s %s by %s for %v", r.Type, r.Amount, r.Payer, r.Participants)
}
