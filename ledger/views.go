/*
views.go - Read-side projections over the live record set

PURPOSE:
  Pure functions recomputed from a full snapshot on every change. No
  incremental state, so a view can never drift from the records.

VIEWS:
  OwedToMe(u): active records with creditor = u, grouped by debtor
  IOwe(u):     active records with debtor = u, grouped by creditor
  Summary(u):  both totals and the net
  Timeline:    expenses + payments merged, newest first

GROUP ORDER:
  Counterparty groups are sorted by total descending, then by user id, so two
  calls over the same records always agree.
*/
package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// WHO OWES WHOM
// =============================================================================

// CounterpartyTotal is the active debt between one user and one counterparty.
type CounterpartyTotal struct {
	UserID  UserID
	Name    string
	Total   decimal.Decimal
	Records []DebtRecord // active records making up Total, in input order
}

// OwedToMe groups the active records where userID is the creditor by debtor.
func OwedToMe(userID UserID, records []DebtRecord) []CounterpartyTotal {
	return groupActive(records,
		func(r DebtRecord) bool { return r.Creditor == userID },
		func(r DebtRecord) (UserID, string) { return r.Debtor, r.DebtorName })
}

// IOwe groups the active records where userID is the debtor by creditor.
func IOwe(userID UserID, records []DebtRecord) []CounterpartyTotal {
	return groupActive(records,
		func(r DebtRecord) bool { return r.Debtor == userID },
		func(r DebtRecord) (UserID, string) { return r.Creditor, r.CreditorName })
}

func groupActive(records []DebtRecord, keep func(DebtRecord) bool, key func(DebtRecord) (UserID, string)) []CounterpartyTotal {
	groups := make(map[UserID]*CounterpartyTotal)
	var order []UserID
	for _, r := range records {
		if !r.IsActive() || !keep(r) {
			continue
		}
		id, name := key(r)
		g, ok := groups[id]
		if !ok {
			g = &CounterpartyTotal{UserID: id, Name: name, Total: decimal.Zero}
			groups[id] = g
			order = append(order, id)
		}
		g.Total = g.Total.Add(r.Amount)
		g.Records = append(g.Records, r)
	}

	out := make([]CounterpartyTotal, 0, len(order))
	for _, id := range order {
		if g := groups[id]; g.Total.IsPositive() {
			out = append(out, *g)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Total.Equal(out[j].Total) {
			return out[i].Total.GreaterThan(out[j].Total)
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// BalanceSummary is one user's position against everyone else.
type BalanceSummary struct {
	UserID        UserID
	TotalOwedToMe decimal.Decimal
	TotalIOwe     decimal.Decimal
	Net           decimal.Decimal // positive = others owe this user
	OwedToMe      []CounterpartyTotal
	IOwe          []CounterpartyTotal
}

// Summarize computes the balance summary of userID.
func Summarize(userID UserID, records []DebtRecord) BalanceSummary {
	s := BalanceSummary{
		UserID:   userID,
		OwedToMe: OwedToMe(userID, records),
		IOwe:     IOwe(userID, records),
	}
	s.TotalOwedToMe = sumTotals(s.OwedToMe)
	s.TotalIOwe = sumTotals(s.IOwe)
	s.Net = s.TotalOwedToMe.Sub(s.TotalIOwe)
	return s
}

func sumTotals(groups []CounterpartyTotal) decimal.Decimal {
	total := decimal.Zero
	for _, g := range groups {
		total = total.Add(g.Total)
	}
	return total
}

// =============================================================================
// TIMELINE
// =============================================================================

type EntryKind string

const (
	KindExpense EntryKind = "expense"
	KindPayment EntryKind = "payment"
)

// TimelineEntry is either an expense or a payment, tagged by Kind.
type TimelineEntry struct {
	Kind      EntryKind
	CreatedAt time.Time
	Expense   *Expense
	Payment   *DebtPayment
}

// Timeline merges expenses and payments newest first. Entries with equal
// CreatedAt keep their input order, expenses before payments. When forUser
// is non-empty only entries involving that user are kept.
func Timeline(expenses []Expense, payments []DebtPayment, forUser UserID) []TimelineEntry {
	entries := make([]TimelineEntry, 0, len(expenses)+len(payments))
	for i := range expenses {
		e := expenses[i]
		if forUser != "" && !e.Involves(forUser) {
			continue
		}
		entries = append(entries, TimelineEntry{Kind: KindExpense, CreatedAt: e.CreatedAt, Expense: &e})
	}
	for i := range payments {
		p := payments[i]
		if forUser != "" && !p.Involves(forUser) {
			continue
		}
		entries = append(entries, TimelineEntry{Kind: KindPayment, CreatedAt: p.CreatedAt, Payment: &p})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries
}
