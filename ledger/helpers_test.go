package ledger_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/warp/debt-ledger/ledger"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var t0 = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func amt(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, got.Equal(amt(want)), "want %s, got %s", want, got)
}

// seqIDs returns deterministic ids: prefix-1, prefix-2, ...
func seqIDs(prefix string) ledger.IDFunc {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

// tickingClock advances one second per call.
func tickingClock(start time.Time) func() time.Time {
	now := start
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

func members(ids ...string) []ledger.User {
	users := make([]ledger.User, len(ids))
	for i, id := range ids {
		users[i] = ledger.User{ID: ledger.UserID(id), DisplayName: "User " + id}
	}
	return users
}

func activeRecord(id, creditor, debtor, amount string, createdAt time.Time) ledger.DebtRecord {
	return ledger.DebtRecord{
		ID:        ledger.DebtRecordID(id),
		Creditor:  ledger.UserID(creditor),
		Debtor:    ledger.UserID(debtor),
		Amount:    amt(amount),
		Status:    ledger.StatusActive,
		CreatedAt: createdAt,
	}
}
