/*
allocate.go - Amount parsing and the rounding policy

ROUNDING POLICY:
  Amounts live at a fixed scale S (decimal places of the currency's minor
  unit; 0 for VND, 2 for EUR). An amount with more than S places is rejected.

  Dividing A among n people:
    base      = truncate(A / n, S)
    remainder = A - base*n            (0 <= remainder < n minor units)

  split:  every non-payer owes base; the payer absorbs the remainder.
  buyfor: the remainder is handed out one minor unit at a time to the first
          recipients, so the shares sum to A exactly.
*/
package ledger

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultScale is the minor-unit precision used when none is configured.
const DefaultScale int32 = 0

// ParseAmount parses a positive decimal amount with at most scale places.
func ParseAmount(s string, scale int32) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, invalid("amount", "amount is required")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, invalid("amount", "%q is not a number", s)
	}
	if err := ValidateAmount(d, scale); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// ValidateAmount checks that d is positive and representable at scale.
func ValidateAmount(d decimal.Decimal, scale int32) error {
	if !d.IsPositive() {
		return invalid("amount", "amount must be positive, got %s", d)
	}
	if !d.Equal(d.Truncate(scale)) {
		return invalid("amount", "amount %s has more than %d decimal places", d, scale)
	}
	return nil
}

// allocate splits total into n shares at scale. The first shares receive the
// extra minor units, so sum(shares) == total.
func allocate(total decimal.Decimal, n int, scale int32) []decimal.Decimal {
	if n <= 0 {
		return nil
	}
	count := decimal.NewFromInt(int64(n))
	base := total.Div(count).Truncate(scale)
	unit := decimal.New(1, -scale)
	extra := total.Sub(base.Mul(count)).Div(unit).IntPart()

	shares := make([]decimal.Decimal, n)
	for i := range shares {
		shares[i] = base
		if int64(i) < extra {
			shares[i] = base.Add(unit)
		}
	}
	return shares
}

// evenShare returns the truncated per-person share of total among n people.
func evenShare(total decimal.Decimal, n int, scale int32) decimal.Decimal {
	return total.Div(decimal.NewFromInt(int64(n))).Truncate(scale)
}

// Sum adds up amounts.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
