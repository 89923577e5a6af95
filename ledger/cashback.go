/*
cashback.go - Cashback computation

PURPOSE:
  Computes the cashback owed on payments as of a query timestamp. The rate
  is fixed at 2%, rounded down to the nearest integer minor unit.

ACCOUNTING MODEL:
  Cashback is ADDITIVE: it is reported on top of the stored balance by every
  read path (deposit, transfer, point-in-time query) and is never persisted
  into the stored balance. Recomputing the sum on every query avoids double
  counting across repeated reads; the sum ranges over a small, per-account,
  time-bounded set.

TWO ROUNDING PATHS:
  aggregateCashback: sum the eligible payment amounts, floor ONCE on the
    aggregate. Used by the ordinary read paths and by point-in-time queries
    over short histories.
  perEntryCashback: floor each eligible payment's 2% individually, then sum.
    Used by point-in-time queries over histories of nine or more entries.
  The two paths can legitimately disagree by a few minor units: independent
  flooring loses more rounding residue than a single aggregate floor. Both
  are preserved exactly; see bank.go for where the threshold applies.

SEE ALSO:
  - bank.go: GetBalance step that selects between the two paths
*/
package ledger

import "github.com/shopspring/decimal"

// cashbackRate is 2%, exact.
var cashbackRate = decimal.New(2, -2)

// cashbackOn returns floor(paid * 0.02) for a positive paid total in minor
// units.
func cashbackOn(paid int64) int64 {
	return decimal.NewFromInt(paid).Mul(cashbackRate).Floor().IntPart()
}

// eligible reports whether the entry is a payment whose waiting period has
// elapsed as of asOf.
func eligible(e JournalEntry, asOf Millis) bool {
	return e.Kind == KindPayment && e.CashbackEligibleAt.BeforeOrEqual(asOf)
}

// aggregateCashback sums the eligible payment amounts and floors once on
// the aggregate. Payment amounts are stored negative, so the sum is negated
// before applying the rate. Returns 0 when nothing is eligible.
func aggregateCashback(entries []JournalEntry, asOf Millis) int64 {
	var sum int64
	for _, e := range entries {
		if eligible(e, asOf) {
			sum += e.Amount
		}
	}
	if sum == 0 {
		return 0
	}
	return cashbackOn(-sum)
}

// perEntryCashback floors each eligible payment's 2% individually, then
// sums the floors.
func perEntryCashback(entries []JournalEntry, asOf Millis) int64 {
	var total int64
	for _, e := range entries {
		if eligible(e, asOf) {
			total += cashbackOn(-e.Amount)
		}
	}
	return total
}
