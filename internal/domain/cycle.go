/**
 * @description
 * Billing-date arithmetic. All billing comparisons are by calendar date,
 * never by timestamp, so every function here truncates to midnight UTC.
 */

package domain

import "time"

// BillingCycle is the recurrence unit of a plan.
type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleYearly  BillingCycle = "yearly"
)

// TotalDays returns the fixed day count used for proration. The 30/365
// approximation is deliberate; proration never uses actual month lengths.
func (c BillingCycle) TotalDays() int {
	if c == CycleMonthly {
		return 30
	}
	return 365
}

// Valid reports whether the cycle is one the biller understands.
func (c BillingCycle) Valid() bool {
	return c == CycleMonthly || c == CycleYearly
}

// DateOnly truncates a timestamp to its calendar date in UTC.
func DateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NextBillingDate computes the date the next invoice falls due.
//
// Monthly adds one calendar month and yearly one calendar year, using Go's
// AddDate normalization for month-end overflow (Jan 31 + 1 month lands in
// early March rather than clamping to Feb 28). An unsupported cycle returns
// the input unchanged; callers must treat an unmoved date as an invalid
// cycle signal, not a computed result.
func NextBillingDate(cycle BillingCycle, from time.Time) time.Time {
	from = DateOnly(from)
	switch cycle {
	case CycleMonthly:
		return from.AddDate(0, 1, 0)
	case CycleYearly:
		return from.AddDate(1, 0, 0)
	default:
		return from
	}
}

// DaysBetween returns the number of whole days from a to b. Negative when b
// precedes a.
func DaysBetween(a, b time.Time) int {
	return int(DateOnly(b).Sub(DateOnly(a)).Hours() / 24)
}
