package billing

import "github.com/shopspring/decimal"

// DeriveStatus is the status table of the invoice engine. Cancelled and draft
// are manual states and never change here. Overdue stays overdue until money
// arrives.
func DeriveStatus(current Status, total, paid decimal.Decimal, autoPayZero bool) Status {
	switch current {
	case StatusCancelled, StatusDraft:
		return current
	}
	if total.IsZero() {
		if autoPayZero {
			return StatusPaid
		}
		return unpaid(current)
	}
	switch {
	case paid.GreaterThanOrEqual(total):
		return StatusPaid
	case paid.IsPositive():
		return StatusPartiallyPaid
	default:
		return unpaid(current)
	}
}

func unpaid(current Status) Status {
	if current == StatusOverdue {
		return StatusOverdue
	}
	return StatusPending
}
