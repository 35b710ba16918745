package services

import (
	"cobranca/internal/core"
)

// DeriveStatus computes a debtor's status from its debts as of ref.
//
// Paid is sticky: once a debtor is settled only an explicit reactivation
// (see Registry.AddDebt) moves it again. A debtor with no debts is Active.
// Any debt whose due date falls strictly before ref makes the debtor Overdue;
// a debt due on ref itself is not late yet.
func DeriveStatus(debts []core.DebtItem, ref core.Date, current core.Status) core.Status {
	if current == core.StatusPaid {
		return core.StatusPaid
	}
	for _, item := range debts {
		if item.DueDate.IsBefore(ref) {
			return core.StatusOverdue
		}
	}
	return core.StatusActive
}
