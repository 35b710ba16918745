// Package report computes read-only projections over debtor and ledger
// snapshots: dashboard figures, the monthly payment trend and exports.
package report

import (
	"iter"
	"math"
	"slices"

	"cobranca/internal/core"
)

// DefaultTrendMonths is how many months MonthlyTrend covers when asked for none.
const DefaultTrendMonths = 6

var monthLabels = [...]string{"Jan", "Fev", "Mar", "Abr", "Mai", "Jun", "Jul", "Ago", "Set", "Out", "Nov", "Dez"}

// MonthPoint is one bucket of the payment trend.
type MonthPoint struct {
	Month         string  `json:"month"` // YYYY-MM
	Label         string  `json:"label"`
	TotalPayments float64 `json:"totalPayments"`
}

// TotalActiveDebt sums every debt of every debtor, whatever its status.
func TotalActiveDebt(debtors []core.Debtor) float64 {
	var sum float64
	for _, d := range debtors {
		sum += d.Total()
	}
	return sum
}

// TotalReceived sums the amounts of Payment entries.
func TotalReceived(entries iter.Seq[core.HistoryEntry]) float64 {
	var sum float64
	for e := range entries {
		if e.Type == core.EntryPayment {
			sum += e.Amount
		}
	}
	return sum
}

func OverdueCount(debtors []core.Debtor) int {
	n := 0
	for _, d := range debtors {
		if d.Status == core.StatusOverdue {
			n++
		}
	}
	return n
}

// PaymentRate is the share of Payment entries in the ledger as a whole
// percentage. An empty ledger yields 0.
func PaymentRate(entries iter.Seq[core.HistoryEntry]) int {
	var total, payments int
	for e := range entries {
		total++
		if e.Type == core.EntryPayment {
			payments++
		}
	}
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(payments) / float64(total) * 100))
}

// MonthlyTrend sums payments per calendar month for the monthsBack months
// ending with ref's month, oldest first. Months without payments report 0.
func MonthlyTrend(entries iter.Seq[core.HistoryEntry], ref core.Date, monthsBack int) []MonthPoint {
	if monthsBack <= 0 {
		monthsBack = DefaultTrendMonths
	}
	points := make([]MonthPoint, monthsBack)
	index := make(map[string]int, monthsBack)
	for i := range points {
		m := ref.AddMonths(i - monthsBack + 1)
		key := m.Format("2006-01")
		points[i] = MonthPoint{Month: key, Label: monthLabels[m.Month()-1]}
		index[key] = i
	}
	for e := range entries {
		if e.Type != core.EntryPayment {
			continue
		}
		if i, ok := index[e.Date.Format("2006-01")]; ok {
			points[i].TotalPayments += e.Amount
		}
	}
	return points
}

// Period holds the debts-versus-payments totals of a filtered ledger slice.
type Period struct {
	TotalDebts    float64 `json:"totalDebts"`
	TotalPayments float64 `json:"totalPayments"`
	Entries       int     `json:"entries"`
}

func PeriodSummary(entries iter.Seq[core.HistoryEntry]) Period {
	var p Period
	for e := range entries {
		p.Entries++
		switch e.Type {
		case core.EntryDebt:
			p.TotalDebts += e.Amount
		case core.EntryPayment:
			p.TotalPayments += e.Amount
		}
	}
	return p
}

const recentActivity = 5

// Dashboard is the snapshot behind the overview page.
type Dashboard struct {
	TotalActiveDebt float64             `json:"totalActiveDebt"`
	TotalReceived   float64             `json:"totalReceived"`
	OverdueCount    int                 `json:"overdueCount"`
	DebtorCount     int                 `json:"debtorCount"`
	PaymentRate     int                 `json:"paymentRate"`
	Trend           []MonthPoint        `json:"trend"`
	Recent          []core.HistoryEntry `json:"recent"`
}

// BuildDashboard expects entries in canonical ledger order (newest first).
func BuildDashboard(debtors []core.Debtor, entries []core.HistoryEntry, ref core.Date) Dashboard {
	seq := slices.Values(entries)
	recent := entries
	if len(recent) > recentActivity {
		recent = recent[:recentActivity]
	}
	return Dashboard{
		TotalActiveDebt: TotalActiveDebt(debtors),
		TotalReceived:   TotalReceived(seq),
		OverdueCount:    OverdueCount(debtors),
		DebtorCount:     len(debtors),
		PaymentRate:     PaymentRate(seq),
		Trend:           MonthlyTrend(seq, ref, DefaultTrendMonths),
		Recent:          append([]core.HistoryEntry{}, recent...),
	}
}
