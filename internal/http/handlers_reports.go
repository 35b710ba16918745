package http

import (
	"net/http"
	"slices"
	"strconv"

	"cobranca/internal/ledger"
	"cobranca/internal/report"
	"cobranca/internal/services"
)

// handleHistory handles GET /api/history with the ledger filters.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	f, err := ParseHistoryFilter(r.URL.Query())
	if err != nil {
		DomainError(err).Write(w)
		return
	}
	entries, err := s.registry.History(r.Context(), f)
	if err != nil {
		writeError(w, r, "History query failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "total": len(entries)})
}

func (s *Server) handleHistoryCSV(w http.ResponseWriter, r *http.Request) {
	f, err := ParseHistoryFilter(r.URL.Query())
	if err != nil {
		DomainError(err).Write(w)
		return
	}
	entries, err := s.registry.History(r.Context(), f)
	if err != nil {
		writeError(w, r, "History export failed", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="historico.csv"`)
	if err := report.WriteCSV(w, slices.Values(entries)); err != nil {
		// Headers are gone; all that is left is to log.
		s.logger.ErrorContext(r.Context(), "CSV write failed", "error", err)
	}
}

// handleReportSummary returns the figures of the Reports page for the
// filtered ledger slice.
func (s *Server) handleReportSummary(w http.ResponseWriter, r *http.Request) {
	f, err := ParseHistoryFilter(r.URL.Query())
	if err != nil {
		DomainError(err).Write(w)
		return
	}
	entries, err := s.registry.History(r.Context(), f)
	if err != nil {
		writeError(w, r, "Report summary failed", err)
		return
	}
	debtors, err := s.registry.ListDebtors(r.Context(), services.DebtorFilter{})
	if err != nil {
		writeError(w, r, "Report summary failed", err)
		return
	}
	seq := slices.Values(entries)
	writeJSON(w, http.StatusOK, map[string]any{
		"period":          report.PeriodSummary(seq),
		"totalReceived":   report.TotalReceived(seq),
		"paymentRate":     report.PaymentRate(seq),
		"totalActiveDebt": report.TotalActiveDebt(debtors),
		"overdueCount":    report.OverdueCount(debtors),
	})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ref := s.registry.Today()
	d, err := s.dashboards.GetOrLoad(ref.String(), func() (report.Dashboard, error) {
		debtors, err := s.registry.ListDebtors(r.Context(), services.DebtorFilter{})
		if err != nil {
			return report.Dashboard{}, err
		}
		entries, err := s.registry.History(r.Context(), ledger.Filter{})
		if err != nil {
			return report.Dashboard{}, err
		}
		return report.BuildDashboard(debtors, entries, ref), nil
	})
	if err != nil {
		writeError(w, r, "Dashboard failed", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleTrend handles GET /api/trend?months=N.
func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	months, err := ParseMonths(r.URL.Query(), report.DefaultTrendMonths)
	if err != nil {
		DomainError(err).Write(w)
		return
	}
	ref := s.registry.Today()
	key := ref.String() + "/" + strconv.Itoa(months)
	points, err := s.trends.GetOrLoad(key, func() ([]report.MonthPoint, error) {
		entries, err := s.registry.History(r.Context(), ledger.Filter{})
		if err != nil {
			return nil, err
		}
		return report.MonthlyTrend(slices.Values(entries), ref, months), nil
	})
	if err != nil {
		writeError(w, r, "Trend failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"months": months, "points": points})
}
