package http

import (
	"fmt"
	"net/http"
	"strings"

	"cobranca/internal/core"
	"cobranca/internal/services"

	"github.com/go-chi/chi/v5"
)

// handleListDebtors handles GET /api/debtors?status=&q=.
func (s *Server) handleListDebtors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := services.DebtorFilter{
		Status: core.Status(strings.TrimSpace(q.Get("status"))),
		Search: sanitizeInput(q.Get("q")),
	}
	if f.Status != "" && !f.Status.IsValid() {
		DomainError(fieldError("status", fmt.Errorf("unknown status %q", f.Status))).Write(w)
		return
	}
	debtors, err := s.registry.ListDebtors(r.Context(), f)
	if err != nil {
		writeError(w, r, "List debtors failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"debtors": debtors, "total": len(debtors)})
}

// handleCreateDebtor handles POST /api/debtors. The body carries the debtor
// fields and the initial debt.
func (s *Server) handleCreateDebtor(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		DomainError(err).Write(w)
		return
	}
	item, err := p.DebtItem()
	if err != nil {
		DomainError(err).Write(w)
		return
	}
	d, err := s.registry.CreateDebtor(r.Context(), services.NewDebtorInput{
		Name:        p.Get("name"),
		Email:       p.Get("email"),
		Phone:       p.Get("phone"),
		Avatar:      p.Get("avatar"),
		InitialDebt: item,
	})
	if err != nil {
		writeError(w, r, "Create debtor failed", err)
		return
	}
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/debtors/"+d.ID).
		Body(d).
		Write(w)
}

func (s *Server) handleGetDebtor(w http.ResponseWriter, r *http.Request) {
	d, err := s.registry.GetDebtor(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "Get debtor failed", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleDeleteDebtor removes the debtor and its debts; its history stays.
func (s *Server) handleDeleteDebtor(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.DeleteDebtor(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, "Delete debtor failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddDebt(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		DomainError(err).Write(w)
		return
	}
	item, err := p.DebtItem()
	if err != nil {
		DomainError(err).Write(w)
		return
	}
	d, err := s.registry.AddDebt(r.Context(), chi.URLParam(r, "id"), item)
	if err != nil {
		writeError(w, r, "Add debt failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// handleSettle clears every debt of the debtor and records the payment.
func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		DomainError(err).Write(w)
		return
	}
	amount, err := p.Amount("amount")
	if err != nil {
		DomainError(err).Write(w)
		return
	}
	entry, err := s.registry.SettleDebt(r.Context(), chi.URLParam(r, "id"), amount, p.Get("description"))
	if err != nil {
		writeError(w, r, "Settle debt failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// handleSweep recomputes statuses against the given date, today by default.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		DomainError(err).Write(w)
		return
	}
	ref, err := p.Date("date")
	if err != nil {
		DomainError(err).Write(w)
		return
	}
	if ref.IsZero() {
		ref = s.registry.Today()
	}
	changed, err := s.registry.SweepOverdue(r.Context(), ref)
	if err != nil {
		writeError(w, r, "Sweep failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": ref, "changed": changed})
}
