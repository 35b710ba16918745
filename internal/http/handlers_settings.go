package http

import (
	"net/http"

	"cobranca/internal/core"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.registry.Settings(r.Context())
	if err != nil {
		writeError(w, r, "Get settings failed", err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// handleSaveSettings replaces the settings; omitted fields become zero.
func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		DomainError(err).Write(w)
		return
	}
	rate, err := p.Number("interest_rate")
	if err != nil {
		DomainError(err).Write(w)
		return
	}
	fee, err := p.Number("installment_fee")
	if err != nil {
		DomainError(err).Write(w)
		return
	}
	saved, err := s.registry.SaveSettings(r.Context(), core.Settings{InterestRate: rate, InstallmentFee: fee})
	if err != nil {
		writeError(w, r, "Save settings failed", err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// handleDeleteAccount wipes debtors, debts, history and settings. The
// caller must confirm with ?confirm=true.
func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "true" {
		DomainError(core.NewValidationError("confirm=true is required to delete the account")).Write(w)
		return
	}
	res, err := s.registry.DeleteAccount(r.Context())
	if err != nil {
		writeError(w, r, "Delete account failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
