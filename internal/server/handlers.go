package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"invoicechain/internal/journal"
	"invoicechain/internal/wallet"
)

type verifyRequest struct {
	InvoiceNumber string `json:"invoice_number"`
}

type issueRequest struct {
	InvoiceIDs []string `json:"invoice_ids"`
}

// ListInvoices returns the current snapshot, optionally filtered by ?search=.
func (s *Server) ListInvoices(w http.ResponseWriter, r *http.Request) {
	invoices := s.svc.Store.Search(r.URL.Query().Get("search"))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"invoices":     invoices,
		"processing":   s.svc.Guard.IDs(),
		"refreshed_at": s.svc.Store.RefreshedAt(),
	})
}

// RefreshInvoices reloads the snapshot from the backend.
func (s *Server) RefreshInvoices(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Store.Refresh(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"invoices": len(s.svc.Store.List())})
}

// VerifyInvoice starts a verification and returns once the transaction is
// broadcast. The request blocks while the signature awaits approval.
func (s *Server) VerifyInvoice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.InvoiceNumber) == "" {
		http.Error(w, "invoice_number is required", http.StatusBadRequest)
		return
	}

	attempt, err := s.svc.Orchestrator.Verify(r.Context(), req.InvoiceNumber, id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if attempt == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"invoice_id": id, "skipped": true})
		return
	}
	writeJSON(w, http.StatusAccepted, attempt.View())
}

// IssueInvoices issues the given verified invoices in one batch.
func (s *Server) IssueInvoices(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if err := s.svc.Issuer.Issue(r.Context(), req.InvoiceIDs); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"issued": req.InvoiceIDs})
}

// ListAttempts returns attempts still waiting for settlement.
func (s *Server) ListAttempts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Watcher.Pending())
}

// ListOutcomes returns recently settled attempts.
func (s *Server) ListOutcomes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Watcher.Outcomes())
}

// ListNotices returns recent operator notices.
func (s *Server) ListNotices(w http.ResponseWriter, _ *http.Request) {
	if s.notices == nil {
		writeJSON(w, http.StatusOK, []interface{}{})
		return
	}
	writeJSON(w, http.StatusOK, s.notices.Notices())
}

// ListApprovals returns signature requests waiting for a decision.
func (s *Server) ListApprovals(w http.ResponseWriter, _ *http.Request) {
	if s.approvals == nil {
		http.Error(w, "approvals are not handled by this server", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.approvals.Pending())
}

func (s *Server) decide(approve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.approvals == nil {
			http.Error(w, "approvals are not handled by this server", http.StatusNotFound)
			return
		}
		id := chi.URLParam(r, "id")
		if err := s.approvals.Decide(id, approve); err != nil {
			if errors.Is(err, wallet.ErrNoPendingApproval) {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"correlation_id": id, "approved": approve})
	}
}

// ListDivergences returns open journal entries.
func (s *Server) ListDivergences(w http.ResponseWriter, r *http.Request) {
	if s.reconciler == nil {
		writeJSON(w, http.StatusOK, []interface{}{})
		return
	}
	entries, err := s.reconciler.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// RetryDivergence re-runs backend verification for one journal entry.
func (s *Server) RetryDivergence(w http.ResponseWriter, r *http.Request) {
	if s.reconciler == nil {
		http.Error(w, "reconciliation is not configured", http.StatusNotFound)
		return
	}
	result, err := s.reconciler.Retry(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, journal.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case result == nil && err != nil:
		writeError(w, http.StatusInternalServerError, err)
	case err != nil:
		writeJSON(w, http.StatusConflict, map[string]interface{}{"result": result, "error": err.Error()})
	default:
		writeJSON(w, http.StatusOK, result)
	}
}
