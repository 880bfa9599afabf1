package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/sswap/engine/internal/model"
	"github.com/sswap/engine/internal/sswaperr"
	"github.com/sswap/engine/internal/txstore"
)

// handleListTransactions serves the generic record view over both swap
// directions, reusing the same address/page/limit/status/token query shape
// as the direction-specific history endpoints.
func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	address := q.Get("address")
	if address == "" {
		writeError(w, http.StatusBadRequest, "address is required", "")
		return
	}
	page, limit := parsePageLimit(q)
	filter := txstore.AddressFilter{
		Status:    model.Status(q.Get("status")),
		Token:     model.Token(q.Get("token")),
		Direction: model.Direction(q.Get("direction")),
	}

	txs, err := s.store.FindByAddress(r.Context(), address, filter, page, limit)
	if err != nil {
		writeAppError(w, err)
		return
	}
	total, err := s.store.CountByAddress(r.Context(), address, filter)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"transactions": txs,
		"page":         page,
		"limit":        limit,
		"total":        total,
	})
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	tx, err := s.store.FindByID(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if tx == nil {
		writeError(w, http.StatusNotFound, "no such transaction", "")
		return
	}
	writeData(w, http.StatusOK, tx)
}

// handlePatchTransactionStatus is an operator escape hatch for the manual
// settlement/refund cases surfaced in meta.requiresManualSettlement — it
// only allows transitioning a record into a terminal status, guarded by the
// same internal key as confirm-receipt.
func (s *Server) handlePatchTransactionStatus(w http.ResponseWriter, r *http.Request) {
	if s.cfg.InternalAPIKey == "" || r.Header.Get("x-internal-key") != s.cfg.InternalAPIKey {
		writeError(w, http.StatusUnauthorized, "invalid or missing internal key", "")
		return
	}

	id := mux.Vars(r)["id"]
	var req struct {
		Status model.Status `json:"status"`
		Reason string       `json:"reason"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body", "")
		return
	}
	if req.Status != model.StatusConfirmed && req.Status != model.StatusFailed {
		writeError(w, http.StatusBadRequest, "status must be confirmed or failed", "")
		return
	}

	tx, err := s.store.FindByID(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if tx == nil {
		writeError(w, http.StatusNotFound, "no such transaction", "")
		return
	}
	if tx.Status.IsTerminal() {
		writeAppError(w, sswaperr.New(sswaperr.KindConflictOfState, "transaction is already in a terminal state"))
		return
	}

	status := req.Status
	updated, err := s.store.ConditionalUpdate(r.Context(), tx.Reference, tx.Status, txstore.Mutation{
		Status:    &status,
		MetaPatch: map[string]any{"manualOverrideReason": req.Reason},
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	if updated == nil {
		writeAppError(w, sswaperr.New(sswaperr.KindConflictOfState, "transaction status changed concurrently, retry"))
		return
	}
	writeData(w, http.StatusOK, updated)
}
