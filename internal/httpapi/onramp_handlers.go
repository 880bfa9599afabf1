package httpapi

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/sswap/engine/internal/model"
	"github.com/sswap/engine/internal/onramp"
	"github.com/sswap/engine/internal/txstore"
)

func (s *Server) handleOnrampRate(w http.ResponseWriter, r *http.Request) {
	token := model.Token(r.URL.Query().Get("token"))
	if !token.Valid() {
		writeError(w, http.StatusBadRequest, "token must be STX or USDC", "")
		return
	}
	amount, err := decimal.NewFromString(r.URL.Query().Get("tokenAmount"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "tokenAmount must be a decimal number", "")
		return
	}

	snap := s.oracle.GetCurrent(r.Context())
	rate := snap.USDC.PriceNGN
	if token == model.TokenSTX {
		rate = snap.STX.PriceNGN
	}
	writeData(w, http.StatusOK, map[string]any{
		"token":       token,
		"tokenAmount": amount,
		"rateNGN":     rate,
		"netNGN":      amount.Mul(rate),
	})
}

func (s *Server) handleOnrampInitialize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token            model.Token     `json:"token"`
		TokenAmount      decimal.Decimal `json:"tokenAmount"`
		RecipientAddress string          `json:"recipientAddress"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body", "")
		return
	}

	tx, err := s.onramp.InitializeOnramp(r.Context(), onramp.InitializeOnrampRequest{
		Token:            req.Token,
		TokenAmount:      req.TokenAmount,
		RecipientAddress: req.RecipientAddress,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeData(w, http.StatusCreated, tx)
}

func (s *Server) handleOnrampWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body", "")
		return
	}
	signature := r.Header.Get("monnify-signature")
	if err := s.onramp.HandlePaymentWebhook(r.Context(), body, signature); err != nil {
		writeAppError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"received": true})
}

func (s *Server) handleOnrampStatus(w http.ResponseWriter, r *http.Request) {
	reference := mux.Vars(r)["reference"]
	tx, err := s.store.FindByReference(r.Context(), reference)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if tx == nil {
		writeError(w, http.StatusNotFound, "no such onramp reference", "")
		return
	}
	writeData(w, http.StatusOK, tx)
}

func (s *Server) handleOnrampHistory(w http.ResponseWriter, r *http.Request) {
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
		Direction: model.DirectionOnramp,
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
