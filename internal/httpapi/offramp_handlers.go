package httpapi

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/sswap/engine/internal/model"
	"github.com/sswap/engine/internal/settlement"
	"github.com/sswap/engine/internal/txstore"
)

func (s *Server) handleOfframpBanks(w http.ResponseWriter, r *http.Request) {
	banks, err := s.payouts.ListBanks(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeData(w, http.StatusOK, banks)
}

func (s *Server) handleOfframpRate(w http.ResponseWriter, r *http.Request) {
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
		"grossNGN":    amount.Mul(rate),
	})
}

func (s *Server) handleOfframpLiquidity(w http.ResponseWriter, r *http.Request) {
	maxOrder, err := s.guard.GetMaxOrderNGN(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeData(w, http.StatusOK, maxOrder)
}

func (s *Server) handleOfframpVerifyAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BankCode      string `json:"bankCode"`
		AccountNumber string `json:"accountNumber"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body", "")
		return
	}
	account, err := s.payouts.ResolveAccount(r.Context(), req.BankCode, req.AccountNumber)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeData(w, http.StatusOK, account)
}

func (s *Server) handleOfframpInitialize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token         model.Token     `json:"token"`
		TokenAmount   decimal.Decimal `json:"tokenAmount"`
		SenderAddress string          `json:"senderAddress"`
		BankCode      string          `json:"bankCode"`
		AccountNumber string          `json:"accountNumber"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body", "")
		return
	}

	resp, err := s.settlement.InitializeOfframp(r.Context(), settlement.InitializeOfframpRequest{
		Token:         req.Token,
		TokenAmount:   req.TokenAmount,
		SenderAddress: req.SenderAddress,
		BankCode:      req.BankCode,
		AccountNumber: req.AccountNumber,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeData(w, http.StatusCreated, resp)
}

func (s *Server) handleOfframpNotifyTx(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reference string `json:"reference"`
		ChainTxID string `json:"chainTxId"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body", "")
		return
	}
	if err := s.settlement.NotifyTxBroadcast(r.Context(), req.Reference, req.ChainTxID); err != nil {
		writeAppError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"reference": req.Reference, "chainTxId": req.ChainTxID})
}

func (s *Server) handleOfframpConfirmReceipt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reference     string          `json:"reference"`
		ChainTxID     string          `json:"chainTxId"`
		TokenAmount   decimal.Decimal `json:"tokenAmount"`
		Token         model.Token     `json:"token"`
		SenderAddress string          `json:"senderAddress"`
	}
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body", "")
		return
	}

	outcome, tx, err := s.settlement.ConfirmReceipt(r.Context(), settlement.ConfirmReceiptRequest{
		Reference:     req.Reference,
		ChainTxID:     req.ChainTxID,
		TokenAmount:   req.TokenAmount,
		Token:         req.Token,
		SenderAddress: req.SenderAddress,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}

	status := http.StatusOK
	if outcome == settlement.OutcomePayoutInitiated {
		status = http.StatusCreated
	}
	writeData(w, status, tx)
}

func (s *Server) handleOfframpLencoWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body", "")
		return
	}
	signature := r.Header.Get("x-lenco-signature")
	if err := s.settlement.HandlePayoutWebhook(r.Context(), body, signature); err != nil {
		writeAppError(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"received": true})
}

func (s *Server) handleOfframpStatus(w http.ResponseWriter, r *http.Request) {
	reference := mux.Vars(r)["reference"]
	tx, err := s.store.FindByReference(r.Context(), reference)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if tx == nil {
		writeError(w, http.StatusNotFound, "no such offramp reference", "")
		return
	}
	writeData(w, http.StatusOK, tx)
}

func (s *Server) handleOfframpHistory(w http.ResponseWriter, r *http.Request) {
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
		Direction: model.DirectionOfframp,
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

// parsePageLimit reads zero-indexed page/limit query params, matching
// txstore's page*limit skip convention (internal/txstore/mongo.go).
func parsePageLimit(q interface{ Get(string) string }) (page, limit int) {
	page, limit = 0, 20
	if raw := q.Get("page"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			page = parsed
		}
	}
	if raw := q.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	return page, limit
}
