package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/sswap/engine/internal/model"
)

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, s.oracle.GetCurrent(r.Context()))
}

func (s *Server) handlePriceByToken(w http.ResponseWriter, r *http.Request) {
	token := model.Token(mux.Vars(r)["token"])
	if !token.Valid() {
		writeError(w, http.StatusBadRequest, "token must be STX or USDC", "")
		return
	}
	snap := s.oracle.GetCurrent(r.Context())
	if token == model.TokenSTX {
		writeData(w, http.StatusOK, snap.STX)
		return
	}
	writeData(w, http.StatusOK, snap.USDC)
}

func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	token := model.Token(mux.Vars(r)["token"])
	if !token.Valid() {
		writeError(w, http.StatusBadRequest, "token must be STX or USDC", "")
		return
	}

	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 168 {
			writeError(w, http.StatusBadRequest, "hours must be between 1 and 168", "")
			return
		}
		hours = parsed
	}

	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	points, err := s.oracle.History(r.Context(), token, since)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeData(w, http.StatusOK, points)
}

func (s *Server) handlePriceRefresh(w http.ResponseWriter, r *http.Request) {
	snap := s.oracle.ForceRefresh(r.Context())
	writeData(w, http.StatusOK, snap)
}
