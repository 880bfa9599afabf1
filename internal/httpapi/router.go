// Package httpapi wires the HTTP surface (spec §6): a gorilla/mux router
// exposing health, price, offramp, onramp, and generic transaction routes
// over the settlement, onramp, and price-oracle cores.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sswap/engine/internal/liquidity"
	"github.com/sswap/engine/internal/onramp"
	"github.com/sswap/engine/internal/payout"
	"github.com/sswap/engine/internal/priceoracle"
	"github.com/sswap/engine/internal/settlement"
	"github.com/sswap/engine/internal/txstore"
)

// Config holds router-level tunables (spec §6's rate-limit and CORS env vars).
type Config struct {
	AllowedOrigin    string
	RateLimitWindow  time.Duration
	RateLimitMax     int
	InternalAPIKey   string
	StartedAt        time.Time
	Version          string
	Environment      string
}

// Server bundles every collaborator the HTTP layer dispatches into.
type Server struct {
	cfg        Config
	oracle     *priceoracle.Cache
	settlement *settlement.Engine
	onramp     *onramp.Orchestrator
	guard      *liquidity.Guard
	payouts    payout.Provider
	store      txstore.Store
	log        zerolog.Logger
}

func New(cfg Config, oracle *priceoracle.Cache, se *settlement.Engine, or *onramp.Orchestrator, guard *liquidity.Guard, payouts payout.Provider, store txstore.Store, log zerolog.Logger) *Server {
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now()
	}
	return &Server{cfg: cfg, oracle: oracle, settlement: se, onramp: or, guard: guard, payouts: payouts, store: store, log: log}
}

// Router builds the mux.Router with every route and middleware attached.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(s.corsMiddleware, s.rateLimitMiddleware())

	api.HandleFunc("/prices", s.handlePrices).Methods(http.MethodGet)
	api.HandleFunc("/prices/{token}", s.handlePriceByToken).Methods(http.MethodGet)
	api.HandleFunc("/prices/{token}/history", s.handlePriceHistory).Methods(http.MethodGet)
	api.HandleFunc("/prices/refresh", s.handlePriceRefresh).Methods(http.MethodPost)

	api.HandleFunc("/offramp/banks", s.handleOfframpBanks).Methods(http.MethodGet)
	api.HandleFunc("/offramp/rate", s.handleOfframpRate).Methods(http.MethodGet)
	api.HandleFunc("/offramp/liquidity", s.handleOfframpLiquidity).Methods(http.MethodGet)
	api.HandleFunc("/offramp/verify-account", s.handleOfframpVerifyAccount).Methods(http.MethodPost)
	api.HandleFunc("/offramp/initialize", s.handleOfframpInitialize).Methods(http.MethodPost)
	api.HandleFunc("/offramp/notify-tx", s.handleOfframpNotifyTx).Methods(http.MethodPost)
	api.Handle("/offramp/confirm-receipt", s.internalKeyMiddleware(http.HandlerFunc(s.handleOfframpConfirmReceipt))).Methods(http.MethodPost)
	api.HandleFunc("/offramp/lenco-webhook", s.handleOfframpLencoWebhook).Methods(http.MethodPost)
	api.HandleFunc("/offramp/status/{reference}", s.handleOfframpStatus).Methods(http.MethodGet)
	api.HandleFunc("/offramp/history", s.handleOfframpHistory).Methods(http.MethodGet)

	api.HandleFunc("/onramp/rate", s.handleOnrampRate).Methods(http.MethodGet)
	api.HandleFunc("/onramp/initialize", s.handleOnrampInitialize).Methods(http.MethodPost)
	api.HandleFunc("/onramp/monnify-webhook", s.handleOnrampWebhook).Methods(http.MethodPost)
	api.HandleFunc("/onramp/status/{reference}", s.handleOnrampStatus).Methods(http.MethodGet)
	api.HandleFunc("/onramp/history", s.handleOnrampHistory).Methods(http.MethodGet)

	api.HandleFunc("/transactions", s.handleListTransactions).Methods(http.MethodGet)
	api.HandleFunc("/transactions/{id}", s.handleGetTransaction).Methods(http.MethodGet)
	api.HandleFunc("/transactions/{id}/status", s.handlePatchTransactionStatus).Methods(http.MethodPatch)

	return router
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := s.cfg.AllowedOrigin
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, x-internal-key, x-lenco-signature")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware applies a single process-wide token bucket sized from
// RATE_LIMIT_WINDOW_MS/RATE_LIMIT_MAX — the edge limiter named in spec §6,
// not a per-client limiter (no client-identity surface is specified).
func (s *Server) rateLimitMiddleware() mux.MiddlewareFunc {
	window := s.cfg.RateLimitWindow
	if window == 0 {
		window = time.Minute
	}
	max := s.cfg.RateLimitMax
	if max == 0 {
		max = 100
	}
	limiter := rate.NewLimiter(rate.Limit(float64(max)/window.Seconds()), max)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) internalKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.InternalAPIKey == "" || r.Header.Get("x-internal-key") != s.cfg.InternalAPIKey {
			writeError(w, http.StatusUnauthorized, "invalid or missing internal key", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"version": s.cfg.Version,
			"env":     s.cfg.Environment,
			"uptime":  time.Since(s.cfg.StartedAt).String(),
			"timestamp": time.Now().UTC(),
		},
	})
}
