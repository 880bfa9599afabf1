// Package payout implements C3: a thin client over the NGN bank-payout
// provider (Lenco-shaped contract per spec §4.3).
package payout

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/sswap/engine/internal/sswaperr"
)

// Bank is a supported payout destination bank.
type Bank struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// TransferResult is the response to InitiateTransfer.
type TransferResult struct {
	TransferID        string `json:"transferId"`
	ProviderReference string `json:"providerReference"`
	Status            string `json:"status"`
}

// AccountDetails is the response to ResolveAccount.
type AccountDetails struct {
	AccountName string `json:"accountName"`
	BankName    string `json:"bankName"`
}

// Provider is the C3 contract, grounded on pkg/payment/offramp's Provider
// interface but narrowed to the single Lenco-shaped NGN rail spec §4.3 names.
type Provider interface {
	ResolveAccount(ctx context.Context, bankCode, accountNumber string) (AccountDetails, error)
	ListBanks(ctx context.Context) ([]Bank, error)
	InitiateTransfer(ctx context.Context, amountNGN int64, bankCode, accountNumber, reference string) (TransferResult, error)
	GetAccountBalance(ctx context.Context) (balance int64, known bool, err error)
	VerifyWebhookSignature(rawBody []byte, signatureHeader string) bool
	InvalidateBalanceCache()
}

// Config holds the provider's credentials and tunables.
type Config struct {
	BaseURL       string
	APIKey        string
	AccountID     string
	WebhookSecret string
}

// fintechPriority orders the most commonly used Nigerian fintech banks first
// in ListBanks, per spec §8's "fintech-priority list" round-trip property.
var fintechPriority = []string{"090267", "090405", "100033", "120001"}

// LencoProvider is the concrete Provider implementation.
type LencoProvider struct {
	cfg     Config
	client  httpDoer
	log     zerolog.Logger
	breaker *gobreaker.CircuitBreaker

	banksMu     sync.RWMutex
	banksCache  []Bank
	banksAt     time.Time

	balanceMu    sync.RWMutex
	balanceCache int64
	balanceKnown bool
	balanceAt    time.Time
}

type httpDoer interface {
	Do(req *httpRequest) (*httpResponse, error)
}

// NewLencoProvider builds the client. The HTTP transport is injected via
// newHTTPDoer (http.go) so tests can substitute a fake without a live server.
func NewLencoProvider(cfg Config, log zerolog.Logger) *LencoProvider {
	return &LencoProvider{
		cfg: cfg,
		log: log,
		client: newHTTPDoer(cfg.BaseURL, cfg.APIKey, 15*time.Second),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "payout-provider",
			MaxRequests: 2,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
		}),
	}
}

func (p *LencoProvider) ResolveAccount(ctx context.Context, bankCode, accountNumber string) (AccountDetails, error) {
	resp, err := p.doWithBreaker(ctx, "GET", fmt.Sprintf("/accounts/resolve?bankCode=%s&accountNumber=%s", bankCode, accountNumber), nil, 15*time.Second)
	if err != nil {
		return AccountDetails{}, sswaperr.Wrap(sswaperr.KindUpstreamUnavailable, err, "bank account verification failed")
	}
	if resp.StatusCode >= 400 {
		return AccountDetails{}, sswaperr.WithCode(sswaperr.KindValidation, "BANK_VERIFICATION_FAILED", resp.bodyString())
	}
	var out AccountDetails
	if err := resp.decodeJSON(&out); err != nil {
		return AccountDetails{}, sswaperr.Wrap(sswaperr.KindUpstreamUnavailable, err, "malformed account resolution response")
	}
	return out, nil
}

func (p *LencoProvider) ListBanks(ctx context.Context) ([]Bank, error) {
	p.banksMu.RLock()
	if p.banksCache != nil && time.Since(p.banksAt) < 24*time.Hour {
		cached := p.banksCache
		p.banksMu.RUnlock()
		return cached, nil
	}
	p.banksMu.RUnlock()

	resp, err := p.doWithBreaker(ctx, "GET", "/banks", nil, 15*time.Second)
	if err != nil {
		return nil, sswaperr.Wrap(sswaperr.KindUpstreamUnavailable, err, "failed to list banks")
	}
	if resp.StatusCode >= 400 {
		return nil, sswaperr.WithCode(sswaperr.KindUpstreamUnavailable, "", resp.bodyString())
	}
	var banks []Bank
	if err := resp.decodeJSON(&banks); err != nil {
		return nil, sswaperr.Wrap(sswaperr.KindUpstreamUnavailable, err, "malformed bank list response")
	}
	banks = sortFintechFirst(banks)

	p.banksMu.Lock()
	p.banksCache = banks
	p.banksAt = time.Now()
	p.banksMu.Unlock()
	return banks, nil
}

func sortFintechFirst(banks []Bank) []Bank {
	priority := make(map[string]int, len(fintechPriority))
	for i, code := range fintechPriority {
		priority[code] = i
	}
	out := make([]Bank, len(banks))
	copy(out, banks)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0; j-- {
			pi, iok := priority[out[j].Code]
			pj, jok := priority[out[j-1].Code]
			swap := false
			switch {
			case iok && jok:
				swap = pi < pj
			case iok && !jok:
				swap = true
			}
			if !swap {
				break
			}
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func (p *LencoProvider) InitiateTransfer(ctx context.Context, amountNGN int64, bankCode, accountNumber, reference string) (TransferResult, error) {
	payload := map[string]any{
		"amount":        fmt.Sprintf("%d", amountNGN),
		"bankCode":      bankCode,
		"accountNumber": accountNumber,
		"reference":     reference,
	}
	resp, err := p.doWithBreaker(ctx, "POST", "/transfers", payload, 30*time.Second)
	if err != nil {
		return TransferResult{}, sswaperr.PayoutFailure(err, err.Error())
	}
	if resp.StatusCode >= 300 {
		return TransferResult{}, sswaperr.PayoutFailure(nil, resp.bodyString())
	}
	var out TransferResult
	if err := resp.decodeJSON(&out); err != nil {
		return TransferResult{}, sswaperr.PayoutFailure(err, "malformed transfer response")
	}

	p.InvalidateBalanceCache()
	return out, nil
}

func (p *LencoProvider) GetAccountBalance(ctx context.Context) (int64, bool, error) {
	p.balanceMu.RLock()
	if p.balanceKnown && time.Since(p.balanceAt) < 30*time.Second {
		bal := p.balanceCache
		p.balanceMu.RUnlock()
		return bal, true, nil
	}
	p.balanceMu.RUnlock()

	resp, err := p.doWithBreaker(ctx, "GET", "/accounts/balance", nil, 10*time.Second)
	if err != nil {
		return 0, false, sswaperr.Wrap(sswaperr.KindUpstreamUnavailable, err, "balance unreachable")
	}
	if resp.StatusCode >= 400 {
		return 0, false, sswaperr.WithCode(sswaperr.KindUpstreamUnavailable, "", resp.bodyString())
	}
	var body struct {
		BalanceKobo int64 `json:"balanceKobo"`
	}
	if err := resp.decodeJSON(&body); err != nil {
		return 0, false, sswaperr.Wrap(sswaperr.KindUpstreamUnavailable, err, "malformed balance response")
	}
	ngn := body.BalanceKobo / 100

	p.balanceMu.Lock()
	p.balanceCache = ngn
	p.balanceKnown = true
	p.balanceAt = time.Now()
	p.balanceMu.Unlock()

	return ngn, true, nil
}

// InvalidateBalanceCache is called immediately after a payout is initiated
// (spec §9 "Liquidity cache invalidation") — before the caller returns, to
// avoid a bursty-init correctness hazard under the 30s TTL.
func (p *LencoProvider) InvalidateBalanceCache() {
	p.balanceMu.Lock()
	p.balanceKnown = false
	p.balanceMu.Unlock()
}

// VerifyWebhookSignature computes an HMAC-SHA256 over the raw body bytes
// and compares in constant time (spec §4.3.5). It deliberately does not
// re-serialize the body: the signature is over exactly what was received.
func (p *LencoProvider) VerifyWebhookSignature(rawBody []byte, signatureHeader string) bool {
	mac := hmac.New(sha256.New, []byte(p.cfg.WebhookSecret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signatureHeader))
}

func (p *LencoProvider) doWithBreaker(ctx context.Context, method, path string, body any, timeout time.Duration) (*httpResponse, error) {
	v, err := p.breaker.Execute(func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return p.client.Do(&httpRequest{ctx: ctx, method: method, path: path, body: body})
	})
	if err != nil {
		return nil, err
	}
	return v.(*httpResponse), nil
}
