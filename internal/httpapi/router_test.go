package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sswap/engine/internal/liquidity"
	"github.com/sswap/engine/internal/onramp"
	"github.com/sswap/engine/internal/payout"
	"github.com/sswap/engine/internal/priceoracle"
	"github.com/sswap/engine/internal/settlement"
	"github.com/sswap/engine/internal/txstore"
)

type fakePayoutProvider struct {
	balance      int64
	balanceKnown bool
	banks        []payout.Bank
	webhookValid bool
}

func (f *fakePayoutProvider) ResolveAccount(ctx context.Context, bankCode, accountNumber string) (payout.AccountDetails, error) {
	return payout.AccountDetails{AccountName: "Jane Doe", BankName: "Test Bank"}, nil
}

func (f *fakePayoutProvider) ListBanks(ctx context.Context) ([]payout.Bank, error) { return f.banks, nil }

func (f *fakePayoutProvider) InitiateTransfer(ctx context.Context, amountNGN int64, bankCode, accountNumber, reference string) (payout.TransferResult, error) {
	return payout.TransferResult{TransferID: "transfer-1", Status: "processing"}, nil
}

func (f *fakePayoutProvider) GetAccountBalance(ctx context.Context) (int64, bool, error) {
	return f.balance, f.balanceKnown, nil
}

func (f *fakePayoutProvider) VerifyWebhookSignature(rawBody []byte, signatureHeader string) bool {
	return f.webhookValid
}

func (f *fakePayoutProvider) InvalidateBalanceCache() {}

type fixedFetcher struct{ snap *priceoracle.Snapshot }

func (f *fixedFetcher) Fetch(ctx context.Context) (*priceoracle.Snapshot, error) { return f.snap, nil }

type fakePayments struct{ valid bool }

func (f *fakePayments) VerifyWebhookSignature(rawBody []byte, signatureHeader string) bool {
	return f.valid
}

func (f *fakePayments) ParsePaymentWebhook(rawBody []byte) (onramp.PaymentEvent, error) {
	var payload struct {
		Reference  string `json:"reference"`
		Successful bool   `json:"successful"`
	}
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return onramp.PaymentEvent{}, err
	}
	return onramp.PaymentEvent{Reference: payload.Reference, Successful: payload.Successful}, nil
}

type fakeSigner struct{}

func (f *fakeSigner) SendNative(ctx context.Context, to string, amount decimal.Decimal, memo string) (string, error) {
	return "0xdeadbeef", nil
}

func (f *fakeSigner) SendSIP010(ctx context.Context, contractAddress, contractName, to string, amount decimal.Decimal, memo string) (string, error) {
	return f.SendNative(ctx, to, amount, memo)
}

func newTestServer(t *testing.T, payouts *fakePayoutProvider) (*Server, txstore.Store) {
	t.Helper()
	store := txstore.NewInMemoryStore()
	oracle := priceoracle.New(&fixedFetcher{snap: &priceoracle.Snapshot{
		STX:  priceoracle.TokenPrice{PriceNGN: decimal.NewFromFloat(1847.35)},
		USDC: priceoracle.TokenPrice{PriceNGN: decimal.NewFromFloat(1600)},
	}}, priceoracle.WithConfig(priceoracle.Config{TTLFresh: time.Minute, TTLStale: time.Minute, BaseBackoff: time.Second, MaxBackoff: time.Minute}))

	guard := liquidity.New(payouts, 50000)

	se := settlement.New(settlement.Config{
		PlatformSTXAddress: "SP000000000000000000002Q6VF78",
		MinTokenAmount:     decimal.NewFromInt(1),
		MaxTokenAmount:     decimal.NewFromInt(100000),
		FlatFeeNGN:         100,
		OfframpWindow:      30 * time.Minute,
	}, store, payouts, oracle, guard, zerolog.Nop(), nil)

	or := onramp.New(onramp.Config{
		FlatFeeNGN:     50,
		MinTokenAmount: decimal.NewFromInt(1),
		MaxTokenAmount: decimal.NewFromInt(100000),
	}, store, &fakePayments{valid: true}, oracle, &fakeSigner{}, zerolog.Nop())

	cfg := Config{InternalAPIKey: "internal-secret", RateLimitMax: 1000, RateLimitWindow: time.Minute}
	s := New(cfg, oracle, se, or, guard, payouts, store, zerolog.Nop())
	return s, store
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t, &fakePayoutProvider{balance: 1_000_000, balanceKnown: true})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
}

func TestHandleOfframpInitialize_HappyPath(t *testing.T) {
	s, _ := newTestServer(t, &fakePayoutProvider{balance: 1_000_000, balanceKnown: true})

	payload, _ := json.Marshal(map[string]any{
		"token":         "STX",
		"tokenAmount":   "100",
		"senderAddress": "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKPVKG2CE",
		"bankCode":      "090267",
		"accountNumber": "1234567890",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/offramp/initialize", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
}

func TestHandleOfframpInitialize_InsufficientLiquidityReturns503(t *testing.T) {
	s, _ := newTestServer(t, &fakePayoutProvider{balance: 1000, balanceKnown: true})

	payload, _ := json.Marshal(map[string]any{
		"token":         "STX",
		"tokenAmount":   "100",
		"senderAddress": "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKPVKG2CE",
		"bankCode":      "090267",
		"accountNumber": "1234567890",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/offramp/initialize", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleOfframpConfirmReceipt_RequiresInternalKey(t *testing.T) {
	s, _ := newTestServer(t, &fakePayoutProvider{balance: 1_000_000, balanceKnown: true})

	req := httptest.NewRequest(http.MethodPost, "/api/offramp/confirm-receipt", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleOfframpStatus_NotFound(t *testing.T) {
	s, _ := newTestServer(t, &fakePayoutProvider{balance: 1_000_000, balanceKnown: true})

	req := httptest.NewRequest(http.MethodGet, "/api/offramp/status/SSWAP_OFFRAMP_DOES_NOT_EXIST", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlePrices(t *testing.T) {
	s, _ := newTestServer(t, &fakePayoutProvider{balance: 1_000_000, balanceKnown: true})

	req := httptest.NewRequest(http.MethodGet, "/api/prices", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleOnrampInitialize_HappyPath(t *testing.T) {
	s, _ := newTestServer(t, &fakePayoutProvider{balance: 1_000_000, balanceKnown: true})

	payload, _ := json.Marshal(map[string]any{
		"token":            "STX",
		"tokenAmount":      "10",
		"recipientAddress": "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKPVKG2CE",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/onramp/initialize", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
}
