package settlement

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sswap/engine/internal/liquidity"
	"github.com/sswap/engine/internal/model"
	"github.com/sswap/engine/internal/payout"
	"github.com/sswap/engine/internal/priceoracle"
	"github.com/sswap/engine/internal/txstore"
)

type fakePayoutProvider struct {
	mu            sync.Mutex
	transfers     int
	balance       int64
	known         bool
	failTransfer  bool
	webhookSecret string
}

func (f *fakePayoutProvider) ResolveAccount(ctx context.Context, bankCode, accountNumber string) (payout.AccountDetails, error) {
	return payout.AccountDetails{AccountName: "Jane Doe", BankName: "Test Bank"}, nil
}

func (f *fakePayoutProvider) ListBanks(ctx context.Context) ([]payout.Bank, error) {
	return []payout.Bank{{Code: "000001", Name: "Test Bank"}}, nil
}

func (f *fakePayoutProvider) InitiateTransfer(ctx context.Context, amountNGN int64, bankCode, accountNumber, reference string) (payout.TransferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers++
	if f.failTransfer {
		return payout.TransferResult{}, assertErr{"provider rejected transfer"}
	}
	return payout.TransferResult{TransferID: "pt_" + reference, Status: "processing"}, nil
}

func (f *fakePayoutProvider) GetAccountBalance(ctx context.Context) (int64, bool, error) {
	return f.balance, f.known, nil
}

func (f *fakePayoutProvider) VerifyWebhookSignature(rawBody []byte, signatureHeader string) bool {
	return signatureHeader == f.webhookSecret
}

func (f *fakePayoutProvider) InvalidateBalanceCache() {}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }

type fixedFetcher struct{ snap *priceoracle.Snapshot }

func (f *fixedFetcher) Fetch(ctx context.Context) (*priceoracle.Snapshot, error) {
	return f.snap, nil
}

func newTestEngine(t *testing.T, provider *fakePayoutProvider) (*Engine, txstore.Store) {
	t.Helper()
	store := txstore.NewInMemoryStore()
	oracle := priceoracle.New(&fixedFetcher{snap: &priceoracle.Snapshot{
		STX:  priceoracle.TokenPrice{PriceNGN: decimal.NewFromFloat(1847.35)},
		USDC: priceoracle.TokenPrice{PriceNGN: decimal.NewFromFloat(1600)},
	}}, priceoracle.WithConfig(priceoracle.Config{TTLFresh: time.Minute, TTLStale: 5 * time.Minute, BaseBackoff: time.Second, MaxBackoff: time.Minute}))
	guard := liquidity.New(provider, 5000)

	cfg := Config{
		PlatformSTXAddress: "SP000000000000000000002Q6VF78",
		MinTokenAmount:     decimal.NewFromInt(1),
		MaxTokenAmount:     decimal.NewFromInt(100000),
		FlatFeeNGN:         100,
		OfframpWindow:      30 * time.Minute,
		UnderdeliveryPolicy: PolicyAcceptAndFlag,
	}
	engine := New(cfg, store, provider, oracle, guard, zerolog.Nop(), nil)
	return engine, store
}

func TestInitializeOfframp_HappyPathComputesNGNAmount(t *testing.T) {
	provider := &fakePayoutProvider{balance: 1_000_000, known: true}
	engine, _ := newTestEngine(t, provider)

	resp, err := engine.InitializeOfframp(context.Background(), InitializeOfframpRequest{
		Token:         model.TokenSTX,
		TokenAmount:   decimal.NewFromInt(100),
		SenderAddress: "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKPVKG2CE",
		BankCode:      "000001",
		AccountNumber: "1234567890",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(184635), resp.Transaction.NGNAmount)
	assert.Equal(t, model.StatusPending, resp.Transaction.Status)
}

func TestInitializeOfframp_InsufficientLiquidityRejected(t *testing.T) {
	provider := &fakePayoutProvider{balance: 20000, known: true}
	engine, _ := newTestEngine(t, provider)

	_, err := engine.InitializeOfframp(context.Background(), InitializeOfframpRequest{
		Token:         model.TokenUSDC,
		TokenAmount:   decimal.NewFromInt(100),
		SenderAddress: "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKPVKG2CE",
		BankCode:      "000001",
		AccountNumber: "1234567890",
	})
	require.Error(t, err)
}

func TestConfirmReceipt_ConcurrentCallsOnlyOneWins(t *testing.T) {
	provider := &fakePayoutProvider{balance: 1_000_000, known: true}
	engine, store := newTestEngine(t, provider)

	resp, err := engine.InitializeOfframp(context.Background(), InitializeOfframpRequest{
		Token:         model.TokenSTX,
		TokenAmount:   decimal.NewFromInt(100),
		SenderAddress: "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKPVKG2CE",
		BankCode:      "000001",
		AccountNumber: "1234567890",
	})
	require.NoError(t, err)
	reference := resp.Transaction.Reference

	var wg sync.WaitGroup
	outcomes := make([]ConfirmReceiptOutcome, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome, _, _ := engine.ConfirmReceipt(context.Background(), ConfirmReceiptRequest{
				Reference:     reference,
				ChainTxID:     "0xabc",
				TokenAmount:   decimal.NewFromInt(100),
				Token:         model.TokenSTX,
				SenderAddress: resp.Transaction.SenderAddress,
			})
			outcomes[i] = outcome
		}(i)
	}
	wg.Wait()

	initiated := 0
	for _, o := range outcomes {
		if o == OutcomePayoutInitiated {
			initiated++
		}
	}
	assert.Equal(t, 1, initiated)
	assert.Equal(t, 1, provider.transfers)

	tx, err := store.FindByReference(context.Background(), reference)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSettling, tx.Status)
}

func TestConfirmReceipt_PayoutFailureMarksRecordFailed(t *testing.T) {
	provider := &fakePayoutProvider{balance: 1_000_000, known: true, failTransfer: true}
	engine, store := newTestEngine(t, provider)

	resp, err := engine.InitializeOfframp(context.Background(), InitializeOfframpRequest{
		Token:         model.TokenSTX,
		TokenAmount:   decimal.NewFromInt(100),
		SenderAddress: "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKPVKG2CE",
		BankCode:      "000001",
		AccountNumber: "1234567890",
	})
	require.NoError(t, err)

	_, _, err = engine.ConfirmReceipt(context.Background(), ConfirmReceiptRequest{
		Reference:   resp.Transaction.Reference,
		ChainTxID:   "0xabc",
		TokenAmount: decimal.NewFromInt(100),
		Token:       model.TokenSTX,
	})
	require.Error(t, err)

	tx, err := store.FindByReference(context.Background(), resp.Transaction.Reference)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, tx.Status)
	assert.Equal(t, true, tx.Meta["requiresManualSettlement"])
	assert.Empty(t, tx.PayoutProviderTxID)
}

func TestHandlePayoutWebhook_CompletedConfirmsIdempotently(t *testing.T) {
	provider := &fakePayoutProvider{balance: 1_000_000, known: true, webhookSecret: "sig123"}
	engine, store := newTestEngine(t, provider)

	resp, err := engine.InitializeOfframp(context.Background(), InitializeOfframpRequest{
		Token:         model.TokenSTX,
		TokenAmount:   decimal.NewFromInt(100),
		SenderAddress: "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKPVKG2CE",
		BankCode:      "000001",
		AccountNumber: "1234567890",
	})
	require.NoError(t, err)
	reference := resp.Transaction.Reference

	_, _, err = engine.ConfirmReceipt(context.Background(), ConfirmReceiptRequest{
		Reference:   reference,
		ChainTxID:   "0xabc",
		TokenAmount: decimal.NewFromInt(100),
		Token:       model.TokenSTX,
	})
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]any{
		"event": "transfer.completed",
		"data":  map[string]any{"reference": reference},
	})

	require.NoError(t, engine.HandlePayoutWebhook(context.Background(), body, "sig123"))
	require.NoError(t, engine.HandlePayoutWebhook(context.Background(), body, "sig123")) // idempotent replay

	tx, err := store.FindByReference(context.Background(), reference)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, tx.Status)
	assert.NotNil(t, tx.ConfirmedAt)
}
