package watcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sswap/engine/internal/chain"
	"github.com/sswap/engine/internal/liquidity"
	"github.com/sswap/engine/internal/model"
	"github.com/sswap/engine/internal/payout"
	"github.com/sswap/engine/internal/priceoracle"
	"github.com/sswap/engine/internal/settlement"
	"github.com/sswap/engine/internal/sswaperr"
	"github.com/sswap/engine/internal/txstore"
)

type scriptedReadClient struct {
	mu        sync.Mutex
	responses []func() (*chain.Tx, error)
	calls     int
}

func (c *scriptedReadClient) GetAddressTransactions(ctx context.Context, address string, limit, offset int) ([]chain.Tx, error) {
	return nil, nil
}

func (c *scriptedReadClient) GetTxByID(ctx context.Context, txID string) (*chain.Tx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.calls
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	c.calls++
	return c.responses[idx]()
}

type stubProvider struct{}

func (stubProvider) ResolveAccount(ctx context.Context, bankCode, accountNumber string) (payout.AccountDetails, error) {
	return payout.AccountDetails{AccountName: "A", BankName: "B"}, nil
}
func (stubProvider) ListBanks(ctx context.Context) ([]payout.Bank, error) { return nil, nil }
func (stubProvider) InitiateTransfer(ctx context.Context, amountNGN int64, bankCode, accountNumber, reference string) (payout.TransferResult, error) {
	return payout.TransferResult{TransferID: "pt_" + reference}, nil
}
func (stubProvider) GetAccountBalance(ctx context.Context) (int64, bool, error) {
	return 1_000_000, true, nil
}
func (stubProvider) VerifyWebhookSignature(rawBody []byte, sig string) bool { return true }
func (stubProvider) InvalidateBalanceCache()                               {}

type fixedFetcher struct{ snap *priceoracle.Snapshot }

func (f *fixedFetcher) Fetch(ctx context.Context) (*priceoracle.Snapshot, error) { return f.snap, nil }

func newTestEngineAndStore(t *testing.T) (*settlement.Engine, txstore.Store) {
	t.Helper()
	store := txstore.NewInMemoryStore()
	oracle := priceoracle.New(&fixedFetcher{snap: &priceoracle.Snapshot{
		STX:  priceoracle.TokenPrice{PriceNGN: decimal.NewFromFloat(1800)},
		USDC: priceoracle.TokenPrice{PriceNGN: decimal.NewFromFloat(1600)},
	}}, priceoracle.WithConfig(priceoracle.Config{TTLFresh: time.Minute, TTLStale: time.Minute, BaseBackoff: time.Second, MaxBackoff: time.Minute}))
	guard := liquidity.New(stubProvider{}, 5000)
	cfg := settlement.Config{
		PlatformSTXAddress: "SPPLATFORM",
		MinTokenAmount:     decimal.NewFromInt(1),
		MaxTokenAmount:     decimal.NewFromInt(100000),
		FlatFeeNGN:         100,
		OfframpWindow:      30 * time.Minute,
	}
	engine := settlement.New(cfg, store, stubProvider{}, oracle, guard, zerolog.Nop(), nil)
	return engine, store
}

func newPendingOfframp(t *testing.T, engine *settlement.Engine) string {
	t.Helper()
	resp, err := engine.InitializeOfframp(context.Background(), settlement.InitializeOfframpRequest{
		Token:         model.TokenSTX,
		TokenAmount:   decimal.NewFromInt(10),
		SenderAddress: "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKPVKG2CE",
		BankCode:      "000001",
		AccountNumber: "1234567890",
	})
	require.NoError(t, err)
	return resp.Transaction.Reference
}

func TestWatch_SuccessConfirmsReceipt(t *testing.T) {
	engine, store := newTestEngineAndStore(t)
	reference := newPendingOfframp(t, engine)

	client := &scriptedReadClient{responses: []func() (*chain.Tx, error){
		func() (*chain.Tx, error) { return nil, sswaperr.New(sswaperr.KindNotFound, "404") },
		func() (*chain.Tx, error) {
			return &chain.Tx{
				TxID:          "0xabc",
				Status:        chain.TxSuccess,
				SenderAddress: "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKPVKG2CE",
				NativeTransfer: &chain.NativeTransfer{
					Recipient: "SPPLATFORM",
					Amount:    decimal.NewFromInt(10),
					Memo:      reference,
				},
			}, nil
		},
	}}

	m := NewManager(Config{MaxAttempts: 5, Interval: time.Millisecond, PlatformAddr: "SPPLATFORM"}, client, engine, zerolog.Nop())
	m.watch(context.Background(), reference, "0xabc")

	tx, err := store.FindByReference(context.Background(), reference)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSettling, tx.Status)
}

func TestWatch_AbortMarksFailed(t *testing.T) {
	engine, store := newTestEngineAndStore(t)
	reference := newPendingOfframp(t, engine)

	client := &scriptedReadClient{responses: []func() (*chain.Tx, error){
		func() (*chain.Tx, error) {
			return &chain.Tx{TxID: "0xabc", Status: chain.TxAbortByPostCondition}, nil
		},
	}}

	m := NewManager(Config{MaxAttempts: 5, Interval: time.Millisecond, PlatformAddr: "SPPLATFORM"}, client, engine, zerolog.Nop())
	m.watch(context.Background(), reference, "0xabc")

	tx, err := store.FindByReference(context.Background(), reference)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, tx.Status)
}

func TestWatch_TimeoutReapsToFailed(t *testing.T) {
	engine, store := newTestEngineAndStore(t)
	reference := newPendingOfframp(t, engine)

	client := &scriptedReadClient{responses: []func() (*chain.Tx, error){
		func() (*chain.Tx, error) { return &chain.Tx{Status: chain.TxPending}, nil },
	}}

	m := NewManager(Config{MaxAttempts: 3, Interval: time.Millisecond, PlatformAddr: "SPPLATFORM"}, client, engine, zerolog.Nop())
	m.watch(context.Background(), reference, "0xabc")

	tx, err := store.FindByReference(context.Background(), reference)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, tx.Status)
	assert.Equal(t, "poll timeout", tx.Meta["failureReason"])
}
