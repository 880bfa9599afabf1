package indexer

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
	"github.com/sswap/engine/internal/model"
	"github.com/sswap/engine/internal/sswaperr"
)

type fakeReadClient struct {
	mu          sync.Mutex
	byAddress   map[string][]chain.Tx
	callsByAddr map[string]int
}

func (f *fakeReadClient) GetAddressTransactions(ctx context.Context, address string, limit, offset int) ([]chain.Tx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callsByAddr[address]++
	return f.byAddress[address], nil
}

func (f *fakeReadClient) GetTxByID(ctx context.Context, txID string) (*chain.Tx, error) {
	return nil, sswaperr.New(sswaperr.KindNotFound, "not implemented in fake")
}

func TestRunOnce_NativeTransferWithValidMemoDispatches(t *testing.T) {
	client := &fakeReadClient{
		callsByAddr: map[string]int{},
		byAddress: map[string][]chain.Tx{
			"SPPLATFORM": {
				{
					TxID:          "0x1",
					Status:        chain.TxSuccess,
					SenderAddress: "SPUSER",
					NativeTransfer: &chain.NativeTransfer{
						Recipient: "SPPLATFORM",
						Amount:    decimal.NewFromInt(100),
						Memo:      model.ReferencePrefix + "ABC123",
					},
				},
			},
		},
	}

	ix := New(Config{PlatformAddress: "SPPLATFORM", PollInterval: time.Hour}, client, zerolog.Nop(), nil)

	var gotReference, gotChainTxID, gotSender string
	var gotAmount decimal.Decimal
	var gotToken model.Token
	calls := 0

	ix.runOnce(context.Background(), func(ctx context.Context, reference, chainTxID, senderAddress string, tokenAmount decimal.Decimal, token model.Token) error {
		calls++
		gotReference, gotChainTxID, gotSender, gotAmount, gotToken = reference, chainTxID, senderAddress, tokenAmount, token
		return nil
	})

	require.Equal(t, 1, calls)
	assert.Equal(t, model.ReferencePrefix+"ABC123", gotReference)
	assert.Equal(t, "0x1", gotChainTxID)
	assert.Equal(t, "SPUSER", gotSender)
	assert.True(t, decimal.NewFromInt(100).Equal(gotAmount))
	assert.Equal(t, model.TokenSTX, gotToken)

	// A second cycle must not redispatch an already-processed tx.
	ix.runOnce(context.Background(), func(ctx context.Context, reference, chainTxID, senderAddress string, tokenAmount decimal.Decimal, token model.Token) error {
		calls++
		return nil
	})
	assert.Equal(t, 1, calls)
}

func TestRunOnce_MemoWithoutOfframpPrefixIsIgnored(t *testing.T) {
	client := &fakeReadClient{
		callsByAddr: map[string]int{},
		byAddress: map[string][]chain.Tx{
			"SPPLATFORM": {
				{
					TxID:   "0x2",
					Status: chain.TxSuccess,
					NativeTransfer: &chain.NativeTransfer{
						Recipient: "SPPLATFORM",
						Amount:    decimal.NewFromInt(50),
						Memo:      "not a reference",
					},
				},
			},
		},
	}
	ix := New(Config{PlatformAddress: "SPPLATFORM"}, client, zerolog.Nop(), nil)

	calls := 0
	ix.runOnce(context.Background(), func(ctx context.Context, reference, chainTxID, senderAddress string, tokenAmount decimal.Decimal, token model.Token) error {
		calls++
		return nil
	})
	assert.Equal(t, 0, calls)
}

func TestRunOnce_NotFoundErrorDoesNotMarkProcessed(t *testing.T) {
	client := &fakeReadClient{
		callsByAddr: map[string]int{},
		byAddress: map[string][]chain.Tx{
			"SPPLATFORM": {
				{
					TxID:   "0x3",
					Status: chain.TxSuccess,
					NativeTransfer: &chain.NativeTransfer{
						Recipient: "SPPLATFORM",
						Amount:    decimal.NewFromInt(10),
						Memo:      model.ReferencePrefix + "NOTYET",
					},
				},
			},
		},
	}
	ix := New(Config{PlatformAddress: "SPPLATFORM"}, client, zerolog.Nop(), nil)

	calls := 0
	confirmFn := func(ctx context.Context, reference, chainTxID, senderAddress string, tokenAmount decimal.Decimal, token model.Token) error {
		calls++
		return sswaperr.New(sswaperr.KindNotFound, "no such offramp reference")
	}

	ix.runOnce(context.Background(), confirmFn)
	ix.runOnce(context.Background(), confirmFn)

	assert.Equal(t, 2, calls) // retried both cycles since it was never marked processed
}

func TestConfig_Enabled(t *testing.T) {
	assert.False(t, Config{}.Enabled())
	assert.True(t, Config{PlatformAddress: "SP123"}.Enabled())
}
