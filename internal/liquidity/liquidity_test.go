package liquidity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sswap/engine/internal/payout"
)

type fakeProvider struct {
	payout.Provider
	balance int64
	known   bool
	err     error
}

func (f *fakeProvider) GetAccountBalance(ctx context.Context) (int64, bool, error) {
	return f.balance, f.known, f.err
}

func TestCheckLiquidity_RejectsBelowBuffer(t *testing.T) {
	g := New(&fakeProvider{balance: 20000, known: true}, 5000)

	res, err := g.CheckLiquidity(context.Background(), 18000)
	require.NoError(t, err)
	assert.False(t, res.Ok)
	assert.Equal(t, int64(3000), res.Shortfall)
}

func TestCheckLiquidity_AcceptsWithinBuffer(t *testing.T) {
	g := New(&fakeProvider{balance: 20000, known: true}, 5000)

	res, err := g.CheckLiquidity(context.Background(), 14000)
	require.NoError(t, err)
	assert.True(t, res.Ok)
}

func TestCheckLiquidity_UnknownBalanceRejectsAsPrecaution(t *testing.T) {
	g := New(&fakeProvider{known: false}, 5000)

	res, err := g.CheckLiquidity(context.Background(), 1000)
	require.NoError(t, err)
	assert.True(t, res.Unknown)
	assert.False(t, res.Ok)
}

func TestGetMaxOrderNGN_NeverExposesRawBalance(t *testing.T) {
	g := New(&fakeProvider{balance: 20000, known: true}, 5000)

	max, err := g.GetMaxOrderNGN(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(15000), max.MaxOrderNGN)
}
