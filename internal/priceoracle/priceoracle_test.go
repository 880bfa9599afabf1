package priceoracle

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	calls   int64
	snap    *Snapshot
	err     error
	delay   time.Duration
}

func (f *fakeFetcher) Fetch(ctx context.Context) (*Snapshot, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.snap, nil
}

func sampleSnapshot() *Snapshot {
	return &Snapshot{
		STX:      TokenPrice{PriceUSD: decimal.NewFromFloat(1.8), PriceNGN: decimal.NewFromFloat(2880)},
		USDC:     TokenPrice{PriceUSD: decimal.NewFromFloat(1), PriceNGN: decimal.NewFromFloat(1600)},
		UsdToNgn: decimal.NewFromFloat(1600),
	}
}

func TestGetCurrent_FreshCacheServedWithoutUpstreamCall(t *testing.T) {
	f := &fakeFetcher{snap: sampleSnapshot()}
	c := New(f, WithConfig(Config{TTLFresh: time.Minute, TTLStale: 5 * time.Minute, BaseBackoff: time.Second, MaxBackoff: 5 * time.Minute}))

	first := c.GetCurrent(context.Background())
	require.False(t, first.FromCache)

	second := c.GetCurrent(context.Background())
	assert.True(t, second.FromCache)
	assert.EqualValues(t, 1, atomic.LoadInt64(&f.calls))
}

func TestGetCurrent_NeverFailsAndReturnsEmergencyConstants(t *testing.T) {
	f := &fakeFetcher{err: &HTTPStatusError{StatusCode: 503}}
	cfg := Config{
		TTLFresh: time.Millisecond, TTLStale: time.Millisecond, BaseBackoff: time.Second, MaxBackoff: 5 * time.Minute,
		EmergencyUsdToNgn: decimal.NewFromFloat(1600),
		EmergencySTXUsd:   decimal.NewFromFloat(1.8),
		EmergencyUSDCUsd:  decimal.NewFromFloat(1),
	}
	c := New(f, WithConfig(cfg))

	snap := c.GetCurrent(context.Background())
	require.NotNil(t, snap)
	assert.True(t, snap.STX.PriceNGN.GreaterThan(decimal.Zero))
	assert.True(t, snap.USDC.PriceNGN.GreaterThan(decimal.Zero))
	assert.Equal(t, cfg.EmergencyUsdToNgn, snap.UsdToNgn)
}

func TestGetCurrent_StaleCacheServedOnUpstreamFailure(t *testing.T) {
	f := &fakeFetcher{snap: sampleSnapshot()}
	c := New(f, WithConfig(Config{TTLFresh: 10 * time.Millisecond, TTLStale: time.Minute, BaseBackoff: time.Second, MaxBackoff: 5 * time.Minute}))

	first := c.GetCurrent(context.Background())
	require.False(t, first.FromCache)

	time.Sleep(20 * time.Millisecond)
	f.err = &HTTPStatusError{StatusCode: 503}

	second := c.GetCurrent(context.Background())
	assert.True(t, second.FromCache)
	assert.Equal(t, first.STX.PriceNGN, second.STX.PriceNGN)
}

func TestForceRefresh_BypassesFreshCache(t *testing.T) {
	f := &fakeFetcher{snap: sampleSnapshot()}
	c := New(f, WithConfig(Config{TTLFresh: time.Minute, TTLStale: 5 * time.Minute, BaseBackoff: time.Second, MaxBackoff: 5 * time.Minute}))

	first := c.GetCurrent(context.Background())
	require.False(t, first.FromCache)
	require.EqualValues(t, 1, atomic.LoadInt64(&f.calls))

	// still well within TTLFresh, so a plain GetCurrent would short-circuit
	// without calling the fetcher again; ForceRefresh must not.
	cached := c.GetCurrent(context.Background())
	require.True(t, cached.FromCache)
	require.EqualValues(t, 1, atomic.LoadInt64(&f.calls))

	time.Sleep(2100 * time.Millisecond) // let the local rate limiter's single token refill
	forced := c.ForceRefresh(context.Background())
	require.False(t, forced.FromCache)
	assert.EqualValues(t, 2, atomic.LoadInt64(&f.calls))
}

func TestForceRefresh_FallsBackToCacheOnUpstreamFailure(t *testing.T) {
	f := &fakeFetcher{snap: sampleSnapshot()}
	c := New(f, WithConfig(Config{TTLFresh: time.Minute, TTLStale: 5 * time.Minute, BaseBackoff: time.Second, MaxBackoff: 5 * time.Minute}))

	first := c.GetCurrent(context.Background())
	require.False(t, first.FromCache)

	f.err = &HTTPStatusError{StatusCode: 503}
	forced := c.ForceRefresh(context.Background())
	require.NotNil(t, forced)
	assert.Equal(t, first.STX.PriceNGN, forced.STX.PriceNGN)
}

func TestDeriveUsdToNgn_PrefersStablecoinThenUSDC(t *testing.T) {
	stable := extracted{usd: decimal.NewFromInt(1), ngn: decimal.NewFromInt(1500)}
	usdc := extracted{usd: decimal.NewFromInt(1), ngn: decimal.NewFromInt(1600)}

	assert.True(t, decimal.NewFromInt(1500).Equal(deriveUsdToNgn(stable, usdc)))
	assert.True(t, decimal.NewFromInt(1600).Equal(deriveUsdToNgn(extracted{}, usdc)))
	assert.True(t, deriveUsdToNgn(extracted{}, extracted{}).IsZero())
}
