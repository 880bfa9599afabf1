// Package priceoracle implements C1: a warm, never-failing cache of
// NGN/USD/token prices in front of a rate-limited upstream oracle.
package priceoracle

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/sswap/engine/internal/metrics"
	"github.com/sswap/engine/internal/model"
)

// TokenPrice is one asset's snapshot within a composite quote.
type TokenPrice struct {
	PriceUSD decimal.Decimal `json:"priceUSD"`
	PriceNGN decimal.Decimal `json:"priceNGN"`
	Change24h decimal.Decimal `json:"change24h"`
}

// Snapshot is the composite, never-nil response of GetCurrent.
type Snapshot struct {
	STX       TokenPrice      `json:"STX"`
	USDC      TokenPrice      `json:"USDC"`
	UsdToNgn  decimal.Decimal `json:"usdToNgn"`
	FromCache bool            `json:"fromCache"`
	FetchedAt time.Time       `json:"fetchedAt"`
}

// Fetcher is the upstream oracle call, isolated so it can be faked in tests
// and swapped for a different provider without touching cache logic.
type Fetcher interface {
	Fetch(ctx context.Context) (*Snapshot, error)
}

// SnapshotStore persists PriceSnapshot history best-effort (§4.1 "Persistence").
type SnapshotStore interface {
	AppendSnapshot(ctx context.Context, token, priceUSD, priceNGN, usdToNgn string, fetchedAt time.Time) error
	QuerySnapshots(ctx context.Context, token model.Token, since time.Time) ([]model.PriceSnapshot, error)
}

// History returns persisted snapshots for token since the given time. It
// applies no lookback cap of its own (the HTTP handler bounds `hours` to
// 1..168). Returns nil, not an error, when no snapshot store is configured.
func (c *Cache) History(ctx context.Context, token model.Token, since time.Time) ([]model.PriceSnapshot, error) {
	if c.store == nil {
		return nil, nil
	}
	return c.store.QuerySnapshots(ctx, token, since)
}

// Config holds the tunables named in spec §4.1 / §6.
type Config struct {
	TTLFresh     time.Duration
	TTLStale     time.Duration
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	EmergencyUsdToNgn decimal.Decimal
	EmergencySTXUsd   decimal.Decimal
	EmergencyUSDCUsd  decimal.Decimal
}

func defaultConfig() Config {
	return Config{
		TTLFresh:    60 * time.Second,
		TTLStale:    5 * time.Minute,
		BaseBackoff: time.Second,
		MaxBackoff:  5 * time.Minute,
	}
}

// Cache is the tiered, never-failing price cache described in §4.1.
type Cache struct {
	cfg     Config
	fetcher Fetcher
	store   SnapshotStore
	log     zerolog.Logger
	metrics *metrics.Collectors

	mu           sync.RWMutex
	current      *Snapshot
	lastFetched  time.Time
	failures     int
	backoffUntil time.Time

	group   singleflight.Group
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// Option configures the Cache.
type Option func(*Cache)

func WithConfig(cfg Config) Option { return func(c *Cache) { c.cfg = cfg } }
func WithSnapshotStore(s SnapshotStore) Option { return func(c *Cache) { c.store = s } }
func WithLogger(l zerolog.Logger) Option { return func(c *Cache) { c.log = l } }
func WithMetrics(m *metrics.Collectors) Option { return func(c *Cache) { c.metrics = m } }

// New builds a Cache. fetcher performs the single upstream call; emergency
// constants back-fill it if both cache tiers are unavailable.
func New(fetcher Fetcher, opts ...Option) *Cache {
	c := &Cache{
		cfg:     defaultConfig(),
		fetcher: fetcher,
		log:     zerolog.Nop(),
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "priceoracle",
			MaxRequests: 2,
			Interval:    0,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// GetCurrent never fails (§4.1 "Failure semantics"). It serves fresh cache,
// attempts a refresh when stale, and falls back through the stale snapshot
// to emergency constants when the upstream is unavailable.
func (c *Cache) GetCurrent(ctx context.Context) *Snapshot {
	c.mu.RLock()
	age := time.Since(c.lastFetched)
	cur := c.current
	inBackoff := time.Now().Before(c.backoffUntil)
	c.mu.RUnlock()

	if cur != nil && age < c.cfg.TTLFresh {
		snap := *cur
		snap.FromCache = true
		return &snap
	}

	if inBackoff {
		if cur != nil && age < c.cfg.TTLStale {
			snap := *cur
			snap.FromCache = true
			return &snap
		}
		return c.emergencySnapshot()
	}

	refreshed, err := c.refresh(ctx)
	if err == nil {
		return refreshed
	}

	c.log.Warn().Err(err).Msg("price oracle refresh failed")
	c.mu.RLock()
	cur = c.current
	age = time.Since(c.lastFetched)
	c.mu.RUnlock()

	if cur != nil && age < c.cfg.TTLStale {
		snap := *cur
		snap.FromCache = true
		return &snap
	}
	return c.emergencySnapshot()
}

// ForceRefresh bypasses the fresh-cache short-circuit and always attempts an
// upstream call (still collapsed through singleflight and rate-limited),
// falling back to the current cache/emergency snapshot on failure exactly
// like GetCurrent. Used by the admin-only /api/prices/refresh route.
func (c *Cache) ForceRefresh(ctx context.Context) *Snapshot {
	refreshed, err := c.refresh(ctx)
	if err == nil {
		return refreshed
	}
	c.log.Warn().Err(err).Msg("forced price oracle refresh failed")
	return c.GetCurrent(ctx)
}

// refresh performs (or joins an in-flight) upstream call, collapsing
// concurrent callers into a single request per §4.1 "Concurrency".
func (c *Cache) refresh(ctx context.Context) (*Snapshot, error) {
	v, err, _ := c.group.Do("refresh", func() (any, error) {
		if !c.limiter.Allow() {
			return nil, errRateLimited
		}
		start := time.Now()
		result, err := c.breaker.Execute(func() (any, error) {
			return c.fetcher.Fetch(ctx)
		})
		if c.metrics != nil {
			c.metrics.OracleFetchLatency.Observe(time.Since(start).Seconds())
		}
		if err != nil {
			c.recordFailure(err)
			return nil, err
		}
		snap := result.(*Snapshot)
		if snap.UsdToNgn.IsZero() {
			cp := *snap
			cp.UsdToNgn = c.cfg.EmergencyUsdToNgn
			snap = &cp
		}
		c.recordSuccess(snap)
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	snap := v.(*Snapshot)
	cp := *snap
	cp.FromCache = false
	return &cp, nil
}

func (c *Cache) recordSuccess(snap *Snapshot) {
	c.mu.Lock()
	c.current = snap
	c.lastFetched = time.Now()
	c.failures = 0
	c.backoffUntil = time.Time{}
	c.mu.Unlock()

	if c.store != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.store.AppendSnapshot(ctx, "STX", snap.STX.PriceUSD.String(), snap.STX.PriceNGN.String(), snap.UsdToNgn.String(), snap.FetchedAt); err != nil {
				c.log.Warn().Err(err).Msg("failed to persist STX price snapshot")
			}
			if err := c.store.AppendSnapshot(ctx, "USDC", snap.USDC.PriceUSD.String(), snap.USDC.PriceNGN.String(), snap.UsdToNgn.String(), snap.FetchedAt); err != nil {
				c.log.Warn().Err(err).Msg("failed to persist USDC price snapshot")
			}
		}()
	}
}

func (c *Cache) recordFailure(err error) {
	if !isRateLimitErr(err) {
		return
	}
	c.mu.Lock()
	c.failures++
	delay := c.cfg.BaseBackoff * time.Duration(1<<uint(c.failures-1))
	if delay > c.cfg.MaxBackoff {
		delay = c.cfg.MaxBackoff
	}
	c.backoffUntil = time.Now().Add(delay)
	c.mu.Unlock()
}

func (c *Cache) emergencySnapshot() *Snapshot {
	return &Snapshot{
		STX:       TokenPrice{PriceUSD: c.cfg.EmergencySTXUsd, PriceNGN: c.cfg.EmergencySTXUsd.Mul(c.cfg.EmergencyUsdToNgn)},
		USDC:      TokenPrice{PriceUSD: c.cfg.EmergencyUSDCUsd, PriceNGN: c.cfg.EmergencyUSDCUsd.Mul(c.cfg.EmergencyUsdToNgn)},
		UsdToNgn:  c.cfg.EmergencyUsdToNgn,
		FromCache: false,
		FetchedAt: time.Time{},
	}
}

// HistoryReader describes an hours-based history lookup returning
// HistoryPoint values. Cache does not implement it: Cache.History takes a
// since time and returns model.PriceSnapshot values, and the HTTP handlers
// call Cache.History.
type HistoryReader interface {
	History(ctx context.Context, token string, hours int) ([]HistoryPoint, error)
}

type HistoryPoint struct {
	PriceUSD  decimal.Decimal `json:"priceUSD"`
	PriceNGN  decimal.Decimal `json:"priceNGN"`
	UsdToNgn  decimal.Decimal `json:"usdToNgn"`
	FetchedAt time.Time       `json:"fetchedAt"`
}

var errRateLimited = rateLimitedErr{}

type rateLimitedErr struct{}

func (rateLimitedErr) Error() string { return "price oracle call suppressed by local rate limiter" }

func isRateLimitErr(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := err.(rateLimitedErr); ok {
		return true
	}
	if httpErr, ok := err.(*HTTPStatusError); ok {
		return httpErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// HTTPStatusError reports a non-2xx upstream response.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return "price oracle upstream returned non-2xx status"
}
