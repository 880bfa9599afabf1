// Package watcher implements C7: the per-offramp poller spawned after the
// user's wallet reports a broadcast transaction. It races the indexer to
// claim the confirm-receipt transition and drives the payout.
package watcher

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sswap/engine/internal/chain"
	"github.com/sswap/engine/internal/model"
	"github.com/sswap/engine/internal/settlement"
)

// Config holds the watcher's tunables (spec §4.7).
type Config struct {
	MaxAttempts  int
	Interval     time.Duration
	LifetimeCap  time.Duration // bounds the goroutine even though nothing else cancels it
	PlatformAddr string
	USDCContract string
}

func (cfg Config) withDefaults() Config {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 120
	}
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.LifetimeCap == 0 {
		cfg.LifetimeCap = 10 * time.Minute
	}
	return cfg
}

// Manager spawns and tracks per-transaction watchers.
type Manager struct {
	cfg     Config
	client  chain.ReadClient
	engine  *settlement.Engine
	log     zerolog.Logger

	mu sync.Mutex
	wg sync.WaitGroup
}

// NewManager builds a Manager. Call engine.SetWatcherSpawner(manager.Spawn)
// during wiring so NotifyTxBroadcast can launch watchers without
// internal/settlement importing this package.
func NewManager(cfg Config, client chain.ReadClient, engine *settlement.Engine, log zerolog.Logger) *Manager {
	return &Manager{cfg: cfg.withDefaults(), client: client, engine: engine, log: log}
}

// Spawn launches a bounded-lifetime goroutine watching chainTxID for
// reference. Matches the settlement.WatcherSpawner signature.
func (m *Manager) Spawn(reference, chainTxID string) {
	m.mu.Lock()
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.LifetimeCap)
		defer cancel()
		m.watch(ctx, reference, chainTxID)
	}()
}

// Wait blocks until every in-flight watcher has exited. cmd/ calls it on
// shutdown with no timeout of its own, so it can block for up to
// LifetimeCap.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) watch(ctx context.Context, reference, chainTxID string) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

loop:
	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		if done := m.poll(ctx, reference, chainTxID); done {
			return
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			// Lifetime cap reached: treated the same as exhausting the attempts.
			break loop
		}
	}

	// ctx may already be past its deadline, so the reap gets its own.
	reapCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := m.engine.FailPendingTx(reapCtx, reference, "poll timeout"); err != nil {
		m.log.Warn().Str("reference", reference).Err(err).Msg("watcher: failed to reap timed-out offramp")
	}
}

// poll performs one iteration and reports whether the watcher should stop.
func (m *Manager) poll(ctx context.Context, reference, chainTxID string) (done bool) {
	tx, err := m.client.GetTxByID(ctx, chainTxID)
	if err != nil {
		// Treat 404 and network errors alike: keep polling (spec §4.7).
		return false
	}

	switch {
	case tx.Status == chain.TxSuccess:
		m.confirmReceipt(ctx, reference, chainTxID, *tx)
		return true

	case tx.Status.IsAbort():
		if err := m.engine.FailPendingTx(ctx, reference, "chain transaction aborted: "+string(tx.Status)); err != nil {
			m.log.Warn().Str("reference", reference).Err(err).Msg("watcher: failed to mark aborted transaction failed")
		}
		return true

	case tx.Status.IsDropped():
		m.log.Info().Str("reference", reference).Str("status", string(tx.Status)).Msg("watcher: transaction dropped, continuing to poll for rebroadcast")
		return false

	default: // pending
		return false
	}
}

func (m *Manager) confirmReceipt(ctx context.Context, reference, chainTxID string, tx chain.Tx) {
	amount, token, senderAddress, ok := decodeAmount(tx, m.cfg.PlatformAddr, m.cfg.USDCContract)
	if !ok {
		m.log.Warn().Str("reference", reference).Str("chainTxId", chainTxID).Msg("watcher: could not derive amount from successful tx, leaving for indexer")
		return
	}

	_, _, err := m.engine.ConfirmReceipt(ctx, settlement.ConfirmReceiptRequest{
		Reference:     reference,
		ChainTxID:     chainTxID,
		TokenAmount:   amount,
		Token:         token,
		SenderAddress: senderAddress,
	})
	if err != nil {
		m.log.Warn().Str("reference", reference).Err(err).Msg("watcher: confirm-receipt failed")
	}
}

// decodeAmount extracts token, amount, and sender from a successful tx's
// native-transfer or SIP-010 contract-call payload.
func decodeAmount(tx chain.Tx, platformAddr, usdcContract string) (amount decimal.Decimal, token model.Token, senderAddress string, ok bool) {
	if tx.NativeTransfer != nil {
		return tx.NativeTransfer.Amount, model.TokenSTX, tx.SenderAddress, true
	}
	if tx.ContractCall != nil {
		events := tx.ContractCall.Events
		if usdcContract != "" {
			filtered := make([]chain.FungibleTokenEvent, 0, len(events))
			for _, e := range events {
				if strings.HasPrefix(e.AssetID, usdcContract) {
					filtered = append(filtered, e)
				}
			}
			events = filtered
		}
		total := chain.SumRecipientAmount(events, platformAddr)
		if total.IsZero() {
			return decimal.Zero, "", "", false
		}
		return total, model.TokenUSDC, tx.SenderAddress, true
	}
	return decimal.Zero, "", "", false
}
