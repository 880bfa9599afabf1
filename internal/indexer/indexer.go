// Package indexer implements C6: the singleton task that scans the
// platform deposit address and the USDC contract for inbound offramp
// transfers and dispatches them to the settlement engine.
package indexer

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sswap/engine/internal/chain"
	"github.com/sswap/engine/internal/metrics"
	"github.com/sswap/engine/internal/model"
	"github.com/sswap/engine/internal/sswaperr"
)

// Config holds the indexer's tunables (spec §4.6).
type Config struct {
	PlatformAddress     string
	USDCContractAddress string
	PollInterval        time.Duration
	PageSize            int
}

// Enabled reports whether the indexer has enough configuration to run
// (spec §4.6: "enabled only if a platform deposit address ... configured").
func (cfg Config) Enabled() bool {
	return cfg.PlatformAddress != ""
}

// ConfirmFn is the wiring-supplied callback for a detected transfer. It is
// a thin closure over settlement.Engine.ConfirmReceipt, kept as a function
// value so this package never imports internal/settlement.
type ConfirmFn func(ctx context.Context, reference, chainTxID, senderAddress string, tokenAmount decimal.Decimal, token model.Token) error

// Indexer is the C6 singleton poller.
type Indexer struct {
	cfg     Config
	client  chain.ReadClient
	log     zerolog.Logger
	metrics *metrics.Collectors

	processed map[string]struct{} // single reader/writer: this task's own goroutine, no lock needed

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds an Indexer.
func New(cfg Config, client chain.ReadClient, log zerolog.Logger, m *metrics.Collectors) *Indexer {
	if cfg.PageSize == 0 {
		cfg.PageSize = 50
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 20 * time.Second
	}
	return &Indexer{
		cfg:       cfg,
		client:    client,
		log:       log,
		metrics:   m,
		processed: make(map[string]struct{}),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the duty cycle in a background goroutine.
func (ix *Indexer) Start(ctx context.Context, confirmFn ConfirmFn) {
	go ix.run(ctx, confirmFn)
}

// Stop signals the duty cycle to exit and waits for it to do so.
func (ix *Indexer) Stop() {
	close(ix.stopCh)
	<-ix.doneCh
}

func (ix *Indexer) run(ctx context.Context, confirmFn ConfirmFn) {
	defer close(ix.doneCh)

	ticker := time.NewTicker(ix.cfg.PollInterval)
	defer ticker.Stop()

	ix.runOnce(ctx, confirmFn)

	for {
		select {
		case <-ticker.C:
			ix.runOnce(ctx, confirmFn)
		case <-ix.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// runOnce executes one duty cycle: spec §4.6 steps 1-7.
func (ix *Indexer) runOnce(ctx context.Context, confirmFn ConfirmFn) {
	if !ix.cfg.Enabled() {
		return
	}

	if ix.metrics != nil {
		start := time.Now()
		defer func() { ix.metrics.IndexerCycleDuration.Observe(time.Since(start).Seconds()) }()
	}

	platformTxs, err := ix.client.GetAddressTransactions(ctx, ix.cfg.PlatformAddress, ix.cfg.PageSize, 0)
	if err != nil {
		ix.log.Warn().Err(err).Msg("indexer: failed to fetch platform address transactions")
	} else {
		ix.processBatch(ctx, platformTxs, confirmFn)
	}

	if ix.cfg.USDCContractAddress == "" {
		return
	}
	contractTxs, err := ix.client.GetAddressTransactions(ctx, ix.cfg.USDCContractAddress, ix.cfg.PageSize, 0)
	if err != nil {
		ix.log.Warn().Err(err).Msg("indexer: failed to fetch USDC contract transactions")
		return
	}
	ix.processBatch(ctx, contractTxs, confirmFn)
}

func (ix *Indexer) processBatch(ctx context.Context, txs []chain.Tx, confirmFn ConfirmFn) {
	for _, tx := range txs {
		if tx.Status != chain.TxSuccess {
			continue
		}
		if _, seen := ix.processed[tx.TxID]; seen {
			continue
		}

		reference, senderAddress, amount, token, ok := ix.extractTransfer(tx)
		if !ok {
			continue
		}
		if !strings.HasPrefix(reference, model.ReferencePrefix) {
			continue
		}

		err := confirmFn(ctx, reference, tx.TxID, senderAddress, amount, token)
		if err != nil {
			if coded, ok := sswaperr.As(err); ok {
				switch coded.Kind {
				case sswaperr.KindNotFound:
					// Record not yet persisted — initialization race. Retry next cycle.
					continue
				case sswaperr.KindAuthFailure:
					ix.log.Error().Err(err).Msg("indexer: internal auth rejected — stopping confirm-receipts this cycle")
					return
				}
			}
			ix.log.Warn().Str("chainTxId", tx.TxID).Err(err).Msg("indexer: confirm-receipt failed, will retry")
			continue
		}

		ix.processed[tx.TxID] = struct{}{}
	}
}

// extractTransfer decodes an inbound native STX transfer or SIP-010
// contract-call transfer destined for the platform address, per spec §4.6
// step 2.
func (ix *Indexer) extractTransfer(tx chain.Tx) (reference, senderAddress string, amount decimal.Decimal, token model.Token, ok bool) {
	if tx.NativeTransfer != nil {
		if tx.NativeTransfer.Recipient != ix.cfg.PlatformAddress {
			return "", "", decimal.Zero, "", false
		}
		return tx.NativeTransfer.Memo, tx.SenderAddress, tx.NativeTransfer.Amount, model.TokenSTX, true
	}

	if tx.ContractCall != nil && tx.ContractCall.FunctionName == "transfer" {
		events := filterUSDCEvents(tx.ContractCall.Events, ix.cfg.USDCContractAddress)
		total := chain.SumRecipientAmount(events, ix.cfg.PlatformAddress)
		if total.IsZero() {
			return "", "", decimal.Zero, "", false
		}
		if len(tx.ContractCall.Args) < 4 {
			return "", "", decimal.Zero, "", false
		}
		memo := chain.DecodeMemo(tx.ContractCall.Args[3])
		return memo, tx.SenderAddress, total, model.TokenUSDC, true
	}

	return "", "", decimal.Zero, "", false
}

func filterUSDCEvents(events []chain.FungibleTokenEvent, contractAddress string) []chain.FungibleTokenEvent {
	if contractAddress == "" {
		return events
	}
	filtered := make([]chain.FungibleTokenEvent, 0, len(events))
	for _, e := range events {
		if strings.HasPrefix(e.AssetID, contractAddress) {
			filtered = append(filtered, e)
		}
	}
	return filtered
}
