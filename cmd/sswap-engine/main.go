// Package main is the sswap-engine binary: a single HTTP service
// orchestrating the NGN fiat onramp/offramp bridge to the Stacks
// blockchain, wiring C1-C8 together per spec §10-§13.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"

	"github.com/sswap/engine/internal/chain"
	"github.com/sswap/engine/internal/chain/signer"
	"github.com/sswap/engine/internal/config"
	"github.com/sswap/engine/internal/httpapi"
	"github.com/sswap/engine/internal/indexer"
	"github.com/sswap/engine/internal/liquidity"
	"github.com/sswap/engine/internal/metrics"
	"github.com/sswap/engine/internal/model"
	"github.com/sswap/engine/internal/onramp"
	"github.com/sswap/engine/internal/payout"
	"github.com/sswap/engine/internal/priceoracle"
	"github.com/sswap/engine/internal/settlement"
	"github.com/sswap/engine/internal/txstore"
	"github.com/sswap/engine/internal/watcher"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "sswap-engine",
	Short: "SSWAP settlement engine",
	Long: `sswap-engine bridges Lenco/Monnify NGN bank-payment rails with native
STX and SIP-010 USDC transfers on the Stacks blockchain, reconciling the
user's broadcast transaction, the chain indexer, and the payout provider's
webhook into a single exactly-once settlement decision.`,
	RunE: runStart,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var w = os.Stdout
	if cfg.LogFormat == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
			Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var mongoClient *mongo.Client
	if cfg.MongoURI != "" {
		mongoClient, err = mongoConnect(ctx, cfg.MongoURI)
		if err != nil {
			return fmt.Errorf("failed to connect to mongodb: %w", err)
		}
	} else {
		log.Warn().Msg("MONGODB_URI not set, using in-memory transaction store")
	}

	store, err := buildStore(ctx, mongoClient)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	var snapshotStore priceoracle.SnapshotStore
	if mongoClient != nil {
		snapshotStore, err = priceoracle.NewMongoSnapshotStore(ctx, mongoClient.Database("sswap"))
		if err != nil {
			log.Warn().Err(err).Msg("price history persistence disabled")
		}
	}

	oracle := priceoracle.New(
		priceoracle.NewCoingeckoFetcher(cfg.CoingeckoAPIURL),
		priceoracle.WithConfig(priceoracle.Config{
			TTLFresh:          cfg.PriceCacheTTL,
			TTLStale:          cfg.PriceStaleTTL,
			BaseBackoff:       cfg.PriceBaseBackoff,
			MaxBackoff:        5 * time.Minute,
			EmergencyUsdToNgn: cfg.EmergencyUSDNGN,
			EmergencySTXUsd:   cfg.EmergencySTXUSD,
			EmergencyUSDCUsd:  cfg.EmergencyUSDCUSD,
		}),
		priceoracle.WithSnapshotStore(snapshotStore),
		priceoracle.WithLogger(log.With().Str("component", "priceoracle").Logger()),
		priceoracle.WithMetrics(m),
	)

	payouts := payout.NewLencoProvider(payout.Config{
		BaseURL:       "https://api.lenco.co/access/v1",
		APIKey:        cfg.LencoAPIKey,
		AccountID:     cfg.LencoAccountID,
		WebhookSecret: cfg.LencoWebhookSecret,
	}, log.With().Str("component", "payout").Logger())

	guard := liquidity.New(payouts, cfg.MinBufferNGN)

	underdeliveryPolicy := settlement.PolicyAcceptAndFlag
	if cfg.UnderdeliveryPolicy == string(settlement.PolicyReject) {
		underdeliveryPolicy = settlement.PolicyReject
	}

	se := settlement.New(settlement.Config{
		PlatformSTXAddress:  cfg.PlatformSTXAddress,
		MinTokenAmount:      cfg.OfframpMinToken,
		MaxTokenAmount:      cfg.OfframpMaxToken,
		FlatFeeNGN:          cfg.OfframpFlatFeeNGN,
		OfframpWindow:       30 * time.Minute,
		UnderdeliveryPolicy: underdeliveryPolicy,
	}, store, payouts, oracle, guard, log.With().Str("component", "settlement").Logger(), m)

	chainClient := chain.NewStacksClient(cfg.StacksAPIURL)

	watcherMgr := watcher.NewManager(watcher.Config{
		PlatformAddr: cfg.PlatformSTXAddress,
		USDCContract: cfg.USDCContractAddress,
	}, chainClient, se, log.With().Str("component", "watcher").Logger())
	se.SetWatcherSpawner(watcherMgr.Spawn)

	idx := indexer.New(indexer.Config{
		PlatformAddress:     cfg.PlatformSTXAddress,
		USDCContractAddress: cfg.USDCContractAddress,
		PollInterval:        cfg.IndexerPollInterval,
	}, chainClient, log.With().Str("component", "indexer").Logger(), m)

	stacksSigner := signer.New(signer.Config{
		Address:    cfg.PlatformSTXAddress,
		PrivateKey: cfg.PlatformSTXPrivateKey,
		Network:    cfg.StacksNetwork,
		APIURL:     cfg.StacksAPIURL,
	})

	monnify := onramp.NewMonnifyProvider(onramp.MonnifyConfig{
		BaseURL:       "https://api.monnify.com",
		APIKey:        cfg.MonnifyAPIKey,
		SecretKey:     cfg.MonnifySecretKey,
		ContractCode:  cfg.MonnifyContractCode,
		WebhookSecret: cfg.MonnifyWebhookSecret,
	})

	or := onramp.New(onramp.Config{
		FlatFeeNGN:       cfg.OfframpFlatFeeNGN,
		MinTokenAmount:   cfg.OfframpMinToken,
		MaxTokenAmount:   cfg.OfframpMaxToken,
		USDCContractAddr: cfg.USDCContractAddress,
		USDCContractName: cfg.USDCContractName,
	}, store, monnify, oracle, stacksSigner, log.With().Str("component", "onramp").Logger())

	server := httpapi.New(httpapi.Config{
		AllowedOrigin:   cfg.AllowedOrigin,
		RateLimitWindow: cfg.RateLimitWindow,
		RateLimitMax:    cfg.RateLimitMax,
		InternalAPIKey:  cfg.InternalAPIKey,
		StartedAt:       time.Now(),
		Version:         version,
		Environment:     cfg.NodeEnv,
	}, oracle, se, or, guard, payouts, store, log.With().Str("component", "httpapi").Logger())

	group, gctx := errgroup.WithContext(ctx)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.Router(),
	}
	group.Go(func() error {
		log.Info().Str("addr", httpServer.Addr).Msg("starting http server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if cfg.MetricsAddr != "" {
		metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{})}
		group.Go(func() error {
			log.Info().Str("addr", cfg.MetricsAddr).Msg("starting metrics server")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	if cfg.PlatformSTXAddress != "" {
		group.Go(func() error {
			idx.Start(gctx, func(ctx context.Context, reference, chainTxID, senderAddress string, tokenAmount decimal.Decimal, token model.Token) error {
				_, _, err := se.ConfirmReceipt(ctx, settlement.ConfirmReceiptRequest{
					Reference:     reference,
					ChainTxID:     chainTxID,
					TokenAmount:   tokenAmount,
					Token:         token,
					SenderAddress: senderAddress,
				})
				return err
			})
			<-gctx.Done()
			idx.Stop()
			return nil
		})
	}

	// Background refresh task (spec §4.1/§5: exactly one price-refresh
	// task, ticking at TTL_fresh). GetCurrent already skips the upstream
	// call when the cache is still fresh, so ticking faster than TTLFresh
	// just means most ticks are no-ops paid for by the cache check alone.
	group.Go(func() error {
		ticker := time.NewTicker(cfg.PriceCacheTTL)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				oracle.GetCurrent(gctx)
			case <-gctx.Done():
				return nil
			}
		}
	})

	// Reaper task (spec §8 scenario 6): fails pending records past their
	// deposit window that neither a watcher nor the indexer ever resolved.
	group.Go(func() error {
		ticker := time.NewTicker(cfg.ReaperInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if reaped, err := se.RunReapCycle(gctx); err != nil {
					log.Warn().Err(err).Msg("reaper cycle failed")
				} else if reaped > 0 {
					log.Info().Int("count", reaped).Msg("reaped expired pending transactions")
				}
			case <-gctx.Done():
				return nil
			}
		}
	})

	log.Info().Str("version", version).Msg("sswap-engine started")

	err = group.Wait()
	watcherMgr.Wait()
	if err != nil {
		return err
	}
	return nil
}

func buildStore(ctx context.Context, client *mongo.Client) (txstore.Store, error) {
	if client == nil {
		return txstore.NewInMemoryStore(), nil
	}
	return txstore.NewMongoStore(ctx, client.Database("sswap"))
}

// mongoConnect opens (and pings) the single MongoDB client shared by the
// transaction store and the price snapshot store.
func mongoConnect(ctx context.Context, uri string) (*mongo.Client, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}
	return client, nil
}
