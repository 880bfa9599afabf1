// Package config loads the environment-variable-driven configuration
// recognized by the service (spec §6), via viper bound directly to the
// process environment — no config files, mirroring the teacher's
// cmd/provider-daemon bootstrap simplified to a single-binary service.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the fully resolved, typed configuration for the process.
type Config struct {
	MongoURI       string
	Port           string
	NodeEnv        string
	AllowedOrigin  string

	RateLimitWindow time.Duration
	RateLimitMax    int

	CoingeckoAPIURL    string
	PriceCacheTTL      time.Duration
	PriceStaleTTL      time.Duration
	PriceBaseBackoff   time.Duration

	EmergencyUSDNGN  decimal.Decimal
	EmergencySTXUSD  decimal.Decimal
	EmergencyUSDCUSD decimal.Decimal

	PlatformSTXAddress    string
	PlatformSTXPrivateKey string
	StacksNetwork         string
	StacksAPIURL          string
	StacksConfirmations   int

	USDCContractAddress string
	USDCContractName    string

	IndexerPollInterval time.Duration
	ReaperInterval      time.Duration
	InternalAPIKey      string
	SelfBaseURL         string

	LencoAPIKey        string
	LencoAccountID     string
	LencoWebhookSecret string
	LencoMinBalanceNGN int64

	OfframpFlatFeeNGN int64
	OfframpMinToken   decimal.Decimal
	OfframpMaxToken   decimal.Decimal
	UnderdeliveryPolicy string // "accept-and-flag" | "reject"

	MonnifyAPIKey         string
	MonnifySecretKey       string
	MonnifyContractCode    string
	MonnifyWebhookSecret   string

	LogLevel   string
	LogFormat  string
	MetricsAddr string

	MinBufferNGN int64
}

// Load binds every recognized environment variable and returns a typed
// Config with the documented defaults applied.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	cfg := &Config{
		MongoURI:      v.GetString("MONGODB_URI"),
		Port:          v.GetString("PORT"),
		NodeEnv:       v.GetString("NODE_ENV"),
		AllowedOrigin: v.GetString("ALLOWED_ORIGIN"),

		RateLimitWindow: time.Duration(v.GetInt64("RATE_LIMIT_WINDOW_MS")) * time.Millisecond,
		RateLimitMax:    v.GetInt("RATE_LIMIT_MAX"),

		CoingeckoAPIURL:  v.GetString("COINGECKO_API_URL"),
		PriceCacheTTL:    time.Duration(v.GetInt64("PRICE_CACHE_TTL_MS")) * time.Millisecond,
		PriceStaleTTL:    time.Duration(v.GetInt64("PRICE_STALE_TTL_MS")) * time.Millisecond,
		PriceBaseBackoff: time.Duration(v.GetInt64("PRICE_BASE_BACKOFF_MS")) * time.Millisecond,

		PlatformSTXAddress:    v.GetString("PLATFORM_STX_ADDRESS"),
		PlatformSTXPrivateKey: v.GetString("PLATFORM_STX_PRIVATE_KEY"),
		StacksNetwork:         v.GetString("STACKS_NETWORK"),
		StacksAPIURL:          v.GetString("STACKS_API_URL"),
		StacksConfirmations:   v.GetInt("STACKS_CONFIRMATIONS_REQUIRED"),

		USDCContractAddress: v.GetString("USDC_CONTRACT_ADDRESS"),
		USDCContractName:    v.GetString("USDC_CONTRACT_NAME"),

		IndexerPollInterval: time.Duration(v.GetInt64("INDEXER_POLL_INTERVAL_MS")) * time.Millisecond,
		ReaperInterval:      time.Duration(v.GetInt64("REAPER_INTERVAL_MS")) * time.Millisecond,
		InternalAPIKey:      v.GetString("INTERNAL_API_KEY"),
		SelfBaseURL:         v.GetString("SELF_BASE_URL"),

		LencoAPIKey:        v.GetString("LENCO_API_KEY"),
		LencoAccountID:     v.GetString("LENCO_ACCOUNT_ID"),
		LencoWebhookSecret: v.GetString("LENCO_WEBHOOK_SECRET"),
		LencoMinBalanceNGN: v.GetInt64("LENCO_MIN_BALANCE_NGN"),

		OfframpFlatFeeNGN:   v.GetInt64("OFFRAMP_FLAT_FEE_NGN"),
		UnderdeliveryPolicy: v.GetString("OFFRAMP_UNDERDELIVERY_POLICY"),

		MonnifyAPIKey:       v.GetString("MONNIFY_API_KEY"),
		MonnifySecretKey:    v.GetString("MONNIFY_SECRET_KEY"),
		MonnifyContractCode: v.GetString("MONNIFY_CONTRACT_CODE"),
		MonnifyWebhookSecret: v.GetString("MONNIFY_WEBHOOK_SECRET"),

		LogLevel:    v.GetString("LOG_LEVEL"),
		LogFormat:   v.GetString("LOG_FORMAT"),
		MetricsAddr: v.GetString("METRICS_ADDR"),

		MinBufferNGN: v.GetInt64("MIN_BUFFER_NGN"),
	}

	var err error
	if cfg.EmergencyUSDNGN, err = decimal.NewFromString(v.GetString("EMERGENCY_USD_NGN")); err != nil {
		return nil, fmt.Errorf("EMERGENCY_USD_NGN: %w", err)
	}
	if cfg.EmergencySTXUSD, err = decimal.NewFromString(v.GetString("EMERGENCY_STX_USD")); err != nil {
		return nil, fmt.Errorf("EMERGENCY_STX_USD: %w", err)
	}
	if cfg.EmergencyUSDCUSD, err = decimal.NewFromString(v.GetString("EMERGENCY_USDC_USD")); err != nil {
		return nil, fmt.Errorf("EMERGENCY_USDC_USD: %w", err)
	}
	if cfg.OfframpMinToken, err = decimal.NewFromString(v.GetString("OFFRAMP_MIN_TOKEN")); err != nil {
		return nil, fmt.Errorf("OFFRAMP_MIN_TOKEN: %w", err)
	}
	if cfg.OfframpMaxToken, err = decimal.NewFromString(v.GetString("OFFRAMP_MAX_TOKEN")); err != nil {
		return nil, fmt.Errorf("OFFRAMP_MAX_TOKEN: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("NODE_ENV", "development")
	v.SetDefault("ALLOWED_ORIGIN", "*")

	v.SetDefault("RATE_LIMIT_WINDOW_MS", 60000)
	v.SetDefault("RATE_LIMIT_MAX", 100)

	v.SetDefault("COINGECKO_API_URL", "https://api.coingecko.com/api/v3")
	v.SetDefault("PRICE_CACHE_TTL_MS", 60000)
	v.SetDefault("PRICE_STALE_TTL_MS", 300000)
	v.SetDefault("PRICE_BASE_BACKOFF_MS", 1000)

	v.SetDefault("EMERGENCY_USD_NGN", "1600")
	v.SetDefault("EMERGENCY_STX_USD", "1.8")
	v.SetDefault("EMERGENCY_USDC_USD", "1.0")

	v.SetDefault("STACKS_NETWORK", "mainnet")
	v.SetDefault("STACKS_API_URL", "https://api.hiro.so")
	v.SetDefault("STACKS_CONFIRMATIONS_REQUIRED", 0)

	v.SetDefault("INDEXER_POLL_INTERVAL_MS", 20000)
	v.SetDefault("REAPER_INTERVAL_MS", 60000)

	v.SetDefault("LENCO_MIN_BALANCE_NGN", 0)

	v.SetDefault("OFFRAMP_FLAT_FEE_NGN", 100)
	v.SetDefault("OFFRAMP_MIN_TOKEN", "1")
	v.SetDefault("OFFRAMP_MAX_TOKEN", "100000")
	v.SetDefault("OFFRAMP_UNDERDELIVERY_POLICY", "accept-and-flag")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("METRICS_ADDR", ":9090")

	v.SetDefault("MIN_BUFFER_NGN", 5000)
}
