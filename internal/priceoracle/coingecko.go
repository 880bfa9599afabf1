package priceoracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// CoingeckoFetcher is the concrete Fetcher hitting a CoinGecko-compatible
// simple-price endpoint, grounded on pkg/pricefeed/coingecko.go's
// fetchPrice: single combined request, map[string]map[string]interface{}
// decode, manual numeric extraction.
type CoingeckoFetcher struct {
	apiURL     string
	apiKey     string
	usePro     bool
	httpClient *http.Client

	stxID        string
	usdcID       string
	stablecoinID string
}

type CoingeckoOption func(*CoingeckoFetcher)

func WithAPIKey(key string, pro bool) CoingeckoOption {
	return func(f *CoingeckoFetcher) {
		f.apiKey = key
		f.usePro = pro
	}
}

func WithHTTPClient(c *http.Client) CoingeckoOption {
	return func(f *CoingeckoFetcher) { f.httpClient = c }
}

func NewCoingeckoFetcher(apiURL string, opts ...CoingeckoOption) *CoingeckoFetcher {
	f := &CoingeckoFetcher{
		apiURL:       apiURL,
		stxID:        "blockstack",
		usdcID:       "usd-coin",
		stablecoinID: "tether",
		httpClient:   &http.Client{Timeout: 12 * time.Second},
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch performs the single upstream request described in spec §4.1:
// {STX_id, USDC_id, stablecoin_id} priced in usd and ngn with 24h change.
func (f *CoingeckoFetcher) Fetch(ctx context.Context) (*Snapshot, error) {
	ids := []string{f.stxID, f.usdcID, f.stablecoinID}
	q := url.Values{}
	q.Set("ids", joinComma(ids))
	q.Set("vs_currencies", "usd,ngn")
	q.Set("include_24hr_change", "true")

	reqURL := fmt.Sprintf("%s/simple/price?%s", f.apiURL, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if f.apiKey != "" {
		if f.usePro {
			req.Header.Set("x-cg-pro-api-key", f.apiKey)
		} else {
			req.Header.Set("x-cg-demo-api-key", f.apiKey)
		}
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var raw map[string]map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode coingecko response: %w", err)
	}

	stx := extract(raw[f.stxID])
	usdc := extract(raw[f.usdcID])
	stable := extract(raw[f.stablecoinID])

	usdToNgn := deriveUsdToNgn(stable, usdc)

	return &Snapshot{
		STX:       TokenPrice{PriceUSD: stx.usd, PriceNGN: stx.ngn, Change24h: stx.change24h},
		USDC:      TokenPrice{PriceUSD: usdc.usd, PriceNGN: usdc.ngn, Change24h: usdc.change24h},
		UsdToNgn:  usdToNgn,
		FetchedAt: time.Now(),
	}, nil
}

type extracted struct {
	usd, ngn, change24h decimal.Decimal
}

func extract(m map[string]any) extracted {
	get := func(key string) decimal.Decimal {
		v, ok := m[key]
		if !ok {
			return decimal.Zero
		}
		switch n := v.(type) {
		case float64:
			return decimal.NewFromFloat(n)
		case string:
			d, err := decimal.NewFromString(n)
			if err == nil {
				return d
			}
		}
		return decimal.Zero
	}
	return extracted{usd: get("usd"), ngn: get("ngn"), change24h: get("usd_24h_change")}
}

// deriveUsdToNgn prefers the stablecoin's own NGN price, falling back to
// USDC's, per §4.1. The caller's emergency-constant fallback handles the
// case where both are zero (upstream error already short-circuits earlier).
func deriveUsdToNgn(stable, usdc extracted) decimal.Decimal {
	if stable.ngn.GreaterThan(decimal.Zero) && stable.usd.GreaterThan(decimal.Zero) {
		return stable.ngn.Div(stable.usd)
	}
	if usdc.ngn.GreaterThan(decimal.Zero) && usdc.usd.GreaterThan(decimal.Zero) {
		return usdc.ngn.Div(usdc.usd)
	}
	return decimal.Zero
}

func joinComma(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}
