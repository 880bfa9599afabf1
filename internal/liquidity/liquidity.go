// Package liquidity implements C5: a short-TTL gate over the platform's
// NGN float, backed by C3's cached balance.
package liquidity

import (
	"context"

	"github.com/sswap/engine/internal/payout"
)

// Result is the outcome of CheckLiquidity.
type Result struct {
	Ok        bool
	Available int64
	Shortfall int64
	Unknown   bool
}

// Guard wraps a payout.Provider to enforce the minimum-buffer liquidity
// policy named in spec §4.5.
type Guard struct {
	provider     payout.Provider
	minBufferNGN int64
}

func New(provider payout.Provider, minBufferNGN int64) *Guard {
	return &Guard{provider: provider, minBufferNGN: minBufferNGN}
}

// CheckLiquidity requires available >= requiredNGN + minBufferNGN. An
// Unknown balance is treated as a precautionary rejection, never as
// sufficient liquidity.
func (g *Guard) CheckLiquidity(ctx context.Context, requiredNGN int64) (Result, error) {
	available, known, err := g.provider.GetAccountBalance(ctx)
	if err != nil {
		return Result{}, err
	}
	if !known {
		return Result{Unknown: true}, nil
	}

	needed := requiredNGN + g.minBufferNGN
	if available >= needed {
		return Result{Ok: true, Available: available}, nil
	}
	return Result{Ok: false, Available: available, Shortfall: needed - available}, nil
}

// MaxOrder is the public, read-only view of headroom (spec §4.5): never the
// raw balance.
type MaxOrder struct {
	Available   bool  `json:"available"`
	MaxOrderNGN int64 `json:"maxOrderNGN"`
}

func (g *Guard) GetMaxOrderNGN(ctx context.Context) (MaxOrder, error) {
	available, known, err := g.provider.GetAccountBalance(ctx)
	if err != nil {
		return MaxOrder{}, err
	}
	if !known {
		return MaxOrder{Available: false}, nil
	}
	headroom := available - g.minBufferNGN
	if headroom < 0 {
		headroom = 0
	}
	return MaxOrder{Available: true, MaxOrderNGN: headroom}, nil
}
