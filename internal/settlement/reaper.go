package settlement

import (
	"context"
	"time"

	"github.com/sswap/engine/internal/model"
	"github.com/sswap/engine/internal/txstore"
)

// RunReapCycle loads expired-pending candidates from the store and reaps
// them. This is the entry point the wiring layer ticks periodically
// (spec §8 scenario 6); records whose user never
// broadcast a transaction (no watcher spawned) and that the indexer never
// saw are otherwise stuck pending forever.
func (e *Engine) RunReapCycle(ctx context.Context) (reaped int, err error) {
	candidates, err := e.store.FindExpiredPending(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	return e.ReapExpired(ctx, candidates), nil
}

// ReapExpired conditionally transitions any pending offramp whose expiresAt
// has elapsed to failed with reason "poll timeout" (spec §8 scenario 6).
// It is safe to call repeatedly from a ticking background task; each call
// only affects records that are both expired and still pending, and the
// transition is itself a conditional update so it never races the watcher
// or indexer.
func (e *Engine) ReapExpired(ctx context.Context, candidates []*model.Transaction) (reaped int) {
	now := time.Now()
	failed := model.StatusFailed
	for _, tx := range candidates {
		if tx.Direction != model.DirectionOfframp || tx.Status != model.StatusPending || !tx.IsExpired(now) {
			continue
		}
		updated, err := e.store.ConditionalUpdate(ctx, tx.Reference, model.StatusPending, txstore.Mutation{
			Status:    &failed,
			MetaPatch: map[string]any{"failureReason": "poll timeout"},
		})
		if err != nil {
			e.log.Warn().Str("reference", tx.Reference).Err(err).Msg("failed to reap expired offramp")
			continue
		}
		if updated != nil {
			reaped++
		}
	}
	return reaped
}
