// Package txstore implements C2: the durable, conditionally-updatable
// record of every swap attempt.
package txstore

import (
	"context"
	"time"

	"github.com/sswap/engine/internal/model"
)

// AddressFilter narrows FindByAddress/CountByAddress queries.
type AddressFilter struct {
	Status    model.Status
	Token     model.Token
	Direction model.Direction
}

// Mutation describes the fields ConditionalUpdate is allowed to change.
// Only non-nil fields are applied; this keeps every call site explicit
// about what it mutates, mirroring the spec's per-transition mutation sets.
type Mutation struct {
	Status             *model.Status
	ChainTxID          *string
	PayoutProviderTxID *string
	ConfirmedAt        *time.Time
	MetaPatch          map[string]any
	AuditEntry         *model.AuditEntry
}

// Store is the C2 repository contract. ConditionalUpdate is the load-bearing
// operation: it must be a single atomic find-and-modify so the settlement
// engine can guarantee exactly-once transitions (spec §4.2, §4.8).
type Store interface {
	Create(ctx context.Context, tx *model.Transaction) error
	FindByReference(ctx context.Context, reference string) (*model.Transaction, error)
	FindByID(ctx context.Context, id string) (*model.Transaction, error)
	FindByAddress(ctx context.Context, address string, filter AddressFilter, page, limit int) ([]*model.Transaction, error)
	CountByAddress(ctx context.Context, address string, filter AddressFilter) (int64, error)
	Aggregate(ctx context.Context, token model.Token) (TokenStats, error)

	// FindExpiredPending lists pending records (of either direction) whose
	// expiresAt has elapsed, for the reaper task (spec §8 scenario 6).
	FindExpiredPending(ctx context.Context, now time.Time) ([]*model.Transaction, error)

	// ConditionalUpdate atomically applies mutation to the record identified
	// by reference IF AND ONLY IF its current status equals requiredStatus.
	// Returns (nil, nil) — not an error — when the precondition did not hold,
	// so callers can distinguish "lost the race" from "store failure".
	ConditionalUpdate(ctx context.Context, reference string, requiredStatus model.Status, mutation Mutation) (*model.Transaction, error)
}

// TokenStats is the per-token aggregate spec §4.2 names.
type TokenStats struct {
	Token          model.Token `json:"token"`
	TotalCount     int64       `json:"totalCount"`
	ConfirmedCount int64       `json:"confirmedCount"`
	TotalNGN       int64       `json:"totalNGN"`
}
