package txstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sswap/engine/internal/model"
	"github.com/sswap/engine/internal/sswaperr"
)

// InMemoryStore is a test double for Store. Unlike the teacher's
// InMemoryPayoutStore (pkg/payment/offramp/store.go), whose Save() is a
// plain overwrite, ConditionalUpdate here performs a genuine compare-and-swap
// under a single mutex so unit tests can exercise the exactly-once
// invariants (spec §8) without a live MongoDB.
type InMemoryStore struct {
	mu      sync.Mutex
	byID    map[string]*model.Transaction
	byRef   map[string]string // reference -> id
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:  make(map[string]*model.Transaction),
		byRef: make(map[string]string),
	}
}

func (s *InMemoryStore) Create(ctx context.Context, tx *model.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byRef[tx.Reference]; exists {
		return sswaperr.New(sswaperr.KindConflictOfState, "reference already exists")
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	cp := *tx
	cp.Meta = cloneMeta(tx.Meta)
	s.byID[cp.ID] = &cp
	s.byRef[cp.Reference] = cp.ID
	return nil
}

func (s *InMemoryStore) FindByReference(ctx context.Context, reference string) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byRef[reference]
	if !ok {
		return nil, nil
	}
	return cloneTx(s.byID[id]), nil
}

func (s *InMemoryStore) FindByID(ctx context.Context, id string) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	return cloneTx(tx), nil
}

func (s *InMemoryStore) FindByAddress(ctx context.Context, address string, filter AddressFilter, page, limit int) ([]*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []*model.Transaction
	for _, tx := range s.byID {
		if tx.SenderAddress != address {
			continue
		}
		if !matchesFilter(tx, filter) {
			continue
		}
		matches = append(matches, cloneTx(tx))
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.After(matches[j].CreatedAt) })

	if limit <= 0 {
		limit = 20
	}
	start := page * limit
	if start >= len(matches) {
		return []*model.Transaction{}, nil
	}
	end := start + limit
	if end > len(matches) {
		end = len(matches)
	}
	return matches[start:end], nil
}

func (s *InMemoryStore) CountByAddress(ctx context.Context, address string, filter AddressFilter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, tx := range s.byID {
		if tx.SenderAddress == address && matchesFilter(tx, filter) {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) Aggregate(ctx context.Context, token model.Token) (TokenStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := TokenStats{Token: token}
	for _, tx := range s.byID {
		if tx.Token != token {
			continue
		}
		stats.TotalCount++
		if tx.Status == model.StatusConfirmed {
			stats.ConfirmedCount++
			stats.TotalNGN += tx.NGNAmount
		}
	}
	return stats, nil
}

func (s *InMemoryStore) FindExpiredPending(ctx context.Context, now time.Time) ([]*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Transaction
	for _, tx := range s.byID {
		if tx.Status == model.StatusPending && tx.IsExpired(now) {
			out = append(out, cloneTx(tx))
		}
	}
	return out, nil
}

// ConditionalUpdate is the load-bearing exactly-once primitive. It holds the
// store mutex for the full check-then-set, which is the in-memory analog of
// MongoDB's single-document atomicity guarantee.
func (s *InMemoryStore) ConditionalUpdate(ctx context.Context, reference string, requiredStatus model.Status, mutation Mutation) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byRef[reference]
	if !ok {
		return nil, nil
	}
	tx := s.byID[id]
	if tx.Status != requiredStatus {
		return nil, nil
	}

	if mutation.Status != nil {
		tx.Status = *mutation.Status
	}
	if mutation.ChainTxID != nil {
		tx.ChainTxID = *mutation.ChainTxID
	}
	if mutation.PayoutProviderTxID != nil {
		tx.PayoutProviderTxID = *mutation.PayoutProviderTxID
	}
	if mutation.ConfirmedAt != nil {
		tx.ConfirmedAt = mutation.ConfirmedAt
	}
	for k, v := range mutation.MetaPatch {
		if tx.Meta == nil {
			tx.Meta = make(map[string]any)
		}
		tx.Meta[k] = v
	}
	if mutation.AuditEntry != nil {
		tx.AuditTrail = append(tx.AuditTrail, *mutation.AuditEntry)
	}

	return cloneTx(tx), nil
}

func matchesFilter(tx *model.Transaction, f AddressFilter) bool {
	if f.Status != "" && tx.Status != f.Status {
		return false
	}
	if f.Token != "" && tx.Token != f.Token {
		return false
	}
	if f.Direction != "" && tx.Direction != f.Direction {
		return false
	}
	return true
}

func cloneTx(tx *model.Transaction) *model.Transaction {
	if tx == nil {
		return nil
	}
	cp := *tx
	cp.Meta = cloneMeta(tx.Meta)
	cp.AuditTrail = append([]model.AuditEntry(nil), tx.AuditTrail...)
	return &cp
}

func cloneMeta(m map[string]any) map[string]any {
	if m == nil {
		return make(map[string]any)
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
