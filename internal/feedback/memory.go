package feedback

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/prorroga-chain-server/internal/domain"
)

// MemoryStore implements the Store interface in process memory.
// It is intended for tests and the CLI.
type MemoryStore struct {
	mu          sync.RWMutex
	nextID      int64
	decisions   []*Decision
	adjustments map[domain.CodePair]*Adjustment
}

// NewMemoryStore creates an empty in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		adjustments: make(map[domain.CodePair]*Adjustment),
	}
}

// Append records a decision and updates the pair aggregate.
func (s *MemoryStore) Append(ctx context.Context, decision *Decision) (*Adjustment, error) {
	if err := prepareDecision(decision); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	decision.ID = s.nextID
	stored := *decision
	s.decisions = append(s.decisions, &stored)

	adj, ok := s.adjustments[decision.Pair]
	if !ok {
		adj = &Adjustment{Pair: decision.Pair}
		s.adjustments[decision.Pair] = adj
	}
	confirmed, rejected := counts(decision.Outcome)
	adj.Confirmed += confirmed
	adj.Rejected += rejected
	adj.UpdatedAt = time.Now().UTC()

	out := *adj
	return &out, nil
}

// Get returns the aggregate for a pair.
func (s *MemoryStore) Get(ctx context.Context, pair domain.CodePair) (*Adjustment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	adj, ok := s.adjustments[domain.NewCodePair(pair.A, pair.B)]
	if !ok {
		return nil, nil
	}
	out := *adj
	return &out, nil
}

// List returns aggregates with pagination.
func (s *MemoryStore) List(ctx context.Context, limit, offset int) ([]*Adjustment, error) {
	s.mu.RLock()
	all := make([]*Adjustment, 0, len(s.adjustments))
	for _, adj := range s.adjustments {
		out := *adj
		all = append(all, &out)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].UpdatedAt.After(all[j].UpdatedAt)
		}
		return all[i].Pair.String() < all[j].Pair.String()
	})
	return paginate(all, limit, offset), nil
}

// Decisions returns the decisions for a pair, newest first.
func (s *MemoryStore) Decisions(ctx context.Context, pair domain.CodePair, limit int) ([]*Decision, error) {
	pair = domain.NewCodePair(pair.A, pair.B)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Decision
	for i := len(s.decisions) - 1; i >= 0 && len(result) < limit; i-- {
		if s.decisions[i].Pair == pair {
			d := *s.decisions[i]
			result = append(result, &d)
		}
	}
	return result, nil
}

// Count returns the total number of decisions.
func (s *MemoryStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.decisions)), nil
}

// ExportJSON exports all decisions to a JSON writer.
func (s *MemoryStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	s.mu.RLock()
	all := make([]*Decision, len(s.decisions))
	for i, d := range s.decisions {
		c := *d
		all[i] = &c
	}
	s.mu.RUnlock()
	return writeExport(writer, all)
}

// ImportJSON imports decisions from a JSON reader.
func (s *MemoryStore) ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error) {
	return importDecisions(ctx, s, reader)
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
