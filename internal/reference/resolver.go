package reference

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru"
	"github.com/prorroga-chain-server/internal/domain"
)

// DefaultResolverCacheSize bounds the number of memoized code resolutions.
const DefaultResolverCacheSize = 4096

// Resolver normalizes raw codes and resolves their hierarchy against a snapshot,
// memoizing results per snapshot generation.
type Resolver struct {
	cache *lru.Cache

	stats   ResolverStats
	statsMu sync.RWMutex
}

// ResolverStats represents cache performance statistics
type ResolverStats struct {
	Hits      int64     `json:"hits"`
	Misses    int64     `json:"misses"`
	Invalid   int64     `json:"invalid"`
	LastReset time.Time `json:"last_reset"`
}

type resolverKey struct {
	generation uint64
	code       string
}

// NewResolver creates a resolver with an LRU cache of the given size.
func NewResolver(size int) (*Resolver, error) {
	if size <= 0 {
		size = DefaultResolverCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver cache: %w", err)
	}
	return &Resolver{
		cache: cache,
		stats: ResolverStats{LastReset: time.Now()},
	}, nil
}

// Resolve normalizes raw and returns its hierarchy. Codes that fail
// normalization come back with Valid=false and unknown hierarchy fields.
func (r *Resolver) Resolve(snap *Snapshot, raw string) domain.DiagnosisCode {
	canonical, ok := Normalize(raw)
	if !ok {
		r.record(func(s *ResolverStats) { s.Invalid++ })
		dc := snap.Resolve(canonical)
		dc.Raw = raw
		dc.Valid = false
		return dc
	}

	key := resolverKey{generation: snap.Generation(), code: canonical}
	if v, found := r.cache.Get(key); found {
		r.record(func(s *ResolverStats) { s.Hits++ })
		dc := v.(domain.DiagnosisCode)
		dc.Raw = raw
		return dc
	}

	r.record(func(s *ResolverStats) { s.Misses++ })
	dc := snap.Resolve(canonical)
	r.cache.Add(key, dc)
	dc.Raw = raw
	return dc
}

// Purge drops all memoized resolutions.
func (r *Resolver) Purge() {
	r.cache.Purge()
	r.statsMu.Lock()
	r.stats = ResolverStats{LastReset: time.Now()}
	r.statsMu.Unlock()
}

// Stats returns a copy of the cache statistics.
func (r *Resolver) Stats() ResolverStats {
	r.statsMu.RLock()
	defer r.statsMu.RUnlock()
	return r.stats
}

func (r *Resolver) record(fn func(*ResolverStats)) {
	r.statsMu.Lock()
	fn(&r.stats)
	r.statsMu.Unlock()
}
