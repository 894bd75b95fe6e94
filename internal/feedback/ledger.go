package feedback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/prorroga-chain-server/internal/domain"
)

const loadPageSize = 1000

// Ledger fronts a Store for the scoring path. Writes are serialized and go
// through a circuit breaker; reads are served from an in-memory view that is
// replaced after every successful write, so scorers may briefly see the
// previous counts.
type Ledger struct {
	store      Store
	logger     *logrus.Logger
	minSamples int
	breaker    *gobreaker.CircuitBreaker

	writeMu sync.Mutex
	view    atomic.Pointer[map[domain.CodePair]Adjustment]
}

// NewLedger wraps store. minSamples <= 0 uses DefaultMinSamples.
func NewLedger(store Store, minSamples int, logger *logrus.Logger) *Ledger {
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	if logger == nil {
		logger = logrus.New()
	}

	l := &Ledger{
		store:      store,
		logger:     logger,
		minSamples: minSamples,
	}
	l.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "CorrelationLedger",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrInvalidDecision)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"circuit_breaker": name,
				"from_state":      from.String(),
				"to_state":        to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	empty := map[domain.CodePair]Adjustment{}
	l.view.Store(&empty)
	return l
}

// Load rebuilds the read view from the store.
func (l *Ledger) Load(ctx context.Context) error {
	view := make(map[domain.CodePair]Adjustment)
	for offset := 0; ; offset += loadPageSize {
		page, err := l.store.List(ctx, loadPageSize, offset)
		if err != nil {
			return fmt.Errorf("failed to load ledger: %w", err)
		}
		for _, adj := range page {
			view[adj.Pair] = *adj
		}
		if len(page) < loadPageSize {
			break
		}
	}

	l.writeMu.Lock()
	l.view.Store(&view)
	l.writeMu.Unlock()

	l.logger.WithField("pairs", len(view)).Info("Correlation ledger loaded")
	return nil
}

// Record appends a decision and publishes the updated aggregate to readers.
func (l *Ledger) Record(ctx context.Context, decision *Decision) (*Adjustment, error) {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	result, err := l.breaker.Execute(func() (interface{}, error) {
		return l.store.Append(ctx, decision)
	})
	if err != nil {
		if !errors.Is(err, domain.ErrInvalidDecision) {
			l.logger.WithError(err).WithField("pair", decision.Pair.String()).Error("Failed to record correlation decision")
		}
		return nil, err
	}
	adj := result.(*Adjustment)

	current := *l.view.Load()
	next := make(map[domain.CodePair]Adjustment, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[adj.Pair] = *adj
	l.view.Store(&next)

	l.logger.WithFields(logrus.Fields{
		"pair":      adj.Pair.String(),
		"outcome":   decision.Outcome,
		"confirmed": adj.Confirmed,
		"rejected":  adj.Rejected,
	}).Info("Correlation decision recorded")

	return adj, nil
}

// Lookup returns the aggregate for a pair from the read view.
func (l *Ledger) Lookup(a, b string) (Adjustment, bool) {
	adj, ok := (*l.view.Load())[domain.NewCodePair(a, b)]
	return adj, ok
}

// LearnedConfidence returns the pair's learned confidence once enough decisions exist.
func (l *Ledger) LearnedConfidence(a, b string) (float64, int, bool) {
	adj, ok := l.Lookup(a, b)
	if !ok {
		return 0, 0, false
	}
	learned, ok := adj.LearnedConfidence(l.minSamples)
	return learned, adj.Samples(), ok
}

// Get reads a pair from the store, falling back to the read view when the breaker is open.
func (l *Ledger) Get(ctx context.Context, pair domain.CodePair) (*Adjustment, error) {
	result, err := l.breaker.Execute(func() (interface{}, error) {
		return l.store.Get(ctx, pair)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		if adj, ok := l.Lookup(pair.A, pair.B); ok {
			return &adj, nil
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result.(*Adjustment), nil
}

// Decisions returns the most recent decisions for a pair.
func (l *Ledger) Decisions(ctx context.Context, pair domain.CodePair, limit int) ([]*Decision, error) {
	return l.store.Decisions(ctx, pair, limit)
}

// MinSamples returns the learning threshold.
func (l *Ledger) MinSamples() int {
	return l.minSamples
}

// Size returns the number of pairs in the read view.
func (l *Ledger) Size() int {
	return len(*l.view.Load())
}

// Store returns the underlying store.
func (l *Ledger) Store() Store {
	return l.store
}

// Close closes the underlying store.
func (l *Ledger) Close() error {
	return l.store.Close()
}
