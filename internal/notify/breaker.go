package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/prorroga-chain-server/internal/domain"
)

// BreakerConfig configures the circuit around a downstream publisher.
type BreakerConfig struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	MinRequests uint32
	FailRatio   float64
}

// DefaultBreakerConfig trips after 3 requests with a 60% failure ratio and
// probes again after a minute.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:        name,
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		MinRequests: 3,
		FailRatio:   0.6,
	}
}

// BreakerPublisher fails fast while the wrapped publisher keeps failing.
type BreakerPublisher struct {
	next    domain.AlertPublisher
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerPublisher wraps next in a circuit breaker.
func NewBreakerPublisher(next domain.AlertPublisher, cfg BreakerConfig, logger *logrus.Logger) *BreakerPublisher {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= cfg.MinRequests && failureRatio >= cfg.FailRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Alert publisher circuit changed state")
		},
	}
	return &BreakerPublisher{next: next, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (p *BreakerPublisher) Publish(ctx context.Context, alerts []domain.Alert) error {
	_, err := p.breaker.Execute(func() (interface{}, error) {
		return nil, p.next.Publish(ctx, alerts)
	})
	if err != nil {
		return fmt.Errorf("%s publisher: %w", p.breaker.Name(), err)
	}
	return nil
}

// State reports the breaker state.
func (p *BreakerPublisher) State() gobreaker.State {
	return p.breaker.State()
}

func (p *BreakerPublisher) Close() error {
	return p.next.Close()
}
