package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"github.com/prorroga-chain-server/internal/domain"
)

const (
	// DefaultDedupWindow suppresses repeats of an alert for a week.
	DefaultDedupWindow = 7 * 24 * time.Hour

	keyPrefix = "prorroga:alert:"

	memoryDedupSize = 65536
)

// RedisDeduper shares the de-duplication window across replicas.
type RedisDeduper struct {
	client *redis.Client
	window time.Duration
}

// NewRedisDeduper connects to redisURL and verifies the connection.
func NewRedisDeduper(redisURL string, window time.Duration) (*RedisDeduper, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisDeduperFromClient(client, window), nil
}

// NewRedisDeduperFromClient wraps an existing client.
func NewRedisDeduperFromClient(client *redis.Client, window time.Duration) *RedisDeduper {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &RedisDeduper{client: client, window: window}
}

// Claim sets the alert key only if absent; the first caller inside the window wins.
func (d *RedisDeduper) Claim(ctx context.Context, alert domain.Alert) (bool, error) {
	ok, err := d.client.SetNX(ctx, keyPrefix+alert.Key, time.Now().UTC().Format(time.RFC3339), d.window).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim alert %s: %w", alert.Key, err)
	}
	return ok, nil
}

// Release deletes the alert key.
func (d *RedisDeduper) Release(ctx context.Context, alert domain.Alert) error {
	if err := d.client.Del(ctx, keyPrefix+alert.Key).Err(); err != nil {
		return fmt.Errorf("failed to release alert %s: %w", alert.Key, err)
	}
	return nil
}

// Ping checks the Redis connection.
func (d *RedisDeduper) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (d *RedisDeduper) Close() error {
	return d.client.Close()
}

// MemoryDeduper keeps the window in a bounded, expiring in-process cache.
type MemoryDeduper struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, time.Time]
}

func NewMemoryDeduper(window time.Duration) *MemoryDeduper {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &MemoryDeduper{cache: expirable.NewLRU[string, time.Time](memoryDedupSize, nil, window)}
}

func (d *MemoryDeduper) Claim(_ context.Context, alert domain.Alert) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.cache.Get(alert.Key); ok {
		return false, nil
	}
	d.cache.Add(alert.Key, time.Now())
	return true, nil
}

func (d *MemoryDeduper) Release(_ context.Context, alert domain.Alert) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cache.Remove(alert.Key)
	return nil
}

// Filter returns the alerts the deduper has not seen inside its window.
// On a deduper error the remaining alerts are kept, so delivery errs toward repeating.
func Filter(ctx context.Context, d domain.AlertDeduper, alerts []domain.Alert) ([]domain.Alert, int, error) {
	if d == nil {
		return alerts, 0, nil
	}
	fresh := make([]domain.Alert, 0, len(alerts))
	suppressed := 0
	for i, a := range alerts {
		ok, err := d.Claim(ctx, a)
		if err != nil {
			return append(fresh, alerts[i:]...), suppressed, err
		}
		if !ok {
			suppressed++
			continue
		}
		fresh = append(fresh, a)
	}
	return fresh, suppressed, nil
}

// Release undoes the claims of alerts that were never delivered. It keeps going
// past failures and returns them joined.
func Release(ctx context.Context, d domain.AlertDeduper, alerts []domain.Alert) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, a := range alerts {
		if err := d.Release(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
