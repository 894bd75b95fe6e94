// Package notify delivers alerts to downstream consumers and suppresses
// repeats inside a de-duplication window.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/prorroga-chain-server/internal/domain"
)

// DefaultTopic is used when no Kafka topic is configured.
const DefaultTopic = "prorroga.alerts"

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
	Stats() kafka.WriterStats
}

// Envelope is the JSON payload written for each alert.
type Envelope struct {
	BatchID     string       `json:"batch_id"`
	PublishedAt time.Time    `json:"published_at"`
	Alert       domain.Alert `json:"alert"`
}

// KafkaPublisher writes one message per alert, keyed by subject so all alerts
// of a subject land on the same partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *logrus.Logger
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string, logger *logrus.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}
	if topic == "" {
		topic = DefaultTopic
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newKafkaPublisher(w, topic, logger), nil
}

func newKafkaPublisher(w messageWriter, topic string, logger *logrus.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, topic: topic, logger: logger}
}

// Publish writes the alerts as a single batch.
func (p *KafkaPublisher) Publish(ctx context.Context, alerts []domain.Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	batchID := uuid.NewString()
	now := time.Now().UTC()
	msgs := make([]kafka.Message, 0, len(alerts))
	for _, a := range alerts {
		payload, err := json.Marshal(Envelope{BatchID: batchID, PublishedAt: now, Alert: a})
		if err != nil {
			return fmt.Errorf("failed to marshal alert %s: %w", a.Key, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(a.SubjectID),
			Value: payload,
			Headers: []kafka.Header{
				{Key: "alert-key", Value: []byte(a.Key)},
				{Key: "tier", Value: []byte(a.Tier)},
			},
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.logger.WithFields(logrus.Fields{
			"topic":    p.topic,
			"batch_id": batchID,
			"count":    len(msgs),
		}).WithError(err).Error("Failed to publish alerts")
		return fmt.Errorf("failed to publish %d alerts: %w", len(msgs), err)
	}

	p.logger.WithFields(logrus.Fields{
		"topic":    p.topic,
		"batch_id": batchID,
		"count":    len(msgs),
	}).Info("Published alerts")
	return nil
}

// Close flushes pending writes.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Stats returns writer statistics.
func (p *KafkaPublisher) Stats() kafka.WriterStats {
	return p.writer.Stats()
}

// LogPublisher logs alerts instead of delivering them. Used when no broker is configured.
type LogPublisher struct {
	logger *logrus.Logger
}

func NewLogPublisher(logger *logrus.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, alerts []domain.Alert) error {
	for _, a := range alerts {
		p.logger.WithFields(logrus.Fields{
			"key":              a.Key,
			"tier":             a.Tier,
			"subject_id":       a.SubjectID,
			"accumulated_days": a.AccumulatedDays,
		}).Warn(a.Rationale)
	}
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// Broadcaster fans alerts out to in-process subscribers, such as websocket
// clients. Slow subscribers drop alerts rather than block publishing.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[int]chan domain.Alert
	nextID int
	buffer int
	closed bool
}

// NewBroadcaster creates a broadcaster whose subscriber channels hold buffer alerts.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broadcaster{subs: make(map[int]chan domain.Alert), buffer: buffer}
}

// Subscribe returns a channel of alerts and a function that cancels the subscription.
func (b *Broadcaster) Subscribe() (<-chan domain.Alert, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan domain.Alert, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broadcaster) Publish(_ context.Context, alerts []domain.Alert) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, a := range alerts {
		for _, ch := range b.subs {
			select {
			case ch <- a:
			default:
			}
		}
	}
	return nil
}

// Close ends every subscription.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
	return nil
}

// MultiPublisher publishes to every wrapped publisher and joins their errors.
type MultiPublisher []domain.AlertPublisher

func (m MultiPublisher) Publish(ctx context.Context, alerts []domain.Alert) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, alerts); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiPublisher) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
