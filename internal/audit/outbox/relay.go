// Package outbox relays audit entries committed to the outbox table onto
// Kafka topics, one topic per audit category.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"steward/internal/audit"
)

// Producer is the slice of *kgo.Client the relay needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Source hands out batches of unpublished rows.
type Source interface {
	Claim(ctx context.Context, limit int, fn func(ctx context.Context, rows []Row) error) (int, error)
}

// Relay polls the outbox and produces each row to
// "<prefix>.<category>", keyed by the audit entry id.
type Relay struct {
	source    Source
	producer  Producer
	prefix    string
	interval  time.Duration
	batchSize int
	breaker   *breaker
	metrics   *Metrics
	logger    *slog.Logger
}

// Option configures the Relay.
type Option func(*Relay)

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithBatchSize caps rows per produce call.
func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithBreaker tunes how many consecutive failures pause relaying, and for
// how long.
func WithBreaker(threshold int, cooldown time.Duration) Option {
	return func(r *Relay) {
		r.breaker = newBreaker(threshold, cooldown, nil)
	}
}

// WithMetrics enables relay metrics.
func WithMetrics(m *Metrics) Option {
	return func(r *Relay) {
		r.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a Relay.
func New(source Source, producer Producer, topicPrefix string, opts ...Option) (*Relay, error) {
	if source == nil {
		return nil, errors.New("outbox source is required")
	}
	if producer == nil {
		return nil, errors.New("kafka producer is required")
	}
	if topicPrefix == "" {
		return nil, errors.New("topic prefix is required")
	}
	r := &Relay{
		source:    source,
		producer:  producer,
		prefix:    topicPrefix,
		interval:  time.Second,
		batchSize: 100,
		breaker:   newBreaker(0, 0, nil),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Topics lists every topic the relay may produce to.
func Topics(prefix string) []string {
	return []string{
		Topic(prefix, audit.CategoryCompliance),
		Topic(prefix, audit.CategorySecurity),
		Topic(prefix, audit.CategoryOperations),
	}
}

// Topic names the topic for one category.
func Topic(prefix string, category audit.Category) string {
	return prefix + "." + string(category)
}

// Run relays until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.InfoContext(ctx, "audit outbox relay started", "interval", r.interval, "topic_prefix", r.prefix)
	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "audit outbox relay stopped")
			return nil
		case <-ticker.C:
			if _, err := r.Drain(ctx); err != nil && ctx.Err() == nil {
				r.logger.WarnContext(ctx, "audit outbox relay failed", "error", err)
			}
		}
	}
}

// Drain relays batches until the outbox is empty, a batch fails, or the
// breaker is open. It returns the number of rows relayed.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		if !r.breaker.allow() {
			return total, nil
		}
		n, err := r.source.Claim(ctx, r.batchSize, r.produce)
		if err != nil {
			r.metrics.incFailures()
			if r.breaker.recordFailure() {
				r.metrics.setBreakerOpen(true)
				r.logger.ErrorContext(ctx, "audit outbox relay paused after repeated failures", "error", err)
			}
			return total, err
		}
		r.breaker.recordSuccess()
		r.metrics.setBreakerOpen(false)

		total += n
		if n < r.batchSize {
			return total, nil
		}
	}
}

func (r *Relay) produce(ctx context.Context, rows []Row) error {
	records := make([]*kgo.Record, len(rows))
	for i, row := range rows {
		records[i] = r.record(row)
	}
	if err := r.producer.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce audit entries: %w", err)
	}

	r.metrics.observeBatch(len(rows))
	for _, row := range rows {
		r.metrics.incPublished(string(audit.Action(row.EventType).Category()))
	}
	return nil
}

func (r *Relay) record(row Row) *kgo.Record {
	category := audit.Action(row.EventType).Category()
	return &kgo.Record{
		Topic: Topic(r.prefix, category),
		Key:   []byte(row.AggregateID),
		Value: row.Payload,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(row.EventType)},
			{Key: "category", Value: []byte(category)},
			{Key: "outbox_id", Value: []byte(row.ID)},
		},
		Timestamp: row.CreatedAt,
	}
}
