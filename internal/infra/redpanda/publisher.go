// Package redpanda publishes clock synchronization messages to a
// Kafka-compatible topic so processes outside the tracker can follow
// simulation time.
package redpanda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/star/timekeeper/internal/simclock"
)

const (
	// EventTypeClockOffset is the event type of a published mapping.
	EventTypeClockOffset = "clock.offset"

	aggregateID   = "simclock"
	eventSource   = "timekeeper"
	schemaVersion = 1
)

// Envelope wraps a synchronization message for the topic.
type Envelope struct {
	EventID     uuid.UUID       `json:"event_id"`
	EventType   string          `json:"event_type"`
	AggregateID string          `json:"aggregate_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload"`
	Metadata    Metadata        `json:"metadata"`
}

// Metadata describes where an event came from.
type Metadata struct {
	Source        string `json:"source,omitempty"`
	SchemaVersion int    `json:"schema_version"`
}

// NewEnvelope wraps msg in an envelope stamped at now.
func NewEnvelope(msg simclock.SyncMessage, now time.Time) (*Envelope, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate event id: %w", err)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sync message: %w", err)
	}
	return &Envelope{
		EventID:     id,
		EventType:   EventTypeClockOffset,
		AggregateID: aggregateID,
		Timestamp:   now.UTC(),
		Payload:     payload,
		Metadata:    Metadata{Source: eventSource, SchemaVersion: schemaVersion},
	}, nil
}

// ParsePayload unmarshals the payload into a sync message.
func (e *Envelope) ParsePayload() (simclock.SyncMessage, error) {
	var msg simclock.SyncMessage
	err := json.Unmarshal(e.Payload, &msg)
	return msg, err
}

// Client buffering limits. TryProduce fails fast once the buffer is full,
// so a broker outage drops sync messages instead of stalling the caller.
const (
	maxBufferedRecords = 1024
	deliveryTimeout    = 10 * time.Second
)

// producer is the subset of *kgo.Client the publisher uses.
type producer interface {
	TryProduce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Close()
}

// Publisher is a broadcast worker that produces every synchronization
// message to a topic. Post never blocks; delivery results are logged and
// messages refused by a full buffer are counted as dropped.
type Publisher struct {
	client producer
	topic  string
	source simclock.Source
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	closed  atomic.Bool
	dropped atomic.Int64
}

// NewPublisher connects to brokers and publishes to topic.
func NewPublisher(brokers []string, topic string, source simclock.Source, logger *slog.Logger) (*Publisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.AllowAutoTopicCreation(),
		kgo.DefaultProduceTopic(topic),
		kgo.MaxBufferedRecords(maxBufferedRecords),
		kgo.RecordDeliveryTimeout(deliveryTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redpanda client: %w", err)
	}
	return newPublisher(client, topic, source, logger), nil
}

func newPublisher(client producer, topic string, source simclock.Source, logger *slog.Logger) *Publisher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Publisher{
		client: client,
		topic:  topic,
		source: source,
		logger: logger.With("component", "redpanda-publisher", "topic", topic),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Name identifies the publisher in registry logs and metrics.
func (p *Publisher) Name() string { return "redpanda" }

// Ready reports whether the publisher still accepts messages.
func (p *Publisher) Ready() bool { return !p.closed.Load() }

// Dropped returns how many messages were refused by a full buffer.
func (p *Publisher) Dropped() int64 { return p.dropped.Load() }

// Post produces msg asynchronously.
func (p *Publisher) Post(msg simclock.SyncMessage) bool {
	if !p.Ready() {
		return false
	}

	env, err := NewEnvelope(msg, p.source.Now())
	if err != nil {
		p.logger.Error("failed to build envelope", "error", err)
		return false
	}
	value, err := json.Marshal(env)
	if err != nil {
		p.logger.Error("failed to marshal envelope", "error", err)
		return false
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(env.AggregateID), // single partition keeps messages ordered
		Value: value,
	}
	p.client.TryProduce(p.ctx, record, func(r *kgo.Record, err error) {
		if errors.Is(err, kgo.ErrMaxBuffered) {
			p.dropped.Add(1)
			p.logger.Warn("produce buffer full, dropping clock sync", "event_id", env.EventID)
			return
		}
		if err != nil {
			p.logger.Warn("failed to publish clock sync", "event_id", env.EventID, "error", err)
			return
		}
		p.logger.Debug("clock sync published",
			"event_id", env.EventID,
			"partition", r.Partition,
			"offset", r.Offset,
		)
	})
	return true
}

// Close stops accepting messages and closes the client.
func (p *Publisher) Close() {
	if p.closed.Swap(true) {
		return
	}
	p.cancel()
	p.client.Close()
	p.logger.Info("Redpanda publisher closed")
}
