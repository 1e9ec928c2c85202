// Package kafka publishes committed negotiation timeline entries to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/domain"
)

// ErrInvalidConfig reports unusable broker or topic settings.
var ErrInvalidConfig = errors.New("invalid feed config")

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Message is the JSON payload written for every timeline entry.
type Message struct {
	NegotiationID string                 `json:"negotiation_id"`
	Seq           int                    `json:"seq"`
	Kind          domain.TimelineKind    `json:"kind"`
	ActorID       string                 `json:"actor_id"`
	Role          domain.Role            `json:"role"`
	At            time.Time              `json:"at"`
	Details       domain.TimelineDetails `json:"details"`
}

// Publisher implements app.TimelinePublisher on a kafka-go writer.
type Publisher struct {
	w     messageWriter
	topic string
}

// batchTimeout bounds how long a write waits to fill a batch; the default of one second
// would hold every publish that long.
const batchTimeout = 10 * time.Millisecond

// NewPublisher builds a writer for topic. Messages are hashed by negotiation id so one
// negotiation's entries stay ordered on a single partition.
func NewPublisher(brokers []string, topic string) (*Publisher, error) {
	addrs := make([]string, 0, len(brokers))
	for _, b := range brokers {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	topic = strings.TrimSpace(topic)
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: at least one broker is required", ErrInvalidConfig)
	}
	if topic == "" {
		return nil, fmt.Errorf("%w: topic is required", ErrInvalidConfig)
	}
	return newPublisher(&kafka.Writer{
		Addr:                   kafka.TCP(addrs...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           batchTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}, topic), nil
}

func newPublisher(w messageWriter, topic string) *Publisher {
	return &Publisher{w: w, topic: topic}
}

// Topic returns the destination topic.
func (p *Publisher) Topic() string {
	return p.topic
}

// PublishTimeline writes entries as one batch keyed by negotiationID.
func (p *Publisher) PublishTimeline(ctx context.Context, negotiationID string, entries []domain.TimelineEntry) error {
	if len(entries) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(entries))
	for _, entry := range entries {
		value, err := json.Marshal(Message{
			NegotiationID: negotiationID,
			Seq:           entry.Seq,
			Kind:          entry.Kind,
			ActorID:       entry.ActorID,
			Role:          entry.Role,
			At:            entry.At.UTC(),
			Details:       entry.Details,
		})
		if err != nil {
			return fmt.Errorf("encode timeline entry %d: %w", entry.Seq, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(negotiationID),
			Value: value,
			Time:  entry.At.UTC(),
			Headers: []kafka.Header{
				{Key: "kind", Value: []byte(entry.Kind)},
			},
		})
	}
	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish timeline %s: %w", negotiationID, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.w.Close()
}
