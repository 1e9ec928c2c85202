package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/app"
	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/domain"
)

var _ app.TimelinePublisher = (*Publisher)(nil)

type fakeWriter struct {
	batches [][]kafka.Message
	err     error
	closed  bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.batches = append(w.batches, msgs)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublishTimeline(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisher(w, "negotiation-timeline")
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	entries := []domain.TimelineEntry{
		{Seq: 2, Kind: domain.TimelineOfferMade, ActorID: "buyer", Role: domain.RoleRequester, At: at,
			Details: domain.TimelineDetails{Offer: &domain.OfferDetails{EventID: "e1", Amount: 110, Currency: "USD", Round: 1}}},
		{Seq: 3, Kind: domain.TimelineNegotiationStarted, ActorID: "buyer", Role: domain.RoleRequester, At: at,
			Details: domain.TimelineDetails{Started: &domain.StartedDetails{EventID: "e1"}}},
	}
	if err := p.PublishTimeline(context.Background(), "n1", entries); err != nil {
		t.Fatalf("PublishTimeline() error = %v", err)
	}
	if len(w.batches) != 1 || len(w.batches[0]) != 2 {
		t.Fatalf("expected one batch of two messages, got %#v", w.batches)
	}
	first := w.batches[0][0]
	if string(first.Key) != "n1" || string(first.Headers[0].Value) != "offer_made" {
		t.Fatalf("unexpected message key/headers %#v", first)
	}
	var decoded Message
	if err := json.Unmarshal(first.Value, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded.NegotiationID != "n1" || decoded.Seq != 2 || decoded.Details.Offer == nil || decoded.Details.Offer.Round != 1 {
		t.Fatalf("unexpected decoded message %#v", decoded)
	}
}

func TestPublishTimelineEmptyAndErrors(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisher(w, "t")
	if err := p.PublishTimeline(context.Background(), "n1", nil); err != nil || len(w.batches) != 0 {
		t.Fatalf("empty publish = %v, batches %d", err, len(w.batches))
	}
	boom := errors.New("broker down")
	w.err = boom
	err := p.PublishTimeline(context.Background(), "n1", []domain.TimelineEntry{{Seq: 1, Kind: domain.TimelineInitiated}})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped writer error, got %v", err)
	}
	if err := p.Close(); err != nil || !w.closed {
		t.Fatalf("Close() = %v, closed %v", err, w.closed)
	}
}

func TestNewPublisherValidation(t *testing.T) {
	if _, err := NewPublisher(nil, "t"); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for no brokers, got %v", err)
	}
	if _, err := NewPublisher([]string{"localhost:9092"}, " "); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for empty topic, got %v", err)
	}
	p, err := NewPublisher([]string{" localhost:9092 ", ""}, "negotiation-timeline")
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}
	if p.Topic() != "negotiation-timeline" {
		t.Fatalf("unexpected topic %q", p.Topic())
	}
	w, ok := p.w.(*kafka.Writer)
	if !ok {
		t.Fatalf("expected *kafka.Writer, got %T", p.w)
	}
	if w.BatchTimeout != batchTimeout {
		t.Fatalf("expected batch timeout %s, got %s", batchTimeout, w.BatchTimeout)
	}
	_ = p.Close()
}
