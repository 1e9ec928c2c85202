package app

import (
	"context"
	"sync"
	"time"

	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/domain"
)

const (
	defaultFeedBacklog = 1024
	defaultFeedTimeout = 10 * time.Second
)

type feedJob struct {
	negotiationID string
	entries       []domain.TimelineEntry
	barrier       chan struct{}
}

// timelineFeed delivers committed timeline entries from a single goroutine in commit order.
// enqueue never blocks; a full backlog drops the batch.
type timelineFeed struct {
	pub     TimelinePublisher
	logger  Logger
	timeout time.Duration
	jobs    chan feedJob
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

func newTimelineFeed(pub TimelinePublisher, logger Logger, backlog int, timeout time.Duration) *timelineFeed {
	if backlog <= 0 {
		backlog = defaultFeedBacklog
	}
	if timeout <= 0 {
		timeout = defaultFeedTimeout
	}
	f := &timelineFeed{
		pub:     pub,
		logger:  logger,
		timeout: timeout,
		jobs:    make(chan feedJob, backlog),
		done:    make(chan struct{}),
	}
	go f.loop()
	return f
}

func (f *timelineFeed) loop() {
	defer close(f.done)
	for job := range f.jobs {
		if job.barrier != nil {
			close(job.barrier)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		err := f.pub.PublishTimeline(ctx, job.negotiationID, job.entries)
		cancel()
		if err != nil {
			f.logger.Warn("timeline publish failed", "negotiation_id", job.negotiationID, "entries", len(job.entries), "err", err)
		}
	}
}

// enqueue reports false when the feed is closed or its backlog is full.
func (f *timelineFeed) enqueue(negotiationID string, entries []domain.TimelineEntry) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return false
	}
	select {
	case f.jobs <- feedJob{negotiationID: negotiationID, entries: entries}:
		return true
	default:
		return false
	}
}

// flush waits until every batch enqueued before the call has been handed to the publisher.
func (f *timelineFeed) flush(ctx context.Context) error {
	barrier := make(chan struct{})
	f.mu.RLock()
	if f.closed {
		f.mu.RUnlock()
		return nil
	}
	select {
	case f.jobs <- feedJob{barrier: barrier}:
	case <-ctx.Done():
		f.mu.RUnlock()
		return ctx.Err()
	}
	f.mu.RUnlock()
	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops accepting batches and waits for the backlog to drain.
func (f *timelineFeed) close(ctx context.Context) error {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		close(f.jobs)
	}
	f.mu.Unlock()
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
