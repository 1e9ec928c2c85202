package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/domain"
)

// ServiceConfig holds configuration for service.
type ServiceConfig struct {
	DefaultMaxRounds   int
	DefaultExpiry      time.Duration
	DefaultCurrency    string
	EnforceMinPrice    bool
	AgentActorID       string
	AgentTimeout       time.Duration
	AgentRatePerSecond float64
	AgentBurst         int
	AgentAutoReply     bool
	PersistRetries     int
	PersistBackoff     time.Duration
	SweepBatchSize     int
	FeedBacklog        int
	FeedTimeout        time.Duration
}

// Service hosts the negotiation use cases around the aggregate.
type Service struct {
	repo       Repository
	listings   ListingLookup
	idGen      IDGenerator
	eventIDGen IDGenerator
	clock      Clock
	cfg        ServiceConfig

	agent     Agent
	publisher TimelinePublisher
	feed      *timelineFeed
	metrics   Metrics
	logger    Logger

	locks    keyedMutex
	limiters *limiterPool
}

// NewService constructs a new value for this package.
func NewService(repo Repository, listings ListingLookup, idGen IDGenerator, clock Clock, cfg ServiceConfig, opts ...Option) *Service {
	if idGen == nil {
		idGen = func() string { return "" }
	}
	if clock == nil {
		clock = time.Now
	}
	if cfg.DefaultMaxRounds <= 0 {
		cfg.DefaultMaxRounds = domain.DefaultMaxRounds
	}
	if cfg.DefaultExpiry <= 0 {
		cfg.DefaultExpiry = domain.DefaultExpiry
	}
	if strings.TrimSpace(cfg.DefaultCurrency) == "" {
		cfg.DefaultCurrency = "USD"
	}
	if strings.TrimSpace(cfg.AgentActorID) == "" {
		cfg.AgentActorID = "agent"
	}
	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = 10 * time.Second
	}
	if cfg.PersistRetries < 0 {
		cfg.PersistRetries = 0
	}
	if cfg.PersistBackoff <= 0 {
		cfg.PersistBackoff = 25 * time.Millisecond
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 100
	}

	s := &Service{
		repo:     repo,
		listings: listings,
		idGen:    idGen,
		clock:    clock,
		cfg:      cfg,
		metrics:  nopMetrics{},
		logger:   nopLogger{},
		limiters: newLimiterPool(cfg.AgentRatePerSecond, cfg.AgentBurst),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.eventIDGen == nil {
		s.eventIDGen = NewULIDGenerator(clock)
	}
	if s.publisher != nil {
		s.feed = newTimelineFeed(s.publisher, s.logger, cfg.FeedBacklog, cfg.FeedTimeout)
	}
	return s
}

// FlushTimeline waits until every timeline entry committed so far has been handed to the
// publisher.
func (s *Service) FlushTimeline(ctx context.Context) error {
	if s.feed == nil {
		return nil
	}
	return s.feed.flush(ctx)
}

// Close drains the timeline feed. Entries committed after Close are not published.
func (s *Service) Close(ctx context.Context) error {
	if s.feed == nil {
		return nil
	}
	return s.feed.close(ctx)
}

// CreateNegotiationInput holds input values for create negotiation operations.
type CreateNegotiationInput struct {
	ListingID    string
	RequesterID  string
	ResponderID  string
	InitialOffer float64
	Currency     string
	MaxRounds    int
	ExpiresIn    time.Duration
	Message      string
}

// CreateNegotiation opens a negotiation on a listing after validating the opening offer.
func (s *Service) CreateNegotiation(ctx context.Context, in CreateNegotiationInput) (domain.Negotiation, error) {
	in.ListingID = strings.TrimSpace(in.ListingID)
	in.RequesterID = strings.TrimSpace(in.RequesterID)
	in.ResponderID = strings.TrimSpace(in.ResponderID)
	if in.ListingID == "" || in.RequesterID == "" {
		return domain.Negotiation{}, domain.ErrInvalidID
	}
	if s.listings == nil {
		return domain.Negotiation{}, fmt.Errorf("%w: listing lookup is not configured", ErrInternal)
	}

	var listing ListingInfo
	err := s.withRetry(ctx, "get listing", func() error {
		var err error
		listing, err = s.listings.GetListing(ctx, in.ListingID)
		return err
	})
	if err != nil {
		return domain.Negotiation{}, fmt.Errorf("get listing: %w", err)
	}

	if in.ResponderID == "" {
		in.ResponderID = strings.TrimSpace(listing.OwnerID)
	}
	if owner := strings.TrimSpace(listing.OwnerID); owner != "" && in.ResponderID != owner {
		return domain.Negotiation{}, fmt.Errorf("responder must own the listing: %w", domain.ErrUnauthorized)
	}
	currency, err := s.negotiationCurrency(in.Currency, listing.Currency)
	if err != nil {
		return domain.Negotiation{}, err
	}
	if listing.BasePrice > 0 && in.InitialOffer > listing.BasePrice {
		return domain.Negotiation{}, fmt.Errorf("%w: initial offer above listing price", domain.ErrOfferOutOfBounds)
	}
	if s.cfg.EnforceMinPrice && listing.MinPrice > 0 && in.InitialOffer < listing.MinPrice {
		return domain.Negotiation{}, fmt.Errorf("%w: initial offer below listing minimum", domain.ErrOfferOutOfBounds)
	}

	release := s.locks.Lock("create:" + in.ListingID + "/" + in.RequesterID)
	defer release()
	if err := s.ensureNoActiveNegotiation(ctx, in.ListingID, in.RequesterID); err != nil {
		return domain.Negotiation{}, err
	}

	maxRounds := in.MaxRounds
	if maxRounds == 0 {
		maxRounds = s.cfg.DefaultMaxRounds
	}
	expiresIn := in.ExpiresIn
	if expiresIn == 0 {
		expiresIn = s.cfg.DefaultExpiry
	}
	now := s.clock()
	n, err := domain.NewNegotiation(domain.NegotiationInput{
		ID:           s.idGen(),
		ListingID:    in.ListingID,
		RequesterID:  in.RequesterID,
		ResponderID:  in.ResponderID,
		InitialOffer: in.InitialOffer,
		Currency:     currency,
		MaxRounds:    maxRounds,
		ExpiresAt:    now.Add(expiresIn),
	}, now)
	if err != nil {
		return domain.Negotiation{}, err
	}
	if strings.TrimSpace(in.Message) != "" {
		if _, err := n.Append(domain.EventInput{
			ID:      s.eventIDGen(),
			Sender:  domain.Actor{ID: n.RequesterID, Role: domain.RoleRequester},
			Kind:    domain.EventKindText,
			Content: in.Message,
		}, now); err != nil {
			return domain.Negotiation{}, err
		}
	}
	if err := n.CheckInvariants(); err != nil {
		s.logger.Error("negotiation invariants failed", "negotiation_id", n.ID, "err", err)
		return domain.Negotiation{}, fmt.Errorf("%w: invariant check failed", ErrInternal)
	}
	n.Version = 1
	if err := s.withRetry(ctx, "create negotiation", func() error {
		return s.repo.CreateNegotiation(ctx, n)
	}); err != nil {
		return domain.Negotiation{}, err
	}

	s.metrics.NegotiationCreated()
	for _, ev := range n.Events {
		s.metrics.EventAppended(ev.Kind)
	}
	if n.Status != domain.StatusInitiated {
		s.metrics.StatusChanged(domain.StatusInitiated, n.Status)
	}
	s.publish(n.ID, n.Timeline)
	s.logger.Info("negotiation created", "negotiation_id", n.ID, "listing_id", n.ListingID, "actor_id", n.RequesterID)
	return n, nil
}

// negotiationCurrency resolves the currency for a new negotiation.
func (s *Service) negotiationCurrency(requested, listing string) (string, error) {
	code := strings.TrimSpace(listing)
	if code == "" {
		code = s.cfg.DefaultCurrency
	}
	code, err := domain.NormalizeCurrency(code)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(requested) == "" {
		return code, nil
	}
	requestedCode, err := domain.NormalizeCurrency(requested)
	if err != nil {
		return "", err
	}
	if requestedCode != code {
		return "", domain.ErrCurrencyMismatch
	}
	return code, nil
}

// ensureNoActiveNegotiation rejects a second open negotiation for the same listing and requester.
// A stale one past its deadline is expired instead.
func (s *Service) ensureNoActiveNegotiation(ctx context.Context, listingID, requesterID string) error {
	var existing domain.Negotiation
	err := s.withRetry(ctx, "find active negotiation", func() error {
		var err error
		existing, err = s.repo.FindActiveNegotiation(ctx, listingID, requesterID)
		return err
	})
	switch {
	case errors.Is(err, ErrNotFound):
		return nil
	case err != nil:
		return err
	}
	if existing.Status.IsTerminal() {
		return nil
	}
	if existing.IsPastDeadline(s.clock()) {
		expired, err := s.GetNegotiation(ctx, existing.ID)
		if err != nil {
			return err
		}
		if expired.Status.IsTerminal() {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrDuplicateNegotiation, existing.ID)
}

// AppendEventInput holds input values for ledger append operations.
type AppendEventInput struct {
	NegotiationID string
	ActorID       string
	Kind          domain.EventKind
	Content       string
	Amount        *float64
	Currency      string
}

// AppendEvent appends a participant event to the ledger.
func (s *Service) AppendEvent(ctx context.Context, in AppendEventInput) (domain.Negotiation, domain.Event, error) {
	var ref domain.EventRef
	var actor domain.Actor
	n, err := s.mutate(ctx, in.NegotiationID, "append event", func(n *domain.Negotiation, now time.Time) error {
		var err error
		actor, err = n.Authorize(in.ActorID)
		if err != nil {
			return err
		}
		var offer *domain.Offer
		if in.Amount != nil {
			offer = &domain.Offer{Amount: *in.Amount, Currency: in.Currency}
		}
		ref, err = n.Append(domain.EventInput{
			ID:      s.eventIDGen(),
			Sender:  actor,
			Kind:    in.Kind,
			Content: in.Content,
			Offer:   offer,
		}, now)
		return err
	})
	if err != nil {
		return domain.Negotiation{}, domain.Event{}, err
	}
	ev, err := n.Event(ref.Seq)
	if err != nil {
		return domain.Negotiation{}, domain.Event{}, err
	}
	s.metrics.EventAppended(ev.Kind)

	if s.cfg.AgentAutoReply && s.agent != nil && actor.Role == domain.RoleRequester {
		updated, _, err := s.RequestAgentReply(ctx, n.ID, actor.ID)
		if err != nil {
			s.logger.Warn("agent auto reply skipped", "negotiation_id", n.ID, "err", err)
		} else {
			n = updated
		}
	}
	return n, ev, nil
}

// SoftDeleteEvent hides one of the actor's events.
func (s *Service) SoftDeleteEvent(ctx context.Context, negotiationID, actorID string, seq int) (domain.Negotiation, error) {
	return s.mutate(ctx, negotiationID, "delete event", func(n *domain.Negotiation, now time.Time) error {
		actor, err := n.Authorize(actorID)
		if err != nil {
			return err
		}
		return n.SoftDelete(seq, actor, now)
	})
}

// EditEvent replaces the content of one of the actor's text events.
func (s *Service) EditEvent(ctx context.Context, negotiationID, actorID string, seq int, content string) (domain.Negotiation, error) {
	return s.mutate(ctx, negotiationID, "edit event", func(n *domain.Negotiation, now time.Time) error {
		actor, err := n.Authorize(actorID)
		if err != nil {
			return err
		}
		return n.EditEvent(seq, actor, content, now)
	})
}

// MarkRead marks the other party's events read up to seq and returns how many changed.
func (s *Service) MarkRead(ctx context.Context, negotiationID, actorID string, upToSeq int) (int, error) {
	changed := 0
	_, err := s.mutate(ctx, negotiationID, "mark read", func(n *domain.Negotiation, now time.Time) error {
		actor, err := n.Authorize(actorID)
		if err != nil {
			return err
		}
		changed, err = n.MarkRead(actor, upToSeq, now)
		return err
	})
	return changed, err
}

// React toggles a reaction and reports whether it is now present.
func (s *Service) React(ctx context.Context, negotiationID, actorID string, seq int, symbol string) (bool, error) {
	added := false
	_, err := s.mutate(ctx, negotiationID, "react", func(n *domain.Negotiation, now time.Time) error {
		actor, err := n.Authorize(actorID)
		if err != nil {
			return err
		}
		added, err = n.React(seq, actor, symbol, now)
		return err
	})
	return added, err
}

// AcceptOffer completes the negotiation at the current offer.
func (s *Service) AcceptOffer(ctx context.Context, negotiationID, actorID string) (domain.Negotiation, error) {
	return s.mutate(ctx, negotiationID, "accept offer", func(n *domain.Negotiation, now time.Time) error {
		actor, err := n.Authorize(actorID)
		if err != nil {
			return err
		}
		return n.AcceptOffer(actor, now)
	})
}

// RejectOffer ends the negotiation without agreement.
func (s *Service) RejectOffer(ctx context.Context, negotiationID, actorID, reason string) (domain.Negotiation, error) {
	return s.mutate(ctx, negotiationID, "reject offer", func(n *domain.Negotiation, now time.Time) error {
		actor, err := n.Authorize(actorID)
		if err != nil {
			return err
		}
		return n.RejectOffer(actor, reason, now)
	})
}

// Cancel withdraws a participant from a non-terminal negotiation.
func (s *Service) Cancel(ctx context.Context, negotiationID, actorID, reason string) (domain.Negotiation, error) {
	return s.mutate(ctx, negotiationID, "cancel negotiation", func(n *domain.Negotiation, now time.Time) error {
		actor, err := n.Authorize(actorID)
		if err != nil {
			return err
		}
		return n.Cancel(actor, reason, now)
	})
}

// GetNegotiation loads a negotiation and persists a pending expiry.
func (s *Service) GetNegotiation(ctx context.Context, id string) (domain.Negotiation, error) {
	n, err := s.load(ctx, id)
	if err != nil {
		return domain.Negotiation{}, err
	}
	if n.Status.IsTerminal() || !n.IsPastDeadline(s.clock()) {
		return n, nil
	}
	return s.mutate(ctx, id, "expire negotiation", nil)
}

// GetParticipantNegotiation loads a negotiation visible to one of its participants.
func (s *Service) GetParticipantNegotiation(ctx context.Context, id, actorID string) (domain.Negotiation, error) {
	n, err := s.GetNegotiation(ctx, id)
	if err != nil {
		return domain.Negotiation{}, err
	}
	if _, err := n.RoleOf(actorID); err != nil {
		return domain.Negotiation{}, err
	}
	return n, nil
}

// ListEventsSince returns ledger events after the cursor for a participant.
func (s *Service) ListEventsSince(ctx context.Context, id, actorID string, cursor int) ([]domain.Event, error) {
	n, err := s.GetParticipantNegotiation(ctx, id, actorID)
	if err != nil {
		return nil, err
	}
	return n.EventsSince(cursor), nil
}

// CanContinue reports whether the negotiation still accepts offers.
func (s *Service) CanContinue(ctx context.Context, id string) (bool, error) {
	n, err := s.GetNegotiation(ctx, id)
	if err != nil {
		return false, err
	}
	return n.CanContinue(s.clock()), nil
}

// ListNegotiations lists negotiations by participant, status or listing.
func (s *Service) ListNegotiations(ctx context.Context, filter NegotiationFilter) ([]domain.Negotiation, error) {
	filter.ParticipantID = strings.TrimSpace(filter.ParticipantID)
	filter.ListingID = strings.TrimSpace(filter.ListingID)
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, filter.Status)
	}
	if filter.Limit < 0 {
		filter.Limit = 0
	}
	now := s.clock()
	filter.AsOf = now
	var out []domain.Negotiation
	err := s.withRetry(ctx, "list negotiations", func() error {
		var err error
		out, err = s.repo.ListNegotiations(ctx, filter)
		return err
	})
	if err != nil {
		return nil, err
	}
	for i := range out {
		// Listing reads report expiry without writing; the sweep or the next access persists it.
		out[i].ExpireIfDue(now)
	}
	return out, nil
}

// SweepExpired expires every negotiation past its deadline and returns the number expired.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		var batch []domain.Negotiation
		err := s.withRetry(ctx, "list expirable", func() error {
			var err error
			batch, err = s.repo.ListExpirable(ctx, s.clock(), s.cfg.SweepBatchSize)
			return err
		})
		if err != nil {
			return total, err
		}
		expired := 0
		for _, candidate := range batch {
			n, err := s.mutate(ctx, candidate.ID, "expire negotiation", nil)
			if err != nil {
				s.logger.Warn("sweep expire failed", "negotiation_id", candidate.ID, "err", err)
				continue
			}
			if n.Status == domain.StatusExpired {
				expired++
			}
		}
		total += expired
		if len(batch) < s.cfg.SweepBatchSize || expired == 0 {
			break
		}
	}
	if total > 0 {
		s.logger.Info("expired negotiations", "count", total)
	}
	return total, nil
}

// mutateFunc applies one caller action to a working copy of the aggregate.
type mutateFunc func(n *domain.Negotiation, now time.Time) error

// mutate runs fn under the aggregate lock against a clone and commits it with a version check.
// A pending expiry is applied first and persisted even when fn fails. A nil fn only
// persists the expiry.
func (s *Service) mutate(ctx context.Context, id, op string, fn mutateFunc) (domain.Negotiation, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Negotiation{}, domain.ErrInvalidID
	}
	release := s.locks.Lock(id)
	defer release()

	current, err := s.load(ctx, id)
	if err != nil {
		return domain.Negotiation{}, err
	}
	now := s.clock()
	next := current.Clone()
	expired := next.ExpireIfDue(now)
	if fn == nil {
		if !expired {
			return current, nil
		}
		return s.commit(ctx, current, next, op)
	}

	var expiredOnly domain.Negotiation
	if expired {
		expiredOnly = next.Clone()
	}
	if err := fn(&next, now); err != nil {
		if expired {
			if _, commitErr := s.commit(ctx, current, expiredOnly, "expire negotiation"); commitErr != nil {
				s.logger.Warn("persist expiry failed", "negotiation_id", id, "err", commitErr)
			}
		}
		return domain.Negotiation{}, fmt.Errorf("%s: %w", op, err)
	}
	return s.commit(ctx, current, next, op)
}

// commit validates and saves next over current, then reports the new timeline entries.
func (s *Service) commit(ctx context.Context, current, next domain.Negotiation, op string) (domain.Negotiation, error) {
	if err := next.CheckInvariants(); err != nil {
		s.logger.Error("negotiation invariants failed", "negotiation_id", next.ID, "op", op, "err", err)
		return domain.Negotiation{}, fmt.Errorf("%s: %w: invariant check failed", op, ErrInternal)
	}
	expected := current.Version
	next.Version = expected + 1
	err := s.withRetry(ctx, op, func() error {
		return s.repo.SaveNegotiation(ctx, next, expected)
	})
	if err != nil {
		if errors.Is(err, ErrConcurrencyConflict) {
			s.metrics.ConcurrencyConflict()
			s.logger.Warn("negotiation version conflict", "negotiation_id", next.ID, "op", op, "version", expected)
		}
		return domain.Negotiation{}, fmt.Errorf("%s: %w", op, err)
	}

	if current.Status != next.Status {
		s.metrics.StatusChanged(current.Status, next.Status)
		if next.Status == domain.StatusExpired {
			s.metrics.Expired(1)
		}
		s.logger.Info("negotiation status changed", "negotiation_id", next.ID, "from", current.Status, "to", next.Status)
	}
	s.publish(next.ID, next.TimelineSince(len(current.Timeline)))
	return next, nil
}

// load reads one aggregate with transient retries.
func (s *Service) load(ctx context.Context, id string) (domain.Negotiation, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Negotiation{}, domain.ErrInvalidID
	}
	var n domain.Negotiation
	err := s.withRetry(ctx, "get negotiation", func() error {
		var err error
		n, err = s.repo.GetNegotiation(ctx, id)
		return err
	})
	return n, err
}

// withRetry retries transient storage failures with linear backoff. Failures that are not
// part of the caller-facing taxonomy surface as ErrInternal.
func (s *Service) withRetry(ctx context.Context, op string, fn func() error) error {
	attempts := s.cfg.PersistRetries + 1
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrTransient) {
			break
		}
		s.logger.Debug("transient storage failure", "op", op, "attempt", attempt, "err", err)
		if attempt == attempts {
			break
		}
		timer := time.NewTimer(time.Duration(attempt) * s.cfg.PersistBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	if ErrorKind(err) != KindInternal {
		return err
	}
	s.logger.Error("storage operation failed", "op", op, "err", err)
	return fmt.Errorf("%w: %s failed", ErrInternal, op)
}

// publish queues timeline entries for the feed. Feed failures never fail the committed action.
func (s *Service) publish(negotiationID string, entries []domain.TimelineEntry) {
	if s.feed == nil || len(entries) == 0 {
		return
	}
	if !s.feed.enqueue(negotiationID, entries) {
		s.logger.Warn("timeline feed unavailable, entries dropped", "negotiation_id", negotiationID, "entries", len(entries))
	}
}
