package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/domain"
)

// Agent call outcomes reported to Metrics.
const (
	AgentOutcomeOK        = "ok"
	AgentOutcomeDiscarded = "discarded"
	AgentOutcomeTimeout   = "timeout"
	AgentOutcomeFailed    = "failed"
	AgentOutcomeLimited   = "rate_limited"
)

// limiterPool hands out one token bucket per negotiation.
type limiterPool struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	rps   float64
	burst int
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 3
	}
	return &limiterPool{m: make(map[string]*rate.Limiter), rps: rps, burst: burst}
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.m[key]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(p.rps), p.burst)
	p.m[key] = l
	return l
}

// Allow reports whether key may call the agent now.
func (p *limiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}

// forget drops the bucket for a closed negotiation.
func (p *limiterPool) forget(key string) {
	p.mu.Lock()
	delete(p.m, key)
	p.mu.Unlock()
}

// RequestAgentReply asks the agent for the responder-side move and appends it as agent events.
// Agent failures never fail the call: they are recorded as one system event instead. The
// returned events are the ones appended by this call.
func (s *Service) RequestAgentReply(ctx context.Context, negotiationID, actorID string) (domain.Negotiation, []domain.Event, error) {
	if s.agent == nil {
		return domain.Negotiation{}, nil, ErrAgentUnavailable
	}
	n, err := s.GetParticipantNegotiation(ctx, negotiationID, actorID)
	if err != nil {
		return domain.Negotiation{}, nil, err
	}
	if n.Status.IsTerminal() {
		s.limiters.forget(n.ID)
		return domain.Negotiation{}, nil, fmt.Errorf("request agent reply: %w", domain.ErrNegotiationClosed)
	}

	reply, callErr := s.callAgent(ctx, n)

	agent := domain.AgentActor(s.cfg.AgentActorID)
	before := 0
	updated, err := s.mutate(ctx, n.ID, "apply agent reply", func(n *domain.Negotiation, now time.Time) error {
		before = len(n.Events)
		if callErr == nil {
			candidate := n.Clone()
			applyErr := s.applyAgentReply(&candidate, agent, reply, now)
			if applyErr == nil {
				*n = candidate
				return nil
			}
			callErr = applyErr
			s.metrics.AgentCall(AgentOutcomeDiscarded, 0)
		}
		s.logger.Warn("agent reply not applied", "negotiation_id", n.ID, "err", callErr)
		_, err := n.Append(domain.EventInput{
			ID:      s.eventIDGen(),
			Sender:  domain.SystemActor(),
			Kind:    domain.EventKindSystem,
			Content: agentFailureMessage(callErr),
		}, now)
		return err
	})
	if err != nil {
		return domain.Negotiation{}, nil, err
	}
	for _, ev := range updated.EventsSince(before) {
		s.metrics.EventAppended(ev.Kind)
	}
	if updated.Status.IsTerminal() {
		s.limiters.forget(updated.ID)
	}
	return updated, updated.EventsSince(before), nil
}

// callAgent runs one bounded agent call outside the aggregate lock.
func (s *Service) callAgent(ctx context.Context, n domain.Negotiation) (AgentReply, error) {
	if !s.limiters.Allow(n.ID) {
		s.metrics.AgentCall(AgentOutcomeLimited, 0)
		return AgentReply{}, fmt.Errorf("%w: rate limited", ErrAgentUnavailable)
	}

	listing := ListingInfo{ID: n.ListingID, OwnerID: n.ResponderID, Currency: n.Pricing.Currency}
	if s.listings != nil {
		found, err := s.listings.GetListing(ctx, n.ListingID)
		if err != nil {
			s.logger.Warn("agent listing lookup failed", "negotiation_id", n.ID, "listing_id", n.ListingID, "err", err)
		} else {
			listing = found
		}
	}
	last, _ := n.LastMessageFrom(domain.RoleRequester)

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.AgentTimeout)
	defer cancel()
	start := time.Now()
	reply, err := s.agent.Propose(callCtx, AgentRequest{
		Listing:         listing,
		Negotiation:     n,
		LastUserMessage: last.Content,
	})
	elapsed := time.Since(start)
	switch {
	case err == nil:
		s.metrics.AgentCall(AgentOutcomeOK, elapsed)
		return reply, nil
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
		s.metrics.AgentCall(AgentOutcomeTimeout, elapsed)
		return AgentReply{}, fmt.Errorf("%w: %v", ErrAgentTimeout, err)
	default:
		s.metrics.AgentCall(AgentOutcomeFailed, elapsed)
		return AgentReply{}, fmt.Errorf("%w: %v", ErrAgentUnavailable, err)
	}
}

// applyAgentReply turns an agent signal into ledger events and, for acceptance, a transition.
func (s *Service) applyAgentReply(n *domain.Negotiation, agent domain.Actor, reply AgentReply, now time.Time) error {
	in := domain.EventInput{
		ID:      s.eventIDGen(),
		Sender:  agent,
		Content: reply.Content,
	}
	switch AgentDecision(strings.ToLower(strings.TrimSpace(string(reply.Decision)))) {
	case AgentDecisionCounter:
		if math.IsNaN(reply.Amount) || math.IsInf(reply.Amount, 0) || reply.Amount <= 0 {
			return fmt.Errorf("%w: agent counter must be positive, got %v", domain.ErrInvalidAmount, reply.Amount)
		}
		in.Kind = domain.EventKindCounterOffer
		in.Offer = &domain.Offer{Amount: reply.Amount, Currency: n.Pricing.Currency}
	case AgentDecisionReply:
		in.Kind = domain.EventKindText
	case AgentDecisionAccept:
		in.Kind = domain.EventKindAcceptance
	case AgentDecisionReject:
		in.Kind = domain.EventKindRejection
	default:
		return fmt.Errorf("%w: unknown agent decision %q", domain.ErrInvalidEventKind, reply.Decision)
	}
	if _, err := n.Append(in, now); err != nil {
		return err
	}
	if in.Kind == domain.EventKindAcceptance {
		return n.AcceptOffer(agent, now)
	}
	return nil
}

// agentFailureMessage renders the system notice for a failed agent turn.
func agentFailureMessage(err error) string {
	switch {
	case errors.Is(err, ErrAgentTimeout):
		return "agent failed to respond: timed out"
	case errors.Is(err, ErrAgentUnavailable):
		return "agent failed to respond"
	case errors.Is(err, domain.ErrRoundLimitExceeded):
		return "agent reply discarded: round limit exceeded"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "agent reply discarded: no offer to accept"
	case errors.Is(err, domain.ErrValidation):
		return "agent reply discarded: invalid reply"
	default:
		return "agent failed to respond"
	}
}
