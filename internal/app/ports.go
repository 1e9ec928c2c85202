package app

import (
	"context"
	"time"

	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/domain"
)

// NegotiationFilter selects negotiations for listing queries. Empty fields match everything.
type NegotiationFilter struct {
	ParticipantID string
	Status        domain.Status
	ListingID     string
	Limit         int
	// AsOf, when set, makes Status match the status at that instant: open negotiations past
	// their deadline count as expired.
	AsOf time.Time
}

// Repository persists each negotiation aggregate as one unit.
//
// SaveNegotiation writes n only when the stored version equals expectedVersion and returns
// ErrConcurrencyConflict otherwise. Implementations return ErrNotFound for missing rows and
// wrap retryable failures with ErrTransient.
type Repository interface {
	CreateNegotiation(context.Context, domain.Negotiation) error
	SaveNegotiation(ctx context.Context, n domain.Negotiation, expectedVersion int64) error
	GetNegotiation(context.Context, string) (domain.Negotiation, error)
	ListNegotiations(context.Context, NegotiationFilter) ([]domain.Negotiation, error)
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]domain.Negotiation, error)
	FindActiveNegotiation(ctx context.Context, listingID, requesterID string) (domain.Negotiation, error)
}

// ListingInfo is the read-only listing view used to validate opening offers.
type ListingInfo struct {
	ID        string
	OwnerID   string
	Title     string
	BasePrice float64
	MinPrice  float64
	Currency  string
}

// ListingLookup resolves listings owned by the surrounding marketplace.
type ListingLookup interface {
	GetListing(context.Context, string) (ListingInfo, error)
}

// AgentDecision is the signal returned by the counter-offer agent.
type AgentDecision string

// AgentDecision values.
const (
	AgentDecisionReply   AgentDecision = "reply"
	AgentDecisionCounter AgentDecision = "counter"
	AgentDecisionAccept  AgentDecision = "accept"
	AgentDecisionReject  AgentDecision = "reject"
)

// AgentRequest is the context handed to the agent.
type AgentRequest struct {
	Listing         ListingInfo
	Negotiation     domain.Negotiation
	LastUserMessage string
}

// AgentReply is the agent's proposal. Amount is only read for counter decisions.
type AgentReply struct {
	Decision AgentDecision
	Content  string
	Amount   float64
}

// Agent proposes the responder-side move. Its policy is opaque to the engine.
type Agent interface {
	Propose(context.Context, AgentRequest) (AgentReply, error)
}

// TimelinePublisher forwards committed timeline entries to notification consumers.
type TimelinePublisher interface {
	PublishTimeline(ctx context.Context, negotiationID string, entries []domain.TimelineEntry) error
}

// Metrics records service-level counters and latencies.
type Metrics interface {
	NegotiationCreated()
	EventAppended(kind domain.EventKind)
	StatusChanged(from, to domain.Status)
	AgentCall(outcome string, elapsed time.Duration)
	ConcurrencyConflict()
	Expired(count int)
}

// Logger is the structured logging surface used by the service.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

// IDGenerator returns unique identifiers for new entities.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

type nopMetrics struct{}

func (nopMetrics) NegotiationCreated()                        {}
func (nopMetrics) EventAppended(domain.EventKind)             {}
func (nopMetrics) StatusChanged(domain.Status, domain.Status) {}
func (nopMetrics) AgentCall(string, time.Duration)            {}
func (nopMetrics) ConcurrencyConflict()                       {}
func (nopMetrics) Expired(int)                                {}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
