// Package common provides transport-agnostic server contracts used by HTTP and MCP adapters.
package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/app"
	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/domain"
)

// ErrInvalidRequest reports malformed transport input. It is a validation error.
var ErrInvalidRequest = fmt.Errorf("%w: invalid request", domain.ErrValidation)

// ErrUnauthenticated reports a request without a usable identity.
var ErrUnauthenticated = fmt.Errorf("%w: missing or invalid credentials", domain.ErrUnauthorized)

// NegotiationService is the app surface exposed by REST and MCP transports.
type NegotiationService interface {
	CreateNegotiation(context.Context, app.CreateNegotiationInput) (domain.Negotiation, error)
	GetParticipantNegotiation(ctx context.Context, id, actorID string) (domain.Negotiation, error)
	ListNegotiations(context.Context, app.NegotiationFilter) ([]domain.Negotiation, error)
	ListEventsSince(ctx context.Context, id, actorID string, cursor int) ([]domain.Event, error)
	AppendEvent(context.Context, app.AppendEventInput) (domain.Negotiation, domain.Event, error)
	SoftDeleteEvent(ctx context.Context, id, actorID string, seq int) (domain.Negotiation, error)
	EditEvent(ctx context.Context, id, actorID string, seq int, content string) (domain.Negotiation, error)
	MarkRead(ctx context.Context, id, actorID string, upToSeq int) (int, error)
	React(ctx context.Context, id, actorID string, seq int, symbol string) (bool, error)
	AcceptOffer(ctx context.Context, id, actorID string) (domain.Negotiation, error)
	RejectOffer(ctx context.Context, id, actorID, reason string) (domain.Negotiation, error)
	Cancel(ctx context.Context, id, actorID, reason string) (domain.Negotiation, error)
	RequestAgentReply(ctx context.Context, id, actorID string) (domain.Negotiation, []domain.Event, error)
	CanContinue(ctx context.Context, id string) (bool, error)
}

var _ NegotiationService = (*app.Service)(nil)

// ErrorCode returns the caller-facing error kind for err.
func ErrorCode(err error) string {
	return app.ErrorKind(err)
}

// IsUnauthenticated reports whether err is an identity failure rather than a role failure.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrUnauthenticated)
}

// NegotiationSummary is the list view of one negotiation without its ledger.
type NegotiationSummary struct {
	ID           string        `json:"id"`
	ListingID    string        `json:"listing_id"`
	RequesterID  string        `json:"requester_id"`
	ResponderID  string        `json:"responder_id"`
	Status       domain.Status `json:"status"`
	Rounds       int           `json:"rounds"`
	MaxRounds    int           `json:"max_rounds"`
	InitialOffer float64       `json:"initial_offer"`
	CurrentOffer *float64      `json:"current_offer,omitempty"`
	FinalPrice   *float64      `json:"final_price,omitempty"`
	Currency     string        `json:"currency"`
	EventCount   int           `json:"event_count"`
	ExpiresAt    time.Time     `json:"expires_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Version      int64         `json:"version"`
}

// Summarize builds the list view of n.
func Summarize(n domain.Negotiation) NegotiationSummary {
	return NegotiationSummary{
		ID:           n.ID,
		ListingID:    n.ListingID,
		RequesterID:  n.RequesterID,
		ResponderID:  n.ResponderID,
		Status:       n.Status,
		Rounds:       n.Rounds,
		MaxRounds:    n.MaxRounds,
		InitialOffer: n.Pricing.InitialOffer,
		CurrentOffer: n.Pricing.CurrentOffer,
		FinalPrice:   n.Pricing.FinalPrice,
		Currency:     n.Pricing.Currency,
		EventCount:   len(n.Events),
		ExpiresAt:    n.ExpiresAt,
		UpdatedAt:    n.UpdatedAt,
		Version:      n.Version,
	}
}

// SummarizeAll builds list views in order.
func SummarizeAll(in []domain.Negotiation) []NegotiationSummary {
	out := make([]NegotiationSummary, 0, len(in))
	for _, n := range in {
		out = append(out, Summarize(n))
	}
	return out
}
