package domain

import (
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxContentLength bounds event content, counted in runes.
const MaxContentLength = 1000

// MaxReactionLength bounds a reaction symbol, counted in runes.
const MaxReactionLength = 32

// EventKind identifies a ledger record kind.
type EventKind string

// EventKind values.
const (
	EventKindText         EventKind = "text"
	EventKindOffer        EventKind = "offer"
	EventKindCounterOffer EventKind = "counter_offer"
	EventKindAcceptance   EventKind = "acceptance"
	EventKindRejection    EventKind = "rejection"
	EventKindSystem       EventKind = "system"
)

// IsValid reports whether the kind is supported.
func (k EventKind) IsValid() bool {
	switch k {
	case EventKindText, EventKindOffer, EventKindCounterOffer, EventKindAcceptance, EventKindRejection, EventKindSystem:
		return true
	default:
		return false
	}
}

// IsOffer reports whether the kind carries a price and counts as a round.
func (k EventKind) IsOffer() bool {
	return k == EventKindOffer || k == EventKindCounterOffer
}

// Offer is the price payload of an offer or counter-offer event.
type Offer struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// Reaction is one actor's symbol on an event. Reactions form a set keyed by actor and symbol.
type Reaction struct {
	ActorID string    `json:"actor_id"`
	Symbol  string    `json:"symbol"`
	At      time.Time `json:"at"`
}

// Event is one ledger record inside a negotiation.
type Event struct {
	ID        string     `json:"id"`
	Seq       int        `json:"seq"`
	Sender    Role       `json:"sender"`
	SenderID  string     `json:"sender_id"`
	Kind      EventKind  `json:"kind"`
	Content   string     `json:"content"`
	Offer     *Offer     `json:"offer,omitempty"`
	Reactions []Reaction `json:"reactions,omitempty"`
	IsRead    bool       `json:"is_read"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
	IsDeleted bool       `json:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	DeletedBy string     `json:"deleted_by,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// EventRef addresses an appended event. Seq is the ledger cursor.
type EventRef struct {
	ID  string `json:"id"`
	Seq int    `json:"seq"`
}

// EventInput holds values for one ledger append.
type EventInput struct {
	ID      string
	Sender  Actor
	Kind    EventKind
	Content string
	Offer   *Offer
}

// Ref returns the event's reference.
func (e Event) Ref() EventRef {
	return EventRef{ID: e.ID, Seq: e.Seq}
}

// clone returns a deep copy of the event.
func (e Event) clone() Event {
	out := e
	if e.Offer != nil {
		offer := *e.Offer
		out.Offer = &offer
	}
	if e.Reactions != nil {
		out.Reactions = append([]Reaction(nil), e.Reactions...)
	}
	out.ReadAt = cloneTime(e.ReadAt)
	out.EditedAt = cloneTime(e.EditedAt)
	out.DeletedAt = cloneTime(e.DeletedAt)
	return out
}

// reactionIndex returns the position of a reaction or -1.
func (e Event) reactionIndex(actorID, symbol string) int {
	for i, r := range e.Reactions {
		if r.ActorID == actorID && r.Symbol == symbol {
			return i
		}
	}
	return -1
}

// normalizeContent trims content and enforces the length bound.
func normalizeContent(content string, required bool) (string, error) {
	content = strings.TrimSpace(content)
	if required && content == "" {
		return "", ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return "", ErrContentTooLong
	}
	return content, nil
}

// normalizeOffer validates an offer payload against the negotiation currency.
func normalizeOffer(offer Offer, currency string) (Offer, error) {
	if !validAmount(offer.Amount) {
		return Offer{}, ErrInvalidAmount
	}
	code := strings.ToUpper(strings.TrimSpace(offer.Currency))
	if code == "" {
		code = currency
	}
	if code != currency {
		return Offer{}, ErrCurrencyMismatch
	}
	return Offer{Amount: offer.Amount, Currency: code}, nil
}

// validAmount reports whether an amount is finite and non-negative.
func validAmount(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

// NormalizeCurrency upper-cases and validates a three-letter currency code.
func NormalizeCurrency(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if len(code) != 3 {
		return "", ErrInvalidCurrency
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", ErrInvalidCurrency
		}
	}
	return code, nil
}

// kindAllowed reports whether a role may append the kind directly.
func kindAllowed(role Role, kind EventKind) bool {
	switch role {
	case RoleRequester, RoleResponder:
		return kind == EventKindText || kind.IsOffer()
	case RoleAgent:
		return kind != EventKindSystem
	case RoleSystem:
		return kind == EventKindSystem
	default:
		return false
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	out := *t
	return &out
}
