package domain

import "time"

// TimelineKind identifies a lifecycle audit entry.
type TimelineKind string

// TimelineKind values.
const (
	TimelineInitiated          TimelineKind = "initiated"
	TimelineNegotiationStarted TimelineKind = "negotiation_started"
	TimelineMessagePosted      TimelineKind = "message_posted"
	TimelineOfferMade          TimelineKind = "offer_made"
	TimelineOfferAccepted      TimelineKind = "offer_accepted"
	TimelineOfferRejected      TimelineKind = "offer_rejected"
	TimelineCancelled          TimelineKind = "cancelled"
	TimelineExpired            TimelineKind = "expired"
)

// TimelineEntry is one descriptive audit record. Business rules never read it.
type TimelineEntry struct {
	Seq     int             `json:"seq"`
	Kind    TimelineKind    `json:"kind"`
	ActorID string          `json:"actor_id"`
	Role    Role            `json:"role"`
	At      time.Time       `json:"at"`
	Details TimelineDetails `json:"details"`
}

// TimelineDetails carries the typed payload for an entry; exactly one field is set, matching Kind.
type TimelineDetails struct {
	Initiated *InitiatedDetails `json:"initiated,omitempty"`
	Started   *StartedDetails   `json:"started,omitempty"`
	Message   *MessageDetails   `json:"message,omitempty"`
	Offer     *OfferDetails     `json:"offer,omitempty"`
	Accepted  *AcceptedDetails  `json:"accepted,omitempty"`
	Rejected  *ReasonDetails    `json:"rejected,omitempty"`
	Cancelled *ReasonDetails    `json:"cancelled,omitempty"`
	Expired   *ExpiredDetails   `json:"expired,omitempty"`
}

// InitiatedDetails describes negotiation creation.
type InitiatedDetails struct {
	InitialOffer float64   `json:"initial_offer"`
	Currency     string    `json:"currency"`
	MaxRounds    int       `json:"max_rounds"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// StartedDetails names the event that opened the negotiation.
type StartedDetails struct {
	EventID string `json:"event_id"`
}

// MessageDetails describes a non-offer ledger append.
type MessageDetails struct {
	EventID   string    `json:"event_id"`
	EventKind EventKind `json:"event_kind"`
}

// OfferDetails describes an offer or counter-offer append.
type OfferDetails struct {
	EventID  string  `json:"event_id"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	Round    int     `json:"round"`
}

// AcceptedDetails describes the finalized price.
type AcceptedDetails struct {
	FinalPrice float64 `json:"final_price"`
	Currency   string  `json:"currency"`
}

// ReasonDetails carries an optional free-form reason.
type ReasonDetails struct {
	Reason string `json:"reason,omitempty"`
}

// ExpiredDetails records the deadline that elapsed.
type ExpiredDetails struct {
	ExpiresAt time.Time `json:"expires_at"`
}

// record appends one timeline entry.
func (n *Negotiation) record(kind TimelineKind, actor Actor, at time.Time, details TimelineDetails) {
	n.Timeline = append(n.Timeline, TimelineEntry{
		Seq:     len(n.Timeline) + 1,
		Kind:    kind,
		ActorID: actor.ID,
		Role:    actor.Role,
		At:      at,
		Details: details,
	})
}

// TimelineSince returns entries recorded after the given timeline sequence.
func (n Negotiation) TimelineSince(seq int) []TimelineEntry {
	if seq < 0 {
		seq = 0
	}
	if seq >= len(n.Timeline) {
		return nil
	}
	return append([]TimelineEntry(nil), n.Timeline[seq:]...)
}

// populated counts the set payload fields.
func (d TimelineDetails) populated() int {
	count := 0
	for _, set := range []bool{
		d.Initiated != nil, d.Started != nil, d.Message != nil, d.Offer != nil,
		d.Accepted != nil, d.Rejected != nil, d.Cancelled != nil, d.Expired != nil,
	} {
		if set {
			count++
		}
	}
	return count
}

// matches reports whether the populated payload belongs to kind.
func (d TimelineDetails) matches(kind TimelineKind) bool {
	if d.populated() != 1 {
		return false
	}
	switch kind {
	case TimelineInitiated:
		return d.Initiated != nil
	case TimelineNegotiationStarted:
		return d.Started != nil
	case TimelineMessagePosted:
		return d.Message != nil
	case TimelineOfferMade:
		return d.Offer != nil
	case TimelineOfferAccepted:
		return d.Accepted != nil
	case TimelineOfferRejected:
		return d.Rejected != nil
	case TimelineCancelled:
		return d.Cancelled != nil
	case TimelineExpired:
		return d.Expired != nil
	default:
		return false
	}
}
