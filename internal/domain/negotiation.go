package domain

import (
	"math"
	"strings"
	"time"
)

// Round and expiry defaults.
const (
	DefaultMaxRounds = 10
	MaxRoundsCeiling = 20
	DefaultExpiry    = 7 * 24 * time.Hour
)

// Status is the negotiation lifecycle state.
type Status string

// Status values.
const (
	StatusInitiated  Status = "initiated"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusExpired    Status = "expired"
	StatusRejected   Status = "rejected"
)

// transitions lists every allowed edge of the lifecycle graph.
var transitions = map[Status][]Status{
	StatusInitiated:  {StatusInProgress, StatusCancelled, StatusExpired},
	StatusInProgress: {StatusCompleted, StatusRejected, StatusCancelled, StatusExpired},
}

// IsValid reports whether the status is known.
func (s Status) IsValid() bool {
	switch s {
	case StatusInitiated, StatusInProgress, StatusCompleted, StatusCancelled, StatusExpired, StatusRejected:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no transition leaves the status.
func (s Status) IsTerminal() bool {
	return s.IsValid() && len(transitions[s]) == 0
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Pricing holds the negotiated amounts.
type Pricing struct {
	InitialOffer float64  `json:"initial_offer"`
	CurrentOffer *float64 `json:"current_offer,omitempty"`
	FinalPrice   *float64 `json:"final_price,omitempty"`
	Currency     string   `json:"currency"`
}

// OfferRecord is one accepted offer or counter-offer.
type OfferRecord struct {
	Amount      float64   `json:"amount"`
	OfferedBy   Role      `json:"offered_by"`
	OfferedByID string    `json:"offered_by_id"`
	At          time.Time `json:"at"`
	EventID     string    `json:"event_id"`
	EventSeq    int       `json:"event_seq"`
}

// Negotiation is the aggregate root. It owns its events, offer history, timeline and analytics.
type Negotiation struct {
	ID                 string          `json:"id"`
	ListingID          string          `json:"listing_id"`
	RequesterID        string          `json:"requester_id"`
	ResponderID        string          `json:"responder_id"`
	Status             Status          `json:"status"`
	Pricing            Pricing         `json:"pricing"`
	Rounds             int             `json:"rounds"`
	MaxRounds          int             `json:"max_rounds"`
	Events             []Event         `json:"events"`
	OfferHistory       []OfferRecord   `json:"offer_history"`
	Timeline           []TimelineEntry `json:"timeline"`
	Analytics          Analytics       `json:"analytics"`
	ExpiresAt          time.Time       `json:"expires_at"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty"`
	CancelledBy        string          `json:"cancelled_by,omitempty"`
	CancellationReason string          `json:"cancellation_reason,omitempty"`
	RejectedAt         *time.Time      `json:"rejected_at,omitempty"`
	RejectedBy         string          `json:"rejected_by,omitempty"`
	RejectionReason    string          `json:"rejection_reason,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	Version            int64           `json:"version"`
}

// NegotiationInput holds values for negotiation creation.
type NegotiationInput struct {
	ID           string
	ListingID    string
	RequesterID  string
	ResponderID  string
	InitialOffer float64
	Currency     string
	MaxRounds    int
	ExpiresAt    time.Time
}

// NewNegotiation validates input and opens a negotiation in the initiated state.
func NewNegotiation(in NegotiationInput, now time.Time) (Negotiation, error) {
	now = now.UTC()
	in.ID = strings.TrimSpace(in.ID)
	in.ListingID = strings.TrimSpace(in.ListingID)
	in.RequesterID = strings.TrimSpace(in.RequesterID)
	in.ResponderID = strings.TrimSpace(in.ResponderID)
	if in.ID == "" || in.ListingID == "" || in.RequesterID == "" || in.ResponderID == "" {
		return Negotiation{}, ErrInvalidID
	}
	if in.RequesterID == in.ResponderID {
		return Negotiation{}, ErrSameParticipant
	}
	if math.IsNaN(in.InitialOffer) || math.IsInf(in.InitialOffer, 0) || in.InitialOffer <= 0 {
		return Negotiation{}, ErrInvalidAmount
	}
	currency, err := NormalizeCurrency(in.Currency)
	if err != nil {
		return Negotiation{}, err
	}
	if in.MaxRounds == 0 {
		in.MaxRounds = DefaultMaxRounds
	}
	if in.MaxRounds < 1 || in.MaxRounds > MaxRoundsCeiling {
		return Negotiation{}, ErrInvalidMaxRounds
	}
	expiresAt := in.ExpiresAt.UTC()
	if in.ExpiresAt.IsZero() {
		expiresAt = now.Add(DefaultExpiry)
	}
	if !expiresAt.After(now) {
		return Negotiation{}, ErrInvalidExpiry
	}

	n := Negotiation{
		ID:          in.ID,
		ListingID:   in.ListingID,
		RequesterID: in.RequesterID,
		ResponderID: in.ResponderID,
		Status:      StatusInitiated,
		Pricing: Pricing{
			InitialOffer: in.InitialOffer,
			Currency:     currency,
		},
		MaxRounds: in.MaxRounds,
		Events:    []Event{},
		Analytics: Analytics{
			PriceMovement: PriceMovement{Direction: PriceStable},
			StartTime:     now,
		},
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	n.record(TimelineInitiated, Actor{ID: n.RequesterID, Role: RoleRequester}, now, TimelineDetails{
		Initiated: &InitiatedDetails{
			InitialOffer: n.Pricing.InitialOffer,
			Currency:     currency,
			MaxRounds:    n.MaxRounds,
			ExpiresAt:    expiresAt,
		},
	})
	return n, nil
}

// RoleOf resolves a participant id to its role.
func (n Negotiation) RoleOf(actorID string) (Role, error) {
	switch strings.TrimSpace(actorID) {
	case "":
		return "", ErrUnauthorized
	case n.RequesterID:
		return RoleRequester, nil
	case n.ResponderID:
		return RoleResponder, nil
	default:
		return "", ErrUnauthorized
	}
}

// Authorize resolves a participant id into an actor.
func (n Negotiation) Authorize(actorID string) (Actor, error) {
	role, err := n.RoleOf(actorID)
	if err != nil {
		return Actor{}, err
	}
	return Actor{ID: strings.TrimSpace(actorID), Role: role}, nil
}

// checkActor verifies that a participant role matches its id.
func (n Negotiation) checkActor(actor Actor) error {
	switch actor.Role {
	case RoleRequester:
		if actor.ID != n.RequesterID {
			return ErrUnauthorized
		}
	case RoleResponder:
		if actor.ID != n.ResponderID {
			return ErrUnauthorized
		}
	case RoleAgent:
		if strings.TrimSpace(actor.ID) == "" {
			return ErrUnauthorized
		}
	case RoleSystem:
		if actor.ID != SystemActorID {
			return ErrUnauthorized
		}
	default:
		return ErrUnauthorized
	}
	return nil
}

// IsPastDeadline reports whether the expiry deadline has elapsed at now.
func (n Negotiation) IsPastDeadline(now time.Time) bool {
	return n.ExpiresAt.Before(now)
}

// CanContinue reports whether the negotiation still accepts offers.
func (n Negotiation) CanContinue(now time.Time) bool {
	return n.Status == StatusInProgress && n.Rounds < n.MaxRounds && !n.IsPastDeadline(now)
}

// ensureOpen rejects mutation of a terminal or past-deadline negotiation.
func (n Negotiation) ensureOpen(now time.Time) error {
	if n.Status.IsTerminal() || n.IsPastDeadline(now) {
		return ErrNegotiationClosed
	}
	return nil
}

// Append validates and appends one ledger event, running the tracker, auditor, analytics and
// transition check in order. On error nothing is mutated.
func (n *Negotiation) Append(in EventInput, now time.Time) (EventRef, error) {
	now = now.UTC()
	if err := n.ensureOpen(now); err != nil {
		return EventRef{}, err
	}
	in.ID = strings.TrimSpace(in.ID)
	if in.ID == "" {
		return EventRef{}, ErrInvalidID
	}
	if err := n.checkActor(in.Sender); err != nil {
		return EventRef{}, err
	}
	if !in.Kind.IsValid() {
		return EventRef{}, ErrInvalidEventKind
	}
	if !kindAllowed(in.Sender.Role, in.Kind) {
		return EventRef{}, ErrInvalidSenderRole
	}
	content, err := normalizeContent(in.Content, in.Kind == EventKindText || in.Kind == EventKindSystem)
	if err != nil {
		return EventRef{}, err
	}

	var offer *Offer
	switch {
	case in.Kind.IsOffer() && in.Offer == nil:
		return EventRef{}, ErrInvalidEventKind
	case !in.Kind.IsOffer() && in.Offer != nil:
		return EventRef{}, ErrInvalidEventKind
	case in.Offer != nil:
		normalized, err := normalizeOffer(*in.Offer, n.Pricing.Currency)
		if err != nil {
			return EventRef{}, err
		}
		offer = &normalized
	}
	if offer != nil && n.Rounds >= n.MaxRounds {
		return EventRef{}, ErrRoundLimitExceeded
	}

	ev := Event{
		ID:        in.ID,
		Seq:       len(n.Events) + 1,
		Sender:    in.Sender.Role,
		SenderID:  in.Sender.ID,
		Kind:      in.Kind,
		Content:   content,
		Offer:     offer,
		CreatedAt: now,
	}

	// Offer Tracker.
	if offer != nil {
		n.Rounds++
		amount := offer.Amount
		n.Pricing.CurrentOffer = &amount
		n.OfferHistory = append(n.OfferHistory, OfferRecord{
			Amount:      amount,
			OfferedBy:   ev.Sender,
			OfferedByID: ev.SenderID,
			At:          now,
			EventID:     ev.ID,
			EventSeq:    ev.Seq,
		})
	}

	prev := n.lastConversationalEvent()
	n.Events = append(n.Events, ev)

	// Timeline Auditor.
	if offer != nil {
		n.record(TimelineOfferMade, in.Sender, now, TimelineDetails{Offer: &OfferDetails{
			EventID:  ev.ID,
			Amount:   offer.Amount,
			Currency: offer.Currency,
			Round:    n.Rounds,
		}})
	} else {
		n.record(TimelineMessagePosted, in.Sender, now, TimelineDetails{Message: &MessageDetails{
			EventID:   ev.ID,
			EventKind: ev.Kind,
		}})
	}

	// Analytics Aggregator.
	n.Analytics.observeEvent(ev, prev)
	if offer != nil {
		n.Analytics.PriceMovement = ComputePriceMovement(n.Pricing.InitialOffer, n.Pricing.CurrentOffer)
	}

	// Transition check.
	if n.Status == StatusInitiated {
		n.Status = StatusInProgress
		n.record(TimelineNegotiationStarted, in.Sender, now, TimelineDetails{Started: &StartedDetails{EventID: ev.ID}})
	}
	n.UpdatedAt = now
	return ev.Ref(), nil
}

// lastConversationalEvent returns the latest non-system event, if any.
func (n *Negotiation) lastConversationalEvent() *Event {
	for i := len(n.Events) - 1; i >= 0; i-- {
		if n.Events[i].Kind != EventKindSystem {
			ev := n.Events[i]
			return &ev
		}
	}
	return nil
}

// EventsSince returns copies of events whose Seq is greater than cursor, in ledger order.
func (n Negotiation) EventsSince(cursor int) []Event {
	if cursor < 0 {
		cursor = 0
	}
	if cursor >= len(n.Events) {
		return []Event{}
	}
	out := make([]Event, 0, len(n.Events)-cursor)
	for _, ev := range n.Events[cursor:] {
		out = append(out, ev.clone())
	}
	return out
}

// Event returns a copy of the event at seq.
func (n Negotiation) Event(seq int) (Event, error) {
	if seq < 1 || seq > len(n.Events) {
		return Event{}, ErrEventNotFound
	}
	return n.Events[seq-1].clone(), nil
}

// LastMessageFrom returns the latest non-deleted text or offer event from a role.
func (n Negotiation) LastMessageFrom(role Role) (Event, bool) {
	for i := len(n.Events) - 1; i >= 0; i-- {
		ev := n.Events[i]
		if ev.Sender != role || ev.IsDeleted {
			continue
		}
		if ev.Kind == EventKindText || ev.Kind.IsOffer() {
			return ev.clone(), true
		}
	}
	return Event{}, false
}

// editableEvent returns the index of an event the actor may change.
func (n *Negotiation) editableEvent(seq int, actor Actor, now time.Time) (int, error) {
	if err := n.ensureOpen(now); err != nil {
		return 0, err
	}
	if err := n.checkActor(actor); err != nil {
		return 0, err
	}
	if seq < 1 || seq > len(n.Events) {
		return 0, ErrEventNotFound
	}
	idx := seq - 1
	ev := n.Events[idx]
	if ev.Kind == EventKindSystem || ev.IsDeleted {
		return 0, ErrEventNotEditable
	}
	if ev.SenderID != actor.ID {
		return 0, ErrUnauthorized
	}
	return idx, nil
}

// SoftDelete hides an event while retaining it in the ledger. Rounds and offer history are
// unchanged; the current offer falls back to the latest visible offer.
func (n *Negotiation) SoftDelete(seq int, actor Actor, now time.Time) error {
	now = now.UTC()
	idx, err := n.editableEvent(seq, actor, now)
	if err != nil {
		return err
	}
	ev := &n.Events[idx]
	ev.IsDeleted = true
	ev.DeletedAt = &now
	ev.DeletedBy = actor.ID
	if ev.Kind.IsOffer() {
		n.Pricing.CurrentOffer = n.latestVisibleOffer()
		n.Analytics.PriceMovement = ComputePriceMovement(n.Pricing.InitialOffer, n.Pricing.CurrentOffer)
	}
	n.UpdatedAt = now
	return nil
}

// latestVisibleOffer scans the ledger backwards for the last non-deleted offer amount.
func (n Negotiation) latestVisibleOffer() *float64 {
	for i := len(n.Events) - 1; i >= 0; i-- {
		ev := n.Events[i]
		if ev.Kind.IsOffer() && !ev.IsDeleted && ev.Offer != nil {
			amount := ev.Offer.Amount
			return &amount
		}
	}
	return nil
}

// EditEvent replaces the content of the actor's own text event.
func (n *Negotiation) EditEvent(seq int, actor Actor, content string, now time.Time) error {
	now = now.UTC()
	idx, err := n.editableEvent(seq, actor, now)
	if err != nil {
		return err
	}
	if n.Events[idx].Kind != EventKindText {
		return ErrEventNotEditable
	}
	content, err = normalizeContent(content, true)
	if err != nil {
		return err
	}
	n.Events[idx].Content = content
	n.Events[idx].EditedAt = &now
	n.UpdatedAt = now
	return nil
}

// MarkRead marks events from the other party read up to and including upToSeq. A
// non-positive upToSeq marks the whole ledger. It returns the number of events changed.
func (n *Negotiation) MarkRead(actor Actor, upToSeq int, now time.Time) (int, error) {
	now = now.UTC()
	if err := n.ensureOpen(now); err != nil {
		return 0, err
	}
	if err := n.checkActor(actor); err != nil {
		return 0, err
	}
	if upToSeq <= 0 || upToSeq > len(n.Events) {
		upToSeq = len(n.Events)
	}
	own := actor.Role.side()
	changed := 0
	for i := 0; i < upToSeq; i++ {
		ev := &n.Events[i]
		if ev.IsRead || ev.Sender.side() == own {
			continue
		}
		ev.IsRead = true
		ev.ReadAt = &now
		changed++
	}
	if changed > 0 {
		n.UpdatedAt = now
	}
	return changed, nil
}

// React toggles the actor's symbol on an event. It reports whether the reaction is now present.
func (n *Negotiation) React(seq int, actor Actor, symbol string, now time.Time) (bool, error) {
	now = now.UTC()
	if err := n.ensureOpen(now); err != nil {
		return false, err
	}
	if err := n.checkActor(actor); err != nil {
		return false, err
	}
	symbol = strings.TrimSpace(symbol)
	if symbol == "" || len([]rune(symbol)) > MaxReactionLength {
		return false, ErrInvalidReaction
	}
	if seq < 1 || seq > len(n.Events) {
		return false, ErrEventNotFound
	}
	ev := &n.Events[seq-1]
	if ev.IsDeleted {
		return false, ErrEventNotEditable
	}
	n.UpdatedAt = now
	if i := ev.reactionIndex(actor.ID, symbol); i >= 0 {
		ev.Reactions = append(ev.Reactions[:i], ev.Reactions[i+1:]...)
		return false, nil
	}
	ev.Reactions = append(ev.Reactions, Reaction{ActorID: actor.ID, Symbol: symbol, At: now})
	return true, nil
}

// ensureTransition checks an explicit transition out of in_progress. Past-deadline and
// expired negotiations are closed; every other disallowed edge is an invalid transition.
func (n Negotiation) ensureTransition(to Status, now time.Time) error {
	if n.Status == StatusExpired || (!n.Status.IsTerminal() && n.IsPastDeadline(now)) {
		return ErrNegotiationClosed
	}
	if !CanTransition(n.Status, to) {
		return ErrInvalidTransition
	}
	return nil
}

// AcceptOffer completes the negotiation at the current offer.
func (n *Negotiation) AcceptOffer(actor Actor, now time.Time) error {
	now = now.UTC()
	if err := n.checkActor(actor); err != nil {
		return err
	}
	if err := n.ensureTransition(StatusCompleted, now); err != nil {
		return err
	}
	if n.Pricing.CurrentOffer == nil {
		return ErrInvalidTransition
	}
	final := *n.Pricing.CurrentOffer
	n.Status = StatusCompleted
	n.Pricing.FinalPrice = &final
	n.CompletedAt = &now
	n.Analytics.finish(now)
	n.UpdatedAt = now
	n.record(TimelineOfferAccepted, actor, now, TimelineDetails{Accepted: &AcceptedDetails{
		FinalPrice: final,
		Currency:   n.Pricing.Currency,
	}})
	return nil
}

// RejectOffer ends the negotiation without a price.
func (n *Negotiation) RejectOffer(actor Actor, reason string, now time.Time) error {
	now = now.UTC()
	if err := n.checkActor(actor); err != nil {
		return err
	}
	if err := n.ensureTransition(StatusRejected, now); err != nil {
		return err
	}
	reason, err := normalizeContent(reason, false)
	if err != nil {
		return err
	}
	n.Status = StatusRejected
	n.RejectedAt = &now
	n.RejectedBy = actor.ID
	n.RejectionReason = reason
	n.UpdatedAt = now
	n.record(TimelineOfferRejected, actor, now, TimelineDetails{Rejected: &ReasonDetails{Reason: reason}})
	return nil
}

// Cancel withdraws from a non-terminal negotiation.
func (n *Negotiation) Cancel(actor Actor, reason string, now time.Time) error {
	now = now.UTC()
	if err := n.checkActor(actor); err != nil {
		return err
	}
	if n.Status.IsTerminal() || n.IsPastDeadline(now) || !CanTransition(n.Status, StatusCancelled) {
		return ErrInvalidTransition
	}
	reason, err := normalizeContent(reason, false)
	if err != nil {
		return err
	}
	n.Status = StatusCancelled
	n.CancelledAt = &now
	n.CancelledBy = actor.ID
	n.CancellationReason = reason
	n.UpdatedAt = now
	n.record(TimelineCancelled, actor, now, TimelineDetails{Cancelled: &ReasonDetails{Reason: reason}})
	return nil
}

// ExpireIfDue moves a non-terminal negotiation past its deadline to expired. It reports
// whether the transition happened.
func (n *Negotiation) ExpireIfDue(now time.Time) bool {
	now = now.UTC()
	if n.Status.IsTerminal() || !n.IsPastDeadline(now) {
		return false
	}
	n.Status = StatusExpired
	n.UpdatedAt = now
	n.record(TimelineExpired, SystemActor(), now, TimelineDetails{Expired: &ExpiredDetails{ExpiresAt: n.ExpiresAt}})
	return true
}

// Clone returns a deep copy so a failed operation can be discarded without side effects.
func (n Negotiation) Clone() Negotiation {
	out := n
	out.Pricing.CurrentOffer = cloneFloat(n.Pricing.CurrentOffer)
	out.Pricing.FinalPrice = cloneFloat(n.Pricing.FinalPrice)
	if n.Events != nil {
		out.Events = make([]Event, len(n.Events))
		for i, ev := range n.Events {
			out.Events[i] = ev.clone()
		}
	}
	if n.OfferHistory != nil {
		out.OfferHistory = append([]OfferRecord(nil), n.OfferHistory...)
	}
	if n.Timeline != nil {
		out.Timeline = append([]TimelineEntry(nil), n.Timeline...)
	}
	out.Analytics = n.Analytics.clone()
	out.CompletedAt = cloneTime(n.CompletedAt)
	out.CancelledAt = cloneTime(n.CancelledAt)
	out.RejectedAt = cloneTime(n.RejectedAt)
	return out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
