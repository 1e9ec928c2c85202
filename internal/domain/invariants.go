package domain

import "fmt"

// CheckInvariants verifies that derived state agrees with the ledger and status.
func (n Negotiation) CheckInvariants() error {
	if !n.Status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvariantViolation, n.Status)
	}
	if n.MaxRounds < 1 || n.MaxRounds > MaxRoundsCeiling {
		return fmt.Errorf("%w: max rounds %d out of range", ErrInvariantViolation, n.MaxRounds)
	}
	if n.Rounds > n.MaxRounds {
		return fmt.Errorf("%w: rounds %d exceed max %d", ErrInvariantViolation, n.Rounds, n.MaxRounds)
	}

	offers := 0
	for i, ev := range n.Events {
		if ev.Seq != i+1 {
			return fmt.Errorf("%w: event %s has seq %d at position %d", ErrInvariantViolation, ev.ID, ev.Seq, i+1)
		}
		if ev.Kind.IsOffer() {
			offers++
		}
	}
	if offers != n.Rounds {
		return fmt.Errorf("%w: %d offer events but %d rounds", ErrInvariantViolation, offers, n.Rounds)
	}
	if len(n.OfferHistory) != offers {
		return fmt.Errorf("%w: offer history has %d entries for %d offers", ErrInvariantViolation, len(n.OfferHistory), offers)
	}

	want := n.latestVisibleOffer()
	got := n.Pricing.CurrentOffer
	if (want == nil) != (got == nil) || (want != nil && *want != *got) {
		return fmt.Errorf("%w: current offer disagrees with ledger", ErrInvariantViolation)
	}
	if (n.Pricing.FinalPrice != nil) != (n.Status == StatusCompleted) {
		return fmt.Errorf("%w: final price set with status %s", ErrInvariantViolation, n.Status)
	}

	var initiated, started, appended, terminal int
	for i, entry := range n.Timeline {
		if entry.Seq != i+1 {
			return fmt.Errorf("%w: timeline entry at position %d has seq %d", ErrInvariantViolation, i+1, entry.Seq)
		}
		if !entry.Details.matches(entry.Kind) {
			return fmt.Errorf("%w: timeline entry %d details do not match kind %s", ErrInvariantViolation, entry.Seq, entry.Kind)
		}
		switch entry.Kind {
		case TimelineInitiated:
			initiated++
		case TimelineNegotiationStarted:
			started++
		case TimelineMessagePosted, TimelineOfferMade:
			appended++
		default:
			terminal++
		}
	}
	if initiated != 1 {
		return fmt.Errorf("%w: %d initiated entries", ErrInvariantViolation, initiated)
	}
	if appended != len(n.Events) {
		return fmt.Errorf("%w: %d append entries for %d events", ErrInvariantViolation, appended, len(n.Events))
	}
	wantStarted := 0
	if len(n.Events) > 0 {
		wantStarted = 1
	}
	if started != wantStarted {
		return fmt.Errorf("%w: %d start entries", ErrInvariantViolation, started)
	}
	wantTerminal := 0
	if n.Status.IsTerminal() {
		wantTerminal = 1
	}
	if terminal != wantTerminal {
		return fmt.Errorf("%w: %d terminal entries with status %s", ErrInvariantViolation, terminal, n.Status)
	}
	return nil
}
