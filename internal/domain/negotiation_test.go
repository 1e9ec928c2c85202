package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

var (
	testNow   = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	requester = Actor{ID: "buyer-1", Role: RoleRequester}
	responder = Actor{ID: "seller-1", Role: RoleResponder}
	agent     = AgentActor("agent-1")
)

// newTestNegotiation opens a negotiation with an initial offer of 100 USD.
func newTestNegotiation(t *testing.T, maxRounds int) Negotiation {
	t.Helper()
	n, err := NewNegotiation(NegotiationInput{
		ID:           "n1",
		ListingID:    "l1",
		RequesterID:  requester.ID,
		ResponderID:  responder.ID,
		InitialOffer: 100,
		Currency:     "usd",
		MaxRounds:    maxRounds,
	}, testNow)
	if err != nil {
		t.Fatalf("NewNegotiation() error = %v", err)
	}
	return n
}

// offer appends an offer-kind event and fails the test on error.
func offer(t *testing.T, n *Negotiation, from Actor, amount float64, at time.Time) EventRef {
	t.Helper()
	ref, err := n.Append(EventInput{
		ID:     fmt.Sprintf("e%d", len(n.Events)+1),
		Sender: from,
		Kind:   EventKindCounterOffer,
		Offer:  &Offer{Amount: amount},
	}, at)
	if err != nil {
		t.Fatalf("Append(offer %v) error = %v", amount, err)
	}
	return ref
}

func text(t *testing.T, n *Negotiation, from Actor, body string, at time.Time) EventRef {
	t.Helper()
	ref, err := n.Append(EventInput{
		ID:      fmt.Sprintf("e%d", len(n.Events)+1),
		Sender:  from,
		Kind:    EventKindText,
		Content: body,
	}, at)
	if err != nil {
		t.Fatalf("Append(text) error = %v", err)
	}
	return ref
}

func mustInvariants(t *testing.T, n Negotiation) {
	t.Helper()
	if err := n.CheckInvariants(); err != nil {
		t.Fatalf("CheckInvariants() error = %v", err)
	}
}

func TestNewNegotiationDefaults(t *testing.T) {
	n := newTestNegotiation(t, 0)
	if n.Status != StatusInitiated {
		t.Fatalf("expected initiated, got %q", n.Status)
	}
	if n.MaxRounds != DefaultMaxRounds {
		t.Fatalf("expected default max rounds, got %d", n.MaxRounds)
	}
	if !n.ExpiresAt.Equal(testNow.Add(DefaultExpiry)) {
		t.Fatalf("unexpected expires_at %s", n.ExpiresAt)
	}
	if n.Pricing.Currency != "USD" || n.Pricing.CurrentOffer != nil {
		t.Fatalf("unexpected pricing %#v", n.Pricing)
	}
	if len(n.Timeline) != 1 || n.Timeline[0].Kind != TimelineInitiated {
		t.Fatalf("expected initiated timeline entry, got %#v", n.Timeline)
	}
	mustInvariants(t, n)
}

func TestNewNegotiationValidation(t *testing.T) {
	base := NegotiationInput{
		ID:           "n1",
		ListingID:    "l1",
		RequesterID:  "a",
		ResponderID:  "b",
		InitialOffer: 10,
		Currency:     "EUR",
	}
	cases := []struct {
		name   string
		mutate func(*NegotiationInput)
		want   error
	}{
		{"missing id", func(in *NegotiationInput) { in.ID = " " }, ErrInvalidID},
		{"same participant", func(in *NegotiationInput) { in.ResponderID = "a" }, ErrSameParticipant},
		{"zero offer", func(in *NegotiationInput) { in.InitialOffer = 0 }, ErrInvalidAmount},
		{"bad currency", func(in *NegotiationInput) { in.Currency = "EURO" }, ErrInvalidCurrency},
		{"rounds ceiling", func(in *NegotiationInput) { in.MaxRounds = MaxRoundsCeiling + 1 }, ErrInvalidMaxRounds},
		{"negative rounds", func(in *NegotiationInput) { in.MaxRounds = -1 }, ErrInvalidMaxRounds},
		{"past expiry", func(in *NegotiationInput) { in.ExpiresAt = testNow.Add(-time.Minute) }, ErrInvalidExpiry},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := base
			tc.mutate(&in)
			_, err := NewNegotiation(in, testNow)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestCounterOfferSequenceCompletes(t *testing.T) {
	n := newTestNegotiation(t, 0)
	at := testNow
	offer(t, &n, responder, 120, at.Add(time.Minute))
	offer(t, &n, requester, 110, at.Add(2*time.Minute))
	offer(t, &n, responder, 115, at.Add(3*time.Minute))
	if err := n.AcceptOffer(requester, at.Add(4*time.Minute)); err != nil {
		t.Fatalf("AcceptOffer() error = %v", err)
	}
	if n.Status != StatusCompleted {
		t.Fatalf("expected completed, got %q", n.Status)
	}
	if n.Pricing.FinalPrice == nil || *n.Pricing.FinalPrice != 115 {
		t.Fatalf("expected final price 115, got %v", n.Pricing.FinalPrice)
	}
	if n.Rounds != 3 || len(n.OfferHistory) != 3 {
		t.Fatalf("expected 3 rounds and history entries, got %d/%d", n.Rounds, len(n.OfferHistory))
	}
	if n.OfferHistory[0].OfferedBy != RoleResponder || n.OfferHistory[1].OfferedBy != RoleRequester {
		t.Fatalf("unexpected offer history %#v", n.OfferHistory)
	}
	if n.Analytics.EndTime == nil || n.Analytics.DurationMinutes == nil || *n.Analytics.DurationMinutes != 4 {
		t.Fatalf("expected analytics end window, got %#v", n.Analytics)
	}
	if n.Analytics.PriceMovement.Direction != PriceUp || n.Analytics.PriceMovement.Magnitude != 15 {
		t.Fatalf("unexpected price movement %#v", n.Analytics.PriceMovement)
	}
	mustInvariants(t, n)
}

func TestCurrentOfferTracksLastOffer(t *testing.T) {
	amounts := []float64{90, 95, 97.5, 99, 98}
	n := newTestNegotiation(t, len(amounts))
	for i, amount := range amounts {
		from := requester
		if i%2 == 1 {
			from = responder
		}
		offer(t, &n, from, amount, testNow.Add(time.Duration(i+1)*time.Minute))
		if n.Pricing.CurrentOffer == nil || *n.Pricing.CurrentOffer != amount {
			t.Fatalf("after %d offers expected current %v, got %v", i+1, amount, n.Pricing.CurrentOffer)
		}
		if n.Rounds != i+1 {
			t.Fatalf("expected %d rounds, got %d", i+1, n.Rounds)
		}
		mustInvariants(t, n)
	}
}

func TestRoundLimitRejectsWithoutMutation(t *testing.T) {
	n := newTestNegotiation(t, 2)
	offer(t, &n, responder, 120, testNow.Add(time.Minute))
	offer(t, &n, requester, 110, testNow.Add(2*time.Minute))
	events, timeline := len(n.Events), len(n.Timeline)

	_, err := n.Append(EventInput{ID: "e3", Sender: responder, Kind: EventKindCounterOffer, Offer: &Offer{Amount: 115}}, testNow.Add(3*time.Minute))
	if !errors.Is(err, ErrRoundLimitExceeded) {
		t.Fatalf("expected ErrRoundLimitExceeded, got %v", err)
	}
	if n.Status != StatusInProgress {
		t.Fatalf("expected in_progress, got %q", n.Status)
	}
	if len(n.Events) != events || len(n.Timeline) != timeline || n.Rounds != 2 || *n.Pricing.CurrentOffer != 110 {
		t.Fatalf("round limit failure mutated the aggregate: %#v", n)
	}
	if n.CanContinue(testNow.Add(3 * time.Minute)) {
		t.Fatal("expected CanContinue() false at the round limit")
	}
	// Text is still accepted at the round limit.
	text(t, &n, requester, "final answer?", testNow.Add(4*time.Minute))
	mustInvariants(t, n)
}

func TestAppendValidation(t *testing.T) {
	n := newTestNegotiation(t, 0)
	cases := []struct {
		name string
		in   EventInput
		want error
	}{
		{"offer without payload", EventInput{ID: "x", Sender: requester, Kind: EventKindOffer}, ErrInvalidEventKind},
		{"text with payload", EventInput{ID: "x", Sender: requester, Kind: EventKindText, Content: "hi", Offer: &Offer{Amount: 1}}, ErrInvalidEventKind},
		{"human acceptance", EventInput{ID: "x", Sender: requester, Kind: EventKindAcceptance}, ErrInvalidSenderRole},
		{"human system", EventInput{ID: "x", Sender: responder, Kind: EventKindSystem, Content: "x"}, ErrInvalidSenderRole},
		{"unknown kind", EventInput{ID: "x", Sender: requester, Kind: "poke"}, ErrInvalidEventKind},
		{"empty text", EventInput{ID: "x", Sender: requester, Kind: EventKindText, Content: "  "}, ErrEmptyContent},
		{"long text", EventInput{ID: "x", Sender: requester, Kind: EventKindText, Content: strings.Repeat("é", MaxContentLength+1)}, ErrContentTooLong},
		{"negative amount", EventInput{ID: "x", Sender: requester, Kind: EventKindOffer, Offer: &Offer{Amount: -1}}, ErrInvalidAmount},
		{"currency mismatch", EventInput{ID: "x", Sender: requester, Kind: EventKindOffer, Offer: &Offer{Amount: 1, Currency: "EUR"}}, ErrCurrencyMismatch},
		{"missing id", EventInput{Sender: requester, Kind: EventKindText, Content: "hi"}, ErrInvalidID},
		{"impersonation", EventInput{ID: "x", Sender: Actor{ID: "mallory", Role: RoleRequester}, Kind: EventKindText, Content: "hi"}, ErrUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clone := n.Clone()
			if _, err := clone.Append(tc.in, testNow); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if len(clone.Events) != 0 || clone.Status != StatusInitiated {
				t.Fatalf("failed append mutated the aggregate")
			}
		})
	}
	if _, err := n.Append(EventInput{ID: "ok", Sender: requester, Kind: EventKindText, Content: strings.Repeat("é", MaxContentLength)}, testNow); err != nil {
		t.Fatalf("Append() at the length bound error = %v", err)
	}
}

func TestFirstAppendStartsNegotiation(t *testing.T) {
	n := newTestNegotiation(t, 0)
	ref := text(t, &n, requester, "is this still available?", testNow.Add(time.Second))
	if ref.Seq != 1 || ref.ID != "e1" {
		t.Fatalf("unexpected ref %#v", ref)
	}
	if n.Status != StatusInProgress {
		t.Fatalf("expected in_progress, got %q", n.Status)
	}
	kinds := []TimelineKind{TimelineInitiated, TimelineMessagePosted, TimelineNegotiationStarted}
	if len(n.Timeline) != len(kinds) {
		t.Fatalf("expected %d timeline entries, got %d", len(kinds), len(n.Timeline))
	}
	for i, kind := range kinds {
		if n.Timeline[i].Kind != kind {
			t.Fatalf("timeline[%d] = %q, want %q", i, n.Timeline[i].Kind, kind)
		}
	}
	text(t, &n, responder, "yes", testNow.Add(2*time.Second))
	if got := len(n.Timeline); got != 4 {
		t.Fatalf("expected one entry for the second append, got %d entries", got)
	}
	mustInvariants(t, n)
}

func TestAcceptOfferTwice(t *testing.T) {
	n := newTestNegotiation(t, 0)
	offer(t, &n, responder, 130, testNow.Add(time.Minute))
	if err := n.AcceptOffer(requester, testNow.Add(2*time.Minute)); err != nil {
		t.Fatalf("AcceptOffer() error = %v", err)
	}
	completedAt := *n.CompletedAt
	if err := n.AcceptOffer(requester, testNow.Add(3*time.Minute)); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if *n.Pricing.FinalPrice != 130 || !n.CompletedAt.Equal(completedAt) {
		t.Fatalf("second accept changed the aggregate")
	}
	mustInvariants(t, n)
}

func TestAcceptOfferPreconditions(t *testing.T) {
	n := newTestNegotiation(t, 0)
	if err := n.AcceptOffer(requester, testNow); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("accept from initiated: expected ErrInvalidTransition, got %v", err)
	}
	text(t, &n, requester, "hello", testNow.Add(time.Minute))
	if err := n.AcceptOffer(responder, testNow.Add(2*time.Minute)); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("accept without offer: expected ErrInvalidTransition, got %v", err)
	}
	if err := n.AcceptOffer(Actor{ID: "stranger", Role: RoleResponder}, testNow); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	mustInvariants(t, n)
}

func TestFinalPriceOnlyWhenCompleted(t *testing.T) {
	type step func(n *Negotiation, at time.Time) error
	accept := func(n *Negotiation, at time.Time) error { return n.AcceptOffer(requester, at) }
	reject := func(n *Negotiation, at time.Time) error { return n.RejectOffer(responder, "too low", at) }
	cancel := func(n *Negotiation, at time.Time) error { return n.Cancel(requester, "changed my mind", at) }
	expire := func(n *Negotiation, at time.Time) error {
		n.ExpireIfDue(n.ExpiresAt.Add(time.Second))
		return nil
	}
	sequences := [][]step{
		{accept, reject, cancel},
		{reject, accept, cancel},
		{cancel, accept},
		{expire, accept, cancel},
		{accept, expire},
	}
	for i, seq := range sequences {
		n := newTestNegotiation(t, 0)
		offer(t, &n, responder, 140, testNow.Add(time.Minute))
		for j, s := range seq {
			_ = s(&n, testNow.Add(time.Duration(j+2)*time.Minute))
			if (n.Pricing.FinalPrice != nil) != (n.Status == StatusCompleted) {
				t.Fatalf("sequence %d step %d: final price %v with status %q", i, j, n.Pricing.FinalPrice, n.Status)
			}
			mustInvariants(t, n)
		}
	}
}

func TestCancelTransitions(t *testing.T) {
	n := newTestNegotiation(t, 0)
	if err := n.Cancel(requester, "", testNow.Add(time.Minute)); err != nil {
		t.Fatalf("Cancel() from initiated error = %v", err)
	}
	if n.CancelledAt == nil || n.CancelledBy != requester.ID {
		t.Fatalf("expected cancellation fields, got %#v", n)
	}
	mustInvariants(t, n)

	m := newTestNegotiation(t, 0)
	text(t, &m, responder, "hi", testNow.Add(time.Minute))
	if err := m.Cancel(responder, "sold elsewhere", testNow.Add(2*time.Minute)); err != nil {
		t.Fatalf("Cancel() from in_progress error = %v", err)
	}
	if m.CancellationReason != "sold elsewhere" {
		t.Fatalf("unexpected reason %q", m.CancellationReason)
	}

	for _, status := range []Status{StatusCompleted, StatusCancelled, StatusExpired, StatusRejected} {
		if CanTransition(status, StatusCancelled) {
			t.Fatalf("terminal status %q must not transition", status)
		}
	}
	if err := m.Cancel(responder, "", testNow.Add(3*time.Minute)); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestRejectOffer(t *testing.T) {
	n := newTestNegotiation(t, 0)
	if err := n.RejectOffer(responder, "", testNow); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("reject from initiated: expected ErrInvalidTransition, got %v", err)
	}
	offer(t, &n, requester, 90, testNow.Add(time.Minute))
	if err := n.RejectOffer(responder, "no thanks", testNow.Add(2*time.Minute)); err != nil {
		t.Fatalf("RejectOffer() error = %v", err)
	}
	if n.Status != StatusRejected || n.Pricing.FinalPrice != nil || n.RejectionReason != "no thanks" {
		t.Fatalf("unexpected rejected aggregate %#v", n)
	}
	if _, err := n.Append(EventInput{ID: "late", Sender: requester, Kind: EventKindText, Content: "wait"}, testNow.Add(3*time.Minute)); !errors.Is(err, ErrNegotiationClosed) {
		t.Fatalf("expected ErrNegotiationClosed, got %v", err)
	}
	mustInvariants(t, n)
}

func TestExpiredNegotiationIsClosed(t *testing.T) {
	n := newTestNegotiation(t, 0)
	offer(t, &n, responder, 120, testNow.Add(time.Minute))
	late := n.ExpiresAt.Add(time.Second)

	if n.CanContinue(late) {
		t.Fatal("expected CanContinue() false after the deadline")
	}
	if !n.CanContinue(n.ExpiresAt) {
		t.Fatal("expected CanContinue() true exactly at the deadline")
	}
	if _, err := n.Append(EventInput{ID: "x", Sender: requester, Kind: EventKindText, Content: "hi"}, late); !errors.Is(err, ErrNegotiationClosed) {
		t.Fatalf("append: expected ErrNegotiationClosed, got %v", err)
	}
	if err := n.AcceptOffer(requester, late); !errors.Is(err, ErrNegotiationClosed) {
		t.Fatalf("accept: expected ErrNegotiationClosed, got %v", err)
	}
	if err := n.RejectOffer(requester, "", late); !errors.Is(err, ErrNegotiationClosed) {
		t.Fatalf("reject: expected ErrNegotiationClosed, got %v", err)
	}
	if _, err := n.MarkRead(requester, 0, late); !errors.Is(err, ErrNegotiationClosed) {
		t.Fatalf("mark read: expected ErrNegotiationClosed, got %v", err)
	}

	if !n.ExpireIfDue(late) {
		t.Fatal("expected ExpireIfDue() to expire")
	}
	if n.ExpireIfDue(late) {
		t.Fatal("expected second ExpireIfDue() to be a no-op")
	}
	if n.Status != StatusExpired || n.Timeline[len(n.Timeline)-1].Kind != TimelineExpired {
		t.Fatalf("unexpected expired aggregate %#v", n)
	}
	if err := n.Cancel(requester, "", late); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancel: expected ErrInvalidTransition, got %v", err)
	}
	if err := n.AcceptOffer(requester, late); !errors.Is(err, ErrNegotiationClosed) {
		t.Fatalf("accept after expiry: expected ErrNegotiationClosed, got %v", err)
	}
	mustInvariants(t, n)
}

func TestSoftDeleteOfferRecomputesCurrentOffer(t *testing.T) {
	n := newTestNegotiation(t, 0)
	offer(t, &n, responder, 120, testNow.Add(time.Minute))
	last := offer(t, &n, requester, 105, testNow.Add(2*time.Minute))

	if err := n.SoftDelete(last.Seq, responder, testNow.Add(3*time.Minute)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-sender, got %v", err)
	}
	if err := n.SoftDelete(last.Seq, requester, testNow.Add(3*time.Minute)); err != nil {
		t.Fatalf("SoftDelete() error = %v", err)
	}
	if *n.Pricing.CurrentOffer != 120 {
		t.Fatalf("expected current offer 120, got %v", *n.Pricing.CurrentOffer)
	}
	if n.Rounds != 2 || len(n.OfferHistory) != 2 || len(n.Events) != 2 {
		t.Fatalf("soft delete must retain the ledger and rounds")
	}
	if !n.Events[1].IsDeleted || n.Events[1].DeletedBy != requester.ID {
		t.Fatalf("expected deleted flags, got %#v", n.Events[1])
	}
	if err := n.SoftDelete(last.Seq, requester, testNow.Add(4*time.Minute)); !errors.Is(err, ErrEventNotEditable) {
		t.Fatalf("expected ErrEventNotEditable for repeat delete, got %v", err)
	}
	if err := n.SoftDelete(99, requester, testNow); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
	mustInvariants(t, n)

	first := n.Events[0].Seq
	if err := n.SoftDelete(first, responder, testNow.Add(5*time.Minute)); err != nil {
		t.Fatalf("SoftDelete() error = %v", err)
	}
	if n.Pricing.CurrentOffer != nil || n.Analytics.PriceMovement.Direction != PriceStable {
		t.Fatalf("expected unset current offer, got %v", n.Pricing.CurrentOffer)
	}
	if err := n.AcceptOffer(requester, testNow.Add(6*time.Minute)); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition without a visible offer, got %v", err)
	}
	mustInvariants(t, n)
}

func TestSystemEventsCannotBeDeleted(t *testing.T) {
	n := newTestNegotiation(t, 0)
	ref, err := n.Append(EventInput{ID: "s1", Sender: SystemActor(), Kind: EventKindSystem, Content: "agent failed to respond"}, testNow)
	if err != nil {
		t.Fatalf("Append(system) error = %v", err)
	}
	if err := n.SoftDelete(ref.Seq, SystemActor(), testNow); !errors.Is(err, ErrEventNotEditable) {
		t.Fatalf("expected ErrEventNotEditable, got %v", err)
	}
}

func TestEditEvent(t *testing.T) {
	n := newTestNegotiation(t, 0)
	msg := text(t, &n, requester, "helo", testNow)
	bid := offer(t, &n, requester, 95, testNow.Add(time.Minute))
	if err := n.EditEvent(msg.Seq, requester, "hello", testNow.Add(2*time.Minute)); err != nil {
		t.Fatalf("EditEvent() error = %v", err)
	}
	if n.Events[0].Content != "hello" || n.Events[0].EditedAt == nil {
		t.Fatalf("unexpected edited event %#v", n.Events[0])
	}
	if err := n.EditEvent(msg.Seq, responder, "x", testNow); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := n.EditEvent(bid.Seq, requester, "x", testNow); !errors.Is(err, ErrEventNotEditable) {
		t.Fatalf("expected ErrEventNotEditable for offers, got %v", err)
	}
	if err := n.EditEvent(msg.Seq, requester, " ", testNow); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
}

func TestMarkReadAndReact(t *testing.T) {
	n := newTestNegotiation(t, 0)
	text(t, &n, requester, "hi", testNow)
	text(t, &n, responder, "hello", testNow.Add(time.Minute))
	text(t, &n, responder, "offer?", testNow.Add(2*time.Minute))

	changed, err := n.MarkRead(requester, 2, testNow.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	if changed != 1 || n.Events[0].IsRead || !n.Events[1].IsRead || n.Events[2].IsRead {
		t.Fatalf("unexpected read flags after MarkRead(2): changed=%d", changed)
	}
	changed, err = n.MarkRead(requester, 0, testNow.Add(4*time.Minute))
	if err != nil || changed != 1 || !n.Events[2].IsRead {
		t.Fatalf("MarkRead(all) changed=%d err=%v", changed, err)
	}

	added, err := n.React(2, requester, "👍", testNow)
	if err != nil || !added || len(n.Events[1].Reactions) != 1 {
		t.Fatalf("React() added=%v err=%v", added, err)
	}
	added, err = n.React(2, requester, "👍", testNow)
	if err != nil || added || len(n.Events[1].Reactions) != 0 {
		t.Fatalf("React() toggle added=%v err=%v", added, err)
	}
	if _, err := n.React(2, requester, "", testNow); !errors.Is(err, ErrInvalidReaction) {
		t.Fatalf("expected ErrInvalidReaction, got %v", err)
	}
	if _, err := n.React(9, requester, "x", testNow); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
}

func TestResponseTimeAverageIsExactMean(t *testing.T) {
	n := newTestNegotiation(t, 0)
	at := testNow
	text(t, &n, requester, "hi", at)
	text(t, &n, responder, "hey", at.Add(30*time.Second)) // 30
	text(t, &n, responder, "still there?", at.Add(time.Minute))
	if _, err := n.Append(EventInput{ID: "sys", Sender: SystemActor(), Kind: EventKindSystem, Content: "notice"}, at.Add(70*time.Second)); err != nil {
		t.Fatalf("Append(system) error = %v", err)
	}
	offer(t, &n, requester, 105, at.Add(2*time.Minute))            // 60
	offer(t, &n, agent, 118, at.Add(2*time.Minute+45*time.Second)) // 45
	text(t, &n, responder, "that was my agent", at.Add(3*time.Minute))
	text(t, &n, requester, "ok", at.Add(3*time.Minute+17*time.Second)) // 17

	want := []float64{30, 60, 45, 17}
	got := n.Analytics.ResponseTimeSamples
	if len(got) != len(want) {
		t.Fatalf("expected samples %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected samples %v, got %v", want, got)
		}
	}
	if n.Analytics.AverageResponseTimeSeconds != n.Analytics.MeanResponseTime() || n.Analytics.AverageResponseTimeSeconds != 38 {
		t.Fatalf("unexpected average %v", n.Analytics.AverageResponseTimeSeconds)
	}
	if n.Analytics.TotalMessageCount != 7 {
		t.Fatalf("expected 7 non-system messages, got %d", n.Analytics.TotalMessageCount)
	}
}

func TestComputePriceMovement(t *testing.T) {
	up, down := 125.0, 80.0
	cases := []struct {
		current *float64
		want    PriceMovement
	}{
		{nil, PriceMovement{Direction: PriceStable}},
		{&up, PriceMovement{Direction: PriceUp, Magnitude: 25, Percentage: 25}},
		{&down, PriceMovement{Direction: PriceDown, Magnitude: 20, Percentage: 20}},
	}
	for _, tc := range cases {
		if got := ComputePriceMovement(100, tc.current); got != tc.want {
			t.Fatalf("ComputePriceMovement(100, %v) = %#v, want %#v", tc.current, got, tc.want)
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	n := newTestNegotiation(t, 0)
	offer(t, &n, responder, 120, testNow)
	clone := n.Clone()
	offer(t, &clone, requester, 110, testNow.Add(time.Minute))
	if _, err := clone.React(1, requester, "🔥", testNow); err != nil {
		t.Fatalf("React() error = %v", err)
	}
	if len(n.Events) != 1 || *n.Pricing.CurrentOffer != 120 || len(n.Events[0].Reactions) != 0 {
		t.Fatalf("mutating the clone changed the original")
	}
}

func TestEventsSince(t *testing.T) {
	n := newTestNegotiation(t, 0)
	text(t, &n, requester, "one", testNow)
	text(t, &n, responder, "two", testNow)
	text(t, &n, requester, "three", testNow)
	got := n.EventsSince(1)
	if len(got) != 2 || got[0].Seq != 2 || got[1].Content != "three" {
		t.Fatalf("unexpected events %#v", got)
	}
	if len(n.EventsSince(3)) != 0 || len(n.EventsSince(-5)) != 3 {
		t.Fatal("unexpected cursor bounds")
	}
}

func TestRoleOf(t *testing.T) {
	n := newTestNegotiation(t, 0)
	if role, err := n.RoleOf(" buyer-1 "); err != nil || role != RoleRequester {
		t.Fatalf("RoleOf(requester) = %q, %v", role, err)
	}
	if role, err := n.RoleOf("seller-1"); err != nil || role != RoleResponder {
		t.Fatalf("RoleOf(responder) = %q, %v", role, err)
	}
	if _, err := n.RoleOf("agent-1"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}
