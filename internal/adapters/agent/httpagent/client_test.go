package httpagent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/app"
	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/domain"
)

var _ app.Agent = (*Client)(nil)

func testRequest(t *testing.T) app.AgentRequest {
	t.Helper()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	n, err := domain.NewNegotiation(domain.NegotiationInput{
		ID: "n1", ListingID: "bike", RequesterID: "buyer", ResponderID: "seller", InitialOffer: 100, Currency: "USD",
	}, now)
	if err != nil {
		t.Fatalf("NewNegotiation() error = %v", err)
	}
	if _, err := n.Append(domain.EventInput{
		ID:     "e1",
		Sender: domain.Actor{ID: "buyer", Role: domain.RoleRequester},
		Kind:   domain.EventKindOffer,
		Offer:  &domain.Offer{Amount: 140},
	}, now.Add(time.Minute)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	return app.AgentRequest{
		Listing:         app.ListingInfo{ID: "bike", Title: "Road bike", BasePrice: 200, MinPrice: 120, Currency: "USD"},
		Negotiation:     n,
		LastUserMessage: "would you take 140?",
	}
}

func TestProposeDecodesReply(t *testing.T) {
	var got requestPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %q", r.Method, r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Decode() error = %v", err)
		}
		_, _ = w.Write([]byte(`{"decision":"COUNTER","counter_price":170,"response_content":" How about 170? ","reasoning":"above min"}`))
	}))
	t.Cleanup(srv.Close)

	client, err := New(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	reply, err := client.Propose(context.Background(), testRequest(t))
	if err != nil {
		t.Fatalf("Propose() error = %v", err)
	}
	if reply.Decision != app.AgentDecisionCounter || reply.Amount != 170 || reply.Content != "How about 170?" {
		t.Fatalf("unexpected reply %#v", reply)
	}
	if got.Listing.MinPrice != 120 || got.Negotiation.Rounds != 1 || len(got.History) != 1 || *got.History[0].Amount != 140 {
		t.Fatalf("unexpected request payload %#v", got)
	}
	if got.LastUserMessage != "would you take 140?" {
		t.Fatalf("unexpected last message %q", got.LastUserMessage)
	}
}

func TestParseDecision(t *testing.T) {
	cases := map[string]app.AgentDecision{
		"ACCEPT":   app.AgentDecisionAccept,
		"reject":   app.AgentDecisionReject,
		" Counter": app.AgentDecisionCounter,
		"ANSWER":   app.AgentDecisionReply,
		"reply":    app.AgentDecisionReply,
	}
	for raw, want := range cases {
		got, err := parseDecision(raw)
		if err != nil || got != want {
			t.Fatalf("parseDecision(%q) = %q, %v; want %q", raw, got, err, want)
		}
	}
	if _, err := parseDecision("shrug"); !errors.Is(err, ErrBadReply) {
		t.Fatalf("expected ErrBadReply, got %v", err)
	}
}

func TestProposeFailures(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		wantBad bool
	}{
		{name: "server error", status: http.StatusBadGateway, body: `{}`},
		{name: "malformed json", status: http.StatusOK, body: `not json`, wantBad: true},
		{name: "unknown decision", status: http.StatusOK, body: `{"decision":"MAYBE"}`, wantBad: true},
		{name: "counter without price", status: http.StatusOK, body: `{"decision":"COUNTER","response_content":"how about this"}`, wantBad: true},
		{name: "counter with null price", status: http.StatusOK, body: `{"decision":"COUNTER","counter_price":null}`, wantBad: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			t.Cleanup(srv.Close)
			client, _ := New(srv.URL, nil)
			_, err := client.Propose(context.Background(), testRequest(t))
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.Is(err, ErrBadReply) != tc.wantBad {
				t.Fatalf("ErrBadReply match = %v, want %v (err %v)", errors.Is(err, ErrBadReply), tc.wantBad, err)
			}
		})
	}
}

func TestProposeIgnoresPriceOutsideCounter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"decision":"ANSWER","response_content":"It ships Monday."}`))
	}))
	t.Cleanup(srv.Close)
	client, _ := New(srv.URL, nil)
	reply, err := client.Propose(context.Background(), testRequest(t))
	if err != nil {
		t.Fatalf("Propose() error = %v", err)
	}
	if reply.Decision != app.AgentDecisionReply || reply.Amount != 0 {
		t.Fatalf("unexpected reply %#v", reply)
	}
}

func TestProposeHonoursContextDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	client, _ := New(srv.URL, srv.Client())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := client.Propose(ctx, testRequest(t)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestNewRequiresEndpoint(t *testing.T) {
	if _, err := New("  ", nil); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
}
