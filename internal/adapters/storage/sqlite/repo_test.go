package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/app"
	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/domain"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})
	return repo
}

func newNegotiation(t *testing.T, id, listingID, requesterID string, expiresAt time.Time) domain.Negotiation {
	t.Helper()
	n, err := domain.NewNegotiation(domain.NegotiationInput{
		ID:           id,
		ListingID:    listingID,
		RequesterID:  requesterID,
		ResponderID:  "seller",
		InitialOffer: 100,
		Currency:     "USD",
		ExpiresAt:    expiresAt,
	}, testNow)
	if err != nil {
		t.Fatalf("NewNegotiation() error = %v", err)
	}
	n.Version = 1
	return n
}

func TestRepository_NegotiationRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo, err := Open(filepath.Join(t.TempDir(), "haggle.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})

	n := newNegotiation(t, "n1", "bike", "buyer", time.Time{})
	if err := repo.CreateNegotiation(ctx, n); err != nil {
		t.Fatalf("CreateNegotiation() error = %v", err)
	}

	amount := 120.0
	next := n.Clone()
	if _, err := next.Append(domain.EventInput{
		ID:      "01HZX",
		Sender:  domain.Actor{ID: "seller", Role: domain.RoleResponder},
		Kind:    domain.EventKindCounterOffer,
		Content: "120 and it's yours",
		Offer:   &domain.Offer{Amount: amount},
	}, testNow.Add(time.Minute)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if _, err := next.React(1, domain.Actor{ID: "buyer", Role: domain.RoleRequester}, "👀", testNow.Add(2*time.Minute)); err != nil {
		t.Fatalf("React() error = %v", err)
	}
	next.Version = 2
	if err := repo.SaveNegotiation(ctx, next, 1); err != nil {
		t.Fatalf("SaveNegotiation() error = %v", err)
	}

	loaded, err := repo.GetNegotiation(ctx, "n1")
	if err != nil {
		t.Fatalf("GetNegotiation() error = %v", err)
	}
	if loaded.Version != 2 || loaded.Status != domain.StatusInProgress || loaded.Rounds != 1 {
		t.Fatalf("unexpected loaded negotiation %#v", loaded)
	}
	if loaded.Pricing.CurrentOffer == nil || *loaded.Pricing.CurrentOffer != amount {
		t.Fatalf("unexpected current offer %v", loaded.Pricing.CurrentOffer)
	}
	if len(loaded.Events) != 1 || loaded.Events[0].Offer == nil || len(loaded.Events[0].Reactions) != 1 {
		t.Fatalf("unexpected loaded events %#v", loaded.Events)
	}
	if len(loaded.Timeline) != 3 || loaded.Timeline[1].Details.Offer == nil || loaded.Timeline[1].Details.Offer.Round != 1 {
		t.Fatalf("unexpected loaded timeline %#v", loaded.Timeline)
	}
	if !loaded.ExpiresAt.Equal(n.ExpiresAt) {
		t.Fatalf("expires_at = %s, want %s", loaded.ExpiresAt, n.ExpiresAt)
	}
	if err := loaded.CheckInvariants(); err != nil {
		t.Fatalf("CheckInvariants() error = %v", err)
	}
}

func TestRepository_SaveNegotiationVersionCheck(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	n := newNegotiation(t, "n1", "bike", "buyer", time.Time{})
	if err := repo.CreateNegotiation(ctx, n); err != nil {
		t.Fatalf("CreateNegotiation() error = %v", err)
	}
	n.Version = 2
	if err := repo.SaveNegotiation(ctx, n, 1); err != nil {
		t.Fatalf("SaveNegotiation() error = %v", err)
	}
	stale := n
	stale.Version = 2
	if err := repo.SaveNegotiation(ctx, stale, 1); !errors.Is(err, app.ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict, got %v", err)
	}
	missing := newNegotiation(t, "ghost", "bike", "buyer", time.Time{})
	if err := repo.SaveNegotiation(ctx, missing, 0); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := repo.GetNegotiation(ctx, "ghost"); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRepository_QueriesAndExpiry(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	soon := testNow.Add(time.Hour)
	later := testNow.Add(48 * time.Hour)
	rows := []domain.Negotiation{
		newNegotiation(t, "n1", "bike", "buyer-a", soon),
		newNegotiation(t, "n2", "bike", "buyer-b", later),
		newNegotiation(t, "n3", "lamp", "buyer-a", soon.Add(time.Minute)),
	}
	closed := newNegotiation(t, "n4", "lamp", "buyer-c", soon)
	if err := closed.Cancel(domain.Actor{ID: "buyer-c", Role: domain.RoleRequester}, "", testNow); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	rows = append(rows, closed)
	for _, n := range rows {
		if err := repo.CreateNegotiation(ctx, n); err != nil {
			t.Fatalf("CreateNegotiation(%s) error = %v", n.ID, err)
		}
	}

	cases := []struct {
		name   string
		filter app.NegotiationFilter
		want   int
	}{
		{"participant", app.NegotiationFilter{ParticipantID: "buyer-a"}, 2},
		{"responder", app.NegotiationFilter{ParticipantID: "seller"}, 4},
		{"participant and status", app.NegotiationFilter{ParticipantID: "seller", Status: domain.StatusCancelled}, 1},
		{"listing", app.NegotiationFilter{ListingID: "bike"}, 2},
		{"limit", app.NegotiationFilter{Limit: 3}, 3},
		{"stored initiated", app.NegotiationFilter{Status: domain.StatusInitiated}, 3},
		{"initiated as of deadline", app.NegotiationFilter{Status: domain.StatusInitiated, AsOf: soon.Add(2 * time.Minute)}, 1},
		{"expired as of deadline", app.NegotiationFilter{Status: domain.StatusExpired, AsOf: soon.Add(2 * time.Minute)}, 2},
		{"expired before deadline", app.NegotiationFilter{Status: domain.StatusExpired, AsOf: testNow}, 0},
		{"cancelled as of deadline", app.NegotiationFilter{Status: domain.StatusCancelled, AsOf: soon.Add(2 * time.Minute)}, 1},
	}
	for _, tc := range cases {
		got, err := repo.ListNegotiations(ctx, tc.filter)
		if err != nil {
			t.Fatalf("%s: ListNegotiations() error = %v", tc.name, err)
		}
		if len(got) != tc.want {
			t.Fatalf("%s: got %d negotiations, want %d", tc.name, len(got), tc.want)
		}
	}

	expirable, err := repo.ListExpirable(ctx, soon.Add(2*time.Minute), 10)
	if err != nil {
		t.Fatalf("ListExpirable() error = %v", err)
	}
	if len(expirable) != 2 || expirable[0].ID != "n1" || expirable[1].ID != "n3" {
		t.Fatalf("unexpected expirable set %#v", ids(expirable))
	}
	if limited, _ := repo.ListExpirable(ctx, soon.Add(2*time.Minute), 1); len(limited) != 1 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}

	active, err := repo.FindActiveNegotiation(ctx, "bike", "buyer-b")
	if err != nil || active.ID != "n2" {
		t.Fatalf("FindActiveNegotiation() = %v, %v", active.ID, err)
	}
	if _, err := repo.FindActiveNegotiation(ctx, "lamp", "buyer-c"); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for terminal negotiation, got %v", err)
	}
}

func TestRepository_Listings(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	if _, err := repo.GetListing(ctx, "bike"); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	listing := app.ListingInfo{ID: "bike", OwnerID: "seller", Title: "Road bike", BasePrice: 200, MinPrice: 120, Currency: "USD"}
	if err := repo.UpsertListing(ctx, listing, testNow); err != nil {
		t.Fatalf("UpsertListing() error = %v", err)
	}
	listing.BasePrice = 180
	if err := repo.UpsertListing(ctx, listing, testNow.Add(time.Hour)); err != nil {
		t.Fatalf("UpsertListing() update error = %v", err)
	}
	got, err := repo.GetListing(ctx, "bike")
	if err != nil {
		t.Fatalf("GetListing() error = %v", err)
	}
	if got != listing {
		t.Fatalf("GetListing() = %#v, want %#v", got, listing)
	}
	all, err := repo.ListListings(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("ListListings() = %d, %v", len(all), err)
	}
}

func TestServiceOnSQLite(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepo(t)
	if err := repo.UpsertListing(ctx, app.ListingInfo{ID: "bike", OwnerID: "seller", BasePrice: 200, Currency: "USD"}, testNow); err != nil {
		t.Fatalf("UpsertListing() error = %v", err)
	}
	seq := 0
	idGen := func() string {
		seq++
		return fmt.Sprintf("n%d", seq)
	}
	svc := app.NewService(repo, repo, idGen, func() time.Time { return testNow }, app.ServiceConfig{})
	n, err := svc.CreateNegotiation(ctx, app.CreateNegotiationInput{ListingID: "bike", RequesterID: "buyer", InitialOffer: 100})
	if err != nil {
		t.Fatalf("CreateNegotiation() error = %v", err)
	}
	for i, step := range []struct {
		actor  string
		amount float64
	}{{"seller", 120}, {"buyer", 110}, {"seller", 115}} {
		amount := step.amount
		if _, _, err := svc.AppendEvent(ctx, app.AppendEventInput{NegotiationID: n.ID, ActorID: step.actor, Kind: domain.EventKindCounterOffer, Amount: &amount}); err != nil {
			t.Fatalf("AppendEvent(%d) error = %v", i, err)
		}
	}
	done, err := svc.AcceptOffer(ctx, n.ID, "buyer")
	if err != nil {
		t.Fatalf("AcceptOffer() error = %v", err)
	}
	if done.Status != domain.StatusCompleted || *done.Pricing.FinalPrice != 115 || done.Rounds != 3 {
		t.Fatalf("unexpected completed negotiation %#v", done)
	}
	stored, err := repo.GetNegotiation(ctx, n.ID)
	if err != nil {
		t.Fatalf("GetNegotiation() error = %v", err)
	}
	if stored.Version != 5 || len(stored.OfferHistory) != 3 {
		t.Fatalf("unexpected stored negotiation version=%d history=%d", stored.Version, len(stored.OfferHistory))
	}
}

func TestIsBusyErr(t *testing.T) {
	if !isBusyErr(errors.New("database is locked (5) (SQLITE_BUSY)")) {
		t.Fatal("expected busy error to be detected")
	}
	if isBusyErr(errors.New("no such table")) || isBusyErr(nil) {
		t.Fatal("unexpected busy classification")
	}
	if err := classifyErr("op", errors.New("database is locked")); !errors.Is(err, app.ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
}

func ids(in []domain.Negotiation) []string {
	out := make([]string, 0, len(in))
	for _, n := range in {
		out = append(out, n.ID)
	}
	return out
}
