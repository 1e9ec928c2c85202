package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/app"
	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/domain"
)

// palette holds the styles for one output writer. Non-terminal writers render plain text.
type palette struct {
	title lipgloss.Style
	label lipgloss.Style
	faint lipgloss.Style
	good  lipgloss.Style
	bad   lipgloss.Style
	warn  lipgloss.Style
}

func newPalette(w io.Writer) palette {
	r := lipgloss.NewRenderer(w)
	return palette{
		title: r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		label: r.NewStyle().Width(14).Foreground(lipgloss.Color("8")),
		faint: r.NewStyle().Faint(true),
		good:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		bad:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		warn:  r.NewStyle().Foreground(lipgloss.Color("11")),
	}
}

func (p palette) status(s domain.Status) string {
	switch s {
	case domain.StatusCompleted:
		return p.good.Render(string(s))
	case domain.StatusRejected, domain.StatusCancelled, domain.StatusExpired:
		return p.bad.Render(string(s))
	default:
		return p.warn.Render(string(s))
	}
}

// renderNegotiation prints a summary block followed by up to maxEvents ledger events.
func renderNegotiation(w io.Writer, n domain.Negotiation, maxEvents int, now time.Time) {
	p := newPalette(w)
	row := func(label, value string) {
		_, _ = fmt.Fprintf(w, "%s%s\n", p.label.Render(label), value)
	}

	_, _ = fmt.Fprintln(w, p.title.Render("negotiation "+n.ID))
	row("listing", n.ListingID)
	row("parties", fmt.Sprintf("%s -> %s", n.RequesterID, n.ResponderID))
	row("status", p.status(n.Status))
	row("rounds", fmt.Sprintf("%d/%d", n.Rounds, n.MaxRounds))
	row("initial", formatAmount(n.Pricing.InitialOffer, n.Pricing.Currency))
	if n.Pricing.CurrentOffer != nil {
		row("current", formatAmount(*n.Pricing.CurrentOffer, n.Pricing.Currency))
	}
	if n.Pricing.FinalPrice != nil {
		row("final", formatAmount(*n.Pricing.FinalPrice, n.Pricing.Currency))
	}
	move := n.Analytics.PriceMovement
	if move.Direction != domain.PriceStable {
		row("movement", fmt.Sprintf("%s %s (%.1f%%)", move.Direction, humanize.CommafWithDigits(move.Magnitude, 2), move.Percentage))
	}
	row("messages", fmt.Sprintf("%d", n.Analytics.TotalMessageCount))
	if avg := n.Analytics.AverageResponseTimeSeconds; avg > 0 {
		row("avg reply", (time.Duration(avg * float64(time.Second))).Round(time.Second).String())
	}
	row("created", humanize.RelTime(n.CreatedAt, now, "ago", "from now"))
	if !n.Status.IsTerminal() {
		row("expires", humanize.RelTime(n.ExpiresAt, now, "ago", "from now"))
	}
	row("updated", humanize.RelTime(n.UpdatedAt, now, "ago", "from now"))
	if reason := closingReason(n); reason != "" {
		row("reason", reason)
	}

	if maxEvents <= 0 || len(n.Events) == 0 {
		return
	}
	events := n.Events
	if len(events) > maxEvents {
		_, _ = fmt.Fprintln(w, p.faint.Render(fmt.Sprintf("... %d earlier event(s)", len(events)-maxEvents)))
		events = events[len(events)-maxEvents:]
	}
	for _, ev := range events {
		_, _ = fmt.Fprintln(w, formatEvent(p, ev, n.Pricing.Currency, now))
	}
}

func formatEvent(p palette, ev domain.Event, currency string, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%-3d %-13s %-10s", ev.Seq, ev.Kind, ev.SenderID)
	if ev.Offer != nil {
		b.WriteString(" " + formatAmount(ev.Offer.Amount, currency))
	}
	switch {
	case ev.IsDeleted:
		b.WriteString(" " + p.faint.Render("[deleted]"))
	case ev.Content != "":
		b.WriteString(" " + ev.Content)
	}
	if ev.EditedAt != nil {
		b.WriteString(" " + p.faint.Render("(edited)"))
	}
	b.WriteString(" " + p.faint.Render(humanize.RelTime(ev.CreatedAt, now, "ago", "from now")))
	return b.String()
}

func closingReason(n domain.Negotiation) string {
	switch n.Status {
	case domain.StatusCancelled:
		return strings.TrimSpace(fmt.Sprintf("cancelled by %s %s", n.CancelledBy, n.CancellationReason))
	case domain.StatusRejected:
		return strings.TrimSpace(fmt.Sprintf("rejected by %s %s", n.RejectedBy, n.RejectionReason))
	}
	return ""
}

func formatAmount(v float64, currency string) string {
	return humanize.CommafWithDigits(v, 2) + " " + currency
}

// renderListings prints the listing catalog as a table.
func renderListings(w io.Writer, listings []app.ListingInfo) {
	p := newPalette(w)
	if len(listings) == 0 {
		_, _ = fmt.Fprintln(w, p.faint.Render("no listings"))
		return
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "OWNER", "PRICE", "FLOOR", "TITLE")
	for _, l := range listings {
		floor := "-"
		if l.MinPrice > 0 {
			floor = formatAmount(l.MinPrice, l.Currency)
		}
		t.Row(l.ID, l.OwnerID, formatAmount(l.BasePrice, l.Currency), floor, l.Title)
	}
	_, _ = fmt.Fprintln(w, t.Render())
}
