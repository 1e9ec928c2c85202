// Package httpagent calls an external counter-offer agent over HTTP JSON.
package httpagent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/app"
	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/domain"
)

// maxReplyBytes caps how much of an agent response is read.
const maxReplyBytes = 1 << 20

// historyLimit bounds the number of ledger events sent with each request.
const historyLimit = 20

// ErrBadReply reports an agent response that could not be interpreted.
var ErrBadReply = errors.New("bad agent reply")

// Client implements app.Agent.
type Client struct {
	endpoint string
	http     *http.Client
}

// New constructs a client posting to endpoint. A nil httpClient uses http.DefaultClient;
// call deadlines come from the request context.
func New(endpoint string, httpClient *http.Client) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("agent endpoint is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{endpoint: endpoint, http: httpClient}, nil
}

type listingPayload struct {
	ID        string  `json:"id"`
	Title     string  `json:"title,omitempty"`
	BasePrice float64 `json:"base_price"`
	MinPrice  float64 `json:"min_price,omitempty"`
	Currency  string  `json:"currency"`
}

type negotiationPayload struct {
	ID           string        `json:"id"`
	Status       domain.Status `json:"status"`
	Rounds       int           `json:"rounds"`
	MaxRounds    int           `json:"max_rounds"`
	InitialOffer float64       `json:"initial_offer"`
	CurrentOffer *float64      `json:"current_offer,omitempty"`
	Currency     string        `json:"currency"`
}

type historyItem struct {
	Sender  domain.Role      `json:"sender"`
	Kind    domain.EventKind `json:"kind"`
	Content string           `json:"content,omitempty"`
	Amount  *float64         `json:"amount,omitempty"`
}

type requestPayload struct {
	Listing         listingPayload     `json:"listing"`
	Negotiation     negotiationPayload `json:"negotiation"`
	History         []historyItem      `json:"history"`
	LastUserMessage string             `json:"last_user_message"`
}

type replyPayload struct {
	Decision        string   `json:"decision"`
	CounterPrice    *float64 `json:"counter_price"`
	ResponseContent string   `json:"response_content"`
	Reasoning       string   `json:"reasoning,omitempty"`
}

// Propose posts the negotiation context and decodes the agent's decision.
func (c *Client) Propose(ctx context.Context, req app.AgentRequest) (app.AgentReply, error) {
	body, err := json.Marshal(buildRequest(req))
	if err != nil {
		return app.AgentReply{}, fmt.Errorf("encode agent request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return app.AgentReply{}, fmt.Errorf("build agent request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return app.AgentReply{}, fmt.Errorf("call agent: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return app.AgentReply{}, fmt.Errorf("read agent reply: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return app.AgentReply{}, fmt.Errorf("agent returned status %d", resp.StatusCode)
	}
	var out replyPayload
	if err := json.Unmarshal(raw, &out); err != nil {
		return app.AgentReply{}, fmt.Errorf("%w: %v", ErrBadReply, err)
	}
	decision, err := parseDecision(out.Decision)
	if err != nil {
		return app.AgentReply{}, err
	}
	reply := app.AgentReply{
		Decision: decision,
		Content:  strings.TrimSpace(out.ResponseContent),
	}
	if decision == app.AgentDecisionCounter {
		if out.CounterPrice == nil {
			return app.AgentReply{}, fmt.Errorf("%w: counter without counter_price", ErrBadReply)
		}
		reply.Amount = *out.CounterPrice
	}
	return reply, nil
}

// parseDecision accepts the upper-case vocabulary (ANSWER for a plain reply) and the
// lower-case engine names.
func parseDecision(raw string) (app.AgentDecision, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "accept":
		return app.AgentDecisionAccept, nil
	case "reject":
		return app.AgentDecisionReject, nil
	case "counter":
		return app.AgentDecisionCounter, nil
	case "answer", "reply":
		return app.AgentDecisionReply, nil
	default:
		return "", fmt.Errorf("%w: unknown decision %q", ErrBadReply, raw)
	}
}

func buildRequest(req app.AgentRequest) requestPayload {
	n := req.Negotiation
	events := n.Events
	if len(events) > historyLimit {
		events = events[len(events)-historyLimit:]
	}
	history := make([]historyItem, 0, len(events))
	for _, ev := range events {
		if ev.IsDeleted {
			continue
		}
		item := historyItem{Sender: ev.Sender, Kind: ev.Kind, Content: ev.Content}
		if ev.Offer != nil {
			amount := ev.Offer.Amount
			item.Amount = &amount
		}
		history = append(history, item)
	}
	return requestPayload{
		Listing: listingPayload{
			ID:        req.Listing.ID,
			Title:     req.Listing.Title,
			BasePrice: req.Listing.BasePrice,
			MinPrice:  req.Listing.MinPrice,
			Currency:  req.Listing.Currency,
		},
		Negotiation: negotiationPayload{
			ID:           n.ID,
			Status:       n.Status,
			Rounds:       n.Rounds,
			MaxRounds:    n.MaxRounds,
			InitialOffer: n.Pricing.InitialOffer,
			CurrentOffer: n.Pricing.CurrentOffer,
			Currency:     n.Pricing.Currency,
		},
		History:         history,
		LastUserMessage: req.LastUserMessage,
	}
}
