package mcpapi

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/adapters/server/common"
	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/app"
	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/domain"
)

// tools binds the negotiation service to MCP tool handlers.
type tools struct {
	service  common.NegotiationService
	identity *common.Identifier
}

func actorArg() mcp.ToolOption {
	return mcp.WithString("actor_id", mcp.Description("Acting participant; must match the authenticated caller when one is present"))
}

func negotiationArg() mcp.ToolOption {
	return mcp.WithString("negotiation_id", mcp.Required(), mcp.Description("Negotiation identifier"))
}

// target resolves the actor and negotiation id shared by most tools.
func (t *tools) target(ctx context.Context, req mcp.CallToolRequest) (string, string, *mcp.CallToolResult) {
	actor, err := t.identity.Resolve(ctx, req.GetString("actor_id", ""))
	if err != nil {
		return "", "", toolResultFromError(err)
	}
	id, err := req.RequireString("negotiation_id")
	if err != nil {
		return "", "", invalidRequestToolResult(err)
	}
	return actor, id, nil
}

// registerReadTools registers list/get/events tools.
func (t *tools) registerReadTools(srv *mcpserver.MCPServer) {
	srv.AddTool(
		mcp.NewTool(
			"haggle.list_negotiations",
			mcp.WithDescription("List the caller's negotiations, newest activity first."),
			actorArg(),
			mcp.WithString("status", mcp.Description("Filter by status"), mcp.Enum(
				string(domain.StatusInitiated), string(domain.StatusInProgress), string(domain.StatusCompleted),
				string(domain.StatusRejected), string(domain.StatusCancelled), string(domain.StatusExpired),
			)),
			mcp.WithString("listing_id", mcp.Description("Filter by listing")),
			mcp.WithNumber("limit", mcp.Description("Maximum rows to return")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			actor, err := t.identity.Resolve(ctx, req.GetString("actor_id", ""))
			if err != nil {
				return toolResultFromError(err), nil
			}
			rows, err := t.service.ListNegotiations(ctx, app.NegotiationFilter{
				ParticipantID: actor,
				Status:        domain.Status(req.GetString("status", "")),
				ListingID:     req.GetString("listing_id", ""),
				Limit:         req.GetInt("limit", 0),
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("list_negotiations", map[string]any{"negotiations": common.SummarizeAll(rows)})
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"haggle.get_negotiation",
			mcp.WithDescription("Return one negotiation with its ledger, timeline and analytics."),
			negotiationArg(),
			actorArg(),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			actor, id, failed := t.target(ctx, req)
			if failed != nil {
				return failed, nil
			}
			n, err := t.service.GetParticipantNegotiation(ctx, id, actor)
			if err != nil {
				return toolResultFromError(err), nil
			}
			ok, err := t.service.CanContinue(ctx, id)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("get_negotiation", map[string]any{"negotiation": n, "can_continue": ok})
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"haggle.list_events",
			mcp.WithDescription("List ledger events after a sequence cursor."),
			negotiationArg(),
			actorArg(),
			mcp.WithNumber("since", mcp.Description("Return events with seq greater than this cursor")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			actor, id, failed := t.target(ctx, req)
			if failed != nil {
				return failed, nil
			}
			events, err := t.service.ListEventsSince(ctx, id, actor, req.GetInt("since", 0))
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("list_events", map[string]any{"events": events})
		},
	)
}

// registerLedgerTools registers create/post/offer tools.
func (t *tools) registerLedgerTools(srv *mcpserver.MCPServer) {
	srv.AddTool(
		mcp.NewTool(
			"haggle.create_negotiation",
			mcp.WithDescription("Open a negotiation on a listing as the requester."),
			mcp.WithString("listing_id", mcp.Required(), mcp.Description("Listing identifier")),
			mcp.WithNumber("initial_offer", mcp.Required(), mcp.Description("Opening offer amount")),
			actorArg(),
			mcp.WithString("currency", mcp.Description("ISO currency code")),
			mcp.WithNumber("max_rounds", mcp.Description("Offer round limit (1-20)")),
			mcp.WithString("expires_in", mcp.Description("Deadline as a Go duration, e.g. 72h")),
			mcp.WithString("message", mcp.Description("Optional opening message")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args struct {
				ListingID    string  `json:"listing_id"`
				InitialOffer float64 `json:"initial_offer"`
				ActorID      string  `json:"actor_id"`
				Currency     string  `json:"currency"`
				MaxRounds    int     `json:"max_rounds"`
				ExpiresIn    string  `json:"expires_in"`
				Message      string  `json:"message"`
			}
			if err := req.BindArguments(&args); err != nil {
				return invalidRequestToolResult(err), nil
			}
			actor, err := t.identity.Resolve(ctx, args.ActorID)
			if err != nil {
				return toolResultFromError(err), nil
			}
			var expiresIn time.Duration
			if args.ExpiresIn != "" {
				if expiresIn, err = time.ParseDuration(args.ExpiresIn); err != nil {
					return invalidRequestToolResult(err), nil
				}
			}
			n, err := t.service.CreateNegotiation(ctx, app.CreateNegotiationInput{
				ListingID:    args.ListingID,
				RequesterID:  actor,
				InitialOffer: args.InitialOffer,
				Currency:     args.Currency,
				MaxRounds:    args.MaxRounds,
				ExpiresIn:    expiresIn,
				Message:      args.Message,
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("create_negotiation", n)
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"haggle.post_message",
			mcp.WithDescription("Append a text message to the negotiation ledger."),
			negotiationArg(),
			mcp.WithString("content", mcp.Required(), mcp.Description("Message text (max 1000 characters)")),
			actorArg(),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			actor, id, failed := t.target(ctx, req)
			if failed != nil {
				return failed, nil
			}
			content, err := req.RequireString("content")
			if err != nil {
				return invalidRequestToolResult(err), nil
			}
			n, ev, err := t.service.AppendEvent(ctx, app.AppendEventInput{
				NegotiationID: id,
				ActorID:       actor,
				Kind:          domain.EventKindText,
				Content:       content,
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("post_message", map[string]any{"event": ev, "negotiation": common.Summarize(n)})
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"haggle.submit_offer",
			mcp.WithDescription("Append an offer or counter-offer; each one consumes a round."),
			negotiationArg(),
			mcp.WithNumber("amount", mcp.Required(), mcp.Description("Offered amount")),
			actorArg(),
			mcp.WithString("kind", mcp.Description("offer or counter_offer"), mcp.Enum(string(domain.EventKindOffer), string(domain.EventKindCounterOffer))),
			mcp.WithString("content", mcp.Description("Optional note")),
			mcp.WithString("currency", mcp.Description("Must match the negotiation currency")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			actor, id, failed := t.target(ctx, req)
			if failed != nil {
				return failed, nil
			}
			amount, err := req.RequireFloat("amount")
			if err != nil {
				return invalidRequestToolResult(err), nil
			}
			n, ev, err := t.service.AppendEvent(ctx, app.AppendEventInput{
				NegotiationID: id,
				ActorID:       actor,
				Kind:          domain.EventKind(req.GetString("kind", string(domain.EventKindCounterOffer))),
				Content:       req.GetString("content", ""),
				Amount:        &amount,
				Currency:      req.GetString("currency", ""),
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("submit_offer", map[string]any{"event": ev, "negotiation": common.Summarize(n)})
		},
	)
}

// registerTransitionTools registers accept/reject/cancel/agent tools.
func (t *tools) registerTransitionTools(srv *mcpserver.MCPServer) {
	srv.AddTool(
		mcp.NewTool(
			"haggle.accept_offer",
			mcp.WithDescription("Accept the current offer and complete the negotiation."),
			negotiationArg(),
			actorArg(),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			actor, id, failed := t.target(ctx, req)
			if failed != nil {
				return failed, nil
			}
			n, err := t.service.AcceptOffer(ctx, id, actor)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("accept_offer", common.Summarize(n))
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"haggle.reject_offer",
			mcp.WithDescription("Reject the negotiation."),
			negotiationArg(),
			actorArg(),
			mcp.WithString("reason", mcp.Description("Optional reason")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			actor, id, failed := t.target(ctx, req)
			if failed != nil {
				return failed, nil
			}
			n, err := t.service.RejectOffer(ctx, id, actor, req.GetString("reason", ""))
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("reject_offer", common.Summarize(n))
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"haggle.cancel_negotiation",
			mcp.WithDescription("Cancel an open negotiation."),
			negotiationArg(),
			actorArg(),
			mcp.WithString("reason", mcp.Description("Optional reason")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			actor, id, failed := t.target(ctx, req)
			if failed != nil {
				return failed, nil
			}
			n, err := t.service.Cancel(ctx, id, actor, req.GetString("reason", ""))
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("cancel_negotiation", common.Summarize(n))
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"haggle.request_agent_reply",
			mcp.WithDescription("Ask the counter-offer agent for the responder's next move."),
			negotiationArg(),
			actorArg(),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			actor, id, failed := t.target(ctx, req)
			if failed != nil {
				return failed, nil
			}
			n, events, err := t.service.RequestAgentReply(ctx, id, actor)
			if err != nil {
				return toolResultFromError(err), nil
			}
			return jsonResult("request_agent_reply", map[string]any{"events": events, "negotiation": common.Summarize(n)})
		},
	)
}
