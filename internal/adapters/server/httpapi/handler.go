// Package httpapi provides the REST HTTP adapter for the server surfaces.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/adapters/server/common"
	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/app"
	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/domain"
)

// maxRequestBodyBytes limits decoded JSON payload size for fail-closed request handling.
const maxRequestBodyBytes int64 = 1 << 20

// Handler serves the versioned API subrouter mounted under `/api/v1`.
type Handler struct {
	service  common.NegotiationService
	identity *common.Identifier
	mux      *http.ServeMux
}

// APIError represents one structured API failure response.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Hint    string         `json:"hint,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// ErrorEnvelope wraps one structured API error.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// NewHandler constructs the REST adapter.
func NewHandler(service common.NegotiationService, identity *common.Identifier) *Handler {
	if identity == nil {
		identity = common.NewIdentifier(common.IdentityConfig{})
	}
	h := &Handler{service: service, identity: identity, mux: http.NewServeMux()}
	h.routes()
	return h
}

func (h *Handler) routes() {
	h.mux.HandleFunc("POST /negotiations", h.handleCreate)
	h.mux.HandleFunc("GET /negotiations", h.handleList)
	h.mux.HandleFunc("GET /negotiations/{id}", h.handleGet)
	h.mux.HandleFunc("GET /negotiations/{id}/can_continue", h.handleCanContinue)
	h.mux.HandleFunc("GET /negotiations/{id}/events", h.handleListEvents)
	h.mux.HandleFunc("POST /negotiations/{id}/events", h.handleAppendEvent)
	h.mux.HandleFunc("PATCH /negotiations/{id}/events/{seq}", h.handleEditEvent)
	h.mux.HandleFunc("DELETE /negotiations/{id}/events/{seq}", h.handleDeleteEvent)
	h.mux.HandleFunc("POST /negotiations/{id}/events/{seq}/reactions", h.handleReact)
	h.mux.HandleFunc("POST /negotiations/{id}/read", h.handleMarkRead)
	h.mux.HandleFunc("POST /negotiations/{id}/accept", h.handleAccept)
	h.mux.HandleFunc("POST /negotiations/{id}/reject", h.handleReject)
	h.mux.HandleFunc("POST /negotiations/{id}/cancel", h.handleCancel)
	h.mux.HandleFunc("POST /negotiations/{id}/agent", h.handleAgent)
	h.mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusNotFound, APIError{
			Code:    app.KindNotFound,
			Message: "endpoint not found",
		})
	})
}

// ServeHTTP authenticates the caller and routes one versioned API request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeJSONError(w, http.StatusServiceUnavailable, APIError{
			Code:    app.KindInternal,
			Message: "negotiation service is not configured",
		})
		return
	}
	caller, err := h.identity.FromRequest(r)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	h.mux.ServeHTTP(w, r.WithContext(app.WithCaller(r.Context(), caller)))
}

type createNegotiationRequest struct {
	ListingID    string  `json:"listing_id"`
	ResponderID  string  `json:"responder_id"`
	InitialOffer float64 `json:"initial_offer"`
	Currency     string  `json:"currency"`
	MaxRounds    int     `json:"max_rounds"`
	ExpiresIn    string  `json:"expires_in"`
	Message      string  `json:"message"`
}

// handleCreate serves POST `/negotiations`. The caller becomes the requester.
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createNegotiationRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	var expiresIn time.Duration
	if s := strings.TrimSpace(req.ExpiresIn); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			writeErrorFrom(w, fmt.Errorf("%w: expires_in: %v", common.ErrInvalidRequest, err))
			return
		}
		expiresIn = d
	}
	n, err := h.service.CreateNegotiation(r.Context(), app.CreateNegotiationInput{
		ListingID:    req.ListingID,
		RequesterID:  actorFrom(r),
		ResponderID:  req.ResponderID,
		InitialOffer: req.InitialOffer,
		Currency:     req.Currency,
		MaxRounds:    req.MaxRounds,
		ExpiresIn:    expiresIn,
		Message:      req.Message,
	})
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

// handleList serves GET `/negotiations`. Results are limited to the caller's own negotiations.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	actor := actorFrom(r)
	if p := strings.TrimSpace(q.Get("participant_id")); p != "" && p != actor {
		writeErrorFrom(w, fmt.Errorf("%w: participant_id must be the caller", domain.ErrUnauthorized))
		return
	}
	limit, err := optionalInt(q.Get("limit"), "limit")
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	rows, err := h.service.ListNegotiations(r.Context(), app.NegotiationFilter{
		ParticipantID: actor,
		Status:        domain.Status(strings.TrimSpace(q.Get("status"))),
		ListingID:     q.Get("listing_id"),
		Limit:         limit,
	})
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"negotiations": common.SummarizeAll(rows),
	})
}

// handleGet serves GET `/negotiations/{id}`.
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.GetParticipantNegotiation(r.Context(), r.PathValue("id"), actorFrom(r))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// handleCanContinue serves GET `/negotiations/{id}/can_continue`.
func (h *Handler) handleCanContinue(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.service.GetParticipantNegotiation(r.Context(), id, actorFrom(r)); err != nil {
		writeErrorFrom(w, err)
		return
	}
	ok, err := h.service.CanContinue(r.Context(), id)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"can_continue": ok})
}

// handleListEvents serves GET `/negotiations/{id}/events?since=`.
func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	since, err := optionalInt(r.URL.Query().Get("since"), "since")
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	events, err := h.service.ListEventsSince(r.Context(), r.PathValue("id"), actorFrom(r), since)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

type appendEventRequest struct {
	Kind     domain.EventKind `json:"kind"`
	Content  string           `json:"content"`
	Amount   *float64         `json:"amount"`
	Currency string           `json:"currency"`
}

// handleAppendEvent serves POST `/negotiations/{id}/events`.
func (h *Handler) handleAppendEvent(w http.ResponseWriter, r *http.Request) {
	var req appendEventRequest
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	n, ev, err := h.service.AppendEvent(r.Context(), app.AppendEventInput{
		NegotiationID: r.PathValue("id"),
		ActorID:       actorFrom(r),
		Kind:          req.Kind,
		Content:       req.Content,
		Amount:        req.Amount,
		Currency:      req.Currency,
	})
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"negotiation": n,
		"event":       ev,
	})
}

// handleEditEvent serves PATCH `/negotiations/{id}/events/{seq}`.
func (h *Handler) handleEditEvent(w http.ResponseWriter, r *http.Request) {
	seq, err := pathSeq(r)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	n, err := h.service.EditEvent(r.Context(), r.PathValue("id"), actorFrom(r), seq, req.Content)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// handleDeleteEvent serves DELETE `/negotiations/{id}/events/{seq}` as a soft delete.
func (h *Handler) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	seq, err := pathSeq(r)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	n, err := h.service.SoftDeleteEvent(r.Context(), r.PathValue("id"), actorFrom(r), seq)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// handleReact serves POST `/negotiations/{id}/events/{seq}/reactions`.
func (h *Handler) handleReact(w http.ResponseWriter, r *http.Request) {
	seq, err := pathSeq(r)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	var req struct {
		Symbol string `json:"symbol"`
	}
	if err := decodeJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	added, err := h.service.React(r.Context(), r.PathValue("id"), actorFrom(r), seq, req.Symbol)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"added": added})
}

// handleMarkRead serves POST `/negotiations/{id}/read`. An empty body marks everything read.
func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UpToSeq int `json:"up_to_seq"`
	}
	if err := decodeOptionalJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	marked, err := h.service.MarkRead(r.Context(), r.PathValue("id"), actorFrom(r), req.UpToSeq)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"marked": marked})
}

// handleAccept serves POST `/negotiations/{id}/accept`.
func (h *Handler) handleAccept(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.AcceptOffer(r.Context(), r.PathValue("id"), actorFrom(r))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// handleReject serves POST `/negotiations/{id}/reject`.
func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeOptionalJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	n, err := h.service.RejectOffer(r.Context(), r.PathValue("id"), actorFrom(r), req.Reason)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// handleCancel serves POST `/negotiations/{id}/cancel`.
func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeOptionalJSONBody(r.Context(), w, r, &req); err != nil {
		writeErrorFrom(w, err)
		return
	}
	n, err := h.service.Cancel(r.Context(), r.PathValue("id"), actorFrom(r), req.Reason)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// handleAgent serves POST `/negotiations/{id}/agent`.
func (h *Handler) handleAgent(w http.ResponseWriter, r *http.Request) {
	n, events, err := h.service.RequestAgentReply(r.Context(), r.PathValue("id"), actorFrom(r))
	if err != nil {
		writeErrorFrom(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"negotiation": n,
		"events":      events,
	})
}

// actorFrom returns the caller attached by ServeHTTP.
func actorFrom(r *http.Request) string {
	caller, _ := app.CallerFromContext(r.Context())
	return caller.ActorID
}

// pathSeq parses the `{seq}` path value.
func pathSeq(r *http.Request) (int, error) {
	seq, err := strconv.Atoi(strings.TrimSpace(r.PathValue("seq")))
	if err != nil || seq <= 0 {
		return 0, fmt.Errorf("%w: seq must be a positive integer", common.ErrInvalidRequest)
	}
	return seq, nil
}

// optionalInt parses a non-negative query integer, treating blank as zero.
func optionalInt(raw, name string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", common.ErrInvalidRequest, name)
	}
	return v, nil
}

// statusFor maps an error kind onto an HTTP status.
func statusFor(err error) int {
	if common.IsUnauthenticated(err) {
		return http.StatusUnauthorized
	}
	switch common.ErrorCode(err) {
	case app.KindValidation:
		return http.StatusBadRequest
	case app.KindUnauthorized:
		return http.StatusForbidden
	case app.KindNotFound:
		return http.StatusNotFound
	case app.KindNegotiationClosed, app.KindRoundLimitExceeded, app.KindInvalidTransition,
		app.KindConcurrencyConflict, app.KindDuplicateNegotiation:
		return http.StatusConflict
	case app.KindAgentTimeout:
		return http.StatusGatewayTimeout
	case app.KindAgentUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// hintFor returns optional remediation text for an error kind.
func hintFor(code string) string {
	switch code {
	case app.KindConcurrencyConflict:
		return "Reload the negotiation and retry."
	case app.KindRoundLimitExceeded:
		return "Accept, reject or cancel; no further offers are allowed."
	case app.KindNegotiationClosed:
		return "The negotiation is terminal or past its deadline."
	default:
		return ""
	}
}

// writeErrorFrom maps service errors into structured HTTP responses.
func writeErrorFrom(w http.ResponseWriter, err error) {
	if err == nil {
		writeJSONError(w, http.StatusInternalServerError, APIError{
			Code:    app.KindInternal,
			Message: "unknown error",
		})
		return
	}
	code := common.ErrorCode(err)
	msg := err.Error()
	if code == app.KindInternal {
		msg = "internal error"
	}
	writeJSONError(w, statusFor(err), APIError{
		Code:    code,
		Message: msg,
		Hint:    hintFor(code),
	})
}

// writeJSONError writes one structured error envelope.
func writeJSONError(w http.ResponseWriter, statusCode int, apiErr APIError) {
	writeJSON(w, statusCode, ErrorEnvelope{Error: apiErr})
}

// writeJSON writes one JSON response envelope.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":{"code":"encode_error","message":"%s"}}`, err.Error()), http.StatusInternalServerError)
	}
}

// decodeJSONBody decodes one required JSON request body with strict shape checks.
func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode request body: %w", errors.Join(common.ErrInvalidRequest, err))
	}
	// Reject trailing payloads so malformed JSON bodies fail closed.
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode request body: trailing content: %w", common.ErrInvalidRequest)
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("request canceled: %w", ctx.Err())
	default:
		return nil
	}
}

// decodeOptionalJSONBody decodes one optional JSON body and ignores empty payloads.
func decodeOptionalJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, out any) error {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer reader.Close()

	decoder := json.NewDecoder(reader)
	decoder.DisallowUnknownFields()
	err := decoder.Decode(out)
	if err == nil {
		select {
		case <-ctx.Done():
			return fmt.Errorf("request canceled: %w", ctx.Err())
		default:
			return nil
		}
	}
	if errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("decode request body: %w", errors.Join(common.ErrInvalidRequest, err))
}
