package app

import (
	"errors"

	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/domain"
)

// ErrNotFound and related errors describe service and collaborator failures.
var (
	ErrNotFound             = errors.New("not found")
	ErrConcurrencyConflict  = errors.New("concurrency conflict")
	ErrAgentTimeout         = errors.New("agent timeout")
	ErrAgentUnavailable     = errors.New("agent unavailable")
	ErrTransient            = errors.New("transient storage failure")
	ErrInternal             = errors.New("internal error")
	ErrDuplicateNegotiation = errors.New("active negotiation already exists")
)

// Error kind names reported to callers.
const (
	KindValidation           = "ValidationError"
	KindUnauthorized         = "Unauthorized"
	KindNegotiationClosed    = "NegotiationClosed"
	KindRoundLimitExceeded   = "RoundLimitExceeded"
	KindInvalidTransition    = "InvalidTransition"
	KindAgentTimeout         = "AgentTimeout"
	KindAgentUnavailable     = "AgentUnavailable"
	KindConcurrencyConflict  = "ConcurrencyConflict"
	KindNotFound             = "NotFound"
	KindDuplicateNegotiation = "DuplicateNegotiation"
	KindInternal             = "InternalError"
)

// ErrorKind maps an error onto the caller-facing taxonomy. It returns "" for nil.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrValidation):
		return KindValidation
	case errors.Is(err, domain.ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, domain.ErrNegotiationClosed):
		return KindNegotiationClosed
	case errors.Is(err, domain.ErrRoundLimitExceeded):
		return KindRoundLimitExceeded
	case errors.Is(err, domain.ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrAgentTimeout):
		return KindAgentTimeout
	case errors.Is(err, ErrAgentUnavailable):
		return KindAgentUnavailable
	case errors.Is(err, ErrConcurrencyConflict):
		return KindConcurrencyConflict
	case errors.Is(err, ErrNotFound), errors.Is(err, domain.ErrEventNotFound):
		return KindNotFound
	case errors.Is(err, ErrDuplicateNegotiation):
		return KindDuplicateNegotiation
	default:
		return KindInternal
	}
}
