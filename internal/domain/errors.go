package domain

import (
	"errors"
	"fmt"
)

// ErrValidation is the parent of every malformed-input failure.
var ErrValidation = errors.New("validation error")

// ErrInvalidID and related errors describe malformed input. Each wraps ErrValidation.
var (
	ErrInvalidID         = fmt.Errorf("%w: invalid id", ErrValidation)
	ErrInvalidAmount     = fmt.Errorf("%w: invalid amount", ErrValidation)
	ErrInvalidCurrency   = fmt.Errorf("%w: invalid currency", ErrValidation)
	ErrCurrencyMismatch  = fmt.Errorf("%w: currency mismatch", ErrValidation)
	ErrInvalidMaxRounds  = fmt.Errorf("%w: invalid max rounds", ErrValidation)
	ErrInvalidExpiry     = fmt.Errorf("%w: invalid expiry", ErrValidation)
	ErrEmptyContent      = fmt.Errorf("%w: content is required", ErrValidation)
	ErrContentTooLong    = fmt.Errorf("%w: content too long", ErrValidation)
	ErrInvalidEventKind  = fmt.Errorf("%w: invalid event kind", ErrValidation)
	ErrInvalidReaction   = fmt.Errorf("%w: invalid reaction", ErrValidation)
	ErrSameParticipant   = fmt.Errorf("%w: requester and responder must differ", ErrValidation)
	ErrEventNotEditable  = fmt.Errorf("%w: event cannot be changed", ErrValidation)
	ErrOfferOutOfBounds  = fmt.Errorf("%w: offer outside listing bounds", ErrValidation)
	ErrInvalidSenderRole = fmt.Errorf("%w: sender cannot post this event kind", ErrValidation)
)

// ErrUnauthorized and related errors describe state and permission failures.
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrNegotiationClosed  = errors.New("negotiation closed")
	ErrRoundLimitExceeded = errors.New("round limit exceeded")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrEventNotFound      = errors.New("event not found")
)

// ErrInvariantViolation reports an aggregate whose derived state disagrees with its ledger.
var ErrInvariantViolation = errors.New("invariant violation")
