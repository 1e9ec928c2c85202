package app

import (
	"context"
	"strings"
)

// Caller carries the authenticated identity established by a transport.
type Caller struct {
	ActorID string
	// Source names how the identity was established, such as "jwt" or "header".
	Source string
}

// WithCaller attaches a normalized caller identity to context.
func WithCaller(ctx context.Context, caller Caller) context.Context {
	caller = normalizeCaller(caller)
	return context.WithValue(ctx, callerContextKey{}, caller)
}

// CallerFromContext returns the caller identity when present.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	raw := ctx.Value(callerContextKey{})
	caller, ok := raw.(Caller)
	if !ok {
		return Caller{}, false
	}
	caller = normalizeCaller(caller)
	if caller.ActorID == "" {
		return Caller{}, false
	}
	return caller, true
}

// callerContextKey stores context keys for caller identity values.
type callerContextKey struct{}

// normalizeCaller trims and canonicalizes caller fields.
func normalizeCaller(caller Caller) Caller {
	caller.ActorID = strings.TrimSpace(caller.ActorID)
	caller.Source = strings.ToLower(strings.TrimSpace(caller.Source))
	return caller
}
