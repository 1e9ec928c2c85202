package common

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/app"
	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/domain"
)

// ActorHeader carries an unauthenticated actor id when header identity is allowed.
const ActorHeader = "X-Actor-ID"

// IdentityConfig controls how transports establish the calling actor.
type IdentityConfig struct {
	JWTSecret           string
	Issuer              string
	Audience            string
	AllowHeaderIdentity bool
}

// Identifier resolves actors from bearer tokens, headers or tool arguments.
type Identifier struct {
	cfg IdentityConfig
}

// NewIdentifier constructs an Identifier.
func NewIdentifier(cfg IdentityConfig) *Identifier {
	cfg.JWTSecret = strings.TrimSpace(cfg.JWTSecret)
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.Audience = strings.TrimSpace(cfg.Audience)
	return &Identifier{cfg: cfg}
}

// FromRequest establishes the caller of r. A bearer token always wins over the header.
func (i *Identifier) FromRequest(r *http.Request) (app.Caller, error) {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		token, err := bearerToken(header)
		if err != nil {
			return app.Caller{}, err
		}
		sub, err := i.VerifyToken(token)
		if err != nil {
			return app.Caller{}, err
		}
		return app.Caller{ActorID: sub, Source: "jwt"}, nil
	}
	if i.cfg.AllowHeaderIdentity {
		if id := strings.TrimSpace(r.Header.Get(ActorHeader)); id != "" {
			return app.Caller{ActorID: id, Source: "header"}, nil
		}
	}
	return app.Caller{}, ErrUnauthenticated
}

// VerifyToken validates an HMAC-signed JWT and returns its subject.
func (i *Identifier) VerifyToken(token string) (string, error) {
	if i.cfg.JWTSecret == "" {
		return "", fmt.Errorf("%w: bearer tokens are not enabled", ErrUnauthenticated)
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if i.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.cfg.Issuer))
	}
	if i.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(i.cfg.Audience))
	}
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(i.cfg.JWTSecret), nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}
	sub, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return strings.TrimSpace(sub), nil
}

// WithRequestCaller attaches the request identity to ctx when one can be established.
func (i *Identifier) WithRequestCaller(ctx context.Context, r *http.Request) context.Context {
	caller, err := i.FromRequest(r)
	if err != nil {
		return ctx
	}
	return app.WithCaller(ctx, caller)
}

// Resolve picks the actor for one call. An authenticated caller in ctx wins; an explicit
// actor id is only trusted when header identity is allowed, and may not contradict the caller.
func (i *Identifier) Resolve(ctx context.Context, explicit string) (string, error) {
	explicit = strings.TrimSpace(explicit)
	if caller, ok := app.CallerFromContext(ctx); ok {
		if explicit != "" && explicit != caller.ActorID {
			return "", fmt.Errorf("%w: actor_id does not match the authenticated caller", domain.ErrUnauthorized)
		}
		return caller.ActorID, nil
	}
	if i.cfg.AllowHeaderIdentity && explicit != "" {
		return explicit, nil
	}
	return "", ErrUnauthenticated
}

func bearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("%w: invalid authorization header", ErrUnauthenticated)
	}
	return strings.TrimSpace(token), nil
}
