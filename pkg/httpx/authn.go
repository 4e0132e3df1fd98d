package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
)

// Principal is the authenticated caller as asserted by the identity provider.
type Principal struct {
	Identity    string
	DisplayName string
	Role        string // claimed role; may be empty
}

// Authenticator turns a bearer token into a Principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Principal, error)
}

// ErrNoPrincipal is returned by PrincipalFromContext for anonymous requests.
var ErrNoPrincipal = errors.New("httpx: no authenticated principal")

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal attached by AuthnMiddleware.
func PrincipalFromContext(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	if !ok || p.Identity == "" {
		return Principal{}, ErrNoPrincipal
	}
	return p, nil
}

// AuthnMiddleware requires a valid bearer token on every request.
func AuthnMiddleware(a Authenticator) Middleware {
	return authn(a, false)
}

// OptionalAuthnMiddleware authenticates the request when a bearer token is
// present and lets anonymous requests through untouched. A token that fails
// verification is still rejected.
func OptionalAuthnMiddleware(a Authenticator) Middleware {
	return authn(a, true)
}

func authn(a Authenticator, optional bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			header := r.Header.Get("Authorization")
			if header == "" && optional {
				next.ServeHTTP(w, r)
				return
			}
			if !strings.HasPrefix(header, "Bearer ") {
				writeBearerError(w, "missing bearer token")
				return
			}
			raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

			p, err := a.Authenticate(ctx, raw)
			if err != nil {
				writeBearerError(w, "token verification failed")
				log.Warn("bearer authentication failed", "err", err)
				return
			}

			ctx = WithPrincipal(ctx, p)
			ctx = slogx.WithContext(ctx, log.With("identity", p.Identity))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RFC 6750-compliant error response for bearer auth.
func writeBearerError(w http.ResponseWriter, desc string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="`+desc+`"`)
	WriteError(w, http.StatusUnauthorized, "invalid_token", desc)
}
