// Package http exposes the access core over REST. Every request gets its own
// session built from the bearer token, if any.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/gatekeep/internal/access/service"
	"github.com/aussiebroadwan/gatekeep/pkg/httpx"
	"github.com/aussiebroadwan/gatekeep/pkg/slogx"
)

// IdentityVerifier authenticates bearer tokens and reports whether it has
// keys to do so.
type IdentityVerifier interface {
	httpx.Authenticator
	Ready() bool
}

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	identity     IdentityVerifier
	store        Pinger
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	Sessions        *SessionFactory
	UsageTracker    *service.UsageTracker
	AuditLog        *service.AuditLog
	AdminService    *service.AdminService
	PurchaseService *service.PurchaseService
	Clock           service.Clock
}

func NewRouter(
	identity IdentityVerifier,
	st Pinger,
	buildVersion string,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		identity:     identity,
		store:        st,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerSystem()
	r.registerSession()
	r.registerUsage()
	r.registerPurchases()
	r.registerAudit()
	r.registerAdmin()
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerSystem() {
	// Health probes - monitoring systems may poll frequently
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.identity),
			httpx.RateLimitByIP(httpx.PublicLimit),
		),
	)
}

func (r *Router) registerSession() {
	h := &SessionHandler{Sessions: r.Sessions, Usage: r.UsageTracker}

	// POST /v1/session/guest - anonymous probe, limited by IP
	r.Mux.Handle("POST /v1/session/guest",
		httpx.Chain(http.HandlerFunc(h.HandleGuest),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)

	// GET /v1/session - token optional
	r.Mux.Handle("GET /v1/session",
		httpx.Chain(http.HandlerFunc(h.HandleGet),
			httpx.OptionalAuthnMiddleware(r.identity),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
}

func (r *Router) registerUsage() {
	h := &UsageHandler{Sessions: r.Sessions, Usage: r.UsageTracker}

	// Guests may probe their (empty) quota, so authentication is optional.
	// Signed in callers are limited per identity, guests per IP.
	optional := func(next http.Handler) http.Handler {
		return httpx.Chain(next,
			httpx.OptionalAuthnMiddleware(r.identity),
			httpx.RateLimitMiddleware(httpx.LenientLimit,
				httpx.CompositeKeyExtractor(":", httpx.IPKeyExtractor, httpx.IdentityKeyExtractor),
			),
		)
	}

	r.Mux.Handle("GET /v1/usage", optional(http.HandlerFunc(h.HandleGet)))
	r.Mux.Handle("GET /v1/usage/can-arrange", optional(http.HandlerFunc(h.HandleCanArrange)))
	r.Mux.Handle("POST /v1/arrangements", optional(http.HandlerFunc(h.HandleRecord)))
}

func (r *Router) registerPurchases() {
	h := &PurchaseHandler{Sessions: r.Sessions, Purchases: r.PurchaseService}

	// POST /v1/purchases - strict rate limit by identity (payment gateway)
	r.Mux.Handle("POST /v1/purchases",
		httpx.Chain(h,
			httpx.AuthnMiddleware(r.identity),
			httpx.RateLimitByIdentity(httpx.StrictLimit),
		),
	)
}

func (r *Router) registerAudit() {
	h := &AuditHandler{Sessions: r.Sessions, Audit: r.AuditLog, Clock: r.Clock}

	// Anonymous callers reach the handlers so their refusal is audited.
	list := httpx.Chain(http.HandlerFunc(h.HandleList),
		httpx.OptionalAuthnMiddleware(r.identity),
		httpx.RateLimitByIdentity(httpx.ModerateLimit),
	)
	export := httpx.Chain(http.HandlerFunc(h.HandleExport),
		httpx.OptionalAuthnMiddleware(r.identity),
		httpx.RateLimitByIdentity(httpx.ModerateLimit),
	)

	r.Mux.Handle("GET /v1/audit", list)
	r.Mux.Handle("GET /v1/audit/export", export)
}

func (r *Router) registerAdmin() {
	h := &AdminHandler{Sessions: r.Sessions, Admin: r.AdminService}

	secured := func(fn http.HandlerFunc) http.Handler {
		return httpx.Chain(fn,
			httpx.AuthnMiddleware(r.identity),
			httpx.RateLimitByIdentity(httpx.ModerateLimit),
		)
	}

	r.Mux.Handle("GET /v1/admin/users", secured(h.HandleList))
	r.Mux.Handle("POST /v1/admin/users", secured(h.HandleCreate))
	r.Mux.Handle("PUT /v1/admin/users/{identity}/role", secured(h.HandleChangeRole))
	r.Mux.Handle("PUT /v1/admin/users/{identity}/disabled", secured(h.HandleSetDisabled))
	r.Mux.Handle("DELETE /v1/admin/users/{identity}", secured(h.HandleDelete))
}
