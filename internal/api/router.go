package api

import (
	"net/http"
	"time"

	"github.com/alecgard/boxauth/internal/authz"
	"github.com/alecgard/boxauth/internal/metrics"
	"github.com/alecgard/boxauth/internal/ratelimit"
	"github.com/alecgard/boxauth/internal/token"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterDeps holds all dependencies for the API router.
type RouterDeps struct {
	Users   UserStore
	Gyms    GymStore
	Tokens  *token.Service
	Engine  *authz.Engine
	Limiter ratelimit.Limiter
	Lockout *ratelimit.Lockout
	Metrics *metrics.Metrics

	InternalToken    string
	GymCreationToken string

	RateLimitDefault int
	RateLimitWindow  time.Duration
	AllowedOrigins   []string
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(secureHeaders)
	r.Use(corsMiddleware(deps.AllowedOrigins))
	r.Use(slogRequestLogger(deps.Metrics))

	// Handlers.
	auth := newAuthHandler(deps.Users, deps.Tokens, deps.Lockout, deps.Metrics)
	users := newUserHandler(deps.Users, deps.Tokens, deps.Metrics)
	gyms := newGymHandler(deps.Gyms, deps.Engine, deps.GymCreationToken)
	members := newMemberHandler(deps.Gyms, deps.Engine)
	decisions := newAuthzHandler(deps.Engine)

	rateLimited := func(op string, limit int) func(http.Handler) http.Handler {
		return ratelimit.Middleware(deps.Limiter, op, limit, deps.RateLimitWindow, func() {
			deps.Metrics.IncRateLimitRejection(op)
		})
	}

	// Health check.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Metrics.
	r.Get("/metrics", promhttp.HandlerFor(deps.Metrics.Registry(), promhttp.HandlerOpts{}).ServeHTTP)
	r.Get("/metrics/summary", deps.Metrics.SummaryHandler())

	// Public surface: token lifecycle. Spoofable trust headers are stripped
	// before anything reads them, and credential endpoints carry tighter
	// per-IP limits than the rest of the API.
	r.Route("/api/v1/auth", func(ar chi.Router) {
		ar.Use(stripTrustHeaders)

		ar.With(rateLimited("register", deps.RateLimitDefault/2)).
			Post("/register", auth.Register)
		ar.With(rateLimited("login", deps.RateLimitDefault/2)).
			Post("/login", auth.Login)
		ar.With(rateLimited("refresh", deps.RateLimitDefault)).
			Post("/refresh", auth.Refresh)
		ar.Post("/logout", auth.Logout)

		// Authenticated members of the auth group.
		ar.Group(func(pr chi.Router) {
			pr.Use(edgeAuthMiddleware(deps.Tokens, deps.InternalToken))
			pr.Get("/me", auth.Me)
			pr.With(adminOnly).Post("/impersonate", auth.Impersonate)
		})
	})

	// Authenticated API surface.
	r.Route("/api/v1", func(ar chi.Router) {
		ar.Use(stripTrustHeaders)
		ar.Use(edgeAuthMiddleware(deps.Tokens, deps.InternalToken))
		ar.Use(rateLimited("api", deps.RateLimitDefault))

		ar.Patch("/users/me", users.UpdateProfile)
		ar.Put("/users/me/password", users.UpdatePassword)
		ar.With(adminOnly).Put("/users/{userID}/status", users.SetStatus)

		ar.Post("/gyms", gyms.Create)
		ar.Post("/gyms/join", gyms.Join)
		ar.Get("/gyms/{gymID}", gyms.Get)
		ar.Patch("/gyms/{gymID}/settings", gyms.UpdateSettings)
		ar.With(adminOnly).Put("/gyms/{gymID}/status", gyms.SetStatus)

		ar.Get("/gyms/{gymID}/members", members.List)
		ar.Patch("/gyms/{gymID}/members/{userID}", members.Update)
	})

	// Internal surface: trusts forwarded identity headers behind the
	// shared service token. Never exposed at the public edge.
	r.Route("/internal/v1", func(ir chi.Router) {
		ir.Use(internalTrustMiddleware(deps.InternalToken))

		ir.Post("/authz/decision", decisions.Decide)
	})

	return r
}

// adminOnly rejects callers without the platform admin role. Runs after
// edgeAuthMiddleware, so the identity is already verified.
func adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid_token", "not authenticated")
			return
		}
		if !id.IsAdmin() {
			writeError(w, http.StatusForbidden, "forbidden", "platform admin required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
