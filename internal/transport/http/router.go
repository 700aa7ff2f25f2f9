// Package httptransport is the thin HTTP layer over the auth service. It
// decodes requests, applies the auth and throttling middleware, and renders
// results; all decisions live in the services.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"portal/internal/auth/authz"
	"portal/internal/platform/metrics"
	rlModels "portal/internal/ratelimit/models"
	"portal/pkg/platform/httputil"
	"portal/pkg/platform/middleware/admin"
	authmw "portal/pkg/platform/middleware/auth"
	"portal/pkg/platform/middleware/metadata"
	"portal/pkg/platform/middleware/request"
	"portal/pkg/platform/middleware/requesttime"
)

const requestTimeout = 30 * time.Second

// Throttler guards the unauthenticated endpoints of one class.
type Throttler interface {
	RateLimit(class rlModels.EndpointClass) func(http.Handler) http.Handler
}

// HealthCheck reports whether a backing dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Deps are the collaborators NewRouter wires together. Throttler, Metrics,
// MetricsHandler and Health are optional.
type Deps struct {
	Auth           AuthService
	Admin          AdminService
	Authenticator  authmw.Authenticator
	Throttler      Throttler
	Metrics        *metrics.Metrics
	MetricsHandler http.Handler
	MetricsToken   string
	Health         map[string]HealthCheck
	TrustProxy     bool
	Logger         *slog.Logger
}

// NewRouter builds the full route table.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{auth: d.Auth, admin: d.Admin, logger: logger}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata(d.TrustProxy))
	var observer request.Observer
	if d.Metrics != nil {
		observer = d.Metrics
	}
	r.Use(request.AccessLog(logger, observer))
	r.Use(chimw.Timeout(requestTimeout))

	r.Get("/healthz", healthHandler(d.Health))
	if d.MetricsHandler != nil {
		r.With(admin.RequireAdminToken(d.MetricsToken, logger)).Handle("/metrics", d.MetricsHandler)
	}

	throttle := func(class rlModels.EndpointClass) func(http.Handler) http.Handler {
		if d.Throttler == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return d.Throttler.RateLimit(class)
	}
	authed := authmw.RequireAuth(d.Authenticator, logger)
	policy := func(endpoint string) func(http.Handler) http.Handler {
		return authmw.RequirePolicy(endpoint, logger)
	}

	r.Route("/api/auth", func(r chi.Router) {
		r.With(throttle(rlModels.ClassLogin)).Post("/register", h.handleRegister)
		r.With(throttle(rlModels.ClassLogin)).Post("/login", h.handleLogin)
		r.With(throttle(rlModels.ClassPasswordReset)).Post("/forgot-password", h.handleForgotPassword)
		r.With(throttle(rlModels.ClassPasswordReset)).Post("/reset-password", h.handleResetPassword)

		r.Group(func(r chi.Router) {
			r.Use(authed)
			r.With(policy(authz.EndpointChangePassword)).Put("/change-password", h.handleChangePassword)
			r.With(policy(authz.EndpointMe)).Get("/me", h.handleMe)
			r.With(policy(authz.EndpointListSessions)).Get("/sessions", h.handleListSessions)
			r.With(policy(authz.EndpointRevokeSession)).Delete("/sessions/{key}", h.handleRevokeSession)
			r.With(policy(authz.EndpointLogout)).Post("/logout", h.handleLogout)
			r.With(policy(authz.EndpointLogoutAll)).Post("/logout-all", h.handleLogoutAll)
		})
	})

	r.Route("/api/admin/users/{id}", func(r chi.Router) {
		r.Use(authed)
		r.With(policy(authz.EndpointSetUserStatus)).Patch("/status", h.handleSetStatus)
		r.With(policy(authz.EndpointSetUserRole)).Patch("/role", h.handleSetRole)
		r.With(policy(authz.EndpointDeleteUser)).Delete("/", h.handleDeleteUser)
		r.With(policy(authz.EndpointUserSessions)).Get("/sessions", h.handleUserSessions)
	})

	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		if len(checks) > 0 {
			resp.Checks = make(map[string]string, len(checks))
		}
		for name, check := range checks {
			if err := check(r.Context()); err != nil {
				resp.Checks[name] = "unavailable"
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
