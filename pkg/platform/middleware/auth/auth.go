// Package auth adapts the authenticator and the endpoint policy table to
// HTTP middleware.
package auth

import (
	"context"
	"log/slog"
	"net/http"

	"portal/internal/auth/authn"
	"portal/internal/auth/authz"
	"portal/internal/auth/models"
	dErrors "portal/pkg/domain-errors"
	"portal/pkg/platform/httputil"
	"portal/pkg/requestcontext"
)

type contextKeyUser struct{}
type contextKeySession struct{}

var (
	ContextKeyUser    = contextKeyUser{}
	ContextKeySession = contextKeySession{}
)

// Authenticator resolves an Authorization header to a user.
type Authenticator interface {
	Authenticate(ctx context.Context, header string) authn.Result
}

// ForbiddenResponse is the 403 body. UserRole and RequiredRoles are set for
// role denials only.
type ForbiddenResponse struct {
	Error         string        `json:"error"`
	Description   string        `json:"error_description"`
	UserRole      models.Role   `json:"user_role,omitempty"`
	RequiredRoles []models.Role `json:"required_roles,omitempty"`
}

// User returns the authenticated user, or nil outside RequireAuth.
func User(ctx context.Context) *models.User {
	user, _ := ctx.Value(ContextKeyUser).(*models.User)
	return user
}

// Session returns the registry key of the presented token.
func Session(ctx context.Context) models.SessionKey {
	key, _ := ctx.Value(ContextKeySession).(models.SessionKey)
	return key
}

// WithUser stores an authenticated identity in ctx.
func WithUser(ctx context.Context, user *models.User, key models.SessionKey) context.Context {
	ctx = context.WithValue(ctx, ContextKeyUser, user)
	ctx = context.WithValue(ctx, ContextKeySession, key)
	return requestcontext.WithUserID(ctx, user.ID)
}

// RequireAuth rejects requests without a valid bearer token and otherwise
// exposes the user and session to downstream handlers.
func RequireAuth(a Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			res := a.Authenticate(ctx, r.Header.Get("Authorization"))
			if !res.OK() {
				level := slog.LevelWarn
				if res.Err.Kind == authn.KindUnavailable {
					level = slog.LevelError
				}
				logger.Log(ctx, level, "unauthorized access",
					"reason", string(res.Err.Kind),
					"error", res.Err,
					"path", r.URL.Path,
					"request_id", requestcontext.RequestID(ctx),
				)
				httputil.WriteError(w, res.Err.DomainError())
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(ctx, res.User, res.Session)))
		})
	}
}

// RequirePolicy applies the named endpoint policy to the user placed in the
// context by RequireAuth.
func RequirePolicy(endpoint string, logger *slog.Logger) func(http.Handler) http.Handler {
	policy := authz.PolicyFor(endpoint)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			user := User(ctx)
			if user == nil {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Authentication required"))
				return
			}
			d := policy.Evaluate(user)
			if d.Allowed {
				next.ServeHTTP(w, r)
				return
			}
			logger.WarnContext(ctx, "access denied",
				"endpoint", endpoint,
				"reason", string(d.Reason),
				"user_id", user.ID.String(),
				"user_role", string(d.UserRole),
				"request_id", requestcontext.RequestID(ctx),
			)
			body := ForbiddenResponse{Error: string(dErrors.CodeForbidden)}
			switch d.Reason {
			case authz.ReasonNotApproved:
				body.Error = string(authz.ReasonNotApproved)
				body.Description = "Account is not approved"
			default:
				body.Description = "Insufficient role"
				body.UserRole = d.UserRole
				body.RequiredRoles = d.Required
			}
			httputil.WriteJSON(w, http.StatusForbidden, body)
		})
	}
}
