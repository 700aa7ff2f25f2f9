package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"portal/internal/auth/models"
	id "portal/pkg/domain"
	dErrors "portal/pkg/domain-errors"
	"portal/pkg/platform/httputil"
	authmw "portal/pkg/platform/middleware/auth"
	"portal/pkg/requestcontext"
)

//go:generate mockgen -source=handlers_auth.go -destination=mocks/mocks.go -package=mocks AuthService,AdminService

// AuthService covers the self-service account and session operations.
type AuthService interface {
	Register(ctx context.Context, req *models.RegisterRequest) (*models.AuthResult, error)
	Login(ctx context.Context, req *models.LoginRequest) (*models.AuthResult, error)
	ForgotPassword(ctx context.Context, req *models.ForgotPasswordRequest) (*models.MessageResult, error)
	ResetPassword(ctx context.Context, req *models.ResetPasswordRequest) (*models.MessageResult, error)
	ChangePassword(ctx context.Context, userID id.UserID, req *models.ChangePasswordRequest) (*models.AuthResult, error)
	Me(ctx context.Context, userID id.UserID) (*models.User, error)
	ListSessions(ctx context.Context, userID id.UserID, current models.SessionKey) (*models.SessionsResult, error)
	RevokeSession(ctx context.Context, userID id.UserID, rawKey string) error
	Logout(ctx context.Context, key models.SessionKey) error
	LogoutAll(ctx context.Context, userID id.UserID) (*models.LogoutAllResult, error)
}

// AdminService covers operator actions on other accounts.
type AdminService interface {
	SetStatus(ctx context.Context, actorID, userID id.UserID, req *models.UpdateStatusRequest) (*models.User, error)
	SetRole(ctx context.Context, actorID, userID id.UserID, req *models.UpdateRoleRequest) (*models.User, error)
	DeleteUser(ctx context.Context, actorID, userID id.UserID) error
	UserSessions(ctx context.Context, userID id.UserID) (*models.SessionsResult, error)
}

type Handler struct {
	auth   AuthService
	admin  AdminService
	logger *slog.Logger
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.auth.Register(r.Context(), &req)
	if err != nil {
		h.fail(r.Context(), w, "register", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, res)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.auth.Login(r.Context(), &req)
	if err != nil {
		h.fail(r.Context(), w, "login", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req models.ForgotPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.auth.ForgotPassword(r.Context(), &req)
	if err != nil {
		h.fail(r.Context(), w, "forgot password", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req models.ResetPasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.auth.ResetPassword(r.Context(), &req)
	if err != nil {
		h.fail(r.Context(), w, "reset password", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req models.ChangePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	res, err := h.auth.ChangePassword(ctx, requestcontext.UserID(ctx), &req)
	if err != nil {
		h.fail(ctx, w, "change password", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, err := h.auth.Me(ctx, requestcontext.UserID(ctx))
	if err != nil {
		h.fail(ctx, w, "me", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := h.auth.ListSessions(ctx, requestcontext.UserID(ctx), authmw.Session(ctx))
	if err != nil {
		h.fail(ctx, w, "list sessions", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.auth.RevokeSession(ctx, requestcontext.UserID(ctx), chi.URLParam(r, "key")); err != nil {
		h.fail(ctx, w, "revoke session", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.MessageResult{Message: "Session revoked"})
}

// logoutMessage tells clients that only logout-all invalidates the token.
const logoutMessage = "Logged out. Discard the token; it remains valid until expiry. Use /api/auth/logout-all to revoke all tokens."

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.auth.Logout(ctx, authmw.Session(ctx)); err != nil {
		h.fail(ctx, w, "logout", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.MessageResult{Message: logoutMessage})
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := h.auth.LogoutAll(ctx, requestcontext.UserID(ctx))
	if err != nil {
		h.fail(ctx, w, "logout all", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// decode writes a 400 and returns false when the body is unusable.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httputil.DecodeJSON(w, r, dst); err != nil {
		ctx := r.Context()
		h.logger.WarnContext(ctx, "invalid request body",
			"path", r.URL.Path,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return false
	}
	return true
}

// fail renders a service error. Uncoded and internal errors are logged at
// error level; the rest are expected client outcomes.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	level := slog.LevelInfo
	if de, ok := dErrors.As(err); !ok || de.Code == dErrors.CodeInternal {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, op+" failed",
		"error", err,
		"request_id", requestcontext.RequestID(ctx),
	)
	httputil.WriteError(w, err)
}
