package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"portal/internal/auth/models"
	id "portal/pkg/domain"
	"portal/pkg/platform/httputil"
	"portal/pkg/requestcontext"
)

// targetUser parses the {id} path segment, writing a 400 on failure.
func (h *Handler) targetUser(w http.ResponseWriter, r *http.Request) (id.UserID, bool) {
	userID, err := id.ParseUserID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.UserID{}, false
	}
	return userID, true
}

func (h *Handler) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.targetUser(w, r)
	if !ok {
		return
	}
	var req models.UpdateStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	user, err := h.admin.SetStatus(ctx, requestcontext.UserID(ctx), userID, &req)
	if err != nil {
		h.fail(ctx, w, "set user status", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}

func (h *Handler) handleSetRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.targetUser(w, r)
	if !ok {
		return
	}
	var req models.UpdateRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	ctx := r.Context()
	user, err := h.admin.SetRole(ctx, requestcontext.UserID(ctx), userID, &req)
	if err != nil {
		h.fail(ctx, w, "set user role", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}

func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.targetUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if err := h.admin.DeleteUser(ctx, requestcontext.UserID(ctx), userID); err != nil {
		h.fail(ctx, w, "delete user", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.MessageResult{Message: "User deleted"})
}

func (h *Handler) handleUserSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.targetUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	res, err := h.admin.UserSessions(ctx, userID)
	if err != nil {
		h.fail(ctx, w, "list user sessions", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}
