package testutil

import (
	"net/http"

	"portal/internal/auth/models"
	authmw "portal/pkg/platform/middleware/auth"
)

// AsUser attaches user and a session issued to them, exactly as RequireAuth
// would after accepting their token.
func AsUser(req *http.Request, user *models.User, key models.SessionKey) *http.Request {
	return req.WithContext(authmw.WithUser(req.Context(), user, key))
}
