package service

import (
	"context"

	"portal/internal/auth/models"
	id "portal/pkg/domain"
	dErrors "portal/pkg/domain-errors"
	"portal/pkg/platform/audit"
	"portal/pkg/requestcontext"
)

// Me returns the sanitized account of the authenticated caller.
func (s *Service) Me(ctx context.Context, userID id.UserID) (*models.User, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "user ID required")
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, storeError(err, "user not found", "failed to lookup user")
	}
	return user.Sanitized(), nil
}

// ListSessions returns the caller's live sessions, newest first, flagging the
// one behind current.
func (s *Service) ListSessions(ctx context.Context, userID id.UserID, current models.SessionKey) (*models.SessionsResult, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "user ID required")
	}
	records, err := s.sessions.List(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list sessions")
	}
	now := requestcontext.Now(ctx)
	out := make([]models.SessionSummary, 0, len(records))
	for _, rec := range records {
		if rec.Expired(now) {
			continue
		}
		out = append(out, rec.Summary(current))
	}
	return &models.SessionsResult{Sessions: out}, nil
}

// RevokeSession drops one registry entry owned by the caller. The token
// itself stays valid until it expires or the session version moves; use
// LogoutAll to cut every token off.
func (s *Service) RevokeSession(ctx context.Context, userID id.UserID, rawKey string) error {
	if userID.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "user ID required")
	}
	key, err := models.ParseSessionKey(rawKey)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid session id")
	}
	if key.UserID != userID {
		return dErrors.New(dErrors.CodeForbidden, "session belongs to another user")
	}
	removed, err := s.sessions.Revoke(ctx, key)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke session")
	}
	if !removed {
		return dErrors.New(dErrors.CodeNotFound, "session not found")
	}
	s.logAudit(ctx, audit.EventSessionRevoked, "user_id", userID.String())
	return nil
}

// Logout forgets the registry entry behind the presented token. Missing
// entries are not an error. The registry is advisory, so the token itself
// stays valid until it expires and its next use records the session again;
// LogoutAll is the operation that actually revokes tokens.
func (s *Service) Logout(ctx context.Context, key models.SessionKey) error {
	if key.UserID.IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "user ID required")
	}
	if _, err := s.sessions.Revoke(ctx, key); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke session")
	}
	s.logAudit(ctx, audit.EventLoggedOut, "user_id", key.UserID.String())
	return nil
}

// LogoutAll bumps the session version, which rejects every outstanding token
// including the caller's, then clears the registry.
func (s *Service) LogoutAll(ctx context.Context, userID id.UserID) (*models.LogoutAllResult, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "user ID required")
	}
	now := requestcontext.Now(ctx)
	if _, err := s.users.Update(ctx, userID, func(u *models.User) error {
		u.BumpSessionVersion(now)
		return nil
	}); err != nil {
		return nil, storeError(err, "user not found", "failed to revoke sessions")
	}
	revoked := s.revokeAll(ctx, userID)
	s.logAudit(ctx, audit.EventSessionsRevoked, "user_id", userID.String(), "reason", "logout_all")
	return &models.LogoutAllResult{RevokedCount: revoked}, nil
}
