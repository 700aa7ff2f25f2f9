package service

import (
	"context"

	"portal/internal/auth/models"
	id "portal/pkg/domain"
	dErrors "portal/pkg/domain-errors"
	"portal/pkg/platform/audit"
	"portal/pkg/requestcontext"
)

// SetStatus moves an account through its lifecycle. Suspension and
// rejection bump the session version so existing tokens stop working at once.
func (s *Service) SetStatus(ctx context.Context, actorID, userID id.UserID, req *models.UpdateStatusRequest) (*models.User, error) {
	if err := checkTarget(actorID, userID); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	status, err := req.Validate()
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	revoke := status == models.StatusSuspended || status == models.StatusRejected
	var previous models.Status
	updated, err := s.users.Update(ctx, userID, func(u *models.User) error {
		previous = u.Status
		if u.Status == status {
			return nil
		}
		u.Status = status
		u.UpdatedAt = now
		if revoke {
			u.BumpSessionVersion(now)
		}
		return nil
	})
	if err != nil {
		return nil, storeError(err, "user not found", "failed to update status")
	}
	if previous == status {
		return updated.Sanitized(), nil
	}
	if revoke {
		s.revokeAll(ctx, userID)
	}
	s.logAudit(ctx, audit.EventUserStatusChanged,
		"user_id", userID.String(),
		"actor_id", actorID.String(),
		"reason", string(previous)+"->"+string(status),
	)
	return updated.Sanitized(), nil
}

// SetRole changes an account's role. Authorization reads the role on every
// request, so no token needs to be reissued.
func (s *Service) SetRole(ctx context.Context, actorID, userID id.UserID, req *models.UpdateRoleRequest) (*models.User, error) {
	if err := checkTarget(actorID, userID); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	role, err := req.Validate()
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	var previous models.Role
	updated, err := s.users.Update(ctx, userID, func(u *models.User) error {
		previous = u.Role
		u.Role = role
		u.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, storeError(err, "user not found", "failed to update role")
	}
	if previous != role {
		s.logAudit(ctx, audit.EventUserRoleChanged,
			"user_id", userID.String(),
			"actor_id", actorID.String(),
			"reason", string(previous)+"->"+string(role),
		)
	}
	return updated.Sanitized(), nil
}

// DeleteUser removes an account and its registry entries.
func (s *Service) DeleteUser(ctx context.Context, actorID, userID id.UserID) error {
	if err := checkTarget(actorID, userID); err != nil {
		return err
	}

	// captured before deletion to enrich the audit events
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return storeError(err, "user not found", "failed to lookup user")
	}

	auditAttrs := []any{
		"user_id", userID.String(),
		"email", user.Email,
		"actor_id", actorID.String(),
	}
	if n := s.revokeAll(ctx, userID); n > 0 {
		s.logAudit(ctx, audit.EventSessionsRevoked, append(auditAttrs, "reason", "user_deleted")...)
	}

	if err := s.users.Delete(ctx, userID); err != nil {
		return storeError(err, "user not found", "failed to delete user")
	}
	s.logAudit(ctx, audit.EventUserDeleted, auditAttrs...)
	return nil
}

// UserSessions lists the live sessions of any account for operators.
func (s *Service) UserSessions(ctx context.Context, userID id.UserID) (*models.SessionsResult, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeBadRequest, "user ID required")
	}
	if _, err := s.users.FindByID(ctx, userID); err != nil {
		return nil, storeError(err, "user not found", "failed to lookup user")
	}
	return s.ListSessions(ctx, userID, models.SessionKey{})
}

// checkTarget rejects admin actions without a target and actions an admin
// aims at their own account, which could lock the platform out.
func checkTarget(actorID, userID id.UserID) error {
	if userID.IsNil() {
		return dErrors.New(dErrors.CodeBadRequest, "user ID required")
	}
	if actorID == userID {
		return dErrors.New(dErrors.CodeForbidden, "admins cannot modify their own account")
	}
	return nil
}
