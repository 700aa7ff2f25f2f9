package service

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"portal/internal/auth/models"
	"portal/internal/auth/password"
	dErrors "portal/pkg/domain-errors"
	"portal/pkg/platform/audit"
	"portal/pkg/platform/sentinel"
	"portal/pkg/requestcontext"
)

// Register creates a pending account (approved when the role is admin) and
// signs the caller in. Admin self-registration is only open while the store
// is empty, so the first account can bootstrap the platform.
func (s *Service) Register(ctx context.Context, req *models.RegisterRequest) (*models.AuthResult, error) {
	if req == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	role, _ := models.ParseRole(req.Role)

	if role == models.RoleAdmin {
		count, err := s.users.Count(ctx)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count users")
		}
		if count > 0 {
			return nil, dErrors.New(dErrors.CodeForbidden, "admin accounts cannot be self-registered")
		}
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}
	user := models.NewUser(req.Email, req.Username, hash, role, requestcontext.Now(ctx))
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "email or username already registered")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create user")
	}

	s.metrics.IncrementUsersRegistered()
	s.logAudit(ctx, audit.EventUserRegistered,
		"user_id", user.ID.String(),
		"email", user.Email,
		"role", string(user.Role),
	)
	return s.issue(user)
}

// Login signs in by email or username. Unknown accounts and wrong passwords
// produce the same error after the same amount of hashing work.
func (s *Service) Login(ctx context.Context, req *models.LoginRequest) (*models.AuthResult, error) {
	ctx, span := tracer.Start(ctx, "service.Login")
	defer span.End()

	if req == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	user, err := s.users.FindByEmailOrUsername(ctx, req.Identifier, req.Identifier)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to lookup user")
		}
		_ = s.hasher.Verify(s.dummyHash, req.Password)
		s.loginFailed(ctx, "unknown_account", "")
		return nil, dErrors.Wrap(ErrInvalidCredentials, dErrors.CodeUnauthorized, "Invalid credentials")
	}
	if err := s.hasher.Verify(user.PasswordHash, req.Password); err != nil {
		if !errors.Is(err, password.ErrMismatch) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to verify password")
		}
		s.loginFailed(ctx, "bad_password", user.ID.String())
		return nil, dErrors.Wrap(ErrInvalidCredentials, dErrors.CodeUnauthorized, "Invalid credentials")
	}

	switch user.Status {
	case models.StatusSuspended:
		s.loginFailed(ctx, "account_suspended", user.ID.String())
		return nil, dErrors.Wrap(ErrAccountSuspended, dErrors.CodeForbidden, "Account suspended")
	case models.StatusRejected:
		s.loginFailed(ctx, "account_rejected", user.ID.String())
		return nil, dErrors.Wrap(ErrAccountRejected, dErrors.CodeForbidden, "Account rejected")
	}

	now := requestcontext.Now(ctx)
	updated, err := s.users.Update(ctx, user.ID, func(u *models.User) error {
		u.LastLogin = &now
		return nil
	})
	if err != nil {
		return nil, storeError(err, "user not found", "failed to record login")
	}

	span.SetAttributes(attribute.String("user.id", updated.ID.String()))
	s.metrics.ObserveLogin("success")
	s.logAudit(ctx, audit.EventLoginSucceeded, "user_id", updated.ID.String())
	return s.issue(updated)
}

func (s *Service) loginFailed(ctx context.Context, reason, userID string) {
	s.metrics.ObserveLogin(reason)
	s.logAudit(ctx, audit.EventLoginFailed, "user_id", userID, "reason", reason)
}
