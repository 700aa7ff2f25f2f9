package service

import (
	"context"
	"errors"
	"net/url"

	"portal/internal/auth/models"
	"portal/internal/auth/password"
	"portal/internal/mail"
	id "portal/pkg/domain"
	dErrors "portal/pkg/domain-errors"
	"portal/pkg/platform/audit"
	"portal/pkg/platform/sentinel"
	"portal/pkg/requestcontext"
)

// ForgotPassword starts a reset. The response never reveals whether the
// address belongs to an account, and delivery failures are not surfaced.
func (s *Service) ForgotPassword(ctx context.Context, req *models.ForgotPasswordRequest) (*models.MessageResult, error) {
	ctx, span := tracer.Start(ctx, "service.ForgotPassword")
	defer span.End()

	if req == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	generic := &models.MessageResult{Message: ForgotPasswordMessage}

	// generated on both branches so unknown addresses cost the same
	token, err := s.newToken()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate reset token")
	}

	user, err := s.users.FindByEmailOrUsername(ctx, req.Email, "")
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return generic, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to lookup user")
	}

	now := requestcontext.Now(ctx)
	if _, err := s.users.Update(ctx, user.ID, func(u *models.User) error {
		u.SetResetToken(token, now.Add(s.resetTTL), now)
		return nil
	}); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return generic, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store reset token")
	}
	s.metrics.ObservePasswordReset("requested")
	s.logAudit(ctx, audit.EventPasswordResetRequested, "user_id", user.ID.String(), "email", user.Email)

	s.deliverReset(ctx, user.ID, mail.PasswordResetMessage(user.Email, s.resetLink(token), s.resetTTL))
	return generic, nil
}

// deliverReset hands msg to the mailer off the request path so the known
// address branch returns as fast as the unknown one. Delivery runs on a
// context detached from the request with its own deadline. When every slot
// is busy the message is dropped and counted as a delivery failure.
func (s *Service) deliverReset(ctx context.Context, userID id.UserID, msg mail.Message) {
	requestID := requestcontext.RequestID(ctx)
	select {
	case s.mailSlots <- struct{}{}:
	default:
		s.logger.ErrorContext(ctx, "password reset delivery dropped, mail queue full",
			"user_id", userID.String(),
			"request_id", requestID,
		)
		s.metrics.ObservePasswordReset("delivery_failed")
		s.logAudit(ctx, audit.EventPasswordResetMailFail, "user_id", userID.String(), "reason", "queue_full")
		return
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.mailTimeout)
	s.deliveries.Add(1)
	go func() {
		defer s.deliveries.Done()
		defer func() { <-s.mailSlots }()
		defer cancel()

		if err := s.mailer.Send(sendCtx, msg); err != nil {
			s.logger.ErrorContext(sendCtx, "password reset delivery failed",
				"error", err,
				"user_id", userID.String(),
				"request_id", requestID,
			)
			s.metrics.ObservePasswordReset("delivery_failed")
			s.logAudit(sendCtx, audit.EventPasswordResetMailFail, "user_id", userID.String(), "reason", "delivery_failed")
		}
	}()
}

// Drain blocks until every reset mail handed off so far has finished
// sending or failed.
func (s *Service) Drain() {
	s.deliveries.Wait()
}

// ResetPassword consumes a reset token. Unknown and expired tokens fail the
// same way. Success clears the token, bumps the session version and clears
// the registry, so every earlier token stops working.
func (s *Service) ResetPassword(ctx context.Context, req *models.ResetPasswordRequest) (*models.MessageResult, error) {
	ctx, span := tracer.Start(ctx, "service.ResetPassword")
	defer span.End()

	if req == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	invalid := dErrors.Wrap(ErrInvalidOrExpiredResetToken, dErrors.CodeBadRequest, "Invalid or expired reset token")

	now := requestcontext.Now(ctx)
	user, err := s.users.FindByResetToken(ctx, req.Token, now)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, invalid
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to lookup reset token")
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}
	_, err = s.users.Update(ctx, user.ID, func(u *models.User) error {
		// a concurrent reset may have consumed the token since the lookup
		if !u.ResetTokenValid(req.Token, now) {
			return ErrInvalidOrExpiredResetToken
		}
		u.PasswordHash = hash
		u.ClearResetToken(now)
		u.BumpSessionVersion(now)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidOrExpiredResetToken) || errors.Is(err, sentinel.ErrNotFound) {
			return nil, invalid
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to reset password")
	}

	revoked := s.revokeAll(ctx, user.ID)
	s.metrics.ObservePasswordReset("completed")
	s.logAudit(ctx, audit.EventPasswordResetCompleted, "user_id", user.ID.String(), "revoked_sessions", revoked)
	return &models.MessageResult{Message: "Password has been reset. Please sign in with your new password."}, nil
}

// ChangePassword replaces the password of a signed-in user after checking the
// current one. Other devices are signed out; the caller gets a fresh token.
func (s *Service) ChangePassword(ctx context.Context, userID id.UserID, req *models.ChangePasswordRequest) (*models.AuthResult, error) {
	if userID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "user ID required")
	}
	if req == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	incorrect := dErrors.Wrap(ErrCurrentPasswordIncorrect, dErrors.CodeBadRequest, "Current password is incorrect")

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, storeError(err, "user not found", "failed to lookup user")
	}
	if err := s.hasher.Verify(user.PasswordHash, req.CurrentPassword); err != nil {
		if errors.Is(err, password.ErrMismatch) {
			return nil, incorrect
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to verify password")
	}

	hash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}
	now := requestcontext.Now(ctx)
	verifiedHash := user.PasswordHash
	updated, err := s.users.Update(ctx, userID, func(u *models.User) error {
		// the password may have changed since it was verified
		if u.PasswordHash != verifiedHash {
			return ErrCurrentPasswordIncorrect
		}
		u.PasswordHash = hash
		u.BumpSessionVersion(now)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrCurrentPasswordIncorrect) {
			return nil, incorrect
		}
		return nil, storeError(err, "user not found", "failed to change password")
	}

	s.revokeAll(ctx, userID)
	s.logAudit(ctx, audit.EventPasswordChanged, "user_id", userID.String())
	return s.issue(updated)
}

func (s *Service) resetLink(token string) string {
	u, err := url.Parse(s.resetURLBase)
	if err != nil {
		return s.resetURLBase + "?token=" + url.QueryEscape(token)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}
