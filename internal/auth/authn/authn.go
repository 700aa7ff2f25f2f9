// Package authn turns a bearer credential into an authenticated user or a
// typed failure. It never writes to the credential store; the only side
// effect is upserting the advisory session registry entry.
package authn

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"portal/internal/auth/models"
	"portal/internal/auth/store/session"
	jwttoken "portal/internal/jwt_token"
	"portal/internal/platform/metrics"
	id "portal/pkg/domain"
	"portal/pkg/platform/sentinel"
	"portal/pkg/requestcontext"
)

// DefaultConcurrencyWarnThreshold is the live-session count above which a
// new session is logged as a warning.
const DefaultConcurrencyWarnThreshold = 5

var tracer = otel.Tracer("portal/internal/auth/authn")

type TokenVerifier interface {
	Verify(raw string) (*jwttoken.Token, error)
}

type UserFinder interface {
	FindByID(ctx context.Context, userID id.UserID) (*models.User, error)
}

// Result is the outcome of Authenticate. Exactly one of User or Err is set.
type Result struct {
	User    *models.User
	Session models.SessionKey
	Token   *jwttoken.Token
	Err     *Error
}

// OK reports whether authentication succeeded.
func (r Result) OK() bool { return r.Err == nil }

type Authenticator struct {
	tokens   TokenVerifier
	users    UserFinder
	sessions session.Registry
	logger   *slog.Logger
	metrics  *metrics.Metrics
	warnAt   int
}

type Option func(*Authenticator)

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Authenticator) { a.metrics = m }
}

// WithConcurrencyWarnThreshold sets the soft limit on live sessions per user.
// Exceeding it is logged and counted, never enforced.
func WithConcurrencyWarnThreshold(n int) Option {
	return func(a *Authenticator) {
		if n > 0 {
			a.warnAt = n
		}
	}
}

func New(tokens TokenVerifier, users UserFinder, sessions session.Registry, logger *slog.Logger, opts ...Option) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Authenticator{
		tokens:   tokens,
		users:    users,
		sessions: sessions,
		logger:   logger,
		warnAt:   DefaultConcurrencyWarnThreshold,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate validates an Authorization header value. A "Bearer " prefix
// is optional and matched case-insensitively.
func (a *Authenticator) Authenticate(ctx context.Context, header string) Result {
	ctx, span := tracer.Start(ctx, "authn.Authenticate")
	defer span.End()

	res := a.authenticate(ctx, header)
	outcome := "ok"
	if res.Err != nil {
		outcome = string(res.Err.Kind)
		span.SetStatus(codes.Error, outcome)
	} else {
		span.SetAttributes(attribute.String("user.id", res.User.ID.String()))
	}
	span.SetAttributes(attribute.String("authn.outcome", outcome))
	a.metrics.ObserveAuthentication(outcome)
	return res
}

func (a *Authenticator) authenticate(ctx context.Context, header string) Result {
	raw := extractToken(header)
	if raw == "" {
		return fail(KindNoToken, nil)
	}

	tok, err := a.tokens.Verify(raw)
	if err != nil {
		switch {
		case errors.Is(err, jwttoken.ErrExpired):
			return fail(KindExpired, err)
		case errors.Is(err, jwttoken.ErrSignatureInvalid):
			return fail(KindInvalidSignature, err)
		default:
			return fail(KindInvalidFormat, err)
		}
	}

	user, err := a.users.FindByID(ctx, tok.UserID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return fail(KindUserNotFound, err)
		}
		a.logger.ErrorContext(ctx, "credential store lookup failed during authentication",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return fail(KindUnavailable, err)
	}

	if tok.SessionVersion != user.SessionVersion {
		return fail(KindSessionInvalidated, nil)
	}
	switch user.Status {
	case models.StatusSuspended:
		return fail(KindAccountSuspended, nil)
	case models.StatusRejected:
		return fail(KindAccountRejected, nil)
	}

	key := models.SessionKey{UserID: user.ID, IssuedAt: tok.IssuedAt}
	a.upsertSession(ctx, key, tok.ExpiresAt)

	return Result{User: user.Sanitized(), Session: key, Token: tok}
}

// upsertSession refreshes the registry entry. Registry failures are logged
// and never fail the request.
func (a *Authenticator) upsertSession(ctx context.Context, key models.SessionKey, expiresAt time.Time) {
	if a.sessions == nil {
		return
	}
	now := requestcontext.Now(ctx)
	err := a.sessions.Touch(ctx, key, now)
	if err == nil {
		return
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		a.logger.WarnContext(ctx, "session registry touch failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return
	}

	rec := models.SessionRecord{
		Key:           key,
		ExpiresAt:     expiresAt,
		LastActivity:  now,
		SourceAddress: requestcontext.ClientIP(ctx),
		UserAgent:     requestcontext.UserAgent(ctx),
		CreatedAt:     now,
	}
	if err := a.sessions.Record(ctx, rec); err != nil {
		a.logger.WarnContext(ctx, "session registry record failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return
	}
	a.checkConcurrency(ctx, key.UserID, now)
}

func (a *Authenticator) checkConcurrency(ctx context.Context, userID id.UserID, now time.Time) {
	recs, err := a.sessions.List(ctx, userID)
	if err != nil {
		return
	}
	if live := session.CountLive(recs, now); live > a.warnAt {
		a.logger.WarnContext(ctx, "concurrent session threshold exceeded",
			"user_id", userID.String(),
			"live_sessions", live,
			"threshold", a.warnAt,
			"request_id", requestcontext.RequestID(ctx),
		)
		a.metrics.IncrementConcurrencyWarnings()
	}
}

func extractToken(header string) string {
	header = strings.TrimSpace(header)
	const prefix = "bearer "
	if len(header) >= len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		header = strings.TrimSpace(header[len(prefix):])
	}
	return header
}
