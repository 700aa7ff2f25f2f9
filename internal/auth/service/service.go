// Package service implements the account and session operations behind the
// auth endpoints: registration, login, the password reset and change flows,
// session listing and revocation, and admin account management.
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"portal/internal/auth/models"
	jwttoken "portal/internal/jwt_token"
	"portal/internal/mail"
	"portal/internal/platform/metrics"
	"portal/pkg/attrs"
	id "portal/pkg/domain"
	dErrors "portal/pkg/domain-errors"
	"portal/pkg/platform/audit"
	"portal/pkg/platform/sentinel"
	"portal/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks UserStore,SessionRegistry,Mailer,AuditPublisher

var tracer = otel.Tracer("portal/internal/auth/service")

type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, userID id.UserID) (*models.User, error)
	FindByEmailOrUsername(ctx context.Context, email, username string) (*models.User, error)
	FindByResetToken(ctx context.Context, token string, now time.Time) (*models.User, error)
	Update(ctx context.Context, userID id.UserID, fn func(*models.User) error) (*models.User, error)
	Delete(ctx context.Context, userID id.UserID) error
	Count(ctx context.Context) (int, error)
}

type SessionRegistry interface {
	List(ctx context.Context, userID id.UserID) ([]models.SessionRecord, error)
	Revoke(ctx context.Context, key models.SessionKey) (bool, error)
	RevokeAll(ctx context.Context, userID id.UserID) (int, error)
}

type TokenIssuer interface {
	Issue(userID id.UserID, sessionVersion int) (*jwttoken.Token, error)
}

type PasswordHasher interface {
	Hash(plain string) (string, error)
	Verify(hash, plain string) error
}

type Mailer interface {
	Send(ctx context.Context, msg mail.Message) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Failures callers may need to tell apart. Each is returned wrapped in a
// domain error carrying the HTTP-facing code.
var (
	ErrInvalidCredentials         = errors.New("invalid credentials")
	ErrInvalidOrExpiredResetToken = errors.New("invalid or expired reset token")
	ErrCurrentPasswordIncorrect   = errors.New("current password incorrect")
	ErrAccountSuspended           = errors.New("account suspended")
	ErrAccountRejected            = errors.New("account rejected")
)

// ForgotPasswordMessage is returned whether or not the address is known.
const ForgotPasswordMessage = "If an account exists for that email, a password reset link has been sent."

const (
	DefaultResetTokenTTL = time.Hour
	DefaultMailTimeout   = 30 * time.Second
	resetTokenBytes      = 32
	// upper bound on reset mails in flight at once
	maxPendingMail = 64
)

type Service struct {
	users          UserStore
	sessions       SessionRegistry
	tokens         TokenIssuer
	hasher         PasswordHasher
	mailer         Mailer
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics

	resetTTL     time.Duration
	resetURLBase string
	mailTimeout  time.Duration
	mailSlots    chan struct{}
	deliveries   sync.WaitGroup
	newToken     func() (string, error)
	// dummyHash is verified against when a login names an unknown account so
	// both branches cost one bcrypt comparison.
	dummyHash string
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) { s.auditPublisher = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithResetTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.resetTTL = ttl
		}
	}
}

// WithResetURLBase sets the public URL the reset link points at; the token is
// appended as a query parameter.
func WithResetURLBase(base string) Option {
	return func(s *Service) { s.resetURLBase = base }
}

// WithMailTimeout bounds a single background reset mail delivery.
func WithMailTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.mailTimeout = d
		}
	}
}

// WithResetTokenGenerator replaces the random reset token source.
func WithResetTokenGenerator(fn func() (string, error)) Option {
	return func(s *Service) {
		if fn != nil {
			s.newToken = fn
		}
	}
}

func New(users UserStore, sessions SessionRegistry, tokens TokenIssuer, hasher PasswordHasher, mailer Mailer, opts ...Option) (*Service, error) {
	if users == nil {
		return nil, errors.New("user store is required")
	}
	if sessions == nil {
		return nil, errors.New("session registry is required")
	}
	if tokens == nil {
		return nil, errors.New("token issuer is required")
	}
	if hasher == nil {
		return nil, errors.New("password hasher is required")
	}
	if mailer == nil {
		return nil, errors.New("mailer is required")
	}
	s := &Service{
		users:        users,
		sessions:     sessions,
		tokens:       tokens,
		hasher:       hasher,
		mailer:       mailer,
		logger:       slog.Default(),
		resetTTL:     DefaultResetTokenTTL,
		resetURLBase: "http://localhost:8080/reset-password",
		mailTimeout:  DefaultMailTimeout,
		mailSlots:    make(chan struct{}, maxPendingMail),
		newToken:     randomToken,
	}
	for _, opt := range opts {
		opt(s)
	}
	hash, err := s.hasher.Hash("portal-timing-equalizer")
	if err != nil {
		return nil, err
	}
	s.dummyHash = hash
	return s, nil
}

// issue signs a token for u and shapes the public result.
func (s *Service) issue(u *models.User) (*models.AuthResult, error) {
	tok, err := s.tokens.Issue(u.ID, u.SessionVersion)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue token")
	}
	return &models.AuthResult{
		Token:     tok.Raw,
		ExpiresAt: tok.ExpiresAt,
		User:      u.Sanitized(),
	}, nil
}

// revokeAll clears registry entries after a credential or status change.
// The session version bump has already invalidated the tokens, so failures
// here are logged only.
func (s *Service) revokeAll(ctx context.Context, userID id.UserID) int {
	span := trace.SpanFromContext(ctx)
	n, err := s.sessions.RevokeAll(ctx, userID)
	if err != nil {
		span.RecordError(err)
		s.logger.WarnContext(ctx, "failed to clear session registry",
			"error", err,
			"user_id", userID.String(),
			"request_id", requestcontext.RequestID(ctx),
		)
		return 0
	}
	span.AddEvent("sessions.revoked", trace.WithAttributes(attribute.Int("count", n)))
	return n
}

func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, attributes ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", string(event), "log_type", "audit")
	s.logger.InfoContext(ctx, string(event), args...)
	if s.auditPublisher == nil {
		return
	}
	var userID id.UserID
	if raw := attrs.ExtractString(attributes, "user_id"); raw != "" {
		if parsed, err := id.ParseUserID(raw); err == nil {
			userID = parsed
		}
	}
	_ = s.auditPublisher.Emit(ctx, audit.Event{
		Timestamp: requestcontext.Now(ctx),
		UserID:    userID,
		Action:    string(event),
		Reason:    attrs.ExtractString(attributes, "reason"),
		Email:     attrs.ExtractString(attributes, "email"),
		IP:        requestcontext.ClientIP(ctx),
		RequestID: attrs.ExtractString(attributes, "request_id"),
		ActorID:   attrs.ExtractString(attributes, "actor_id"),
	})
}

func randomToken() (string, error) {
	buf := make([]byte, resetTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func storeError(err error, notFoundMsg, internalMsg string) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, notFoundMsg)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, internalMsg)
}
