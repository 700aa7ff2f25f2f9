package authn

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"portal/internal/auth/models"
	"portal/internal/auth/store/session"
	userstore "portal/internal/auth/store/user"
	jwttoken "portal/internal/jwt_token"
	"portal/internal/platform/metrics"
	id "portal/pkg/domain"
	"portal/pkg/requestcontext"
)

type AuthenticatorSuite struct {
	suite.Suite
	now      time.Time
	codec    *jwttoken.Codec
	users    *userstore.InMemoryUserStore
	registry *session.InMemoryRegistry
	logs     *bytes.Buffer
	auth     *Authenticator
	alice    *models.User
	ctx      context.Context
}

func TestAuthenticatorSuite(t *testing.T) {
	suite.Run(t, new(AuthenticatorSuite))
}

func (s *AuthenticatorSuite) SetupTest() {
	s.now = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	s.codec = jwttoken.NewCodec("secret", "portal", "portal-api", time.Hour,
		jwttoken.WithClock(func() time.Time { return s.now }))
	s.users = userstore.New()
	s.registry = session.New()
	s.logs = &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(s.logs, nil))
	s.auth = New(s.codec, s.users, s.registry, logger,
		WithMetrics(metrics.NewWithRegisterer(prometheus.NewRegistry())),
		WithConcurrencyWarnThreshold(2))

	s.alice = models.NewUser("alice@example.com", "alice", "hash", models.RoleMerchant, s.now)
	s.alice.Status = models.StatusApproved
	s.Require().NoError(s.users.Create(context.Background(), s.alice))

	s.ctx = requestcontext.WithTime(
		requestcontext.WithClientMetadata(context.Background(), "203.0.113.5", "curl/8"), s.now)
}

func (s *AuthenticatorSuite) issue(u *models.User) *jwttoken.Token {
	tok, err := s.codec.Issue(u.ID, u.SessionVersion)
	s.Require().NoError(err)
	return tok
}

func (s *AuthenticatorSuite) requireKind(res Result, kind Kind) {
	s.Require().False(res.OK())
	s.Require().NotNil(res.Err)
	s.Equal(kind, res.Err.Kind)
	s.Nil(res.User)
}

func (s *AuthenticatorSuite) TestSuccess() {
	tok := s.issue(s.alice)

	res := s.auth.Authenticate(s.ctx, "Bearer "+tok.Raw)
	s.Require().True(res.OK())
	s.Equal(s.alice.ID, res.User.ID)
	s.Empty(res.User.PasswordHash, "hash is never handed out")
	s.Equal(models.SessionKey{UserID: s.alice.ID, IssuedAt: tok.IssuedAt}.String(), res.Session.String())

	s.Run("registry entry is created with client metadata", func() {
		recs, err := s.registry.List(s.ctx, s.alice.ID)
		s.Require().NoError(err)
		s.Require().Len(recs, 1)
		s.Equal("203.0.113.5", recs[0].SourceAddress)
		s.Equal("curl/8", recs[0].UserAgent)
		s.Equal(tok.ExpiresAt, recs[0].ExpiresAt)
	})

	s.Run("later requests touch the same entry", func() {
		later := requestcontext.WithTime(s.ctx, s.now.Add(10*time.Minute))
		s.Require().True(s.auth.Authenticate(later, "Bearer "+tok.Raw).OK())
		recs, err := s.registry.List(s.ctx, s.alice.ID)
		s.Require().NoError(err)
		s.Require().Len(recs, 1)
		s.Equal(s.now.Add(10*time.Minute), recs[0].LastActivity)
	})

	s.Run("prefix is case-insensitive and optional", func() {
		s.True(s.auth.Authenticate(s.ctx, "bearer "+tok.Raw).OK())
		s.True(s.auth.Authenticate(s.ctx, tok.Raw).OK())
	})

	s.Run("credential store is not written", func() {
		stored, err := s.users.FindByID(s.ctx, s.alice.ID)
		s.Require().NoError(err)
		s.Nil(stored.LastLogin)
		s.Equal(s.alice.UpdatedAt, stored.UpdatedAt)
	})
}

func (s *AuthenticatorSuite) TestTokenFailures() {
	s.Run("missing header", func() {
		s.requireKind(s.auth.Authenticate(s.ctx, ""), KindNoToken)
		s.requireKind(s.auth.Authenticate(s.ctx, "Bearer "), KindNoToken)
	})

	s.Run("garbage token", func() {
		s.requireKind(s.auth.Authenticate(s.ctx, "Bearer invalid-token-string"), KindInvalidFormat)
	})

	s.Run("foreign signature", func() {
		other := jwttoken.NewCodec("other", "portal", "portal-api", time.Hour)
		tok, err := other.Issue(s.alice.ID, 0)
		s.Require().NoError(err)
		s.requireKind(s.auth.Authenticate(s.ctx, "Bearer "+tok.Raw), KindInvalidSignature)
	})

	s.Run("expired token reports only expiry", func() {
		tok := s.issue(s.alice)
		s.now = s.now.Add(2 * time.Hour)
		defer func() { s.now = s.now.Add(-2 * time.Hour) }()
		s.requireKind(s.auth.Authenticate(s.ctx, "Bearer "+tok.Raw), KindExpired)
	})
}

func (s *AuthenticatorSuite) TestIdentityFailures() {
	s.Run("deleted user", func() {
		ghost := models.NewUser("ghost@example.com", "ghost", "hash", models.RoleUser, s.now)
		tok := s.issue(ghost)
		s.requireKind(s.auth.Authenticate(s.ctx, tok.Raw), KindUserNotFound)
	})

	s.Run("session version bump invalidates earlier tokens", func() {
		tok := s.issue(s.alice)
		_, err := s.users.Update(s.ctx, s.alice.ID, func(u *models.User) error {
			u.BumpSessionVersion(s.now)
			return nil
		})
		s.Require().NoError(err)
		s.requireKind(s.auth.Authenticate(s.ctx, tok.Raw), KindSessionInvalidated)

		fresh, err := s.users.FindByID(s.ctx, s.alice.ID)
		s.Require().NoError(err)
		s.True(s.auth.Authenticate(s.ctx, s.issue(fresh).Raw).OK())
	})

	for status, kind := range map[models.Status]Kind{
		models.StatusSuspended: KindAccountSuspended,
		models.StatusRejected:  KindAccountRejected,
	} {
		s.Run(string(status)+" account", func() {
			u := models.NewUser(string(status)+"@example.com", string(status), "hash", models.RoleUser, s.now)
			u.Status = status
			s.Require().NoError(s.users.Create(s.ctx, u))
			s.requireKind(s.auth.Authenticate(s.ctx, s.issue(u).Raw), kind)
		})
	}

	s.Run("pending account still authenticates", func() {
		u := models.NewUser("pending@example.com", "pending", "hash", models.RoleUser, s.now)
		s.Require().NoError(s.users.Create(s.ctx, u))
		res := s.auth.Authenticate(s.ctx, s.issue(u).Raw)
		s.Require().True(res.OK())
		s.Equal(models.StatusPending, res.User.Status)
	})
}

func (s *AuthenticatorSuite) TestStoreUnavailable() {
	auth := New(s.codec, failingFinder{}, s.registry, slog.New(slog.NewTextHandler(s.logs, nil)))
	res := auth.Authenticate(s.ctx, s.issue(s.alice).Raw)
	s.requireKind(res, KindUnavailable)
	s.Contains(s.logs.String(), "credential store lookup failed")
}

func (s *AuthenticatorSuite) TestRegistryFailureDoesNotFailAuthentication() {
	auth := New(s.codec, s.users, brokenRegistry{Registry: session.New()}, slog.New(slog.NewTextHandler(s.logs, nil)))
	res := auth.Authenticate(s.ctx, s.issue(s.alice).Raw)
	s.True(res.OK())
	s.Contains(s.logs.String(), "session registry")
}

func (s *AuthenticatorSuite) TestConcurrencyWarning() {
	for i := range 3 {
		s.now = s.now.Add(time.Duration(i+1) * time.Millisecond)
		s.Require().True(s.auth.Authenticate(s.ctx, s.issue(s.alice).Raw).OK())
	}
	s.Contains(s.logs.String(), "concurrent session threshold exceeded")

	recs, err := s.registry.List(s.ctx, s.alice.ID)
	s.Require().NoError(err)
	s.Len(recs, 3, "warning never blocks a session")
}

func (s *AuthenticatorSuite) TestConcurrentLoginsAreIndependent() {
	first := s.issue(s.alice)
	s.now = s.now.Add(time.Nanosecond)
	second := s.issue(s.alice)

	a := s.auth.Authenticate(s.ctx, first.Raw)
	b := s.auth.Authenticate(s.ctx, second.Raw)
	s.Require().True(a.OK())
	s.Require().True(b.OK())
	s.NotEqual(a.Session.String(), b.Session.String())
}

func (s *AuthenticatorSuite) TestDomainError() {
	res := s.auth.Authenticate(s.ctx, "")
	err := res.Err.DomainError()
	s.ErrorContains(err, "No token provided")
	var authErr *Error
	s.Require().True(errors.As(err, &authErr))
	s.Equal(KindNoToken, authErr.Kind)
}

type failingFinder struct{}

func (failingFinder) FindByID(context.Context, id.UserID) (*models.User, error) {
	return nil, errors.New("connection refused")
}

type brokenRegistry struct {
	session.Registry
}

func (brokenRegistry) Touch(context.Context, models.SessionKey, time.Time) error {
	return errors.New("registry down")
}
