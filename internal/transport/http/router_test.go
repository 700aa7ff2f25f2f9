package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"portal/internal/auth/authn"
	"portal/internal/auth/models"
	rlModels "portal/internal/ratelimit/models"
	"portal/internal/transport/http/mocks"
	id "portal/pkg/domain"
	dErrors "portal/pkg/domain-errors"
	"portal/pkg/platform/middleware/admin"
	"portal/pkg/testutil"
)

// tokenTable authenticates "Bearer <name>" against a fixed set of users.
type tokenTable map[string]*models.User

func (t tokenTable) Authenticate(_ context.Context, header string) authn.Result {
	user, ok := t[strings.TrimPrefix(header, "Bearer ")]
	if header == "" {
		return authn.Result{Err: &authn.Error{Kind: authn.KindNoToken}}
	}
	if !ok {
		return authn.Result{Err: &authn.Error{Kind: authn.KindInvalidSignature}}
	}
	return authn.Result{User: user, Session: sessionOf(user)}
}

func sessionOf(u *models.User) models.SessionKey {
	return models.SessionKey{UserID: u.ID, IssuedAt: time.Unix(1_700_000_000, 7).UTC()}
}

// denyClass throttles one class and lets everything else through.
type denyClass rlModels.EndpointClass

func (d denyClass) RateLimit(class rlModels.EndpointClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if class != rlModels.EndpointClass(d) {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}
}

type RouterSuite struct {
	suite.Suite
	auth   *mocks.MockAuthService
	admin  *mocks.MockAdminService
	router http.Handler
	member *models.User
	staff  *models.User
	root   *models.User
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.auth = mocks.NewMockAuthService(ctrl)
	s.admin = mocks.NewMockAdminService(ctrl)

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.member = models.NewUser("member@example.com", "member", "h", models.RoleUser, now)
	s.member.Status = models.StatusApproved
	s.staff = models.NewUser("staff@example.com", "staff", "h", models.RoleStaff, now)
	s.staff.Status = models.StatusApproved
	s.root = models.NewUser("root@example.com", "root", "h", models.RoleAdmin, now)

	s.router = NewRouter(Deps{
		Auth:  s.auth,
		Admin: s.admin,
		Authenticator: tokenTable{
			"member": s.member,
			"staff":  s.staff,
			"root":   s.root,
		},
		Throttler: denyClass(rlModels.ClassPasswordReset),
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		}),
		MetricsToken: "scrape",
		Health: map[string]HealthCheck{
			"redis": func(context.Context) error { return nil },
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func (s *RouterSuite) do(method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	req := testutil.NewJSONRequest(s.T(), method, path, body)
	if token != "" {
		testutil.WithBearer(req, token)
	}
	w := testutil.Serve(s.router, req)

	var decoded map[string]any
	if w.Body.Len() > 0 && strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		decoded = testutil.Decode[map[string]any](s.T(), w)
	}
	return w, decoded
}

func (s *RouterSuite) TestRegister() {
	s.Run("created", func() {
		req := &models.RegisterRequest{Email: "new@example.com", Username: "newbie", Password: "secret1"}
		s.auth.EXPECT().Register(gomock.Any(), req).Return(&models.AuthResult{Token: "tok", User: s.member}, nil)

		w, body := s.do(http.MethodPost, "/api/auth/register", "", req)

		s.Equal(http.StatusCreated, w.Code)
		s.Equal("tok", body["token"])
		s.NotEmpty(w.Header().Get("X-Request-ID"))
	})

	s.Run("malformed body never reaches the service", func() {
		w, _ := s.do(http.MethodPost, "/api/auth/register", "", "{nope")
		testutil.AssertError(s.T(), w, http.StatusBadRequest, string(dErrors.CodeBadRequest))
	})

	s.Run("unknown fields rejected", func() {
		w, _ := s.do(http.MethodPost, "/api/auth/register", "", `{"email":"a@b.co","admin":true}`)
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("conflict", func() {
		s.auth.EXPECT().Register(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeConflict, "User already exists"))

		w, body := s.do(http.MethodPost, "/api/auth/register", "", &models.RegisterRequest{Email: "dup@example.com"})

		s.Equal(http.StatusConflict, w.Code)
		s.Equal("User already exists", body["error_description"])
	})
}

func (s *RouterSuite) TestLogin() {
	s.Run("invalid credentials", func() {
		s.auth.EXPECT().Login(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeUnauthorized, "Invalid credentials"))

		w, body := s.do(http.MethodPost, "/api/auth/login", "", &models.LoginRequest{Identifier: "x", Password: "y"})

		s.Equal(http.StatusUnauthorized, w.Code)
		s.Equal("unauthorized", body["error"])
	})

	s.Run("internal errors hide their cause", func() {
		s.auth.EXPECT().Login(gomock.Any(), gomock.Any()).Return(nil, errors.New("pq: connection refused"))

		w, body := s.do(http.MethodPost, "/api/auth/login", "", &models.LoginRequest{Identifier: "x", Password: "y"})

		s.Equal(http.StatusInternalServerError, w.Code)
		s.Equal("internal_error", body["error"])
		s.NotContains(w.Body.String(), "pq:")
	})
}

func (s *RouterSuite) TestPasswordResetIsThrottled() {
	s.auth.EXPECT().ForgotPassword(gomock.Any(), gomock.Any()).Times(0)
	w, _ := s.do(http.MethodPost, "/api/auth/forgot-password", "", &models.ForgotPasswordRequest{Email: "a@b.co"})
	s.Equal(http.StatusTooManyRequests, w.Code)
}

func (s *RouterSuite) TestAuthenticatedRoutes() {
	s.Run("missing token", func() {
		w, body := s.do(http.MethodGet, "/api/auth/me", "", nil)
		s.Equal(http.StatusUnauthorized, w.Code)
		s.Equal("No token provided", body["error_description"])
	})

	s.Run("me", func() {
		s.auth.EXPECT().Me(gomock.Any(), s.member.ID).Return(s.member.Sanitized(), nil)
		w, body := s.do(http.MethodGet, "/api/auth/me", "member", nil)
		s.Equal(http.StatusOK, w.Code)
		s.Equal("member@example.com", body["email"])
		s.NotContains(w.Body.String(), "password")
	})

	s.Run("change password uses the caller's id", func() {
		req := &models.ChangePasswordRequest{CurrentPassword: "old-secret", NewPassword: "new-secret"}
		s.auth.EXPECT().ChangePassword(gomock.Any(), s.member.ID, req).Return(&models.AuthResult{Token: "fresh"}, nil)
		w, body := s.do(http.MethodPut, "/api/auth/change-password", "member", req)
		s.Equal(http.StatusOK, w.Code)
		s.Equal("fresh", body["token"])
	})

	s.Run("sessions marks the presented token", func() {
		s.auth.EXPECT().ListSessions(gomock.Any(), s.member.ID, sessionOf(s.member)).
			Return(&models.SessionsResult{Sessions: []models.SessionSummary{}}, nil)
		w, _ := s.do(http.MethodGet, "/api/auth/sessions", "member", nil)
		s.Equal(http.StatusOK, w.Code)
	})

	s.Run("revoke session by key", func() {
		key := sessionOf(s.member).String()
		s.auth.EXPECT().RevokeSession(gomock.Any(), s.member.ID, key).Return(nil)
		w, body := s.do(http.MethodDelete, "/api/auth/sessions/"+key, "member", nil)
		s.Equal(http.StatusOK, w.Code)
		s.Equal("Session revoked", body["message"])
	})

	s.Run("logout revokes the current session", func() {
		s.auth.EXPECT().Logout(gomock.Any(), sessionOf(s.member)).Return(nil)
		w, body := s.do(http.MethodPost, "/api/auth/logout", "member", nil)
		s.Equal(http.StatusOK, w.Code)
		s.Contains(body["message"], "/api/auth/logout-all")
	})

	s.Run("logout all", func() {
		s.auth.EXPECT().LogoutAll(gomock.Any(), s.member.ID).Return(&models.LogoutAllResult{RevokedCount: 3}, nil)
		w, body := s.do(http.MethodPost, "/api/auth/logout-all", "member", nil)
		s.Equal(http.StatusOK, w.Code)
		s.EqualValues(3, body["revoked_count"])
	})
}

func (s *RouterSuite) TestAdminRoutes() {
	target := id.NewUserID()
	base := "/api/admin/users/" + target.String()

	s.Run("regular user is forbidden", func() {
		w, body := s.do(http.MethodDelete, base, "member", nil)
		s.Equal(http.StatusForbidden, w.Code)
		s.Equal("user", body["user_role"])
		s.Equal([]any{"admin"}, body["required_roles"])
	})

	s.Run("admin deletes", func() {
		s.admin.EXPECT().DeleteUser(gomock.Any(), s.root.ID, target).Return(nil)
		w, _ := s.do(http.MethodDelete, base, "root", nil)
		s.Equal(http.StatusOK, w.Code)
	})

	s.Run("admin suspends", func() {
		req := &models.UpdateStatusRequest{Status: "suspended"}
		updated := *s.member
		updated.Status = models.StatusSuspended
		s.admin.EXPECT().SetStatus(gomock.Any(), s.root.ID, target, req).Return(&updated, nil)
		w, body := s.do(http.MethodPatch, base+"/status", "root", req)
		s.Equal(http.StatusOK, w.Code)
		s.Equal("suspended", body["status"])
	})

	s.Run("admin changes role", func() {
		req := &models.UpdateRoleRequest{Role: "staff"}
		s.admin.EXPECT().SetRole(gomock.Any(), s.root.ID, target, req).Return(s.staff, nil)
		w, _ := s.do(http.MethodPatch, base+"/role", "root", req)
		s.Equal(http.StatusOK, w.Code)
	})

	s.Run("staff may read sessions", func() {
		s.admin.EXPECT().UserSessions(gomock.Any(), target).Return(&models.SessionsResult{}, nil)
		w, _ := s.do(http.MethodGet, base+"/sessions", "staff", nil)
		s.Equal(http.StatusOK, w.Code)
	})

	s.Run("malformed id", func() {
		w, body := s.do(http.MethodDelete, "/api/admin/users/not-a-uuid", "root", nil)
		s.Equal(http.StatusBadRequest, w.Code)
		s.Equal(string(dErrors.CodeInvalidInput), body["error"])
	})
}

func (s *RouterSuite) TestOperationalRoutes() {
	w, body := s.do(http.MethodGet, "/healthz", "", nil)
	s.Equal(http.StatusOK, w.Code)
	s.Equal("ok", body["status"])

	r := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, r)
	s.Equal(http.StatusUnauthorized, rec.Code)

	r.Header.Set(admin.HeaderAdminToken, "scrape")
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, r)
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "# metrics")
}

func TestHealthDegraded(t *testing.T) {
	h := healthHandler(map[string]HealthCheck{
		"postgres": func(context.Context) error { return errors.New("down") },
		"redis":    func(context.Context) error { return nil },
	})
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, map[string]string{"postgres": "unavailable", "redis": "ok"}, body.Checks)
}

func (s *RouterSuite) TestPasswordChangeScenario() {
	t := s.T()
	var fresh string
	testutil.Given(t, "a signed-in member", func(t *testing.T) {
		testutil.When(t, "they change their password", func(t *testing.T) {
			req := &models.ChangePasswordRequest{CurrentPassword: "old-secret", NewPassword: "new-secret"}
			s.auth.EXPECT().ChangePassword(gomock.Any(), s.member.ID, req).
				Return(&models.AuthResult{Token: "rotated", User: s.member.Sanitized()}, nil)
			w, body := s.do(http.MethodPut, "/api/auth/change-password", "member", req)
			require.Equal(t, http.StatusOK, w.Code)
			fresh, _ = body["token"].(string)

			testutil.Then(t, "a replacement token is returned", func(t *testing.T) {
				assert.Equal(t, "rotated", fresh)
			})
		})
		testutil.When(t, "they get the current password wrong", func(t *testing.T) {
			s.auth.EXPECT().ChangePassword(gomock.Any(), s.member.ID, gomock.Any()).
				Return(nil, dErrors.New(dErrors.CodeBadRequest, "Current password is incorrect"))
			w, body := s.do(http.MethodPut, "/api/auth/change-password", "member",
				&models.ChangePasswordRequest{CurrentPassword: "guess", NewPassword: "new-secret"})

			testutil.Then(t, "the reason is specific", func(t *testing.T) {
				assert.Equal(t, http.StatusBadRequest, w.Code)
				assert.Equal(t, "Current password is incorrect", body["error_description"])
			})
		})
	})
}

func TestHandleMeDirect(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockAuthService(ctrl)
	h := &Handler{auth: svc, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	user := models.NewUser("direct@example.com", "direct", "h", models.RoleUser, time.Now())
	svc.EXPECT().Me(gomock.Any(), user.ID).Return(nil, dErrors.New(dErrors.CodeNotFound, "User not found"))

	req := testutil.AsUser(testutil.NewJSONRequest(t, http.MethodGet, "/api/auth/me", nil), user, sessionOf(user))
	w := httptest.NewRecorder()
	h.handleMe(w, req)

	testutil.AssertError(t, w, http.StatusNotFound, "not_found")
}
