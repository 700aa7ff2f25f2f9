package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"portal/internal/ratelimit/models"
	"portal/internal/ratelimit/store/bucket"
	id "portal/pkg/domain"
	"portal/pkg/platform/audit"
	"portal/pkg/platform/audit/publisher"
	auditmemory "portal/pkg/platform/audit/store/memory"
	"portal/pkg/platform/circuit"
	"portal/pkg/requestcontext"
)

type RateLimitSuite struct {
	suite.Suite
	logger *slog.Logger
	now    time.Time
	store  *bucket.InMemoryBucketStore
	audit  *auditmemory.InMemoryStore
}

func TestRateLimitSuite(t *testing.T) {
	suite.Run(t, new(RateLimitSuite))
}

func (s *RateLimitSuite) SetupTest() {
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.now = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	s.store = bucket.New(bucket.WithClock(func() time.Time { return s.now }))
	s.audit = auditmemory.NewInMemoryStore()
}

func (s *RateLimitSuite) serve(m *Middleware, class models.EndpointClass, ip string) *httptest.ResponseRecorder {
	h := m.RateLimit(class)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	r := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	r = r.WithContext(requestcontext.WithClientMetadata(r.Context(), ip, "test"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func (s *RateLimitSuite) TestThrottlesPerAddress() {
	m := New(s.store, s.logger,
		WithLimit(models.ClassLogin, models.Limit{Requests: 2, Window: time.Minute}),
		WithAuditPublisher(publisher.NewPublisher(s.audit)),
	)

	for range 2 {
		w := s.serve(m, models.ClassLogin, "203.0.113.5")
		s.Equal(http.StatusNoContent, w.Code)
	}
	w := s.serve(m, models.ClassLogin, "203.0.113.5")
	s.Equal(http.StatusTooManyRequests, w.Code)
	s.Equal("60", w.Header().Get("Retry-After"))
	s.Equal("0", w.Header().Get("X-RateLimit-Remaining"))

	var body models.RateLimitExceededResponse
	s.Require().NoError(json.NewDecoder(w.Body).Decode(&body))
	s.Equal("too_many_requests", body.Error)

	events, err := s.audit.ListByUser(context.Background(), id.UserID{})
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(string(audit.EventRateLimitExceeded), events[0].Action)
	s.Equal("203.0.113.5", events[0].IP)

	s.Run("other addresses and classes are unaffected", func() {
		s.Equal(http.StatusNoContent, s.serve(m, models.ClassLogin, "203.0.113.6").Code)
		s.Equal(http.StatusNoContent, s.serve(m, models.ClassPasswordReset, "203.0.113.5").Code)
	})
}

func (s *RateLimitSuite) TestDisabled() {
	m := New(s.store, s.logger,
		WithDisabled(true),
		WithLimit(models.ClassLogin, models.Limit{Requests: 1, Window: time.Minute}),
	)
	for range 3 {
		s.Equal(http.StatusNoContent, s.serve(m, models.ClassLogin, "203.0.113.5").Code)
	}
}

func (s *RateLimitSuite) TestStoreFailureFailsOpenWithoutFallback() {
	m := New(failingStore{}, s.logger)
	w := s.serve(m, models.ClassLogin, "203.0.113.5")
	s.Equal(http.StatusNoContent, w.Code)
	s.Empty(w.Header().Get("X-RateLimit-Limit"))
}

func (s *RateLimitSuite) TestFallbackAfterBreakerOpens() {
	m := New(failingStore{}, s.logger,
		WithFallback(s.store),
		WithBreaker(circuit.New("ratelimit", circuit.WithFailureThreshold(2))),
		WithLimit(models.ClassLogin, models.Limit{Requests: 1, Window: time.Minute}),
	)

	w := s.serve(m, models.ClassLogin, "203.0.113.5")
	s.Equal(http.StatusNoContent, w.Code, "first failure is below the threshold")
	s.Empty(w.Header().Get("X-RateLimit-Status"))

	w = s.serve(m, models.ClassLogin, "203.0.113.5")
	s.Equal(http.StatusNoContent, w.Code)
	s.Equal("degraded", w.Header().Get("X-RateLimit-Status"))

	w = s.serve(m, models.ClassLogin, "203.0.113.5")
	s.Equal(http.StatusTooManyRequests, w.Code, "fallback enforces the limit")
}

func (s *RateLimitSuite) TestReturnsToPrimaryAfterRecovery() {
	primary := &flakyStore{down: true}
	m := New(primary, s.logger,
		WithFallback(s.store),
		WithBreaker(circuit.New("ratelimit-redis", circuit.WithFailureThreshold(1), circuit.WithSuccessThreshold(2))),
		WithLimit(models.ClassLogin, models.Limit{Requests: 5, Window: time.Minute}),
	)

	w := s.serve(m, models.ClassLogin, "203.0.113.5")
	s.Equal("degraded", w.Header().Get("X-RateLimit-Status"), "outage answers from the fallback")
	s.Equal("4", w.Header().Get("X-RateLimit-Remaining"))

	primary.setDown(false)
	for range 2 {
		w = s.serve(m, models.ClassLogin, "203.0.113.5")
		s.Equal(http.StatusNoContent, w.Code)
		s.Empty(w.Header().Get("X-RateLimit-Status"), "healthy primary answers directly")
		s.Equal("99", w.Header().Get("X-RateLimit-Remaining"))
	}
	s.Equal(2, primary.calls())

	s.Run("a fresh outage opens the breaker again", func() {
		primary.setDown(true)
		w := s.serve(m, models.ClassLogin, "203.0.113.5")
		s.Equal("degraded", w.Header().Get("X-RateLimit-Status"))
		s.Equal("3", w.Header().Get("X-RateLimit-Remaining"), "fallback window kept its earlier hit")
	})
}

// flakyStore fails while down and otherwise allows every request with a fixed
// Remaining of 99, so tests can tell which store responded.
type flakyStore struct {
	mu      sync.Mutex
	down    bool
	allowed int
}

func (f *flakyStore) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *flakyStore) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.allowed
}

func (f *flakyStore) Allow(_ context.Context, _ string, limit int, window time.Duration) (*models.RateLimitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, errors.New("connection refused")
	}
	f.allowed++
	return &models.RateLimitResult{Allowed: true, Limit: limit, Remaining: 99, ResetAt: time.Now().Add(window)}, nil
}

type failingStore struct{}

func (failingStore) Allow(context.Context, string, int, time.Duration) (*models.RateLimitResult, error) {
	return nil, errors.New("connection refused")
}
