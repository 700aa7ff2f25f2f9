// Package middleware throttles unauthenticated auth endpoints per client
// address.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"portal/internal/platform/metrics"
	"portal/internal/ratelimit/models"
	"portal/pkg/platform/audit"
	"portal/pkg/platform/circuit"
	"portal/pkg/platform/httputil"
	"portal/pkg/requestcontext"
)

// Store admits or rejects one request against a bucket.
type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Middleware checks the primary store and, once the breaker opens after
// repeated store errors, answers from the fallback store instead. Without a
// fallback, store errors let the request through.
type Middleware struct {
	primary        Store
	fallback       Store
	breaker        *circuit.Breaker
	limits         map[models.EndpointClass]models.Limit
	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher AuditPublisher
	disabled       bool
}

type Option func(*Middleware)

// WithDisabled turns throttling off entirely, for local demos.
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) { m.disabled = disabled }
}

// WithFallback sets the store used while the primary is failing.
func WithFallback(store Store) Option {
	return func(m *Middleware) { m.fallback = store }
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(m *Middleware) {
		if b != nil {
			m.breaker = b
		}
	}
}

// WithLimit overrides the limit of one class.
func WithLimit(class models.EndpointClass, limit models.Limit) Option {
	return func(m *Middleware) {
		if class.IsValid() && limit.Requests > 0 && limit.Window > 0 {
			m.limits[class] = limit
		}
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Middleware) { m.metrics = mt }
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(m *Middleware) { m.auditPublisher = p }
}

func New(store Store, logger *slog.Logger, opts ...Option) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Middleware{
		primary: store,
		breaker: circuit.New("ratelimit"),
		limits:  make(map[models.EndpointClass]models.Limit, len(models.DefaultLimits)),
		logger:  logger,
	}
	for class, limit := range models.DefaultLimits {
		m.limits[class] = limit
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// RateLimit throttles requests of class by client address.
func (m *Middleware) RateLimit(class models.EndpointClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.disabled {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			ip := requestcontext.ClientIP(ctx)
			limit, ok := m.limits[class]
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			result, degraded := m.check(ctx, models.NewIPKey(class, ip), limit)
			if result == nil {
				next.ServeHTTP(w, r)
				return
			}
			if degraded {
				w.Header().Set("X-RateLimit-Status", "degraded")
			}
			addRateLimitHeaders(w, result)

			if !result.Allowed {
				m.metrics.ObserveThrottled(string(class))
				m.logger.WarnContext(ctx, "rate limit exceeded",
					"class", string(class),
					"client_ip", ip,
					"request_id", requestcontext.RequestID(ctx),
				)
				m.emitAudit(ctx, class, ip)
				writeRateLimitExceeded(w, result)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// check returns nil when neither store could answer.
func (m *Middleware) check(ctx context.Context, key string, limit models.Limit) (*models.RateLimitResult, bool) {
	result, err := m.primary.Allow(ctx, key, limit.Requests, limit.Window)
	if err == nil {
		if _, change := m.breaker.RecordSuccess(); change.Closed {
			m.logger.InfoContext(ctx, "rate limit store recovered", "breaker", m.breaker.Name())
		}
		return result, false
	}

	useFallback, change := m.breaker.RecordFailure()
	if change.Opened {
		m.logger.WarnContext(ctx, "rate limit store failing, switching to fallback", "breaker", m.breaker.Name())
	}
	m.logger.ErrorContext(ctx, "rate limit check failed", "error", err)
	if !useFallback || m.fallback == nil {
		return nil, false
	}
	result, err = m.fallback.Allow(ctx, key, limit.Requests, limit.Window)
	if err != nil {
		m.logger.ErrorContext(ctx, "fallback rate limit check failed", "error", err)
		return nil, true
	}
	return result, true
}

func (m *Middleware) emitAudit(ctx context.Context, class models.EndpointClass, ip string) {
	if m.auditPublisher == nil {
		return
	}
	_ = m.auditPublisher.Emit(ctx, audit.Event{
		Timestamp: requestcontext.Now(ctx),
		Action:    string(audit.EventRateLimitExceeded),
		Reason:    string(class),
		IP:        ip,
		RequestID: requestcontext.RequestID(ctx),
	})
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, result *models.RateLimitResult) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.RateLimitExceededResponse{
		Error:      "too_many_requests",
		Message:    "Too many requests from this address. Please try again later.",
		RetryAfter: result.RetryAfter,
	})
}
