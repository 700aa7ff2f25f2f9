package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	UsersRegistered     prometheus.Counter
	Logins              *prometheus.CounterVec
	Authentications     *prometheus.CounterVec
	ConcurrencyWarnings prometheus.Counter
	SessionsSwept       prometheus.Counter
	PasswordResets      *prometheus.CounterVec
	Throttled           *prometheus.CounterVec
	AuditDropped        prometheus.Counter
	RequestDuration     *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics on the default registerer.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers on reg; tests pass a fresh prometheus.NewRegistry().
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		UsersRegistered: f.NewCounter(prometheus.CounterOpts{
			Name: "portal_users_registered_total",
			Help: "Total number of users registered",
		}),
		Logins: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_logins_total",
			Help: "Login attempts by outcome",
		}, []string{"outcome"}),
		Authentications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_authentications_total",
			Help: "Bearer token authentications by outcome",
		}, []string{"outcome"}),
		ConcurrencyWarnings: f.NewCounter(prometheus.CounterOpts{
			Name: "portal_session_concurrency_warnings_total",
			Help: "New sessions recorded while the user was above the concurrent session threshold",
		}),
		SessionsSwept: f.NewCounter(prometheus.CounterOpts{
			Name: "portal_sessions_swept_total",
			Help: "Expired session registry entries removed by the sweeper",
		}),
		PasswordResets: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_password_resets_total",
			Help: "Password reset flow steps by stage",
		}, []string{"stage"}),
		Throttled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_throttled_requests_total",
			Help: "Requests rejected by the rate limiter, by route class",
		}, []string{"class"}),
		AuditDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "portal_audit_events_dropped_total",
			Help: "Audit events dropped because the async buffer was full",
		}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "portal_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) IncrementUsersRegistered() {
	if m == nil {
		return
	}
	m.UsersRegistered.Inc()
}

func (m *Metrics) ObserveLogin(outcome string) {
	if m == nil {
		return
	}
	m.Logins.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveAuthentication(outcome string) {
	if m == nil {
		return
	}
	m.Authentications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementConcurrencyWarnings() {
	if m == nil {
		return
	}
	m.ConcurrencyWarnings.Inc()
}

func (m *Metrics) AddSessionsSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsSwept.Add(float64(n))
}

func (m *Metrics) ObservePasswordReset(stage string) {
	if m == nil {
		return
	}
	m.PasswordResets.WithLabelValues(stage).Inc()
}

func (m *Metrics) ObserveThrottled(class string) {
	if m == nil {
		return
	}
	m.Throttled.WithLabelValues(class).Inc()
}

func (m *Metrics) IncrementAuditDropped() {
	if m == nil {
		return
	}
	m.AuditDropped.Inc()
}

// ObserveRequest records one served request. route is the router pattern,
// never the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
