package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestMetrics(t *testing.T) {
	m := NewWithRegisterer(prometheus.NewRegistry())

	m.IncrementUsersRegistered()
	m.ObserveAuthentication("expired")
	m.ObserveAuthentication("expired")
	m.AddSessionsSwept(3)
	m.AddSessionsSwept(0)

	assert.Equal(t, 1.0, counterValue(t, m.UsersRegistered))
	assert.Equal(t, 2.0, counterValue(t, m.Authentications.WithLabelValues("expired")))
	assert.Equal(t, 3.0, counterValue(t, m.SessionsSwept))
}

func TestObserveRequest(t *testing.T) {
	m := NewWithRegisterer(prometheus.NewRegistry())
	m.ObserveRequest("POST", "/api/auth/login", 401, 20*time.Millisecond)
	m.ObserveRequest("POST", "/api/auth/login", 401, 30*time.Millisecond)

	var out dto.Metric
	obs, err := m.RequestDuration.GetMetricWithLabelValues("POST", "/api/auth/login", "401")
	require.NoError(t, err)
	require.NoError(t, obs.(prometheus.Histogram).Write(&out))
	assert.Equal(t, uint64(2), out.GetHistogram().GetSampleCount())
	assert.InDelta(t, 0.05, out.GetHistogram().GetSampleSum(), 1e-9)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncrementUsersRegistered()
		m.ObserveLogin("success")
		m.ObserveAuthentication("ok")
		m.IncrementConcurrencyWarnings()
		m.AddSessionsSwept(1)
		m.ObservePasswordReset("requested")
		m.ObserveThrottled("login")
		m.IncrementAuditDropped()
		m.ObserveRequest("GET", "/healthz", 200, time.Millisecond)
	})
}
