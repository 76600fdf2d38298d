package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndGauge(t *testing.T) {
	m := New()
	m.DispatchAttempt("veo", "success")
	m.DispatchAttempt("veo", "success")
	m.DispatchAttempt("wan", "circuit_open")
	m.DispatchJob("started")
	m.CircuitState("veo", CircuitOpen)
	m.WebhookAttempt("retryable")
	m.WebhookIntake("wan", "duplicate")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.dispatchAttempts.WithLabelValues("veo", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatchAttempts.WithLabelValues("wan", "circuit_open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatchJobs.WithLabelValues("started")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.circuitState.WithLabelValues("veo")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.webhookAttempts.WithLabelValues("retryable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.webhookIntake.WithLabelValues("wan", "duplicate")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.DispatchJob("failed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `video_dispatch_jobs_total{result="failed"} 1`), body)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.DispatchAttempt("veo", "success")
	m.DispatchJob("started")
	m.CircuitState("veo", CircuitClosed)
	m.WebhookAttempt("success")
	m.WebhookIntake("veo", "processed")
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
