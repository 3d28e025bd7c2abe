package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersRecordLabels(t *testing.T) {
	m := New()
	m.IncQuote("mx", "live")
	m.IncQuote("mx", "live")
	m.IncRelayTask("telegram", "")
	m.SetBreakerState("carrier", 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.quotes.WithLabelValues("mx", "live")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.relayTasks.WithLabelValues("telegram", "unknown")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.breakerState.WithLabelValues("carrier")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.IncQuote("mx", "live")
	m.IncCarrierCall("rate", "ok")
	m.ObserveHTTP(http.MethodGet, "/quote", http.StatusOK, time.Millisecond)
	assert.Nil(t, m.Registry())
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.ObserveHTTP(http.MethodPost, "/quote", http.StatusOK, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "http_requests_total"))
}
