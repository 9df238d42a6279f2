package observability

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_FreshRegistry(t *testing.T) {
	m := NewMetrics(nil)
	require.NotNil(t, m.Registry())
}

func TestMetrics_Recording(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordAPIRequest("GET", "/roles", 200, time.Millisecond)
	m.RecordAPIRequest("GET", "/roles", 0, time.Millisecond)
	m.RecordTokenRefresh("proactive", nil)
	m.RecordTokenRefresh("reactive", errors.New("expired"))
	m.RecordSessionClear("refresh_failed")
	m.SetSessionActive(true)
	m.RecordCacheLookup("roles", true)
	m.RecordCacheLookup("roles", false)
	m.RecordGraphMutation("role-policies", "create", nil)
	m.RecordProxyRequest("proxy", "GET", 200, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.APIRequestsTotal.WithLabelValues("GET", "/roles", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.APIRequestsTotal.WithLabelValues("GET", "/roles", "network_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokenRefreshTotal.WithLabelValues("proactive", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokenRefreshTotal.WithLabelValues("reactive", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionClearsTotal.WithLabelValues("refresh_failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHitsTotal.WithLabelValues("roles")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMissesTotal.WithLabelValues("roles")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GraphMutationsTotal.WithLabelValues("role-policies", "create", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProxyRequestsTotal.WithLabelValues("proxy", "GET", "200")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordAPIRequest("GET", "/roles", 200, time.Millisecond)
		m.RecordTokenRefresh("proactive", nil)
		m.RecordSessionClear("sign_out")
		m.SetSessionActive(false)
		m.RecordCacheLookup("roles", true)
		m.RecordGraphMutation("roles", "delete", nil)
		m.RecordProxyRequest("proxy", "GET", 200, time.Millisecond)
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.SetSessionActive(true)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(w.Result().Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "rbacadmin_session_active 1")
}
