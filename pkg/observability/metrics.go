package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of the console and its proxy.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Backend API client
	APIRequestsTotal   *prometheus.CounterVec
	APIRequestDuration *prometheus.HistogramVec

	// Token lifecycle
	TokenRefreshTotal  *prometheus.CounterVec
	SessionClearsTotal *prometheus.CounterVec
	SessionActive      prometheus.Gauge

	// Query cache
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Authorization graph
	GraphMutationsTotal *prometheus.CounterVec

	// Proxy
	ProxyRequestsTotal   *prometheus.CounterVec
	ProxyRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics on registry.
// A nil registry gets a fresh one.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,
		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rbacadmin_api_requests_total",
				Help: "Total number of backend API requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		APIRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rbacadmin_api_request_duration_seconds",
				Help:    "Backend API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		TokenRefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rbacadmin_token_refresh_total",
				Help: "Token refresh attempts by trigger and outcome",
			},
			[]string{"trigger", "outcome"},
		),
		SessionClearsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rbacadmin_session_clears_total",
				Help: "Session clears by reason",
			},
			[]string{"reason"},
		),
		SessionActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rbacadmin_session_active",
				Help: "1 while a user is signed in",
			},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rbacadmin_query_cache_hits_total",
				Help: "Query cache hits by entity kind",
			},
			[]string{"kind"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rbacadmin_query_cache_misses_total",
				Help: "Query cache misses by entity kind",
			},
			[]string{"kind"},
		),
		GraphMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rbacadmin_graph_mutations_total",
				Help: "Authorization graph mutations by kind, operation and outcome",
			},
			[]string{"kind", "operation", "outcome"},
		),
		ProxyRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rbacadmin_proxy_requests_total",
				Help: "Requests served by the proxy",
			},
			[]string{"route", "method", "status"},
		),
		ProxyRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rbacadmin_proxy_request_duration_seconds",
				Help:    "Proxy request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
	}

	registry.MustRegister(
		m.APIRequestsTotal,
		m.APIRequestDuration,
		m.TokenRefreshTotal,
		m.SessionClearsTotal,
		m.SessionActive,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.GraphMutationsTotal,
		m.ProxyRequestsTotal,
		m.ProxyRequestDuration,
	)

	return m
}

// Registry returns the registry the metrics were registered on
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordAPIRequest records one backend request; status 0 means no response
func (m *Metrics) RecordAPIRequest(method, endpoint string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	statusLabel := "network_error"
	if status > 0 {
		statusLabel = strconv.Itoa(status)
	}
	m.APIRequestsTotal.WithLabelValues(method, endpoint, statusLabel).Inc()
	m.APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordTokenRefresh records a refresh attempt
func (m *Metrics) RecordTokenRefresh(trigger string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.TokenRefreshTotal.WithLabelValues(trigger, outcome).Inc()
}

// RecordSessionClear records a session clear
func (m *Metrics) RecordSessionClear(reason string) {
	if m == nil {
		return
	}
	m.SessionClearsTotal.WithLabelValues(reason).Inc()
}

// SetSessionActive flips the session gauge
func (m *Metrics) SetSessionActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.SessionActive.Set(1)
	} else {
		m.SessionActive.Set(0)
	}
}

// RecordCacheLookup records a query cache hit or miss
func (m *Metrics) RecordCacheLookup(kind string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(kind).Inc()
	} else {
		m.CacheMissesTotal.WithLabelValues(kind).Inc()
	}
}

// RecordGraphMutation records a create, update or delete on the graph
func (m *Metrics) RecordGraphMutation(kind, operation string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.GraphMutationsTotal.WithLabelValues(kind, operation, outcome).Inc()
}

// RecordProxyRequest records one request served by the proxy
func (m *Metrics) RecordProxyRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.ProxyRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.ProxyRequestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}
