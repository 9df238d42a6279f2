package observability

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/rbacadmin/pkg/httputil"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// HealthChecker probes the backend and the optional client-state stores.
// The backend is required; the stores only degrade the status.
type HealthChecker struct {
	backendURL string
	httpClient *http.Client
	db         *sql.DB
	redis      *redis.Client
}

// HealthOption configures optional dependencies
type HealthOption func(*HealthChecker)

// WithDatabase adds a SQL client-state store to readiness checks
func WithDatabase(db *sql.DB) HealthOption {
	return func(h *HealthChecker) { h.db = db }
}

// WithRedis adds a Redis client-state store to readiness checks
func WithRedis(client *redis.Client) HealthOption {
	return func(h *HealthChecker) { h.redis = client }
}

// WithHTTPClient overrides the client used to probe the backend
func WithHTTPClient(client *http.Client) HealthOption {
	return func(h *HealthChecker) { h.httpClient = client }
}

// NewHealthChecker creates a health checker probing backendURL
func NewHealthChecker(backendURL string, opts ...HealthOption) *HealthChecker {
	h := &HealthChecker{
		backendURL: backendURL,
		httpClient: &http.Client{Timeout: 3 * time.Second},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Liveness always reports healthy while the process serves requests
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	_ = httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness reports 503 when the backend is unreachable
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	_ = httputil.WriteJSON(w, code, status)
}

// Check runs every configured probe
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Dependencies: make(map[string]DependencyStatus),
	}

	if h.backendURL != "" {
		backend := h.checkBackend(ctx)
		status.Dependencies["backend"] = backend
		if backend.Status == StatusUnhealthy {
			status.Status = StatusUnhealthy
		}
	}

	if h.db != nil {
		dbStatus := h.probe(func() error { return h.db.PingContext(ctx) })
		status.Dependencies["database"] = dbStatus
		status.Status = degrade(status.Status, dbStatus)
	}

	if h.redis != nil {
		redisStatus := h.probe(func() error { return h.redis.Ping(ctx).Err() })
		status.Dependencies["redis"] = redisStatus
		status.Status = degrade(status.Status, redisStatus)
	}

	return status
}

func (h *HealthChecker) checkBackend(ctx context.Context) DependencyStatus {
	return h.probe(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.backendURL, nil)
		if err != nil {
			return err
		}
		resp, err := h.httpClient.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		// Any HTTP answer, including 401 or 404, proves the backend is up.
		return nil
	})
}

func (h *HealthChecker) probe(fn func() error) DependencyStatus {
	start := time.Now()
	err := fn()
	status := DependencyStatus{
		Status:    StatusHealthy,
		Latency:   time.Since(start),
		Timestamp: time.Now(),
	}
	if err != nil {
		status.Status = StatusUnhealthy
		status.Message = err.Error()
	}
	return status
}

func degrade(current string, dep DependencyStatus) string {
	if dep.Status == StatusUnhealthy && current == StatusHealthy {
		return StatusDegraded
	}
	return current
}
