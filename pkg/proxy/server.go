package proxy

import (
	"fmt"
	"net/http"
	stdhttputil "net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/rbacadmin/pkg/auth"
	"github.com/platinummonkey/rbacadmin/pkg/httputil"
	"github.com/platinummonkey/rbacadmin/pkg/middleware"
	"github.com/platinummonkey/rbacadmin/pkg/observability"
)

// DefaultPrefix is the path the console's api client sends proxied calls to
const DefaultPrefix = "/api/proxy"

const sessionPath = "/api/auth/session"

// Server routes proxy, session, health and metrics requests
type Server struct {
	router  *mux.Router
	backend *url.URL
	prefix  string
	forward *stdhttputil.ReverseProxy

	log       *logrus.Logger
	metrics   *observability.Metrics
	health    *observability.HealthChecker
	limiter   middleware.Limiter
	cookies   auth.CookieOptions
	transport http.RoundTripper
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the operator log; the default writes to stderr
func WithLogger(log *logrus.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithMetrics records per-route request metrics and serves them on /metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLimiter rate limits the session and forwarded routes per client IP.
// Nil disables limiting.
func WithLimiter(l middleware.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithHealthChecker replaces the default backend-only readiness probe
func WithHealthChecker(h *observability.HealthChecker) Option {
	return func(s *Server) { s.health = h }
}

// WithCookieOptions sets the token cookie attributes for the session route
func WithCookieOptions(opts auth.CookieOptions) Option {
	return func(s *Server) { s.cookies = opts }
}

// WithPrefix changes the forwarded path prefix
func WithPrefix(prefix string) Option {
	return func(s *Server) { s.prefix = "/" + strings.Trim(prefix, "/") }
}

// WithTransport sets the round tripper used to reach the backend
func WithTransport(rt http.RoundTripper) Option {
	return func(s *Server) { s.transport = rt }
}

// New creates a proxy in front of backendURL
func New(backendURL string, opts ...Option) (*Server, error) {
	backend, err := url.Parse(backendURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}
	if backend.Scheme != "http" && backend.Scheme != "https" {
		return nil, fmt.Errorf("backend URL must be http or https, got %q", backendURL)
	}

	s := &Server{
		backend:   backend,
		prefix:    DefaultPrefix,
		log:       logrus.StandardLogger(),
		cookies:   auth.DefaultCookieOptions(false),
		transport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.health == nil {
		s.health = observability.NewHealthChecker(backend.String())
	}

	s.forward = &stdhttputil.ReverseProxy{
		Rewrite:      s.rewrite,
		Transport:    otelhttp.NewTransport(s.transport),
		ErrorHandler: s.backendError,
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(httputil.ObserveMiddleware(s.observe))

	r.HandleFunc("/health/live", s.health.Liveness).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", s.health.Readiness).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	r.Handle(sessionPath, s.limit(http.HandlerFunc(s.createSession))).Methods(http.MethodPost)
	r.Handle(sessionPath, s.limit(http.HandlerFunc(s.deleteSession))).Methods(http.MethodDelete)
	r.PathPrefix(s.prefix + "/").Handler(s.limit(s.forward))

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteNotFound(w, "Not found")
	})
	return r
}

func (s *Server) limit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	eventLog := observability.NewLogger(observability.WarnLevel, s.log.Out)
	return middleware.RateLimit(s.limiter, middleware.ClientIP, eventLog)(next)
}

// Handler returns the full middleware chain: tracing, panic recovery and
// request ids around the router
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router
	h = middleware.RequestID(h)
	h = httputil.RecoveryMiddleware(s.recovered)(h)
	return otelhttp.NewHandler(h, "rbacadmin-proxy")
}

// ServeHTTP serves the router without the outer chain
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) rewrite(pr *stdhttputil.ProxyRequest) {
	path := strings.TrimPrefix(pr.In.URL.Path, s.prefix)
	if path == "" {
		path = "/"
	}
	pr.Out.URL.Path = path
	pr.Out.URL.RawPath = ""
	pr.SetURL(s.backend)
	pr.SetXForwarded()
}

func (s *Server) backendError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
	}).WithError(err).Warn("backend request failed")
	httputil.WriteErrorMessage(w, http.StatusBadGateway, "Backend unavailable")
}

func (s *Server) observe(r *http.Request, status int, duration time.Duration) {
	route := r.URL.Path
	if current := mux.CurrentRoute(r); current != nil {
		if tmpl, err := current.GetPathTemplate(); err == nil {
			route = tmpl
		}
	}
	s.metrics.RecordProxyRequest(route, r.Method, status, duration)
	s.log.WithFields(logrus.Fields{
		"method":     r.Method,
		"route":      route,
		"status":     status,
		"duration":   duration,
		"request_id": r.Header.Get(middleware.RequestIDHeader),
	}).Debug("request served")
}

func (s *Server) recovered(rec interface{}, stack []byte) {
	s.log.WithField("stack", string(stack)).Errorf("panic serving request: %v", rec)
}
