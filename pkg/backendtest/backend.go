// Package backendtest is an in-memory implementation of the RBAC backend's
// REST contract for tests. It issues and rotates real opaque tokens, enforces
// unique codes and unique active bindings with 409s, denormalizes policy
// snapshots and role user counts, paginates, and lets tests count calls,
// force token expiry and inject failures.
package backendtest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/rbacadmin/pkg/httputil"
)

// Backend is the fake server state
type Backend struct {
	mu sync.Mutex

	router    *mux.Router
	accessTTL time.Duration
	now       func() time.Time

	users       map[string]*user // by id
	usersByMail map[string]string
	access      map[string]grant
	refresh     map[string]grant
	resets      map[string]string // token -> user id
	refreshes   int

	kinds map[string]*collection

	calls    map[string]int
	failures map[string]*failure
}

type user struct {
	ID       string
	Email    string
	Password string
	Name     string
	Roles    []string
	IsActive bool
}

type grant struct {
	userID    string
	expiresAt time.Time
}

type failure struct {
	status  int
	message string
	times   int
}

// Option configures the backend
type Option func(*Backend)

// WithAccessTTL sets the access token lifetime
func WithAccessTTL(d time.Duration) Option {
	return func(b *Backend) { b.accessTTL = d }
}

// New creates an empty backend
func New(opts ...Option) *Backend {
	b := &Backend{
		accessTTL:   15 * time.Minute,
		now:         time.Now,
		users:       make(map[string]*user),
		usersByMail: make(map[string]string),
		access:      make(map[string]grant),
		refresh:     make(map[string]grant),
		resets:      make(map[string]string),
		kinds:       newCollections(),
		calls:       make(map[string]int),
		failures:    make(map[string]*failure),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.router = b.routes()
	return b
}

// NewServer starts an httptest server for a new backend
func NewServer(t testing.TB, opts ...Option) (*Backend, *httptest.Server) {
	t.Helper()
	b := New(opts...)
	srv := httptest.NewServer(b)
	t.Cleanup(srv.Close)
	return b, srv
}

func (b *Backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.router.ServeHTTP(w, r)
}

func (b *Backend) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(b.instrument)

	r.HandleFunc("/auth/sign-in", b.handleSignIn).Methods(http.MethodPost)
	r.HandleFunc("/auth/sign-up", b.handleSignUp).Methods(http.MethodPost)
	r.HandleFunc("/auth/request-password-reset", b.handleRequestReset).Methods(http.MethodPost)
	r.HandleFunc("/auth/verify-password-reset", b.handleVerifyReset).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", b.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/auth/sign-out", b.handleSignOut).Methods(http.MethodPost)
	r.HandleFunc("/auth/status", b.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/users/me", b.authenticated(b.handleMe)).Methods(http.MethodGet)

	r.HandleFunc("/{kind}", b.authenticated(b.handleList)).Methods(http.MethodGet)
	r.HandleFunc("/{kind}", b.authenticated(b.handleCreate)).Methods(http.MethodPost)
	r.HandleFunc("/{kind}/lookup", b.authenticated(b.handleLookup)).Methods(http.MethodGet)
	r.HandleFunc("/{kind}/{id}", b.authenticated(b.handleGet)).Methods(http.MethodGet)
	r.HandleFunc("/{kind}/{id}", b.authenticated(b.handleUpdate)).Methods(http.MethodPatch, http.MethodPut)
	r.HandleFunc("/{kind}/{id}", b.authenticated(b.handleDelete)).Methods(http.MethodDelete)
	return r
}

// routeKey names a matched route, e.g. "GET /roles/{id}" or "POST /auth/refresh"
func routeKey(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return r.Method + " " + r.URL.Path
	}
	tmpl, err := route.GetPathTemplate()
	if err != nil {
		return r.Method + " " + r.URL.Path
	}
	if kind := mux.Vars(r)["kind"]; kind != "" {
		tmpl = strings.Replace(tmpl, "{kind}", kind, 1)
	}
	return r.Method + " " + tmpl
}

func (b *Backend) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := routeKey(r)

		b.mu.Lock()
		b.calls[key]++
		f := b.failures[key]
		if f == nil {
			f = b.failures["*"]
		}
		var status int
		var message string
		if f != nil && f.times != 0 {
			status, message = f.status, f.message
			if f.times > 0 {
				f.times--
			}
		}
		b.mu.Unlock()

		if status != 0 {
			httputil.WriteErrorMessage(w, status, message)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Calls returns how many requests hit route, e.g. "GET /users/me"
func (b *Backend) Calls(route string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[route]
}

// ResetCalls zeroes every counter
func (b *Backend) ResetCalls() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = make(map[string]int)
}

// Fail makes the next times requests to route answer status with message.
// Route "*" matches every route; times < 0 fails until ClearFailures.
func (b *Backend) Fail(route string, status int, message string, times int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[route] = &failure{status: status, message: message, times: times}
}

// ClearFailures removes all injected failures
func (b *Backend) ClearFailures() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = make(map[string]*failure)
}
