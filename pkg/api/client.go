// Package api is the console's HTTP client for the RBAC backend.
//
// Every call goes through Client.Do, which routes the request (the four
// auth-exempt endpoints go straight to the backend, everything else through
// the same-origin proxy when one is configured), carries the session cookies,
// maps failures onto the error taxonomy and, on a 401 from a non-exempt
// endpoint, asks the installed Renewer for one refresh and replays the
// request once.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/net/publicsuffix"

	"github.com/platinummonkey/rbacadmin/pkg/contextkeys"
	"github.com/platinummonkey/rbacadmin/pkg/observability"
)

const name = "github.com/platinummonkey/rbacadmin/pkg/api"

// maxErrorBody bounds how much of an error response is read
const maxErrorBody = 1 << 20

// Expiry reasons passed to Renewer.Expire
const (
	ReasonRefreshFailed     = "refresh_failed"
	ReasonRetryUnauthorized = "retry_unauthorized"
)

// Renewer refreshes the token pair on behalf of the client. The token
// lifecycle manager implements it.
type Renewer interface {
	// Renew obtains a fresh token pair
	Renew(ctx context.Context) error
	// Expire clears the session after an unrecoverable 401
	Expire(ctx context.Context, reason string)
}

// Config locates the backend and the optional proxy
type Config struct {
	BackendURL string
	ProxyURL   string
	ProxyPath  string
	Timeout    time.Duration
}

// Request describes one backend call
type Request struct {
	Method   string
	Endpoint string
	Query    url.Values
	Body     interface{}
}

// Client talks to the backend
type Client struct {
	backend   *url.URL
	proxy     *url.URL
	proxyPath string

	httpClient *http.Client
	jar        http.CookieJar

	mu      sync.RWMutex
	renewer Renewer

	metrics *observability.Metrics
	logger  *observability.Logger
}

// Option configures a Client
type Option func(*Client)

// WithTransport replaces the base transport (wrapped with tracing)
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.httpClient.Transport = otelhttp.NewTransport(rt) }
}

// WithMetrics records per-request metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger
func WithLogger(l *observability.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a client with its own cookie jar
func New(cfg Config, opts ...Option) (*Client, error) {
	backend, err := url.Parse(cfg.BackendURL)
	if err != nil || backend.Host == "" {
		return nil, fmt.Errorf("invalid backend URL %q", cfg.BackendURL)
	}

	var proxy *url.URL
	if cfg.ProxyURL != "" {
		proxy, err = url.Parse(cfg.ProxyURL)
		if err != nil || proxy.Host == "" {
			return nil, fmt.Errorf("invalid proxy URL %q", cfg.ProxyURL)
		}
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		backend:   backend,
		proxy:     proxy,
		proxyPath: cfg.ProxyPath,
		jar:       jar,
		httpClient: &http.Client{
			Jar:       jar,
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SetRenewer installs the reactive refresh hook; nil disables it
func (c *Client) SetRenewer(r Renewer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.renewer = r
}

func (c *Client) getRenewer() Renewer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.renewer
}

// Jar returns the cookie jar holding the token cookies
func (c *Client) Jar() http.CookieJar {
	return c.jar
}

// CookieOrigins returns every origin the client sends requests to: the
// backend and, when configured, the proxy
func (c *Client) CookieOrigins() []*url.URL {
	origins := []*url.URL{c.backend}
	if c.proxy != nil {
		origins = append(origins, c.proxy)
	}
	return origins
}

// Do sends req and decodes a 2xx JSON body into out (which may be nil)
func (c *Client) Do(ctx context.Context, req Request, out interface{}) error {
	ctx, span := otel.Tracer(name).Start(ctx, "Client.Do()")
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", req.Method),
		attribute.String("rbacadmin.endpoint", metricEndpoint(req.Endpoint)),
	)

	var payload []byte
	if req.Body != nil {
		var err error
		payload, err = json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	err := c.doWithRenewal(ctx, req, payload, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Client) doWithRenewal(ctx context.Context, req Request, payload []byte, out interface{}) error {
	err := c.send(ctx, req, payload, out)
	if !IsAuthenticationFailure(err) {
		return err
	}

	renewer := c.getRenewer()
	if renewer == nil || IsExempt(req.Endpoint) || contextkeys.IsNoRenew(ctx) {
		return err
	}

	if renewErr := renewer.Renew(ctx); renewErr != nil {
		if errors.Is(renewErr, ErrSessionCleared) {
			return &AuthenticationError{Message: MessageAuthenticationFailed}
		}
		c.logger.Ctx(ctx).WithError(renewErr).WithField("endpoint", req.Endpoint).Warn("token renewal after 401 failed")
		renewer.Expire(ctx, ReasonRefreshFailed)
		return &AuthenticationError{Message: MessageAuthenticationFailed}
	}

	// one replay only
	err = c.send(ctx, req, payload, out)
	if IsAuthenticationFailure(err) {
		c.logger.Ctx(ctx).WithField("endpoint", req.Endpoint).Warn("request rejected again after renewal")
		renewer.Expire(ctx, ReasonRetryUnauthorized)
		return &AuthenticationError{Message: MessageAuthenticationFailed}
	}
	return err
}

func (c *Client) send(ctx context.Context, req Request, payload []byte, out interface{}) error {
	target := c.Resolve(req.Endpoint)
	if len(req.Query) > 0 {
		target.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	requestID := contextkeys.GetRequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
		ctx = contextkeys.WithRequestID(ctx, requestID)
	}
	httpReq.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	endpoint := metricEndpoint(req.Endpoint)
	if err != nil {
		c.metrics.RecordAPIRequest(req.Method, endpoint, 0, time.Since(start))
		c.logger.Ctx(ctx).WithError(err).WithFields(map[string]interface{}{
			"method":   req.Method,
			"endpoint": endpoint,
		}).Debug("backend request failed")
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()
	c.metrics.RecordAPIRequest(req.Method, endpoint, resp.StatusCode, time.Since(start))

	c.logger.Ctx(ctx).WithFields(map[string]interface{}{
		"method":   req.Method,
		"endpoint": endpoint,
		"status":   resp.StatusCode,
	}).Debug("backend request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return errorFromResponse(resp.StatusCode, data)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &ServerError{Status: resp.StatusCode, Message: fmt.Sprintf("invalid response body: %v", err)}
	}
	return nil
}

// Get issues a GET
func (c *Client) Get(ctx context.Context, endpoint string, query url.Values, out interface{}) error {
	return c.Do(ctx, Request{Method: http.MethodGet, Endpoint: endpoint, Query: query}, out)
}

// Post issues a POST with a JSON body
func (c *Client) Post(ctx context.Context, endpoint string, body, out interface{}) error {
	return c.Do(ctx, Request{Method: http.MethodPost, Endpoint: endpoint, Body: body}, out)
}

// Patch issues a PATCH with a JSON body
func (c *Client) Patch(ctx context.Context, endpoint string, body, out interface{}) error {
	return c.Do(ctx, Request{Method: http.MethodPatch, Endpoint: endpoint, Body: body}, out)
}

// Put issues a PUT with a JSON body
func (c *Client) Put(ctx context.Context, endpoint string, body, out interface{}) error {
	return c.Do(ctx, Request{Method: http.MethodPut, Endpoint: endpoint, Body: body}, out)
}

// Delete issues a DELETE
func (c *Client) Delete(ctx context.Context, endpoint string, out interface{}) error {
	return c.Do(ctx, Request{Method: http.MethodDelete, Endpoint: endpoint}, out)
}

// EscapeID escapes an opaque id for use as a path segment
func EscapeID(id string) string {
	return url.PathEscape(strings.TrimSpace(id))
}
