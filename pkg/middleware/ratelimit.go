package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/platinummonkey/rbacadmin/pkg/httputil"
	"github.com/platinummonkey/rbacadmin/pkg/observability"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate
	BurstSize int
}

// DefaultRateLimitConfig returns default rate limit settings
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerWindow: 600,
		WindowDuration:    time.Minute,
		BurstSize:         50,
	}
}

func (c RateLimitConfig) withDefaults() RateLimitConfig {
	d := DefaultRateLimitConfig()
	if c.RequestsPerWindow <= 0 {
		c.RequestsPerWindow = d.RequestsPerWindow
	}
	if c.WindowDuration <= 0 {
		c.WindowDuration = d.WindowDuration
	}
	if c.BurstSize < 0 {
		c.BurstSize = 0
	}
	return c
}

// Decision is the outcome of one Allow call
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// Limiter decides whether key may make another request
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// maxTrackedClients bounds the in-process limiter table
const maxTrackedClients = 10000

// LocalLimiter is a per-key token bucket held in process. Idle keys expire
// after two windows.
type LocalLimiter struct {
	config  RateLimitConfig
	buckets *lru.LRU[string, *rate.Limiter]
}

// NewLocalLimiter creates an in-process limiter
func NewLocalLimiter(config RateLimitConfig) *LocalLimiter {
	config = config.withDefaults()
	return &LocalLimiter{
		config:  config,
		buckets: lru.NewLRU[string, *rate.Limiter](maxTrackedClients, nil, 2*config.WindowDuration),
	}
}

func (l *LocalLimiter) bucket(key string) *rate.Limiter {
	if b, ok := l.buckets.Get(key); ok {
		return b
	}
	every := l.config.WindowDuration / time.Duration(l.config.RequestsPerWindow)
	b := rate.NewLimiter(rate.Every(every), l.config.RequestsPerWindow+l.config.BurstSize)
	l.buckets.Add(key, b)
	return b
}

// Allow takes one token from key's bucket
func (l *LocalLimiter) Allow(_ context.Context, key string) (Decision, error) {
	b := l.bucket(key)
	now := time.Now()
	d := Decision{
		Allowed: b.AllowN(now, 1),
		Limit:   b.Burst(),
		Reset:   now.Add(l.config.WindowDuration),
	}
	if tokens := int(b.TokensAt(now)); tokens > 0 {
		d.Remaining = tokens
	}
	return d, nil
}

// RateLimit rejects requests over the limit with 429. Limiter errors fail
// open and are logged.
func RateLimit(limiter Limiter, key func(*http.Request) string, logger *observability.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := limiter.Allow(r.Context(), key(r))
			if err != nil {
				logger.WithError(err).Warn("rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))

			if !d.Allowed {
				retryAfter := int(time.Until(d.Reset).Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				httputil.WriteErrorMessage(w, http.StatusTooManyRequests, "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP keys by the first X-Forwarded-For hop when present, otherwise by
// the remote host without its port
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return "ip:" + strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return "ip:" + realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}
