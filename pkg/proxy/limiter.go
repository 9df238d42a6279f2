package proxy

import (
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/rbacadmin/pkg/config"
	"github.com/platinummonkey/rbacadmin/pkg/middleware"
)

const redisLimiterPrefix = "rbacadmin:ratelimit"

// NewLimiter builds the limiter described by cfg. It returns a nil limiter
// when limiting is off, and a Redis-backed one shared across instances when
// a Redis URL is configured. The returned close func is never nil.
func NewLimiter(cfg config.ProxyConfig) (middleware.Limiter, func() error, error) {
	noop := func() error { return nil }
	if cfg.RateLimit <= 0 {
		return nil, noop, nil
	}

	rl := middleware.RateLimitConfig{
		RequestsPerWindow: cfg.RateLimit,
		WindowDuration:    cfg.RateLimitWindow,
		BurstSize:         cfg.RateLimitBurst,
	}
	if cfg.RateLimitRedisURL == "" {
		return middleware.NewLocalLimiter(rl), noop, nil
	}

	opts, err := redis.ParseURL(cfg.RateLimitRedisURL)
	if err != nil {
		return nil, noop, fmt.Errorf("invalid rate limit redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	return middleware.NewRedisLimiter(client, rl, redisLimiterPrefix), client.Close, nil
}
