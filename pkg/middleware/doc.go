// Package middleware holds the proxy's HTTP middleware: request ids and
// per-client rate limiting, either in process or shared through Redis.
//
//	limiter := middleware.NewLocalLimiter(middleware.DefaultRateLimitConfig())
//	handler = middleware.RateLimit(limiter, middleware.ClientIP, logger)(handler)
package middleware
