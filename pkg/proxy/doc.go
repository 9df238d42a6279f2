// Package proxy implements rbacadmin-proxy, the same-origin front for the
// backend.
//
// Requests under /api/proxy/ are forwarded to the backend with their cookies,
// so token cookies set for the proxy origin reach the backend unchanged.
// POST and DELETE /api/auth/session set and expire those cookies from the
// server side. /health/live, /health/ready and /metrics sit outside the rate
// limit.
//
//	srv, err := proxy.New(cfg.API.BackendURL,
//		proxy.WithLogger(log),
//		proxy.WithMetrics(metrics),
//		proxy.WithLimiter(limiter),
//	)
//	http.ListenAndServe(cfg.Proxy.Addr(), srv.Handler())
package proxy
