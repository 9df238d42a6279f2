// Package config loads console and proxy configuration.
//
// Values come from three layers, later layers winning:
//
//  1. Defaults (Default)
//  2. An optional YAML file (Load(path))
//  3. Environment variables prefixed RBACADMIN_
//
// # Environment
//
//	RBACADMIN_BACKEND_URL="http://localhost:3001"
//	RBACADMIN_PROXY_URL="http://localhost:8080"
//	RBACADMIN_PROXY_PATH="/api/proxy"
//	RBACADMIN_ENV="production"            # enables Secure cookies
//	RBACADMIN_REFRESH_INTERVAL="12m"
//	RBACADMIN_STORAGE_TYPE="filesystem"   # filesystem, sqlite, redis, memory
//	RBACADMIN_CACHE_TTL="5m"
//	RBACADMIN_LOG_LEVEL="info"
//	RBACADMIN_OTEL_ENABLED="true"
//
// # YAML
//
//	api:
//	  backend_url: https://rbac.internal.example.com
//	  proxy_url: https://console.example.com
//	auth:
//	  environment: production
//	storage:
//	  type: redis
//	  redis_url: redis://cache:6379/2
//	cache:
//	  ttl: 2m
package config
