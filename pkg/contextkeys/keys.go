// Package contextkeys provides centralized context key definitions
//
// All context keys used across the console must be defined here so that
// producers and consumers agree on a single typed key.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/rbacadmin/pkg/contextkeys"
//	ctx = contextkeys.WithRequestID(ctx, id)
//	id := contextkeys.GetRequestID(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestIDKey contains the request ID string (UUID)
	// Set by: api.Client before each outbound request, proxy middleware
	// Used by: Logger.Ctx, X-Request-ID header
	// Type: string
	RequestIDKey Key = "request_id"

	// UserIDKey contains the signed-in user ID string
	// Set by: rbac.Collection for every graph operation
	// Used by: Logger.Ctx, audit events
	// Type: string
	UserIDKey Key = "user_id"

	// NoRenewKey marks a request that must not trigger reactive token renewal
	// Set by: auth.Manager for the refresh and sign-out calls
	// Used by: api.Client
	// Type: bool
	NoRenewKey Key = "no_renew"
)

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithNoRenew marks the context so that a 401 is returned as-is
func WithNoRenew(ctx context.Context) context.Context {
	return context.WithValue(ctx, NoRenewKey, true)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}

// IsNoRenew reports whether reactive renewal is disabled for this context
func IsNoRenew(ctx context.Context) bool {
	noRenew, _ := ctx.Value(NoRenewKey).(bool)
	return noRenew
}
