package api

import (
	"net/url"
	"strings"
)

// Auth endpoints that bypass the proxy and never trigger renewal.
// A 401 from them is a normal rejection.
const (
	EndpointSignIn               = "/auth/sign-in"
	EndpointSignUp               = "/auth/sign-up"
	EndpointRequestPasswordReset = "/auth/request-password-reset"
	EndpointVerifyPasswordReset  = "/auth/verify-password-reset"

	EndpointRefresh = "/auth/refresh"
	EndpointSignOut = "/auth/sign-out"
	EndpointStatus  = "/auth/status"
	EndpointMe      = "/users/me"
)

var exemptEndpoints = map[string]struct{}{
	EndpointSignIn:               {},
	EndpointSignUp:               {},
	EndpointRequestPasswordReset: {},
	EndpointVerifyPasswordReset:  {},
}

// IsExempt reports whether endpoint is one of the four auth-exempt endpoints
func IsExempt(endpoint string) bool {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		endpoint = endpoint[:i]
	}
	endpoint = "/" + strings.Trim(endpoint, "/")
	_, ok := exemptEndpoints[endpoint]
	return ok
}

// Resolve returns the absolute URL for endpoint: exempt endpoints and
// configurations without a proxy go straight to the backend, everything else
// goes through the proxy path.
func (c *Client) Resolve(endpoint string) *url.URL {
	if IsExempt(endpoint) || c.proxy == nil {
		return c.backend.JoinPath(endpoint)
	}
	return c.proxy.JoinPath(c.proxyPath, endpoint)
}

// metricEndpoint collapses ids so metric label cardinality stays bounded
func metricEndpoint(endpoint string) string {
	parts := strings.Split(strings.Trim(endpoint, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return "/"
	}
	if parts[0] == "auth" || parts[0] == "users" {
		return "/" + strings.Join(parts, "/")
	}
	out := "/" + parts[0]
	if len(parts) > 1 {
		if parts[1] == "lookup" {
			out += "/lookup"
		} else {
			out += "/{id}"
		}
	}
	return out
}
