package proxy

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/rbacadmin/pkg/auth"
	"github.com/platinummonkey/rbacadmin/pkg/httputil"
)

// createSession stores a token pair as HttpOnly cookies on the proxy origin
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var pair auth.TokenPair
	if !httputil.ParseJSONOrError(w, r, &pair) {
		return
	}
	pair.AccessToken = strings.TrimSpace(pair.AccessToken)
	pair.RefreshToken = strings.TrimSpace(pair.RefreshToken)
	if pair.AccessToken == "" {
		httputil.WriteBadRequest(w, "accessToken is required")
		return
	}

	for _, c := range auth.NewTokenCookies(pair, s.cookies) {
		http.SetCookie(w, c)
	}
	httputil.WriteMessage(w, "Session established")
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	for _, c := range auth.ExpiredTokenCookies(s.cookies.Secure) {
		http.SetCookie(w, c)
	}
	httputil.WriteMessage(w, "Session cleared")
}
