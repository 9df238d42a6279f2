package auth

import (
	"net/http"
	"time"
)

// Token cookie names
const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"
)

// Cookie lifetimes. Both the client path (the console's own cookie jar) and
// the proxy's server route use these values.
const (
	AccessTokenMaxAge  = 15 * time.Minute
	RefreshTokenMaxAge = 7 * 24 * time.Hour
)

// TokenPair is the opaque access/refresh pair
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// CookieOptions controls the token cookies
type CookieOptions struct {
	Secure        bool
	AccessMaxAge  time.Duration
	RefreshMaxAge time.Duration
}

// DefaultCookieOptions uses the standard lifetimes; secure is set in
// production
func DefaultCookieOptions(secure bool) CookieOptions {
	return CookieOptions{
		Secure:        secure,
		AccessMaxAge:  AccessTokenMaxAge,
		RefreshMaxAge: RefreshTokenMaxAge,
	}
}

// NewTokenCookies builds the HttpOnly, SameSite=Lax cookies carrying pair.
// An empty refresh token only sets the access cookie.
func NewTokenCookies(pair TokenPair, opts CookieOptions) []*http.Cookie {
	if opts.AccessMaxAge <= 0 {
		opts.AccessMaxAge = AccessTokenMaxAge
	}
	if opts.RefreshMaxAge <= 0 {
		opts.RefreshMaxAge = RefreshTokenMaxAge
	}

	cookies := []*http.Cookie{
		tokenCookie(AccessTokenCookie, pair.AccessToken, opts.AccessMaxAge, opts.Secure),
	}
	if pair.RefreshToken != "" {
		cookies = append(cookies, tokenCookie(RefreshTokenCookie, pair.RefreshToken, opts.RefreshMaxAge, opts.Secure))
	}
	return cookies
}

// ExpiredTokenCookies builds cookies that delete both tokens
func ExpiredTokenCookies(secure bool) []*http.Cookie {
	access := tokenCookie(AccessTokenCookie, "", 0, secure)
	refresh := tokenCookie(RefreshTokenCookie, "", 0, secure)
	access.MaxAge, refresh.MaxAge = -1, -1
	access.Expires, refresh.Expires = time.Unix(0, 0), time.Unix(0, 0)
	return []*http.Cookie{access, refresh}
}

func tokenCookie(name, value string, maxAge time.Duration, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}
