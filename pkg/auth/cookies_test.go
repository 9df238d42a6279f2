package auth

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCookieLifetimes(t *testing.T) {
	assert.Equal(t, 15*time.Minute, AccessTokenMaxAge)
	assert.Equal(t, 7*24*time.Hour, RefreshTokenMaxAge)
}

func TestNewTokenCookies(t *testing.T) {
	cookies := NewTokenCookies(TokenPair{AccessToken: "a", RefreshToken: "r"}, DefaultCookieOptions(true))
	require.Len(t, cookies, 2)

	access, refresh := cookies[0], cookies[1]
	assert.Equal(t, AccessTokenCookie, access.Name)
	assert.Equal(t, "a", access.Value)
	assert.Equal(t, 900, access.MaxAge)
	assert.Equal(t, RefreshTokenCookie, refresh.Name)
	assert.Equal(t, 604800, refresh.MaxAge)

	for _, c := range cookies {
		assert.True(t, c.HttpOnly)
		assert.True(t, c.Secure)
		assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
		assert.Equal(t, "/", c.Path)
	}
}

func TestNewTokenCookiesWithoutRefreshToken(t *testing.T) {
	cookies := NewTokenCookies(TokenPair{AccessToken: "a"}, CookieOptions{})
	require.Len(t, cookies, 1)
	assert.Equal(t, AccessTokenCookie, cookies[0].Name)
	assert.False(t, cookies[0].Secure)
	assert.Equal(t, 900, cookies[0].MaxAge, "zero options fall back to the standard lifetime")
}

func TestExpiredTokenCookies(t *testing.T) {
	cookies := ExpiredTokenCookies(false)
	require.Len(t, cookies, 2)
	for _, c := range cookies {
		assert.Equal(t, -1, c.MaxAge)
		assert.Empty(t, c.Value)
		assert.True(t, c.HttpOnly)
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unauthenticated", StateUnauthenticated.String())
	assert.Equal(t, "authenticated", StateAuthenticated.String())
	assert.Equal(t, "refreshing", StateRefreshing.String())
	assert.Equal(t, "expired", StateExpired.String())
}
