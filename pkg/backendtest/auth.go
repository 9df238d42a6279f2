package backendtest

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/rbacadmin/pkg/httputil"
)

const refreshTTL = 7 * 24 * time.Hour

// TokenResponse mirrors the sign-in/refresh body
type TokenResponse struct {
	Message      string  `json:"message"`
	User         UserDTO `json:"user"`
	AccessToken  string  `json:"accessToken"`
	RefreshToken string  `json:"refreshToken"`
	ExpiresIn    int64   `json:"expiresIn"`
}

// UserDTO is the user projection returned by the backend
type UserDTO struct {
	ID       string   `json:"id"`
	Email    string   `json:"email"`
	Name     string   `json:"name"`
	Roles    []string `json:"roles"`
	IsActive bool     `json:"isActive"`
}

// AddUser registers a user and returns its id
func (b *Backend) AddUser(email, password, name string, roles ...string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addUserLocked(email, password, name, roles)
}

func (b *Backend) addUserLocked(email, password, name string, roles []string) string {
	u := &user{
		ID:       uuid.NewString(),
		Email:    strings.ToLower(email),
		Password: password,
		Name:     name,
		Roles:    roles,
		IsActive: true,
	}
	b.users[u.ID] = u
	b.usersByMail[u.Email] = u.ID
	return u.ID
}

// ExpireAccessTokens invalidates every access token, as if 15 minutes passed
func (b *Backend) ExpireAccessTokens() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.access = make(map[string]grant)
}

// RevokeRefreshTokens invalidates every refresh token
func (b *Backend) RevokeRefreshTokens() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh = make(map[string]grant)
}

// Refreshes counts successful token rotations
func (b *Backend) Refreshes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refreshes
}

// ResetToken returns the last reset token issued for email
func (b *Backend) ResetToken(email string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.usersByMail[strings.ToLower(email)]
	for token, uid := range b.resets {
		if uid == id {
			return token
		}
	}
	return ""
}

func (b *Backend) userDTOLocked(u *user) UserDTO {
	roles := append([]string(nil), u.Roles...)
	for _, ur := range b.kinds[KindUserRoles].ordered() {
		if ur.str("userId") != u.ID || !ur.boolean("isActive") {
			continue
		}
		if role, ok := b.kinds[KindRoles].items[ur.str("roleId")]; ok {
			roles = append(roles, role.str("code"))
		}
	}
	if roles == nil {
		roles = []string{}
	}
	return UserDTO{ID: u.ID, Email: u.Email, Name: u.Name, Roles: roles, IsActive: u.IsActive}
}

// issueLocked creates a new pair for userID and sets the cookies
func (b *Backend) issueLocked(w http.ResponseWriter, u *user, message string) TokenResponse {
	now := b.now()
	access := uuid.NewString()
	refresh := uuid.NewString()
	b.access[access] = grant{userID: u.ID, expiresAt: now.Add(b.accessTTL)}
	b.refresh[refresh] = grant{userID: u.ID, expiresAt: now.Add(refreshTTL)}

	http.SetCookie(w, &http.Cookie{Name: "accessToken", Value: access, Path: "/", MaxAge: int(b.accessTTL / time.Second), HttpOnly: true, SameSite: http.SameSiteLaxMode})
	http.SetCookie(w, &http.Cookie{Name: "refreshToken", Value: refresh, Path: "/", MaxAge: int(refreshTTL / time.Second), HttpOnly: true, SameSite: http.SameSiteLaxMode})

	return TokenResponse{
		Message:      message,
		User:         b.userDTOLocked(u),
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(b.accessTTL / time.Second),
	}
}

func bearer(r *http.Request) string {
	if c, err := r.Cookie("accessToken"); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// currentUserLocked resolves the caller from a live access token
func (b *Backend) currentUserLocked(r *http.Request) *user {
	token := bearer(r)
	if token == "" {
		return nil
	}
	g, ok := b.access[token]
	if !ok || !b.now().Before(g.expiresAt) {
		return nil
	}
	return b.users[g.userID]
}

func (b *Backend) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		u := b.currentUserLocked(r)
		b.mu.Unlock()
		if u == nil {
			httputil.WriteUnauthorized(w, "Unauthorized")
			return
		}
		next(w, r)
	}
}

func (b *Backend) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.users[b.usersByMail[strings.ToLower(req.Email)]]
	if !ok || u.Password != req.Password {
		httputil.WriteUnauthorized(w, "Invalid email or password")
		return
	}
	_ = httputil.WriteSuccess(w, b.issueLocked(w, u, "Signed in successfully"))
}

func (b *Backend) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		httputil.WriteBadRequest(w, "email and password are required")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.usersByMail[strings.ToLower(req.Email)]; exists {
		httputil.WriteConflict(w, "Email already registered")
		return
	}
	id := b.addUserLocked(req.Email, req.Password, req.Name, nil)
	_ = httputil.WriteCreated(w, b.issueLocked(w, b.users[id], "Signed up successfully"))
}

func (b *Backend) handleRequestReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	b.mu.Lock()
	if id, ok := b.usersByMail[strings.ToLower(req.Email)]; ok {
		b.resets[uuid.NewString()] = id
	}
	b.mu.Unlock()

	httputil.WriteMessage(w, "If the email is registered, a reset link has been sent")
}

func (b *Backend) handleVerifyReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.resets[req.Token]
	if !ok {
		httputil.WriteBadRequest(w, "Invalid or expired reset token")
		return
	}
	delete(b.resets, req.Token)
	b.users[id].Password = req.Password
	httputil.WriteMessage(w, "Password has been reset")
}

func (b *Backend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = httputil.ParseJSON(r, &req)
	if req.RefreshToken == "" {
		if c, err := r.Cookie("refreshToken"); err == nil {
			req.RefreshToken = c.Value
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.refresh[req.RefreshToken]
	if !ok || !b.now().Before(g.expiresAt) {
		httputil.WriteUnauthorized(w, "Invalid refresh token")
		return
	}
	u, ok := b.users[g.userID]
	if !ok {
		httputil.WriteUnauthorized(w, "Invalid refresh token")
		return
	}
	delete(b.refresh, req.RefreshToken)
	b.refreshes++
	_ = httputil.WriteSuccess(w, b.issueLocked(w, u, "Token refreshed"))
}

func (b *Backend) handleSignOut(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	if token := bearer(r); token != "" {
		delete(b.access, token)
	}
	if c, err := r.Cookie("refreshToken"); err == nil {
		delete(b.refresh, c.Value)
	}
	b.mu.Unlock()

	for _, name := range []string{"accessToken", "refreshToken"} {
		http.SetCookie(w, &http.Cookie{Name: name, Value: "", Path: "/", MaxAge: -1})
	}
	httputil.WriteMessage(w, "Signed out successfully")
}

// handleStatus answers false without credentials, 401 when only a refresh
// cookie is left (so the client renews), true with a live access token
func (b *Backend) handleStatus(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	u := b.currentUserLocked(r)
	b.mu.Unlock()

	if u != nil {
		_ = httputil.WriteSuccess(w, map[string]bool{"authenticated": true})
		return
	}
	if c, err := r.Cookie("refreshToken"); (err == nil && c.Value != "") || bearer(r) != "" {
		httputil.WriteUnauthorized(w, "Access token expired")
		return
	}
	_ = httputil.WriteSuccess(w, map[string]bool{"authenticated": false})
}

func (b *Backend) handleMe(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	u := b.currentUserLocked(r)
	if u == nil {
		httputil.WriteUnauthorized(w, "Unauthorized")
		return
	}
	_ = httputil.WriteSuccess(w, b.userDTOLocked(u))
}
