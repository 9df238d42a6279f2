package backendtest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	t       *testing.T
	backend *Backend
	token   string
}

func newHarness(t *testing.T) *harness {
	b := New()
	b.AddUser("admin@example.com", "secret", "Admin", "admin")
	h := &harness{t: t, backend: b}
	var resp TokenResponse
	rec := h.do(http.MethodPost, "/auth/sign-in", map[string]string{"email": "admin@example.com", "password": "secret"}, &resp)
	require.Equal(t, http.StatusOK, rec.Code)
	h.token = resp.AccessToken
	return h
}

func (h *harness) do(method, path string, body interface{}, out interface{}) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	rec := httptest.NewRecorder()
	h.backend.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

func message(t *testing.T, rec *httptest.ResponseRecorder) string {
	var body struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Message
}

func TestSignInIssuesTokensAndCookies(t *testing.T) {
	b := New()
	b.AddUser("a@example.com", "pw", "A", "admin")

	req := httptest.NewRequest(http.MethodPost, "/auth/sign-in", bytes.NewBufferString(`{"email":"A@example.com","password":"pw"}`))
	rec := httptest.NewRecorder()
	b.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, int64(900), resp.ExpiresIn)
	assert.Equal(t, []string{"admin"}, resp.User.Roles)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 2)
	assert.Equal(t, "accessToken", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, "refreshToken", cookies[1].Name)
}

func TestSignInRejectsBadPassword(t *testing.T) {
	b := New()
	b.AddUser("a@example.com", "pw", "A")

	req := httptest.NewRequest(http.MethodPost, "/auth/sign-in", bytes.NewBufferString(`{"email":"a@example.com","password":"nope"}`))
	rec := httptest.NewRecorder()
	b.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid email or password", message(t, rec))
}

func TestRefreshRotatesTokens(t *testing.T) {
	h := newHarness(t)
	var first TokenResponse
	h.token = ""
	h.do(http.MethodPost, "/auth/sign-in", map[string]string{"email": "admin@example.com", "password": "secret"}, &first)

	var second TokenResponse
	rec := h.do(http.MethodPost, "/auth/refresh", map[string]string{"refreshToken": first.RefreshToken}, &second)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, 1, h.backend.Refreshes())

	rec = h.do(http.MethodPost, "/auth/refresh", map[string]string{"refreshToken": first.RefreshToken}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "a rotated refresh token is single use")
}

func TestExpireAccessTokens(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/users/me", nil, nil).Code)

	h.backend.ExpireAccessTokens()
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/users/me", nil, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/roles", nil, nil).Code)
}

func TestStatus(t *testing.T) {
	h := newHarness(t)
	var status map[string]bool
	h.do(http.MethodGet, "/auth/status", nil, &status)
	assert.True(t, status["authenticated"])

	h.backend.ExpireAccessTokens()
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/auth/status", nil, nil).Code)

	h.token = ""
	status = nil
	h.do(http.MethodGet, "/auth/status", nil, &status)
	assert.False(t, status["authenticated"])
}

func TestPasswordReset(t *testing.T) {
	h := newHarness(t)
	h.do(http.MethodPost, "/auth/request-password-reset", map[string]string{"email": "admin@example.com"}, nil)
	token := h.backend.ResetToken("admin@example.com")
	require.NotEmpty(t, token)

	rec := h.do(http.MethodPost, "/auth/verify-password-reset", map[string]string{"token": token, "password": "new"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodPost, "/auth/verify-password-reset", map[string]string{"token": token, "password": "again"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	h.token = ""
	rec = h.do(http.MethodPost, "/auth/sign-in", map[string]string{"email": "admin@example.com", "password": "new"}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUniqueCodes(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodPost, "/resources", map[string]string{"code": "orders", "name": "Orders"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = h.do(http.MethodPost, "/resources", map[string]string{"code": "orders", "name": "Again"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 1, h.backend.Count(KindResources))
}

func TestPolicyDenormalization(t *testing.T) {
	h := newHarness(t)
	var resource, action, policy map[string]interface{}
	h.do(http.MethodPost, "/resources", map[string]string{"code": "orders", "name": "Orders"}, &resource)
	h.do(http.MethodPost, "/actions", map[string]string{"code": "create", "name": "Create"}, &action)
	rec := h.do(http.MethodPost, "/policies", map[string]interface{}{
		"resourceId": resource["id"],
		"actionId":   action["id"],
	}, &policy)
	require.Equal(t, http.StatusCreated, rec.Code)

	assert.Equal(t, "orders", policy["resource"].(map[string]interface{})["code"])
	assert.Equal(t, "create", policy["action"].(map[string]interface{})["code"])
	assert.Equal(t, true, policy["isActive"])

	rec = h.do(http.MethodDelete, "/resources/"+resource["id"].(string), nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "referenced resources cannot be deleted")
}

func TestBindingsConflictAndUserCount(t *testing.T) {
	h := newHarness(t)
	roleID := h.backend.Seed(KindRoles, map[string]interface{}{"code": "editor", "name": "Editor"})

	rec := h.do(http.MethodPost, "/user-roles", map[string]string{"userId": "u1", "roleId": roleID}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = h.do(http.MethodPost, "/user-roles", map[string]string{"userId": "u1", "roleId": roleID}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, message(t, rec), "already assigned")

	var role map[string]interface{}
	h.do(http.MethodGet, "/roles/"+roleID, nil, &role)
	assert.Equal(t, float64(1), role["userCount"])

	h.do(http.MethodDelete, "/roles/"+roleID, nil, nil)
	assert.Equal(t, 0, h.backend.Count(KindUserRoles))
}

func TestListPaginationAndFilters(t *testing.T) {
	h := newHarness(t)
	for _, code := range []string{"a", "b", "c"} {
		h.backend.Seed(KindActions, map[string]interface{}{"code": code, "name": "Action " + code})
	}
	h.backend.Seed(KindActions, map[string]interface{}{"code": "d", "name": "Inactive", "isActive": false})

	var page Page
	h.do(http.MethodGet, "/actions?page=2&limit=2", nil, &page)
	assert.Equal(t, 4, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Data, 2)
	assert.Equal(t, "c", page.Data[0]["code"])

	page = Page{}
	h.do(http.MethodGet, "/actions?isActive=false", nil, &page)
	assert.Equal(t, 1, page.Total)

	page = Page{}
	h.do(http.MethodGet, "/actions?search=ACTION%20b", nil, &page)
	assert.Equal(t, 1, page.Total)

	page = Page{}
	h.do(http.MethodGet, "/actions?sortBy=code&sortOrder=desc", nil, &page)
	assert.Equal(t, "d", page.Data[0]["code"])

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/actions?page=0", nil, nil).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/actions?limit=101", nil, nil).Code)
}

func TestUpdateIsPartial(t *testing.T) {
	h := newHarness(t)
	id := h.backend.Seed(KindRoles, map[string]interface{}{"code": "ops", "name": "Ops", "description": "keep"})

	var role map[string]interface{}
	rec := h.do(http.MethodPatch, "/roles/"+id, map[string]string{"name": "Operations"}, &role)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Operations", role["name"])
	assert.Equal(t, "keep", role["description"])

	rec = h.do(http.MethodPatch, "/roles/"+id, map[string]string{"code": "other"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLookup(t *testing.T) {
	h := newHarness(t)
	h.backend.Seed(KindResources, map[string]interface{}{"code": "orders", "name": "Orders"})
	h.backend.Seed(KindResources, map[string]interface{}{"code": "stores", "name": "Stores"})

	var items []LookupItem
	h.do(http.MethodGet, "/resources/lookup?q=ord", nil, &items)
	require.Len(t, items, 1)
	assert.Equal(t, "orders", items[0].Code)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/resources/lookup?limit=21", nil, nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/user-roles/lookup", nil, nil).Code)
}

func TestCallsAndFailureInjection(t *testing.T) {
	h := newHarness(t)
	h.do(http.MethodGet, "/roles", nil, nil)
	h.do(http.MethodGet, "/roles", nil, nil)
	assert.Equal(t, 2, h.backend.Calls("GET /roles"))
	assert.Equal(t, 1, h.backend.Calls("POST /auth/sign-in"))

	h.backend.Fail("GET /roles", http.StatusInternalServerError, "boom", 1)
	rec := h.do(http.MethodGet, "/roles", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "boom", message(t, rec))
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/roles", nil, nil).Code)

	h.backend.Fail("*", http.StatusServiceUnavailable, "down", -1)
	assert.Equal(t, http.StatusServiceUnavailable, h.do(http.MethodGet, "/actions", nil, nil).Code)
	h.backend.ClearFailures()
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/actions", nil, nil).Code)

	h.backend.ResetCalls()
	assert.Zero(t, h.backend.Calls("GET /roles"))
}
