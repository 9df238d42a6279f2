package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/rbacadmin/pkg/audit"
	"github.com/platinummonkey/rbacadmin/pkg/backendtest"
	"github.com/platinummonkey/rbacadmin/pkg/console"
	"github.com/platinummonkey/rbacadmin/pkg/storage"
)

type harness struct {
	t       *testing.T
	backend *backendtest.Backend
	app     *App
	out     *bytes.Buffer
	adminID string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	backend, ts := backendtest.NewServer(t)
	adminID := backend.AddUser("admin@example.com", "secret", "Admin", "admin")
	t.Setenv("RBACADMIN_BACKEND_URL", ts.URL)
	t.Setenv(PasswordEnv, "")
	t.Setenv("RBACADMIN_AUDIT_DIR", "")

	log := logrus.New()
	log.SetOutput(io.Discard)
	out := &bytes.Buffer{}
	// one store shared by every invocation stands in for the state directory
	kv := storage.NewMemoryStore()

	return &harness{
		t:       t,
		backend: backend,
		app:     NewApp(out, log, console.WithStorage(kv)),
		out:     out,
		adminID: adminID,
	}
}

func (h *harness) run(args ...string) (string, error) {
	h.out.Reset()
	err := h.app.Run(context.Background(), args)
	return h.out.String(), err
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run(args...)
	require.NoError(h.t, err, "rbacadmin %v", args)
	return out
}

func (h *harness) createID(args ...string) string {
	h.t.Helper()
	var created struct {
		ID string `json:"id"`
	}
	out := h.mustRun(append([]string{"--json"}, args...)...)
	require.NoError(h.t, json.Unmarshal([]byte(out), &created), out)
	require.NotEmpty(h.t, created.ID)
	return created.ID
}

func (h *harness) signIn() {
	h.t.Helper()
	h.mustRun("signin", "--email", "admin@example.com", "--password", "secret")
}

func TestUsage(t *testing.T) {
	h := newHarness(t)
	out := h.mustRun()
	assert.Contains(t, out, "Usage: rbacadmin")
	assert.Contains(t, out, "Commands:")
	for _, name := range []string{"signin", "roles", "role-policies", "user-roles", "matrix", "password-reset"} {
		assert.Contains(t, out, name)
	}

	out = h.mustRun("roles")
	assert.Contains(t, out, "lookup")
	assert.Contains(t, out, "update")
}

func TestUnknownCommand(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("grant")
	assert.EqualError(t, err, "unknown command: grant")

	_, err = h.run("roles", "get")
	assert.EqualError(t, err, "missing argument: id")
}

func TestSignInPersistsAcrossInvocations(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("whoami")
	assert.ErrorIs(t, err, ErrNotSignedIn)

	out := h.mustRun("signin", "-e", "admin@example.com", "-p", "secret")
	assert.Contains(t, out, "admin@example.com")

	out = h.mustRun("whoami")
	assert.Contains(t, out, "admin@example.com")
	assert.Contains(t, out, "yes", "admin flag")

	var status statusView
	require.NoError(t, json.Unmarshal([]byte(h.mustRun("--json", "status")), &status))
	assert.True(t, status.Authenticated)
	assert.Equal(t, "authenticated", status.State)
	assert.True(t, status.IsAdmin)
	assert.False(t, status.IsSuperAdmin)
	require.NotNil(t, status.AccessExpiry)
	assert.True(t, status.AccessExpiry.After(time.Now()))

	assert.Contains(t, h.mustRun("signout"), "Signed out")
	_, err = h.run("whoami")
	assert.ErrorIs(t, err, ErrNotSignedIn)
}

func TestSignInFailureRendersBackendMessage(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("signin", "--email", "admin@example.com", "--password", "wrong")
	require.Error(t, err)
	assert.Equal(t, "Invalid email or password", Render(err))
}

func TestPasswordFromEnvironment(t *testing.T) {
	h := newHarness(t)
	t.Setenv(PasswordEnv, "secret")
	out := h.mustRun("signin", "--email", "admin@example.com")
	assert.Contains(t, out, "admin@example.com")
}

func TestGraphWorkflow(t *testing.T) {
	h := newHarness(t)
	h.signIn()

	resourceID := h.createID("resources", "create", "--code", "orders", "--name", "Orders")
	actionID := h.createID("actions", "create", "--code", "read", "--name", "Read")
	policyID := h.createID("policies", "create", "--resource", resourceID, "--action", actionID)
	roleID := h.createID("roles", "create", "--code", "auditor", "--name", "Auditor")

	out := h.mustRun("policies", "list")
	assert.Contains(t, out, "orders:read")
	assert.Contains(t, out, "Page 1 of 1 (1 total)")

	out = h.mustRun("policies", "options")
	assert.Contains(t, out, "resource")
	assert.Contains(t, out, "orders")

	h.mustRun("role-policies", "assign", "--role", roleID, "--policy", policyID)
	_, err := h.run("role-policies", "assign", "--role", roleID, "--policy", policyID)
	require.Error(t, err)
	assert.Equal(t, "This assignment already exists.", Render(err))

	out = h.mustRun("matrix", "--role", roleID)
	assert.Contains(t, out, "orders:read")
	assert.Contains(t, out, "yes")

	h.mustRun("user-roles", "assign", "--user", h.adminID, "--role", roleID)
	out = h.mustRun("roles", "get", roleID)
	assert.Contains(t, out, "Auditor")

	out = h.mustRun("permissions")
	assert.Contains(t, out, "orders")
	assert.Contains(t, out, "read")

	out = h.mustRun("user-roles", "list", "--user", h.adminID)
	assert.Contains(t, out, roleID)
	assert.Equal(t, 2, strings.Count(out, h.adminID), "user and assigner")

	h.mustRun("role-policies", "unassign", "--role", roleID, "--policy", policyID)
	out = h.mustRun("matrix", "--role", roleID)
	assert.NotContains(t, out, "yes")

	out = h.mustRun("roles", "update", roleID, "--name", "Auditors")
	assert.Contains(t, out, "Auditors")

	out = h.mustRun("roles", "lookup", "aud")
	assert.Contains(t, out, "auditor")

	assert.Contains(t, h.mustRun("roles", "delete", roleID), "Deleted "+roleID)
	_, err = h.run("roles", "get", roleID)
	assert.Error(t, err)
}

func TestValidationHappensBeforeTheNetwork(t *testing.T) {
	h := newHarness(t)
	h.signIn()
	h.backend.ResetCalls()

	_, err := h.run("resources", "create", "--code", strings.Repeat("x", 65), "--name", "Orders")
	require.Error(t, err)
	assert.Contains(t, Render(err), "code")
	assert.Equal(t, 0, h.backend.Calls("POST /resources"))

	_, err = h.run("roles", "list", "--active", "maybe")
	assert.EqualError(t, err, "--active must be true or false")
}

func TestListFilters(t *testing.T) {
	h := newHarness(t)
	h.signIn()
	h.createID("roles", "create", "--code", "ops", "--name", "Operations")
	h.createID("roles", "create", "--code", "dev", "--name", "Developers", "--active=false")

	out := h.mustRun("roles", "list", "--active", "true")
	assert.Contains(t, out, "ops")
	assert.NotContains(t, out, "Developers")

	out = h.mustRun("roles", "list", "--search", "dev")
	assert.Contains(t, out, "Developers")
	assert.NotContains(t, out, "Operations")

	var page struct {
		Total int `json:"total"`
		Limit int `json:"limit"`
	}
	require.NoError(t, json.Unmarshal([]byte(h.mustRun("--json", "roles", "list", "--limit", "1")), &page))
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 1, page.Limit)
}

func TestPasswordReset(t *testing.T) {
	h := newHarness(t)
	out := h.mustRun("password-reset", "request", "--email", "admin@example.com")
	assert.NotEmpty(t, out)

	token := h.backend.ResetToken("admin@example.com")
	require.NotEmpty(t, token)
	h.mustRun("password-reset", "verify", "--token", token, "--password", "changed")

	_, err := h.run("signin", "--email", "admin@example.com", "--password", "secret")
	assert.Error(t, err)
	h.mustRun("signin", "--email", "admin@example.com", "--password", "changed")
}

func TestAuditTrail(t *testing.T) {
	h := newHarness(t)

	_, err := h.run("audit", "list")
	assert.ErrorIs(t, err, ErrAuditDisabled)

	dir := t.TempDir()
	t.Setenv("RBACADMIN_AUDIT_DIR", dir)

	h.signIn()
	roleID := h.createID("roles", "create", "--code", "auditor", "--name", "Auditor")
	_, err = h.run("roles", "create", "--code", "auditor", "--name", "Again")
	require.Error(t, err)

	var events []audit.Event
	require.NoError(t, json.Unmarshal([]byte(h.mustRun("--json", "audit", "list")), &events))
	require.Len(t, events, 3)
	assert.Equal(t, audit.EventSignIn, events[0].Type)
	assert.Equal(t, h.adminID, events[0].UserID)
	assert.Equal(t, roleID, events[1].TargetID)
	assert.Equal(t, audit.StatusFailure, events[2].Status)

	out := h.mustRun("audit", "list", "--type", "graph.", "--limit", "1")
	assert.Contains(t, out, "TARGET")
	assert.Contains(t, out, "failure")
	assert.NotContains(t, out, "session.sign_in")

	path := filepath.Join(t.TempDir(), "trail.csv")
	h.mustRun("audit", "export", "--format", "csv", "--kind", "roles", "-o", path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 3, "header plus two role events")

	out = h.mustRun("audit", "export", "--format", "ndjson", "--type", "session.sign_in")
	assert.Equal(t, 1, strings.Count(out, "\n"))

	_, err = h.run("audit", "export", "--format", "xml")
	assert.EqualError(t, err, "unsupported export format: xml")
	_, err = h.run("audit", "list", "--limit", "-1")
	assert.Error(t, err)
}
