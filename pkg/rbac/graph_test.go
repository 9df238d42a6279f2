package rbac

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/rbacadmin/pkg/api"
	"github.com/platinummonkey/rbacadmin/pkg/audit"
	"github.com/platinummonkey/rbacadmin/pkg/auth"
	"github.com/platinummonkey/rbacadmin/pkg/backendtest"
	"github.com/platinummonkey/rbacadmin/pkg/cache"
	"github.com/platinummonkey/rbacadmin/pkg/session"
	"github.com/platinummonkey/rbacadmin/pkg/storage"
)

type env struct {
	backend *backendtest.Backend
	server  *httptest.Server
	store   *session.Store
	graph   *Graph
	audit   *audit.MemoryLogger
	userID  string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	backend, server := backendtest.NewServer(t)
	userID := backend.AddUser("admin@example.com", "secret", "Admin", "admin")

	client, err := api.New(api.Config{BackendURL: server.URL})
	require.NoError(t, err)

	store := session.NewStore()
	queries := cache.New(cache.Config{Size: 128, TTL: time.Minute}, nil)
	manager := auth.NewManager(client, store, session.NewUserCache(storage.NewMemoryStore()), auth.Config{},
		auth.WithQueryCache(queries))
	t.Cleanup(manager.Close)

	_, err = manager.SignIn(context.Background(), auth.Credentials{Email: "admin@example.com", Password: "secret"})
	require.NoError(t, err)

	trail := audit.NewMemoryLogger()
	return &env{
		backend: backend,
		server:  server,
		store:   store,
		graph:   NewGraph(client, queries, store, WithAuditor(trail)),
		audit:   trail,
		userID:  userID,
	}
}

func (e *env) resource(t *testing.T, code string) *Resource {
	t.Helper()
	r, err := e.graph.Resources.Create(context.Background(), EntityInput{Code: code, Name: strings.ToUpper(code)})
	require.NoError(t, err)
	return r
}

func (e *env) action(t *testing.T, code string) *Action {
	t.Helper()
	a, err := e.graph.Actions.Create(context.Background(), EntityInput{Code: code, Name: strings.ToUpper(code)})
	require.NoError(t, err)
	return a
}

func (e *env) policy(t *testing.T, resourceCode, actionCode string) *Policy {
	t.Helper()
	return e.policyFor(t, e.resource(t, resourceCode), e.action(t, actionCode))
}

func (e *env) policyFor(t *testing.T, r *Resource, a *Action) *Policy {
	t.Helper()
	p, err := e.graph.Policies.Create(context.Background(), PolicyInput{ResourceID: r.ID, ActionID: a.ID})
	require.NoError(t, err)
	return p
}

func (e *env) role(t *testing.T, code string) *Role {
	t.Helper()
	r, err := e.graph.Roles.Create(context.Background(), EntityInput{Code: code, Name: strings.ToUpper(code)})
	require.NoError(t, err)
	return r
}

func TestPolicyEmbedsResourceAndAction(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.graph.Resources.Create(ctx, EntityInput{Code: "orders", Name: "Orders"})
	require.NoError(t, err)
	act, err := e.graph.Actions.Create(ctx, EntityInput{Code: "create", Name: "Create"})
	require.NoError(t, err)

	p, err := e.graph.Policies.Create(ctx, PolicyInput{ResourceID: res.ID, ActionID: act.ID})
	require.NoError(t, err)

	require.NotNil(t, p.Resource)
	require.NotNil(t, p.Action)
	assert.Equal(t, "orders", p.Resource.Code)
	assert.Equal(t, "create", p.Action.Code)
	assert.True(t, p.IsActive)
	assert.Equal(t, "orders:create", p.Permission().String())
}

func TestCreateValidatesBeforeNetwork(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		input EntityInput
		field string
	}{
		{"missing code", EntityInput{Name: "Orders"}, "code"},
		{"blank name", EntityInput{Code: "orders", Name: "  "}, "name"},
		{"blank code", EntityInput{Code: "   ", Name: "Orders"}, "code"},
		{"long code", EntityInput{Code: strings.Repeat("a", 65), Name: "A"}, "code"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.graph.Resources.Create(ctx, tt.input)
			var verr *api.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	role, err := e.graph.Roles.Create(ctx, EntityInput{Code: "SUPER_ADMIN", Name: "Super admin"})
	require.NoError(t, err, "codes are not case restricted")
	assert.Equal(t, "SUPER_ADMIN", role.Code)

	_, err = e.graph.Policies.Create(ctx, PolicyInput{ResourceID: "r1"})
	var verr *api.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "actionId", verr.Field)

	_, err = e.graph.Roles.Update(ctx, "some-id", EntityUpdate{Name: String("")})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "name", verr.Field)

	assert.Zero(t, e.backend.Calls("POST /resources"))
	assert.Zero(t, e.backend.Calls("POST /policies"))
	assert.Zero(t, e.backend.Calls("PATCH /roles/{id}"))
}

func TestDuplicateCodeIsConflict(t *testing.T) {
	e := newEnv(t)
	e.resource(t, "orders")

	_, err := e.graph.Resources.Create(context.Background(), EntityInput{Code: "orders", Name: "Again"})
	var cerr *api.ConflictError
	require.ErrorAs(t, err, &cerr)
	assert.False(t, cerr.AlreadyAssigned())
	assert.Equal(t, 1, e.backend.Count(backendtest.KindResources))
}

func TestMutationsRequireSession(t *testing.T) {
	e := newEnv(t)
	e.store.Clear()

	_, err := e.graph.Resources.Create(context.Background(), EntityInput{Code: "orders", Name: "Orders"})
	assert.ErrorIs(t, err, ErrSignInRequired)
	assert.Zero(t, e.backend.Calls("POST /resources"))
}

func TestReadsAreCachedUntilMutation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.resource(t, "orders")

	for i := 0; i < 3; i++ {
		page, err := e.graph.Resources.List(ctx, ListFilter{})
		require.NoError(t, err)
		assert.Equal(t, 1, page.Total)
	}
	assert.Equal(t, 1, e.backend.Calls("GET /resources"))

	// a rejected mutation leaves the cache alone
	_, err := e.graph.Resources.Create(ctx, EntityInput{Code: "orders", Name: "Dup"})
	require.Error(t, err)
	_, err = e.graph.Resources.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, e.backend.Calls("GET /resources"))

	e.resource(t, "stores")
	page, err := e.graph.Resources.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 2, e.backend.Calls("GET /resources"))
}

func TestListReturnsCopies(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.resource(t, "orders")

	page, err := e.graph.Resources.List(ctx, ListFilter{})
	require.NoError(t, err)
	page.Data[0].Name = "mutated"

	again, err := e.graph.Resources.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, "ORDERS", again.Data[0].Name)
}

func TestResourceUpdateRefreshesPolicySnapshots(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := e.policy(t, "orders", "read")

	cached, err := e.graph.Policies.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "ORDERS", cached.Resource.Name)

	_, err = e.graph.Resources.Update(ctx, p.ResourceID, EntityUpdate{Name: String("Customer orders")})
	require.NoError(t, err)

	fresh, err := e.graph.Policies.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Customer orders", fresh.Resource.Name)
	assert.Equal(t, 2, e.backend.Calls("GET /policies/{id}"))
}

func TestUpdateIsPartial(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	role, err := e.graph.Roles.Create(ctx, EntityInput{Code: "ops", Name: "Ops", Description: String("keep me")})
	require.NoError(t, err)

	updated, err := e.graph.Roles.Update(ctx, role.ID, EntityUpdate{IsActive: Bool(false)})
	require.NoError(t, err)
	assert.False(t, updated.IsActive)
	assert.Equal(t, "Ops", updated.Name)
	require.NotNil(t, updated.Description)
	assert.Equal(t, "keep me", *updated.Description)
}

func TestDeleteAndNotFound(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	role := e.role(t, "temp")

	require.NoError(t, e.graph.Roles.Delete(ctx, role.ID))

	_, err := e.graph.Roles.Get(ctx, role.ID)
	var nf *api.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestSetRolePolicy(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	role := e.role(t, "editor")
	p := e.policy(t, "orders", "update")

	rp, err := e.graph.SetRolePolicy(ctx, role.ID, p.ID, true)
	require.NoError(t, err)
	require.NotNil(t, rp)
	assert.True(t, rp.IsActive)

	_, err = e.graph.SetRolePolicy(ctx, role.ID, p.ID, true)
	var cerr *api.ConflictError
	require.ErrorAs(t, err, &cerr)
	assert.True(t, cerr.AlreadyAssigned())
	assert.Equal(t, "This assignment already exists.", api.UserMessage(err))
	assert.Equal(t, 1, e.backend.Count(backendtest.KindRolePolicies))

	_, err = e.graph.SetRolePolicy(ctx, role.ID, p.ID, false)
	require.NoError(t, err)
	assert.Zero(t, e.backend.Count(backendtest.KindRolePolicies))

	// switching off an unassigned pair is a no-op
	_, err = e.graph.SetRolePolicy(ctx, role.ID, p.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 1, e.backend.Calls("DELETE /role-policies/{id}"))

	again, err := e.graph.SetRolePolicy(ctx, role.ID, p.ID, true)
	require.NoError(t, err)
	assert.NotEqual(t, rp.ID, again.ID, "a re-created binding is a new row")
	policies, err := e.graph.PoliciesForRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Len(t, policies, 1)
}

func TestSetUserRoleRecordsAssigner(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	role := e.role(t, "viewer")

	before, err := e.graph.Roles.Get(ctx, role.ID)
	require.NoError(t, err)
	assert.Zero(t, before.UserCount)

	ur, err := e.graph.SetUserRole(ctx, "user-42", role.ID, true)
	require.NoError(t, err)
	require.NotNil(t, ur.AssignedBy)
	assert.Equal(t, e.userID, *ur.AssignedBy)

	after, err := e.graph.Roles.Get(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, after.UserCount, "user-role mutations invalidate roles")

	_, err = e.graph.SetUserRole(ctx, "user-42", role.ID, false)
	require.NoError(t, err)
	assert.Zero(t, e.backend.Count(backendtest.KindUserRoles))
}

func TestPoliciesForRoleAndRolesForUser(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	role := e.role(t, "editor")
	other := e.role(t, "auditor")
	p1 := e.policy(t, "orders", "read")
	p2 := e.policy(t, "stores", "write")

	for _, pid := range []string{p1.ID, p2.ID} {
		_, err := e.graph.SetRolePolicy(ctx, role.ID, pid, true)
		require.NoError(t, err)
	}
	for _, rid := range []string{role.ID, other.ID} {
		_, err := e.graph.SetUserRole(ctx, "user-1", rid, true)
		require.NoError(t, err)
	}

	policies, err := e.graph.PoliciesForRole(ctx, role.ID)
	require.NoError(t, err)
	require.Len(t, policies, 2)
	assert.Equal(t, p1.ID, policies[0].ID)
	assert.Equal(t, p2.ID, policies[1].ID)

	roles, err := e.graph.RolesForUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, role.ID, roles[0].ID)

	none, err := e.graph.PoliciesForRole(ctx, other.ID)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAssignmentMatrix(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	role := e.role(t, "editor")
	read := e.action(t, "read")
	p1 := e.policyFor(t, e.resource(t, "orders"), read)
	p2 := e.policyFor(t, e.resource(t, "stores"), read)

	rp, err := e.graph.SetRolePolicy(ctx, role.ID, p2.ID, true)
	require.NoError(t, err)

	rows, err := e.graph.AssignmentMatrix(ctx, role.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byPolicy := map[string]MatrixRow{}
	for _, r := range rows {
		byPolicy[r.Policy.ID] = r
	}
	assert.False(t, byPolicy[p1.ID].Assigned)
	assert.Empty(t, byPolicy[p1.ID].BindingID)
	assert.True(t, byPolicy[p2.ID].Assigned)
	assert.Equal(t, rp.ID, byPolicy[p2.ID].BindingID)
}

func TestAllWalksEveryPage(t *testing.T) {
	e := newEnv(t)
	for i := 0; i < 105; i++ {
		e.backend.Seed(backendtest.KindActions, map[string]interface{}{
			"code": fmt.Sprintf("action-%03d", i),
			"name": "Action",
		})
	}

	all, err := e.graph.Actions.All(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 105)
	assert.Equal(t, 2, e.backend.Calls("GET /actions"))
}

func TestPolicyFormOptions(t *testing.T) {
	e := newEnv(t)
	e.resource(t, "orders")
	e.resource(t, "stores")
	e.action(t, "read")

	opts, err := e.graph.PolicyFormOptions(context.Background())
	require.NoError(t, err)
	assert.Len(t, opts.Resources, 2)
	require.Len(t, opts.Actions, 1)
	assert.Equal(t, "read", opts.Actions[0].Code)
}

func TestLookupBounds(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.resource(t, "orders")

	items, err := e.graph.Resources.Lookup(ctx, "ord", 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "orders", items[0].Code)

	_, err = e.graph.Resources.Lookup(ctx, "", 21)
	var verr *api.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "limit", verr.Field)
}

func TestEffectivePermissions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	role := e.role(t, "editor")
	inactive := e.role(t, "retired")
	read := e.policy(t, "orders", "read")
	write := e.policy(t, "stores", "write")

	_, err := e.graph.SetRolePolicy(ctx, role.ID, read.ID, true)
	require.NoError(t, err)
	_, err = e.graph.SetRolePolicy(ctx, inactive.ID, write.ID, true)
	require.NoError(t, err)
	_, err = e.graph.Roles.Update(ctx, inactive.ID, EntityUpdate{IsActive: Bool(false)})
	require.NoError(t, err)

	for _, rid := range []string{role.ID, inactive.ID} {
		_, err := e.graph.SetUserRole(ctx, "user-7", rid, true)
		require.NoError(t, err)
	}

	perms, err := e.graph.EffectivePermissions(ctx, "user-7")
	require.NoError(t, err)
	require.Len(t, perms, 1)
	assert.Equal(t, "orders:read", perms[0].String())

	ok, err := e.graph.HasPermission(ctx, "user-7", "orders", "read")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = e.graph.HasPermission(ctx, "user-7", "stores", "write")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMutationsAreAudited(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	r := e.resource(t, "books")
	_, err := e.graph.Resources.Create(ctx, EntityInput{Code: "books", Name: "Dup"})
	require.Error(t, err)
	_, err = e.graph.Resources.Create(ctx, EntityInput{Code: "", Name: "Invalid"})
	require.Error(t, err)

	name := "Library"
	_, err = e.graph.Resources.Update(ctx, r.ID, EntityUpdate{Name: &name})
	require.NoError(t, err)
	require.NoError(t, e.graph.Resources.Delete(ctx, r.ID))

	events := e.audit.Events()
	require.Len(t, events, 4, "validation failures never reach the trail")

	assert.Equal(t, audit.EventGraphCreate, events[0].Type)
	assert.Equal(t, audit.StatusSuccess, events[0].Status)
	assert.Equal(t, r.ID, events[0].TargetID)
	assert.Equal(t, KindResources, events[0].Kind)
	assert.Equal(t, e.userID, events[0].UserID)

	assert.Equal(t, audit.StatusFailure, events[1].Status)
	assert.NotEmpty(t, events[1].ErrorMessage)

	assert.Equal(t, audit.EventGraphUpdate, events[2].Type)
	assert.Equal(t, r.ID, events[2].TargetID)
	assert.Equal(t, audit.EventGraphDelete, events[3].Type)
	assert.Equal(t, r.ID, events[3].TargetID)
}
