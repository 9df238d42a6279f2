package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_NotifiesInOrder(t *testing.T) {
	s := NewStore()
	var seen []string

	s.Subscribe(func(st State) { seen = append(seen, "first") })
	s.Subscribe(func(st State) { seen = append(seen, "second") })

	s.SetUser(&User{ID: "u1"})

	assert.Equal(t, []string{"first", "second"}, seen)
}

func TestStore_ListenerSeesNewState(t *testing.T) {
	s := NewStore()
	var got State
	s.Subscribe(func(st State) { got = st })

	s.SetUser(&User{ID: "u1", Roles: RoleNames{"Admin"}})
	assert.True(t, got.Authenticated())
	assert.True(t, got.IsAdmin())

	s.Clear()
	assert.False(t, got.Authenticated())
	assert.False(t, got.IsAdmin())
}

func TestStore_Unsubscribe(t *testing.T) {
	s := NewStore()
	calls := 0
	unsubscribe := s.Subscribe(func(State) { calls++ })

	s.SetLoading(true)
	unsubscribe()
	unsubscribe()
	s.SetLoading(false)

	assert.Equal(t, 1, calls)
}

func TestStore_ListenerMayReadStore(t *testing.T) {
	s := NewStore()
	var user *User
	s.Subscribe(func(State) { user = s.User() })

	s.SetUser(&User{ID: "u1"})
	require.NotNil(t, user)
	assert.Equal(t, "u1", user.ID)
}

func TestStore_SnapshotIsolation(t *testing.T) {
	s := NewStore()
	u := &User{ID: "u1", Roles: RoleNames{"viewer"}}
	s.SetUser(u)

	u.Roles[0] = "super_admin"
	assert.False(t, s.IsSuperAdmin(), "store keeps its own copy")

	got := s.User()
	got.Roles[0] = "super_admin"
	assert.False(t, s.IsSuperAdmin())
}

func TestCapabilityFlags(t *testing.T) {
	tests := []struct {
		roles      RoleNames
		admin      bool
		superAdmin bool
	}{
		{nil, false, false},
		{RoleNames{"viewer"}, false, false},
		{RoleNames{"ADMIN"}, true, false},
		{RoleNames{"viewer", "Super_Admin"}, true, true},
		{RoleNames{" admin "}, true, false},
	}
	for _, tt := range tests {
		u := &User{ID: "u", Roles: tt.roles}
		assert.Equal(t, tt.admin, u.IsAdmin(), tt.roles)
		assert.Equal(t, tt.superAdmin, u.IsSuperAdmin(), tt.roles)
	}

	var nilUser *User
	assert.False(t, nilUser.IsAdmin())
}

func TestRoleNames_Unmarshal(t *testing.T) {
	tests := []struct {
		name string
		json string
		want RoleNames
	}{
		{"strings", `["admin","viewer"]`, RoleNames{"admin", "viewer"}},
		{"objects", `[{"id":"1","code":"super_admin","name":"Super Admin"},{"name":"Viewer"}]`, RoleNames{"super_admin", "Viewer"}},
		{"nested", `[{"role":{"code":"admin"}}]`, RoleNames{"admin"}},
		{"empty", `[]`, RoleNames{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got RoleNames
			require.NoError(t, json.Unmarshal([]byte(tt.json), &got))
			assert.Equal(t, tt.want, got)
		})
	}

	var bad RoleNames
	assert.Error(t, json.Unmarshal([]byte(`"admin"`), &bad))
}
