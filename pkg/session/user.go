package session

import (
	"encoding/json"
	"strings"
)

// Role names granting capability flags
const (
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

// User is the projection of the signed-in identity held by the Store
type User struct {
	ID       string    `json:"id"`
	Email    string    `json:"email"`
	Name     string    `json:"name,omitempty"`
	Roles    RoleNames `json:"roles"`
	IsActive bool      `json:"isActive"`
}

// IsAdmin is true for admin and super_admin, case-insensitive
func (u *User) IsAdmin() bool {
	return u.HasRole(RoleAdmin) || u.HasRole(RoleSuperAdmin)
}

// IsSuperAdmin is true for super_admin, case-insensitive
func (u *User) IsSuperAdmin() bool {
	return u.HasRole(RoleSuperAdmin)
}

// HasRole reports whether the user carries the named role
func (u *User) HasRole(name string) bool {
	if u == nil {
		return false
	}
	for _, r := range u.Roles {
		if strings.EqualFold(strings.TrimSpace(r), name) {
			return true
		}
	}
	return false
}

func (u *User) clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Roles = append(RoleNames(nil), u.Roles...)
	return &c
}

// RoleNames is the user's role-name list. The backend sends either plain
// names or role objects; both decode to names.
type RoleNames []string

func (r *RoleNames) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err == nil {
		*r = names
		return nil
	}

	var objects []struct {
		Name string `json:"name"`
		Code string `json:"code"`
		Role *struct {
			Name string `json:"name"`
			Code string `json:"code"`
		} `json:"role"`
	}
	if err := json.Unmarshal(data, &objects); err != nil {
		return err
	}

	out := make([]string, 0, len(objects))
	for _, o := range objects {
		name, code := o.Name, o.Code
		if o.Role != nil {
			name, code = o.Role.Name, o.Role.Code
		}
		switch {
		case code != "":
			out = append(out, code)
		case name != "":
			out = append(out, name)
		}
	}
	*r = out
	return nil
}
