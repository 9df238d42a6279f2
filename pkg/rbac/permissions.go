package rbac

import (
	"context"
	"sort"
)

// Permission is an action on a resource, by code
type Permission struct {
	Resource  string  `json:"resource"`
	Action    string  `json:"action"`
	Condition *string `json:"condition,omitempty"`
}

// String returns "resource:action"
func (p Permission) String() string {
	return p.Resource + ":" + p.Action
}

// EffectivePermissions resolves what userID is granted through active roles
// and active policies. Conditions are carried along, not evaluated.
func (g *Graph) EffectivePermissions(ctx context.Context, userID string) ([]Permission, error) {
	roles, err := g.RolesForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var perms []Permission
	for _, role := range roles {
		if !role.IsActive {
			continue
		}
		policies, err := g.PoliciesForRole(ctx, role.ID)
		if err != nil {
			return nil, err
		}
		for _, p := range policies {
			if !p.IsActive {
				continue
			}
			if _, ok := seen[p.ID]; ok {
				continue
			}
			seen[p.ID] = struct{}{}
			perms = append(perms, p.Permission())
		}
	}

	sort.Slice(perms, func(i, j int) bool { return perms[i].String() < perms[j].String() })
	return perms, nil
}

// HasPermission reports whether userID holds resource:action through any
// active policy, conditional or not
func (g *Graph) HasPermission(ctx context.Context, userID, resource, action string) (bool, error) {
	perms, err := g.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if p.Resource == resource && p.Action == action {
			return true, nil
		}
	}
	return false, nil
}
