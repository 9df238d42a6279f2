package rbac

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/rbacadmin/pkg/api"
)

// fanOut bounds concurrent detail reads
const fanOut = 8

// SetRolePolicy turns the role-policy switch on or off. On creates the
// binding and reports the backend's conflict when it already exists; off
// deletes the existing binding and is a no-op when there is none.
func (g *Graph) SetRolePolicy(ctx context.Context, roleID, policyID string, assigned bool) (*RolePolicy, error) {
	ctx, span := g.RolePolicies.span(ctx, "Set")
	var err error
	defer func() { endSpan(span, err) }()

	if err = (RolePolicyInput{RoleID: roleID, PolicyID: policyID}).Validate(); err != nil {
		return nil, err
	}
	if assigned {
		var rp *RolePolicy
		rp, err = g.RolePolicies.Create(ctx, RolePolicyInput{RoleID: roleID, PolicyID: policyID, IsActive: Bool(true)})
		return rp, err
	}

	var existing []RolePolicy
	existing, err = g.RolePolicies.All(ctx, ListFilter{RoleID: roleID, PolicyID: policyID})
	if err != nil {
		return nil, err
	}
	for _, rp := range existing {
		if err = g.RolePolicies.Delete(ctx, rp.ID); err != nil && !isNotFound(err) {
			return nil, err
		}
	}
	err = nil
	return nil, nil
}

// SetUserRole turns the user-role switch on or off. New bindings record the
// signed-in user as the assigner.
func (g *Graph) SetUserRole(ctx context.Context, userID, roleID string, assigned bool) (*UserRole, error) {
	ctx, span := g.UserRoles.span(ctx, "Set")
	var err error
	defer func() { endSpan(span, err) }()

	in := UserRoleInput{UserID: userID, RoleID: roleID, IsActive: Bool(true)}
	if err = in.Validate(); err != nil {
		return nil, err
	}
	if assigned {
		if by := g.currentUserID(); by != "" {
			in.AssignedBy = &by
		}
		var ur *UserRole
		ur, err = g.UserRoles.Create(ctx, in)
		return ur, err
	}

	var existing []UserRole
	existing, err = g.UserRoles.All(ctx, ListFilter{UserID: userID, RoleID: roleID})
	if err != nil {
		return nil, err
	}
	for _, ur := range existing {
		if err = g.UserRoles.Delete(ctx, ur.ID); err != nil && !isNotFound(err) {
			return nil, err
		}
	}
	err = nil
	return nil, nil
}

func isNotFound(err error) bool {
	var nf *api.NotFoundError
	return errors.As(err, &nf)
}

// PoliciesForRole returns the policies actively bound to roleID, each once,
// in binding order
func (g *Graph) PoliciesForRole(ctx context.Context, roleID string) ([]Policy, error) {
	if err := required("roleId", roleID); err != nil {
		return nil, err
	}
	bindings, err := g.RolePolicies.All(ctx, ListFilter{RoleID: roleID, IsActive: Bool(true)})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(bindings))
	for _, b := range bindings {
		ids = append(ids, b.PolicyID)
	}
	return getDistinct(ctx, g.Policies, ids)
}

// RolesForUser returns the roles actively bound to userID, each once, in
// binding order
func (g *Graph) RolesForUser(ctx context.Context, userID string) ([]Role, error) {
	if err := required("userId", userID); err != nil {
		return nil, err
	}
	bindings, err := g.UserRoles.All(ctx, ListFilter{UserID: userID, IsActive: Bool(true)})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(bindings))
	for _, b := range bindings {
		ids = append(ids, b.RoleID)
	}
	return getDistinct(ctx, g.Roles, ids)
}

// getDistinct loads each distinct id once, concurrently, keeping first-seen
// order
func getDistinct[T any, C, U Validator](ctx context.Context, c *Collection[T, C, U], ids []string) ([]T, error) {
	seen := make(map[string]struct{}, len(ids))
	distinct := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		distinct = append(distinct, id)
	}

	out := make([]T, len(distinct))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOut)
	for i, id := range distinct {
		g.Go(func() error {
			item, err := c.Get(ctx, id)
			if err != nil {
				return err
			}
			out[i] = *item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// MatrixRow is one policy in a role's assignment matrix
type MatrixRow struct {
	Policy    Policy
	Assigned  bool
	BindingID string
}

// AssignmentMatrix loads every policy and the role's active bindings
// concurrently and returns one row per policy
func (g *Graph) AssignmentMatrix(ctx context.Context, roleID string) ([]MatrixRow, error) {
	if err := required("roleId", roleID); err != nil {
		return nil, err
	}

	var (
		policies []Policy
		bindings []RolePolicy
	)
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		policies, err = g.Policies.All(ctx, ListFilter{})
		return err
	})
	eg.Go(func() error {
		var err error
		bindings, err = g.RolePolicies.All(ctx, ListFilter{RoleID: roleID, IsActive: Bool(true)})
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	bound := make(map[string]string, len(bindings))
	for _, b := range bindings {
		if _, ok := bound[b.PolicyID]; !ok {
			bound[b.PolicyID] = b.ID
		}
	}

	rows := make([]MatrixRow, 0, len(policies))
	for _, p := range policies {
		id, ok := bound[p.ID]
		rows = append(rows, MatrixRow{Policy: p, Assigned: ok, BindingID: id})
	}
	return rows, nil
}

// FormOptions are the pickers of the policy form
type FormOptions struct {
	Resources []LookupItem
	Actions   []LookupItem
}

// PolicyFormOptions loads the resource and action pickers concurrently
func (g *Graph) PolicyFormOptions(ctx context.Context) (*FormOptions, error) {
	var opts FormOptions
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		opts.Resources, err = g.Resources.Lookup(ctx, "", MaxLookupLimit)
		return err
	})
	eg.Go(func() error {
		var err error
		opts.Actions, err = g.Actions.Lookup(ctx, "", MaxLookupLimit)
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return &opts, nil
}
