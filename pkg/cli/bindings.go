package cli

import (
	"context"

	"github.com/spf13/pflag"

	"github.com/platinummonkey/rbacadmin/pkg/console"
	"github.com/platinummonkey/rbacadmin/pkg/rbac"
)

func (a *App) rolePoliciesCommand() *Command {
	k := collectionCommands[rbac.RolePolicy, rbac.RolePolicyInput, rbac.RolePolicyUpdate]{
		app:  a,
		kind: rbac.KindRolePolicies,
		collection: func(g *rbac.Graph) *rbac.Collection[rbac.RolePolicy, rbac.RolePolicyInput, rbac.RolePolicyUpdate] {
			return g.RolePolicies
		},
		header: []string{"ID", "ROLE", "POLICY", "ACTIVE"},
		row: func(b rbac.RolePolicy) []string {
			return []string{b.ID, b.RoleID, b.PolicyID, yesNo(b.IsActive)}
		},
		filters: func(fs *pflag.FlagSet) func(*rbac.ListFilter) {
			role := fs.String("role", "", "Only bindings of this role id")
			policy := fs.String("policy", "", "Only bindings of this policy id")
			return func(f *rbac.ListFilter) {
				f.RoleID = *role
				f.PolicyID = *policy
			}
		},
	}

	toggle := func(assign bool) *Command {
		name, desc := "unassign", "Remove a policy from a role"
		if assign {
			name, desc = "assign", "Grant a policy to a role"
		}
		cmd := newCommand(a.out, name, desc)
		cmd.Usage = "rbacadmin role-policies " + name + " --role <id> --policy <id>"
		role := cmd.Flags.String("role", "", "Role id")
		policy := cmd.Flags.String("policy", "", "Policy id")
		cmd.Run = func(ctx context.Context, args []string) error {
			if err := requireArgs(args); err != nil {
				return err
			}
			return a.withSession(ctx, func(c *console.Console) error {
				binding, err := c.Graph.SetRolePolicy(ctx, *role, *policy, assign)
				if err != nil {
					return err
				}
				if binding != nil {
					return a.show(binding, k.header, [][]string{k.row(*binding)})
				}
				return a.message("Policy %s is not assigned to role %s", *policy, *role)
			})
		}
		return cmd
	}

	return newGroup(a.out, rbac.KindRolePolicies, "Grant and revoke policies on roles",
		k.list(), toggle(true), toggle(false))
}

func (a *App) userRolesCommand() *Command {
	k := collectionCommands[rbac.UserRole, rbac.UserRoleInput, rbac.UserRoleUpdate]{
		app:  a,
		kind: rbac.KindUserRoles,
		collection: func(g *rbac.Graph) *rbac.Collection[rbac.UserRole, rbac.UserRoleInput, rbac.UserRoleUpdate] {
			return g.UserRoles
		},
		header: []string{"ID", "USER", "ROLE", "ASSIGNED BY", "ACTIVE"},
		row: func(b rbac.UserRole) []string {
			return []string{b.ID, b.UserID, b.RoleID, deref(b.AssignedBy), yesNo(b.IsActive)}
		},
		filters: func(fs *pflag.FlagSet) func(*rbac.ListFilter) {
			user := fs.String("user", "", "Only bindings of this user id")
			role := fs.String("role", "", "Only bindings of this role id")
			return func(f *rbac.ListFilter) {
				f.UserID = *user
				f.RoleID = *role
			}
		},
	}

	toggle := func(assign bool) *Command {
		name, desc := "unassign", "Remove a role from a user"
		if assign {
			name, desc = "assign", "Give a user a role"
		}
		cmd := newCommand(a.out, name, desc)
		cmd.Usage = "rbacadmin user-roles " + name + " --user <id> --role <id>"
		user := cmd.Flags.String("user", "", "User id")
		role := cmd.Flags.String("role", "", "Role id")
		cmd.Run = func(ctx context.Context, args []string) error {
			if err := requireArgs(args); err != nil {
				return err
			}
			return a.withSession(ctx, func(c *console.Console) error {
				binding, err := c.Graph.SetUserRole(ctx, *user, *role, assign)
				if err != nil {
					return err
				}
				if binding != nil {
					return a.show(binding, k.header, [][]string{k.row(*binding)})
				}
				return a.message("Role %s is not assigned to user %s", *role, *user)
			})
		}
		return cmd
	}

	return newGroup(a.out, rbac.KindUserRoles, "Grant and revoke roles on users",
		k.list(), toggle(true), toggle(false))
}

type matrixView struct {
	PolicyID   string `json:"policyId"`
	Permission string `json:"permission"`
	Assigned   bool   `json:"assigned"`
	BindingID  string `json:"bindingId,omitempty"`
}

func (a *App) matrixCommand() *Command {
	cmd := newCommand(a.out, "matrix", "Show every policy and whether a role holds it")
	cmd.Usage = "rbacadmin matrix --role <id>"
	role := cmd.Flags.StringP("role", "r", "", "Role id")
	cmd.Run = func(ctx context.Context, args []string) error {
		if err := requireArgs(args); err != nil {
			return err
		}
		return a.withSession(ctx, func(c *console.Console) error {
			matrix, err := c.Graph.AssignmentMatrix(ctx, *role)
			if err != nil {
				return err
			}
			views := make([]matrixView, 0, len(matrix))
			rows := make([][]string, 0, len(matrix))
			for _, m := range matrix {
				v := matrixView{
					PolicyID:   m.Policy.ID,
					Permission: m.Policy.Permission().String(),
					Assigned:   m.Assigned,
					BindingID:  m.BindingID,
				}
				views = append(views, v)
				rows = append(rows, []string{v.PolicyID, v.Permission, yesNo(v.Assigned), v.BindingID})
			}
			return a.show(views, []string{"POLICY", "PERMISSION", "ASSIGNED", "BINDING"}, rows)
		})
	}
	return cmd
}

func (a *App) permissionsCommand() *Command {
	cmd := newCommand(a.out, "permissions", "List the permissions a user's active roles grant")
	cmd.Usage = "rbacadmin permissions [--user <id>]"
	user := cmd.Flags.StringP("user", "u", "", "User id (defaults to the signed-in user)")
	cmd.Run = func(ctx context.Context, args []string) error {
		if err := requireArgs(args); err != nil {
			return err
		}
		return a.withSession(ctx, func(c *console.Console) error {
			userID := *user
			if userID == "" {
				userID = c.Session.User().ID
			}
			perms, err := c.Graph.EffectivePermissions(ctx, userID)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(perms))
			for _, p := range perms {
				rows = append(rows, []string{p.Resource, p.Action, deref(p.Condition)})
			}
			return a.show(perms, []string{"RESOURCE", "ACTION", "CONDITION"}, rows)
		})
	}
	return cmd
}
