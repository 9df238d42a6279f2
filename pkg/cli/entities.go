package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/platinummonkey/rbacadmin/pkg/console"
	"github.com/platinummonkey/rbacadmin/pkg/rbac"
)

// collectionCommands describes the list/get/create/update/delete/lookup
// commands of one kind
type collectionCommands[T any, C, U rbac.Validator] struct {
	app        *App
	kind       string
	collection func(*rbac.Graph) *rbac.Collection[T, C, U]
	header     []string
	row        func(T) []string

	// filters registers kind-specific list flags
	filters func(*pflag.FlagSet) func(*rbac.ListFilter)
	// create and update register payload flags and build the payload
	create func(*pflag.FlagSet) func() C
	update func(*pflag.FlagSet) func() U
}

func (k collectionCommands[T, C, U]) command(description string) *Command {
	subs := []*Command{k.list(), k.get(), k.remove(), k.lookup()}
	if k.create != nil {
		subs = append(subs, k.createCommand())
	}
	if k.update != nil {
		subs = append(subs, k.updateCommand())
	}
	return newGroup(k.app.out, k.kind, description, subs...)
}

func (k collectionCommands[T, C, U]) rows(items []T) [][]string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, k.row(item))
	}
	return rows
}

func (k collectionCommands[T, C, U]) list() *Command {
	cmd := newCommand(k.app.out, "list", "List "+k.kind)
	fs := cmd.Flags
	search := fs.StringP("search", "s", "", "Search text")
	active := fs.String("active", "", "Filter on isActive (true or false)")
	page := fs.Int("page", 1, "Page number")
	limit := fs.Int("limit", rbac.DefaultLimit, fmt.Sprintf("Page size (1-%d)", rbac.MaxLimit))
	sortBy := fs.String("sort-by", "", "Sort field")
	sortOrder := fs.String("sort-order", "", "Sort order (asc or desc)")
	var applyFilters func(*rbac.ListFilter)
	if k.filters != nil {
		applyFilters = k.filters(fs)
	}

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := requireArgs(args); err != nil {
			return err
		}
		f := rbac.ListFilter{
			Search:    strings.TrimSpace(*search),
			Page:      *page,
			Limit:     *limit,
			SortBy:    *sortBy,
			SortOrder: *sortOrder,
		}
		if *active != "" {
			b, err := strconv.ParseBool(*active)
			if err != nil {
				return fmt.Errorf("--active must be true or false")
			}
			f.IsActive = rbac.Bool(b)
		}
		if applyFilters != nil {
			applyFilters(&f)
		}

		return k.app.withSession(ctx, func(c *console.Console) error {
			result, err := k.collection(c.Graph).List(ctx, f)
			if err != nil {
				return err
			}
			if err := k.app.show(result, k.header, k.rows(result.Data)); err != nil {
				return err
			}
			if !k.app.jsonOutput {
				fmt.Fprintf(k.app.out, "\nPage %d of %d (%d total)\n", result.Page, result.TotalPages, result.Total)
			}
			return nil
		})
	}
	return cmd
}

func (k collectionCommands[T, C, U]) get() *Command {
	cmd := newCommand(k.app.out, "get", "Show one of "+k.kind)
	cmd.Usage = "rbacadmin " + k.kind + " get <id>"
	cmd.Run = func(ctx context.Context, args []string) error {
		if err := requireArgs(args, "id"); err != nil {
			return err
		}
		return k.app.withSession(ctx, func(c *console.Console) error {
			item, err := k.collection(c.Graph).Get(ctx, args[0])
			if err != nil {
				return err
			}
			return k.app.show(item, k.header, [][]string{k.row(*item)})
		})
	}
	return cmd
}

func (k collectionCommands[T, C, U]) createCommand() *Command {
	cmd := newCommand(k.app.out, "create", "Create one of "+k.kind)
	build := k.create(cmd.Flags)
	cmd.Run = func(ctx context.Context, args []string) error {
		if err := requireArgs(args); err != nil {
			return err
		}
		return k.app.withSession(ctx, func(c *console.Console) error {
			item, err := k.collection(c.Graph).Create(ctx, build())
			if err != nil {
				return err
			}
			return k.app.show(item, k.header, [][]string{k.row(*item)})
		})
	}
	return cmd
}

func (k collectionCommands[T, C, U]) updateCommand() *Command {
	cmd := newCommand(k.app.out, "update", "Change the given fields of one of "+k.kind)
	cmd.Usage = "rbacadmin " + k.kind + " update <id> [flags]"
	build := k.update(cmd.Flags)
	cmd.Run = func(ctx context.Context, args []string) error {
		if err := requireArgs(args, "id"); err != nil {
			return err
		}
		return k.app.withSession(ctx, func(c *console.Console) error {
			item, err := k.collection(c.Graph).Update(ctx, args[0], build())
			if err != nil {
				return err
			}
			return k.app.show(item, k.header, [][]string{k.row(*item)})
		})
	}
	return cmd
}

func (k collectionCommands[T, C, U]) remove() *Command {
	cmd := newCommand(k.app.out, "delete", "Delete one of "+k.kind)
	cmd.Usage = "rbacadmin " + k.kind + " delete <id>"
	cmd.Run = func(ctx context.Context, args []string) error {
		if err := requireArgs(args, "id"); err != nil {
			return err
		}
		return k.app.withSession(ctx, func(c *console.Console) error {
			if err := k.collection(c.Graph).Delete(ctx, args[0]); err != nil {
				return err
			}
			return k.app.message("Deleted %s", args[0])
		})
	}
	return cmd
}

func (k collectionCommands[T, C, U]) lookup() *Command {
	cmd := newCommand(k.app.out, "lookup", "Search "+k.kind+" for pickers")
	cmd.Usage = "rbacadmin " + k.kind + " lookup [query]"
	limit := cmd.Flags.Int("limit", rbac.DefaultLookupLimit, fmt.Sprintf("Maximum results (1-%d)", rbac.MaxLookupLimit))
	cmd.Run = func(ctx context.Context, args []string) error {
		if len(args) > 1 {
			return fmt.Errorf("unexpected argument: %s", args[1])
		}
		query := ""
		if len(args) == 1 {
			query = args[0]
		}
		return k.app.withSession(ctx, func(c *console.Console) error {
			items, err := k.collection(c.Graph).Lookup(ctx, query, *limit)
			if err != nil {
				return err
			}
			return k.app.show(items, []string{"ID", "CODE", "NAME"}, lookupRows(items))
		})
	}
	return cmd
}

func lookupRows(items []rbac.LookupItem) [][]string {
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		rows = append(rows, []string{it.ID, it.Code, it.Name})
	}
	return rows
}

// stringIfChanged returns a pointer to the flag value only when it was set
func stringIfChanged(fs *pflag.FlagSet, name string, value *string) *string {
	if !fs.Changed(name) {
		return nil
	}
	v := *value
	return &v
}

func boolIfChanged(fs *pflag.FlagSet, name string, value *bool) *bool {
	if !fs.Changed(name) {
		return nil
	}
	return rbac.Bool(*value)
}

// entityCreateFlags and entityUpdateFlags serve resources, actions and roles
func entityCreateFlags(fs *pflag.FlagSet) func() rbac.EntityInput {
	code := fs.String("code", "", "Immutable code, e.g. orders")
	name := fs.String("name", "", "Display name")
	description := fs.String("description", "", "Description")
	active := fs.Bool("active", true, "Create as active")
	return func() rbac.EntityInput {
		return rbac.EntityInput{
			Code:        strings.TrimSpace(*code),
			Name:        strings.TrimSpace(*name),
			Description: stringIfChanged(fs, "description", description),
			IsActive:    rbac.Bool(*active),
		}
	}
}

func entityUpdateFlags(fs *pflag.FlagSet) func() rbac.EntityUpdate {
	name := fs.String("name", "", "Display name")
	description := fs.String("description", "", "Description")
	active := fs.Bool("active", true, "Active flag")
	return func() rbac.EntityUpdate {
		return rbac.EntityUpdate{
			Name:        stringIfChanged(fs, "name", name),
			Description: stringIfChanged(fs, "description", description),
			IsActive:    boolIfChanged(fs, "active", active),
		}
	}
}

func (a *App) resourcesCommand() *Command {
	return collectionCommands[rbac.Resource, rbac.EntityInput, rbac.EntityUpdate]{
		app:  a,
		kind: rbac.KindResources,
		collection: func(g *rbac.Graph) *rbac.Collection[rbac.Resource, rbac.EntityInput, rbac.EntityUpdate] {
			return g.Resources
		},
		header: []string{"ID", "CODE", "NAME", "ACTIVE"},
		row: func(r rbac.Resource) []string {
			return []string{r.ID, r.Code, r.Name, yesNo(r.IsActive)}
		},
		create: entityCreateFlags,
		update: entityUpdateFlags,
	}.command("Manage resources")
}

func (a *App) actionsCommand() *Command {
	return collectionCommands[rbac.Action, rbac.EntityInput, rbac.EntityUpdate]{
		app:  a,
		kind: rbac.KindActions,
		collection: func(g *rbac.Graph) *rbac.Collection[rbac.Action, rbac.EntityInput, rbac.EntityUpdate] {
			return g.Actions
		},
		header: []string{"ID", "CODE", "NAME", "ACTIVE"},
		row: func(r rbac.Action) []string {
			return []string{r.ID, r.Code, r.Name, yesNo(r.IsActive)}
		},
		create: entityCreateFlags,
		update: entityUpdateFlags,
	}.command("Manage actions")
}

func (a *App) rolesCommand() *Command {
	return collectionCommands[rbac.Role, rbac.EntityInput, rbac.EntityUpdate]{
		app:  a,
		kind: rbac.KindRoles,
		collection: func(g *rbac.Graph) *rbac.Collection[rbac.Role, rbac.EntityInput, rbac.EntityUpdate] {
			return g.Roles
		},
		header: []string{"ID", "CODE", "NAME", "USERS", "ACTIVE"},
		row: func(r rbac.Role) []string {
			return []string{r.ID, r.Code, r.Name, strconv.Itoa(r.UserCount), yesNo(r.IsActive)}
		},
		create: entityCreateFlags,
		update: entityUpdateFlags,
	}.command("Manage roles")
}

func (a *App) policiesCommand() *Command {
	cmd := collectionCommands[rbac.Policy, rbac.PolicyInput, rbac.PolicyUpdate]{
		app:  a,
		kind: rbac.KindPolicies,
		collection: func(g *rbac.Graph) *rbac.Collection[rbac.Policy, rbac.PolicyInput, rbac.PolicyUpdate] {
			return g.Policies
		},
		header: []string{"ID", "PERMISSION", "CONDITION", "DESCRIPTION", "ACTIVE"},
		row: func(p rbac.Policy) []string {
			return []string{p.ID, p.Permission().String(), deref(p.ConditionExpression), deref(p.Description), yesNo(p.IsActive)}
		},
		filters: func(fs *pflag.FlagSet) func(*rbac.ListFilter) {
			resource := fs.String("resource", "", "Only policies on this resource id")
			action := fs.String("action", "", "Only policies for this action id")
			return func(f *rbac.ListFilter) {
				f.ResourceID = *resource
				f.ActionID = *action
			}
		},
		create: func(fs *pflag.FlagSet) func() rbac.PolicyInput {
			resource := fs.String("resource", "", "Resource id")
			action := fs.String("action", "", "Action id")
			condition := fs.String("condition", "", "Condition expression evaluated by the backend")
			description := fs.String("description", "", "Description")
			active := fs.Bool("active", true, "Create as active")
			return func() rbac.PolicyInput {
				return rbac.PolicyInput{
					ResourceID:          strings.TrimSpace(*resource),
					ActionID:            strings.TrimSpace(*action),
					ConditionExpression: stringIfChanged(fs, "condition", condition),
					Description:         stringIfChanged(fs, "description", description),
					IsActive:            rbac.Bool(*active),
				}
			}
		},
		update: func(fs *pflag.FlagSet) func() rbac.PolicyUpdate {
			resource := fs.String("resource", "", "Resource id")
			action := fs.String("action", "", "Action id")
			condition := fs.String("condition", "", "Condition expression")
			description := fs.String("description", "", "Description")
			active := fs.Bool("active", true, "Active flag")
			return func() rbac.PolicyUpdate {
				return rbac.PolicyUpdate{
					ResourceID:          stringIfChanged(fs, "resource", resource),
					ActionID:            stringIfChanged(fs, "action", action),
					ConditionExpression: stringIfChanged(fs, "condition", condition),
					Description:         stringIfChanged(fs, "description", description),
					IsActive:            boolIfChanged(fs, "active", active),
				}
			}
		},
	}.command("Manage policies")

	cmd.Subcommands["options"] = a.policyOptionsCommand()
	return cmd
}

func (a *App) policyOptionsCommand() *Command {
	cmd := newCommand(a.out, "options", "List the resources and actions a policy can use")
	cmd.Run = func(ctx context.Context, args []string) error {
		if err := requireArgs(args); err != nil {
			return err
		}
		return a.withSession(ctx, func(c *console.Console) error {
			opts, err := c.Graph.PolicyFormOptions(ctx)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(opts.Resources)+len(opts.Actions))
			for _, it := range opts.Resources {
				rows = append(rows, []string{"resource", it.ID, it.Code, it.Name})
			}
			for _, it := range opts.Actions {
				rows = append(rows, []string{"action", it.ID, it.Code, it.Name})
			}
			return a.show(opts, []string{"KIND", "ID", "CODE", "NAME"}, rows)
		})
	}
	return cmd
}
