// Package rbac is the console's view of the backend's authorization graph:
// Resource x Action -> Policy, Role x Policy -> RolePolicy and
// User x Role -> UserRole.
//
// A Graph owns one Collection per entity kind. Reads go through the shared
// query cache; mutations validate locally, require a signed-in session, and
// only after the backend confirms them invalidate the touched kind together
// with every kind that references or embeds it.
//
//	graph := rbac.NewGraph(client, queries, store)
//	res, err := graph.Resources.Create(ctx, rbac.EntityInput{Code: "orders", Name: "Orders"})
//
// Bindings are presented as switches. Turning one on creates the binding,
// turning it off deletes it; the binding's own isActive flag is left alone:
//
//	_, err = graph.SetRolePolicy(ctx, roleID, policyID, true)
//
// Uniqueness of codes and of active bindings is enforced by the backend only.
// A duplicate surfaces as *api.ConflictError and is never pre-checked.
package rbac
