// Package cli implements the rbacadmin command line.
//
// Every invocation loads the configuration, restores the persisted session,
// bootstraps it against the backend and runs one command.
//
// # Session
//
//	rbacadmin signin --email admin@example.com   # password from RBACADMIN_PASSWORD
//	rbacadmin whoami
//	rbacadmin status
//	rbacadmin signout
//	rbacadmin password-reset request --email admin@example.com
//	rbacadmin password-reset verify --token <token>
//
// # Entities
//
// resources, actions, policies and roles share list, get, create, update,
// delete and lookup:
//
//	rbacadmin resources create --code orders --name Orders
//	rbacadmin policies create --resource <id> --action <id> --condition 'owner == user'
//	rbacadmin roles list --search ops --active true --sort-by name
//	rbacadmin roles update <id> --active=false
//	rbacadmin policies options
//
// # Assignments
//
//	rbacadmin role-policies assign --role <id> --policy <id>
//	rbacadmin user-roles unassign --user <id> --role <id>
//	rbacadmin matrix --role <id>
//	rbacadmin permissions --user <id>
//
// # Audit trail
//
// With audit.dir set, sign-ins, session clears and graph mutations are
// recorded locally:
//
//	rbacadmin audit list --type graph. --since 24h
//	rbacadmin audit export --format csv -o trail.csv
//
// Add --json before the command for machine-readable output. Errors are
// printed as the console would show them.
package cli
