// Package audit records what an operator did through the console: sign-ins,
// session clears and every mutation of the authorization graph.
//
// Events are appended as JSON lines by FileLogger, which rotates the file
// once it reaches a size limit:
//
//	logger, err := audit.NewFileLogger(audit.FileConfig{Dir: "/var/lib/rbacadmin/audit"})
//	graph := rbac.NewGraph(client, queries, store, rbac.WithAuditor(logger))
//
// ReadFile and Export turn the trail back into JSON, NDJSON or CSV.
package audit
