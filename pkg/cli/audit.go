package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/platinummonkey/rbacadmin/pkg/audit"
)

// ErrAuditDisabled is returned when no audit directory is configured
var ErrAuditDisabled = errors.New("audit trail is disabled, set audit.dir or RBACADMIN_AUDIT_DIR")

func (a *App) auditCommand() *Command {
	return newGroup(a.out, "audit", "Inspect the local audit trail",
		a.auditListCommand(),
		a.auditExportCommand(),
	)
}

type auditFilterFlags struct {
	typ   *string
	user  *string
	kind  *string
	since *time.Duration
	limit *int
}

func addAuditFilterFlags(fs *pflag.FlagSet, defaultLimit int) auditFilterFlags {
	return auditFilterFlags{
		typ:   fs.StringP("type", "t", "", "Event type, or a prefix ending in '.' such as graph."),
		user:  fs.StringP("user", "u", "", "Acting user ID"),
		kind:  fs.StringP("kind", "k", "", "Entity kind of graph events"),
		since: fs.Duration("since", 0, "Only events newer than this, e.g. 24h"),
		limit: fs.Int("limit", defaultLimit, "Newest events to keep, 0 for all"),
	}
}

func (f auditFilterFlags) filter() (audit.Filter, error) {
	if *f.limit < 0 {
		return audit.Filter{}, fmt.Errorf("limit must not be negative")
	}
	filter := audit.Filter{
		Type:   *f.typ,
		UserID: *f.user,
		Kind:   *f.kind,
		Limit:  *f.limit,
	}
	if *f.since > 0 {
		filter.Since = time.Now().Add(-*f.since)
	}
	return filter, nil
}

func (a *App) readAudit(f auditFilterFlags) ([]*audit.Event, error) {
	filter, err := f.filter()
	if err != nil {
		return nil, err
	}
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Audit.Dir == "" {
		return nil, ErrAuditDisabled
	}
	return audit.ReadDir(cfg.Audit.Dir, filter)
}

func (a *App) auditListCommand() *Command {
	cmd := newCommand(a.out, "list", "List audit events, newest last")
	cmd.Usage = "rbacadmin audit list [--type <type>] [--user <id>] [--kind <kind>] [--since <duration>] [--limit <n>]"
	filters := addAuditFilterFlags(cmd.Flags, 50)

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := requireArgs(args); err != nil {
			return err
		}
		events, err := a.readAudit(filters)
		if err != nil {
			return err
		}
		if events == nil {
			events = []*audit.Event{}
		}

		rows := make([][]string, 0, len(events))
		for _, e := range events {
			rows = append(rows, []string{
				e.Timestamp.Local().Format(time.DateTime),
				string(e.Type),
				string(e.Status),
				e.UserID,
				e.Kind,
				e.TargetID,
				auditDetail(e),
			})
		}
		return a.show(events, []string{"TIME", "TYPE", "STATUS", "USER", "KIND", "TARGET", "DETAIL"}, rows)
	}
	return cmd
}

func auditDetail(e *audit.Event) string {
	switch {
	case e.ErrorMessage != "":
		return e.ErrorMessage
	case e.Reason != "":
		return e.Reason
	default:
		return e.Email
	}
}

func (a *App) auditExportCommand() *Command {
	cmd := newCommand(a.out, "export", "Export audit events as JSON, NDJSON or CSV")
	cmd.Usage = "rbacadmin audit export [--format json|ndjson|csv] [--output <file>] [filters]"
	format := cmd.Flags.StringP("format", "f", audit.FormatJSON, "json, ndjson or csv")
	output := cmd.Flags.StringP("output", "o", "", "Write to a file instead of standard output")
	filters := addAuditFilterFlags(cmd.Flags, 0)

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := requireArgs(args); err != nil {
			return err
		}
		switch *format {
		case audit.FormatJSON, audit.FormatNDJSON, audit.FormatCSV:
		default:
			return fmt.Errorf("unsupported export format: %s", *format)
		}

		events, err := a.readAudit(filters)
		if err != nil {
			return err
		}

		if *output == "" {
			return audit.Export(a.out, events, *format)
		}
		return writeFile(*output, func(w io.Writer) error {
			return audit.Export(w, events, *format)
		})
	}
	return cmd
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
