package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/rbacadmin/pkg/api"
	"github.com/platinummonkey/rbacadmin/pkg/config"
	"github.com/platinummonkey/rbacadmin/pkg/console"
	"github.com/platinummonkey/rbacadmin/pkg/observability"
)

// ErrNotSignedIn is returned by commands that need a session
var ErrNotSignedIn = errors.New("not signed in, run `rbacadmin signin` first")

// App holds what every command shares: output, the operator log and the
// options used to build a console per invocation
type App struct {
	out     io.Writer
	log     *logrus.Logger
	options []console.Option

	configPath string
	jsonOutput bool
	verbose    bool
}

// NewApp creates the application; opts are passed to console.New
func NewApp(out io.Writer, log *logrus.Logger, opts ...console.Option) *App {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &App{out: out, log: log, options: opts}
}

// Run executes args (without the program name)
func (a *App) Run(ctx context.Context, args []string) error {
	return a.Root().Execute(ctx, args)
}

// Root builds the command tree
func (a *App) Root() *Command {
	root := newGroup(a.out, "rbacadmin", "Administrative console for the RBAC authorization graph",
		a.signInCommand(),
		a.signUpCommand(),
		a.signOutCommand(),
		a.whoAmICommand(),
		a.statusCommand(),
		a.passwordResetCommand(),
		a.resourcesCommand(),
		a.actionsCommand(),
		a.policiesCommand(),
		a.rolesCommand(),
		a.rolePoliciesCommand(),
		a.userRolesCommand(),
		a.matrixCommand(),
		a.permissionsCommand(),
		a.auditCommand(),
	)
	root.Flags.StringVarP(&a.configPath, "config", "c", "", "Path to a YAML config file")
	root.Flags.BoolVar(&a.jsonOutput, "json", false, "Print results as JSON")
	root.Flags.BoolVarP(&a.verbose, "verbose", "v", false, "Log debug output")
	return root
}

func (a *App) loadConfig() (*config.Config, error) {
	return config.Load(a.configPath)
}

// withConsole builds and starts a console for one command
func (a *App) withConsole(ctx context.Context, fn func(*console.Console) error) error {
	if a.verbose {
		a.log.SetLevel(logrus.DebugLevel)
	}

	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	level := cfg.Observability.Level()
	if a.verbose {
		level = observability.DebugLevel
	}
	opts := append([]console.Option{
		console.WithLogger(observability.NewLogger(level, a.log.Out)),
		console.WithNavigator(navigator{log: a.log}),
	}, a.options...)

	c, err := console.New(ctx, *cfg, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			a.log.WithError(err).Warn("failed to close console")
		}
	}()

	outcome, err := c.Start(ctx)
	if err != nil {
		return err
	}
	a.log.WithField("bootstrap", outcome).Debug("session bootstrapped")
	return fn(c)
}

// withSession is withConsole for commands that need a signed-in user
func (a *App) withSession(ctx context.Context, fn func(*console.Console) error) error {
	return a.withConsole(ctx, func(c *console.Console) error {
		if c.Session.User() == nil {
			return ErrNotSignedIn
		}
		return fn(c)
	})
}

type navigator struct {
	log *logrus.Logger
}

func (n navigator) RedirectToSignIn(reason string) {
	n.log.WithField("reason", reason).Debug("session cleared")
}

// Render turns a command error into the text shown to the operator
func Render(err error) string {
	return api.UserMessage(err)
}

// show writes v as JSON with --json, otherwise as a table
func (a *App) show(v interface{}, header []string, rows [][]string) error {
	if a.jsonOutput {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// message writes a confirmation line; with --json it is wrapped in an object
func (a *App) message(format string, args ...interface{}) error {
	text := fmt.Sprintf(format, args...)
	if a.jsonOutput {
		return json.NewEncoder(a.out).Encode(map[string]string{"message": text})
	}
	_, err := fmt.Fprintln(a.out, text)
	return err
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
