package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/pflag"
)

// Command represents a CLI command. A command either has Subcommands or a
// Run func.
type Command struct {
	Name        string
	Description string
	Usage       string
	Run         func(ctx context.Context, args []string) error
	Subcommands map[string]*Command
	Flags       *pflag.FlagSet

	out io.Writer
}

func newCommand(out io.Writer, name, description string) *Command {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(out)
	return &Command{
		Name:        name,
		Description: description,
		Flags:       fs,
		out:         out,
	}
}

func newGroup(out io.Writer, name, description string, subs ...*Command) *Command {
	cmd := newCommand(out, name, description)
	cmd.Subcommands = make(map[string]*Command, len(subs))
	for _, sub := range subs {
		cmd.Subcommands[sub.Name] = sub
	}
	return cmd
}

// Execute parses the command's flags and runs it, or dispatches to the
// subcommand named by the first remaining argument
func (c *Command) Execute(ctx context.Context, args []string) error {
	if c.Subcommands != nil {
		c.Flags.SetInterspersed(false)
	}
	if err := c.Flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	args = c.Flags.Args()

	if c.Subcommands != nil {
		if len(args) == 0 || args[0] == "help" {
			return c.usage()
		}
		sub, ok := c.Subcommands[args[0]]
		if !ok {
			return fmt.Errorf("unknown command: %s", args[0])
		}
		return sub.Execute(ctx, args[1:])
	}

	if c.Run == nil {
		return c.usage()
	}
	return c.Run(ctx, args)
}

// usage prints the command usage
func (c *Command) usage() error {
	out := c.out
	if out == nil {
		out = os.Stdout
	}
	usage := c.Usage
	if usage == "" {
		usage = c.Name + " <command> [flags]"
	}
	fmt.Fprintf(out, "Usage: %s\n\n", usage)
	if c.Description != "" {
		fmt.Fprintf(out, "%s\n\n", c.Description)
	}
	if len(c.Subcommands) > 0 {
		names := make([]string, 0, len(c.Subcommands))
		for name := range c.Subcommands {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintf(out, "Commands:\n")
		for _, name := range names {
			fmt.Fprintf(out, "  %-15s %s\n", name, c.Subcommands[name].Description)
		}
	}
	if c.Flags.HasFlags() {
		fmt.Fprintf(out, "\nFlags:\n%s", c.Flags.FlagUsages())
	}
	return nil
}

// requireArgs checks the positional argument count of a leaf command
func requireArgs(args []string, names ...string) error {
	if len(args) < len(names) {
		return fmt.Errorf("missing argument: %s", names[len(args)])
	}
	if len(args) > len(names) {
		return fmt.Errorf("unexpected argument: %s", args[len(names)])
	}
	return nil
}
