package cli

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/platinummonkey/rbacadmin/pkg/auth"
	"github.com/platinummonkey/rbacadmin/pkg/console"
	"github.com/platinummonkey/rbacadmin/pkg/session"
)

// PasswordEnv supplies the password when --password is not given
const PasswordEnv = "RBACADMIN_PASSWORD"

func passwordOrEnv(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(PasswordEnv)
}

func (a *App) signInCommand() *Command {
	cmd := newCommand(a.out, "signin", "Sign in and store the session")
	cmd.Usage = "rbacadmin signin --email <email> [--password <password>]"
	email := cmd.Flags.StringP("email", "e", "", "Account email")
	password := cmd.Flags.StringP("password", "p", "", "Account password (or "+PasswordEnv+")")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := requireArgs(args); err != nil {
			return err
		}
		return a.withConsole(ctx, func(c *console.Console) error {
			user, err := c.Auth.SignIn(ctx, auth.Credentials{
				Email:    strings.TrimSpace(*email),
				Password: passwordOrEnv(*password),
			})
			if err != nil {
				return err
			}
			return a.showUser(user)
		})
	}
	return cmd
}

func (a *App) signUpCommand() *Command {
	cmd := newCommand(a.out, "signup", "Create an account and sign in")
	cmd.Usage = "rbacadmin signup --email <email> --name <name> [--password <password>]"
	email := cmd.Flags.StringP("email", "e", "", "Account email")
	name := cmd.Flags.StringP("name", "n", "", "Display name")
	password := cmd.Flags.StringP("password", "p", "", "Account password (or "+PasswordEnv+")")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := requireArgs(args); err != nil {
			return err
		}
		return a.withConsole(ctx, func(c *console.Console) error {
			user, err := c.Auth.SignUp(ctx, auth.SignUpRequest{
				Email:    strings.TrimSpace(*email),
				Name:     strings.TrimSpace(*name),
				Password: passwordOrEnv(*password),
			})
			if err != nil {
				return err
			}
			return a.showUser(user)
		})
	}
	return cmd
}

func (a *App) signOutCommand() *Command {
	cmd := newCommand(a.out, "signout", "Sign out and forget the session")
	cmd.Run = func(ctx context.Context, args []string) error {
		if err := requireArgs(args); err != nil {
			return err
		}
		return a.withConsole(ctx, func(c *console.Console) error {
			if err := c.Auth.SignOut(ctx); err != nil {
				a.log.WithError(err).Warn("local session state was not fully removed")
			}
			return a.message("Signed out")
		})
	}
	return cmd
}

func (a *App) whoAmICommand() *Command {
	cmd := newCommand(a.out, "whoami", "Show the signed-in user")
	cmd.Run = func(ctx context.Context, args []string) error {
		if err := requireArgs(args); err != nil {
			return err
		}
		return a.withSession(ctx, func(c *console.Console) error {
			return a.showUser(c.Session.User())
		})
	}
	return cmd
}

type statusView struct {
	Authenticated bool          `json:"authenticated"`
	State         string        `json:"state"`
	User          *session.User `json:"user,omitempty"`
	IsAdmin       bool          `json:"isAdmin"`
	IsSuperAdmin  bool          `json:"isSuperAdmin"`
	RenewalArmed  bool          `json:"renewalArmed"`
	AccessExpiry  *time.Time    `json:"accessExpiry,omitempty"`
}

func (a *App) statusCommand() *Command {
	cmd := newCommand(a.out, "status", "Show the session and token state")
	cmd.Run = func(ctx context.Context, args []string) error {
		if err := requireArgs(args); err != nil {
			return err
		}
		return a.withConsole(ctx, func(c *console.Console) error {
			snap := c.Session.Snapshot()
			v := statusView{
				Authenticated: snap.Authenticated(),
				State:         c.Auth.State().String(),
				User:          snap.User,
				IsAdmin:       snap.IsAdmin(),
				IsSuperAdmin:  snap.IsSuperAdmin(),
				RenewalArmed:  c.Auth.TimerArmed(),
			}
			expires := "-"
			if token, err := c.Auth.Token(); err == nil && !token.Expiry.IsZero() {
				v.AccessExpiry = &token.Expiry
				expires = token.Expiry.Local().Format(time.RFC3339)
			}
			email := ""
			if v.User != nil {
				email = v.User.Email
			}
			return a.show(v,
				[]string{"AUTHENTICATED", "STATE", "USER", "ADMIN", "SUPER ADMIN", "RENEWAL", "EXPIRES"},
				[][]string{{yesNo(v.Authenticated), v.State, email, yesNo(v.IsAdmin), yesNo(v.IsSuperAdmin), yesNo(v.RenewalArmed), expires}},
			)
		})
	}
	return cmd
}

func (a *App) passwordResetCommand() *Command {
	request := newCommand(a.out, "request", "Email a password reset token")
	request.Usage = "rbacadmin password-reset request --email <email>"
	email := request.Flags.StringP("email", "e", "", "Account email")
	request.Run = func(ctx context.Context, args []string) error {
		if err := requireArgs(args); err != nil {
			return err
		}
		return a.withConsole(ctx, func(c *console.Console) error {
			msg, err := c.Auth.RequestPasswordReset(ctx, strings.TrimSpace(*email))
			if err != nil {
				return err
			}
			return a.message("%s", msg)
		})
	}

	verify := newCommand(a.out, "verify", "Set a new password with a reset token")
	verify.Usage = "rbacadmin password-reset verify --token <token> [--password <password>]"
	token := verify.Flags.StringP("token", "t", "", "Reset token")
	password := verify.Flags.StringP("password", "p", "", "New password (or "+PasswordEnv+")")
	verify.Run = func(ctx context.Context, args []string) error {
		if err := requireArgs(args); err != nil {
			return err
		}
		return a.withConsole(ctx, func(c *console.Console) error {
			msg, err := c.Auth.VerifyPasswordReset(ctx, strings.TrimSpace(*token), passwordOrEnv(*password))
			if err != nil {
				return err
			}
			return a.message("%s", msg)
		})
	}

	return newGroup(a.out, "password-reset", "Request or complete a password reset", request, verify)
}

func (a *App) showUser(u *session.User) error {
	if u == nil {
		return ErrNotSignedIn
	}
	return a.show(u,
		[]string{"ID", "EMAIL", "NAME", "ROLES", "ADMIN"},
		[][]string{{u.ID, u.Email, u.Name, strings.Join(u.Roles, ","), yesNo(u.IsAdmin())}},
	)
}
