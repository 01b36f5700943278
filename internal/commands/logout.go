package commands

import (
	"context"
	"flag"
	"fmt"
	"io"

	"taskboard/internal/exitcode"
	"taskboard/internal/session"
)

func init() {
	Register(&LogoutCmd{})
}

// LogoutCmd implements the logout command.
type LogoutCmd struct{}

func (c *LogoutCmd) Name() string      { return "logout" }
func (c *LogoutCmd) Aliases() []string { return nil }
func (c *LogoutCmd) Synopsis() string  { return "Sign out and remove the stored session" }
func (c *LogoutCmd) Usage() string     { return "taskboard logout [common flags]" }
func (c *LogoutCmd) NeedsAuth() bool   { return false }

func (c *LogoutCmd) RegisterFlags(fs *flag.FlagSet) {}

func (c *LogoutCmd) Run(ctx context.Context, env *Env, args []string, out, errOut io.Writer) int {
	sess := env.Sessions.Current()
	if sess == nil {
		if !env.Config.Quiet {
			fmt.Fprintln(out, "not logged in")
		}
		return exitcode.Success
	}

	// A failed remote sign-out still clears the local session.
	if env.Backend != nil {
		if err := env.Backend.Auth.SignOut(ctx, sess); err != nil {
			env.Logger.Warn("remote sign-out failed", "error", err)
		}
	}

	env.Sessions.Set(nil, session.EventSignedOut)
	if env.Config.HasSession() {
		fmt.Fprintf(errOut, "error: failed to remove session: %s\n", env.Config.SessionPath())
		return exitcode.AuthError
	}

	if !env.Config.Quiet {
		fmt.Fprintln(out, "ok")
	}
	return exitcode.Success
}
