package commands

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	"taskboard/internal/exitcode"
)

func init() {
	Register(&EditCmd{})
}

// EditCmd implements the edit command. It replaces the description only.
type EditCmd struct{}

func (c *EditCmd) Name() string      { return "edit" }
func (c *EditCmd) Aliases() []string { return []string{"update"} }
func (c *EditCmd) Synopsis() string  { return "Replace a task's description" }
func (c *EditCmd) Usage() string     { return "taskboard edit <id> <description...>" }
func (c *EditCmd) NeedsAuth() bool   { return true }

func (c *EditCmd) RegisterFlags(fs *flag.FlagSet) {}

func (c *EditCmd) Run(ctx context.Context, env *Env, args []string, out, errOut io.Writer) int {
	id, ok := parseTaskID(args, errOut)
	if !ok {
		return exitcode.UserError
	}
	description := strings.Join(args[1:], " ")

	if err := env.Service.UpdateDescription(ctx, id, description); err != nil {
		return backendError(errOut, err)
	}

	if !env.Config.Quiet {
		fmt.Fprintln(out, "ok")
	}
	return exitcode.Success
}
