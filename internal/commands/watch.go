package commands

import (
	"context"
	"flag"
	"fmt"
	"io"

	"taskboard/internal/board"
	"taskboard/internal/exitcode"
	"taskboard/internal/output"
	"taskboard/internal/service"
)

func init() {
	Register(&WatchCmd{})
}

// WatchCmd prints the task list, then each task inserted while it runs.
type WatchCmd struct{}

func (c *WatchCmd) Name() string      { return "watch" }
func (c *WatchCmd) Aliases() []string { return nil }
func (c *WatchCmd) Synopsis() string  { return "List tasks, then follow new ones" }
func (c *WatchCmd) Usage() string     { return "taskboard watch" }
func (c *WatchCmd) NeedsAuth() bool   { return true }

func (c *WatchCmd) RegisterFlags(fs *flag.FlagSet) {}

func (c *WatchCmd) Run(ctx context.Context, env *Env, args []string, out, errOut io.Writer) int {
	b := board.New(env.Service, env.email(), env.Logger)
	if err := b.Fetch(ctx); err != nil {
		return backendError(errOut, err)
	}

	tasks := b.Tasks()
	if len(tasks) == 0 && !env.Config.Quiet {
		fmt.Fprintln(out, "no tasks found")
	}
	output.FormatTasks(out, tasks)

	err := b.Watch(ctx, func(t service.Task) {
		output.FormatTask(out, t)
	})
	if err != nil {
		return backendError(errOut, err)
	}
	return exitcode.Success
}
