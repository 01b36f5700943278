package commands

import (
	"context"
	"flag"
	"io"
	"log/slog"

	"taskboard/internal/board"
	"taskboard/internal/exitcode"
	"taskboard/internal/output"
	"taskboard/internal/service"
)

func init() {
	Register(&DebugCmd{})
}

// DebugCmd prints every change-feed event for the task table.
type DebugCmd struct{}

func (c *DebugCmd) Name() string      { return "debug" }
func (c *DebugCmd) Aliases() []string { return nil }
func (c *DebugCmd) Synopsis() string  { return "Print every change-feed event" }
func (c *DebugCmd) Usage() string     { return "taskboard debug" }
func (c *DebugCmd) NeedsAuth() bool   { return true }

func (c *DebugCmd) LogLevel() slog.Level { return slog.LevelInfo }

func (c *DebugCmd) RegisterFlags(fs *flag.FlagSet) {}

func (c *DebugCmd) Run(ctx context.Context, env *Env, args []string, out, errOut io.Writer) int {
	err := board.Debug(ctx, env.Service, env.Logger,
		func(change service.Change) {
			output.FormatChange(out, change)
		},
		func(status service.SubscriptionStatus, err error) {
			output.FormatStatus(out, status, err)
		})
	if err != nil {
		return backendError(errOut, err)
	}
	return exitcode.Success
}
