package commands

import (
	"context"
	"flag"
	"fmt"
	"io"

	"taskboard/internal/exitcode"
)

func init() {
	Register(&HelpCmd{})
}

// HelpCmd implements the help command.
type HelpCmd struct{}

func (c *HelpCmd) Name() string      { return "help" }
func (c *HelpCmd) Aliases() []string { return nil }
func (c *HelpCmd) Synopsis() string  { return "Print usage" }
func (c *HelpCmd) Usage() string     { return "taskboard help" }
func (c *HelpCmd) NeedsAuth() bool   { return false }

func (c *HelpCmd) RegisterFlags(fs *flag.FlagSet) {}

func (c *HelpCmd) Run(ctx context.Context, env *Env, args []string, out, errOut io.Writer) int {
	fmt.Fprint(out, helpText)
	return exitcode.Success
}

const helpText = `Usage:
  taskboard                                          List tasks, newest first
  taskboard list [common flags]
  taskboard add [common flags] [--description <text>] [--image <file>] <title...>
  taskboard edit [common flags] <id> <description...>
  taskboard rm [common flags] <id>
  taskboard watch [common flags]                     List tasks, then follow new ones
  taskboard debug [common flags]                     Print every change-feed event
  taskboard serve [common flags] [--addr <addr>]     Run the web view
  taskboard login [common flags] [--email <e>] [--password <p>] [--signup]
  taskboard login [common flags] --provider <name>
  taskboard logout [common flags]
  taskboard whoami [common flags]
  taskboard help
  taskboard version

Common flags:
  --config <dir>   Override config directory
  --quiet          Suppress informational output
  --debug          Print debug logs to stderr

Environment:
  SUPABASE_URL, SUPABASE_ANON_KEY   Hosted backend (required)
  TASKBOARD_*                       Optional settings, also read from <config dir>/.env
`
