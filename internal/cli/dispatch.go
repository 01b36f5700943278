package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"taskboard/internal/commands"
	"taskboard/internal/config"
	"taskboard/internal/exitcode"
	"taskboard/internal/logging"
	"taskboard/internal/service"
	"taskboard/internal/session"
)

// BackendFactory builds the backend from config.
// Used to inject the backend during dispatch.
type BackendFactory func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*commands.Backend, error)

// Dispatcher handles command-line parsing and dispatch.
type Dispatcher struct {
	registry *commands.Registry
	factory  BackendFactory
	stdin    io.Reader
}

// NewDispatcher creates a new dispatcher with the given registry and backend factory.
func NewDispatcher(registry *commands.Registry, factory BackendFactory) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		factory:  factory,
	}
}

// SetStdin sets the reader commands may prompt from.
func (d *Dispatcher) SetStdin(r io.Reader) {
	d.stdin = r
}

// Run parses arguments and dispatches to the appropriate command.
// Returns the exit code.
func (d *Dispatcher) Run(ctx context.Context, args []string, out, errOut io.Writer) int {
	// No args -> dispatch to "list" command with no args
	if len(args) == 0 {
		return d.dispatch(ctx, "list", nil, out, errOut)
	}

	cmdName := args[0]

	// If first token starts with -, it's an error (flags require a command)
	if strings.HasPrefix(cmdName, "-") {
		fmt.Fprintf(errOut, "error: unknown command: %s\n", cmdName)
		return exitcode.UserError
	}

	return d.dispatch(ctx, cmdName, args[1:], out, errOut)
}

func (d *Dispatcher) dispatch(ctx context.Context, cmdName string, args []string, out, errOut io.Writer) int {
	cmd, ok := d.registry.Find(cmdName)
	if !ok {
		fmt.Fprintf(errOut, "error: unknown command: %s\n", cmdName)
		return exitcode.UserError
	}
	return d.dispatchCommand(ctx, cmd, args, out, errOut)
}

func (d *Dispatcher) dispatchCommand(ctx context.Context, cmd commands.Command, args []string, out, errOut io.Writer) int {
	// Create flag set with custom error handling
	fs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	fs.SetOutput(io.Discard) // We handle errors ourselves

	// Common flags
	var configDir string
	var quiet bool
	var debug bool

	fs.StringVar(&configDir, "config", "", "")
	fs.BoolVar(&quiet, "quiet", false, "")
	fs.BoolVar(&debug, "debug", false, "")

	cmd.RegisterFlags(fs)

	if err := fs.Parse(args); err != nil {
		return flagError(errOut, err)
	}

	// Check if first positional arg starts with - (should have been parsed as flag)
	positionalArgs := fs.Args()
	if len(positionalArgs) > 0 && strings.HasPrefix(positionalArgs[0], "-") {
		fmt.Fprintf(errOut, "error: unknown flag: %s\n", positionalArgs[0])
		return exitcode.UserError
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		fmt.Fprintf(errOut, "error: %s\n", err)
		return exitcode.UserError
	}
	cfg.Quiet = quiet
	cfg.Debug = debug

	logger, closer, err := logging.New(logging.Options{
		Writer:    errOut,
		Level:     logLevel(cmd, cfg, errOut),
		FluentBit: cfg.FluentBit,
	})
	if err != nil {
		fmt.Fprintf(errOut, "error: %s\n", err)
		return exitcode.UserError
	}
	defer closer.Close()

	// An unreadable session file counts as signed out.
	store := session.NewStore(cfg.SessionPath())
	stored, err := store.Load()
	if err != nil {
		logger.Warn("ignoring stored session", "path", store.Path(), "error", err)
		stored = nil
	}
	if cmd.NeedsAuth() && stored == nil {
		fmt.Fprintln(errOut, "error: not logged in (run: taskboard login)")
		return exitcode.AuthError
	}

	sessions := session.NewObserver(stored)
	persist := store.Persist(sessions, logger)
	defer persist.Unsubscribe()

	env := &commands.Env{
		Config:   cfg,
		Logger:   logger,
		Sessions: sessions,
		Stdin:    d.stdin,
	}
	if d.factory != nil {
		env.Backend, env.BackendErr = d.factory(ctx, cfg, logger)
	} else {
		env.BackendErr = errors.New("backend not configured")
	}

	if cmd.NeedsAuth() {
		if env.BackendErr != nil {
			fmt.Fprintf(errOut, "error: %s\n", env.BackendErr)
			return exitcode.AuthError
		}
		svc, err := env.Backend.Connect(ctx, sessions)
		if err != nil {
			if service.IsAuthError(err) {
				fmt.Fprintf(errOut, "error: auth error: %s\n", err)
				return exitcode.AuthError
			}
			fmt.Fprintf(errOut, "error: backend error: %s\n", err)
			return exitcode.BackendError
		}
		env.Service = svc
	}

	return cmd.Run(ctx, env, positionalArgs, out, errOut)
}

// logLevel picks the console level: --debug, then TASKBOARD_LOG_LEVEL,
// then the command's default, then warn.
func logLevel(cmd commands.Command, cfg *config.Config, errOut io.Writer) slog.Level {
	if cfg.Debug {
		return slog.LevelDebug
	}
	if cfg.LogLevel != "" {
		level, err := logging.ParseLevel(cfg.LogLevel)
		if err == nil {
			return level
		}
		fmt.Fprintf(errOut, "warning: %s\n", err)
	}
	if l, ok := cmd.(commands.LogLeveler); ok {
		return l.LogLevel()
	}
	return slog.LevelWarn
}

// flagError reports a flag parse error.
func flagError(errOut io.Writer, err error) int {
	errStr := err.Error()

	// Check for missing flag value
	if strings.Contains(errStr, "needs a value") || strings.Contains(errStr, "flag needs an argument") {
		parts := strings.Split(errStr, ":")
		flagPart := strings.TrimSpace(parts[len(parts)-1])
		fmt.Fprintf(errOut, "error: flag needs an argument: %s\n", flagPart)
		return exitcode.UserError
	}

	// Check for unknown flag
	if strings.HasPrefix(errStr, "flag provided but not defined:") {
		flagName := strings.TrimPrefix(errStr, "flag provided but not defined: ")
		fmt.Fprintf(errOut, "error: unknown flag: %s\n", flagName)
		return exitcode.UserError
	}

	fmt.Fprintf(errOut, "error: %s\n", errStr)
	return exitcode.UserError
}
