// Package commands provides the command interface and implementations.
package commands

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"

	"taskboard/internal/config"
	"taskboard/internal/exitcode"
	"taskboard/internal/service"
	"taskboard/internal/session"
)

// Command defines the interface for CLI commands.
type Command interface {
	// Name returns the primary command name.
	Name() string

	// Aliases returns alternative names for the command.
	Aliases() []string

	// Synopsis returns a short description for help output.
	Synopsis() string

	// Usage returns the usage string for help output.
	Usage() string

	// NeedsAuth returns true if the command requires a stored session.
	// Commands like help, version, login, logout, whoami return false.
	NeedsAuth() bool

	// RegisterFlags registers command-specific flags.
	RegisterFlags(fs *flag.FlagSet)

	// Run executes the command.
	// env.Service is nil if NeedsAuth() returns false.
	// args contains positional arguments after flag parsing.
	// Returns exit code.
	Run(ctx context.Context, env *Env, args []string, out, errOut io.Writer) int
}

// LogLeveler is implemented by commands whose default log level is not warn.
type LogLeveler interface {
	LogLevel() slog.Level
}

// ServiceFactory connects a service that authenticates with the observer's
// session and publishes refreshed tokens back to it.
type ServiceFactory func(ctx context.Context, sessions *session.Observer) (service.Service, error)

// Backend is the hosted backend as seen by commands.
type Backend struct {
	Auth    service.Authenticator
	Connect ServiceFactory
}

// Env is everything a command runs with.
type Env struct {
	Config *config.Config
	Logger *slog.Logger

	// Sessions holds the stored session; changes are persisted.
	Sessions *session.Observer

	// Backend is nil when the backend could not be configured; BackendErr
	// says why.
	Backend    *Backend
	BackendErr error

	// Service is connected for commands that need auth.
	Service service.Service

	Stdin io.Reader
}

// requireBackend reports a missing backend configuration.
func (e *Env) requireBackend(errOut io.Writer) (*Backend, bool) {
	if e.Backend != nil {
		return e.Backend, true
	}
	err := e.BackendErr
	if err == nil {
		err = fmt.Errorf("backend not configured")
	}
	fmt.Fprintf(errOut, "error: %v\n", err)
	return nil, false
}

// email returns the signed-in user's email, or "".
func (e *Env) email() string {
	if e.Sessions == nil {
		return ""
	}
	if sess := e.Sessions.Current(); sess != nil {
		return sess.User.Email
	}
	return ""
}

// backendError prints err and returns the matching exit code.
func backendError(errOut io.Writer, err error) int {
	if service.IsAuthError(err) {
		fmt.Fprintf(errOut, "error: auth error: %v\n", err)
		return exitcode.AuthError
	}
	fmt.Fprintf(errOut, "error: backend error: %v\n", err)
	return exitcode.BackendError
}
