package commands

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"taskboard/internal/exitcode"
	"taskboard/internal/web"
)

const shutdownTimeout = 10 * time.Second

func init() {
	Register(&ServeCmd{})
}

// ServeCmd runs the web view until interrupted.
type ServeCmd struct {
	addr string

	// ready, when set, receives the bound address (for testing).
	ready func(addr string)
}

// SetReady sets a hook called with the listen address once the server is up.
func (c *ServeCmd) SetReady(ready func(addr string)) {
	c.ready = ready
}

func (c *ServeCmd) Name() string      { return "serve" }
func (c *ServeCmd) Aliases() []string { return nil }
func (c *ServeCmd) Synopsis() string  { return "Run the web view" }
func (c *ServeCmd) Usage() string     { return "taskboard serve [--addr <addr>]" }
func (c *ServeCmd) NeedsAuth() bool   { return false }

func (c *ServeCmd) LogLevel() slog.Level { return slog.LevelInfo }

func (c *ServeCmd) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.addr, "addr", "", "")
}

func (c *ServeCmd) Run(ctx context.Context, env *Env, args []string, out, errOut io.Writer) int {
	backend, ok := env.requireBackend(errOut)
	if !ok {
		return exitcode.AuthError
	}

	addr := c.addr
	if addr == "" {
		addr = env.Config.Addr
	}

	srv, err := web.New(ctx, web.Options{
		Config:  env.Config,
		Logger:  env.Logger,
		Auth:    backend.Auth,
		Connect: web.Connector(backend.Connect),
	})
	if err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitcode.UserError
	}
	defer srv.Close()

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		fmt.Fprintf(errOut, "error: cannot listen on %s: %v\n", addr, err)
		return exitcode.UserError
	}

	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(listener)
	}()

	env.Logger.Info("web view listening", "addr", listener.Addr().String())
	if c.ready != nil {
		c.ready(listener.Addr().String())
	}

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(errOut, "error: server failed: %v\n", err)
			return exitcode.BackendError
		}
		return exitcode.Success
	case <-ctx.Done():
	}

	env.Logger.Info("shutting down web view")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		env.Logger.Warn("graceful shutdown failed", "error", err)
	}
	return exitcode.Success
}
