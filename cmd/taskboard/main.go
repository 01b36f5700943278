// Package main is the entry point for the taskboard CLI.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"taskboard/internal/backend/gcs"
	"taskboard/internal/backend/supabase"
	"taskboard/internal/cli"
	"taskboard/internal/commands"
	"taskboard/internal/config"
	"taskboard/internal/service"
	"taskboard/internal/session"
)

func main() {
	// Create context that cancels on interrupt
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dispatcher := cli.NewDispatcher(commands.DefaultRegistry, newBackend)
	dispatcher.SetStdin(os.Stdin)

	code := dispatcher.Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

// newBackend wires the hosted backend: auth, and a connector that builds a
// per-session client with the configured image store.
func newBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*commands.Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	auth := supabase.NewAuth(cfg.BackendURL, cfg.AnonKey, nil)

	connect := func(ctx context.Context, sessions *session.Observer) (service.Service, error) {
		opts := supabase.OptionsFromConfig(cfg)
		opts.Logger = logger
		if cfg.ImageStore == config.ImageStoreGCS {
			store, err := gcs.New(ctx, cfg)
			if err != nil {
				return nil, err
			}
			opts.Images = store
		}
		return supabase.New(ctx, opts, auth.TokenSource(ctx, sessions))
	}

	return &commands.Backend{Auth: auth, Connect: connect}, nil
}
