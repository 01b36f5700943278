// Package logging builds the process logger: a tint console handler,
// optionally fanned out to a Fluent Bit sink.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fluent/fluent-logger-golang/fluent"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"

	"taskboard/internal/config"
)

// TagPrefix prefixes every Fluent Bit tag.
const TagPrefix = "taskboard"

// Options configures New.
type Options struct {
	// Writer receives console output. Defaults to os.Stderr.
	Writer io.Writer

	// Level is the console level.
	Level slog.Leveler

	FluentBit config.FluentBitConfig
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level: %q", s)
}

// New builds a logger. The returned closer flushes and closes the
// Fluent Bit client when one was opened.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	level := opts.Level
	if level == nil {
		level = slog.LevelInfo
	}

	console := tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		NoColor:    !isTerminal(w),
	})

	if !opts.FluentBit.Enabled {
		return slog.New(console), nopCloser{}, nil
	}

	client, err := fluent.New(fluent.Config{
		FluentHost: opts.FluentBit.Host,
		FluentPort: opts.FluentBit.Port,
		TagPrefix:  TagPrefix,
		Async:      true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create fluent client: %w", err)
	}

	fluentLevel, err := ParseLevel(opts.FluentBit.Level)
	if err != nil {
		slog.New(console).Warn("invalid FLUENTBIT_LOG_LEVEL, using info", "error", err)
	}

	handler := NewFanout(console, NewFluentHandler(client, fluentLevel))
	return slog.New(handler), client, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
