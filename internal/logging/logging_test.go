package logging_test

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"taskboard/internal/logging"
)

type fakePoster struct {
	mu    sync.Mutex
	tags  []string
	posts []map[string]interface{}
}

func (p *fakePoster) Post(tag string, message interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tags = append(p.tags, tag)
	p.posts = append(p.posts, message.(map[string]interface{}))
	return nil
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{" error ", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := logging.ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_ConsoleOnly(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := logging.New(logging.Options{Writer: &buf, Level: slog.LevelWarn})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer closer.Close()

	logger.Info("hidden")
	logger.Warn("shown", "id", 7)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record should be filtered: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "id=7") {
		t.Errorf("expected warn record with attrs, got %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("expected no colour codes for a non-terminal writer: %q", out)
	}
}

func TestFluentHandler_PostsFlatRecord(t *testing.T) {
	p := &fakePoster{}
	logger := slog.New(logging.NewFluentHandler(p, slog.LevelInfo)).With("view", "abc")

	logger.Debug("dropped")
	logger.WithGroup("req").Error("error inserting task", "error", errors.New("boom"), "id", int64(3))

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.posts) != 1 {
		t.Fatalf("expected 1 post, got %d", len(p.posts))
	}
	if p.tags[0] != "error" {
		t.Errorf("expected tag error, got %q", p.tags[0])
	}
	post := p.posts[0]
	if post["message"] != "error inserting task" || post["level"] != "error" {
		t.Errorf("unexpected message/level: %v", post)
	}
	if post["req.error"] != "boom" || post["req.id"] != int64(3) {
		t.Errorf("expected grouped attrs, got %v", post)
	}
	if post["view"] != "abc" {
		t.Errorf("expected logger attrs, got %v", post)
	}
	if _, ok := post["timestamp"].(string); !ok {
		t.Errorf("expected timestamp string, got %v", post["timestamp"])
	}
}

func TestFanout(t *testing.T) {
	var buf bytes.Buffer
	console := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	p := &fakePoster{}
	logger := slog.New(logging.NewFanout(console, logging.NewFluentHandler(p, slog.LevelWarn)))

	logger.Debug("debug only")
	logger.Warn("both")

	if !strings.Contains(buf.String(), "debug only") || !strings.Contains(buf.String(), "both") {
		t.Errorf("console missing records: %q", buf.String())
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.posts) != 1 || p.posts[0]["message"] != "both" {
		t.Errorf("expected only the warn record in fluent, got %v", p.posts)
	}
}
