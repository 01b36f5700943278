package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigDir_XDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")

	if got := DefaultConfigDir(); got != filepath.Join("/tmp/xdg", AppName) {
		t.Errorf("expected xdg dir, got %q", got)
	}
}

func TestNew_Defaults(t *testing.T) {
	cfg, err := New("/tmp/cfg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Table != "tasks" || cfg.Schema != "public" || cfg.ImageBucket != "tasks-images" {
		t.Errorf("unexpected table defaults: %+v", cfg)
	}
	if cfg.SessionPath() != "/tmp/cfg/session.json" {
		t.Errorf("unexpected session path %q", cfg.SessionPath())
	}
}

func TestLoad_ReadsDotenvFromConfigDir(t *testing.T) {
	dir := t.TempDir()
	env := "SUPABASE_URL=https://example.supabase.co/\nSUPABASE_ANON_KEY=anon\nTASKBOARD_ALLOWED_ORIGINS=http://a, http://b,\n"
	if err := os.WriteFile(filepath.Join(dir, EnvFile), []byte(env), 0600); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}
	// godotenv never overrides, so make sure the keys start unset.
	for _, key := range []string{"SUPABASE_URL", "SUPABASE_ANON_KEY", "TASKBOARD_ALLOWED_ORIGINS"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.BackendURL != "https://example.supabase.co" {
		t.Errorf("expected trailing slash trimmed, got %q", cfg.BackendURL)
	}
	if cfg.AnonKey != "anon" {
		t.Errorf("expected anon key, got %q", cfg.AnonKey)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://b" {
		t.Errorf("unexpected origins %v", cfg.AllowedOrigins)
	}
}

func TestLoad_EnvironmentWins(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, EnvFile), []byte("TASKBOARD_TABLE=fromfile\n"), 0600); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}
	t.Setenv("TASKBOARD_TABLE", "fromenv")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Table != "fromenv" {
		t.Errorf("expected environment to win, got %q", cfg.Table)
	}
}

func TestLoad_FluentWithoutHostDisabled(t *testing.T) {
	t.Setenv("FLUENTBIT_ENABLED", "true")
	t.Setenv("FLUENTBIT_HOST", "")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.FluentBit.Enabled {
		t.Error("expected fluent bit to be disabled without a host")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"ok", func(c *Config) {}, false},
		{"no url", func(c *Config) { c.BackendURL = "" }, true},
		{"no key", func(c *Config) { c.AnonKey = "" }, true},
		{"gcs without bucket", func(c *Config) { c.ImageStore = ImageStoreGCS }, true},
		{"gcs with bucket", func(c *Config) { c.ImageStore = ImageStoreGCS; c.GCSBucket = "b" }, false},
		{"unknown store", func(c *Config) { c.ImageStore = "s3" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, _ := New(t.TempDir())
			cfg.BackendURL = "https://example.supabase.co"
			cfg.AnonKey = "anon"
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
