// Package config handles the configuration directory, environment, and file paths.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	// AppName is the application directory name.
	AppName = "taskboard"

	// SessionFile is the stored session filename.
	SessionFile = "session.json"

	// EnvFile is the optional dotenv file read from the config directory.
	EnvFile = ".env"
)

// Image store kinds.
const (
	ImageStoreSupabase = "supabase"
	ImageStoreGCS      = "gcs"
)

// Config holds configuration paths and settings.
type Config struct {
	// Dir is the configuration directory path.
	Dir string

	// Debug enables debug logging.
	Debug bool

	// Quiet suppresses informational output.
	Quiet bool

	// BackendURL is the hosted backend base URL, e.g. https://xyz.supabase.co.
	BackendURL string

	// AnonKey is the backend's public API key.
	AnonKey string

	Table       string
	Schema      string
	ImageBucket string

	// ImageStore selects where task images go: "supabase" or "gcs".
	ImageStore         string
	GCSBucket          string
	GCSCredentialsFile string

	// Addr is the listen address for the web view.
	Addr string

	// SessionSecret signs browser session cookies.
	SessionSecret string

	AllowedOrigins []string

	// LogLevel is the console log level name; empty means the command default.
	LogLevel string

	FluentBit FluentBitConfig
}

// FluentBitConfig configures the optional Fluent Bit log sink.
type FluentBitConfig struct {
	Enabled bool
	Host    string
	Port    int
	Level   string
}

// New creates a new Config with the default or specified config directory
// and built-in defaults. It does not read the environment.
// If configDir is empty, uses XDG_CONFIG_HOME/taskboard or $HOME/.config/taskboard.
func New(configDir string) (*Config, error) {
	dir := configDir
	if dir == "" {
		dir = DefaultConfigDir()
	}
	return &Config{
		Dir:         dir,
		Table:       "tasks",
		Schema:      "public",
		ImageBucket: "tasks-images",
		ImageStore:  ImageStoreSupabase,
		Addr:        ":8080",
		FluentBit:   FluentBitConfig{Port: 24224, Level: "info"},
	}, nil
}

// Load creates a Config and fills it from the environment.
// A .env file in the config directory and then one in the working directory
// are loaded first; variables already set in the environment win.
func Load(configDir string) (*Config, error) {
	cfg, err := New(configDir)
	if err != nil {
		return nil, err
	}

	for _, path := range []string{cfg.EnvPath(), EnvFile} {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("could not load %s: %w", path, err)
		}
	}

	cfg.BackendURL = strings.TrimRight(getEnv("SUPABASE_URL", ""), "/")
	cfg.AnonKey = getEnv("SUPABASE_ANON_KEY", "")
	cfg.Table = getEnv("TASKBOARD_TABLE", cfg.Table)
	cfg.Schema = getEnv("TASKBOARD_SCHEMA", cfg.Schema)
	cfg.ImageBucket = getEnv("TASKBOARD_IMAGE_BUCKET", cfg.ImageBucket)
	cfg.ImageStore = strings.ToLower(getEnv("TASKBOARD_IMAGE_STORE", cfg.ImageStore))
	cfg.GCSBucket = getEnv("TASKBOARD_GCS_BUCKET", "")
	cfg.GCSCredentialsFile = getEnv("TASKBOARD_GCS_CREDENTIALS", "")
	cfg.Addr = getEnv("TASKBOARD_ADDR", cfg.Addr)
	cfg.SessionSecret = getEnv("TASKBOARD_SESSION_SECRET", "")
	cfg.AllowedOrigins = splitList(getEnv("TASKBOARD_ALLOWED_ORIGINS", ""))
	cfg.LogLevel = getEnv("TASKBOARD_LOG_LEVEL", "")

	cfg.FluentBit.Enabled = getEnvAsBool("FLUENTBIT_ENABLED", false)
	if cfg.FluentBit.Enabled {
		cfg.FluentBit.Host = getEnv("FLUENTBIT_HOST", "")
		if cfg.FluentBit.Host == "" {
			slog.Warn("FLUENTBIT_ENABLED is true but FLUENTBIT_HOST is not set; disabling Fluent Bit")
			cfg.FluentBit.Enabled = false
		}
		cfg.FluentBit.Port = getEnvAsInt("FLUENTBIT_PORT", cfg.FluentBit.Port)
		cfg.FluentBit.Level = getEnv("FLUENTBIT_LOG_LEVEL", cfg.FluentBit.Level)
	}

	return cfg, nil
}

// Validate checks the settings needed to reach the backend.
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return errors.New("SUPABASE_URL not set")
	}
	if c.AnonKey == "" {
		return errors.New("SUPABASE_ANON_KEY not set")
	}
	switch c.ImageStore {
	case ImageStoreSupabase:
	case ImageStoreGCS:
		if c.GCSBucket == "" {
			return errors.New("TASKBOARD_GCS_BUCKET not set")
		}
	default:
		return fmt.Errorf("unknown image store: %s", c.ImageStore)
	}
	return nil
}

// DefaultConfigDir returns the default configuration directory.
// Uses XDG_CONFIG_HOME if set, otherwise $HOME/.config.
func DefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home can't be determined
		return AppName
	}
	return filepath.Join(home, ".config", AppName)
}

// SessionPath returns the path to the stored session file.
func (c *Config) SessionPath() string {
	return filepath.Join(c.Dir, SessionFile)
}

// EnvPath returns the path to the dotenv file in the config directory.
func (c *Config) EnvPath() string {
	return filepath.Join(c.Dir, EnvFile)
}

// EnsureDir creates the config directory if it doesn't exist.
// Directory is created with mode 0700.
func (c *Config) EnsureDir() error {
	return os.MkdirAll(c.Dir, 0700)
}

// HasSession checks if the session file exists.
func (c *Config) HasSession() bool {
	_, err := os.Stat(c.SessionPath())
	return err == nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		slog.Warn("could not parse environment variable as int, using default",
			"key", key, "value", valueStr, "default", defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		slog.Warn("could not parse environment variable as bool, using default",
			"key", key, "value", valueStr, "default", defaultValue)
		return defaultValue
	}
	return value
}

// splitList splits a comma-separated value, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
