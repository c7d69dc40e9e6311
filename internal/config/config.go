package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/seantiz/nester/internal/harness"
)

const (
	defaultListenAddr = ":8080"
	defaultDBPath     = "nester.db"
	defaultVerbosity  = 3

	envListenAddr  = "NESTER_LISTEN_ADDR"
	envDBPath      = "NESTER_DB_PATH"
	envLogLevel    = "NESTER_LOG_LEVEL"
	envVerbosity   = "NESTER_LOG_VERBOSITY"
	envInstantLogs = "NESTER_LOG_INSTANT"
	envWorkers     = "NESTER_WORKERS"
	envHarnessFile = "NESTER_CONFIG"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string

	// LogLevel filters the service's own JSON log.
	LogLevel slog.Level

	// Verbosity is the code (0 off .. 5 trace) for the diagnostics each run
	// streams as processing messages.
	Verbosity int

	// InstantLogs streams run diagnostics as they happen instead of holding
	// them until the run ends.
	InstantLogs bool

	// Workers sizes the shared worker pool. Zero means one per CPU.
	Workers int

	// HarnessFile optionally names a YAML file of run defaults.
	HarnessFile string
}

// Load reads configuration from environment variables with sensible defaults.
// Malformed numeric values are reported rather than silently replaced.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr: defaultListenAddr,
		DBPath:     defaultDBPath,
		LogLevel:   slog.LevelInfo,
		Verbosity:  defaultVerbosity,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envVerbosity); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 5 {
			return Config{}, fmt.Errorf("%s must be a verbosity code 0..5, got %q", envVerbosity, v)
		}
		cfg.Verbosity = n
	}
	if v := os.Getenv(envInstantLogs); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s must be a boolean, got %q", envInstantLogs, v)
		}
		cfg.InstantLogs = b
	}
	if v := os.Getenv(envWorkers); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("%s must be a non-negative integer, got %q", envWorkers, v)
		}
		cfg.Workers = n
	}
	cfg.HarnessFile = os.Getenv(envHarnessFile)

	return cfg, nil
}

// HarnessDefaults returns the run defaults, read from HarnessFile when set.
func (c Config) HarnessDefaults() (harness.Config, error) {
	if c.HarnessFile == "" {
		return harness.DefaultConfig(), nil
	}
	return harness.LoadConfig(c.HarnessFile)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
