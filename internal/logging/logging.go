package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config contains logging configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// FilePath enables JSON file logging when non-empty.
	FilePath string
	// MaxSizeMB is the size at which the file rotates.
	MaxSizeMB int
	// MaxFiles is the number of rotated files kept.
	MaxFiles int
	// Stderr also writes records to stderr.
	Stderr bool
	// JSON selects the JSON handler for stderr output. File output is always JSON.
	JSON bool
}

// DefaultConfig logs warnings and above to stderr only.
func DefaultConfig() Config {
	return Config{
		Level:     "warn",
		MaxSizeMB: 10,
		MaxFiles:  5,
		Stderr:    true,
	}
}

// DebugConfig adds a debug-level JSON log file.
func DebugConfig() Config {
	cfg := DefaultConfig()
	cfg.Level = "debug"
	cfg.FilePath = DefaultLogPath()
	return cfg
}

// ServerConfig never touches stdout or stderr.
func ServerConfig(level string) Config {
	cfg := DefaultConfig()
	cfg.Level = level
	cfg.FilePath = DefaultLogPath()
	cfg.Stderr = false
	return cfg
}

// Setup builds a logger from cfg. The returned cleanup closes the log file
// and is safe to call when no file was opened.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	cleanup := func() {}

	var handler slog.Handler
	switch {
	case cfg.FilePath != "":
		writer, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
		if err != nil {
			return nil, nil, err
		}
		cleanup = func() {
			_ = writer.Sync()
			_ = writer.Close()
		}

		var out io.Writer = writer
		if cfg.Stderr {
			out = io.MultiWriter(writer, os.Stderr)
		}
		handler = slog.NewJSONHandler(out, opts)

	case cfg.Stderr && cfg.JSON:
		handler = slog.NewJSONHandler(os.Stderr, opts)

	case cfg.Stderr:
		handler = slog.NewTextHandler(os.Stderr, opts)

	default:
		handler = slog.NewTextHandler(io.Discard, opts)
	}

	return slog.New(handler), cleanup, nil
}

// SetupDefault installs the logger built from cfg as slog's default.
func SetupDefault(cfg Config) (func(), error) {
	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return cleanup, nil
}

// ParseLevel converts a level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
