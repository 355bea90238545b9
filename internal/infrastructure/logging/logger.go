package logging

import (
	"io"
	"log/slog"
	"log/syslog"
	"os"
	"strings"

	"github.com/nerrad567/hal-core/internal/infrastructure/config"
)

// Logger wraps slog.Logger with daemon-specific functionality.
//
// It provides structured logging with default fields and level-based
// filtering, and can route output to syslog for early-boot daemons whose
// stderr goes nowhere.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New creates a new Logger with the specified configuration.
//
// It configures:
//   - Output destination (stderr, stdout, or the system logger when
//     cfg.Syslog / HALD_USE_SYSLOG is set)
//   - Output format (text for interactive use, JSON for collectors)
//   - Log level filtering (HALD_VERBOSE forces debug via config)
//   - Default fields (service name, version)
//
// Parameters:
//   - cfg: Logging configuration
//   - version: Daemon version for the default field
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer
	switch {
	case cfg.Syslog:
		w, err := syslog.New(syslog.LOG_DAEMON|syslog.LOG_INFO, "hald")
		if err != nil {
			// No syslog socket; a daemon still has to say something.
			output = os.Stderr
		} else {
			output = w
		}
	case strings.ToLower(cfg.Output) == "stdout":
		output = os.Stdout
	default:
		output = os.Stderr
	}

	level := parseLevel(cfg.Level)

	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level: level,
	}

	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "hald"),
		slog.String("version", version),
	})

	return &Logger{
		Logger: slog.New(handler),
	}
}

// parseLevel converts a string log level to slog.Level.
//
// Supported levels: debug, info, warn, error
// Defaults to info if unrecognised.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// With returns a new Logger with additional default attributes.
//
// Example:
//
//	storeLogger := logger.With("component", "device-store")
//	storeLogger.Info("device committed") // Includes component=device-store
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Default creates a default logger for use before configuration is loaded.
//
// This logger outputs to stderr in text format at info level.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "info",
		Format: "text",
		Output: "stderr",
	}, "dev")
}
