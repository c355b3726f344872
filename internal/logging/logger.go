package logging

import (
	"log/slog"
	"os"

	"github.com/mikeisflux/streamlick-sub000/internal/platform/correlation"
)

// Logger is the application-wide structured logger instance.
var Logger *slog.Logger = slog.Default()

// InitLogger initializes the global logger with the specified level and format.
// level: "debug", "info", "warn", "error" (defaults to "info")
// format: "json" or "text" (defaults to "text")
func InitLogger(level, format string) {
	// Parse log level
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	// Context-aware log calls carry the request correlation ID.
	handler = correlation.NewHandler(handler)

	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// WithComponent returns a logger scoped to one studio component
// (compositor, mixer, publish, watchdog, ...).
func WithComponent(name string) *slog.Logger {
	return Logger.With("component", name)
}

// WithConnection returns a logger with connection_id field.
func WithConnection(connectionID string) *slog.Logger {
	return Logger.With("connection_id", connectionID)
}

// WithParticipant returns a logger with participant_id field.
func WithParticipant(participantID string) *slog.Logger {
	return Logger.With("participant_id", participantID)
}

// WithError returns a logger with error field.
func WithError(err error) *slog.Logger {
	return Logger.With("error", err)
}
