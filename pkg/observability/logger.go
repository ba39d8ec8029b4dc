package observability

import (
	"log/slog"
	"os"
	"strings"
)

// Logger is a thin wrapper around slog carrying the service identity.
type Logger struct {
	*slog.Logger
}

// NewLogger builds a JSON structured logger tagged with the service name.
// Level is parsed from the LOG_LEVEL environment variable (debug, info,
// warn, error), defaulting to info.
func NewLogger(serviceName string) *Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(os.Getenv("LOG_LEVEL")),
	})

	logger := slog.New(handler).With("service", serviceName)
	return &Logger{logger}
}

// Named returns a child logger tagged with a component name.
func (l *Logger) Named(component string) *Logger {
	return &Logger{l.With("component", component)}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
