// Package logging provides the service-wide structured logger. Output is
// JSON on stdout so log shippers can parse it without configuration.
package logging

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with service-specific construction.
type Logger struct {
	*slog.Logger
}

// New creates a logger at the named level. Unknown levels fall back to
// info.
func New(level string) *Logger {
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

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})

	return &Logger{Logger: slog.New(handler)}
}

// Default returns a logger at info level.
func Default() *Logger {
	return New("info")
}

// WithComponent tags every record with the emitting component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.With("component", name)}
}
