package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	once   sync.Once
	logger *slog.Logger
)

// Setup initializes the global JSON logger writing to stdout.
// Unknown levels fall back to INFO.
func Setup(level string) {
	SetupWriter(level, os.Stdout)
}

// SetupWriter is Setup with an explicit sink. Only the first call takes effect.
func SetupWriter(level string, w io.Writer) {
	once.Do(func() {
		handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: ParseLevel(level),
		})
		logger = slog.New(handler)
		slog.SetDefault(logger)
	})
}

// ParseLevel maps a config level string to a slog level.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Get returns the configured logger, or a default one if Setup hasn't been called.
func Get() *slog.Logger {
	if logger == nil {
		Setup("INFO")
	}
	return logger
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithReceiver returns a logger scoped to a receiver and optional sub-id.
func WithReceiver(l *slog.Logger, receiver, id string) *slog.Logger {
	if l == nil {
		l = Get()
	}
	if id == "" {
		return l.With(slog.String("receiver", receiver))
	}
	return l.With(slog.String("receiver", receiver), slog.String("receiver_id", id))
}

// WithDelivery returns a logger with the delivery_id field set.
func WithDelivery(id string) *slog.Logger {
	return Get().With(slog.String("delivery_id", id))
}

// Critical logs at ERROR with severity=critical. slog has no level above ERROR;
// configuration faults use this so they can be alerted on separately.
func Critical(l *slog.Logger, msg string, args ...any) {
	if l == nil {
		l = Get()
	}
	l.Error(msg, append([]any{slog.String("severity", "critical")}, args...)...)
}

// Discard returns a logger that drops everything. Used by tests and tools.
func Discard() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
