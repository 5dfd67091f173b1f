package rescache

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with rescache-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithName adds the logical resource name to the logger.
func (l *Logger) WithName(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("name", name),
	}
}

// WithType adds the resource type to the logger.
func (l *Logger) WithType(typ Type) *Logger {
	return &Logger{
		Logger: l.Logger.With("type", string(typ)),
	}
}

// WithResource adds name and type of a resource to the logger.
func (l *Logger) WithResource(name string, typ Type) *Logger {
	return &Logger{
		Logger: l.Logger.With("name", name, "type", string(typ)),
	}
}

// LogRequest logs a resource request.
func (l *Logger) LogRequest(ctx context.Context, name string, typ Type, created bool) {
	l.DebugContext(ctx, "resource requested",
		"name", name,
		"type", string(typ),
		"created", created,
	)
}

// LogConvert logs a conversion.
func (l *Logger) LogConvert(ctx context.Context, name, dest string, d time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "conversion failed",
			"name", name,
			"dest", dest,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "conversion completed",
			"name", name,
			"dest", dest,
			"duration", d,
		)
	}
}

// LogLoad logs a first load or a reload.
func (l *Logger) LogLoad(ctx context.Context, name string, reload bool, size int, err error) {
	msg := "load"
	if reload {
		msg = "reload"
	}
	if err != nil {
		l.ErrorContext(ctx, msg+" failed",
			"name", name,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, msg+" completed",
			"name", name,
			"bytes", size,
		)
	}
}

// LogReloadBatch logs the reconversions scheduled by the hot-reload monitor.
func (l *Logger) LogReloadBatch(ctx context.Context, scheduled, deferred int) {
	l.InfoContext(ctx, "hot reload",
		"scheduled", scheduled,
		"deferred", deferred,
	)
}

// LogDestroy logs the destruction of released resources.
func (l *Logger) LogDestroy(ctx context.Context, destroyed, deferred int) {
	if destroyed == 0 && deferred == 0 {
		return
	}
	l.DebugContext(ctx, "released resources processed",
		"destroyed", destroyed,
		"deferred", deferred,
	)
}
