// Package logger provides a process-wide structured logger over log/slog,
// installed once at startup and used by every engine component instead of
// fmt.Println.
package logger

import (
	"context"
	"log/slog"
	"os"
)

var defaultLogger *slog.Logger

// ctxKey namespaces the request-scoped values WithContext attaches.
type ctxKey string

const (
	RequestIDKey ctxKey = "request_id"
	MessageIDKey ctxKey = "message_id"
	ProjectIDKey ctxKey = "project_id"
)

// Init initializes the global logger.
func Init(level, format string) {
	var handler slog.Handler

	logLevel := parseLevel(level)
	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: true,
	}

	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	defaultLogger = slog.New(handler)
	slog.SetDefault(defaultLogger)
}

// parseLevel converts string level to slog.Level
func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithContext returns a logger enriched with whatever request-scoped
// identifiers are present: request_id (HTTP layer), message_id and
// project_id (engine layer).
func WithContext(ctx context.Context) *slog.Logger {
	l := defaultLogger
	if v := ctx.Value(RequestIDKey); v != nil {
		l = l.With("request_id", v)
	}
	if v := ctx.Value(MessageIDKey); v != nil {
		l = l.With("message_id", v)
	}
	if v := ctx.Value(ProjectIDKey); v != nil {
		l = l.With("project_id", v)
	}
	return l
}

// WithMessage attaches a message/project pair to ctx for later WithContext calls.
func WithMessage(ctx context.Context, messageID, projectID string) context.Context {
	ctx = context.WithValue(ctx, MessageIDKey, messageID)
	ctx = context.WithValue(ctx, ProjectIDKey, projectID)
	return ctx
}

// Info logs an info message
func Info(msg string, args ...any) {
	defaultLogger.Info(msg, args...)
}

// Error logs an error message
func Error(msg string, args ...any) {
	defaultLogger.Error(msg, args...)
}

// Warn logs a warning message
func Warn(msg string, args ...any) {
	defaultLogger.Warn(msg, args...)
}

// Debug logs a debug message
func Debug(msg string, args ...any) {
	defaultLogger.Debug(msg, args...)
}

// Fatal logs a fatal message and exits
func Fatal(msg string, args ...any) {
	defaultLogger.Error(msg, args...)
	os.Exit(1)
}
