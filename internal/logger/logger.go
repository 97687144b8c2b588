// Package logger provides the process-wide structured logger.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

var defaultLogger *slog.Logger

func init() {
	defaultLogger = New(os.Getenv("ENVIRONMENT"), os.Stderr)
}

// New builds a logger for the given environment. Production gets JSON at
// info level, everything else gets text at debug level.
func New(env string, w io.Writer) *slog.Logger {
	if env == "production" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// SetDefault replaces the default logger. Intended for main and tests.
func SetDefault(l *slog.Logger) {
	if l != nil {
		defaultLogger = l
	}
}

// Default returns the default logger instance.
func Default() *slog.Logger {
	return defaultLogger
}

// With returns a logger carrying the given attributes.
func With(args ...any) *slog.Logger {
	return defaultLogger.With(args...)
}

type loggerKey struct{}

// WithContext stores l in ctx.
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext returns the logger stored in ctx, or the default logger.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return defaultLogger
	}
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return defaultLogger
}

func Debug(msg string, args ...any) { defaultLogger.Debug(msg, args...) }
func Info(msg string, args ...any)  { defaultLogger.Info(msg, args...) }
func Warn(msg string, args ...any)  { defaultLogger.Warn(msg, args...) }
func Error(msg string, args ...any) { defaultLogger.Error(msg, args...) }

// ErrorErr logs msg at error level with err attached.
func ErrorErr(err error, msg string, args ...any) {
	args = append(args, "error", err)
	defaultLogger.Error(msg, args...)
}

// FatalErr logs msg with err and exits the process.
func FatalErr(err error, msg string, args ...any) {
	args = append(args, "error", err)
	defaultLogger.Error(msg, args...)
	os.Exit(1)
}
