// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger to provide specialized logging methods.
type Logger struct {
	*slog.Logger
}

// GlobalLogger is the default logger instance for the application.
var GlobalLogger *Logger

func init() {
	GlobalLogger = NewLogger(os.Stdout, os.Getenv("APP_ENV"))
}

// LogContextKey is a type for context keys used by the logging package.
type LogContextKey string

// Context keys for logging
const (
	RequestIDKey LogContextKey = "request_id"
	SessionIDKey LogContextKey = "session_id"
	UserIDKey    LogContextKey = "user_id"
	TraceIDKey   LogContextKey = "trace_id"
)

// ctxHandler is a slog.Handler that adds context values to the log record.
type ctxHandler struct {
	slog.Handler
}

// Handle adds context values to the record before passing it to the underlying handler.
func (h *ctxHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, key := range []LogContextKey{RequestIDKey, SessionIDKey, UserIDKey, TraceIDKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			r.AddAttrs(slog.String(string(key), v))
		}
	}
	return h.Handler.Handle(ctx, r)
}

// WithAttrs keeps the context-aware wrapper around derived handlers.
func (h *ctxHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ctxHandler{h.Handler.WithAttrs(attrs)}
}

// WithGroup keeps the context-aware wrapper around derived handlers.
func (h *ctxHandler) WithGroup(name string) slog.Handler {
	return &ctxHandler{h.Handler.WithGroup(name)}
}

// NewLogger builds a JSON logger for production and a text logger otherwise.
func NewLogger(w io.Writer, env string) *Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var handler slog.Handler
	if env == "production" || env == "prod" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return &Logger{Logger: slog.New(&ctxHandler{handler})}
}

// Configure replaces the global logger for the given environment.
func Configure(env string) {
	GlobalLogger = NewLogger(os.Stdout, env)
}

// WithSessionID returns a new context carrying the browser session ID.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, SessionIDKey, id)
}

// WithRequestID returns a new context carrying the request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// WithUserID returns a new context carrying the acting user ID.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, UserIDKey, id)
}

// WithTraceID returns a new context carrying the trace ID.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}

// RepoLogger provides structured logging for repository operations.
type RepoLogger struct {
	tableName string
}

// NewRepoLogger creates a new RepoLogger for the given table.
func NewRepoLogger(tableName string) *RepoLogger {
	return &RepoLogger{tableName: tableName}
}

// LogWrite logs a repository create, update or delete.
func (l *RepoLogger) LogWrite(ctx context.Context, operation string, fields map[string]interface{}) {
	attrs := []any{
		slog.String("table", l.tableName),
		slog.String("operation", operation),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	GlobalLogger.InfoContext(ctx, "repository write", attrs...)
}

// LogError logs a repository error.
func (l *RepoLogger) LogError(ctx context.Context, err error, operation string) {
	GlobalLogger.ErrorContext(ctx, "repository error",
		slog.String("table", l.tableName),
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}

// StoreLogger logs client store operations whose failures are absorbed
// rather than returned.
type StoreLogger struct {
	component string
}

// NewStoreLogger creates a logger for one store component.
func NewStoreLogger(component string) *StoreLogger {
	return &StoreLogger{component: component}
}

// Debug logs routine progress.
func (l *StoreLogger) Debug(ctx context.Context, msg string, attrs ...any) {
	GlobalLogger.DebugContext(ctx, msg, append([]any{slog.String("component", l.component)}, attrs...)...)
}

// Info logs a state transition.
func (l *StoreLogger) Info(ctx context.Context, msg string, attrs ...any) {
	GlobalLogger.InfoContext(ctx, msg, append([]any{slog.String("component", l.component)}, attrs...)...)
}

// Warn logs a degraded outcome, such as a best-effort call that failed.
func (l *StoreLogger) Warn(ctx context.Context, msg string, err error, attrs ...any) {
	base := []any{slog.String("component", l.component)}
	if err != nil {
		base = append(base, slog.String("error", err.Error()))
	}
	GlobalLogger.WarnContext(ctx, msg, append(base, attrs...)...)
}

// Error logs a failed operation.
func (l *StoreLogger) Error(ctx context.Context, msg string, err error, attrs ...any) {
	base := []any{slog.String("component", l.component)}
	if err != nil {
		base = append(base, slog.String("error", err.Error()))
	}
	GlobalLogger.ErrorContext(ctx, msg, append(base, attrs...)...)
}
