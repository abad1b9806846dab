// Package logging provides request-scoped structured logging with trace and
// user identity propagation through context. It is the logger the HTTP layer
// uses; long-lived services use pkg/logger.
package logging

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey string

// Context keys for request-scoped identity.
const (
	TraceIDKey contextKey = "trace_id"
	UserIDKey  contextKey = "user_id"
	RoleKey    contextKey = "role"
)

// Logger wraps zap with context-aware field extraction.
type Logger struct {
	zap *zap.SugaredLogger
}

// New creates a logger for a service. Level is one of debug, info, warn,
// error; format is json or console.
func New(service, level, format string) *Logger {
	var zapLevel zapcore.Level
	if err := zapLevel.Set(strings.TrimSpace(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.Encoding = "json"
	if strings.ToLower(strings.TrimSpace(format)) == "console" {
		cfg.Encoding = "console"
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	base, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		base = zap.NewNop()
	}

	sugar := base.Sugar()
	if strings.TrimSpace(service) != "" {
		sugar = sugar.With("service", service)
	}
	return &Logger{zap: sugar}
}

// Default returns a console logger at info level.
func Default() *Logger {
	return New("", "info", "console")
}

// Nop returns a logger that discards everything. Useful in tests.
func Nop() *Logger {
	return &Logger{zap: zap.NewNop().Sugar()}
}

// WithContext returns a logger carrying the trace ID, user ID, and role
// found in ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	out := l.zap
	if id := GetTraceID(ctx); id != "" {
		out = out.With("trace_id", id)
	}
	if id := GetUserID(ctx); id != "" {
		out = out.With("user_id", id)
	}
	if role := GetRole(ctx); role != "" {
		out = out.With("role", role)
	}
	return &Logger{zap: out}
}

// WithField returns a logger with one additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{zap: l.zap.With(key, value)}
}

// WithFields returns a logger with additional fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{zap: l.zap.With(args...)}
}

// WithError returns a logger with the error attached.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return &Logger{zap: l.zap.With("error", err.Error())}
}

func (l *Logger) Debug(args ...interface{}) { l.zap.Debug(args...) }
func (l *Logger) Info(args ...interface{})  { l.zap.Info(args...) }
func (l *Logger) Warn(args ...interface{})  { l.zap.Warn(args...) }
func (l *Logger) Error(args ...interface{}) { l.zap.Error(args...) }

func (l *Logger) Debugf(format string, args ...interface{}) { l.zap.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.zap.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.zap.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.zap.Errorf(format, args...) }

// LogRequest emits one access-log record for a completed HTTP request.
func (l *Logger) LogRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	l.WithContext(ctx).zap.Infow("request completed",
		"method", method,
		"path", path,
		"status", status,
		"duration_ms", duration.Milliseconds(),
	)
}

// LogSecurityEvent emits a warn-level record for auth and abuse events.
func (l *Logger) LogSecurityEvent(ctx context.Context, event string, details map[string]interface{}) {
	l.WithContext(ctx).WithFields(details).zap.Warnw("security event", "event", event)
}

// Sync flushes buffered records. Call on shutdown.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

// NewTraceID returns a fresh trace identifier.
func NewTraceID() string {
	return uuid.NewString()
}

// WithTraceID stores a trace ID in the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID extracts the trace ID, or "" when absent.
func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

// WithUserID stores the authenticated user ID in the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID extracts the authenticated user ID, or "" when absent.
func GetUserID(ctx context.Context) string {
	return stringValue(ctx, UserIDKey)
}

// WithRole stores the caller's role in the context.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, RoleKey, role)
}

// GetRole extracts the caller's role, or "" when absent.
func GetRole(ctx context.Context) string {
	return stringValue(ctx, RoleKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
