// Package logger provides structured logging using Go 1.21's log/slog.
// It sets up a JSON handler with service-level context and provides
// ingest job ID propagation through context.Context.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

type ctxKey string

const jobIDKey ctxKey = "job_id"

// Init creates and returns a structured logger for the given service.
// The logger outputs JSON to stdout with the service name embedded.
func Init(service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler).With(
		slog.String("service", service),
	)

	// Set as default so log/slog.Info() etc. also use structured output
	slog.SetDefault(logger)

	return logger
}

// ParseLevel maps a config level string to a slog.Level. Unknown
// strings fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// WithJobID stores an ingest job ID in the context for downstream
// propagation through the parse/sanitize/store path.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// JobID extracts the job ID from context. Returns "" if not set.
func JobID(ctx context.Context) string {
	if v, ok := ctx.Value(jobIDKey).(string); ok {
		return v
	}
	return ""
}

// GenerateJobID creates a job ID from a cache key and timestamp.
// Format: "{symbol}:{tf}-{unixNano}".
func GenerateJobID(symbol, tf string, ts time.Time) string {
	return fmt.Sprintf("%s:%s-%d", symbol, tf, ts.UnixNano())
}

// LogWithJob returns slog attributes including the job ID from context.
// Usage: slog.Info("msg", logger.LogWithJob(ctx)...)
func LogWithJob(ctx context.Context) []any {
	jid := JobID(ctx)
	if jid == "" {
		return nil
	}
	return []any{slog.String("job_id", jid)}
}
