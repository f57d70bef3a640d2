package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const traceIDKey contextKey = "trace_id"

// GenerateTraceID generates a new trace ID
func GenerateTraceID() string {
	return uuid.New().String()
}

// WithTraceID stores a trace ID in the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID returns the trace ID carried by ctx, or ""
func TraceID(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return ""
}

// FromContext returns base tagged with the context's trace ID when present
func FromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	if id := TraceID(ctx); id != "" {
		return base.With().Str("trace_id", id).Logger()
	}
	return base
}

// SignalContext creates a logger for one inbound signal
func SignalContext(base zerolog.Logger, symbol, direction string, price float64) zerolog.Logger {
	return base.With().
		Str("symbol", symbol).
		Str("direction", direction).
		Float64("price", price).
		Logger()
}
