package ctxutil

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey string

const (
	// TraceIDKey is the log field and context key carrying the trace id.
	TraceIDKey = "trace_id"

	traceIDKey ctxKey = TraceIDKey
	sourceKey  ctxKey = "source"
)

// GetTraceID gets trace id from context.Context.
func GetTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if traceID, ok := ctx.Value(traceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// SetTraceID sets trace id to context.Context.
func SetTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// EnsureTraceID ensures that a trace ID exists in the context.
func EnsureTraceID(ctx context.Context) (context.Context, string) {
	if traceID := GetTraceID(ctx); traceID != "" {
		return ctx, traceID
	}
	traceID := uuid.NewString()
	return SetTraceID(ctx, traceID), traceID
}

// SetSource sets the publishing source (agent or service name).
func SetSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey, source)
}

// GetSource gets the publishing source, empty when unset.
func GetSource(ctx context.Context) string {
	if source, ok := ctx.Value(sourceKey).(string); ok {
		return source
	}
	return ""
}
