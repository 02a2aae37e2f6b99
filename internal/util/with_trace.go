package util

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// WithTrace decorates the logger with the trace id found in ctx, if any.
func WithTrace(ctx context.Context, l *zap.SugaredLogger) *zap.SugaredLogger {
	if id := TraceID(ctx); id != "" {
		l = l.With(zap.String("traceID", id))
	}
	return l
}

// TraceID returns the trace id of the span in ctx or an empty string.
func TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}
