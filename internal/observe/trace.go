package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/MrWong99/murmur"

// RecordingKey is the span attribute and log key for a recording ID.
const RecordingKey = "recording"

type recordingCtxKey struct{}

// Tracer returns murmur's tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(scopeName)
}

// StartSpan starts a span named name. If ctx carries a recording ID (see
// [WithRecording]) the span is tagged with it. End the span when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if id := RecordingID(ctx); id != "" {
		opts = append(opts, trace.WithAttributes(attribute.String(RecordingKey, id)))
	}
	return Tracer().Start(ctx, name, opts...)
}

// WithRecording scopes ctx to one recording so that spans and log lines
// produced while processing it carry its ID.
func WithRecording(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, recordingCtxKey{}, id)
}

// RecordingID returns the ID set by [WithRecording], or "".
func RecordingID(ctx context.Context) string {
	id, _ := ctx.Value(recordingCtxKey{}).(string)
	return id
}

// CorrelationID returns the trace ID of the span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// Logger returns slog.Default enriched with whatever ctx knows: the
// recording ID and the trace and span IDs.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := RecordingID(ctx); id != "" {
		l = l.With(slog.String(RecordingKey, id))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
