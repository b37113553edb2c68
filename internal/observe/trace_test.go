package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTracer installs an in-memory tracer as the global provider.
func useTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs redirects slog.Default into a buffer for the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestCorrelationID_EmptyWithoutSpan(t *testing.T) {
	t.Parallel()

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID: got %q, want empty", got)
	}
}

func TestStartSpan_TagsRecording(t *testing.T) {
	exp := useTracer(t)

	ctx := WithRecording(context.Background(), "rec-42")
	ctx, span := StartSpan(ctx, "stage.transcribe")
	if cid := CorrelationID(ctx); len(cid) != 32 {
		t.Errorf("CorrelationID: got %q, want 32 hex chars", cid)
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans: got %d, want 1", len(spans))
	}
	var got string
	for _, a := range spans[0].Attributes {
		if a.Key == RecordingKey {
			got = a.Value.AsString()
		}
	}
	if got != "rec-42" {
		t.Errorf("span attribute %s: got %q, want %q", RecordingKey, got, "rec-42")
	}
}

func TestStartSpan_NoRecordingNoAttribute(t *testing.T) {
	exp := useTracer(t)

	_, span := StartSpan(context.Background(), "transcript.transcribe_file")
	span.End()

	for _, a := range exp.GetSpans()[0].Attributes {
		if a.Key == RecordingKey {
			t.Errorf("unexpected %s attribute %q", RecordingKey, a.Value.AsString())
		}
	}
}

func TestWithRecording_EmptyIDIsNoop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if got := WithRecording(ctx, ""); got != ctx {
		t.Error("WithRecording with empty ID returned a new context")
	}
	if got := RecordingID(WithRecording(ctx, "abc")); got != "abc" {
		t.Errorf("RecordingID: got %q, want %q", got, "abc")
	}
}

func TestLogger_Enrichment(t *testing.T) {
	useTracer(t)
	buf := captureLogs(t)

	ctx, span := StartSpan(WithRecording(context.Background(), "rec-7"), "transcript.process")
	defer span.End()
	Logger(ctx).Info("pipeline stage failed, passing text through")

	out := buf.String()
	for _, want := range []string{"recording=rec-7", "trace_id=" + CorrelationID(ctx), "span_id="} {
		if !strings.Contains(out, want) {
			t.Errorf("log line missing %q: %s", want, out)
		}
	}
}

func TestLogger_PlainContext(t *testing.T) {
	buf := captureLogs(t)

	Logger(context.Background()).Info("idle")

	out := buf.String()
	for _, unwanted := range []string{"trace_id", "recording="} {
		if strings.Contains(out, unwanted) {
			t.Errorf("log line should not contain %q: %s", unwanted, out)
		}
	}
}
