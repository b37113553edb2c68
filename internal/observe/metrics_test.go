package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// countsBy flattens an int64 sum into label value -> count for one key.
func countsBy(t *testing.T, rm metricdata.ResourceMetrics, name, key string) map[string]int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("%s not recorded", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s: got %T, want Sum[int64]", name, met.Data)
	}
	out := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key(key))
		out[v.AsString()] += dp.Value
	}
	return out
}

func histogramCount(t *testing.T, rm metricdata.ResourceMetrics, name string) uint64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		return 0
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("%s: got %T, want Histogram[float64]", name, met.Data)
	}
	var n uint64
	for _, dp := range hist.DataPoints {
		n += dp.Count
	}
	return n
}

func TestPipelineLatencies(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	// One dictation: transcribe, refine, whole pipeline.
	m.STTDuration.Record(ctx, 1.8)
	m.LLMDuration.Record(ctx, 0.6)
	m.PipelineDuration.Record(ctx, 2.5)
	m.STTDuration.Record(ctx, 0.9)

	rm := collect(t, reader)
	for name, want := range map[string]uint64{
		"murmur.stt.duration":      2,
		"murmur.llm.duration":      1,
		"murmur.pipeline.duration": 1,
	} {
		if got := histogramCount(t, rm, name); got != want {
			t.Errorf("%s: got %d samples, want %d", name, got, want)
		}
	}
}

func TestRecordProviderRequest_ByStatus(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "ollama", "llm", "ok")
	m.RecordProviderRequest(ctx, "whisper", "stt", "ok")
	m.RecordProviderRequest(ctx, "ollama", "llm", "error")
	m.RecordProviderError(ctx, "ollama", "llm")

	rm := collect(t, reader)
	byStatus := countsBy(t, rm, "murmur.provider.requests", "status")
	if byStatus["ok"] != 2 || byStatus["error"] != 1 {
		t.Errorf("provider requests by status: got %v, want ok=2 error=1", byStatus)
	}
	errs := countsBy(t, rm, "murmur.provider.errors", "provider")
	if errs["ollama"] != 1 {
		t.Errorf("provider errors: got %v, want ollama=1", errs)
	}
}

func TestRecordStageFailure(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordStageFailure(ctx, "llm")
	m.RecordStageFailure(ctx, "llm")
	m.RecordStageFailure(ctx, "dictionary")

	got := countsBy(t, collect(t, reader), "murmur.stage.failures", "stage")
	if got["llm"] != 2 || got["dictionary"] != 1 {
		t.Errorf("stage failures: got %v, want llm=2 dictionary=1", got)
	}
}

func TestRecordRecording(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRecording(ctx, "stopped", 4.2)
	m.RecordRecording(ctx, "limited", 300)
	m.RecordRecording(ctx, "failed", 0)

	rm := collect(t, reader)
	outcomes := countsBy(t, rm, "murmur.recordings", "outcome")
	for _, o := range []string{"stopped", "limited", "failed"} {
		if outcomes[o] != 1 {
			t.Errorf("recordings[%s]: got %d, want 1", o, outcomes[o])
		}
	}
	// Zero-length recordings are counted but not observed.
	if got := histogramCount(t, rm, "murmur.recording.duration"); got != 2 {
		t.Errorf("murmur.recording.duration: got %d samples, want 2", got)
	}
}

func TestActiveRecordings(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveRecordings.Add(ctx, 1)
	m.ActiveRecordings.Add(ctx, -1)
	m.ActiveRecordings.Add(ctx, 1)

	got := countsBy(t, collect(t, reader), "murmur.active_recordings", "")
	if got[""] != 1 {
		t.Errorf("active recordings: got %d, want 1", got[""])
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics: got different instances on repeated calls")
	}
}
