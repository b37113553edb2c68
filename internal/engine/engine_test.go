package engine_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/murmur/internal/engine"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/pkg/provider/stt"
	"github.com/MrWong99/murmur/pkg/provider/stt/mock"
)

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func loaderFor(p stt.Provider, calls *atomic.Int32) engine.Loader {
	return func(context.Context) (stt.Provider, error) {
		calls.Add(1)
		return p, nil
	}
}

func TestEngine_NotReadyWithoutLazyLoad(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	e := engine.New(loaderFor(&mock.Provider{}, &calls), engine.WithMetrics(testMetrics(t)))
	_, err := e.Transcribe(context.Background(), []float32{0})
	if !errors.Is(err, engine.ErrNotReady) {
		t.Fatalf("Transcribe: got %v, want ErrNotReady", err)
	}
	if calls.Load() != 0 {
		t.Errorf("loader called %d times, want 0", calls.Load())
	}
}

func TestEngine_LazyLoadOnFirstUse(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	p := &mock.Provider{Text: "hello"}
	e := engine.New(loaderFor(p, &calls), engine.WithLazyLoad(), engine.WithMetrics(testMetrics(t)))

	for range 3 {
		got, err := e.Transcribe(context.Background(), []float32{0.1})
		if err != nil {
			t.Fatalf("Transcribe: %v", err)
		}
		if got != "hello" {
			t.Errorf("Transcribe: got %q, want %q", got, "hello")
		}
	}
	if calls.Load() != 1 {
		t.Errorf("loader called %d times, want 1", calls.Load())
	}
	if e.State() != engine.Ready {
		t.Errorf("State: got %v, want ready", e.State())
	}
}

func TestEngine_ConcurrentLoadSharesOneLoad(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	release := make(chan struct{})
	e := engine.New(func(context.Context) (stt.Provider, error) {
		calls.Add(1)
		<-release
		return &mock.Provider{}, nil
	}, engine.WithMetrics(testMetrics(t)))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- e.Load(context.Background())
		}()
	}

	// Give the goroutines a moment to pile up behind the first load.
	deadline := time.Now().Add(time.Second)
	for e.State() != engine.Loading && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Load: %v", err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("loader called %d times, want 1", calls.Load())
	}
}

func TestEngine_FailedLoadReturnsToUnloaded(t *testing.T) {
	t.Parallel()

	boom := errors.New("model file missing")
	var fail atomic.Bool
	fail.Store(true)
	e := engine.New(func(context.Context) (stt.Provider, error) {
		if fail.Load() {
			return nil, boom
		}
		return &mock.Provider{Text: "ok"}, nil
	}, engine.WithLazyLoad(), engine.WithMetrics(testMetrics(t)))

	if err := e.Load(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Load: got %v, want %v", err, boom)
	}
	if e.State() != engine.Unloaded {
		t.Fatalf("State after failure: got %v, want unloaded", e.State())
	}
	if !errors.Is(e.LastError(), boom) {
		t.Errorf("LastError: got %v, want %v", e.LastError(), boom)
	}

	fail.Store(false)
	if _, err := e.Transcribe(context.Background(), nil); err != nil {
		t.Fatalf("Transcribe after retry: %v", err)
	}
	if e.LastError() != nil {
		t.Errorf("LastError after success: got %v, want nil", e.LastError())
	}
}

func TestEngine_TranscriptionsAreSerialized(t *testing.T) {
	t.Parallel()

	var active, peak atomic.Int32
	p := &mock.Provider{TranscribeFunc: func(context.Context, []float32) (string, error) {
		n := active.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return "x", nil
	}}
	var calls atomic.Int32
	e := engine.New(loaderFor(p, &calls), engine.WithLazyLoad(), engine.WithMetrics(testMetrics(t)))

	var wg sync.WaitGroup
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Transcribe(context.Background(), nil); err != nil {
				t.Errorf("Transcribe: %v", err)
			}
		}()
	}
	wg.Wait()

	if peak.Load() != 1 {
		t.Errorf("peak concurrent transcriptions = %d, want 1", peak.Load())
	}
}

func TestEngine_ProviderErrorIsWrapped(t *testing.T) {
	t.Parallel()

	boom := errors.New("inference failed")
	var calls atomic.Int32
	e := engine.New(loaderFor(&mock.Provider{Err: boom}, &calls), engine.WithLazyLoad(), engine.WithMetrics(testMetrics(t)))
	if _, err := e.Transcribe(context.Background(), nil); !errors.Is(err, boom) {
		t.Fatalf("Transcribe: got %v, want %v", err, boom)
	}
}

func TestEngine_UnloadClosesProvider(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	p := &mock.Provider{}
	e := engine.New(loaderFor(p, &calls), engine.WithMetrics(testMetrics(t)))
	if err := e.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := e.Unload(context.Background()); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if !p.IsClosed() {
		t.Error("provider was not closed")
	}
	if e.State() != engine.Unloaded {
		t.Errorf("State: got %v, want unloaded", e.State())
	}
	// Unloading twice is harmless.
	if err := e.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		s    engine.State
		want string
	}{
		{engine.Unloaded, "unloaded"},
		{engine.Loading, "loading"},
		{engine.Ready, "ready"},
		{engine.State(9), "State(9)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String(): got %q, want %q", int(tt.s), got, tt.want)
		}
	}
}
