package capture_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/murmur/internal/capture"
	"github.com/MrWong99/murmur/pkg/audio"
)

// fakeBackend hands the callback back to the test instead of a sound card.
type fakeBackend struct {
	mu      sync.Mutex
	format  capture.StreamFormat
	openErr error
	cb      func([]float32)
	stream  *fakeStream
	opens   int
}

func (b *fakeBackend) Devices() ([]capture.DeviceInfo, error) {
	return []capture.DeviceInfo{{ID: "fake", Name: "fake", Channels: b.format.Channels, SampleRate: b.format.SampleRate, Default: true}}, nil
}

func (b *fakeBackend) Open(_ string, cb func([]float32)) (capture.Stream, capture.StreamFormat, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opens++
	if b.openErr != nil {
		return nil, capture.StreamFormat{}, b.openErr
	}
	b.cb = cb
	b.stream = &fakeStream{}
	return b.stream, b.format, nil
}

func (b *fakeBackend) push(in []float32) {
	b.mu.Lock()
	cb := b.cb
	b.mu.Unlock()
	cb(in)
}

type fakeStream struct {
	mu                     sync.Mutex
	started, stopped, done bool
	order                  []string
}

func (s *fakeStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	s.order = append(s.order, "start")
	return nil
}

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.order = append(s.order, "stop")
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	s.order = append(s.order, "close")
	return nil
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock { return &fakeClock{now: time.Unix(1_700_000_000, 0)} }

func TestRecorder_WritesDownmixedPCM(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{format: capture.StreamFormat{SampleRate: 16000, Channels: 2}}
	clk := newClock()
	r := capture.New(b, capture.WithClock(clk.Now))
	path := filepath.Join(t.TempDir(), "out.wav")

	if _, err := r.Start(context.Background(), "", path, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// 1600 stereo frames of (0.5, 0.5) plus one dangling sample.
	buf := make([]float32, 3201)
	for i := range buf {
		buf[i] = 0.5
	}
	b.push(buf)

	rec, err := r.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rec.Samples != 1600 {
		t.Errorf("Stop: got %d samples, want 1600", rec.Samples)
	}
	if rec.Duration != 100*time.Millisecond {
		t.Errorf("Stop: got duration %v, want 100ms", rec.Duration)
	}
	if !b.stream.done {
		t.Error("stream was not closed")
	}

	got, err := audio.ReadWAV(path, 16000)
	if err != nil {
		t.Fatalf("ReadWAV: %v", err)
	}
	if len(got) != 1600 {
		t.Fatalf("ReadWAV: got %d samples, want 1600", len(got))
	}
	want := audio.PCM16ToFloat(audio.FloatToPCM16(0.5))
	if got[0] != want {
		t.Errorf("sample 0: got %v, want %v", got[0], want)
	}
}

func TestRecorder_SingleSlot(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{format: capture.StreamFormat{SampleRate: 16000, Channels: 1}}
	r := capture.New(b)
	dir := t.TempDir()

	if _, err := r.Start(context.Background(), "", filepath.Join(dir, "a.wav"), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, err := r.Start(context.Background(), "", filepath.Join(dir, "b.wav"), nil)
	if !errors.Is(err, capture.ErrAlreadyRecording) {
		t.Fatalf("second Start: got %v, want ErrAlreadyRecording", err)
	}
	if b.opens != 1 {
		t.Errorf("backend opened %d times, want 1", b.opens)
	}
	if _, err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := r.Stop(); !errors.Is(err, capture.ErrNotRecording) {
		t.Errorf("second Stop: got %v, want ErrNotRecording", err)
	}
	if _, err := r.Start(context.Background(), "", filepath.Join(dir, "c.wav"), nil); err != nil {
		t.Errorf("Start after Stop: %v", err)
	}
	_, _ = r.Stop()
}

func TestRecorder_StopOrdersStreamBeforeFinalize(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{format: capture.StreamFormat{SampleRate: 8000, Channels: 1}}
	r := capture.New(b)
	if _, err := r.Start(context.Background(), "", filepath.Join(t.TempDir(), "x.wav"), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	want := []string{"start", "stop", "close"}
	if len(b.stream.order) != len(want) {
		t.Fatalf("stream calls = %v, want %v", b.stream.order, want)
	}
	for i := range want {
		if b.stream.order[i] != want[i] {
			t.Fatalf("stream calls = %v, want %v", b.stream.order, want)
		}
	}
}

func TestRecorder_OpenError(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{openErr: capture.ErrNoInputDevice}
	r := capture.New(b)
	_, err := r.Start(context.Background(), "missing", filepath.Join(t.TempDir(), "x.wav"), nil)
	if !errors.Is(err, capture.ErrNoInputDevice) {
		t.Fatalf("Start: got %v, want ErrNoInputDevice", err)
	}
	if _, ok := r.Active(); ok {
		t.Error("failed Start left an active session")
	}
}

func TestRecorder_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := capture.New(&fakeBackend{})
	if _, err := r.Start(ctx, "", filepath.Join(t.TempDir(), "x.wav"), nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("Start: got %v, want context.Canceled", err)
	}
}

func TestRecorder_DurationCapFiresOnce(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{format: capture.StreamFormat{SampleRate: 16000, Channels: 1}}
	clk := newClock()
	var fired atomic.Int32
	limitCh := make(chan capture.Session, 4)
	r := capture.New(b,
		capture.WithClock(clk.Now),
		capture.WithMaxDuration(time.Second),
		capture.WithLimitHandler(func(s capture.Session) {
			fired.Add(1)
			limitCh <- s
		}),
	)

	var limited atomic.Bool
	limited.Store(true) // must be reset by Start
	if _, err := r.Start(context.Background(), "", filepath.Join(t.TempDir(), "cap.wav"), &limited); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if limited.Load() {
		t.Fatal("Start did not reset the limit flag")
	}

	buf := make([]float32, 160)
	b.push(buf)
	clk.Advance(time.Second)
	for range 10 {
		b.push(buf)
	}

	select {
	case <-limitCh:
	case <-time.After(2 * time.Second):
		t.Fatal("limit handler was not called")
	}
	if !limited.Load() {
		t.Error("limit flag not set")
	}

	rec, err := r.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !rec.Limited {
		t.Error("Recording.Limited = false, want true")
	}
	if rec.Samples != 160 {
		t.Errorf("samples after cap: got %d, want 160", rec.Samples)
	}
	if n := fired.Load(); n != 1 {
		t.Errorf("limit handler fired %d times, want 1", n)
	}
}

func TestRecorder_LevelsThrottled(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{format: capture.StreamFormat{SampleRate: 16000, Channels: 1}}
	clk := newClock()
	var (
		mu     sync.Mutex
		levels []float32
	)
	r := capture.New(b,
		capture.WithClock(clk.Now),
		capture.WithLevelHandler(func(l float32) {
			mu.Lock()
			levels = append(levels, l)
			mu.Unlock()
		}),
	)
	if _, err := r.Start(context.Background(), "", filepath.Join(t.TempDir(), "lvl.wav"), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	loud := make([]float32, 160)
	for i := range loud {
		loud[i] = 0.5
	}
	// Ten callbacks within one window produce no emission.
	for range 10 {
		clk.Advance(time.Millisecond)
		b.push(loud)
	}
	clk.Advance(audio.DefaultLevelInterval)
	b.push(loud)
	if _, err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(levels) != 1 {
		t.Fatalf("got %d level emissions, want 1", len(levels))
	}
	if levels[0] <= 0 || levels[0] > 1 {
		t.Errorf("level = %v, want in (0, 1]", levels[0])
	}
}
