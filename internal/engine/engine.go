// Package engine owns the lifecycle of the speech-to-text model.
//
// Local transcription models are expensive to load and must not run two
// inferences at once. [Engine] models this as an explicit state machine,
// Unloaded → Loading → Ready, guarded by one mutex and a condition variable.
// Callers that arrive while a load is in flight wait for it instead of
// starting a second one. Transcriptions are serialized through a weighted
// semaphore of size one so a slow inference cannot be overlapped by the next
// recording.
//
// This package lives under internal/ because it encapsulates application-private
// processing logic and is not intended to be imported by external code.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/pkg/provider/stt"
)

// ErrNotReady is returned by Transcribe when no model is loaded and lazy
// loading is disabled.
var ErrNotReady = errors.New("engine: transcription model not loaded")

// State is the lifecycle state of an Engine.
type State int

const (
	// Unloaded means no provider exists.
	Unloaded State = iota
	// Loading means a load is in flight.
	Loading
	// Ready means the provider is usable.
	Ready
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Loader constructs the provider. It is called at most once per load cycle.
type Loader func(ctx context.Context) (stt.Provider, error)

// Option configures an Engine.
type Option func(*Engine)

// WithLazyLoad makes Transcribe load the model on first use instead of
// returning [ErrNotReady].
func WithLazyLoad() Option {
	return func(e *Engine) { e.lazy = true }
}

// WithName sets the provider name reported in metrics and logs.
func WithName(name string) Option {
	return func(e *Engine) { e.name = name }
}

// WithMetrics overrides the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine serializes access to a lazily loaded stt.Provider.
type Engine struct {
	load    Loader
	lazy    bool
	name    string
	metrics *observe.Metrics

	mu       sync.Mutex
	cond     *sync.Cond
	state    State
	provider stt.Provider
	loadErr  error // last load failure, reported by LastError
	loads    int   // completed load attempts

	sem *semaphore.Weighted
}

// New creates an Engine in the Unloaded state.
func New(load Loader, opts ...Option) *Engine {
	e := &Engine{
		load: load,
		name: "stt",
		sem:  semaphore.NewWeighted(1),
	}
	e.cond = sync.NewCond(&e.mu)
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Load brings the engine to Ready. It is idempotent: a Ready engine returns
// immediately, and callers arriving during Loading wait for that load and
// share its result. A failed load returns the engine to Unloaded so a later
// call can retry.
//
// Cancelling ctx aborts the wait but not a load that another caller started.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	if e.state == Loading {
		gen := e.loads
		for e.state == Loading {
			if err := e.waitLocked(ctx); err != nil {
				e.mu.Unlock()
				return err
			}
		}
		if e.state == Unloaded && e.loads != gen && e.loadErr != nil {
			err := e.loadErr
			e.mu.Unlock()
			return fmt.Errorf("engine: load %s: %w", e.name, err)
		}
	}
	if e.state == Ready {
		e.mu.Unlock()
		return nil
	}
	if err := ctx.Err(); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("engine: load %s: %w", e.name, err)
	}
	e.state = Loading
	e.mu.Unlock()

	start := time.Now()
	p, err := e.load(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.loads++
	if err != nil {
		e.state = Unloaded
		e.loadErr = err
		e.cond.Broadcast()
		return fmt.Errorf("engine: load %s: %w", e.name, err)
	}
	e.provider = p
	e.loadErr = nil
	e.state = Ready
	e.cond.Broadcast()
	slog.Info("transcription model loaded", "provider", e.name, "took", time.Since(start))
	return nil
}

// LastError returns the error of the most recent failed load, or nil once a
// load succeeded.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadErr
}

// waitLocked blocks on the condition until it is signalled or ctx is done.
// e.mu must be held.
func (e *Engine) waitLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		e.mu.Lock()
		e.cond.Broadcast()
		e.mu.Unlock()
	})
	defer stop()
	e.cond.Wait()
	return ctx.Err()
}

// Transcribe runs the provider over samples. Only one transcription runs at
// a time; further callers queue on the semaphore and give up when ctx ends.
func (e *Engine) Transcribe(ctx context.Context, samples []float32) (string, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("engine: wait for model: %w", err)
	}
	defer e.sem.Release(1)

	// Holding the semaphore keeps Unload from closing p underneath us.
	p, err := e.ready(ctx)
	if err != nil {
		return "", err
	}

	start := time.Now()
	text, err := p.Transcribe(ctx, samples)
	e.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		e.metrics.RecordProviderRequest(ctx, e.name, "stt", "error")
		e.metrics.RecordProviderError(ctx, e.name, "stt")
		return "", fmt.Errorf("engine: transcribe: %w", err)
	}
	e.metrics.RecordProviderRequest(ctx, e.name, "stt", "ok")
	return text, nil
}

func (e *Engine) ready(ctx context.Context) (stt.Provider, error) {
	e.mu.Lock()
	if e.state == Ready {
		p := e.provider
		e.mu.Unlock()
		return p, nil
	}
	lazy := e.lazy || e.state == Loading
	e.mu.Unlock()

	if !lazy {
		return nil, ErrNotReady
	}
	if err := e.Load(ctx); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Ready {
		return nil, ErrNotReady
	}
	return e.provider, nil
}

// Unload releases the provider, waiting for an in-flight transcription to
// finish first. Providers implementing io.Closer are closed.
func (e *Engine) Unload(ctx context.Context) error {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("engine: unload: %w", err)
	}
	defer e.sem.Release(1)

	e.mu.Lock()
	for e.state == Loading {
		if err := e.waitLocked(ctx); err != nil {
			e.mu.Unlock()
			return fmt.Errorf("engine: unload: %w", err)
		}
	}
	p := e.provider
	e.provider = nil
	e.state = Unloaded
	e.mu.Unlock()

	if c, ok := p.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return fmt.Errorf("engine: close %s: %w", e.name, err)
		}
	}
	return nil
}

// Close unloads the engine. It implements io.Closer for the app's shutdown
// list.
func (e *Engine) Close() error {
	return e.Unload(context.Background())
}
