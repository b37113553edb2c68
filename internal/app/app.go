// Package app wires the dictation subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run drives the background workers until the context ends, and
// Shutdown tears everything down in order. Triggers (terminal UI, HTTP API,
// MCP tools) call StartRecording, StopRecording and Toggle.
//
// For testing, inject doubles via functional options (WithBackend,
// WithHistoryStore, WithClipboard, ...). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/murmur/internal/archive"
	"github.com/MrWong99/murmur/internal/capture"
	"github.com/MrWong99/murmur/internal/config"
	"github.com/MrWong99/murmur/internal/deliver"
	"github.com/MrWong99/murmur/internal/dictionary"
	"github.com/MrWong99/murmur/internal/engine"
	"github.com/MrWong99/murmur/internal/history"
	"github.com/MrWong99/murmur/internal/notify"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/transcript"
	"github.com/MrWong99/murmur/internal/transcript/format"
	"github.com/MrWong99/murmur/internal/transcript/llmcorrect"
	"github.com/MrWong99/murmur/internal/transcript/phonetic"
	"github.com/MrWong99/murmur/pkg/provider/llm"
	"github.com/MrWong99/murmur/pkg/provider/stt"
)

// RecordingsDirName is the directory under the system temp dir that holds
// in-flight recordings.
const RecordingsDirName = "murmur_recordings"

// Providers holds the backends built by main from the config registry.
type Providers struct {
	STT     stt.Provider
	STTName string

	// LoadSTT builds the speech-to-text backend on first use and takes
	// precedence over STT.
	LoadSTT engine.Loader

	// LLM is nil when no language model is configured.
	LLM     llm.Provider
	LLMName string
}

// Archiver uploads a finished recording. [archive.Archiver] implements it.
type Archiver interface {
	Upload(ctx context.Context, localPath, id string) (string, error)
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       atomic.Pointer[config.Config]
	providers *Providers
	metrics   *observe.Metrics
	levelVar  *slog.LevelVar

	bus        *notify.Bus
	dict       *dictionary.Store
	matcher    *phonetic.Matcher
	history    history.Store
	engine     *engine.Engine
	orch       *transcript.Orchestrator
	refiner    atomic.Pointer[llmcorrect.Refiner]
	backend    capture.Backend
	recorder   *capture.Recorder
	clipboard  *deliver.Clipboard
	archiver   Archiver
	desktop    *notify.Desktop
	recDir     string
	bypassNext atomic.Bool

	// mu guards the active recording.
	mu  sync.Mutex
	cur *recording

	// pipelines tracks post-capture runs so Shutdown can wait for them.
	pipelines sync.WaitGroup

	// closers are called in reverse order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithBackend sets the audio hardware backend. Required unless a test never
// records.
func WithBackend(b capture.Backend) Option {
	return func(a *App) { a.backend = b }
}

// WithHistoryStore injects a history store instead of opening one from config.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.history = s }
}

// WithClipboard injects the clipboard deliverer.
func WithClipboard(c *deliver.Clipboard) Option {
	return func(a *App) { a.clipboard = c }
}

// WithArchiver injects an archiver instead of building the S3 one.
func WithArchiver(ar Archiver) Option {
	return func(a *App) { a.archiver = ar }
}

// WithDesktop injects the desktop notifier.
func WithDesktop(d *notify.Desktop) Option {
	return func(a *App) { a.desktop = d }
}

// WithRecordingsDir overrides <temp>/murmur_recordings.
func WithRecordingsDir(dir string) Option {
	return func(a *App) { a.recDir = dir }
}

// WithMetrics overrides the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets config reloads change the log level at runtime.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = v }
}

// New creates an App by wiring all subsystems together. On error every
// subsystem opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (_ *App, err error) {
	if providers == nil || (providers.STT == nil && providers.LoadSTT == nil) {
		return nil, errors.New("app: a speech-to-text provider is required")
	}
	a := &App{providers: providers}
	a.cfg.Store(cfg)
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	defer func() {
		if err != nil {
			_ = a.closeAll()
		}
	}()

	// ── 1. Event bus ─────────────────────────────────────────────────────
	a.bus = notify.NewBus()
	a.closers = append(a.closers, a.bus.Close)

	// ── 2. Dictionary ────────────────────────────────────────────────────
	a.dict, err = dictionary.Open(cfg.Dictionary.Path, dictionary.WithDefaultLanguages(cfg.Dictionary.DefaultLanguages...))
	if err != nil {
		return nil, fmt.Errorf("app: open dictionary: %w", err)
	}
	mopts := []phonetic.Option{phonetic.WithDefaultLanguages(cfg.Dictionary.DefaultLanguages...)}
	if cfg.Dictionary.TokenScoped {
		mopts = append(mopts, phonetic.WithTokenScoped())
	}
	a.matcher = phonetic.New(mopts...)

	// ── 3. History ───────────────────────────────────────────────────────
	if a.history == nil {
		a.history, err = history.Open(ctx, cfg.History.Backend, cfg.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("app: open history: %w", err)
		}
		a.closers = append(a.closers, a.history.Close)
	}

	// ── 4. Transcription engine ──────────────────────────────────────────
	load := providers.LoadSTT
	if load == nil {
		load = func(context.Context) (stt.Provider, error) { return providers.STT, nil }
	}
	a.engine = engine.New(load,
		engine.WithLazyLoad(),
		engine.WithName(cmp.Or(providers.STTName, "stt")),
		engine.WithMetrics(a.metrics),
	)
	a.closers = append(a.closers, a.engine.Close)

	// ── 5. Pipeline ──────────────────────────────────────────────────────
	formatter, err := format.New(cfg.Format.Rules)
	if err != nil {
		return nil, fmt.Errorf("app: formatting rules: %w", err)
	}
	a.orch = transcript.New(a.engine,
		transcript.WithDictionary(a.dict, a.matcher),
		transcript.WithFormatter(formatter),
		transcript.WithHistory(a.history, cfg.History.Limit),
		transcript.WithEmitter(a.bus),
		transcript.WithLLMTimeout(cfg.LLM.Timeout),
		transcript.WithMetrics(a.metrics),
	)
	a.applyRefiner(cfg)

	// ── 6. Capture ───────────────────────────────────────────────────────
	if a.recDir == "" {
		a.recDir = filepath.Join(os.TempDir(), RecordingsDirName)
	}
	if err := os.MkdirAll(a.recDir, 0o700); err != nil {
		return nil, fmt.Errorf("app: create recordings dir: %w", err)
	}
	if a.backend != nil {
		a.recorder = capture.New(a.backend,
			capture.WithMaxDuration(cfg.Audio.MaxDuration),
			capture.WithLevelInterval(cfg.Audio.LevelInterval),
			capture.WithLevelHandler(func(l float32) { a.bus.Emit(notify.Level(l)) }),
			capture.WithLimitHandler(a.onLimit),
		)
	}

	// ── 7. Delivery, archive, notifications ──────────────────────────────
	if a.clipboard == nil {
		a.clipboard = deliver.NewClipboard()
	}
	a.clipboard.SetEnabled(cfg.Output.CopyToClipboard)

	if a.archiver == nil && cfg.Archive.S3.Enabled() {
		ar, err := archive.NewS3(cfg.Archive.S3)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.archiver = ar
	}

	if a.desktop == nil {
		a.desktop = notify.NewDesktop()
	}
	a.desktop.SetEnabled(cfg.Notifications.Desktop)
	a.desktop.SetSound(cfg.Notifications.Sound)

	slog.Info("app initialised",
		"stt", a.providers.STTName,
		"llm", a.providers.LLMName,
		"llm_enabled", a.refiner.Load() != nil,
		"dictionary_words", a.dict.Len(),
		"format_rules", formatter.Len(),
		"history_backend", cmp.Or(cfg.History.Backend, history.BackendSQLite),
		"archive", a.archiver != nil,
	)
	return a, nil
}

// Run starts the background workers and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.desktop.Run(ctx, a.bus)
		return nil
	})

	if a.Config().Providers.PreloadModel {
		g.Go(func() error {
			if err := a.engine.Load(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("failed to preload transcription model", "err", err)
			}
			return nil
		})
	}

	slog.Info("app running", "recordings_dir", a.recDir)
	<-ctx.Done()
	_ = g.Wait()
	return ctx.Err()
}

// Shutdown discards an active recording, waits for running pipelines and
// closes all subsystems. It is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		a.discardActive()

		done := make(chan struct{})
		go func() {
			a.pipelines.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			slog.Warn("shutdown: gave up waiting for running pipelines", "err", ctx.Err())
		}

		err = a.closeAll()
	})
	return err
}

func (a *App) closeAll() error {
	var errs []error
	for _, c := range slices.Backward(a.closers) {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Config returns the active configuration.
func (a *App) Config() *config.Config { return a.cfg.Load() }

// Bus returns the event bus.
func (a *App) Bus() *notify.Bus { return a.bus }

// Dictionary returns the dictionary store.
func (a *App) Dictionary() *dictionary.Store { return a.dict }

// History returns the history store.
func (a *App) History() history.Store { return a.history }

// Orchestrator returns the post-capture pipeline.
func (a *App) Orchestrator() *transcript.Orchestrator { return a.orch }

// Engine returns the transcription engine.
func (a *App) Engine() *engine.Engine { return a.engine }

// Devices lists the input devices of the capture backend.
func (a *App) Devices() ([]capture.DeviceInfo, error) {
	if a.backend == nil {
		return nil, capture.ErrNoInputDevice
	}
	return a.backend.Devices()
}

// applyRefiner builds the refinement stage from cfg and installs it.
func (a *App) applyRefiner(cfg *config.Config) {
	if !cfg.LLM.Enabled || a.providers.LLM == nil {
		a.refiner.Store(nil)
		a.orch.SetRefiner(nil)
		return
	}
	r := llmcorrect.New(a.providers.LLM,
		llmcorrect.WithPrompt(cfg.LLM.Prompt),
		llmcorrect.WithMaxTokens(cfg.LLM.MaxTokens),
		llmcorrect.WithName(cmp.Or(a.providers.LLMName, "llm")),
		llmcorrect.WithMetrics(a.metrics),
	)
	a.refiner.Store(r)
	a.orch.SetRefiner(r)
	a.orch.SetLLMTimeout(cfg.LLM.Timeout)
}

// warmup primes the language model in the background.
func (a *App) warmup(id string) {
	r := a.refiner.Load()
	if r == nil || !a.Config().LLM.Warmup {
		return
	}
	timeout := a.Config().LLM.Timeout
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		start := time.Now()
		if err := r.Warmup(ctx); err != nil {
			slog.Debug("llm warmup failed", "recording", id, "err", err)
			return
		}
		slog.Debug("llm warmed up", "recording", id, "took", time.Since(start))
	}()
}
