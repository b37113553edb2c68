// Package transcript turns a finished recording into text.
//
// The [Orchestrator] runs a fixed sequence of stages:
//
//  1. transcribe: decode the WAV, resample to 16 kHz mono, run the model
//  2. dictionary: phonetic correction against the user's vocabulary
//  3. llm: optional language-model refinement
//  4. format: the user's formatting rules
//  5. persist: history entry and usage statistics
//
// Only a failed transcription is an error. Every later stage passes its
// input through unchanged when it fails, so the caller always gets the best
// text that could be produced. An empty transcription ends the run early.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/murmur/internal/dictionary"
	"github.com/MrWong99/murmur/internal/history"
	"github.com/MrWong99/murmur/internal/notify"
	"github.com/MrWong99/murmur/internal/observe"
	"github.com/MrWong99/murmur/internal/transcript/llmcorrect"
	"github.com/MrWong99/murmur/pkg/audio"
	"github.com/MrWong99/murmur/pkg/provider/stt"
)

// DefaultLLMTimeout bounds the refinement stage.
const DefaultLLMTimeout = 30 * time.Second

// Transcriber turns 16 kHz mono samples into text. [engine.Engine]
// implements it.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32) (string, error)
}

// DictionarySource provides the current vocabulary. [dictionary.Store]
// implements it.
type DictionarySource interface {
	Snapshot() dictionary.Dictionary
}

// Corrector applies dictionary corrections. [phonetic.Matcher] implements
// it.
type Corrector interface {
	Correct(text string, dict map[string][]string) (string, error)
}

// Refiner is the language-model stage. [llmcorrect.Refiner] implements it.
type Refiner interface {
	Refine(ctx context.Context, text string, words []string) (*llmcorrect.Refinement, error)
}

// Formatter is the formatting-rules stage. [format.Engine] implements it.
type Formatter interface {
	Apply(text string) (string, error)
}

// Options are per-run settings.
type Options struct {
	// BypassLLM skips the refinement stage.
	BypassLLM bool

	// Recording tags the run's events. Optional.
	Recording string
}

// Result is the output of one run. Intermediate texts are kept so callers
// can show what each stage did.
type Result struct {
	Raw       string `json:"raw"`
	Corrected string `json:"corrected"`
	Refined   string `json:"refined"`
	Final     string `json:"final"`

	Duration  time.Duration `json:"duration_ns"`
	SizeBytes int64         `json:"size_bytes"`
	WordCount int           `json:"word_count"`

	// Degraded lists the stages that failed and passed their input through.
	Degraded []string `json:"degraded,omitempty"`

	// Changes lists the spans rewritten by the language model.
	Changes []llmcorrect.Change `json:"changes,omitempty"`
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithDictionary enables the dictionary stage.
func WithDictionary(src DictionarySource, c Corrector) Option {
	return func(o *Orchestrator) {
		o.dict = src
		o.corrector = c
	}
}

// WithRefiner enables the language-model stage.
func WithRefiner(r Refiner) Option {
	return func(o *Orchestrator) { o.refiner = r }
}

// WithFormatter enables the formatting stage.
func WithFormatter(f Formatter) Option {
	return func(o *Orchestrator) { o.formatter = f }
}

// WithHistory enables persistence. limit is the number of history entries
// kept; 0 records statistics only.
func WithHistory(s history.Store, limit int) Option {
	return func(o *Orchestrator) {
		o.history = s
		o.historyLimit = limit
	}
}

// WithEmitter sets where stage events go. Defaults to [notify.Discard].
func WithEmitter(e notify.Emitter) Option {
	return func(o *Orchestrator) { o.events = e }
}

// WithLLMTimeout overrides [DefaultLLMTimeout].
func WithLLMTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.llmTimeout = d
		}
	}
}

// WithMetrics overrides the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// Orchestrator runs the post-capture pipeline. Runs for different
// recordings may proceed concurrently; the transcriber serializes model
// access on its own.
type Orchestrator struct {
	stt       Transcriber
	dict      DictionarySource
	corrector Corrector
	history   history.Store
	events    notify.Emitter
	metrics   *observe.Metrics

	// Hot-reloadable.
	mu           sync.RWMutex
	refiner      Refiner
	formatter    Formatter
	historyLimit int
	llmTimeout   time.Duration
}

// New returns an Orchestrator transcribing with t.
func New(t Transcriber, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		stt:        t,
		events:     notify.Discard,
		llmTimeout: DefaultLLMTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// SetRefiner swaps the refinement stage; nil disables it.
func (o *Orchestrator) SetRefiner(r Refiner) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refiner = r
}

// SetFormatter swaps the formatting stage; nil disables it.
func (o *Orchestrator) SetFormatter(f Formatter) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.formatter = f
}

// SetHistoryLimit changes how many history entries are kept.
func (o *Orchestrator) SetHistoryLimit(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.historyLimit = n
}

// SetLLMTimeout changes the refinement bound. Non-positive values are
// ignored.
func (o *Orchestrator) SetLLMTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.llmTimeout = d
}

type settings struct {
	refiner      Refiner
	formatter    Formatter
	historyLimit int
	llmTimeout   time.Duration
}

func (o *Orchestrator) settings() settings {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return settings{o.refiner, o.formatter, o.historyLimit, o.llmTimeout}
}

// Process runs all stages over the WAV file at path.
func (o *Orchestrator) Process(ctx context.Context, path string, opts Options) (*Result, error) {
	ctx = observe.WithRecording(ctx, opts.Recording)
	ctx, span := observe.StartSpan(ctx, "transcript.process",
		trace.WithAttributes(attribute.Bool("bypass_llm", opts.BypassLLM)))
	defer span.End()
	start := time.Now()
	defer func() { o.metrics.PipelineDuration.Record(ctx, time.Since(start).Seconds()) }()

	cfg := o.settings()
	res := &Result{}

	raw, err := o.transcribe(ctx, path, opts.Recording)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transcription failed")
		return nil, err
	}
	res.Raw = raw
	if strings.TrimSpace(raw) == "" {
		observe.Logger(ctx).Debug("empty transcription, skipping remaining stages", "path", path)
		return res, nil
	}

	dict := o.snapshot()
	res.Corrected = o.passThrough(ctx, res, opts.Recording, notify.StageDictionary, raw, func(context.Context) (string, error) {
		if o.corrector == nil {
			return raw, nil
		}
		return o.corrector.Correct(raw, dict)
	})

	res.Refined = res.Corrected
	if !opts.BypassLLM && cfg.refiner != nil {
		res.Refined = o.passThrough(ctx, res, opts.Recording, notify.StageLLM, res.Corrected, func(ctx context.Context) (string, error) {
			ctx, cancel := context.WithTimeout(ctx, cfg.llmTimeout)
			defer cancel()
			ref, err := cfg.refiner.Refine(ctx, res.Corrected, dict.Words())
			if err != nil {
				return "", err
			}
			res.Changes = ref.Changes
			return ref.Text, nil
		})
	}

	res.Final = o.passThrough(ctx, res, opts.Recording, notify.StageFormat, res.Refined, func(context.Context) (string, error) {
		if cfg.formatter == nil {
			return res.Refined, nil
		}
		return cfg.formatter.Apply(res.Refined)
	})

	res.WordCount = len(strings.Fields(res.Final))
	if info, err := audio.ProbeWAV(path); err == nil {
		res.Duration = info.Duration
		res.SizeBytes = info.SizeBytes
	} else {
		observe.Logger(ctx).Warn("could not probe recording", "path", path, "err", err)
	}
	o.persist(ctx, res, opts.Recording, cfg.historyLimit)
	return res, nil
}

// TranscribeFile runs only the transcription and dictionary stages. It
// backs the upload endpoint and the MCP tool.
func (o *Orchestrator) TranscribeFile(ctx context.Context, path string) (string, error) {
	ctx, span := observe.StartSpan(ctx, "transcript.transcribe_file")
	defer span.End()

	raw, err := o.transcribe(ctx, path, "")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transcription failed")
		return "", err
	}
	if strings.TrimSpace(raw) == "" || o.corrector == nil {
		return raw, nil
	}
	out, err := o.corrector.Correct(raw, o.snapshot())
	if err != nil {
		o.metrics.RecordStageFailure(ctx, notify.StageDictionary)
		observe.Logger(ctx).Warn("dictionary correction failed, using raw text", "stage", notify.StageDictionary, "err", err)
		return raw, nil
	}
	return out, nil
}

func (o *Orchestrator) snapshot() dictionary.Dictionary {
	if o.dict == nil {
		return nil
	}
	return o.dict.Snapshot()
}

func (o *Orchestrator) transcribe(ctx context.Context, path, rec string) (string, error) {
	ctx, span := observe.StartSpan(ctx, "stage."+notify.StageTranscribe)
	defer span.End()
	o.events.Emit(notify.StageStart(rec, notify.StageTranscribe))
	start := time.Now()

	text, err := func() (string, error) {
		samples, err := audio.ReadWAV(path, stt.SampleRate)
		if err != nil {
			return "", err
		}
		return o.stt.Transcribe(ctx, samples)
	}()
	if errors.Is(err, stt.ErrNoSpeech) {
		text, err = "", nil
	}

	o.events.Emit(notify.StageEnd(rec, notify.StageTranscribe, time.Since(start), err))
	if err != nil {
		span.RecordError(err)
		o.metrics.RecordStageFailure(ctx, notify.StageTranscribe)
		o.events.Emit(notify.Error(rec, notify.StageTranscribe, err))
		return "", fmt.Errorf("transcript: transcribe %q: %w", path, err)
	}
	return strings.TrimSpace(text), nil
}

// passThrough runs one fallible stage. On failure it logs, counts and
// announces the error, records the stage as degraded and returns in.
func (o *Orchestrator) passThrough(ctx context.Context, res *Result, rec, stage, in string, fn func(context.Context) (string, error)) string {
	ctx, span := observe.StartSpan(ctx, "stage."+stage)
	defer span.End()
	o.events.Emit(notify.StageStart(rec, stage))
	start := time.Now()

	out, err := fn(ctx)
	o.events.Emit(notify.StageEnd(rec, stage, time.Since(start), err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stage failed")
		o.metrics.RecordStageFailure(ctx, stage)
		observe.Logger(ctx).Warn("pipeline stage failed, passing text through", "stage", stage, "err", err)
		o.events.Emit(notify.Error(rec, stage, err))
		res.Degraded = append(res.Degraded, stage)
		return in
	}
	return out
}

func (o *Orchestrator) persist(ctx context.Context, res *Result, rec string, limit int) {
	if o.history == nil {
		return
	}
	ctx, span := observe.StartSpan(ctx, "stage."+notify.StagePersist)
	defer span.End()
	o.events.Emit(notify.StageStart(rec, notify.StagePersist))
	start := time.Now()

	var errs []error
	if limit > 0 {
		entry := history.Entry{Text: res.Final, RawText: res.Raw, Seconds: res.Duration.Seconds(), Words: res.WordCount}
		if err := o.history.Add(ctx, entry); err != nil {
			errs = append(errs, err)
		} else if err := o.history.Prune(ctx, limit); err != nil {
			errs = append(errs, err)
		}
	}
	delta := history.StatsDelta{Words: int64(res.WordCount), Seconds: res.Duration.Seconds(), Bytes: res.SizeBytes}
	if err := o.history.RecordStats(ctx, delta); err != nil {
		errs = append(errs, err)
	}

	err := errors.Join(errs...)
	o.events.Emit(notify.StageEnd(rec, notify.StagePersist, time.Since(start), err))
	if err != nil {
		span.RecordError(err)
		o.metrics.RecordStageFailure(ctx, notify.StagePersist)
		observe.Logger(ctx).Error("failed to persist transcription", "stage", notify.StagePersist, "err", err)
	}
}
