package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/murmur/internal/capture"
	"github.com/MrWong99/murmur/internal/notify"
	"github.com/MrWong99/murmur/internal/transcript"
)

// Stages reported by the controller in addition to the pipeline stages.
const (
	StageCapture = "capture"
	StageDeliver = "deliver"
	StageArchive = "archive"
)

// Recording outcomes reported in metrics.
const (
	outcomeStopped = "stopped"
	outcomeLimited = "limited"
	outcomeFailed  = "failed"
)

// ErrNoCapture is returned when the app was built without an audio backend.
var ErrNoCapture = errors.New("app: audio capture is not available")

// StartOptions are per-recording settings.
type StartOptions struct {
	// BypassLLM skips refinement for this recording. Nil consumes the
	// pending toggle set with SetBypassNext.
	BypassLLM *bool
}

// Status describes the controller state.
type Status struct {
	Recording bool          `json:"recording"`
	ID        string        `json:"id,omitempty"`
	StartedAt time.Time     `json:"started_at,omitzero"`
	Elapsed   time.Duration `json:"elapsed_ns,omitempty"`
	BypassLLM bool          `json:"bypass_llm"`

	// BypassNext is the pending toggle for the next recording.
	BypassNext bool   `json:"bypass_next"`
	Engine     string `json:"engine"`
}

// recording is the controller's view of an active capture.
type recording struct {
	id        string
	path      string
	startedAt time.Time
	bypass    bool
	limited   atomic.Bool
}

// SetBypassNext arms or disarms LLM bypass for the next recording.
func (a *App) SetBypassNext(on bool) { a.bypassNext.Store(on) }

// ToggleBypassNext flips the pending bypass and returns the new value.
func (a *App) ToggleBypassNext() bool {
	for {
		old := a.bypassNext.Load()
		if a.bypassNext.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// Status returns the current controller state.
func (a *App) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := Status{BypassNext: a.bypassNext.Load(), Engine: a.engine.State().String()}
	if a.cur != nil {
		st.Recording = true
		st.ID = a.cur.id
		st.StartedAt = a.cur.startedAt
		st.Elapsed = time.Since(a.cur.startedAt)
		st.BypassLLM = a.cur.bypass
	}
	return st
}

// StartRecording opens the configured input device and starts writing a new
// recording. It returns [capture.ErrAlreadyRecording] while one is active.
func (a *App) StartRecording(ctx context.Context, opts StartOptions) (Status, error) {
	if a.recorder == nil {
		return Status{}, ErrNoCapture
	}

	a.mu.Lock()
	if a.cur != nil {
		active := a.cur.id
		a.mu.Unlock()
		slog.Warn("start rejected, recording already active", "recording", active)
		return Status{}, capture.ErrAlreadyRecording
	}

	id := uuid.NewString()
	rec := &recording{id: id, path: filepath.Join(a.recDir, id+".wav")}
	if opts.BypassLLM != nil {
		rec.bypass = *opts.BypassLLM
	} else {
		rec.bypass = a.bypassNext.Swap(false)
	}

	sess, err := a.recorder.Start(ctx, a.Config().Audio.Device, rec.path, &rec.limited)
	if err != nil {
		a.mu.Unlock()
		a.metrics.RecordRecording(ctx, outcomeFailed, 0)
		a.bus.Emit(notify.Error(id, StageCapture, err))
		_ = os.Remove(rec.path)
		return Status{}, fmt.Errorf("app: start recording: %w", err)
	}
	rec.startedAt = sess.StartedAt
	a.cur = rec
	a.mu.Unlock()

	a.metrics.ActiveRecordings.Add(ctx, 1)
	a.bus.Emit(notify.Event{Kind: notify.KindRecordingStarted, Recording: id})
	slog.Info("recording started",
		"recording", id,
		"device", sess.DeviceID,
		"rate", sess.Format.SampleRate,
		"channels", sess.Format.Channels,
		"bypass_llm", rec.bypass,
	)
	a.warmup(id)
	return a.Status(), nil
}

// StopRecording stops the active recording and runs the pipeline over it:
// transcription, delivery, archive and cleanup. It returns
// [capture.ErrNotRecording] when nothing is being recorded.
func (a *App) StopRecording(ctx context.Context) (*transcript.Result, error) {
	return a.stop(ctx, "")
}

// ToggleResult reports what Toggle did.
type ToggleResult struct {
	Started bool               `json:"started"`
	Status  Status             `json:"status"`
	Result  *transcript.Result `json:"result,omitempty"`
}

// Toggle starts a recording when idle and stops it otherwise.
func (a *App) Toggle(ctx context.Context) (ToggleResult, error) {
	a.mu.Lock()
	active := a.cur != nil
	a.mu.Unlock()

	if !active {
		st, err := a.StartRecording(ctx, StartOptions{})
		return ToggleResult{Started: true, Status: st}, err
	}
	res, err := a.StopRecording(ctx)
	if errors.Is(err, capture.ErrNotRecording) {
		// Lost the race against an automatic stop.
		return ToggleResult{Status: a.Status()}, nil
	}
	return ToggleResult{Status: a.Status(), Result: res}, err
}

// onLimit runs on its own goroutine when the duration cap is crossed.
func (a *App) onLimit(sess capture.Session) {
	a.mu.Lock()
	var id string
	if a.cur != nil && a.cur.path == sess.Path {
		id = a.cur.id
	}
	a.mu.Unlock()
	if id == "" {
		return
	}

	a.bus.Emit(notify.Event{Kind: notify.KindCapReached, Recording: id})
	slog.Info("recording limit reached, stopping", "recording", id, "max_duration", a.Config().Audio.MaxDuration)
	if _, err := a.stop(context.Background(), sess.Path); err != nil && !errors.Is(err, capture.ErrNotRecording) {
		slog.Error("automatic stop failed", "recording", id, "err", err)
	}
}

// stop finalizes the active recording, or only the one at onlyPath when
// set, and processes it.
func (a *App) stop(ctx context.Context, onlyPath string) (*transcript.Result, error) {
	a.mu.Lock()
	rec := a.cur
	if rec == nil || (onlyPath != "" && rec.path != onlyPath) {
		a.mu.Unlock()
		return nil, capture.ErrNotRecording
	}
	a.cur = nil
	captured, stopErr := a.recorder.Stop()
	a.pipelines.Add(1)
	a.mu.Unlock()
	defer a.pipelines.Done()

	a.metrics.ActiveRecordings.Add(ctx, -1)
	outcome := outcomeStopped
	if captured.Limited {
		outcome = outcomeLimited
	}
	a.bus.Emit(notify.Event{Kind: notify.KindRecordingStopped, Recording: rec.id, Duration: captured.Duration})

	if stopErr != nil {
		a.metrics.RecordRecording(ctx, outcomeFailed, captured.Duration.Seconds())
		a.bus.Emit(notify.Error(rec.id, StageCapture, stopErr))
		slog.Warn("recording not finalized, keeping file", "recording", rec.id, "path", rec.path, "err", stopErr)
		return nil, fmt.Errorf("app: stop recording: %w", stopErr)
	}
	a.metrics.RecordRecording(ctx, outcome, captured.Duration.Seconds())
	slog.Info("recording stopped", "recording", rec.id, "duration", captured.Duration, "samples", captured.Samples, "limited", captured.Limited)

	return a.process(ctx, rec)
}

// process runs the pipeline, delivers the text, archives and removes the
// file.
func (a *App) process(ctx context.Context, rec *recording) (*transcript.Result, error) {
	defer a.cleanup(rec)

	res, err := a.orch.Process(ctx, rec.path, transcript.Options{BypassLLM: rec.bypass, Recording: rec.id})
	if err != nil {
		slog.Error("transcription failed", "recording", rec.id, "err", err)
		return nil, fmt.Errorf("app: %w", err)
	}

	if res.Final != "" {
		if err := a.clipboard.Deliver(ctx, res.Final); err != nil {
			slog.Warn("transcript delivery failed", "recording", rec.id, "stage", StageDeliver, "err", err)
			a.bus.Emit(notify.Error(rec.id, StageDeliver, err))
		}
	}
	a.bus.Emit(notify.Event{Kind: notify.KindTranscript, Recording: rec.id, Text: res.Final, Duration: res.Duration})

	if a.archiver != nil {
		if _, err := a.archiver.Upload(ctx, rec.path, rec.id); err != nil {
			slog.Warn("recording archive failed", "recording", rec.id, "stage", StageArchive, "err", err)
			a.bus.Emit(notify.Error(rec.id, StageArchive, err))
		}
	}

	slog.Info("transcription complete",
		"recording", rec.id,
		"words", res.WordCount,
		"degraded", res.Degraded,
	)
	return res, nil
}

func (a *App) cleanup(rec *recording) {
	if a.Config().Audio.KeepRecordings {
		return
	}
	if err := os.Remove(rec.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to remove recording", "recording", rec.id, "path", rec.path, "err", err)
	}
}

// discardActive stops an active recording without processing it.
func (a *App) discardActive() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cur == nil || a.recorder == nil {
		return
	}
	rec := a.cur
	a.cur = nil
	a.metrics.ActiveRecordings.Add(context.Background(), -1)
	if _, err := a.recorder.Stop(); err != nil {
		slog.Warn("failed to stop recording on shutdown, keeping file", "recording", rec.id, "path", rec.path, "err", err)
		return
	}
	a.cleanup(rec)
	slog.Info("discarded active recording on shutdown", "recording", rec.id)
}
