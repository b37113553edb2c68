// Package capture owns the microphone input stream of a dictation session.
//
// A [Recorder] opens one hardware input stream through a [Backend], and on
// every hardware callback downmixes the frames to mono, converts them to
// 16-bit PCM, appends them to a [audio.WavSink], feeds the level meter and
// checks the elapsed time against the duration cap. The callback never
// blocks on anything but the short-held sink mutex and never logs.
//
// At most one session is active per Recorder; a second [Recorder.Start]
// returns [ErrAlreadyRecording]. When the cap is crossed the session's limit
// flag flips false→true exactly once and the limit handler runs on its own
// goroutine, where the caller is expected to call [Recorder.Stop].
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/murmur/pkg/audio"
)

// DefaultMaxDuration is the hard cap on a single recording.
const DefaultMaxDuration = 300 * time.Second

var (
	// ErrAlreadyRecording is returned by Start while a session is active.
	ErrAlreadyRecording = errors.New("capture: a recording is already in progress")

	// ErrNotRecording is returned by Stop when no session is active.
	ErrNotRecording = errors.New("capture: no recording in progress")

	// ErrNoInputDevice is returned by backends when the requested device does
	// not exist or the system has no default input.
	ErrNoInputDevice = errors.New("capture: no input device available")
)

// Session describes an active capture. It is immutable apart from the limit
// flag, which is shared with the caller.
type Session struct {
	// DeviceID is the requested device; empty selects the system default.
	DeviceID string

	// Format is the native format the device delivers.
	Format audio.Format

	// Path is the WAV file being written.
	Path string

	// StartedAt is the wall-clock time the stream started.
	StartedAt time.Time

	// Limited is set exactly once when the duration cap is crossed. It is
	// reset to false when the session starts.
	Limited *atomic.Bool
}

// Recording is the result of a stopped session.
type Recording struct {
	Path     string
	Format   audio.Format
	Samples  int64
	Duration time.Duration
	Limited  bool
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithMaxDuration overrides [DefaultMaxDuration]. Non-positive values are
// ignored.
func WithMaxDuration(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.maxDuration = d
		}
	}
}

// WithLevelInterval sets the level meter window.
func WithLevelInterval(d time.Duration) Option {
	return func(r *Recorder) { r.levelInterval = d }
}

// WithLevelHandler registers fn to receive smoothed input levels in [0, 1].
// fn runs on the audio callback and must not block.
func WithLevelHandler(fn func(level float32)) Option {
	return func(r *Recorder) { r.onLevel = fn }
}

// WithLimitHandler registers fn to run once per session when the duration
// cap is reached. fn runs on its own goroutine.
func WithLimitHandler(fn func(Session)) Option {
	return func(r *Recorder) { r.onLimit = fn }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// Recorder captures audio from an input device into WAV files.
// All methods are safe for concurrent use.
type Recorder struct {
	backend       Backend
	maxDuration   time.Duration
	levelInterval time.Duration
	onLevel       func(float32)
	onLimit       func(Session)
	now           func() time.Time

	// mu is the single-slot guard. It is never taken by the audio callback.
	mu     sync.Mutex
	active *activeSession
}

// New creates a Recorder that opens streams through backend.
func New(backend Backend, opts ...Option) *Recorder {
	r := &Recorder{
		backend:       backend,
		maxDuration:   DefaultMaxDuration,
		levelInterval: audio.DefaultLevelInterval,
		now:           time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// MaxDuration returns the configured cap.
func (r *Recorder) MaxDuration() time.Duration { return r.maxDuration }

// Active returns the running session, if any.
func (r *Recorder) Active() (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return Session{}, false
	}
	return r.active.session, true
}

// Start opens the input device identified by deviceID (empty for the system
// default), creates a WAV sink at path and starts streaming. limited is
// reset to false and shared with the session; pass nil to let the Recorder
// allocate one.
func (r *Recorder) Start(ctx context.Context, deviceID, path string, limited *atomic.Bool) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, fmt.Errorf("capture: start: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return Session{}, ErrAlreadyRecording
	}

	if limited == nil {
		limited = new(atomic.Bool)
	}
	limited.Store(false)

	as := &activeSession{
		maxDuration: r.maxDuration,
		onLevel:     r.onLevel,
		onLimit:     r.onLimit,
		now:         r.now,
	}
	as.session = Session{DeviceID: deviceID, Path: path, Limited: limited}

	// The sink rate is only known once the device reports its native format.
	// Until the sink is attached the callback drops every buffer.
	stream, format, err := r.backend.Open(deviceID, as.process)
	if err != nil {
		return Session{}, fmt.Errorf("capture: open device: %w", err)
	}
	h := newStreamHandle(stream)

	sink, err := audio.NewWavSink(path, format.SampleRate)
	if err != nil {
		_ = h.close()
		return Session{}, fmt.Errorf("capture: %w", err)
	}

	as.mu.Lock()
	as.sink = sink
	as.channels = max(format.Channels, 1)
	as.session.Format = audio.Format{SampleRate: format.SampleRate, Channels: as.channels}
	as.session.StartedAt = r.now()
	as.meter = audio.NewLevelMeter(r.levelInterval, as.session.StartedAt)
	as.mu.Unlock()

	if err := h.start(); err != nil {
		_ = h.close()
		as.mu.Lock()
		_ = as.sink.Finalize()
		as.sink = nil
		as.mu.Unlock()
		return Session{}, fmt.Errorf("capture: start stream: %w", err)
	}
	as.stream = h

	r.active = as
	return as.session, nil
}

// Stop stops and closes the stream, then finalizes the WAV file. Closing the
// stream first guarantees no callback is writing while the header is
// patched. The slot stays occupied until the file is finalized.
func (r *Recorder) Stop() (Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	as := r.active
	r.active = nil

	if as == nil {
		return Recording{}, ErrNotRecording
	}

	streamErr := as.stream.close()

	as.mu.Lock()
	sink := as.sink
	as.sink = nil
	writeErr := as.writeErr
	as.mu.Unlock()

	rec := Recording{
		Path:    as.session.Path,
		Format:  as.session.Format,
		Limited: as.session.Limited.Load(),
	}
	if sink == nil {
		return rec, errors.Join(streamErr, writeErr)
	}
	rec.Samples = sink.Samples()
	if rate := as.session.Format.SampleRate; rate > 0 {
		rec.Duration = time.Duration(float64(rec.Samples) / float64(rate) * float64(time.Second))
	}

	if err := sink.Finalize(); err != nil {
		return rec, fmt.Errorf("capture: finalize: %w", errors.Join(err, streamErr, writeErr))
	}
	if err := errors.Join(streamErr, writeErr); err != nil {
		return rec, fmt.Errorf("capture: stop: %w", err)
	}
	return rec, nil
}

// activeSession is the state captured by the audio callback closure.
type activeSession struct {
	session     Session
	maxDuration time.Duration
	onLevel     func(float32)
	onLimit     func(Session)
	now         func() time.Time

	stream *streamHandle

	// mu guards everything below. The callback holds it only while converting
	// and writing one buffer.
	mu       sync.Mutex
	sink     *audio.WavSink
	meter    *audio.LevelMeter
	channels int
	writeErr error
}

// process is the hardware callback.
func (s *activeSession) process(in []float32) {
	if s.session.Limited.Load() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sink == nil {
		return
	}

	now := s.now()
	if now.Sub(s.session.StartedAt) >= s.maxDuration {
		if s.session.Limited.CompareAndSwap(false, true) && s.onLimit != nil {
			go s.onLimit(s.session)
		}
		return
	}

	ch := s.channels
	for i := 0; i+ch <= len(in); i += ch {
		m := audio.DownmixFrame(in[i : i+ch])
		if s.writeErr == nil {
			s.writeErr = s.sink.WriteSample(audio.FloatToPCM16(m))
		}
		s.meter.Add(m)
	}

	if lvl, ok := s.meter.Tick(now); ok && s.onLevel != nil {
		s.onLevel(lvl)
	}
}
