package audio

import (
	"math"
	"time"
)

// Level meter defaults. A window of roughly 33 ms yields about 30 updates
// per second.
const (
	DefaultLevelInterval = 33 * time.Millisecond

	levelGain  = 1.5
	levelGate  = 0.02
	levelAlpha = 0.35
)

// LevelMeter turns a stream of mono samples into a smoothed input level in
// [0, 1]. Samples are accumulated into a sum of squares; once per interval
// the window's RMS is amplified, gated and folded into an exponential moving
// average.
//
// LevelMeter is not safe for concurrent use. [LevelMeter.Add] and
// [LevelMeter.Tick] do not allocate, so both may run on the audio callback.
type LevelMeter struct {
	interval time.Duration

	sumSquares float64
	count      int
	ema        float64
	lastEmit   time.Time
}

// NewLevelMeter returns a meter that emits at most once per interval.
// A non-positive interval selects [DefaultLevelInterval]. now seeds the
// window start.
func NewLevelMeter(interval time.Duration, now time.Time) *LevelMeter {
	if interval <= 0 {
		interval = DefaultLevelInterval
	}
	return &LevelMeter{interval: interval, lastEmit: now}
}

// Add accumulates one sample into the current window.
func (m *LevelMeter) Add(s float32) {
	v := float64(s)
	m.sumSquares += v * v
	m.count++
}

// Tick closes the current window if at least one interval has elapsed since
// the last emission. It reports ok=false while the window is still open.
//
// A window without samples emits 0 and leaves the moving average untouched.
func (m *LevelMeter) Tick(now time.Time) (level float32, ok bool) {
	if now.Sub(m.lastEmit) < m.interval {
		return 0, false
	}
	m.lastEmit = now

	if m.count == 0 {
		return 0, true
	}

	rms := math.Sqrt(m.sumSquares / float64(m.count))
	m.sumSquares = 0
	m.count = 0

	l := math.Min(rms*levelGain, 1)
	if l < levelGate {
		l = 0
	}
	m.ema = levelAlpha*l + (1-levelAlpha)*m.ema
	return float32(math.Max(0, math.Min(m.ema, 1))), true
}

// Level returns the current moving average without closing the window.
func (m *LevelMeter) Level() float32 { return float32(m.ema) }

// Reset clears the accumulated window and the moving average.
func (m *LevelMeter) Reset(now time.Time) {
	m.sumSquares = 0
	m.count = 0
	m.ema = 0
	m.lastEmit = now
}
