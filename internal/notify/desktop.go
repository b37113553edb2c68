package notify

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gen2brain/beeep"
)

// Desktop shows operating-system notifications for events the user must
// see even when no UI is open: the recording hit its cap, or a pipeline
// stage failed. Delivery errors are logged and otherwise ignored.
type Desktop struct {
	title   string
	enabled atomic.Bool
	sound   atomic.Bool

	notify func(title, message string, icon any) error
	beep   func(freq float64, durationMs int) error
	stub   bool
}

// DesktopOption configures a Desktop.
type DesktopOption func(*Desktop)

// WithTitle sets the notification title. Defaults to "murmur".
func WithTitle(title string) DesktopOption {
	return func(d *Desktop) { d.title = title }
}

// WithSound makes notifications beep.
func WithSound(on bool) DesktopOption {
	return func(d *Desktop) { d.sound.Store(on) }
}

// WithNotifyFunc replaces the beeep calls, for tests.
func WithNotifyFunc(notify func(title, message string, icon any) error, beep func(float64, int) error) DesktopOption {
	return func(d *Desktop) {
		d.notify = notify
		d.beep = beep
		d.stub = true
	}
}

// NewDesktop returns an enabled desktop notifier.
func NewDesktop(opts ...DesktopOption) *Desktop {
	d := &Desktop{
		title:  "murmur",
		notify: beeep.Notify,
		beep:   beeep.Beep,
	}
	d.enabled.Store(true)
	for _, o := range opts {
		o(d)
	}
	if !d.stub {
		beeep.AppName = d.title
	}
	return d
}

// SetEnabled switches notifications on or off at runtime.
func (d *Desktop) SetEnabled(on bool) { d.enabled.Store(on) }

// SetSound switches the beep on or off at runtime.
func (d *Desktop) SetSound(on bool) { d.sound.Store(on) }

// Handle shows a notification for cap-reached and error events.
func (d *Desktop) Handle(e Event) {
	if !d.enabled.Load() {
		return
	}
	var msg string
	switch e.Kind {
	case KindCapReached:
		msg = "Recording limit reached, transcribing what was captured."
	case KindError:
		msg = e.Error
		if e.Stage == StageLLM {
			msg = "LLM refinement failed, using the unrefined text: " + e.Error
		}
	default:
		return
	}
	if err := d.notify(d.title, msg, ""); err != nil {
		slog.Warn("desktop notification failed", "kind", e.Kind, "err", err)
	}
	if d.sound.Load() {
		if err := d.beep(beeep.DefaultFreq, beeep.DefaultDuration); err != nil {
			slog.Debug("desktop beep failed", "err", err)
		}
	}
}

// Run feeds the notifier from bus until ctx is done.
func (d *Desktop) Run(ctx context.Context, bus *Bus) {
	events, cancel := bus.Subscribe(8, KindCapReached, KindError)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			d.Handle(e)
		}
	}
}
