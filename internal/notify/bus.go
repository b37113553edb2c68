package notify

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

// Bus fans events out to subscribers. Emit never blocks: a subscriber whose
// queue is full misses the event, which is counted in [Bus.Dropped].
// Bus is safe for concurrent use and Emit may be called from the audio
// callback.
type Bus struct {
	now func() time.Time

	mu     sync.RWMutex
	subs   map[*subscription]struct{}
	closed bool

	dropped atomic.Int64
}

type subscription struct {
	ch    chan Event
	kinds []Kind
}

func (s *subscription) wants(k Kind) bool {
	return len(s.kinds) == 0 || slices.Contains(s.kinds, k)
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithClock replaces time.Now for event timestamps.
func WithClock(now func() time.Time) BusOption {
	return func(b *Bus) { b.now = now }
}

// NewBus returns an empty Bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{now: time.Now, subs: make(map[*subscription]struct{})}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Emit stamps e if it carries no time and delivers it to every interested
// subscriber.
func (b *Bus) Emit(e Event) {
	if e.Time.IsZero() {
		e.Time = b.now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if !s.wants(e.Kind) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber for the given kinds, or all kinds when
// none are given. buffer <= 0 selects [DefaultBuffer]. The returned cancel
// func removes the subscription and closes the channel; it is idempotent.
// Subscribing to a closed bus returns an already closed channel.
func (b *Bus) Subscribe(buffer int, kinds ...Kind) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &subscription{ch: make(chan Event, buffer), kinds: slices.Clone(kinds)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[s]; ok {
				delete(b.subs, s)
				close(s.ch)
			}
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was
// full.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

// Close closes every subscriber channel. Later Emits are no-ops.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for s := range b.subs {
		close(s.ch)
		delete(b.subs, s)
	}
	return nil
}

var _ Emitter = (*Bus)(nil)
