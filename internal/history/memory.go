package history

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Memory is a process-local Store.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
	stats   Stats
	nextID  int64
	now     func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{now: time.Now, nextID: 1}
}

func (m *Memory) Add(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.Time.IsZero() {
		e.Time = m.now()
	}
	e.ID = m.nextID
	m.nextID++
	m.entries = append(m.entries, e)
	return nil
}

func (m *Memory) Recent(_ context.Context, n int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 || n > len(m.entries) {
		n = len(m.entries)
	}
	out := slices.Clone(m.entries[len(m.entries)-n:])
	slices.Reverse(out)
	return out, nil
}

func (m *Memory) Prune(_ context.Context, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	keep = max(keep, 0)
	if len(m.entries) > keep {
		m.entries = slices.Clone(m.entries[len(m.entries)-keep:])
	}
	return nil
}

func (m *Memory) Stats(context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats, nil
}

func (m *Memory) RecordStats(_ context.Context, d StatsDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Recordings++
	m.stats.Words += d.Words
	m.stats.Seconds += d.Seconds
	m.stats.Bytes += d.Bytes
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
