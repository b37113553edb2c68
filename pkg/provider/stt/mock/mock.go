// Package mock provides a test double for the stt.Provider interface.
//
// Provider returns a canned transcript and records every call so tests can
// assert which audio reached the backend:
//
//	p := &mock.Provider{Text: "hello world"}
//	text, _ := p.Transcribe(ctx, samples)
//	_ = p.Calls() // one call with samples
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/murmur/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Samples is a copy of the samples passed to Transcribe.
	Samples []float32
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Text is returned by Transcribe when Err is nil.
	Text string

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// TranscribeFunc, when set, replaces the Text/Err response.
	TranscribeFunc func(ctx context.Context, samples []float32) (string, error)

	// Closed reports whether Close has been called.
	Closed bool

	calls []TranscribeCall
}

// Transcribe records the call and returns Text, Err (or TranscribeFunc's result).
func (p *Provider) Transcribe(ctx context.Context, samples []float32) (string, error) {
	cp := make([]float32, len(samples))
	copy(cp, samples)

	p.mu.Lock()
	p.calls = append(p.calls, TranscribeCall{Ctx: ctx, Samples: cp})
	fn, text, err := p.TranscribeFunc, p.Text, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, samples)
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

// Close marks the provider as closed.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

// Calls returns a snapshot of all recorded Transcribe calls. Thread-safe.
func (p *Provider) Calls() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TranscribeCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// IsClosed reports whether Close has been called. Thread-safe.
func (p *Provider) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Closed
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
