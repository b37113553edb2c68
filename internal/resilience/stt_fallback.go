package resilience

import (
	"context"
	"errors"
	"io"

	"github.com/MrWong99/murmur/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] over a [FallbackGroup].
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var (
	_ stt.Provider = (*STTFallback)(nil)
	_ io.Closer    = (*STTFallback)(nil)
)

// NewSTTFallback creates an [STTFallback] with primary as the preferred
// backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend.
func (f *STTFallback) AddFallback(name string, p stt.Provider) {
	f.group.AddFallback(name, p)
}

// Status reports the breaker state of every backend.
func (f *STTFallback) Status() []EntryStatus { return f.group.Status() }

// Transcribe runs samples through the first healthy backend. A backend that
// reports [stt.ErrNoSpeech] has answered; that is not a reason to fail over.
func (f *STTFallback) Transcribe(ctx context.Context, samples []float32) (string, error) {
	var noSpeech bool
	text, err := ExecuteWithResult(ctx, f.group, func(p stt.Provider) (string, error) {
		t, err := p.Transcribe(ctx, samples)
		if errors.Is(err, stt.ErrNoSpeech) {
			noSpeech = true
			return "", nil
		}
		return t, err
	})
	if err != nil {
		return "", err
	}
	if noSpeech {
		return "", stt.ErrNoSpeech
	}
	return text, nil
}

// Close closes every backend that holds resources.
func (f *STTFallback) Close() error {
	var errs []error
	f.group.Each(func(_ string, p stt.Provider) {
		if c, ok := p.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	})
	return errors.Join(errs...)
}
