// Package stt defines the Provider interface for Speech-to-Text backends.
//
// A provider turns one complete utterance into text. Dictation is batch
// shaped: the recording is finalized on disk, decoded, resampled to
// 16 kHz mono float samples and handed over in a single call. Providers do
// not stream partial results.
//
// Implementations must be safe for concurrent use, although the transcription
// engine serializes calls so that heavyweight local models never run twice at
// once.
package stt

import (
	"context"
	"errors"
)

// SampleRate is the sample rate every provider expects its input at.
const SampleRate = 16000

// ErrNoSpeech may be returned by providers that can tell an utterance held no
// recognizable speech. Callers treat it the same as an empty transcript.
var ErrNoSpeech = errors.New("stt: no speech detected")

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe returns the text spoken in samples, which are mono float32
	// values in [-1, 1] at [SampleRate]. Leading and trailing whitespace is
	// trimmed by the provider. An empty string is a valid result.
	//
	// Transcribe respects ctx cancellation where the backend allows it.
	Transcribe(ctx context.Context, samples []float32) (string, error)
}
