package capture

import "errors"

// DeviceInfo describes an input device.
type DeviceInfo struct {
	// ID selects the device in [Backend.Open].
	ID         string `json:"id"`
	Name       string `json:"name"`
	Channels   int    `json:"channels"`
	SampleRate int    `json:"sample_rate"`
	Default    bool   `json:"default"`
}

// StreamFormat is the native format an opened stream delivers. Callback
// buffers hold interleaved frames of Channels samples.
type StreamFormat struct {
	SampleRate int
	Channels   int
}

// Stream is an opened hardware stream.
type Stream interface {
	Start() error
	Stop() error
	Close() error
}

// Backend abstracts the audio hardware library.
type Backend interface {
	// Devices lists the available input devices.
	Devices() ([]DeviceInfo, error)

	// Open prepares an input stream on the device identified by id, or the
	// system default when id is empty. cb is invoked from the audio thread
	// with interleaved float samples in [-1, 1] once the stream is started.
	Open(id string, cb func(in []float32)) (Stream, StreamFormat, error)
}

// streamHandle moves an opened [Stream] from Start into the session that
// owns it. After the handoff only code holding the Recorder's slot mutex
// touches it, so it needs no locking of its own.
type streamHandle struct {
	s       Stream
	started bool
	closed  bool
}

func newStreamHandle(s Stream) *streamHandle {
	return &streamHandle{s: s}
}

func (h *streamHandle) start() error {
	if err := h.s.Start(); err != nil {
		return err
	}
	h.started = true
	return nil
}

// close stops a started stream and releases it. Once close returns the
// backend guarantees no further callbacks. Calling close twice is a no-op.
func (h *streamHandle) close() error {
	if h == nil || h.closed {
		return nil
	}
	h.closed = true
	var stopErr error
	if h.started {
		stopErr = h.s.Stop()
	}
	return errors.Join(stopErr, h.s.Close())
}
