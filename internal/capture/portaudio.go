package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

// maxChannels caps the channels requested from multi-channel interfaces.
// Everything is downmixed to mono anyway.
const maxChannels = 2

var _ Backend = (*PortAudio)(nil)

// PortAudio is a [Backend] backed by the PortAudio C library. Devices are
// identified by name.
//
// Explicit device lookups are cached so that enumeration, which can take
// noticeable time on some host APIs, happens once per device rather than on
// every start.
type PortAudio struct {
	mu    sync.Mutex
	cache map[string]*portaudio.DeviceInfo
}

// NewPortAudio initialises the PortAudio library. Call Close to terminate it.
func NewPortAudio() (*PortAudio, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("capture: portaudio init: %w", err)
	}
	return &PortAudio{cache: make(map[string]*portaudio.DeviceInfo)}, nil
}

// Close terminates the PortAudio library.
func (p *PortAudio) Close() error {
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("capture: portaudio terminate: %w", err)
	}
	return nil
}

// Devices lists input-capable devices and refreshes the lookup cache.
func (p *PortAudio) Devices() ([]DeviceInfo, error) {
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("capture: list devices: %w", err)
	}
	var defName string
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		defName = def.Name
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.cache)

	var out []DeviceInfo
	for _, d := range devs {
		if d.MaxInputChannels < 1 {
			continue
		}
		p.cache[d.Name] = d
		out = append(out, DeviceInfo{
			ID:         d.Name,
			Name:       d.Name,
			Channels:   d.MaxInputChannels,
			SampleRate: int(d.DefaultSampleRate),
			Default:    d.Name == defName,
		})
	}
	return out, nil
}

// Open opens an input stream at the device's default sample rate.
func (p *PortAudio) Open(id string, cb func(in []float32)) (Stream, StreamFormat, error) {
	dev, err := p.resolve(id)
	if err != nil {
		return nil, StreamFormat{}, err
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = min(dev.MaxInputChannels, maxChannels)

	ps := &paStream{device: dev.Name}
	stream, err := portaudio.OpenStream(params, func(in []float32, _ portaudio.StreamCallbackTimeInfo, flags portaudio.StreamCallbackFlags) {
		ps.xruns.note(flags)
		cb(in)
	})
	if err != nil {
		p.forget(id)
		return nil, StreamFormat{}, fmt.Errorf("capture: open %q: %w", dev.Name, err)
	}
	ps.Stream = stream
	return ps, StreamFormat{
		SampleRate: int(params.SampleRate),
		Channels:   params.Input.Channels,
	}, nil
}

func (p *PortAudio) resolve(id string) (*portaudio.DeviceInfo, error) {
	if id == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil || dev == nil {
			return nil, errors.Join(ErrNoInputDevice, err)
		}
		return dev, nil
	}

	p.mu.Lock()
	dev, ok := p.cache[id]
	p.mu.Unlock()
	if ok {
		return dev, nil
	}

	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("capture: list devices: %w", err)
	}
	for _, d := range devs {
		if d.Name == id && d.MaxInputChannels > 0 {
			p.mu.Lock()
			p.cache[id] = d
			p.mu.Unlock()
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNoInputDevice, id)
}

// forget drops a cached device, e.g. after it was unplugged.
func (p *PortAudio) forget(id string) {
	if id == "" {
		return
	}
	p.mu.Lock()
	delete(p.cache, id)
	p.mu.Unlock()
}

// paStream reports the overflow and underflow flags PortAudio raised while
// it ran. Logging from the callback would block the audio thread, so the
// counts are logged when the stream stops.
type paStream struct {
	*portaudio.Stream
	device string
	xruns  xruns
}

func (s *paStream) Stop() error {
	err := s.Stream.Stop()
	if over, under := s.xruns.drain(); over > 0 || under > 0 {
		slog.Warn("capture: input stream dropped samples",
			"device", s.device,
			"overflows", over,
			"underflows", under,
		)
	}
	return err
}

// xruns counts input status flags. note is called on the audio thread.
type xruns struct {
	overflow  atomic.Int64
	underflow atomic.Int64
}

func (x *xruns) note(flags portaudio.StreamCallbackFlags) {
	if flags&portaudio.InputOverflow != 0 {
		x.overflow.Add(1)
	}
	if flags&portaudio.InputUnderflow != 0 {
		x.underflow.Add(1)
	}
}

// drain returns the counts and resets them.
func (x *xruns) drain() (overflow, underflow int64) {
	return x.overflow.Swap(0), x.underflow.Swap(0)
}
