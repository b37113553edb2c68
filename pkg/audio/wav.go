package audio

import (
	"errors"
	"fmt"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	bitDepth16    = 16
	wavFormatPCM  = 1
	pendingFrames = 4096
)

var (
	// ErrSinkFinalized is returned by [WavSink] writes after [WavSink.Finalize]
	// and by a second Finalize call.
	ErrSinkFinalized = errors.New("audio: wav sink already finalized")

	// ErrUnsupportedFormat is returned by [ReadWAV] for anything other than
	// 16-bit integer PCM.
	ErrUnsupportedFormat = errors.New("audio: unsupported wav format")
)

// WavSink writes mono 16-bit PCM samples to a WAV file. The header goes out
// with placeholder sizes on the first flush and is patched by
// [WavSink.Finalize]; a sink that is never finalized leaves an invalid file
// behind.
//
// WavSink is not safe for concurrent use; the capture layer guards it with a
// mutex shared with the audio callback.
type WavSink struct {
	path       string
	sampleRate int

	f       *os.File
	enc     *wav.Encoder
	buf     *goaudio.IntBuffer
	written int64
	started bool
	done    bool
}

// NewWavSink creates (or truncates) path and prepares a mono 16-bit PCM
// encoder at sampleRate.
func NewWavSink(path string, sampleRate int) (*WavSink, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("audio: wav sink: invalid sample rate %d", sampleRate)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("audio: wav sink: create %q: %w", path, err)
	}
	return &WavSink{
		path:       path,
		sampleRate: sampleRate,
		f:          f,
		enc:        wav.NewEncoder(f, sampleRate, bitDepth16, 1, wavFormatPCM),
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
			Data:           make([]int, 0, pendingFrames),
			SourceBitDepth: bitDepth16,
		},
	}, nil
}

// Path returns the file path the sink writes to.
func (s *WavSink) Path() string { return s.path }

// SampleRate returns the sink's sample rate.
func (s *WavSink) SampleRate() int { return s.sampleRate }

// Samples returns the number of samples accepted so far.
func (s *WavSink) Samples() int64 { return s.written }

// WriteSample buffers a single sample. Buffered samples reach the file once
// the internal buffer fills or on Finalize.
func (s *WavSink) WriteSample(v int16) error {
	if s.done {
		return ErrSinkFinalized
	}
	s.buf.Data = append(s.buf.Data, int(v))
	s.written++
	if len(s.buf.Data) >= pendingFrames {
		return s.flush()
	}
	return nil
}

// WriteSamples buffers a batch of samples.
func (s *WavSink) WriteSamples(vs []int16) error {
	for _, v := range vs {
		if err := s.WriteSample(v); err != nil {
			return err
		}
	}
	return nil
}

func (s *WavSink) flush() error {
	// An empty write still emits the header and data chunk id, which a
	// zero-length recording needs before Close patches the sizes.
	if len(s.buf.Data) == 0 && s.started {
		return nil
	}
	s.started = true
	err := s.enc.Write(s.buf)
	s.buf.Data = s.buf.Data[:0]
	if err != nil {
		return fmt.Errorf("audio: wav sink: write %q: %w", s.path, err)
	}
	return nil
}

// Finalize flushes pending samples, patches the RIFF header with the final
// sample count and byte rate, and closes the file. It must be called exactly
// once; subsequent calls return [ErrSinkFinalized].
func (s *WavSink) Finalize() error {
	if s.done {
		return ErrSinkFinalized
	}
	s.done = true

	flushErr := s.flush()
	encErr := s.enc.Close()
	closeErr := s.f.Close()
	if err := errors.Join(flushErr, encErr, closeErr); err != nil {
		return fmt.Errorf("audio: wav sink: finalize %q: %w", s.path, err)
	}
	return nil
}

// WAVInfo describes a finalized WAV file.
type WAVInfo struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Frames     int64
	Duration   time.Duration
	SizeBytes  int64
}

// ProbeWAV reads the header of the WAV file at path without decoding the
// samples. Frames is derived from the data chunk size and the duration is
// frames divided by the sample rate.
func ProbeWAV(path string) (WAVInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return WAVInfo{}, fmt.Errorf("audio: probe %q: %w", path, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return WAVInfo{}, fmt.Errorf("audio: probe %q: %w", path, err)
	}

	dec := wav.NewDecoder(f)
	if err := errors.Join(dec.FwdToPCM(), dec.Err()); err != nil {
		return WAVInfo{}, fmt.Errorf("audio: probe %q: decode: %w", path, err)
	}
	if dec.SampleRate == 0 || dec.NumChans == 0 {
		return WAVInfo{}, fmt.Errorf("audio: probe %q: %w", path, ErrUnsupportedFormat)
	}

	info := WAVInfo{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
		SizeBytes:  st.Size(),
	}
	if frameBytes := int64(info.Channels * info.BitDepth / 8); frameBytes > 0 {
		info.Frames = dec.PCMLen() / frameBytes
	}
	if info.SampleRate > 0 {
		info.Duration = time.Duration(float64(info.Frames) / float64(info.SampleRate) * float64(time.Second))
	}
	return info, nil
}

// ReadWAV decodes a 16-bit PCM WAV file, downmixes it to mono and resamples
// it to targetRate. Samples are normalised by 32767.
func ReadWAV(path string, targetRate int) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audio: read wav %q: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("audio: read wav %q: decode: %w", path, err)
	}
	if dec.BitDepth != bitDepth16 || dec.WavAudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("audio: read wav %q: %d-bit format %d: %w",
			path, dec.BitDepth, dec.WavAudioFormat, ErrUnsupportedFormat)
	}

	mono := DownmixPCM16(buf.Data, int(dec.NumChans))
	samples := make([]float32, len(mono))
	for i, s := range mono {
		samples[i] = PCM16ToFloat(s)
	}
	return Resample(samples, int(dec.SampleRate), targetRate), nil
}
