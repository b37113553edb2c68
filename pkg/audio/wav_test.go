package audio_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/murmur/pkg/audio"
)

func writeWAV(t *testing.T, rate int, samples []int16) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rec.wav")
	sink, err := audio.NewWavSink(path, rate)
	if err != nil {
		t.Fatalf("NewWavSink: %v", err)
	}
	if err := sink.WriteSamples(samples); err != nil {
		t.Fatalf("WriteSamples: %v", err)
	}
	if err := sink.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return path
}

func TestWavSink_RoundTripHeader(t *testing.T) {
	t.Parallel()

	samples := make([]int16, 16000)
	for i := range samples {
		samples[i] = int16(i % 1000)
	}
	path := writeWAV(t, 16000, samples)

	info, err := audio.ProbeWAV(path)
	if err != nil {
		t.Fatalf("ProbeWAV: %v", err)
	}
	if info.SampleRate != 16000 || info.Channels != 1 || info.BitDepth != 16 {
		t.Errorf("ProbeWAV: got rate=%d channels=%d bits=%d, want 16000/1/16",
			info.SampleRate, info.Channels, info.BitDepth)
	}
	if info.Frames != 16000 {
		t.Errorf("ProbeWAV frames: got %d, want 16000", info.Frames)
	}
	if info.Duration != time.Second {
		t.Errorf("ProbeWAV duration: got %v, want 1s", info.Duration)
	}
	// 44-byte canonical header plus two bytes per sample.
	if info.SizeBytes != 44+2*16000 {
		t.Errorf("ProbeWAV size: got %d, want %d", info.SizeBytes, 44+2*16000)
	}
}

func TestProbeWAV_FramesFromHeader(t *testing.T) {
	t.Parallel()

	path := writeWAV(t, 16000, make([]int16, 8000))
	// Cut the samples off: the header alone must be enough.
	if err := os.Truncate(path, 44); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	info, err := audio.ProbeWAV(path)
	if err != nil {
		t.Fatalf("ProbeWAV: %v", err)
	}
	if info.Frames != 8000 || info.Duration != 500*time.Millisecond {
		t.Errorf("ProbeWAV: got frames=%d duration=%v, want 8000 and 500ms", info.Frames, info.Duration)
	}
	if info.SizeBytes != 44 {
		t.Errorf("ProbeWAV size: got %d, want 44", info.SizeBytes)
	}
}

func TestProbeWAV_NotWAV(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "notes.wav")
	if err := os.WriteFile(path, []byte("these are meeting notes, not audio samples at all"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := audio.ProbeWAV(path); err == nil {
		t.Error("ProbeWAV: got nil error for a text file")
	}
}

func TestWavSink_EmptyRecordingIsValid(t *testing.T) {
	t.Parallel()

	path := writeWAV(t, 48000, nil)
	info, err := audio.ProbeWAV(path)
	if err != nil {
		t.Fatalf("ProbeWAV(empty): %v", err)
	}
	if info.Frames != 0 || info.Duration != 0 {
		t.Errorf("ProbeWAV(empty): got frames=%d duration=%v, want 0", info.Frames, info.Duration)
	}
}

func TestWavSink_FinalizeTwice(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "twice.wav")
	sink, err := audio.NewWavSink(path, 16000)
	if err != nil {
		t.Fatalf("NewWavSink: %v", err)
	}
	if err := sink.Finalize(); err != nil {
		t.Fatalf("first Finalize: %v", err)
	}
	if err := sink.Finalize(); !errors.Is(err, audio.ErrSinkFinalized) {
		t.Errorf("second Finalize: got %v, want ErrSinkFinalized", err)
	}
	if err := sink.WriteSample(1); !errors.Is(err, audio.ErrSinkFinalized) {
		t.Errorf("WriteSample after Finalize: got %v, want ErrSinkFinalized", err)
	}
}

func TestWavSink_InvalidRate(t *testing.T) {
	t.Parallel()

	if _, err := audio.NewWavSink(filepath.Join(t.TempDir(), "x.wav"), 0); err == nil {
		t.Fatal("NewWavSink with zero rate: expected error")
	}
}

func TestReadWAV_ResamplesTo16k(t *testing.T) {
	t.Parallel()

	samples := make([]int16, 48000)
	for i := range samples {
		samples[i] = 16383
	}
	path := writeWAV(t, 48000, samples)

	got, err := audio.ReadWAV(path, audio.TranscriptionRate)
	if err != nil {
		t.Fatalf("ReadWAV: %v", err)
	}
	if len(got) != 16000 {
		t.Fatalf("ReadWAV: got %d samples, want 16000", len(got))
	}
	want := audio.PCM16ToFloat(16383)
	for i, v := range got {
		if v != want {
			t.Fatalf("sample %d: got %v, want %v", i, v, want)
		}
	}
}

func TestReadWAV_NotAWAV(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "junk.wav")
	if err := os.WriteFile(path, []byte("definitely not riff"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := audio.ReadWAV(path, 16000); err == nil {
		t.Fatal("ReadWAV(junk): expected error")
	}
}

func TestReadWAV_Missing(t *testing.T) {
	t.Parallel()

	if _, err := audio.ReadWAV(filepath.Join(t.TempDir(), "nope.wav"), 16000); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("ReadWAV(missing): got %v, want os.ErrNotExist", err)
	}
}
