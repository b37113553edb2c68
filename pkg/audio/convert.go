// Package audio holds the sample-level building blocks of the dictation
// pipeline: channel downmixing, float/PCM conversion, linear resampling, the
// WAV sink used by the capture callback, WAV decoding for transcription, and
// the throttled level meter.
//
// Everything in this package is free of global state. Functions that are
// called from the real-time capture callback ([DownmixFrame],
// [FloatToPCM16], [LevelMeter.Add]) never allocate.
package audio

import (
	"fmt"
	"math"
)

// TranscriptionRate is the sample rate every transcription engine expects.
const TranscriptionRate = 16000

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "48000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// DownmixFrame averages the channels of a single interleaved frame.
// An empty frame yields 0.
func DownmixFrame(frame []float32) float32 {
	if len(frame) == 0 {
		return 0
	}
	if len(frame) == 1 {
		return frame[0]
	}
	var sum float32
	for _, s := range frame {
		sum += s
	}
	return sum / float32(len(frame))
}

// Downmix converts interleaved multi-channel float samples to mono by
// averaging each frame. A trailing partial frame is dropped. When channels
// is 1 or less the input is copied unchanged.
func Downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		out := make([]float32, len(interleaved))
		copy(out, interleaved)
		return out
	}
	frames := len(interleaved) / channels
	out := make([]float32, frames)
	for i := range frames {
		out[i] = DownmixFrame(interleaved[i*channels : (i+1)*channels])
	}
	return out
}

// DownmixPCM16 averages interleaved integer PCM frames into mono using
// integer arithmetic, clamping the result to the int16 range.
func DownmixPCM16(interleaved []int, channels int) []int16 {
	if channels <= 0 {
		channels = 1
	}
	frames := len(interleaved) / channels
	out := make([]int16, frames)
	for i := range frames {
		var sum int64
		for ch := range channels {
			sum += int64(interleaved[i*channels+ch])
		}
		out[i] = clamp16(sum / int64(channels))
	}
	return out
}

// FloatToPCM16 converts a normalised float sample to signed 16-bit PCM by
// scaling with 32767 and truncating toward zero. Out-of-range input
// saturates instead of wrapping.
func FloatToPCM16(s float32) int16 {
	v := float64(s) * math.MaxInt16
	switch {
	case v != v: // NaN
		return 0
	case v >= math.MaxInt16:
		return math.MaxInt16
	case v <= math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// PCM16ToFloat converts a signed 16-bit sample to a float in [-1.0, 1.0]
// by dividing by 32767.
func PCM16ToFloat(s int16) float32 {
	return float32(s) / math.MaxInt16
}

func clamp16(v int64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
