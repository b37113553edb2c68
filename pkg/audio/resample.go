package audio

import "math"

// Resample converts mono float samples from srcRate to dstRate using linear
// interpolation.
//
// Empty input or a zero rate yields an empty slice. Equal rates return an
// unchanged copy. Otherwise the output holds ceil(len*dst/src) samples; for
// output index i the source position is t = i/ratio (ratio = dst/src), and
// the value is interpolated between floor(t) and the next index, clamped to
// the last valid sample. The result is deterministic for identical inputs.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if len(samples) == 0 || srcRate <= 0 || dstRate <= 0 {
		return []float32{}
	}
	if srcRate == dstRate {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}

	ratio := float64(dstRate) / float64(srcRate)
	outLen := int(math.Ceil(float64(len(samples)) * ratio))
	out := make([]float32, outLen)
	last := len(samples) - 1

	for i := range outLen {
		t := float64(i) / ratio
		idx := int(math.Floor(t))
		if idx > last {
			idx = last
		}
		frac := float32(t - float64(idx))
		next := idx + 1
		if next > last {
			next = last
		}
		a, b := samples[idx], samples[next]
		out[i] = a + (b-a)*frac
	}
	return out
}
