package audio

import "math"

// FloatToInt16 scales a normalised sample by 32767 and clamps it to the int16
// range before truncating. Out-of-range input saturates rather than wrapping;
// NaN maps to zero.
func FloatToInt16(v float32) int16 {
	if v != v {
		return 0
	}
	s := float64(v) * 32767
	if s > math.MaxInt16 {
		s = math.MaxInt16
	} else if s < math.MinInt16 {
		s = math.MinInt16
	}
	return int16(s)
}

// FloatsToInt16 converts a normalised float slice with [FloatToInt16].
func FloatsToInt16(in []float32) []int16 {
	out := make([]int16, len(in))
	for i, v := range in {
		out[i] = FloatToInt16(v)
	}
	return out
}

// Int16ToFloat normalises int16 samples to [-1, 1).
func Int16ToFloat(in []int16) []float32 {
	out := make([]float32, len(in))
	for i, s := range in {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// PCM16 returns the buffer's samples in the int16 domain, converting float
// input with [FloatToInt16]. Int16 buffers are returned without copying.
func (b Buffer) PCM16() []int16 {
	if b.Float != nil {
		return FloatsToInt16(b.Float)
	}
	return b.Samples
}
