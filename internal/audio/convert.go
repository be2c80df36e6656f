package audio

// ToFloat32 scales int16 PCM to [-1, 1).
func ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}

// downmixInterleaved averages interleaved channels into mono. The result is
// always a new slice.
func downmixInterleaved(input []float32, channels, frames int) []float32 {
	if channels <= 1 {
		out := make([]float32, frames)
		copy(out, input)
		return out
	}

	out := make([]float32, frames)
	for f := 0; f < frames; f++ {
		var sum float32
		base := f * channels
		for ch := 0; ch < channels; ch++ {
			sum += input[base+ch]
		}
		out[f] = sum / float32(channels)
	}
	return out
}

// MonoFloat32 converts a segment into mono float32 samples at dstRate, the
// shape speech models expect.
func MonoFloat32(seg Segment, dstRate int) []float32 {
	mono := downmixInterleaved(ToFloat32(seg.Samples), seg.Channels, seg.Frames())
	return resampleLinear(mono, seg.SampleRate, dstRate)
}

// resampleLinear resamples mono float32 audio with linear interpolation.
func resampleLinear(in []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(in) < 2 {
		return in
	}
	n := int(int64(len(in)) * int64(dstRate) / int64(srcRate))
	if n == 0 {
		return nil
	}

	out := make([]float32, n)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))
		s0 := in[idx]
		s1 := s0
		if idx+1 < len(in) {
			s1 = in[idx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}
