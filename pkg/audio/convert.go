package audio

import "time"

// DownmixToMono averages interleaved multi-channel samples into one channel.
// Mono input is returned unchanged.
func DownmixToMono(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += interleaved[i*channels+ch]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Resample converts mono samples from srcRate to dstRate using linear
// interpolation. If the rates match, or either is not positive, the input
// is returned unchanged.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstLen {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = float32(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}

// SplitFrames cuts a contiguous mono signal into frames of chunk samples,
// tagging them with source and consecutive sequence numbers starting at 0.
// The last frame may be shorter. Timestamps advance from start by the
// duration of the preceding samples.
func SplitFrames(samples []float32, sampleRate, chunk int, source string, start time.Time) []AudioFrame {
	if chunk <= 0 || sampleRate <= 0 {
		return nil
	}
	frames := make([]AudioFrame, 0, (len(samples)+chunk-1)/chunk)
	var seq uint64
	for off := 0; off < len(samples); off += chunk {
		end := min(off+chunk, len(samples))
		frames = append(frames, AudioFrame{
			Timestamp:  start.Add(samplesDuration(off, sampleRate)),
			Samples:    samples[off:end],
			SampleRate: sampleRate,
			Source:     source,
			Sequence:   seq,
		})
		seq++
	}
	return frames
}

func samplesDuration(n, sampleRate int) time.Duration {
	return time.Duration(int64(n) * int64(time.Second) / int64(sampleRate))
}
