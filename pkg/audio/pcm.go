package audio

import (
	"encoding/binary"
	"log/slog"
	"math"
)

// EncodeSample converts one normalized sample to int16 as
// round(clamp(s, -1, 1) * 32767).
func EncodeSample(s float32) int16 {
	v := float64(s)
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(math.Round(v * 32767))
}

// DecodeSample converts one int16 sample to a normalized float as v/32768.
func DecodeSample(v int16) float32 {
	return float32(float64(v) / 32768.0)
}

// EncodePCM16 converts normalized samples to little-endian 16-bit PCM.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(EncodeSample(s)))
	}
	return out
}

// DecodePCM16 converts little-endian 16-bit PCM to normalized samples. A
// trailing odd byte cannot form a sample; it is dropped and a warning is
// logged.
func DecodePCM16(pcm []byte) []float32 {
	if len(pcm)%2 != 0 {
		slog.Warn("audio: odd PCM byte count, truncating last byte", "bytes", len(pcm))
		pcm = pcm[:len(pcm)-1]
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = DecodeSample(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return out
}

// Int16ToSamples converts int16 samples (as delivered by audio hosts) to
// normalized samples.
func Int16ToSamples(in []int16) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = DecodeSample(v)
	}
	return out
}
