// Package audio defines the frame and segment types that flow through the
// mnemo capture pipeline, together with the signal helpers every stage
// shares: energy measurement, PCM16 and WAV codecs, rebuffering to a fixed
// analysis frame, and the bounded frame queue that connects capture sources
// to the single pipeline consumer.
//
// Samples are carried as normalized float32 values in [-1.0, 1.0]. Conversion
// to and from little-endian 16-bit PCM happens only at the edges (network
// wire, hardware callback, artifact files).
//
// This package lives under pkg/ because external capture sources and
// recognition models are expected to produce and consume [AudioFrame] and
// [Segment] values.
package audio

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// SampleTolerance is the largest absolute sample magnitude accepted by
// [AudioFrame.Validate]. Values slightly above 1.0 occur when upstream gain
// stages overshoot; anything beyond this is treated as corrupt input.
const SampleTolerance = 1.5

var (
	// ErrEmptyFrame is returned by [AudioFrame.Validate] when a frame carries no samples.
	ErrEmptyFrame = errors.New("audio: frame has no samples")

	// ErrInvalidSampleRate is returned when a sample rate is zero or negative.
	ErrInvalidSampleRate = errors.New("audio: sample rate must be positive")

	// ErrSampleOutOfRange is returned when a sample is NaN or exceeds
	// [SampleTolerance] in magnitude.
	ErrSampleOutOfRange = errors.New("audio: sample out of range")
)

// AudioFrame is one slab of mono audio produced by a capture source.
//
// A frame is immutable once produced. Stages hand frames off by value and
// never share the Samples slice with a concurrent writer.
type AudioFrame struct {
	// Timestamp is the wall-clock capture time of the first sample.
	Timestamp time.Time

	// Samples holds normalized mono samples in [-1.0, 1.0].
	Samples []float32

	// SampleRate in Hz (e.g., 16000).
	SampleRate int

	// Source tags the producer ("device", "network:<conn-id>", "replay", ...).
	Source string

	// Sequence is a per-source counter that increases by one for every frame
	// the source emits.
	Sequence uint64
}

// Validate reports whether f satisfies the frame invariants: at least one
// sample, a positive sample rate, and every sample within [SampleTolerance].
func (f AudioFrame) Validate() error {
	if len(f.Samples) == 0 {
		return ErrEmptyFrame
	}
	if f.SampleRate <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidSampleRate, f.SampleRate)
	}
	for i, s := range f.Samples {
		if math.IsNaN(float64(s)) || math.Abs(float64(s)) > SampleTolerance {
			return fmt.Errorf("%w: sample %d is %v", ErrSampleOutOfRange, i, s)
		}
	}
	return nil
}

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

// EnergyDB returns the frame energy in decibels relative to full scale.
// See [EnergyDB] for the exact definition.
func (f AudioFrame) EnergyDB() float64 {
	return EnergyDB(f.Samples)
}

// Segment is an ordered run of fixed-duration frames that belong to one
// contiguous utterance, including any retained padding frames.
type Segment []AudioFrame

// Start returns the timestamp of the first frame, or the zero time for an
// empty segment.
func (s Segment) Start() time.Time {
	if len(s) == 0 {
		return time.Time{}
	}
	return s[0].Timestamp
}

// End returns the timestamp just past the last sample of the segment.
func (s Segment) End() time.Time {
	if len(s) == 0 {
		return time.Time{}
	}
	last := s[len(s)-1]
	return last.Timestamp.Add(last.Duration())
}

// Duration returns the summed playback length of every frame in the segment.
func (s Segment) Duration() time.Duration {
	var d time.Duration
	for _, f := range s {
		d += f.Duration()
	}
	return d
}

// SampleRate returns the sample rate of the first frame, or 0 when empty.
func (s Segment) SampleRate() int {
	if len(s) == 0 {
		return 0
	}
	return s[0].SampleRate
}

// Samples concatenates the samples of every frame in order.
func (s Segment) Samples() []float32 {
	n := 0
	for _, f := range s {
		n += len(f.Samples)
	}
	out := make([]float32, 0, n)
	for _, f := range s {
		out = append(out, f.Samples...)
	}
	return out
}

// MeanEnergyDB returns the arithmetic mean of the per-frame energies. An
// empty segment reports [SilenceFloorDB].
func (s Segment) MeanEnergyDB() float64 {
	if len(s) == 0 {
		return SilenceFloorDB
	}
	var sum float64
	for _, f := range s {
		sum += f.EnergyDB()
	}
	return sum / float64(len(s))
}
