package audio

import (
	"fmt"
	"math"
	"time"
)

// FlushSource is the source label carried by the final, possibly short,
// frame returned from [Rebuffer.Flush].
const FlushSource = "rebuffer-flush"

// Rebuffer re-chunks frames of arbitrary length into frames of exactly
// [Rebuffer.TargetSamples] samples, carrying partial remainders across calls.
//
// Output frames are numbered by the rebuffer's own strictly increasing
// sequence counter, independent of the input sequence numbers. A Rebuffer is
// owned by a single pipeline run and is not safe for concurrent use.
type Rebuffer struct {
	sampleRate int
	target     int
	source     string

	buf     []float32
	bufTime time.Time
	seq     uint64
}

// NewRebuffer returns a [Rebuffer] producing frames of frameMs milliseconds
// at sampleRate Hz. The target length is round(frameMs/1000*sampleRate).
// source labels the emitted frames.
func NewRebuffer(frameMs, sampleRate int, source string) (*Rebuffer, error) {
	if frameMs <= 0 {
		return nil, fmt.Errorf("audio: rebuffer frame duration must be positive, got %d ms", frameMs)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSampleRate, sampleRate)
	}
	target := int(math.Round(float64(frameMs) / 1000 * float64(sampleRate)))
	if target <= 0 {
		return nil, fmt.Errorf("audio: rebuffer target of %d ms at %d Hz is zero samples", frameMs, sampleRate)
	}
	return &Rebuffer{
		sampleRate: sampleRate,
		target:     target,
		source:     source,
		buf:        make([]float32, 0, target*2),
	}, nil
}

// TargetSamples returns the number of samples in every non-final output frame.
func (r *Rebuffer) TargetSamples() int { return r.target }

// Buffered returns the number of samples waiting for the next full frame.
func (r *Rebuffer) Buffered() int { return len(r.buf) }

// Push appends the frame's samples and returns every complete frame now
// available, in order. A frame with no samples is a no-op. A frame whose
// sample rate differs from the rebuffer's, or that fails
// [AudioFrame.Validate], is rejected and leaves the buffer untouched.
func (r *Rebuffer) Push(f AudioFrame) ([]AudioFrame, error) {
	if len(f.Samples) == 0 {
		return nil, nil
	}
	if f.SampleRate != r.sampleRate {
		return nil, fmt.Errorf("audio: rebuffer expects %d Hz, frame from %q is %d Hz", r.sampleRate, f.Source, f.SampleRate)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("audio: rebuffer: frame %d from %q: %w", f.Sequence, f.Source, err)
	}

	if len(r.buf) == 0 {
		r.bufTime = f.Timestamp
	}
	r.buf = append(r.buf, f.Samples...)

	var out []AudioFrame
	for len(r.buf) >= r.target {
		out = append(out, r.take(r.target, r.source))
	}
	return out, nil
}

// Flush returns the buffered remainder as a final short frame labelled
// [FlushSource] and clears the buffer. It reports false when nothing is
// buffered.
func (r *Rebuffer) Flush() (AudioFrame, bool) {
	if len(r.buf) == 0 {
		return AudioFrame{}, false
	}
	return r.take(len(r.buf), FlushSource), true
}

// take slices n samples off the front of the buffer into a new frame.
func (r *Rebuffer) take(n int, source string) AudioFrame {
	samples := make([]float32, n)
	copy(samples, r.buf[:n])

	frame := AudioFrame{
		Timestamp:  r.bufTime,
		Samples:    samples,
		SampleRate: r.sampleRate,
		Source:     source,
		Sequence:   r.seq,
	}
	r.seq++

	rest := copy(r.buf, r.buf[n:])
	r.buf = r.buf[:rest]
	r.bufTime = r.bufTime.Add(samplesDuration(n, r.sampleRate))
	return frame
}
