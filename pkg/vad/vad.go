// Package vad implements energy-based voice activity detection over
// fixed-duration frames.
//
// A [Detector] classifies each frame as speech when its energy is strictly
// above the configured threshold and groups consecutive speech into segments
// using a padding window for hysteresis:
//
//   - Sub-threshold frames inside an open segment are kept as padding.
//   - Speech resuming before the padding window fills keeps the segment open.
//   - Once padding_frames consecutive sub-threshold frames arrive the segment
//     closes. If it holds at least min_speech_frames frames it is emitted with
//     the final padding_frames frames trimmed off; otherwise it is discarded.
//   - At end of stream ([Detector.Flush]) an open segment of at least
//     min_speech_frames frames is emitted as-is, without trimming.
//
// A Detector is owned by one pipeline run and is not safe for concurrent use.
package vad

import (
	"errors"
	"fmt"
	"math"

	"github.com/MrWong99/mnemo/pkg/audio"
)

// ErrInvalidConfig is returned by [New] for unusable configuration values.
var ErrInvalidConfig = errors.New("vad: invalid config")

// Config holds the parameters for a [Detector].
type Config struct {
	// EnergyThresholdDB is the energy (dBFS) a frame must exceed to count as
	// speech. Typical: -45.
	EnergyThresholdDB float64

	// FrameDurationMs is the duration of each analysis frame in milliseconds.
	FrameDurationMs int

	// MinSpeechMs is the shortest segment, padding included, worth emitting.
	MinSpeechMs int

	// PaddingMs is the length of trailing silence that closes a segment.
	PaddingMs int
}

// Frames returns the derived (min_speech_frames, padding_frames) pair as
// floor(ms / frame_ms). The values are not validated.
func (c Config) Frames() (minSpeech, padding int) {
	if c.FrameDurationMs <= 0 {
		return 0, 0
	}
	return c.MinSpeechMs / c.FrameDurationMs, c.PaddingMs / c.FrameDurationMs
}

// Validate reports configuration errors. Both derived frame counts must be
// at least one.
func (c Config) Validate() error {
	var errs []error
	if math.IsNaN(c.EnergyThresholdDB) || math.IsInf(c.EnergyThresholdDB, 0) {
		errs = append(errs, fmt.Errorf("%w: energy threshold must be finite", ErrInvalidConfig))
	}
	if c.FrameDurationMs <= 0 {
		errs = append(errs, fmt.Errorf("%w: frame duration must be positive, got %d ms", ErrInvalidConfig, c.FrameDurationMs))
		return errors.Join(errs...)
	}
	minSpeech, padding := c.Frames()
	if minSpeech < 1 {
		errs = append(errs, fmt.Errorf("%w: min speech %d ms is shorter than one %d ms frame", ErrInvalidConfig, c.MinSpeechMs, c.FrameDurationMs))
	}
	if padding < 1 {
		errs = append(errs, fmt.Errorf("%w: padding %d ms is shorter than one %d ms frame", ErrInvalidConfig, c.PaddingMs, c.FrameDurationMs))
	}
	return errors.Join(errs...)
}

// Detector is the streaming segmentation state machine.
type Detector struct {
	threshold       float64
	minSpeechFrames int
	paddingFrames   int

	state   State
	active  []audio.AudioFrame
	silence int
}

// New validates cfg and returns a [Detector] in [StateSilence].
func New(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	minSpeech, padding := cfg.Frames()
	return &Detector{
		threshold:       cfg.EnergyThresholdDB,
		minSpeechFrames: minSpeech,
		paddingFrames:   padding,
	}, nil
}

// MinSpeechFrames returns the derived minimum segment length in frames.
func (d *Detector) MinSpeechFrames() int { return d.minSpeechFrames }

// PaddingFrames returns the derived padding window in frames.
func (d *Detector) PaddingFrames() int { return d.paddingFrames }

// State returns the current segmentation state.
func (d *Detector) State() State { return d.state }

// Pending returns the number of frames accumulated in the open segment.
func (d *Detector) Pending() int { return len(d.active) }

// Process feeds one frame into the state machine. When the frame closes a
// segment that meets the minimum length, the trimmed segment is returned
// with ok set to true.
func (d *Detector) Process(f audio.AudioFrame) (ev Event, seg audio.Segment, ok bool) {
	energy := f.EnergyDB()
	speech := energy > d.threshold
	ev.EnergyDB = energy

	if d.state == StateSilence {
		if !speech {
			ev.Type = EventSilence
			ev.State = d.state
			return ev, nil, false
		}
		d.active = append(d.active[:0], f)
		d.silence = 0
		d.state = StateActive
		ev.Type = EventSpeechStart
		ev.State = d.state
		return ev, nil, false
	}

	d.active = append(d.active, f)
	if speech {
		d.silence = 0
		d.state = StateActive
		ev.Type = EventSpeechContinue
		ev.State = d.state
		return ev, nil, false
	}

	d.silence++
	d.state = StateTrailing
	if d.silence < d.paddingFrames {
		ev.Type = EventSpeechContinue
		ev.State = d.state
		return ev, nil, false
	}

	if len(d.active) >= d.minSpeechFrames {
		seg = d.cut(len(d.active) - d.paddingFrames)
		ok = true
	}
	d.reset()
	ev.Type = EventSpeechEnd
	ev.State = d.state
	return ev, seg, ok
}

// Flush ends the stream. An open segment of at least min_speech_frames
// frames is returned untrimmed. The detector is reset either way.
func (d *Detector) Flush() (audio.Segment, bool) {
	defer d.reset()
	if d.state == StateSilence || len(d.active) < d.minSpeechFrames {
		return nil, false
	}
	return d.cut(len(d.active)), true
}

// Segment runs every frame through [Detector.Process], then [Detector.Flush],
// and returns the completed segments in order.
func (d *Detector) Segment(frames []audio.AudioFrame) []audio.Segment {
	var out []audio.Segment
	for _, f := range frames {
		if _, seg, ok := d.Process(f); ok {
			out = append(out, seg)
		}
	}
	if seg, ok := d.Flush(); ok {
		out = append(out, seg)
	}
	return out
}

// cut copies the first n accumulated frames into a new segment so the
// detector can reuse its backing array.
func (d *Detector) cut(n int) audio.Segment {
	seg := make(audio.Segment, n)
	copy(seg, d.active[:n])
	return seg
}

func (d *Detector) reset() {
	clear(d.active)
	d.active = d.active[:0]
	d.silence = 0
	d.state = StateSilence
}
