// Package recognize defines the contract between the segmentation pipeline
// and the models that turn a completed speech segment into text and a
// speaker identity.
//
// Implementations live in sub-packages: heuristic (deterministic,
// energy-based placeholders), whisper (whisper.cpp server and native
// bindings), openai (hosted transcription) and mock (test doubles). The
// pipeline only depends on the two interfaces below, so a real model can be
// substituted without touching segmentation or persistence.
//
// Every implementation must honour the empty-segment rule: an empty segment
// yields [Transcript]{"", 0} and [Speaker]{UnknownSpeaker, 0} without error.
package recognize

import (
	"context"
	"math"

	"github.com/MrWong99/mnemo/pkg/audio"
)

// UnknownSpeaker is the label reported when no enrolled speaker matches.
const UnknownSpeaker = "unknown"

// Transcript is the output of a [Transcriber].
type Transcript struct {
	// Text is the recognized utterance; empty when nothing was recognized.
	Text string

	// Confidence is in [0, 1].
	Confidence float64
}

// Speaker is the output of a [SpeakerIdentifier].
type Speaker struct {
	// Label names the speaker ("self", a person label, or [UnknownSpeaker]).
	Label string

	// Confidence is in [0, 1].
	Confidence float64
}

// Transcriber converts a speech segment to text.
//
// Implementations must be safe for concurrent use.
type Transcriber interface {
	Transcribe(ctx context.Context, seg audio.Segment) (Transcript, error)
}

// SpeakerIdentifier attributes a speech segment to a speaker.
//
// Implementations must be safe for concurrent use.
type SpeakerIdentifier interface {
	IdentifySpeaker(ctx context.Context, seg audio.Segment) (Speaker, error)
}

// ClampConfidence limits c to [0, 1].
func ClampConfidence(c float64) float64 {
	switch {
	case c < 0 || math.IsNaN(c):
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
