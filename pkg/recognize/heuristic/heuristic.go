// Package heuristic provides deterministic, energy-driven stand-ins for the
// recognition models. They let the full pipeline run without a GPU or a
// network model, and their outputs are stable enough to test against.
package heuristic

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/MrWong99/mnemo/pkg/audio"
	"github.com/MrWong99/mnemo/pkg/recognize"
)

var (
	_ recognize.Transcriber       = (*Transcriber)(nil)
	_ recognize.SpeakerIdentifier = (*SpeakerIdentifier)(nil)
)

// ErrNonFiniteEnergy is returned when a segment's mean energy is NaN or
// infinite, which only happens for frames that skipped validation.
var ErrNonFiniteEnergy = errors.New("heuristic: non-finite segment energy")

// vocabulary is indexed by segment loudness: quieter segments map to the
// filler words at the front, louder ones to the action words at the back.
var vocabulary = [...]string{"hmm", "note", "remember", "buy", "call"}

// Transcriber maps the mean frame energy of a segment onto a fixed
// vocabulary. With mean energy e (dBFS) the word index is
// min(floor(max(e+60, 0)/5), 4) and the confidence is
// min(1, max(0.1, (e+60)/60)).
type Transcriber struct{}

// NewTranscriber returns a heuristic [Transcriber].
func NewTranscriber() *Transcriber { return &Transcriber{} }

// Transcribe implements [recognize.Transcriber].
func (*Transcriber) Transcribe(_ context.Context, seg audio.Segment) (recognize.Transcript, error) {
	if len(seg) == 0 {
		return recognize.Transcript{}, nil
	}
	e := seg.MeanEnergyDB()
	if math.IsNaN(e) || math.IsInf(e, 0) {
		return recognize.Transcript{}, fmt.Errorf("%w: %v dBFS", ErrNonFiniteEnergy, e)
	}
	idx := min(int(math.Floor(math.Max(e+60, 0)/5)), len(vocabulary)-1)
	return recognize.Transcript{
		Text:       vocabulary[idx] + " segment",
		Confidence: math.Min(1, math.Max(0.1, (e+60)/60)),
	}, nil
}

// Speaker labels returned by [SpeakerIdentifier].
const (
	LabelSelf = "self"

	selfConfidence    = 0.85
	unknownConfidence = 0.55
)

// SpeakerIdentifier attributes segments louder than a threshold to the
// wearer ("self") and everything else to [recognize.UnknownSpeaker].
type SpeakerIdentifier struct {
	thresholdDB float64
}

// NewSpeakerIdentifier returns a [SpeakerIdentifier]. selfMatchThreshold is
// the configured similarity threshold in [0, 1]; it is scaled by 100 and
// compared against the mean segment energy in dB.
func NewSpeakerIdentifier(selfMatchThreshold float64) *SpeakerIdentifier {
	return &SpeakerIdentifier{thresholdDB: selfMatchThreshold * 100}
}

// IdentifySpeaker implements [recognize.SpeakerIdentifier].
func (s *SpeakerIdentifier) IdentifySpeaker(_ context.Context, seg audio.Segment) (recognize.Speaker, error) {
	if len(seg) == 0 {
		return recognize.Speaker{Label: recognize.UnknownSpeaker}, nil
	}
	if seg.MeanEnergyDB() > s.thresholdDB {
		return recognize.Speaker{Label: LabelSelf, Confidence: selfConfidence}, nil
	}
	return recognize.Speaker{Label: recognize.UnknownSpeaker, Confidence: unknownConfidence}, nil
}
