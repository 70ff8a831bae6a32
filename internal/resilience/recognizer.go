package resilience

import (
	"context"

	"github.com/MrWong99/mnemo/pkg/audio"
	"github.com/MrWong99/mnemo/pkg/recognize"
)

var (
	_ recognize.Transcriber       = (*TranscriberChain)(nil)
	_ recognize.SpeakerIdentifier = (*SpeakerChain)(nil)
)

// TranscriberChain is a [recognize.Transcriber] that fails over across
// several transcribers.
type TranscriberChain struct {
	chain *Chain[recognize.Transcriber]
}

// NewTranscriberChain returns a chain with primary tried first.
func NewTranscriberChain(name string, primary recognize.Transcriber, cfg BreakerConfig) *TranscriberChain {
	return &TranscriberChain{chain: NewChain(name, primary, cfg)}
}

// Add registers a fallback transcriber.
func (t *TranscriberChain) Add(name string, tr recognize.Transcriber) { t.chain.Add(name, tr) }

// States reports per-backend breaker state.
func (t *TranscriberChain) States() map[string]State { return t.chain.States() }

// Transcribe implements recognize.Transcriber.
func (t *TranscriberChain) Transcribe(ctx context.Context, seg audio.Segment) (recognize.Transcript, error) {
	return Call(ctx, t.chain, func(ctx context.Context, tr recognize.Transcriber) (recognize.Transcript, error) {
		return tr.Transcribe(ctx, seg)
	})
}

// SpeakerChain is a [recognize.SpeakerIdentifier] that fails over across
// several identifiers.
type SpeakerChain struct {
	chain *Chain[recognize.SpeakerIdentifier]
}

// NewSpeakerChain returns a chain with primary tried first.
func NewSpeakerChain(name string, primary recognize.SpeakerIdentifier, cfg BreakerConfig) *SpeakerChain {
	return &SpeakerChain{chain: NewChain(name, primary, cfg)}
}

// Add registers a fallback identifier.
func (s *SpeakerChain) Add(name string, id recognize.SpeakerIdentifier) { s.chain.Add(name, id) }

// States reports per-backend breaker state.
func (s *SpeakerChain) States() map[string]State { return s.chain.States() }

// IdentifySpeaker implements recognize.SpeakerIdentifier.
func (s *SpeakerChain) IdentifySpeaker(ctx context.Context, seg audio.Segment) (recognize.Speaker, error) {
	return Call(ctx, s.chain, func(ctx context.Context, id recognize.SpeakerIdentifier) (recognize.Speaker, error) {
		return id.IdentifySpeaker(ctx, seg)
	})
}
