// Package mock provides test doubles for the recognize package interfaces.
//
// Both mocks return fixed results (or errors) and record every call so tests
// can assert which segments reached the recognition stage.
//
// Example:
//
//	tr := &mock.Transcriber{Result: recognize.Transcript{Text: "buy milk", Confidence: 0.9}}
//	sp := &mock.SpeakerIdentifier{Result: recognize.Speaker{Label: "self", Confidence: 0.9}}
//	p, _ := pipeline.New(cfg, repo, tr, sp)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/mnemo/pkg/audio"
	"github.com/MrWong99/mnemo/pkg/recognize"
)

var (
	_ recognize.Transcriber       = (*Transcriber)(nil)
	_ recognize.SpeakerIdentifier = (*SpeakerIdentifier)(nil)
)

// Transcriber is a mock implementation of recognize.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Result is returned for every non-empty segment unless ResultFunc is set.
	Result recognize.Transcript

	// ResultFunc, if non-nil, computes the result from the call index and
	// segment.
	ResultFunc func(call int, seg audio.Segment) (recognize.Transcript, error)

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Calls records the segment passed to each call.
	Calls []audio.Segment
}

// Transcribe records the call and returns the configured result.
func (m *Transcriber) Transcribe(_ context.Context, seg audio.Segment) (recognize.Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call := len(m.Calls)
	m.Calls = append(m.Calls, seg)
	if m.Err != nil {
		return recognize.Transcript{}, m.Err
	}
	if len(seg) == 0 {
		return recognize.Transcript{}, nil
	}
	if m.ResultFunc != nil {
		return m.ResultFunc(call, seg)
	}
	return m.Result, nil
}

// CallCount returns the number of Transcribe calls so far.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// SpeakerIdentifier is a mock implementation of recognize.SpeakerIdentifier.
type SpeakerIdentifier struct {
	mu sync.Mutex

	// Result is returned for every non-empty segment.
	Result recognize.Speaker

	// Err, if non-nil, is returned as the error from IdentifySpeaker.
	Err error

	// Calls records the segment passed to each call.
	Calls []audio.Segment
}

// IdentifySpeaker records the call and returns the configured result.
func (m *SpeakerIdentifier) IdentifySpeaker(_ context.Context, seg audio.Segment) (recognize.Speaker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, seg)
	if m.Err != nil {
		return recognize.Speaker{}, m.Err
	}
	if len(seg) == 0 {
		return recognize.Speaker{Label: recognize.UnknownSpeaker}, nil
	}
	return m.Result, nil
}

// CallCount returns the number of IdentifySpeaker calls so far.
func (m *SpeakerIdentifier) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
