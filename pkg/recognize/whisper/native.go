// This file contains the Native transcriber backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/mnemo/pkg/audio"
	"github.com/MrWong99/mnemo/pkg/recognize"
)

// Compile-time assertion that Native satisfies recognize.Transcriber.
var _ recognize.Transcriber = (*Native)(nil)

// whisperSampleRate is the only input rate whisper.cpp models accept.
const whisperSampleRate = 16000

// NativeOption is a functional option for configuring a Native transcriber.
type NativeOption func(*Native)

// WithNativeLanguage sets the language code for transcription
// (e.g., "en", "de"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(n *Native) { n.language = lang }
}

// Native implements recognize.Transcriber using the whisper.cpp Go bindings.
// The model is loaded once and shared; each call creates its own context, so
// concurrent calls do not interfere.
type Native struct {
	model    whisperlib.Model
	language string
}

// NewNative loads the whisper.cpp model at modelPath. The caller must call
// Close when the transcriber is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	n := &Native{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

// Close releases the whisper model.
func (n *Native) Close() error {
	if n.model != nil {
		return n.model.Close()
	}
	return nil
}

// Transcribe runs in-process inference over the segment. Segments at other
// sample rates are resampled to 16 kHz first. Confidence is the mean token
// probability.
func (n *Native) Transcribe(ctx context.Context, seg audio.Segment) (recognize.Transcript, error) {
	if len(seg) == 0 {
		return recognize.Transcript{}, nil
	}
	if err := ctx.Err(); err != nil {
		return recognize.Transcript{}, fmt.Errorf("whisper: %w", err)
	}

	samples := audio.Resample(seg.Samples(), seg.SampleRate(), whisperSampleRate)

	// A context is NOT thread-safe, but the model can be shared.
	wctx, err := n.model.NewContext()
	if err != nil {
		return recognize.Transcript{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(n.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", n.language, "error", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return recognize.Transcript{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var (
		parts  []string
		probs  float64
		tokens int
	)
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return recognize.Transcript{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
		for _, tok := range segment.Tokens {
			probs += float64(tok.P)
			tokens++
		}
	}

	text := strings.Join(parts, " ")
	if text == "" {
		return recognize.Transcript{}, nil
	}
	conf := defaultConfidence
	if tokens > 0 {
		conf = recognize.ClampConfidence(probs / float64(tokens))
	}
	return recognize.Transcript{Text: text, Confidence: conf}, nil
}
