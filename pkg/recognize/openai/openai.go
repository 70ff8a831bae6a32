// Package openai provides a transcriber backed by the OpenAI audio
// transcription API (whisper-1, gpt-4o-transcribe, ...).
package openai

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/mnemo/pkg/audio"
	"github.com/MrWong99/mnemo/pkg/recognize"
)

// DefaultModel is the default OpenAI transcription model.
const DefaultModel = oai.AudioModelWhisper1

// defaultConfidence is reported for non-empty text when the model returns no
// token log probabilities (whisper-1 never does).
const defaultConfidence = 0.75

// Ensure Transcriber implements the recognize.Transcriber interface.
var _ recognize.Transcriber = (*Transcriber)(nil)

// Transcriber implements recognize.Transcriber using the OpenAI API.
type Transcriber struct {
	client   oai.Client
	model    string
	language string
}

// config holds optional configuration for the transcriber.
type config struct {
	baseURL    string
	language   string
	timeout    time.Duration
	maxRetries int
}

// Option is a functional option for Transcriber.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithLanguage sets the ISO-639-1 input language hint (e.g., "en").
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxRetries sets how many times a failed request is retried by the
// client. Defaults to the SDK default.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// New constructs a new OpenAI Transcriber.
// If model is empty, DefaultModel (whisper-1) is used.
func New(apiKey string, model string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai transcribe: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{maxRetries: -1}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}

	return &Transcriber{
		client:   oai.NewClient(reqOpts...),
		model:    model,
		language: cfg.language,
	}, nil
}

// Transcribe implements recognize.Transcriber. The segment is uploaded as a
// mono 16-bit WAV file.
func (t *Transcriber) Transcribe(ctx context.Context, seg audio.Segment) (recognize.Transcript, error) {
	if len(seg) == 0 {
		return recognize.Transcript{}, nil
	}
	wav := audio.EncodeWAV(audio.EncodePCM16(seg.Samples()), seg.SampleRate(), 1)

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "segment.wav", "audio/wav"),
		Model: oai.AudioModel(t.model),
	}
	if t.language != "" {
		params.Language = param.NewOpt(t.language)
	}
	if t.model != DefaultModel {
		params.Include = []oai.TranscriptionInclude{oai.TranscriptionIncludeLogprobs}
	}

	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return recognize.Transcript{}, fmt.Errorf("openai transcribe: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return recognize.Transcript{}, nil
	}
	conf := defaultConfidence
	if n := len(resp.Logprobs); n > 0 {
		var sum float64
		for _, lp := range resp.Logprobs {
			sum += math.Exp(lp.Logprob)
		}
		conf = recognize.ClampConfidence(sum / float64(n))
	}
	return recognize.Transcript{Text: text, Confidence: conf}, nil
}
