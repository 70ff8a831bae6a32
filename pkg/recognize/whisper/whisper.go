// Package whisper provides whisper.cpp-backed transcribers.
//
// [Client] talks to a running whisper-server binary over its REST API
// (POST /inference). [Native] loads a ggml model in-process through the
// whisper.cpp CGO bindings. Both receive one completed speech segment per
// call; segmentation already happened upstream, so no buffering or silence
// detection is done here.
//
// Usage:
//
//	c, err := whisper.New("http://localhost:8080",
//	    whisper.WithLanguage("en"),
//	)
//	tr, err := c.Transcribe(ctx, seg)
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/mnemo/pkg/audio"
	"github.com/MrWong99/mnemo/pkg/recognize"
)

const (
	defaultLanguage = "en"

	// defaultConfidence is reported for non-empty text when the server
	// response carries no per-segment probabilities.
	defaultConfidence = 0.75
)

// Compile-time assertion that Client implements recognize.Transcriber.
var _ recognize.Transcriber = (*Client)(nil)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithLanguage sets the language code sent to the server (e.g., "en", "de").
// Defaults to "en".
func WithLanguage(lang string) Option {
	return func(c *Client) { c.language = lang }
}

// WithHTTPClient overrides the HTTP client. Defaults to a client with a 30 s
// timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// Client implements recognize.Transcriber backed by a whisper.cpp HTTP
// server. It is safe for concurrent use.
type Client struct {
	serverURL  string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a Client for the whisper.cpp server at serverURL
// (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Client, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	c := &Client{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// inferenceResponse is the subset of the server's verbose JSON response used
// here. Older servers return only "text".
type inferenceResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Text       string  `json:"text"`
		AvgLogprob float64 `json:"avg_logprob"`
	} `json:"segments"`
}

// Transcribe encodes seg as a mono WAV file and POSTs it to /inference as
// multipart/form-data.
func (c *Client) Transcribe(ctx context.Context, seg audio.Segment) (recognize.Transcript, error) {
	if len(seg) == 0 {
		return recognize.Transcript{}, nil
	}
	wav := audio.EncodeWAV(audio.EncodePCM16(seg.Samples()), seg.SampleRate(), 1)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "segment.wav")
	if err != nil {
		return recognize.Transcript{}, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return recognize.Transcript{}, fmt.Errorf("whisper: write wav data: %w", err)
	}
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return recognize.Transcript{}, fmt.Errorf("whisper: write response_format field: %w", err)
	}
	if c.language != "" {
		if err := mw.WriteField("language", c.language); err != nil {
			return recognize.Transcript{}, fmt.Errorf("whisper: write language field: %w", err)
		}
	}
	if c.model != "" {
		if err := mw.WriteField("model", c.model); err != nil {
			return recognize.Transcript{}, fmt.Errorf("whisper: write model field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return recognize.Transcript{}, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+"/inference", &body)
	if err != nil {
		return recognize.Transcript{}, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return recognize.Transcript{}, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return recognize.Transcript{}, fmt.Errorf("whisper: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return recognize.Transcript{}, fmt.Errorf("whisper: read response body: %w", err)
	}

	var result inferenceResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return recognize.Transcript{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		return recognize.Transcript{}, nil
	}
	return recognize.Transcript{Text: text, Confidence: segmentConfidence(result)}, nil
}

// segmentConfidence averages exp(avg_logprob) over the returned segments,
// falling back to defaultConfidence when none are present.
func segmentConfidence(r inferenceResponse) float64 {
	if len(r.Segments) == 0 {
		return defaultConfidence
	}
	var sum float64
	for _, s := range r.Segments {
		sum += math.Exp(s.AvgLogprob)
	}
	return recognize.ClampConfidence(sum / float64(len(r.Segments)))
}
