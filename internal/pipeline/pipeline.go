// Package pipeline turns a stream of captured audio frames into persisted
// transcript events.
//
// For every session a [Pipeline] rebuffers incoming frames to the VAD frame
// duration, segments them with an energy detector and, for each completed
// segment in order, runs transcription and speaker identification, predicts
// an intent, writes the WAV artifact and records the segment, its event and
// the link between them in a single repository transaction.
//
// The artifact is written before the transaction opens. When the transaction
// fails the artifact is removed again, so neither an orphan row nor an
// orphan file survives a failed segment.
//
// All stages of one run execute sequentially on the caller's goroutine; a
// Pipeline itself holds no per-run state and may serve several sessions
// concurrently.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/mnemo/internal/observe"
	"github.com/MrWong99/mnemo/pkg/audio"
	"github.com/MrWong99/mnemo/pkg/recognize"
	"github.com/MrWong99/mnemo/pkg/store"
	"github.com/MrWong99/mnemo/pkg/vad"
)

// SegmentDir is the artifact directory below the storage root.
const SegmentDir = "audio_segments"

// Config configures a [Pipeline].
type Config struct {
	// VAD holds the detector parameters. FrameDurationMs also sets the
	// rebuffer target.
	VAD vad.Config

	// SampleRate is the capture sample rate in Hz. Frames at any other rate
	// are rejected.
	SampleRate int

	// StorageRoot is the directory artifacts are written below.
	StorageRoot string
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	if err := c.VAD.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate must be positive, got %d", c.SampleRate))
	}
	if c.StorageRoot == "" {
		errs = append(errs, errors.New("storage root must not be empty"))
	}
	return errors.Join(errs...)
}

// TranscriptEvent is the outcome of one recorded segment.
type TranscriptEvent struct {
	SessionID         int64
	SegmentIndex      int
	SegmentID         int64
	EventID           int64
	Timestamp         time.Time
	Transcript        string
	ASRConfidence     float64
	SpeakerID         string
	SpeakerConfidence float64
	PredictedIntent   string
	ArtifactPath      string
	Duration          time.Duration
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics records pipeline instruments on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithEventHook registers fn to be called after every recorded segment.
func WithEventHook(fn func(TranscriptEvent)) Option {
	return func(p *Pipeline) { p.onEvent = fn }
}

// WithClock overrides the clock used for events whose segment carries no
// capture timestamp. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline segments audio and persists recognition results.
type Pipeline struct {
	cfg         Config
	repo        store.Repository
	transcriber recognize.Transcriber
	speaker     recognize.SpeakerIdentifier
	metrics     *observe.Metrics
	onEvent     func(TranscriptEvent)
	now         func() time.Time
}

// New returns a Pipeline. The configuration is validated up front so a bad
// VAD setting fails at startup rather than on the first frame.
func New(cfg Config, repo store.Repository, tr recognize.Transcriber, sp recognize.SpeakerIdentifier, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if repo == nil || tr == nil || sp == nil {
		return nil, errors.New("pipeline: repository, transcriber and speaker identifier are required")
	}
	p := &Pipeline{
		cfg:         cfg,
		repo:        repo,
		transcriber: tr,
		speaker:     sp,
		now:         time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p, nil
}

// run holds the per-session stage state.
type run struct {
	p         *Pipeline
	sessionID int64
	rb        *audio.Rebuffer
	det       *vad.Detector
	index     int
	events    []TranscriptEvent
}

func (p *Pipeline) newRun(sessionID int64) (*run, error) {
	rb, err := audio.NewRebuffer(p.cfg.VAD.FrameDurationMs, p.cfg.SampleRate, "pipeline")
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	det, err := vad.New(p.cfg.VAD)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	return &run{p: p, sessionID: sessionID, rb: rb, det: det}, nil
}

// ProcessFrames segments frames and records every completed segment for the
// session. The returned events are in segment order. On error the events
// recorded before the failing segment are returned alongside it.
func (p *Pipeline) ProcessFrames(ctx context.Context, sessionID int64, frames []audio.AudioFrame) ([]TranscriptEvent, error) {
	r, err := p.newRun(sessionID)
	if err != nil {
		return nil, err
	}
	for i, f := range frames {
		if err := r.push(ctx, f); err != nil {
			return r.events, fmt.Errorf("pipeline: frame %d: %w", i, err)
		}
	}
	if err := r.finish(ctx); err != nil {
		return r.events, err
	}
	return r.events, nil
}

// Run drains queue until it is closed or ctx is done, recording segments as
// they complete, then flushes the rebuffer and detector. The trailing
// segment is recorded even after ctx is cancelled so an utterance in
// progress at shutdown is not lost.
func (p *Pipeline) Run(ctx context.Context, sessionID int64, queue *audio.FrameQueue) ([]TranscriptEvent, error) {
	r, err := p.newRun(sessionID)
	if err != nil {
		return nil, err
	}
	log := observe.Logger(ctx).With("session_id", sessionID)
	log.Info("pipeline started", "frame_ms", p.cfg.VAD.FrameDurationMs, "threshold_db", p.cfg.VAD.EnergyThresholdDB)

	var frames int
	for {
		f, ok := queue.Pop(ctx)
		if !ok {
			break
		}
		frames++
		if err := r.push(ctx, f); err != nil {
			return r.events, fmt.Errorf("pipeline: frame %d from %s: %w", frames-1, f.Source, err)
		}
	}
	if n := queue.Len(); n > 0 {
		closed := queue.Closed()
		p.metrics.RecordAbandonedFrames(context.WithoutCancel(ctx), n, closed)
		log.Warn("pipeline stopped with frames queued", "abandoned", n, "queue_closed", closed)
	}
	log.Debug("pipeline flushing", "buffered_samples", r.rb.Buffered(), "open_frames", r.det.Pending())
	if err := r.finish(context.WithoutCancel(ctx)); err != nil {
		return r.events, err
	}
	log.Info("pipeline finished", "frames", frames, "segments", r.index, "dropped", queue.Dropped())
	return r.events, nil
}

func (r *run) push(ctx context.Context, f audio.AudioFrame) error {
	out, err := r.rb.Push(f)
	if err != nil {
		return err
	}
	for _, rf := range out {
		if _, seg, ok := r.det.Process(rf); ok {
			if err := r.record(ctx, seg); err != nil {
				return err
			}
		}
	}
	return nil
}

// finish feeds the rebuffer remainder to the detector and records whatever
// segment is still open.
func (r *run) finish(ctx context.Context) error {
	if rest, ok := r.rb.Flush(); ok {
		if _, seg, ok := r.det.Process(rest); ok {
			if err := r.record(ctx, seg); err != nil {
				return err
			}
		}
	}
	if seg, ok := r.det.Flush(); ok {
		return r.record(ctx, seg)
	}
	return nil
}

func (r *run) record(ctx context.Context, seg audio.Segment) error {
	idx := r.index
	r.index++
	ev, err := r.p.processSegment(ctx, r.sessionID, idx, seg)
	if err != nil {
		return fmt.Errorf("pipeline: segment %d: %w", idx, err)
	}
	r.events = append(r.events, ev)
	if r.p.onEvent != nil {
		r.p.onEvent(ev)
	}
	return nil
}

func (p *Pipeline) processSegment(ctx context.Context, sessionID int64, index int, seg audio.Segment) (_ TranscriptEvent, err error) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "pipeline.segment",
		trace.WithAttributes(
			attribute.Int64("session_id", sessionID),
			attribute.Int("segment_index", index),
			attribute.Int("frames", len(seg)),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	tr, err := p.transcribe(ctx, seg)
	if err != nil {
		return TranscriptEvent{}, err
	}
	sp, err := p.identify(ctx, seg)
	if err != nil {
		return TranscriptEvent{}, err
	}
	intent := PredictIntent(tr.Text)
	span.SetAttributes(attribute.String("intent", intent))

	samples := seg.Samples()
	path := p.artifactPath(sessionID, index, samples)
	if err := audio.WriteWAVFile(path, samples, seg.SampleRate()); err != nil {
		p.metrics.RecordPersistFailure(ctx, "artifact")
		return TranscriptEvent{}, fmt.Errorf("write artifact: %w", err)
	}

	ts := seg.Start()
	if ts.IsZero() {
		ts = p.now()
	}
	segRec := store.AudioSegmentRecord{
		SessionID:   sessionID,
		FilePath:    path,
		StartTime:   ts,
		EndTime:     ts.Add(seg.Duration()),
		DurationSec: seg.Duration().Seconds(),
	}
	evRec := store.RawEventRecord{
		SessionID: sessionID,
		EventType: store.EventTypeTranscript,
		Timestamp: ts,
		Payload: store.TranscriptPayload{
			Transcript:        tr.Text,
			ASRConfidence:     tr.Confidence,
			SpeakerID:         sp.Label,
			SpeakerConfidence: sp.Confidence,
		},
		PredictedIntent: intent,
	}
	segID, evID, err := p.repo.RecordSegment(ctx, segRec, evRec)
	if err != nil {
		p.metrics.RecordPersistFailure(ctx, "transaction")
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			observe.Logger(ctx).Error("pipeline: remove orphan artifact", "audio_path_hash", observe.PathHash(path), "err", rmErr)
		}
		return TranscriptEvent{}, fmt.Errorf("record segment: %w", err)
	}

	p.metrics.RecordSegment(ctx, intent)
	p.metrics.SegmentDuration.Record(ctx, time.Since(start).Seconds())
	observe.Logger(ctx).Info("transcript",
		"session_id", sessionID,
		"segment_index", index,
		"event_id", evID,
		"predicted_intent", intent,
		"speaker_id", sp.Label,
		"duration", seg.Duration(),
		"audio_path_hash", observe.PathHash(path),
	)

	return TranscriptEvent{
		SessionID:         sessionID,
		SegmentIndex:      index,
		SegmentID:         segID,
		EventID:           evID,
		Timestamp:         ts,
		Transcript:        tr.Text,
		ASRConfidence:     tr.Confidence,
		SpeakerID:         sp.Label,
		SpeakerConfidence: sp.Confidence,
		PredictedIntent:   intent,
		ArtifactPath:      path,
		Duration:          seg.Duration(),
	}, nil
}

func (p *Pipeline) transcribe(ctx context.Context, seg audio.Segment) (recognize.Transcript, error) {
	ctx, span := observe.StartSpan(ctx, "recognize.transcribe")
	defer span.End()
	start := time.Now()
	tr, err := p.transcriber.Transcribe(ctx, seg)
	p.metrics.RecordRecognition(ctx, "transcribe", time.Since(start).Seconds())
	if err != nil {
		p.metrics.RecordRecognitionError(ctx, fmt.Sprintf("%T", p.transcriber), "transcribe")
		span.SetStatus(codes.Error, err.Error())
		return recognize.Transcript{}, fmt.Errorf("transcribe: %w", err)
	}
	tr.Confidence = recognize.ClampConfidence(tr.Confidence)
	span.SetAttributes(attribute.Float64("confidence", tr.Confidence))
	return tr, nil
}

func (p *Pipeline) identify(ctx context.Context, seg audio.Segment) (recognize.Speaker, error) {
	ctx, span := observe.StartSpan(ctx, "recognize.speaker")
	defer span.End()
	start := time.Now()
	sp, err := p.speaker.IdentifySpeaker(ctx, seg)
	p.metrics.RecordRecognition(ctx, "speaker", time.Since(start).Seconds())
	if err != nil {
		p.metrics.RecordRecognitionError(ctx, fmt.Sprintf("%T", p.speaker), "speaker")
		span.SetStatus(codes.Error, err.Error())
		return recognize.Speaker{}, fmt.Errorf("identify speaker: %w", err)
	}
	if sp.Label == "" {
		sp.Label = recognize.UnknownSpeaker
	}
	sp.Confidence = recognize.ClampConfidence(sp.Confidence)
	span.SetAttributes(attribute.String("speaker", sp.Label))
	return sp, nil
}

// artifactPath names the artifact session<id>_<index>_<hash>.wav, where hash
// is a content prefix that keeps replays of one session from colliding.
func (p *Pipeline) artifactPath(sessionID int64, index int, samples []float32) string {
	sum := sha256.Sum256(audio.EncodePCM16(samples))
	name := fmt.Sprintf("session%d_%d_%s.wav", sessionID, index, hex.EncodeToString(sum[:])[:12])
	return filepath.Join(p.cfg.StorageRoot, SegmentDir, name)
}
