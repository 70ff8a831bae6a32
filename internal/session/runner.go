package session

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/mnemo/internal/observe"
	"github.com/MrWong99/mnemo/internal/orchestrator"
	"github.com/MrWong99/mnemo/internal/pipeline"
	"github.com/MrWong99/mnemo/pkg/audio"
	"github.com/MrWong99/mnemo/pkg/store"
)

// Model version defaults registered when [ModelInfo] leaves them empty.
const (
	DefaultVersionTag = "v0.1.0"
	DefaultLLMModel   = "heuristic"
	DefaultPromptHash = "heuristic_v1"
)

// MetricTranscriptCount is the metrics table entry written after each run.
const MetricTranscriptCount = "transcript_count"

// ModelInfo describes the models a Runner's sessions are produced with.
type ModelInfo struct {
	VersionTag   string
	LLMModel     string
	ASRModel     string
	SpeakerModel string
	PromptHash   string

	// Config is marshalled to JSON and stored as the version's config
	// snapshot. May be nil.
	Config any
}

// Summary is the outcome of one session run.
type Summary struct {
	SessionID      int64
	ModelVersionID int64
	StartTime      time.Time
	EndTime        time.Time
	Status         store.SessionStatus
	Events         []pipeline.TranscriptEvent
	MemoryIDs      []int64
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunnerMetrics sets the metrics the Runner records to.
func WithRunnerMetrics(m *observe.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithRunnerClock overrides the session start and end time source.
func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// Runner drives a session from start to pending_review: it opens the
// session, runs the pipeline, records the transcript count, proposes
// memories and closes the session.
//
// Runs may happen concurrently; each gets its own session row.
type Runner struct {
	repo     store.Repository
	proposer *orchestrator.Proposer
	metrics  *observe.Metrics
	now      func() time.Time
	version  int64

	mu   sync.RWMutex
	pipe *pipeline.Pipeline
}

// NewRunner registers the model version described by info and returns a
// Runner that attributes every session to it.
func NewRunner(ctx context.Context, repo store.Repository, pipe *pipeline.Pipeline, proposer *orchestrator.Proposer, info ModelInfo, opts ...RunnerOption) (*Runner, error) {
	if repo == nil || pipe == nil || proposer == nil {
		return nil, errors.New("session: repository, pipeline and proposer are required")
	}
	r := &Runner{repo: repo, proposer: proposer, pipe: pipe, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}

	mv := store.ModelVersion{
		VersionTag:   cmp.Or(info.VersionTag, DefaultVersionTag),
		LLMModel:     cmp.Or(info.LLMModel, DefaultLLMModel),
		ASRModel:     info.ASRModel,
		SpeakerModel: info.SpeakerModel,
		PromptHash:   cmp.Or(info.PromptHash, DefaultPromptHash),
	}
	if info.Config != nil {
		snap, err := json.Marshal(info.Config)
		if err != nil {
			return nil, fmt.Errorf("session: marshal config snapshot: %w", err)
		}
		mv.ConfigSnapshot = string(snap)
	}
	id, err := repo.RegisterModelVersion(ctx, mv)
	if err != nil {
		return nil, fmt.Errorf("session: register model version: %w", err)
	}
	r.version = id
	return r, nil
}

// ModelVersionID returns the id of the registered model version.
func (r *Runner) ModelVersionID() int64 { return r.version }

// SetPipeline replaces the pipeline used by subsequent runs. Runs already in
// progress keep the pipeline they started with.
func (r *Runner) SetPipeline(p *pipeline.Pipeline) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipe = p
}

func (r *Runner) currentPipeline() *pipeline.Pipeline {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pipe
}

// RunSession processes a finite batch of frames as one session.
func (r *Runner) RunSession(ctx context.Context, frames []audio.AudioFrame) (Summary, error) {
	pipe := r.currentPipeline()
	return r.run(ctx, "batch", func(ctx context.Context, sid int64) ([]pipeline.TranscriptEvent, error) {
		return pipe.ProcessFrames(ctx, sid, frames)
	})
}

// RunLive processes frames from queue until it is closed or ctx is done.
// Cancelling ctx ends capture; the trailing segment, the memory proposals
// and the session close still complete.
func (r *Runner) RunLive(ctx context.Context, queue *audio.FrameQueue) (Summary, error) {
	pipe := r.currentPipeline()
	return r.run(ctx, "live", func(ctx context.Context, sid int64) ([]pipeline.TranscriptEvent, error) {
		return pipe.Run(ctx, sid, queue)
	})
}

func (r *Runner) run(ctx context.Context, mode string, process func(context.Context, int64) ([]pipeline.TranscriptEvent, error)) (Summary, error) {
	sum := Summary{ModelVersionID: r.version, StartTime: r.now().UTC(), Status: store.SessionActive}
	sid, err := r.repo.StartSession(ctx, store.Session{
		ModelVersionID: r.version,
		StartTime:      sum.StartTime,
		Status:         store.SessionActive,
	})
	if err != nil {
		return sum, fmt.Errorf("session: start: %w", err)
	}
	sum.SessionID = sid

	ctx, span := observe.StartSpan(ctx, "session.run")
	defer span.End()
	log := observe.Logger(ctx).With("session_id", sid, "mode", mode)
	log.Info("session started", "model_version_id", r.version)

	r.metrics.ActiveSessions.Add(ctx, 1)
	defer r.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	r.metrics.RecordSessionStatus(ctx, string(store.SessionActive))

	sum.Events, err = process(ctx, sid)
	if err != nil {
		log.Error("session pipeline failed", "events", len(sum.Events), "err", err)
		return sum, fmt.Errorf("session %d: %w", sid, err)
	}

	// Capture may have ended through cancellation; finishing the session
	// must not.
	ctx = context.WithoutCancel(ctx)

	if _, err := r.repo.LogMetric(ctx, store.Metric{
		SessionID: sid,
		Timestamp: r.now().UTC(),
		Name:      MetricTranscriptCount,
		Value:     float64(len(sum.Events)),
		Metadata:  map[string]any{"mode": mode},
	}); err != nil {
		return sum, fmt.Errorf("session %d: log metric: %w", sid, err)
	}

	actions, err := r.proposer.ProposeActions(ctx, sid)
	if err != nil {
		return sum, fmt.Errorf("session %d: %w", sid, err)
	}
	sum.MemoryIDs, err = r.proposer.PersistMemories(ctx, sid, actions)
	if err != nil {
		return sum, fmt.Errorf("session %d: %w", sid, err)
	}

	end := r.now().UTC()
	if err := r.repo.UpdateSessionStatus(ctx, sid, store.SessionPendingReview, &end); err != nil {
		return sum, fmt.Errorf("session %d: close: %w", sid, err)
	}
	sum.EndTime = end
	sum.Status = store.SessionPendingReview
	r.metrics.RecordSessionStatus(ctx, string(store.SessionPendingReview))

	log.Info("session ready for review",
		"events", len(sum.Events),
		"memories", len(sum.MemoryIDs),
		"duration", end.Sub(sum.StartTime),
	)
	return sum, nil
}
