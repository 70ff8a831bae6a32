// Package observe provides the observability primitives shared by every
// mnemo component: OpenTelemetry metrics, tracing, a trace-aware logger and
// HTTP middleware for the admin endpoints.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed to
// Prometheus through the exporter bridge installed by [InitProvider]. A
// package-level default [Metrics] instance ([DefaultMetrics]) is provided for
// convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all mnemo metrics.
const meterName = "github.com/MrWong99/mnemo"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Capture ---

	// FramesCaptured counts frames accepted into the frame queue. Use with
	// attribute.String("source", ...).
	FramesCaptured metric.Int64Counter

	// FramesDropped counts frames discarded because the queue was full.
	FramesDropped metric.Int64Counter

	// ActiveConnections tracks open network capture connections.
	ActiveConnections metric.Int64UpDownCounter

	// --- Pipeline ---

	// Segments counts completed speech segments. Use with
	// attribute.String("intent", ...).
	Segments metric.Int64Counter

	// SegmentDuration tracks end-to-end processing time of one segment
	// (recognition and persistence).
	SegmentDuration metric.Float64Histogram

	// RecognitionDuration tracks recognition latency. Use with
	// attribute.String("stage", "transcribe"|"speaker").
	RecognitionDuration metric.Float64Histogram

	// RecognitionErrors counts failed recognition calls. Use with
	// attribute.String("provider", ...), attribute.String("stage", ...).
	RecognitionErrors metric.Int64Counter

	// FramesAbandoned counts frames still queued when the pipeline stopped.
	// Use with attribute.String("queue", "open"|"closed").
	FramesAbandoned metric.Int64Counter

	// PersistFailures counts segments that could not be recorded. Use with
	// attribute.String("step", "artifact"|"transaction").
	PersistFailures metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attribute.String("breaker", ...), attribute.String("to", ...).
	BreakerTransitions metric.Int64Counter

	// --- Sessions ---

	// ActiveSessions tracks sessions currently running the pipeline.
	ActiveSessions metric.Int64UpDownCounter

	// SessionStatus counts session status transitions. Use with
	// attribute.String("status", ...).
	SessionStatus metric.Int64Counter

	// MemoryReviews counts approve/reject decisions. Use with
	// attribute.String("decision", ...).
	MemoryReviews metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks admin HTTP request processing time. Use with
	// attribute.String("method", ...), attribute.String("path", ...).
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// recognition and segment processing.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.FramesCaptured, err = m.Int64Counter("mnemo.capture.frames",
		metric.WithDescription("Audio frames accepted from capture sources."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("mnemo.capture.dropped_frames",
		metric.WithDescription("Audio frames dropped because the frame queue was full."),
	); err != nil {
		return nil, err
	}
	if met.Segments, err = m.Int64Counter("mnemo.pipeline.segments",
		metric.WithDescription("Completed speech segments by predicted intent."),
	); err != nil {
		return nil, err
	}
	if met.RecognitionErrors, err = m.Int64Counter("mnemo.recognition.errors",
		metric.WithDescription("Failed recognition calls by provider and stage."),
	); err != nil {
		return nil, err
	}
	if met.FramesAbandoned, err = m.Int64Counter("mnemo.pipeline.abandoned_frames",
		metric.WithDescription("Frames left in the frame queue when the pipeline stopped."),
	); err != nil {
		return nil, err
	}
	if met.PersistFailures, err = m.Int64Counter("mnemo.pipeline.persist_failures",
		metric.WithDescription("Segments that could not be recorded, by failing step."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("mnemo.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker and target state."),
	); err != nil {
		return nil, err
	}
	if met.SessionStatus, err = m.Int64Counter("mnemo.session.status_changes",
		metric.WithDescription("Session status transitions by new status."),
	); err != nil {
		return nil, err
	}
	if met.MemoryReviews, err = m.Int64Counter("mnemo.memory.reviews",
		metric.WithDescription("Memory review decisions."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveConnections, err = m.Int64UpDownCounter("mnemo.capture.active_connections",
		metric.WithDescription("Open network capture connections."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("mnemo.active_sessions",
		metric.WithDescription("Sessions currently running the pipeline."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.SegmentDuration, err = m.Float64Histogram("mnemo.pipeline.segment.duration",
		metric.WithDescription("Processing latency of one speech segment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecognitionDuration, err = m.Float64Histogram("mnemo.recognition.duration",
		metric.WithDescription("Latency of recognition calls by stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("mnemo.http.request.duration",
		metric.WithDescription("Admin HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrame records one frame accepted from source.
func (m *Metrics) RecordFrame(ctx context.Context, source string) {
	m.FramesCaptured.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordDroppedFrame records one frame dropped by source.
func (m *Metrics) RecordDroppedFrame(ctx context.Context, source string) {
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordSegment records one completed segment with its predicted intent.
func (m *Metrics) RecordSegment(ctx context.Context, intent string) {
	m.Segments.Add(ctx, 1, metric.WithAttributes(attribute.String("intent", intent)))
}

// RecordRecognition records the latency of one recognition call.
func (m *Metrics) RecordRecognition(ctx context.Context, stage string, seconds float64) {
	m.RecognitionDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordRecognitionError records a failed recognition call.
func (m *Metrics) RecordRecognitionError(ctx context.Context, provider, stage string) {
	m.RecognitionErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("stage", stage),
		),
	)
}

// RecordAbandonedFrames records n frames left behind in a queue that was
// still open, or already closed, when the pipeline stopped.
func (m *Metrics) RecordAbandonedFrames(ctx context.Context, n int, queueClosed bool) {
	state := "open"
	if queueClosed {
		state = "closed"
	}
	m.FramesAbandoned.Add(ctx, int64(n), metric.WithAttributes(attribute.String("queue", state)))
}

// RecordPersistFailure records a segment that failed at step.
func (m *Metrics) RecordPersistFailure(ctx context.Context, step string) {
	m.PersistFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("step", step)))
}

// RecordBreakerTransition records a breaker moving to state to.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", breaker),
			attribute.String("to", to),
		),
	)
}

// RecordSessionStatus records a session moving to status.
func (m *Metrics) RecordSessionStatus(ctx context.Context, status string) {
	m.SessionStatus.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordMemoryReview records one approve or reject decision.
func (m *Metrics) RecordMemoryReview(ctx context.Context, decision string) {
	m.MemoryReviews.Add(ctx, 1, metric.WithAttributes(attribute.String("decision", decision)))
}
