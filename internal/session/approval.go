package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/mnemo/internal/observe"
	"github.com/MrWong99/mnemo/pkg/store"
)

// ReasonUnspecified is recorded when a memory is rejected without a reason.
const ReasonUnspecified = "unspecified"

// ErrWrongSession is returned when a memory is reviewed under a session it
// does not belong to.
var ErrWrongSession = errors.New("session: memory belongs to another session")

// Result is the session state after a review decision.
type Result struct {
	SessionStatus store.SessionStatus
	Counts        store.StatusCounts
}

// WorkflowOption configures a Workflow.
type WorkflowOption func(*Workflow)

// WithWorkflowMetrics sets the metrics the Workflow records to.
func WithWorkflowMetrics(m *observe.Metrics) WorkflowOption {
	return func(w *Workflow) { w.metrics = m }
}

// WithWorkflowClock overrides the review timestamp source.
func WithWorkflowClock(now func() time.Time) WorkflowOption {
	return func(w *Workflow) { w.now = now }
}

// Workflow applies review decisions to memories and keeps the owning
// session's status in step with them.
type Workflow struct {
	repo    store.Repository
	metrics *observe.Metrics
	now     func() time.Time
}

// NewWorkflow returns a Workflow backed by repo.
func NewWorkflow(repo store.Repository, opts ...WorkflowOption) *Workflow {
	w := &Workflow{repo: repo, now: time.Now}
	for _, o := range opts {
		o(w)
	}
	if w.metrics == nil {
		w.metrics = observe.DefaultMetrics()
	}
	return w
}

// Approve marks the memory approved and recomputes the session status.
func (w *Workflow) Approve(ctx context.Context, sessionID, memoryID int64) (Result, error) {
	if err := w.check(ctx, sessionID, memoryID); err != nil {
		return Result{}, err
	}
	if err := w.repo.UpdateMemoryStatus(ctx, memoryID, store.ApprovalApproved, "", w.now().UTC()); err != nil {
		return Result{}, fmt.Errorf("session: approve memory %d: %w", memoryID, err)
	}
	w.metrics.RecordMemoryReview(ctx, string(store.ApprovalApproved))
	observe.Logger(ctx).Info("memory approved", "session_id", sessionID, "memory_id", memoryID)
	return w.Refresh(ctx, sessionID)
}

// Reject marks the memory rejected, records the decision as a supervised
// learning event and recomputes the session status. An empty reason is
// stored as [ReasonUnspecified].
func (w *Workflow) Reject(ctx context.Context, sessionID, memoryID int64, reason string) (Result, error) {
	if err := w.check(ctx, sessionID, memoryID); err != nil {
		return Result{}, err
	}
	if reason == "" {
		reason = ReasonUnspecified
	}
	now := w.now().UTC()
	if err := w.repo.UpdateMemoryStatus(ctx, memoryID, store.ApprovalRejected, reason, now); err != nil {
		return Result{}, fmt.Errorf("session: reject memory %d: %w", memoryID, err)
	}
	if _, err := w.repo.LogSupervisedEvent(ctx, store.SupervisedEvent{
		SessionID: sessionID,
		Category:  store.CategoryRejectedMemory,
		Timestamp: now,
		Metadata:  map[string]any{"memory_id": memoryID, "reason": reason},
	}); err != nil {
		return Result{}, fmt.Errorf("session: log rejection of memory %d: %w", memoryID, err)
	}
	w.metrics.RecordMemoryReview(ctx, string(store.ApprovalRejected))
	observe.Logger(ctx).Info("memory rejected", "session_id", sessionID, "memory_id", memoryID, "reason", reason)
	return w.Refresh(ctx, sessionID)
}

// Refresh recomputes the session status from its memory counts and stores
// it. The session end time is left unchanged.
func (w *Workflow) Refresh(ctx context.Context, sessionID int64) (Result, error) {
	counts, err := w.repo.MemoryStatusSummary(ctx, sessionID)
	if err != nil {
		return Result{}, fmt.Errorf("session: status summary for %d: %w", sessionID, err)
	}
	status := DeriveStatus(counts)
	if err := w.repo.UpdateSessionStatus(ctx, sessionID, status, nil); err != nil {
		return Result{}, fmt.Errorf("session: update status of %d: %w", sessionID, err)
	}
	w.metrics.RecordSessionStatus(ctx, string(status))
	return Result{SessionStatus: status, Counts: counts}, nil
}

func (w *Workflow) check(ctx context.Context, sessionID, memoryID int64) error {
	m, err := w.repo.GetMemoryItem(ctx, memoryID)
	if err != nil {
		return fmt.Errorf("session: memory %d: %w", memoryID, err)
	}
	if m.SessionID != sessionID {
		return fmt.Errorf("%w: memory %d is in session %d, not %d", ErrWrongSession, memoryID, m.SessionID, sessionID)
	}
	return nil
}
