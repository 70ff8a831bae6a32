package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/mnemo/pkg/store"
)

const memoryColumns = `id, session_id, source_event_id, timestamp, text, topic_tags, modality_tags,
	importance, predicted_intent, approval_status, rejection_reason, suggested_issue,
	confidence_asr, confidence_speaker, confidence_proposer, reviewed_at`

// InsertMemoryItem implements [store.Repository].
func (s *Store) InsertMemoryItem(ctx context.Context, m store.MemoryItemRecord) (int64, error) {
	status := m.ApprovalStatus
	if status == "" {
		status = store.ApprovalPending
	}
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO memory_items
		    (session_id, source_event_id, timestamp, text, topic_tags, modality_tags,
		     importance, predicted_intent, approval_status, rejection_reason, suggested_issue,
		     confidence_asr, confidence_speaker, confidence_proposer, reviewed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`,
		m.SessionID, m.SourceEventID, m.Timestamp, m.Text, nonNil(m.TopicTags), nonNil(m.ModalityTags),
		m.Importance, m.PredictedIntent, string(status), m.RejectionReason, m.SuggestedIssue,
		m.ASRConfidence, m.SpeakerConfidence, m.ProposerConfidence, m.ReviewedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres store: insert memory item: %w", err)
	}
	return id, nil
}

// GetMemoryItem implements [store.Repository].
func (s *Store) GetMemoryItem(ctx context.Context, memoryID int64) (store.MemoryItemRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+memoryColumns+` FROM memory_items WHERE id = $1`, memoryID)
	if err != nil {
		return store.MemoryItemRecord{}, fmt.Errorf("postgres store: get memory item %d: %w", memoryID, err)
	}
	m, err := pgx.CollectExactlyOneRow(rows, scanMemory)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.MemoryItemRecord{}, fmt.Errorf("postgres store: get memory item %d: %w", memoryID, store.ErrNotFound)
	}
	if err != nil {
		return store.MemoryItemRecord{}, fmt.Errorf("postgres store: get memory item %d: %w", memoryID, err)
	}
	return m, nil
}

// UpdateMemoryStatus implements [store.Repository].
func (s *Store) UpdateMemoryStatus(ctx context.Context, memoryID int64, status store.ApprovalStatus, reason string, reviewedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE memory_items SET approval_status = $1, rejection_reason = $2, reviewed_at = $3 WHERE id = $4`,
		string(status), reason, reviewedAt, memoryID)
	if err != nil {
		return fmt.Errorf("postgres store: update memory %d: %w", memoryID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres store: update memory %d: %w", memoryID, store.ErrNotFound)
	}
	return nil
}

// MemoryStatusSummary implements [store.Repository].
func (s *Store) MemoryStatusSummary(ctx context.Context, sessionID int64) (store.StatusCounts, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT approval_status, COUNT(*)
		FROM   memory_items
		WHERE  session_id = $1
		GROUP  BY approval_status`, sessionID)
	if err != nil {
		return store.StatusCounts{}, fmt.Errorf("postgres store: memory status summary: %w", err)
	}
	defer rows.Close()

	var counts store.StatusCounts
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return store.StatusCounts{}, fmt.Errorf("postgres store: scan status count: %w", err)
		}
		counts.AddCount(store.ApprovalStatus(status), int(n))
	}
	if err := rows.Err(); err != nil {
		return store.StatusCounts{}, fmt.Errorf("postgres store: memory status summary: %w", err)
	}
	return counts, nil
}

// ListMemoryItems implements [store.Repository].
func (s *Store) ListMemoryItems(ctx context.Context, sessionID int64) ([]store.MemoryItemRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+memoryColumns+` FROM memory_items WHERE session_id = $1 ORDER BY timestamp, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list memory items: %w", err)
	}
	items, err := pgx.CollectRows(rows, scanMemory)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list memory items: %w", err)
	}
	return items, nil
}

// LogSupervisedEvent implements [store.Repository].
func (s *Store) LogSupervisedEvent(ctx context.Context, e store.SupervisedEvent) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO supervised_learning_events (session_id, category, timestamp, artifact_path, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		nullID(e.SessionID), e.Category, e.Timestamp, e.ArtifactPath, nonNilMeta(e.Metadata),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres store: log supervised event: %w", err)
	}
	return id, nil
}

// LogMetric implements [store.Repository].
func (s *Store) LogMetric(ctx context.Context, m store.Metric) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO system_metrics (session_id, timestamp, metric_name, metric_value, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		nullID(m.SessionID), m.Timestamp, m.Name, m.Value, nonNilMeta(m.Metadata),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres store: log metric: %w", err)
	}
	return id, nil
}

func scanMemory(row pgx.CollectableRow) (store.MemoryItemRecord, error) {
	var (
		m      store.MemoryItemRecord
		status string
	)
	err := row.Scan(&m.ID, &m.SessionID, &m.SourceEventID, &m.Timestamp, &m.Text, &m.TopicTags, &m.ModalityTags,
		&m.Importance, &m.PredictedIntent, &status, &m.RejectionReason, &m.SuggestedIssue,
		&m.ASRConfidence, &m.SpeakerConfidence, &m.ProposerConfidence, &m.ReviewedAt)
	m.ApprovalStatus = store.ApprovalStatus(status)
	return m, err
}

// nonNil keeps NOT NULL array columns from receiving SQL NULL.
func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func nonNilMeta(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}

// nullID maps the zero id to NULL for optional foreign keys.
func nullID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}
