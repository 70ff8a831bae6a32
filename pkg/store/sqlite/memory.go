package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/mnemo/pkg/store"
)

const memoryColumns = `id, session_id, source_event_id, timestamp, text, topic_tags, modality_tags,
	importance, predicted_intent, approval_status, rejection_reason, suggested_issue,
	confidence_asr, confidence_speaker, confidence_proposer, reviewed_at`

// InsertMemoryItem implements [store.Repository].
func (s *Store) InsertMemoryItem(ctx context.Context, m store.MemoryItemRecord) (int64, error) {
	topics, err := marshalTags(m.TopicTags)
	if err != nil {
		return 0, fmt.Errorf("sqlite store: insert memory item: %w", err)
	}
	modality, err := marshalTags(m.ModalityTags)
	if err != nil {
		return 0, fmt.Errorf("sqlite store: insert memory item: %w", err)
	}
	status := m.ApprovalStatus
	if status == "" {
		status = store.ApprovalPending
	}

	var id int64
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO memory_items
			    (session_id, source_event_id, timestamp, text, topic_tags, modality_tags,
			     importance, predicted_intent, approval_status, rejection_reason, suggested_issue,
			     confidence_asr, confidence_speaker, confidence_proposer, reviewed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.SessionID, m.SourceEventID, formatTime(m.Timestamp), m.Text, topics, modality,
			m.Importance, m.PredictedIntent, string(status), m.RejectionReason, m.SuggestedIssue,
			m.ASRConfidence, m.SpeakerConfidence, m.ProposerConfidence, formatTimePtr(m.ReviewedAt))
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("sqlite store: insert memory item: %w", err)
	}
	return id, nil
}

// GetMemoryItem implements [store.Repository].
func (s *Store) GetMemoryItem(ctx context.Context, memoryID int64) (store.MemoryItemRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memory_items WHERE id = ?`, memoryID)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.MemoryItemRecord{}, fmt.Errorf("sqlite store: get memory item %d: %w", memoryID, store.ErrNotFound)
	}
	if err != nil {
		return store.MemoryItemRecord{}, fmt.Errorf("sqlite store: get memory item %d: %w", memoryID, err)
	}
	return m, nil
}

// UpdateMemoryStatus implements [store.Repository].
func (s *Store) UpdateMemoryStatus(ctx context.Context, memoryID int64, status store.ApprovalStatus, reason string, reviewedAt time.Time) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE memory_items SET approval_status = ?, rejection_reason = ?, reviewed_at = ? WHERE id = ?`,
			string(status), reason, formatTime(reviewedAt), memoryID)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
	if err != nil {
		return fmt.Errorf("sqlite store: update memory %d: %w", memoryID, err)
	}
	return nil
}

// MemoryStatusSummary implements [store.Repository].
func (s *Store) MemoryStatusSummary(ctx context.Context, sessionID int64) (store.StatusCounts, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT approval_status, COUNT(*)
		FROM   memory_items
		WHERE  session_id = ?
		GROUP  BY approval_status`, sessionID)
	if err != nil {
		return store.StatusCounts{}, fmt.Errorf("sqlite store: memory status summary: %w", err)
	}
	defer rows.Close()

	var counts store.StatusCounts
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return store.StatusCounts{}, fmt.Errorf("sqlite store: scan status count: %w", err)
		}
		counts.AddCount(store.ApprovalStatus(status), n)
	}
	if err := rows.Err(); err != nil {
		return store.StatusCounts{}, fmt.Errorf("sqlite store: memory status summary: %w", err)
	}
	return counts, nil
}

// ListMemoryItems implements [store.Repository].
func (s *Store) ListMemoryItems(ctx context.Context, sessionID int64) ([]store.MemoryItemRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memory_items WHERE session_id = ? ORDER BY timestamp, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list memory items: %w", err)
	}
	defer rows.Close()

	var items []store.MemoryItemRecord
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: scan memory item: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: list memory items: %w", err)
	}
	return items, nil
}

// LogSupervisedEvent implements [store.Repository].
func (s *Store) LogSupervisedEvent(ctx context.Context, e store.SupervisedEvent) (int64, error) {
	meta, err := marshalMetadata(e.Metadata)
	if err != nil {
		return 0, fmt.Errorf("sqlite store: log supervised event: %w", err)
	}
	var id int64
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO supervised_learning_events (session_id, category, timestamp, artifact_path, metadata)
			VALUES (?, ?, ?, ?, ?)`,
			nullID(e.SessionID), e.Category, formatTime(e.Timestamp), e.ArtifactPath, meta)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("sqlite store: log supervised event: %w", err)
	}
	return id, nil
}

// LogMetric implements [store.Repository].
func (s *Store) LogMetric(ctx context.Context, m store.Metric) (int64, error) {
	meta, err := marshalMetadata(m.Metadata)
	if err != nil {
		return 0, fmt.Errorf("sqlite store: log metric: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO system_metrics (session_id, timestamp, metric_name, metric_value, metadata)
		VALUES (?, ?, ?, ?, ?)`,
		nullID(m.SessionID), formatTime(m.Timestamp), m.Name, m.Value, meta)
	if err != nil {
		return 0, fmt.Errorf("sqlite store: log metric: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlite store: log metric: %w", err)
	}
	return id, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(r rowScanner) (store.MemoryItemRecord, error) {
	var (
		m                 store.MemoryItemRecord
		ts, topics, modal string
		status            string
		reviewed          sql.NullString
	)
	if err := r.Scan(&m.ID, &m.SessionID, &m.SourceEventID, &ts, &m.Text, &topics, &modal,
		&m.Importance, &m.PredictedIntent, &status, &m.RejectionReason, &m.SuggestedIssue,
		&m.ASRConfidence, &m.SpeakerConfidence, &m.ProposerConfidence, &reviewed); err != nil {
		return store.MemoryItemRecord{}, err
	}
	m.ApprovalStatus = store.ApprovalStatus(status)

	var err error
	if m.Timestamp, err = parseTime(ts); err != nil {
		return store.MemoryItemRecord{}, err
	}
	if m.ReviewedAt, err = parseNullTime(reviewed); err != nil {
		return store.MemoryItemRecord{}, err
	}
	if err := json.Unmarshal([]byte(topics), &m.TopicTags); err != nil {
		return store.MemoryItemRecord{}, fmt.Errorf("topic tags: %w", err)
	}
	if err := json.Unmarshal([]byte(modal), &m.ModalityTags); err != nil {
		return store.MemoryItemRecord{}, fmt.Errorf("modality tags: %w", err)
	}
	return m, nil
}

func marshalTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("marshal tags: %w", err)
	}
	return string(b), nil
}

func marshalMetadata(meta map[string]any) (string, error) {
	if meta == nil {
		meta = map[string]any{}
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(b), nil
}

// timeLayout is fixed-width so stored timestamps sort chronologically as
// text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

// nullID maps the zero id to NULL for optional foreign keys.
func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

// requireRow turns an update that touched nothing into store.ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
