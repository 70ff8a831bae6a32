// Package postgres is a PostgreSQL-backed [store.Repository] for deployments
// where several capture hosts share one review database.
//
// All operations share a single [pgxpool.Pool]. Transcript payloads and
// audit metadata are stored as JSONB, tags as TEXT[].
//
// Usage:
//
//	repo, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer repo.Close()
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/mnemo/pkg/store"
)

var _ store.Repository = (*Store)(nil)

// Store implements [store.Repository] on PostgreSQL. It is safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases all pooled connections.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping implements [store.Repository].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	return nil
}

// RegisterModelVersion implements [store.Repository].
func (s *Store) RegisterModelVersion(ctx context.Context, v store.ModelVersion) (int64, error) {
	created := v.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO model_versions
		    (version_tag, llm_model, asr_model, speaker_model, prompt_hash, config_snapshot, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		v.VersionTag, v.LLMModel, v.ASRModel, v.SpeakerModel, v.PromptHash, v.ConfigSnapshot, created,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres store: register model version: %w", err)
	}
	return id, nil
}

// StartSession implements [store.Repository].
func (s *Store) StartSession(ctx context.Context, sess store.Session) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO sessions (model_version_id, start_time, end_time, status, notes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		sess.ModelVersionID, sess.StartTime, sess.EndTime, string(sess.Status), sess.Notes,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres store: start session: %w", err)
	}
	return id, nil
}

// UpdateSessionStatus implements [store.Repository].
func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID int64, status store.SessionStatus, endTime *time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET status = $1, end_time = COALESCE($2, end_time) WHERE id = $3`,
		string(status), endTime, sessionID)
	if err != nil {
		return fmt.Errorf("postgres store: update session %d: %w", sessionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres store: update session %d: %w", sessionID, store.ErrNotFound)
	}
	return nil
}

// GetSession implements [store.Repository].
func (s *Store) GetSession(ctx context.Context, sessionID int64) (store.Session, error) {
	var (
		sess   store.Session
		status string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, model_version_id, start_time, end_time, status, notes
		FROM   sessions
		WHERE  id = $1`, sessionID,
	).Scan(&sess.ID, &sess.ModelVersionID, &sess.StartTime, &sess.EndTime, &status, &sess.Notes)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Session{}, fmt.Errorf("postgres store: get session %d: %w", sessionID, store.ErrNotFound)
	}
	if err != nil {
		return store.Session{}, fmt.Errorf("postgres store: get session %d: %w", sessionID, err)
	}
	sess.Status = store.SessionStatus(status)
	return sess, nil
}

// dbtx is satisfied by *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// InsertAudioSegment implements [store.Repository].
func (s *Store) InsertAudioSegment(ctx context.Context, seg store.AudioSegmentRecord) (int64, error) {
	id, err := insertSegment(ctx, s.pool, seg)
	if err != nil {
		return 0, fmt.Errorf("postgres store: insert audio segment: %w", err)
	}
	return id, nil
}

// InsertRawEvent implements [store.Repository].
func (s *Store) InsertRawEvent(ctx context.Context, ev store.RawEventRecord) (int64, error) {
	id, err := insertEvent(ctx, s.pool, ev)
	if err != nil {
		return 0, fmt.Errorf("postgres store: insert raw event: %w", err)
	}
	return id, nil
}

// LinkSegment implements [store.Repository].
func (s *Store) LinkSegment(ctx context.Context, segmentID, eventID int64) error {
	if err := linkSegment(ctx, s.pool, segmentID, eventID); err != nil {
		return fmt.Errorf("postgres store: link segment %d: %w", segmentID, err)
	}
	return nil
}

// RecordSegment implements [store.Repository].
func (s *Store) RecordSegment(ctx context.Context, seg store.AudioSegmentRecord, ev store.RawEventRecord) (int64, int64, error) {
	var segID, evID int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		if segID, err = insertSegment(ctx, tx, seg); err != nil {
			return fmt.Errorf("insert segment: %w", err)
		}
		ev.Payload.AudioSegmentID = segID
		if evID, err = insertEvent(ctx, tx, ev); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		if err := linkSegment(ctx, tx, segID, evID); err != nil {
			return fmt.Errorf("link: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("postgres store: record segment: %w", err)
	}
	return segID, evID, nil
}

func insertSegment(ctx context.Context, q dbtx, seg store.AudioSegmentRecord) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, `
		INSERT INTO audio_segments (session_id, file_path, start_time, end_time, duration_sec, raw_events_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		seg.SessionID, seg.FilePath, seg.StartTime, seg.EndTime, seg.DurationSec, seg.RawEventID,
	).Scan(&id)
	return id, err
}

func insertEvent(ctx context.Context, q dbtx, ev store.RawEventRecord) (int64, error) {
	eventType := ev.EventType
	if eventType == "" {
		eventType = store.EventTypeTranscript
	}
	var id int64
	err := q.QueryRow(ctx, `
		INSERT INTO raw_events (session_id, event_type, timestamp, payload, predicted_intent)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		ev.SessionID, eventType, ev.Timestamp, ev.Payload, ev.PredictedIntent,
	).Scan(&id)
	return id, err
}

func linkSegment(ctx context.Context, q dbtx, segmentID, eventID int64) error {
	tag, err := q.Exec(ctx,
		`UPDATE audio_segments SET raw_events_id = $1 WHERE id = $2 AND raw_events_id IS NULL`,
		eventID, segmentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM audio_segments WHERE id = $1)`, segmentID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrAlreadyLinked
}

// GetSessionEvents implements [store.Repository].
func (s *Store) GetSessionEvents(ctx context.Context, sessionID int64) ([]store.RawEventRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, event_type, timestamp, payload, predicted_intent
		FROM   raw_events
		WHERE  session_id = $1
		ORDER  BY timestamp, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: get session events: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.RawEventRecord, error) {
		var ev store.RawEventRecord
		err := row.Scan(&ev.ID, &ev.SessionID, &ev.EventType, &ev.Timestamp, &ev.Payload, &ev.PredictedIntent)
		return ev, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: get session events: %w", err)
	}
	return events, nil
}

// ListAudioSegments implements [store.Repository].
func (s *Store) ListAudioSegments(ctx context.Context, sessionID int64) ([]store.AudioSegmentRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, file_path, start_time, end_time, duration_sec, raw_events_id
		FROM   audio_segments
		WHERE  session_id = $1
		ORDER  BY start_time, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list audio segments: %w", err)
	}
	segs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.AudioSegmentRecord, error) {
		var seg store.AudioSegmentRecord
		err := row.Scan(&seg.ID, &seg.SessionID, &seg.FilePath, &seg.StartTime, &seg.EndTime, &seg.DurationSec, &seg.RawEventID)
		return seg, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: list audio segments: %w", err)
	}
	return segs, nil
}
