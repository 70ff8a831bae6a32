// Package sqlite is the default [store.Repository], backed by a single
// SQLite file through the pure-Go modernc.org/sqlite driver.
//
// The database is opened with one connection so writers are serialised and
// every transaction sees a consistent view. Foreign keys are enforced.
//
// Usage:
//
//	repo, err := sqlite.Open(ctx, "./data/mnemo.db")
//	if err != nil { … }
//	defer repo.Close()
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/mnemo/pkg/store"
)

var _ store.Repository = (*Store)(nil)

// MemoryDSN opens a private in-memory database.
const MemoryDSN = ":memory:"

// Store implements [store.Repository] on SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and migrates it.
// Parent directories are created. Pass [MemoryDSN] for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path != MemoryDSN {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite store: create directory: %w", err)
		}
		dsn = "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	// The DSN pragmas cover file databases on every new connection; the
	// in-memory database only ever has this one.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: enable foreign keys: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Ping implements [store.Repository].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite store: ping: %w", err)
	}
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx runs fn inside a transaction, committing on nil and rolling back
// otherwise.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
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
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO model_versions
			    (version_tag, llm_model, asr_model, speaker_model, prompt_hash, config_snapshot, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			v.VersionTag, v.LLMModel, v.ASRModel, v.SpeakerModel, v.PromptHash, v.ConfigSnapshot, formatTime(created))
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("sqlite store: register model version: %w", err)
	}
	return id, nil
}

// StartSession implements [store.Repository].
func (s *Store) StartSession(ctx context.Context, sess store.Session) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (model_version_id, start_time, end_time, status, notes)
			VALUES (?, ?, ?, ?, ?)`,
			sess.ModelVersionID, formatTime(sess.StartTime), formatTimePtr(sess.EndTime), string(sess.Status), sess.Notes)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("sqlite store: start session: %w", err)
	}
	return id, nil
}

// UpdateSessionStatus implements [store.Repository].
func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID int64, status store.SessionStatus, endTime *time.Time) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE sessions SET status = ?, end_time = COALESCE(?, end_time) WHERE id = ?`,
			string(status), formatTimePtr(endTime), sessionID)
		if err != nil {
			return err
		}
		return requireRow(res)
	})
	if err != nil {
		return fmt.Errorf("sqlite store: update session %d: %w", sessionID, err)
	}
	return nil
}

// GetSession implements [store.Repository].
func (s *Store) GetSession(ctx context.Context, sessionID int64) (store.Session, error) {
	var (
		sess   store.Session
		start  string
		end    sql.NullString
		status string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, model_version_id, start_time, end_time, status, notes
		FROM   sessions WHERE id = ?`, sessionID).
		Scan(&sess.ID, &sess.ModelVersionID, &start, &end, &status, &sess.Notes)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Session{}, fmt.Errorf("sqlite store: get session %d: %w", sessionID, store.ErrNotFound)
	}
	if err != nil {
		return store.Session{}, fmt.Errorf("sqlite store: get session %d: %w", sessionID, err)
	}
	sess.Status = store.SessionStatus(status)
	if sess.StartTime, err = parseTime(start); err != nil {
		return store.Session{}, fmt.Errorf("sqlite store: get session %d: %w", sessionID, err)
	}
	if sess.EndTime, err = parseNullTime(end); err != nil {
		return store.Session{}, fmt.Errorf("sqlite store: get session %d: %w", sessionID, err)
	}
	return sess, nil
}

// InsertAudioSegment implements [store.Repository].
func (s *Store) InsertAudioSegment(ctx context.Context, seg store.AudioSegmentRecord) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = insertSegment(ctx, tx, seg)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("sqlite store: insert audio segment: %w", err)
	}
	return id, nil
}

// InsertRawEvent implements [store.Repository].
func (s *Store) InsertRawEvent(ctx context.Context, ev store.RawEventRecord) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = insertEvent(ctx, tx, ev)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("sqlite store: insert raw event: %w", err)
	}
	return id, nil
}

// LinkSegment implements [store.Repository].
func (s *Store) LinkSegment(ctx context.Context, segmentID, eventID int64) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return linkSegment(ctx, tx, segmentID, eventID)
	})
	if err != nil {
		return fmt.Errorf("sqlite store: link segment %d: %w", segmentID, err)
	}
	return nil
}

// RecordSegment implements [store.Repository].
func (s *Store) RecordSegment(ctx context.Context, seg store.AudioSegmentRecord, ev store.RawEventRecord) (int64, int64, error) {
	var segID, evID int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
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
		return 0, 0, fmt.Errorf("sqlite store: record segment: %w", err)
	}
	return segID, evID, nil
}

func insertSegment(ctx context.Context, q execer, seg store.AudioSegmentRecord) (int64, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO audio_segments (session_id, file_path, start_time, end_time, duration_sec, raw_events_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		seg.SessionID, seg.FilePath, formatTime(seg.StartTime), formatTime(seg.EndTime), seg.DurationSec, nullInt64(seg.RawEventID))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func insertEvent(ctx context.Context, q execer, ev store.RawEventRecord) (int64, error) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}
	eventType := ev.EventType
	if eventType == "" {
		eventType = store.EventTypeTranscript
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO raw_events (session_id, event_type, timestamp, payload, predicted_intent)
		VALUES (?, ?, ?, ?, ?)`,
		ev.SessionID, eventType, formatTime(ev.Timestamp), string(payload), ev.PredictedIntent)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func linkSegment(ctx context.Context, q execer, segmentID, eventID int64) error {
	res, err := q.ExecContext(ctx,
		`UPDATE audio_segments SET raw_events_id = ? WHERE id = ? AND raw_events_id IS NULL`,
		eventID, segmentID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	err = q.QueryRowContext(ctx, `SELECT 1 FROM audio_segments WHERE id = ?`, segmentID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	return store.ErrAlreadyLinked
}

// GetSessionEvents implements [store.Repository].
func (s *Store) GetSessionEvents(ctx context.Context, sessionID int64) ([]store.RawEventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, event_type, timestamp, payload, predicted_intent
		FROM   raw_events
		WHERE  session_id = ?
		ORDER  BY timestamp, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: get session events: %w", err)
	}
	defer rows.Close()

	var events []store.RawEventRecord
	for rows.Next() {
		var (
			ev      store.RawEventRecord
			ts      string
			payload string
		)
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.EventType, &ts, &payload, &ev.PredictedIntent); err != nil {
			return nil, fmt.Errorf("sqlite store: scan event: %w", err)
		}
		if ev.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("sqlite store: event %d: %w", ev.ID, err)
		}
		if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
			return nil, fmt.Errorf("sqlite store: event %d payload: %w", ev.ID, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: get session events: %w", err)
	}
	return events, nil
}

// ListAudioSegments implements [store.Repository].
func (s *Store) ListAudioSegments(ctx context.Context, sessionID int64) ([]store.AudioSegmentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, file_path, start_time, end_time, duration_sec, raw_events_id
		FROM   audio_segments
		WHERE  session_id = ?
		ORDER  BY start_time, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: list audio segments: %w", err)
	}
	defer rows.Close()

	var segs []store.AudioSegmentRecord
	for rows.Next() {
		var (
			seg        store.AudioSegmentRecord
			start, end string
			rawEvent   sql.NullInt64
		)
		if err := rows.Scan(&seg.ID, &seg.SessionID, &seg.FilePath, &start, &end, &seg.DurationSec, &rawEvent); err != nil {
			return nil, fmt.Errorf("sqlite store: scan segment: %w", err)
		}
		if seg.StartTime, err = parseTime(start); err != nil {
			return nil, fmt.Errorf("sqlite store: segment %d: %w", seg.ID, err)
		}
		if seg.EndTime, err = parseTime(end); err != nil {
			return nil, fmt.Errorf("sqlite store: segment %d: %w", seg.ID, err)
		}
		if rawEvent.Valid {
			id := rawEvent.Int64
			seg.RawEventID = &id
		}
		segs = append(segs, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: list audio segments: %w", err)
	}
	return segs, nil
}
