package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// Timestamps are stored as RFC 3339 UTC text with nanoseconds. Columns are
// declared TEXT so the driver hands them back as strings.
var ddl = []string{
	`CREATE TABLE IF NOT EXISTS model_versions (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    version_tag     TEXT NOT NULL,
    llm_model       TEXT NOT NULL,
    asr_model       TEXT NOT NULL,
    speaker_model   TEXT NOT NULL,
    prompt_hash     TEXT NOT NULL,
    config_snapshot TEXT NOT NULL,
    created_at      TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS sessions (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    model_version_id INTEGER NOT NULL REFERENCES model_versions (id),
    start_time       TEXT NOT NULL,
    end_time         TEXT,
    status           TEXT NOT NULL,
    notes            TEXT NOT NULL DEFAULT ''
)`,
	`CREATE TABLE IF NOT EXISTS raw_events (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id       INTEGER NOT NULL REFERENCES sessions (id),
    event_type       TEXT NOT NULL,
    timestamp        TEXT NOT NULL,
    payload          TEXT NOT NULL,
    predicted_intent TEXT NOT NULL DEFAULT ''
)`,
	`CREATE INDEX IF NOT EXISTS idx_raw_events_session_ts ON raw_events (session_id, timestamp)`,
	`CREATE TABLE IF NOT EXISTS audio_segments (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id    INTEGER NOT NULL REFERENCES sessions (id),
    file_path     TEXT NOT NULL,
    start_time    TEXT NOT NULL,
    end_time      TEXT NOT NULL,
    duration_sec  REAL NOT NULL,
    raw_events_id INTEGER REFERENCES raw_events (id)
)`,
	`CREATE INDEX IF NOT EXISTS idx_audio_segments_session ON audio_segments (session_id)`,
	`CREATE TABLE IF NOT EXISTS memory_items (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id          INTEGER NOT NULL REFERENCES sessions (id),
    source_event_id     INTEGER NOT NULL REFERENCES raw_events (id),
    timestamp           TEXT NOT NULL,
    text                TEXT NOT NULL,
    topic_tags          TEXT NOT NULL DEFAULT '[]',
    modality_tags       TEXT NOT NULL DEFAULT '[]',
    importance          REAL NOT NULL,
    predicted_intent    TEXT NOT NULL,
    approval_status     TEXT NOT NULL,
    rejection_reason    TEXT NOT NULL DEFAULT '',
    suggested_issue     TEXT NOT NULL DEFAULT '',
    confidence_asr      REAL NOT NULL DEFAULT 0,
    confidence_speaker  REAL NOT NULL DEFAULT 0,
    confidence_proposer REAL NOT NULL DEFAULT 0,
    reviewed_at         TEXT
)`,
	`CREATE INDEX IF NOT EXISTS idx_memory_items_session ON memory_items (session_id, approval_status)`,
	`CREATE TABLE IF NOT EXISTS supervised_learning_events (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id    INTEGER REFERENCES sessions (id),
    category      TEXT NOT NULL,
    timestamp     TEXT NOT NULL,
    artifact_path TEXT NOT NULL DEFAULT '',
    metadata      TEXT NOT NULL,
    reviewed      INTEGER NOT NULL DEFAULT 0
)`,
	`CREATE TABLE IF NOT EXISTS system_metrics (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id   INTEGER,
    timestamp    TEXT NOT NULL,
    metric_name  TEXT NOT NULL,
    metric_value REAL NOT NULL,
    metadata     TEXT NOT NULL
)`,
}

// Migrate creates all tables and indexes. It is idempotent and safe to run on
// every start.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite migrate: %w", err)
		}
	}
	return nil
}
