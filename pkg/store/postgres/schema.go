package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS model_versions (
    id              BIGSERIAL    PRIMARY KEY,
    version_tag     TEXT         NOT NULL,
    llm_model       TEXT         NOT NULL,
    asr_model       TEXT         NOT NULL,
    speaker_model   TEXT         NOT NULL,
    prompt_hash     TEXT         NOT NULL,
    config_snapshot TEXT         NOT NULL,
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sessions (
    id               BIGSERIAL    PRIMARY KEY,
    model_version_id BIGINT       NOT NULL REFERENCES model_versions (id),
    start_time       TIMESTAMPTZ  NOT NULL,
    end_time         TIMESTAMPTZ,
    status           TEXT         NOT NULL,
    notes            TEXT         NOT NULL DEFAULT ''
);
`

const ddlEvents = `
CREATE TABLE IF NOT EXISTS raw_events (
    id               BIGSERIAL    PRIMARY KEY,
    session_id       BIGINT       NOT NULL REFERENCES sessions (id),
    event_type       TEXT         NOT NULL,
    timestamp        TIMESTAMPTZ  NOT NULL,
    payload          JSONB        NOT NULL,
    predicted_intent TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_raw_events_session_ts
    ON raw_events (session_id, timestamp);

CREATE TABLE IF NOT EXISTS audio_segments (
    id            BIGSERIAL    PRIMARY KEY,
    session_id    BIGINT       NOT NULL REFERENCES sessions (id),
    file_path     TEXT         NOT NULL,
    start_time    TIMESTAMPTZ  NOT NULL,
    end_time      TIMESTAMPTZ  NOT NULL,
    duration_sec  DOUBLE PRECISION NOT NULL,
    raw_events_id BIGINT       REFERENCES raw_events (id)
);

CREATE INDEX IF NOT EXISTS idx_audio_segments_session
    ON audio_segments (session_id);
`

const ddlMemory = `
CREATE TABLE IF NOT EXISTS memory_items (
    id                  BIGSERIAL    PRIMARY KEY,
    session_id          BIGINT       NOT NULL REFERENCES sessions (id),
    source_event_id     BIGINT       NOT NULL REFERENCES raw_events (id),
    timestamp           TIMESTAMPTZ  NOT NULL,
    text                TEXT         NOT NULL,
    topic_tags          TEXT[]       NOT NULL DEFAULT '{}',
    modality_tags       TEXT[]       NOT NULL DEFAULT '{}',
    importance          DOUBLE PRECISION NOT NULL,
    predicted_intent    TEXT         NOT NULL,
    approval_status     TEXT         NOT NULL,
    rejection_reason    TEXT         NOT NULL DEFAULT '',
    suggested_issue     TEXT         NOT NULL DEFAULT '',
    confidence_asr      DOUBLE PRECISION NOT NULL DEFAULT 0,
    confidence_speaker  DOUBLE PRECISION NOT NULL DEFAULT 0,
    confidence_proposer DOUBLE PRECISION NOT NULL DEFAULT 0,
    reviewed_at         TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_memory_items_session_status
    ON memory_items (session_id, approval_status);
`

const ddlAudit = `
CREATE TABLE IF NOT EXISTS supervised_learning_events (
    id            BIGSERIAL    PRIMARY KEY,
    session_id    BIGINT       REFERENCES sessions (id),
    category      TEXT         NOT NULL,
    timestamp     TIMESTAMPTZ  NOT NULL,
    artifact_path TEXT         NOT NULL DEFAULT '',
    metadata      JSONB        NOT NULL DEFAULT '{}',
    reviewed      BOOLEAN      NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS system_metrics (
    id           BIGSERIAL    PRIMARY KEY,
    session_id   BIGINT,
    timestamp    TIMESTAMPTZ  NOT NULL,
    metric_name  TEXT         NOT NULL,
    metric_value DOUBLE PRECISION NOT NULL,
    metadata     JSONB        NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_system_metrics_name_ts
    ON system_metrics (metric_name, timestamp);
`

// Migrate creates all tables and indexes. It is idempotent (CREATE ... IF NOT
// EXISTS) and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlSessions, ddlEvents, ddlMemory, ddlAudit} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
