// Package store defines the persistence contract for capture sessions,
// segmented utterances, proposed memories and the review audit trail.
//
// Two implementations exist: [github.com/MrWong99/mnemo/pkg/store/sqlite]
// (the default, a single local file) and
// [github.com/MrWong99/mnemo/pkg/store/postgres]. Both satisfy the
// behavioural suite in [github.com/MrWong99/mnemo/pkg/store/storetest].
//
// Every write happens inside its own transaction. [Repository.RecordSegment]
// inserts an audio segment, its transcript event and the link between them
// atomically, so no segment row ever exists without its event.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyLinked is returned by LinkSegment when the segment already
	// points at an event.
	ErrAlreadyLinked = errors.New("store: segment already linked")
)

// EventTypeTranscript is the event type of per-segment recognition results.
const EventTypeTranscript = "transcript"

// SessionStatus is the lifecycle state of a capture session.
type SessionStatus string

const (
	SessionActive            SessionStatus = "active"
	SessionPendingReview     SessionStatus = "pending_review"
	SessionPartiallyApproved SessionStatus = "partially_approved"
	SessionFullyApproved     SessionStatus = "fully_approved"
	SessionRejected          SessionStatus = "rejected"
)

// ApprovalStatus is the review state of a proposed memory.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// ModelVersion records which recognition models and configuration produced a
// session's data.
type ModelVersion struct {
	ID             int64
	VersionTag     string
	LLMModel       string
	ASRModel       string
	SpeakerModel   string
	PromptHash     string
	ConfigSnapshot string
	CreatedAt      time.Time
}

// Session is one capture run.
type Session struct {
	ID             int64
	ModelVersionID int64
	StartTime      time.Time
	EndTime        *time.Time
	Status         SessionStatus
	Notes          string
}

// AudioSegmentRecord points at the WAV artifact of one utterance.
// RawEventID is nil until the segment is linked to its transcript event.
type AudioSegmentRecord struct {
	ID          int64
	SessionID   int64
	FilePath    string
	StartTime   time.Time
	EndTime     time.Time
	DurationSec float64
	RawEventID  *int64
}

// TranscriptPayload is the JSON body of a transcript event.
type TranscriptPayload struct {
	Transcript        string  `json:"transcript"`
	ASRConfidence     float64 `json:"asr_confidence"`
	SpeakerID         string  `json:"speaker_id"`
	SpeakerConfidence float64 `json:"speaker_confidence"`
	AudioSegmentID    int64   `json:"audio_segment_id"`
}

// RawEventRecord is one recognition result.
type RawEventRecord struct {
	ID              int64
	SessionID       int64
	EventType       string
	Timestamp       time.Time
	Payload         TranscriptPayload
	PredictedIntent string
}

// MemoryItemRecord is a memory proposed from a transcript event and its
// review outcome.
type MemoryItemRecord struct {
	ID                 int64
	SessionID          int64
	SourceEventID      int64
	Timestamp          time.Time
	Text               string
	TopicTags          []string
	ModalityTags       []string
	Importance         float64
	PredictedIntent    string
	ApprovalStatus     ApprovalStatus
	RejectionReason    string
	SuggestedIssue     string
	ASRConfidence      float64
	SpeakerConfidence  float64
	ProposerConfidence float64
	ReviewedAt         *time.Time
}

// StatusCounts tallies a session's memories by approval status.
type StatusCounts struct {
	Pending  int
	Approved int
	Rejected int
}

// Total returns the number of memories counted.
func (c StatusCounts) Total() int { return c.Pending + c.Approved + c.Rejected }

// SupervisedEvent is a labelled example captured for later model training,
// such as a user rejecting a proposed memory.
type SupervisedEvent struct {
	ID           int64
	SessionID    int64
	Category     string
	Timestamp    time.Time
	ArtifactPath string
	Metadata     map[string]any
}

// CategoryRejectedMemory labels supervised events logged on rejection.
const CategoryRejectedMemory = "user_rejected_memory"

// Metric is a point-in-time measurement attributed to a session.
type Metric struct {
	ID        int64
	SessionID int64
	Timestamp time.Time
	Name      string
	Value     float64
	Metadata  map[string]any
}

// Repository is the persistence contract. Implementations must be safe for
// concurrent use. Insert methods return the new row id.
type Repository interface {
	RegisterModelVersion(ctx context.Context, v ModelVersion) (int64, error)

	StartSession(ctx context.Context, s Session) (int64, error)
	// UpdateSessionStatus sets the status and, when endTime is non-nil, the
	// end time. A nil endTime leaves the stored end time untouched.
	UpdateSessionStatus(ctx context.Context, sessionID int64, status SessionStatus, endTime *time.Time) error
	GetSession(ctx context.Context, sessionID int64) (Session, error)

	InsertAudioSegment(ctx context.Context, seg AudioSegmentRecord) (int64, error)
	InsertRawEvent(ctx context.Context, ev RawEventRecord) (int64, error)
	// LinkSegment sets the segment's event reference. It may only be set once.
	LinkSegment(ctx context.Context, segmentID, eventID int64) error
	// RecordSegment inserts seg and ev and links them in one transaction. The
	// event payload's AudioSegmentID is set to the new segment id.
	RecordSegment(ctx context.Context, seg AudioSegmentRecord, ev RawEventRecord) (segmentID, eventID int64, err error)
	// GetSessionEvents returns the session's events ordered by timestamp.
	GetSessionEvents(ctx context.Context, sessionID int64) ([]RawEventRecord, error)
	ListAudioSegments(ctx context.Context, sessionID int64) ([]AudioSegmentRecord, error)

	InsertMemoryItem(ctx context.Context, m MemoryItemRecord) (int64, error)
	GetMemoryItem(ctx context.Context, memoryID int64) (MemoryItemRecord, error)
	UpdateMemoryStatus(ctx context.Context, memoryID int64, status ApprovalStatus, reason string, reviewedAt time.Time) error
	MemoryStatusSummary(ctx context.Context, sessionID int64) (StatusCounts, error)
	ListMemoryItems(ctx context.Context, sessionID int64) ([]MemoryItemRecord, error)

	LogSupervisedEvent(ctx context.Context, e SupervisedEvent) (int64, error)
	LogMetric(ctx context.Context, m Metric) (int64, error)

	// Ping verifies the backing database is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// AddCount adds n to the counter matching status. Unknown statuses are
// ignored.
func (c *StatusCounts) AddCount(status ApprovalStatus, n int) {
	switch status {
	case ApprovalPending:
		c.Pending += n
	case ApprovalApproved:
		c.Approved += n
	case ApprovalRejected:
		c.Rejected += n
	}
}
