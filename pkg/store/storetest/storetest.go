// Package storetest is a behavioural test suite for [store.Repository]
// implementations. Each backend's tests call [Run] with a constructor.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/mnemo/pkg/store"
)

// Opener returns a ready repository. It registers its own cleanup.
type Opener func(t *testing.T) store.Repository

// Run executes the suite. Subtests run in parallel and each creates its own
// session, so a shared database is fine.
func Run(t *testing.T, open Opener) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(t *testing.T, repo store.Repository)
	}{
		{"SessionLifecycle", testSessionLifecycle},
		{"RecordSegment", testRecordSegment},
		{"RecordSegmentRollsBack", testRecordSegmentRollsBack},
		{"LinkSegmentOnce", testLinkSegmentOnce},
		{"EventsOrderedByTimestamp", testEventsOrdered},
		{"MemoryItems", testMemoryItems},
		{"AuditTrail", testAuditTrail},
		{"NotFound", testNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tt.fn(t, open(t))
		})
	}
}

// base is a fixed, microsecond-aligned instant so round trips compare
// exactly on every backend.
var base = time.Date(2025, 3, 14, 9, 26, 53, 589793000, time.UTC)

func newSession(t *testing.T, repo store.Repository) int64 {
	t.Helper()
	ctx := context.Background()
	mv, err := repo.RegisterModelVersion(ctx, store.ModelVersion{
		VersionTag:     "v0.1.0",
		LLMModel:       "heuristic",
		ASRModel:       "small.en",
		SpeakerModel:   "resemblyzer",
		PromptHash:     "heuristic_v1",
		ConfigSnapshot: `{"audio":{"sample_rate_hz":16000}}`,
	})
	if err != nil {
		t.Fatalf("RegisterModelVersion: %v", err)
	}
	if mv <= 0 {
		t.Fatalf("model version id = %d, want > 0", mv)
	}
	id, err := repo.StartSession(ctx, store.Session{
		ModelVersionID: mv,
		StartTime:      base,
		Status:         store.SessionActive,
		Notes:          "test",
	})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	return id
}

func segmentAt(sessionID int64, offset time.Duration) store.AudioSegmentRecord {
	return store.AudioSegmentRecord{
		SessionID:   sessionID,
		FilePath:    "/data/audio_segments/x.wav",
		StartTime:   base.Add(offset),
		EndTime:     base.Add(offset + 900*time.Millisecond),
		DurationSec: 0.9,
	}
}

func eventAt(sessionID int64, offset time.Duration, text string) store.RawEventRecord {
	return store.RawEventRecord{
		SessionID: sessionID,
		EventType: store.EventTypeTranscript,
		Timestamp: base.Add(offset),
		Payload: store.TranscriptPayload{
			Transcript:        text,
			ASRConfidence:     0.9,
			SpeakerID:         "self",
			SpeakerConfidence: 0.85,
		},
		PredictedIntent: "memory_candidate",
	}
}

func testSessionLifecycle(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	id := newSession(t, repo)

	got, err := repo.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != store.SessionActive || !got.StartTime.Equal(base) || got.EndTime != nil || got.Notes != "test" {
		t.Errorf("GetSession = %+v", got)
	}

	end := base.Add(time.Minute)
	if err := repo.UpdateSessionStatus(ctx, id, store.SessionPendingReview, &end); err != nil {
		t.Fatalf("UpdateSessionStatus: %v", err)
	}
	if err := repo.UpdateSessionStatus(ctx, id, store.SessionFullyApproved, nil); err != nil {
		t.Fatalf("UpdateSessionStatus(nil end): %v", err)
	}
	got, err = repo.GetSession(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.SessionFullyApproved {
		t.Errorf("Status = %q, want %q", got.Status, store.SessionFullyApproved)
	}
	if got.EndTime == nil || !got.EndTime.Equal(end) {
		t.Errorf("EndTime = %v, want %v (nil update must keep it)", got.EndTime, end)
	}
}

func testRecordSegment(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	sid := newSession(t, repo)

	segID, evID, err := repo.RecordSegment(ctx, segmentAt(sid, 0), eventAt(sid, 0, "buy milk"))
	if err != nil {
		t.Fatalf("RecordSegment: %v", err)
	}
	if segID <= 0 || evID <= 0 {
		t.Fatalf("ids = %d/%d, want > 0", segID, evID)
	}

	segs, err := repo.ListAudioSegments(ctx, sid)
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 1 {
		t.Fatalf("segments = %d, want 1", len(segs))
	}
	if segs[0].RawEventID == nil || *segs[0].RawEventID != evID {
		t.Errorf("RawEventID = %v, want %d", segs[0].RawEventID, evID)
	}
	if !segs[0].StartTime.Equal(base) || segs[0].DurationSec != 0.9 {
		t.Errorf("segment = %+v", segs[0])
	}

	events, err := repo.GetSessionEvents(ctx, sid)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.ID != evID || ev.Payload.AudioSegmentID != segID {
		t.Errorf("event id/payload segment = %d/%d, want %d/%d", ev.ID, ev.Payload.AudioSegmentID, evID, segID)
	}
	if ev.Payload.Transcript != "buy milk" || ev.PredictedIntent != "memory_candidate" || ev.EventType != store.EventTypeTranscript {
		t.Errorf("event = %+v", ev)
	}
}

func testRecordSegmentRollsBack(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	sid := newSession(t, repo)

	// The event references a session that does not exist, so the insert
	// fails after the segment row was written.
	_, _, err := repo.RecordSegment(ctx, segmentAt(sid, 0), eventAt(sid+1_000_000, 0, "x"))
	if err == nil {
		t.Fatal("RecordSegment with dangling session: want error")
	}
	segs, err := repo.ListAudioSegments(ctx, sid)
	if err != nil {
		t.Fatal(err)
	}
	if len(segs) != 0 {
		t.Errorf("segments after failed transaction = %d, want 0", len(segs))
	}
}

func testLinkSegmentOnce(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	sid := newSession(t, repo)

	segID, err := repo.InsertAudioSegment(ctx, segmentAt(sid, 0))
	if err != nil {
		t.Fatal(err)
	}
	evID, err := repo.InsertRawEvent(ctx, eventAt(sid, 0, "note"))
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.LinkSegment(ctx, segID, evID); err != nil {
		t.Fatalf("LinkSegment: %v", err)
	}
	if err := repo.LinkSegment(ctx, segID, evID); !errors.Is(err, store.ErrAlreadyLinked) {
		t.Errorf("second LinkSegment err = %v, want ErrAlreadyLinked", err)
	}
	if err := repo.LinkSegment(ctx, segID+1_000_000, evID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("LinkSegment(missing) err = %v, want ErrNotFound", err)
	}
}

func testEventsOrdered(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	sid := newSession(t, repo)

	offsets := []time.Duration{2 * time.Second, 0, time.Second, 1500 * time.Millisecond}
	for _, off := range offsets {
		if _, err := repo.InsertRawEvent(ctx, eventAt(sid, off, off.String())); err != nil {
			t.Fatal(err)
		}
	}
	events, err := repo.GetSessionEvents(ctx, sid)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != len(offsets) {
		t.Fatalf("events = %d, want %d", len(events), len(offsets))
	}
	for i := 1; i < len(events); i++ {
		if events[i].Timestamp.Before(events[i-1].Timestamp) {
			t.Errorf("event %d at %v precedes event %d at %v", i, events[i].Timestamp, i-1, events[i-1].Timestamp)
		}
	}
}

func testMemoryItems(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	sid := newSession(t, repo)
	evID, err := repo.InsertRawEvent(ctx, eventAt(sid, 0, "buy milk"))
	if err != nil {
		t.Fatal(err)
	}

	item := store.MemoryItemRecord{
		SessionID:          sid,
		SourceEventID:      evID,
		Timestamp:          base,
		Text:               "Buy milk",
		TopicTags:          []string{"shopping"},
		ModalityTags:       []string{"audio"},
		Importance:         0.8,
		PredictedIntent:    "shopping_candidate",
		ApprovalStatus:     store.ApprovalPending,
		SuggestedIssue:     "low_asr_confidence",
		ASRConfidence:      0.4,
		SpeakerConfidence:  0.85,
		ProposerConfidence: 0.4,
	}
	var ids []int64
	for range 3 {
		id, err := repo.InsertMemoryItem(ctx, item)
		if err != nil {
			t.Fatalf("InsertMemoryItem: %v", err)
		}
		ids = append(ids, id)
	}

	got, err := repo.GetMemoryItem(ctx, ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if got.Text != "Buy milk" || len(got.TopicTags) != 1 || got.TopicTags[0] != "shopping" ||
		len(got.ModalityTags) != 1 || got.ModalityTags[0] != "audio" || got.ReviewedAt != nil {
		t.Errorf("GetMemoryItem = %+v", got)
	}

	reviewed := base.Add(time.Hour)
	if err := repo.UpdateMemoryStatus(ctx, ids[0], store.ApprovalApproved, "", reviewed); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpdateMemoryStatus(ctx, ids[1], store.ApprovalRejected, "wrong", reviewed); err != nil {
		t.Fatal(err)
	}

	counts, err := repo.MemoryStatusSummary(ctx, sid)
	if err != nil {
		t.Fatal(err)
	}
	if want := (store.StatusCounts{Pending: 1, Approved: 1, Rejected: 1}); counts != want {
		t.Errorf("MemoryStatusSummary = %+v, want %+v", counts, want)
	}

	items, err := repo.ListMemoryItems(ctx, sid)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 3 {
		t.Fatalf("ListMemoryItems = %d, want 3", len(items))
	}
	rejected := items[1]
	if rejected.ID != ids[1] || rejected.ApprovalStatus != store.ApprovalRejected || rejected.RejectionReason != "wrong" {
		t.Errorf("rejected item = %+v", rejected)
	}
	if rejected.ReviewedAt == nil || !rejected.ReviewedAt.Equal(reviewed) {
		t.Errorf("ReviewedAt = %v, want %v", rejected.ReviewedAt, reviewed)
	}
}

func testAuditTrail(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	sid := newSession(t, repo)

	id, err := repo.LogSupervisedEvent(ctx, store.SupervisedEvent{
		SessionID: sid,
		Category:  store.CategoryRejectedMemory,
		Timestamp: base,
		Metadata:  map[string]any{"memory_id": 1, "reason": "unspecified"},
	})
	if err != nil || id <= 0 {
		t.Errorf("LogSupervisedEvent = %d, %v", id, err)
	}
	id, err = repo.LogMetric(ctx, store.Metric{
		SessionID: sid,
		Timestamp: base,
		Name:      "transcript_count",
		Value:     3,
	})
	if err != nil || id <= 0 {
		t.Errorf("LogMetric = %d, %v", id, err)
	}
	if err := repo.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func testNotFound(t *testing.T, repo store.Repository) {
	ctx := context.Background()
	const missing = 9_000_000_000

	if _, err := repo.GetSession(ctx, missing); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetSession err = %v, want ErrNotFound", err)
	}
	if err := repo.UpdateSessionStatus(ctx, missing, store.SessionRejected, nil); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("UpdateSessionStatus err = %v, want ErrNotFound", err)
	}
	if _, err := repo.GetMemoryItem(ctx, missing); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetMemoryItem err = %v, want ErrNotFound", err)
	}
	if err := repo.UpdateMemoryStatus(ctx, missing, store.ApprovalApproved, "", base); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("UpdateMemoryStatus err = %v, want ErrNotFound", err)
	}
	counts, err := repo.MemoryStatusSummary(ctx, missing)
	if err != nil || counts.Total() != 0 {
		t.Errorf("MemoryStatusSummary(missing) = %+v, %v", counts, err)
	}
}
