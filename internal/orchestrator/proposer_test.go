package orchestrator_test

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/mnemo/internal/orchestrator"
	"github.com/MrWong99/mnemo/pkg/store"
	"github.com/MrWong99/mnemo/pkg/store/sqlite"
)

func event(id int64, transcript, intent string, asr, spk float64) store.RawEventRecord {
	return store.RawEventRecord{
		ID:              id,
		EventType:       store.EventTypeTranscript,
		PredictedIntent: intent,
		Payload: store.TranscriptPayload{
			Transcript:        transcript,
			ASRConfidence:     asr,
			SpeakerConfidence: spk,
		},
	}
}

func TestCapitalize(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"", ""},
		{"buy MILK", "Buy milk"},
		{"CALL Mom", "Call mom"},
		{"ärger im büro", "Ärger im büro"},
		{"42 things", "42 things"},
	}
	for _, tc := range tests {
		if got := orchestrator.Capitalize(tc.in); got != tc.want {
			t.Errorf("Capitalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPropose(t *testing.T) {
	t.Parallel()

	events := []store.RawEventRecord{
		event(1, "buy MILK", "shopping_candidate", 0.9, 0.85),
		event(2, "", "memory_candidate", 0.9, 0.9),
		event(3, "mumble", "ignore", 0.9, 0.9),
		event(4, "the keys are upstairs", "memory_candidate", 0.4, 0.6),
		event(5, "call the dentist", "todo_candidate", 0.7, 0.3),
		event(6, "no intent stored", "", 0.9, 0.9),
	}
	got := orchestrator.Propose(events)
	if len(got) != 3 {
		t.Fatalf("actions = %d, want 3: %+v", len(got), got)
	}

	tests := []struct {
		idx        int
		eventID    int64
		text       string
		tag        string
		importance float64
		issues     []string
		confidence float64
	}{
		{0, 1, "Buy milk", "shopping", 0.8, nil, 0.85},
		{1, 4, "The keys are upstairs", "memory", 0.6, []string{"low_asr_confidence", "low_speaker_confidence"}, 0.4},
		{2, 5, "Call the dentist", "todo", 0.8, []string{"low_speaker_confidence"}, 0.3},
	}
	for _, tc := range tests {
		a := got[tc.idx]
		if a.Type != orchestrator.ActionAddMemory || a.EventID != tc.eventID || a.Text != tc.text {
			t.Errorf("action %d = %+v", tc.idx, a)
		}
		if len(a.Tags) != 1 || a.Tags[0] != tc.tag {
			t.Errorf("action %d tags = %v, want [%s]", tc.idx, a.Tags, tc.tag)
		}
		if a.Importance != tc.importance {
			t.Errorf("action %d importance = %v, want %v", tc.idx, a.Importance, tc.importance)
		}
		if !slices.Equal(a.Issues, tc.issues) {
			t.Errorf("action %d issues = %v, want %v", tc.idx, a.Issues, tc.issues)
		}
		if a.Confidence != tc.confidence {
			t.Errorf("action %d confidence = %v, want %v", tc.idx, a.Confidence, tc.confidence)
		}
	}
}

func TestProposer_PersistMemories(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo, err := sqlite.Open(ctx, sqlite.MemoryDSN)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	mv, err := repo.RegisterModelVersion(ctx, store.ModelVersion{VersionTag: "v0.1.0"})
	if err != nil {
		t.Fatal(err)
	}
	sid, err := repo.StartSession(ctx, store.Session{ModelVersionID: mv, StartTime: now, Status: store.SessionActive})
	if err != nil {
		t.Fatal(err)
	}
	for i, ev := range []store.RawEventRecord{
		event(0, "buy bread", "shopping_candidate", 0.45, 0.9),
		event(0, "", "ignore", 0, 0),
	} {
		ev.SessionID = sid
		ev.Timestamp = now.Add(time.Duration(i) * time.Second)
		if _, err := repo.InsertRawEvent(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	p := orchestrator.New(repo, orchestrator.WithClock(func() time.Time { return now }))
	actions, err := p.ProposeActions(ctx, sid)
	if err != nil {
		t.Fatal(err)
	}
	if len(actions) != 1 {
		t.Fatalf("actions = %d, want 1", len(actions))
	}
	// An action for an event outside the session is skipped.
	stray := actions[0]
	stray.EventID = 9_999
	ids, err := p.PersistMemories(ctx, sid, append(actions, stray))
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 {
		t.Fatalf("ids = %v, want one", ids)
	}

	m, err := repo.GetMemoryItem(ctx, ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if m.Text != "Buy bread" || m.ApprovalStatus != store.ApprovalPending || m.PredictedIntent != "shopping_candidate" {
		t.Errorf("memory = %+v", m)
	}
	if !slices.Equal(m.ModalityTags, []string{"audio"}) || !slices.Equal(m.TopicTags, []string{"shopping"}) {
		t.Errorf("tags = %v / %v", m.TopicTags, m.ModalityTags)
	}
	if m.SuggestedIssue != "low_asr_confidence" || m.ProposerConfidence != 0.45 || m.ASRConfidence != 0.45 || m.SpeakerConfidence != 0.9 {
		t.Errorf("memory confidences = %+v", m)
	}
	if !m.Timestamp.Equal(now) {
		t.Errorf("timestamp = %v, want %v", m.Timestamp, now)
	}

	counts, err := repo.MemoryStatusSummary(ctx, sid)
	if err != nil {
		t.Fatal(err)
	}
	if counts.Pending != 1 || counts.Total() != 1 {
		t.Errorf("counts = %+v", counts)
	}
}
