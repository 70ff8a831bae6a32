// Package orchestrator turns a session's transcript events into proposed
// memories awaiting review.
//
// The [Proposer] applies deterministic heuristics: every event with a
// non-ignore intent and a non-empty transcript becomes one pending memory.
// Confidence-based issues are attached so a reviewer can see why a proposal
// may be wrong.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/mnemo/internal/observe"
	"github.com/MrWong99/mnemo/internal/pipeline"
	"github.com/MrWong99/mnemo/pkg/store"
)

// ActionAddMemory is the only action type the heuristic proposer emits.
const ActionAddMemory = "add_memory"

// Issue labels attached to low-confidence proposals.
const (
	IssueLowASRConfidence     = "low_asr_confidence"
	IssueLowSpeakerConfidence = "low_speaker_confidence"
)

const (
	minASRConfidence     = 0.5
	minSpeakerConfidence = 0.7

	importanceMemory = 0.6
	importanceAction = 0.8

	// ModalityAudio tags memories proposed from speech.
	ModalityAudio = "audio"
)

// Action is one proposed change to long-term memory.
type Action struct {
	Type            string
	EventID         int64
	Text            string
	Tags            []string
	Importance      float64
	PredictedIntent string
	Issues          []string
	Confidence      float64

	ASRConfidence     float64
	SpeakerConfidence float64
}

// Propose derives actions from events. It is a pure function of its input;
// events are considered in the order given.
func Propose(events []store.RawEventRecord) []Action {
	var actions []Action
	for _, ev := range events {
		intent := ev.PredictedIntent
		if intent == "" {
			intent = pipeline.IntentIgnore
		}
		tr := ev.Payload.Transcript
		if intent == pipeline.IntentIgnore || tr == "" {
			continue
		}

		asr, spk := ev.Payload.ASRConfidence, ev.Payload.SpeakerConfidence
		var issues []string
		if asr < minASRConfidence {
			issues = append(issues, IssueLowASRConfidence)
		}
		if spk < minSpeakerConfidence {
			issues = append(issues, IssueLowSpeakerConfidence)
		}
		importance := importanceAction
		if intent == pipeline.IntentMemory {
			importance = importanceMemory
		}

		actions = append(actions, Action{
			Type:              ActionAddMemory,
			EventID:           ev.ID,
			Text:              Capitalize(tr),
			Tags:              []string{strings.TrimSuffix(intent, "_candidate")},
			Importance:        importance,
			PredictedIntent:   intent,
			Issues:            issues,
			Confidence:        min(asr, spk),
			ASRConfidence:     asr,
			SpeakerConfidence: spk,
		})
	}
	return actions
}

// Capitalize upper-cases the first letter of s and lower-cases the rest.
func Capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError && size <= 1 {
		return strings.ToLower(s)
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

// Option configures a Proposer.
type Option func(*Proposer)

// WithClock overrides the memory timestamp source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(p *Proposer) { p.now = now }
}

// Proposer reads a session's events and persists proposed memories.
type Proposer struct {
	repo store.Repository
	now  func() time.Time
}

// New returns a Proposer backed by repo.
func New(repo store.Repository, opts ...Option) *Proposer {
	p := &Proposer{repo: repo, now: time.Now}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ProposeActions loads the session's events and derives actions from them.
func (p *Proposer) ProposeActions(ctx context.Context, sessionID int64) ([]Action, error) {
	events, err := p.repo.GetSessionEvents(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: propose for session %d: %w", sessionID, err)
	}
	return Propose(events), nil
}

// PersistMemories stores each action as a pending memory and returns the new
// ids in order. Actions whose source event does not belong to the session
// are skipped.
func (p *Proposer) PersistMemories(ctx context.Context, sessionID int64, actions []Action) ([]int64, error) {
	events, err := p.repo.GetSessionEvents(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: persist for session %d: %w", sessionID, err)
	}
	known := make(map[int64]struct{}, len(events))
	for _, ev := range events {
		known[ev.ID] = struct{}{}
	}

	log := observe.Logger(ctx)
	ids := make([]int64, 0, len(actions))
	for _, a := range actions {
		if _, ok := known[a.EventID]; !ok {
			log.Warn("orchestrator: skipping action for unknown event", "session_id", sessionID, "event_id", a.EventID)
			continue
		}
		id, err := p.repo.InsertMemoryItem(ctx, store.MemoryItemRecord{
			SessionID:          sessionID,
			SourceEventID:      a.EventID,
			Timestamp:          p.now(),
			Text:               a.Text,
			TopicTags:          a.Tags,
			ModalityTags:       []string{ModalityAudio},
			Importance:         a.Importance,
			PredictedIntent:    a.PredictedIntent,
			ApprovalStatus:     store.ApprovalPending,
			SuggestedIssue:     strings.Join(a.Issues, ","),
			ASRConfidence:      a.ASRConfidence,
			SpeakerConfidence:  a.SpeakerConfidence,
			ProposerConfidence: a.Confidence,
		})
		if err != nil {
			return ids, fmt.Errorf("orchestrator: insert memory for event %d: %w", a.EventID, err)
		}
		ids = append(ids, id)
	}
	log.Info("memories proposed", "session_id", sessionID, "count", len(ids))
	return ids, nil
}
