package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/mnemo/pkg/audio"
	"github.com/MrWong99/mnemo/pkg/recognize"
	"github.com/MrWong99/mnemo/pkg/recognize/mock"
)

func TestCall_PrimaryWins(t *testing.T) {
	t.Parallel()
	c := NewChain("a", "a", BreakerConfig{})
	c.Add("b", "b")

	got, err := Call(context.Background(), c, func(_ context.Context, v string) (string, error) {
		return v, nil
	})
	if err != nil || got != "a" {
		t.Errorf("Call = %q, %v; want a", got, err)
	}
	if names := c.Names(); len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Names = %v", names)
	}
}

func TestCall_FallsBack(t *testing.T) {
	t.Parallel()
	c := NewChain("a", "a", BreakerConfig{})
	c.Add("b", "b")

	got, err := Call(context.Background(), c, func(_ context.Context, v string) (string, error) {
		if v == "a" {
			return "", errBackend
		}
		return v, nil
	})
	if err != nil || got != "b" {
		t.Errorf("Call = %q, %v; want b", got, err)
	}
}

func TestCall_Exhausted(t *testing.T) {
	t.Parallel()
	c := NewChain("a", 1, BreakerConfig{})
	c.Add("b", 2)

	_, err := Call(context.Background(), c, func(context.Context, int) (int, error) {
		return 0, errBackend
	})
	if !errors.Is(err, ErrExhausted) {
		t.Errorf("err = %v, want ErrExhausted", err)
	}
	if !errors.Is(err, errBackend) {
		t.Errorf("err = %v, want wrapped backend error", err)
	}
}

func TestCall_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()
	c := NewChain("a", "a", BreakerConfig{MaxFailures: 1, Cooldown: time.Hour})
	c.Add("b", "b")

	var primaryCalls int
	fn := func(_ context.Context, v string) (string, error) {
		if v == "a" {
			primaryCalls++
			return "", errBackend
		}
		return v, nil
	}
	for range 3 {
		if _, err := Call(context.Background(), c, fn); err != nil {
			t.Fatal(err)
		}
	}
	if primaryCalls != 1 {
		t.Errorf("primary called %d times, want 1", primaryCalls)
	}
	if st := c.States(); st["a"] != StateOpen || st["b"] != StateClosed {
		t.Errorf("States = %v", st)
	}
}

func TestCall_CancelledContextStops(t *testing.T) {
	t.Parallel()
	c := NewChain("a", "a", BreakerConfig{})
	c.Add("b", "b")

	ctx, cancel := context.WithCancel(context.Background())
	var visited []string
	_, err := Call(ctx, c, func(ctx context.Context, v string) (string, error) {
		visited = append(visited, v)
		cancel()
		return "", ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if len(visited) != 1 {
		t.Errorf("visited = %v, want only primary", visited)
	}
}

func TestTranscriberChain(t *testing.T) {
	t.Parallel()
	primary := &mock.Transcriber{Err: errBackend}
	backup := &mock.Transcriber{Result: recognize.Transcript{Text: "call mom", Confidence: 0.9}}

	tc := NewTranscriberChain("whisper", primary, BreakerConfig{})
	tc.Add("heuristic", backup)

	seg := audio.Segment{{Samples: []float32{0.5}, SampleRate: 16000}}
	got, err := tc.Transcribe(context.Background(), seg)
	if err != nil {
		t.Fatal(err)
	}
	if got.Text != "call mom" {
		t.Errorf("Text = %q", got.Text)
	}
	if primary.CallCount() != 1 || backup.CallCount() != 1 {
		t.Errorf("calls = %d/%d, want 1/1", primary.CallCount(), backup.CallCount())
	}
	if len(tc.States()) != 2 {
		t.Errorf("States = %v", tc.States())
	}
}

func TestSpeakerChain(t *testing.T) {
	t.Parallel()
	primary := &mock.SpeakerIdentifier{Err: errBackend}
	backup := &mock.SpeakerIdentifier{Result: recognize.Speaker{Label: "self", Confidence: 0.85}}

	sc := NewSpeakerChain("remote", primary, BreakerConfig{})
	sc.Add("heuristic", backup)

	seg := audio.Segment{{Samples: []float32{0.5}, SampleRate: 16000}}
	got, err := sc.IdentifySpeaker(context.Background(), seg)
	if err != nil {
		t.Fatal(err)
	}
	if got.Label != "self" {
		t.Errorf("Label = %q", got.Label)
	}
}
