package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errBackend = errors.New("backend error")

// fakeClock lets tests step breaker time manually.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(cfg BreakerConfig) (*Breaker, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b := NewBreaker(cfg)
	b.now = clk.now
	return b, clk
}

func fail(context.Context) error { return errBackend }
func ok(context.Context) error   { return nil }

func TestNewBreaker_Defaults(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{Name: "whisper"})
	if b.cfg.MaxFailures != 5 || b.cfg.Cooldown != 30*time.Second || b.cfg.Probes != 3 {
		t.Errorf("defaults = %+v", b.cfg)
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
	if b.Name() != "whisper" {
		t.Errorf("Name = %q", b.Name())
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, _ := newTestBreaker(BreakerConfig{MaxFailures: 3})

	for range 3 {
		if err := b.Do(ctx, fail); !errors.Is(err, errBackend) {
			t.Fatalf("err = %v, want backend error", err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	called := false
	err := b.Do(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrOpen) || called {
		t.Errorf("open breaker: err = %v called = %v", err, called)
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, _ := newTestBreaker(BreakerConfig{MaxFailures: 3})

	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, ok)
	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, fail)
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, clk := newTestBreaker(BreakerConfig{MaxFailures: 1, Cooldown: time.Minute, Probes: 2})

	_ = b.Do(ctx, fail)
	clk.advance(59 * time.Second)
	if b.State() != StateOpen {
		t.Fatalf("state before cooldown = %v, want open", b.State())
	}
	clk.advance(time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("state after cooldown = %v, want half-open", b.State())
	}

	if err := b.Do(ctx, ok); err != nil {
		t.Fatal(err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("after one probe = %v, want half-open", b.State())
	}
	if err := b.Do(ctx, ok); err != nil {
		t.Fatal(err)
	}
	if b.State() != StateClosed {
		t.Errorf("after probes = %v, want closed", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, clk := newTestBreaker(BreakerConfig{MaxFailures: 1, Cooldown: time.Second})

	_ = b.Do(ctx, fail)
	clk.advance(time.Second)
	_ = b.Do(ctx, fail)
	if b.State() != StateOpen {
		t.Errorf("state = %v, want open", b.State())
	}
	if err := b.Do(ctx, ok); !errors.Is(err, ErrOpen) {
		t.Errorf("err = %v, want ErrOpen", err)
	}
}

func TestBreaker_ContextErrorsDoNotCount(t *testing.T) {
	t.Parallel()
	b, _ := newTestBreaker(BreakerConfig{MaxFailures: 1})

	ctx, cancel := context.WithCancel(context.Background())
	err := b.Do(ctx, func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}

	if err := b.Do(ctx, ok); !errors.Is(err, context.Canceled) {
		t.Errorf("pre-cancelled Do err = %v", err)
	}
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var (
		mu  sync.Mutex
		got []string
	)
	b, clk := newTestBreaker(BreakerConfig{
		Name:        "stt",
		MaxFailures: 1,
		Cooldown:    time.Second,
		Probes:      1,
		OnStateChange: func(name string, from, to State) {
			mu.Lock()
			got = append(got, name+":"+from.String()+"->"+to.String())
			mu.Unlock()
		},
	})

	_ = b.Do(ctx, fail)
	clk.advance(time.Second)
	_ = b.Do(ctx, ok)

	want := []string{"stt:closed->open", "stt:open->half-open", "stt:half-open->closed"}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b, _ := newTestBreaker(BreakerConfig{MaxFailures: 1, Cooldown: time.Hour})
	_ = b.Do(ctx, fail)
	b.Reset()
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
	if err := b.Do(ctx, ok); err != nil {
		t.Errorf("Do after reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.s), got, tt.want)
		}
	}
}
