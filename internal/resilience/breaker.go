// Package resilience guards recognition backends against cascading failures.
//
// [Breaker] is a three-state circuit breaker (closed, open, half-open).
// [Chain] orders several interchangeable backends behind per-backend breakers
// so a failing primary is bypassed in favour of the next healthy entry.
// [TranscriberChain] and [SpeakerChain] adapt a Chain to the recognize
// interfaces so the pipeline never needs to know failover exists.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrOpen] until the cooldown elapses.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through. A probe
	// failure re-opens the breaker; enough successes close it.
	StateHalfOpen
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero values select defaults.
type BreakerConfig struct {
	// Name labels log lines and state-change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures that opens a closed
	// breaker. Default: 5.
	MaxFailures int

	// Cooldown is how long an open breaker waits before probing. Default: 30s.
	Cooldown time.Duration

	// Probes is the number of successful half-open calls required to close
	// the breaker again. Default: 3.
	Probes int

	// OnStateChange, if set, is called after every transition. It runs with
	// the breaker's lock released.
	OnStateChange func(name string, from, to State)
}

// Breaker implements the circuit breaker pattern around fallible calls.
//
// Errors caused by the caller's own context (cancellation or deadline) are
// passed through without counting as backend failures.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	inFlight int
	passed   int
}

// NewBreaker returns a closed [Breaker].
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 3
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Name returns the configured label.
func (b *Breaker) Name() string { return b.cfg.Name }

// Do runs fn when the breaker admits the call and records its outcome.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	probe, transition, err := b.admit()
	b.notify(transition)
	if err != nil {
		return err
	}

	callErr := fn(ctx)
	if callErr != nil && ctx.Err() != nil && errors.Is(callErr, ctx.Err()) {
		b.release(probe)
		return callErr
	}

	b.notify(b.record(probe, callErr))
	return callErr
}

type transition struct {
	from, to State
	ok       bool
}

func (b *Breaker) admit() (probe bool, t transition, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false, t, ErrOpen
		}
		t = b.move(StateHalfOpen)
		b.inFlight, b.passed = 0, 0
	}
	if b.state == StateHalfOpen {
		if b.inFlight+b.passed >= b.cfg.Probes {
			return false, t, ErrOpen
		}
		b.inFlight++
		return true, t, nil
	}
	return false, t, nil
}

func (b *Breaker) release(probe bool) {
	if !probe {
		return
	}
	b.mu.Lock()
	if b.inFlight > 0 {
		b.inFlight--
	}
	b.mu.Unlock()
}

func (b *Breaker) record(probe bool, callErr error) transition {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe && b.inFlight > 0 {
		b.inFlight--
	}

	if callErr != nil {
		if probe || b.state == StateHalfOpen {
			b.openedAt = b.now()
			return b.move(StateOpen)
		}
		b.failures++
		if b.state == StateClosed && b.failures >= b.cfg.MaxFailures {
			b.openedAt = b.now()
			slog.Warn("circuit breaker opened", "name", b.cfg.Name, "consecutive_failures", b.failures)
			return b.move(StateOpen)
		}
		return transition{}
	}

	if probe && b.state == StateHalfOpen {
		b.passed++
		if b.passed >= b.cfg.Probes {
			b.failures = 0
			return b.move(StateClosed)
		}
		return transition{}
	}
	b.failures = 0
	return transition{}
}

// move changes state. Must be called with b.mu held.
func (b *Breaker) move(to State) transition {
	from := b.state
	b.state = to
	if from == to {
		return transition{}
	}
	slog.Info("circuit breaker state change", "name", b.cfg.Name, "from", from, "to", to)
	return transition{from: from, to: to, ok: true}
}

func (b *Breaker) notify(t transition) {
	if t.ok && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, t.from, t.to)
	}
}

// State reports the current state. An open breaker whose cooldown has elapsed
// reports [StateHalfOpen]; the transition itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	t := b.move(StateClosed)
	b.failures, b.inFlight, b.passed = 0, 0, 0
	b.mu.Unlock()
	b.notify(t)
}
