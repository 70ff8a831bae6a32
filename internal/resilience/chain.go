package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrExhausted is returned when every entry of a [Chain] failed or was
// skipped because its breaker was open.
var ErrExhausted = errors.New("resilience: all backends failed")

// link pairs a backend with its breaker.
type link[T any] struct {
	name    string
	backend T
	breaker *Breaker
}

// Chain tries interchangeable backends in registration order. Each backend
// has its own [Breaker] built from the shared config.
type Chain[T any] struct {
	cfg BreakerConfig

	mu    sync.RWMutex
	links []link[T]
}

// NewChain returns a Chain whose first entry is primary.
func NewChain[T any](name string, primary T, cfg BreakerConfig) *Chain[T] {
	c := &Chain[T]{cfg: cfg}
	c.Add(name, primary)
	return c
}

// Add appends a fallback backend.
func (c *Chain[T]) Add(name string, backend T) {
	cfg := c.cfg
	cfg.Name = name
	c.mu.Lock()
	c.links = append(c.links, link[T]{name: name, backend: backend, breaker: NewBreaker(cfg)})
	c.mu.Unlock()
}

// Names lists the backends in the order they are tried.
func (c *Chain[T]) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, len(c.links))
	for i, l := range c.links {
		names[i] = l.name
	}
	return names
}

// States reports each backend's breaker state keyed by name.
func (c *Chain[T]) States() map[string]State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]State, len(c.links))
	for _, l := range c.links {
		out[l.name] = l.breaker.State()
	}
	return out
}

func (c *Chain[T]) snapshot() []link[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]link[T](nil), c.links...)
}

// Call runs fn against each backend of c until one succeeds and returns its
// result. A cancelled ctx stops the walk immediately.
func Call[T, R any](ctx context.Context, c *Chain[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero R
		errs []error
	)
	for _, l := range c.snapshot() {
		var out R
		err := l.breaker.Do(ctx, func(ctx context.Context) error {
			var err error
			out, err = fn(ctx, l.backend)
			return err
		})
		if err == nil {
			return out, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		if errors.Is(err, ErrOpen) {
			slog.Debug("skipping backend, circuit open", "backend", l.name)
		} else {
			slog.Warn("backend failed, trying next", "backend", l.name, "error", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", l.name, err))
	}
	return zero, fmt.Errorf("%w: %w", ErrExhausted, errors.Join(errs...))
}
