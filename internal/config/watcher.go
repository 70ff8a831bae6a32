package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often [Watcher.Run] polls the config file.
const DefaultWatchInterval = 5 * time.Second

// Change is one accepted edit of the watched config file.
type Change struct {
	Old, New *Config

	// Diff is Diff(Old, New). It is never empty: edits without a runtime
	// effect, such as reworded comments or reordered keys, are absorbed by
	// the watcher.
	Diff ConfigDiff
}

// Watcher polls a config file and hands every edit that validates and has a
// runtime effect to its apply function. An edit that fails validation is
// logged and skipped, and the last valid config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	apply    func(Change)

	mu      sync.Mutex
	current *Config
	mtime   time.Time
	hash    [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default: [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and returns a watcher for it. Polling starts with
// [Watcher.Run]. apply may be nil.
func NewWatcher(path string, apply func(Change), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: DefaultWatchInterval, apply: apply}
	for _, opt := range opts {
		opt(w)
	}
	cfg, hash, mtime, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.hash, w.mtime = cfg, hash, mtime
	return w, nil
}

// Current returns the most recently accepted config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls the file until ctx is done. It always returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if c, ok := w.check(); ok && w.apply != nil {
				w.apply(c)
			}
		}
	}
}

// check reports the pending change, if any, and makes it current.
func (w *Watcher) check() (Change, bool) {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return Change{}, false
	}
	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.mtime)
	w.mu.Unlock()
	if unchanged {
		return Change{}, false
	}

	cfg, hash, mtime, err := w.load()
	if err != nil {
		// Remember the rejected edit so it is reported once.
		w.mu.Lock()
		w.mtime = info.ModTime()
		w.mu.Unlock()
		slog.Warn("config watcher: edit rejected, keeping previous config", "path", w.path, "err", err)
		return Change{}, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.mtime = mtime
	if hash == w.hash {
		return Change{}, false
	}
	w.hash = hash
	c := Change{Old: w.current, New: cfg, Diff: Diff(w.current, cfg)}
	w.current = cfg
	if c.Diff.Empty() {
		slog.Debug("config watcher: edit has no runtime effect", "path", w.path)
		return Change{}, false
	}
	slog.Info("config watcher: configuration reloaded",
		"path", w.path,
		"log_level_changed", c.Diff.LogLevelChanged,
		"vad_changed", c.Diff.VADChanged,
		"restart_required", c.Diff.RestartRequired,
	)
	return c, true
}

// load reads, hashes and validates the file.
func (w *Watcher) load() (*Config, [sha256.Size]byte, time.Time, error) {
	var zero [sha256.Size]byte
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	return cfg, sha256.Sum256(data), info.ModTime(), nil
}
