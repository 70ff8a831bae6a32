// Package app wires all mnemo subsystems into a running application.
//
// New opens the repository, builds the recognition providers and the session
// runner. Run captures live audio into one session until its context ends.
// Replay processes a WAV file as a batch session. Shutdown tears everything
// down in order.
//
// For testing, inject doubles via functional options (WithRepository,
// WithRegistry, WithDeviceBackend, ...). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/mnemo/internal/capture/device"
	"github.com/MrWong99/mnemo/internal/config"
	"github.com/MrWong99/mnemo/internal/health"
	"github.com/MrWong99/mnemo/internal/observe"
	"github.com/MrWong99/mnemo/internal/orchestrator"
	"github.com/MrWong99/mnemo/internal/pipeline"
	"github.com/MrWong99/mnemo/internal/resilience"
	"github.com/MrWong99/mnemo/internal/session"
	"github.com/MrWong99/mnemo/pkg/store"
	"github.com/MrWong99/mnemo/pkg/store/postgres"
	"github.com/MrWong99/mnemo/pkg/store/sqlite"
)

// DatabaseFile is the SQLite database name under the storage root.
const DatabaseFile = "mnemo.db"

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	repo     store.Repository
	registry *config.Registry
	metrics  *observe.Metrics
	backend  device.Backend
	level    *slog.LevelVar
	metricsH http.Handler
	now      func() time.Time

	recognizers *recognizers
	proposer    *orchestrator.Proposer
	runner      *session.Runner
	watcher     *config.Watcher

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRepository injects a repository instead of opening one from config.
// The caller keeps ownership; Shutdown does not close it.
func WithRepository(r store.Repository) Option {
	return func(a *App) { a.repo = r }
}

// WithRegistry injects a provider registry instead of one holding the
// built-in providers.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithMetrics injects the metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithDeviceBackend injects the audio host backend used for local capture.
func WithDeviceBackend(b device.Backend) Option {
	return func(a *App) { a.backend = b }
}

// WithLogLevel hands the app the level variable of the process logger so a
// config reload can change verbosity.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithMetricsHandler replaces the /metrics handler. Default: promhttp.Handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsH = h }
}

// WithClock overrides the time source for sessions, reviews and replays.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.backend == nil {
		a.backend = device.DefaultBackend()
	}
	if a.metricsH == nil {
		a.metricsH = promhttp.Handler()
	}
	if a.registry == nil {
		a.registry = config.NewRegistry()
		RegisterBuiltinProviders(a.registry, cfg)
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	rs, err := buildRecognizers(cfg, a.registry, a.metrics)
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init providers: %w", err)
	}
	a.recognizers = rs
	a.closers = append(a.closers, rs.closers...)

	if err := a.initSession(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init session: %w", err)
	}
	return a, nil
}

// initStore opens the configured repository unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.repo != nil {
		return nil
	}
	repo, err := OpenRepository(ctx, a.cfg)
	if err != nil {
		return err
	}
	a.repo = repo
	a.closers = append(a.closers, repo.Close)
	return nil
}

// OpenRepository opens the repository selected by cfg.Storage. The caller
// must Close it.
func OpenRepository(ctx context.Context, cfg *config.Config) (store.Repository, error) {
	if cfg.Storage.Backend == config.BackendPostgres {
		s, err := postgres.NewStore(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, err
		}
		slog.Info("repository opened", "backend", "postgres")
		return s, nil
	}
	path := filepath.Join(cfg.Storage.Root, DatabaseFile)
	s, err := sqlite.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	slog.Info("repository opened", "backend", "sqlite", "path", path)
	return s, nil
}

// initSession builds the pipeline, proposer and runner.
func (a *App) initSession(ctx context.Context) error {
	pipe, err := a.newPipeline(a.cfg.Audio.VAD)
	if err != nil {
		return err
	}
	a.proposer = orchestrator.New(a.repo, orchestrator.WithClock(a.now))
	a.runner, err = session.NewRunner(ctx, a.repo, pipe, a.proposer, session.ModelInfo{
		ASRModel:     a.cfg.Audio.ASR.Model,
		SpeakerModel: a.cfg.Audio.SpeakerID.Model,
		Config:       snapshot(a.cfg),
	}, session.WithRunnerMetrics(a.metrics), session.WithRunnerClock(a.now))
	return err
}

func (a *App) newPipeline(v config.VADConfig) (*pipeline.Pipeline, error) {
	return pipeline.New(pipeline.Config{
		VAD:         v.Detector(),
		SampleRate:  a.cfg.Audio.Capture.SampleRateHz,
		StorageRoot: a.cfg.Storage.Root,
	}, a.repo, a.recognizers.transcriber, a.recognizers.speaker, pipeline.WithMetrics(a.metrics))
}

// Repository returns the repository the app writes to.
func (a *App) Repository() store.Repository { return a.repo }

// WatchConfig polls the config file at path and hands every effective edit
// to [App.ApplyChange]. [App.Run] runs the watcher alongside capture; the
// returned watcher may also be run on its own.
func (a *App) WatchConfig(path string, opts ...config.WatcherOption) (*config.Watcher, error) {
	w, err := config.NewWatcher(path, a.ApplyChange, opts...)
	if err != nil {
		return nil, err
	}
	a.watcher = w
	return w, nil
}

// ApplyChange applies the hot-reloadable part of a config edit. New VAD
// parameters build a pipeline that the runner uses from the next session
// on; the log level applies immediately. Other changes are logged as
// requiring a restart.
func (a *App) ApplyChange(c config.Change) {
	d := c.Diff
	if d.VADChanged {
		pipe, err := a.newPipeline(d.NewVAD)
		if err != nil {
			slog.Warn("ignoring VAD change", "err", err)
		} else {
			a.runner.SetPipeline(pipe)
			slog.Info("VAD settings changed, applied from the next session",
				"threshold_db", d.NewVAD.EnergyThresholdDB,
				"min_speech_ms", d.NewVAD.MinSpeechDurationMs,
				"padding_ms", d.NewVAD.PaddingDurationMs)
		}
	}
	// Last, so an observed level change implies the pipeline swap above.
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.SlogLevel())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	for _, section := range d.RestartRequired {
		slog.Warn("config change requires a restart to take effect", "section", section)
	}
}

// AdminHandler serves /healthz, /readyz and /metrics wrapped in the
// telemetry middleware.
func (a *App) AdminHandler() http.Handler {
	mux := http.NewServeMux()
	health.New(
		health.PingChecker("store", a.repo),
		health.Checker{Name: "transcriber", Check: func(context.Context) error {
			return allOpen(a.recognizers.transcriber.States())
		}},
		health.Checker{Name: "speaker", Check: func(context.Context) error {
			return allOpen(a.recognizers.speaker.States())
		}},
	).Register(mux)
	mux.Handle("GET "+observe.RouteMetrics, a.metricsH)
	return observe.Middleware(a.metrics, observe.AdminRoutes...)(mux)
}

// allOpen fails when no backend of a chain would accept a call.
func allOpen(states map[string]resilience.State) error {
	for _, s := range states {
		if s != resilience.StateOpen {
			return nil
		}
	}
	return errors.New("all circuit breakers open")
}

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c()
	}
}

// snapshot returns a copy of cfg with credentials removed, for storing with
// the model version.
func snapshot(cfg *config.Config) config.Config {
	c := *cfg
	if c.Storage.PostgresDSN != "" {
		c.Storage.PostgresDSN = "redacted"
	}
	c.Providers.Transcriber.APIKey = redact(c.Providers.Transcriber.APIKey)
	c.Providers.Speaker.APIKey = redact(c.Providers.Speaker.APIKey)
	c.Providers.TranscriberFallbacks = append([]config.ProviderEntry(nil), cfg.Providers.TranscriberFallbacks...)
	for i := range c.Providers.TranscriberFallbacks {
		c.Providers.TranscriberFallbacks[i].APIKey = redact(c.Providers.TranscriberFallbacks[i].APIKey)
	}
	return c
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "redacted"
}
