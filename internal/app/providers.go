package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrWong99/mnemo/internal/config"
	"github.com/MrWong99/mnemo/internal/observe"
	"github.com/MrWong99/mnemo/internal/resilience"
	"github.com/MrWong99/mnemo/pkg/recognize"
	"github.com/MrWong99/mnemo/pkg/recognize/heuristic"
	oairecognize "github.com/MrWong99/mnemo/pkg/recognize/openai"
	"github.com/MrWong99/mnemo/pkg/recognize/whisper"
)

// builtinProviders lists the implementations registered by
// [RegisterBuiltinProviders]. Used for startup logging.
var builtinProviders = map[string][]string{
	"transcriber": {"heuristic", "whisper", "whisper-native", "openai"},
	"speaker":     {"heuristic"},
}

// RegisterBuiltinProviders wires the built-in recognizer factories into reg.
// Settings that are not per provider, such as the ASR language and the
// self-match threshold, come from cfg.
func RegisterBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	reg.RegisterTranscriber("heuristic", func(config.ProviderEntry) (recognize.Transcriber, error) {
		return heuristic.NewTranscriber(), nil
	})

	reg.RegisterTranscriber("whisper", func(entry config.ProviderEntry) (recognize.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := language(entry, cfg); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterTranscriber("whisper-native", func(entry config.ProviderEntry) (recognize.Transcriber, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := language(entry, cfg); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterTranscriber("openai", func(entry config.ProviderEntry) (recognize.Transcriber, error) {
		var opts []oairecognize.Option
		if entry.BaseURL != "" {
			opts = append(opts, oairecognize.WithBaseURL(entry.BaseURL))
		}
		if lang := language(entry, cfg); lang != "" {
			opts = append(opts, oairecognize.WithLanguage(lang))
		}
		return oairecognize.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSpeaker("heuristic", func(config.ProviderEntry) (recognize.SpeakerIdentifier, error) {
		return heuristic.NewSpeakerIdentifier(cfg.Audio.SpeakerID.SelfMatchThreshold), nil
	})

	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// recognizers holds the resilient recognition stages and anything that must
// be closed with them.
type recognizers struct {
	transcriber *resilience.TranscriberChain
	speaker     *resilience.SpeakerChain
	closers     []func() error
}

// buildRecognizers instantiates the configured providers and wraps them in
// breaker-guarded failover chains.
func buildRecognizers(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*recognizers, error) {
	bc := breakerConfig(cfg.Providers.Breaker, m)
	rs := &recognizers{}

	primary, err := reg.CreateTranscriber(cfg.Providers.Transcriber)
	if err != nil {
		return nil, fmt.Errorf("create transcriber %q: %w", cfg.Providers.Transcriber.Name, err)
	}
	rs.track(primary)
	rs.transcriber = resilience.NewTranscriberChain(cfg.Providers.Transcriber.Name, primary, bc)
	slog.Info("provider created", "kind", "transcriber", "name", cfg.Providers.Transcriber.Name)

	seen := map[string]int{cfg.Providers.Transcriber.Name: 1}
	for i, entry := range cfg.Providers.TranscriberFallbacks {
		tr, err := reg.CreateTranscriber(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("skipping unknown fallback transcriber", "index", i, "name", entry.Name)
			continue
		}
		if err != nil {
			rs.close()
			return nil, fmt.Errorf("create fallback transcriber %d %q: %w", i, entry.Name, err)
		}
		rs.track(tr)
		name := entry.Name
		if n := seen[name]; n > 0 {
			name = fmt.Sprintf("%s#%d", name, n+1)
		}
		seen[entry.Name]++
		rs.transcriber.Add(name, tr)
		slog.Info("provider created", "kind", "transcriber_fallback", "name", name)
	}

	sp, err := reg.CreateSpeaker(cfg.Providers.Speaker)
	if err != nil {
		rs.close()
		return nil, fmt.Errorf("create speaker identifier %q: %w", cfg.Providers.Speaker.Name, err)
	}
	rs.track(sp)
	rs.speaker = resilience.NewSpeakerChain(cfg.Providers.Speaker.Name, sp, bc)
	slog.Info("provider created", "kind", "speaker", "name", cfg.Providers.Speaker.Name)
	return rs, nil
}

func (rs *recognizers) track(v any) {
	if c, ok := v.(io.Closer); ok {
		rs.closers = append(rs.closers, c.Close)
	}
}

func (rs *recognizers) close() {
	for _, c := range rs.closers {
		if err := c(); err != nil {
			slog.Warn("close provider", "err", err)
		}
	}
}

func breakerConfig(bc config.BreakerConfig, m *observe.Metrics) resilience.BreakerConfig {
	return resilience.BreakerConfig{
		MaxFailures: bc.MaxFailures,
		Cooldown:    bc.Cooldown,
		Probes:      bc.Probes,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("provider circuit breaker changed state", "provider", name, "from", from.String(), "to", to.String())
			m.RecordBreakerTransition(context.Background(), name, to.String())
		},
	}
}

// language returns the provider's language option, falling back to the ASR
// language.
func language(entry config.ProviderEntry, cfg *config.Config) string {
	if lang := optString(entry.Options, "language"); lang != "" {
		return lang
	}
	return cfg.Audio.ASR.Language
}

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
