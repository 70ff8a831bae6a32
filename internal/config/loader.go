package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"transcriber": {"heuristic", "whisper", "whisper-native", "openai"},
	"speaker":     {"heuristic"},
}

// Default values. They mirror the reference deployment: 16 kHz mono capture
// in 100 ms hardware buffers and 30 ms analysis frames.
const (
	DefaultSampleRateHz      = 16000
	DefaultBufferSizeBytes   = 3200
	DefaultQueueSize         = 256
	DefaultEnergyThresholdDB = -45
	DefaultFrameDurationMs   = 30
	DefaultMinSpeechMs       = 300
	DefaultPaddingMs         = 300
	DefaultStorageRoot       = "./data"
	DefaultReplayWindowSec   = 300
	DefaultNetworkHost       = "0.0.0.0"
	DefaultNetworkPort       = 8765
	DefaultMaxMessageBytes   = 10 << 20
	DefaultAdminAddr         = ":9090"
)

// Default returns the complete default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			LogLevel:  LogInfo,
			AdminAddr: DefaultAdminAddr,
		},
		Storage: StorageConfig{
			Root:    DefaultStorageRoot,
			Backend: BackendSQLite,
		},
		Audio: AudioConfig{
			Capture: CaptureConfig{
				SampleRateHz:    DefaultSampleRateHz,
				Encoding:        "PCM_16BIT",
				Channel:         "MONO",
				Source:          "VOICE_RECOGNITION",
				BufferSizeBytes: DefaultBufferSizeBytes,
				DeviceIndex:     -1,
				QueueSize:       DefaultQueueSize,
			},
			VAD: VADConfig{
				Type:                "energy_based",
				EnergyThresholdDB:   DefaultEnergyThresholdDB,
				FrameDurationMs:     DefaultFrameDurationMs,
				MinSpeechDurationMs: DefaultMinSpeechMs,
				PaddingDurationMs:   DefaultPaddingMs,
			},
			ASR: ASRConfig{
				Model:               "faster-whisper",
				ModelSize:           "small.en",
				Device:              "cuda:0",
				ComputeType:         "int8",
				BeamSize:            5,
				Language:            "en",
				ConfidenceThreshold: 0.7,
				VADFilter:           true,
			},
			SpeakerID: SpeakerIDConfig{
				Model:              "resemblyzer",
				EmbeddingDim:       256,
				SimilarityMetric:   "cosine",
				SelfMatchThreshold: 0.80,
				UnknownThreshold:   0.65,
			},
		},
		Network: NetworkConfig{
			Host:            DefaultNetworkHost,
			Port:            DefaultNetworkPort,
			MaxMessageBytes: DefaultMaxMessageBytes,
		},
		Providers: ProvidersConfig{
			Transcriber: ProviderEntry{Name: "heuristic"},
			Speaker:     ProviderEntry{Name: "heuristic"},
			Breaker: BreakerConfig{
				MaxFailures: 5,
				Cooldown:    30 * time.Second,
				Probes:      3,
			},
		},
		SessionReplayWindowSec: DefaultReplayWindowSec,
	}
}

// ApplyDefaults fills zero-valued fields of a programmatically built cfg
// from [Default]. EnergyThresholdDB is left untouched because 0 dBFS is a
// legal threshold.
func ApplyDefaults(cfg *Config) {
	d := Default()
	setIfZero(&cfg.Server.LogLevel, d.Server.LogLevel)
	setIfZero(&cfg.Storage.Root, d.Storage.Root)
	setIfZero(&cfg.Storage.Backend, d.Storage.Backend)

	c := &cfg.Audio.Capture
	setIfZero(&c.SampleRateHz, d.Audio.Capture.SampleRateHz)
	setIfZero(&c.Encoding, d.Audio.Capture.Encoding)
	setIfZero(&c.Channel, d.Audio.Capture.Channel)
	setIfZero(&c.Source, d.Audio.Capture.Source)
	setIfZero(&c.BufferSizeBytes, d.Audio.Capture.BufferSizeBytes)
	setIfZero(&c.QueueSize, d.Audio.Capture.QueueSize)

	v := &cfg.Audio.VAD
	setIfZero(&v.Type, d.Audio.VAD.Type)
	setIfZero(&v.FrameDurationMs, d.Audio.VAD.FrameDurationMs)
	setIfZero(&v.MinSpeechDurationMs, d.Audio.VAD.MinSpeechDurationMs)
	setIfZero(&v.PaddingDurationMs, d.Audio.VAD.PaddingDurationMs)

	setIfZero(&cfg.Audio.ASR.Model, d.Audio.ASR.Model)
	setIfZero(&cfg.Audio.ASR.ModelSize, d.Audio.ASR.ModelSize)
	setIfZero(&cfg.Audio.ASR.Language, d.Audio.ASR.Language)
	setIfZero(&cfg.Audio.ASR.BeamSize, d.Audio.ASR.BeamSize)
	setIfZero(&cfg.Audio.SpeakerID.Model, d.Audio.SpeakerID.Model)
	setIfZero(&cfg.Audio.SpeakerID.SelfMatchThreshold, d.Audio.SpeakerID.SelfMatchThreshold)

	setIfZero(&cfg.Network.Host, d.Network.Host)
	setIfZero(&cfg.Network.Port, d.Network.Port)
	setIfZero(&cfg.Network.MaxMessageBytes, d.Network.MaxMessageBytes)

	setIfZero(&cfg.Providers.Transcriber.Name, d.Providers.Transcriber.Name)
	setIfZero(&cfg.Providers.Speaker.Name, d.Providers.Speaker.Name)
	b := &cfg.Providers.Breaker
	setIfZero(&b.MaxFailures, d.Providers.Breaker.MaxFailures)
	setIfZero(&b.Cooldown, d.Providers.Breaker.Cooldown)
	setIfZero(&b.Probes, d.Providers.Breaker.Probes)

	setIfZero(&cfg.SessionReplayWindowSec, d.SessionReplayWindowSec)
}

func setIfZero[T comparable](dst *T, v T) {
	var zero T
	if *dst == zero {
		*dst = v
	}
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Unknown keys are rejected. An empty document yields
// the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Storage
	if cfg.Storage.Root == "" {
		errs = append(errs, errors.New("storage.root is required"))
	}
	if !cfg.Storage.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("storage.backend %q is invalid; valid values: sqlite, postgres", cfg.Storage.Backend))
	}
	if cfg.Storage.Backend == BackendPostgres && cfg.Storage.PostgresDSN == "" {
		errs = append(errs, errors.New("storage.postgres_dsn is required when storage.backend is postgres"))
	}
	if cfg.SessionReplayWindowSec <= 0 {
		errs = append(errs, fmt.Errorf("session_replay_window_sec must be positive, got %d", cfg.SessionReplayWindowSec))
	}

	// Capture
	c := cfg.Audio.Capture
	if c.SampleRateHz <= 0 {
		errs = append(errs, fmt.Errorf("audio.capture.sample_rate_hz must be positive, got %d", c.SampleRateHz))
	}
	if c.BufferSizeBytes <= 0 || c.BufferSizeBytes%2 != 0 {
		errs = append(errs, fmt.Errorf("audio.capture.buffer_size_bytes must be a positive even number, got %d", c.BufferSizeBytes))
	}
	if c.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.capture.queue_size must be positive, got %d", c.QueueSize))
	}
	if c.DeviceIndex < -1 {
		errs = append(errs, fmt.Errorf("audio.capture.device_index must be -1 (default) or a device index, got %d", c.DeviceIndex))
	}

	// VAD
	v := cfg.Audio.VAD
	if v.Type != "" && v.Type != "energy_based" {
		errs = append(errs, fmt.Errorf("audio.vad.type %q is invalid; valid values: energy_based", v.Type))
	}
	for _, f := range []struct {
		name string
		val  int
	}{
		{"frame_duration_ms", v.FrameDurationMs},
		{"min_speech_duration_ms", v.MinSpeechDurationMs},
		{"padding_duration_ms", v.PaddingDurationMs},
	} {
		if f.val <= 0 {
			errs = append(errs, fmt.Errorf("audio.vad.%s must be positive, got %d", f.name, f.val))
		}
	}
	if v.FrameDurationMs > 0 {
		if v.MinSpeechDurationMs > 0 && v.MinSpeechDurationMs < v.FrameDurationMs {
			errs = append(errs, fmt.Errorf("audio.vad.min_speech_duration_ms (%d) must be at least one frame (%d ms)", v.MinSpeechDurationMs, v.FrameDurationMs))
		}
		if v.PaddingDurationMs > 0 && v.PaddingDurationMs < v.FrameDurationMs {
			errs = append(errs, fmt.Errorf("audio.vad.padding_duration_ms (%d) must be at least one frame (%d ms)", v.PaddingDurationMs, v.FrameDurationMs))
		}
	}

	// Recognition
	if cfg.Audio.ASR.BeamSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.asr.beam_size must be positive, got %d", cfg.Audio.ASR.BeamSize))
	}
	if t := cfg.Audio.ASR.ConfidenceThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("audio.asr.confidence_threshold %.2f is out of range [0, 1]", t))
	}

	// Network
	if cfg.Network.Enabled {
		if cfg.Network.Port < 0 || cfg.Network.Port > 65535 {
			errs = append(errs, fmt.Errorf("network.port %d is out of range [0, 65535]", cfg.Network.Port))
		}
	}
	if cfg.Network.MaxMessageBytes < 0 {
		errs = append(errs, fmt.Errorf("network.max_message_bytes must not be negative, got %d", cfg.Network.MaxMessageBytes))
	}

	// Providers
	if cfg.Providers.Transcriber.Name == "" {
		errs = append(errs, errors.New("providers.transcriber.name is required"))
	}
	if cfg.Providers.Speaker.Name == "" {
		errs = append(errs, errors.New("providers.speaker.name is required"))
	}
	validateProviderName("transcriber", cfg.Providers.Transcriber.Name)
	for i, fb := range cfg.Providers.TranscriberFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.transcriber_fallbacks[%d].name is required", i))
		}
		validateProviderName("transcriber", fb.Name)
	}
	validateProviderName("speaker", cfg.Providers.Speaker.Name)
	if b := cfg.Providers.Breaker; b.MaxFailures < 0 || b.Probes < 0 || b.Cooldown < 0 {
		errs = append(errs, errors.New("providers.breaker values must not be negative"))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a provider registered at runtime",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
