package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/mnemo/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(config.Default(), config.Default())
	if !d.Empty() {
		t.Errorf("expected no changes, got %+v", d)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		mutate      func(*config.Config)
		wantLevel   bool
		wantVAD     bool
		wantRestart []string
	}{
		{
			name:      "log level",
			mutate:    func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			wantLevel: true,
		},
		{
			name:    "vad threshold",
			mutate:  func(c *config.Config) { c.Audio.VAD.EnergyThresholdDB = -30 },
			wantVAD: true,
		},
		{
			name:    "vad padding",
			mutate:  func(c *config.Config) { c.Audio.VAD.PaddingDurationMs = 600 },
			wantVAD: true,
		},
		{
			name:        "storage root",
			mutate:      func(c *config.Config) { c.Storage.Root = "/var/lib/mnemo" },
			wantRestart: []string{"storage"},
		},
		{
			name: "capture and network",
			mutate: func(c *config.Config) {
				c.Audio.Capture.QueueSize = 16
				c.Network.Enabled = true
			},
			wantRestart: []string{"audio.capture", "network"},
		},
		{
			name:        "admin addr",
			mutate:      func(c *config.Config) { c.Server.AdminAddr = ":9191" },
			wantRestart: []string{"server.admin_addr"},
		},
		{
			name:        "asr settings",
			mutate:      func(c *config.Config) { c.Audio.ASR.BeamSize = 1 },
			wantRestart: []string{"audio.asr"},
		},
		{
			name: "recognition models and providers",
			mutate: func(c *config.Config) {
				c.Audio.SpeakerID.SelfMatchThreshold = 0.9
				c.Providers.TranscriberFallbacks = append(c.Providers.TranscriberFallbacks, config.ProviderEntry{Name: "heuristic"})
			},
			wantRestart: []string{"audio.speaker_id", "providers"},
		},
		{
			name:   "replay window",
			mutate: func(c *config.Config) { c.SessionReplayWindowSec++ },
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			old, cur := config.Default(), config.Default()
			tc.mutate(cur)
			d := config.Diff(old, cur)
			if d.LogLevelChanged != tc.wantLevel {
				t.Errorf("LogLevelChanged = %v, want %v", d.LogLevelChanged, tc.wantLevel)
			}
			if tc.wantLevel && d.NewLogLevel != cur.Server.LogLevel {
				t.Errorf("NewLogLevel = %q, want %q", d.NewLogLevel, cur.Server.LogLevel)
			}
			if d.VADChanged != tc.wantVAD {
				t.Errorf("VADChanged = %v, want %v", d.VADChanged, tc.wantVAD)
			}
			if tc.wantVAD && d.NewVAD != cur.Audio.VAD {
				t.Errorf("NewVAD = %+v, want %+v", d.NewVAD, cur.Audio.VAD)
			}
			if want := !tc.wantLevel && !tc.wantVAD && len(tc.wantRestart) == 0; d.Empty() != want {
				t.Errorf("Empty() = %v, want %v", d.Empty(), want)
			}
			if !slices.Equal(d.RestartRequired, tc.wantRestart) {
				t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tc.wantRestart)
			}
		})
	}
}
