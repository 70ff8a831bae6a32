package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VADChanged is true when any detector parameter changed. The new values
	// apply to the next session; a running session keeps its detector.
	VADChanged bool
	NewVAD     VADConfig

	// RestartRequired lists top-level sections that changed but cannot be
	// applied without restarting the process.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Audio.VAD != new.Audio.VAD {
		d.VADChanged = true
		d.NewVAD = new.Audio.VAD
	}

	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	if old.Audio.ASR != new.Audio.ASR {
		d.RestartRequired = append(d.RestartRequired, "audio.asr")
	}
	if old.Audio.SpeakerID != new.Audio.SpeakerID {
		d.RestartRequired = append(d.RestartRequired, "audio.speaker_id")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Audio.Capture != new.Audio.Capture {
		d.RestartRequired = append(d.RestartRequired, "audio.capture")
	}
	if old.Network != new.Network {
		d.RestartRequired = append(d.RestartRequired, "network")
	}
	if old.Server.AdminAddr != new.Server.AdminAddr {
		d.RestartRequired = append(d.RestartRequired, "server.admin_addr")
	}
	return d
}

// Empty reports whether the diff carries nothing to apply or report.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.VADChanged && len(d.RestartRequired) == 0
}
