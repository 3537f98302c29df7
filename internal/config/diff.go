package config

// Diff describes what changed between two configs. Only fields that can be
// applied without restarting the pipeline are tracked: log verbosity and
// playback mute take effect immediately, a new target language on the next
// run. Gateway address, audio geometry, and export paths require a restart
// and are deliberately ignored here.
type Diff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	MutedChanged bool
	NewMuted     bool

	TargetLanguageChanged bool
	NewTargetLanguage     string
}

// Empty reports whether nothing hot-appliable changed.
func (d Diff) Empty() bool {
	return !d.LogLevelChanged && !d.MutedChanged && !d.TargetLanguageChanged
}

// Compare returns the hot-appliable differences between old and new.
func Compare(old, new *Config) Diff {
	d := Diff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Test.Muted != new.Test.Muted {
		d.MutedChanged = true
		d.NewMuted = new.Test.Muted
	}
	if old.Gateway.TargetLanguage != new.Gateway.TargetLanguage {
		d.TargetLanguageChanged = true
		d.NewTargetLanguage = new.Gateway.TargetLanguage
	}

	return d
}
