package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// InterviewChanged is true if position, difficulty, or the stop phrase
	// list changed. Applies to new sessions only; in-flight interviews keep
	// the settings they started with.
	InterviewChanged bool
	NewInterview     InterviewConfig
}

// Empty reports whether the diff contains no hot-reloadable changes.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.InterviewChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Interview.Position != new.Interview.Position ||
		old.Interview.Difficulty != new.Interview.Difficulty ||
		!slices.Equal(old.Interview.StopPhrases, new.Interview.StopPhrases) {
		d.InterviewChanged = true
		d.NewInterview = new.Interview
	}

	return d
}
