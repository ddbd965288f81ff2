// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for labelbatch. Values are layered as
// defaults -> config file -> environment -> CLI flags.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Engine   EngineConfig   `toml:"engine" json:"engine"`
	Analysis AnalysisConfig `toml:"analysis" json:"analysis"`
	Store    StoreConfig    `toml:"store" json:"store"`
	Logging  LoggingConfig  `toml:"logging" json:"logging"`
	Labels   []LabelConfig  `toml:"labels" json:"labels"`
}

// EngineConfig controls worker counts, the parallel threshold, and the
// batch time budget. Durations are strings so the file stays readable;
// "0" disables a timeout.
type EngineConfig struct {
	MaxWorkers        int    `toml:"max_workers" json:"max_workers"`
	ParallelThreshold int    `toml:"parallel_threshold" json:"parallel_threshold"`
	Timeout           string `toml:"timeout" json:"timeout"`
	DrainTimeout      string `toml:"drain_timeout" json:"drain_timeout"`
	PollInterval      string `toml:"poll_interval" json:"poll_interval"`
}

// TimeoutDuration returns the parsed batch timeout (0 = none).
func (e *EngineConfig) TimeoutDuration() time.Duration {
	return mustDuration(e.Timeout)
}

// DrainTimeoutDuration returns the parsed drain bound (0 = unbounded).
func (e *EngineConfig) DrainTimeoutDuration() time.Duration {
	return mustDuration(e.DrainTimeout)
}

// PollIntervalDuration returns the parsed progress poll cadence.
func (e *EngineConfig) PollIntervalDuration() time.Duration {
	return mustDuration(e.PollInterval)
}

// AnalysisConfig holds the warning thresholds.
type AnalysisConfig struct {
	MassDowngradeThreshold int `toml:"mass_downgrade_threshold" json:"mass_downgrade_threshold"`
	LargeBatchThreshold    int `toml:"large_batch_threshold" json:"large_batch_threshold"`
}

// StoreConfig locates the label database.
type StoreConfig struct {
	DBPath        string `toml:"db_path" json:"db_path"`
	VerifyTargets bool   `toml:"verify_targets" json:"verify_targets"`
}

// LoggingConfig controls log level and handler format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level" json:"log_level"`
	LogFormat string `toml:"log_format" json:"log_format"`
}

// LabelConfig is one entry of the label catalog. Higher rank means more
// sensitive.
type LabelConfig struct {
	ID                 string `toml:"id" json:"id"`
	Name               string `toml:"name" json:"name"`
	Rank               int    `toml:"rank" json:"rank"`
	RequiresProtection bool   `toml:"requires_protection" json:"requires_protection"`
}

// CLIOverrides holds values from CLI flags. Pointer fields distinguish
// "not specified" (nil) from an explicit zero value.
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	DBPath     *string // --db flag
	MaxWorkers *int    // --workers flag
	Timeout    *string // --timeout flag
}

// mustDuration parses a duration that Validate already accepted. "0" and ""
// mean zero.
func mustDuration(s string) time.Duration {
	if s == "" || s == "0" {
		return 0
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}

	return d
}
