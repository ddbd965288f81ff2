package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validation range constants.
const (
	minWorkers           = 1
	maxWorkers           = 8
	minParallelThreshold = 1
	minThreshold         = 1
	minPollInterval      = 100 * time.Millisecond
	maxPollInterval      = time.Second
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateEngine(&cfg.Engine)...)
	errs = append(errs, validateAnalysis(&cfg.Analysis)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateLabels(cfg.Labels)...)

	return errors.Join(errs...)
}

func validateEngine(e *EngineConfig) []error {
	var errs []error

	if e.MaxWorkers < minWorkers || e.MaxWorkers > maxWorkers {
		errs = append(errs, fmt.Errorf("max_workers: must be between %d and %d, got %d",
			minWorkers, maxWorkers, e.MaxWorkers))
	}

	if e.ParallelThreshold < minParallelThreshold {
		errs = append(errs, fmt.Errorf("parallel_threshold: must be >= %d, got %d",
			minParallelThreshold, e.ParallelThreshold))
	}

	errs = append(errs, validateDurationNonNeg("timeout", e.Timeout)...)
	errs = append(errs, validateDurationNonNeg("drain_timeout", e.DrainTimeout)...)
	errs = append(errs, validateDurationRange("poll_interval", e.PollInterval, minPollInterval, maxPollInterval)...)

	return errs
}

func validateAnalysis(a *AnalysisConfig) []error {
	var errs []error

	if a.MassDowngradeThreshold < minThreshold {
		errs = append(errs, fmt.Errorf("mass_downgrade_threshold: must be >= %d, got %d",
			minThreshold, a.MassDowngradeThreshold))
	}

	if a.LargeBatchThreshold < minThreshold {
		errs = append(errs, fmt.Errorf("large_batch_threshold: must be >= %d, got %d",
			minThreshold, a.LargeBatchThreshold))
	}

	return errs
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "0" {
		return 0, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	return d, nil
}

func validateDurationNonNeg(field, value string) []error {
	d, err := parseDuration(field, value)
	if err != nil {
		return []error{err}
	}

	if d < 0 {
		return []error{fmt.Errorf("%s: must be >= 0, got %s", field, d)}
	}

	return nil
}

func validateDurationRange(field, value string, lo, hi time.Duration) []error {
	d, err := parseDuration(field, value)
	if err != nil {
		return []error{err}
	}

	if d < lo || d > hi {
		return []error{fmt.Errorf("%s: must be between %s and %s, got %s", field, lo, hi, d)}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format: must be one of text, json; got %q", l.LogFormat))
	}

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"text": true,
	"json": true,
}

// validateLabels checks the catalog: ids present and unique, ranks unique
// and non-negative.
func validateLabels(labels []LabelConfig) []error {
	var errs []error

	if len(labels) == 0 {
		return []error{errors.New("labels: catalog must define at least one label")}
	}

	ids := make(map[string]bool, len(labels))
	ranks := make(map[int]string, len(labels))

	for i, l := range labels {
		id := strings.TrimSpace(l.ID)
		if id == "" {
			errs = append(errs, fmt.Errorf("labels[%d]: id must not be empty", i))
			continue
		}

		if ids[id] {
			errs = append(errs, fmt.Errorf("labels[%d]: duplicate id %q", i, id))
		}

		ids[id] = true

		if l.Rank < 0 {
			errs = append(errs, fmt.Errorf("labels[%d]: rank must be >= 0, got %d", i, l.Rank))
		}

		if other, dup := ranks[l.Rank]; dup {
			errs = append(errs, fmt.Errorf("labels[%d]: rank %d already used by %q", i, l.Rank, other))
		} else {
			ranks[l.Rank] = id
		}
	}

	return errs
}
