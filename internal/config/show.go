package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as an annotated TOML
// summary to w. This powers the "config show" command.
func RenderEffective(cfg *Config, path string, w io.Writer) error {
	ew := &errWriter{w: w}

	if path != "" {
		ew.printf("# Effective configuration (file: %s)\n\n", path)
	} else {
		ew.printf("# Effective configuration (defaults)\n\n")
	}

	ew.printf("[engine]\n")
	ew.printf("max_workers        = %d\n", cfg.Engine.MaxWorkers)
	ew.printf("parallel_threshold = %d\n", cfg.Engine.ParallelThreshold)
	ew.printf("timeout            = %q\n", cfg.Engine.Timeout)
	ew.printf("drain_timeout      = %q\n", cfg.Engine.DrainTimeout)
	ew.printf("poll_interval      = %q\n\n", cfg.Engine.PollInterval)

	ew.printf("[analysis]\n")
	ew.printf("mass_downgrade_threshold = %d\n", cfg.Analysis.MassDowngradeThreshold)
	ew.printf("large_batch_threshold    = %d\n\n", cfg.Analysis.LargeBatchThreshold)

	ew.printf("[store]\n")
	ew.printf("db_path        = %q\n", cfg.Store.DBPath)
	ew.printf("verify_targets = %t\n\n", cfg.Store.VerifyTargets)

	ew.printf("[logging]\n")
	ew.printf("log_level  = %q\n", cfg.Logging.LogLevel)
	ew.printf("log_format = %q\n", cfg.Logging.LogFormat)

	for _, l := range cfg.Labels {
		ew.printf("\n[[labels]]\n")
		ew.printf("id                  = %q\n", l.ID)
		ew.printf("name                = %q\n", l.Name)
		ew.printf("rank                = %d\n", l.Rank)
		ew.printf("requires_protection = %t\n", l.RequiresProtection)
	}

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
