package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/labelbatch/internal/batch"
)

// errBatchIncomplete signals exit status 1 after the report was printed:
// an item failed, or the batch was cancelled, timed out, or aborted.
var errBatchIncomplete = errors.New("batch did not complete cleanly")

type applyFlags struct {
	label         string
	justification string
	grantees      []string
	yes           bool
	dryRun        bool
	workers       int
	timeout       string
	reportPath    string
	metricsPath   string
}

func newApplyCmd() *cobra.Command {
	var flags applyFlags

	cmd := &cobra.Command{
		Use:   "apply --label ID PATH...",
		Short: "Apply a classification label to files",
		Long: `Apply a classification label to every file named on the command line.
Directories are walked recursively; only regular files are labeled.

The batch is analyzed first. On a terminal you are asked to confirm; use
--yes to skip the prompt. Without a terminal and without --yes, a batch
with a high-severity warning (such as a mass downgrade) is aborted.

The first Ctrl-C stops dispatching new files and lets in-flight files
finish; a second Ctrl-C exits immediately.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd, args, &flags)
		},
	}

	cmd.Flags().StringVar(&flags.label, "label", "", "label id to apply (see 'labelbatch labels')")
	cmd.Flags().StringVar(&flags.justification, "justification", "", "justification for downgrades")
	cmd.Flags().StringArrayVar(&flags.grantees, "grant", nil, "e-mail address granted access to protected files (repeatable)")
	cmd.Flags().BoolVarP(&flags.yes, "yes", "y", false, "skip the confirmation prompt")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "analyze and print the plan without applying")
	cmd.Flags().IntVar(&flags.workers, "workers", 0, "maximum parallel workers (overrides engine.max_workers)")
	cmd.Flags().StringVar(&flags.timeout, "timeout", "", "overall batch time budget, e.g. 5m (overrides engine.timeout)")
	cmd.Flags().StringVar(&flags.reportPath, "report", "", "write the full report to FILE (.json, .yaml or .csv)")
	cmd.Flags().StringVar(&flags.metricsPath, "metrics-file", "", "write Prometheus metrics to FILE at exit")

	if err := cmd.MarkFlagRequired("label"); err != nil {
		panic(err)
	}

	return cmd
}

func runApply(cmd *cobra.Command, args []string, flags *applyFlags) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)
	out := cmd.OutOrStdout()

	targets, err := collectTargets(args)
	if err != nil {
		return err
	}

	if len(targets) == 0 {
		return fmt.Errorf("no files found under %v", args)
	}

	unlock, err := writePIDFile(applyLockPath(cc.Cfg.Store.DBPath))
	if err != nil {
		return err
	}
	defer unlock()

	store, err := openStore(ctx, cc)
	if err != nil {
		return err
	}
	defer store.Close()

	target, ok := store.Lookup(flags.label)
	if !ok {
		return fmt.Errorf("unknown label %q (see 'labelbatch labels')", flags.label)
	}

	reg := prometheus.NewRegistry()

	metrics, err := batch.NewMetrics(reg)
	if err != nil {
		return err
	}

	interactive := interactiveTerminal()

	var prompts *promptInputs

	engineCfg := &batch.Config{
		Store:             store,
		Locker:            batch.NewFileLocker(),
		Metrics:           metrics,
		Logger:            cc.Logger,
		MaxWorkers:        cc.Cfg.Engine.MaxWorkers,
		ParallelThreshold: cc.Cfg.Engine.ParallelThreshold,
		Timeout:           cc.Cfg.Engine.TimeoutDuration(),
		DrainTimeout:      cc.Cfg.Engine.DrainTimeoutDuration(),
		PollInterval:      cc.Cfg.Engine.PollIntervalDuration(),
		Analyzer:          batch.NewAnalyzer(cc.Cfg.Analysis.MassDowngradeThreshold, cc.Cfg.Analysis.LargeBatchThreshold),
	}

	if interactive {
		prompts = newPromptInputs(os.Stdin, os.Stderr)
		engineCfg.Inputs = prompts
	}

	orch, err := batch.NewOrchestrator(engineCfg)
	if err != nil {
		return err
	}

	items, err := orch.ResolveStates(ctx, batch.NewWorkItems(targets))
	if err != nil {
		return err
	}

	plan, err := orch.Prepare(ctx, items, target)
	if err != nil {
		return err
	}

	if flags.dryRun {
		orch.Abort(plan)

		if cc.Flags.JSON {
			return writeJSON(out, newPlanView(plan))
		}

		printPlan(out, plan)

		return nil
	}

	if !cc.Flags.JSON && !cc.Flags.Quiet {
		printPlan(out, plan)
	}

	if !shouldProceed(ctx, plan, flags.yes, prompts) {
		cc.Statusf("Aborted; nothing was changed.\n")

		return finishApply(cmd, cc, flags, reg, store, orch.Abort(plan))
	}

	stopSignals := cancelOnSignal(orch, cc.Logger)
	defer stopSignals()

	stopProgress := startProgress(os.Stderr, interactive && !cc.Flags.Quiet, orch.Snapshot,
		cc.Cfg.Engine.PollIntervalDuration())

	report, err := orch.Execute(ctx, plan, batch.RunOpts{
		Justification: flags.justification,
		Grantees:      flags.grantees,
	})

	stopProgress()

	if err != nil {
		if errors.Is(err, batch.ErrInputRequired) {
			return fmt.Errorf("%w: pass --justification / --grant, or run from a terminal", err)
		}

		return err
	}

	return finishApply(cmd, cc, flags, reg, store, report)
}

// shouldProceed decides whether a prepared plan runs. --yes always
// proceeds; a terminal user is asked; otherwise any high-severity warning
// aborts.
func shouldProceed(ctx context.Context, plan *batch.Plan, yes bool, prompts *promptInputs) bool {
	if yes {
		return true
	}

	if prompts != nil {
		return prompts.confirm(ctx, plan)
	}

	sev, ok := batch.HighestSeverity(plan.Warnings)

	return !ok || sev < batch.SeverityHigh
}

// reportRecorder is the part of the store finishApply needs.
type reportRecorder interface {
	RecordRun(ctx context.Context, r *batch.Report) error
}

// finishApply records, prints, and exports the report, then maps it to
// the command's exit status.
func finishApply(
	cmd *cobra.Command, cc *CLIContext, flags *applyFlags, reg *prometheus.Registry,
	store reportRecorder, report *batch.Report,
) error {
	// The command context may already be cancelled by the time the batch
	// ends; history is recorded regardless.
	ctx := context.WithoutCancel(cmd.Context())

	if err := store.RecordRun(ctx, report); err != nil {
		cc.Logger.Warn("could not record run history",
			slog.String("batch_id", report.BatchID),
			slog.String("error", err.Error()),
		)
	}

	if cc.Flags.JSON {
		if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
	} else {
		printReport(cmd.OutOrStdout(), report)
	}

	if flags.reportPath != "" {
		if err := writeReportFile(flags.reportPath, report); err != nil {
			return err
		}

		cc.Statusf("Report written to %s\n", flags.reportPath)
	}

	if flags.metricsPath != "" {
		if err := prometheus.WriteToTextfile(flags.metricsPath, reg); err != nil {
			return fmt.Errorf("writing metrics file: %w", err)
		}
	}

	if report.FailureCount > 0 || report.Cancelled || report.TimedOut || report.Aborted {
		return errBatchIncomplete
	}

	return nil
}
