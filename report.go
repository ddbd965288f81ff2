package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tonimelisma/labelbatch/internal/batch"
)

const reportFilePermissions = 0o644

// maxPrintedFailures bounds the failed-items table on the terminal; the
// --report file always carries the full list.
const maxPrintedFailures = 25

// planView is the JSON shape of a dry-run plan.
type planView struct {
	BatchID            string                   `json:"batch_id"`
	Target             string                   `json:"target"`
	Items              int                      `json:"items"`
	Duplicates         int                      `json:"duplicates"`
	Blank              int                      `json:"blank_ids"`
	Mode               batch.ExecMode           `json:"mode"`
	Workers            int                      `json:"workers"`
	Counts             map[batch.ChangeType]int `json:"counts"`
	Warnings           []batch.Warning          `json:"warnings"`
	NeedsJustification bool                     `json:"needs_justification"`
	NeedsProtection    bool                     `json:"needs_protection"`
}

func newPlanView(p *batch.Plan) planView {
	return planView{
		BatchID:            p.BatchID,
		Target:             p.Target.ID,
		Items:              len(p.Items),
		Duplicates:         p.Duplicates,
		Blank:              p.Blank,
		Mode:               p.Mode,
		Workers:            p.Workers,
		Counts:             p.Counts,
		Warnings:           p.Warnings,
		NeedsJustification: p.NeedsJustification,
		NeedsProtection:    p.NeedsProtection,
	}
}

// printPlan writes the classification summary shown before confirmation.
func printPlan(w io.Writer, p *batch.Plan) {
	fmt.Fprintf(w, "Target label: %s (%s)\n", p.Target.Label(), p.Target.ID)

	items := fmt.Sprintf("Items: %s", formatCount(len(p.Items)))
	if p.Duplicates > 0 {
		items += fmt.Sprintf(" (%s duplicates removed)", formatCount(p.Duplicates))
	}

	if p.Blank > 0 {
		items += fmt.Sprintf(" (%s blank ids ignored)", formatCount(p.Blank))
	}

	mode := string(p.Mode)
	if p.Mode == batch.ModeParallel {
		mode = fmt.Sprintf("%s, %d workers", p.Mode, p.Workers)
	}

	fmt.Fprintf(w, "%s  Mode: %s\n", items, mode)

	rows := make([][]string, 0, len(batch.AllChangeTypes))
	for _, ct := range batch.AllChangeTypes {
		if n := p.Counts[ct]; n > 0 {
			rows = append(rows, []string{ct.String(), formatCount(n)})
		}
	}

	if len(rows) > 0 {
		printTable(w, []string{"CHANGE", "ITEMS"}, rows)
	}

	if len(p.Warnings) > 0 {
		fmt.Fprintln(w, "Warnings:")
		printWarnings(w, p.Warnings)
	}
}

// printReport writes the human summary of a finished batch.
func printReport(w io.Writer, r *batch.Report) {
	mode := string(r.Mode)
	if r.Mode == batch.ModeParallel {
		mode = fmt.Sprintf("%s, %d workers", r.Mode, r.Workers)
	}

	if mode == "" {
		mode = "not run"
	}

	fmt.Fprintf(w, "Batch %s (%s) %s in %s\n",
		shortID(r.BatchID), mode, strings.ReplaceAll(r.Result(), "_", " "), formatElapsed(r.Elapsed))
	fmt.Fprintf(w, "  Succeeded: %s  Failed: %s  Skipped: %s",
		formatCount(r.SuccessCount), formatCount(r.FailureCount), formatCount(r.SkippedCount))

	if r.NotDispatched > 0 {
		fmt.Fprintf(w, "  Not dispatched: %s", formatCount(r.NotDispatched))
	}

	fmt.Fprintln(w)

	problems := unfinishedOutcomes(r)
	if len(problems) == 0 {
		return
	}

	shown := problems
	if len(shown) > maxPrintedFailures {
		shown = shown[:maxPrintedFailures]
	}

	rows := make([][]string, 0, len(shown))
	for _, o := range shown {
		rows = append(rows, []string{o.TargetID, string(o.Status), string(o.Kind), o.Message})
	}

	printTable(w, []string{"TARGET", "STATUS", "KIND", "MESSAGE"}, rows)

	if rest := len(problems) - len(shown); rest > 0 {
		fmt.Fprintf(w, "  ... and %s more (use --report for the full list)\n", formatCount(rest))
	}
}

// writeReportFile exports r to path. The format follows the extension:
// .json, .yaml/.yml, or .csv (unfinished items only).
func writeReportFile(path string, r *batch.Report) error {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".json", ".yaml", ".yml", ".csv":
	default:
		return fmt.Errorf("unsupported report format %q (use .json, .yaml or .csv)", ext)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, reportFilePermissions)
	if err != nil {
		return fmt.Errorf("creating report file: %w", err)
	}

	switch ext {
	case ".json":
		err = writeJSON(f, r)
	case ".csv":
		err = writeReportCSV(f, r)
	default:
		enc := yaml.NewEncoder(f)
		enc.SetIndent(2)

		if err = enc.Encode(r); err == nil {
			err = enc.Close()
		}
	}

	if closeErr := f.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		return fmt.Errorf("writing report %s: %w", path, err)
	}

	return nil
}

// unfinishedOutcomes lists every item that did not end up labeled: failures,
// skips, then items never dispatched.
func unfinishedOutcomes(r *batch.Report) []batch.Outcome {
	out := make([]batch.Outcome, 0, len(r.FailedItems)+len(r.SkippedItems)+len(r.NotDispatchedItems))
	out = append(out, r.FailedItems...)
	out = append(out, r.SkippedItems...)

	return append(out, r.NotDispatchedItems...)
}

func writeReportCSV(w io.Writer, r *batch.Report) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"target_id", "change", "status", "error_kind", "message", "duration_ms"}); err != nil {
		return err
	}

	for _, o := range unfinishedOutcomes(r) {
		rec := []string{
			o.TargetID,
			o.Change.String(),
			string(o.Status),
			string(o.Kind),
			o.Message,
			strconv.FormatInt(o.Duration.Milliseconds(), 10),
		}

		if err := cw.Write(rec); err != nil {
			return err
		}
	}

	cw.Flush()

	return cw.Error()
}
