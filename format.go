package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-isatty"

	"github.com/tonimelisma/labelbatch/internal/batch"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// Statusf prints a status message to stderr unless quiet mode is set.
func (cc *CLIContext) Statusf(format string, args ...any) {
	statusf(cc.Flags.Quiet, format, args...)
}

// isTerminal reports whether f is an interactive terminal.
func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// interactiveTerminal reports whether prompts and the progress line can be
// used. A variable so tests can force non-interactive mode.
var interactiveTerminal = func() bool {
	return isTerminal(os.Stdin) && isTerminal(os.Stderr)
}

// formatCount renders n with thousands separators.
func formatCount(n int) string {
	return humanize.Comma(int64(n))
}

// formatAge renders t relative to now ("3 minutes ago").
func formatAge(t, now time.Time) string {
	return humanize.RelTime(t, now, "ago", "from now")
}

// formatElapsed rounds d for display.
func formatElapsed(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}

	return d.Round(10 * time.Millisecond).String()
}

// shortID trims a batch id to its first segment for tables.
func shortID(id string) string {
	const n = 8
	if len(id) <= n {
		return id
	}

	return id[:n]
}

// newTable returns a borderless go-pretty table writing to w.
func newTable(w io.Writer) table.Writer {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.SeparateColumns = false
	tbl.Style().Options.DrawBorder = false
	tbl.Style().Options.SeparateHeader = false

	return tbl
}

// printTable writes aligned columns to the given writer.
// headers and each row must have the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	tbl := newTable(w)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}

	tbl.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, len(row))
		for i, cell := range row {
			r[i] = cell
		}

		tbl.AppendRow(r)
	}

	tbl.Render()
}

// severityColor picks the warning color for a severity.
func severityColor(s batch.Severity) *color.Color {
	switch s {
	case batch.SeverityHigh:
		return color.New(color.FgRed, color.Bold)
	case batch.SeverityMedium:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgCyan)
	}
}

// printWarnings writes one colored line per warning.
func printWarnings(w io.Writer, warnings []batch.Warning) {
	for _, warn := range warnings {
		severityColor(warn.Severity).Fprintf(w, "  [%s] %s: %s\n", warn.Severity, warn.Code, warn.Message)
	}
}

// writeJSON encodes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}
