package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tonimelisma/labelbatch/internal/batch"
)

func TestFormatCount(t *testing.T) {
	assert.Equal(t, "0", formatCount(0))
	assert.Equal(t, "999", formatCount(999))
	assert.Equal(t, "1,234,567", formatCount(1234567))
}

func TestFormatAge(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "3 minutes ago", formatAge(now.Add(-3*time.Minute), now))
	assert.Equal(t, "2 hours ago", formatAge(now.Add(-2*time.Hour), now))
}

func TestFormatElapsed(t *testing.T) {
	assert.Equal(t, "12ms", formatElapsed(12*time.Millisecond+400*time.Microsecond))
	assert.Equal(t, "1.23s", formatElapsed(1234*time.Millisecond))
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "1f2e3d4c", shortID("1f2e3d4c-aaaa-bbbb-cccc-dddddddddddd"))
	assert.Equal(t, "abc", shortID("abc"))
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer

	headers := []string{"TARGET", "LABEL", "UPDATED"}
	rows := [][]string{
		{"/data/report.docx", "Confidential", "3 minutes ago"},
		{"/data/notes.txt", "(none)", ""},
	}

	printTable(&buf, headers, rows)
	output := buf.String()

	assert.Contains(t, output, "TARGET")
	assert.Contains(t, output, "LABEL")
	assert.Contains(t, output, "/data/report.docx")
	assert.Contains(t, output, "Confidential")
	assert.Contains(t, output, "/data/notes.txt")
}

func TestPrintWarnings(t *testing.T) {
	var buf bytes.Buffer

	printWarnings(&buf, []batch.Warning{
		{Severity: batch.SeverityHigh, Code: batch.WarnMassDowngrade, Message: "5 items will be downgraded"},
		{Severity: batch.SeverityInfo, Code: batch.WarnNoOp, Message: "nothing to change"},
	})

	output := buf.String()
	assert.Contains(t, output, "[high] mass-downgrade: 5 items will be downgraded")
	assert.Contains(t, output, "[info] no-op: nothing to change")
}

func TestSeverityColor_Distinct(t *testing.T) {
	high := severityColor(batch.SeverityHigh)
	medium := severityColor(batch.SeverityMedium)
	info := severityColor(batch.SeverityInfo)

	assert.False(t, high.Equals(medium))
	assert.False(t, medium.Equals(info))
}
