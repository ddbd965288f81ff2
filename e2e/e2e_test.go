//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/labelbatch/testutil"
)

var binaryPath string

func TestMain(m *testing.M) {
	// Build binary to temp dir.
	tmpDir, err := os.MkdirTemp("", "labelbatch-e2e-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating temp dir: %v\n", err)
		os.Exit(1)
	}

	binaryPath = filepath.Join(tmpDir, "labelbatch")

	cmd := exec.Command("go", "build", "-o", binaryPath, ".")
	cmd.Dir = testutil.FindModuleRoot("..")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "building binary: %v\n", err)
		os.RemoveAll(tmpDir)
		os.Exit(1)
	}

	code := m.Run()

	os.RemoveAll(tmpDir)
	os.Exit(code)
}

type result struct {
	stdout string
	stderr string
	code   int
}

// runCLI runs the binary with an isolated HOME and returns its output and
// exit code. extraEnv entries are appended after isolation.
func runCLI(t *testing.T, home string, extraEnv []string, args ...string) result {
	t.Helper()

	cmd := exec.Command(binaryPath, args...)
	cmd.Env = append(testutil.IsolatedEnv(home), extraEnv...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	code := 0

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	} else {
		require.NoError(t, err)
	}

	return result{stdout: stdout.String(), stderr: stderr.String(), code: code}
}

func TestE2E_ApplyStatusHistory(t *testing.T) {
	home := t.TempDir()
	docs := filepath.Join(home, "docs")
	testutil.WriteFiles(docs, 40)

	res := runCLI(t, home, nil, "--json", "apply", "--label", "internal", "--yes", docs)
	require.Equal(t, 0, res.code, res.stderr)

	var report struct {
		Mode         string `json:"mode"`
		SuccessCount int    `json:"success_count"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &report))
	assert.Equal(t, "parallel", report.Mode)
	assert.Equal(t, 40, report.SuccessCount)

	// The database lands in the XDG data directory by default.
	_, err := os.Stat(filepath.Join(home, ".local", "share", "labelbatch", "labels.db"))
	require.NoError(t, err)

	res = runCLI(t, home, nil, "--json", "status", docs)
	require.Equal(t, 0, res.code, res.stderr)

	var entries []map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &entries))
	require.Len(t, entries, 40)
	assert.Equal(t, "internal", entries[0]["label_id"])

	res = runCLI(t, home, nil, "history")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, "completed")
}

func TestE2E_ExitCodes(t *testing.T) {
	home := t.TempDir()
	docs := filepath.Join(home, "docs")
	testutil.WriteFiles(docs, 3)

	res := runCLI(t, home, nil, "apply", "--label", "no-such-label", "--yes", docs)
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "Error: unknown label")

	res = runCLI(t, home, nil, "apply", "--label", "confidential", "--yes", docs)
	require.Equal(t, 0, res.code, res.stderr)

	// Mass downgrade without a terminal and without --yes is aborted.
	res = runCLI(t, home, nil, "apply", "--label", "public", "--justification", "release", docs)
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stdout, "aborted")
	assert.NotContains(t, res.stderr, "Error:")
}

func TestE2E_TimeoutReportsEveryItem(t *testing.T) {
	home := t.TempDir()
	docs := filepath.Join(home, "docs")
	testutil.WriteFiles(docs, 50)

	res := runCLI(t, home, nil, "--json", "apply", "--label", "internal", "--yes", "--timeout", "1ns", docs)
	assert.Equal(t, 1, res.code)

	var report struct {
		Submitted      int  `json:"submitted"`
		TotalProcessed int  `json:"total_processed"`
		TimedOut       bool `json:"timed_out"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &report))
	assert.True(t, report.TimedOut)
	assert.Equal(t, 50, report.Submitted)
	assert.Equal(t, report.Submitted, report.TotalProcessed)
}

func TestE2E_EnvOverrides(t *testing.T) {
	home := t.TempDir()
	docs := filepath.Join(home, "docs")
	testutil.WriteFiles(docs, 2)

	cfgPath := filepath.Join(home, "custom.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("[logging]\nlog_format = \"json\"\n"), 0o600))

	dbPath := filepath.Join(home, "elsewhere", "labels.db")
	env := []string{"LABELBATCH_CONFIG=" + cfgPath, "LABELBATCH_DB=" + dbPath}

	res := runCLI(t, home, env, "apply", "--label", "internal", "--yes", docs)
	require.Equal(t, 0, res.code, res.stderr)

	_, err := os.Stat(dbPath)
	require.NoError(t, err)

	res = runCLI(t, home, env, "config", "show")
	require.Equal(t, 0, res.code, res.stderr)
	assert.Contains(t, res.stdout, cfgPath)
	assert.Contains(t, res.stdout, `log_format = "json"`)
}
