// Package testutil provides shared test environment helpers for E2E tests.
// It depends only on stdlib so that E2E tests (which cannot import
// internal/) can use it.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// IsolatedEnv returns the current environment with HOME and the XDG base
// directories pointed below home, and every LABELBATCH_* variable removed,
// so a spawned binary never touches the real config or database.
func IsolatedEnv(home string) []string {
	env := make([]string, 0, len(os.Environ())+3)

	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")

		switch {
		case key == "HOME", strings.HasPrefix(key, "XDG_"), strings.HasPrefix(key, "LABELBATCH_"):
			continue
		}

		env = append(env, kv)
	}

	return append(env,
		"HOME="+home,
		"XDG_CONFIG_HOME="+filepath.Join(home, ".config"),
		"XDG_DATA_HOME="+filepath.Join(home, ".local", "share"),
	)
}

// WriteFiles creates n small files named file-<i>.txt under dir and
// returns their paths. Crashes on failure because tests cannot proceed
// without them.
func WriteFiles(dir string, n int) []string {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: creating %s: %v\n", dir, err)
		os.Exit(1)
	}

	paths := make([]string, 0, n)

	for i := range n {
		p := filepath.Join(dir, fmt.Sprintf("file-%d.txt", i))
		if err := os.WriteFile(p, []byte("content\n"), 0o600); err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: writing %s: %v\n", p, err)
			os.Exit(1)
		}

		paths = append(paths, p)
	}

	return paths
}
