package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_UnknownSection(t *testing.T) {
	path := writeTestConfig(t, "[enigne]\nmax_workers = 2\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config section "enigne"`)
	assert.Contains(t, err.Error(), `"engine"`)
}

func TestLoad_UnknownTopLevelKey(t *testing.T) {
	path := writeTestConfig(t, "something_else = \"value\"\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config section")
}

func TestLoad_UnknownKeyInSection(t *testing.T) {
	path := writeTestConfig(t, "[engine]\nmax_wrokers = 4\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[engine]")
	assert.Contains(t, err.Error(), `did you mean "max_workers"`)
}

func TestLoad_UnknownKeyInLabel(t *testing.T) {
	path := writeTestConfig(t, "[[labels]]\nid = \"x\"\nrank = 1\nrequires_protectoin = true\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "requires_protection"`)
}

func TestLoad_UnknownKeyNoSuggestion(t *testing.T) {
	path := writeTestConfig(t, "[store]\ncompletely_unrelated = 1\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config key "completely_unrelated" in [store]`)
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("abc", "abc"))
	assert.Equal(t, 3, levenshtein("", "abc"))
	assert.Equal(t, 1, levenshtein("timeout", "timeouts"))
	assert.Equal(t, 2, levenshtein("max_wrokers", "max_workers"))
}

func TestClosestMatch(t *testing.T) {
	assert.Equal(t, "store", closestMatch("stor", knownSections))
	assert.Empty(t, closestMatch("zzzzzzzzzz", knownSections))
}
