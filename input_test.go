package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/labelbatch/internal/batch"
)

var restrictedLabel = batch.State{ID: "restricted", Name: "Restricted", Rank: 3, RequiresProtection: true}

func TestPromptInputs_Justification(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	p := newPromptInputs(strings.NewReader("  released to partners  \n"), &out)

	got, err := p.Justification(t.Context(), batch.JustificationRequest{Downgrades: 1200, Target: restrictedLabel})
	require.NoError(t, err)
	assert.Equal(t, "released to partners", got)
	assert.Contains(t, out.String(), "1,200 item(s) will be downgraded to Restricted")
}

func TestPromptInputs_JustificationWithoutNewline(t *testing.T) {
	t.Parallel()

	p := newPromptInputs(strings.NewReader("audit"), &bytes.Buffer{})

	got, err := p.Justification(t.Context(), batch.JustificationRequest{})
	require.NoError(t, err)
	assert.Equal(t, "audit", got)
}

func TestPromptInputs_EOF(t *testing.T) {
	t.Parallel()

	p := newPromptInputs(strings.NewReader(""), &bytes.Buffer{})

	_, err := p.Justification(t.Context(), batch.JustificationRequest{})
	require.Error(t, err)
}

func TestPromptInputs_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	p := newPromptInputs(strings.NewReader("x\n"), &bytes.Buffer{})

	_, err := p.Grantees(ctx, batch.ProtectionRequest{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestPromptInputs_Grantees(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer

	p := newPromptInputs(strings.NewReader("alice@example.com, bob@example.com;carol@example.com\n"), &out)

	got, err := p.Grantees(t.Context(), batch.ProtectionRequest{Items: 3, Target: restrictedLabel})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice@example.com", "bob@example.com", "carol@example.com"}, got)
	assert.Contains(t, out.String(), "Restricted requires protection for 3 item(s)")
}

func TestPromptInputs_Confirm(t *testing.T) {
	t.Parallel()

	plan := &batch.Plan{Target: restrictedLabel, Items: make([]batch.WorkItem, 2)}

	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"sure\n", false},
	}

	for _, tt := range tests {
		p := newPromptInputs(strings.NewReader(tt.input), &bytes.Buffer{})
		assert.Equal(t, tt.want, p.confirm(t.Context(), plan), "input %q", tt.input)
	}
}

func TestSplitGrantees(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"a@x.io", "b@x.io"}, splitGrantees(" a@x.io ,, b@x.io "))
	assert.Empty(t, splitGrantees("   "))
}
