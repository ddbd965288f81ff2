package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tonimelisma/labelbatch/internal/batch"
)

// promptInputs collects one-time batch input from a terminal. It implements
// batch.InputProvider.
type promptInputs struct {
	in  *bufio.Reader
	out io.Writer
}

var _ batch.InputProvider = (*promptInputs)(nil)

func newPromptInputs(in io.Reader, out io.Writer) *promptInputs {
	return &promptInputs{in: bufio.NewReader(in), out: out}
}

// readLine returns the next line without its terminator. A final line with
// no newline is still returned.
func (p *promptInputs) readLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("reading input: %w", err)
	}

	return strings.TrimSpace(line), nil
}

func (p *promptInputs) Justification(ctx context.Context, req batch.JustificationRequest) (string, error) {
	fmt.Fprintf(p.out, "%s item(s) will be downgraded to %s.\nJustification: ",
		formatCount(req.Downgrades), req.Target.Label())

	return p.readLine(ctx)
}

func (p *promptInputs) Grantees(ctx context.Context, req batch.ProtectionRequest) ([]string, error) {
	fmt.Fprintf(p.out, "%s requires protection for %s item(s).\nGrant access to (comma-separated e-mail addresses): ",
		req.Target.Label(), formatCount(req.Items))

	line, err := p.readLine(ctx)
	if err != nil {
		return nil, err
	}

	return splitGrantees(line), nil
}

// confirm asks whether plan should run. Anything but y/yes declines.
func (p *promptInputs) confirm(ctx context.Context, plan *batch.Plan) bool {
	fmt.Fprintf(p.out, "Apply %s to %s item(s)? [y/N]: ", plan.Target.Label(), formatCount(len(plan.Items)))

	answer, err := p.readLine(ctx)
	if err != nil {
		return false
	}

	switch strings.ToLower(answer) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// splitGrantees splits a comma or whitespace separated list.
func splitGrantees(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t'
	})

	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}

	return out
}
