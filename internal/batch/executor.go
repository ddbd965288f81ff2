package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
)

var (
	errNoGrantees      = errors.New("no grantees provided")
	errNoJustification = errors.New("backend requires a justification and none was collected")
)

// ApplyFunc executes one work item and reports its outcome. It must not
// panic deliberately; the pool recovers anyway.
type ApplyFunc func(ctx context.Context, item WorkItem) Outcome

// itemExecutor turns one WorkItem into one backend call sequence: lock
// pre-check, protection setup, apply, a single justification retry, and the
// resource-release step. Every per-item error is converted into an Outcome.
type itemExecutor struct {
	store         LabelStore
	locker        Locker
	releaser      ResourceReleaser // nil when the store holds no native resources
	batchID       string
	justification string
	grantees      []string
	logger        *slog.Logger
	nowFunc       func() time.Time
}

// Execute implements ApplyFunc.
func (e *itemExecutor) Execute(ctx context.Context, item WorkItem) Outcome {
	start := e.nowFunc()
	out := Outcome{
		TargetID: item.TargetID,
		Change:   item.Change,
	}

	finish := func(status Status, kind ErrorKind, msg string) Outcome {
		now := e.nowFunc()
		out.Status = status
		out.Kind = kind
		out.Message = msg
		out.Timestamp = now
		out.Duration = now.Sub(start)

		return out
	}

	locked, err := e.locker.IsLocked(item.TargetID)
	if err != nil {
		// The probe itself failing is not evidence of a lock; let the
		// backend decide whether the target is usable.
		e.logger.Debug("executor: lock probe failed",
			slog.String("target", item.TargetID),
			slog.String("error", err.Error()),
		)
	}

	if locked {
		e.logger.Info("executor: target locked, skipping",
			slog.String("target", item.TargetID),
		)

		return finish(StatusSkipped, KindTargetLocked, "target is exclusively held by another process")
	}

	opts := ApplyOptions{BatchID: e.batchID}
	if item.Change == ChangeDowngrade {
		opts.Justification = e.justification
	}

	if item.Desired.RequiresProtection {
		prot, protErr := buildProtection(e.grantees)
		if protErr != nil {
			return finish(StatusFailed, KindProtectionSetupFailed,
				fmt.Sprintf("protection setup: %v", protErr))
		}

		opts.Protection = prot
	}

	err = e.store.Apply(ctx, item.TargetID, item.Desired, opts)
	if errors.Is(err, ErrJustificationRequired) {
		if e.justification == "" {
			return finish(StatusFailed, KindJustificationRequired, errNoJustification.Error())
		}

		e.logger.Info("executor: backend requested justification, retrying once",
			slog.String("target", item.TargetID),
		)

		opts.Justification = e.justification

		if retryErr := e.store.Apply(ctx, item.TargetID, item.Desired, opts); retryErr != nil {
			return finish(StatusFailed, KindJustificationRetryFailed,
				fmt.Sprintf("retry with justification: %v", retryErr))
		}

		err = nil
	}

	if err != nil {
		return finish(StatusFailed, KindBackendCallFailed, err.Error())
	}

	if e.releaser != nil {
		e.releaser.ReleaseResources()
	}

	return finish(StatusSucceeded, KindNone, "applied "+item.Desired.Label())
}

// buildProtection validates grantees and returns a fresh settings value for
// one item. Each item gets its own copy.
func buildProtection(grantees []string) (*ProtectionSettings, error) {
	if len(grantees) == 0 {
		return nil, errNoGrantees
	}

	out := make([]string, 0, len(grantees))

	for _, g := range grantees {
		addr, err := mail.ParseAddress(strings.TrimSpace(g))
		if err != nil {
			return nil, fmt.Errorf("grantee %q: %w", g, err)
		}

		out = append(out, strings.ToLower(addr.Address))
	}

	return &ProtectionSettings{Grantees: out}, nil
}
