package batch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T, store *mockStore, locker Locker) *itemExecutor {
	t.Helper()

	if locker == nil {
		locker = noLocks{}
	}

	return &itemExecutor{
		store:    store,
		locker:   locker,
		releaser: store,
		batchID:  "batch-1",
		logger:   testLogger(t),
		nowFunc:  time.Now,
	}
}

func TestExecutor_Success(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	e := newTestExecutor(t, store, nil)

	out := e.Execute(t.Context(), WorkItem{TargetID: "a", Desired: stateInternal, Change: ChangeNew})

	assert.Equal(t, StatusSucceeded, out.Status)
	assert.Equal(t, KindNone, out.Kind)
	assert.Equal(t, "a", out.TargetID)
	assert.Equal(t, int64(1), store.releases.Load())

	calls := store.applyCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "batch-1", calls[0].Opts.BatchID)
	assert.Empty(t, calls[0].Opts.Justification)
	assert.Nil(t, calls[0].Opts.Protection)
}

func TestExecutor_LockedTargetSkipped(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	e := newTestExecutor(t, store, &mockLocker{locked: map[string]bool{"a": true}})

	out := e.Execute(t.Context(), WorkItem{TargetID: "a", Desired: stateInternal, Change: ChangeNew})

	assert.Equal(t, StatusSkipped, out.Status)
	assert.Equal(t, KindTargetLocked, out.Kind)
	assert.Empty(t, store.applyCalls())
	assert.Zero(t, store.releases.Load())
}

func TestExecutor_LockProbeErrorIgnored(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	e := newTestExecutor(t, store, &mockLocker{err: errors.New("permission denied")})

	out := e.Execute(t.Context(), WorkItem{TargetID: "a", Desired: stateInternal, Change: ChangeNew})

	assert.Equal(t, StatusSucceeded, out.Status)
}

func TestExecutor_DowngradeCarriesJustification(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	e := newTestExecutor(t, store, nil)
	e.justification = "declassified by review"

	e.Execute(t.Context(), WorkItem{TargetID: "down", Desired: statePublic, Change: ChangeDowngrade})
	e.Execute(t.Context(), WorkItem{TargetID: "up", Desired: stateConfidential, Change: ChangeUpgrade})

	calls := store.applyCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "declassified by review", calls[0].Opts.Justification)
	assert.Empty(t, calls[1].Opts.Justification)
}

func TestExecutor_JustificationRetrySucceeds(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.applyFn = func(_ context.Context, _ string, _ State, opts ApplyOptions) error {
		if opts.Justification == "" {
			return ErrJustificationRequired
		}

		return nil
	}

	e := newTestExecutor(t, store, nil)
	e.justification = "needed"

	out := e.Execute(t.Context(), WorkItem{TargetID: "a", Desired: stateInternal, Change: ChangeUnchanged})

	assert.Equal(t, StatusSucceeded, out.Status)
	assert.Equal(t, 2, store.callsFor("a"))
}

func TestExecutor_JustificationRetryFails(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.applyFn = func(context.Context, string, State, ApplyOptions) error {
		return ErrJustificationRequired
	}

	e := newTestExecutor(t, store, nil)
	e.justification = "needed"

	out := e.Execute(t.Context(), WorkItem{TargetID: "a", Desired: statePublic, Change: ChangeDowngrade})

	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, KindJustificationRetryFailed, out.Kind)
	assert.Equal(t, 2, store.callsFor("a"), "exactly one retry")
}

func TestExecutor_JustificationMissing(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.applyFn = func(context.Context, string, State, ApplyOptions) error {
		return ErrJustificationRequired
	}

	e := newTestExecutor(t, store, nil)

	out := e.Execute(t.Context(), WorkItem{TargetID: "a", Desired: statePublic, Change: ChangeDowngrade})

	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, KindJustificationRequired, out.Kind)
	assert.Equal(t, 1, store.callsFor("a"))
}

func TestExecutor_BackendError(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	store.applyFn = func(context.Context, string, State, ApplyOptions) error {
		return errors.New("access denied")
	}

	e := newTestExecutor(t, store, nil)

	out := e.Execute(t.Context(), WorkItem{TargetID: "a", Desired: stateInternal, Change: ChangeNew})

	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, KindBackendCallFailed, out.Kind)
	assert.Contains(t, out.Message, "access denied")
	assert.Zero(t, store.releases.Load())
}

func TestExecutor_ProtectionApplied(t *testing.T) {
	t.Parallel()

	store := newMockStore()
	e := newTestExecutor(t, store, nil)
	e.grantees = []string{"Alice <Alice@Example.com>", " bob@example.com "}

	out := e.Execute(t.Context(), WorkItem{TargetID: "a", Desired: stateRestricted, Change: ChangeUpgrade})
	require.Equal(t, StatusSucceeded, out.Status)

	calls := store.applyCalls()
	require.Len(t, calls, 1)
	require.NotNil(t, calls[0].Opts.Protection)
	assert.Equal(t, []string{"alice@example.com", "bob@example.com"}, calls[0].Opts.Protection.Grantees)
}

func TestExecutor_ProtectionSetupFailed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		grantees []string
	}{
		{"no grantees", nil},
		{"invalid address", []string{"not an address"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := newMockStore()
			e := newTestExecutor(t, store, nil)
			e.grantees = tt.grantees

			out := e.Execute(t.Context(), WorkItem{TargetID: "a", Desired: stateRestricted, Change: ChangeUpgrade})

			assert.Equal(t, StatusFailed, out.Status)
			assert.Equal(t, KindProtectionSetupFailed, out.Kind)
			assert.Empty(t, store.applyCalls())
		})
	}
}
