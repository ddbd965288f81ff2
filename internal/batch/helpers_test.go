package batch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
)

// --- Test helpers ---

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(&testWriter{t: t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// discardLogger is used where goroutines may outlive the test.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testWriter adapts testing.T to io.Writer for slog output.
type testWriter struct {
	t *testing.T
}

func (w *testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

var (
	statePublic       = State{ID: "public", Name: "Public", Rank: 0}
	stateInternal     = State{ID: "internal", Name: "Internal", Rank: 1}
	stateConfidential = State{ID: "confidential", Name: "Confidential", Rank: 2}
	stateRestricted   = State{ID: "restricted", Name: "Restricted", Rank: 3, RequiresProtection: true}
)

func statePtr(s State) *State {
	return &s
}

// itemsWith builds n items named t0..t(n-1) all currently at current.
func itemsWith(n int, current *State) []WorkItem {
	items := make([]WorkItem, n)
	for i := range items {
		items[i] = WorkItem{TargetID: "t" + strconv.Itoa(i)}
		if current != nil {
			items[i].Current = statePtr(*current)
		}
	}

	return items
}

// --- Mock store ---

type applyCall struct {
	TargetID string
	Desired  State
	Opts     ApplyOptions
}

// mockStore implements LabelStore and ResourceReleaser.
type mockStore struct {
	mu      sync.Mutex
	states  map[string]*State
	getErr  map[string]error
	calls   []applyCall
	perItem map[string]int

	// applyFn, when set, decides each Apply result.
	applyFn func(ctx context.Context, targetID string, desired State, opts ApplyOptions) error

	releases atomic.Int64
}

func newMockStore() *mockStore {
	return &mockStore{
		states:  make(map[string]*State),
		getErr:  make(map[string]error),
		perItem: make(map[string]int),
	}
}

func (s *mockStore) GetCurrentState(_ context.Context, targetID string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err, ok := s.getErr[targetID]; ok {
		return nil, err
	}

	st, ok := s.states[targetID]
	if !ok {
		return nil, nil
	}

	cp := *st

	return &cp, nil
}

func (s *mockStore) Apply(ctx context.Context, targetID string, desired State, opts ApplyOptions) error {
	s.mu.Lock()
	s.calls = append(s.calls, applyCall{TargetID: targetID, Desired: desired, Opts: opts})
	s.perItem[targetID]++
	fn := s.applyFn
	s.mu.Unlock()

	if fn != nil {
		return fn(ctx, targetID, desired, opts)
	}

	return nil
}

func (s *mockStore) ReleaseResources() {
	s.releases.Add(1)
}

func (s *mockStore) applyCalls() []applyCall {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]applyCall, len(s.calls))
	copy(out, s.calls)

	return out
}

func (s *mockStore) callsFor(targetID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.perItem[targetID]
}

// --- Mock locker ---

type mockLocker struct {
	locked map[string]bool
	err    error
}

func (l *mockLocker) IsLocked(targetID string) (bool, error) {
	if l.err != nil {
		return false, l.err
	}

	return l.locked[targetID], nil
}

// --- Mock input provider ---

type mockInputs struct {
	justification    string
	justificationErr error
	grantees         []string

	justificationCalls atomic.Int64
	granteeCalls       atomic.Int64
}

func (m *mockInputs) Justification(context.Context, JustificationRequest) (string, error) {
	m.justificationCalls.Add(1)
	return m.justification, m.justificationErr
}

func (m *mockInputs) Grantees(context.Context, ProtectionRequest) ([]string, error) {
	m.granteeCalls.Add(1)

	if len(m.grantees) == 0 {
		return nil, errors.New("no grantees entered")
	}

	return m.grantees, nil
}
