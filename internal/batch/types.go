// Package batch implements the bounded concurrent batch-mutation engine:
// change analysis, a crash-isolating worker pool, lock-free progress
// reporting, thread-safe statistics aggregation, and the orchestrator that
// ties them together with cancellation and timeout handling.
package batch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Batch-level error sentinels. Per-item problems never use these; they are
// reported through Outcome.Kind instead.
var (
	// ErrNoItems is returned when a batch contains no work items after de-duplication.
	ErrNoItems = errors.New("batch: no work items")

	// ErrInvalidTarget is returned when the desired state has no identity.
	ErrInvalidTarget = errors.New("batch: target state has no id")

	// ErrInputRequired is returned when a one-time input (justification or
	// grantees) is needed but could not be collected before dispatch.
	ErrInputRequired = errors.New("batch: required input not provided")

	// ErrBatchRunning is returned when Prepare or Execute is called while
	// another batch is in flight on the same orchestrator.
	ErrBatchRunning = errors.New("batch: another batch is running")

	// ErrBatchCancelled is the context cause recorded when the caller cancels.
	ErrBatchCancelled = errors.New("batch: cancelled")

	// ErrBatchTimedOut is the context cause recorded when the wall-clock
	// budget expires.
	ErrBatchTimedOut = errors.New("batch: timed out")
)

// ErrJustificationRequired is returned by a LabelStore when the backend
// refuses a mutation until a justification is supplied. The engine retries
// once with the pre-collected justification.
var ErrJustificationRequired = errors.New("label store: justification required")

// unknownRank is the rank assigned to a current state the backend could not
// resolve. Any move away from it classifies as a downgrade.
const unknownRank = math.MaxInt

// State is a classification identity with its ordinal rank.
type State struct {
	ID                 string
	Name               string
	Rank               int
	RequiresProtection bool

	// Unknown marks a state the backend reported but could not resolve to a
	// known identity (for example a protected document with a foreign label).
	Unknown bool
}

// UnknownState returns the placeholder used when the current state of a
// target cannot be determined.
func UnknownState() *State {
	return &State{Name: "unknown", Rank: unknownRank, Unknown: true}
}

// effectiveRank returns the rank used for comparison; unknown states rank
// above everything.
func (s *State) effectiveRank() int {
	if s.Unknown {
		return unknownRank
	}

	return s.Rank
}

// Label returns a display name for the state.
func (s *State) Label() string {
	if s == nil {
		return "(none)"
	}

	if s.Name != "" {
		return s.Name
	}

	if s.ID != "" {
		return s.ID
	}

	return "unknown"
}

// ChangeType classifies the transition a work item represents.
type ChangeType int

// Change types. The zero value means the item has not been analyzed yet.
const (
	ChangeNew ChangeType = iota + 1
	ChangeUpgrade
	ChangeDowngrade
	ChangeSame
	ChangeUnchanged
)

func (c ChangeType) String() string {
	switch c {
	case ChangeNew:
		return "new"
	case ChangeUpgrade:
		return "upgrade"
	case ChangeDowngrade:
		return "downgrade"
	case ChangeSame:
		return "same"
	case ChangeUnchanged:
		return "unchanged"
	default:
		return "unclassified"
	}
}

// MarshalText renders the change type by name so reports export readably.
func (c ChangeType) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText parses a change type name written by MarshalText.
func (c *ChangeType) UnmarshalText(text []byte) error {
	for _, ct := range AllChangeTypes {
		if ct.String() == string(text) {
			*c = ct
			return nil
		}
	}

	return fmt.Errorf("batch: unknown change type %q", text)
}

// AllChangeTypes lists the change types in display order.
var AllChangeTypes = []ChangeType{ChangeNew, ChangeUpgrade, ChangeDowngrade, ChangeSame, ChangeUnchanged}

// WorkItem is one unit of batch work: bring TargetID to Desired.
// Each dispatched WorkItem is owned by exactly one worker.
type WorkItem struct {
	TargetID string
	Current  *State // nil when the target carries no classification
	Desired  State
	Change   ChangeType
}

// ErrorKind is the machine-readable reason attached to a failed or skipped Outcome.
type ErrorKind string

// Error kinds.
const (
	KindNone                     ErrorKind = ""
	KindTargetLocked             ErrorKind = "target_locked"
	KindJustificationRequired    ErrorKind = "justification_required"
	KindJustificationRetryFailed ErrorKind = "justification_retry_failed"
	KindProtectionSetupFailed    ErrorKind = "protection_setup_failed"
	KindBackendCallFailed        ErrorKind = "backend_call_failed"
	KindFatalCallCrash           ErrorKind = "fatal_call_crash"
	KindTimedOut                 ErrorKind = "timed_out"
	KindNotDispatched            ErrorKind = "not_dispatched"
)

// Status is the terminal state of a single work item.
type Status string

// Outcome statuses.
const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Outcome is the result of executing one WorkItem.
type Outcome struct {
	TargetID  string        `json:"target_id" yaml:"target_id"`
	Change    ChangeType    `json:"change" yaml:"change"`
	Status    Status        `json:"status" yaml:"status"`
	Kind      ErrorKind     `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Message   string        `json:"message,omitempty" yaml:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp" yaml:"timestamp"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
}

// Success reports whether the item was applied.
func (o *Outcome) Success() bool {
	return o.Status == StatusSucceeded
}

// ProgressState is a point-in-time view of batch progress.
type ProgressState struct {
	Processed int64
	Total     int64
}

// Fraction returns progress in [0,1]; an empty batch counts as complete.
func (p ProgressState) Fraction() float64 {
	if p.Total <= 0 {
		return 1
	}

	return float64(p.Processed) / float64(p.Total)
}

// Severity ranks a warning.
type Severity int

// Warning severities, lowest first.
const (
	SeverityInfo Severity = iota
	SeverityMedium
	SeverityHigh
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// MarshalText renders the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Warning codes raised by the analyzer.
const (
	WarnMassDowngrade      = "mass-downgrade"
	WarnLargeBatch         = "large-batch"
	WarnNoOp               = "no-op"
	WarnProtectionRequired = "protection-required"
	WarnMixedDirection     = "mixed-direction"
)

// Warning is a policy notice derived from analysis output.
type Warning struct {
	Severity Severity `json:"severity" yaml:"severity"`
	Code     string   `json:"code" yaml:"code"`
	Message  string   `json:"message" yaml:"message"`
}

// ProtectionSettings carries the grantees applied with a protected state.
type ProtectionSettings struct {
	Grantees []string
}

// ApplyOptions accompany a mutating call.
type ApplyOptions struct {
	BatchID       string
	Justification string
	Protection    *ProtectionSettings
}

// LabelStore is the backend capability the engine drives. Implementations
// must be safe for concurrent use by multiple workers.
type LabelStore interface {
	GetCurrentState(ctx context.Context, targetID string) (*State, error)
	Apply(ctx context.Context, targetID string, desired State, opts ApplyOptions) error
}

// ResourceReleaser is optionally implemented by a LabelStore that holds
// native resources which should be released after every successful mutation.
type ResourceReleaser interface {
	ReleaseResources()
}

// Locker reports whether a target is exclusively held by another process.
type Locker interface {
	IsLocked(targetID string) (bool, error)
}

// JustificationRequest describes why a justification is being collected.
type JustificationRequest struct {
	Downgrades int
	Target     State
}

// ProtectionRequest describes why grantees are being collected.
type ProtectionRequest struct {
	Items  int
	Target State
}

// InputProvider collects one-time interactive input before dispatch.
// Each method is called at most once per batch.
type InputProvider interface {
	Justification(ctx context.Context, req JustificationRequest) (string, error)
	Grantees(ctx context.Context, req ProtectionRequest) ([]string, error)
}
