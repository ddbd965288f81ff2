package batch

import (
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// maxRecordedItems caps the failed and skipped outcome lists so a huge batch
// with a broken backend cannot grow memory without bound. Counters stay
// accurate regardless of the cap.
const maxRecordedItems = 10_000

// ExecMode records how a batch was executed.
type ExecMode string

// Execution modes.
const (
	ModeNone     ExecMode = ""
	ModeSerial   ExecMode = "serial"
	ModeParallel ExecMode = "parallel"
)

// Report is the final, frozen result of a batch.
//
// FailedItems and SkippedItems are in completion order, which is
// non-deterministic when the batch ran in parallel. NotDispatchedItems is in
// submission order.
type Report struct {
	BatchID     string        `json:"batch_id" yaml:"batch_id"`
	TargetState string        `json:"target_state" yaml:"target_state"`
	Mode        ExecMode      `json:"mode" yaml:"mode"`
	Workers     int           `json:"workers" yaml:"workers"`
	StartedAt   time.Time     `json:"started_at" yaml:"started_at"`
	Elapsed     time.Duration `json:"elapsed" yaml:"elapsed"`

	Submitted      int `json:"submitted" yaml:"submitted"`
	Duplicates     int `json:"duplicates" yaml:"duplicates"`
	TotalProcessed int `json:"total_processed" yaml:"total_processed"`
	SuccessCount   int `json:"success_count" yaml:"success_count"`
	FailureCount   int `json:"failure_count" yaml:"failure_count"`
	SkippedCount   int `json:"skipped_count" yaml:"skipped_count"`
	// NotDispatched counts items that never started because the batch was
	// cancelled. They are not part of TotalProcessed.
	NotDispatched int `json:"not_dispatched" yaml:"not_dispatched"`

	ChangeTypeBreakdown map[ChangeType]int `json:"change_types" yaml:"change_types"`
	FailedItems         []Outcome          `json:"failed_items" yaml:"failed_items"`
	SkippedItems        []Outcome          `json:"skipped_items" yaml:"skipped_items"`
	NotDispatchedItems  []Outcome          `json:"not_dispatched_items" yaml:"not_dispatched_items"`

	Cancelled bool `json:"cancelled" yaml:"cancelled"`
	TimedOut  bool `json:"timed_out" yaml:"timed_out"`
	Aborted   bool `json:"aborted" yaml:"aborted"`
}

// Balanced reports whether every processed item is accounted for exactly once.
func (r *Report) Balanced() bool {
	return r.SuccessCount+r.FailureCount+r.SkippedCount == r.TotalProcessed &&
		r.TotalProcessed+r.NotDispatched == r.Submitted
}

// StatsAggregator accumulates outcomes into a Report. Counters are atomic so
// Counts never waits on a writer; the outcome lists and breakdown are guarded
// by a mutex held only for the append, never across a backend call.
type StatsAggregator struct {
	succeeded atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
	dropped   atomic.Int64

	mu        sync.Mutex
	breakdown map[ChangeType]int
	failures  []Outcome
	skips     []Outcome
	frozen    bool

	logger *slog.Logger
}

// NewStatsAggregator creates an empty aggregator.
func NewStatsAggregator(logger *slog.Logger) *StatsAggregator {
	if logger == nil {
		logger = slog.Default()
	}

	return &StatsAggregator{
		breakdown: make(map[ChangeType]int, len(AllChangeTypes)),
		logger:    logger,
	}
}

// Record adds one outcome. It returns false when the aggregator has already
// been frozen by FinalReport; the outcome is then discarded.
func (s *StatsAggregator) Record(o Outcome) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen {
		s.dropped.Add(1)
		s.logger.Warn("stats: outcome arrived after report was frozen",
			slog.String("target", o.TargetID),
			slog.String("status", string(o.Status)),
		)

		return false
	}

	s.breakdown[o.Change]++

	switch o.Status {
	case StatusSucceeded:
		s.succeeded.Add(1)
	case StatusSkipped:
		s.skipped.Add(1)
		s.skips = appendCapped(s.skips, o)
	default:
		s.failed.Add(1)
		s.failures = appendCapped(s.failures, o)
	}

	return true
}

func appendCapped(list []Outcome, o Outcome) []Outcome {
	if len(list) >= maxRecordedItems {
		return list
	}

	return append(list, o)
}

// notDispatchedOutcomes describes items a cancelled batch never started, so
// the report still names every target left untouched. Only the count is
// exact past maxRecordedItems.
func notDispatchedOutcomes(items []WorkItem, now time.Time) []Outcome {
	n := min(len(items), maxRecordedItems)
	out := make([]Outcome, 0, n)

	for i := range items[:n] {
		out = append(out, Outcome{
			TargetID:  items[i].TargetID,
			Change:    items[i].Change,
			Status:    StatusSkipped,
			Kind:      KindNotDispatched,
			Message:   "batch cancelled before the item was dispatched",
			Timestamp: now,
		})
	}

	return out
}

// Counts returns the live success, failure, and skip counters without locking.
func (s *StatsAggregator) Counts() (succeeded, failed, skipped int) {
	return int(s.succeeded.Load()), int(s.failed.Load()), int(s.skipped.Load())
}

// Dropped returns how many outcomes arrived after the report was frozen.
func (s *StatsAggregator) Dropped() int64 {
	return s.dropped.Load()
}

// FinalReport freezes the aggregator and fills the counting fields of base.
// Outcomes recorded afterwards are dropped.
func (s *StatsAggregator) FinalReport(base Report) *Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frozen = true

	r := base
	r.SuccessCount = int(s.succeeded.Load())
	r.FailureCount = int(s.failed.Load())
	r.SkippedCount = int(s.skipped.Load())
	r.TotalProcessed = r.SuccessCount + r.FailureCount + r.SkippedCount
	r.ChangeTypeBreakdown = maps.Clone(s.breakdown)
	r.FailedItems = slices.Clone(s.failures)
	r.SkippedItems = slices.Clone(s.skips)

	if r.FailedItems == nil {
		r.FailedItems = []Outcome{}
	}

	if r.SkippedItems == nil {
		r.SkippedItems = []Outcome{}
	}

	if r.NotDispatchedItems == nil {
		r.NotDispatchedItems = []Outcome{}
	}

	return &r
}
