package batch

import "sync/atomic"

// ProgressReporter counts processed items. Workers call Advance; observers
// call Snapshot at any rate. Neither side ever blocks the other.
type ProgressReporter struct {
	processed atomic.Int64
	total     atomic.Int64
}

// NewProgressReporter creates a reporter for a batch of total items.
func NewProgressReporter(total int) *ProgressReporter {
	p := &ProgressReporter{}
	p.total.Store(int64(total))

	return p
}

// Advance records one finished item (success, failure, or skip).
func (p *ProgressReporter) Advance() {
	p.processed.Add(1)
}

// Snapshot returns the current counters. The two loads are independent, so
// the pair is eventually consistent; Processed never decreases.
func (p *ProgressReporter) Snapshot() ProgressState {
	if p == nil {
		return ProgressState{}
	}

	return ProgressState{
		Processed: p.processed.Load(),
		Total:     p.total.Load(),
	}
}
