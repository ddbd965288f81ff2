package batch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressReporter_ConcurrentAdvance(t *testing.T) {
	t.Parallel()

	p := NewProgressReporter(1000)

	var wg sync.WaitGroup

	for range 10 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for range 100 {
				p.Advance()
			}
		}()
	}

	// Observers may poll while workers advance.
	var last int64

	for range 50 {
		snap := p.Snapshot()
		assert.GreaterOrEqual(t, snap.Processed, last)
		last = snap.Processed
	}

	wg.Wait()

	snap := p.Snapshot()
	assert.Equal(t, int64(1000), snap.Processed)
	assert.Equal(t, int64(1000), snap.Total)
	assert.InDelta(t, 1.0, snap.Fraction(), 1e-9)
}

func TestProgressReporter_NilSnapshot(t *testing.T) {
	t.Parallel()

	var p *ProgressReporter

	assert.Equal(t, ProgressState{}, p.Snapshot())
}

func TestProgressState_Fraction(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, ProgressState{}.Fraction(), 1e-9)
	assert.InDelta(t, 0.25, ProgressState{Processed: 1, Total: 4}.Fraction(), 1e-9)
}
