package main

import (
	"bytes"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tonimelisma/labelbatch/internal/batch"
)

// lockedBuffer is a bytes.Buffer safe for one writer goroutine and a reader.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

func TestStartProgress_DrawsUntilStopped(t *testing.T) {
	t.Parallel()

	var processed atomic.Int64

	snap := func() batch.ProgressState {
		return batch.ProgressState{Processed: processed.Load(), Total: 2000}
	}

	var out lockedBuffer

	stop := startProgress(&out, true, snap, 5*time.Millisecond)

	processed.Store(500)
	time.Sleep(30 * time.Millisecond)
	processed.Store(2000)
	stop()
	stop()

	got := out.String()
	assert.Contains(t, got, "labeling 2,000/2,000 (100%)")
	assert.True(t, len(got) > 0 && got[len(got)-1] == '\n')
}

func TestStartProgress_Disabled(t *testing.T) {
	t.Parallel()

	var out lockedBuffer

	stop := startProgress(&out, false, func() batch.ProgressState {
		t.Error("snapshot called while disabled")
		return batch.ProgressState{}
	}, time.Millisecond)

	time.Sleep(10 * time.Millisecond)
	stop()

	assert.Empty(t, out.String())
}
