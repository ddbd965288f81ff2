package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/tonimelisma/labelbatch/internal/batch"
)

// startProgress redraws a one-line progress counter on w every interval
// until stop is called. snapshot must be safe to call concurrently; the
// orchestrator's Snapshot is lock-free. With enabled false it draws nothing.
func startProgress(w io.Writer, enabled bool, snapshot func() batch.ProgressState, interval time.Duration) (stop func()) {
	if !enabled {
		return func() {}
	}

	done := make(chan struct{})

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				drawProgress(w, snapshot())
			case <-done:
				drawProgress(w, snapshot())
				fmt.Fprintln(w)

				return
			}
		}
	}()

	var once sync.Once

	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}

func drawProgress(w io.Writer, p batch.ProgressState) {
	fmt.Fprintf(w, "\rlabeling %s/%s (%.0f%%)",
		humanize.Comma(p.Processed), humanize.Comma(p.Total), p.Fraction()*100)
}
