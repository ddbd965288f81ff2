package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const (
	// DefaultMaxWorkers is the configured pool ceiling when none is given.
	DefaultMaxWorkers = 4
	// HardMaxWorkers caps the pool regardless of configuration or CPU count.
	HardMaxWorkers = 8
)

var errInvalidPoolSize = errors.New("batch: worker pool size must be at least 1")

// PoolSize returns min(configured, min(cpus, HardMaxWorkers)), never below 1.
// A non-positive configured value means DefaultMaxWorkers.
func PoolSize(configured, cpus int) int {
	if configured <= 0 {
		configured = DefaultMaxWorkers
	}

	size := min(configured, cpus, HardMaxWorkers)
	if size < 1 {
		size = 1
	}

	return size
}

// queuedItem pairs a WorkItem with its submission index so in-flight
// bookkeeping does not depend on TargetID uniqueness.
type queuedItem struct {
	idx  int
	item WorkItem
}

// WorkerPool runs a fixed number of goroutines that pull work items from a
// shared queue in submission order. Each item goes to exactly one worker.
// A crash inside the per-item call is recovered at the item boundary and
// becomes a FatalCallCrash outcome; it never takes down the worker.
type WorkerPool struct {
	size     int
	stats    *StatsAggregator
	progress *ProgressReporter
	metrics  *Metrics
	logger   *slog.Logger
	nowFunc  func() time.Time

	// mu guards the in-flight set. Workers hold it while settling an
	// outcome so an item is never both recorded by its worker and abandoned
	// by the orchestrator.
	mu           sync.Mutex
	inflight     map[int]WorkItem
	undispatched []WorkItem

	dispatchDone chan struct{}
}

// NewWorkerPool creates a pool of size workers without starting them.
func NewWorkerPool(
	size int,
	stats *StatsAggregator,
	progress *ProgressReporter,
	metrics *Metrics,
	logger *slog.Logger,
) (*WorkerPool, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: got %d", errInvalidPoolSize, size)
	}

	if stats == nil || progress == nil {
		return nil, errors.New("batch: worker pool needs a stats aggregator and progress reporter")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &WorkerPool{
		size:         size,
		stats:        stats,
		progress:     progress,
		metrics:      metrics,
		logger:       logger,
		nowFunc:      time.Now,
		inflight:     make(map[int]WorkItem),
		dispatchDone: make(chan struct{}),
	}, nil
}

// Size returns the number of workers.
func (wp *WorkerPool) Size() int {
	return wp.size
}

// Execute starts the workers and a dispatcher feeding items in order. It
// returns a stream of outcomes, closed once every worker has exited.
//
// Canceling ctx stops dispatch of new items; items already handed to a
// worker run to completion. Items are executed with a context detached from
// ctx's cancellation because the backend offers no abort primitive.
func (wp *WorkerPool) Execute(ctx context.Context, items []WorkItem, apply ApplyFunc) <-chan Outcome {
	queue := make(chan queuedItem)
	// Sized to the batch so workers never block on a slow reader.
	results := make(chan Outcome, max(len(items), 1))
	execCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup

	for id := range wp.size {
		wg.Add(1)

		go func() {
			defer wg.Done()
			wp.worker(execCtx, id, queue, results, apply)
		}()
	}

	wp.logger.Info("worker pool started",
		slog.Int("workers", wp.size),
		slog.Int("items", len(items)),
	)

	go func() {
		wp.dispatch(ctx, items, queue)
		wg.Wait()

		wp.logger.Debug("worker pool stopped")
		close(results)
	}()

	return results
}

// dispatch feeds the queue in submission order until all items are handed
// out or ctx is done. An item is marked in flight before it is offered so
// it is always either in flight, settled, or undispatched.
func (wp *WorkerPool) dispatch(ctx context.Context, items []WorkItem, queue chan<- queuedItem) {
	defer close(wp.dispatchDone)
	defer close(queue)

	for i := range items {
		if ctx.Err() != nil {
			wp.markUndispatched(items[i:])
			return
		}

		wp.mu.Lock()
		wp.inflight[i] = items[i]
		wp.mu.Unlock()

		select {
		case queue <- queuedItem{idx: i, item: items[i]}:
		case <-ctx.Done():
			wp.mu.Lock()
			delete(wp.inflight, i)
			wp.mu.Unlock()
			wp.markUndispatched(items[i:])

			return
		}
	}
}

func (wp *WorkerPool) markUndispatched(rest []WorkItem) {
	wp.mu.Lock()
	wp.undispatched = append(wp.undispatched, rest...)
	wp.mu.Unlock()

	wp.logger.Info("worker pool: dispatch stopped",
		slog.Int("undispatched", len(rest)),
	)
}

// worker processes one item at a time until the queue is closed.
func (wp *WorkerPool) worker(
	ctx context.Context,
	id int,
	queue <-chan queuedItem,
	results chan<- Outcome,
	apply ApplyFunc,
) {
	for qi := range queue {
		wp.metrics.itemStarted()

		out := safeApply(ctx, qi.item, apply, wp.logger, wp.nowFunc)

		if wp.settle(qi.idx, &out) {
			results <- out
		} else {
			wp.logger.Warn("worker: outcome for abandoned item discarded",
				slog.Int("worker", id),
				slog.String("target", qi.item.TargetID),
				slog.String("status", string(out.Status)),
			)
		}
	}
}

// settle records a finished item exactly once. It returns false when the
// orchestrator already abandoned the item.
func (wp *WorkerPool) settle(idx int, out *Outcome) bool {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if _, ok := wp.inflight[idx]; !ok {
		return false
	}

	delete(wp.inflight, idx)

	wp.stats.Record(*out)
	wp.progress.Advance()
	wp.metrics.itemFinished(out)

	return true
}

// DispatchDone is closed once the dispatcher has stopped handing out items.
func (wp *WorkerPool) DispatchDone() <-chan struct{} {
	return wp.dispatchDone
}

// Undispatched returns items that were never handed to a worker. Only
// meaningful after DispatchDone is closed.
func (wp *WorkerPool) Undispatched() []WorkItem {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	out := make([]WorkItem, len(wp.undispatched))
	copy(out, wp.undispatched)

	return out
}

// Abandon stops waiting for in-flight items. It returns the items still
// executing; their eventual outcomes are discarded by the workers. Call only
// after DispatchDone is closed.
func (wp *WorkerPool) Abandon() []WorkItem {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	out := make([]WorkItem, 0, len(wp.inflight))
	for idx, item := range wp.inflight {
		out = append(out, item)
		delete(wp.inflight, idx)
	}

	return out
}

// safeApply is the isolation boundary for one item. Any panic inside apply,
// including a memory fault surfaced through SetPanicOnFault, is converted
// into a failed outcome of kind FatalCallCrash.
func safeApply(
	ctx context.Context,
	item WorkItem,
	apply ApplyFunc,
	logger *slog.Logger,
	nowFunc func() time.Time,
) (out Outcome) {
	start := nowFunc()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("worker: recovered crash in backend call",
				slog.String("target", item.TargetID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)

			now := nowFunc()
			out = Outcome{
				TargetID:  item.TargetID,
				Change:    item.Change,
				Status:    StatusFailed,
				Kind:      KindFatalCallCrash,
				Message:   fmt.Sprintf("fatal call crash: %v", r),
				Timestamp: now,
				Duration:  now.Sub(start),
			}
		}
	}()

	defer debug.SetPanicOnFault(debug.SetPanicOnFault(true))

	return apply(ctx, item)
}
