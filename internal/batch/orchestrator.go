package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Orchestrator defaults.
const (
	// DefaultParallelThreshold is the batch size at which the worker pool
	// pays for its setup cost.
	DefaultParallelThreshold = 30
	DefaultPollInterval      = 150 * time.Millisecond
	DefaultDrainTimeout      = 30 * time.Second
)

var errPlanMismatch = errors.New("batch: plan is not the one awaiting confirmation")

// Phase is the orchestrator's position in the batch state machine:
// Idle -> Analyzing -> AwaitingConfirmation -> Dispatching -> Running ->
// Completed | Cancelled | TimedOut.
type Phase int32

// Orchestrator phases.
const (
	PhaseIdle Phase = iota
	PhaseAnalyzing
	PhaseAwaitingConfirmation
	PhaseDispatching
	PhaseRunning
	PhaseCompleted
	PhaseCancelled
	PhaseTimedOut
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAnalyzing:
		return "analyzing"
	case PhaseAwaitingConfirmation:
		return "awaiting_confirmation"
	case PhaseDispatching:
		return "dispatching"
	case PhaseRunning:
		return "running"
	case PhaseCompleted:
		return "completed"
	case PhaseCancelled:
		return "cancelled"
	case PhaseTimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// busy reports whether a batch is between analysis and its final report.
func (p Phase) busy() bool {
	return p == PhaseAnalyzing || p == PhaseDispatching || p == PhaseRunning
}

// Config holds the options for NewOrchestrator.
type Config struct {
	Store   LabelStore    // required
	Locker  Locker        // nil: no target is ever considered locked
	Inputs  InputProvider // nil: inputs must come from RunOpts
	Metrics *Metrics      // nil: no metrics
	Logger  *slog.Logger

	MaxWorkers        int           // pool ceiling before the CPU and hard caps; 0 = DefaultMaxWorkers
	ParallelThreshold int           // 0 = DefaultParallelThreshold
	Timeout           time.Duration // overall wall-clock budget; 0 = none
	DrainTimeout      time.Duration // bound on waiting for in-flight items after a timeout; 0 = wait indefinitely
	PollInterval      time.Duration // progress wait-loop cadence; 0 = DefaultPollInterval

	Analyzer Analyzer // zero value: default thresholds
}

// RunOpts holds per-batch options.
type RunOpts struct {
	// Justification is used for downgrades and for any item the backend
	// unexpectedly asks to justify. When empty and downgrades exist, the
	// InputProvider is asked once.
	Justification string
	// Grantees are applied to every item when the target requires
	// protection. When empty, the InputProvider is asked once.
	Grantees []string
	// Timeout overrides Config.Timeout when positive.
	Timeout time.Duration
	// Confirm is consulted by RunBatch at the AwaitingConfirmation point.
	// Returning false aborts with an empty report. Nil means proceed.
	Confirm func(*Plan) bool
}

// Plan is the analyzed batch awaiting confirmation.
type Plan struct {
	BatchID    string
	Target     State
	Items      []WorkItem
	Warnings   []Warning
	Counts     map[ChangeType]int
	Submitted  int // items given to Prepare, before de-duplication
	Duplicates int
	Blank      int // items dropped for an empty TargetID
	Mode       ExecMode
	Workers    int

	NeedsJustification bool
	NeedsProtection    bool
}

// Orchestrator coordinates a batch end to end. It runs one batch at a time;
// Snapshot, Phase, and Cancel are safe to call from any goroutine.
type Orchestrator struct {
	store    LabelStore
	locker   Locker
	inputs   InputProvider
	releaser ResourceReleaser
	metrics  *Metrics
	logger   *slog.Logger
	analyzer Analyzer

	maxWorkers        int
	parallelThreshold int
	timeout           time.Duration
	drainTimeout      time.Duration
	pollInterval      time.Duration

	// Injectable for testing.
	numCPU  func() int
	newPool func(size int, stats *StatsAggregator, progress *ProgressReporter, metrics *Metrics, logger *slog.Logger) (*WorkerPool, error)
	nowFunc func() time.Time

	phase    atomic.Int32
	progress atomic.Pointer[ProgressReporter]

	mu      sync.Mutex
	pending *Plan
	cancel  context.CancelCauseFunc
}

// NewOrchestrator validates cfg and returns an idle orchestrator.
func NewOrchestrator(cfg *Config) (*Orchestrator, error) {
	if cfg == nil || cfg.Store == nil {
		return nil, errors.New("batch: orchestrator requires a label store")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	locker := cfg.Locker
	if locker == nil {
		locker = noLocks{}
	}

	analyzer := cfg.Analyzer
	if analyzer == (Analyzer{}) {
		analyzer = NewAnalyzer(0, 0)
	}

	o := &Orchestrator{
		store:             cfg.Store,
		locker:            locker,
		inputs:            cfg.Inputs,
		metrics:           cfg.Metrics,
		logger:            logger,
		analyzer:          analyzer,
		maxWorkers:        cfg.MaxWorkers,
		parallelThreshold: cfg.ParallelThreshold,
		timeout:           cfg.Timeout,
		drainTimeout:      cfg.DrainTimeout,
		pollInterval:      cfg.PollInterval,
		numCPU:            runtime.NumCPU,
		newPool:           NewWorkerPool,
		nowFunc:           time.Now,
	}

	if o.parallelThreshold <= 0 {
		o.parallelThreshold = DefaultParallelThreshold
	}

	if o.pollInterval <= 0 {
		o.pollInterval = DefaultPollInterval
	}

	if r, ok := cfg.Store.(ResourceReleaser); ok {
		o.releaser = r
	}

	return o, nil
}

// Phase returns the current state-machine phase.
func (o *Orchestrator) Phase() Phase {
	return Phase(o.phase.Load())
}

// Snapshot returns the progress of the running (or last) batch without
// blocking any worker.
func (o *Orchestrator) Snapshot() ProgressState {
	return o.progress.Load().Snapshot()
}

// Cancel requests cooperative cancellation of the running batch: no new
// items are dispatched and in-flight items finish. It is a no-op when no
// batch is running.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()

	if cancel != nil {
		o.logger.Info("orchestrator: cancellation requested")
		cancel(ErrBatchCancelled)
	}
}

// poolSize returns the worker count the next batch would use.
func (o *Orchestrator) poolSize() int {
	return PoolSize(o.maxWorkers, o.numCPU())
}

// ResolveStates asks the store for each item's current state with bounded
// parallelism. A lookup failure marks the item Unknown, which ranks highest,
// so a failed lookup can never hide a downgrade. The input is not modified.
func (o *Orchestrator) ResolveStates(ctx context.Context, items []WorkItem) ([]WorkItem, error) {
	out := make([]WorkItem, len(items))
	copy(out, items)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.poolSize())

	for i := range out {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			state, err := o.store.GetCurrentState(gctx, out[i].TargetID)
			if err != nil {
				o.logger.Warn("orchestrator: current state unavailable, treating as unknown",
					slog.String("target", out[i].TargetID),
					slog.String("error", err.Error()),
				)

				state = UnknownState()
			}

			out[i].Current = state

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("batch: resolving current states: %w", err)
	}

	return out, nil
}

// Prepare de-duplicates and classifies items against target, moving the
// orchestrator to AwaitingConfirmation. The caller inspects the plan and
// then calls Execute or Abort.
func (o *Orchestrator) Prepare(_ context.Context, items []WorkItem, target State) (*Plan, error) {
	if !o.enterPhase(PhaseAnalyzing) {
		return nil, ErrBatchRunning
	}

	if target.ID == "" {
		o.phase.Store(int32(PhaseIdle))
		return nil, ErrInvalidTarget
	}

	unique, dups, blank := Dedupe(items)
	if dups > 0 {
		o.logger.Info("orchestrator: removed duplicate targets", slog.Int("duplicates", dups))
	}

	if blank > 0 {
		o.logger.Warn("orchestrator: ignored targets with a blank id", slog.Int("blank", blank))
	}

	if len(unique) == 0 {
		o.phase.Store(int32(PhaseIdle))
		return nil, ErrNoItems
	}

	classified, warnings := o.analyzer.Analyze(unique, target)
	counts := CountChanges(classified)

	plan := &Plan{
		BatchID:            uuid.NewString(),
		Target:             target,
		Items:              classified,
		Warnings:           warnings,
		Counts:             counts,
		Submitted:          len(items),
		Duplicates:         dups,
		Blank:              blank,
		Mode:               ModeSerial,
		Workers:            1,
		NeedsJustification: counts[ChangeDowngrade] > 0,
		NeedsProtection:    target.RequiresProtection,
	}

	if len(classified) >= o.parallelThreshold {
		plan.Mode = ModeParallel
		plan.Workers = o.poolSize()
	}

	for _, w := range warnings {
		o.logger.Warn("orchestrator: "+w.Code,
			slog.String("severity", w.Severity.String()),
			slog.String("detail", w.Message),
		)
	}

	o.logger.Info("orchestrator: batch analyzed",
		slog.String("batch_id", plan.BatchID),
		slog.String("target", target.ID),
		slog.Int("items", len(classified)),
		slog.Int("downgrades", counts[ChangeDowngrade]),
		slog.String("mode", string(plan.Mode)),
	)

	o.mu.Lock()
	o.pending = plan
	o.mu.Unlock()

	o.phase.Store(int32(PhaseAwaitingConfirmation))

	return plan, nil
}

// enterPhase moves to next unless a batch is already in progress.
func (o *Orchestrator) enterPhase(next Phase) bool {
	for {
		cur := o.phase.Load()
		if Phase(cur).busy() {
			return false
		}

		if o.phase.CompareAndSwap(cur, int32(next)) {
			return true
		}
	}
}

// Abort declines a prepared plan. The returned report has zero processed
// items; nothing was sent to the backend.
func (o *Orchestrator) Abort(plan *Plan) *Report {
	o.mu.Lock()
	if o.pending == plan {
		o.pending = nil
	}
	o.mu.Unlock()

	o.phase.CompareAndSwap(int32(PhaseAwaitingConfirmation), int32(PhaseCancelled))

	r := &Report{
		BatchID:             plan.BatchID,
		TargetState:         plan.Target.ID,
		StartedAt:           o.nowFunc(),
		Submitted:           len(plan.Items),
		Duplicates:          plan.Duplicates,
		NotDispatched:       len(plan.Items),
		ChangeTypeBreakdown: map[ChangeType]int{},
		FailedItems:         []Outcome{},
		SkippedItems:        []Outcome{},
		NotDispatchedItems:  []Outcome{},
		Cancelled:           true,
		Aborted:             true,
	}

	o.metrics.batchFinished(r)
	o.logger.Info("orchestrator: batch aborted before dispatch", slog.String("batch_id", plan.BatchID))

	return r
}

// RunBatch prepares, optionally confirms, and executes a batch. It blocks
// until the final report is ready.
func (o *Orchestrator) RunBatch(ctx context.Context, items []WorkItem, target State, opts RunOpts) (*Report, error) {
	plan, err := o.Prepare(ctx, items, target)
	if err != nil {
		return nil, err
	}

	if opts.Confirm != nil && !opts.Confirm(plan) {
		return o.Abort(plan), nil
	}

	return o.Execute(ctx, plan, opts)
}

// Execute runs a prepared plan and returns its final report. Per-item
// failures are reported in the Report, never as an error; an error means
// the batch could not start.
func (o *Orchestrator) Execute(ctx context.Context, plan *Plan, opts RunOpts) (*Report, error) {
	o.mu.Lock()
	if plan == nil || o.pending != plan {
		o.mu.Unlock()
		return nil, errPlanMismatch
	}
	o.mu.Unlock()

	if !o.phase.CompareAndSwap(int32(PhaseAwaitingConfirmation), int32(PhaseDispatching)) {
		return nil, ErrBatchRunning
	}

	justification, grantees, err := o.collectInputs(ctx, plan, opts)
	if err != nil {
		o.phase.Store(int32(PhaseAwaitingConfirmation))
		return nil, err
	}

	o.mu.Lock()
	o.pending = nil
	o.mu.Unlock()

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	timeout := o.timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeoutCause(runCtx, timeout, ErrBatchTimedOut)
		defer cancelTimeout()
	}

	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.cancel = nil
		o.mu.Unlock()
	}()

	start := o.nowFunc()
	stats := NewStatsAggregator(o.logger)
	progress := NewProgressReporter(len(plan.Items))
	o.progress.Store(progress)

	exec := &itemExecutor{
		store:         o.store,
		locker:        o.locker,
		releaser:      o.releaser,
		batchID:       plan.BatchID,
		justification: justification,
		grantees:      grantees,
		logger:        o.logger,
		nowFunc:       o.nowFunc,
	}

	base := Report{
		BatchID:     plan.BatchID,
		TargetState: plan.Target.ID,
		Mode:        ModeSerial,
		Workers:     1,
		StartedAt:   start,
		Submitted:   len(plan.Items),
		Duplicates:  plan.Duplicates,
	}

	var pool *WorkerPool

	if plan.Mode == ModeParallel {
		pool, err = o.newPool(plan.Workers, stats, progress, o.metrics, o.logger)
		if err != nil {
			o.logger.Warn("orchestrator: worker pool unavailable, falling back to serial",
				slog.String("error", err.Error()),
			)
			o.metrics.serialFallback()
		} else {
			base.Mode = ModeParallel
			base.Workers = pool.Size()
		}
	}

	o.phase.Store(int32(PhaseRunning))
	o.logger.Info("orchestrator: batch running",
		slog.String("batch_id", plan.BatchID),
		slog.String("mode", string(base.Mode)),
		slog.Int("workers", base.Workers),
		slog.Int("items", len(plan.Items)),
	)

	var undispatched, abandoned []WorkItem
	if pool != nil {
		undispatched, abandoned = o.runParallel(runCtx, pool, plan.Items, exec, progress)
	} else {
		undispatched, abandoned = o.runSerial(runCtx, plan.Items, exec, stats, progress)
	}

	timedOut, cancelled := o.interruption(runCtx, len(undispatched)+len(abandoned))

	switch {
	case timedOut:
		o.recordTimedOut(stats, progress, undispatched, "batch timed out before the item was dispatched", false)
		o.recordTimedOut(stats, progress, abandoned, "batch timed out while the item was in flight", true)
	case cancelled:
		base.NotDispatched = len(undispatched)
		base.NotDispatchedItems = notDispatchedOutcomes(undispatched, o.nowFunc())
	}

	base.Cancelled = cancelled
	base.TimedOut = timedOut
	base.Elapsed = o.nowFunc().Sub(start)

	report := stats.FinalReport(base)

	switch {
	case timedOut:
		o.phase.Store(int32(PhaseTimedOut))
	case cancelled:
		o.phase.Store(int32(PhaseCancelled))
	default:
		o.phase.Store(int32(PhaseCompleted))
	}

	o.metrics.batchFinished(report)
	o.logger.Info("orchestrator: batch finished",
		slog.String("batch_id", report.BatchID),
		slog.String("result", report.Result()),
		slog.Int("processed", report.TotalProcessed),
		slog.Int("succeeded", report.SuccessCount),
		slog.Int("failed", report.FailureCount),
		slog.Int("skipped", report.SkippedCount),
		slog.Int("not_dispatched", report.NotDispatched),
		slog.Duration("elapsed", report.Elapsed),
	)

	return report, nil
}

// collectInputs gathers the one-time justification and grantees before any
// item is dispatched. Each provider method is called at most once.
func (o *Orchestrator) collectInputs(ctx context.Context, plan *Plan, opts RunOpts) (string, []string, error) {
	justification := opts.Justification
	grantees := opts.Grantees

	if plan.NeedsJustification && justification == "" {
		if o.inputs == nil {
			return "", nil, fmt.Errorf("%w: justification for %d downgrades", ErrInputRequired, plan.Counts[ChangeDowngrade])
		}

		j, err := o.inputs.Justification(ctx, JustificationRequest{
			Downgrades: plan.Counts[ChangeDowngrade],
			Target:     plan.Target,
		})
		if err != nil {
			return "", nil, fmt.Errorf("%w: justification: %w", ErrInputRequired, err)
		}

		if j == "" {
			return "", nil, fmt.Errorf("%w: empty justification", ErrInputRequired)
		}

		justification = j
	}

	if plan.NeedsProtection && len(grantees) == 0 {
		if o.inputs == nil {
			return "", nil, fmt.Errorf("%w: grantees for protected state %s", ErrInputRequired, plan.Target.ID)
		}

		g, err := o.inputs.Grantees(ctx, ProtectionRequest{Items: len(plan.Items), Target: plan.Target})
		if err != nil {
			return "", nil, fmt.Errorf("%w: grantees: %w", ErrInputRequired, err)
		}

		grantees = g
	}

	return justification, grantees, nil
}

// runSerial processes items one at a time in submission order. After a
// timeout the current item gets at most drainTimeout before it is abandoned,
// as in parallel mode. It returns undispatched and abandoned items.
func (o *Orchestrator) runSerial(
	ctx context.Context,
	items []WorkItem,
	exec *itemExecutor,
	stats *StatsAggregator,
	progress *ProgressReporter,
) (undispatched, abandoned []WorkItem) {
	execCtx := context.WithoutCancel(ctx)

	for i := range items {
		if ctx.Err() != nil {
			return items[i:], nil
		}

		o.metrics.itemStarted()

		result := make(chan Outcome, 1)
		go func(item WorkItem) {
			result <- safeApply(execCtx, item, exec.Execute, o.logger, o.nowFunc)
		}(items[i])

		out, ok := o.awaitSerial(ctx, result)
		if !ok {
			o.logger.Warn("orchestrator: drain timeout reached, abandoning in-flight item",
				slog.String("target", items[i].TargetID),
			)

			return items[i+1:], items[i : i+1]
		}

		stats.Record(out)
		progress.Advance()
		o.metrics.itemFinished(&out)

		o.logger.Debug("orchestrator: item done",
			slog.String("target", out.TargetID),
			slog.String("status", string(out.Status)),
		)
	}

	return nil, nil
}

// awaitSerial waits for the in-flight serial item. Cancellation lets it
// finish; a timeout bounds the wait by drainTimeout. It returns false when
// the item was abandoned.
func (o *Orchestrator) awaitSerial(ctx context.Context, result <-chan Outcome) (Outcome, bool) {
	select {
	case out := <-result:
		return out, true
	case <-ctx.Done():
	}

	if !isTimeout(context.Cause(ctx)) || o.drainTimeout <= 0 {
		return <-result, true
	}

	timer := time.NewTimer(o.drainTimeout)
	defer timer.Stop()

	select {
	case out := <-result:
		return out, true
	case <-timer.C:
		return Outcome{}, false
	}
}

// runParallel drives the pool and waits for it, polling progress at a fixed
// cadence. After a timeout it waits at most drainTimeout for in-flight items
// before abandoning them. It returns undispatched and abandoned items.
func (o *Orchestrator) runParallel(
	ctx context.Context,
	pool *WorkerPool,
	items []WorkItem,
	exec *itemExecutor,
	progress *ProgressReporter,
) (undispatched, abandoned []WorkItem) {
	stream := pool.Execute(ctx, items, exec.Execute)

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	done := ctx.Done()

	var drain <-chan time.Time

	for {
		select {
		case _, ok := <-stream:
			if !ok {
				return pool.Undispatched(), nil
			}
		case <-ticker.C:
			snap := progress.Snapshot()
			o.logger.Debug("orchestrator: progress",
				slog.Int64("processed", snap.Processed),
				slog.Int64("total", snap.Total),
			)
		case <-done:
			done = nil

			if isTimeout(context.Cause(ctx)) && o.drainTimeout > 0 {
				timer := time.NewTimer(o.drainTimeout)
				defer timer.Stop()

				drain = timer.C
			}
		case <-drain:
			<-pool.DispatchDone()

			left := pool.Abandon()
			o.logger.Warn("orchestrator: drain timeout reached, abandoning in-flight items",
				slog.Int("abandoned", len(left)),
			)

			return pool.Undispatched(), left
		}
	}
}

// interruption classifies why the run stopped early, if it did. An
// interruption that left nothing unfinished is not reported.
func (o *Orchestrator) interruption(ctx context.Context, unfinished int) (timedOut, cancelled bool) {
	if ctx.Err() == nil || unfinished == 0 {
		return false, false
	}

	if isTimeout(context.Cause(ctx)) {
		return true, false
	}

	return false, true
}

func isTimeout(cause error) bool {
	return errors.Is(cause, ErrBatchTimedOut) || errors.Is(cause, context.DeadlineExceeded)
}

// recordTimedOut settles items cut off by the timeout as TimedOut failures so
// they remain visible in the report.
func (o *Orchestrator) recordTimedOut(
	stats *StatsAggregator,
	progress *ProgressReporter,
	items []WorkItem,
	msg string,
	wasInflight bool,
) {
	now := o.nowFunc()

	for i := range items {
		out := Outcome{
			TargetID:  items[i].TargetID,
			Change:    items[i].Change,
			Status:    StatusFailed,
			Kind:      KindTimedOut,
			Message:   msg,
			Timestamp: now,
		}

		stats.Record(out)
		progress.Advance()
		o.metrics.itemAbandoned(&out, wasInflight)
	}
}
