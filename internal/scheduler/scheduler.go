package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/vk/fantree/internal/ctxlog"
	"github.com/vk/fantree/internal/executor"
	"github.com/vk/fantree/internal/task"
)

var (
	tracer = otel.Tracer("fantree/scheduler")
	meter  = otel.Meter("fantree/scheduler")
)

// DefaultWorkers is the worker pool size used when none is configured.
const DefaultWorkers = 10

// Options holds the configuration fixed at scheduler construction.
type Options struct {
	// Workers is the size of the worker pool.
	Workers int
	// MaxInFlight is the concurrency ceiling. Zero means Workers.
	MaxInFlight int
	// Debug enables per-scan diagnostic logging. It has no behavioural effect.
	Debug         bool
	FailurePolicy FailurePolicy
	Observer      Observer
}

// Option is a function that configures a Scheduler.
type Option func(*Options)

// WithWorkers sets the worker pool size.
func WithWorkers(n int) Option {
	return func(o *Options) {
		o.Workers = n
	}
}

// WithMaxInFlight sets the concurrency ceiling.
func WithMaxInFlight(n int) Option {
	return func(o *Options) {
		o.MaxInFlight = n
	}
}

// WithDebug turns on diagnostic tracing of every queue scan.
func WithDebug(debug bool) Option {
	return func(o *Options) {
		o.Debug = debug
	}
}

// WithFailurePolicy sets how the loop reacts to task failures.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(o *Options) {
		o.FailurePolicy = p
	}
}

// WithObserver registers a task lifecycle observer.
func WithObserver(obs Observer) Option {
	return func(o *Options) {
		o.Observer = obs
	}
}

// Report summarises one Run.
type Report struct {
	RunID        string        `json:"run_id"`
	Dispatched   int           `json:"dispatched"`
	Completed    int           `json:"completed"`
	Failed       int           `json:"failed"`
	Pending      int           `json:"pending"`
	PeakInFlight int           `json:"peak_in_flight"`
	Duration     time.Duration `json:"duration_ns"`
}

// Stats is a point-in-time view of the scheduler, safe to take while running.
type Stats struct {
	Running      bool `json:"running"`
	Queued       int  `json:"queued"`
	InFlight     int  `json:"in_flight"`
	MaxInFlight  int  `json:"max_in_flight"`
	PeakInFlight int  `json:"peak_in_flight"`
	Dispatched   int  `json:"dispatched"`
	Completed    int  `json:"completed"`
	Failed       int  `json:"failed"`
}

// Scheduler dispatches queued tasks onto a worker pool once they are ready and
// capacity allows.
type Scheduler struct {
	opts Options

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []task.Task
	inFlight int
	running  bool
	failures []error
	stats    Stats

	metricsOnce sync.Once
	dispatched  metric.Int64Counter
	completed   metric.Int64Counter
	failed      metric.Int64Counter
	active      metric.Int64UpDownCounter
	taskLatency metric.Float64Histogram
	runLatency  metric.Float64Histogram
}

// New creates a scheduler. Without options it runs DefaultWorkers workers
// with a ceiling of the same size and fails fast.
func New(opts ...Option) (*Scheduler, error) {
	options := Options{
		Workers:       DefaultWorkers,
		FailurePolicy: FailFast,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.Workers < 1 {
		return nil, fmt.Errorf("workers must be at least 1, got %d", options.Workers)
	}
	if options.MaxInFlight == 0 {
		options.MaxInFlight = options.Workers
	}
	if options.MaxInFlight < 1 {
		return nil, fmt.Errorf("max in-flight must be at least 1, got %d", options.MaxInFlight)
	}
	if options.Observer == nil {
		options.Observer = nopObserver{}
	}

	s := &Scheduler{opts: options}
	s.cond = sync.NewCond(&s.mu)
	s.stats.MaxInFlight = options.MaxInFlight
	return s, nil
}

// Enqueue appends t to the pending queue. It is safe to call before Run,
// concurrently with it, and from inside a running task.
func (s *Scheduler) Enqueue(t task.Task) error {
	if t == nil {
		return ErrNilTask
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, t)
	s.stats.Queued = len(s.queue)
	s.cond.Broadcast()
	return nil
}

// EnqueueFunc enqueues fn guarded by cond; a nil cond means always ready.
func (s *Scheduler) EnqueueFunc(label string, cond func() bool, fn func(ctx context.Context) error) error {
	return s.Enqueue(&task.Func{Label: label, Cond: cond, Fn: fn})
}

// Stats returns a snapshot of the scheduler's counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Run drains the queue into the worker pool and returns once the queue is
// empty and nothing is in flight, or earlier on failure, stall or context
// cancellation. Tasks never dispatched stay queued.
//
// Readiness is re-checked only when a task finishes or a task is enqueued.
// A precondition that depends on state changed outside the scheduler's tasks
// is not polled: if nothing is in flight and no queued task is ready, Run
// returns ErrStalled instead of waiting for it.
func (s *Scheduler) Run(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	s.running = true
	s.failures = nil
	s.stats = Stats{Running: true, Queued: len(s.queue), MaxInFlight: s.opts.MaxInFlight}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.stats.Running = false
		s.mu.Unlock()
	}()

	s.initMetrics(ctx)

	runID := uuid.NewString()[:12]
	ctx = ctxlog.With(ctx, "runID", runID)
	logger := ctxlog.FromContext(ctx)

	ctx, span := tracer.Start(ctx, "scheduler.Run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Int("scheduler.workers", s.opts.Workers),
			attribute.Int("scheduler.max_in_flight", s.opts.MaxInFlight),
		),
	)
	defer span.End()

	pool, err := executor.NewPool(s.opts.Workers, s.opts.MaxInFlight)
	if err != nil {
		return nil, err
	}
	pool.Start(ctx)

	// Wake the loop when the caller gives up so it can stop dispatching.
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	logger.Info("Scheduler run started.", "queued", s.Stats().Queued, "workers", s.opts.Workers, "maxInFlight", s.opts.MaxInFlight)
	start := time.Now()

	runErr := s.loop(ctx, pool, logger)
	logger.Debug("Dispatch loop finished, draining worker pool.")
	pool.Close()

	duration := time.Since(start)
	if s.runLatency != nil {
		s.runLatency.Record(ctx, duration.Seconds())
	}

	s.mu.Lock()
	report := &Report{
		RunID:        runID,
		Dispatched:   s.stats.Dispatched,
		Completed:    s.stats.Completed,
		Failed:       s.stats.Failed,
		Pending:      len(s.queue),
		PeakInFlight: s.stats.PeakInFlight,
		Duration:     duration,
	}
	s.mu.Unlock()

	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		logger.Error("Scheduler run failed.", "error", runErr, "dispatched", report.Dispatched, "failed", report.Failed, "pending", report.Pending)
		return report, runErr
	}
	span.SetStatus(codes.Ok, "")
	logger.Info("Scheduler run finished.", "dispatched", report.Dispatched, "peakInFlight", report.PeakInFlight, "duration", duration)
	return report, nil
}

// loop is the coordinating dispatch loop. It holds s.mu except while waiting.
func (s *Scheduler) loop(ctx context.Context, pool *executor.Pool, logger *slog.Logger) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stalled error
	for len(s.queue) > 0 || s.inFlight > 0 {
		if s.haltingLocked(ctx) {
			if s.inFlight == 0 {
				break
			}
			s.cond.Wait()
			continue
		}

		if i := s.nextEligibleLocked(logger); i >= 0 {
			s.dispatchLocked(ctx, pool, i, logger)
			continue
		}

		if s.inFlight == 0 {
			stalled = fmt.Errorf("%w: %d tasks pending, none ready", ErrStalled, len(s.queue))
			break
		}
		s.cond.Wait()
	}

	// A cancellation that arrives after the last task finished changes nothing.
	if err := ctx.Err(); err != nil && len(s.queue) > 0 {
		return err
	}
	if stalled != nil {
		return errors.Join(append(slices.Clone(s.failures), stalled)...)
	}
	if len(s.failures) == 0 {
		return nil
	}
	if s.opts.FailurePolicy == FailFast {
		return s.failures[0]
	}
	return errors.Join(s.failures...)
}

// haltingLocked reports whether the loop must stop dispatching new tasks.
func (s *Scheduler) haltingLocked(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return s.opts.FailurePolicy == FailFast && len(s.failures) > 0
}

// nextEligibleLocked returns the index of the first queued task that is ready
// while capacity remains, or -1.
func (s *Scheduler) nextEligibleLocked(logger *slog.Logger) int {
	if s.inFlight >= s.opts.MaxInFlight {
		s.trace(logger, "Concurrency ceiling reached.", "inFlight", s.inFlight, "queued", len(s.queue))
		return -1
	}
	for i, t := range s.queue {
		if task.IsReady(t) {
			return i
		}
	}
	s.trace(logger, "No queued task is ready.", "inFlight", s.inFlight, "queued", len(s.queue))
	return -1
}

// dispatchLocked removes the task at index i and submits it to the pool.
func (s *Scheduler) dispatchLocked(ctx context.Context, pool *executor.Pool, i int, logger *slog.Logger) {
	t := s.queue[i]
	s.queue = slices.Delete(s.queue, i, i+1)
	s.inFlight++
	s.stats.Dispatched++
	s.stats.InFlight = s.inFlight
	s.stats.Queued = len(s.queue)
	s.stats.PeakInFlight = max(s.stats.PeakInFlight, s.inFlight)

	s.trace(logger, "Dispatching task.", "task", t.Name(), "inFlight", s.inFlight, "queued", len(s.queue))
	s.opts.Observer.TaskDispatched(t, s.inFlight)
	if s.dispatched != nil {
		s.dispatched.Add(ctx, 1)
		s.active.Add(ctx, 1)
	}

	dispatchedAt := time.Now()
	err := pool.Submit(executor.Job{
		Task: t,
		Done: func(err error) { s.complete(ctx, t, err, dispatchedAt) },
	})
	if err != nil {
		// The pool buffer is sized to the ceiling, so this means the pool was
		// closed underneath us.
		s.inFlight--
		s.stats.InFlight = s.inFlight
		s.recordFailureLocked(ctx, t, fmt.Errorf("dispatch: %w", err))
	}
}

// complete is the completion callback; it runs on a worker goroutine.
func (s *Scheduler) complete(ctx context.Context, t task.Task, err error, dispatchedAt time.Time) {
	s.mu.Lock()
	s.inFlight--
	s.stats.InFlight = s.inFlight
	if err != nil {
		s.recordFailureLocked(ctx, t, err)
	} else {
		s.stats.Completed++
		if s.completed != nil {
			s.completed.Add(ctx, 1)
		}
	}
	if s.active != nil {
		s.active.Add(ctx, -1)
		s.taskLatency.Record(ctx, time.Since(dispatchedAt).Seconds())
	}
	s.trace(ctxlog.FromContext(ctx), "Task finished.", "task", t.Name(), "error", err, "inFlight", s.inFlight, "queued", len(s.queue))
	s.cond.Broadcast()
	s.mu.Unlock()

	s.opts.Observer.TaskFinished(t, err)
}

func (s *Scheduler) recordFailureLocked(ctx context.Context, t task.Task, err error) {
	s.stats.Failed++
	s.failures = append(s.failures, fmt.Errorf("task %s: %w", t.Name(), err))
	if s.failed != nil {
		s.failed.Add(ctx, 1)
	}
	ctxlog.FromContext(ctx).Warn("Task failed.", "task", t.Name(), "error", err, "policy", s.opts.FailurePolicy.String())
}

// trace logs scheduling diagnostics when debug tracing is on.
func (s *Scheduler) trace(logger *slog.Logger, msg string, args ...any) {
	if s.opts.Debug {
		logger.Info(msg, args...)
	}
}

// initMetrics lazily creates the scheduler instruments. A failure leaves the
// affected instrument nil and is logged; scheduling carries on regardless.
func (s *Scheduler) initMetrics(ctx context.Context) {
	s.metricsOnce.Do(func() {
		var errs []error
		var err error

		s.dispatched, err = meter.Int64Counter("fantree_tasks_dispatched_total",
			metric.WithDescription("Number of tasks handed to the worker pool"))
		errs = append(errs, err)
		s.completed, err = meter.Int64Counter("fantree_tasks_completed_total",
			metric.WithDescription("Number of tasks that finished successfully"))
		errs = append(errs, err)
		s.failed, err = meter.Int64Counter("fantree_tasks_failed_total",
			metric.WithDescription("Number of tasks that returned an error"))
		errs = append(errs, err)
		s.active, err = meter.Int64UpDownCounter("fantree_tasks_in_flight",
			metric.WithDescription("Number of dispatched tasks not yet finished"))
		errs = append(errs, err)
		s.taskLatency, err = meter.Float64Histogram("fantree_task_duration_seconds",
			metric.WithDescription("Time from dispatch to completion of a task"),
			metric.WithUnit("s"))
		errs = append(errs, err)
		s.runLatency, err = meter.Float64Histogram("fantree_run_duration_seconds",
			metric.WithDescription("Wall time of a scheduler run"),
			metric.WithUnit("s"))
		errs = append(errs, err)

		if err := errors.Join(errs...); err != nil {
			ctxlog.FromContext(ctx).Error("Failed to initialize scheduler metrics.", "error", err)
			s.dispatched, s.completed, s.failed, s.active = nil, nil, nil, nil
			s.taskLatency, s.runLatency = nil, nil
		}
	})
}
