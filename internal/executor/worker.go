package executor

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vk/fantree/internal/ctxlog"
)

var tracer = otel.Tracer("fantree/executor")

// worker is the core processing loop for a single concurrent worker.
func (p *Pool) worker(ctx context.Context, workerID int) {
	defer p.wg.Done()
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Worker started.", "workerID", workerID)

	for j := range p.jobs {
		workerLogger := logger.With("workerID", workerID, "task", j.Task.Name())
		workerLogger.Debug("Worker picked up task for execution.")

		taskCtx, span := tracer.Start(ctxlog.WithLogger(ctx, workerLogger), "task.Run",
			trace.WithAttributes(
				attribute.String("task.name", j.Task.Name()),
				attribute.Int("worker.id", workerID),
			),
		)
		start := time.Now()
		err := p.execute(taskCtx, j)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			workerLogger.Debug("Task execution failed.", "error", err, "duration", time.Since(start))
		} else {
			span.SetStatus(codes.Ok, "")
			workerLogger.Debug("Task execution succeeded.", "duration", time.Since(start))
		}
		span.End()

		if j.Done != nil {
			j.Done(err)
		}
	}
	logger.Debug("Worker finished.", "workerID", workerID)
}

// execute runs the task body, turning a panic into an error so a single bad
// task cannot take the worker down with it.
func (p *Pool) execute(ctx context.Context, j Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()
	return j.Task.Run(ctx)
}
