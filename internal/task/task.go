// Package task defines the unit of work the scheduler dispatches.
//
// A task is a named, runnable body with an optional precondition. Tasks that
// implement Gated are dispatched only once Ready reports true; every other task
// is always ready. Concrete variants (leaf insertion, father aggregation) live
// with the code that builds them; Func adapts plain closures.
package task

import "context"

// Task is a unit of work dispatched onto the worker pool.
type Task interface {
	// Name identifies the task in logs, spans and errors.
	Name() string
	// Run executes the task body. It runs outside every scheduler lock.
	Run(ctx context.Context) error
}

// Gated is implemented by tasks with a readiness precondition. Ready is
// evaluated under the scheduler lock at every scan, so it must be cheap and
// must not call back into the scheduler.
type Gated interface {
	Ready() bool
}

// IsReady reports whether t may be dispatched now: tasks without a
// precondition are always ready.
func IsReady(t Task) bool {
	if g, ok := t.(Gated); ok {
		return g.Ready()
	}
	return true
}

// Func adapts a closure and an optional condition into a Task.
type Func struct {
	Label string
	// Cond is the readiness predicate; nil means always ready.
	Cond func() bool
	Fn   func(ctx context.Context) error
}

// Name implements Task.
func (f *Func) Name() string {
	return f.Label
}

// Run implements Task.
func (f *Func) Run(ctx context.Context) error {
	if f.Fn == nil {
		return nil
	}
	return f.Fn(ctx)
}

// Ready implements Gated.
func (f *Func) Ready() bool {
	return f.Cond == nil || f.Cond()
}
