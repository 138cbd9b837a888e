// Package scheduler provides the dispatch loop that feeds the worker pool.
//
// # Why Scheduler Exists
//
// Tasks in this system become runnable at different times: a leaf insert can
// run at once, while a father aggregation must wait until every child it sums
// exists in the shared tree. The scheduler holds all not-yet-dispatched tasks
// and hands them to the worker pool only when two things hold at once:
//
//   - **Readiness:** the task has no precondition, or its precondition
//     (task.Gated) reports true against the current shared state.
//   - **Capacity:** fewer than the configured ceiling of tasks are in flight.
//     The ceiling gates every task, with or without a precondition.
//
// # How It Works
//
// Run loops while the queue is non-empty or anything is in flight:
//  1. Scan the queue from the front and pick the FIRST eligible task.
//  2. Remove it, count it as in flight, submit it to the pool.
//  3. With nothing eligible, block on a condition variable. Completions,
//     enqueues and context cancellation broadcast on it; readiness is
//     re-evaluated on the next scan, never cached.
//  4. With nothing eligible and nothing in flight no future event can make
//     progress, so Run returns ErrStalled.
//
// Scan order is only a tie-break: among ready tasks the earliest enqueued wins,
// but no other ordering is promised.
//
// # Failures
//
// Worker completions record failures in a list the loop inspects on every
// pass. Under FailFast the loop stops dispatching, lets in-flight tasks finish,
// and returns the first failure. Under ContinueOnError it keeps going and
// returns every failure joined. Nothing is retried.
//
// # Thread-Safety
//
// One mutex guards the queue, the in-flight count and the failure list. It is
// held while scanning and dispatching and during completion bookkeeping, never
// while a task body runs. Enqueue takes the same mutex, so tasks may enqueue
// follow-up work from inside their own bodies.
package scheduler
