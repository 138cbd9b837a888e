// Package builder grows an aggregation tree from a list of leaf values using one
// of three construction strategies.
//
// # Why Builder Exists
//
// The tree package knows how to store leaves and compute fathers, and the
// scheduler package knows how to run gated tasks under a concurrency ceiling.
// Neither knows how a whole build is expressed as work. The builder is that
// bridge: it turns a Config into either a direct sequence of tree calls or a
// queue of scheduler tasks whose preconditions encode the tree's structural
// dependencies.
//
// # Strategies
//
// The three strategies share one tree data model and differ only in how the
// work is handed to the scheduler:
//   - **Sequential:** every leaf is appended on the calling goroutine and each
//     father is created the moment its group completes. No scheduler is used.
//   - **Leaves-parallel:** one ungated task per leaf. A leaf task inserts its
//     value and then settles every ancestor it completes, so fathers are
//     computed inside the leaf tasks.
//   - **Fully-parallel:** one ungated task per leaf plus one gated task per
//     father. For leaf i the fathers enqueued are exactly the coordinates that
//     DiffForLeaf(i) reports, and each father task is only dispatched once
//     IsReady holds for it.
//
// # Result
//
// Build returns once the scheduler has drained (or failed). On success the tree
// is verified before the Result is handed back, so callers may print or assert
// against Result.Levels directly.
package builder
