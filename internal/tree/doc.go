// Package tree implements the aggregation tree: a layered structure whose
// level 0 holds leaf values and whose level k+1 holds the sum of each disjoint
// group of F consecutive nodes at level k.
//
// # Why Tree Exists
//
// The tree is the shared structure that the scheduler's tasks build up
// concurrently. Leaf inserts and father aggregations run on different workers,
// so the tree owns all synchronisation for its slots: callers never see raw
// slices, only accessors that take the lock for the minimal critical section.
// The (potentially slow) aggregation work itself runs outside the lock.
//
// # Components
//
//   - **Tree** (tree.go): slot storage plus the three insertion variants
//     (sequential AppendLeaf, parallel InsertLeaf, InsertLeafAndSettle).
//   - **Shape / DiffForLeaf** (shape.go): the dependency indexer. It works on
//     node addresses only and tells a producer which father nodes become
//     structurally completable when one more leaf is added.
//   - **IsReady** (readiness.go): the readiness predicate evaluated by the
//     scheduler against the current state at every scan.
//
// # Slots Instead of Appends
//
// Each node is stored at its coordinate rather than appended in completion
// order. Two leaves inserted concurrently therefore land at their own indices,
// and level 0 always reads back in insertion-index order regardless of which
// worker finished first.
package tree
