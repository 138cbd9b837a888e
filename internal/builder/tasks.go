package builder

import (
	"context"
	"fmt"
	"math/big"

	"github.com/vk/fantree/internal/tree"
)

// LeafTask inserts one leaf. It carries no precondition.
type LeafTask struct {
	tree  *tree.Tree
	Index int
	Value *big.Int
	// Settle makes the task create every ancestor its insert completes.
	Settle bool
}

// Name implements task.Task.
func (l *LeafTask) Name() string {
	return fmt.Sprintf("leaf[%d]", l.Index)
}

// Run implements task.Task.
func (l *LeafTask) Run(ctx context.Context) error {
	if l.Settle {
		return l.tree.InsertLeafAndSettle(ctx, l.Index, l.Value)
	}
	return l.tree.InsertLeaf(ctx, l.Index, l.Value)
}

// FatherTask computes one father node once all of its children exist.
type FatherTask struct {
	tree  *tree.Tree
	Coord tree.Coord
}

// Name implements task.Task.
func (f *FatherTask) Name() string {
	return "father" + f.Coord.String()
}

// Ready implements task.Gated. It reads the live tree on every call.
func (f *FatherTask) Ready() bool {
	return f.tree.IsReady(f.Coord)
}

// Run implements task.Task.
func (f *FatherTask) Run(ctx context.Context) error {
	return f.tree.CreateFatherNode(ctx, f.Coord)
}
