package tree

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/vk/fantree/internal/ctxlog"
)

// DefaultFanIn is the number of children aggregated into one father when no
// other value is configured.
const DefaultFanIn = 2

// Tree is a layered aggregation tree safe for concurrent use.
type Tree struct {
	fanIn int
	delay time.Duration

	mu sync.RWMutex
	// levels holds the node slots; a nil entry is a node that does not exist yet.
	levels [][]*big.Int
	// prefix[k] is the length of the gap-free prefix of levels[k].
	prefix []int
	// claimed marks fathers an InsertLeafAndSettle caller has taken on.
	claimed map[Coord]struct{}
	// nextLeaf is the index AppendLeaf writes to next.
	nextLeaf int
}

// Option configures a Tree.
type Option func(*Tree)

// WithNodeDelay sets the simulated cost of producing one node. The delay is
// spent outside the tree lock.
func WithNodeDelay(d time.Duration) Option {
	return func(t *Tree) {
		t.delay = d
	}
}

// New creates an empty tree with the given fan-in factor.
func New(fanIn int, opts ...Option) (*Tree, error) {
	if fanIn < 2 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidFanIn, fanIn)
	}
	t := &Tree{
		fanIn:   fanIn,
		levels:  [][]*big.Int{{}},
		prefix:  []int{0},
		claimed: make(map[Coord]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// FanIn returns the fan-in factor fixed at construction.
func (t *Tree) FanIn() int {
	return t.fanIn
}

// NodeDelay returns the simulated per-node cost.
func (t *Tree) NodeDelay() time.Duration {
	return t.delay
}

// AppendLeaf appends v at the next leaf index and synchronously creates every
// father node that the insert makes complete. It is the sequential variant and
// must not be mixed with concurrent inserts on the same tree.
func (t *Tree) AppendLeaf(ctx context.Context, v *big.Int) error {
	if err := t.work(ctx); err != nil {
		return err
	}

	t.mu.Lock()
	idx := t.nextLeaf
	if err := t.placeLocked(Coord{Level: 0, Index: idx}, v); err != nil {
		t.mu.Unlock()
		return err
	}
	t.nextLeaf++
	// A new root level opens once the leaf count reaches F^levels.
	if t.prefix[0] == pow(t.fanIn, len(t.levels)) {
		t.levels = append(t.levels, nil)
		t.prefix = append(t.prefix, 0)
	}
	t.mu.Unlock()

	for level := 0; ; level++ {
		t.mu.RLock()
		n := t.prefix[level]
		open := level+1 < len(t.levels)
		t.mu.RUnlock()
		if n == 0 || n%t.fanIn != 0 || !open {
			return nil
		}
		father := Coord{Level: level + 1, Index: n/t.fanIn - 1}
		if err := t.CreateFatherNode(ctx, father); err != nil {
			return err
		}
	}
}

// InsertLeaf stores v as the leaf with the given index without creating any
// father nodes. Concurrent calls for distinct indices are safe.
func (t *Tree) InsertLeaf(ctx context.Context, index int, v *big.Int) error {
	if index < 0 {
		return fmt.Errorf("%w: leaf index %d", ErrInvalidCoord, index)
	}
	if err := t.work(ctx); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.placeLocked(Coord{Level: 0, Index: index}, v); err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Debug("Leaf inserted.", "index", index, "value", v.String())
	return nil
}

// InsertLeafAndSettle stores the leaf and then walks up from it, creating each
// ancestor whose children are all present. Every father is produced exactly
// once even when its children are inserted by concurrent callers: whichever
// caller first observes the group complete claims it.
func (t *Tree) InsertLeafAndSettle(ctx context.Context, index int, v *big.Int) error {
	if err := t.InsertLeaf(ctx, index, v); err != nil {
		return err
	}

	c := Coord{Level: 0, Index: index}.Parent(t.fanIn)
	for {
		t.mu.Lock()
		_, taken := t.claimed[c]
		if taken || !t.readyLocked(c) {
			t.mu.Unlock()
			return nil
		}
		t.claimed[c] = struct{}{}
		t.mu.Unlock()

		if err := t.CreateFatherNode(ctx, c); err != nil {
			return err
		}
		c = c.Parent(t.fanIn)
	}
}

// CreateFatherNode sums the fanIn children of c and stores the result at c.
// It fails with ErrChildrenMissing if any child is absent; the caller is
// expected to have checked IsReady first.
func (t *Tree) CreateFatherNode(ctx context.Context, c Coord) error {
	if c.Level < 1 || c.Index < 0 {
		return fmt.Errorf("%w: %s is not a father coordinate", ErrInvalidCoord, c)
	}

	t.mu.RLock()
	children, err := t.childrenLocked(c)
	t.mu.RUnlock()
	if err != nil {
		return err
	}

	if err := t.work(ctx); err != nil {
		return err
	}
	sum := new(big.Int)
	for _, child := range children {
		sum.Add(sum, child)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.placeLocked(c, sum); err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Debug("Father node created.", "coord", c.String(), "value", sum.String())
	return nil
}

// Levels returns a snapshot of the tree. Each level is cut at its first
// missing node, so at quiescence it is the full ordered content.
func (t *Tree) Levels() [][]*big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([][]*big.Int, 0, len(t.levels))
	for k, level := range t.levels {
		n := t.prefix[k]
		if k > 0 && n == 0 {
			break
		}
		row := make([]*big.Int, n)
		for i := 0; i < n; i++ {
			row[i] = new(big.Int).Set(level[i])
		}
		out = append(out, row)
	}
	return out
}

// Len returns the gap-free length of the given level, 0 if it does not exist.
func (t *Tree) Len(level int) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if level < 0 || level >= len(t.prefix) {
		return 0
	}
	return t.prefix[level]
}

// NumLevels returns the number of levels currently holding at least one node.
// Level 0 always counts.
func (t *Tree) NumLevels() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 1
	for k := 1; k < len(t.levels); k++ {
		if len(t.levels[k]) == 0 {
			break
		}
		n = k + 1
	}
	return n
}

// LeafCount returns the number of contiguous leaves present.
func (t *Tree) LeafCount() int {
	return t.Len(0)
}

// Verify checks that the tree is a complete, consistent aggregation: no level
// has gaps, every level k ≥ 1 holds exactly floor(len(k-1)/F) nodes, and each
// father equals the sum of its children.
func (t *Tree) Verify() error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for k, level := range t.levels {
		if t.prefix[k] != len(level) {
			return fmt.Errorf("%w: level %d has a gap at index %d", ErrInvariant, k, t.prefix[k])
		}
	}
	for k := 1; k < len(t.levels); k++ {
		want := len(t.levels[k-1]) / t.fanIn
		if got := len(t.levels[k]); got != want {
			return fmt.Errorf("%w: level %d has %d nodes, want %d", ErrInvariant, k, got, want)
		}
		for i, father := range t.levels[k] {
			c := Coord{Level: k, Index: i}
			sum := new(big.Int)
			first := c.FirstChild(t.fanIn)
			for _, child := range t.levels[k-1][first : first+t.fanIn] {
				sum.Add(sum, child)
			}
			if sum.Cmp(father) != 0 {
				return fmt.Errorf("%w: node %s is %s, children sum to %s", ErrInvariant, c, father, sum)
			}
		}
	}
	if top := len(t.levels) - 1; len(t.levels[top]) >= t.fanIn {
		return fmt.Errorf("%w: level %d has %d nodes but no father level", ErrInvariant, top, len(t.levels[top]))
	}
	return nil
}

// childrenLocked returns the children of c, or ErrChildrenMissing.
func (t *Tree) childrenLocked(c Coord) ([]*big.Int, error) {
	if !t.readyLocked(c) {
		return nil, fmt.Errorf("%w: father %s", ErrChildrenMissing, c)
	}
	first := c.FirstChild(t.fanIn)
	children := make([]*big.Int, t.fanIn)
	copy(children, t.levels[c.Level-1][first:first+t.fanIn])
	return children, nil
}

// placeLocked writes v into the slot for c, growing levels as required.
func (t *Tree) placeLocked(c Coord, v *big.Int) error {
	for len(t.levels) <= c.Level {
		t.levels = append(t.levels, nil)
		t.prefix = append(t.prefix, 0)
	}
	level := t.levels[c.Level]
	if c.Index >= len(level) {
		level = append(level, make([]*big.Int, c.Index+1-len(level))...)
		t.levels[c.Level] = level
	}
	if level[c.Index] != nil {
		return fmt.Errorf("%w: %s", ErrNodeExists, c)
	}
	level[c.Index] = new(big.Int).Set(v)

	p := t.prefix[c.Level]
	for p < len(level) && level[p] != nil {
		p++
	}
	t.prefix[c.Level] = p
	return nil
}

// work spends the simulated per-node cost.
func (t *Tree) work(ctx context.Context) error {
	if t.delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(t.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pow returns base^exp, saturating instead of overflowing.
func pow(base, exp int) int {
	const maxInt = int(^uint(0) >> 1)
	result := 1
	for i := 0; i < exp; i++ {
		if result > maxInt/base {
			return maxInt
		}
		result *= base
	}
	return result
}
