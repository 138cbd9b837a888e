package builder

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vk/fantree/internal/ctxlog"
	"github.com/vk/fantree/internal/scheduler"
	"github.com/vk/fantree/internal/tree"
)

var tracer = otel.Tracer("fantree/builder")

// Config describes one build.
type Config struct {
	// Leaves is the number of leaves. Zero with Values set means len(Values).
	Leaves int
	// FanIn is the tree's fan-in factor. Zero means tree.DefaultFanIn.
	FanIn int
	// Values are the leaf values in index order. Nil means 0..Leaves-1.
	Values   []*big.Int
	Strategy Strategy

	// Scheduler settings, ignored by the Sequential strategy.
	Workers       int
	MaxInFlight   int
	FailurePolicy scheduler.FailurePolicy
	Debug         bool
	Observer      scheduler.Observer

	// NodeDelay is the simulated cost of producing a single node.
	NodeDelay time.Duration
}

// Result is the outcome of a successful Build.
type Result struct {
	Strategy  Strategy
	FanIn     int
	NodeDelay time.Duration
	Levels    [][]*big.Int
	// Report is nil for the Sequential strategy.
	Report    *scheduler.Report
	Duration  time.Duration
}

// Builder owns the tree and, for the parallel strategies, the scheduler that
// grows it.
type Builder struct {
	cfg    Config
	values []*big.Int
	tree   *tree.Tree
	sched  *scheduler.Scheduler
	built  atomic.Bool
}

// New validates cfg and prepares an empty tree.
func New(cfg Config) (*Builder, error) {
	if cfg.FanIn == 0 {
		cfg.FanIn = tree.DefaultFanIn
	}
	values, err := leafValues(cfg.Leaves, cfg.Values)
	if err != nil {
		return nil, err
	}
	cfg.Leaves = len(values)
	if _, ok := strategyNames[cfg.Strategy]; !ok {
		return nil, fmt.Errorf("%w: strategy %s", ErrInvalidConfig, cfg.Strategy)
	}

	t, err := tree.New(cfg.FanIn, tree.WithNodeDelay(cfg.NodeDelay))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	b := &Builder{cfg: cfg, values: values, tree: t}
	if cfg.Strategy == Sequential {
		return b, nil
	}

	opts := []scheduler.Option{
		scheduler.WithMaxInFlight(cfg.MaxInFlight),
		scheduler.WithFailurePolicy(cfg.FailurePolicy),
		scheduler.WithDebug(cfg.Debug),
		scheduler.WithObserver(cfg.Observer),
	}
	if cfg.Workers != 0 {
		opts = append(opts, scheduler.WithWorkers(cfg.Workers))
	}
	b.sched, err = scheduler.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return b, nil
}

// leafValues resolves the configured leaf count and explicit values into the
// final value list.
func leafValues(n int, explicit []*big.Int) ([]*big.Int, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: leaves must not be negative, got %d", ErrInvalidConfig, n)
	}
	if explicit != nil {
		if n != 0 && n != len(explicit) {
			return nil, fmt.Errorf("%w: %d leaves requested but %d values given", ErrInvalidConfig, n, len(explicit))
		}
		for i, v := range explicit {
			if v == nil {
				return nil, fmt.Errorf("%w: value %d is nil", ErrInvalidConfig, i)
			}
		}
		return explicit, nil
	}
	values := make([]*big.Int, n)
	for i := range values {
		values[i] = big.NewInt(int64(i))
	}
	return values, nil
}

// Tree returns the tree being built.
func (b *Builder) Tree() *tree.Tree {
	return b.tree
}

// Scheduler returns the scheduler driving the build, or nil for Sequential.
func (b *Builder) Scheduler() *scheduler.Scheduler {
	return b.sched
}

// Build grows the tree with the configured strategy. It can be called once.
func (b *Builder) Build(ctx context.Context) (*Result, error) {
	if !b.built.CompareAndSwap(false, true) {
		return nil, ErrAlreadyBuilt
	}

	ctx = ctxlog.With(ctx, "strategy", b.cfg.Strategy.String())
	logger := ctxlog.FromContext(ctx)
	ctx, span := tracer.Start(ctx, "builder.Build",
		trace.WithAttributes(
			attribute.String("build.strategy", b.cfg.Strategy.String()),
			attribute.Int("build.leaves", b.cfg.Leaves),
			attribute.Int("build.fan_in", b.cfg.FanIn),
		),
	)
	defer span.End()

	logger.Info("Build started.", "leaves", b.cfg.Leaves, "fanIn", b.cfg.FanIn, "nodeDelay", b.cfg.NodeDelay)
	start := time.Now()

	var (
		report *scheduler.Report
		err    error
	)
	switch b.cfg.Strategy {
	case Sequential:
		err = b.buildSequential(ctx)
	case LeavesParallel:
		report, err = b.buildLeavesParallel(ctx)
	case FullyParallel:
		report, err = b.buildFullyParallel(ctx)
	}
	if err == nil {
		err = b.tree.Verify()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("build %s tree: %w", b.cfg.Strategy, err)
	}

	res := &Result{
		Strategy:  b.cfg.Strategy,
		FanIn:     b.tree.FanIn(),
		NodeDelay: b.tree.NodeDelay(),
		Levels:    b.tree.Levels(),
		Report:    report,
		Duration:  time.Since(start),
	}
	span.SetStatus(codes.Ok, "")
	logger.Info("Build finished.", "levels", len(res.Levels), "duration", res.Duration)
	return res, nil
}

func (b *Builder) buildSequential(ctx context.Context) error {
	for i, v := range b.values {
		if err := b.tree.AppendLeaf(ctx, v); err != nil {
			return fmt.Errorf("append leaf %d: %w", i, err)
		}
	}
	return nil
}

func (b *Builder) buildLeavesParallel(ctx context.Context) (*scheduler.Report, error) {
	for i, v := range b.values {
		if err := b.sched.Enqueue(&LeafTask{tree: b.tree, Index: i, Value: v, Settle: true}); err != nil {
			return nil, err
		}
	}
	return b.sched.Run(ctx)
}

// buildFullyParallel enqueues every leaf followed by the fathers its insert
// makes newly part of the tree shape.
func (b *Builder) buildFullyParallel(ctx context.Context) (*scheduler.Report, error) {
	fathers := 0
	for i, v := range b.values {
		if err := b.sched.Enqueue(&LeafTask{tree: b.tree, Index: i, Value: v}); err != nil {
			return nil, err
		}
		for _, c := range tree.DiffForLeaf(i, b.cfg.FanIn) {
			if err := b.sched.Enqueue(&FatherTask{tree: b.tree, Coord: c}); err != nil {
				return nil, err
			}
			fathers++
		}
	}
	ctxlog.FromContext(ctx).Debug("Build tasks enqueued.", "leafTasks", len(b.values), "fatherTasks", fathers)
	return b.sched.Run(ctx)
}
