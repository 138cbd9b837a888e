// Package executor provides the fixed-size worker pool that runs dispatched
// tasks to completion and reports each outcome back to its submitter.
//
// The pool makes no scheduling decisions: it never looks at readiness or
// concurrency limits. The scheduler decides what runs and when, the pool only
// decides which worker runs it.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vk/fantree/internal/ctxlog"
	"github.com/vk/fantree/internal/task"
)

var (
	// ErrPoolFull is returned by Submit when the job buffer has no free slot.
	ErrPoolFull = errors.New("worker pool buffer is full")
	// ErrPoolClosed is returned by Submit after Close.
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrTaskPanicked wraps a panic raised inside a task body.
	ErrTaskPanicked = errors.New("task panicked")
)

// Job pairs a task with the callback that receives its outcome. Done is
// called exactly once, from the worker goroutine, after the task returns.
type Job struct {
	Task task.Task
	Done func(err error)
}

// Pool is a fixed set of workers consuming a buffered job channel.
type Pool struct {
	size int
	jobs chan Job
	wg   sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewPool creates a pool of size workers whose job buffer holds capacity
// pending jobs. A submitter that never has more than capacity jobs outstanding
// never sees ErrPoolFull.
func NewPool(size, capacity int) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("worker pool size must be at least 1, got %d", size)
	}
	if capacity < 0 {
		return nil, fmt.Errorf("worker pool capacity must not be negative, got %d", capacity)
	}
	return &Pool{
		size: size,
		jobs: make(chan Job, capacity),
	}, nil
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Start launches the workers. Calling it more than once has no effect.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	logger := ctxlog.FromContext(ctx)
	logger.Debug("Starting worker pool.", "workers", p.size, "capacity", cap(p.jobs))
	p.wg.Add(p.size)
	for i := 0; i < p.size; i++ {
		go p.worker(ctx, i)
	}
}

// Submit hands a job to the pool without blocking.
func (p *Pool) Submit(j Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- j:
		return nil
	default:
		return ErrPoolFull
	}
}

// Close stops accepting jobs, lets the workers finish everything already
// submitted, and waits for them to exit.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	started := p.started
	p.mu.Unlock()

	if started {
		p.wg.Wait()
	}
}
