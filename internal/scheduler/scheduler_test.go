package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/fantree/internal/task"
	"github.com/vk/fantree/internal/testutil"
)

// recorder collects the order in which task bodies start.
type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) add(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, name)
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// countingObserver tallies lifecycle callbacks.
type countingObserver struct {
	dispatched atomic.Int32
	finished   atomic.Int32
	failed     atomic.Int32
	maxSeen    atomic.Int32
}

func (o *countingObserver) TaskDispatched(_ task.Task, inFlight int) {
	o.dispatched.Add(1)
	for {
		cur := o.maxSeen.Load()
		if int32(inFlight) <= cur || o.maxSeen.CompareAndSwap(cur, int32(inFlight)) {
			return
		}
	}
}

func (o *countingObserver) TaskFinished(_ task.Task, err error) {
	o.finished.Add(1)
	if err != nil {
		o.failed.Add(1)
	}
}

func newScheduler(t *testing.T, opts ...Option) *Scheduler {
	t.Helper()
	s, err := New(opts...)
	require.NoError(t, err)
	return s
}

func TestNew_Validation(t *testing.T) {
	_, err := New(WithWorkers(0))
	assert.Error(t, err)
	_, err = New(WithMaxInFlight(-1))
	assert.Error(t, err)

	s := newScheduler(t, WithWorkers(3))
	assert.Equal(t, 3, s.Stats().MaxInFlight, "ceiling defaults to the pool size")
}

func TestRun_EmptyQueue(t *testing.T) {
	s := newScheduler(t)
	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Dispatched)
	assert.NotEmpty(t, report.RunID)
}

// The ceiling must gate tasks without a precondition too.
func TestRun_CeilingGatesAllTasks(t *testing.T) {
	const ceiling = 3
	obs := &countingObserver{}
	s := newScheduler(t, WithWorkers(8), WithMaxInFlight(ceiling), WithObserver(obs))

	tracker := testutil.NewTracker()
	for i := 0; i < 40; i++ {
		name := fmt.Sprintf("t%d", i)
		body := func(ctx context.Context) error {
			defer tracker.Enter(name)()
			time.Sleep(2 * time.Millisecond)
			return nil
		}
		var cond func() bool
		if i%2 == 0 {
			cond = func() bool { return true }
		}
		require.NoError(t, s.EnqueueFunc(name, cond, body))
	}

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 40, report.Dispatched)
	assert.Equal(t, 40, report.Completed)
	assert.Zero(t, report.Pending)
	assert.LessOrEqual(t, tracker.Peak(), ceiling)
	assert.LessOrEqual(t, report.PeakInFlight, ceiling)
	assert.LessOrEqual(t, obs.maxSeen.Load(), int32(ceiling))
	assert.EqualValues(t, 40, obs.dispatched.Load())
	assert.EqualValues(t, 40, obs.finished.Load())
}

func TestRun_GatedTaskWaitsForPrecondition(t *testing.T) {
	s := newScheduler(t, WithWorkers(4))
	rec := &recorder{}

	var produced atomic.Bool
	require.NoError(t, s.EnqueueFunc("consumer", produced.Load, func(ctx context.Context) error {
		rec.add("consumer")
		return nil
	}))
	require.NoError(t, s.EnqueueFunc("producer", nil, func(ctx context.Context) error {
		time.Sleep(5 * time.Millisecond)
		rec.add("producer")
		produced.Store(true)
		return nil
	}))

	_, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"producer", "consumer"}, rec.get())
}

func TestRun_FirstReadyWins(t *testing.T) {
	s := newScheduler(t, WithWorkers(1))
	rec := &recorder{}

	var opened atomic.Bool
	for _, name := range []string{"gated", "a", "b", "c"} {
		name := name
		var cond func() bool
		if name == "gated" {
			cond = opened.Load
		}
		require.NoError(t, s.EnqueueFunc(name, cond, func(ctx context.Context) error {
			rec.add(name)
			if name == "b" {
				opened.Store(true)
			}
			return nil
		}))
	}

	_, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "gated", "c"}, rec.get())
}

func TestRun_FailFastStopsDispatching(t *testing.T) {
	boom := errors.New("boom")
	s := newScheduler(t, WithWorkers(1))
	rec := &recorder{}

	require.NoError(t, s.EnqueueFunc("fails", nil, func(ctx context.Context) error {
		rec.add("fails")
		return boom
	}))
	for _, name := range []string{"after1", "after2"} {
		name := name
		require.NoError(t, s.EnqueueFunc(name, nil, func(ctx context.Context) error {
			rec.add(name)
			return nil
		}))
	}

	report, err := s.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "task fails")
	assert.Equal(t, []string{"fails"}, rec.get())
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, report.Pending)
}

func TestRun_ContinueOnErrorRunsEverything(t *testing.T) {
	errA, errB := errors.New("a failed"), errors.New("b failed")
	s := newScheduler(t, WithWorkers(2), WithFailurePolicy(ContinueOnError))

	require.NoError(t, s.EnqueueFunc("a", nil, func(ctx context.Context) error { return errA }))
	require.NoError(t, s.EnqueueFunc("ok", nil, func(ctx context.Context) error { return nil }))
	require.NoError(t, s.EnqueueFunc("b", nil, func(ctx context.Context) error { return errB }))

	report, err := s.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Equal(t, 3, report.Dispatched)
	assert.Equal(t, 1, report.Completed)
	assert.Equal(t, 2, report.Failed)
}

func TestRun_Stalled(t *testing.T) {
	s := newScheduler(t, WithWorkers(2))
	require.NoError(t, s.EnqueueFunc("never", func() bool { return false }, nil))
	require.NoError(t, s.EnqueueFunc("fine", nil, nil))

	report, err := s.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStalled)
	assert.Equal(t, 1, report.Completed)
	assert.Equal(t, 1, report.Pending)
}

func TestRun_EnqueueFromTask(t *testing.T) {
	s := newScheduler(t, WithWorkers(2))
	rec := &recorder{}

	require.NoError(t, s.EnqueueFunc("parent", nil, func(ctx context.Context) error {
		rec.add("parent")
		return s.EnqueueFunc("child", nil, func(ctx context.Context) error {
			rec.add("child")
			return nil
		})
	}))

	report, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"parent", "child"}, rec.get())
	assert.Equal(t, 2, report.Completed)
}

func TestRun_ContextCancellation(t *testing.T) {
	t.Run("cancelled before run dispatches nothing", func(t *testing.T) {
		s := newScheduler(t)
		require.NoError(t, s.EnqueueFunc("idle", nil, nil))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		report, err := s.Run(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, report.Dispatched)
		assert.Equal(t, 1, report.Pending)
	})

	t.Run("cancelled while waiting drains in-flight work", func(t *testing.T) {
		s := newScheduler(t, WithWorkers(1))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		started := make(chan struct{})
		require.NoError(t, s.EnqueueFunc("blocker", nil, func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		}))
		require.NoError(t, s.EnqueueFunc("never-ready", func() bool { return false }, nil))

		go func() {
			<-started
			cancel()
		}()
		report, err := s.Run(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, report.Dispatched)
		assert.Equal(t, 1, report.Pending)
	})

	t.Run("cancelled after the last task finished", func(t *testing.T) {
		s := newScheduler(t, WithWorkers(1))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		require.NoError(t, s.EnqueueFunc("last", nil, func(context.Context) error {
			cancel()
			return nil
		}))

		report, err := s.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Completed)
		assert.Zero(t, report.Pending)
	})
}

// Tasks must actually run side by side up to the ceiling.
func TestRun_FillsCeiling(t *testing.T) {
	const ceiling = 3
	s := newScheduler(t, WithWorkers(8), WithMaxInFlight(ceiling))

	tracker := testutil.NewTracker()
	release := make(chan struct{})
	for i := 0; i < 6; i++ {
		name := fmt.Sprintf("t%d", i)
		require.NoError(t, s.EnqueueFunc(name, nil, func(ctx context.Context) error {
			defer tracker.Enter(name)()
			<-release
			return nil
		}))
	}

	type result struct {
		report *Report
		err    error
	}
	done := make(chan result, 1)
	go func() {
		report, err := s.Run(context.Background())
		done <- result{report, err}
	}()

	assert.Eventually(t, func() bool { return tracker.Peak() == ceiling }, 2*time.Second, time.Millisecond,
		"tasks never reached the ceiling together")
	close(release)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, ceiling, tracker.Peak())
	assert.Equal(t, ceiling, res.report.PeakInFlight)
	assert.True(t, tracker.Overlapped("t0", "t1"))
	assert.True(t, tracker.Overlapped("t0", "t2"))
}

func TestRun_RejectsConcurrentRun(t *testing.T) {
	s := newScheduler(t, WithWorkers(1))
	release := make(chan struct{})
	require.NoError(t, s.EnqueueFunc("hold", nil, func(ctx context.Context) error {
		<-release
		return nil
	}))

	done := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool {
		st := s.Stats()
		return st.Running && st.InFlight == 1
	}, time.Second, time.Millisecond)

	_, err := s.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(release)
	assert.NoError(t, <-done)
	assert.False(t, s.Stats().Running)
}

func TestEnqueue_NilTask(t *testing.T) {
	s := newScheduler(t)
	assert.ErrorIs(t, s.Enqueue(nil), ErrNilTask)
}

func TestParseFailurePolicy(t *testing.T) {
	testCases := []struct {
		in      string
		want    FailurePolicy
		wantErr bool
	}{
		{in: "", want: FailFast},
		{in: "fail-fast", want: FailFast},
		{in: " Continue ", want: ContinueOnError},
		{in: "retry", wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseFailurePolicy(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.NotEmpty(t, got.String())
		})
	}
}
