package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/fantree/internal/task"
)

func TestNewPool_Validation(t *testing.T) {
	_, err := NewPool(0, 1)
	assert.Error(t, err)
	_, err = NewPool(1, -1)
	assert.Error(t, err)

	p, err := NewPool(3, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Size())
}

func TestPool_RunsEveryJobAndReportsOutcome(t *testing.T) {
	p, err := NewPool(4, 32)
	require.NoError(t, err)
	p.Start(context.Background())

	boom := errors.New("boom")
	var ran atomic.Int32
	var mu sync.Mutex
	outcomes := make(map[string]error)

	for i := 0; i < 32; i++ {
		fail := i%8 == 0
		name := string(rune('a' + i))
		job := Job{
			Task: &task.Func{Label: name, Fn: func(ctx context.Context) error {
				ran.Add(1)
				if fail {
					return boom
				}
				return nil
			}},
			Done: func(err error) {
				mu.Lock()
				outcomes[name] = err
				mu.Unlock()
			},
		}
		require.NoError(t, p.Submit(job))
	}
	p.Close()

	assert.EqualValues(t, 32, ran.Load())
	require.Len(t, outcomes, 32)
	failures := 0
	for _, err := range outcomes {
		if err != nil {
			assert.ErrorIs(t, err, boom)
			failures++
		}
	}
	assert.Equal(t, 4, failures)
}

func TestPool_RecoversPanics(t *testing.T) {
	p, err := NewPool(1, 1)
	require.NoError(t, err)
	p.Start(context.Background())

	done := make(chan error, 1)
	require.NoError(t, p.Submit(Job{
		Task: &task.Func{Label: "panics", Fn: func(ctx context.Context) error { panic("kaboom") }},
		Done: func(err error) { done <- err },
	}))
	p.Close()

	err = <-done
	assert.ErrorIs(t, err, ErrTaskPanicked)
	assert.ErrorContains(t, err, "kaboom")
}

func TestPool_SubmitLimits(t *testing.T) {
	p, err := NewPool(1, 1)
	require.NoError(t, err)

	// Not started: the single buffer slot fills and the next submit is refused.
	require.NoError(t, p.Submit(Job{Task: &task.Func{Label: "first"}}))
	assert.ErrorIs(t, p.Submit(Job{Task: &task.Func{Label: "second"}}), ErrPoolFull)

	p.Start(context.Background())
	p.Close()
	assert.ErrorIs(t, p.Submit(Job{Task: &task.Func{Label: "late"}}), ErrPoolClosed)
	p.Close()
}
