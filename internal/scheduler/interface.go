package scheduler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vk/fantree/internal/task"
)

var (
	// ErrStalled is returned when tasks remain queued, none of them is ready,
	// and nothing in flight could change that.
	ErrStalled = errors.New("scheduler stalled")
	// ErrAlreadyRunning is returned when Run is called on a scheduler that is
	// already running.
	ErrAlreadyRunning = errors.New("scheduler is already running")
	// ErrNilTask is returned by Enqueue for a nil task.
	ErrNilTask = errors.New("nil task")
)

// Observer receives task lifecycle notifications.
//
// TaskDispatched is called under the scheduler lock and TaskFinished from a
// worker goroutine; implementations must be safe for concurrent use, must not
// block, and must not call back into the scheduler.
type Observer interface {
	TaskDispatched(t task.Task, inFlight int)
	TaskFinished(t task.Task, err error)
}

// FailurePolicy decides what the dispatch loop does after a task fails.
type FailurePolicy int

const (
	// FailFast stops dispatching after the first failure and returns it once
	// in-flight tasks have drained.
	FailFast FailurePolicy = iota
	// ContinueOnError keeps dispatching and returns all failures joined.
	ContinueOnError
)

// String implements fmt.Stringer.
func (p FailurePolicy) String() string {
	switch p {
	case FailFast:
		return "fail-fast"
	case ContinueOnError:
		return "continue"
	default:
		return fmt.Sprintf("FailurePolicy(%d)", int(p))
	}
}

// ParseFailurePolicy converts the textual form produced by String.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail-fast":
		return FailFast, nil
	case "continue":
		return ContinueOnError, nil
	default:
		return 0, fmt.Errorf("unknown failure policy %q: must be 'fail-fast' or 'continue'", s)
	}
}

type nopObserver struct{}

func (nopObserver) TaskDispatched(task.Task, int) {}
func (nopObserver) TaskFinished(task.Task, error) {}
