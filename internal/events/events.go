// Package events turns scheduler task lifecycle callbacks into log records or
// socket.io messages.
package events

import (
	"log/slog"
	"time"

	"github.com/vk/fantree/internal/scheduler"
	"github.com/vk/fantree/internal/task"
)

// Event names as they appear on the wire.
const (
	TypeDispatched = "task_dispatched"
	TypeCompleted  = "task_completed"
	TypeFailed     = "task_failed"
)

// Event is the payload emitted for one lifecycle transition.
type Event struct {
	Type     string    `json:"type"`
	Task     string    `json:"task"`
	InFlight int       `json:"in_flight,omitempty"`
	Error    string    `json:"error,omitempty"`
	Time     time.Time `json:"time"`
}

func dispatched(t task.Task, inFlight int) Event {
	return Event{Type: TypeDispatched, Task: t.Name(), InFlight: inFlight, Time: time.Now()}
}

func finished(t task.Task, err error) Event {
	if err != nil {
		return Event{Type: TypeFailed, Task: t.Name(), Error: err.Error(), Time: time.Now()}
	}
	return Event{Type: TypeCompleted, Task: t.Name(), Time: time.Now()}
}

// Nop discards every notification.
type Nop struct{}

func (Nop) TaskDispatched(task.Task, int) {}
func (Nop) TaskFinished(task.Task, error) {}

// Logging writes one record per notification. Dispatches and completions are
// logged at Debug, failures at Warn.
type Logging struct {
	logger *slog.Logger
}

// NewLogging returns a Logging observer writing to logger.
func NewLogging(logger *slog.Logger) *Logging {
	return &Logging{logger: logger.With("component", "events")}
}

// TaskDispatched implements scheduler.Observer.
func (l *Logging) TaskDispatched(t task.Task, inFlight int) {
	l.logger.Debug("Task dispatched.", "task", t.Name(), "inFlight", inFlight)
}

// TaskFinished implements scheduler.Observer.
func (l *Logging) TaskFinished(t task.Task, err error) {
	if err != nil {
		l.logger.Warn("Task failed.", "task", t.Name(), "error", err)
		return
	}
	l.logger.Debug("Task completed.", "task", t.Name())
}

// Multi forwards every notification to each observer in order.
type Multi []scheduler.Observer

// TaskDispatched implements scheduler.Observer.
func (m Multi) TaskDispatched(t task.Task, inFlight int) {
	for _, o := range m {
		o.TaskDispatched(t, inFlight)
	}
}

// TaskFinished implements scheduler.Observer.
func (m Multi) TaskFinished(t task.Task, err error) {
	for _, o := range m {
		o.TaskFinished(t, err)
	}
}

var (
	_ scheduler.Observer = Nop{}
	_ scheduler.Observer = (*Logging)(nil)
	_ scheduler.Observer = Multi(nil)
	_ scheduler.Observer = (*Socket)(nil)
)
