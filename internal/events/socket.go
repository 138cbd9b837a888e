package events

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"

	"github.com/vk/fantree/internal/ctxlog"
	"github.com/vk/fantree/internal/task"
)

const (
	// DefaultBuffer is the number of events queued before new ones are dropped.
	DefaultBuffer  = 1024
	connectTimeout = 15 * time.Second
)

// Socket publishes lifecycle events to a socket.io server. Notifications are
// queued without blocking and sent from a single goroutine in order; when the
// queue is full the event is dropped and counted.
type Socket struct {
	emit       func(event string, payload Event)
	disconnect func()

	queue   chan Event
	done    chan struct{}
	dropped atomic.Int64

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// Dial connects to the socket.io server at rawURL and returns a started
// publisher. The URL path becomes the socket.io path.
func Dial(ctx context.Context, rawURL, namespace string) (*Socket, error) {
	logger := ctxlog.FromContext(ctx).With("component", "events", "url", rawURL)

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse events URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("events URL %q must be absolute", rawURL)
	}

	opts := socket.DefaultOptions()
	if parsedURL.Path != "" {
		opts.SetPath(parsedURL.Path)
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(namespace, opts)

	connectChan := make(chan error, 1)
	io.Once(types.EventName("connect"), func(...any) {
		logger.Info("Connected to events server.", "sid", io.Id())
		select {
		case connectChan <- nil:
		default:
		}
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err := errors.New("connect_error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		select {
		case connectChan <- err:
		default:
		}
	})

	logger.Debug("Connecting to events server.")
	io.Connect()

	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("waiting for socket.io connection: %w", ctx.Err())
	case <-time.After(connectTimeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", connectTimeout)
	}

	s := newSocket(
		func(event string, payload Event) { io.Emit(event, payload) },
		func() { io.Disconnect() },
		DefaultBuffer,
	)
	return s, nil
}

// newSocket starts a publisher around an emit function.
func newSocket(emit func(string, Event), disconnect func(), buffer int) *Socket {
	s := &Socket{
		emit:       emit,
		disconnect: disconnect,
		queue:      make(chan Event, buffer),
		done:       make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *Socket) pump() {
	defer close(s.done)
	for ev := range s.queue {
		s.emit(ev.Type, ev)
	}
}

// TaskDispatched implements scheduler.Observer.
func (s *Socket) TaskDispatched(t task.Task, inFlight int) {
	s.publish(dispatched(t, inFlight))
}

// TaskFinished implements scheduler.Observer.
func (s *Socket) TaskFinished(t task.Task, err error) {
	s.publish(finished(t, err))
}

func (s *Socket) publish(ev Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}
	select {
	case s.queue <- ev:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the queue was full
// or the publisher was closed.
func (s *Socket) Dropped() int64 {
	return s.dropped.Load()
}

// Close flushes queued events and disconnects. It waits for the flush until
// ctx is done.
func (s *Socket) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
	})

	select {
	case <-s.done:
	case <-ctx.Done():
		return fmt.Errorf("flushing events: %w", ctx.Err())
	}
	if s.disconnect != nil {
		s.disconnect()
	}
	return nil
}
