// Package history exports process lifecycle events to external audit and
// analytics systems.
package history

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventCreated EventType = "created"
	EventStarted EventType = "started"
	EventStopped EventType = "stopped"
	EventFailed  EventType = "failed"
	EventRemoved EventType = "removed"
)

// Record is the process snapshot carried by an event.
type Record struct {
	ProcessID string     `json:"process_id"`
	Name      string     `json:"name"`
	Command   string     `json:"command"`
	PID       int        `json:"pid,omitempty"`
	State     string     `json:"state"`
	ExitCode  *int       `json:"exit_code,omitempty"`
	Error     string     `json:"error,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// DefaultQueueSize bounds the number of events waiting for delivery.
const DefaultQueueSize = 1024

// sendTimeout bounds a single Send to one sink.
const sendTimeout = 5 * time.Second

// Recorder delivers events to sinks from a background goroutine so lifecycle
// transitions never wait on a remote database. When the queue is full new
// events are dropped and counted.
type Recorder struct {
	sinks []Sink
	log   *slog.Logger
	queue chan Event

	mu      sync.Mutex
	closed  bool
	dropped uint64
	done    chan struct{}
}

// NewRecorder starts a recorder over sinks. With no sinks Emit is a no-op.
func NewRecorder(log *slog.Logger, queueSize int, sinks ...Sink) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	r := &Recorder{
		sinks: append([]Sink(nil), sinks...),
		log:   log,
		queue: make(chan Event, queueSize),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.queue {
		for _, s := range r.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			if err := s.Send(ctx, e); err != nil {
				r.log.Warn("history sink send failed",
					slog.String("event", string(e.Type)),
					slog.String("process_id", e.Record.ProcessID),
					slog.Any("error", err))
			}
			cancel()
		}
	}
}

// Emit queues e for delivery. It never blocks.
func (r *Recorder) Emit(e Event) {
	if r == nil || len(r.sinks) == 0 {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- e:
	default:
		r.dropped++
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (r *Recorder) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close stops accepting events, drains the queue until ctx is done and closes
// sinks that implement io.Closer.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	var errs []error
	for _, s := range r.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
