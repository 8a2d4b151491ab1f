package weather

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventKind identifies the type of a collection event.
type EventKind string

const (
	EventSourceStarted   EventKind = "source_started"
	EventSourceCompleted EventKind = "source_completed"
	EventAggregateReady  EventKind = "aggregate_ready"
	EventRunCompleted    EventKind = "run_completed"
	EventLogLine         EventKind = "log"
)

// Level is the severity of a LogLine event.
type Level string

const (
	LevelInfo    Level = "INFO"
	LevelSuccess Level = "SUCCESS"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// Event is a single progress notification of a collection run. Only the
// fields relevant to Kind are set.
type Event struct {
	Seq      uint64    `json:"seq"`
	Kind     EventKind `json:"kind"`
	RunID    string    `json:"run_id"`
	Location Location  `json:"location"`
	At       time.Time `json:"at"`

	Source     string     `json:"source,omitempty"`
	Reading    *Reading   `json:"reading,omitempty"`
	Provenance Provenance `json:"provenance,omitempty"`
	Aggregate  Aggregate  `json:"aggregate,omitempty"`
	Count      int        `json:"count,omitempty"`
	Text       string     `json:"text,omitempty"`
	Level      Level      `json:"level,omitempty"`
	// Err is the typed error behind an ERROR line, if any.
	Err error `json:"-"`
}

// Sink consumes collection events. Publish must not block for long.
type Sink interface {
	Publish(e Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) { f(e) }

// MultiSink fans an event out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Publish(e Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(e)
		}
	}
}

// EventQueue is an ordered, non-blocking event queue. Producers Publish; a
// consumer drains it on its own schedule.
type EventQueue struct {
	mu      sync.Mutex
	events  []Event
	seq     uint64
	limit   int
	dropped uint64
	notify  chan struct{}
}

// NewEventQueue returns an unbounded queue.
func NewEventQueue() *EventQueue {
	return &EventQueue{notify: make(chan struct{}, 1)}
}

// NewBoundedEventQueue returns a queue that keeps at most limit events,
// discarding the oldest when full.
func NewBoundedEventQueue(limit int) *EventQueue {
	q := NewEventQueue()
	q.limit = limit
	return q
}

// Publish appends e and assigns it the next sequence number.
func (q *EventQueue) Publish(e Event) {
	q.mu.Lock()
	q.seq++
	e.Seq = q.seq
	q.events = append(q.events, e)
	if q.limit > 0 && len(q.events) > q.limit {
		over := len(q.events) - q.limit
		q.dropped += uint64(over)
		q.events = append(q.events[:0:0], q.events[over:]...)
	}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Drain removes and returns all queued events in publish order.
func (q *EventQueue) Drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.events
	q.events = nil
	return out
}

// Len returns the number of queued events.
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Dropped returns how many events a bounded queue has discarded.
func (q *EventQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Notify signals (coalesced) that events are waiting.
func (q *EventQueue) Notify() <-chan struct{} {
	return q.notify
}

// LogSink writes LogLine events to a zerolog logger.
type LogSink struct {
	Logger zerolog.Logger
}

func (s LogSink) Publish(e Event) {
	if e.Kind != EventLogLine {
		return
	}

	var ev *zerolog.Event
	switch e.Level {
	case LevelError:
		ev = s.Logger.Error()
	case LevelWarning:
		ev = s.Logger.Warn()
	case LevelSuccess:
		ev = s.Logger.Info().Str("status", "success")
	default:
		ev = s.Logger.Info()
	}

	if e.Err != nil {
		ev = ev.Err(e.Err)
	}
	ev.Str("run_id", e.RunID).
		Str("location", e.Location.String()).
		Msg(e.Text)
}
