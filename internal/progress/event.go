// Package progress carries the ordered, timestamped progress events produced
// by a collection run to whatever sink is wired in (HTTP poller, log, NATS).
package progress

import (
	"sync"
	"time"
)

// Kind identifies the type of progress event
type Kind string

const (
	KindRunStarted     Kind = "run_started"
	KindSessionStarted Kind = "session_started"
	KindPage           Kind = "page"
	KindPageFailed     Kind = "page_failed"
	KindSessionStopped Kind = "session_stopped"
	KindDetail         Kind = "detail"
	KindDetailFailed   Kind = "detail_failed"
	KindRunFinished    Kind = "run_finished"
	KindRunFailed      Kind = "run_failed"
)

// Event is one progress notification. Seq is strictly increasing within a
// Stream.
type Event struct {
	Seq         int64     `json:"seq"`
	At          time.Time `json:"at"`
	RunID       string    `json:"runId,omitempty"`
	Source      string    `json:"source,omitempty"`
	Kind        Kind      `json:"kind"`
	Page        int       `json:"page,omitempty"`
	Rows        int       `json:"rows"`
	Qualifying  int       `json:"qualifying"`
	Older       int       `json:"older"`
	Streak      int       `json:"streak"`
	Accumulated int       `json:"accumulated"`
	Message     string    `json:"message"`
}

// Sink receives progress events. Implementations must not block for long.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) { f(e) }

// Stream stamps events with a sequence number, time and run id before
// handing them to its sink. A nil *Stream discards everything.
type Stream struct {
	mu    sync.Mutex
	seq   int64
	runID string
	sink  Sink
	now   func() time.Time
}

// NewStream creates a stream for one run.
func NewStream(runID string, sink Sink) *Stream {
	return &Stream{runID: runID, sink: sink, now: time.Now}
}

// Emit publishes e. Seq, At and RunID are overwritten.
func (s *Stream) Emit(e Event) {
	if s == nil || s.sink == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	e.Seq = s.seq
	e.At = s.now()
	e.RunID = s.runID
	s.sink.Publish(e)
}

// RunID returns the id stamped on every event.
func (s *Stream) RunID() string {
	if s == nil {
		return ""
	}
	return s.runID
}

// Multi fans an event out to several sinks in order.
type Multi []Sink

func (m Multi) Publish(e Event) {
	for _, sink := range m {
		if sink != nil {
			sink.Publish(e)
		}
	}
}
