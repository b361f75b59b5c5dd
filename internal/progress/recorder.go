package progress

import (
	"sync"
)

// Recorder keeps the most recent events in a bounded ring buffer so pollers
// can page through them by sequence number.
type Recorder struct {
	mu      sync.RWMutex
	events  []Event
	start   int
	size    int
	dropped int64
}

// NewRecorder creates a recorder holding at most capacity events.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Recorder{events: make([]Event, capacity)}
}

// Publish appends e, evicting the oldest event when full.
func (r *Recorder) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	capacity := len(r.events)
	if r.size < capacity {
		r.events[(r.start+r.size)%capacity] = e
		r.size++
		return
	}
	r.events[r.start] = e
	r.start = (r.start + 1) % capacity
	r.dropped++
}

// Since returns retained events with Seq greater than afterSeq, oldest first.
func (r *Recorder) Since(afterSeq int64) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Event, 0, r.size)
	for i := 0; i < r.size; i++ {
		e := r.events[(r.start+i)%len(r.events)]
		if e.Seq > afterSeq {
			out = append(out, e)
		}
	}
	return out
}

// Last returns the most recent event.
func (r *Recorder) Last() (Event, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.size == 0 {
		return Event{}, false
	}
	return r.events[(r.start+r.size-1)%len(r.events)], true
}

// Dropped returns how many events were evicted.
func (r *Recorder) Dropped() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.dropped
}
