package events

import (
	"sync"

	"github.com/JohnOrlandSudoy/restaurant-server/internal/models"
)

// Dispatcher receives outbound domain events. Implementations must not block
// the caller; delivery is best-effort and happens outside any domain lock.
type Dispatcher interface {
	Dispatch(event models.Event)
}

// Recorder is a Dispatcher that keeps every event in memory, in dispatch
// order. Used as the test seam for asserting emitted events.
type Recorder struct {
	mu     sync.Mutex
	events []models.Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Dispatch appends the event to the recorded list.
func (r *Recorder) Dispatch(event models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of all recorded events.
func (r *Recorder) Events() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events of the given type, in order.
func (r *Recorder) OfType(eventType models.EventType) []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Event
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Reset clears the recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Multi fans one event out to several dispatchers.
type Multi []Dispatcher

// Dispatch forwards the event to every dispatcher in order.
func (m Multi) Dispatch(event models.Event) {
	for _, d := range m {
		d.Dispatch(event)
	}
}
