package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/guregu/null.v3"
)

type Event struct {
	ID         string     `json:"id"`
	Timestamp  time.Time  `json:"timestamp"`
	Message    string     `json:"message"`
	Type       Type       `json:"event_type"`
	Attributes Attributes `json:"attributes,omitempty"`
	RunName    string     `json:"run_name,omitempty"`
	RunID      string     `json:"run_id,omitempty"`
}

// Sink accepts events produced by the trackers.
type Sink interface {
	// Record appends an event; a null timestamp means now.
	Record(eventType Type, message string, attributes Attributes, timestamp null.Time)
	Events() []Event
	Clear()
}

// Recorder keeps events in memory until the submitter drains them. It is shared between the
// poll loop, the command socket and the submitter, so it is locked.
type Recorder struct {
	lock    sync.Mutex
	events  []Event
	runName string
	runID   string
	clock   func() time.Time
}

func NewRecorder() *Recorder {
	return &Recorder{
		events: make([]Event, 0),
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// StartRun tags subsequent events with a new run and returns its id.
func (r *Recorder) StartRun(runName string) string {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.runName = runName
	r.runID = uuid.NewString()
	return r.runID
}

func (r *Recorder) EndRun() {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.runName = ""
	r.runID = ""
}

func (r *Recorder) Run() (string, string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.runName, r.runID
}

func (r *Recorder) Record(eventType Type, message string, attributes Attributes, timestamp null.Time) {
	r.lock.Lock()
	defer r.lock.Unlock()

	at := r.clock()
	if timestamp.Valid {
		at = timestamp.Time
	}

	r.events = append(r.events, Event{
		ID:         uuid.NewString(),
		Timestamp:  at,
		Message:    message,
		Type:       eventType,
		Attributes: attributes,
		RunName:    r.runName,
		RunID:      r.runID,
	})
}

func (r *Recorder) Events() []Event {
	r.lock.Lock()
	defer r.lock.Unlock()

	return append([]Event(nil), r.events...)
}

func (r *Recorder) Clear() {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.events = make([]Event, 0)
}

// Drain returns the accumulated events and clears them in one step.
func (r *Recorder) Drain() []Event {
	r.lock.Lock()
	defer r.lock.Unlock()

	drained := r.events
	r.events = make([]Event, 0)
	return drained
}

func (r *Recorder) Len() int {
	r.lock.Lock()
	defer r.lock.Unlock()

	return len(r.events)
}

// Count returns how many events of the given type are buffered.
func (r *Recorder) Count(eventType Type) int {
	r.lock.Lock()
	defer r.lock.Unlock()

	count := 0
	for _, event := range r.events {
		if event.Type == eventType {
			count++
		}
	}
	return count
}
