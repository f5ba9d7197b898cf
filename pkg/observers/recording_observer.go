package observers

import (
	"sync"

	"github.com/anggasct/logicdriver/pkg/core"
)

// EventKind identifies a recorded notification.
type EventKind string

const (
	EventStateStarted    EventKind = "state_started"
	EventTransitionTaken EventKind = "transition_taken"
	EventStateChanged    EventKind = "state_changed"
	EventInitialized     EventKind = "initialized"
	EventStarted         EventKind = "started"
	EventStopped         EventKind = "stopped"
	EventShutdown        EventKind = "shutdown"
	EventError           EventKind = "error"
)

// Event is one recorded notification. Node holds the state or transition
// name; From and To are only set for transitions and state changes.
type Event struct {
	Kind    EventKind
	Machine string
	Node    string
	From    string
	To      string
	Err     error
}

// RecordingObserver keeps every notification in order.
type RecordingObserver struct {
	mu     sync.Mutex
	events []Event
	limit  int
}

var _ core.ExtendedObserver = (*RecordingObserver)(nil)

// NewRecordingObserver keeps at most limit events, dropping the oldest.
// A limit of zero or less keeps everything.
func NewRecordingObserver(limit int) *RecordingObserver {
	return &RecordingObserver{limit: limit}
}

func (o *RecordingObserver) record(e Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
	if o.limit > 0 && len(o.events) > o.limit {
		o.events = o.events[len(o.events)-o.limit:]
	}
}

func (o *RecordingObserver) OnStateStarted(inst *core.Instance, state core.StateNode) {
	o.record(Event{Kind: EventStateStarted, Machine: inst.Name(), Node: nameOf(state)})
}

func (o *RecordingObserver) OnTransitionTaken(inst *core.Instance, t *core.Transition) {
	o.record(Event{Kind: EventTransitionTaken, Machine: inst.Name(), Node: t.Name(),
		From: nameOf(t.From()), To: nameOf(t.To())})
}

func (o *RecordingObserver) OnStateChanged(inst *core.Instance, to, from core.StateNode) {
	o.record(Event{Kind: EventStateChanged, Machine: inst.Name(), From: nameOf(from), To: nameOf(to)})
}

func (o *RecordingObserver) OnInitialized(inst *core.Instance) {
	o.record(Event{Kind: EventInitialized, Machine: inst.Name()})
}

func (o *RecordingObserver) OnStarted(inst *core.Instance) {
	o.record(Event{Kind: EventStarted, Machine: inst.Name()})
}

func (o *RecordingObserver) OnStopped(inst *core.Instance) {
	o.record(Event{Kind: EventStopped, Machine: inst.Name()})
}

func (o *RecordingObserver) OnShutdown(inst *core.Instance) {
	o.record(Event{Kind: EventShutdown, Machine: inst.Name()})
}

func (o *RecordingObserver) OnError(inst *core.Instance, err error) {
	o.record(Event{Kind: EventError, Machine: inst.Name(), Err: err})
}

// Events returns a copy of the recorded events.
func (o *RecordingObserver) Events() []Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Event, len(o.events))
	copy(out, o.events)
	return out
}

// Filter returns the recorded events of one kind.
func (o *RecordingObserver) Filter(kind EventKind) []Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []Event
	for _, e := range o.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (o *RecordingObserver) Reset() {
	o.mu.Lock()
	o.events = nil
	o.mu.Unlock()
}
