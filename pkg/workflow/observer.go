package workflow

import (
	"time"

	"github.com/gwillem/bladeloader/pkg/position"
)

// Summary describes a completed cycle.
type Summary struct {
	CycleID  string
	Hooks    int
	Started  time.Time
	Duration time.Duration
}

// Observer is notified synchronously from the goroutine driving the
// workflow. Implementations must not block.
type Observer interface {
	StateChanged(from, to State)
	Progress(done, total int)
	Completed(s Summary)
	Errored(state State, cause error)
	// Drifted reports a drift warning after the move of state. The cycle
	// carries on.
	Drifted(state State, drift *position.DriftError)
}

// Funcs adapts optional callbacks to Observer.
type Funcs struct {
	OnStateChange func(from, to State)
	OnProgress    func(done, total int)
	OnComplete    func(s Summary)
	OnError       func(state State, cause error)
	OnDrift       func(state State, drift *position.DriftError)
}

func (f Funcs) StateChanged(from, to State) {
	if f.OnStateChange != nil {
		f.OnStateChange(from, to)
	}
}

func (f Funcs) Progress(done, total int) {
	if f.OnProgress != nil {
		f.OnProgress(done, total)
	}
}

func (f Funcs) Completed(s Summary) {
	if f.OnComplete != nil {
		f.OnComplete(s)
	}
}

func (f Funcs) Errored(state State, cause error) {
	if f.OnError != nil {
		f.OnError(state, cause)
	}
}

func (f Funcs) Drifted(state State, drift *position.DriftError) {
	if f.OnDrift != nil {
		f.OnDrift(state, drift)
	}
}

// Observers fans out to several observers in order.
type Observers []Observer

func (o Observers) StateChanged(from, to State) {
	for _, x := range o {
		x.StateChanged(from, to)
	}
}

func (o Observers) Progress(done, total int) {
	for _, x := range o {
		x.Progress(done, total)
	}
}

func (o Observers) Completed(s Summary) {
	for _, x := range o {
		x.Completed(s)
	}
}

func (o Observers) Errored(state State, cause error) {
	for _, x := range o {
		x.Errored(state, cause)
	}
}

func (o Observers) Drifted(state State, drift *position.DriftError) {
	for _, x := range o {
		x.Drifted(state, drift)
	}
}

// EventKind tags an Event.
type EventKind int

const (
	EventState EventKind = iota
	EventProgress
	EventComplete
	EventError
	EventDrift
)

// Event is one observer notification as a value.
type Event struct {
	Kind    EventKind
	From    State
	To      State
	Done    int
	Total   int
	Summary Summary
	Err     error
	Time    time.Time
}

// Stream turns notifications into a channel for consumers such as a UI.
// Events are dropped when the buffer is full.
type Stream struct {
	ch chan Event
}

// NewStream returns a stream with the given buffer size.
func NewStream(buffer int) *Stream {
	return &Stream{ch: make(chan Event, buffer)}
}

// Events returns the channel events are delivered on.
func (s *Stream) Events() <-chan Event { return s.ch }

func (s *Stream) send(e Event) {
	e.Time = time.Now()
	select {
	case s.ch <- e:
	default:
		// Drop if channel full
	}
}

func (s *Stream) StateChanged(from, to State) {
	s.send(Event{Kind: EventState, From: from, To: to})
}

func (s *Stream) Progress(done, total int) {
	s.send(Event{Kind: EventProgress, Done: done, Total: total})
}

func (s *Stream) Completed(sum Summary) {
	s.send(Event{Kind: EventComplete, Summary: sum})
}

func (s *Stream) Errored(state State, cause error) {
	s.send(Event{Kind: EventError, From: state, To: Error, Err: cause})
}

func (s *Stream) Drifted(state State, drift *position.DriftError) {
	s.send(Event{Kind: EventDrift, From: state, To: state, Err: drift})
}
