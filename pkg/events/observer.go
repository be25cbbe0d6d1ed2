package events

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gwillem/bladeloader/pkg/position"
	"github.com/gwillem/bladeloader/pkg/workflow"
)

type statePayload struct {
	From      string    `json:"from"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

type progressPayload struct {
	Done      int       `json:"done"`
	Total     int       `json:"total"`
	Timestamp time.Time `json:"timestamp"`
}

type completePayload struct {
	CycleID    string    `json:"cycle_id"`
	Hooks      int       `json:"hooks"`
	Started    time.Time `json:"started"`
	DurationMS int64     `json:"duration_ms"`
}

type errorPayload struct {
	State     string    `json:"state"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

type driftPayload struct {
	State     string     `json:"state"`
	Tracked   [3]float64 `json:"tracked"`
	Sensed    [3]float64 `json:"sensed"`
	MaxMM     float64    `json:"max_mm"`
	Timestamp time.Time  `json:"timestamp"`
}

// Observer publishes workflow events. Publishing happens on its own
// goroutine so a slow broker never holds up the arm; events are dropped
// when the buffer is full.
type Observer struct {
	*workflow.Stream
	pub    Publisher
	topics Topics
	logger *slog.Logger

	quit chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewObserver starts publishing events to pub.
func NewObserver(pub Publisher, topics Topics, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	o := &Observer{
		Stream: workflow.NewStream(64),
		pub:    pub,
		topics: topics,
		logger: logger.With("component", "events"),
		quit:   make(chan struct{}),
	}
	o.wg.Add(1)
	go o.loop()
	return o
}

func (o *Observer) loop() {
	defer o.wg.Done()
	for {
		select {
		case e := <-o.Events():
			o.publish(e)
		case <-o.quit:
			for {
				select {
				case e := <-o.Events():
					o.publish(e)
				default:
					return
				}
			}
		}
	}
}

func (o *Observer) publish(e workflow.Event) {
	var (
		topic    string
		v        any
		retained bool
	)
	switch e.Kind {
	case workflow.EventState:
		topic, retained = o.topics.State(), true
		v = statePayload{From: e.From.String(), State: e.To.String(), Timestamp: e.Time}
	case workflow.EventProgress:
		topic = o.topics.Progress()
		v = progressPayload{Done: e.Done, Total: e.Total, Timestamp: e.Time}
	case workflow.EventComplete:
		topic = o.topics.Complete()
		v = completePayload{
			CycleID:    e.Summary.CycleID,
			Hooks:      e.Summary.Hooks,
			Started:    e.Summary.Started,
			DurationMS: e.Summary.Duration.Milliseconds(),
		}
	case workflow.EventError:
		topic = o.topics.Error()
		p := errorPayload{State: e.From.String(), Timestamp: e.Time}
		if e.Err != nil {
			p.Error = e.Err.Error()
		}
		v = p
	case workflow.EventDrift:
		var drift *position.DriftError
		if !errors.As(e.Err, &drift) {
			return
		}
		topic = o.topics.Drift()
		v = driftPayload{
			State:     e.From.String(),
			Tracked:   [3]float64{drift.Tracked.X, drift.Tracked.Y, drift.Tracked.Z},
			Sensed:    [3]float64{drift.Sensed.X, drift.Sensed.Y, drift.Sensed.Z},
			MaxMM:     drift.Max(),
			Timestamp: e.Time,
		}
	default:
		return
	}

	payload, err := json.Marshal(v)
	if err != nil {
		o.logger.Error("encode event", "topic", topic, "error", err)
		return
	}
	if err := o.pub.Publish(topic, payload, retained); err != nil {
		o.logger.Warn("publish event", "topic", topic, "error", err)
	}
}

// Close publishes what is still buffered and stops the goroutine.
func (o *Observer) Close() {
	o.once.Do(func() { close(o.quit) })
	o.wg.Wait()
}
