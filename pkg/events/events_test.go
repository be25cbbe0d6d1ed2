package events

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gwillem/bladeloader/pkg/motion"
	"github.com/gwillem/bladeloader/pkg/position"
	"github.com/gwillem/bladeloader/pkg/workflow"
)

type message struct {
	topic    string
	payload  []byte
	retained bool
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []message
	err  error
}

func (f *fakePublisher) Publish(topic string, payload []byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, message{topic, payload, retained})
	return f.err
}

func (f *fakePublisher) messages() []message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message(nil), f.msgs...)
}

func TestTopics(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"", "bladeloader/workflow/state"},
		{"line1/arm2/", "line1/arm2/workflow/state"},
	}
	for _, tt := range tests {
		if got := NewTopics(tt.prefix).State(); got != tt.want {
			t.Errorf("NewTopics(%q).State() = %q, want %q", tt.prefix, got, tt.want)
		}
	}
	if got := NewTopics("").Status(); got != "bladeloader/status" {
		t.Errorf("Status() = %q", got)
	}
}

func TestObserver_PublishesInOrder(t *testing.T) {
	pub := &fakePublisher{}
	topics := NewTopics("")
	o := NewObserver(pub, topics, nil)

	var obs workflow.Observer = o
	obs.StateChanged(workflow.Idle, workflow.LiftingToSafe)
	obs.Progress(1, 2)
	obs.Errored(workflow.LoweringToHook, errors.New("transport failed"))
	obs.Completed(workflow.Summary{CycleID: "c1", Hooks: 2, Duration: 1500 * time.Millisecond})
	obs.Drifted(workflow.LoweringToPick, &position.DriftError{
		Tracked:   motion.Position{X: 100, Y: 250, Z: -40},
		Sensed:    motion.Position{X: 101.2, Y: 250, Z: -40},
		Tolerance: 0.5,
	})
	o.Close()

	msgs := pub.messages()
	wantTopics := []string{topics.State(), topics.Progress(), topics.Error(), topics.Complete(), topics.Drift()}
	if len(msgs) != len(wantTopics) {
		t.Fatalf("published %d messages, want %d", len(msgs), len(wantTopics))
	}
	for i, want := range wantTopics {
		if msgs[i].topic != want {
			t.Errorf("message %d topic = %q, want %q", i, msgs[i].topic, want)
		}
	}
	if !msgs[0].retained {
		t.Error("state message not retained")
	}

	var state statePayload
	if err := json.Unmarshal(msgs[0].payload, &state); err != nil {
		t.Fatalf("state payload: %v", err)
	}
	if state.From != workflow.Idle.String() || state.State != workflow.LiftingToSafe.String() {
		t.Errorf("state payload = %+v", state)
	}

	var failure errorPayload
	json.Unmarshal(msgs[2].payload, &failure)
	if failure.State != workflow.LoweringToHook.String() || failure.Error != "transport failed" {
		t.Errorf("error payload = %+v", failure)
	}

	var done completePayload
	json.Unmarshal(msgs[3].payload, &done)
	if done.CycleID != "c1" || done.DurationMS != 1500 {
		t.Errorf("complete payload = %+v", done)
	}

	var drift driftPayload
	json.Unmarshal(msgs[4].payload, &drift)
	if drift.State != workflow.LoweringToPick.String() || drift.Sensed[0] != 101.2 || drift.MaxMM < 1.19 {
		t.Errorf("drift payload = %+v", drift)
	}
}

func TestObserver_PublishErrorIsNotFatal(t *testing.T) {
	pub := &fakePublisher{err: ErrNotConnected}
	o := NewObserver(pub, NewTopics(""), nil)
	o.Progress(1, 1)
	o.Progress(2, 2)
	o.Close()
	o.Close()
	if got := len(pub.messages()); got != 2 {
		t.Errorf("attempted %d publishes, want 2", got)
	}
}
