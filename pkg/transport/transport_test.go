package transport

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gwillem/bladeloader/pkg/gcode"
	"github.com/gwillem/bladeloader/pkg/motion"
)

// fakePort answers written lines through reply and hands the answer back in
// small chunks, the way a USB CDC port does.
type fakePort struct {
	mu      sync.Mutex
	written []string
	pending []byte
	reply   func(line string) string
	resets  int
	closed  bool
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	line := string(p)
	f.written = append(f.written, line)
	if f.reply != nil {
		if r := f.reply(strings.TrimRight(line, "\r\n")); r != "" {
			f.pending = append(f.pending, r...)
		}
	}
	return len(p), nil
}

func (f *fakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return 0, nil
	}
	n := copy(p[:min(len(p), 5)], f.pending)
	f.pending = f.pending[n:]
	return n, nil
}

func (f *fakePort) ResetInputBuffer() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.pending = nil
	return nil
}

func (f *fakePort) Close() error {
	f.closed = true
	return nil
}

func TestSerial_Send(t *testing.T) {
	port := &fakePort{reply: func(line string) string {
		if line == "M114" {
			return "X:1.00 Y:300.00 Z:0.00 E:0.00\r\nok\r\n"
		}
		return "ok\r\n"
	}}
	s := newSerial(port, SerialConfig{Port: "fake", ResponseTimeout: time.Second}, nil)

	resp, err := s.Send(context.Background(), "G1 F3000 Z50.00")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if resp != "ok" {
		t.Errorf("Send() = %q, want %q", resp, "ok")
	}

	resp, err = s.Send(context.Background(), "M114")
	if err != nil {
		t.Fatalf("Send(M114) error = %v", err)
	}
	if want := "X:1.00 Y:300.00 Z:0.00 E:0.00\nok"; resp != want {
		t.Errorf("Send(M114) = %q, want %q", resp, want)
	}

	if got := port.written[0]; got != "G1 F3000 Z50.00\r\n" {
		t.Errorf("written = %q, want CRLF terminated line", got)
	}
}

func TestSerial_Timeout(t *testing.T) {
	port := &fakePort{reply: func(string) string { return "busy: processing\n" }}
	s := newSerial(port, SerialConfig{Port: "fake", ResponseTimeout: 20 * time.Millisecond}, nil)

	resp, err := s.Send(context.Background(), "M400")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Send() err = %v, want ErrTimeout", err)
	}
	if resp != "busy: processing" {
		t.Errorf("Send() partial response = %q", resp)
	}
	if port.resets != 1 {
		t.Errorf("input buffer resets = %d, want 1", port.resets)
	}
}

func TestSerial_Closed(t *testing.T) {
	port := &fakePort{}
	s := newSerial(port, SerialConfig{Port: "fake"}, nil)
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := s.Send(context.Background(), "M400"); !errors.Is(err, ErrDisconnected) {
		t.Errorf("Send() after Close err = %v, want ErrDisconnected", err)
	}
	if err := s.Interrupt("M410"); !errors.Is(err, ErrDisconnected) {
		t.Errorf("Interrupt() after Close err = %v, want ErrDisconnected", err)
	}
	if !port.closed {
		t.Error("port not closed")
	}
}

func TestSerial_CanceledBeforeWrite(t *testing.T) {
	port := &fakePort{}
	s := newSerial(port, SerialConfig{Port: "fake"}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Send(ctx, "M400"); !errors.Is(err, context.Canceled) {
		t.Errorf("Send() err = %v, want context.Canceled", err)
	}
	if len(port.written) != 0 {
		t.Errorf("written = %q, want nothing", port.written)
	}
}

func TestSimulator_TracksState(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator()

	for _, line := range []string{"M888 P2", "M1112", "M400", "G1 F3000 Z50.00", "G1 F3000 X100.00 Y200.00", "M1000"} {
		resp, err := sim.Send(ctx, line)
		if err != nil || !gcode.ResponseOK(resp) {
			t.Fatalf("Send(%q) = %q, %v", line, resp, err)
		}
	}

	st := sim.State()
	if want := (motion.Position{X: 100, Y: 200, Z: 50}); st.Commanded != want {
		t.Errorf("Commanded = %v, want %v", st.Commanded, want)
	}
	if !st.Homed || st.Suction != gcode.SuctionOn || st.Module != gcode.ModulePneumatic {
		t.Errorf("State() = %+v", st)
	}

	resp, _ := sim.Send(ctx, "M114")
	x, y, z, err := gcode.ParsePosition(resp)
	if err != nil || x != 100 || y != 200 || z != 50 {
		t.Errorf("M114 = %q -> (%v, %v, %v, %v)", resp, x, y, z, err)
	}
}

func TestSimulator_TeachModeSeparatesSensor(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator()

	if err := sim.MoveByHand(motion.Position{X: 10, Y: 200, Z: 0}); !errors.Is(err, ErrMotorsEnabled) {
		t.Fatalf("MoveByHand() with motors on err = %v", err)
	}

	sim.Send(ctx, "M84")
	if err := sim.MoveByHand(motion.Position{X: 10, Y: 200, Z: 0}); err != nil {
		t.Fatalf("MoveByHand() error = %v", err)
	}

	resp, _ := sim.Send(ctx, "M114")
	if x, _, _, _ := gcode.ParsePosition(resp); x != 0 {
		t.Errorf("M114 x = %v, want stale commanded 0", x)
	}
	resp, _ = sim.Send(ctx, "M895")
	if x, y, _, _ := gcode.ParsePosition(resp); x != 10 || y != 200 {
		t.Errorf("M895 = %q, want hand position", resp)
	}
}

func TestSimulator_Faults(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator()
	sim.InjectFault(FailOn("M1002", 0))

	resp, err := sim.Send(ctx, "M1002")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if gcode.ResponseOK(resp) {
		t.Errorf("faulted response %q carries ok", resp)
	}
	if st := sim.State(); st.Suction != gcode.SuctionOff {
		t.Errorf("faulted command was applied: suction = %v", st.Suction)
	}

	sim.Disconnect()
	if _, err := sim.Send(ctx, "M400"); !errors.Is(err, ErrDisconnected) {
		t.Errorf("Send() while disconnected err = %v", err)
	}
	sim.Reconnect()
	sim.InjectFault(nil)
	if resp, err := sim.Send(ctx, "M400"); err != nil || resp != "ok" {
		t.Errorf("Send() after reconnect = %q, %v", resp, err)
	}

	if got, want := sim.Sent(), []string{"M1002", "M400"}; strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Sent() = %q, want %q", got, want)
	}
}
