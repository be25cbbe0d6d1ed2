package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gwillem/bladeloader/pkg/gcode"
	"github.com/gwillem/bladeloader/pkg/motion"
)

// FaultFunc decides whether the n-th line (1-based) fails.
type FaultFunc func(n int, line string) bool

// SimState is a snapshot of the simulated arm.
type SimState struct {
	Commanded motion.Position // what M114 reports
	Actual    motion.Position // what M895 reports
	Suction   gcode.SuctionAction
	Motors    bool
	Homed     bool
	Module    gcode.Module
}

// Simulator is a deterministic in-memory arm. It answers like the firmware,
// tracks commanded and encoder positions separately, and can inject faults.
type Simulator struct {
	mu           sync.Mutex
	state        SimState
	sent         []string
	n            int
	fault        FaultFunc
	disconnected bool
}

// NewSimulator returns an unhomed arm resting at the home pose with motors
// enabled and suction off.
func NewSimulator() *Simulator {
	return &Simulator{state: SimState{
		Commanded: motion.Home,
		Actual:    motion.Home,
		Suction:   gcode.SuctionOff,
		Motors:    true,
		Module:    gcode.ModulePneumatic,
	}}
}

// Send implements Transport.
func (s *Simulator) Send(ctx context.Context, line string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disconnected {
		return "", ErrDisconnected
	}
	s.n++
	s.sent = append(s.sent, line)
	if s.fault != nil && s.fault(s.n, line) {
		return "Error: simulated fault", nil
	}
	return s.apply(line)
}

// Interrupt implements Interrupter.
func (s *Simulator) Interrupt(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disconnected {
		return ErrDisconnected
	}
	s.n++
	s.sent = append(s.sent, line)
	_, err := s.apply(line)
	return err
}

func (s *Simulator) apply(line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "ok", nil
	}
	st := &s.state
	switch strings.ToUpper(fields[0]) {
	case "G0", "G1":
		m, err := gcode.ParseMove(line)
		if err != nil {
			return fmt.Sprintf("Error: %v", err), nil
		}
		if x, ok := m.X(); ok {
			st.Commanded.X = x
		}
		if y, ok := m.Y(); ok {
			st.Commanded.Y = y
		}
		if z, ok := m.Z(); ok {
			st.Commanded.Z = z
		}
		if st.Motors {
			st.Actual = st.Commanded
		}
	case "M1000":
		st.Suction = gcode.SuctionOn
	case "M1001":
		st.Suction = gcode.SuctionBlow
	case "M1002":
		st.Suction = gcode.SuctionRelease
	case "M1003":
		st.Suction = gcode.SuctionOff
	case "M1112":
		st.Commanded, st.Actual = motion.Home, motion.Home
		st.Homed = true
		st.Motors = true
	case "M17":
		st.Motors = true
		// Re-enabling the steppers adopts the encoder position.
		st.Commanded = st.Actual
	case "M84":
		st.Motors = false
	case "M888":
		if len(fields) > 1 && len(fields[1]) > 1 {
			var p int
			if _, err := fmt.Sscanf(fields[1][1:], "%d", &p); err == nil {
				st.Module = gcode.Module(p)
			}
		}
	case "M114":
		return formatPosition(st.Commanded) + "\nok", nil
	case "M895":
		return formatPosition(st.Actual) + "\nok", nil
	case "M400", "M410":
	default:
		return fmt.Sprintf("echo:Unknown command: %q\nok", line), nil
	}
	return "ok", nil
}

func formatPosition(p motion.Position) string {
	return fmt.Sprintf("X:%.2f Y:%.2f Z:%.2f E:0.00", p.X, p.Y, p.Z)
}

// InjectFault installs f; nil clears it. Faulted lines are recorded as sent
// and answered with an error and no acknowledgement.
func (s *Simulator) InjectFault(f FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = f
}

// FailOn returns a FaultFunc that fails every line starting with prefix
// once skip matching lines have passed.
func FailOn(prefix string, skip int) FaultFunc {
	seen := 0
	return func(_ int, line string) bool {
		if !strings.HasPrefix(line, prefix) {
			return false
		}
		seen++
		return seen > skip
	}
}

// Disconnect makes every following request fail with ErrDisconnected.
func (s *Simulator) Disconnect() {
	s.mu.Lock()
	s.disconnected = true
	s.mu.Unlock()
}

// Reconnect undoes Disconnect.
func (s *Simulator) Reconnect() {
	s.mu.Lock()
	s.disconnected = false
	s.mu.Unlock()
}

// ErrMotorsEnabled is returned when the arm is moved by hand with the
// steppers holding.
var ErrMotorsEnabled = errors.New("motors enabled")

// MoveByHand repositions the arm as an operator would in teach mode.
func (s *Simulator) MoveByHand(p motion.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Motors {
		return ErrMotorsEnabled
	}
	s.state.Actual = p
	return nil
}

// Slip shifts the encoder position without the firmware noticing, as after a
// missed step.
func (s *Simulator) Slip(delta motion.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Actual.X += delta.X
	s.state.Actual.Y += delta.Y
	s.state.Actual.Z += delta.Z
}

// State returns a snapshot of the simulated arm.
func (s *Simulator) State() SimState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Sent returns a copy of every line received, in order.
func (s *Simulator) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}
