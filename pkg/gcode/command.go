// Package gcode models the commands understood by the arm firmware and
// their line encoding.
package gcode

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultFeedrate is the feedrate used when a move line carries no F word.
const DefaultFeedrate = 3000

// Kind identifies a command variant.
type Kind int

const (
	KindMove Kind = iota
	KindWait
	KindSuction
	KindHome
	KindDelay
	KindMotors
	KindQuickStop
	KindSetModule
	KindQueryPosition
	KindQuerySensor
)

var kindNames = map[Kind]string{
	KindMove:          "move",
	KindWait:          "wait",
	KindSuction:       "suction",
	KindHome:          "home",
	KindDelay:         "delay",
	KindMotors:        "motors",
	KindQuickStop:     "quick_stop",
	KindSetModule:     "set_module",
	KindQueryPosition: "query_position",
	KindQuerySensor:   "query_sensor",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Command is a single instruction for the arm.
//
// The set of implementations is closed: every variant lives in this package
// and must answer the motion predicates, so adding a variant without deciding
// how it moves the arm does not compile.
type Command interface {
	Kind() Kind
	// Encode returns the wire text without line terminator. Host-side
	// commands return "".
	Encode() string
	// ChangesXY reports whether executing the command may move the arm in X or Y.
	ChangesXY() bool
	// ChangesZ reports whether executing the command may move the arm in Z.
	ChangesZ() bool

	isCommand()
}

// IsMove reports whether c is a linear move.
func IsMove(c Command) bool { return c.Kind() == KindMove }

// IsWait reports whether c waits for queued motion to finish.
func IsWait(c Command) bool { return c.Kind() == KindWait }

// IsLocal reports whether c is executed on the host and never sent.
func IsLocal(c Command) bool { return c.Kind() == KindDelay }

// ErrEmptyMove is returned when a move names no axis.
var ErrEmptyMove = errors.New("move requires at least one axis")

// Axis is one coordinate of a move.
type Axis struct {
	name  byte
	value float64
}

// X returns an X axis coordinate.
func X(v float64) Axis { return Axis{name: 'X', value: v} }

// Y returns a Y axis coordinate.
func Y(v float64) Axis { return Axis{name: 'Y', value: v} }

// Z returns a Z axis coordinate.
func Z(v float64) Axis { return Axis{name: 'Z', value: v} }

type coord struct {
	v  float64
	ok bool
}

// Move is a straight-line move to absolute coordinates (G1). Axes that are
// not present keep their current value.
type Move struct {
	x, y, z  coord
	feedrate int
}

// NewMove builds a move from the given axes. At least one axis is required
// and each axis may appear once.
func NewMove(feedrate int, axes ...Axis) (Move, error) {
	if feedrate <= 0 {
		return Move{}, fmt.Errorf("invalid feedrate %d", feedrate)
	}
	m := Move{feedrate: feedrate}
	for _, a := range axes {
		var c *coord
		switch a.name {
		case 'X':
			c = &m.x
		case 'Y':
			c = &m.y
		case 'Z':
			c = &m.z
		default:
			return Move{}, fmt.Errorf("unknown axis %q", a.name)
		}
		if c.ok {
			return Move{}, fmt.Errorf("axis %c given twice", a.name)
		}
		*c = coord{v: a.value, ok: true}
	}
	if !m.x.ok && !m.y.ok && !m.z.ok {
		return Move{}, ErrEmptyMove
	}
	return m, nil
}

// MustMove is like NewMove but panics on error. Use it only with literal axes.
func MustMove(feedrate int, axes ...Axis) Move {
	m, err := NewMove(feedrate, axes...)
	if err != nil {
		panic(err)
	}
	return m
}

// MoveZ returns a Z-only move.
func MoveZ(z float64, feedrate int) Move { return MustMove(feedrate, Z(z)) }

// MoveXY returns an XY move that keeps Z.
func MoveXY(x, y float64, feedrate int) Move { return MustMove(feedrate, X(x), Y(y)) }

// MoveXYZ returns a combined three-axis move.
func MoveXYZ(x, y, z float64, feedrate int) Move { return MustMove(feedrate, X(x), Y(y), Z(z)) }

// X returns the X coordinate and whether it is present.
func (m Move) X() (float64, bool) { return m.x.v, m.x.ok }

// Y returns the Y coordinate and whether it is present.
func (m Move) Y() (float64, bool) { return m.y.v, m.y.ok }

// Z returns the Z coordinate and whether it is present.
func (m Move) Z() (float64, bool) { return m.z.v, m.z.ok }

// Feedrate returns the move speed in mm/min.
func (m Move) Feedrate() int { return m.feedrate }

func (Move) Kind() Kind { return KindMove }

func (m Move) Encode() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "G1 F%d", m.feedrate)
	if m.x.ok {
		fmt.Fprintf(&sb, " X%.2f", m.x.v)
	}
	if m.y.ok {
		fmt.Fprintf(&sb, " Y%.2f", m.y.v)
	}
	if m.z.ok {
		fmt.Fprintf(&sb, " Z%.2f", m.z.v)
	}
	return sb.String()
}

func (m Move) ChangesXY() bool { return m.x.ok || m.y.ok }
func (m Move) ChangesZ() bool { return m.z.ok }
func (Move) isCommand() {}

func (m Move) String() string { return m.Encode() }

// Wait blocks until all queued motion has finished (M400).
type Wait struct{}

func (Wait) Kind() Kind { return KindWait }
func (Wait) Encode() string { return "M400" }
func (Wait) ChangesXY() bool { return false }
func (Wait) ChangesZ() bool { return false }
func (Wait) isCommand() {}

// SuctionAction selects the pneumatic pump mode.
type SuctionAction int

const (
	SuctionOn SuctionAction = iota
	SuctionBlow
	SuctionRelease
	SuctionOff
)

func (a SuctionAction) String() string {
	switch a {
	case SuctionOn:
		return "on"
	case SuctionBlow:
		return "blow"
	case SuctionRelease:
		return "release"
	case SuctionOff:
		return "off"
	}
	return fmt.Sprintf("suction(%d)", int(a))
}

// Suction drives the pneumatic pump.
type Suction struct {
	Action SuctionAction
}

func (Suction) Kind() Kind { return KindSuction }

func (s Suction) Encode() string {
	switch s.Action {
	case SuctionOn:
		return "M1000"
	case SuctionBlow:
		return "M1001"
	case SuctionRelease:
		return "M1002"
	case SuctionOff:
		return "M1003"
	}
	return ""
}

func (Suction) ChangesXY() bool { return false }
func (Suction) ChangesZ() bool { return false }
func (Suction) isCommand() {}

// Home returns the arm to its home pose (M1112). This is not M112, which is
// an emergency stop that needs a power cycle.
type Home struct{}

func (Home) Kind() Kind { return KindHome }
func (Home) Encode() string { return "M1112" }
func (Home) ChangesXY() bool { return true }
func (Home) ChangesZ() bool { return true }
func (Home) isCommand() {}

// Delay is a host-side pause for physical settling. It is never sent.
type Delay struct {
	Duration time.Duration
}

func (Delay) Kind() Kind { return KindDelay }
func (Delay) Encode() string { return "" }
func (Delay) ChangesXY() bool { return false }
func (Delay) ChangesZ() bool { return false }
func (Delay) isCommand() {}

func (d Delay) String() string { return "delay " + d.Duration.String() }

// Motors enables (M17) or disables (M84) the steppers. Disabled motors let
// the arm be moved by hand.
type Motors struct {
	Enable bool
}

func (Motors) Kind() Kind { return KindMotors }

func (m Motors) Encode() string {
	if m.Enable {
		return "M17"
	}
	return "M84"
}

func (Motors) ChangesXY() bool { return false }
func (Motors) ChangesZ() bool { return false }
func (Motors) isCommand() {}

// QuickStop halts all steppers immediately (M410). The arm stays powered and
// can resume after its position is re-established.
type QuickStop struct{}

func (QuickStop) Kind() Kind { return KindQuickStop }
func (QuickStop) Encode() string { return "M410" }
func (QuickStop) ChangesXY() bool { return false }
func (QuickStop) ChangesZ() bool { return false }
func (QuickStop) isCommand() {}

// Module is a front-end tool head.
type Module int

const (
	ModulePen Module = iota
	ModuleLaser
	ModulePneumatic
	Module3DPrint
)

// SetModule selects the front-end tool head (M888).
type SetModule struct {
	Module Module
}

func (SetModule) Kind() Kind { return KindSetModule }
func (s SetModule) Encode() string { return fmt.Sprintf("M888 P%d", int(s.Module)) }
func (SetModule) ChangesXY() bool { return false }
func (SetModule) ChangesZ() bool { return false }
func (SetModule) isCommand() {}

// QueryPosition asks for the commanded position (M114). The answer is only
// meaningful after a Wait.
type QueryPosition struct{}

func (QueryPosition) Kind() Kind { return KindQueryPosition }
func (QueryPosition) Encode() string { return "M114" }
func (QueryPosition) ChangesXY() bool { return false }
func (QueryPosition) ChangesZ() bool { return false }
func (QueryPosition) isCommand() {}

// QuerySensor reads the joint encoders and reports the Cartesian position
// (M895). Use it after the arm was moved by hand.
type QuerySensor struct{}

func (QuerySensor) Kind() Kind { return KindQuerySensor }
func (QuerySensor) Encode() string { return "M895" }
func (QuerySensor) ChangesXY() bool { return false }
func (QuerySensor) ChangesZ() bool { return false }
func (QuerySensor) isCommand() {}
