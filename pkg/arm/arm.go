// Package arm holds the state of one physical arm and applies executed
// commands to it.
package arm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gwillem/bladeloader/pkg/executor"
	"github.com/gwillem/bladeloader/pkg/gcode"
	"github.com/gwillem/bladeloader/pkg/motion"
	"github.com/gwillem/bladeloader/pkg/position"
	"github.com/gwillem/bladeloader/pkg/transport"
)

// Suction is the believed state of the pneumatic pump.
type Suction int

const (
	SuctionOff Suction = iota
	SuctionOn
	SuctionReleased
)

func (s Suction) String() string {
	switch s {
	case SuctionOff:
		return "OFF"
	case SuctionOn:
		return "ON"
	case SuctionReleased:
		return "RELEASED"
	}
	return fmt.Sprintf("suction(%d)", int(s))
}

var (
	// ErrSuctionNotOn is returned when a blade is marked carried without
	// vacuum.
	ErrSuctionNotOn = errors.New("carrying requires suction on")
	// ErrMoveWithoutFix is returned when a move is passed to Control.
	ErrMoveWithoutFix = errors.New("moves need a position fix")
)

// State is a snapshot of the arm.
type State struct {
	Position      motion.Position
	Known         bool
	Homed         bool
	CarryingBlade bool
	Suction       Suction
	MotorsEnabled bool
	SafeZ         float64
	Mode          position.Mode
}

// Config holds what an Arm needs.
type Config struct {
	Transport      transport.Transport
	Log            *executor.Log // created when nil
	SafeZ          float64
	DriftTolerance float64
	Sleep          func(time.Duration) // nil means time.Sleep
	Logger         *slog.Logger
}

// Arm owns the tracked position, the status flags and the command queue of
// one connection.
type Arm struct {
	t         transport.Transport
	log       *executor.Log
	queue     *executor.Queue
	positions *position.Manager
	logger    *slog.Logger

	mu       sync.RWMutex
	homed    bool
	carrying bool
	suction  Suction
	motors   bool
	safeZ    float64
}

// New returns an arm with unknown position, motors assumed enabled.
func New(cfg Config) *Arm {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	log := cfg.Log
	if log == nil {
		log = executor.NewLog(logger)
	}
	return &Arm{
		t:         cfg.Transport,
		log:       log,
		queue:     executor.NewQueue(log, executor.WithSleeper(cfg.Sleep), executor.WithLogger(logger)),
		positions: position.NewManager(cfg.DriftTolerance),
		logger:    logger.With("component", "arm"),
		motors:    true,
		safeZ:     cfg.SafeZ,
	}
}

// Positions returns the position manager.
func (a *Arm) Positions() *position.Manager { return a.positions }

// Log returns the audit trail.
func (a *Arm) Log() *executor.Log { return a.log }

// Transport returns the underlying transport.
func (a *Arm) Transport() transport.Transport { return a.t }

// Execute runs a planned sequence under fix. Executed moves update the
// tracked position one by one, so after a failure the position reflects
// every move that was acknowledged. A failed move leaves the position
// unknown.
func (a *Arm) Execute(ctx context.Context, fix position.Fix, cmds []gcode.Command) ([]executor.Entry, error) {
	if err := a.positions.Check(fix); err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}
	return a.run(ctx, &fix, cmds)
}

// Control runs commands that do not move the arm along a planned path, such
// as suction, motors, queries or homing.
func (a *Arm) Control(ctx context.Context, cmds ...gcode.Command) ([]executor.Entry, error) {
	for _, c := range cmds {
		if gcode.IsMove(c) {
			return nil, fmt.Errorf("control %s: %w", c.Encode(), ErrMoveWithoutFix)
		}
	}
	return a.run(ctx, nil, cmds)
}

func (a *Arm) run(ctx context.Context, fix *position.Fix, cmds []gcode.Command) ([]executor.Entry, error) {
	if len(cmds) == 0 {
		return nil, nil
	}
	a.queue.Enqueue(cmds...)
	results, err := a.queue.Drain(ctx, a.t)

	for _, e := range results {
		if !e.Success {
			if e.Command.ChangesXY() || e.Command.ChangesZ() {
				a.positions.Invalidate()
			}
			continue
		}
		if aerr := a.apply(fix, e.Command); aerr != nil && err == nil {
			err = aerr
		}
	}
	return results, err
}

func (a *Arm) apply(fix *position.Fix, c gcode.Command) error {
	switch cmd := c.(type) {
	case gcode.Move:
		next := fix.Position
		if x, ok := cmd.X(); ok {
			next.X = x
		}
		if y, ok := cmd.Y(); ok {
			next.Y = y
		}
		if z, ok := cmd.Z(); ok {
			next.Z = z
		}
		renewed, err := a.positions.RecordCommanded(*fix, next)
		if err != nil {
			return fmt.Errorf("record %s: %w", cmd.Encode(), err)
		}
		*fix = renewed
	case gcode.Home:
		a.positions.ResetTo(motion.Home)
		a.mu.Lock()
		a.homed = true
		a.carrying = false
		a.motors = true
		a.mu.Unlock()
		if fix != nil {
			renewed, err := a.positions.Acquire()
			if err != nil {
				return err
			}
			*fix = renewed
		}
	case gcode.Suction:
		a.mu.Lock()
		switch cmd.Action {
		case gcode.SuctionOn:
			a.suction = SuctionOn
		case gcode.SuctionOff:
			a.suction = SuctionOff
		default:
			a.suction = SuctionReleased
		}
		if a.suction != SuctionOn {
			a.carrying = false
		}
		a.mu.Unlock()
	case gcode.Motors:
		a.mu.Lock()
		a.motors = cmd.Enable
		a.mu.Unlock()
	}
	return nil
}

// SetCarrying marks whether a blade is held. A blade can only be held with
// suction on.
func (a *Arm) SetCarrying(carrying bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if carrying && a.suction != SuctionOn {
		return ErrSuctionNotOn
	}
	a.carrying = carrying
	return nil
}

// Carrying reports whether a blade is held.
func (a *Arm) Carrying() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.carrying
}

// Homed reports whether the arm was homed on this connection.
func (a *Arm) Homed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.homed
}

// SafeZ returns the configured safe height.
func (a *Arm) SafeZ() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.safeZ
}

// SetSafeZ changes the safe height.
func (a *Arm) SetSafeZ(z float64) {
	a.mu.Lock()
	a.safeZ = z
	a.mu.Unlock()
}

// Snapshot returns the current state.
func (a *Arm) Snapshot() State {
	pos, known := a.positions.Tracked()
	mode := a.positions.Mode()
	a.mu.RLock()
	defer a.mu.RUnlock()
	return State{
		Position:      pos,
		Known:         known,
		Homed:         a.homed,
		CarryingBlade: a.carrying,
		Suction:       a.suction,
		MotorsEnabled: a.motors,
		SafeZ:         a.safeZ,
		Mode:          mode,
	}
}

// EnterTeach disables the motors so the arm can be moved by hand. The
// tracked position is untrusted from here on.
func (a *Arm) EnterTeach(ctx context.Context) error {
	a.positions.Engage()
	if _, err := a.Control(ctx, gcode.Motors{Enable: false}); err != nil {
		return fmt.Errorf("disable motors: %w", err)
	}
	a.logger.Info("teach mode entered")
	return nil
}

// ExitTeach re-enables the motors and syncs the position from the sensor.
func (a *Arm) ExitTeach(ctx context.Context) (motion.Position, error) {
	if _, err := a.Control(ctx, gcode.Motors{Enable: true}); err != nil {
		return motion.Position{}, fmt.Errorf("enable motors: %w", err)
	}
	a.positions.Disengage()
	p, err := a.SyncFromSensor(ctx)
	if err != nil {
		return motion.Position{}, err
	}
	a.logger.Info("teach mode exited", "position", p.String())
	return p, nil
}

// ReadSensor returns the encoder position (M895).
func (a *Arm) ReadSensor(ctx context.Context) (motion.Position, error) {
	return a.query(ctx, gcode.QuerySensor{})
}

// ReadCommanded returns the firmware's commanded position. Queued motion is
// waited for first, a position read while moving is meaningless.
func (a *Arm) ReadCommanded(ctx context.Context) (motion.Position, error) {
	return a.query(ctx, gcode.Wait{}, gcode.QueryPosition{})
}

func (a *Arm) query(ctx context.Context, cmds ...gcode.Command) (motion.Position, error) {
	results, err := a.Control(ctx, cmds...)
	if err != nil {
		return motion.Position{}, fmt.Errorf("read position: %w", err)
	}
	x, y, z, err := gcode.ParsePosition(results[len(results)-1].Response)
	if err != nil {
		return motion.Position{}, fmt.Errorf("read position: %w", err)
	}
	return motion.Position{X: x, Y: y, Z: z}, nil
}

// SyncFromSensor reads the encoders and adopts the result as the tracked
// position.
func (a *Arm) SyncFromSensor(ctx context.Context) (motion.Position, error) {
	p, err := a.ReadSensor(ctx)
	if err != nil {
		return motion.Position{}, err
	}
	if err := a.positions.SyncFromSensor(p); err != nil {
		return p, err
	}
	a.logger.Info("position synced", "position", p.String())
	return p, nil
}

// CheckDrift compares tracked and sensed position. Drift is recorded as a
// warning in the audit trail and returned; it does not change state.
func (a *Arm) CheckDrift(ctx context.Context) (motion.Position, error) {
	sensed, err := a.ReadSensor(ctx)
	if err != nil {
		return motion.Position{}, err
	}
	if err := a.positions.CheckDrift(sensed); err != nil {
		var derr *position.DriftError
		if errors.As(err, &derr) {
			a.log.Warn(ctx, err.Error())
		}
		return sensed, err
	}
	return sensed, nil
}

// ForceSuctionOff turns the pump off.
func (a *Arm) ForceSuctionOff(ctx context.Context) error {
	if _, err := a.Control(ctx, gcode.Suction{Action: gcode.SuctionOff}); err != nil {
		return fmt.Errorf("suction off: %w", err)
	}
	return nil
}

// QuickStop halts the steppers out of band. It does not wait for a pending
// request and leaves the position unknown.
//
// It is the one exception to audit order matching send order: the M410
// entry is appended as soon as the line is written, so it may precede the
// entry of a command that was already in flight. Such entries carry the
// note "out of band".
func (a *Arm) QuickStop(ctx context.Context) error {
	cmd := gcode.QuickStop{}
	var err error
	if in, ok := a.t.(transport.Interrupter); ok {
		err = in.Interrupt(cmd.Encode())
	} else {
		_, err = a.t.Send(context.WithoutCancel(ctx), cmd.Encode())
	}
	e := executor.Entry{Command: cmd, Wire: cmd.Encode(), Success: err == nil, Note: "out of band"}
	if err != nil {
		e.Error = err.Error()
	}
	a.log.Record(ctx, e)
	a.positions.Invalidate()
	a.logger.Warn("quick stop", "error", err)
	if err != nil {
		return fmt.Errorf("quick stop: %w", err)
	}
	return nil
}
