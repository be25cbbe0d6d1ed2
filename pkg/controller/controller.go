// Package controller composes the arm, planner and workflow into the
// operations offered to the CLI and any other front end. One Controller
// owns one connection; every operation that talks to the arm runs inside a
// single critical section.
package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gwillem/bladeloader/pkg/arm"
	"github.com/gwillem/bladeloader/pkg/config"
	"github.com/gwillem/bladeloader/pkg/executor"
	"github.com/gwillem/bladeloader/pkg/gcode"
	"github.com/gwillem/bladeloader/pkg/motion"
	"github.com/gwillem/bladeloader/pkg/position"
	"github.com/gwillem/bladeloader/pkg/transport"
	"github.com/gwillem/bladeloader/pkg/workflow"
)

var (
	// ErrNotHomed is returned for motion before the arm was homed.
	ErrNotHomed = errors.New("arm not homed")
	// ErrCarrying is returned for operations that are unsafe with a blade
	// on the nozzle.
	ErrCarrying = errors.New("arm is carrying a blade")
	// ErrCycleActive is returned for manual operations during a cycle.
	ErrCycleActive = errors.New("cycle in progress")
	// ErrNoHook is returned for a hook index out of range.
	ErrNoHook = errors.New("no such hook")
)

// Config holds what a Controller needs.
type Config struct {
	Transport      transport.Transport
	Limits         motion.WorkspaceLimits
	SafeZ          float64
	Feedrate       int
	DriftTolerance float64
	Timing         workflow.Timing
	Recovery       workflow.RecoveryPolicy
	Pick           *motion.Position
	Hooks          []motion.Position
	Sinks          []executor.Sink     // persistent audit
	Observer       workflow.Observer   // optional
	Sleep          func(time.Duration) // nil means time.Sleep
	Logger         *slog.Logger
}

// ConfigFrom maps the file configuration onto a controller Config.
func ConfigFrom(cfg *config.Config, t transport.Transport) Config {
	return Config{
		Transport:      t,
		Limits:         cfg.Workspace,
		SafeZ:          cfg.Motion.SafeZ,
		Feedrate:       cfg.Motion.Feedrate,
		DriftTolerance: cfg.Motion.DriftTolerance,
		Timing:         cfg.WorkflowTiming(),
		Recovery:       cfg.RecoveryPolicy(),
		Pick:           cfg.Teach.Pick,
		Hooks:          cfg.Teach.Hooks,
	}
}

// Status is a snapshot for display.
type Status struct {
	Arm       arm.State
	Workflow  workflow.State
	CycleID   string
	HooksDone int
	HooksAll  int
	LastError string
}

// Controller is the facade over one arm.
type Controller struct {
	arm     *arm.Arm
	planner motion.Planner
	engine  *workflow.Engine
	timing  workflow.Timing
	logger  *slog.Logger

	mu    sync.Mutex
	pick  *motion.Position
	hooks []motion.Position
	logCh chan string
}

// New returns a controller for cfg.Transport. Nothing is sent until the
// first operation.
func New(cfg Config) (*Controller, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("new controller: no transport")
	}
	if err := cfg.Limits.Check(); err != nil {
		return nil, fmt.Errorf("new controller: %w", err)
	}
	if err := cfg.Limits.Validate(motion.Home.WithZ(cfg.SafeZ)); err != nil {
		return nil, fmt.Errorf("new controller: safe z: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	c := &Controller{
		planner: motion.NewPlanner(cfg.Limits, cfg.Feedrate),
		timing:  cfg.Timing,
		logger:  logger.With("component", "controller"),
		logCh:   make(chan string, 64),
	}
	c.arm = arm.New(arm.Config{
		Transport:      cfg.Transport,
		Log:            executor.NewLog(logger, cfg.Sinks...),
		SafeZ:          cfg.SafeZ,
		DriftTolerance: cfg.DriftTolerance,
		Sleep:          cfg.Sleep,
		Logger:         logger,
	})

	observers := workflow.Observers{workflow.Funcs{
		OnStateChange: func(from, to workflow.State) { c.log("%s -> %s", from, to) },
		OnProgress:    func(done, total int) { c.log("hook %d/%d done", done, total) },
		OnError:       func(s workflow.State, err error) { c.log("error in %s: %v", s, err) },
		OnDrift:       func(s workflow.State, d *position.DriftError) { c.log("drift after %s: %v", s, d) },
	}}
	if cfg.Observer != nil {
		observers = append(observers, cfg.Observer)
	}
	c.engine = workflow.New(c.arm, c.planner,
		workflow.WithObserver(observers),
		workflow.WithRecovery(cfg.Recovery),
		workflow.WithLogger(logger),
	)

	if cfg.Pick != nil {
		if err := c.SetPick(*cfg.Pick); err != nil {
			return nil, fmt.Errorf("new controller: %w", err)
		}
	}
	for _, h := range cfg.Hooks {
		if _, err := c.AddHook(h); err != nil {
			return nil, fmt.Errorf("new controller: %w", err)
		}
	}
	return c, nil
}

// Close closes the transport when it can be closed.
func (c *Controller) Close() error {
	c.engine.Stop()
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.arm.Transport().(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

// Logs returns a channel that receives operator messages.
func (c *Controller) Logs() <-chan string {
	return c.logCh
}

func (c *Controller) log(format string, args ...any) {
	msg := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	select {
	case c.logCh <- msg:
	default:
		// Drop if channel full
	}
}

// Engine returns the workflow engine.
func (c *Controller) Engine() *workflow.Engine { return c.engine }

// Planner returns the motion planner.
func (c *Controller) Planner() motion.Planner { return c.planner }

func (c *Controller) idle() error {
	if s := c.engine.State(); s != workflow.Idle {
		return fmt.Errorf("%w (state %s)", ErrCycleActive, s)
	}
	return nil
}

// Home selects the pneumatic module and homes the arm. When the position is
// known and below safe Z the arm is lifted first.
func (c *Controller) Home(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.idle(); err != nil {
		return fmt.Errorf("home: %w", err)
	}
	if _, err := c.arm.Control(ctx, gcode.SetModule{Module: gcode.ModulePneumatic}); err != nil {
		return fmt.Errorf("home: %w", err)
	}

	safeZ := c.arm.SafeZ()
	if fix, err := c.arm.Positions().Acquire(); err == nil {
		cmds, err := c.planner.PlanHome(&fix.Position, safeZ)
		if err != nil {
			return fmt.Errorf("home: %w", err)
		}
		if _, err := c.arm.Execute(ctx, fix, cmds); err != nil {
			return fmt.Errorf("home: %w", err)
		}
	} else {
		if c.arm.Carrying() {
			c.logger.Warn("homing with unknown position while carrying")
		}
		cmds, _ := c.planner.PlanHome(nil, safeZ)
		if _, err := c.arm.Control(ctx, cmds...); err != nil {
			return fmt.Errorf("home: %w", err)
		}
	}
	c.log("homed")
	return nil
}

// MoveTo moves to target with lift-before-travel ordering.
func (c *Controller) MoveTo(ctx context.Context, target motion.Position) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moveTo(ctx, target, false)
}

// DirectMoveTo moves to target in one straight line. Refused while carrying.
func (c *Controller) DirectMoveTo(ctx context.Context, target motion.Position) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moveTo(ctx, target, true)
}

func (c *Controller) moveTo(ctx context.Context, target motion.Position, direct bool) error {
	fix, err := c.manualFix()
	if err != nil {
		return fmt.Errorf("move: %w", err)
	}
	var cmds []gcode.Command
	if direct {
		if c.arm.Carrying() {
			return fmt.Errorf("direct move: %w", ErrCarrying)
		}
		cmds, err = c.planner.PlanDirectMove(fix.Position, target)
	} else {
		cmds, err = c.planner.PlanSafeMove(fix.Position, target, c.arm.SafeZ())
	}
	if err != nil {
		return fmt.Errorf("move: %w", err)
	}
	if _, err := c.arm.Execute(ctx, fix, cmds); err != nil {
		return fmt.Errorf("move: %w", err)
	}
	return nil
}

func (c *Controller) manualFix() (position.Fix, error) {
	if err := c.idle(); err != nil {
		return position.Fix{}, err
	}
	if !c.arm.Homed() {
		return position.Fix{}, ErrNotHomed
	}
	return c.arm.Positions().Acquire()
}

// Jog moves one axis by delta millimeters.
func (c *Controller) Jog(ctx context.Context, axis byte, delta float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fix, err := c.manualFix()
	if err != nil {
		return fmt.Errorf("jog: %w", err)
	}
	cmds, err := c.planner.PlanJog(fix.Position, axis, delta, c.arm.SafeZ(), c.arm.Carrying())
	if err != nil {
		return fmt.Errorf("jog: %w", err)
	}
	if _, err := c.arm.Execute(ctx, fix, cmds); err != nil {
		return fmt.Errorf("jog: %w", err)
	}
	return nil
}

// Pick runs a single pick at p and marks the blade as carried.
func (c *Controller) Pick(ctx context.Context, p motion.Position) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fix, err := c.manualFix()
	if err != nil {
		return fmt.Errorf("pick: %w", err)
	}
	if c.arm.Carrying() {
		return fmt.Errorf("pick: %w", ErrCarrying)
	}
	cmds, err := c.planner.PlanPickSequence(fix.Position, p, c.arm.SafeZ(), c.timing.Grab, c.timing.Vacuum)
	if err != nil {
		return fmt.Errorf("pick: %w", err)
	}
	if _, err := c.arm.Execute(ctx, fix, cmds); err != nil {
		if serr := c.arm.ForceSuctionOff(context.WithoutCancel(ctx)); serr != nil {
			c.logger.Error("suction off after failed pick", "error", serr)
		}
		return fmt.Errorf("pick: %w", err)
	}
	return c.arm.SetCarrying(true)
}

// Place runs a single place at hook.
func (c *Controller) Place(ctx context.Context, hook motion.Position) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fix, err := c.manualFix()
	if err != nil {
		return fmt.Errorf("place: %w", err)
	}
	cmds, err := c.planner.PlanPlaceSequence(fix.Position, hook, c.arm.SafeZ(), c.timing.Release)
	if err != nil {
		return fmt.Errorf("place: %w", err)
	}
	if _, err := c.arm.Execute(ctx, fix, cmds); err != nil {
		return fmt.Errorf("place: %w", err)
	}
	return c.arm.SetCarrying(false)
}

// Suction sets the pump. Anything but on drops the blade.
func (c *Controller) Suction(ctx context.Context, action gcode.SuctionAction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.idle(); err != nil {
		return fmt.Errorf("suction: %w", err)
	}
	if _, err := c.arm.Control(ctx, gcode.Suction{Action: action}); err != nil {
		return fmt.Errorf("suction %s: %w", action, err)
	}
	return nil
}

// EnterTeachMode disables the motors so the arm can be moved by hand.
func (c *Controller) EnterTeachMode(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.idle(); err != nil {
		return fmt.Errorf("teach mode: %w", err)
	}
	if c.arm.Carrying() {
		return fmt.Errorf("teach mode: %w", ErrCarrying)
	}
	if err := c.arm.EnterTeach(ctx); err != nil {
		return err
	}
	c.log("teach mode: move the arm by hand")
	return nil
}

// ExitTeachMode re-enables the motors and returns the synced position.
func (c *Controller) ExitTeachMode(ctx context.Context) (motion.Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, err := c.arm.ExitTeach(ctx)
	if err != nil {
		return p, err
	}
	c.log("teach mode exited at %s", p)
	return p, nil
}

// SyncFromSensor adopts the encoder position as the tracked position.
func (c *Controller) SyncFromSensor(ctx context.Context) (motion.Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.arm.SyncFromSensor(ctx)
}

// ReadPosition returns the firmware's commanded position after queued
// motion has finished.
func (c *Controller) ReadPosition(ctx context.Context) (motion.Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.arm.ReadCommanded(ctx)
}

// ReadSensor returns the encoder position without adopting it.
func (c *Controller) ReadSensor(ctx context.Context) (motion.Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.arm.ReadSensor(ctx)
}

// CheckDrift compares tracked and sensed position.
func (c *Controller) CheckDrift(ctx context.Context) (motion.Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.arm.CheckDrift(ctx)
}

// QuickStop halts the arm immediately. It does not wait for the connection
// lock, stops a running cycle at its next boundary and leaves the position
// unknown until the next sync or home.
func (c *Controller) QuickStop(ctx context.Context) error {
	c.engine.Stop()
	err := c.arm.QuickStop(ctx)
	c.log("quick stop")
	return err
}

// Status returns a snapshot. It does not wait for a running operation.
func (c *Controller) Status() Status {
	done, total := c.engine.Progress()
	st := Status{
		Arm:       c.arm.Snapshot(),
		Workflow:  c.engine.State(),
		CycleID:   c.engine.CycleID(),
		HooksDone: done,
		HooksAll:  total,
	}
	if err := c.engine.LastError(); err != nil {
		st.LastError = err.Error()
	}
	return st
}

// History returns the last limit audit entries, oldest first. Zero means
// all.
func (c *Controller) History(limit int) []executor.Entry {
	return c.arm.Log().Entries(limit)
}
