package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gwillem/bladeloader/pkg/arm"
	"github.com/gwillem/bladeloader/pkg/gcode"
	"github.com/gwillem/bladeloader/pkg/motion"
	"github.com/gwillem/bladeloader/pkg/position"
)

var (
	// ErrConfiguration is the sentinel behind every ConfigError.
	ErrConfiguration = errors.New("workflow not configured")
	// ErrStopped is returned by Run when Stop was requested.
	ErrStopped = errors.New("workflow stopped")
	// ErrRecovery is returned when the arm is not in a state that allows
	// leaving ERROR.
	ErrRecovery = errors.New("recovery precondition not met")
	// ErrBusy is returned when Start is called outside IDLE.
	ErrBusy = errors.New("workflow busy")
	// ErrNotRunning is returned when Step is called with no active cycle.
	ErrNotRunning = errors.New("no cycle running")
)

// ConfigError lists what a job is missing.
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return "workflow not configured: missing " + strings.Join(e.Missing, ", ")
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

// Timing holds the physical settling delays.
type Timing struct {
	Vacuum  time.Duration // after suction on, before lowering
	Grab    time.Duration // at the pick height
	Release time.Duration // between release and suction off
}

// DefaultTiming returns the stock DexArm pneumatic delays.
func DefaultTiming() Timing {
	return Timing{
		Vacuum:  300 * time.Millisecond,
		Grab:    500 * time.Millisecond,
		Release: 500 * time.Millisecond,
	}
}

// Job is one pick-and-place cycle: one blade from the stack onto each hook
// in order.
type Job struct {
	Pick   *motion.Position
	Hooks  []motion.Position
	SafeZ  *float64
	Timing Timing
}

// RecoveryPolicy selects the optional motions performed by Recover.
type RecoveryPolicy struct {
	LiftToSafe bool // lift straight up when the synced position is below safe Z
	Home       bool // re-home after the position checks pass
}

// Engine is the pick-place state machine for one arm.
type Engine struct {
	arm      *arm.Arm
	planner  motion.Planner
	observer Observer
	recovery RecoveryPolicy
	logger   *slog.Logger

	mu        sync.Mutex
	state     State
	loaded    bool
	pick      motion.Position
	hooks     []motion.Position
	safeZ     float64
	timing    Timing
	hook      int
	cycleID   string
	started   time.Time
	lastErr   error
	preError  *arm.State
	errSyncs  uint64
	stopAsked atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithObserver sets the observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithRecovery sets the recovery policy.
func WithRecovery(p RecoveryPolicy) Option {
	return func(e *Engine) { e.recovery = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New returns an engine in IDLE.
func New(a *arm.Arm, planner motion.Planner, opts ...Option) *Engine {
	e := &Engine{
		arm:      a,
		planner:  planner,
		observer: Funcs{},
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(e)
	}
	e.logger = e.logger.With("component", "workflow")
	return e
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// CycleID returns the id of the current or last cycle.
func (e *Engine) CycleID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cycleID
}

// Progress returns the number of hooks done and the total.
func (e *Engine) Progress() (done, total int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hook, len(e.hooks)
}

// LastError returns the cause of the last ERROR entry.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// PreErrorState returns the arm state captured on entry to ERROR.
func (e *Engine) PreErrorState() (arm.State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.preError == nil {
		return arm.State{}, false
	}
	return *e.preError, true
}

// Start validates job and begins a cycle. On error the engine stays IDLE.
func (e *Engine) Start(job Job) error {
	if s := e.State(); s != Idle {
		return fmt.Errorf("start: %w (state %s)", ErrBusy, s)
	}

	var missing []string
	if job.Pick == nil {
		missing = append(missing, "pick position")
	}
	if job.SafeZ == nil {
		missing = append(missing, "safe_z")
	}
	if len(job.Hooks) == 0 {
		missing = append(missing, "hook positions")
	}
	if !e.arm.Homed() {
		missing = append(missing, "homing")
	}
	if len(missing) > 0 {
		return &ConfigError{Missing: missing}
	}

	safeZ := *job.SafeZ
	points := []motion.Position{*job.Pick, job.Pick.WithZ(safeZ)}
	for _, h := range job.Hooks {
		points = append(points, h, h.WithZ(safeZ))
	}
	for _, p := range points {
		if err := e.planner.Limits.Validate(p); err != nil {
			return fmt.Errorf("start: %w", err)
		}
	}

	e.mu.Lock()
	e.loaded = true
	e.pick = *job.Pick
	e.hooks = append([]motion.Position(nil), job.Hooks...)
	e.safeZ = safeZ
	e.timing = job.Timing
	e.hook = 0
	e.cycleID = uuid.NewString()
	e.started = time.Now()
	e.lastErr = nil
	e.preError = nil
	e.mu.Unlock()
	e.stopAsked.Store(false)

	e.logger.Info("cycle started", "cycle", e.CycleID(), "hooks", len(job.Hooks), "safe_z", safeZ)
	e.transition(LiftingToSafe)
	return nil
}

func (e *Engine) transition(to State) {
	e.mu.Lock()
	from := e.state
	e.state = to
	e.mu.Unlock()
	if !CanTransition(from, to) {
		e.logger.Warn("forced transition", "from", from.String(), "to", to.String())
	} else {
		e.logger.Info("state", "from", from.String(), "to", to.String())
	}
	e.observer.StateChanged(from, to)
}

// Step executes the commands of the current state and advances. A failure
// moves the engine to ERROR and is returned. Canceling ctx does not cut a
// step short.
func (e *Engine) Step(ctx context.Context) error {
	state := e.State()
	if !state.Active() {
		return fmt.Errorf("step: %w (state %s)", ErrNotRunning, state)
	}

	fix, err := e.arm.Positions().Acquire()
	if err != nil {
		return e.fail(ctx, state, err)
	}
	cur := fix.Position

	e.mu.Lock()
	pick, safeZ, timing, hookIdx := e.pick, e.safeZ, e.timing, e.hook
	var hook motion.Position
	if hookIdx < len(e.hooks) {
		hook = e.hooks[hookIdx]
	}
	total := len(e.hooks)
	e.mu.Unlock()

	var cmds []gcode.Command
	var next State
	switch state {
	case LiftingToSafe:
		cmds, err = e.planner.PlanLift(cur, safeZ)
		next = MovingXYAbovePick
	case MovingXYAbovePick:
		cmds, err = e.planner.PlanSafeMove(cur, pick.WithZ(safeZ), safeZ)
		next = ActivatingSuction
	case ActivatingSuction:
		cmds = []gcode.Command{gcode.Suction{Action: gcode.SuctionOn}, gcode.Delay{Duration: timing.Vacuum}}
		next = LoweringToPick
	case LoweringToPick:
		cmds, err = e.planner.PlanVertical(cur, pick.Z)
		next = Grabbing
	case Grabbing:
		cmds = []gcode.Command{gcode.Delay{Duration: timing.Grab}}
		next = LiftingWithBlade
	case LiftingWithBlade:
		cmds, err = e.planner.PlanVertical(cur, safeZ)
		next = MovingXYAboveHook
	case MovingXYAboveHook:
		cmds, err = e.planner.PlanSafeMove(cur, hook.WithZ(safeZ), safeZ)
		next = LoweringToHook
	case LoweringToHook:
		cmds, err = e.planner.PlanVertical(cur, hook.Z)
		next = Releasing
	case Releasing:
		cmds = []gcode.Command{
			gcode.Suction{Action: gcode.SuctionRelease},
			gcode.Delay{Duration: timing.Release},
			gcode.Suction{Action: gcode.SuctionOff},
		}
		next = LiftingFromHook
	case LiftingFromHook:
		cmds, err = e.planner.PlanVertical(cur, safeZ)
		next = Homing
		if hookIdx+1 < total {
			next = LiftingToSafe
		}
	case Homing:
		cmds, err = e.planner.PlanHome(&cur, safeZ)
		next = Idle
	}
	if err != nil {
		return e.fail(ctx, state, err)
	}
	if err := motion.Verify(cmds, cur, safeZ); err != nil {
		return e.fail(ctx, state, err)
	}

	// A started step always runs to its end; cancellation is only observed
	// between steps so a move is never left without its wait.
	run := context.WithoutCancel(ctx)
	if _, err := e.arm.Execute(run, fix, cmds); err != nil {
		return e.fail(ctx, state, err)
	}

	switch state {
	case LoweringToPick, LoweringToHook:
		if err := e.checkDrift(run, state); err != nil {
			return e.fail(ctx, state, err)
		}
	case Grabbing:
		if err := e.arm.SetCarrying(true); err != nil {
			return e.fail(ctx, state, err)
		}
	case Releasing:
		e.arm.SetCarrying(false)
	}

	e.transition(next)

	switch state {
	case LiftingFromHook:
		e.mu.Lock()
		e.hook++
		done := e.hook
		e.mu.Unlock()
		e.observer.Progress(done, total)
	case Homing:
		e.mu.Lock()
		sum := Summary{CycleID: e.cycleID, Hooks: total, Started: e.started, Duration: time.Since(e.started)}
		e.mu.Unlock()
		e.logger.Info("cycle complete", "cycle", sum.CycleID, "hooks", sum.Hooks, "duration", sum.Duration)
		e.observer.Completed(sum)
	}
	return nil
}

// checkDrift compares tracked and sensed position after a descent. Drift is
// reported and the cycle continues; a failed sensor read is returned.
func (e *Engine) checkDrift(ctx context.Context, state State) error {
	_, err := e.arm.CheckDrift(ctx)
	var drift *position.DriftError
	if errors.As(err, &drift) {
		e.logger.Warn("position drift", "state", state.String(), "max_mm", drift.Max())
		e.observer.Drifted(state, drift)
		return nil
	}
	return err
}

// fail enters ERROR: the arm state is captured, suction is forced off and
// the observer is told.
func (e *Engine) fail(ctx context.Context, state State, cause error) error {
	pre := e.arm.Snapshot()
	e.logger.Error("cycle failed", "state", state.String(), "error", cause)

	e.mu.Lock()
	e.preError = &pre
	e.lastErr = cause
	e.mu.Unlock()
	e.transition(Error)

	if err := e.arm.ForceSuctionOff(context.WithoutCancel(ctx)); err != nil {
		e.logger.Error("suction off after failure", "error", err)
	}
	e.arm.SetCarrying(false)

	e.mu.Lock()
	e.errSyncs = e.arm.Positions().Syncs()
	e.mu.Unlock()

	e.observer.Errored(state, cause)
	return fmt.Errorf("%s: %w", state, cause)
}

// Run steps until the cycle completes or fails. A Stop request or context
// cancellation is honored between steps, never inside one; Run then returns
// ErrStopped or the context error and the cycle can be resumed by calling Run
// again.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if e.stopAsked.Swap(false) {
			e.logger.Info("cycle stopped", "state", e.State().String())
			return ErrStopped
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		switch s := e.State(); s {
		case Idle:
			return nil
		case Error, Recovering:
			return fmt.Errorf("run: cycle in %s: %w", s, e.LastError())
		}
		if err := e.Step(ctx); err != nil {
			return err
		}
	}
}

// Stop asks a running cycle to halt at the next step boundary.
func (e *Engine) Stop() {
	e.stopAsked.Store(true)
}

func (e *Engine) recoverySafeZ() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded {
		return e.safeZ
	}
	return e.arm.SafeZ()
}

// Recover leaves ERROR: suction off, position synced from the sensor, and
// the synced Z at or above safe Z, optionally lifting and re-homing per
// policy. If a check fails the engine stays in RECOVERING and Recover may be
// called again.
func (e *Engine) Recover(ctx context.Context) error {
	switch s := e.State(); s {
	case Error:
		e.transition(Recovering)
	case Recovering:
	default:
		return fmt.Errorf("recover: %w (state %s)", ErrRecovery, s)
	}

	if err := e.arm.ForceSuctionOff(ctx); err != nil {
		return fmt.Errorf("recover: %w", err)
	}
	e.arm.SetCarrying(false)

	safeZ := e.recoverySafeZ()
	p, err := e.arm.SyncFromSensor(ctx)
	if err != nil {
		return fmt.Errorf("recover: sync: %w", err)
	}

	if p.Z < safeZ && e.recovery.LiftToSafe {
		if err := e.lift(ctx, p, safeZ); err != nil {
			return fmt.Errorf("recover: lift: %w", err)
		}
		if p, err = e.arm.SyncFromSensor(ctx); err != nil {
			return fmt.Errorf("recover: sync: %w", err)
		}
	}
	if p.Z < safeZ {
		return fmt.Errorf("recover: %w: z=%.2f below safe z %.2f", ErrRecovery, p.Z, safeZ)
	}

	if e.recovery.Home {
		fix, err := e.arm.Positions().Acquire()
		if err != nil {
			return fmt.Errorf("recover: home: %w", err)
		}
		cmds, err := e.planner.PlanHome(&fix.Position, safeZ)
		if err != nil {
			return fmt.Errorf("recover: home: %w", err)
		}
		if _, err := e.arm.Execute(ctx, fix, cmds); err != nil {
			return fmt.Errorf("recover: home: %w", err)
		}
	}

	e.clearJob()
	e.transition(Idle)
	e.logger.Info("recovered", "position", p.String())
	return nil
}

func (e *Engine) lift(ctx context.Context, from motion.Position, safeZ float64) error {
	fix, err := e.arm.Positions().Acquire()
	if err != nil {
		return err
	}
	cmds, err := e.planner.PlanLift(from, safeZ)
	if err != nil {
		return err
	}
	_, err = e.arm.Execute(ctx, fix, cmds)
	return err
}

// Reset forces IDLE without commanding the arm. Leaving ERROR or RECOVERING
// this way still requires a sensor sync after the failure and a synced
// position at or above safe Z.
func (e *Engine) Reset() error {
	s := e.State()
	if s == Error || s == Recovering {
		e.mu.Lock()
		errSyncs := e.errSyncs
		e.mu.Unlock()
		if e.arm.Positions().Syncs() <= errSyncs {
			return fmt.Errorf("reset: %w: position not synced since failure", ErrRecovery)
		}
		p, known := e.arm.Positions().Tracked()
		if safeZ := e.recoverySafeZ(); !known || p.Z < safeZ {
			return fmt.Errorf("reset: %w: z=%.2f below safe z %.2f", ErrRecovery, p.Z, safeZ)
		}
	}
	e.stopAsked.Store(false)
	e.clearJob()
	if s != Idle {
		e.transition(Idle)
	}
	return nil
}

func (e *Engine) clearJob() {
	e.mu.Lock()
	e.loaded = false
	e.hooks = nil
	e.hook = 0
	e.mu.Unlock()
}
