package controller

import (
	"context"
	"fmt"

	"github.com/gwillem/bladeloader/pkg/motion"
	"github.com/gwillem/bladeloader/pkg/workflow"
)

// TeachPoints returns the pick position and a copy of the hooks.
func (c *Controller) TeachPoints() (*motion.Position, []motion.Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var pick *motion.Position
	if c.pick != nil {
		p := *c.pick
		pick = &p
	}
	return pick, append([]motion.Position(nil), c.hooks...)
}

// SetPick sets the blade stack position.
func (c *Controller) SetPick(p motion.Position) error {
	if err := c.planner.Limits.Validate(p); err != nil {
		return fmt.Errorf("set pick: %w", err)
	}
	c.mu.Lock()
	c.pick = &p
	c.mu.Unlock()
	return nil
}

// AddHook appends a hook and returns its index.
func (c *Controller) AddHook(p motion.Position) (int, error) {
	if err := c.planner.Limits.Validate(p); err != nil {
		return 0, fmt.Errorf("add hook: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, p)
	return len(c.hooks) - 1, nil
}

// UpdateHook replaces hook i.
func (c *Controller) UpdateHook(i int, p motion.Position) error {
	if err := c.planner.Limits.Validate(p); err != nil {
		return fmt.Errorf("update hook: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.hooks) {
		return fmt.Errorf("update hook %d: %w", i, ErrNoHook)
	}
	c.hooks[i] = p
	return nil
}

// DeleteHook removes hook i, keeping the order of the rest.
func (c *Controller) DeleteHook(i int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.hooks) {
		return fmt.Errorf("delete hook %d: %w", i, ErrNoHook)
	}
	c.hooks = append(c.hooks[:i], c.hooks[i+1:]...)
	return nil
}

// ClearHooks removes every hook.
func (c *Controller) ClearHooks() {
	c.mu.Lock()
	c.hooks = nil
	c.mu.Unlock()
}

// SetSafeZ changes the safe travel height for manual moves and the next
// cycle.
func (c *Controller) SetSafeZ(z float64) error {
	if err := c.planner.Limits.Validate(motion.Home.WithZ(z)); err != nil {
		return fmt.Errorf("set safe z: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.idle(); err != nil {
		return fmt.Errorf("set safe z: %w", err)
	}
	c.arm.SetSafeZ(z)
	return nil
}

// StartCycle loads the taught points into the workflow and leaves IDLE.
func (c *Controller) StartCycle() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startCycle()
}

func (c *Controller) startCycle() error {
	safeZ := c.arm.SafeZ()
	job := workflow.Job{
		Pick:   c.pick,
		Hooks:  c.hooks,
		SafeZ:  &safeZ,
		Timing: c.timing,
	}
	if err := c.engine.Start(job); err != nil {
		return err
	}
	c.log("cycle %s started with %d hooks", c.engine.CycleID(), len(c.hooks))
	return nil
}

// StepCycle runs the current workflow state.
func (c *Controller) StepCycle(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.Step(ctx)
}

// RunCycle starts a cycle when idle and runs it to completion, failure or
// stop. The connection stays locked for the whole cycle; use StopCycle or
// QuickStop to interrupt it.
func (c *Controller) RunCycle(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine.State() == workflow.Idle {
		if err := c.startCycle(); err != nil {
			return err
		}
	}
	return c.engine.Run(ctx)
}

// StopCycle asks a running cycle to halt after the current step.
func (c *Controller) StopCycle() {
	c.engine.Stop()
	c.log("stop requested")
}

// Recover leaves ERROR: suction off, sensor sync and the safe Z check.
func (c *Controller) Recover(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.engine.Recover(ctx); err != nil {
		return err
	}
	c.log("recovered")
	return nil
}

// Reset abandons the current cycle without moving the arm.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine.Reset()
}
