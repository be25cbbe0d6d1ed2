package motion

import (
	"errors"
	"fmt"
	"time"

	"github.com/gwillem/bladeloader/pkg/gcode"
)

// ErrUnsafeJog is returned for a horizontal jog below safe Z while a blade
// is held.
var ErrUnsafeJog = errors.New("xy jog below safe z while carrying")

// Planner turns goals into command sequences. It holds no state beyond its
// parameters; every method is a pure function of its arguments.
type Planner struct {
	Limits   WorkspaceLimits
	Feedrate int
}

// NewPlanner returns a planner that moves at feedrate mm/min. A non-positive
// feedrate falls back to gcode.DefaultFeedrate.
func NewPlanner(limits WorkspaceLimits, feedrate int) Planner {
	if feedrate <= 0 {
		feedrate = gcode.DefaultFeedrate
	}
	return Planner{Limits: limits, Feedrate: feedrate}
}

func (p Planner) feedrate() int {
	if p.Feedrate <= 0 {
		return gcode.DefaultFeedrate
	}
	return p.Feedrate
}

// validate checks every waypoint before anything is emitted, so a rejected
// plan never yields a partial sequence.
func (p Planner) validate(points ...Position) error {
	for _, pt := range points {
		if err := p.Limits.Validate(pt); err != nil {
			return fmt.Errorf("plan: %w", err)
		}
	}
	return nil
}

// PlanSafeMove moves to target without ever travelling in XY below safeZ:
//
//  1. lift to safeZ if the arm is below it
//  2. travel in XY if the XY position differs
//  3. settle at target.Z if it differs from the travel height
//
// Every move is followed by a Wait. If nothing needs to change the plan is
// empty.
func (p Planner) PlanSafeMove(current, target Position, safeZ float64) ([]gcode.Command, error) {
	travel := max(current.Z, safeZ)
	if err := p.validate(target, current.WithZ(travel), target.WithZ(travel)); err != nil {
		return nil, err
	}

	var cmds []gcode.Command
	if current.Z < safeZ {
		cmds = append(cmds, gcode.MoveZ(safeZ, p.feedrate()), gcode.Wait{})
	}
	if !current.SameXY(target) {
		cmds = append(cmds, gcode.MoveXY(target.X, target.Y, p.feedrate()), gcode.Wait{})
	}
	if target.Z != travel {
		cmds = append(cmds, gcode.MoveZ(target.Z, p.feedrate()), gcode.Wait{})
	}
	return cmds, nil
}

// PlanDirectMove moves on a single straight line. Only use it when no blade
// is held; the line may pass below safe Z.
func (p Planner) PlanDirectMove(current, target Position) ([]gcode.Command, error) {
	if err := p.validate(target); err != nil {
		return nil, err
	}
	if current == target {
		return nil, nil
	}
	return []gcode.Command{
		gcode.MoveXYZ(target.X, target.Y, target.Z, p.feedrate()),
		gcode.Wait{},
	}, nil
}

// PlanVertical moves along Z only, keeping XY.
func (p Planner) PlanVertical(current Position, z float64) ([]gcode.Command, error) {
	if err := p.validate(current.WithZ(z)); err != nil {
		return nil, err
	}
	if current.Z == z {
		return nil, nil
	}
	return []gcode.Command{gcode.MoveZ(z, p.feedrate()), gcode.Wait{}}, nil
}

// PlanLift raises the arm to safeZ if it is below. It never lowers.
func (p Planner) PlanLift(current Position, safeZ float64) ([]gcode.Command, error) {
	if current.Z >= safeZ {
		return nil, nil
	}
	return p.PlanVertical(current, safeZ)
}

// PlanPickSequence travels above pick, starts the vacuum before descending,
// grabs, and lifts back to safeZ.
func (p Planner) PlanPickSequence(current, pick Position, safeZ float64, grab, vacuum time.Duration) ([]gcode.Command, error) {
	above := pick.WithZ(safeZ)
	if err := p.validate(pick, above); err != nil {
		return nil, err
	}

	approach, err := p.PlanSafeMove(current, above, safeZ)
	if err != nil {
		return nil, err
	}
	lower, err := p.PlanVertical(above, pick.Z)
	if err != nil {
		return nil, err
	}
	lift, err := p.PlanVertical(pick, safeZ)
	if err != nil {
		return nil, err
	}

	cmds := approach
	cmds = append(cmds, gcode.Suction{Action: gcode.SuctionOn}, gcode.Delay{Duration: vacuum})
	cmds = append(cmds, lower...)
	cmds = append(cmds, gcode.Delay{Duration: grab})
	cmds = append(cmds, lift...)
	return cmds, nil
}

// PlanPlaceSequence travels above hook, descends, releases the blade, and
// only then lifts back to safeZ.
func (p Planner) PlanPlaceSequence(current, hook Position, safeZ float64, release time.Duration) ([]gcode.Command, error) {
	above := hook.WithZ(safeZ)
	if err := p.validate(hook, above); err != nil {
		return nil, err
	}

	approach, err := p.PlanSafeMove(current, above, safeZ)
	if err != nil {
		return nil, err
	}
	lower, err := p.PlanVertical(above, hook.Z)
	if err != nil {
		return nil, err
	}
	lift, err := p.PlanVertical(hook, safeZ)
	if err != nil {
		return nil, err
	}

	cmds := approach
	cmds = append(cmds, lower...)
	cmds = append(cmds,
		gcode.Suction{Action: gcode.SuctionRelease},
		gcode.Delay{Duration: release},
		gcode.Suction{Action: gcode.SuctionOff},
	)
	cmds = append(cmds, lift...)
	return cmds, nil
}

// PlanJog moves a single axis by delta. Horizontal jogs below safeZ are
// refused while carrying.
func (p Planner) PlanJog(current Position, axis byte, delta, safeZ float64, carrying bool) ([]gcode.Command, error) {
	target := current
	var move gcode.Axis
	switch axis {
	case 'x', 'X':
		target.X += delta
		move = gcode.X(target.X)
	case 'y', 'Y':
		target.Y += delta
		move = gcode.Y(target.Y)
	case 'z', 'Z':
		target.Z += delta
		move = gcode.Z(target.Z)
	default:
		return nil, fmt.Errorf("plan jog: unknown axis %q", axis)
	}
	if axis != 'z' && axis != 'Z' && carrying && current.Z < safeZ {
		return nil, fmt.Errorf("plan jog: %w (z=%.2f, safe z=%.2f)", ErrUnsafeJog, current.Z, safeZ)
	}
	if err := p.validate(target); err != nil {
		return nil, err
	}
	if delta == 0 {
		return nil, nil
	}
	return []gcode.Command{gcode.MustMove(p.feedrate(), move), gcode.Wait{}}, nil
}

// PlanHome returns the arm to its home pose. When the current position is
// known and below safeZ the arm is lifted first; pass nil when it is not.
func (p Planner) PlanHome(current *Position, safeZ float64) ([]gcode.Command, error) {
	var cmds []gcode.Command
	if current != nil {
		lift, err := p.PlanLift(*current, safeZ)
		if err != nil {
			return nil, err
		}
		cmds = lift
	}
	return append(cmds, gcode.Home{}, gcode.Wait{}), nil
}
