package motion

import (
	"errors"
	"fmt"

	"github.com/gwillem/bladeloader/pkg/gcode"
)

// ErrUnsafePlan is returned when a sequence breaks an ordering rule.
var ErrUnsafePlan = errors.New("unsafe plan")

// VerifyLiftBeforeXY replays cmds from start and fails if any horizontal
// move happens while Z is below safeZ. Home resets Z to the home height.
func VerifyLiftBeforeXY(cmds []gcode.Command, start Position, safeZ float64) error {
	z := start.Z
	for i, c := range cmds {
		switch cmd := c.(type) {
		case gcode.Move:
			if cmd.ChangesXY() && z < safeZ {
				return fmt.Errorf("%w: command %d (%s) travels in xy at z=%.2f below %.2f",
					ErrUnsafePlan, i, cmd.Encode(), z, safeZ)
			}
			if v, ok := cmd.Z(); ok {
				z = v
			}
		case gcode.Home:
			z = Home.Z
		}
	}
	return nil
}

// VerifyWaitAfterMoves fails unless every move is immediately followed by a
// Wait.
func VerifyWaitAfterMoves(cmds []gcode.Command) error {
	for i, c := range cmds {
		if !gcode.IsMove(c) {
			continue
		}
		if i+1 >= len(cmds) || !gcode.IsWait(cmds[i+1]) {
			return fmt.Errorf("%w: command %d (%s) is not followed by a wait", ErrUnsafePlan, i, c.Encode())
		}
	}
	return nil
}

// Verify runs every ordering check.
func Verify(cmds []gcode.Command, start Position, safeZ float64) error {
	if err := VerifyLiftBeforeXY(cmds, start, safeZ); err != nil {
		return err
	}
	return VerifyWaitAfterMoves(cmds)
}
