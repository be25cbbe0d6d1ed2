// Package workflow drives a full pick-and-place cycle as a finite state
// machine.
package workflow

import "fmt"

// State is a workflow state.
type State int

const (
	Idle State = iota
	LiftingToSafe
	MovingXYAbovePick
	ActivatingSuction
	LoweringToPick
	Grabbing
	LiftingWithBlade
	MovingXYAboveHook
	LoweringToHook
	Releasing
	LiftingFromHook
	Homing
	Error
	Recovering
)

var stateNames = [...]string{
	Idle:              "IDLE",
	LiftingToSafe:     "LIFTING_TO_SAFE",
	MovingXYAbovePick: "MOVING_XY_ABOVE_PICK",
	ActivatingSuction: "ACTIVATING_SUCTION",
	LoweringToPick:    "LOWERING_TO_PICK",
	Grabbing:          "GRABBING",
	LiftingWithBlade:  "LIFTING_WITH_BLADE",
	MovingXYAboveHook: "MOVING_XY_ABOVE_HOOK",
	LoweringToHook:    "LOWERING_TO_HOOK",
	Releasing:         "RELEASING",
	LiftingFromHook:   "LIFTING_FROM_HOOK",
	Homing:            "HOMING",
	Error:             "ERROR",
	Recovering:        "RECOVERING",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// States lists every state in declaration order.
func States() []State {
	out := make([]State, len(stateNames))
	for i := range out {
		out[i] = State(i)
	}
	return out
}

// transitions is the complete table apart from the implicit edge from every
// other state to Error. No state has an edge back to itself, so Grabbing and
// Releasing each run once per hook.
var transitions = map[State][]State{
	Idle:              {LiftingToSafe},
	LiftingToSafe:     {MovingXYAbovePick},
	MovingXYAbovePick: {ActivatingSuction},
	ActivatingSuction: {LoweringToPick},
	LoweringToPick:    {Grabbing},
	Grabbing:          {LiftingWithBlade},
	LiftingWithBlade:  {MovingXYAboveHook},
	MovingXYAboveHook: {LoweringToHook},
	LoweringToHook:    {Releasing},
	Releasing:         {LiftingFromHook},
	LiftingFromHook:   {LiftingToSafe, Homing},
	Homing:            {Idle},
	Error:             {Recovering},
	Recovering:        {Idle},
}

// CanTransition reports whether from→to is an edge of the table.
func CanTransition(from, to State) bool {
	if to == Error {
		return from != Error
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Active reports whether s is part of a running cycle.
func (s State) Active() bool {
	return s != Idle && s != Error && s != Recovering
}
