package motion

import (
	"errors"
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"github.com/gwillem/bladeloader/pkg/gcode"
)

func describe(cmds []gcode.Command) []string {
	out := make([]string, len(cmds))
	for i, c := range cmds {
		if d, ok := c.(gcode.Delay); ok {
			out[i] = d.String()
			continue
		}
		out[i] = c.Encode()
	}
	return out
}

func TestPlanSafeMove(t *testing.T) {
	p := NewPlanner(DefaultLimits(), 3000)

	tests := []struct {
		name    string
		current Position
		target  Position
		safeZ   float64
		want    []string
	}{
		{
			name:    "lift then travel, target at safe z",
			current: Position{0, 300, 0},
			target:  Position{100, 200, 50},
			safeZ:   50,
			want:    []string{"G1 F3000 Z50.00", "M400", "G1 F3000 X100.00 Y200.00", "M400"},
		},
		{
			name:    "already above safe z",
			current: Position{0, 300, 80},
			target:  Position{100, 200, 10},
			safeZ:   50,
			want:    []string{"G1 F3000 X100.00 Y200.00", "M400", "G1 F3000 Z10.00", "M400"},
		},
		{
			name:    "full three step move",
			current: Position{0, 300, 0},
			target:  Position{-50, 250, -20},
			safeZ:   50,
			want: []string{
				"G1 F3000 Z50.00", "M400",
				"G1 F3000 X-50.00 Y250.00", "M400",
				"G1 F3000 Z-20.00", "M400",
			},
		},
		{
			name:    "same xy only changes z",
			current: Position{10, 200, 0},
			target:  Position{10, 200, -30},
			safeZ:   50,
			want:    []string{"G1 F3000 Z50.00", "M400", "G1 F3000 Z-30.00", "M400"},
		},
		{
			name:    "exactly at safe z emits no lift",
			current: Position{0, 300, 50},
			target:  Position{20, 300, 50},
			safeZ:   50,
			want:    []string{"G1 F3000 X20.00 Y300.00", "M400"},
		},
		{
			name:    "identity at safe z is empty",
			current: Position{0, 300, 50},
			target:  Position{0, 300, 50},
			safeZ:   50,
			want:    []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmds, err := p.PlanSafeMove(tt.current, tt.target, tt.safeZ)
			if err != nil {
				t.Fatalf("PlanSafeMove() error = %v", err)
			}
			if got := describe(cmds); !slices.Equal(got, tt.want) {
				t.Errorf("PlanSafeMove(%v, %v, %v) = %q, want %q", tt.current, tt.target, tt.safeZ, got, tt.want)
			}
		})
	}
}

func TestPlanSafeMove_Idempotent(t *testing.T) {
	p := NewPlanner(DefaultLimits(), 3000)
	rng := rand.New(rand.NewPCG(7, 11))
	for range 200 {
		pos := randomValid(rng, p.Limits)
		cmds, err := p.PlanSafeMove(pos, pos, pos.Z)
		if err != nil {
			t.Fatalf("PlanSafeMove(%v) error = %v", pos, err)
		}
		if len(cmds) != 0 {
			t.Fatalf("PlanSafeMove(%v, %v, %v) = %q, want empty", pos, pos, pos.Z, describe(cmds))
		}
	}
}

func randomValid(rng *rand.Rand, l WorkspaceLimits) Position {
	for {
		p := Position{
			X: l.XMin + rng.Float64()*(l.XMax-l.XMin),
			Y: l.YMin + rng.Float64()*(l.YMax-l.YMin),
			Z: l.ZMin + rng.Float64()*(l.ZMax-l.ZMin),
		}
		if l.Contains(p) {
			return p
		}
	}
}

func TestPlanSafeMove_LiftBeforeXY(t *testing.T) {
	p := NewPlanner(DefaultLimits(), 3000)
	rng := rand.New(rand.NewPCG(1, 2))

	for range 1000 {
		current := randomValid(rng, p.Limits)
		target := randomValid(rng, p.Limits)
		safeZ := rng.Float64() * 150

		cmds, err := p.PlanSafeMove(current, target, safeZ)
		if err != nil {
			t.Fatalf("PlanSafeMove(%v, %v, %.2f) error = %v", current, target, safeZ, err)
		}

		if err := Verify(cmds, current, safeZ); err != nil {
			t.Fatalf("PlanSafeMove(%v, %v, %.2f) = %q: %v", current, target, safeZ, describe(cmds), err)
		}

		firstXY := slices.IndexFunc(cmds, gcode.Command.ChangesXY)
		if current.Z >= safeZ || firstXY < 0 {
			continue
		}
		firstZ := slices.IndexFunc(cmds, gcode.Command.ChangesZ)
		if firstZ < 0 || firstZ > firstXY {
			t.Fatalf("plan %q: xy move at %d before lift at %d", describe(cmds), firstXY, firstZ)
		}
		if z, _ := cmds[firstZ].(gcode.Move).Z(); z < safeZ {
			t.Fatalf("plan %q: first z move to %.2f below safe z %.2f", describe(cmds), z, safeZ)
		}
	}
}

func TestPlans_WaitAfterEveryMove(t *testing.T) {
	p := NewPlanner(DefaultLimits(), 3000)
	rng := rand.New(rand.NewPCG(3, 4))

	for range 300 {
		current := randomValid(rng, p.Limits)
		target := randomValid(rng, p.Limits)
		safeZ := 50 + rng.Float64()*100

		plans := map[string]func() ([]gcode.Command, error){
			"safe":   func() ([]gcode.Command, error) { return p.PlanSafeMove(current, target, safeZ) },
			"direct": func() ([]gcode.Command, error) { return p.PlanDirectMove(current, target) },
			"pick": func() ([]gcode.Command, error) {
				return p.PlanPickSequence(current, target, safeZ, time.Millisecond, time.Millisecond)
			},
			"place": func() ([]gcode.Command, error) {
				return p.PlanPlaceSequence(current, target, safeZ, time.Millisecond)
			},
			"home": func() ([]gcode.Command, error) { return p.PlanHome(&current, safeZ) },
		}
		for name, plan := range plans {
			cmds, err := plan()
			if err != nil {
				t.Fatalf("%s plan error = %v", name, err)
			}
			if err := VerifyWaitAfterMoves(cmds); err != nil {
				t.Fatalf("%s plan %q: %v", name, describe(cmds), err)
			}
		}
	}
}

func TestPlanPickSequence(t *testing.T) {
	p := NewPlanner(DefaultLimits(), 3000)
	cmds, err := p.PlanPickSequence(Position{0, 300, 0}, Position{100, 250, -40}, 50, 500*time.Millisecond, 300*time.Millisecond)
	if err != nil {
		t.Fatalf("PlanPickSequence() error = %v", err)
	}

	want := []string{
		"G1 F3000 Z50.00", "M400",
		"G1 F3000 X100.00 Y250.00", "M400",
		"M1000", "delay 300ms",
		"G1 F3000 Z-40.00", "M400",
		"delay 500ms",
		"G1 F3000 Z50.00", "M400",
	}
	if got := describe(cmds); !slices.Equal(got, want) {
		t.Errorf("PlanPickSequence() = %q, want %q", got, want)
	}
}

func TestPlanPickSequence_SuctionBeforeLowering(t *testing.T) {
	p := NewPlanner(DefaultLimits(), 3000)
	pick := Position{-80, 200, -60}
	cmds, err := p.PlanPickSequence(Position{0, 300, 120}, pick, 50, 0, 0)
	if err != nil {
		t.Fatalf("PlanPickSequence() error = %v", err)
	}

	suction := slices.IndexFunc(cmds, func(c gcode.Command) bool {
		s, ok := c.(gcode.Suction)
		return ok && s.Action == gcode.SuctionOn
	})
	lower := slices.IndexFunc(cmds, func(c gcode.Command) bool {
		m, ok := c.(gcode.Move)
		z, hasZ := m.Z()
		return ok && hasZ && z == pick.Z
	})
	if suction < 0 || lower < 0 || suction > lower {
		t.Errorf("suction on at %d, lowering at %d in %q", suction, lower, describe(cmds))
	}
}

func TestPlanPlaceSequence(t *testing.T) {
	p := NewPlanner(DefaultLimits(), 3000)
	cmds, err := p.PlanPlaceSequence(Position{100, 250, 50}, Position{-100, 350, 10}, 50, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("PlanPlaceSequence() error = %v", err)
	}

	want := []string{
		"G1 F3000 X-100.00 Y350.00", "M400",
		"G1 F3000 Z10.00", "M400",
		"M1002", "delay 200ms", "M1003",
		"G1 F3000 Z50.00", "M400",
	}
	if got := describe(cmds); !slices.Equal(got, want) {
		t.Errorf("PlanPlaceSequence() = %q, want %q", got, want)
	}
}

func TestPlans_RejectOutsideWorkspace(t *testing.T) {
	p := NewPlanner(DefaultLimits(), 3000)
	here := Position{0, 300, 50}
	outside := Position{0, 300, -500}

	plans := map[string]func() ([]gcode.Command, error){
		"safe":     func() ([]gcode.Command, error) { return p.PlanSafeMove(here, outside, 50) },
		"direct":   func() ([]gcode.Command, error) { return p.PlanDirectMove(here, outside) },
		"vertical": func() ([]gcode.Command, error) { return p.PlanVertical(here, outside.Z) },
		"pick":     func() ([]gcode.Command, error) { return p.PlanPickSequence(here, outside, 50, 0, 0) },
		"place":    func() ([]gcode.Command, error) { return p.PlanPlaceSequence(here, outside, 50, 0) },
		"jog":      func() ([]gcode.Command, error) { return p.PlanJog(here, 'z', -600, 50, false) },
		"safe z":   func() ([]gcode.Command, error) { return p.PlanSafeMove(here, Position{10, 300, 0}, 900) },
	}
	for name, plan := range plans {
		cmds, err := plan()
		var rerr *RangeError
		if !errors.As(err, &rerr) {
			t.Errorf("%s: err = %v, want *RangeError", name, err)
		}
		if !errors.Is(err, ErrValidation) {
			t.Errorf("%s: err = %v, want ErrValidation", name, err)
		}
		if cmds != nil {
			t.Errorf("%s: returned partial plan %q", name, describe(cmds))
		}
	}
}

func TestPlanJog(t *testing.T) {
	p := NewPlanner(DefaultLimits(), 1200)

	cmds, err := p.PlanJog(Position{0, 300, 60}, 'x', 15, 50, true)
	if err != nil {
		t.Fatalf("PlanJog() error = %v", err)
	}
	if got, want := describe(cmds), []string{"G1 F1200 X15.00", "M400"}; !slices.Equal(got, want) {
		t.Errorf("PlanJog() = %q, want %q", got, want)
	}

	if _, err := p.PlanJog(Position{0, 300, 10}, 'y', 5, 50, true); !errors.Is(err, ErrUnsafeJog) {
		t.Errorf("PlanJog() xy below safe z while carrying: err = %v, want ErrUnsafeJog", err)
	}
	if _, err := p.PlanJog(Position{0, 300, 10}, 'z', 5, 50, true); err != nil {
		t.Errorf("PlanJog() z while carrying: err = %v", err)
	}
	if _, err := p.PlanJog(Position{0, 300, 10}, 'e', 5, 50, false); err == nil {
		t.Error("PlanJog() unknown axis: expected error")
	}
}

func TestPlanHome(t *testing.T) {
	p := NewPlanner(DefaultLimits(), 3000)

	cmds, err := p.PlanHome(&Position{50, 250, -10}, 50)
	if err != nil {
		t.Fatalf("PlanHome() error = %v", err)
	}
	if got, want := describe(cmds), []string{"G1 F3000 Z50.00", "M400", "M1112", "M400"}; !slices.Equal(got, want) {
		t.Errorf("PlanHome() = %q, want %q", got, want)
	}

	cmds, err = p.PlanHome(nil, 50)
	if err != nil {
		t.Fatalf("PlanHome(nil) error = %v", err)
	}
	if got, want := describe(cmds), []string{"M1112", "M400"}; !slices.Equal(got, want) {
		t.Errorf("PlanHome(nil) = %q, want %q", got, want)
	}
}

func TestVerifyLiftBeforeXY_RejectsLowTravel(t *testing.T) {
	cmds := []gcode.Command{gcode.MoveXY(10, 200, 3000), gcode.Wait{}}
	if err := VerifyLiftBeforeXY(cmds, Position{0, 300, 0}, 50); !errors.Is(err, ErrUnsafePlan) {
		t.Errorf("VerifyLiftBeforeXY() err = %v, want ErrUnsafePlan", err)
	}
	if err := VerifyWaitAfterMoves(cmds[:1]); !errors.Is(err, ErrUnsafePlan) {
		t.Errorf("VerifyWaitAfterMoves() err = %v, want ErrUnsafePlan", err)
	}
}
