package motion

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
)

func TestPositionMath(t *testing.T) {
	a := Position{0, 300, 0}
	b := Position{0, 304, 3}
	if got := a.DistanceTo(b); got != 5 {
		t.Errorf("DistanceTo() = %f, want 5", got)
	}
	if got := (Position{30, 40, 99}).Reach(); got != 50 {
		t.Errorf("Reach() = %f, want 50", got)
	}
	if !a.Within(Position{0.4, 299.6, -0.5}, 0.5) {
		t.Error("Within(0.5) = false, want true")
	}
	if a.Within(Position{0.6, 300, 0}, 0.5) {
		t.Error("Within(0.5) = true for 0.6 offset, want false")
	}
}

func TestValidate(t *testing.T) {
	limits := WorkspaceLimits{XMin: -200, XMax: 200, YMin: 100, YMax: 400, ZMin: -100, ZMax: 200, MaxReach: 320}

	tests := []struct {
		name  string
		pos   Position
		bound Bound
	}{
		{"x beyond max checked before reach", Position{250, 300, 0}, BoundX},
		{"x below min", Position{-201, 200, 0}, BoundX},
		{"y below forward offset", Position{0, 50, 0}, BoundY},
		{"z above max", Position{0, 200, 250}, BoundZ},
		{"reach", Position{200, 300, 0}, BoundReach},
		{"nan", Position{math.NaN(), 200, 0}, BoundX},
		{"valid", Position{0, 300, 0}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := limits.Validate(tt.pos)
			if tt.bound == "" {
				if err != nil {
					t.Fatalf("Validate(%v) = %v, want nil", tt.pos, err)
				}
				return
			}
			var rerr *RangeError
			if !errors.As(err, &rerr) {
				t.Fatalf("Validate(%v) = %v, want *RangeError", tt.pos, err)
			}
			if rerr.Bound != tt.bound {
				t.Errorf("Validate(%v) bound = %s, want %s", tt.pos, rerr.Bound, tt.bound)
			}
			if !errors.Is(err, ErrValidation) {
				t.Errorf("Validate(%v) does not unwrap to ErrValidation", tt.pos)
			}
		})
	}
}

func TestValidate_Property(t *testing.T) {
	limits := DefaultLimits()
	rng := rand.New(rand.NewPCG(42, 42))

	for range 2000 {
		p := Position{
			X: -500 + rng.Float64()*1000,
			Y: -100 + rng.Float64()*700,
			Z: -300 + rng.Float64()*600,
		}
		inside := p.X >= limits.XMin && p.X <= limits.XMax &&
			p.Y >= limits.YMin && p.Y <= limits.YMax &&
			p.Z >= limits.ZMin && p.Z <= limits.ZMax &&
			math.Sqrt(p.X*p.X+p.Y*p.Y) <= limits.MaxReach
		if got := limits.Contains(p); got != inside {
			t.Fatalf("Contains(%v) = %v, want %v", p, got, inside)
		}
	}

	// Push one axis of a valid point past its bound.
	for i := range 500 {
		p := randomValid(rng, limits)
		switch i % 6 {
		case 0:
			p.X = limits.XMax + 0.01 + rng.Float64()*100
		case 1:
			p.X = limits.XMin - 0.01 - rng.Float64()*100
		case 2:
			p.Y = limits.YMax + 0.01 + rng.Float64()*100
		case 3:
			p.Y = limits.YMin - 0.01 - rng.Float64()*100
		case 4:
			p.Z = limits.ZMax + 0.01 + rng.Float64()*100
		case 5:
			p.Z = limits.ZMin - 0.01 - rng.Float64()*100
		}
		if limits.Contains(p) {
			t.Fatalf("Contains(%v) = true for out-of-bound position", p)
		}
	}
}

func TestLimitsCheck(t *testing.T) {
	if err := DefaultLimits().Check(); err != nil {
		t.Errorf("DefaultLimits().Check() = %v", err)
	}
	bad := DefaultLimits()
	bad.ZMin, bad.ZMax = 10, 0
	if err := bad.Check(); err == nil {
		t.Error("Check() with inverted z range: expected error")
	}
}
