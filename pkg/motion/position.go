// Package motion plans command sequences that keep the arm inside its
// workspace and clear of obstacles while it travels.
package motion

import (
	"errors"
	"fmt"
	"math"
)

// Position is a Cartesian point in millimeters.
type Position struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
	Z float64 `yaml:"z" json:"z"`
}

// Home is where the firmware puts the arm after M1112.
var Home = Position{X: 0, Y: 300, Z: 0}

// DistanceTo returns the Euclidean distance between p and q.
func (p Position) DistanceTo(q Position) float64 {
	dx, dy, dz := p.X-q.X, p.Y-q.Y, p.Z-q.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Reach returns the planar distance from the base axis.
func (p Position) Reach() float64 {
	return math.Hypot(p.X, p.Y)
}

// WithZ returns p with Z replaced.
func (p Position) WithZ(z float64) Position {
	p.Z = z
	return p
}

// WithXY returns p with X and Y replaced.
func (p Position) WithXY(x, y float64) Position {
	p.X, p.Y = x, y
	return p
}

// SameXY reports whether p and q share X and Y exactly.
func (p Position) SameXY(q Position) bool {
	return p.X == q.X && p.Y == q.Y
}

// Within reports whether every axis of p is within tol of q.
func (p Position) Within(q Position, tol float64) bool {
	return math.Abs(p.X-q.X) <= tol && math.Abs(p.Y-q.Y) <= tol && math.Abs(p.Z-q.Z) <= tol
}

func (p Position) String() string {
	return fmt.Sprintf("(%.2f, %.2f, %.2f)", p.X, p.Y, p.Z)
}

// ErrValidation is the sentinel behind every RangeError.
var ErrValidation = errors.New("position outside workspace")

// Bound names one workspace limit.
type Bound string

const (
	BoundX     Bound = "x"
	BoundY     Bound = "y"
	BoundZ     Bound = "z"
	BoundReach Bound = "reach"
)

// RangeError reports the first workspace bound a position violates.
type RangeError struct {
	Position Position
	Bound    Bound
	Value    float64
	Min, Max float64
}

func (e *RangeError) Error() string {
	if e.Bound == BoundReach {
		return fmt.Sprintf("%v: reach %.2f exceeds max %.2f", e.Position, e.Value, e.Max)
	}
	return fmt.Sprintf("%v: %s=%.2f outside [%.2f, %.2f]", e.Position, e.Bound, e.Value, e.Min, e.Max)
}

func (e *RangeError) Unwrap() error { return ErrValidation }

// WorkspaceLimits bounds every position the arm may be commanded to.
type WorkspaceLimits struct {
	XMin     float64 `yaml:"x_min"`
	XMax     float64 `yaml:"x_max"`
	YMin     float64 `yaml:"y_min"`
	YMax     float64 `yaml:"y_max"`
	ZMin     float64 `yaml:"z_min"`
	ZMax     float64 `yaml:"z_max"`
	MaxReach float64 `yaml:"max_reach"`
}

// DefaultLimits returns the DexArm workspace.
func DefaultLimits() WorkspaceLimits {
	return WorkspaceLimits{
		XMin: -300, XMax: 300,
		YMin: 100, YMax: 450,
		ZMin: -100, ZMax: 200,
		MaxReach: 400,
	}
}

// Validate checks p against every bound, in X, Y, Z, reach order, and
// returns a *RangeError for the first violation.
func (l WorkspaceLimits) Validate(p Position) error {
	switch {
	case p.X < l.XMin || p.X > l.XMax || math.IsNaN(p.X):
		return &RangeError{Position: p, Bound: BoundX, Value: p.X, Min: l.XMin, Max: l.XMax}
	case p.Y < l.YMin || p.Y > l.YMax || math.IsNaN(p.Y):
		return &RangeError{Position: p, Bound: BoundY, Value: p.Y, Min: l.YMin, Max: l.YMax}
	case p.Z < l.ZMin || p.Z > l.ZMax || math.IsNaN(p.Z):
		return &RangeError{Position: p, Bound: BoundZ, Value: p.Z, Min: l.ZMin, Max: l.ZMax}
	}
	if r := p.Reach(); r > l.MaxReach {
		return &RangeError{Position: p, Bound: BoundReach, Value: r, Max: l.MaxReach}
	}
	return nil
}

// Contains reports whether p is inside the workspace.
func (l WorkspaceLimits) Contains(p Position) bool {
	return l.Validate(p) == nil
}

// Check reports whether the limits themselves are consistent.
func (l WorkspaceLimits) Check() error {
	if l.XMin >= l.XMax || l.YMin >= l.YMax || l.ZMin >= l.ZMax {
		return fmt.Errorf("workspace: min must be below max on every axis")
	}
	if l.MaxReach <= 0 {
		return fmt.Errorf("workspace: max_reach must be positive")
	}
	return nil
}
