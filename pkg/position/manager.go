// Package position keeps the single believed position of the arm and
// reconciles it with what the encoders report.
package position

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/gwillem/bladeloader/pkg/motion"
)

// DefaultTolerance is the per-axis drift tolerance in millimeters.
const DefaultTolerance = 0.5

var (
	// ErrNotReady is returned when motion is requested while the tracked
	// position cannot be trusted.
	ErrNotReady = errors.New("position not ready")
	// ErrDrift is the sentinel behind every DriftError.
	ErrDrift = errors.New("position drift")
	// ErrStaleFix is returned when a Fix is used after the position was
	// invalidated.
	ErrStaleFix = errors.New("stale position fix")
)

// Mode is the teach-mode state of the arm.
type Mode int

const (
	// Ready means motors are enabled and the position is synced.
	Ready Mode = iota
	// Engaged means motors are off and the arm may be moved by hand.
	Engaged
	// AwaitingSync means motors are back on but the sensor has not been
	// read yet.
	AwaitingSync
)

func (m Mode) String() string {
	switch m {
	case Ready:
		return "ready"
	case Engaged:
		return "engaged"
	case AwaitingSync:
		return "awaiting_sync"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// DriftError reports tracked vs sensed divergence beyond tolerance.
type DriftError struct {
	Tracked   motion.Position
	Sensed    motion.Position
	Tolerance float64
}

// Max returns the largest per-axis deviation.
func (e *DriftError) Max() float64 {
	return max(
		math.Abs(e.Tracked.X-e.Sensed.X),
		math.Abs(e.Tracked.Y-e.Sensed.Y),
		math.Abs(e.Tracked.Z-e.Sensed.Z),
	)
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("tracked %v, sensed %v: %.2fmm exceeds %.2fmm", e.Tracked, e.Sensed, e.Max(), e.Tolerance)
}

func (e *DriftError) Unwrap() error { return ErrDrift }

// Fix is proof that the position was trusted when it was issued. Motion can
// only be recorded against a Fix, so nothing can move the arm while it is in
// teach mode or before the post-teach sync. A Fix goes stale on every
// invalidation.
type Fix struct {
	gen      uint64
	Position motion.Position
}

// Manager is the single source of truth for the believed position. It is
// safe for concurrent use; all three axes change together.
type Manager struct {
	mu        sync.RWMutex
	pos       motion.Position
	known     bool
	mode      Mode
	gen       uint64
	syncs     uint64
	tolerance float64
}

// NewManager returns a manager with an unknown position.
func NewManager(tolerance float64) *Manager {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Manager{tolerance: tolerance, gen: 1}
}

// Acquire returns a Fix on the current position, or ErrNotReady.
func (m *Manager) Acquire() (Fix, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch {
	case m.mode != Ready:
		return Fix{}, fmt.Errorf("%w: teach mode %s", ErrNotReady, m.mode)
	case !m.known:
		return Fix{}, fmt.Errorf("%w: position unknown, home or sync first", ErrNotReady)
	}
	return Fix{gen: m.gen, Position: m.pos}, nil
}

// Check returns ErrStaleFix unless fix is still current and the arm is
// Ready.
func (m *Manager) Check(fix Fix) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if fix.gen != m.gen || m.mode != Ready {
		return ErrStaleFix
	}
	return nil
}

// RecordCommanded stores p as the position after a move executed under fix
// and returns the renewed fix.
func (m *Manager) RecordCommanded(fix Fix, p motion.Position) (Fix, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fix.gen != m.gen || m.mode != Ready {
		return Fix{}, ErrStaleFix
	}
	m.pos = p
	m.known = true
	return Fix{gen: m.gen, Position: p}, nil
}

// SyncFromSensor overwrites the tracked position with the sensed one. Sensor
// truth always wins. After a teach-mode exit this makes the arm Ready again.
// While still Engaged the value is stored but ErrNotReady is returned.
func (m *Manager) SyncFromSensor(sensed motion.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pos = sensed
	m.known = true
	m.syncs++
	m.gen++
	switch m.mode {
	case Engaged:
		return fmt.Errorf("%w: motors still disengaged", ErrNotReady)
	case AwaitingSync:
		m.mode = Ready
	}
	return nil
}

// CheckDrift compares the tracked position with sensed, per axis. It never
// changes state.
func (m *Manager) CheckDrift(sensed motion.Position) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.known {
		return fmt.Errorf("check drift: %w", ErrNotReady)
	}
	if m.pos.Within(sensed, m.tolerance) {
		return nil
	}
	return &DriftError{Tracked: m.pos, Sensed: sensed, Tolerance: m.tolerance}
}

// Engage enters teach mode: the tracked position becomes unreliable and every
// outstanding Fix goes stale.
func (m *Manager) Engage() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = Engaged
	m.gen++
}

// Disengage leaves teach mode. A sync is required before the next move.
func (m *Manager) Disengage() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode == Engaged {
		m.mode = AwaitingSync
	}
}

// Invalidate marks the position unknown, e.g. after a quick-stop or a
// transport failure mid-move.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.known = false
	m.gen++
}

// ResetTo sets a position established by the firmware itself, such as after
// homing. It does not leave teach mode.
func (m *Manager) ResetTo(p motion.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pos = p
	m.known = true
	m.gen++
}

// Tracked returns the believed position and whether it is known.
func (m *Manager) Tracked() (motion.Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pos, m.known
}

// Mode returns the teach-mode state.
func (m *Manager) Mode() Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// Syncs returns how many sensor syncs have happened. Callers compare counts
// to tell whether a sync happened after some event.
func (m *Manager) Syncs() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.syncs
}

// Tolerance returns the drift tolerance.
func (m *Manager) Tolerance() float64 { return m.tolerance }
