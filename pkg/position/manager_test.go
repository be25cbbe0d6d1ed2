package position

import (
	"errors"
	"sync"
	"testing"

	"github.com/gwillem/bladeloader/pkg/motion"
)

func TestManager_AcquireRequiresKnownPosition(t *testing.T) {
	m := NewManager(0)
	if _, err := m.Acquire(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Acquire() on fresh manager err = %v, want ErrNotReady", err)
	}
	m.ResetTo(motion.Home)
	fix, err := m.Acquire()
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if fix.Position != motion.Home {
		t.Errorf("fix.Position = %v, want %v", fix.Position, motion.Home)
	}
}

func TestManager_RecordCommanded(t *testing.T) {
	m := NewManager(0)
	m.ResetTo(motion.Home)
	fix, _ := m.Acquire()

	next := motion.Position{X: 10, Y: 250, Z: 50}
	fix, err := m.RecordCommanded(fix, next)
	if err != nil {
		t.Fatalf("RecordCommanded() error = %v", err)
	}
	if got, _ := m.Tracked(); got != next {
		t.Errorf("Tracked() = %v, want %v", got, next)
	}
	if fix.Position != next {
		t.Errorf("renewed fix = %v, want %v", fix.Position, next)
	}
}

func TestManager_TeachModeRequiresSync(t *testing.T) {
	m := NewManager(0)
	m.ResetTo(motion.Home)
	fix, _ := m.Acquire()

	m.Engage()
	if _, err := m.RecordCommanded(fix, motion.Position{X: 1, Y: 300}); !errors.Is(err, ErrStaleFix) {
		t.Errorf("RecordCommanded() in teach mode err = %v, want ErrStaleFix", err)
	}
	if _, err := m.Acquire(); !errors.Is(err, ErrNotReady) {
		t.Errorf("Acquire() while engaged err = %v, want ErrNotReady", err)
	}

	hand := motion.Position{X: -40, Y: 220, Z: 5}
	if err := m.SyncFromSensor(hand); !errors.Is(err, ErrNotReady) {
		t.Errorf("SyncFromSensor() while engaged err = %v, want ErrNotReady", err)
	}

	m.Disengage()
	if m.Mode() != AwaitingSync {
		t.Fatalf("Mode() = %v, want awaiting_sync", m.Mode())
	}
	if _, err := m.Acquire(); !errors.Is(err, ErrNotReady) {
		t.Errorf("Acquire() before sync err = %v, want ErrNotReady", err)
	}

	if err := m.SyncFromSensor(hand); err != nil {
		t.Fatalf("SyncFromSensor() error = %v", err)
	}
	fix, err := m.Acquire()
	if err != nil {
		t.Fatalf("Acquire() after sync error = %v", err)
	}
	if fix.Position != hand {
		t.Errorf("position after sync = %v, want %v", fix.Position, hand)
	}
}

func TestManager_InvalidateStalesFix(t *testing.T) {
	m := NewManager(0)
	m.ResetTo(motion.Home)
	fix, _ := m.Acquire()
	m.Invalidate()

	if _, err := m.RecordCommanded(fix, motion.Home); !errors.Is(err, ErrStaleFix) {
		t.Errorf("RecordCommanded() after Invalidate err = %v, want ErrStaleFix", err)
	}
	if _, known := m.Tracked(); known {
		t.Error("Tracked() known after Invalidate")
	}

	before := m.Syncs()
	m.SyncFromSensor(motion.Position{X: 0, Y: 300, Z: 60})
	if m.Syncs() != before+1 {
		t.Errorf("Syncs() = %d, want %d", m.Syncs(), before+1)
	}
	if _, err := m.Acquire(); err != nil {
		t.Errorf("Acquire() after sync error = %v", err)
	}
}

func TestManager_CheckDrift(t *testing.T) {
	m := NewManager(0.5)
	m.ResetTo(motion.Position{X: 100, Y: 200, Z: 50})

	tests := []struct {
		sensed motion.Position
		drift  bool
	}{
		{motion.Position{X: 100, Y: 200, Z: 50}, false},
		{motion.Position{X: 100.5, Y: 199.5, Z: 50}, false},
		{motion.Position{X: 100, Y: 200, Z: 50.6}, true},
		{motion.Position{X: 98, Y: 200, Z: 50}, true},
	}
	for _, tt := range tests {
		err := m.CheckDrift(tt.sensed)
		if got := errors.Is(err, ErrDrift); got != tt.drift {
			t.Errorf("CheckDrift(%v) = %v, want drift %v", tt.sensed, err, tt.drift)
		}
	}

	var derr *DriftError
	if err := m.CheckDrift(motion.Position{X: 98, Y: 200, Z: 50}); errors.As(err, &derr) {
		if derr.Max() != 2 {
			t.Errorf("DriftError.Max() = %v, want 2", derr.Max())
		}
	}
	if got, _ := m.Tracked(); got != (motion.Position{X: 100, Y: 200, Z: 50}) {
		t.Errorf("CheckDrift changed tracked position to %v", got)
	}
}

func TestManager_AtomicUpdates(t *testing.T) {
	m := NewManager(0)
	m.ResetTo(motion.Position{X: 0, Y: 0, Z: 0})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 1000; i++ {
			v := float64(i)
			m.ResetTo(motion.Position{X: v, Y: v, Z: v})
		}
		close(stop)
	}()

	for {
		select {
		case <-stop:
			wg.Wait()
			return
		default:
		}
		p, _ := m.Tracked()
		if p.X != p.Y || p.Y != p.Z {
			t.Fatalf("observed partially updated position %v", p)
		}
	}
}
