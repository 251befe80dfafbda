package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_Timer(t *testing.T) {
	clock := RealClock{}
	timer := clock.NewTimer(5 * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C():
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestMockClock_AdvanceFiresDueTimers(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	early := clock.NewTimer(100 * time.Millisecond)
	late := clock.NewTimer(time.Second)

	clock.Advance(500 * time.Millisecond)

	select {
	case got := <-early.C():
		if !got.Equal(start.Add(500 * time.Millisecond)) {
			t.Errorf("fired at %v", got)
		}
	default:
		t.Fatal("early timer should have fired")
	}
	select {
	case <-late.C():
		t.Fatal("late timer fired too soon")
	default:
	}
	if n := clock.Pending(); n != 1 {
		t.Errorf("Pending() = %d, want 1", n)
	}
}

func TestMockClock_StoppedTimerNeverFires(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	timer := clock.NewTimer(time.Millisecond)

	if !timer.Stop() {
		t.Error("Stop on an active timer should report true")
	}
	clock.Advance(time.Second)

	select {
	case <-timer.C():
		t.Fatal("stopped timer fired")
	default:
	}
	if timer.Stop() {
		t.Error("second Stop should report false")
	}
}

func TestMockClock_SinceAndSet(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := NewMockClock(base)
	clock.Set(base.Add(2 * time.Minute))

	if d := clock.Since(base); d != 2*time.Minute {
		t.Errorf("Since = %v, want 2m", d)
	}
}
