package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_NewTicker(t *testing.T) {
	clock := RealClock{}
	ticker := clock.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Error("ticker did not fire")
	}
}

func TestNowMs(t *testing.T) {
	clock := NewMockClockMs(1_700_000_000_123)
	if got := NowMs(clock); got != 1_700_000_000_123 {
		t.Errorf("NowMs() = %d, want 1700000000123", got)
	}
}

func TestMockClock_SetAndSince(t *testing.T) {
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	clock.Set(start.Add(90 * time.Second))
	if d := clock.Since(start); d != 90*time.Second {
		t.Errorf("Since() = %v, want 90s", d)
	}
}

func TestMockClock_AdvanceFiresTicker(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(time.Second)

	clock.Advance(500 * time.Millisecond)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired before its interval")
	default:
	}

	clock.Advance(500 * time.Millisecond)
	select {
	case got := <-ticker.C():
		if !got.Equal(time.Unix(1, 0)) {
			t.Errorf("tick time = %v, want %v", got, time.Unix(1, 0))
		}
	default:
		t.Fatal("ticker did not fire after its interval")
	}
}

func TestMockTicker_StopAndTrigger(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(time.Second).(*MockTicker)
	ticker.Stop()

	clock.Advance(5 * time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired on Advance")
	default:
	}

	ticker.Trigger(time.Unix(42, 0))
	ticker.Trigger(time.Unix(43, 0)) // dropped, one tick already pending
	if got := <-ticker.C(); !got.Equal(time.Unix(42, 0)) {
		t.Errorf("Trigger delivered %v, want %v", got, time.Unix(42, 0))
	}
}
