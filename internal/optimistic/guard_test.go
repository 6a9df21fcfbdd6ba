package optimistic

import (
	"testing"
	"time"

	"github.com/dokzlo13/lockd/internal/clock"
	"github.com/dokzlo13/lockd/internal/lock"
)

func TestClampTimeout(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want time.Duration
	}{
		{0, DefaultTimeout},
		{-time.Second, DefaultTimeout},
		{100 * time.Millisecond, MinTimeout},
		{2 * time.Second, 2 * time.Second},
		{time.Hour, MaxTimeout},
	}

	for _, tt := range tests {
		if got := ClampTimeout(tt.in); got != tt.want {
			t.Errorf("ClampTimeout(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFallback(t *testing.T) {
	tests := []struct {
		name       string
		requested  lock.State
		lastStable lock.State
		want       lock.State
	}{
		{"lock/known_stable", lock.StateLockRequested, lock.StateUnlocked, lock.StateUnlocked},
		{"lock/unknown_stable", lock.StateLockRequested, "", lock.StateUnlocked},
		{"unlock/unknown_stable", lock.StateUnlockRequested, lock.StateUnknown, lock.StateLocked},
		{"unlock/known_stable", lock.StateUnlockRequested, lock.StateLocked, lock.StateLocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Fallback(tt.requested, tt.lastStable); got != tt.want {
				t.Errorf("Fallback() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGuard_ExpiresWhileStillRequested(t *testing.T) {
	c := clock.NewFake(now)
	visual := lock.StateLockRequested
	g := NewGuard(c, nil, func() lock.State { return visual })

	var got []Expiry
	h := g.Arm(lock.StateLockRequested, lock.StateUnlocked, 2*time.Second, func(e Expiry) {
		got = append(got, e)
	})

	c.Advance(1999 * time.Millisecond)
	if len(got) != 0 {
		t.Fatal("guard fired early")
	}
	if !h.Active() {
		t.Error("handle inactive before expiry")
	}

	c.Advance(time.Millisecond)
	want := Expiry{Requested: lock.StateLockRequested, Fallback: lock.StateUnlocked, Snap: true}
	if len(got) != 1 || got[0] != want {
		t.Errorf("expiries = %+v, want [%+v]", got, want)
	}
	if h.Active() {
		t.Error("handle active after expiry")
	}
	if g.Armed() {
		t.Error("guard still armed after expiry")
	}
}

func TestGuard_ExpiryAfterStateMovedDoesNotSnap(t *testing.T) {
	c := clock.NewFake(now)
	visual := lock.StateLockRequested
	g := NewGuard(c, nil, func() lock.State { return visual })

	var got []Expiry
	g.Arm(lock.StateLockRequested, lock.StateUnlocked, time.Second, func(e Expiry) { got = append(got, e) })

	visual = lock.StateUnlocking
	c.Advance(2 * time.Second)
	if len(got) != 1 {
		t.Fatalf("expiries = %d, want 1 so the pending action is released", len(got))
	}
	if got[0].Snap {
		t.Error("guard asked to snap a state that had already moved on")
	}
}

func TestGuard_Disarm(t *testing.T) {
	c := clock.NewFake(now)
	g := NewGuard(c, nil, func() lock.State { return lock.StateUnlockRequested })

	fired := false
	h := g.Arm(lock.StateUnlockRequested, lock.StateLocked, time.Second, func(Expiry) { fired = true })
	h.Disarm()
	c.Advance(2 * time.Second)

	if fired {
		t.Error("disarmed guard fired")
	}
	if g.Armed() {
		t.Error("guard armed after handle disarm")
	}
	if c.Pending() != 0 {
		t.Errorf("disarm left %d timers", c.Pending())
	}
}

func TestGuard_RearmSupersedes(t *testing.T) {
	c := clock.NewFake(now)
	g := NewGuard(c, nil, func() lock.State { return lock.StateLockRequested })

	var calls []lock.State
	record := func(e Expiry) { calls = append(calls, e.Fallback) }
	first := g.Arm(lock.StateLockRequested, lock.StateUnlocked, time.Second, record)
	c.Advance(500 * time.Millisecond)
	g.Arm(lock.StateLockRequested, lock.StateLocked, time.Second, record)

	// A stale handle must not cancel the newer deadline.
	first.Disarm()
	if !g.Armed() {
		t.Fatal("stale handle disarmed the current deadline")
	}

	c.Advance(700 * time.Millisecond)
	if len(calls) != 0 {
		t.Fatalf("superseded deadline fired: %v", calls)
	}

	c.Advance(300 * time.Millisecond)
	if len(calls) != 1 || calls[0] != lock.StateLocked {
		t.Errorf("calls = %v, want [locked]", calls)
	}
}
