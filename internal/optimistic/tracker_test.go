package optimistic

import (
	"testing"
	"time"

	"github.com/dokzlo13/lockd/internal/lock"
)

var now = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func TestTracker_Begin(t *testing.T) {
	tr := NewTracker()
	if tr.HasPending() {
		t.Fatal("new tracker has pending action")
	}

	if got := tr.Begin(lock.KindLock, now); got != lock.StateLockRequested {
		t.Errorf("Begin(lock) = %q, want lock-requested", got)
	}
	p, ok := tr.Pending()
	if !ok || p.Kind != lock.KindLock || !p.ArmedAt.Equal(now) {
		t.Errorf("Pending() = %+v, %v", p, ok)
	}

	tr.Clear()
	if got := tr.Begin(lock.KindUnlock, now); got != lock.StateUnlockRequested {
		t.Errorf("Begin(unlock) = %q, want unlock-requested", got)
	}
}

func TestTracker_Reconcile(t *testing.T) {
	tests := []struct {
		name         string
		kind         lock.Kind
		confirmed    lock.State
		cleared      bool
		staleEcho    bool
		stillPending bool
	}{
		{"lock/locking_confirms", lock.KindLock, lock.StateLocking, true, false, false},
		{"lock/locked_confirms", lock.KindLock, lock.StateLocked, true, false, false},
		{"lock/unlocked_is_echo", lock.KindLock, lock.StateUnlocked, false, true, true},
		{"lock/jammed_neither", lock.KindLock, lock.StateJammed, false, false, true},
		{"lock/unlocking_neither", lock.KindLock, lock.StateUnlocking, false, false, true},
		{"unlock/unlocking_confirms", lock.KindUnlock, lock.StateUnlocking, true, false, false},
		{"unlock/unlocked_confirms", lock.KindUnlock, lock.StateUnlocked, true, false, false},
		{"unlock/locked_is_echo", lock.KindUnlock, lock.StateLocked, false, true, true},
		{"unlock/unknown_neither", lock.KindUnlock, lock.StateUnknown, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker()
			tr.Begin(tt.kind, now)

			got := tr.Reconcile(tt.confirmed)
			if got.Cleared != tt.cleared {
				t.Errorf("Cleared = %v, want %v", got.Cleared, tt.cleared)
			}
			if got.IsStaleEcho != tt.staleEcho {
				t.Errorf("IsStaleEcho = %v, want %v", got.IsStaleEcho, tt.staleEcho)
			}
			if tr.HasPending() != tt.stillPending {
				t.Errorf("HasPending() = %v, want %v", tr.HasPending(), tt.stillPending)
			}
		})
	}
}

func TestTracker_ReconcileWithoutPending(t *testing.T) {
	tr := NewTracker()
	if got := tr.Reconcile(lock.StateLocked); got.Cleared || got.IsStaleEcho {
		t.Errorf("Reconcile() without pending = %+v, want zero", got)
	}
}
