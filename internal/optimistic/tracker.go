// Package optimistic tracks user-initiated lock actions that have been shown
// to the user before the backend confirmed them.
package optimistic

import (
	"time"

	"github.com/dokzlo13/lockd/internal/lock"
)

// Pending is an action awaiting backend confirmation.
type Pending struct {
	Kind    lock.Kind
	ArmedAt time.Time
}

// Result describes how a backend state relates to the pending action.
type Result struct {
	// Cleared is true when the state confirmed the pending action.
	Cleared bool
	// IsStaleEcho is true when the state repeats the pre-action stable state;
	// the caller must not revert the optimistic visual state.
	IsStaleEcho bool
}

// Tracker holds at most one pending action.
type Tracker struct {
	pending *Pending
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Begin records a pending action and returns the optimistic state to display.
// Callers must not begin while another action is pending.
func (t *Tracker) Begin(kind lock.Kind, at time.Time) lock.State {
	t.pending = &Pending{Kind: kind, ArmedAt: at}
	return kind.Requested()
}

// Reconcile compares a confirmed backend state with the pending action.
func (t *Tracker) Reconcile(confirmed lock.State) Result {
	if t.pending == nil {
		return Result{}
	}

	if confirms(t.pending.Kind, confirmed) {
		t.pending = nil
		return Result{Cleared: true}
	}

	if confirmed == t.pending.Kind.Origin() {
		return Result{IsStaleEcho: true}
	}

	return Result{}
}

// HasPending reports whether an action awaits confirmation.
func (t *Tracker) HasPending() bool {
	return t.pending != nil
}

// Pending returns a copy of the pending action, if any.
func (t *Tracker) Pending() (Pending, bool) {
	if t.pending == nil {
		return Pending{}, false
	}
	return *t.pending, true
}

// Clear drops the pending action.
func (t *Tracker) Clear() {
	t.pending = nil
}

// confirms reports whether state shows progress consistent with kind.
func confirms(kind lock.Kind, state lock.State) bool {
	switch kind {
	case lock.KindLock:
		return state == lock.StateLocking || state == lock.StateLocked
	case lock.KindUnlock:
		return state == lock.StateUnlocking || state == lock.StateUnlocked
	}
	return false
}
