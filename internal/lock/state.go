// Package lock defines the canonical lock states and the planner that walks
// the cyclic state graph between them.
package lock

import "strings"

// State is a canonical lock state. Backend vocabularies are mapped onto this
// closed set by Normalize.
type State string

const (
	StateUnlocked        State = "unlocked"
	StateLockRequested   State = "lock-requested"
	StateLocking         State = "locking"
	StateLocked          State = "locked"
	StateUnlockRequested State = "unlock-requested"
	StateUnlocking       State = "unlocking"
	StateJammed          State = "jammed"
	StateUnknown         State = "unknown"
	StateUnavailable     State = "unavailable"
)

// All lists every canonical state, cycle members first.
var All = []State{
	StateUnlocked,
	StateLockRequested,
	StateLocking,
	StateLocked,
	StateUnlockRequested,
	StateUnlocking,
	StateJammed,
	StateUnknown,
	StateUnavailable,
}

var known = func() map[string]State {
	m := make(map[string]State, len(All))
	for _, s := range All {
		m[string(s)] = s
	}
	return m
}()

// Normalize maps a raw backend status onto a canonical state.
// Unrecognized input is reported as StateUnknown; it never fails.
func Normalize(raw string) State {
	if s, ok := known[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return s
	}
	return StateUnknown
}

// String returns the canonical name.
func (s State) String() string {
	return string(s)
}

// IsStable reports whether s is one of the two resting endpoints.
func (s State) IsStable() bool {
	return s == StateLocked || s == StateUnlocked
}

// IsExceptional reports whether s lies outside the cycle and is always
// reached directly.
func (s State) IsExceptional() bool {
	return s == StateJammed || s == StateUnknown || s == StateUnavailable
}

// Kind is the direction of a user-initiated action.
type Kind string

const (
	KindLock   Kind = "lock"
	KindUnlock Kind = "unlock"
)

// Requested returns the optimistic state shown while an action of kind k
// awaits confirmation.
func (k Kind) Requested() State {
	if k == KindUnlock {
		return StateUnlockRequested
	}
	return StateLockRequested
}

// Origin returns the stable state an action of kind k departs from.
func (k Kind) Origin() State {
	if k == KindUnlock {
		return StateLocked
	}
	return StateUnlocked
}

// Target returns the stable state an action of kind k arrives at.
func (k Kind) Target() State {
	if k == KindUnlock {
		return StateUnlocked
	}
	return StateLocked
}

// Phase is the animation phase reported alongside a visual state.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseTransitioning Phase = "transitioning"
	PhaseComplete      Phase = "complete"
)
