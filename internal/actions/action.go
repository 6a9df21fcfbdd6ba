// Package actions provides tap/hold action resolution and the executor registry.
package actions

import (
	"strings"

	"github.com/dokzlo13/lockd/internal/lock"
)

// Kind names what an action does when invoked.
type Kind string

const (
	KindToggle      Kind = "toggle"
	KindLock        Kind = "lock"
	KindUnlock      Kind = "unlock"
	KindCallService Kind = "call-service"
	KindScript      Kind = "script"
	KindMoreInfo    Kind = "more-info"
	KindNone        Kind = "none"
)

// ParseKind maps a configured action name to a Kind. Unknown names map to KindNone.
func ParseKind(raw string) Kind {
	switch k := Kind(strings.ToLower(strings.TrimSpace(raw))); k {
	case KindToggle, KindLock, KindUnlock, KindCallService, KindScript, KindMoreInfo, KindNone:
		return k
	case "perform-action", "call_service":
		return KindCallService
	}
	return KindNone
}

// Action is a configured tap or hold action.
type Action struct {
	Kind Kind
	// Service is "domain.service" for call-service actions.
	Service string
	Data    map[string]any
	// Script is Lua source for script actions.
	Script string
}

// IsNone reports whether the action does nothing.
func (a Action) IsNone() bool {
	return a.Kind == KindNone || a.Kind == ""
}

// LockKind returns the pending-action kind for lock and unlock actions.
func (a Action) LockKind() (lock.Kind, bool) {
	switch a.Kind {
	case KindLock:
		return lock.KindLock, true
	case KindUnlock:
		return lock.KindUnlock, true
	}
	return "", false
}

// MovesBolt reports whether the action locks or unlocks, directly or by toggling.
func (a Action) MovesBolt() bool {
	switch a.Kind {
	case KindToggle, KindLock, KindUnlock:
		return true
	}
	return false
}

// SplitService splits "domain.service" into its parts.
func (a Action) SplitService() (domain, service string, ok bool) {
	domain, service, ok = strings.Cut(a.Service, ".")
	if !ok || domain == "" || service == "" {
		return "", "", false
	}
	return domain, service, true
}

// Resolve turns toggle into lock or unlock for the given endpoint state.
// Toggle outside the two endpoints resolves to none.
func Resolve(a Action, visual lock.State) Action {
	if a.Kind != KindToggle {
		return a
	}
	switch visual {
	case lock.StateLocked:
		return Action{Kind: KindUnlock}
	case lock.StateUnlocked:
		return Action{Kind: KindLock}
	}
	return Action{Kind: KindNone}
}

// Bindings holds the per-lock tap and hold actions. A zero Kind means unset.
type Bindings struct {
	Tap         Action
	LockedTap   Action
	UnlockedTap Action
	Hold        Action
}

// DefaultBindings returns toggle on tap and more-info on hold.
func DefaultBindings() Bindings {
	return Bindings{
		Tap:  Action{Kind: KindToggle},
		Hold: Action{Kind: KindMoreInfo},
	}
}

// ForTap returns the resolved tap action for the visual state. The
// per-endpoint action wins over the generic tap action.
func (b Bindings) ForTap(visual lock.State) Action {
	a := b.Tap
	switch {
	case visual == lock.StateLocked && b.LockedTap.Kind != "":
		a = b.LockedTap
	case visual == lock.StateUnlocked && b.UnlockedTap.Kind != "":
		a = b.UnlockedTap
	}
	if a.Kind == "" {
		a = Action{Kind: KindToggle}
	}
	return Resolve(a, visual)
}

// ForHold returns the resolved hold action for the visual state.
func (b Bindings) ForHold(visual lock.State) Action {
	a := b.Hold
	if a.Kind == "" {
		a = Action{Kind: KindMoreInfo}
	}
	return Resolve(a, visual)
}
