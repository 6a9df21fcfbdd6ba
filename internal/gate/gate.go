// Package gate decides whether user interaction with a lock is honored and
// derives auxiliary door and battery signals.
package gate

import (
	"strings"
	"time"

	"github.com/dokzlo13/lockd/internal/actions"
	"github.com/dokzlo13/lockd/internal/lock"
)

// DefaultDebounce is the minimum spacing between two honored taps.
const DefaultDebounce = 300 * time.Millisecond

// Reason explains why an interaction was rejected.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonDoor          Reason = "blocked-by-door"
	ReasonDebounce      Reason = "blocked-by-debounce"
	ReasonUnstableState Reason = "blocked-by-unstable-state"
	ReasonNoOpAction    Reason = "blocked-by-no-op-action"
)

// DoorInfo is derived from the door sensor on every update.
type DoorInfo struct {
	IsClosed bool
}

// DeriveDoor maps a door sensor reading. Without a configured sensor the door
// counts as closed; with one, only "off" and "closed" count as closed.
func DeriveDoor(configured bool, raw string) DoorInfo {
	if !configured {
		return DoorInfo{IsClosed: true}
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "off", "closed":
		return DoorInfo{IsClosed: true}
	}
	return DoorInfo{IsClosed: false}
}

// Config holds the per-lock gating configuration.
type Config struct {
	Debounce time.Duration
	Bindings actions.Bindings
	// Hold selects the hold action instead of the tap action.
	Hold bool
}

// Decision is the outcome of Evaluate.
type Decision struct {
	Allowed bool
	Reason  Reason
	Action  actions.Action
}

// Gate tracks the last honored interaction for debouncing. Not safe for
// concurrent use.
type Gate struct {
	lastTap time.Time
}

// New creates a gate with no tap history.
func New() *Gate {
	return &Gate{}
}

// Evaluate applies the interaction rules in order: debounce, door, stable
// endpoint, configured action. A hold bound to an action that does not move
// the bolt skips the door and stable endpoint rules.
func (g *Gate) Evaluate(tap time.Time, door DoorInfo, visual lock.State, cfg Config) Decision {
	window := cfg.Debounce
	if window <= 0 {
		window = DefaultDebounce
	}
	if !g.lastTap.IsZero() && tap.Sub(g.lastTap) < window {
		return Decision{Reason: ReasonDebounce}
	}
	g.lastTap = tap

	if cfg.Hold && !cfg.Bindings.Hold.MovesBolt() {
		hold := cfg.Bindings.ForHold(visual)
		if hold.IsNone() {
			return Decision{Reason: ReasonNoOpAction, Action: hold}
		}
		return Decision{Allowed: true, Action: hold}
	}

	if !door.IsClosed {
		return Decision{Reason: ReasonDoor}
	}

	if !visual.IsStable() {
		return Decision{Reason: ReasonUnstableState}
	}

	action := cfg.Bindings.ForTap(visual)
	if cfg.Hold {
		action = cfg.Bindings.ForHold(visual)
	}
	if action.IsNone() {
		return Decision{Reason: ReasonNoOpAction, Action: action}
	}

	return Decision{Allowed: true, Action: action}
}

// LastTap returns the time of the last evaluated, non-debounced interaction.
func (g *Gate) LastTap() time.Time {
	return g.lastTap
}
