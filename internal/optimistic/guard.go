package optimistic

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lockd/internal/clock"
	"github.com/dokzlo13/lockd/internal/lock"
)

// Timeout bounds for requested-state rollback.
const (
	MinTimeout     = 1 * time.Second
	MaxTimeout     = 30 * time.Second
	DefaultTimeout = 10 * time.Second
)

// ClampTimeout applies the default to zero and clamps to [MinTimeout, MaxTimeout].
func ClampTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	if d < MinTimeout {
		return MinTimeout
	}
	if d > MaxTimeout {
		return MaxTimeout
	}
	return d
}

// Fallback picks the rollback target for a requested state: the last stable
// state if known, else the origin of the requested action.
func Fallback(requested, lastStable lock.State) lock.State {
	if lastStable.IsStable() {
		return lastStable
	}
	if requested == lock.StateUnlockRequested {
		return lock.StateLocked
	}
	return lock.StateUnlocked
}

// Dispatcher marshals a timer callback onto the owner's goroutine.
type Dispatcher func(fn func())

// Expiry describes a deadline that ran out.
type Expiry struct {
	Requested lock.State
	Fallback  lock.State
	// Snap is false when the visual state already moved away from Requested.
	// The pending action is stale either way.
	Snap bool
}

// Guard holds a single rollback deadline. Arming again supersedes the
// previous deadline. Not safe for concurrent use.
type Guard struct {
	clock    clock.Clock
	dispatch Dispatcher
	current  func() lock.State

	generation uint64
	timer      clock.Timer
	armed      bool
}

// Handle identifies one armed deadline.
type Handle struct {
	guard      *Guard
	generation uint64
}

// Disarm cancels the deadline if it is still the guard's current one.
func (h Handle) Disarm() {
	if h.Active() {
		h.guard.Disarm()
	}
}

// Active reports whether the deadline is still outstanding.
func (h Handle) Active() bool {
	return h.guard != nil && h.guard.armed && h.guard.generation == h.generation
}

// NewGuard creates a guard. current reports the owner's visual state at expiry.
func NewGuard(c clock.Clock, dispatch Dispatcher, current func() lock.State) *Guard {
	if dispatch == nil {
		dispatch = func(fn func()) { fn() }
	}
	return &Guard{
		clock:    c,
		dispatch: dispatch,
		current:  current,
	}
}

// Arm starts a deadline. If it is not disarmed in time, onExpire is called
// once; Expiry.Snap reports whether the visual state is still exactly requested.
func (g *Guard) Arm(requested, fallback lock.State, timeout time.Duration, onExpire func(Expiry)) Handle {
	g.Disarm()

	g.generation++
	gen := g.generation
	g.armed = true

	g.timer = g.clock.AfterFunc(timeout, func() {
		g.dispatch(func() {
			if g.generation != gen {
				return
			}
			g.armed = false
			g.timer = nil

			e := Expiry{Requested: requested, Fallback: fallback, Snap: true}
			if visual := g.current(); visual != requested {
				log.Debug().
					Str("requested", string(requested)).
					Str("visual", string(visual)).
					Msg("Timeout guard expired after state moved on")
				e.Snap = false
			}
			onExpire(e)
		})
	})
	return Handle{guard: g, generation: gen}
}

// Disarm cancels the outstanding deadline, if any.
func (g *Guard) Disarm() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.armed = false
	g.generation++
}

// Armed reports whether a deadline is outstanding.
func (g *Guard) Armed() bool {
	return g.armed
}
