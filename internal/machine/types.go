package machine

import (
	"errors"
	"time"

	"github.com/dokzlo13/lockd/internal/actions"
	"github.com/dokzlo13/lockd/internal/gate"
	"github.com/dokzlo13/lockd/internal/lock"
)

// ErrMissingEntity is returned when a lock has no backend entity id.
var ErrMissingEntity = errors.New("lock entity id is required")

// Default presentation timings.
const (
	DefaultAnimationDuration = 400 * time.Millisecond
	DefaultRotationDuration  = 800 * time.Millisecond
	DefaultSlideDuration     = 300 * time.Millisecond
)

// Unlock rotation directions.
const (
	Clockwise        = "clockwise"
	CounterClockwise = "counterclockwise"
)

// Easing names the timing curve a renderer should use for a run.
type Easing string

const (
	EasingStandard Easing = "standard"
	// EasingDirect marks the fast path for a backend-only locked/unlocked flip.
	EasingDirect Easing = "direct"
)

// Config is the per-lock engine configuration.
type Config struct {
	ID     string
	Name   string
	Entity string

	Bindings actions.Bindings

	AnimationDuration time.Duration
	RotationDuration  time.Duration
	SlideDuration     time.Duration
	UnlockDirection   string

	RequestedTimeout time.Duration
	Debounce         time.Duration

	DoorEntity       string
	BatteryEntity    string
	BatteryThreshold float64
	BatteryColors    gate.IndicatorColors
}

// Snapshot is one backend entity state report.
type Snapshot struct {
	State      string
	Attributes map[string]any
}

// VisualState is the displayed state emitted to renderers.
type VisualState struct {
	InstanceID string     `json:"instance_id"`
	LockID     string     `json:"lock_id"`
	Entity     string     `json:"entity"`
	State      lock.State `json:"state"`
	Phase      lock.Phase `json:"phase"`
	// StepDuration is the time until the next step of the current run.
	StepDuration time.Duration `json:"step_duration"`
	Easing       Easing        `json:"easing"`
	Direction    string        `json:"direction"`
	LastStable   lock.State    `json:"last_stable,omitempty"`
	Pending      bool          `json:"pending"`
	At           time.Time     `json:"at"`
}

// Blocked reports a rejected interaction that renderers should show.
type Blocked struct {
	LockID string      `json:"lock_id"`
	Reason gate.Reason `json:"reason"`
	At     time.Time   `json:"at"`
}

// Battery carries the derived battery indicator for a lock.
type Battery struct {
	LockID    string         `json:"lock_id"`
	Indicator gate.Indicator `json:"indicator"`
}

// Listener receives the engine's output stream. Calls happen on the
// machine's goroutine and must not block.
type Listener interface {
	VisualStateChanged(v VisualState)
	InteractionBlocked(b Blocked)
	BatteryIndicator(b Battery)
}

// RollbackListener is optionally implemented by a Listener to observe
// timeout rollbacks.
type RollbackListener interface {
	RolledBack(lockID string, requested, fallback lock.State)
}

// ActionSink accepts allowed actions. Submit must not block; the outcome of a
// service call arrives later as a backend update.
type ActionSink interface {
	Submit(req actions.Request)
}

// Status is a point-in-time view of a machine.
type Status struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Visual     VisualState     `json:"visual"`
	Backend    lock.State      `json:"backend"`
	Raw        string          `json:"raw"`
	LastStable lock.State      `json:"last_stable,omitempty"`
	Pending    string          `json:"pending,omitempty"`
	DoorClosed bool            `json:"door_closed"`
	Battery    *gate.Indicator `json:"battery,omitempty"`
}

type nopListener struct{}

func (nopListener) VisualStateChanged(VisualState) {}
func (nopListener) InteractionBlocked(Blocked)     {}
func (nopListener) BatteryIndicator(Battery)       {}

type nopSink struct{}

func (nopSink) Submit(actions.Request) {}
