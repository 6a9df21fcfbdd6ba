// Package machine composes the lock engine: it reconciles backend updates with
// optimistic user actions and drives the visual-state timeline.
package machine

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lockd/internal/actions"
	"github.com/dokzlo13/lockd/internal/animation"
	"github.com/dokzlo13/lockd/internal/clock"
	"github.com/dokzlo13/lockd/internal/gate"
	"github.com/dokzlo13/lockd/internal/lock"
	"github.com/dokzlo13/lockd/internal/optimistic"
)

// Options wires a machine to its environment.
type Options struct {
	Clock clock.Clock
	// Dispatch marshals timer callbacks onto the machine's goroutine.
	// Nil runs them on the timer goroutine, which is only safe with a fake clock.
	Dispatch func(fn func())
	Listener Listener
	Actions  ActionSink
}

// Machine is the per-lock state machine. It is not safe for concurrent use:
// every method and every timer callback must run on one goroutine.
type Machine struct {
	cfg        Config
	instanceID string

	clock     clock.Clock
	listener  Listener
	sink      ActionSink
	scheduler *animation.Scheduler
	tracker   *optimistic.Tracker
	guard     *optimistic.Guard
	gate      *gate.Gate
	timeout   time.Duration

	observed   bool
	raw        string
	backend    lock.State
	lastStable lock.State
	visual     VisualState
	doorRaw    string
	battery    *gate.Indicator
}

// New creates a machine. The visual state starts as unknown.
func New(cfg Config, opts Options) (*Machine, error) {
	if strings.TrimSpace(cfg.Entity) == "" {
		return nil, ErrMissingEntity
	}
	cfg = withDefaults(cfg)

	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Listener == nil {
		opts.Listener = nopListener{}
	}
	if opts.Actions == nil {
		opts.Actions = nopSink{}
	}

	m := &Machine{
		cfg:        cfg,
		instanceID: uuid.NewString(),
		clock:      opts.Clock,
		listener:   opts.Listener,
		sink:       opts.Actions,
		tracker:    optimistic.NewTracker(),
		gate:       gate.New(),
		timeout:    optimistic.ClampTimeout(cfg.RequestedTimeout),
		backend:    lock.StateUnknown,
	}
	m.scheduler = animation.New(opts.Clock, opts.Dispatch)
	m.guard = optimistic.NewGuard(opts.Clock, opts.Dispatch, func() lock.State { return m.visual.State })
	m.visual = m.newVisual(lock.StateUnknown, lock.PhaseIdle, 0, EasingStandard)

	return m, nil
}

func withDefaults(cfg Config) Config {
	if cfg.ID == "" {
		cfg.ID = cfg.Entity
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}
	if cfg.AnimationDuration <= 0 {
		cfg.AnimationDuration = DefaultAnimationDuration
	}
	if cfg.RotationDuration <= 0 {
		cfg.RotationDuration = DefaultRotationDuration
	}
	if cfg.SlideDuration <= 0 {
		cfg.SlideDuration = DefaultSlideDuration
	}
	if cfg.UnlockDirection != CounterClockwise {
		cfg.UnlockDirection = Clockwise
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = gate.DefaultDebounce
	}
	if cfg.BatteryThreshold <= 0 {
		cfg.BatteryThreshold = gate.DefaultBatteryThreshold
	}
	if cfg.Bindings.Tap.Kind == "" {
		cfg.Bindings.Tap = actions.Action{Kind: actions.KindToggle}
	}
	if cfg.Bindings.Hold.Kind == "" {
		cfg.Bindings.Hold = actions.Action{Kind: actions.KindMoreInfo}
	}
	return cfg
}

// ID returns the lock id.
func (m *Machine) ID() string { return m.cfg.ID }

// InstanceID returns the id assigned to this machine at construction.
func (m *Machine) InstanceID() string { return m.instanceID }

// Config returns the effective configuration.
func (m *Machine) Config() Config { return m.cfg }

// Visual returns the current visual state.
func (m *Machine) Visual() VisualState { return m.visual }

// Restore seeds the last stable state from persistence. It only has an
// effect before the first backend observation.
func (m *Machine) Restore(lastStable lock.State) {
	if m.observed || !lastStable.IsStable() {
		return
	}
	m.lastStable = lastStable
	m.visual.LastStable = lastStable
}

// OnBackendUpdate consumes a backend state report.
func (m *Machine) OnBackendUpdate(s Snapshot) {
	next := lock.Normalize(s.State)
	m.raw = s.State

	if !m.observed {
		m.observed = true
		m.backend = next
		if next.IsStable() {
			m.lastStable = next
		}
		m.scheduler.Cancel()
		m.setVisual(next, lock.PhaseIdle, 0, EasingStandard)
		log.Info().
			Str("lock", m.cfg.ID).
			Str("state", string(next)).
			Msg("Initial backend state")
		return
	}

	if next == m.backend {
		return
	}

	prev := m.backend
	m.backend = next
	if next.IsStable() {
		m.lastStable = next
	}

	hadPending := m.tracker.HasPending()
	res := m.tracker.Reconcile(next)
	switch {
	case res.IsStaleEcho:
		log.Debug().
			Str("lock", m.cfg.ID).
			Str("state", string(next)).
			Msg("Ignoring stale echo of pre-action state")
		return
	case res.Cleared:
		m.guard.Disarm()
	case hadPending && next.IsExceptional():
		m.tracker.Clear()
		m.guard.Disarm()
	}

	log.Debug().
		Str("lock", m.cfg.ID).
		Str("from", string(prev)).
		Str("to", string(next)).
		Str("visual", string(m.visual.State)).
		Bool("pending", hadPending).
		Msg("Backend state changed")

	path := lock.Plan(m.visual.State, next, lock.PlanOptions{AllowRequestedStage: hadPending})
	if len(path) == 0 {
		m.scheduler.Cancel()
		if m.visual.Phase != lock.PhaseIdle {
			m.setVisual(next, lock.PhaseIdle, 0, EasingStandard)
		}
		return
	}

	total, easing := m.cfg.AnimationDuration, EasingStandard
	if !hadPending && prev.IsStable() && next.IsStable() && m.visual.State == prev {
		total, easing = m.cfg.RotationDuration/4, EasingDirect
	}
	m.play(path, total, easing)
}

// OnTap handles a user tap.
func (m *Machine) OnTap(at time.Time) gate.Decision {
	return m.interact(at, false)
}

// OnHold handles a user long-press.
func (m *Machine) OnHold(at time.Time) gate.Decision {
	return m.interact(at, true)
}

func (m *Machine) interact(at time.Time, hold bool) gate.Decision {
	trigger := "tap"
	if hold {
		trigger = "hold"
	}

	d := m.gate.Evaluate(at, m.door(), m.visual.State, gate.Config{
		Debounce: m.cfg.Debounce,
		Bindings: m.cfg.Bindings,
		Hold:     hold,
	})
	if !d.Allowed {
		log.Info().
			Str("lock", m.cfg.ID).
			Str("trigger", trigger).
			Str("reason", string(d.Reason)).
			Str("visual", string(m.visual.State)).
			Msg("Interaction blocked")
		if d.Reason == gate.ReasonDoor {
			m.listener.InteractionBlocked(Blocked{LockID: m.cfg.ID, Reason: d.Reason, At: at})
		}
		return d
	}

	if kind, ok := d.Action.LockKind(); ok {
		m.tracker.Clear()
		requested := m.tracker.Begin(kind, at)
		m.scheduler.Cancel()
		m.setVisual(requested, lock.PhaseTransitioning, 0, EasingStandard)

		fallback := optimistic.Fallback(requested, m.lastStable)
		m.guard.Arm(requested, fallback, m.timeout, m.expire)
	}

	log.Info().
		Str("lock", m.cfg.ID).
		Str("trigger", trigger).
		Str("action", string(d.Action.Kind)).
		Msg("Interaction allowed")

	m.sink.Submit(actions.Request{
		LockID:         m.cfg.ID,
		Entity:         m.cfg.Entity,
		Action:         d.Action,
		Trigger:        trigger,
		At:             at,
		IdempotencyKey: uuid.NewString(),
	})
	return d
}

// expire releases a request the backend never confirmed. The visual state
// snaps to the fallback only if it still shows the requested stage; otherwise
// it follows the last backend report.
func (m *Machine) expire(e optimistic.Expiry) {
	m.tracker.Clear()
	if e.Snap {
		m.rollback(e.Fallback)
		return
	}

	log.Info().
		Str("lock", m.cfg.ID).
		Str("requested", string(e.Requested)).
		Str("visual", string(m.visual.State)).
		Str("backend", string(m.backend)).
		Msg("Backend did not confirm request in time, dropped pending action")
	m.resync()
}

// rollback snaps back after an unconfirmed request timed out.
func (m *Machine) rollback(fallback lock.State) {
	requested := m.visual.State
	m.scheduler.Cancel()
	m.setVisual(fallback, lock.PhaseIdle, 0, EasingStandard)

	log.Warn().
		Str("lock", m.cfg.ID).
		Str("requested", string(requested)).
		Str("fallback", string(fallback)).
		Msg("Backend did not confirm request in time, rolled back")

	if rl, ok := m.listener.(RollbackListener); ok {
		rl.RolledBack(m.cfg.ID, requested, fallback)
	}
}

// resync animates from the visual state to the last backend report, which
// may have been held back as a stale echo.
func (m *Machine) resync() {
	if !m.observed || m.visual.State == m.backend {
		return
	}
	path := lock.Plan(m.visual.State, m.backend, lock.PlanOptions{})
	if len(path) == 0 {
		return
	}
	m.scheduler.Cancel()
	m.play(path, m.cfg.AnimationDuration, EasingStandard)
}

// OnDoorUpdate records a door sensor reading.
func (m *Machine) OnDoorUpdate(raw string) {
	m.doorRaw = raw
}

// OnBatteryUpdate derives and emits the battery indicator.
func (m *Machine) OnBatteryUpdate(s Snapshot) {
	level, ok := gate.BatteryLevel(s.State, s.Attributes)
	w := gate.DeriveBatteryWarning(level, ok, m.cfg.BatteryThreshold)
	ind := gate.NewIndicator(w, m.cfg.BatteryColors)

	if m.battery != nil && *m.battery == ind {
		return
	}
	m.battery = &ind
	m.listener.BatteryIndicator(Battery{LockID: m.cfg.ID, Indicator: ind})
}

// Status returns a point-in-time view.
func (m *Machine) Status() Status {
	st := Status{
		ID:         m.cfg.ID,
		Name:       m.cfg.Name,
		Visual:     m.visual,
		Backend:    m.backend,
		Raw:        m.raw,
		LastStable: m.lastStable,
		DoorClosed: m.door().IsClosed,
	}
	if p, ok := m.tracker.Pending(); ok {
		st.Pending = string(p.Kind)
	}
	if m.battery != nil {
		ind := *m.battery
		st.Battery = &ind
	}
	return st
}

// Close cancels all outstanding timers.
func (m *Machine) Close() {
	m.scheduler.Cancel()
	m.guard.Disarm()
}

func (m *Machine) door() gate.DoorInfo {
	return gate.DeriveDoor(m.cfg.DoorEntity != "", m.doorRaw)
}

func (m *Machine) play(path lock.Path, total time.Duration, easing Easing) {
	step := total / time.Duration(len(path))
	m.scheduler.Play(path, total, func(s lock.State, p lock.Phase) {
		m.setVisual(s, p, step, easing)
	}, nil)
}

func (m *Machine) setVisual(s lock.State, p lock.Phase, step time.Duration, easing Easing) {
	m.visual = m.newVisual(s, p, step, easing)
	m.listener.VisualStateChanged(m.visual)
}

func (m *Machine) newVisual(s lock.State, p lock.Phase, step time.Duration, easing Easing) VisualState {
	return VisualState{
		InstanceID:   m.instanceID,
		LockID:       m.cfg.ID,
		Entity:       m.cfg.Entity,
		State:        s,
		Phase:        p,
		StepDuration: step,
		Easing:       easing,
		Direction:    m.direction(s),
		LastStable:   m.lastStable,
		Pending:      m.tracker.HasPending(),
		At:           m.clock.Now(),
	}
}

// direction is the rotation direction for a run heading to s.
func (m *Machine) direction(s lock.State) string {
	switch s {
	case lock.StateUnlockRequested, lock.StateUnlocking, lock.StateUnlocked:
		return m.cfg.UnlockDirection
	}
	if m.cfg.UnlockDirection == Clockwise {
		return CounterClockwise
	}
	return Clockwise
}
