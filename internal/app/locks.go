package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lockd/internal/actions"
	"github.com/dokzlo13/lockd/internal/clock"
	"github.com/dokzlo13/lockd/internal/config"
	"github.com/dokzlo13/lockd/internal/eventbus"
	"github.com/dokzlo13/lockd/internal/gate"
	"github.com/dokzlo13/lockd/internal/lock"
	"github.com/dokzlo13/lockd/internal/loop"
	"github.com/dokzlo13/lockd/internal/machine"
	"github.com/dokzlo13/lockd/internal/render"
	"github.com/dokzlo13/lockd/internal/server"
	"github.com/dokzlo13/lockd/internal/state"
)

type entityRole int

const (
	roleLock entityRole = iota
	roleDoor
	roleBattery
)

// lockUnit is one machine and the loop it runs on.
type lockUnit struct {
	machine *machine.Machine
	loop    *loop.Loop
}

type entityRoute struct {
	unit *lockUnit
	role entityRole
}

// LockService owns the configured lock machines. Every call into a machine is
// marshalled onto that lock's loop.
type LockService struct {
	clock    clock.Clock
	units    map[string]*lockUnit
	order    []string
	entities map[string][]entityRoute
	onResult func(lockID string, d gate.Decision)

	ctx     context.Context
	started bool
}

// NewLockService creates one machine per configured lock.
func NewLockService(cfg *config.Config, clk clock.Clock, listener machine.Listener, sink machine.ActionSink) (*LockService, error) {
	s := &LockService{
		clock:    clk,
		units:    make(map[string]*lockUnit, len(cfg.Locks)),
		entities: make(map[string][]entityRoute),
		ctx:      context.Background(),
	}

	for _, lc := range cfg.Locks {
		l := loop.New("lock:" + lc.ID)
		m, err := machine.New(machineConfig(lc, cfg.Battery), machine.Options{
			Clock:    clk,
			Dispatch: l.Post,
			Listener: listener,
			Actions:  sink,
		})
		if err != nil {
			return nil, fmt.Errorf("lock %q: %w", lc.ID, err)
		}

		u := &lockUnit{machine: m, loop: l}
		s.units[lc.ID] = u
		s.order = append(s.order, lc.ID)

		s.route(lc.Entity, u, roleLock)
		if lc.DoorEntity != "" {
			s.route(lc.DoorEntity, u, roleDoor)
		}
		if lc.BatteryEntity != "" {
			s.route(lc.BatteryEntity, u, roleBattery)
		}
	}
	return s, nil
}

func (s *LockService) route(entity string, u *lockUnit, role entityRole) {
	s.entities[entity] = append(s.entities[entity], entityRoute{unit: u, role: role})
}

// Restore seeds each machine's last stable state from persisted records.
// Must be called before Start.
func (s *LockService) Restore(records map[string]state.LockRecord) {
	for id, rec := range records {
		u, ok := s.units[id]
		if !ok || rec.Entity != u.machine.Config().Entity {
			continue
		}
		u.machine.Restore(lock.Normalize(rec.LastStable))
		log.Debug().Str("lock", id).Str("last_stable", rec.LastStable).Msg("Restored lock state")
	}
}

// OnInteraction registers a callback for every gate decision. fn runs on the
// caller of Interact.
func (s *LockService) OnInteraction(fn func(lockID string, d gate.Decision)) {
	s.onResult = fn
}

// Start runs every lock loop until ctx is cancelled.
func (s *LockService) Start(ctx context.Context) {
	s.ctx = ctx
	s.started = true
	for _, id := range s.order {
		go s.units[id].loop.Run(ctx)
	}
	log.Info().Int("locks", len(s.order)).Msg("Lock machines started")
}

// Subscribe routes backend state changes from bus to the machines.
func (s *LockService) Subscribe(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.EventTypeStateChanged, s.handleStateChanged)
}

func (s *LockService) handleStateChanged(e eventbus.Event) {
	routes := s.entities[e.EntityID()]
	if len(routes) == 0 {
		return
	}

	raw, _ := e.Data["state"].(string)
	attrs, _ := e.Data["attributes"].(map[string]any)
	snap := machine.Snapshot{State: raw, Attributes: attrs}

	for _, r := range routes {
		m, role := r.unit.machine, r.role
		r.unit.loop.Do(s.ctx, func(context.Context) {
			switch role {
			case roleLock:
				m.OnBackendUpdate(snap)
			case roleDoor:
				m.OnDoorUpdate(snap.State)
			case roleBattery:
				m.OnBatteryUpdate(snap)
			}
		})
	}
}

// Interact delivers a tap or hold gesture to a lock.
func (s *LockService) Interact(ctx context.Context, id string, hold bool) (gate.Decision, error) {
	u, err := s.unit(id)
	if err != nil {
		return gate.Decision{}, err
	}

	var d gate.Decision
	err = u.loop.DoSyncWithResult(ctx, func(context.Context) error {
		now := s.clock.Now()
		if hold {
			d = u.machine.OnHold(now)
		} else {
			d = u.machine.OnTap(now)
		}
		return nil
	})
	if err != nil {
		return gate.Decision{}, err
	}

	if s.onResult != nil {
		s.onResult(id, d)
	}
	return d, nil
}

// Status returns the current view of one lock.
func (s *LockService) Status(ctx context.Context, id string) (machine.Status, error) {
	u, err := s.unit(id)
	if err != nil {
		return machine.Status{}, err
	}

	var st machine.Status
	err = u.loop.DoSyncWithResult(ctx, func(context.Context) error {
		st = u.machine.Status()
		return nil
	})
	return st, err
}

// List returns the status of every lock in configuration order.
func (s *LockService) List(ctx context.Context) ([]machine.Status, error) {
	out := make([]machine.Status, 0, len(s.order))
	for _, id := range s.order {
		st, err := s.Status(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// Snapshot returns the messages a newly connected render client receives.
func (s *LockService) Snapshot() []render.Message {
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer cancel()

	statuses, err := s.List(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to build render snapshot")
		return nil
	}

	msgs := make([]render.Message, 0, len(statuses))
	for _, st := range statuses {
		msgs = append(msgs, render.Message{Type: render.TypeSnapshot, LockID: st.ID, Data: st})
	}
	return msgs
}

// HandleCommand runs a gesture received from a render client.
func (s *LockService) HandleCommand(cmd render.Command) {
	var hold bool
	switch cmd.Type {
	case "tap":
	case "hold":
		hold = true
	default:
		log.Debug().Str("type", cmd.Type).Msg("Ignoring unknown render command")
		return
	}

	if _, err := s.Interact(s.ctx, cmd.LockID, hold); err != nil {
		log.Warn().Err(err).Str("lock", cmd.LockID).Msg("Render command failed")
	}
}

// Close stops the loops, then cancels every machine's timers. Timers that
// fire afterwards find their loop closed and are dropped.
func (s *LockService) Close() {
	for _, id := range s.order {
		u := s.units[id]
		u.loop.Close()
		if s.started {
			<-u.loop.Done()
		}
		u.machine.Close()
	}
}

func (s *LockService) unit(id string) (*lockUnit, error) {
	u, ok := s.units[id]
	if !ok {
		return nil, fmt.Errorf("lock %q: %w", id, server.ErrUnknownLock)
	}
	return u, nil
}

// machineConfig converts a configured lock into machine settings.
func machineConfig(lc config.LockConfig, battery config.BatteryConfig) machine.Config {
	return machine.Config{
		ID:     lc.ID,
		Name:   lc.Name,
		Entity: lc.Entity,
		Bindings: actions.Bindings{
			Tap:         configuredAction(lc.TapAction),
			LockedTap:   configuredAction(lc.LockedTapAction),
			UnlockedTap: configuredAction(lc.UnlockedTapAction),
			Hold:        configuredAction(lc.HoldAction),
		},
		AnimationDuration: lc.AnimationDuration.Duration(),
		RotationDuration:  lc.RotationDuration.Duration(),
		SlideDuration:     lc.SlideDuration.Duration(),
		UnlockDirection:   lc.UnlockDirection,
		RequestedTimeout:  lc.RequestedTimeout.Duration(),
		Debounce:          lc.Debounce.Duration(),
		DoorEntity:        lc.DoorEntity,
		BatteryEntity:     lc.BatteryEntity,
		BatteryThreshold:  lc.BatteryThreshold,
		BatteryColors:     gate.IndicatorColors{Low: battery.LowColor, OK: battery.OKColor},
	}
}

func configuredAction(a *config.ActionConfig) actions.Action {
	if !a.IsSet() {
		return actions.Action{}
	}
	return actions.Action{
		Kind:    actions.ParseKind(a.Action),
		Service: a.Service,
		Data:    a.Data,
		Script:  a.Script,
	}
}
