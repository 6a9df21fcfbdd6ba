package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lockd/internal/gate"
	"github.com/dokzlo13/lockd/internal/ledger"
	"github.com/dokzlo13/lockd/internal/lock"
	"github.com/dokzlo13/lockd/internal/loop"
	"github.com/dokzlo13/lockd/internal/machine"
	"github.com/dokzlo13/lockd/internal/metrics"
	"github.com/dokzlo13/lockd/internal/publish"
	"github.com/dokzlo13/lockd/internal/render"
	"github.com/dokzlo13/lockd/internal/state"
)

const outboxTimeout = 5 * time.Second

// Outputs fans the machines' output stream out to renderers, metrics and the
// persistence outbox. Broadcasts and metrics happen inline; Redis, ledger and
// store writes run in order on the outbox loop so machines never block on I/O.
type Outputs struct {
	hub     *render.Hub
	metrics *metrics.Metrics
	outbox  *loop.Loop

	// Optional
	redis  *publish.Publisher
	ledger *ledger.Ledger
	store  *state.LockStore

	ctx     context.Context
	started bool
}

// NewOutputs creates the fan-out. redis, ledger and store may be nil.
func NewOutputs(hub *render.Hub, m *metrics.Metrics, redis *publish.Publisher, l *ledger.Ledger, store *state.LockStore) *Outputs {
	return &Outputs{
		hub:     hub,
		metrics: m,
		outbox:  loop.NewWithSize("outbox", 256),
		redis:   redis,
		ledger:  l,
		store:   store,
		ctx:     context.Background(),
	}
}

// Start runs the outbox until ctx is cancelled.
func (o *Outputs) Start(ctx context.Context) {
	o.ctx = ctx
	o.started = true
	go o.outbox.Run(ctx)
}

// Close stops the outbox after draining queued writes.
func (o *Outputs) Close() {
	o.outbox.Close()
	if o.started {
		<-o.outbox.Done()
	}
}

// VisualStateChanged implements machine.Listener.
func (o *Outputs) VisualStateChanged(v machine.VisualState) {
	o.hub.Broadcast(render.Message{Type: render.TypeVisual, LockID: v.LockID, Data: v})
	o.metrics.VisualTransitions.WithLabelValues(v.LockID, string(v.State)).Inc()

	o.enqueue(func(ctx context.Context) {
		if o.redis != nil {
			if err := o.redis.PublishVisual(ctx, v); err != nil {
				log.Warn().Err(err).Str("lock", v.LockID).Msg("Failed to publish visual state")
			}
		}
		if o.store != nil && v.Phase == lock.PhaseIdle {
			o.persist(v)
		}
	})
}

// InteractionBlocked implements machine.Listener.
func (o *Outputs) InteractionBlocked(b machine.Blocked) {
	o.hub.Broadcast(render.Message{Type: render.TypeBlocked, LockID: b.LockID, Data: b})

	o.record(ledger.EventTapBlocked, b.LockID, map[string]any{
		"reason": string(b.Reason),
		"at":     b.At.UTC().Format(time.RFC3339Nano),
	})
}

// BatteryIndicator implements machine.Listener.
func (o *Outputs) BatteryIndicator(b machine.Battery) {
	o.hub.Broadcast(render.Message{Type: render.TypeBattery, LockID: b.LockID, Data: b.Indicator})
	o.metrics.BatteryLevel.WithLabelValues(b.LockID).Set(b.Indicator.LevelPercent)

	if o.redis != nil {
		o.enqueue(func(ctx context.Context) {
			if err := o.redis.PublishBattery(ctx, b); err != nil {
				log.Warn().Err(err).Str("lock", b.LockID).Msg("Failed to publish battery indicator")
			}
		})
	}
}

// RolledBack implements machine.RollbackListener.
func (o *Outputs) RolledBack(lockID string, requested, fallback lock.State) {
	o.hub.Broadcast(render.Message{
		Type:   render.TypeRollback,
		LockID: lockID,
		Data:   map[string]string{"requested": string(requested), "fallback": string(fallback)},
	})
	o.metrics.Rollbacks.WithLabelValues(lockID).Inc()

	o.record(ledger.EventRollback, lockID, map[string]any{
		"requested": string(requested),
		"fallback":  string(fallback),
	})
}

// Interaction counts a gate decision.
func (o *Outputs) Interaction(lockID string, d gate.Decision) {
	outcome := "allowed"
	if !d.Allowed {
		outcome = string(d.Reason)
	}
	o.metrics.Interactions.WithLabelValues(lockID, outcome).Inc()
}

func (o *Outputs) record(eventType ledger.EventType, lockID string, payload map[string]any) {
	if o.ledger == nil {
		return
	}
	o.enqueue(func(context.Context) {
		if err := o.ledger.AppendWithSource(eventType, "", "engine", lockID, payload); err != nil {
			log.Warn().Err(err).Str("lock", lockID).Str("event", string(eventType)).Msg("Failed to append to ledger")
		}
	})
}

func (o *Outputs) persist(v machine.VisualState) {
	err := o.store.Update(v.LockID, func(rec state.LockRecord) state.LockRecord {
		rec.Entity = v.Entity
		rec.Visual = string(v.State)
		if v.LastStable.IsStable() {
			rec.LastStable = string(v.LastStable)
		}
		rec.UpdatedAt = v.At
		return rec
	})
	if err != nil {
		log.Warn().Err(err).Str("lock", v.LockID).Msg("Failed to persist lock state")
	}
}

func (o *Outputs) enqueue(fn func(ctx context.Context)) {
	o.outbox.Do(o.ctx, func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, outboxTimeout)
		defer cancel()
		fn(ctx)
	})
}
