package actions

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lockd/internal/ledger"
)

// Recorder is the ledger surface used for dedupe and auditing
type Recorder interface {
	HasCompleted(idempotencyKey string) bool
	AppendWithSource(eventType ledger.EventType, idempotencyKey, source, lockID string, payload map[string]any) error
}

// Invoker executes resolved actions with ledger deduplication
type Invoker struct {
	registry *Registry
	ledger   Recorder
}

// NewInvoker creates a new action invoker. l may be nil to disable the ledger.
func NewInvoker(registry *Registry, l Recorder) *Invoker {
	return &Invoker{
		registry: registry,
		ledger:   l,
	}
}

// HasExecutor checks if an executor is registered for kind
func (i *Invoker) HasExecutor(kind Kind) bool {
	_, exists := i.registry.Get(kind)
	return exists
}

// Invoke runs the request's action. A request whose idempotency key already
// completed is skipped.
func (i *Invoker) Invoke(ctx context.Context, req Request) error {
	if req.Action.IsNone() {
		return nil
	}

	key := req.IdempotencyKey
	if key != "" && i.ledger != nil && i.ledger.HasCompleted(key) {
		log.Debug().
			Str("lock", req.LockID).
			Str("action", string(req.Action.Kind)).
			Str("idempotency_key", key).
			Msg("Action already completed, skipping")
		return nil
	}

	exec, exists := i.registry.Get(req.Action.Kind)
	if !exists {
		return fmt.Errorf("no executor for action %q", req.Action.Kind)
	}

	i.append(ledger.EventActionStarted, req, map[string]any{
		"action":  string(req.Action.Kind),
		"entity":  req.Entity,
		"service": req.Action.Service,
	})

	log.Debug().
		Str("lock", req.LockID).
		Str("action", string(req.Action.Kind)).
		Str("trigger", req.Trigger).
		Msg("Executing action")

	if err := exec.Execute(ctx, req); err != nil {
		i.append(ledger.EventActionFailed, req, map[string]any{
			"action": string(req.Action.Kind),
			"error":  err.Error(),
		})
		return err
	}

	i.append(ledger.EventActionCompleted, req, map[string]any{
		"action": string(req.Action.Kind),
	})
	return nil
}

func (i *Invoker) append(eventType ledger.EventType, req Request, payload map[string]any) {
	if i.ledger == nil {
		return
	}
	if err := i.ledger.AppendWithSource(eventType, req.IdempotencyKey, req.Trigger, req.LockID, payload); err != nil {
		log.Error().Err(err).
			Str("lock", req.LockID).
			Str("event", string(eventType)).
			Msg("Failed to append ledger entry")
	}
}
