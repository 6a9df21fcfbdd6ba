package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lockd/internal/actions"
	"github.com/dokzlo13/lockd/internal/metrics"
	"github.com/dokzlo13/lockd/internal/render"
)

// ErrInvalidService is returned for a call-service action without "domain.service".
var ErrInvalidService = errors.New("service must be domain.service")

// ServiceCaller issues backend service calls.
type ServiceCaller interface {
	CallService(ctx context.Context, domain, service string, data map[string]any) error
}

// registerExecutors wires every action kind that reaches the invoker.
// Toggle never does: the gate resolves it to lock or unlock.
func registerExecutors(reg *actions.Registry, backend ServiceCaller, script actions.Executor, hub *render.Hub) error {
	register := []struct {
		kind actions.Kind
		exec actions.Executor
	}{
		{actions.KindLock, lockService(backend, "lock")},
		{actions.KindUnlock, lockService(backend, "unlock")},
		{actions.KindCallService, callService(backend)},
		{actions.KindScript, script},
		{actions.KindMoreInfo, moreInfo(hub)},
	}

	for _, r := range register {
		if err := reg.Register(r.kind, r.exec); err != nil {
			return err
		}
	}
	return nil
}

func lockService(backend ServiceCaller, service string) actions.Executor {
	return actions.ExecutorFunc(func(ctx context.Context, req actions.Request) error {
		return backend.CallService(ctx, "lock", service, serviceData(req))
	})
}

func callService(backend ServiceCaller) actions.Executor {
	return actions.ExecutorFunc(func(ctx context.Context, req actions.Request) error {
		domain, service, ok := req.Action.SplitService()
		if !ok {
			return fmt.Errorf("%w: %q", ErrInvalidService, req.Action.Service)
		}
		return backend.CallService(ctx, domain, service, serviceData(req))
	})
}

func moreInfo(hub *render.Hub) actions.Executor {
	return actions.ExecutorFunc(func(_ context.Context, req actions.Request) error {
		hub.Broadcast(render.Message{
			Type:   render.TypeMoreInfo,
			LockID: req.LockID,
			Data:   map[string]string{"entity_id": req.Entity},
		})
		return nil
	})
}

// serviceData copies the configured data and targets the lock entity unless
// the data names another one.
func serviceData(req actions.Request) map[string]any {
	data := make(map[string]any, len(req.Action.Data)+1)
	for k, v := range req.Action.Data {
		data[k] = v
	}
	if _, ok := data["entity_id"]; !ok {
		data["entity_id"] = req.Entity
	}
	return data
}

// ActionRunner implements machine.ActionSink: each submitted request is
// invoked on its own goroutine.
type ActionRunner struct {
	invoker *actions.Invoker
	metrics *metrics.Metrics
	wg      sync.WaitGroup

	ctx context.Context
}

// NewActionRunner creates a runner.
func NewActionRunner(invoker *actions.Invoker, m *metrics.Metrics) *ActionRunner {
	return &ActionRunner{invoker: invoker, metrics: m, ctx: context.Background()}
}

// Start sets the context actions run under.
func (r *ActionRunner) Start(ctx context.Context) {
	r.ctx = ctx
}

// Submit implements machine.ActionSink.
func (r *ActionRunner) Submit(req actions.Request) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		err := r.invoker.Invoke(r.ctx, req)
		r.metrics.ObserveAction(string(req.Action.Kind), err)
		if err != nil {
			log.Error().
				Err(err).
				Str("lock", req.LockID).
				Str("action", string(req.Action.Kind)).
				Msg("Action failed")
		}
	}()
}

// Wait blocks until every submitted action has finished.
func (r *ActionRunner) Wait() {
	r.wg.Wait()
}
