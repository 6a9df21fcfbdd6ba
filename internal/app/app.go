// Package app wires configuration, the Home Assistant backend, the lock
// machines and their output surfaces into one process.
package app

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lockd/internal/config"
)

// App owns the services and their lifecycle.
type App struct {
	cfg      *config.Config
	services *Services
}

// New initializes every service without starting any of them.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	services, err := NewServices(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, services: services}, nil
}

// ClearLockState forgets persisted lock snapshots. Call before Run.
func (a *App) ClearLockState() error {
	return a.services.ClearState()
}

// Run starts all services and blocks until ctx is cancelled or a service
// reports a fatal error, then shuts everything down. The fatal error, if
// any, is returned.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	onFatalError := func(err error) {
		log.Error().Err(err).Msg("Fatal error, initiating shutdown")
		cancel(err)
	}

	if err := a.services.Start(ctx, onFatalError); err != nil {
		a.services.Stop()
		return err
	}
	log.Info().Int("locks", len(a.cfg.Locks)).Msg("lockd started")

	<-ctx.Done()

	log.Info().Msg("Shutting down...")
	if err := a.services.Stop(); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}

	if cause := context.Cause(ctx); cause != context.Canceled {
		return cause
	}
	return nil
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
