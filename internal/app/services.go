package app

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lockd/internal/actions"
	"github.com/dokzlo13/lockd/internal/clock"
	"github.com/dokzlo13/lockd/internal/config"
	"github.com/dokzlo13/lockd/internal/db"
	"github.com/dokzlo13/lockd/internal/eventbus"
	"github.com/dokzlo13/lockd/internal/homeassistant"
	"github.com/dokzlo13/lockd/internal/ledger"
	luart "github.com/dokzlo13/lockd/internal/lua"
	"github.com/dokzlo13/lockd/internal/metrics"
	"github.com/dokzlo13/lockd/internal/publish"
	"github.com/dokzlo13/lockd/internal/render"
	"github.com/dokzlo13/lockd/internal/server"
	"github.com/dokzlo13/lockd/internal/state"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB        *db.DB
	Ledger    *ledger.Ledger
	Store     *state.Store
	LockStore *state.LockStore
	Bus       *eventbus.Bus
	Metrics   *metrics.Metrics

	// Backend and outputs
	HomeAssistant *homeassistant.Client
	Redis         *publish.Publisher
	Hub           *render.Hub
	Outputs       *Outputs

	// Action system
	Registry *actions.Registry
	Invoker  *actions.Invoker
	Lua      *luart.Runtime
	Runner   *ActionRunner

	// Engine and surfaces
	Locks  *LockService
	Server *server.Server
	Health *HealthService
}

// NewServices creates all services with proper dependency injection.
func NewServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	s.Ledger = ledger.New(database.DB)
	s.Store = state.NewStore(database.DB)
	s.LockStore = state.NewLockStore(s.Store)
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())
	s.Metrics = metrics.New(prometheus.NewRegistry())

	s.HomeAssistant = homeassistant.New(homeassistant.Config{
		URL:           cfg.HomeAssistant.URL,
		Token:         cfg.HomeAssistant.Token,
		Timeout:       cfg.HomeAssistant.Timeout.Duration(),
		MinBackoff:    cfg.HomeAssistant.MinRetryBackoff.Duration(),
		MaxBackoff:    cfg.HomeAssistant.MaxRetryBackoff.Duration(),
		Multiplier:    cfg.HomeAssistant.RetryMultiplier,
		MaxReconnects: cfg.HomeAssistant.MaxReconnects,
		RateLimitRPS:  cfg.HomeAssistant.ServiceRateLimitRPS,
	}, s.Bus)

	if cfg.Redis.Enabled {
		s.Redis, err = publish.New(ctx, publish.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			s.Close()
			return nil, err
		}
	}

	// The hub and the lock service reference each other through callbacks
	var locks *LockService
	s.Hub = render.NewHub(
		func() []render.Message { return locks.Snapshot() },
		func(cmd render.Command) { locks.HandleCommand(cmd) },
	)
	s.Metrics.TrackRenderClients(s.Hub.Clients)
	s.Outputs = NewOutputs(s.Hub, s.Metrics, s.Redis, s.Ledger, s.LockStore)

	// Action system
	s.Registry = actions.NewRegistry()
	s.Invoker = actions.NewInvoker(s.Registry, s.Ledger)
	s.Lua = luart.NewRuntime(s.HomeAssistant)
	if err := registerExecutors(s.Registry, s.HomeAssistant, s.Lua, s.Hub); err != nil {
		s.Close()
		return nil, err
	}
	s.Runner = NewActionRunner(s.Invoker, s.Metrics)

	locks, err = NewLockService(cfg, clock.New(), s.Outputs, s.Runner)
	if err != nil {
		s.Close()
		return nil, err
	}
	locks.OnInteraction(s.Outputs.Interaction)
	s.Locks = locks

	s.Server = server.NewServer(cfg.Server.Host, cfg.Server.Port, s.Locks, s.Hub).WithHistory(s.Ledger)
	s.Health = NewHealthService(cfg, s.HomeAssistant.Connected, s.Metrics.Handler())

	return s, nil
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a fatal error occurs (e.g., max reconnects exceeded).
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	s.Outputs.Start(ctx)
	s.Runner.Start(ctx)
	go s.Lua.Run(ctx)

	records, err := s.LockStore.All()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load persisted lock state")
	} else {
		s.Locks.Restore(records)
	}
	s.Locks.Start(ctx)

	// Subscribe before connecting so the initial states reach the machines
	s.Locks.Subscribe(s.Bus)
	s.Bus.Subscribe(eventbus.EventTypeConnectivity, func(e eventbus.Event) {
		connected, _ := e.Data["connected"].(bool)
		s.Metrics.SetConnected(connected)
	})

	go func() {
		if err := s.HomeAssistant.Run(ctx); err != nil {
			if errors.Is(err, homeassistant.ErrMaxReconnectsExceeded) {
				log.Error().Msg("Home Assistant: max reconnects exceeded, triggering shutdown")
				if onFatalError != nil {
					onFatalError(err)
				}
			} else {
				log.Error().Err(err).Msg("Home Assistant client error")
			}
		}
	}()

	if s.cfg.Server.Enabled {
		go func() {
			if err := s.Server.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
				log.Error().Err(err).Msg("Lock API server error")
				if onFatalError != nil {
					onFatalError(err)
				}
			}
		}()
	} else {
		log.Debug().Msg("Lock API server disabled")
	}

	s.Health.Start(ctx)
	go s.runLedgerCleanup(ctx)

	return nil
}

// runLedgerCleanup periodically cleans up old ledger entries.
func (s *Services) runLedgerCleanup(ctx context.Context) {
	retention := time.Duration(s.cfg.Ledger.RetentionDays) * 24 * time.Hour
	interval := s.cfg.Ledger.CleanupInterval.Duration()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.Ledger.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
			} else if deleted > 0 {
				log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
			}
		}
	}
}

// ClearState forgets every persisted lock snapshot.
func (s *Services) ClearState() error {
	n, err := s.LockStore.Clear()
	if err != nil {
		return err
	}
	log.Info().Int64("records", n).Msg("Cleared persisted lock state")
	return nil
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Locks != nil {
		s.Locks.Close()
	}
	if s.Runner != nil {
		s.Runner.Wait()
	}
	if s.Lua != nil {
		s.Lua.Close()
	}
	if s.Hub != nil {
		s.Hub.Close()
	}
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		defer cancel()
		s.Bus.Close(ctx)
	}
	if s.Outputs != nil {
		s.Outputs.Close()
	}
	if s.Redis != nil {
		s.Redis.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
