package cmd

import (
	"context"
	"fmt"

	"github.com/ljacobsen/foreman/internal/config"
	"github.com/ljacobsen/foreman/internal/events"
	"github.com/ljacobsen/foreman/internal/harness"
	"github.com/ljacobsen/foreman/internal/mode"
	"github.com/ljacobsen/foreman/internal/store"
	"github.com/ljacobsen/foreman/internal/task"
)

// app bundles the wired orchestrator for one command invocation.
type app struct {
	cfg         *config.Config
	bus         *events.Bus
	store       *store.SQLiteStore
	registry    *harness.Registry
	manager     *task.Manager
	coordinator *mode.Coordinator
}

// buildApp wires the full stack from configuration. The caller owns the
// returned app and must Close it.
func buildApp(ctx context.Context) (*app, error) {
	bus := events.New(256)

	st, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening task store: %w", err)
	}

	registry := harness.NewRegistry()
	for _, name := range registry.List() {
		hc, ok := cfg.Harnesses[name]
		if !ok || !hc.Enabled {
			// Disabled harnesses are removed outright so create rejects
			// them instead of spawning a binary the operator turned off.
			registry.Deregister(name)
			continue
		}
		registry.Configure(name, harness.Config{
			Path:    hc.Path,
			Env:     hc.Env,
			Timeout: hc.Timeout,
		})
	}

	preflight := harness.NewPreflight()
	if cfg.Pool.MinFreeMemoryMB > 0 {
		preflight.MinFreeMemoryMB = uint64(cfg.Pool.MinFreeMemoryMB)
	}

	spawner := harness.NewOSSpawner(cfg.Workspace.Root, logger,
		harness.WithPreflight(preflight),
		harness.WithKillGrace(cfg.Task.KillGrace),
	)
	pool := harness.NewPool(cfg.Pool.Capacity, spawner, logger)
	executor := harness.NewExecutor(pool, registry, logger)

	manager := task.NewManager(st, bus, executor, registry, logger,
		task.WithDefaultTimeout(cfg.Task.Timeout),
		task.WithWorkspaceRoot(cfg.Workspace.Root))

	coordinator := mode.NewCoordinator(bus, cfg.Mode.StatePath, logger,
		mode.WithQuietWindow(cfg.Mode.QuietWindow))
	if err := coordinator.Restore(); err != nil {
		logger.Warn("restoring mode state", "error", err)
	}

	// Crash recovery must finish before any new task is accepted.
	reconciled, err := manager.Reconcile(ctx)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("reconciling interrupted tasks: %w", err)
	}
	if reconciled > 0 {
		logger.Warn("marked interrupted tasks as failed", "count", reconciled)
	}

	return &app{
		cfg:         cfg,
		bus:         bus,
		store:       st,
		registry:    registry,
		manager:     manager,
		coordinator: coordinator,
	}, nil
}

func (a *app) Close() {
	a.bus.Close()
	if err := a.store.Close(); err != nil {
		logger.Error("closing task store", "error", err)
	}
}
