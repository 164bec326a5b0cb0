// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package daemon

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/voxd/internal/spawn"
	"github.com/ManuGH/voxd/internal/sweep"
)

// App owns the long-lived background subsystems (spawn workers, sweepers)
// and delegates server management to Manager.
type App struct {
	logger  zerolog.Logger
	manager Manager
	spawns  *spawn.Queue
	sweeps  []*sweep.Runner
}

// NewApp creates a new App orchestrator. spawns may be nil when the caller
// runs workers itself; sweeps may be empty.
func NewApp(logger zerolog.Logger, manager Manager, spawns *spawn.Queue, sweeps ...*sweep.Runner) *App {
	return &App{
		logger:  logger,
		manager: manager,
		spawns:  spawns,
		sweeps:  sweeps,
	}
}

// Run starts all owned subsystems and blocks until ctx is cancelled or a
// fatal error occurs. The servers stop first; the spawn workers drain last
// so an in-flight launch is never abandoned halfway through its kill path.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.spawns != nil {
		a.spawns.Start(ctx)
		g.Go(func() error {
			<-ctx.Done()
			a.spawns.Wait()
			a.logger.Info().Msg("spawn workers drained")
			return nil
		})
	}

	for _, r := range a.sweeps {
		r.Start(ctx)
	}

	g.Go(func() error {
		err := a.manager.Start(ctx)
		if err != nil {
			_ = a.manager.Shutdown(context.Background())
		}
		return err
	})

	return g.Wait()
}
