// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package sweep reconciles declared state with observed state on a timer:
// the pool is refilled to target, dead agent processes are detected and
// their sessions torn down, and idle sessions are expired. Each sweep is an
// exported, deterministic ...Once function; the Runner only supplies the
// cadence.
package sweep

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/voxd/internal/log"
	"github.com/ManuGH/voxd/internal/metrics"
	"github.com/ManuGH/voxd/internal/store"
)

// Func runs one sweep cycle and reports how many items it acted on.
type Func func(ctx context.Context) (int, error)

// Runner drives one sweep on a jittered interval. A failing cycle doubles
// the interval up to 4x base; the next clean cycle resets it. Store outages
// are expected during restarts and count as skipped, not failed.
type Runner struct {
	Name         string
	Interval     time.Duration
	Jitter       time.Duration
	StartupDelay time.Duration

	fn     Func
	logger zerolog.Logger

	backoff time.Duration
	rng     *rand.Rand
	lastOK  atomic.Int64
}

func NewRunner(name string, interval time.Duration, fn Func, logger zerolog.Logger) *Runner {
	return &Runner{
		Name:         name,
		Interval:     interval,
		Jitter:       interval / 10,
		StartupDelay: 2 * time.Second,
		fn:           fn,
		logger:       logger.With().Str(log.FieldComponent, "sweep."+name).Logger(),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Start begins the loop in a background goroutine; it stops with ctx.
func (r *Runner) Start(ctx context.Context) {
	go r.loop(ctx)
}

// LastSuccess reports when the most recent clean cycle finished, zero until
// the first one completes. Safe to call from other goroutines.
func (r *Runner) LastSuccess() time.Time {
	ns := r.lastOK.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (r *Runner) loop(ctx context.Context) {
	r.logger.Info().Dur("interval", r.Interval).Msg("sweeper started")

	timer := time.NewTimer(r.StartupDelay + r.jitter())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("sweeper stopping")
			return
		case <-timer.C:
			r.runOnce(ctx)
			timer.Reset(r.next())
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) {
	start := time.Now()
	n, err := r.fn(ctx)
	switch {
	case err == nil:
		metrics.IncSweepRun(r.Name, "ok")
		metrics.AddSweepRemoved(r.Name, n)
		r.backoff = 0
		r.lastOK.Store(time.Now().UnixNano())
		if n > 0 {
			r.logger.Info().Int("acted_on", n).
				Dur("elapsed", time.Since(start)).Msg("sweep cycle finished")
		} else {
			r.logger.Debug().Msg("sweep cycle idle")
		}
	case store.IsUnavailable(err):
		metrics.IncSweepRun(r.Name, "skipped")
		r.grow()
		r.logger.Warn().Err(err).Msg("store unavailable, sweep cycle skipped")
	default:
		metrics.IncSweepRun(r.Name, "error")
		r.grow()
		r.logger.Error().Err(err).Msg("sweep cycle failed")
	}
}

func (r *Runner) next() time.Duration {
	interval := r.Interval
	if r.backoff > 0 {
		interval = r.backoff
	}
	return interval + r.jitter()
}

func (r *Runner) grow() {
	if r.backoff == 0 {
		r.backoff = r.Interval
	}
	r.backoff *= 2
	if max := 4 * r.Interval; r.backoff > max {
		r.backoff = max
	}
}

func (r *Runner) jitter() time.Duration {
	if r.Jitter <= 0 {
		return 0
	}
	ms := int64(r.Jitter / time.Millisecond)
	if ms <= 0 {
		return 0
	}
	return time.Duration(r.rng.Int63n(2*ms)-ms) * time.Millisecond
}
