// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package pool keeps a target number of pre-warmed agents ready for instant
// assignment. Refill creates synthetic sessions with the default voice and
// enqueues prewarm spawns; assignment pops one id atomically and promotes it
// to the caller. The SPOP is the linearisation point: two callers racing for
// the last pooled agent cannot both win.
package pool

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/ManuGH/voxd/internal/log"
	"github.com/ManuGH/voxd/internal/metrics"
	"github.com/ManuGH/voxd/internal/session"
	"github.com/ManuGH/voxd/internal/store"
)

// Spawner enqueues a spawn job for an already-created session.
type Spawner interface {
	EnqueueForSession(s *session.Session) error
}

// Config carries the static pool settings. The store's pool:target key,
// when set, overrides TargetSize at runtime.
type Config struct {
	TargetSize   int
	DefaultVoice string
}

// Manager owns refill and assignment. Refill is serialised internally so an
// overlapping sweep cannot double-count the deficit.
type Manager struct {
	cfg      Config
	registry *session.Registry
	store    *store.Store
	spawner  Spawner
	logger   zerolog.Logger

	refill chan struct{} // 1-slot semaphore
}

func New(cfg Config, registry *session.Registry, st *store.Store, spawner Spawner, logger zerolog.Logger) *Manager {
	m := &Manager{
		cfg:      cfg,
		registry: registry,
		store:    st,
		spawner:  spawner,
		logger:   logger.With().Str(log.FieldComponent, "pool").Logger(),
		refill:   make(chan struct{}, 1),
	}
	m.refill <- struct{}{}
	return m
}

// Target resolves the effective pool size: the store override when present,
// the configured default otherwise.
func (m *Manager) Target(ctx context.Context) (int, error) {
	n, ok, err := m.store.PoolTarget(ctx)
	if err != nil {
		return 0, err
	}
	if ok && n >= 0 {
		return n, nil
	}
	return m.cfg.TargetSize, nil
}

// Size reports the number of unassigned pre-warmed agents.
func (m *Manager) Size(ctx context.Context) (int, error) {
	n, err := m.store.IndexSize(ctx, store.IndexPool)
	return int(n), err
}

// RefillOnce tops the pool up to the target and returns how many prewarm
// spawns it enqueued. The deficit is judged against pool membership only;
// agents still starting are not counted, so a refill racing a slow spawn can
// briefly overshoot. That is self-correcting: later cycles see a full pool
// and enqueue nothing.
func (m *Manager) RefillOnce(ctx context.Context) (int, error) {
	select {
	case <-m.refill:
		defer func() { m.refill <- struct{}{} }()
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	target, err := m.Target(ctx)
	if err != nil {
		return 0, err
	}
	size64, err := m.store.IndexSize(ctx, store.IndexPool)
	if err != nil {
		return 0, err
	}
	size := int(size64)
	metrics.SetPoolSize(size)

	deficit := target - size
	if deficit <= 0 {
		return 0, nil
	}

	spawned := 0
	for i := 0; i < deficit; i++ {
		id := session.NewID()
		s, err := m.registry.Create(ctx, session.CreateParams{
			ID:         id,
			VoiceID:    m.cfg.DefaultVoice,
			SpawnJobID: id,
			Prewarmed:  true,
		})
		if err != nil {
			return spawned, err
		}
		if err := m.spawner.EnqueueForSession(s); err != nil {
			// The record must not outlive its never-started spawn.
			m.registry.Remove(ctx, id, "spawn_enqueue_failed")
			m.logger.Warn().Err(err).Int("spawned", spawned).Int("deficit", deficit).
				Msg("refill stopped early, spawn queue rejected the job")
			return spawned, nil
		}
		if err := m.store.IncrPoolStat(ctx, store.PoolStatSpawned, 1); err != nil {
			m.logger.Warn().Err(err).Msg("pool stat increment failed")
		}
		metrics.IncPoolRefillSpawn()
		spawned++
	}

	m.logger.Info().Int("spawned", spawned).Int("target", target).Int("size", size).
		Msg("pool refill enqueued prewarm spawns")
	return spawned, nil
}

// AssignFromPool pops one pre-warmed session and promotes it to userName.
// ok is false when the pool is empty. A popped id whose record has expired
// is discarded and the next one is tried; the pop already removed it from
// the pool so nothing is leaked to later callers.
func (m *Manager) AssignFromPool(ctx context.Context, userName string) (*session.Session, bool, error) {
	for {
		id, ok, err := m.store.PopPoolReady(ctx)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			metrics.IncPoolAssignment("empty")
			return nil, false, nil
		}

		err = m.registry.Assign(ctx, id, userName)
		if errors.Is(err, session.ErrNotFound) {
			m.logger.Warn().Str(log.FieldSessionID, id).
				Msg("pooled id had no live record, discarded")
			continue
		}
		if err != nil {
			return nil, false, err
		}

		s, err := m.registry.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if err := m.store.IncrPoolStat(ctx, store.PoolStatAssigned, 1); err != nil {
			m.logger.Warn().Err(err).Msg("pool stat increment failed")
		}
		metrics.IncPoolAssignment("hit")
		if size, err := m.store.IndexSize(ctx, store.IndexPool); err == nil {
			metrics.SetPoolSize(int(size))
		}

		m.logger.Info().Str(log.FieldSessionID, id).Str(log.FieldUserName, userName).
			Msg("assigned pre-warmed agent")
		return s, true, nil
	}
}
