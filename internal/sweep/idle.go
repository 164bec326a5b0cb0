// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package sweep

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/voxd/internal/log"
	"github.com/ManuGH/voxd/internal/session"
	"github.com/ManuGH/voxd/internal/store"
)

// Idle expires sessions whose lastActive is older than the session timeout.
// Heartbeats and webhook joins refresh lastActive; a client that silently
// walked away stops refreshing and ends up here. Pooled agents are included
// so a stale pool recycles instead of ageing toward the record TTL.
type Idle struct {
	registry *session.Registry
	store    *store.Store
	timeout  time.Duration
	logger   zerolog.Logger
}

func NewIdle(registry *session.Registry, st *store.Store, timeout time.Duration, logger zerolog.Logger) *Idle {
	return &Idle{registry: registry, store: st, timeout: timeout, logger: logger}
}

// IdleOnce returns how many sessions it expired.
func (s *Idle) IdleOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.timeout)
	acted := 0
	seen := make(map[string]bool)

	for _, idx := range []store.Index{store.IndexReady, store.IndexStarting, store.IndexPool} {
		ids, err := s.store.IndexMembers(ctx, idx)
		if err != nil {
			return acted, err
		}
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true

			rec, err := s.registry.Get(ctx, id)
			if errors.Is(err, session.ErrNotFound) {
				continue
			}
			if err != nil {
				return acted, err
			}

			last := rec.LastActive
			if last.IsZero() {
				last = rec.StartTime
			}
			if last.IsZero() || !last.Before(cutoff) {
				continue
			}

			rep := s.registry.Remove(ctx, id, "idle_timeout")
			if !rep.AlreadyRemoved {
				s.logger.Info().Str(log.FieldSessionID, id).
					Time("last_active", last).
					Msg("idle session expired")
				acted++
			}
		}
	}
	return acted, nil
}
