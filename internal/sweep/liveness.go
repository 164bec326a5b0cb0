// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package sweep

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/ManuGH/voxd/internal/log"
	"github.com/ManuGH/voxd/internal/procgroup"
	"github.com/ManuGH/voxd/internal/session"
	"github.com/ManuGH/voxd/internal/store"
)

// Liveness probes the recorded process group of every ready or pooled
// session. An agent that died without a webhook (OOM kill, crash, host
// reboot of the agent runtime) leaves a record pointing at a dead pid;
// this sweep is what reclaims it.
type Liveness struct {
	registry *session.Registry
	store    *store.Store
	logger   zerolog.Logger
}

func NewLiveness(registry *session.Registry, st *store.Store, logger zerolog.Logger) *Liveness {
	return &Liveness{registry: registry, store: st, logger: logger}
}

// LivenessOnce returns how many sessions it tore down or unindexed.
func (s *Liveness) LivenessOnce(ctx context.Context) (int, error) {
	acted := 0
	for _, idx := range []store.Index{store.IndexReady, store.IndexPool} {
		ids, err := s.store.IndexMembers(ctx, idx)
		if err != nil {
			return acted, err
		}
		for _, id := range ids {
			rec, err := s.registry.Get(ctx, id)
			if errors.Is(err, session.ErrNotFound) {
				// The record expired but the membership survived; the
				// index entry is all that is left to clean.
				if gone, _ := s.store.RemoveFromIndex(ctx, idx, id); gone {
					s.logger.Warn().Str(log.FieldSessionID, id).
						Str("index", string(idx)).Msg("dropped index entry with no record")
					acted++
				}
				continue
			}
			if err != nil {
				return acted, err
			}
			if rec.AgentPID <= 0 {
				continue
			}
			if procgroup.Alive(rec.AgentPID) {
				continue
			}

			rep := s.registry.Remove(ctx, id, "process_died")
			if !rep.AlreadyRemoved {
				s.logger.Warn().Str(log.FieldSessionID, id).
					Int(log.FieldPID, rec.AgentPID).
					Msg("agent process died, session reclaimed")
				acted++
			}
		}
	}
	return acted, nil
}
