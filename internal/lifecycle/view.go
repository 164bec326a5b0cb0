// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package lifecycle

import (
	"context"
	"errors"
	"sort"

	"github.com/ManuGH/voxd/internal/metrics"
	"github.com/ManuGH/voxd/internal/session"
	"github.com/ManuGH/voxd/internal/store"
)

// Projection is the caller-visible view of one session. Timestamps are unix
// seconds, startupTime is seconds with millisecond precision.
type Projection struct {
	SessionID    string  `json:"sessionId"`
	UserName     string  `json:"userName,omitempty"`
	Status       string  `json:"status"`
	CreatedAt    int64   `json:"createdAt"`
	LastActive   int64   `json:"lastActive"`
	StartupTime  float64 `json:"startupTime,omitempty"`
	Prewarmed    bool    `json:"prewarmed"`
	ErrorMessage string  `json:"errorMessage,omitempty"`
}

func project(s *session.Session) Projection {
	p := Projection{
		SessionID:    s.ID,
		UserName:     s.UserName,
		Status:       string(s.Status),
		Prewarmed:    s.Prewarmed,
		ErrorMessage: s.ErrorMessage,
	}
	if !s.StartTime.IsZero() {
		p.CreatedAt = s.StartTime.Unix()
	}
	if !s.LastActive.IsZero() {
		p.LastActive = s.LastActive.Unix()
	}
	if s.StartupTime > 0 {
		p.StartupTime = s.StartupTime.Seconds()
	}
	return p
}

// Status returns the projection for one session.
func (c *Controller) Status(ctx context.Context, id string) (*Projection, error) {
	s, err := c.registry.Get(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	p := project(s)
	return &p, nil
}

// Logs returns up to limit recent agent output lines, oldest first. The
// session must still exist; logs of removed sessions are gone with them.
func (c *Controller) Logs(ctx context.Context, id string, limit int) ([]string, error) {
	if _, err := c.registry.Get(ctx, id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return c.store.AgentLogs(ctx, id, limit)
}

// Counts are the index cardinalities at observation time.
type Counts struct {
	Ready    int `json:"ready"`
	Starting int `json:"starting"`
	Pool     int `json:"pool"`
}

// Overview is the admin listing: every indexed session plus the counts.
type Overview struct {
	Sessions []Projection `json:"sessions"`
	Counts   Counts       `json:"counts"`
}

// List walks all three index sets, oldest session first. Ids vanishing
// between listing and read are skipped rather than failed on.
func (c *Controller) List(ctx context.Context) (*Overview, error) {
	seen := make(map[string]bool)
	projections := []Projection{}
	for _, idx := range []store.Index{store.IndexReady, store.IndexStarting, store.IndexPool} {
		members, err := c.store.IndexMembers(ctx, idx)
		if err != nil {
			return nil, err
		}
		for _, id := range members {
			if seen[id] {
				continue
			}
			seen[id] = true
			s, err := c.registry.Get(ctx, id)
			if errors.Is(err, session.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			projections = append(projections, project(s))
		}
	}
	sort.Slice(projections, func(i, j int) bool {
		if projections[i].CreatedAt != projections[j].CreatedAt {
			return projections[i].CreatedAt < projections[j].CreatedAt
		}
		return projections[i].SessionID < projections[j].SessionID
	})

	ready, err := c.store.IndexSize(ctx, store.IndexReady)
	if err != nil {
		return nil, err
	}
	starting, err := c.store.IndexSize(ctx, store.IndexStarting)
	if err != nil {
		return nil, err
	}
	pooled, err := c.store.IndexSize(ctx, store.IndexPool)
	if err != nil {
		return nil, err
	}
	counts := Counts{Ready: int(ready), Starting: int(starting), Pool: int(pooled)}
	metrics.RecordSessionCounts(counts.Ready, counts.Starting, counts.Pool)

	return &Overview{Sessions: projections, Counts: counts}, nil
}
