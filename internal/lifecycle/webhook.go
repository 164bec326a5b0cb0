// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package lifecycle

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ManuGH/voxd/internal/log"
	"github.com/ManuGH/voxd/internal/metrics"
	"github.com/ManuGH/voxd/internal/session"
	"github.com/ManuGH/voxd/internal/webhook"
)

// HandleWebhook applies one verified media-server event to session state.
// Foreign rooms and unknown sessions are acknowledged and dropped; the
// handler never errors, so the media server does not retry against us.
func (c *Controller) HandleWebhook(ctx context.Context, ev *webhook.Event) {
	room := ev.RoomName()
	if !strings.HasPrefix(room, "session_") {
		metrics.IncWebhookEvent(ev.Event, "ignored")
		return
	}

	logger := c.logger.With().
		Str(log.FieldEvent, ev.Event).
		Str(log.FieldRoom, room).
		Logger()

	switch {
	case ev.Event == webhook.EventParticipantJoined:
		s, err := c.registry.Get(ctx, room)
		if errors.Is(err, session.ErrNotFound) {
			metrics.IncWebhookEvent(ev.Event, "unknown_session")
			return
		}
		if err != nil {
			logger.Warn().Err(err).Msg("webhook session lookup failed")
			return
		}
		// Only the caller's join starts the conversation clock; the agent
		// joins its own room first.
		if ev.Participant.Identity == "" || ev.Participant.Identity != s.UserName {
			metrics.IncWebhookEvent(ev.Event, "ignored")
			return
		}
		if err := c.registry.MarkActive(ctx, room, time.Now()); err != nil {
			logger.Warn().Err(err).Msg("mark active failed")
			return
		}
		logger.Info().Str(log.FieldUserName, s.UserName).Msg("caller joined, conversation active")
		metrics.IncWebhookEvent(ev.Event, "handled")

	case ev.Disconnect():
		rep := c.registry.Remove(ctx, room, ev.Event)
		if rep.AlreadyRemoved && !c.registry.WasRemoved(room) {
			metrics.IncWebhookEvent(ev.Event, "unknown_session")
			return
		}
		logger.Info().
			Bool("process_killed", rep.ProcessKilled).
			Int64("duration_seconds", rep.DurationSeconds).
			Msg("disconnect event ended session")
		metrics.IncWebhookEvent(ev.Event, "handled")

	default:
		metrics.IncWebhookEvent(ev.Event, "ignored")
	}
}
