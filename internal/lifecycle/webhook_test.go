// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/voxd/internal/session"
	"github.com/ManuGH/voxd/internal/webhook"
)

func TestWebhookCallerJoinActivatesSession(t *testing.T) {
	_, reg, _, ctrl := newTestController(t, nil)
	ctx := context.Background()

	ready := seedReady(t, reg, "alice")

	ctrl.HandleWebhook(ctx, &webhook.Event{
		Event:       webhook.EventParticipantJoined,
		Room:        webhook.Room{Name: ready.ID},
		Participant: webhook.Participant{Identity: "alice"},
	})

	s, err := reg.Get(ctx, ready.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusActive, s.Status)
	assert.WithinDuration(t, time.Now(), s.ConversationStart, 5*time.Second)
}

func TestWebhookAgentJoinDoesNotActivate(t *testing.T) {
	_, reg, _, ctrl := newTestController(t, nil)
	ctx := context.Background()

	ready := seedReady(t, reg, "alice")

	ctrl.HandleWebhook(ctx, &webhook.Event{
		Event:       webhook.EventParticipantJoined,
		Room:        webhook.Room{Name: ready.ID},
		Participant: webhook.Participant{Identity: "agent_worker_1"},
	})

	s, err := reg.Get(ctx, ready.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusReady, s.Status)
	assert.True(t, s.ConversationStart.IsZero())
}

func TestWebhookAnonymousJoinIgnoredForPooledSession(t *testing.T) {
	_, reg, _, ctrl := newTestController(t, nil)
	ctx := context.Background()

	pooled := seedPooled(t, reg)

	// A pooled session has no user; an identity-less join must not start
	// its conversation clock.
	ctrl.HandleWebhook(ctx, &webhook.Event{
		Event: webhook.EventParticipantJoined,
		Room:  webhook.Room{Name: pooled.ID},
	})

	s, err := reg.Get(ctx, pooled.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusReady, s.Status)
	assert.True(t, s.ConversationStart.IsZero())
}

func TestWebhookDisconnectEndsSession(t *testing.T) {
	for _, event := range []string{webhook.EventParticipantLeft, webhook.EventRoomFinished} {
		t.Run(event, func(t *testing.T) {
			_, reg, _, ctrl := newTestController(t, nil)
			ctx := context.Background()

			ready := seedReady(t, reg, "alice")

			ctrl.HandleWebhook(ctx, &webhook.Event{
				Event:       event,
				Room:        webhook.Room{Name: ready.ID},
				Participant: webhook.Participant{Identity: "alice"},
			})

			_, err := reg.Get(ctx, ready.ID)
			assert.ErrorIs(t, err, session.ErrNotFound)
			assert.True(t, reg.WasRemoved(ready.ID))
		})
	}
}

func TestWebhookDisconnectIsIdempotent(t *testing.T) {
	_, reg, _, ctrl := newTestController(t, nil)
	ctx := context.Background()

	ready := seedReady(t, reg, "alice")
	ev := &webhook.Event{
		Event: webhook.EventRoomFinished,
		Room:  webhook.Room{Name: ready.ID},
	}

	ctrl.HandleWebhook(ctx, ev)
	ctrl.HandleWebhook(ctx, ev)

	_, err := reg.Get(ctx, ready.ID)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestWebhookForeignRoomIgnored(t *testing.T) {
	_, reg, _, ctrl := newTestController(t, nil)
	ctx := context.Background()

	ready := seedReady(t, reg, "alice")

	ctrl.HandleWebhook(ctx, &webhook.Event{
		Event: webhook.EventRoomFinished,
		Room:  webhook.Room{Name: "lobby"},
	})

	// No session was touched.
	_, err := reg.Get(ctx, ready.ID)
	assert.NoError(t, err)
}

func TestWebhookUnknownSessionIsAcknowledged(t *testing.T) {
	_, _, _, ctrl := newTestController(t, nil)

	ctrl.HandleWebhook(context.Background(), &webhook.Event{
		Event: webhook.EventParticipantLeft,
		Room:  webhook.Room{Name: "session_0_neverexisted"},
	})
}

func TestWebhookRoomIDFallback(t *testing.T) {
	_, reg, _, ctrl := newTestController(t, nil)
	ctx := context.Background()

	ready := seedReady(t, reg, "alice")

	// Some server versions omit room.name and send only room.id.
	ctrl.HandleWebhook(ctx, &webhook.Event{
		Event: webhook.EventRoomFinished,
		Room:  webhook.Room{ID: ready.ID},
	})

	_, err := reg.Get(ctx, ready.ID)
	assert.ErrorIs(t, err, session.ErrNotFound)
}
