// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package webhook

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyAcceptsValidSignature(t *testing.T) {
	body := []byte(`{"event":"participant_left","room":{"name":"session_1_a"}}`)
	v := NewVerifier("shared-secret", false, zerolog.Nop())

	assert.NoError(t, v.Verify(body, Signature("shared-secret", body)))
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	body := []byte(`{"event":"participant_left"}`)
	sig := Signature("shared-secret", body)
	v := NewVerifier("shared-secret", false, zerolog.Nop())

	err := v.Verify([]byte(`{"event":"room_finished"}`), sig)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	body := []byte(`{}`)
	sig := Signature("other-secret", body)
	v := NewVerifier("shared-secret", false, zerolog.Nop())

	assert.ErrorIs(t, v.Verify(body, sig), ErrBadSignature)
}

func TestVerifyMissingSignature(t *testing.T) {
	body := []byte(`{}`)

	strict := NewVerifier("s", false, zerolog.Nop())
	assert.ErrorIs(t, strict.Verify(body, ""), ErrMissingSignature)

	dev := NewVerifier("s", true, zerolog.Nop())
	assert.NoError(t, dev.Verify(body, ""))
}

func TestParseEvent(t *testing.T) {
	ev, err := Parse([]byte(`{
		"event": "participant_joined",
		"room": {"name": "session_1724500000000_abc123xyz", "sid": "RM_x"},
		"participant": {"identity": "alice", "sid": "PA_y"},
		"createdAt": 1724500000
	}`))
	require.NoError(t, err)

	assert.Equal(t, EventParticipantJoined, ev.Event)
	assert.Equal(t, "session_1724500000000_abc123xyz", ev.RoomName())
	assert.Equal(t, "alice", ev.Participant.Identity)
	assert.False(t, ev.Disconnect())
}

func TestParseRejectsBadJSON(t *testing.T) {
	_, err := Parse([]byte(`{"event":`))
	assert.Error(t, err)
}

func TestRoomNameFallsBackToID(t *testing.T) {
	ev := &Event{Room: Room{ID: "session_1_b"}}
	assert.Equal(t, "session_1_b", ev.RoomName())

	ev.Room.Name = "session_1_a"
	assert.Equal(t, "session_1_a", ev.RoomName())
}

func TestDisconnectEvents(t *testing.T) {
	assert.True(t, (&Event{Event: EventParticipantLeft}).Disconnect())
	assert.True(t, (&Event{Event: EventRoomFinished}).Disconnect())
	assert.False(t, (&Event{Event: EventParticipantJoined}).Disconnect())
	assert.False(t, (&Event{Event: "room_started"}).Disconnect())
}
