// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package webhook

import (
	"encoding/json"
	"fmt"
)

// Event types this service reacts to. Everything else is acknowledged and
// dropped.
const (
	EventParticipantJoined = "participant_joined"
	EventParticipantLeft   = "participant_left"
	EventRoomFinished      = "room_finished"
)

// Event is the subset of the media server's webhook payload we consume.
// Unknown fields are ignored.
type Event struct {
	Event       string      `json:"event"`
	Room        Room        `json:"room"`
	Participant Participant `json:"participant"`
}

type Room struct {
	Name string `json:"name"`
	SID  string `json:"sid"`
	ID   string `json:"id"`
}

type Participant struct {
	Identity string `json:"identity"`
	SID      string `json:"sid"`
}

// RoomName prefers the room's name and falls back to its id; some server
// versions populate only one of the two.
func (e *Event) RoomName() string {
	if e.Room.Name != "" {
		return e.Room.Name
	}
	return e.Room.ID
}

// Disconnect reports whether the event means the conversation is over.
func (e *Event) Disconnect() bool {
	return e.Event == EventParticipantLeft || e.Event == EventRoomFinished
}

// Parse decodes a raw webhook body.
func Parse(body []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("decode webhook event: %w", err)
	}
	return &ev, nil
}
