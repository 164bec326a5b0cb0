// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package spawn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchesReady(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		prewarm bool
		want    bool
	}{
		{"init marker direct", "2026-08-24 INFO Pipeline started", false, true},
		{"init marker prewarm", "Pipeline started", true, true},
		{"transport marker prewarm", "LiveKit transport created for room x", true, true},
		{"tts marker prewarm", "Inworld TTS service initialized", true, true},
		{"connect marker direct", "Connected to wss://livekit.example", false, true},
		{"room joined direct", "Room joined: session_123", false, true},
		{"participant direct", "Participant joined: alice", false, true},
		{"connect marker prewarm", "Connected to wss://livekit.example", true, false},
		{"participant prewarm", "Participant joined: alice", true, false},
		{"noise direct", "loading model weights", false, false},
		{"noise prewarm", "loading model weights", true, false},
		{"empty", "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchesReady(tt.line, tt.prewarm))
		})
	}
}
