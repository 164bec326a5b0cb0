// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package session owns the session record model and the registry that is the
// single writer for per-session state transitions.
package session

import (
	"strconv"
	"time"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusStarting Status = "starting"
	StatusReady    Status = "ready"
	StatusActive   Status = "active"
	StatusError    Status = "error"
	StatusEnded    Status = "ended"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusError || s == StatusEnded
}

// Record hash field names. The store persists these verbatim.
const (
	fieldUserName          = "userName"
	fieldVoiceID           = "voiceId"
	fieldOpeningLine       = "openingLine"
	fieldSystemPrompt      = "systemPrompt"
	fieldSpawnJobID        = "spawnJobId"
	fieldAgentPID          = "agentPid"
	fieldAgentPGID         = "agentPgid"
	fieldStatus            = "status"
	fieldStartTime         = "startTime"
	fieldLastActive        = "lastActive"
	fieldConversationStart = "conversationStartTime"
	fieldStartupTime       = "startupTime"
	fieldErrorMessage      = "errorMessage"
	fieldPrewarmed         = "prewarmed"
)

// Session is one conversation: one agent process, one media room (the room
// name is always the session id).
type Session struct {
	ID           string
	UserName     string
	VoiceID      string
	OpeningLine  string
	SystemPrompt string

	// SpawnJobID references the in-flight spawn job, if any.
	SpawnJobID string

	// AgentPID and AgentPGID are either both zero or both set and equal;
	// the agent is launched as its own group leader.
	AgentPID  int
	AgentPGID int

	Status     Status
	StartTime  time.Time
	LastActive time.Time

	// ConversationStart is zero until the caller joins the media room.
	ConversationStart time.Time

	// StartupTime is how long spawn-to-ready took.
	StartupTime time.Duration

	ErrorMessage string

	// Prewarmed marks a session born into the pool rather than for a caller.
	Prewarmed bool
}

// ToHash flattens the record for the store. Timestamps are unix seconds;
// optional fields are omitted while zero.
func (s *Session) ToHash() map[string]string {
	h := map[string]string{
		fieldUserName:     s.UserName,
		fieldVoiceID:      s.VoiceID,
		fieldOpeningLine:  s.OpeningLine,
		fieldSystemPrompt: s.SystemPrompt,
		fieldStatus:       string(s.Status),
		fieldStartTime:    formatTime(s.StartTime),
		fieldLastActive:   formatTime(s.LastActive),
		fieldPrewarmed:    strconv.FormatBool(s.Prewarmed),
	}
	if s.SpawnJobID != "" {
		h[fieldSpawnJobID] = s.SpawnJobID
	}
	if s.AgentPID != 0 {
		h[fieldAgentPID] = strconv.Itoa(s.AgentPID)
		h[fieldAgentPGID] = strconv.Itoa(s.AgentPGID)
	}
	if !s.ConversationStart.IsZero() {
		h[fieldConversationStart] = formatTime(s.ConversationStart)
	}
	if s.StartupTime > 0 {
		h[fieldStartupTime] = strconv.FormatFloat(s.StartupTime.Seconds(), 'f', 3, 64)
	}
	if s.ErrorMessage != "" {
		h[fieldErrorMessage] = s.ErrorMessage
	}
	return h
}

// FromHash rebuilds a record from stored fields. Unparseable numeric fields
// read as zero; the record stays usable for cleanup either way.
func FromHash(id string, h map[string]string) *Session {
	s := &Session{
		ID:           id,
		UserName:     h[fieldUserName],
		VoiceID:      h[fieldVoiceID],
		OpeningLine:  h[fieldOpeningLine],
		SystemPrompt: h[fieldSystemPrompt],
		SpawnJobID:   h[fieldSpawnJobID],
		Status:       Status(h[fieldStatus]),
		ErrorMessage: h[fieldErrorMessage],
	}
	s.AgentPID, _ = strconv.Atoi(h[fieldAgentPID])
	s.AgentPGID, _ = strconv.Atoi(h[fieldAgentPGID])
	s.StartTime = parseTime(h[fieldStartTime])
	s.LastActive = parseTime(h[fieldLastActive])
	s.ConversationStart = parseTime(h[fieldConversationStart])
	if secs, err := strconv.ParseFloat(h[fieldStartupTime], 64); err == nil {
		s.StartupTime = time.Duration(secs * float64(time.Second))
	}
	s.Prewarmed, _ = strconv.ParseBool(h[fieldPrewarmed])
	return s
}

// ConfigHash is the voice configuration snapshot, stored under its own key
// so concurrent sessions of one user never share mutable config.
func (s *Session) ConfigHash() map[string]string {
	h := map[string]string{
		fieldVoiceID:  s.VoiceID,
		fieldUserName: s.UserName,
	}
	if s.OpeningLine != "" {
		h[fieldOpeningLine] = s.OpeningLine
	}
	if s.SystemPrompt != "" {
		h[fieldSystemPrompt] = s.SystemPrompt
	}
	return h
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return strconv.FormatInt(t.Unix(), 10)
}

func parseTime(v string) time.Time {
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil || secs == 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0)
}
