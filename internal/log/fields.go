// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID = "session_id"
	FieldRequestID = "request_id"
	FieldUserName  = "user_name"
	FieldJobID     = "job_id"

	// Process fields
	FieldPID  = "pid"
	FieldPGID = "pgid"

	// Lifecycle fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldReason    = "reason"
	FieldStatus    = "status"
	FieldVoiceID   = "voice_id"
	FieldRoom      = "room"
)
