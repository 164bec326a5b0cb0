// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package session

// CleanupReport enumerates what removal actually did. Callers that see one
// failed step should treat the session as gone rather than retry; End is
// idempotent and repeated calls return the same report.
type CleanupReport struct {
	SessionID       string   `json:"sessionId"`
	Reason          string   `json:"reason"`
	ProcessKilled   bool     `json:"processKilled"`
	SpawnCancelled  bool     `json:"spawnCancelled"`
	StoreCleaned    bool     `json:"storeCleaned"`
	AlreadyRemoved  bool     `json:"alreadyRemoved"`
	DurationSeconds int64    `json:"durationSeconds"`
	DurationMinutes int64    `json:"durationMinutes"`
	Errors          []string `json:"errors"`
}
