// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package lifecycle

import "errors"

// Classification sentinels for the HTTP layer. Store availability failures
// keep their own type (store.Unavailable) and webhook signature failures
// live in the webhook package; these cover the decisions made here.
var (
	// ErrRateLimited means the caller spent its start budget for the window.
	ErrRateLimited = errors.New("rate limited")

	// ErrAtCapacity means no new session can be admitted right now, either
	// because the bot ceiling is reached or the spawn queue is full.
	ErrAtCapacity = errors.New("at capacity")

	// ErrSessionNotFound means the id matches no live session and no
	// recently removed one.
	ErrSessionNotFound = errors.New("session not found")
)
