// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"io"
	"net/http"

	"github.com/ManuGH/voxd/internal/api/middleware"
	"github.com/ManuGH/voxd/internal/log"
	"github.com/ManuGH/voxd/internal/metrics"
	"github.com/ManuGH/voxd/internal/telemetry"
	"github.com/ManuGH/voxd/internal/webhook"
)

type webhookResponse struct {
	Status string `json:"status"`
	Event  string `json:"event"`
}

// handleWebhook receives signed media-server events. The signature covers
// the raw body, so the body is read before any decoding. Processing never
// fails the request: a non-200 only makes the media server redeliver.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "webhook")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		metrics.IncWebhookRejected("body")
		badRequest(w, "unreadable or oversized body")
		return
	}

	if err := s.verifier.Verify(body, r.Header.Get(webhook.Header)); err != nil {
		metrics.IncWebhookRejected("signature")
		logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("webhook signature rejected")
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid signature"})
		return
	}

	ev, err := webhook.Parse(body)
	if err != nil {
		metrics.IncWebhookRejected("json")
		badRequest(w, "invalid JSON body")
		return
	}

	room := ev.RoomName()
	middleware.AddSpanAttributes(r, telemetry.WebhookAttributes(ev.Event, room)...)

	// Bursts are acknowledged but not processed; the sweepers reconcile
	// whatever a dropped event would have cleaned up.
	if !s.hooks.Allow(room) {
		metrics.IncWebhookRejected("ratelimit")
		logger.Warn().
			Str(log.FieldRoom, room).
			Str(log.FieldEvent, ev.Event).
			Msg("webhook throttled")
		writeJSON(w, http.StatusOK, webhookResponse{Status: "throttled", Event: ev.Event})
		return
	}

	s.ctrl.HandleWebhook(r.Context(), ev)
	writeJSON(w, http.StatusOK, webhookResponse{Status: "ok", Event: ev.Event})
}
