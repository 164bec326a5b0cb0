// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ManuGH/voxd/internal/api/middleware"
	"github.com/ManuGH/voxd/internal/lifecycle"
	"github.com/ManuGH/voxd/internal/log"
	"github.com/ManuGH/voxd/internal/store"
	"github.com/ManuGH/voxd/internal/telemetry"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps domain errors onto status codes. Unrecognised errors
// become an opaque 500; their detail goes to the log, not the wire.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		code    int
		msg     string
		errType string
	)
	switch {
	case errors.Is(err, lifecycle.ErrRateLimited):
		code = http.StatusTooManyRequests
		msg = "Too many session starts from this address. Please slow down."
		errType = "rate_limited"
		w.Header().Set("Retry-After", strconv.Itoa(int(s.cfg.RateLimitWindow.Seconds())))
	case errors.Is(err, lifecycle.ErrAtCapacity):
		code = http.StatusServiceUnavailable
		msg = "Server at capacity. Please try again later."
		errType = "at_capacity"
	case errors.Is(err, lifecycle.ErrSessionNotFound):
		code = http.StatusNotFound
		msg = "Session not found."
		errType = "not_found"
	case store.IsUnavailable(err):
		code = http.StatusServiceUnavailable
		msg = "Session store unavailable. Please try again later."
		errType = "store_unavailable"
	default:
		code = http.StatusInternalServerError
		msg = "Internal server error."
		errType = "internal"
	}

	logger := log.WithComponentFromContext(r.Context(), "api")
	if code >= http.StatusInternalServerError && errType == "internal" {
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	} else {
		logger.Warn().Err(err).Str("path", r.URL.Path).Int("status", code).Msg("request rejected")
	}
	middleware.AddSpanAttributes(r, telemetry.ErrorAttributes(errType)...)

	writeJSON(w, code, errorBody{Error: msg})
}

// badRequest reports malformed input; these carry their reason to the
// caller since the caller caused them.
func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}
