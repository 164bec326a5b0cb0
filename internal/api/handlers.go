// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/ManuGH/voxd/internal/api/middleware"
	"github.com/ManuGH/voxd/internal/lifecycle"
	"github.com/ManuGH/voxd/internal/session"
	"github.com/ManuGH/voxd/internal/telemetry"
)

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req lifecycle.StartRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.UserName) == "" {
		badRequest(w, "userName is required")
		return
	}

	res, err := s.ctrl.Start(r.Context(), req, s.clientAddr(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	prewarmed := res.Status == string(session.StatusReady)
	middleware.AddSpanAttributes(r,
		telemetry.SessionAttributes(res.SessionID, req.UserName, req.VoiceID, prewarmed)...)

	writeJSON(w, http.StatusOK, res)
}

type endRequest struct {
	SessionID string `json:"sessionId"`
}

type endResponse struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Details *session.CleanupReport `json:"details"`
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	var req endRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.SessionID == "" {
		badRequest(w, "sessionId is required")
		return
	}

	rep, err := s.ctrl.End(r.Context(), req.SessionID, "")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := endResponse{Success: true, Message: "Session ended.", Details: rep}
	code := http.StatusOK
	if len(rep.Errors) > 0 {
		// Partial cleanup: the session is gone as far as the caller is
		// concerned, but an operator should notice.
		resp.Success = false
		resp.Message = "Session ended with errors."
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, resp)
}

type heartbeatRequest struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if req.SessionID == "" {
		badRequest(w, "sessionId is required")
		return
	}

	if err := s.ctrl.Heartbeat(r.Context(), req.SessionID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	p, err := s.ctrl.Status(r.Context(), sessionID(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type logsResponse struct {
	SessionID string   `json:"sessionId"`
	Logs      []string `json:"logs"`
	Count     int      `json:"count"`
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			badRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > 100 {
		limit = 100
	}

	logs, err := s.ctrl.Logs(r.Context(), id, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if logs == nil {
		logs = []string{}
	}
	writeJSON(w, http.StatusOK, logsResponse{SessionID: id, Logs: logs, Count: len(logs)})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	ov, err := s.ctrl.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}
