// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package api exposes the orchestrator over HTTP: session start/end/
// heartbeat, status and log reads, the signed media-server webhook and the
// health endpoint. Handlers stay thin; every admission decision lives in
// the lifecycle controller, so the HTTP layer only translates between wire
// shapes and domain errors.
package api

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ManuGH/voxd/internal/api/middleware"
	"github.com/ManuGH/voxd/internal/config"
	"github.com/ManuGH/voxd/internal/health"
	"github.com/ManuGH/voxd/internal/lifecycle"
	"github.com/ManuGH/voxd/internal/log"
	"github.com/ManuGH/voxd/internal/ratelimit"
	"github.com/ManuGH/voxd/internal/webhook"
)

// Request bodies are small JSON documents; anything larger is abuse.
const maxBodyBytes = 1 << 20

// Coarse per-IP request budget per minute across all endpoints. The
// session-start budget is enforced separately against the shared store.
const globalRequestsPerMinute = 600

// Server wires the HTTP surface to the lifecycle controller.
type Server struct {
	cfg      config.Config
	ctrl     *lifecycle.Controller
	health   *health.Manager
	verifier *webhook.Verifier
	hooks    *ratelimit.Limiter
	trusted  []*net.IPNet
	logger   zerolog.Logger
}

// New assembles the server. The webhook burst limiter is created here with
// its defaults; the per-IP start limit lives in the controller.
func New(cfg config.Config, ctrl *lifecycle.Controller, hm *health.Manager, verifier *webhook.Verifier) *Server {
	return &Server{
		cfg:      cfg,
		ctrl:     ctrl,
		health:   hm,
		verifier: verifier,
		hooks:    ratelimit.New(ratelimit.DefaultConfig()),
		trusted:  parseTrustedProxies(cfg.TrustedProxies),
		logger:   log.WithComponent("api"),
	}
}

// Router builds the chi router with the canonical middleware stack and all
// routes. The metrics endpoint is not here; it gets its own listener.
func (s *Server) Router(srv config.ServerConfig) http.Handler {
	tracing := ""
	if s.cfg.TraceEnabled {
		tracing = "voxd-api"
	}

	r := middleware.NewRouter(middleware.StackConfig{
		AllowedOrigins:     s.cfg.AllowedOrigins,
		EnableMetrics:      true,
		TracingService:     tracing,
		EnableLogging:      true,
		GlobalRequestLimit: globalRequestsPerMinute,
		GlobalWindow:       time.Minute,
		RequestTimeout:     srv.RequestTimeout,
	})

	r.Post("/session/start", s.handleStart)
	r.Post("/session/end", s.handleEnd)
	r.Post("/session/heartbeat", s.handleHeartbeat)
	r.Get("/session/{id}", s.handleStatus)
	r.Get("/session/{id}/logs", s.handleLogs)
	r.Get("/sessions", s.handleSessions)
	r.Post("/webhook/livekit", s.handleWebhook)
	r.Get("/health", s.health.ServeHealth)

	return r
}

// sessionID pulls the path parameter; chi guarantees it is present on the
// routes that declare it.
func sessionID(r *http.Request) string {
	return chi.URLParam(r, "id")
}

// parseTrustedProxies turns the configured CIDR list into networks. Bare
// addresses are widened to single-host networks.
func parseTrustedProxies(entries []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			if ip := net.ParseIP(entry); ip != nil {
				bits := 32
				if ip.To4() == nil {
					bits = 128
				}
				entry = fmt.Sprintf("%s/%d", entry, bits)
			}
		}
		if _, ipnet, err := net.ParseCIDR(entry); err == nil {
			nets = append(nets, ipnet)
		}
	}
	return nets
}

func (s *Server) remoteTrusted(remote string) bool {
	if len(s.trusted) == 0 {
		return false
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, n := range s.trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// clientAddr resolves the originating address. Forwarding headers are
// honoured only when the direct peer is a trusted proxy; otherwise anyone
// could spoof a fresh rate-limit bucket per request.
func (s *Server) clientAddr(r *http.Request) string {
	if s.remoteTrusted(r.RemoteAddr) {
		return ratelimit.ClientIP(r)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
