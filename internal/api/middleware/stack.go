// SPDX-License-Identifier: MIT

// Package middleware provides the HTTP ingress middleware for the API
// server: one canonical stack so cross-cutting concerns cannot drift
// between routers.
package middleware

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ManuGH/voxd/internal/log"
)

// StackConfig configures the canonical ingress middleware stack.
type StackConfig struct {
	// CORS
	AllowedOrigins []string

	// Security headers
	CSP string

	// Observability
	EnableMetrics  bool
	TracingService string // empty disables tracing
	EnableLogging  bool

	// Coarse per-IP flood guard; 0 disables.
	GlobalRequestLimit int
	GlobalWindow       time.Duration

	// Per-request deadline; 0 disables.
	RequestTimeout time.Duration
}

// NewRouter constructs a chi router with the canonical stack applied.
func NewRouter(cfg StackConfig) *chi.Mux {
	r := chi.NewRouter()
	ApplyStack(r, cfg)
	return r
}

// ApplyStack applies the canonical middleware stack to r. Order matters:
// the recoverer is outermost, correlation comes before anything that logs,
// and the flood guard runs after observability so rejections are visible.
func ApplyStack(r chi.Router, cfg StackConfig) {
	r.Use(Recoverer)
	r.Use(RequestID)
	r.Use(CORS(cfg.AllowedOrigins))
	r.Use(SecurityHeaders(cfg.CSP))
	if cfg.EnableMetrics {
		r.Use(Metrics())
	}
	if cfg.TracingService != "" {
		r.Use(OTelHTTP(cfg.TracingService))
	}
	if cfg.EnableLogging {
		r.Use(log.Middleware())
	}
	if cfg.GlobalRequestLimit > 0 {
		r.Use(RateLimit(RateLimitConfig{
			RequestLimit: cfg.GlobalRequestLimit,
			WindowSize:   cfg.GlobalWindow,
		}))
	}
	if cfg.RequestTimeout > 0 {
		r.Use(chimw.Timeout(cfg.RequestTimeout))
	}
}
