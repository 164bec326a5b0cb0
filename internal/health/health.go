// SPDX-License-Identifier: MIT

// Package health reports whether this instance can serve voice sessions.
// The store check is built in because the session counts come from the same
// round trip; additional component checks register at boot. Degraded means
// serving but impaired and still answers 200; only unhealthy answers 503 so
// orchestrators drain the instance.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/ManuGH/voxd/internal/log"
	"github.com/ManuGH/voxd/internal/metrics"
	"github.com/ManuGH/voxd/internal/store"
)

// Status represents the overall health status.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is one component's verdict.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Checker is a named component health check.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// SessionCounts mirrors the cardinality of the session state indexes.
type SessionCounts struct {
	Ready    int `json:"ready"`
	Starting int `json:"starting"`
	Pool     int `json:"pool"`
}

// Response is the health endpoint payload.
type Response struct {
	Status         Status                 `json:"status"`
	Version        string                 `json:"version,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
	StoreConnected bool                   `json:"storeConnected"`
	Sessions       SessionCounts          `json:"sessions"`
	Capacity       int                    `json:"capacity"`
	Checks         map[string]CheckResult `json:"checks,omitempty"`
}

// Manager runs the registered checks and assembles the health response.
type Manager struct {
	version  string
	capacity int
	store    *store.Store
	checkers []Checker
}

// NewManager creates a health manager. capacity is the configured session
// ceiling, reported verbatim so operators can read utilisation off one call.
func NewManager(version string, capacity int, st *store.Store) *Manager {
	return &Manager{
		version:  version,
		capacity: capacity,
		store:    st,
		checkers: make([]Checker, 0),
	}
}

// RegisterChecker adds a component check. Register everything before the
// server starts; the slice is read without locking afterwards.
func (m *Manager) RegisterChecker(checker Checker) {
	m.checkers = append(m.checkers, checker)
}

// Evaluate runs the store check plus every registered checker. The overall
// status is the worst individual status.
func (m *Manager) Evaluate(ctx context.Context) Response {
	resp := Response{
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: time.Now(),
		Capacity:  m.capacity,
		Checks:    make(map[string]CheckResult, len(m.checkers)+1),
	}

	record := func(name string, result CheckResult) {
		resp.Checks[name] = result
		switch result.Status {
		case StatusUnhealthy:
			resp.Status = StatusUnhealthy
		case StatusDegraded:
			if resp.Status == StatusHealthy {
				resp.Status = StatusDegraded
			}
		}
	}

	record("store", m.checkStore(ctx, &resp))
	for _, checker := range m.checkers {
		record(checker.Name(), checker.Check(ctx))
	}

	return resp
}

// checkStore pings the store and, while connected, reads the three index
// cardinalities into the response. A reachable store with failing count
// reads degrades instead of failing: sessions may still be serveable.
func (m *Manager) checkStore(ctx context.Context, resp *Response) CheckResult {
	if m.store == nil {
		return CheckResult{Status: StatusUnhealthy, Error: "store not configured"}
	}
	if err := m.store.Ping(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	resp.StoreConnected = true

	reads := []struct {
		index store.Index
		dst   *int
	}{
		{store.IndexReady, &resp.Sessions.Ready},
		{store.IndexStarting, &resp.Sessions.Starting},
		{store.IndexPool, &resp.Sessions.Pool},
	}
	for _, r := range reads {
		n, err := m.store.IndexSize(ctx, r.index)
		if err != nil {
			return CheckResult{
				Status:  StatusDegraded,
				Message: "connected, session counts unavailable",
				Error:   err.Error(),
			}
		}
		*r.dst = int(n)
	}
	metrics.RecordSessionCounts(resp.Sessions.Ready, resp.Sessions.Starting, resp.Sessions.Pool)

	return CheckResult{Status: StatusHealthy, Message: "connected"}
}

// ServeHealth handles HTTP health requests. Degraded still answers 200.
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "health")

	resp := m.Evaluate(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if resp.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Msg("failed to encode health response")
	}

	logger.Debug().
		Str(log.FieldStatus, string(resp.Status)).
		Bool("store_connected", resp.StoreConnected).
		Msg("health check performed")
}

// FileChecker verifies that a required file exists and is non-empty. Used
// for the agent entrypoint script: a missing script means no session can
// ever spawn.
type FileChecker struct {
	name string
	path string
}

// NewFileChecker creates a checker for file existence.
func NewFileChecker(name, path string) *FileChecker {
	return &FileChecker{
		name: name,
		path: path,
	}
}

func (c *FileChecker) Name() string {
	return c.name
}

func (c *FileChecker) Check(_ context.Context) CheckResult {
	if c.path == "" {
		return CheckResult{
			Status:  StatusHealthy,
			Message: "not configured (optional)",
		}
	}

	info, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusUnhealthy,
				Error:   "file not found",
				Message: c.path,
			}
		}
		return CheckResult{
			Status: StatusUnhealthy,
			Error:  err.Error(),
		}
	}

	if info.IsDir() {
		return CheckResult{
			Status: StatusUnhealthy,
			Error:  "expected file, got directory",
		}
	}

	if info.Size() == 0 {
		return CheckResult{
			Status:  StatusDegraded,
			Message: "file is empty",
		}
	}

	return CheckResult{
		Status:  StatusHealthy,
		Message: "file exists and readable",
	}
}

// SweepChecker reports on a background sweeper's freshness. A stalled
// sweeper means dead agents and idle sessions stop being reaped, but live
// sessions still serve, so staleness degrades rather than fails.
type SweepChecker struct {
	name    string
	maxAge  time.Duration
	lastRun func() time.Time
}

// NewSweepChecker creates a freshness checker over a sweeper's last clean
// cycle. maxAge should comfortably exceed the sweep interval.
func NewSweepChecker(name string, maxAge time.Duration, lastRun func() time.Time) *SweepChecker {
	return &SweepChecker{
		name:    name,
		maxAge:  maxAge,
		lastRun: lastRun,
	}
}

func (c *SweepChecker) Name() string {
	return c.name
}

func (c *SweepChecker) Check(_ context.Context) CheckResult {
	last := c.lastRun()

	if last.IsZero() {
		return CheckResult{
			Status:  StatusDegraded,
			Message: "no completed cycle yet",
		}
	}

	if age := time.Since(last); age > c.maxAge {
		return CheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("last cycle %s ago", age.Round(time.Second)),
		}
	}

	return CheckResult{
		Status:  StatusHealthy,
		Message: "cycling",
	}
}
