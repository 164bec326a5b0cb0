// SPDX-License-Identifier: MIT

// Package ratelimit smooths inbound webhook bursts. The media server
// retries aggressively when a delivery fails, and a busy room can emit
// participant churn faster than teardown completes; a small token bucket
// per room plus a global one keeps that from amplifying into store load.
// Session starts are limited elsewhere, against the shared store, so that
// limit holds across instances.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds the bucket parameters.
type Config struct {
	GlobalRate  rate.Limit // events per second across all rooms
	GlobalBurst int

	PerKeyRate  rate.Limit // events per second per room
	PerKeyBurst int

	// CleanupInterval bounds the per-key map; all buckets reset together.
	CleanupInterval time.Duration
}

// DefaultConfig is sized for webhook traffic: generous globally, tight per
// room.
func DefaultConfig() Config {
	return Config{
		GlobalRate:      100,
		GlobalBurst:     200,
		PerKeyRate:      5,
		PerKeyBurst:     10,
		CleanupInterval: 5 * time.Minute,
	}
}

// Limiter combines a global bucket with lazily created per-key buckets.
type Limiter struct {
	config Config

	global *rate.Limiter
	perKey map[string]*rate.Limiter
	mu     sync.Mutex

	lastCleanup time.Time
}

func New(config Config) *Limiter {
	return &Limiter{
		config:      config,
		global:      rate.NewLimiter(config.GlobalRate, config.GlobalBurst),
		perKey:      make(map[string]*rate.Limiter),
		lastCleanup: time.Now(),
	}
}

// Allow reports whether one more event for key fits under both buckets.
func (l *Limiter) Allow(key string) bool {
	if !l.global.Allow() {
		return false
	}
	return l.keyLimiter(key).Allow()
}

func (l *Limiter) keyLimiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Dropping every bucket at once is coarse but keeps the map bounded
	// without per-entry bookkeeping; a reset only grants one extra burst.
	if time.Since(l.lastCleanup) >= l.config.CleanupInterval {
		l.perKey = make(map[string]*rate.Limiter)
		l.lastCleanup = time.Now()
	}

	limiter, ok := l.perKey[key]
	if !ok {
		limiter = rate.NewLimiter(l.config.PerKeyRate, l.config.PerKeyBurst)
		l.perKey[key] = limiter
	}
	return limiter
}

// ClientIP extracts the originating address, trusting forwarding headers
// in the usual order.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// First entry is the original client.
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
