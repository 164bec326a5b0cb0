// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config loads the orchestrator configuration from the environment.
// Precedence is ENV > default; there is no config file. Conventional
// unprefixed variables (REDIS_URL, LIVEKIT_*) are honoured as aliases.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Defaults for the session engine. Every value can be overridden via VOXD_* env.
const (
	DefaultMaxBots          = 50
	DefaultPoolSize         = 3
	DefaultSpawnConcurrency = 4
	DefaultSpawnRate        = 2

	DefaultStartupTimeout     = 30 * time.Second
	DefaultSessionTimeout     = 30 * time.Minute
	DefaultSessionTTL         = 4 * time.Hour
	DefaultTerminateGrace     = 2 * time.Second
	DefaultPoolRefillInterval = 30 * time.Second
	DefaultLivenessInterval   = 60 * time.Second
	DefaultIdleSweepInterval  = 5 * time.Minute

	DefaultRateLimitMax    = 10
	DefaultRateLimitWindow = 60 * time.Second

	DefaultTokenTTL = 2 * time.Hour

	DefaultVoice = "Ashley"
)

// DefaultVoices is the allowed voice catalogue when VOXD_VOICES is unset.
var DefaultVoices = []string{"Ashley", "Craig", "Edward", "Olivia", "Wendy", "Priya"}

// Config holds the complete orchestrator configuration.
type Config struct {
	// Store
	RedisURL string

	// Media server
	LiveKitURL    string
	LiveKitAPIKey string
	LiveKitSecret string

	// Agent launch
	AgentCommand string
	AgentScript  string

	// Capacity and pool
	MaxBots          int
	PoolSize         int
	SpawnConcurrency int
	SpawnRate        int // launches per second across all workers; 0 disables pacing

	// Timing
	StartupTimeout     time.Duration
	SessionTimeout     time.Duration
	SessionTTL         time.Duration
	TerminateGrace     time.Duration
	PoolRefillInterval time.Duration
	LivenessInterval   time.Duration
	IdleSweepInterval  time.Duration

	// Per-IP rate limit on session start
	RateLimitMax    int
	RateLimitWindow time.Duration

	// Join token
	TokenTTL time.Duration

	// Voice catalogue
	DefaultVoice string
	Voices       []string

	// Webhook
	WebhookAllowUnsigned bool

	// HTTP ingress
	AllowedOrigins []string
	TrustedProxies []string

	// Logging / tracing
	LogLevel        string
	TraceEnabled    bool
	TraceExporter   string
	TraceEndpoint   string
	TraceSampleRate float64
}

// Load reads the full configuration from the environment.
func Load() Config {
	return Config{
		RedisURL: ParseStringWithAlias("VOXD_REDIS_URL", "REDIS_URL", "redis://localhost:6379/0"),

		LiveKitURL:    ParseStringWithAlias("VOXD_LIVEKIT_URL", "LIVEKIT_URL", ""),
		LiveKitAPIKey: ParseStringWithAlias("VOXD_LIVEKIT_API_KEY", "LIVEKIT_API_KEY", ""),
		LiveKitSecret: ParseStringWithAlias("VOXD_LIVEKIT_API_SECRET", "LIVEKIT_API_SECRET", ""),

		AgentCommand: ParseString("VOXD_AGENT_COMMAND", "python3"),
		AgentScript:  ParseString("VOXD_AGENT_SCRIPT", ""),

		MaxBots:          ParseInt("VOXD_MAX_BOTS", DefaultMaxBots),
		PoolSize:         ParseInt("VOXD_POOL_SIZE", DefaultPoolSize),
		SpawnConcurrency: ParseInt("VOXD_SPAWN_CONCURRENCY", DefaultSpawnConcurrency),
		SpawnRate:        ParseInt("VOXD_SPAWN_RATE", DefaultSpawnRate),

		StartupTimeout:     ParseDuration("VOXD_STARTUP_TIMEOUT", DefaultStartupTimeout),
		SessionTimeout:     ParseDuration("VOXD_SESSION_TIMEOUT", DefaultSessionTimeout),
		SessionTTL:         ParseDuration("VOXD_SESSION_TTL", DefaultSessionTTL),
		TerminateGrace:     ParseDuration("VOXD_TERMINATE_GRACE", DefaultTerminateGrace),
		PoolRefillInterval: ParseDuration("VOXD_POOL_REFILL_INTERVAL", DefaultPoolRefillInterval),
		LivenessInterval:   ParseDuration("VOXD_LIVENESS_INTERVAL", DefaultLivenessInterval),
		IdleSweepInterval:  ParseDuration("VOXD_IDLE_SWEEP_INTERVAL", DefaultIdleSweepInterval),

		RateLimitMax:    ParseInt("VOXD_RATE_LIMIT_MAX", DefaultRateLimitMax),
		RateLimitWindow: ParseDuration("VOXD_RATE_LIMIT_WINDOW", DefaultRateLimitWindow),

		TokenTTL: ParseDuration("VOXD_TOKEN_TTL", DefaultTokenTTL),

		DefaultVoice: ParseString("VOXD_DEFAULT_VOICE", DefaultVoice),
		Voices:       ParseCSV("VOXD_VOICES", DefaultVoices),

		WebhookAllowUnsigned: ParseBool("VOXD_WEBHOOK_ALLOW_UNSIGNED", false),

		AllowedOrigins: ParseCSV("VOXD_ALLOWED_ORIGINS", nil),
		TrustedProxies: ParseCSV("VOXD_TRUSTED_PROXIES", nil),

		LogLevel:        ParseString("VOXD_LOG_LEVEL", "info"),
		TraceEnabled:    ParseBool("VOXD_TRACE_ENABLED", false),
		TraceExporter:   ParseString("VOXD_TRACE_EXPORTER", "grpc"),
		TraceEndpoint:   ParseString("VOXD_TRACE_ENDPOINT", "localhost:4317"),
		TraceSampleRate: float64(ParseInt("VOXD_TRACE_SAMPLE_PERCENT", 100)) / 100.0,
	}
}

// ParseCSV reads a comma-separated list from the environment.
func ParseCSV(key string, defaultValue []string) []string {
	raw := ParseString(key, "")
	if strings.TrimSpace(raw) == "" {
		return defaultValue
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// Validate checks that the configuration is complete enough to serve traffic.
// Missing secrets are fatal at boot; the daemon must not start half-configured.
func (c Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.LiveKitURL) == "" {
		missing = append(missing, "VOXD_LIVEKIT_URL")
	}
	if strings.TrimSpace(c.LiveKitAPIKey) == "" {
		missing = append(missing, "VOXD_LIVEKIT_API_KEY")
	}
	if strings.TrimSpace(c.LiveKitSecret) == "" {
		missing = append(missing, "VOXD_LIVEKIT_API_SECRET")
	}
	if strings.TrimSpace(c.AgentScript) == "" {
		missing = append(missing, "VOXD_AGENT_SCRIPT")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.MaxBots <= 0 {
		return fmt.Errorf("VOXD_MAX_BOTS must be positive, got %d", c.MaxBots)
	}
	if c.PoolSize < 0 {
		return fmt.Errorf("VOXD_POOL_SIZE must not be negative, got %d", c.PoolSize)
	}
	if c.PoolSize > c.MaxBots {
		return fmt.Errorf("VOXD_POOL_SIZE (%d) must not exceed VOXD_MAX_BOTS (%d)", c.PoolSize, c.MaxBots)
	}
	if c.SpawnConcurrency <= 0 {
		return fmt.Errorf("VOXD_SPAWN_CONCURRENCY must be positive, got %d", c.SpawnConcurrency)
	}
	if c.SpawnRate < 0 {
		return fmt.Errorf("VOXD_SPAWN_RATE must not be negative, got %d", c.SpawnRate)
	}
	if c.StartupTimeout <= 0 || c.TerminateGrace <= 0 {
		return fmt.Errorf("timeouts must be positive (startup=%s, grace=%s)", c.StartupTimeout, c.TerminateGrace)
	}
	// The record TTL is the crash backstop: it has to outlive any legitimate
	// conversation or the store reaps sessions that are still alive.
	if c.SessionTTL < c.SessionTimeout {
		return fmt.Errorf("VOXD_SESSION_TTL (%s) must be >= VOXD_SESSION_TIMEOUT (%s)", c.SessionTTL, c.SessionTimeout)
	}
	return nil
}

// SpawnQueueCap returns the bound for the in-memory spawn queue.
func (c Config) SpawnQueueCap() int {
	return 2 * c.MaxBots
}

// VoiceAllowed reports whether the given voice is in the catalogue.
func (c Config) VoiceAllowed(voice string) bool {
	for _, v := range c.Voices {
		if v == voice {
			return true
		}
	}
	return false
}
