// SPDX-License-Identifier: MIT

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ManuGH/voxd/internal/config"
)

func runConfigCLI(args []string) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printConfigUsage()
		return 0
	}

	switch args[0] {
	case "validate":
		return runConfigValidate()
	case "dump":
		return runConfigDump()
	default:
		fmt.Fprintf(os.Stderr, "Unknown subcommand: %s\n\n", args[0])
		printConfigUsage()
		return 2
	}
}

func printConfigUsage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  voxd config validate")
	fmt.Fprintln(os.Stderr, "  voxd config dump")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Configuration is read from the environment (VOXD_* variables).")
}

func runConfigValidate() int {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error:\n  %v\n", err)
		return 1
	}

	fmt.Println("configuration is valid")
	return 0
}

func runConfigDump() int {
	cfg := config.Load()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(effectiveConfig(cfg)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// effectiveConfig renders the loaded configuration keyed by environment
// variable, with credentials stripped. Secrets show only whether they are set.
func effectiveConfig(cfg config.Config) map[string]any {
	return map[string]any{
		"VOXD_REDIS_URL":              maskURL(cfg.RedisURL),
		"VOXD_LIVEKIT_URL":            cfg.LiveKitURL,
		"VOXD_LIVEKIT_API_KEY":        cfg.LiveKitAPIKey,
		"VOXD_LIVEKIT_API_SECRET":     redactSecret(cfg.LiveKitSecret),
		"VOXD_AGENT_COMMAND":          cfg.AgentCommand,
		"VOXD_AGENT_SCRIPT":           cfg.AgentScript,
		"VOXD_MAX_BOTS":               cfg.MaxBots,
		"VOXD_POOL_SIZE":              cfg.PoolSize,
		"VOXD_SPAWN_CONCURRENCY":      cfg.SpawnConcurrency,
		"VOXD_SPAWN_RATE":             cfg.SpawnRate,
		"VOXD_STARTUP_TIMEOUT":        cfg.StartupTimeout.String(),
		"VOXD_SESSION_TIMEOUT":        cfg.SessionTimeout.String(),
		"VOXD_SESSION_TTL":            cfg.SessionTTL.String(),
		"VOXD_TERMINATE_GRACE":        cfg.TerminateGrace.String(),
		"VOXD_POOL_REFILL_INTERVAL":   cfg.PoolRefillInterval.String(),
		"VOXD_LIVENESS_INTERVAL":      cfg.LivenessInterval.String(),
		"VOXD_IDLE_SWEEP_INTERVAL":    cfg.IdleSweepInterval.String(),
		"VOXD_RATE_LIMIT_MAX":         cfg.RateLimitMax,
		"VOXD_RATE_LIMIT_WINDOW":      cfg.RateLimitWindow.String(),
		"VOXD_TOKEN_TTL":              cfg.TokenTTL.String(),
		"VOXD_DEFAULT_VOICE":          cfg.DefaultVoice,
		"VOXD_VOICES":                 strings.Join(cfg.Voices, ","),
		"VOXD_WEBHOOK_ALLOW_UNSIGNED": cfg.WebhookAllowUnsigned,
		"VOXD_ALLOWED_ORIGINS":        strings.Join(cfg.AllowedOrigins, ","),
		"VOXD_TRUSTED_PROXIES":        strings.Join(cfg.TrustedProxies, ","),
		"VOXD_LOG_LEVEL":              cfg.LogLevel,
		"VOXD_TRACE_ENABLED":          cfg.TraceEnabled,
		"VOXD_TRACE_EXPORTER":         cfg.TraceExporter,
		"VOXD_TRACE_ENDPOINT":         cfg.TraceEndpoint,
	}
}

func redactSecret(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(unset)"
	}
	return "********"
}
