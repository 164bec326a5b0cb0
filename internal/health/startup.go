// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package health

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ManuGH/voxd/internal/config"
	"github.com/ManuGH/voxd/internal/log"
)

// PerformStartupChecks validates the environment before the daemon begins
// serving: addresses parse, URLs carry sane schemes and the agent runtime is
// actually present. Failing fast here beats spawning sessions that can never
// come up.
func PerformStartupChecks(_ context.Context, cfg config.Config, srv config.ServerConfig, metricsAddr string) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("Running pre-flight startup checks...")

	if err := checkListenAddr(logger, "API listen address", srv.ListenAddr); err != nil {
		return err
	}
	if err := checkListenAddr(logger, "metrics listen address", metricsAddr); err != nil {
		return err
	}
	if err := checkMediaServerURL(logger, cfg.LiveKitURL); err != nil {
		return err
	}
	if err := checkStoreURL(logger, cfg.RedisURL); err != nil {
		return err
	}
	if err := checkAgentRuntime(logger, cfg.AgentCommand, cfg.AgentScript); err != nil {
		return err
	}

	logger.Info().Msg("✅ All startup checks passed")
	return nil
}

func checkListenAddr(logger zerolog.Logger, label, addr string) error {
	if addr == "" {
		return nil
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", label, addr, err)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil || portNum < 0 || portNum > 65535 {
		return fmt.Errorf("invalid port %q in %s %q", port, label, addr)
	}
	logger.Info().Str("addr", addr).Msgf("✓ %s is valid", label)
	return nil
}

func checkMediaServerURL(logger zerolog.Logger, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid VOXD_LIVEKIT_URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("VOXD_LIVEKIT_URL scheme must be ws, wss, http or https, got: %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("VOXD_LIVEKIT_URL has no host: %q", raw)
	}
	logger.Info().Str("url", raw).Msg("✓ Media server URL is valid")
	return nil
}

func checkStoreURL(logger zerolog.Logger, raw string) error {
	// The URL may embed credentials; log only the verdict.
	if _, err := redis.ParseURL(raw); err != nil {
		return fmt.Errorf("invalid VOXD_REDIS_URL: %w", err)
	}
	logger.Info().Msg("✓ Store URL is valid")
	return nil
}

func checkAgentRuntime(logger zerolog.Logger, command, script string) error {
	resolved, err := exec.LookPath(command)
	if err != nil {
		return fmt.Errorf("agent command not found (%s): %w", command, err)
	}
	if err := checkFileReadable(script); err != nil {
		return fmt.Errorf("agent script not readable (%s): %w", script, err)
	}
	logger.Info().Str("command", resolved).Str("script", script).Msg("✓ Agent runtime available")
	return nil
}

func checkFileReadable(path string) error {
	f, err := os.Open(path) // #nosec G304 -- path comes from operator config; verifying readability is expected
	if err != nil {
		return err
	}
	return f.Close()
}
