// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/voxd/internal/api"
	"github.com/ManuGH/voxd/internal/config"
	"github.com/ManuGH/voxd/internal/daemon"
	"github.com/ManuGH/voxd/internal/health"
	"github.com/ManuGH/voxd/internal/lifecycle"
	"github.com/ManuGH/voxd/internal/log"
	"github.com/ManuGH/voxd/internal/pool"
	"github.com/ManuGH/voxd/internal/session"
	"github.com/ManuGH/voxd/internal/spawn"
	"github.com/ManuGH/voxd/internal/store"
	"github.com/ManuGH/voxd/internal/sweep"
	"github.com/ManuGH/voxd/internal/telemetry"
	"github.com/ManuGH/voxd/internal/token"
	"github.com/ManuGH/voxd/internal/version"
	"github.com/ManuGH/voxd/internal/webhook"
)

// killTimeout bounds the wait for a process group to vanish after SIGKILL.
const killTimeout = 5 * time.Second

// maskURL removes user info from a URL string for safe logging.
func maskURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url-redacted"
	}
	parsedURL.User = nil
	return parsedURL.String()
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "config" {
		os.Exit(runConfigCLI(os.Args[2:]))
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	// Configure logger with safe defaults until config is loaded
	log.Configure(log.Config{
		Level:   "info",
		Service: "voxd",
		Version: version.Version,
	})

	logger := log.WithComponent("daemon")

	// Create a context that listens for the interrupt signal from the OS
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.invalid").
			Msg("configuration incomplete, refusing to start")
	}

	// Re-configure logger with loaded configuration
	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Service: "voxd",
		Version: version.Version,
	})
	logger = log.WithComponent("daemon")

	serverCfg := config.ParseServerConfig()
	metricsAddr := config.ParseMetricsAddr()

	if err := health.PerformStartupChecks(ctx, cfg, serverCfg, metricsAddr); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "startup.checks.failed").
			Msg("startup checks failed")
	}

	logger.Info().
		Str("event", "daemon.starting").
		Str("version", version.Version).
		Str("listen", serverCfg.ListenAddr).
		Str("store", maskURL(cfg.RedisURL)).
		Str("media_server", maskURL(cfg.LiveKitURL)).
		Int("max_bots", cfg.MaxBots).
		Int("pool_size", cfg.PoolSize).
		Int("spawn_workers", cfg.SpawnConcurrency).
		Msg("starting session orchestrator")

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.TraceEnabled,
		ServiceName:    "voxd",
		ServiceVersion: version.Version,
		Environment:    config.ParseString("VOXD_ENVIRONMENT", "production"),
		ExporterType:   cfg.TraceExporter,
		Endpoint:       cfg.TraceEndpoint,
		SamplingRate:   cfg.TraceSampleRate,
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "telemetry.init.failed").
			Msg("failed to initialise tracing")
	}

	st, err := store.New(store.Config{URL: cfg.RedisURL}, log.WithComponent("store"))
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "store.connect.failed").
			Str("store", maskURL(cfg.RedisURL)).
			Msg("store connection failed")
	}

	registry := session.NewRegistry(st, session.Options{
		TTL:            cfg.SessionTTL,
		TerminateGrace: cfg.TerminateGrace,
		KillTimeout:    killTimeout,
	})

	spawns := spawn.New(spawn.Config{
		QueueCap:          cfg.SpawnQueueCap(),
		Workers:           cfg.SpawnConcurrency,
		StartupTimeout:    cfg.StartupTimeout,
		TerminateGrace:    cfg.TerminateGrace,
		SessionTTL:        cfg.SessionTTL,
		AgentCommand:      cfg.AgentCommand,
		AgentScript:       cfg.AgentScript,
		LaunchesPerSecond: float64(cfg.SpawnRate),
	}, registry, st)
	registry.SetCanceller(spawns)

	pm := pool.New(pool.Config{
		TargetSize:   cfg.PoolSize,
		DefaultVoice: cfg.DefaultVoice,
	}, registry, st, spawns, log.WithComponent("pool"))

	tokens := token.NewIssuer(cfg.LiveKitAPIKey, cfg.LiveKitSecret, cfg.TokenTTL)

	ctrl := lifecycle.New(lifecycle.Config{
		MaxSessions:     cfg.MaxBots,
		RateLimitMax:    cfg.RateLimitMax,
		RateLimitWindow: cfg.RateLimitWindow,
		DefaultVoice:    cfg.DefaultVoice,
		Voices:          cfg.Voices,
		ServerURL:       cfg.LiveKitURL,
	}, registry, st, spawns, pm, tokens)

	verifier := webhook.NewVerifier(cfg.LiveKitSecret, cfg.WebhookAllowUnsigned, log.WithComponent("webhook"))

	sweepLog := log.WithComponent("sweep")
	liveness := sweep.NewLiveness(registry, st, sweepLog)
	idle := sweep.NewIdle(registry, st, cfg.SessionTimeout, sweepLog)

	refillRunner := sweep.NewRunner("pool-refill", cfg.PoolRefillInterval, pm.RefillOnce, sweepLog)
	livenessRunner := sweep.NewRunner("liveness", cfg.LivenessInterval, liveness.LivenessOnce, sweepLog)
	idleRunner := sweep.NewRunner("idle", cfg.IdleSweepInterval, idle.IdleOnce, sweepLog)

	hm := health.NewManager(version.Version, cfg.MaxBots, st)
	hm.RegisterChecker(health.NewFileChecker("agent_script", cfg.AgentScript))
	hm.RegisterChecker(health.NewSweepChecker("liveness_sweep", 3*cfg.LivenessInterval, livenessRunner.LastSuccess))
	hm.RegisterChecker(health.NewSweepChecker("idle_sweep", 3*cfg.IdleSweepInterval, idleRunner.LastSuccess))

	srv := api.New(cfg, ctrl, hm, verifier)

	deps := daemon.Deps{
		Logger:         log.Base(),
		APIHandler:     srv.Router(serverCfg),
		MetricsHandler: promhttp.Handler(),
		MetricsAddr:    metricsAddr,
	}

	mgr, err := daemon.NewManager(serverCfg, deps)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "manager.creation.failed").
			Msg("failed to create daemon manager")
	}

	// Spans come only from the HTTP layer; the servers stop before hooks run.
	mgr.RegisterShutdownHook("telemetry", tp.Shutdown)

	// Start daemon app (blocks until shutdown)
	app := daemon.NewApp(logger, mgr, spawns, refillRunner, livenessRunner, idleRunner)
	runErr := app.Run(ctx)

	// The store outlives the app: spawn workers may still be flushing
	// cleanup writes while they drain.
	if err := st.Close(); err != nil {
		logger.Warn().Err(err).Msg("store close failed")
	}

	if runErr != nil {
		logger.Fatal().
			Err(runErr).
			Str("event", "daemon.failed").
			Msg("daemon app failed")
	}

	logger.Info().Msg("server exiting")
}
