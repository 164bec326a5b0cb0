// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package spawn

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/ManuGH/voxd/internal/agent"
	"github.com/ManuGH/voxd/internal/log"
	"github.com/ManuGH/voxd/internal/metrics"
	"github.com/ManuGH/voxd/internal/session"
	"github.com/rs/zerolog"
)

// Readiness markers, matched as substrings of agent output. Direct spawns
// accept connection markers because the caller may already be in the room;
// pool agents have no joiner, so only pipeline-initialisation counts.
var (
	initMarkers = []string{
		"Pipeline started",
		"LiveKit transport created",
		"Inworld TTS service initialized",
	}
	connectMarkers = []string{
		"Connected to",
		"Room joined",
		"Participant joined",
	}
)

const (
	maxLaunchAttempts = 3
	launchBackoffBase = 500 * time.Millisecond
)

type scanOutcome int

const (
	scanReady scanOutcome = iota
	scanTimeout
	scanExited
	scanCancelled
)

func (q *Queue) process(ctx context.Context, logger zerolog.Logger, job Job) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if !q.begin(job.SessionID, cancel) {
		metrics.IncSpawn("cancelled")
		logger.Debug().Str(log.FieldSessionID, job.SessionID).Msg("job cancelled before start")
		return
	}
	defer q.untrackActive(job.SessionID)

	if q.limiter != nil {
		if err := q.limiter.Wait(jobCtx); err != nil {
			metrics.IncSpawn("cancelled")
			return
		}
	}

	logger = logger.With().
		Str(log.FieldSessionID, job.SessionID).
		Bool("prewarm", job.Prewarm).
		Logger()

	start := time.Now()
	rng := rand.New(rand.NewSource(time.Now().UnixNano())) // #nosec G404

	for attempt := 1; attempt <= maxLaunchAttempts; attempt++ {
		handle, err := q.launch(jobCtx, job)
		if err != nil {
			logger.Warn().Err(err).Int("attempt", attempt).Msg("agent launch failed")
			if attempt == maxLaunchAttempts {
				metrics.IncSpawn("launch_error")
				q.registry.MarkError(ctx, job.SessionID,
					fmt.Sprintf("failed to launch agent: %v", err), "launch_failed")
				return
			}
			metrics.IncSpawnRetry()
			backoff := launchBackoffBase * time.Duration(1<<(attempt-1))
			jitter := time.Duration(rng.Intn(250)) * time.Millisecond
			select {
			case <-jobCtx.Done():
				metrics.IncSpawn("cancelled")
				return
			case <-time.After(backoff + jitter):
			}
			continue
		}

		q.finish(ctx, jobCtx, logger, job, handle, start)
		return
	}
}

// launch reads the config snapshot and starts the agent process. Missing
// config falls back to defaults; the session may have been created by an
// older orchestrator run.
func (q *Queue) launch(ctx context.Context, job Job) (*agent.Handle, error) {
	voiceID := "Ashley"
	var openingLine, systemPrompt string

	cfg, err := q.store.GetSessionConfig(ctx, job.SessionID)
	if err != nil {
		q.logger.Warn().Err(err).Str(log.FieldSessionID, job.SessionID).Msg("config snapshot read failed, using defaults")
	}
	if cfg != nil {
		if v := cfg["voiceId"]; v != "" {
			voiceID = v
		}
		openingLine = cfg["openingLine"]
		systemPrompt = cfg["systemPrompt"]
	}

	args := []string{q.cfg.AgentScript, "--room", job.SessionID, "--voice-id", voiceID}
	if openingLine != "" {
		args = append(args, "--opening-line", openingLine)
	}
	if systemPrompt != "" {
		args = append(args, "--system-prompt", systemPrompt)
	}

	sessionID := job.SessionID
	return agent.Launch(agent.Spec{
		SessionID: sessionID,
		Command:   q.cfg.AgentCommand,
		Args:      args,
		RingSize:  100,
		OnLine: func(line string) {
			// Mirror the tail; losing a line here only degrades debugging.
			mirrorCtx, mirrorCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer mirrorCancel()
			_ = q.store.AppendAgentLog(mirrorCtx, sessionID, line, q.cfg.SessionTTL)
		},
	})
}

// finish owns the handle from attach to verdict.
func (q *Queue) finish(ctx, jobCtx context.Context, logger zerolog.Logger, job Job, handle *agent.Handle, start time.Time) {
	if err := q.registry.AttachProcess(ctx, job.SessionID, handle.PID()); err != nil {
		// The session was removed while we were launching; the fresh
		// process belongs to nobody.
		logger.Warn().Err(err).Int(log.FieldPID, handle.PID()).Msg("attach failed, reaping orphan agent")
		_ = handle.Terminate(q.cfg.TerminateGrace)
		metrics.IncSpawn("cancelled")
		return
	}

	outcome, lastLine := q.waitReady(jobCtx, handle, job.Prewarm)
	switch outcome {
	case scanReady:
		startup := time.Since(start)
		if err := q.registry.MarkReady(ctx, job.SessionID, job.Prewarm, startup); err != nil {
			logger.Warn().Err(err).Msg("session vanished before ready, reaping agent")
			_ = handle.Terminate(q.cfg.TerminateGrace)
			metrics.IncSpawn("cancelled")
			return
		}
		metrics.IncSpawn("ready")
		metrics.ObserveSpawnDuration(startup.Seconds())
		logger.Info().
			Dur("startup", startup).
			Str("marker", lastLine).
			Msg("agent ready")

	case scanTimeout:
		_ = handle.Terminate(q.cfg.TerminateGrace)
		metrics.IncSpawn("timeout")
		q.registry.MarkError(ctx, job.SessionID,
			fmt.Sprintf("agent failed to become ready within %s", q.cfg.StartupTimeout), "spawn_timeout")

	case scanExited:
		select {
		case <-handle.Done():
		case <-time.After(q.cfg.TerminateGrace):
			// Output ended but the process lingers; put it down before
			// collecting the exit.
			_ = handle.Terminate(q.cfg.TerminateGrace)
		}
		status := handle.Wait()
		metrics.IncSpawn("premature_exit")
		q.registry.MarkError(ctx, job.SessionID,
			fmt.Sprintf("agent exited prematurely: exit code %d", status.Code), "premature_exit")

	case scanCancelled:
		_ = handle.Terminate(q.cfg.TerminateGrace)
		metrics.IncSpawn("cancelled")
		logger.Info().Msg("spawn cancelled mid-flight")
	}
}

// waitReady scans output lines under the startup deadline. After readiness
// the worker stops reading; the handle keeps draining its pipe and filling
// the ring on its own.
func (q *Queue) waitReady(ctx context.Context, handle *agent.Handle, prewarm bool) (scanOutcome, string) {
	deadline := time.NewTimer(q.cfg.StartupTimeout)
	defer deadline.Stop()

	lines := handle.Lines()
	exited := handle.Done()

	for {
		select {
		case <-ctx.Done():
			return scanCancelled, ""
		case <-deadline.C:
			return scanTimeout, ""
		case <-exited:
			// Keep reading: the marker may sit in the buffer ahead of
			// the exit notification.
			exited = nil
		case line, ok := <-lines:
			if !ok {
				return scanExited, ""
			}
			if matchesReady(line, prewarm) {
				return scanReady, line
			}
		}
	}
}

func matchesReady(line string, prewarm bool) bool {
	for _, marker := range initMarkers {
		if strings.Contains(line, marker) {
			return true
		}
	}
	if prewarm {
		return false
	}
	for _, marker := range connectMarkers {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}

// EnqueueForSession is a convenience wrapper used by lifecycle and pool:
// it builds the job and maps queue overflow to the caller's error.
func (q *Queue) EnqueueForSession(s *session.Session) error {
	return q.Enqueue(Job{
		SessionID: s.ID,
		UserName:  s.UserName,
		Prewarm:   s.Prewarmed,
	})
}
