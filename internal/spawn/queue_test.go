// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

//go:build unix

package spawn

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/voxd/internal/session"
	"github.com/ManuGH/voxd/internal/store"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func newTestQueue(t *testing.T, script string, mutate func(*Config)) (*store.Store, *session.Registry, *Queue) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	st := store.NewFromClient(client, zerolog.Nop())
	reg := session.NewRegistry(st, session.Options{
		TTL:            time.Hour,
		TerminateGrace: 100 * time.Millisecond,
		KillTimeout:    time.Second,
	})

	cfg := Config{
		QueueCap:       8,
		Workers:        2,
		StartupTimeout: 3 * time.Second,
		TerminateGrace: 100 * time.Millisecond,
		SessionTTL:     time.Hour,
		AgentCommand:   "sh",
		AgentScript:    script,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	q := New(cfg, reg, st)
	reg.SetCanceller(q)
	return st, reg, q
}

func startQueue(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)
	t.Cleanup(func() {
		cancel()
		q.Wait()
	})
}

func createStarting(t *testing.T, reg *session.Registry, p session.CreateParams) *session.Session {
	t.Helper()
	if p.ID == "" {
		p.ID = session.NewID()
	}
	p.SpawnJobID = p.ID
	s, err := reg.Create(context.Background(), p)
	require.NoError(t, err)
	return s
}

func TestDirectSpawnBecomesReady(t *testing.T) {
	script := writeScript(t, `echo "Connected to room $2"; sleep 30`)
	st, reg, q := newTestQueue(t, script, nil)
	startQueue(t, q)
	ctx := context.Background()

	s := createStarting(t, reg, session.CreateParams{UserName: "alice", VoiceID: "Ashley"})
	require.NoError(t, q.EnqueueForSession(s))

	require.Eventually(t, func() bool {
		got, err := reg.Get(ctx, s.ID)
		return err == nil && got.Status == session.StatusReady
	}, 5*time.Second, 50*time.Millisecond, "agent should become ready")

	got, err := reg.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Positive(t, got.AgentPID)
	assert.Equal(t, got.AgentPID, got.AgentPGID)
	assert.Positive(t, got.StartupTime)

	inReady, err := st.InIndex(ctx, store.IndexReady, s.ID)
	require.NoError(t, err)
	assert.True(t, inReady)

	mapped, err := st.GetUserSession(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, s.ID, mapped)

	rep := reg.Remove(ctx, s.ID, "test_teardown")
	assert.True(t, rep.ProcessKilled)
}

func TestPrewarmSpawnLandsInPool(t *testing.T) {
	script := writeScript(t, `echo "Pipeline started"; sleep 30`)
	st, reg, q := newTestQueue(t, script, nil)
	startQueue(t, q)
	ctx := context.Background()

	s := createStarting(t, reg, session.CreateParams{VoiceID: "Ashley", Prewarmed: true})
	require.NoError(t, q.EnqueueForSession(s))

	require.Eventually(t, func() bool {
		ok, err := st.InIndex(ctx, store.IndexPool, s.ID)
		return err == nil && ok
	}, 5*time.Second, 50*time.Millisecond, "prewarmed agent should land in the pool")

	inReady, err := st.InIndex(ctx, store.IndexReady, s.ID)
	require.NoError(t, err)
	assert.False(t, inReady)

	reg.Remove(ctx, s.ID, "test_teardown")
}

func TestPrewarmIgnoresParticipantMarkers(t *testing.T) {
	// Pool agents have no joiner; a participant marker must not count.
	script := writeScript(t, `echo "Participant joined"; sleep 30`)
	_, reg, q := newTestQueue(t, script, func(c *Config) {
		c.StartupTimeout = 600 * time.Millisecond
	})
	startQueue(t, q)
	ctx := context.Background()

	s := createStarting(t, reg, session.CreateParams{VoiceID: "Ashley", Prewarmed: true})
	require.NoError(t, q.EnqueueForSession(s))

	require.Eventually(t, func() bool {
		_, err := reg.Get(ctx, s.ID)
		return err == session.ErrNotFound
	}, 5*time.Second, 50*time.Millisecond, "timed-out prewarm should be removed")

	rep := reg.Remove(ctx, s.ID, "again")
	assert.True(t, rep.AlreadyRemoved)
	assert.Equal(t, "spawn_timeout", rep.Reason)
}

func TestPrematureExitMarksError(t *testing.T) {
	script := writeScript(t, `echo "model load failed"; exit 7`)
	_, reg, q := newTestQueue(t, script, nil)
	startQueue(t, q)
	ctx := context.Background()

	s := createStarting(t, reg, session.CreateParams{UserName: "alice", VoiceID: "Ashley"})
	require.NoError(t, q.EnqueueForSession(s))

	require.Eventually(t, func() bool {
		_, err := reg.Get(ctx, s.ID)
		return err == session.ErrNotFound
	}, 5*time.Second, 50*time.Millisecond)

	rep := reg.Remove(ctx, s.ID, "again")
	assert.True(t, rep.AlreadyRemoved)
	assert.Equal(t, "premature_exit", rep.Reason)
}

func TestStartupTimeoutKillsSilentAgent(t *testing.T) {
	script := writeScript(t, `sleep 30`)
	_, reg, q := newTestQueue(t, script, func(c *Config) {
		c.StartupTimeout = 500 * time.Millisecond
	})
	startQueue(t, q)
	ctx := context.Background()

	s := createStarting(t, reg, session.CreateParams{UserName: "alice", VoiceID: "Ashley"})
	require.NoError(t, q.EnqueueForSession(s))

	require.Eventually(t, func() bool {
		_, err := reg.Get(ctx, s.ID)
		return err == session.ErrNotFound
	}, 5*time.Second, 50*time.Millisecond)

	rep := reg.Remove(ctx, s.ID, "again")
	assert.Equal(t, "spawn_timeout", rep.Reason)
}

func TestAgentArgsCarryConfigSnapshot(t *testing.T) {
	// The script proves which argv it got by echoing it back.
	script := writeScript(t, `echo "argv:$*"; echo "Pipeline started"; sleep 30`)
	st, reg, q := newTestQueue(t, script, nil)
	startQueue(t, q)
	ctx := context.Background()

	s := createStarting(t, reg, session.CreateParams{
		UserName:     "alice",
		VoiceID:      "Wendy",
		OpeningLine:  "Hi!",
		SystemPrompt: "Be brief.",
	})
	require.NoError(t, q.EnqueueForSession(s))

	require.Eventually(t, func() bool {
		got, err := reg.Get(ctx, s.ID)
		return err == nil && got.Status == session.StatusReady
	}, 5*time.Second, 50*time.Millisecond)

	logs, err := st.AgentLogs(ctx, s.ID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Contains(t, logs[0], "--room "+s.ID)
	assert.Contains(t, logs[0], "--voice-id Wendy")
	assert.Contains(t, logs[0], "--opening-line Hi!")
	assert.Contains(t, logs[0], "--system-prompt Be brief.")

	reg.Remove(ctx, s.ID, "test_teardown")
}

func TestEnqueueOverflow(t *testing.T) {
	script := writeScript(t, `sleep 30`)
	_, _, q := newTestQueue(t, script, func(c *Config) {
		c.QueueCap = 1
	})
	// Workers deliberately not started; the channel holds the only slot.

	require.NoError(t, q.Enqueue(Job{SessionID: "a"}))
	err := q.Enqueue(Job{SessionID: "b"})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 1, q.Depth())
}

func TestCancelQueuedJobNeverSpawns(t *testing.T) {
	script := writeScript(t, `echo "Pipeline started"; sleep 30`)
	_, reg, q := newTestQueue(t, script, nil)
	ctx := context.Background()

	s := createStarting(t, reg, session.CreateParams{UserName: "alice", VoiceID: "Ashley"})
	require.NoError(t, q.EnqueueForSession(s))

	assert.True(t, q.Cancel(s.ID), "a queued job is cancellable")

	startQueue(t, q)
	time.Sleep(300 * time.Millisecond)

	got, err := reg.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusStarting, got.Status, "cancelled job must not progress")
	assert.Zero(t, got.AgentPID, "cancelled job must not launch a process")
}

func TestCancelUnknownID(t *testing.T) {
	script := writeScript(t, `true`)
	_, _, q := newTestQueue(t, script, nil)

	assert.False(t, q.Cancel("session_never_was"))
}

func TestLaunchFailureRetriesThenErrors(t *testing.T) {
	_, reg, q := newTestQueue(t, "/nonexistent/agent.sh", func(c *Config) {
		c.AgentCommand = "/nonexistent/runtime"
	})
	startQueue(t, q)
	ctx := context.Background()

	s := createStarting(t, reg, session.CreateParams{UserName: "alice", VoiceID: "Ashley"})
	require.NoError(t, q.EnqueueForSession(s))

	require.Eventually(t, func() bool {
		_, err := reg.Get(ctx, s.ID)
		return err == session.ErrNotFound
	}, 10*time.Second, 100*time.Millisecond, "exhausted retries should remove the session")

	rep := reg.Remove(ctx, s.ID, "again")
	assert.Equal(t, "launch_failed", rep.Reason)
}

func TestEndDuringSpawnReapsProcess(t *testing.T) {
	// The agent never signals readiness, so the scan is mid-flight when
	// the caller ends the session.
	script := writeScript(t, `sleep 30`)
	_, reg, q := newTestQueue(t, script, nil)
	startQueue(t, q)
	ctx := context.Background()

	s := createStarting(t, reg, session.CreateParams{UserName: "alice", VoiceID: "Ashley"})
	require.NoError(t, q.EnqueueForSession(s))

	// Wait until the worker attached a pid, then end the session.
	require.Eventually(t, func() bool {
		got, err := reg.Get(ctx, s.ID)
		return err == nil && got.AgentPID > 0
	}, 5*time.Second, 50*time.Millisecond)

	rep := reg.Remove(ctx, s.ID, "user_ended")
	assert.True(t, rep.SpawnCancelled, "the in-flight scan should be cancelled")
	assert.True(t, rep.ProcessKilled)

	_, err := reg.Get(ctx, s.ID)
	assert.ErrorIs(t, err, session.ErrNotFound)
}
