// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package lifecycle

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/voxd/internal/pool"
	"github.com/ManuGH/voxd/internal/session"
	"github.com/ManuGH/voxd/internal/spawn"
	"github.com/ManuGH/voxd/internal/store"
	"github.com/ManuGH/voxd/internal/token"
)

type fakeSpawner struct {
	mu       sync.Mutex
	sessions []*session.Session
	err      error
}

func (f *fakeSpawner) EnqueueForSession(s *session.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sessions = append(f.sessions, s)
	return nil
}

func (f *fakeSpawner) enqueued() []*session.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*session.Session(nil), f.sessions...)
}

func newTestController(t *testing.T, mutate func(*Config)) (*store.Store, *session.Registry, *fakeSpawner, *Controller) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	st := store.NewFromClient(client, zerolog.Nop())
	reg := session.NewRegistry(st, session.Options{
		TTL:            time.Hour,
		TerminateGrace: 50 * time.Millisecond,
		KillTimeout:    time.Second,
	})
	sp := &fakeSpawner{}
	pm := pool.New(pool.Config{DefaultVoice: "Ashley"}, reg, st, sp, zerolog.Nop())

	cfg := Config{
		MaxSessions:     10,
		RateLimitWindow: time.Minute,
		DefaultVoice:    "Ashley",
		Voices:          []string{"Ashley", "Craig", "Wendy"},
		ServerURL:       "wss://media.example.com",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	tokens := token.NewIssuer("api_key", "api_secret_with_enough_length", time.Hour)
	return st, reg, sp, New(cfg, reg, st, sp, pm, tokens)
}

// seedPooled walks a session to pool membership the way a finished prewarm
// spawn would.
func seedPooled(t *testing.T, reg *session.Registry) *session.Session {
	t.Helper()
	ctx := context.Background()
	id := session.NewID()
	s, err := reg.Create(ctx, session.CreateParams{
		ID: id, VoiceID: "Ashley", SpawnJobID: id, Prewarmed: true,
	})
	require.NoError(t, err)
	require.NoError(t, reg.MarkReady(ctx, id, true, 900*time.Millisecond))
	return s
}

// seedReady walks a session to direct readiness for a user.
func seedReady(t *testing.T, reg *session.Registry, userName string) *session.Session {
	t.Helper()
	ctx := context.Background()
	id := session.NewID()
	s, err := reg.Create(ctx, session.CreateParams{
		ID: id, UserName: userName, VoiceID: "Ashley", SpawnJobID: id,
	})
	require.NoError(t, err)
	require.NoError(t, reg.MarkReady(ctx, id, false, time.Second))
	return s
}

func TestStartColdSpawn(t *testing.T) {
	st, _, sp, ctrl := newTestController(t, nil)
	ctx := context.Background()

	res, err := ctrl.Start(ctx, StartRequest{UserName: "alice"}, "10.0.0.1")
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.True(t, strings.HasPrefix(res.SessionID, "session_"), "got id %q", res.SessionID)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, "wss://media.example.com", res.ServerURL)
	assert.Equal(t, res.SessionID, res.RoomName)
	assert.Equal(t, "starting", res.Status)

	jobs := sp.enqueued()
	require.Len(t, jobs, 1)
	assert.Equal(t, res.SessionID, jobs[0].ID)
	assert.Equal(t, "Ashley", jobs[0].VoiceID, "omitted voice uses the default")
	assert.False(t, jobs[0].Prewarmed)

	inStarting, err := st.InIndex(ctx, store.IndexStarting, res.SessionID)
	require.NoError(t, err)
	assert.True(t, inStarting)

	mapped, err := st.GetUserSession(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, res.SessionID, mapped, "user maps to the session while it is still starting")
}

func TestStartIsIdempotentPerUser(t *testing.T) {
	_, _, sp, ctrl := newTestController(t, nil)
	ctx := context.Background()

	first, err := ctrl.Start(ctx, StartRequest{UserName: "alice"}, "10.0.0.1")
	require.NoError(t, err)
	second, err := ctrl.Start(ctx, StartRequest{UserName: "alice", VoiceID: "Craig"}, "10.0.0.1")
	require.NoError(t, err)

	assert.Equal(t, first.SessionID, second.SessionID)
	assert.NotEmpty(t, second.Token, "repeat start still gets a usable token")
	assert.Len(t, sp.enqueued(), 1, "no second spawn for the same user")
}

func TestStartAfterEndYieldsFreshSession(t *testing.T) {
	_, _, sp, ctrl := newTestController(t, nil)
	ctx := context.Background()

	first, err := ctrl.Start(ctx, StartRequest{UserName: "alice"}, "10.0.0.1")
	require.NoError(t, err)
	_, err = ctrl.End(ctx, first.SessionID, "")
	require.NoError(t, err)

	second, err := ctrl.Start(ctx, StartRequest{UserName: "alice"}, "10.0.0.1")
	require.NoError(t, err)

	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.Len(t, sp.enqueued(), 2)
}

func TestStartAssignsFromPool(t *testing.T) {
	st, reg, sp, ctrl := newTestController(t, nil)
	ctx := context.Background()

	pooled := seedPooled(t, reg)

	res, err := ctrl.Start(ctx, StartRequest{UserName: "alice"}, "10.0.0.1")
	require.NoError(t, err)

	assert.Equal(t, pooled.ID, res.SessionID)
	assert.Equal(t, "ready", res.Status)
	assert.NotEmpty(t, res.Token)
	assert.Empty(t, sp.enqueued(), "pool hit must not spawn")

	inPool, err := st.InIndex(ctx, store.IndexPool, pooled.ID)
	require.NoError(t, err)
	assert.False(t, inPool)

	s, err := reg.Get(ctx, pooled.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", s.UserName)
}

func TestStartCustomConfigBypassesPool(t *testing.T) {
	st, reg, sp, ctrl := newTestController(t, nil)
	ctx := context.Background()

	pooled := seedPooled(t, reg)

	res, err := ctrl.Start(ctx, StartRequest{UserName: "alice", VoiceID: "Wendy"}, "10.0.0.1")
	require.NoError(t, err)

	assert.NotEqual(t, pooled.ID, res.SessionID)
	assert.Equal(t, "starting", res.Status)

	jobs := sp.enqueued()
	require.Len(t, jobs, 1)
	assert.Equal(t, "Wendy", jobs[0].VoiceID)

	// The pooled agent stays available for the next default-config caller.
	inPool, err := st.InIndex(ctx, store.IndexPool, pooled.ID)
	require.NoError(t, err)
	assert.True(t, inPool)
}

func TestStartUnknownVoiceFallsBackToDefault(t *testing.T) {
	_, _, sp, ctrl := newTestController(t, nil)
	ctx := context.Background()

	res, err := ctrl.Start(ctx, StartRequest{UserName: "alice", VoiceID: "NoSuchVoice"}, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "starting", res.Status)

	jobs := sp.enqueued()
	require.Len(t, jobs, 1)
	assert.Equal(t, "Ashley", jobs[0].VoiceID)
}

func TestStartAtCapacity(t *testing.T) {
	_, reg, _, ctrl := newTestController(t, func(c *Config) { c.MaxSessions = 1 })
	ctx := context.Background()

	seedReady(t, reg, "zoe")

	_, err := ctrl.Start(ctx, StartRequest{UserName: "bob"}, "10.0.0.1")
	assert.ErrorIs(t, err, ErrAtCapacity)
}

func TestStartRateLimited(t *testing.T) {
	_, _, _, ctrl := newTestController(t, func(c *Config) { c.RateLimitMax = 2 })
	ctx := context.Background()

	_, err := ctrl.Start(ctx, StartRequest{UserName: "alice"}, "10.0.0.1")
	require.NoError(t, err)
	_, err = ctrl.Start(ctx, StartRequest{UserName: "bob"}, "10.0.0.1")
	require.NoError(t, err)

	_, err = ctrl.Start(ctx, StartRequest{UserName: "carol"}, "10.0.0.1")
	assert.ErrorIs(t, err, ErrRateLimited)

	// A different address still has its own budget.
	_, err = ctrl.Start(ctx, StartRequest{UserName: "carol"}, "10.0.0.2")
	assert.NoError(t, err)
}

func TestStartFullQueueReportsCapacityAndReaps(t *testing.T) {
	st, _, sp, ctrl := newTestController(t, nil)
	ctx := context.Background()

	sp.err = spawn.ErrQueueFull

	_, err := ctrl.Start(ctx, StartRequest{UserName: "alice"}, "10.0.0.1")
	assert.ErrorIs(t, err, ErrAtCapacity)

	// The created record must not linger once its spawn was never queued.
	mapped, err := st.GetUserSession(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, mapped)

	size, err := st.IndexSize(ctx, store.IndexStarting)
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestStartHonorsCorrelationToken(t *testing.T) {
	_, _, sp, ctrl := newTestController(t, nil)
	ctx := context.Background()

	res, err := ctrl.Start(ctx, StartRequest{
		UserName:         "alice",
		CorrelationToken: "corr-7f3a2b1c",
	}, "10.0.0.1")
	require.NoError(t, err)

	assert.Equal(t, "corr-7f3a2b1c", res.SessionID)
	require.Len(t, sp.enqueued(), 1)
	assert.Equal(t, "corr-7f3a2b1c", sp.enqueued()[0].ID)
}

func TestStartCorrelationTokenCollisionGetsFreshID(t *testing.T) {
	_, reg, _, ctrl := newTestController(t, nil)
	ctx := context.Background()

	bob := seedReady(t, reg, "bob")

	res, err := ctrl.Start(ctx, StartRequest{
		UserName:         "carol",
		CorrelationToken: bob.ID,
	}, "10.0.0.1")
	require.NoError(t, err)

	assert.NotEqual(t, bob.ID, res.SessionID)

	// Bob's session survives untouched.
	s, err := reg.Get(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, "bob", s.UserName)
}

func TestStartMalformedCorrelationTokenIgnored(t *testing.T) {
	_, _, _, ctrl := newTestController(t, nil)
	ctx := context.Background()

	res, err := ctrl.Start(ctx, StartRequest{
		UserName:         "alice",
		CorrelationToken: "not a valid id!",
	}, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.SessionID, "session_"))
}

func TestConcurrentStartsShareOneSession(t *testing.T) {
	_, _, sp, ctrl := newTestController(t, nil)
	ctx := context.Background()

	const callers = 8
	results := make([]*StartResult, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = ctrl.Start(ctx, StartRequest{UserName: "alice"}, "10.0.0.1")
		}(i)
	}
	wg.Wait()

	ids := make(map[string]bool)
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		ids[results[i].SessionID] = true
	}
	assert.Len(t, ids, 1, "every caller must land on the same session")
	assert.Len(t, sp.enqueued(), 1)
}

func TestEndRemovesSessionAndIsIdempotent(t *testing.T) {
	_, reg, _, ctrl := newTestController(t, nil)
	ctx := context.Background()

	res, err := ctrl.Start(ctx, StartRequest{UserName: "alice"}, "10.0.0.1")
	require.NoError(t, err)

	rep, err := ctrl.End(ctx, res.SessionID, "")
	require.NoError(t, err)
	assert.Equal(t, "user_ended", rep.Reason)
	assert.True(t, rep.StoreCleaned)
	assert.False(t, rep.AlreadyRemoved)

	_, err = reg.Get(ctx, res.SessionID)
	assert.ErrorIs(t, err, session.ErrNotFound)

	again, err := ctrl.End(ctx, res.SessionID, "")
	require.NoError(t, err)
	assert.True(t, again.AlreadyRemoved)
	assert.Equal(t, rep.Reason, again.Reason)
}

func TestEndUnknownSession(t *testing.T) {
	_, _, _, ctrl := newTestController(t, nil)

	_, err := ctrl.End(context.Background(), "session_0_neverexisted", "")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestHeartbeatRefreshesIdleClock(t *testing.T) {
	st, reg, _, ctrl := newTestController(t, nil)
	ctx := context.Background()

	res, err := ctrl.Start(ctx, StartRequest{UserName: "alice"}, "10.0.0.1")
	require.NoError(t, err)

	stale := time.Now().Add(-20 * time.Minute)
	require.NoError(t, st.PatchSession(ctx, res.SessionID, map[string]string{
		"lastActive": formatUnix(stale),
	}))

	require.NoError(t, ctrl.Heartbeat(ctx, res.SessionID))

	s, err := reg.Get(ctx, res.SessionID)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), s.LastActive, 5*time.Second)
}

func TestHeartbeatUnknownSession(t *testing.T) {
	_, _, _, ctrl := newTestController(t, nil)

	err := ctrl.Heartbeat(context.Background(), "session_0_neverexisted")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func formatUnix(ts time.Time) string {
	return strconv.FormatInt(ts.Unix(), 10)
}
