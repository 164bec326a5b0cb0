// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package lifecycle is the orchestration façade. It composes the registry,
// the spawn queue, the pool and the token issuer into the operations the
// HTTP layer exposes, and owns all admission policy: rate limits, the bot
// ceiling, per-user idempotency and pool eligibility. The composed parts
// stay pure mechanism.
package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ManuGH/voxd/internal/log"
	"github.com/ManuGH/voxd/internal/metrics"
	"github.com/ManuGH/voxd/internal/pool"
	"github.com/ManuGH/voxd/internal/session"
	"github.com/ManuGH/voxd/internal/spawn"
	"github.com/ManuGH/voxd/internal/store"
	"github.com/ManuGH/voxd/internal/token"
)

// Spawner enqueues the agent spawn for a freshly created session.
// Satisfied by *spawn.Queue.
type Spawner interface {
	EnqueueForSession(s *session.Session) error
}

// Config carries the admission policy knobs.
type Config struct {
	// MaxSessions caps ready + starting sessions across all callers.
	MaxSessions int

	// RateLimitMax starts per RateLimitWindow per client address. Zero
	// disables the limit.
	RateLimitMax    int
	RateLimitWindow time.Duration

	// DefaultVoice is used when a request omits the voice or names an
	// unknown one. Voices is the allowed catalogue.
	DefaultVoice string
	Voices       []string

	// ServerURL is handed to callers for the media connection.
	ServerURL string
}

// Controller implements the session operations. Safe for concurrent use.
type Controller struct {
	cfg      Config
	registry *session.Registry
	store    *store.Store
	spawner  Spawner
	pool     *pool.Manager
	tokens   *token.Issuer
	logger   zerolog.Logger

	voices map[string]bool
	flight singleflight.Group
}

func New(cfg Config, reg *session.Registry, st *store.Store, spawner Spawner, pm *pool.Manager, tokens *token.Issuer) *Controller {
	voices := make(map[string]bool, len(cfg.Voices))
	for _, v := range cfg.Voices {
		voices[v] = true
	}
	return &Controller{
		cfg:      cfg,
		registry: reg,
		store:    st,
		spawner:  spawner,
		pool:     pm,
		tokens:   tokens,
		logger:   log.WithComponent("lifecycle"),
		voices:   voices,
	}
}

// StartRequest is the decoded start body. UserName is validated non-empty
// by the HTTP layer before this package sees it.
type StartRequest struct {
	UserName         string `json:"userName"`
	VoiceID          string `json:"voiceId,omitempty"`
	OpeningLine      string `json:"openingLine,omitempty"`
	SystemPrompt     string `json:"systemPrompt,omitempty"`
	CorrelationToken string `json:"correlationToken,omitempty"`
}

// StartResult is what a caller needs to join the conversation.
type StartResult struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
	ServerURL string `json:"serverUrl"`
	RoomName  string `json:"roomName"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// Start admits one session for the caller: an existing one when the user
// already has it, a pre-warmed one when the pool can serve the request, a
// cold spawn otherwise. Concurrent starts for the same user coalesce into
// a single admission and share its result.
func (c *Controller) Start(ctx context.Context, req StartRequest, clientAddr string) (*StartResult, error) {
	if c.cfg.RateLimitMax > 0 {
		allowed, err := c.store.RateLimit(ctx, "start:"+clientAddr, c.cfg.RateLimitWindow, c.cfg.RateLimitMax)
		if err != nil {
			return nil, err
		}
		if !allowed {
			metrics.IncRateLimited()
			c.logger.Warn().
				Str("client_addr", clientAddr).
				Str(log.FieldUserName, req.UserName).
				Msg("session start rate limited")
			return nil, ErrRateLimited
		}
	}

	v, err, shared := c.flight.Do(req.UserName, func() (any, error) {
		return c.admit(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug().Str(log.FieldUserName, req.UserName).Msg("concurrent start coalesced")
	}
	return v.(*StartResult), nil
}

func (c *Controller) admit(ctx context.Context, req StartRequest) (*StartResult, error) {
	ready, err := c.store.IndexSize(ctx, store.IndexReady)
	if err != nil {
		return nil, err
	}
	starting, err := c.store.IndexSize(ctx, store.IndexStarting)
	if err != nil {
		return nil, err
	}
	if int(ready+starting) >= c.cfg.MaxSessions {
		c.logger.Warn().
			Int64("ready", ready).
			Int64("starting", starting).
			Int("max", c.cfg.MaxSessions).
			Msg("session start rejected, at capacity")
		return nil, ErrAtCapacity
	}

	if existing, err := c.existingSession(ctx, req.UserName); err != nil {
		return nil, err
	} else if existing != nil {
		tok, err := c.tokens.RoomJoin(existing.ID, req.UserName)
		if err != nil {
			return nil, err
		}
		metrics.IncSessionStarted("existing")
		c.logger.Info().
			Str(log.FieldSessionID, existing.ID).
			Str(log.FieldUserName, req.UserName).
			Str(log.FieldStatus, string(existing.Status)).
			Msg("start returned the user's existing session")
		return &StartResult{
			Success:   true,
			SessionID: existing.ID,
			Token:     tok,
			ServerURL: c.cfg.ServerURL,
			RoomName:  existing.ID,
			Status:    string(existing.Status),
			Message:   "Session already active for this user.",
		}, nil
	}

	voice := req.VoiceID
	switch {
	case voice == "":
		voice = c.cfg.DefaultVoice
	case !c.voices[voice]:
		c.logger.Warn().
			Str(log.FieldVoiceID, voice).
			Str(log.FieldUserName, req.UserName).
			Msg("unknown voice requested, using default")
		voice = c.cfg.DefaultVoice
	}

	// A pooled agent runs the default configuration and has its own id, so
	// any customisation or caller-chosen id forces a cold spawn.
	poolEligible := voice == c.cfg.DefaultVoice &&
		req.OpeningLine == "" && req.SystemPrompt == "" && req.CorrelationToken == ""
	if poolEligible {
		s, ok, err := c.pool.AssignFromPool(ctx, req.UserName)
		if err != nil {
			return nil, err
		}
		if ok {
			tok, err := c.tokens.RoomJoin(s.ID, req.UserName)
			if err != nil {
				c.registry.Remove(ctx, s.ID, "token_mint_failed")
				return nil, err
			}
			metrics.IncSessionStarted("pool")
			return &StartResult{
				Success:   true,
				SessionID: s.ID,
				Token:     tok,
				ServerURL: c.cfg.ServerURL,
				RoomName:  s.ID,
				Status:    string(session.StatusReady),
				Message:   "Session ready. Pre-warmed voice agent assigned.",
			}, nil
		}
	} else {
		metrics.IncPoolAssignment("bypass")
	}

	id, err := c.chooseID(ctx, req)
	if err != nil {
		return nil, err
	}

	s, err := c.registry.Create(ctx, session.CreateParams{
		ID:           id,
		UserName:     req.UserName,
		VoiceID:      voice,
		OpeningLine:  req.OpeningLine,
		SystemPrompt: req.SystemPrompt,
		SpawnJobID:   id,
	})
	if err != nil {
		return nil, err
	}

	if err := c.spawner.EnqueueForSession(s); err != nil {
		c.registry.Remove(ctx, id, "spawn_enqueue_failed")
		if errors.Is(err, spawn.ErrQueueFull) {
			return nil, ErrAtCapacity
		}
		return nil, err
	}

	tok, err := c.tokens.RoomJoin(id, req.UserName)
	if err != nil {
		// A caller without a token can never join; reap the spawn rather
		// than leave it for the idle sweep.
		c.registry.Remove(ctx, id, "token_mint_failed")
		return nil, err
	}

	metrics.IncSessionStarted("spawn")
	return &StartResult{
		Success:   true,
		SessionID: id,
		Token:     tok,
		ServerURL: c.cfg.ServerURL,
		RoomName:  id,
		Status:    string(session.StatusStarting),
		Message:   "Session created. Voice agent is being spawned.",
	}, nil
}

// existingSession resolves the user's current session, dropping stale or
// terminal mappings along the way.
func (c *Controller) existingSession(ctx context.Context, userName string) (*session.Session, error) {
	id, err := c.store.GetUserSession(ctx, userName)
	if err != nil || id == "" {
		return nil, err
	}

	s, err := c.registry.Get(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		if derr := c.store.DeleteUserSession(ctx, userName, id); derr != nil {
			c.logger.Warn().Err(derr).Str(log.FieldUserName, userName).Msg("stale user mapping cleanup failed")
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if s.Status.Terminal() {
		if derr := c.store.DeleteUserSession(ctx, userName, id); derr != nil {
			c.logger.Warn().Err(derr).Str(log.FieldUserName, userName).Msg("terminal user mapping cleanup failed")
		}
		return nil, nil
	}
	return s, nil
}

// chooseID honours a well-formed correlation token unless its id is already
// taken; everything else gets a generated id.
func (c *Controller) chooseID(ctx context.Context, req StartRequest) (string, error) {
	if req.CorrelationToken == "" {
		return session.NewID(), nil
	}
	if !session.ValidID(req.CorrelationToken) {
		c.logger.Warn().
			Str(log.FieldUserName, req.UserName).
			Msg("malformed correlation token ignored")
		return session.NewID(), nil
	}
	_, err := c.registry.Get(ctx, req.CorrelationToken)
	if errors.Is(err, session.ErrNotFound) {
		return req.CorrelationToken, nil
	}
	if err != nil {
		return "", err
	}
	c.logger.Warn().
		Str(log.FieldSessionID, req.CorrelationToken).
		Str(log.FieldUserName, req.UserName).
		Msg("correlation token collides with a live session, generating fresh id")
	return session.NewID(), nil
}

// End tears the session down. The returned report says what cleanup did;
// ErrSessionNotFound distinguishes "never existed" from "ended moments ago",
// which still yields the cached report.
func (c *Controller) End(ctx context.Context, id, reason string) (*session.CleanupReport, error) {
	if reason == "" {
		reason = "user_ended"
	}
	rep := c.registry.Remove(ctx, id, reason)
	if rep.AlreadyRemoved && !c.registry.WasRemoved(id) {
		return nil, ErrSessionNotFound
	}
	return rep, nil
}

// Heartbeat refreshes the session's idle clock.
func (c *Controller) Heartbeat(ctx context.Context, id string) error {
	err := c.registry.Heartbeat(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		return ErrSessionNotFound
	}
	return err
}
