// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/ManuGH/voxd/internal/log"
	"github.com/ManuGH/voxd/internal/metrics"
	"github.com/ManuGH/voxd/internal/procgroup"
	"github.com/ManuGH/voxd/internal/store"
	"github.com/rs/zerolog"
)

// ErrNotFound means the record is absent, expired, or already removed.
var ErrNotFound = errors.New("session not found")

// Canceller revokes an in-flight spawn job for a session id. Cancel reports
// whether a job was actually pending.
type Canceller interface {
	Cancel(sessionID string) bool
}

// Options tunes registry behaviour.
type Options struct {
	// TTL bounds every record against orchestrator crashes.
	TTL time.Duration

	// TerminateGrace is the SIGTERM-to-SIGKILL delay during removal.
	TerminateGrace time.Duration

	// KillTimeout bounds the wait for a group to vanish after SIGKILL.
	KillTimeout time.Duration
}

// maxCachedReports bounds the idempotency cache for cleanup reports.
const maxCachedReports = 1024

// Registry exclusively owns mutation of session state. All transitions for
// one id serialise on a per-id mutex; different ids proceed in parallel. The
// store is the durable mirror, so a restarted orchestrator rebuilds its view
// from there.
type Registry struct {
	store     *store.Store
	opts      Options
	canceller Canceller
	logger    zerolog.Logger

	mu          sync.Mutex
	locks       map[string]*sync.Mutex
	reports     map[string]*CleanupReport
	reportOrder []string
}

// NewRegistry builds a registry over the given store.
func NewRegistry(st *store.Store, opts Options) *Registry {
	return &Registry{
		store:   st,
		opts:    opts,
		logger:  log.WithComponent("registry"),
		locks:   make(map[string]*sync.Mutex),
		reports: make(map[string]*CleanupReport),
	}
}

// SetCanceller wires the spawn queue in after construction; the queue itself
// depends on the registry, so this breaks the knot.
func (r *Registry) SetCanceller(c Canceller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.canceller = c
}

func (r *Registry) idLock(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.locks[id]
	if !ok {
		m = &sync.Mutex{}
		r.locks[id] = m
	}
	return m
}

func (r *Registry) cachedReport(id string) *CleanupReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reports[id]
}

// WasRemoved reports whether id was torn down recently enough that its
// cleanup report is still cached. Callers use it to tell "ended a moment
// ago" apart from "never existed".
func (r *Registry) WasRemoved(id string) bool {
	return r.cachedReport(id) != nil
}

func (r *Registry) cacheReport(id string, rep *CleanupReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.reports[id]; exists {
		return
	}
	r.reports[id] = rep
	r.reportOrder = append(r.reportOrder, id)
	if len(r.reportOrder) > maxCachedReports {
		oldest := r.reportOrder[0]
		r.reportOrder = r.reportOrder[1:]
		delete(r.reports, oldest)
	}
}

// CreateParams describes a new session. An empty ID means generate one.
type CreateParams struct {
	ID           string
	UserName     string
	VoiceID      string
	OpeningLine  string
	SystemPrompt string
	SpawnJobID   string
	Prewarmed    bool
}

// Create writes a fresh record in status starting and indexes it. The config
// snapshot is written under its own key so it is immutable per session.
func (r *Registry) Create(ctx context.Context, p CreateParams) (*Session, error) {
	id := p.ID
	if id == "" {
		id = NewID()
	}

	now := time.Now()
	s := &Session{
		ID:           id,
		UserName:     p.UserName,
		VoiceID:      p.VoiceID,
		OpeningLine:  p.OpeningLine,
		SystemPrompt: p.SystemPrompt,
		SpawnJobID:   p.SpawnJobID,
		Status:       StatusStarting,
		StartTime:    now,
		LastActive:   now,
		Prewarmed:    p.Prewarmed,
	}

	lock := r.idLock(id)
	lock.Lock()
	defer lock.Unlock()

	// A reused correlation id is a new incarnation; drop the stale report.
	r.mu.Lock()
	delete(r.reports, id)
	r.mu.Unlock()

	if err := r.store.PutSession(ctx, id, s.ToHash(), r.opts.TTL); err != nil {
		return nil, err
	}
	if err := r.store.PutSessionConfig(ctx, id, s.ConfigHash(), r.opts.TTL); err != nil {
		return nil, err
	}
	if err := r.store.AddToIndex(ctx, store.IndexStarting, id); err != nil {
		return nil, err
	}
	// Map the user while still starting, so a second Start finds this
	// session instead of creating another. Pool sessions have no user yet.
	if p.UserName != "" {
		if err := r.store.SetUserSession(ctx, p.UserName, id, r.opts.TTL); err != nil {
			r.logger.Warn().Err(err).Str(log.FieldSessionID, id).Msg("user mapping write failed")
		}
	}

	r.logger.Info().
		Str(log.FieldSessionID, id).
		Str(log.FieldUserName, p.UserName).
		Str(log.FieldVoiceID, p.VoiceID).
		Bool("prewarmed", p.Prewarmed).
		Msg("session created")
	return s, nil
}

// Get reads one record; ErrNotFound when absent.
func (r *Registry) Get(ctx context.Context, id string) (*Session, error) {
	fields, err := r.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, ErrNotFound
	}
	return FromHash(id, fields), nil
}

// AttachProcess records the agent's pid before any readiness detection, so
// a crash mid-spawn still leaves enough state to kill the group later. The
// pgid equals the pid because the agent is launched as group leader.
func (r *Registry) AttachProcess(ctx context.Context, id string, pid int) error {
	lock := r.idLock(id)
	lock.Lock()
	defer lock.Unlock()

	if r.cachedReport(id) != nil {
		return ErrNotFound
	}
	fields, err := r.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if fields == nil {
		return ErrNotFound
	}

	if err := r.store.PatchSession(ctx, id, map[string]string{
		fieldAgentPID:  strconv.Itoa(pid),
		fieldAgentPGID: strconv.Itoa(pid),
	}); err != nil {
		return err
	}
	if err := r.store.SetAgentPID(ctx, id, pid, r.opts.TTL); err != nil {
		r.logger.Warn().Err(err).Str(log.FieldSessionID, id).Msg("pid mirror write failed")
	}

	r.logger.Debug().
		Str(log.FieldSessionID, id).
		Int(log.FieldPID, pid).
		Msg("agent process attached")
	return nil
}

// MarkReady moves a session from starting to ready (or the pool). The SRem
// on session:starting is the guard: if cleanup already claimed the id, the
// removal comes back false and the caller must tear its process down.
func (r *Registry) MarkReady(ctx context.Context, id string, asPool bool, startup time.Duration) error {
	lock := r.idLock(id)
	lock.Lock()
	defer lock.Unlock()

	if r.cachedReport(id) != nil {
		return ErrNotFound
	}
	fields, err := r.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if fields == nil {
		return ErrNotFound
	}

	wasStarting, err := r.store.RemoveFromIndex(ctx, store.IndexStarting, id)
	if err != nil {
		return err
	}
	if !wasStarting {
		return ErrNotFound
	}

	target := store.IndexReady
	if asPool {
		target = store.IndexPool
	}
	if err := r.store.AddToIndex(ctx, target, id); err != nil {
		return err
	}

	now := time.Now()
	patch := map[string]string{
		fieldStatus:      string(StatusReady),
		fieldLastActive:  formatTime(now),
		fieldStartupTime: strconv.FormatFloat(startup.Seconds(), 'f', 3, 64),
	}
	if err := r.store.PatchSession(ctx, id, patch); err != nil {
		return err
	}

	if !asPool {
		userName := fields[fieldUserName]
		if userName != "" {
			if err := r.store.SetUserSession(ctx, userName, id, r.opts.TTL); err != nil {
				r.logger.Warn().Err(err).Str(log.FieldSessionID, id).Msg("user mapping write failed")
			}
		}
	}

	r.logger.Info().
		Str(log.FieldSessionID, id).
		Bool("pool", asPool).
		Dur("startup", startup).
		Msg("session ready")
	return nil
}

// Assign promotes a pooled session to a caller. The id must have been won
// from the atomic pool pop; after that no other caller can hold it.
func (r *Registry) Assign(ctx context.Context, id, userName string) error {
	lock := r.idLock(id)
	lock.Lock()
	defer lock.Unlock()

	if r.cachedReport(id) != nil {
		return ErrNotFound
	}
	fields, err := r.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if fields == nil {
		// The record expired between pop and assign; nothing to promote.
		return ErrNotFound
	}

	now := time.Now()
	if err := r.store.PatchSession(ctx, id, map[string]string{
		fieldUserName:   userName,
		fieldStatus:     string(StatusReady),
		fieldLastActive: formatTime(now),
	}); err != nil {
		return err
	}
	if err := r.store.PatchSessionConfig(ctx, id, map[string]string{
		fieldUserName: userName,
	}); err != nil {
		r.logger.Warn().Err(err).Str(log.FieldSessionID, id).Msg("config user patch failed")
	}
	if err := r.store.AddToIndex(ctx, store.IndexReady, id); err != nil {
		return err
	}
	if err := r.store.SetUserSession(ctx, userName, id, r.opts.TTL); err != nil {
		r.logger.Warn().Err(err).Str(log.FieldSessionID, id).Msg("user mapping write failed")
	}

	r.logger.Info().
		Str(log.FieldSessionID, id).
		Str(log.FieldUserName, userName).
		Msg("pool session assigned")
	return nil
}

// MarkActive records the first media join and any later activity.
func (r *Registry) MarkActive(ctx context.Context, id string, joinedAt time.Time) error {
	lock := r.idLock(id)
	lock.Lock()
	defer lock.Unlock()

	if r.cachedReport(id) != nil {
		return ErrNotFound
	}
	fields, err := r.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if fields == nil {
		return ErrNotFound
	}

	patch := map[string]string{
		fieldStatus:     string(StatusActive),
		fieldLastActive: formatTime(time.Now()),
	}
	// First join wins; reconnects must not reset the clock.
	if fields[fieldConversationStart] == "" {
		patch[fieldConversationStart] = formatTime(joinedAt)
	}
	return r.store.PatchSession(ctx, id, patch)
}

// Heartbeat refreshes lastActive so the idle sweeper leaves the session be.
func (r *Registry) Heartbeat(ctx context.Context, id string) error {
	lock := r.idLock(id)
	lock.Lock()
	defer lock.Unlock()

	if r.cachedReport(id) != nil {
		return ErrNotFound
	}
	fields, err := r.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if fields == nil {
		return ErrNotFound
	}
	return r.store.PatchSession(ctx, id, map[string]string{
		fieldLastActive: formatTime(time.Now()),
	})
}

// MarkError records the failure and removes the session. The error message
// survives in the cleanup report after the record itself is gone.
func (r *Registry) MarkError(ctx context.Context, id, msg, reason string) *CleanupReport {
	lock := r.idLock(id)
	lock.Lock()
	if r.cachedReport(id) == nil {
		if err := r.store.PatchSession(ctx, id, map[string]string{
			fieldStatus:       string(StatusError),
			fieldErrorMessage: msg,
		}); err != nil {
			r.logger.Warn().Err(err).Str(log.FieldSessionID, id).Msg("error status patch failed")
		}
	}
	lock.Unlock()

	return r.Remove(ctx, id, reason)
}

// Remove is the ordered teardown choke point: mark ended, cancel any spawn,
// kill the process group, then delete record and index memberships. Failing
// steps are recorded in the report, never aborted on. Idempotent; repeated
// calls return the first report with AlreadyRemoved set.
func (r *Registry) Remove(ctx context.Context, id, reason string) *CleanupReport {
	lock := r.idLock(id)
	lock.Lock()
	defer lock.Unlock()

	if cached := r.cachedReport(id); cached != nil {
		rep := *cached
		rep.AlreadyRemoved = true
		return &rep
	}

	rep := &CleanupReport{SessionID: id, Reason: reason, Errors: []string{}}

	fields, err := r.store.GetSession(ctx, id)
	if err != nil {
		rep.Errors = append(rep.Errors, err.Error())
		return rep
	}
	if fields == nil {
		rep.AlreadyRemoved = true
		rep.Errors = append(rep.Errors, "session not found")
		return rep
	}
	s := FromHash(id, fields)

	logger := r.logger.With().
		Str(log.FieldSessionID, id).
		Str(log.FieldReason, reason).
		Logger()
	logger.Info().Msg("session removal started")

	// New observers stop using the session before any destructive step.
	if err := r.store.PatchSession(ctx, id, map[string]string{
		fieldStatus: string(StatusEnded),
	}); err != nil {
		rep.Errors = append(rep.Errors, err.Error())
	}

	r.mu.Lock()
	canceller := r.canceller
	r.mu.Unlock()
	if canceller != nil && s.SpawnJobID != "" {
		rep.SpawnCancelled = canceller.Cancel(id)
	}

	if s.AgentPID > 0 {
		_, err := procgroup.KillGroup(s.AgentPID, r.opts.TerminateGrace, r.opts.KillTimeout)
		if err != nil {
			rep.Errors = append(rep.Errors, "kill process group: "+err.Error())
		} else {
			rep.ProcessKilled = true
		}
	}

	if !s.ConversationStart.IsZero() {
		secs := int64(time.Since(s.ConversationStart).Seconds())
		if secs < 0 {
			secs = 0
		}
		rep.DurationSeconds = secs
		rep.DurationMinutes = (secs + 59) / 60
	}

	if errs := r.store.DeleteSessionAndIndexes(ctx, id, s.UserName); len(errs) > 0 {
		for _, e := range errs {
			rep.Errors = append(rep.Errors, e.Error())
		}
	} else {
		rep.StoreCleaned = true
	}

	r.cacheReport(id, rep)

	r.mu.Lock()
	delete(r.locks, id)
	r.mu.Unlock()

	metrics.IncSessionEnded(reason)
	metrics.ObserveSessionDuration(int(rep.DurationSeconds))

	logger.Info().
		Bool("process_killed", rep.ProcessKilled).
		Bool("store_cleaned", rep.StoreCleaned).
		Int64("duration_seconds", rep.DurationSeconds).
		Msg("session removal finished")
	return rep
}
