// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package spawn runs the bounded spawn queue and its workers. Jobs are
// in-memory only: a restarted orchestrator drops queued spawns and relies on
// the caller to retry, while already-persisted records stay removable.
package spawn

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ManuGH/voxd/internal/log"
	"github.com/ManuGH/voxd/internal/metrics"
	"github.com/ManuGH/voxd/internal/session"
	"github.com/ManuGH/voxd/internal/store"
	"github.com/rs/zerolog"
)

// ErrQueueFull means the bounded queue rejected the job; callers surface it
// as at-capacity and may retry later.
var ErrQueueFull = errors.New("spawn queue full")

// Job is one spawn request.
type Job struct {
	SessionID string
	UserName  string
	Prewarm   bool
}

// Config tunes the queue and its workers.
type Config struct {
	// QueueCap bounds pending jobs; Enqueue never blocks.
	QueueCap int

	// Workers is the number of concurrent spawns.
	Workers int

	// StartupTimeout is the readiness deadline per attempt.
	StartupTimeout time.Duration

	// TerminateGrace is the SIGTERM-to-SIGKILL delay for failed spawns.
	TerminateGrace time.Duration

	// SessionTTL caps the mirrored log keys.
	SessionTTL time.Duration

	// AgentCommand and AgentScript form the agent invocation.
	AgentCommand string
	AgentScript  string

	// LaunchesPerSecond paces process launches across all workers; 0
	// disables pacing. Burst is Workers.
	LaunchesPerSecond float64
}

// Queue owns the job channel, the workers, and the cancellation bookkeeping.
type Queue struct {
	cfg      Config
	registry *session.Registry
	store    *store.Store
	logger   zerolog.Logger
	jobs     chan Job
	limiter  *rate.Limiter
	wg       sync.WaitGroup

	mu        sync.Mutex
	pending   map[string]bool
	cancelled map[string]bool
	active    map[string]context.CancelFunc
}

// New builds a queue; Start must be called before jobs are processed.
func New(cfg Config, reg *session.Registry, st *store.Store) *Queue {
	if cfg.QueueCap <= 0 {
		cfg.QueueCap = 64
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	var limiter *rate.Limiter
	if cfg.LaunchesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.LaunchesPerSecond), cfg.Workers)
	}

	return &Queue{
		cfg:       cfg,
		registry:  reg,
		store:     st,
		logger:    log.WithComponent("spawn"),
		jobs:      make(chan Job, cfg.QueueCap),
		limiter:   limiter,
		pending:   make(map[string]bool),
		cancelled: make(map[string]bool),
		active:    make(map[string]context.CancelFunc),
	}
}

// Start launches the workers. They exit when ctx is cancelled.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	q.logger.Info().
		Int("workers", q.cfg.Workers).
		Int("queue_cap", q.cfg.QueueCap).
		Msg("spawn workers started")
}

// Wait blocks until every worker has exited.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Enqueue hands a job to the workers without blocking.
func (q *Queue) Enqueue(job Job) error {
	select {
	case q.jobs <- job:
		q.mu.Lock()
		q.pending[job.SessionID] = true
		q.mu.Unlock()
		metrics.SetSpawnQueueDepth(len(q.jobs))
		return nil
	default:
		return ErrQueueFull
	}
}

// Depth returns the number of queued jobs.
func (q *Queue) Depth() int {
	return len(q.jobs)
}

// Cancel revokes the spawn for a session id: a queued job is tombstoned, an
// in-flight one has its scan context cancelled. Reports whether anything was
// actually pending. Implements the registry's Canceller.
func (q *Queue) Cancel(sessionID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if cancel, ok := q.active[sessionID]; ok {
		cancel()
		return true
	}
	if q.pending[sessionID] {
		// The job still sits in the channel; the worker checks the
		// tombstone on dequeue.
		q.cancelled[sessionID] = true
		return true
	}
	return false
}

// begin atomically consumes the pending mark and either honours a tombstone
// or registers the live cancel func. A false return means the job was
// cancelled while queued.
func (q *Queue) begin(sessionID string, cancel context.CancelFunc) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, sessionID)
	if q.cancelled[sessionID] {
		delete(q.cancelled, sessionID)
		return false
	}
	q.active[sessionID] = cancel
	return true
}

func (q *Queue) untrackActive(sessionID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.active, sessionID)
}

func (q *Queue) worker(ctx context.Context, n int) {
	defer q.wg.Done()
	logger := q.logger.With().Int("worker", n).Logger()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			metrics.SetSpawnQueueDepth(len(q.jobs))
			q.process(ctx, logger, job)
		}
	}
}
