// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package agent launches and supervises voice-agent subprocesses. Every
// agent runs as its own process-group leader and its merged output is
// scanned line by line for readiness markers.
package agent

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/ManuGH/voxd/internal/log"
	"github.com/ManuGH/voxd/internal/procgroup"
)

// Spec describes one agent launch.
type Spec struct {
	SessionID string

	// Command and Args form the agent invocation, e.g. python3 agent.py.
	Command string
	Args    []string

	// Env entries are appended to the orchestrator's environment.
	Env []string
	Dir string

	// RingSize caps the retained output tail; 0 means the default 100.
	RingSize int

	// OnLine, when set, receives every output line. Used to mirror the
	// tail into the store.
	OnLine func(line string)
}

// ExitStatus describes how an agent ended.
type ExitStatus struct {
	Code      int
	Err       error
	StartedAt time.Time
	EndedAt   time.Time
}

// Handle supervises one running agent.
type Handle struct {
	sessionID string
	cmd       *exec.Cmd
	ring      *LineRing
	lines     chan string
	waitCh    chan error
	done      chan struct{}
	started   time.Time

	mu     sync.Mutex
	status ExitStatus

	termOnce sync.Once
	termErr  error
}

// Launch starts the agent as a new process-group leader with stderr merged
// into stdout. The process is deliberately not bound to a context: sessions
// survive an orchestrator restart, so the agent's lifetime is managed by
// signals alone.
func Launch(spec Spec) (*Handle, error) {
	cmd := exec.Command(spec.Command, spec.Args...) // #nosec G204
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Dir = spec.Dir
	procgroup.Set(cmd)

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, fmt.Errorf("start agent: %w", err)
	}
	// The child holds its own copy of the write end.
	_ = pw.Close()

	h := &Handle{
		sessionID: spec.SessionID,
		cmd:       cmd,
		ring:      NewLineRing(spec.RingSize),
		lines:     make(chan string, 256),
		waitCh:    make(chan error, 1),
		done:      make(chan struct{}),
		started:   time.Now(),
	}

	go h.consume(pr, spec.OnLine)
	go h.reap()

	logger := log.WithComponent("agent")
	logger.Info().
		Str(log.FieldSessionID, spec.SessionID).
		Int(log.FieldPID, h.PID()).
		Str("command", cmd.String()).
		Msg("agent launched")
	return h, nil
}

// consume drains merged output until EOF. Every line lands in the ring and
// the OnLine mirror; the Lines channel is best-effort so a reader that
// stops draining can never stall the agent's pipe.
func (h *Handle) consume(pr *os.File, onLine func(string)) {
	defer close(h.lines)
	defer pr.Close()

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		line := scanner.Text()
		h.ring.Append(line)
		if onLine != nil {
			onLine(line)
		}
		select {
		case h.lines <- line:
		default:
		}
	}
}

func (h *Handle) reap() {
	err := h.cmd.Wait()

	code := 0
	if err != nil {
		code = 1
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		}
	}

	h.mu.Lock()
	h.status = ExitStatus{
		Code:      code,
		Err:       err,
		StartedAt: h.started,
		EndedAt:   time.Now(),
	}
	h.mu.Unlock()

	h.waitCh <- err
	close(h.done)
}

// SessionID returns the owning session.
func (h *Handle) SessionID() string { return h.sessionID }

// PID returns the agent's process id.
func (h *Handle) PID() int { return h.cmd.Process.Pid }

// PGID equals PID; the agent leads its own group.
func (h *Handle) PGID() int { return h.cmd.Process.Pid }

// Lines streams output lines until EOF. Lossy under backpressure; the ring
// always holds the authoritative tail.
func (h *Handle) Lines() <-chan string { return h.lines }

// Ring returns the retained output tail.
func (h *Handle) Ring() *LineRing { return h.ring }

// Alive probes the process group with signal 0.
func (h *Handle) Alive() bool {
	return procgroup.Alive(h.PID())
}

// Terminate stops the agent's whole group: SIGTERM, the grace window, then
// SIGKILL. Idempotent; later calls return the first result. A group that is
// gone counts as success however it died; the exit status itself is
// reported by Wait.
func (h *Handle) Terminate(grace time.Duration) error {
	h.termOnce.Do(func() {
		err := procgroup.Terminate(h.cmd, h.waitCh, grace)
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			err = nil
		}
		h.termErr = err
	})
	return h.termErr
}

// Wait blocks until the agent is reaped and returns its exit status.
func (h *Handle) Wait() ExitStatus {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Done is closed once the agent has been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }
