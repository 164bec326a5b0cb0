// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package procgroup manages agent subprocesses as OS process groups. Every
// agent is launched as a group leader (pgid == pid) so the orchestrator can
// signal the leader and all of its descendants as one unit. Signalling a
// single pid instead of the group leaks helper children.
package procgroup

import (
	"errors"
	"os/exec"
	"syscall"
	"time"
)

var (
	// ErrKillFailed means the group still had members after SIGKILL and the
	// final wait window.
	ErrKillFailed = errors.New("kill operation failed")

	// ErrUnsupported is returned on platforms without process groups.
	ErrUnsupported = errors.New("process groups unsupported on this platform")
)

// Set configures the command to start in a new process group.
// Mandatory for KillGroup and Alive to address the whole tree.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// Kill sends the signal to the command's entire process group.
// Nil commands and already-gone groups are treated as success.
func Kill(cmd *exec.Cmd, sig syscall.Signal) error {
	return kill(cmd, sig)
}

// KillGroup terminates the process group led by pid: SIGTERM, a grace wait,
// then SIGKILL, then up to timeout for the group to vanish. It addresses the
// group by pgid alone, so it also works for agents inherited from a previous
// orchestrator process (not our children). A gone group is success; the
// returned bool reports whether any signal was actually delivered.
func KillGroup(pid int, grace, timeout time.Duration) (bool, error) {
	return killGroup(pid, grace, timeout)
}

// Alive reports whether the process group led by pid still has a member.
func Alive(pid int) bool {
	return alive(pid)
}
