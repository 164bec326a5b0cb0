// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package procgroup

import (
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/ManuGH/voxd/internal/metrics"
)

// Terminate gracefully stops a process group we own the exec handle for.
// It sends SIGTERM to the group, waits for the reaper (via waitCh) up to
// grace, then escalates to SIGKILL and drains waitCh so the child is always
// reaped. Safe to call on nil commands.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	if err := Kill(cmd, syscall.SIGTERM); err == nil {
		metrics.IncProcTerminate("SIGTERM", "sent")
	} else if isGone(err) {
		metrics.IncProcTerminate("SIGTERM", "esrch")
	} else {
		metrics.IncProcTerminate("SIGTERM", "error")
	}

	select {
	case err := <-waitCh:
		if err == nil {
			metrics.IncProcWait("exit0")
		} else {
			metrics.IncProcWait("exit_nonzero")
		}
		return err
	case <-time.After(grace):
	}

	if err := Kill(cmd, syscall.SIGKILL); err == nil {
		metrics.IncProcTerminate("SIGKILL", "sent")
	} else if isGone(err) {
		metrics.IncProcTerminate("SIGKILL", "esrch")
	} else {
		metrics.IncProcTerminate("SIGKILL", "error")
	}

	// Always drain waitCh; SIGKILL frees a blocked child and the Wait must
	// complete or the process table keeps a zombie.
	err := <-waitCh
	if err == nil {
		metrics.IncProcWait("forced_exit0")
	} else {
		metrics.IncProcWait("forced_error")
	}
	return err
}

func isGone(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "process already finished") || strings.Contains(msg, "no such process")
}
