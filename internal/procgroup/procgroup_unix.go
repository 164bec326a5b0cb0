// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

//go:build unix

package procgroup

import (
	"errors"
	"os/exec"
	"syscall"
	"time"

	"github.com/ManuGH/voxd/internal/log"
)

func set(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func kill(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	pid := cmd.Process.Pid
	// The process is its own group leader (Setpgid at spawn), so pgid == pid.
	// Getpgid confirms the group still exists before we signal it.
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return err
	}

	// Negative pgid addresses the whole group.
	if err := syscall.Kill(-pgid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return err
	}
	return nil
}

func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	// Signal 0 probes without delivering. EPERM still means a member exists.
	err := syscall.Kill(-pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}

func killGroup(pid int, grace, timeout time.Duration) (bool, error) {
	if pid <= 0 {
		return false, nil
	}
	logger := log.WithComponent("procgroup")

	logger.Debug().Int(log.FieldPGID, pid).Msg("sending SIGTERM to process group")
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return false, nil
		}
		return false, err
	}

	// The group may not be our child (agents inherited across an orchestrator
	// restart are reparented to init), so Wait is unusable here. Poll the
	// group with signal 0 instead; orphans are reaped by init as they exit.
	if waitGone(pid, grace) {
		return true, nil
	}

	logger.Warn().Int(log.FieldPGID, pid).Msg("grace period exceeded, sending SIGKILL to process group")
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return true, nil
		}
		return true, err
	}

	if waitGone(pid, timeout) {
		return true, nil
	}
	return true, ErrKillFailed
}

func waitGone(pid int, window time.Duration) bool {
	const step = 50 * time.Millisecond
	deadline := time.Now().Add(window)
	for {
		if !alive(pid) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(step)
	}
}
