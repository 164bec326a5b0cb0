// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

//go:build !unix

package procgroup

import (
	"os/exec"
	"syscall"
	"time"
)

func set(_ *exec.Cmd) {}

func kill(_ *exec.Cmd, _ syscall.Signal) error {
	return ErrUnsupported
}

func alive(_ int) bool {
	return false
}

func killGroup(_ int, _, _ time.Duration) (bool, error) {
	return false, ErrUnsupported
}
