//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// configureProcAttr puts the child in its own process group so the whole
// group (parent plus any children it spawns) can be signalled together.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// probeAlive checks the process with signal 0. An error means the process is
// gone or not ours.
func probeAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

// terminateGroup sends SIGTERM to the process group for a graceful shutdown.
// Falls back to the individual process if the group signal fails.
func terminateGroup(pid int) error {
	return signalGroup(pid, syscall.SIGTERM)
}

// killGroup sends SIGKILL to the process group.
func killGroup(pid int) error {
	return signalGroup(pid, syscall.SIGKILL)
}

func signalGroup(pid int, sig syscall.Signal) error {
	// Negative PID signals the entire process group.
	if err := syscall.Kill(-pid, sig); err != nil {
		return syscall.Kill(pid, sig)
	}
	return nil
}
