package process

import (
	"errors"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"mcpvet/pkg/logging"
)

// CleanupStale kills leftover candidate server processes from previous runs
// whose command line matches pattern. It is best-effort: failures are logged,
// never returned, since a failed sweep must not block a new run.
//
// Returns the number of processes signalled.
func CleanupStale(pattern string) int {
	if pattern == "" {
		return 0
	}
	currentPID := os.Getpid()

	cmd := exec.Command("pgrep", "-f", pattern)
	output, err := cmd.Output()
	if err != nil {
		// pgrep exits 1 when nothing matches, which is the common case.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			logging.Debug("supervisor", "no stale processes matching %q", pattern)
			return 0
		}
		logging.Debug("supervisor", "could not check for stale processes: %v", err)
		return 0
	}

	killed := 0
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil || pid == currentPID {
			continue
		}
		proc, err := os.FindProcess(pid)
		if err != nil {
			continue
		}
		if err := proc.Signal(syscall.SIGTERM); err != nil {
			// Process may already be gone.
			logging.Debug("supervisor", "could not signal stale PID %d: %v", pid, err)
			continue
		}
		killed++
		logging.Debug("supervisor", "killed stale process PID %d", pid)
	}

	if killed > 0 {
		logging.Info("supervisor", "cleaned up %d stale process(es) matching %q", killed, pattern)
	}
	return killed
}
