package process

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"mcpvet/pkg/logging"

	"github.com/google/uuid"
)

// DefaultGraceTimeout is how long Stop waits for a process to exit after
// SIGTERM before force-killing the process group.
const DefaultGraceTimeout = 10 * time.Second

// StartError indicates a process could not be spawned at all (missing
// executable, permission denied, missing working directory). It is fatal to
// the phase that requested the start, never to the whole run.
type StartError struct {
	Command string
	Dir     string
	Err     error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("failed to start %q in %q: %v", e.Command, e.Dir, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// Handle represents one running candidate server process. A Handle is
// exclusively owned by the phase that started it and must be stopped via
// Supervisor.Stop on every exit path. The stdout reader is persistent so
// buffered protocol bytes survive across calls.
type Handle struct {
	ID        string
	PID       int
	StartTime time.Time

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader

	// stderr lines captured by a background goroutine
	stderrMu    sync.Mutex
	stderrLines []string

	waitCh   chan struct{}
	waitErr  error
	exitedMu sync.RWMutex
	exited   bool
}

// Stdin returns the writer connected to the process's standard input.
func (h *Handle) Stdin() io.Writer { return h.stdin }

// Stdout returns the persistent buffered reader over the process's standard
// output. Callers must serialize access (see protocol.Exchange).
func (h *Handle) Stdout() *bufio.Reader { return h.stdout }

// Alive reports whether the OS process is still running. The wait goroutine
// is authoritative; on platforms that support it a zero-signal probe is used
// as a second opinion so a freshly crashed process is not reported alive.
func (h *Handle) Alive() bool {
	h.exitedMu.RLock()
	exited := h.exited
	h.exitedMu.RUnlock()
	if exited {
		return false
	}
	return probeAlive(h.PID)
}

// Uptime returns how long the process has been running.
func (h *Handle) Uptime() time.Duration {
	return time.Since(h.StartTime)
}

// ErrorOutput returns a copy of the stderr lines captured so far.
func (h *Handle) ErrorOutput() []string {
	h.stderrMu.Lock()
	defer h.stderrMu.Unlock()
	lines := make([]string, len(h.stderrLines))
	copy(lines, h.stderrLines)
	return lines
}

// ExitError returns the error from the process wait, or nil if the process
// exited cleanly or is still running.
func (h *Handle) ExitError() error {
	h.exitedMu.RLock()
	defer h.exitedMu.RUnlock()
	if !h.exited {
		return nil
	}
	return h.waitErr
}

func (h *Handle) markExited(err error) {
	h.exitedMu.Lock()
	h.exited = true
	h.waitErr = err
	h.exitedMu.Unlock()
}

// Supervisor starts and stops candidate server processes and tracks every
// live handle in a registry. TerminateAll sweeps the registry so no run can
// leave an orphaned process behind, whatever path it exits on.
type Supervisor struct {
	mu      sync.RWMutex
	handles map[string]*Handle
}

// NewSupervisor creates an empty supervisor.
func NewSupervisor() *Supervisor {
	return &Supervisor{
		handles: make(map[string]*Handle),
	}
}

// Start spawns command with args in workingDir, wiring stdin/stdout for
// protocol exchange and capturing stderr lines. Failures are returned as
// *StartError; no process is registered on failure.
func (s *Supervisor) Start(ctx context.Context, workingDir, command string, args []string, env map[string]string) (*Handle, error) {
	if command == "" {
		return nil, &StartError{Command: command, Dir: workingDir, Err: fmt.Errorf("empty command")}
	}
	if info, err := os.Stat(workingDir); err != nil || !info.IsDir() {
		return nil, &StartError{Command: command, Dir: workingDir, Err: fmt.Errorf("working directory not usable: %v", err)}
	}

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Dir = workingDir
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	configureProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &StartError{Command: command, Dir: workingDir, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &StartError{Command: command, Dir: workingDir, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &StartError{Command: command, Dir: workingDir, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &StartError{Command: command, Dir: workingDir, Err: err}
	}

	h := &Handle{
		ID:        uuid.NewString(),
		PID:       cmd.Process.Pid,
		StartTime: time.Now(),
		cmd:       cmd,
		stdin:     stdin,
		stdout:    bufio.NewReader(stdout),
		waitCh:    make(chan struct{}),
	}

	// Capture stderr line by line for startup diagnostics.
	go func() {
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			h.stderrMu.Lock()
			h.stderrLines = append(h.stderrLines, scanner.Text())
			h.stderrMu.Unlock()
		}
	}()

	// The wait goroutine is the single place that reaps the process.
	go func() {
		err := cmd.Wait()
		h.markExited(err)
		close(h.waitCh)
	}()

	s.mu.Lock()
	s.handles[h.ID] = h
	s.mu.Unlock()

	logging.Debug("supervisor", "started process %s (PID %d): %s", h.ID, h.PID, command)
	return h, nil
}

// Stop terminates the process behind handle: close stdin, SIGTERM the
// process group, wait up to graceTimeout, then SIGKILL. It is idempotent —
// stopping an already-dead or already-stopped handle is not an error. The
// handle is always removed from the registry.
func (s *Supervisor) Stop(ctx context.Context, h *Handle, graceTimeout time.Duration) error {
	if h == nil {
		return nil
	}
	defer s.deregister(h.ID)

	if graceTimeout <= 0 {
		graceTimeout = DefaultGraceTimeout
	}

	h.exitedMu.RLock()
	alreadyExited := h.exited
	h.exitedMu.RUnlock()
	if alreadyExited {
		logging.Debug("supervisor", "process %s (PID %d) already exited", h.ID, h.PID)
		return nil
	}

	// Closing stdin lets well-behaved stdio servers shut down on EOF.
	if h.stdin != nil {
		_ = h.stdin.Close()
	}

	if err := terminateGroup(h.PID); err != nil {
		logging.Debug("supervisor", "graceful terminate of PID %d failed: %v", h.PID, err)
	}

	select {
	case <-h.waitCh:
		// Exited within the grace window. Sweep any remaining children.
		_ = killGroup(h.PID)
		logging.Debug("supervisor", "process %s exited gracefully", h.ID)
		return nil
	case <-time.After(graceTimeout):
	case <-ctx.Done():
	}

	// Grace window elapsed (or caller gave up): force kill the group.
	if err := killGroup(h.PID); err != nil {
		logging.Debug("supervisor", "force kill of PID %d failed: %v", h.PID, err)
	}

	// Give the wait goroutine a moment to reap so Alive() settles.
	select {
	case <-h.waitCh:
	case <-time.After(2 * time.Second):
		logging.Warn("supervisor", "process %s (PID %d) did not reap after SIGKILL", h.ID, h.PID)
	}
	return nil
}

// TerminateAll force-stops every registered handle. It is the last-resort
// safety net after a run; the primary mechanism is per-phase Stop calls.
func (s *Supervisor) TerminateAll() {
	s.mu.Lock()
	handles := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultGraceTimeout)
		if err := s.Stop(ctx, h, 2*time.Second); err != nil {
			logging.Warn("supervisor", "terminate-all: failed to stop %s: %v", h.ID, err)
		}
		cancel()
	}

	if n := s.ActiveCount(); n > 0 {
		logging.Warn("supervisor", "terminate-all left %d handles registered", n)
	}
}

// ActiveCount returns the number of handles currently registered.
func (s *Supervisor) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handles)
}

func (s *Supervisor) deregister(id string) {
	s.mu.Lock()
	delete(s.handles, id)
	s.mu.Unlock()
}
