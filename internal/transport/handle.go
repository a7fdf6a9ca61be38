package transport

import (
	"bufio"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// maxLogLines bounds the retained agent stderr ring.
const maxLogLines = 1000

// ExitStatus describes how the agent process ended.
type ExitStatus struct {
	Code      int
	Signal    string
	Timestamp time.Time
}

// Handle owns a running agent process and its duplex stream.
type Handle struct {
	cmd    *exec.Cmd
	stream io.ReadWriteCloser

	logs     []string
	logsMu   sync.RWMutex
	onStderr func(string)

	startedAt time.Time

	stopMu   sync.Mutex
	stopped  bool
	lastExit *ExitStatus

	done chan struct{} // closed when the process exits
}

// Stream returns the duplex byte stream to the agent.
func (h *Handle) Stream() io.ReadWriteCloser { return h.stream }

// PID returns the agent's process id, or 0 before the process started.
func (h *Handle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// StartedAt returns when the process was spawned.
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Uptime returns how long the process has been running.
func (h *Handle) Uptime() time.Duration { return time.Since(h.startedAt) }

// Done is closed once the agent process has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// IsRunning reports whether the process is still alive.
func (h *Handle) IsRunning() bool {
	h.stopMu.Lock()
	stopped := h.stopped
	h.stopMu.Unlock()
	if stopped {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// LastExit returns how the process ended, or nil while it is running.
func (h *Handle) LastExit() *ExitStatus {
	h.stopMu.Lock()
	defer h.stopMu.Unlock()
	return h.lastExit
}

// Logs returns a copy of the captured agent stderr lines.
func (h *Handle) Logs() []string {
	h.logsMu.RLock()
	defer h.logsMu.RUnlock()
	logs := make([]string, len(h.logs))
	copy(logs, h.logs)
	return logs
}

// Stop closes the stream and terminates the agent process: SIGTERM,
// then SIGKILL if it has not exited within GracefulShutdownTimeout.
// Stop is idempotent.
func (h *Handle) Stop() error {
	h.stopMu.Lock()
	if h.stopped {
		h.stopMu.Unlock()
		return nil
	}
	h.stopped = true
	h.stopMu.Unlock()

	if h.stream != nil {
		_ = h.stream.Close()
	}

	if h.cmd.Process != nil {
		_ = h.cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-h.done:
		case <-time.After(GracefulShutdownTimeout):
			_ = h.cmd.Process.Signal(syscall.SIGKILL)
			<-h.done
		}
	}
	return nil
}

func (h *Handle) readStderr(stderr io.ReadCloser) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()

		h.logsMu.Lock()
		h.logs = append(h.logs, line)
		if len(h.logs) > maxLogLines {
			h.logs = h.logs[len(h.logs)-maxLogLines:]
		}
		h.logsMu.Unlock()

		if h.onStderr != nil {
			h.onStderr(line)
		}
	}
}

func (h *Handle) watchProcess() {
	_ = h.cmd.Wait()
	exit := &ExitStatus{Timestamp: time.Now()}
	if state := h.cmd.ProcessState; state != nil {
		exit.Code = state.ExitCode()
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			exit.Signal = ws.Signal().String()
		}
	}

	h.stopMu.Lock()
	h.lastExit = exit
	h.stopMu.Unlock()

	close(h.done)
}
