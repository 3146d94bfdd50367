// Package shutdown terminates pane subprocesses with bounded latency:
// graceful SIGTERM to every process group, a polled grace window, then
// SIGKILL for survivors.
package shutdown

import (
	"syscall"
	"time"

	"github.com/troupe-dev/troupe/internal/errors"
	"github.com/troupe-dev/troupe/internal/logger"
)

// Process is the minimal surface the coordinator needs from a pane
// subprocess. Signals are expected to address the whole process group.
type Process interface {
	PID() int
	Running() bool
	Signal(sig syscall.Signal) error
}

const (
	// GraceTimeout is how long processes get to exit after SIGTERM.
	GraceTimeout = 3 * time.Second
	// PollInterval is how often the coordinator re-checks liveness.
	PollInterval = 100 * time.Millisecond
)

// Coordinator terminates a set of processes. The zero value uses the default
// timing; tests shrink the windows.
type Coordinator struct {
	Timeout time.Duration
	Poll    time.Duration
}

// New returns a coordinator with production timing.
func New() *Coordinator {
	return &Coordinator{Timeout: GraceTimeout, Poll: PollInterval}
}

// Terminate stops every running process: SIGTERM to each group, poll until
// all exit or the grace window lapses, SIGKILL the survivors. It returns nil
// when everything exited gracefully, and a timeout error naming the survivor
// count when force kills were needed. Either way, every process is dead (or
// unkillable) when it returns.
func (c *Coordinator) Terminate(procs []Process) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = GraceTimeout
	}
	poll := c.Poll
	if poll <= 0 {
		poll = PollInterval
	}

	live := running(procs)
	if len(live) == 0 {
		return nil
	}

	log := logger.ComponentLogger("shutdown")
	log.Info("terminating processes", "count", len(live))
	for _, p := range live {
		if err := p.Signal(syscall.SIGTERM); err != nil {
			log.Debug("SIGTERM failed", "pid", p.PID(), "error", err)
		}
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if live = running(live); len(live) == 0 {
			return nil
		}
		time.Sleep(poll)
	}

	live = running(live)
	if len(live) == 0 {
		return nil
	}
	for _, p := range live {
		log.Warn("force killing process group", "pid", p.PID())
		if err := p.Signal(syscall.SIGKILL); err != nil {
			log.Debug("SIGKILL failed", "pid", p.PID(), "error", err)
		}
	}
	return errors.ShutdownTimeout(len(live))
}

func running(procs []Process) []Process {
	var live []Process
	for _, p := range procs {
		if p != nil && p.Running() {
			live = append(live, p)
		}
	}
	return live
}
