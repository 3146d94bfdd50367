// Package process spawns and supervises pane subprocesses. Each pane runs an
// agent command under a login shell attached to a pseudo-terminal, in its own
// process group so the whole tree can be signaled at shutdown.
package process

import (
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/creack/pty"

	"github.com/troupe-dev/troupe/internal/errors"
	"github.com/troupe-dev/troupe/internal/logger"
)

// Spec describes a subprocess to spawn.
type Spec struct {
	// Shell is the login shell binary; empty means LoginShell().
	Shell string
	// Command is the full agent command line, run via shell -l -c. Empty
	// spawns a bare interactive login shell (shell panes).
	Command string
	// Dir is the working directory (the session worktree when provisioned).
	Dir string
	// Env is the complete environment; nil means BuildEnv(os.Environ()).
	Env []string
	// Sink receives everything the subprocess writes to its terminal.
	// Nil discards output.
	Sink io.Writer
}

// Handle supervises one running subprocess.
type Handle struct {
	cmd *exec.Cmd
	tty *os.File

	mu      sync.Mutex
	exited  bool
	exitErr error
	done    chan struct{}
}

// LoginShell returns the user's shell, falling back to /bin/zsh.
func LoginShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "/bin/zsh"
}

// droppedVars are stripped from pane environments so nested agent CLIs don't
// mistake the pane for the outer agent session that launched troupe.
var droppedVars = []string{
	"CLAUDECODE",
	"CLAUDE_CODE_ENTRYPOINT",
	"CLAUDE_CODE_SSE_PORT",
	"CODEX_SANDBOX",
	"CODEX_SANDBOX_NETWORK_DISABLED",
}

// forcedVars guarantee a capable terminal regardless of how troupe itself was
// launched.
var forcedVars = []struct{ name, value string }{
	{"TERM", "xterm-256color"},
	{"COLORTERM", "truecolor"},
	{"LANG", "en_US.UTF-8"},
}

// pathCandidates are prepended to PATH, in order, when not already listed.
// ~ expands to the home directory.
var pathCandidates = []string{
	"~/.local/bin",
	"~/.bun/bin",
	"~/.cargo/bin",
	"/opt/homebrew/bin",
	"/usr/local/bin",
}

// BuildEnv derives a pane environment from a base environment: agent
// leak-through variables dropped, terminal variables forced, and common tool
// directories prepended to PATH ahead of every inherited entry.
func BuildEnv(base []string) []string {
	dropped := make(map[string]bool, len(droppedVars))
	for _, name := range droppedVars {
		dropped[name] = true
	}

	forced := make(map[string]bool, len(forcedVars))
	for _, fv := range forcedVars {
		forced[fv.name] = true
	}

	env := make([]string, 0, len(base)+len(forcedVars))
	inheritedPath := ""
	for _, kv := range base {
		name, value, _ := strings.Cut(kv, "=")
		if dropped[name] {
			continue
		}
		if forced[name] {
			continue
		}
		if name == "PATH" {
			inheritedPath = value
			continue
		}
		env = append(env, kv)
	}
	for _, fv := range forcedVars {
		env = append(env, fv.name+"="+fv.value)
	}
	env = append(env, "PATH="+buildPath(inheritedPath))
	return env
}

// buildPath prepends the tool directories missing from the inherited PATH, in
// candidate order. The inherited value itself is appended unmodified.
func buildPath(inherited string) string {
	present := make(map[string]bool)
	for _, entry := range strings.Split(inherited, string(os.PathListSeparator)) {
		if entry != "" {
			present[entry] = true
		}
	}

	home, _ := os.UserHomeDir()
	var prepend []string
	for _, candidate := range pathCandidates {
		dir := candidate
		if strings.HasPrefix(dir, "~/") {
			if home == "" {
				continue
			}
			dir = filepath.Join(home, dir[2:])
		}
		if present[dir] {
			continue
		}
		prepend = append(prepend, dir)
		present[dir] = true
	}
	if len(prepend) == 0 {
		return inherited
	}
	if inherited == "" {
		return strings.Join(prepend, string(os.PathListSeparator))
	}
	return strings.Join(prepend, string(os.PathListSeparator)) + string(os.PathListSeparator) + inherited
}

// Start spawns the subprocess described by spec attached to a new
// pseudo-terminal, in its own process group.
func Start(paneID string, spec Spec) (*Handle, error) {
	shell := spec.Shell
	if shell == "" {
		shell = LoginShell()
	}
	env := spec.Env
	if env == nil {
		env = BuildEnv(os.Environ())
	}

	args := []string{"-l"}
	if spec.Command != "" {
		args = append(args, "-c", spec.Command)
	}
	cmd := exec.Command(shell, args...)
	cmd.Dir = spec.Dir
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	tty, err := pty.Start(cmd)
	if err != nil {
		return nil, errors.SpawnFailed(paneID, err)
	}

	h := &Handle{cmd: cmd, tty: tty, done: make(chan struct{})}
	go h.pump(spec.Sink)
	go h.reap()

	logger.Debug("Process: spawned pane %s pid=%d dir=%s cmd=%q", paneID, cmd.Process.Pid, spec.Dir, spec.Command)
	return h, nil
}

// pump copies terminal output to the sink until the pty closes.
func (h *Handle) pump(sink io.Writer) {
	if sink == nil {
		sink = io.Discard
	}
	// The pty read side returns EIO when the child exits; that's the normal
	// end of stream, not an error worth surfacing.
	_, _ = io.Copy(sink, h.tty)
}

// reap waits for the subprocess and records its exit.
func (h *Handle) reap() {
	err := h.cmd.Wait()
	h.mu.Lock()
	h.exited = true
	h.exitErr = err
	h.mu.Unlock()
	_ = h.tty.Close()
	close(h.done)
}

// PID returns the subprocess pid.
func (h *Handle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Running reports whether the subprocess has not yet been reaped.
func (h *Handle) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.exited
}

// ExitErr returns the wait error once the process has exited, nil before.
func (h *Handle) ExitErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.exited {
		return nil
	}
	return h.exitErr
}

// Done returns a channel closed when the subprocess has been reaped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Signal delivers sig to the subprocess's entire process group.
func (h *Handle) Signal(sig syscall.Signal) error {
	pid := h.PID()
	if pid <= 0 {
		return nil
	}
	return syscall.Kill(-pid, sig)
}

// Write sends input to the subprocess terminal.
func (h *Handle) Write(p []byte) (int, error) {
	return h.tty.Write(p)
}

// Resize updates the pseudo-terminal window size.
func (h *Handle) Resize(rows, cols uint16) error {
	return pty.Setsize(h.tty, &pty.Winsize{Rows: rows, Cols: cols})
}
