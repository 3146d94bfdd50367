// Package errors provides structured error types for the Troupe application.
// These errors provide context about what operation failed and where.
package errors

import (
	"errors"
	"fmt"
)

// Op describes an operation, usually as "package.function".
type Op string

// Kind categorizes the type of error.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindInvalid
	KindIO
	KindProvisioning
	KindExternalTool
	KindPersistence
	KindGit
	KindProcess
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindInvalid:
		return "invalid"
	case KindIO:
		return "I/O error"
	case KindProvisioning:
		return "provisioning error"
	case KindExternalTool:
		return "external tool error"
	case KindPersistence:
		return "persistence error"
	case KindGit:
		return "git error"
	case KindProcess:
		return "process error"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown error"
	}
}

// Error is the structured error type for Troupe.
type Error struct {
	Op      Op     // Operation that failed
	Kind    Kind   // Category of error
	Err     error  // Underlying error
	Context string // Additional context
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Context, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// E creates a new Error. Arguments can be:
// - Op: the operation name
// - Kind: the error kind
// - string: context message
// - error: the underlying error
func E(args ...interface{}) error {
	e := &Error{}
	for _, arg := range args {
		switch a := arg.(type) {
		case Op:
			e.Op = a
		case Kind:
			e.Kind = a
		case string:
			e.Context = a
		case error:
			e.Err = a
		}
	}
	if e.Err == nil {
		e.Err = errors.New(e.Context)
		e.Context = ""
	}
	return e
}

// Is reports whether err is of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// GetKind returns the Kind of an error.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Worktree errors

// ProvisioningFailed reports a failed worktree create/recover. It is recorded
// as a per-session setup error and never blocks session creation.
func ProvisioningFailed(branch string, err error) error {
	return E(Op("worktree.Ensure"), KindProvisioning, fmt.Sprintf("failed to provision worktree for branch %s", branch), err)
}

// Git errors

// NoWorkingDirectory reports a commit/push attempted on a session whose
// worktree was never provisioned.
func NoWorkingDirectory() error {
	return E(Op("git.Commit"), KindGit, "no working directory")
}

// CommandFailed wraps a non-zero exit from the version-control tool, keeping
// the raw tool output for display.
func CommandFailed(op Op, output string, err error) error {
	return E(op, KindGit, fmt.Sprintf("command failed: %s", output), err)
}

// Session errors

func SessionNotFound(id string) error {
	return E(Op("manager.Get"), KindNotFound, fmt.Sprintf("session %s not found", id))
}

func PaneLimitReached(sessionID string) error {
	return E(Op("session.AddPane"), KindInvalid, fmt.Sprintf("session %s already has the maximum number of panes", sessionID))
}

func LastPane(sessionID string) error {
	return E(Op("session.RemovePane"), KindInvalid, fmt.Sprintf("cannot remove the last pane of session %s", sessionID))
}

// Store errors

func StoreSaveFailed(path string, err error) error {
	return E(Op("store.Save"), KindPersistence, fmt.Sprintf("failed to save sessions to %s", path), err)
}

func StoreLoadFailed(path string, err error) error {
	return E(Op("store.Load"), KindPersistence, fmt.Sprintf("failed to load sessions from %s", path), err)
}

// Process errors

func SpawnFailed(paneID string, err error) error {
	return E(Op("process.Start"), KindProcess, fmt.Sprintf("failed to spawn process for pane %s", paneID), err)
}

func ShutdownTimeout(remaining int) error {
	return E(Op("shutdown.Terminate"), KindTimeout, fmt.Sprintf("%d process(es) survived the termination window", remaining))
}
