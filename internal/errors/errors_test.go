package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected string
	}{
		{KindUnknown, "unknown error"},
		{KindNotFound, "not found"},
		{KindInvalid, "invalid"},
		{KindIO, "I/O error"},
		{KindProvisioning, "provisioning error"},
		{KindExternalTool, "external tool error"},
		{KindPersistence, "persistence error"},
		{KindGit, "git error"},
		{KindProcess, "process error"},
		{KindTimeout, "timeout"},
		{Kind(999), "unknown error"}, // Unknown kind
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.expected {
				t.Errorf("Kind.String() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "with op and context",
			err:      &Error{Op: "test.Op", Context: "some context", Err: errors.New("underlying error")},
			expected: "test.Op: some context: underlying error",
		},
		{
			name:     "with op only",
			err:      &Error{Op: "test.Op", Err: errors.New("underlying error")},
			expected: "test.Op: underlying error",
		},
		{
			name:     "without op",
			err:      &Error{Err: errors.New("underlying error")},
			expected: "underlying error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error.Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := &Error{Op: "test.Op", Err: underlying}

	if got := err.Unwrap(); got != underlying {
		t.Errorf("Error.Unwrap() = %v, want %v", got, underlying)
	}
}

func TestE(t *testing.T) {
	tests := []struct {
		name       string
		args       []interface{}
		wantOp     Op
		wantKind   Kind
		wantHasErr bool
	}{
		{
			name:       "with all args",
			args:       []interface{}{Op("test.Op"), KindNotFound, "context", errors.New("error")},
			wantOp:     "test.Op",
			wantKind:   KindNotFound,
			wantHasErr: true,
		},
		{
			name:       "with op and kind",
			args:       []interface{}{Op("test.Op"), KindInvalid, "just a message"},
			wantOp:     "test.Op",
			wantKind:   KindInvalid,
			wantHasErr: true, // Context becomes the error when no error is provided
		},
		{
			name:       "with just error",
			args:       []interface{}{errors.New("simple error")},
			wantOp:     "",
			wantKind:   KindUnknown,
			wantHasErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := E(tt.args...)
			e, ok := err.(*Error)
			if !ok {
				t.Fatalf("E() returned %T, want *Error", err)
			}

			if e.Op != tt.wantOp {
				t.Errorf("E().Op = %q, want %q", e.Op, tt.wantOp)
			}
			if e.Kind != tt.wantKind {
				t.Errorf("E().Kind = %v, want %v", e.Kind, tt.wantKind)
			}
			if (e.Err != nil) != tt.wantHasErr {
				t.Errorf("E().Err nil = %v, want nil = %v", e.Err == nil, !tt.wantHasErr)
			}
		})
	}
}

func TestIs(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		kind     Kind
		expected bool
	}{
		{
			name:     "matching kind",
			err:      E(Op("test"), KindNotFound, "not found"),
			kind:     KindNotFound,
			expected: true,
		},
		{
			name:     "non-matching kind",
			err:      E(Op("test"), KindNotFound, "not found"),
			kind:     KindInvalid,
			expected: false,
		},
		{
			name:     "plain error",
			err:      errors.New("regular error"),
			kind:     KindNotFound,
			expected: false,
		},
		{
			name:     "nil error",
			err:      nil,
			kind:     KindNotFound,
			expected: false,
		},
		{
			name:     "wrapped error",
			err:      fmt.Errorf("wrapped: %w", E(Op("test"), KindTimeout, "timeout")),
			kind:     KindTimeout,
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.kind); got != tt.expected {
				t.Errorf("Is() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGetKind(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Kind
	}{
		{
			name:     "structured error",
			err:      E(Op("test"), KindNotFound, "not found"),
			expected: KindNotFound,
		},
		{
			name:     "regular error",
			err:      errors.New("regular error"),
			expected: KindUnknown,
		},
		{
			name:     "nil error",
			err:      nil,
			expected: KindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetKind(tt.err); got != tt.expected {
				t.Errorf("GetKind() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestProvisioningFailed(t *testing.T) {
	underlying := errors.New("branch already checked out")
	err := ProvisioningFailed("feature-branch", underlying)

	if !Is(err, KindProvisioning) {
		t.Error("ProvisioningFailed should return KindProvisioning error")
	}
	if !errors.Is(err, underlying) {
		t.Error("ProvisioningFailed should wrap the underlying error")
	}
	if !strings.Contains(err.Error(), "feature-branch") {
		t.Errorf("error should name the branch, got %q", err.Error())
	}
}

func TestNoWorkingDirectory(t *testing.T) {
	err := NoWorkingDirectory()

	if !Is(err, KindGit) {
		t.Error("NoWorkingDirectory should return KindGit error")
	}
	if !strings.Contains(err.Error(), "no working directory") {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestCommandFailed(t *testing.T) {
	underlying := errors.New("exit status 1")
	err := CommandFailed(Op("git.Push"), "rejected: non-fast-forward", underlying)

	if !Is(err, KindGit) {
		t.Error("CommandFailed should return KindGit error")
	}
	if !errors.Is(err, underlying) {
		t.Error("CommandFailed should wrap the underlying error")
	}
	// The raw tool output is shown to the user, so it must survive wrapping.
	if !strings.Contains(err.Error(), "non-fast-forward") {
		t.Errorf("error should carry the tool output, got %q", err.Error())
	}
}

func TestSessionNotFound(t *testing.T) {
	err := SessionNotFound("test-session-123")

	if !Is(err, KindNotFound) {
		t.Error("SessionNotFound should return KindNotFound error")
	}

	if e, ok := err.(*Error); ok {
		if e.Op != "manager.Get" {
			t.Errorf("Op = %q, want %q", e.Op, "manager.Get")
		}
	} else {
		t.Error("SessionNotFound should return *Error")
	}
}

func TestPaneLimitReached(t *testing.T) {
	err := PaneLimitReached("session-123")

	if !Is(err, KindInvalid) {
		t.Error("PaneLimitReached should return KindInvalid error")
	}
	if !strings.Contains(err.Error(), "session-123") {
		t.Errorf("error should name the session, got %q", err.Error())
	}
}

func TestLastPane(t *testing.T) {
	err := LastPane("session-123")

	if !Is(err, KindInvalid) {
		t.Error("LastPane should return KindInvalid error")
	}
}

func TestStoreSaveFailed(t *testing.T) {
	underlying := errors.New("disk full")
	err := StoreSaveFailed("/path/to/sessions.json", underlying)

	if !Is(err, KindPersistence) {
		t.Error("StoreSaveFailed should return KindPersistence error")
	}
	if !errors.Is(err, underlying) {
		t.Error("StoreSaveFailed should wrap the underlying error")
	}
}

func TestStoreLoadFailed(t *testing.T) {
	underlying := errors.New("invalid character")
	err := StoreLoadFailed("/path/to/sessions.json", underlying)

	if !Is(err, KindPersistence) {
		t.Error("StoreLoadFailed should return KindPersistence error")
	}
}

func TestSpawnFailed(t *testing.T) {
	underlying := errors.New("no such shell")
	err := SpawnFailed("pane-123", underlying)

	if !Is(err, KindProcess) {
		t.Error("SpawnFailed should return KindProcess error")
	}
	if !errors.Is(err, underlying) {
		t.Error("SpawnFailed should wrap the underlying error")
	}
}

func TestShutdownTimeout(t *testing.T) {
	err := ShutdownTimeout(2)

	if !Is(err, KindTimeout) {
		t.Error("ShutdownTimeout should return KindTimeout error")
	}
	if !strings.Contains(err.Error(), "2 process(es)") {
		t.Errorf("error should count the survivors, got %q", err.Error())
	}
}

func TestErrorChaining(t *testing.T) {
	// Test that errors can be properly chained and unwrapped
	innerErr := errors.New("original error")
	middleErr := E(Op("middle.Op"), KindIO, innerErr)
	outerErr := E(Op("outer.Op"), KindPersistence, middleErr)

	// Should be able to unwrap to find inner error
	if !errors.Is(outerErr, innerErr) {
		t.Error("Should be able to find inner error through chain")
	}

	// Kind should be from the outer error
	if GetKind(outerErr) != KindPersistence {
		t.Error("GetKind should return outer error's kind")
	}
}
