package poller

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/troupe-dev/troupe/internal/diff"
	pexec "github.com/troupe-dev/troupe/internal/exec"
	"github.com/troupe-dev/troupe/internal/git"
)

var ctx = context.Background()

// newDiffMock builds a mock executor describing a worktree with one modified
// file and the given porcelain status.
func newDiffMock(rawDiff, porcelain string) *pexec.MockExecutor {
	mock := pexec.NewMockExecutor(map[string]pexec.MockResponse{
		"git diff main":                            {Stdout: []byte(rawDiff)},
		"git ls-files --others --exclude-standard": {Stdout: []byte("")},
		"git status --porcelain":                   {Stdout: []byte(porcelain)},
		"git diff --name-status main":              {Stdout: []byte("M\tmain.go\n")},
		"git show main:main.go":                    {Stdout: []byte("package main\n\nvar x = 1\n")},
	})
	return mock
}

func testDiffPoller(t *testing.T, mock *pexec.MockExecutor) (*DiffPoller, chan Event, string) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n\nvar x = 2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	events := make(chan Event, 8)
	p := NewDiffPoller("sess-1", dir, "main", git.NewGitServiceWithExecutor(mock), events)
	return p, events, dir
}

func drainOne(t *testing.T, events chan Event) Event {
	t.Helper()
	select {
	case e := <-events:
		return e
	default:
		t.Fatal("expected a published event")
		return nil
	}
}

func TestDiffPollerPublishesFirstSnapshot(t *testing.T) {
	mock := newDiffMock("diff --git a/main.go b/main.go\n-var x = 1\n+var x = 2\n", " M main.go\n")
	p, events, _ := testDiffPoller(t, mock)

	p.iterate(ctx)

	e := drainOne(t, events).(DiffEvent)
	if e.SessionID != "sess-1" || e.FlagOnly {
		t.Errorf("unexpected event: %+v", e)
	}
	if e.Base != "main" {
		t.Errorf("base = %q", e.Base)
	}
	if !e.HasUncommitted {
		t.Error("porcelain output should set the uncommitted flag")
	}
	if len(e.UncommittedFiles) != 1 || e.UncommittedFiles[0] != "main.go" {
		t.Errorf("uncommitted files: %v", e.UncommittedFiles)
	}
	if len(e.Files) != 1 {
		t.Fatalf("expected 1 file diff, got %d", len(e.Files))
	}
	fd := e.Files[0]
	if fd.Name != "main.go" || fd.Change != diff.ChangeModified {
		t.Errorf("file diff: %+v", fd)
	}
	if fd.OldText != "package main\n\nvar x = 1\n" {
		t.Errorf("old text should come from the base ref, got %q", fd.OldText)
	}
	if fd.NewText != "package main\n\nvar x = 2\n" {
		t.Errorf("new text should come from the worktree, got %q", fd.NewText)
	}
}

func TestDiffPollerDeduplicates(t *testing.T) {
	mock := newDiffMock("some diff\n", " M main.go\n")
	p, events, _ := testDiffPoller(t, mock)

	p.iterate(ctx)
	<-events

	p.iterate(ctx)
	select {
	case e := <-events:
		t.Errorf("identical state should publish nothing, got %+v", e)
	default:
	}
}

func TestDiffPollerFlagOnlyChange(t *testing.T) {
	mock := newDiffMock("some diff\n", " M main.go\n")
	p, events, _ := testDiffPoller(t, mock)

	p.iterate(ctx)
	<-events

	// Same diff signature, but the working tree is now clean.
	mock.AddExactMatch("git", []string{"status", "--porcelain"}, pexec.MockResponse{Stdout: []byte("")})

	p.iterate(ctx)
	e := drainOne(t, events).(DiffEvent)
	if !e.FlagOnly {
		t.Errorf("expected a flag-only event, got %+v", e)
	}
	if e.HasUncommitted {
		t.Error("uncommitted flag should be cleared")
	}
}

func TestDiffPollerContentChangeRepublishes(t *testing.T) {
	mock := newDiffMock("first diff\n", " M main.go\n")
	p, events, _ := testDiffPoller(t, mock)

	p.iterate(ctx)
	first := drainOne(t, events).(DiffEvent)

	mock.AddExactMatch("git", []string{"diff", "main"}, pexec.MockResponse{Stdout: []byte("second diff\n")})

	p.iterate(ctx)
	second := drainOne(t, events).(DiffEvent)
	if second.FlagOnly {
		t.Error("content change should be a full publication")
	}
	if second.Signature == first.Signature {
		t.Error("signature should change with the diff content")
	}
}

func TestDiffPollerIncludesTextUntracked(t *testing.T) {
	mock := newDiffMock("some diff\n", "?? notes.md\n")
	p, events, dir := testDiffPoller(t, mock)

	if err := os.WriteFile(filepath.Join(dir, "notes.md"), []byte("# notes\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "blob.bin"), []byte{0x00, 0x01}, 0644); err != nil {
		t.Fatal(err)
	}
	mock.AddExactMatch("git", []string{"ls-files", "--others", "--exclude-standard"}, pexec.MockResponse{Stdout: []byte("notes.md\nblob.bin\n")})

	p.iterate(ctx)
	e := drainOne(t, events).(DiffEvent)

	var untrackedDiffs []diff.FileDiff
	for _, fd := range e.Files {
		if fd.Change == diff.ChangeAdded {
			untrackedDiffs = append(untrackedDiffs, fd)
		}
	}
	if len(untrackedDiffs) != 1 || untrackedDiffs[0].Name != "notes.md" {
		t.Errorf("expected only the text untracked file as an added diff, got %+v", untrackedDiffs)
	}
	if untrackedDiffs[0].NewText != "# notes\n" {
		t.Errorf("untracked content: %q", untrackedDiffs[0].NewText)
	}
}

func TestDiffPollerStoppedBeforePublish(t *testing.T) {
	mock := newDiffMock("some diff\n", "")
	p, events, _ := testDiffPoller(t, mock)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	p.iterate(cancelled)

	select {
	case e := <-events:
		t.Errorf("cancelled iteration must not publish, got %+v", e)
	default:
	}
}

func TestDiffPollerStartStop(t *testing.T) {
	mock := newDiffMock("some diff\n", "")
	p, events, _ := testDiffPoller(t, mock)
	p.interval = 10 * time.Millisecond

	p.Start()
	select {
	case <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("poller never published")
	}
	p.Stop()

	// Stop must be idempotent and safe after the loop has exited.
	p.Stop()
}
