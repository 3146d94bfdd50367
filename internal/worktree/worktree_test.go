package worktree

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/troupe-dev/troupe/internal/git"
)

var ctx = context.Background()

// createTestRepo creates a temporary git repository with one commit on main.
func createTestRepo(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v failed: %v\n%s", args, err, out)
		}
	}

	run("init", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test User")

	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("test repo\n"), 0644); err != nil {
		t.Fatal(err)
	}
	run("add", ".")
	run("commit", "-m", "initial commit")

	return dir
}

func newTestProvisioner() *Provisioner {
	return NewProvisioner(git.NewGitService())
}

func TestEnsureCreatesWorktree(t *testing.T) {
	repo := createTestRepo(t)
	p := newTestProvisioner()

	path, err := p.Ensure(ctx, repo, "troupe/feature", "main")
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	if path != PathFor(repo, "troupe/feature") {
		t.Errorf("unexpected path: %q", path)
	}
	if !healthyWorktree(path) {
		t.Error("worktree should carry the .git marker")
	}
	if _, err := os.Stat(filepath.Join(path, "README.md")); err != nil {
		t.Error("worktree should contain the repo content")
	}
}

func TestEnsureIsIdempotent(t *testing.T) {
	repo := createTestRepo(t)
	p := newTestProvisioner()

	first, err := p.Ensure(ctx, repo, "troupe/feature", "main")
	if err != nil {
		t.Fatalf("first Ensure failed: %v", err)
	}

	// Leave a marker to prove the second call reuses rather than recreates.
	marker := filepath.Join(first, "work-in-progress.txt")
	if err := os.WriteFile(marker, []byte("uncommitted"), 0644); err != nil {
		t.Fatal(err)
	}

	second, err := p.Ensure(ctx, repo, "troupe/feature", "main")
	if err != nil {
		t.Fatalf("second Ensure failed: %v", err)
	}
	if second != first {
		t.Errorf("paths differ: %q vs %q", first, second)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Error("second Ensure should not recreate the worktree")
	}
}

func TestEnsureAttachesExistingBranch(t *testing.T) {
	repo := createTestRepo(t)
	p := newTestProvisioner()

	path, err := p.Ensure(ctx, repo, "troupe/feature", "main")
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	// Simulate a crash that lost the worktree directory but kept the branch.
	if err := p.Remove(ctx, repo, path); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	cmd := exec.Command("git", "branch", "troupe/feature", "main")
	cmd.Dir = repo
	cmd.Run() // branch may have survived removal; ignore failure

	recovered, err := p.Ensure(ctx, repo, "troupe/feature", "main")
	if err != nil {
		t.Fatalf("re-Ensure failed: %v", err)
	}
	if !healthyWorktree(recovered) {
		t.Error("recovered worktree should be healthy")
	}
}

func TestEnsureReplacesInvalidDirectory(t *testing.T) {
	repo := createTestRepo(t)
	p := newTestProvisioner()

	// Debris without a .git marker at the target path.
	path := PathFor(repo, "troupe/feature")
	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(path, "junk.txt"), []byte("debris"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := p.Ensure(ctx, repo, "troupe/feature", "main")
	if err != nil {
		t.Fatalf("Ensure over debris failed: %v", err)
	}
	if !healthyWorktree(got) {
		t.Error("expected a real worktree to replace the debris")
	}
	if _, err := os.Stat(filepath.Join(got, "junk.txt")); !os.IsNotExist(err) {
		t.Error("debris should have been removed")
	}
}

func TestEnsureFailsOnBadBase(t *testing.T) {
	repo := createTestRepo(t)
	p := newTestProvisioner()

	if _, err := p.Ensure(ctx, repo, "troupe/feature", "no-such-base"); err == nil {
		t.Error("expected provisioning failure for a missing base branch")
	}
}

func TestRemoveMissingWorktree(t *testing.T) {
	repo := createTestRepo(t)
	p := newTestProvisioner()

	if err := p.Remove(ctx, repo, filepath.Join(repo, ContainerDir, "never-existed")); err != nil {
		t.Errorf("removing a missing worktree should be a no-op: %v", err)
	}
	if err := p.Remove(ctx, repo, ""); err != nil {
		t.Errorf("removing an empty path should be a no-op: %v", err)
	}
}

func TestFindOrphaned(t *testing.T) {
	repo := createTestRepo(t)
	p := newTestProvisioner()

	kept, err := p.Ensure(ctx, repo, "troupe/kept", "main")
	if err != nil {
		t.Fatalf("Ensure kept: %v", err)
	}
	orphan, err := p.Ensure(ctx, repo, "troupe/orphan", "main")
	if err != nil {
		t.Fatalf("Ensure orphan: %v", err)
	}

	active := map[string]bool{kept: true}
	orphans, err := p.FindOrphaned(repo, active)
	if err != nil {
		t.Fatalf("FindOrphaned failed: %v", err)
	}
	if len(orphans) != 1 || orphans[0] != orphan {
		t.Errorf("expected [%s], got %v", orphan, orphans)
	}

	removed := p.PruneOrphaned(ctx, repo, active)
	if len(removed) != 1 {
		t.Fatalf("expected 1 pruned worktree, got %v", removed)
	}
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Error("orphan directory should be gone")
	}
	if _, err := os.Stat(kept); err != nil {
		t.Error("active worktree should survive pruning")
	}
}

func TestFindOrphanedNoContainer(t *testing.T) {
	repo := createTestRepo(t)
	orphans, err := newTestProvisioner().FindOrphaned(repo, nil)
	if err != nil {
		t.Fatalf("missing container should not error: %v", err)
	}
	if len(orphans) != 0 {
		t.Errorf("expected no orphans, got %v", orphans)
	}
}
