// Package git wraps the fixed set of git operations troupe depends on:
// worktree management, diffs against a base ref, porcelain status, content
// reads at a ref, and fetch. It is not a general-purpose git client.
package git

import (
	"context"
	"fmt"
	"strings"

	"github.com/troupe-dev/troupe/internal/errors"
	pexec "github.com/troupe-dev/troupe/internal/exec"
	"github.com/troupe-dev/troupe/internal/logger"
)

// GitService executes git commands through a pluggable executor.
type GitService struct {
	executor pexec.CommandExecutor
}

// NewGitService creates a service backed by the real executor.
func NewGitService() *GitService {
	return &GitService{executor: pexec.NewRealExecutor()}
}

// NewGitServiceWithExecutor creates a service with a custom executor (tests, demos).
func NewGitServiceWithExecutor(e pexec.CommandExecutor) *GitService {
	return &GitService{executor: e}
}

// WorktreePrune removes stale worktree registrations. Best-effort: failures
// are logged and swallowed.
func (s *GitService) WorktreePrune(ctx context.Context, repoPath string) {
	if output, err := s.executor.CombinedOutput(ctx, repoPath, "git", "worktree", "prune"); err != nil {
		logger.Warn("Git: worktree prune failed (best-effort): %s - %v", string(output), err)
	}
}

// Fetch fetches a branch from origin. Best-effort: offline or missing-remote
// failures are logged and swallowed so provisioning never blocks on network.
func (s *GitService) Fetch(ctx context.Context, repoPath, branch string) {
	output, err := s.executor.CombinedOutput(ctx, repoPath, "git", "fetch", "origin", branch)
	if err != nil {
		logger.Warn("Git: fetch origin %s failed (best-effort): %s", branch, strings.TrimSpace(string(output)))
		return
	}
	logger.Debug("Git: fetched origin/%s", branch)
}

// WorktreeAdd creates a new worktree with a new branch off baseBranch.
func (s *GitService) WorktreeAdd(ctx context.Context, repoPath, branch, path, baseBranch string) error {
	output, err := s.executor.CombinedOutput(ctx, repoPath, "git", "worktree", "add", "-b", branch, path, baseBranch)
	if err != nil {
		return fmt.Errorf("failed to create worktree: %s: %w", strings.TrimSpace(string(output)), err)
	}
	return nil
}

// WorktreeAddExisting attaches an already-existing branch to a new worktree
// path without creating a branch. Used when the branch is already checked out
// elsewhere or survived a previous session.
func (s *GitService) WorktreeAddExisting(ctx context.Context, repoPath, path, branch string) error {
	output, err := s.executor.CombinedOutput(ctx, repoPath, "git", "worktree", "add", "--force", path, branch)
	if err != nil {
		return fmt.Errorf("failed to attach worktree: %s: %w", strings.TrimSpace(string(output)), err)
	}
	return nil
}

// WorktreeRemove removes a worktree registration and its directory.
func (s *GitService) WorktreeRemove(ctx context.Context, repoPath, path string) error {
	output, err := s.executor.CombinedOutput(ctx, repoPath, "git", "worktree", "remove", path, "--force")
	if err != nil {
		return fmt.Errorf("failed to remove worktree: %s: %w", strings.TrimSpace(string(output)), err)
	}
	return nil
}

// Branches lists local branch names.
func (s *GitService) Branches(ctx context.Context, repoPath string) ([]string, error) {
	output, err := s.executor.Output(ctx, repoPath, "git", "branch", "--list", "--format=%(refname:short)")
	if err != nil {
		return nil, err
	}
	var branches []string
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if line != "" {
			branches = append(branches, line)
		}
	}
	return branches, nil
}

// RefExists reports whether a ref resolves in the given directory.
func (s *GitService) RefExists(ctx context.Context, dir, ref string) bool {
	_, _, err := s.executor.Run(ctx, dir, "git", "rev-parse", "--verify", ref)
	return err == nil
}

// ResolveDiffBase picks the ref diffs are computed against, in deterministic
// preference order: the literal base branch if it resolves locally, then
// origin/<base>, then HEAD (which yields an uncommitted-only diff).
func (s *GitService) ResolveDiffBase(ctx context.Context, dir, baseBranch string) string {
	if baseBranch != "" {
		if s.RefExists(ctx, dir, baseBranch) {
			return baseBranch
		}
		if remote := "origin/" + baseBranch; s.RefExists(ctx, dir, remote) {
			return remote
		}
	}
	return "HEAD"
}

// Diff returns the full unified diff of the working tree against a ref.
func (s *GitService) Diff(ctx context.Context, dir, base string) (string, error) {
	output, err := s.executor.Output(ctx, dir, "git", "diff", base)
	if err != nil {
		return "", err
	}
	return string(output), nil
}

// UntrackedFiles lists paths git does not track, honoring ignore rules.
func (s *GitService) UntrackedFiles(ctx context.Context, dir string) ([]string, error) {
	output, err := s.executor.Output(ctx, dir, "git", "ls-files", "--others", "--exclude-standard")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// StatusPorcelain returns the raw porcelain status listing.
func (s *GitService) StatusPorcelain(ctx context.Context, dir string) (string, error) {
	output, err := s.executor.Output(ctx, dir, "git", "status", "--porcelain")
	if err != nil {
		return "", err
	}
	return string(output), nil
}

// ShowFile reads a path's content at a ref.
func (s *GitService) ShowFile(ctx context.Context, dir, ref, path string) (string, error) {
	output, err := s.executor.Output(ctx, dir, "git", "show", ref+":"+path)
	if err != nil {
		return "", err
	}
	return string(output), nil
}

// CommitAll stages everything and commits. Failures propagate with the raw
// tool output since commit is a user-initiated operation.
func (s *GitService) CommitAll(ctx context.Context, dir, message string) error {
	if dir == "" {
		return errors.NoWorkingDirectory()
	}
	if output, err := s.executor.CombinedOutput(ctx, dir, "git", "add", "-A"); err != nil {
		return errors.CommandFailed("git.CommitAll", strings.TrimSpace(string(output)), err)
	}
	if output, err := s.executor.CombinedOutput(ctx, dir, "git", "commit", "-m", message); err != nil {
		return errors.CommandFailed("git.CommitAll", strings.TrimSpace(string(output)), err)
	}
	return nil
}

// Push pushes the branch to origin, setting upstream. Failures propagate with
// the raw tool output.
func (s *GitService) Push(ctx context.Context, dir, branch string) error {
	if dir == "" {
		return errors.NoWorkingDirectory()
	}
	if output, err := s.executor.CombinedOutput(ctx, dir, "git", "push", "-u", "origin", branch); err != nil {
		return errors.CommandFailed("git.Push", strings.TrimSpace(string(output)), err)
	}
	return nil
}
