// Package worktree provisions and recovers the per-session git worktrees.
// Each session gets an isolated checkout at <project>/.worktrees/<branch> so
// agents can edit without touching the main checkout.
package worktree

import (
	"context"
	"os"
	"path/filepath"

	"github.com/troupe-dev/troupe/internal/errors"
	"github.com/troupe-dev/troupe/internal/git"
	"github.com/troupe-dev/troupe/internal/logger"
)

// ContainerDir is the directory under the project root that holds worktrees.
const ContainerDir = ".worktrees"

// Provisioner creates, recovers, and removes session worktrees.
type Provisioner struct {
	git *git.GitService
}

// NewProvisioner creates a provisioner over a git service.
func NewProvisioner(g *git.GitService) *Provisioner {
	return &Provisioner{git: g}
}

// PathFor returns the worktree path for a branch. Branch slashes become
// path separators under the container, which keeps troupe/<slug> branches
// grouped.
func PathFor(projectPath, branch string) string {
	return filepath.Join(projectPath, ContainerDir, filepath.FromSlash(branch))
}

// Ensure makes sure a worktree exists for the branch and returns its path.
// It is idempotent: a healthy existing worktree is reused as-is, which is
// also how crashed sessions recover. Failures are provisioning errors; the
// caller records them on the session and continues without a worktree.
func (p *Provisioner) Ensure(ctx context.Context, projectPath, branch, baseBranch string) (string, error) {
	log := logger.ComponentLogger("worktree")

	p.git.WorktreePrune(ctx, projectPath)
	p.git.Fetch(ctx, projectPath, baseBranch)

	path := PathFor(projectPath, branch)
	if healthyWorktree(path) {
		log.Debug("reusing existing worktree", "path", path, "branch", branch)
		return path, nil
	}
	if _, err := os.Stat(path); err == nil {
		// A directory without a worktree marker is leftover debris from an
		// interrupted provisioning run.
		log.Warn("removing invalid worktree directory", "path", path)
		if err := os.RemoveAll(path); err != nil {
			return "", errors.ProvisioningFailed(branch, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", errors.ProvisioningFailed(branch, err)
	}

	if err := p.git.WorktreeAdd(ctx, projectPath, branch, path, baseBranch); err != nil {
		// Branch may already exist from a previous session; attach instead.
		log.Debug("worktree add with new branch failed, attaching existing branch", "branch", branch, "error", err)
		if attachErr := p.git.WorktreeAddExisting(ctx, projectPath, path, branch); attachErr != nil {
			return "", errors.ProvisioningFailed(branch, attachErr)
		}
	}

	if !healthyWorktree(path) {
		return "", errors.ProvisioningFailed(branch, errors.E(errors.Op("worktree.Ensure"), errors.KindProvisioning, "worktree directory missing after add"))
	}
	log.Info("provisioned worktree", "path", path, "branch", branch)
	return path, nil
}

// healthyWorktree reports whether path is a usable linked worktree: the
// directory exists and carries the .git marker file git writes for worktrees.
func healthyWorktree(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	_, err = os.Stat(filepath.Join(path, ".git"))
	return err == nil
}

// Remove detaches and deletes a session's worktree. A worktree that is
// already gone is not an error.
func (p *Provisioner) Remove(ctx context.Context, projectPath, path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		p.git.WorktreePrune(ctx, projectPath)
		return nil
	}
	if err := p.git.WorktreeRemove(ctx, projectPath, path); err != nil {
		// Fall back to removing the directory and pruning the registration.
		logger.Warn("Worktree: git removal failed, deleting directly: %v", err)
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return rmErr
		}
		p.git.WorktreePrune(ctx, projectPath)
	}
	return nil
}

// FindOrphaned lists worktree paths under the project container that no
// active session claims.
func (p *Provisioner) FindOrphaned(projectPath string, active map[string]bool) ([]string, error) {
	container := filepath.Join(projectPath, ContainerDir)
	var orphans []string
	err := filepath.WalkDir(container, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if !d.IsDir() || path == container {
			return nil
		}
		if !healthyWorktree(path) {
			// Intermediate directory for a slashed branch name; keep walking.
			return nil
		}
		if !active[path] {
			orphans = append(orphans, path)
		}
		return filepath.SkipDir
	})
	if err != nil {
		return nil, err
	}
	return orphans, nil
}

// PruneOrphaned removes every orphaned worktree and returns the paths it
// removed. Individual failures are logged and skipped.
func (p *Provisioner) PruneOrphaned(ctx context.Context, projectPath string, active map[string]bool) []string {
	orphans, err := p.FindOrphaned(projectPath, active)
	if err != nil {
		logger.Warn("Worktree: orphan scan failed under %s: %v", projectPath, err)
		return nil
	}
	var removed []string
	for _, path := range orphans {
		if err := p.Remove(ctx, projectPath, path); err != nil {
			logger.Warn("Worktree: failed to remove orphan %s: %v", path, err)
			continue
		}
		removed = append(removed, path)
	}
	if len(removed) > 0 {
		logger.Info("Worktree: pruned %d orphaned worktree(s) under %s", len(removed), projectPath)
	}
	return removed
}
