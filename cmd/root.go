// Package cmd defines the troupe command line interface.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/troupe-dev/troupe/internal/config"
	"github.com/troupe-dev/troupe/internal/git"
	"github.com/troupe-dev/troupe/internal/logger"
	"github.com/troupe-dev/troupe/internal/manager"
	"github.com/troupe-dev/troupe/internal/plans"
	"github.com/troupe-dev/troupe/internal/store"
)

var (
	debugMode             bool
	quietMode             bool
	pruneWorktrees        bool
	version, commit, date string
)

// SetVersionInfo sets version information from ldflags
func SetVersionInfo(v, c, d string) {
	version, commit, date = v, c, d
}

var rootCmd = &cobra.Command{
	Use:   "troupe",
	Short: "Coordinator for concurrent AI agent sessions in git worktrees",
	Long: `Troupe coordinates multiple concurrent AI agent sessions. Each session
runs its agents in an isolated git worktree on its own branch, with
background polling for diffs and plan files.`,
	RunE:          runCoordinator,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initLogging)
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", true, "Enable debug logging (on by default)")
	rootCmd.PersistentFlags().BoolVarP(&quietMode, "quiet", "q", false, "Reduce logging to info level only")
	rootCmd.Flags().BoolVar(&pruneWorktrees, "prune", false, "Remove orphaned worktrees before starting")
}

func initLogging() {
	if quietMode {
		logger.SetDebug(false)
	} else if debugMode {
		logger.SetDebug(true)
	}
}

// Execute runs the root command
func Execute() error {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(versionTemplate())
	return rootCmd.Execute()
}

func versionTemplate() string {
	if commit != "none" && commit != "" {
		return fmt.Sprintf("troupe %s\n  commit: %s\n  built:  %s\n", version, commit, date)
	}
	return fmt.Sprintf("troupe %s\n", version)
}

// newManager wires the standard collaborator set.
func newManager() (*manager.Manager, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("error loading config: %w", err)
	}
	st, err := store.New()
	if err != nil {
		return nil, nil, fmt.Errorf("error opening session store: %w", err)
	}
	discoverer, err := plans.NewDiscoverer()
	if err != nil {
		return nil, nil, fmt.Errorf("error resolving home directory: %w", err)
	}
	return manager.New(cfg, st, git.NewGitService(), discoverer), cfg, nil
}

// runCoordinator restores persisted sessions and runs until interrupted.
func runCoordinator(cmd *cobra.Command, args []string) error {
	defer logger.Close()

	mgr, _, err := newManager()
	if err != nil {
		return err
	}
	mgr.SinkFactory = func(sessionID, paneID string) io.Writer {
		return os.Stdout
	}
	mgr.Start()

	ctx := context.Background()
	if err := mgr.Restore(ctx); err != nil {
		return fmt.Errorf("error restoring sessions: %w", err)
	}

	if pruneWorktrees {
		projects := make(map[string]bool)
		for _, sess := range mgr.Sessions() {
			projects[sess.ProjectPath] = true
		}
		for project := range projects {
			for _, path := range mgr.PruneOrphans(ctx, project) {
				fmt.Printf("Pruned orphaned worktree: %s\n", path)
			}
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("CLI: received %v, shutting down", sig)

	return mgr.Shutdown()
}
