package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/troupe-dev/troupe/internal/logger"
)

var cleanKeepWorktrees bool

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove all sessions, their worktrees, and log files",
	Args:  cobra.NoArgs,
	RunE:  runClean,
}

func init() {
	cleanCmd.Flags().BoolVar(&cleanKeepWorktrees, "keep-worktrees", false, "Leave worktrees and branches in place")
	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, args []string) error {
	mgr, _, err := newManager()
	if err != nil {
		return err
	}

	sessions, err := mgr.LoadPersisted()
	if err != nil {
		return err
	}
	for _, sess := range sessions {
		if err := mgr.RemoveStored(context.Background(), sess.ID, !cleanKeepWorktrees); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to remove session %s: %v\n", sess.ID, err)
		}
	}

	logger.Close()
	removed, err := logger.ClearLogs()
	if err != nil {
		return fmt.Errorf("error clearing logs: %w", err)
	}

	color.Green("Removed %d session(s) and %d log file(s)", len(sessions), removed)
	return nil
}
