package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/troupe-dev/troupe/internal/agent"
	"github.com/troupe-dev/troupe/internal/logger"
)

var (
	newBranch     string
	newBaseBranch string
	newAgent      string
	newProject    string

	removeKeepWorktree bool
)

var newCmd = &cobra.Command{
	Use:   "new <name>",
	Short: "Create a session with an isolated worktree and one agent pane",
	Args:  cobra.ExactArgs(1),
	RunE:  runNew,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted sessions",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var removeCmd = &cobra.Command{
	Use:   "remove <session-id>",
	Short: "Remove a session and its worktree",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

func init() {
	newCmd.Flags().StringVarP(&newBranch, "branch", "b", "", "Branch name (default: derived from the session name)")
	newCmd.Flags().StringVar(&newBaseBranch, "base", "main", "Base branch the worktree starts from")
	newCmd.Flags().StringVarP(&newAgent, "agent", "a", "", "Agent kind: claude, codex, or gemini")
	newCmd.Flags().StringVarP(&newProject, "project", "p", "", "Project repository path (default: current directory)")
	removeCmd.Flags().BoolVar(&removeKeepWorktree, "keep-worktree", false, "Leave the worktree and branch in place")

	rootCmd.AddCommand(newCmd, listCmd, removeCmd)
}

func runNew(cmd *cobra.Command, args []string) error {
	defer logger.Close()

	mgr, cfg, err := newManager()
	if err != nil {
		return err
	}
	mgr.Start()
	defer mgr.Shutdown()

	project := newProject
	if project == "" {
		if project, err = os.Getwd(); err != nil {
			return err
		}
	}
	agentName := newAgent
	if agentName == "" {
		agentName = cfg.GetDefaultAgent()
	}
	kind, err := agent.ParseKind(agentName)
	if err != nil {
		return err
	}

	sess, err := mgr.CreateSession(context.Background(), args[0], project, newBranch, newBaseBranch, kind)
	if err != nil {
		return err
	}

	color.Green("Created session %s", sess.Name)
	fmt.Printf("  id:     %s\n", sess.ID)
	fmt.Printf("  branch: %s\n", sess.Branch)
	if sess.Provisioned() {
		fmt.Printf("  worktree: %s\n", sess.WorktreePath)
	} else {
		color.Yellow("  worktree provisioning failed: %s", sess.SetupError)
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	defer logger.Close()

	mgr, _, err := newManager()
	if err != nil {
		return err
	}
	// Listing only needs the persisted state; no pollers or panes.
	sessions, err := mgr.LoadPersisted()
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions.")
		return nil
	}

	bold := color.New(color.Bold)
	for _, sess := range sessions {
		bold.Printf("%s  %s\n", sess.ID, sess.Name)
		fmt.Printf("    branch %s (base %s), %d pane(s)\n", sess.Branch, sess.BaseBranch, len(sess.Panes))
		if sess.SetupError != "" {
			color.Yellow("    setup error: %s", sess.SetupError)
		}
	}
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	defer logger.Close()

	mgr, _, err := newManager()
	if err != nil {
		return err
	}
	if err := mgr.RemoveStored(context.Background(), args[0], !removeKeepWorktree); err != nil {
		return err
	}
	color.Green("Removed session %s", args[0])
	return nil
}
