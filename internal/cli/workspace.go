package cli

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/lucasnoah/convoy/internal/workspace"
)

var workspaceCmd = &cobra.Command{
	Use:   "workspace",
	Short: "Manage requirement workspaces",
}

var workspaceCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a branch-backed workspace for a requirement",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		requirementID, _ := cmd.Flags().GetString("requirement")
		branch, _ := cmd.Flags().GetString("branch")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		d, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer d.Close()

		mgr := workspace.NewManager(d, gitManager(cfg), cfg.Project.Mainline, newLogger())
		ws, err := mgr.Create(workspace.CreateOpts{
			SessionID:     sessionID,
			RequirementID: requirementID,
			Branch:        branch,
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Workspace created: %s (branch: %s)\n", ws.Path, ws.BranchName)
		return nil
	},
}

var workspaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workspaces for a session",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		status, _ := cmd.Flags().GetString("status")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		d, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer d.Close()

		rows, err := d.ListWorkspaces(sessionID, status)
		if err != nil {
			return err
		}

		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"ID", "Requirement", "Branch", "Status", "Created"})
		for _, ws := range rows {
			tw.AppendRow(table.Row{ws.ID, ws.RequirementID, ws.BranchName, ws.Status, ws.CreatedAt})
		}
		tw.Render()
		return nil
	},
}

func init() {
	workspaceCreateCmd.Flags().String("session", "", "Session id")
	workspaceCreateCmd.Flags().String("requirement", "", "Requirement id")
	workspaceCreateCmd.Flags().String("branch", "", "Override the generated branch name")
	workspaceCreateCmd.MarkFlagRequired("session")
	workspaceCreateCmd.MarkFlagRequired("requirement")

	workspaceListCmd.Flags().String("session", "", "Session id")
	workspaceListCmd.Flags().String("status", "", "Filter by status (active, merged, abandoned)")
	workspaceListCmd.MarkFlagRequired("session")

	workspaceCmd.AddCommand(workspaceCreateCmd)
	workspaceCmd.AddCommand(workspaceListCmd)
}
