package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/convoy/internal/db"
	"github.com/lucasnoah/convoy/internal/health"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check and repair workspace health",
}

var healthCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Reconcile ledger and git worktree state",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		asJSON, _ := cmd.Flags().GetBool("json")

		checker, d, err := newChecker()
		if err != nil {
			return err
		}
		defer d.Close()

		report := checker.CheckHealth(sessionID)
		if asJSON {
			return printJSON(cmd, report)
		}

		if report.Healthy {
			fmt.Fprintln(cmd.OutOrStdout(), "Healthy: no issues found")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d issue(s) found:\n", len(report.Issues))
		for _, issue := range report.Issues {
			fmt.Fprintf(cmd.OutOrStdout(), "  [%s] %s\n", issue.Kind, issue.Description)
		}
		return nil
	},
}

var healthRepairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Auto-fix issues found by health check",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")

		checker, d, err := newChecker()
		if err != nil {
			return err
		}
		defer d.Close()

		report := checker.CheckHealth(sessionID)
		result := checker.Repair(sessionID, report.Issues)

		for _, fixed := range result.Fixed {
			fmt.Fprintf(cmd.OutOrStdout(), "fixed: %s\n", fixed)
		}
		for _, failed := range result.Failed {
			fmt.Fprintf(cmd.OutOrStdout(), "FAILED [%s]: %s\n", failed.Issue.Kind, failed.Error)
		}
		if !result.Success {
			return fmt.Errorf("%d repair(s) failed", len(result.Failed))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Repaired %d issue(s)\n", len(result.Fixed))
		return nil
	},
}

var healthCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove all workspaces and feature branches (destructive!)",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			return fmt.Errorf("refusing full cleanup without --confirm")
		}

		checker, d, err := newChecker()
		if err != nil {
			return err
		}
		defer d.Close()

		result := checker.FullCleanup(sessionID)
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d worktree(s), abandoned %d ledger row(s), deleted %d branch(es)\n",
			len(result.RemovedWorktrees), len(result.AbandonedLedger), len(result.DeletedBranches))
		for _, f := range result.Failures {
			fmt.Fprintf(cmd.OutOrStdout(), "FAILED %s %s: %s\n", f.Op, f.Target, f.Error)
		}
		return nil
	},
}

func newChecker() (*health.Checker, *db.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	d, err := openDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	checker := health.NewChecker(d, gitManager(cfg), abandonedAfter(cfg), newLogger())
	return checker, d, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func init() {
	for _, c := range []*cobra.Command{healthCheckCmd, healthRepairCmd, healthCleanupCmd} {
		c.Flags().String("session", "", "Session id")
		c.MarkFlagRequired("session")
	}
	healthCheckCmd.Flags().Bool("json", false, "Emit the full report as JSON")
	healthCleanupCmd.Flags().Bool("confirm", false, "Confirm removing every workspace")

	healthCmd.AddCommand(healthCheckCmd)
	healthCmd.AddCommand(healthRepairCmd)
	healthCmd.AddCommand(healthCleanupCmd)
}
