package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/convoy/internal/merge"
)

var mergeCmd = &cobra.Command{
	Use:   "merge [workspace-id...]",
	Short: "Merge workspace branches into the mainline, in order",
	Long: `Merges the given workspaces into the mainline branch one at a time, in the
order given. Stops at the first conflict; resolve it and re-run to continue.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetString("target")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		d, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer d.Close()

		if target == "" {
			target = cfg.Project.Mainline
		}

		coord := merge.NewCoordinator(d, gitManager(cfg), newLogger())
		result := coord.Merge(args, target)

		for _, id := range result.MergedWorkspaces {
			fmt.Fprintf(cmd.OutOrStdout(), "merged: %s\n", id)
		}
		for _, e := range result.Errors {
			fmt.Fprintf(cmd.OutOrStdout(), "FAILED %s (%s): %s\n", e.WorkspaceID, e.Branch, e.Error)
		}
		if len(result.ConflictFiles) > 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Conflicting files:")
			for _, f := range result.ConflictFiles {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", f)
			}
			return fmt.Errorf("merge stopped on conflict; resolve and re-run")
		}
		if !result.Success {
			return fmt.Errorf("%d workspace(s) failed to merge", len(result.Errors))
		}
		return nil
	},
}

func init() {
	mergeCmd.Flags().String("target", "", "Target branch (default: configured mainline)")
}
