package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/convoy/internal/accept"
	"github.com/lucasnoah/convoy/internal/deploy"
	"github.com/lucasnoah/convoy/internal/merge"
	"github.com/lucasnoah/convoy/internal/postexec"
)

var shipCmd = &cobra.Command{
	Use:   "ship [workspace-id...]",
	Short: "Run the full post-execution pipeline",
	Long: `Runs the post-execution pipeline for the given workspaces: merge into the
mainline, acceptance gate, staging deploy, then production deploy after an
explicit confirmation. Declining (the default) leaves production untouched.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		d, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer d.Close()

		logger := newLogger()
		git := gitManager(cfg)
		runner := &accept.ExecRunner{}

		pipeline := postexec.NewPipeline(
			d,
			git,
			merge.NewCoordinator(d, git, logger),
			accept.NewGate(runner, cfg.Project.RepoDir, cfg.Project.Acceptance, logger),
			deploy.NewExecDeployer(runner, cfg.Project.RepoDir, cfg.Project.Deploy, logger),
			&postexec.PromptApprover{In: cmd.InOrStdin(), Out: cmd.OutOrStdout()},
			cfg.Project.Mainline,
			cfg.Project.Deploy.StagingCommand != "",
			logger,
		)

		result := pipeline.Run(args)
		printShipResult(cmd, result)

		if result.Skipped {
			return nil
		}
		if result.Merge != nil && !result.Merge.Success {
			return fmt.Errorf("merge phase failed")
		}
		if result.Tests != nil && !result.Tests.Passed {
			return fmt.Errorf("acceptance gate failed")
		}
		return nil
	},
}

func printShipResult(cmd *cobra.Command, r *postexec.Result) {
	out := cmd.OutOrStdout()
	if r.Skipped {
		fmt.Fprintf(out, "Skipped: %s\n", r.SkipReason)
		return
	}
	if r.Merge != nil {
		fmt.Fprintf(out, "Merged %d workspace(s)\n", len(r.Merge.MergedWorkspaces))
		for _, e := range r.Merge.Errors {
			fmt.Fprintf(out, "  merge FAILED %s: %s\n", e.WorkspaceID, e.Error)
		}
		for _, f := range r.Merge.ConflictFiles {
			fmt.Fprintf(out, "  conflict: %s\n", f)
		}
	}
	if r.Tests != nil {
		fmt.Fprintf(out, "Acceptance: %d/%d passed\n", r.Tests.PassedCount, r.Tests.Total)
		for _, req := range r.Tests.Requirements {
			for _, c := range req.Criteria {
				if !c.Passed {
					fmt.Fprintf(out, "  FAILED [%s] %s: %s\n", req.Name, c.Description, c.Error)
				}
			}
		}
	}
	if r.Staging != nil {
		if r.StagingDeployed {
			fmt.Fprintf(out, "Staging deployed: %s\n", r.Staging.URL)
		} else {
			fmt.Fprintf(out, "Staging FAILED: %s\n", r.Staging.Error)
		}
	}
	switch {
	case r.ProductionDeployed:
		fmt.Fprintf(out, "Production deployed: %s\n", r.Production.URL)
	case r.ProductionApproved && r.Production != nil:
		fmt.Fprintf(out, "Production FAILED: %s\n", r.Production.Error)
	case r.Staging != nil:
		fmt.Fprintln(out, "Production deploy declined")
	}
}
