package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/lucasnoah/convoy/internal/accept"
	"github.com/lucasnoah/convoy/internal/config"
	"github.com/lucasnoah/convoy/internal/db"
	"github.com/lucasnoah/convoy/internal/notify"
	"github.com/lucasnoah/convoy/internal/recovery"
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Inspect and recover paused pipelines",
}

var pipelinePausedCmd = &cobra.Command{
	Use:   "paused",
	Short: "List paused pipelines",
	RunE: func(cmd *cobra.Command, args []string) error {
		service, _ := cmd.Flags().GetString("service")
		project, _ := cmd.Flags().GetString("project")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		d, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer d.Close()

		var rows []db.PausedPipeline
		switch {
		case service != "":
			rows, err = d.ListPausedByService(service)
		case project != "":
			rows, err = d.ListPausedByProject(project)
		default:
			return fmt.Errorf("one of --service or --project is required")
		}
		if err != nil {
			return err
		}

		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"ID", "Project", "Job", "Phase", "Service", "Paused At"})
		for _, p := range rows {
			tw.AppendRow(table.Row{p.ID, p.ProjectPath, p.JobID, p.PausedPhase, p.Service, p.PausedAt})
		}
		tw.Render()
		return nil
	},
}

var pipelineResumeCmd = &cobra.Command{
	Use:   "resume [id]",
	Short: "Resume a paused pipeline after re-authenticating",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		coord, d, err := newRecoveryCoordinator()
		if err != nil {
			return err
		}
		defer d.Close()

		if err := coord.ResumePipeline(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pipeline %s resumed\n", args[0])
		return nil
	},
}

var pipelineCancelCmd = &cobra.Command{
	Use:   "cancel [id]",
	Short: "Cancel a paused pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		coord, d, err := newRecoveryCoordinator()
		if err != nil {
			return err
		}
		defer d.Close()

		if err := coord.CancelPipeline(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pipeline %s cancelled\n", args[0])
		return nil
	},
}

var pipelineCheckCmd = &cobra.Command{
	Use:   "check [service]",
	Short: "Verify a service's credentials and resume its paused pipelines",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		coord, d, err := newRecoveryCoordinator()
		if err != nil {
			return err
		}
		defer d.Close()

		resumed, err := coord.CheckAndResumePipelines(args[0])
		if err != nil {
			return err
		}
		if len(resumed) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No pipelines resumed")
			return nil
		}
		for _, p := range resumed {
			fmt.Fprintf(cmd.OutOrStdout(), "resumed: %s (%s)\n", p.ID, p.ProjectPath)
		}
		return nil
	},
}

func newRecoveryCoordinator() (*recovery.Coordinator, *db.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	d, err := openDB(cfg)
	if err != nil {
		return nil, nil, err
	}

	verifier := recovery.NewExecVerifier(&accept.ExecRunner{}, cfg.Project.RepoDir, cfg.Project.Services)
	coord := recovery.NewCoordinator(d, newNotifier(cfg), verifier, cfg.Project.Name, newLogger())
	return coord, d, nil
}

// newNotifier returns nil when no webhook is configured.
func newNotifier(cfg *config.ProjectConfig) notify.Notifier {
	if cfg.Project.Notify.WebhookURL == "" {
		return nil
	}
	timeout := 5 * time.Second
	if d, err := time.ParseDuration(cfg.Project.Notify.Timeout); err == nil && d > 0 {
		timeout = d
	}
	return notify.NewWebhook(cfg.Project.Notify.WebhookURL, timeout, newLogger())
}

func init() {
	pipelinePausedCmd.Flags().String("service", "", "List paused pipelines for a service")
	pipelinePausedCmd.Flags().String("project", "", "List paused pipelines for a project path")

	pipelineCmd.AddCommand(pipelinePausedCmd)
	pipelineCmd.AddCommand(pipelineResumeCmd)
	pipelineCmd.AddCommand(pipelineCancelCmd)
	pipelineCmd.AddCommand(pipelineCheckCmd)
}
