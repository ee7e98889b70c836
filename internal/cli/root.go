package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var configFile string
var verbose bool

var rootCmd = &cobra.Command{
	Use:   "convoy",
	Short: "convoy — concurrent requirement workspaces with a gated ship pipeline",
	Long: `convoy gives each in-flight requirement an isolated branch-backed
worktree, keeps a SQLite ledger of workspace state, and ships finished work
through an ordered merge, an acceptance gate, staging, and an explicitly
approved production deploy.

Auth failures during a run pause the pipeline; pipelines resume once the
service's credentials verify again.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to project config (default: ./convoy.yaml, ~/.convoy/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable verbose logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(workspaceCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(shipCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(pipelineCmd)
}
