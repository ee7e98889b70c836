package cli

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/lucasnoah/convoy/internal/accept"
	"github.com/lucasnoah/convoy/internal/db"
	"github.com/lucasnoah/convoy/internal/recovery"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage service credential sources",
}

var authAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Register a credential source for a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		service, _ := cmd.Flags().GetString("service")
		displayName, _ := cmd.Flags().GetString("display-name")
		authType, _ := cmd.Flags().GetString("type")
		isDefault, _ := cmd.Flags().GetBool("default")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		d, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer d.Close()

		if displayName == "" {
			displayName = args[0]
		}
		now := timestamp()
		err = d.CreateAuthSource(db.AuthSource{
			ID:          uuid.New().String(),
			Name:        args[0],
			Service:     service,
			DisplayName: displayName,
			AuthType:    authType,
			IsDefault:   isDefault,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Source %q added for service %s\n", args[0], service)
		return nil
	},
}

var authListCmd = &cobra.Command{
	Use:   "list",
	Short: "List credential sources",
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

		sources, err := d.ListAuthSources()
		if err != nil {
			return err
		}

		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.AppendHeader(table.Row{"Name", "Service", "Type", "Default", "Last Verified"})
		for _, s := range sources {
			verified := ""
			if s.LastVerifiedAt != nil {
				verified = *s.LastVerifiedAt
			}
			tw.AppendRow(table.Row{s.Name, s.Service, s.AuthType, s.IsDefault, verified})
		}
		tw.Render()
		return nil
	},
}

var authSetDefaultCmd = &cobra.Command{
	Use:   "set-default [name]",
	Short: "Make a source the default for its service",
	Args:  cobra.ExactArgs(1),
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

		if err := d.SetDefaultAuthSource(args[0], timestamp()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Source %q is now the default\n", args[0])
		return nil
	},
}

var authVerifyCmd = &cobra.Command{
	Use:   "verify [service]",
	Short: "Run a live credential check for a service's default source",
	Args:  cobra.ExactArgs(1),
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

		service := args[0]
		source, err := d.GetDefaultAuthSource(service)
		if err != nil {
			return fmt.Errorf("no default source for service %q", service)
		}

		verifier := recovery.NewExecVerifier(&accept.ExecRunner{}, cfg.Project.RepoDir, cfg.Project.Services)
		authenticated, err := verifier.VerifySource(service, source.Name)
		if err != nil {
			return err
		}
		if !authenticated {
			return fmt.Errorf("source %q failed verification", source.Name)
		}
		if err := d.MarkSourceVerified(source.Name, timestamp()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Source %q verified\n", source.Name)
		return nil
	},
}

func init() {
	authAddCmd.Flags().String("service", "", "Service the source authenticates against")
	authAddCmd.Flags().String("display-name", "", "Human-readable name")
	authAddCmd.Flags().String("type", "token", "Auth type (token, oauth, ssh)")
	authAddCmd.Flags().Bool("default", false, "Make this the default source for the service")
	authAddCmd.MarkFlagRequired("service")

	authCmd.AddCommand(authAddCmd)
	authCmd.AddCommand(authListCmd)
	authCmd.AddCommand(authSetDefaultCmd)
	authCmd.AddCommand(authVerifyCmd)
}
