package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	appcfg "github.com/ca-srg/toolbelt/internal/config"
)

// version is set at build time with -ldflags "-X github.com/ca-srg/toolbelt/cmd.version=...".
var version = "dev"

var (
	envFile  string
	appsFile string
)

var rootCmd = &cobra.Command{
	Use:     "toolbelt",
	Short:   "Toolbelt - vendor API wrappers served as MCP tools",
	Version: version,
	Long: `Toolbelt wraps third-party APIs (Slack, Airtable, Google Sheets, Amazon S3,
Gemini, PostgreSQL and more) as Model Context Protocol tools.

Applications are enabled in a YAML apps file and their credentials are resolved
from environment variables, static values or AWS Secrets Manager.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := appcfg.LoadDotEnv(envFile); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a .env file loaded before the configuration")
	rootCmd.PersistentFlags().StringVar(&appsFile, "apps-file", "", "Path to the apps YAML file (overrides TOOLBELT_APPS_FILE)")

	rootCmd.AddCommand(mcpServerCmd)
	rootCmd.AddCommand(appsCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(statsCmd)
}
