// Package commands implements the wapanel CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root CLI command with all subcommands
// registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "wapanel",
		Short: "Wapanel - WhatsApp control panel and automation",
		Long: `Wapanel runs a WhatsApp session with a web control panel:
message sending, pattern and AI auto-replies, webhook forwarding,
and daily activity reports.

Examples:
  wapanel serve
  wapanel serve --config ./config.yaml`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
