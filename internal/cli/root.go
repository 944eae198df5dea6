package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "caremate",
	Short: "Companion chat backend with scheduled care messages",
	Long:  "CareMate is a personal companion chat backend: conversation ledger, long-term memory digests, and scheduled care messages. Single Go binary over sqlite.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
}
