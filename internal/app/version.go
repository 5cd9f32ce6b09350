package app

import (
	"fmt"

	"github.com/hourse/backend/internal/handlers"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the server and API version",
	Args:  cobra.NoArgs,
	// No config needed to print a version.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "hourse %s (api %s)\n", handlers.Version, handlers.APIVersion)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
