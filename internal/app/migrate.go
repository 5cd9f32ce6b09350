package app

import (
	"fmt"

	"github.com/hourse/backend/internal/database"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.Open(cfg.DB)
		if err != nil {
			return errors.Wrap(err, "database connection failed")
		}
		if err := database.Migrate(db); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Migrated %s database\n", cfg.DB.Driver)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
