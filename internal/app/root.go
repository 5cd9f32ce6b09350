package app

import (
	"fmt"
	"os"

	"github.com/hourse/backend/internal/config"
	"github.com/hourse/backend/pkg/logger"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "hourse",
	Short: "Hourse backend: family storage, settings and chat",
	Long: `Hourse serves the family REST API and the realtime chat gateway.

Configuration is read from the environment (see .env.example).

  hourse serve      Start the HTTP API and the websocket gateway
  hourse migrate    Apply database migrations and exit
  hourse user create --email a@b.c --name "Ada"`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded := config.Load()
		if err := loaded.Validate(); err != nil {
			return err
		}
		if err := logger.Configure(logOptions(loaded.Log)); err != nil {
			return errors.Wrap(err, "configuring logger")
		}
		cfg = loaded
		return nil
	},
}

func logOptions(l config.LogConfig) logger.Options {
	return logger.Options{
		Level:      l.Level,
		Service:    "hourse",
		Console:    l.Console,
		Pretty:     l.Pretty,
		FilePath:   l.FilePath,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
	}
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
