package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hourse/backend/internal/database"
	"github.com/hourse/backend/internal/storage"
	"github.com/hourse/backend/pkg/logger"
	"github.com/hourse/backend/pkg/utils"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API and the realtime gateway",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		utils.ConfigureJWT(cfg.JWT.Secret, cfg.JWT.ExpirationHours)

		db, err := database.Connect(cfg.DB)
		if err != nil {
			return errors.Wrap(err, "database connection failed")
		}

		backend, err := storage.New(cfg.Storage)
		if err != nil {
			return errors.Wrap(err, "storage initialization failed")
		}
		if err := backend.EnsureReady(cmd.Context()); err != nil {
			return errors.Wrapf(err, "storage backend %s is not ready", backend.Name())
		}

		srv := NewServer(cfg, db, backend, afero.NewOsFs(), newLimiter(cmd.Context(), cfg))
		errCh := srv.Start()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("server_shutdown", map[string]interface{}{"signal": sig.String()})
		case err := <-errCh:
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(ctx)
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("forced_shutdown", map[string]interface{}{"reason": err.Error()})
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
