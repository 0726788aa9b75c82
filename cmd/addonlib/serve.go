package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/addonlib/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the authority server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, lvl, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		srv, err := app.NewServer(cmd.Context(), app.Options{
			Config: cfg,
			Logger: logger,
			Level:  &lvl,
		})
		if err != nil {
			return err
		}
		defer srv.Close()

		logger.Info("starting server", zap.String("version", version))
		return srv.Run(cmd.Context())
	},
}
