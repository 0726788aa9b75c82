// Package main is the entry point for the addonlib server and client.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/addonlib/internal/config"
	"github.com/dshills/addonlib/internal/logging"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var (
	// cfgFile is the TOML configuration file.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "addonlib",
		Short: "Addon configuration server and client",
		Long: `addonlib runs Lua addons that declare typed settings modules.

The server owns server-wide settings, persists them and pushes them to
connected players. The client mirrors those settings, keeps its own
per-player settings and sends chat commands such as !addonmenu.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "addonlib.toml", "config file (missing file means defaults)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(clientCmd)
	rootCmd.AddCommand(modulesCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "addonlib %s (commit %s, built %s)\n", version, commit, date)
	},
}

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// setup loads the configuration and builds the logger.
func setup() (*config.Config, *zap.Logger, zap.AtomicLevel, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, zap.AtomicLevel{}, err
	}
	logger, lvl, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, zap.AtomicLevel{}, err
	}
	return cfg, logger, lvl, nil
}
