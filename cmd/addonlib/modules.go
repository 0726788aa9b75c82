package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dshills/addonlib/internal/app"
	"github.com/dshills/addonlib/internal/module"
	"github.com/dshills/addonlib/internal/transport"
)

var modulesJSON bool

func init() {
	modulesCmd.Flags().BoolVar(&modulesJSON, "json", false, "print JSON instead of YAML")
}

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "Load the addons and print every module with its current values",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, _, err := setup()
		if err != nil {
			return err
		}
		cfg.Storage.Watch = false

		// No listener; the addons only need the Lua host running.
		srv, err := app.NewServer(cmd.Context(), app.Options{
			Config:  cfg,
			Logger:  logger,
			Network: transport.NewNetwork(logger),
		})
		if err != nil {
			return err
		}
		defer srv.Close()

		ctx, cancel := context.WithCancel(cmd.Context())
		done := make(chan error, 1)
		go func() { done <- srv.Run(ctx) }()

		select {
		case <-srv.Ready():
		case <-time.After(time.Minute):
		}
		descs := srv.Registry().Describe()
		cancel()
		if err := <-done; err != nil {
			return err
		}
		return printModules(cmd, descs)
	},
}

func printModules(cmd *cobra.Command, descs []module.ModuleDescriptor) error {
	out := cmd.OutOrStdout()
	if modulesJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(descs)
	}
	// yaml.v3 ignores json tags; round trip through JSON to keep field names.
	raw, err := json.Marshal(descs)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}
	data, err := yaml.Marshal(generic)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(out, string(data))
	return err
}
