package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ncobase/relay/app"
	"github.com/ncobase/relay/config"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "relay",
		Short:         "Cache, metrics and pub/sub relay over Redis",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (default: search config.yaml)")

	load := func() (*config.Config, error) {
		cfg, err := config.LoadConfig(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		return cfg, nil
	}

	rootCmd.AddCommand(
		newServeCommand(load),
		newCacheCommand(load),
		newMetricsCommand(load),
		newPublishCommand(load),
		newVersionCommand(),
	)

	return rootCmd
}

type loader func() (*config.Config, error)

// withApp builds the application for a one-shot command and stops it after fn.
// Background loops are not started.
func withApp(cmd *cobra.Command, load loader, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := load()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Stop(ctx) }()

	return fn(ctx, a)
}

// printJSON writes v as indented JSON to the command output
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
