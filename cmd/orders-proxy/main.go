package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/order-api-client/pkg/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "orders-proxy",
		Short:        "Resilient caching proxy for the shop order API",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringP("config", "c", "orders-proxy.yaml", "path to config file")
	root.AddCommand(newServeCmd(), newOrdersCmd(), newSummaryCmd())
	return root
}

// loadConfig reads the config file named by the --config flag. A missing
// file falls back to defaults. Environment variables override both.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.Default()
		cfg.ApplyEnv()
		err = cfg.Validate()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
