package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/maltedev/search-spider/internal/config"
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spider",
		Short: "Pagination-aware product search spider",
		Long: `spider runs a keyword search against a product listing source, follows
its result pages up to the configured cap and writes the records it found.

Settings come from the built-in defaults, the YAML file given with --config
(or SPIDER_CONFIG) and the environment, in that order. Flags win.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("config", "c", "", "YAML configuration file")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewSourcesCmd())

	return cmd
}

// loadConfig applies the persistent flags on top of config.Load.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if err := os.Setenv(config.ConfigFileEnv, path); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
