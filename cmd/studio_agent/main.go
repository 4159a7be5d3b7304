// Package main provides the entry point for the video studio API server and its tooling.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	store      string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:           "studio_agent",
		Short:         "Video studio enrichment service",
		Long:          "Video studio stores videos and runs durable workflows that generate their titles, descriptions and thumbnails.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("STUDIO_CONFIG"), "Path to a TOML config file")
	cmd.PersistentFlags().StringVar(&opts.store, "store", "postgres", "Record store: postgres or memory")

	cmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newTriggerCmd(opts),
		newRunsCmd(opts),
		newVideoCmd(opts),
		newTokenCmd(),
	)
	return cmd
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
