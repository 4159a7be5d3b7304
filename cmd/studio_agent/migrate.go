package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/video-studio/internal/config"
	"github.com/jonathan/video-studio/internal/db"
)

func newMigrateCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.store != "postgres" {
				return fmt.Errorf("migrate needs --store postgres, got %q", opts.store)
			}
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if err := cfg.RequireDatabase(); err != nil {
				return err
			}

			database, err := db.Connect(cmd.Context(), cfg.Database.URL, cfg.Database.MaxConns)
			if err != nil {
				return err
			}
			defer database.Close()

			if err := database.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}
