package main

import (
	"log/slog"

	"github.com/aouyang1/go-outbreak-forecaster/store/postgres"
	"github.com/spf13/cobra"
)

func migrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the postgres tables used for input and output",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.DatabaseURL == "" {
				return ErrNoInput
			}
			ctx := cmd.Context()
			pool, err := postgres.Connect(ctx, a.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			pg, err := postgres.New(pool)
			if err != nil {
				return err
			}
			if err := pg.EnsureSchema(ctx); err != nil {
				return err
			}
			slog.Info("schema ready")
			return nil
		},
	}
}
