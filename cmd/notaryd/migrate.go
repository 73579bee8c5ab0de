package main

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/notary_scheduler/internal/app"
	"github.com/Freeeeeet/notary_scheduler/internal/config"
	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status|version]",
		Short:     "Manage database migrations",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			action := "up"
			if len(args) == 1 {
				action = args[0]
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := app.NewLogger(cfg.Environment, cfg.LogLevel)
			defer logger.Sync()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			pool, err := app.ConnectDB(ctx, cfg.GetDBDSN(), logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator, err := app.NewMigrator(pool, logger)
			if err != nil {
				return err
			}
			defer migrator.Close()

			switch action {
			case "down":
				return migrator.Down(ctx)
			case "status":
				return migrator.Status(ctx)
			case "version":
				v, err := migrator.Version(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema version: %d\n", v)
				return nil
			default:
				return migrator.Run(ctx)
			}
		},
	}
}
