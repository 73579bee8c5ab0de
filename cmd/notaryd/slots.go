package main

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/notary_scheduler/internal/app"
	"github.com/Freeeeeet/notary_scheduler/internal/availability"
	"github.com/Freeeeeet/notary_scheduler/internal/clock"
	"github.com/Freeeeeet/notary_scheduler/internal/config"
	"github.com/Freeeeeet/notary_scheduler/internal/controller/handlers"
	"github.com/Freeeeeet/notary_scheduler/internal/queue"
	"github.com/Freeeeeet/notary_scheduler/internal/repository"
	"github.com/Freeeeeet/notary_scheduler/internal/service"
	"github.com/spf13/cobra"
)

// notaryd slots mobile-general 2025-03-04
func newSlotsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "slots <service-id> <YYYY-MM-DD>",
		Short: "Print available slots for a service on a date",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := app.NewLogger(cfg.Environment, "warn")
			defer logger.Sync()

			cal, err := config.LoadCalendar(cfg.CalendarFile)
			if err != nil {
				return fmt.Errorf("load business calendar: %w", err)
			}

			date, err := clock.ParseDate(args[1], cal.Location)
			if err != nil {
				return fmt.Errorf("parse date: %w", err)
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			pool, err := app.ConnectDB(ctx, cfg.GetDBDSN(), logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			clk := clock.Real{}
			bookings := service.NewBookingService(
				repository.NewPostgresStore(pool),
				availability.NewEngine(clk),
				cal,
				queue.NewPostgresQueue(pool, clk, cfg.JobLease),
				service.NopSlotCache{},
				clk,
				logger,
			)

			slots, err := bookings.GetAvailableSlots(ctx, args[0], date)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), handlers.FormatSlots(args[0], date, slots, cal.Location))
			return nil
		},
	}
}
