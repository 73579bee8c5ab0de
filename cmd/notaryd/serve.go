package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Freeeeeet/notary_scheduler/internal/app"
	"github.com/Freeeeeet/notary_scheduler/internal/availability"
	"github.com/Freeeeeet/notary_scheduler/internal/clock"
	"github.com/Freeeeeet/notary_scheduler/internal/config"
	"github.com/Freeeeeet/notary_scheduler/internal/controller"
	"github.com/Freeeeeet/notary_scheduler/internal/controller/httpapi"
	"github.com/Freeeeeet/notary_scheduler/internal/fulfillment"
	"github.com/Freeeeeet/notary_scheduler/internal/integrations/ghl"
	"github.com/Freeeeeet/notary_scheduler/internal/integrations/ron"
	"github.com/Freeeeeet/notary_scheduler/internal/notify"
	"github.com/Freeeeeet/notary_scheduler/internal/queue"
	"github.com/Freeeeeet/notary_scheduler/internal/repository"
	"github.com/Freeeeeet/notary_scheduler/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/go-telegram/bot"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, staff bot and fulfillment workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger := app.NewLogger(cfg.Environment, cfg.LogLevel)
			defer logger.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return serve(ctx, cfg, migrateUp, logger)
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, migrateUp bool, logger *zap.Logger) error {
	logger.Info("Starting notaryd",
		zap.String("environment", cfg.Environment),
		zap.String("version", Version))

	pool, err := app.ConnectDB(ctx, cfg.GetDBDSN(), logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	if migrateUp {
		migrator, err := app.NewMigrator(pool, logger)
		if err != nil {
			return err
		}
		err = migrator.Run(ctx)
		migrator.Close()
		if err != nil {
			return err
		}
	}

	cal, err := config.LoadCalendar(cfg.CalendarFile)
	if err != nil {
		return fmt.Errorf("load business calendar: %w", err)
	}

	clk := clock.Real{}
	store := repository.NewPostgresStore(pool)
	jobs := queue.NewPostgresQueue(pool, clk, cfg.JobLease)

	// Redis: кэш слотов и напоминания. Без него оба отключены.
	var (
		cache     service.SlotCache = service.NopSlotCache{}
		reminders fulfillment.ReminderScheduler = fulfillment.NopReminders{}
		asynqOpt  asynq.RedisClientOpt
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisCacheDB,
		})
		defer rdb.Close()
		cache = service.NewRedisSlotCache(rdb, service.SlotCacheTTL, logger)

		asynqOpt = asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisQueueDB}
		asynqClient := asynq.NewClient(asynqOpt)
		defer asynqClient.Close()
		reminders = fulfillment.NewAsynqReminders(asynqClient, clk, logger)
	} else {
		logger.Warn("REDIS_ADDR not set: slot cache and reminders are disabled")
	}

	bookings := service.NewBookingService(store, availability.NewEngine(clk), cal, jobs, cache, clk, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := fulfillment.NewMetrics("notary", registry)

	// Почта
	var sender notify.Sender = notify.LogSender{Logger: logger}
	if cfg.Gmail.Enabled() {
		gs, err := notify.NewGmailSender(ctx, cfg.Gmail)
		if err != nil {
			return err
		}
		sender = gs
	} else {
		logger.Warn("Gmail is not configured: emails are only logged")
	}
	dispatcher := notify.NewDispatcher(sender, clk, logger)

	// Telegram: staff-бот и алерты операторам
	var alerter fulfillment.Alerter = notify.LogAlerter{Logger: logger}
	if cfg.TelegramToken != "" {
		b, err := bot.New(cfg.TelegramToken)
		if err != nil {
			return fmt.Errorf("create telegram bot: %w", err)
		}
		alerter = notify.NewTelegramAlerter(b, cfg.StaffChatIDs, logger)

		botController := controller.NewBotController(b, bookings, cfg.StaffChatIDs, logger)
		if err := botController.RegisterHandlers(ctx); err != nil {
			logger.Warn("Failed to register bot commands", zap.Error(err))
		}
		go botController.Start(ctx)
	} else {
		logger.Warn("TELEGRAM_TOKEN not set: staff bot disabled, alerts go to the log")
	}

	crm := ghl.New(cfg.GHL, logger)
	sessions := ron.New(cfg.RON, logger)
	if !sessions.Enabled() {
		logger.Warn("RON provider is not configured: remote bookings will fail fulfillment")
	}

	worker := fulfillment.NewWorker(store, jobs, crm, sessions, dispatcher, alerter, reminders, metrics, clk,
		fulfillment.Config{
			CalendarID:  crm.CalendarID(),
			StepTimeout: cfg.StepTimeout,
			Backoff: queue.Backoff{
				Base:        cfg.BackoffBase,
				Max:         cfg.BackoffMax,
				MaxAttempts: cfg.MaxAttempts,
			},
		}, logger)

	runner := fulfillment.NewRunner(worker, jobs, cfg.Workers, cfg.PollInterval, logger)
	scheduler := app.NewScheduler(bookings, runner, jobs, metrics, cfg.ReconcileInterval, logger)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	if cfg.RedisAddr != "" {
		srv := asynq.NewServer(asynqOpt, asynq.Config{
			Concurrency: 5,
			Queues:      map[string]int{"default": 1},
		})
		mux := asynq.NewServeMux()
		fulfillment.NewReminderHandler(store, dispatcher, metrics, logger).Register(mux)
		if err := srv.Start(mux); err != nil {
			return fmt.Errorf("start reminder worker: %w", err)
		}
		defer srv.Shutdown()
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpapi.NewRouter(httpapi.NewHandler(bookings, logger), httpapi.Options{
		StaffToken: cfg.StaffAPIToken,
		Gatherer:   registry,
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("✅ HTTP API listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down...")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
