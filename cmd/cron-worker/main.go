package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/intlshop-backend/internal/app"
	"github.com/angelmondragon/intlshop-backend/internal/cron"
	"github.com/angelmondragon/intlshop-backend/pkg/config"
	"github.com/angelmondragon/intlshop-backend/pkg/db"
	"github.com/angelmondragon/intlshop-backend/pkg/logger"
	"github.com/angelmondragon/intlshop-backend/pkg/metrics"
	"github.com/angelmondragon/intlshop-backend/pkg/migrate"
	"github.com/angelmondragon/intlshop-backend/pkg/outbox"
	"github.com/angelmondragon/intlshop-backend/pkg/redis"
	"github.com/angelmondragon/intlshop-backend/pkg/square"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	squareClient, err := square.NewClient(context.Background(), cfg.Square, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap square client", err)
		os.Exit(1)
	}
	carrierClient, err := app.NewCarrier(cfg.Carrier)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap carrier client", err)
		os.Exit(1)
	}

	domain, err := app.NewDomain(context.Background(), app.DomainParams{
		Config:  cfg,
		Logger:  logg,
		DB:      dbClient,
		Redis:   redisClient,
		Square:  squareClient,
		Carrier: carrierClient,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build domain services", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, lockScope(cfg.App.Env), cfg.Jobs.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	jobs, err := buildJobs(cfg, logg, metricsCollector, dbClient, domain)
	if err != nil {
		logg.Error(context.Background(), "failed to build cron jobs", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(jobs...),
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Jobs.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})

	if addr := cfg.Service.MetricsAddr; addr != "" {
		srv := &http.Server{Addr: addr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logg.Error(ctx, "metrics server stopped", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildJobs(cfg *config.Config, logg *logger.Logger, m *metrics.CronJobMetrics, dbClient *db.Client, domain *app.Domain) ([]cron.Job, error) {
	builders := []func() (cron.Job, error){
		func() (cron.Job, error) {
			return cron.NewPaymentSyncJob(cron.PaymentSyncJobParams{
				Logger: logg, Metrics: m, Payments: domain.Payments, BatchSize: cfg.Jobs.PaymentSyncBatch,
			})
		},
		func() (cron.Job, error) {
			return cron.NewRefundSyncJob(cron.RefundSyncJobParams{
				Logger: logg, Metrics: m, Payments: domain.Payments, BatchSize: cfg.Jobs.RefundSyncBatch,
			})
		},
		func() (cron.Job, error) {
			return cron.NewOrderTimeoutJob(cron.OrderTimeoutJobParams{
				Logger: logg, Metrics: m, Orders: domain.Orders, BatchSize: cfg.Jobs.OrderTimeoutBatch,
			})
		},
		func() (cron.Job, error) {
			return cron.NewShipmentPlaceholderJob(cron.ShipmentPlaceholderJobParams{
				Logger: logg, Metrics: m, Shipments: domain.Shipments, BatchSize: cfg.Jobs.ShipmentPlaceholderBatch,
			})
		},
		func() (cron.Job, error) {
			return cron.NewShipmentSyncJob(cron.ShipmentSyncJobParams{
				Logger: logg, Metrics: m, Shipments: domain.Shipments, BatchSize: cfg.Jobs.ShipmentSyncBatch,
			})
		},
		func() (cron.Job, error) {
			return cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
				Logger:      logg,
				Metrics:     m,
				DB:          dbClient,
				Repository:  outbox.NewRepository(dbClient.DB()),
				Retention:   cfg.Outbox.Retention,
				MinAttempts: cfg.Outbox.MaxAttempts,
			})
		},
	}
	jobs := make([]cron.Job, 0, len(builders))
	for _, build := range builders {
		job, err := build()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func lockScope(env string) string {
	if env == "" {
		env = "local"
	}
	return "cron-worker:" + env
}
