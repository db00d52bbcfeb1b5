package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odyssey-erp/odyssey-ops/internal/app"
	"github.com/odyssey-erp/odyssey-ops/internal/consistency"
	jobmetrics "github.com/odyssey-erp/odyssey-ops/internal/jobs"
	"github.com/odyssey-erp/odyssey-ops/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if cfg.StoreDriver != app.DriverPostgres {
		logger.Error("worker requires the postgres store driver", slog.String("store", cfg.StoreDriver))
		os.Exit(1)
	}

	backend, err := app.OpenBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("open backend", slog.Any("error", err))
		os.Exit(1)
	}
	defer backend.Close()

	metrics := jobmetrics.NewMetrics(nil)
	auditor := consistency.NewAuditor(backend.Repository, logger, metrics)
	repairer := consistency.NewRepairer(backend.Repository, backend.Lock, logger, metrics, consistency.RepairConfig{PaymentTerms: cfg.DefaultPaymentTerms})
	sweepJob := jobs.NewConsistencySweepJob(auditor, repairer, logger, metrics)
	cleanupJob := jobs.NewIdempotencyCleanupJob(backend.Janitor, cfg.IdempotencyRetention, logger, metrics)

	sweepTask, err := jobs.NewConsistencySweepTask(cfg.SweepRepair)
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskConsistencySweep, Handler: sweepJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.SweepCron, Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.IdempotencyCleanupCron, Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.WorkerMetricsAddr != "" {
		metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: promhttp.Handler(), ReadTimeout: cfg.AppReadTimeout}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("worker metrics server", slog.Any("error", err))
			}
		}()
		defer metricsServer.Close()
	}

	logger.Info("starting worker", slog.String("sweep_cron", cfg.SweepCron), slog.Bool("sweep_repair", cfg.SweepRepair))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
