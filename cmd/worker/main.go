package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nordstay/nordstay/internal/accounts"
	"github.com/nordstay/nordstay/internal/app"
	jobmetrics "github.com/nordstay/nordstay/internal/jobs"
	"github.com/nordstay/nordstay/internal/ledger"
	"github.com/nordstay/nordstay/internal/platform/cache"
	"github.com/nordstay/nordstay/internal/platform/db"
	"github.com/nordstay/nordstay/internal/reconcile"
	"github.com/nordstay/nordstay/internal/shared"
	"github.com/nordstay/nordstay/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	accountsRepo := accounts.NewRepository(pool)
	ledgerRepo := ledger.NewRepository(pool)
	reconcileService := reconcile.NewService(accountsRepo, ledgerRepo, cfg.ReconcileConcurrency)
	reconcileService.WithAudit(shared.NewAuditLogger(pool))

	metrics := jobmetrics.NewMetrics(nil)
	sweepJob := jobs.NewReconcileSweepJob(reconcileService, redisClient, logger, metrics, cfg.SweepLockTTL)

	sweepTask, err := jobs.NewReconcileSweepTask(jobs.ReconcileSweepPayload{Mode: jobs.SweepModeRepair})
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskReconcileSweep, Handler: sweepJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.SweepCronSpec, Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := chi.NewRouter()
	jobs.NewHandler(inspector, logger).MountRoutes(router)
	router.Handle("/metrics", promhttp.Handler())
	httpSrv := &http.Server{Addr: cfg.WorkerAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("worker http listening", slog.String("addr", cfg.WorkerAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker http", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("worker http shutdown", slog.Any("error", err))
		}
	}()

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
