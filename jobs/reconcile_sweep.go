package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	jobmetrics "github.com/nordstay/nordstay/internal/jobs"
	"github.com/nordstay/nordstay/internal/reconcile"
	"github.com/nordstay/nordstay/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ReconcileSweepJob runs the periodic balance reconciliation. A redis mutex
// keeps overlapping scheduled runs from repairing the same accounts at once;
// per-account failures stay inside the batch result and never fail the task.
type ReconcileSweepJob struct {
	Reconcile *reconcile.Service
	Redis     *redis.Client
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	LockTTL   time.Duration
}

// NewReconcileSweepJob wires dependencies for the sweep handler.
func NewReconcileSweepJob(svc *reconcile.Service, redisClient *redis.Client, logger *slog.Logger, metrics *jobmetrics.Metrics, lockTTL time.Duration) *ReconcileSweepJob {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Minute
	}
	return &ReconcileSweepJob{
		Reconcile: svc,
		Redis:     redisClient,
		Logger:    logger,
		Metrics:   metrics,
		LockTTL:   lockTTL,
	}
}

// Handle processes reconcile:sweep tasks.
func (j *ReconcileSweepJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Reconcile == nil {
		return errors.New("reconcile sweep: handler not configured")
	}
	var payload ReconcileSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Mode == "" {
		payload.Mode = SweepModeRepair
	}

	logger := j.logger().With(slog.String("mode", payload.Mode))

	acquired, release, err := j.acquireLock(ctx)
	if err != nil {
		logger.Warn("sweep lock", slog.Any("error", err))
	}
	if !acquired {
		logger.Info("sweep already running, skipping")
		return nil
	}
	defer release()

	tracker := j.metrics().Track(TaskReconcileSweep)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger.Info("starting reconciliation sweep")
	start := time.Now()

	var result reconcile.BatchResult
	switch payload.Mode {
	case SweepModeValidate:
		result, resultErr = j.Reconcile.ValidateAll(ctx)
	default:
		result, resultErr = j.Reconcile.RepairAll(ctx)
	}
	if resultErr != nil {
		logger.Error("reconciliation sweep aborted", slog.Any("error", resultErr))
		return resultErr
	}

	for _, drift := range result.Drifts {
		logger.Warn("cached balance drift",
			slog.String("account", drift.Code),
			slog.Float64("cached", drift.Cached),
			slog.Float64("recomputed", drift.Recomputed),
			slog.Float64("drift", drift.Drift))
	}
	for _, failure := range result.Failures {
		logger.Error("account reconciliation failed",
			slog.String("account", failure.Code),
			slog.Any("error", failure.Err))
	}

	j.metrics().AddSweepOutcome(result.Invalid, result.Repaired, len(result.Failures))
	logger.Info("completed reconciliation sweep",
		slog.Int("checked", result.Checked),
		slog.Int("invalid", result.Invalid),
		slog.Int("repaired", result.Repaired),
		slog.Int("failed", len(result.Failures)),
		slog.Duration("duration", time.Since(start)))
	return resultErr
}

// acquireLock takes the sweep mutex. Redis being unavailable degrades to
// running unguarded rather than skipping the sweep entirely.
func (j *ReconcileSweepJob) acquireLock(ctx context.Context) (bool, func(), error) {
	if j.Redis == nil {
		return true, func() {}, nil
	}
	key := shared.SweepLockKey()
	ok, err := j.Redis.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), j.LockTTL).Result()
	if err != nil {
		return true, func() {}, err
	}
	if !ok {
		return false, func() {}, nil
	}
	return true, func() {
		_ = j.Redis.Del(context.WithoutCancel(ctx), key).Err()
	}, nil
}

func (j *ReconcileSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReconcileSweep))
	}
	return slog.Default().With(slog.String("job", TaskReconcileSweep))
}

func (j *ReconcileSweepJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
