package worker

import (
	"context"
	"time"

	"studio-commerce/internal/redisclient"
	"studio-commerce/internal/service"
	"studio-commerce/internal/store"
	"studio-commerce/internal/util"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const sweepLockKey = "installment-sweep"
const sweepLockTTL = 30 * time.Minute

// SweepWorker schedules the daily installment sweep and keeps the
// course availability cache warm.
type SweepWorker struct {
	cron     *cron.Cron
	billing  *service.BillingService
	store    *store.Store
	redis    *redisclient.Client
	schedule string
	logger   *zap.Logger
}

// NewSweepWorker creates a new sweep worker
func NewSweepWorker(billing *service.BillingService, store *store.Store, redis *redisclient.Client, schedule string) *SweepWorker {
	return &SweepWorker{
		cron:     cron.New(cron.WithSeconds()),
		billing:  billing,
		store:    store,
		redis:    redis,
		schedule: schedule,
		logger:   util.GetLogger(),
	}
}

// Start registers the cron jobs and starts the scheduler
func (w *SweepWorker) Start() error {
	if _, err := w.cron.AddFunc(w.schedule, w.runSweep); err != nil {
		return err
	}

	// Refresh cached course availability hourly so the cart's soft
	// check stays close to reality between completions.
	if _, err := w.cron.AddFunc("0 0 * * * *", w.refreshAvailability); err != nil {
		return err
	}

	w.cron.Start()
	w.logger.Info("Sweep worker started", zap.String("schedule", w.schedule))
	return nil
}

// Stop stops the scheduler, waiting for a running job to finish
func (w *SweepWorker) Stop() {
	ctx := w.cron.Stop()
	<-ctx.Done()
	w.logger.Info("Sweep worker stopped")
}

// RunSweepNow triggers a sweep outside the schedule (admin endpoint)
func (w *SweepWorker) RunSweepNow(ctx context.Context) (*service.SweepResult, error) {
	return w.billing.ProcessInstallments(ctx)
}

func (w *SweepWorker) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	// The lock keeps two instances from double-charging when the
	// service runs replicated.
	if w.redis != nil {
		acquired, err := w.redis.AcquireLock(ctx, sweepLockKey, sweepLockTTL)
		if err != nil {
			w.logger.Error("Failed to acquire sweep lock", zap.Error(err))
			return
		}
		if !acquired {
			w.logger.Info("Sweep already running elsewhere, skipping")
			return
		}
		defer func() {
			if err := w.redis.ReleaseLock(ctx, sweepLockKey); err != nil {
				w.logger.Warn("Failed to release sweep lock", zap.Error(err))
			}
		}()
	}

	start := time.Now()
	result, err := w.billing.ProcessInstallments(ctx)
	util.SweepDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		w.logger.Error("Installment sweep failed", zap.Error(err))
		return
	}
	w.logger.Info("Installment sweep completed",
		zap.Int("processed", result.Processed),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed))
}

func (w *SweepWorker) refreshAvailability() {
	if w.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	courseIDs, err := w.store.GetActiveCourseIDs(ctx)
	if err != nil {
		w.logger.Error("Failed to list active courses", zap.Error(err))
		return
	}

	for _, courseID := range courseIDs {
		available, err := w.store.CourseAvailability(ctx, courseID)
		if err != nil {
			w.logger.Warn("Failed to read course availability",
				zap.Int64("course_id", courseID),
				zap.Error(err))
			continue
		}
		if err := w.redis.SetCourseAvailability(ctx, courseID, available, time.Hour); err != nil {
			w.logger.Warn("Failed to cache course availability",
				zap.Int64("course_id", courseID),
				zap.Error(err))
		}
	}
}
