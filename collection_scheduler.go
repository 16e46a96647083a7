package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/bsm/redislock"
	"github.com/chairtab/platform_backend/config"
	"github.com/chairtab/platform_backend/workflow"
	"github.com/sirupsen/logrus"
)

const schedulerLockKey = "lock:collection-scheduler"

func schedulerInterval() time.Duration {
	if v := os.Getenv("COLLECTION_SCHEDULER_INTERVAL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Minute
		}
	}
	return 15 * time.Minute
}

// RunCollectionScheduler ticks on an interval, takes a redis leader lock so
// only one replica runs a tick, and processes due collections. Generation
// sweeps (commission and booth rent) run on the same tick; CreateCollection's
// per-barber advisory lock and the double-collection guard make a lost redis
// lock safe, just wasteful.
func RunCollectionScheduler(ctx context.Context, service *workflow.CollectionService) {
	logger := config.GetLogger()
	interval := schedulerInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		runSchedulerTick(ctx, service, logger, interval)
	}
}

func runSchedulerTick(ctx context.Context, service *workflow.CollectionService, logger *logrus.Logger, interval time.Duration) {
	locker := config.GetRedisLock()
	var lock *redislock.Lock
	if locker != nil {
		var err error
		lock, err = locker.Obtain(ctx, schedulerLockKey, interval, nil)
		if err == redislock.ErrNotObtained {
			return
		}
		if err != nil {
			logger.WithFields(logrus.Fields{"field": "scheduler"}).Warn("error obtaining scheduler lock; proceeding without it: " + err.Error())
			lock = nil
		}
	}
	defer func() {
		if lock == nil {
			return
		}
		if err := lock.Release(ctx); err != nil && err != redislock.ErrLockNotHeld {
			logger.WithFields(logrus.Fields{"field": "scheduler"}).Warn("failed to release scheduler lock: " + err.Error())
		}
	}()

	if _, err := service.GenerateCommissionCollections(ctx, nil); err != nil {
		config.LogError(logger, "collection_scheduler.go", "runSchedulerTick", "generate commission", nil, err)
	}
	if _, err := service.GenerateBoothRentCollections(ctx, nil); err != nil {
		config.LogError(logger, "collection_scheduler.go", "runSchedulerTick", "generate booth rent", nil, err)
	}

	results, err := service.ProcessScheduledCollections(ctx, config.IntFromEnv("COLLECTION_BATCH_SIZE", 50))
	if err != nil {
		config.LogError(logger, "collection_scheduler.go", "runSchedulerTick", "process", nil, err)
		return
	}
	if len(results) > 0 {
		succeeded := 0
		for _, r := range results {
			if r.Success {
				succeeded++
			}
		}
		logger.WithFields(logrus.Fields{
			"field":     "scheduler",
			"processed": len(results),
			"succeeded": succeeded,
		}).Info("collection tick complete")
	}
}
