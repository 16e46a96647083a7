package workflow

import (
	"context"
	"time"

	"github.com/chairtab/platform_backend/config"
	"github.com/chairtab/platform_backend/models"
	"github.com/shopspring/decimal"
)

// CollectionProcessResult is the per-record outcome of a scheduler tick,
// returned so operators running the tick by hand see what happened.
type CollectionProcessResult struct {
	CollectionId int                     `json:"collection_id"`
	BarberId     int                     `json:"barber_id"`
	Amount       decimal.Decimal         `json:"amount"`
	Status       models.CollectionStatus `json:"status"`
	Success      bool                    `json:"success"`
	Message      string                  `json:"message,omitempty"`
}

// ProcessScheduledCollections attempts every PENDING collection whose
// scheduled_date has arrived, oldest first. Each record is attempted
// independently; one barber's gateway failure never blocks the rest of the
// batch. The id pick is a plain read: concurrent ticks dedupe when each
// attempt claims its row under a FOR UPDATE lock and a status check, so a
// row picked twice is attempted once.
func (s *CollectionService) ProcessScheduledCollections(ctx context.Context, limit int) ([]CollectionProcessResult, error) {
	if limit <= 0 {
		limit = 50
	}

	if err := s.requeueStaleProcessing(ctx); err != nil {
		config.LogError(s.Logger, "workflow", "ProcessScheduledCollections", "requeue stale", nil, err)
	}

	var dueIds []int
	err := s.DB.WithContext(ctx).Model(&models.PlatformCollection{}).
		Where("status = ? AND scheduled_date <= ? AND retry_count < max_retries",
			models.CollectionStatusPending, time.Now().UTC()).
		Order("scheduled_date ASC").
		Limit(limit).
		Pluck("id", &dueIds).Error
	if err != nil {
		return nil, wrapError(ErrKindInternal, "selecting due collections", err)
	}

	results := make([]CollectionProcessResult, 0, len(dueIds))
	for _, id := range dueIds {
		collection, err := s.AttemptCollection(ctx, id)
		result := CollectionProcessResult{CollectionId: id}
		if collection != nil {
			result.BarberId = collection.BarberId
			result.Amount = collection.Amount
			result.Status = collection.Status
		}
		if err != nil {
			// Another worker claiming the row first is not a failure worth
			// reporting.
			if ErrorKindOf(err) == ErrKindInvalidState {
				continue
			}
			result.Success = false
			result.Message = err.Error()
			config.LogError(s.Logger, "workflow", "ProcessScheduledCollections", "attempt", id, err)
		} else {
			result.Success = collection.Status == models.CollectionStatusCollected ||
				collection.Status == models.CollectionStatusProcessing
		}
		results = append(results, result)
	}
	return results, nil
}

// requeueStaleProcessing recovers records stuck in PROCESSING with no gateway
// transaction id: the worker died between claiming the row and calling the
// rail, so no money moved and the attempt can safely run again. Records WITH
// a transaction id are left alone; only the rail's webhook may decide those.
func (s *CollectionService) requeueStaleProcessing(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.Retry.StaleProcessingAfter)
	return s.DB.WithContext(ctx).Model(&models.PlatformCollection{}).
		Where("status = ? AND platform_transaction_id IS NULL AND last_attempt_at < ?",
			models.CollectionStatusProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":         models.CollectionStatusPending,
			"scheduled_date": time.Now().UTC(),
		}).Error
}
