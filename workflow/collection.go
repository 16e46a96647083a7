package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/chairtab/platform_backend/config"
	"github.com/chairtab/platform_backend/gateway"
	"github.com/chairtab/platform_backend/models"
	"github.com/chairtab/platform_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CollectionService drives the platform collection state machine:
// PENDING -> PROCESSING -> {COLLECTED | FAILED}, with FAILED re-entering
// PENDING as a scheduled retry while retries remain. All dependencies are
// injected so tests can run the whole machine against a scripted gateway.
type CollectionService struct {
	DB      *gorm.DB
	Logger  *logrus.Logger
	Gateway gateway.Gateway
	Retry   RetryConfig
}

func NewCollectionService(db *gorm.DB, logger *logrus.Logger, gw gateway.Gateway, retry RetryConfig) *CollectionService {
	return &CollectionService{DB: db, Logger: logger, Gateway: gw, Retry: retry}
}

// NewCollection is the create input. RelatedTransactionIds is required for
// COMMISSION collections and must be empty for BOOTH_RENT.
type NewCollection struct {
	BarberId              int                   `json:"barber_id" validate:"required,gt=0"`
	CollectionType        models.CollectionType `json:"collection_type" validate:"required"`
	Amount                decimal.Decimal       `json:"amount" validate:"required"`
	Currency              string                `json:"currency"`
	Description           string                `json:"description"`
	ScheduledDate         *time.Time            `json:"scheduled_date"`
	PeriodStart           *time.Time            `json:"period_start"`
	PeriodEnd             *time.Time            `json:"period_end"`
	RelatedTransactionIds []int                 `json:"related_transaction_ids"`
	// AutoCollect triggers a synchronous collection attempt right after
	// create, when the barber's config also opts in.
	AutoCollect bool `json:"auto_collect"`
}

// CreateCollection writes a PENDING collection and its transaction join rows
// in one transaction, guarded per barber by an advisory lock so two
// concurrent creates cannot claim the same outstanding transactions.
func (s *CollectionService) CreateCollection(ctx context.Context, input *NewCollection) (*models.PlatformCollection, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, wrapError(ErrKindValidation, "invalid collection input", err)
	}
	if !input.CollectionType.Valid() {
		return nil, newError(ErrKindValidation, "collection type must be COMMISSION or BOOTH_RENT")
	}
	if !input.Amount.IsPositive() {
		return nil, newError(ErrKindValidation, "collection amount must be positive")
	}
	if input.CollectionType == models.CollectionTypeBoothRent && len(input.RelatedTransactionIds) > 0 {
		return nil, newError(ErrKindValidation, "booth rent collections do not reference transactions")
	}
	if input.CollectionType == models.CollectionTypeCommission && len(input.RelatedTransactionIds) == 0 {
		return nil, newError(ErrKindValidation, "commission collections must reference at least one transaction")
	}
	// A transaction id repeated in the request would double-link the join row.
	input.RelatedTransactionIds = utils.UniqueSlice(input.RelatedTransactionIds)

	cfg, err := models.GetCollectionConfigByBarber(ctx, input.BarberId)
	if err != nil {
		if err == utils.ErrorRecordNotFound {
			return nil, newError(ErrKindNotFound, fmt.Sprintf("no collection config for barber_id=%d", input.BarberId))
		}
		return nil, wrapError(ErrKindInternal, "loading collection config", err)
	}

	currency := input.Currency
	if currency == "" {
		currency = "USD"
	}
	scheduled := time.Now().UTC()
	if input.ScheduledDate != nil {
		scheduled = input.ScheduledDate.UTC()
	}

	collection := models.PlatformCollection{
		BarberId:         input.BarberId,
		CollectionType:   input.CollectionType,
		Amount:           input.Amount.Round(2),
		Currency:         currency,
		Status:           models.CollectionStatusPending,
		CollectionMethod: cfg.CollectionMethod,
		Description:      input.Description,
		ScheduledDate:    scheduled,
		PeriodStart:      input.PeriodStart,
		PeriodEnd:        input.PeriodEnd,
		MaxRetries:       s.Retry.MaxRetries,
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := AcquireBarberCollectionLock(tx, input.BarberId); err != nil {
			return wrapError(ErrKindInternal, "acquiring barber lock", err)
		}
		defer ReleaseBarberCollectionLock(tx, input.BarberId)

		if input.CollectionType == models.CollectionTypeCommission {
			conflicts, err := models.ConflictingTransactionIds(tx, input.RelatedTransactionIds)
			if err != nil {
				return wrapError(ErrKindInternal, "checking transaction claims", err)
			}
			if len(conflicts) > 0 {
				return newError(ErrKindConflict,
					fmt.Sprintf("transactions already claimed by another collection: %v", conflicts))
			}
		}

		if err := tx.Create(&collection).Error; err != nil {
			return wrapError(ErrKindInternal, "creating collection", err)
		}
		for _, txnId := range input.RelatedTransactionIds {
			join := models.CollectionTransaction{
				PlatformCollectionId:  collection.ID,
				ExternalTransactionId: txnId,
			}
			if err := tx.Create(&join).Error; err != nil {
				return wrapError(ErrKindInternal, "linking collection transaction", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if input.AutoCollect && cfg.AutoCollection {
		// A failed first attempt does not fail the create; the record stays
		// on the retry schedule and the caller sees its latest state.
		if attempted, err := s.AttemptCollection(ctx, collection.ID); err != nil {
			config.LogError(s.Logger, "workflow", "CreateCollection", "auto collect attempt", collection.ID, err)
		} else {
			return attempted, nil
		}
		refreshed, err := s.getCollection(ctx, collection.ID)
		if err != nil {
			return &collection, nil
		}
		return refreshed, nil
	}
	return &collection, nil
}

func (s *CollectionService) getCollection(ctx context.Context, collectionId int) (*models.PlatformCollection, error) {
	var collection models.PlatformCollection
	err := s.DB.WithContext(ctx).Where("id = ?", collectionId).First(&collection).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, newError(ErrKindNotFound, fmt.Sprintf("collection %d not found", collectionId))
		}
		return nil, wrapError(ErrKindInternal, "loading collection", err)
	}
	return &collection, nil
}

// AttemptCollection runs one debit attempt. The claim (PENDING/FAILED ->
// PROCESSING, retry_count incremented) commits before the gateway call so a
// crash mid-debit leaves a visible PROCESSING row instead of a silent retry.
// The outcome is finalized in a second transaction; for asynchronous rails the
// record stays PROCESSING until the webhook reconciles it.
func (s *CollectionService) AttemptCollection(ctx context.Context, collectionId int) (*models.PlatformCollection, error) {
	claimed, cfg, err := s.claimForProcessing(ctx, collectionId)
	if err != nil {
		return nil, err
	}

	source, terminalErr := instrumentFor(cfg, claimed.CollectionMethod)
	if terminalErr != nil {
		// Missing instrument can never succeed on retry.
		failed, ferr := s.finalizeFailure(ctx, claimed.ID, terminalErr.Error(), false)
		if ferr != nil {
			return nil, ferr
		}
		return failed, terminalErr
	}

	result, debitErr := s.Gateway.Debit(ctx, gateway.DebitRequest{
		SourceInstrument:      source,
		DestinationInstrument: platformInstrumentFor(claimed.CollectionMethod),
		Amount:                claimed.Amount,
		Currency:              claimed.Currency,
		IdempotencyKey:        fmt.Sprintf("collection-%d", claimed.ID),
		Description:           debitDescription(claimed),
	})
	if debitErr != nil {
		failed, ferr := s.finalizeFailure(ctx, claimed.ID, debitErr.Error(), gateway.Retryable(debitErr))
		if ferr != nil {
			return nil, ferr
		}
		return failed, wrapError(kindForGatewayError(debitErr), "gateway debit failed", debitErr)
	}

	if result.Status == gateway.DebitProcessing {
		pending, err := s.recordInFlight(ctx, claimed.ID, result)
		if err != nil {
			return nil, err
		}
		return pending, nil
	}
	return s.finalizeSuccess(ctx, claimed.ID, result)
}

func kindForGatewayError(err error) ErrorKind {
	if gateway.Retryable(err) {
		return ErrKindTransient
	}
	return ErrKindValidation
}

// claimForProcessing moves a due PENDING (or manually retried FAILED) record
// into PROCESSING under row lock and returns it with the barber's config.
func (s *CollectionService) claimForProcessing(ctx context.Context, collectionId int) (*models.PlatformCollection, *models.CollectionConfig, error) {
	var claimed *models.PlatformCollection
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		collection, err := models.GetCollectionForUpdate(tx, collectionId)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return newError(ErrKindNotFound, fmt.Sprintf("collection %d not found", collectionId))
			}
			return wrapError(ErrKindInternal, "locking collection", err)
		}

		switch collection.Status {
		case models.CollectionStatusPending, models.CollectionStatusFailed:
		case models.CollectionStatusProcessing:
			return newError(ErrKindInvalidState,
				fmt.Sprintf("collection %d already processing", collection.ID))
		default:
			return newError(ErrKindInvalidState,
				fmt.Sprintf("collection %d is %s and cannot be attempted", collection.ID, collection.Status))
		}
		if collection.RetryCount >= collection.MaxRetries {
			return newError(ErrKindRetryLimit,
				fmt.Sprintf("collection %d exhausted %d retries", collection.ID, collection.MaxRetries))
		}

		now := time.Now().UTC()
		updates := map[string]interface{}{
			"status":          models.CollectionStatusProcessing,
			"retry_count":     collection.RetryCount + 1,
			"attempted_at":    &now,
			"last_attempt_at": &now,
		}
		if err := tx.Model(&models.PlatformCollection{}).
			Where("id = ?", collection.ID).Updates(updates).Error; err != nil {
			return wrapError(ErrKindInternal, "claiming collection", err)
		}

		collection.Status = models.CollectionStatusProcessing
		collection.RetryCount++
		collection.AttemptedAt = &now
		collection.LastAttemptAt = &now
		claimed = collection
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	cfg, err := models.GetCollectionConfigByBarber(ctx, claimed.BarberId)
	if err != nil {
		if err == utils.ErrorRecordNotFound {
			return nil, nil, newError(ErrKindNotFound,
				fmt.Sprintf("no collection config for barber_id=%d", claimed.BarberId))
		}
		return nil, nil, wrapError(ErrKindInternal, "loading collection config", err)
	}
	return claimed, cfg, nil
}

func instrumentFor(cfg *models.CollectionConfig, method models.CollectionMethod) (string, error) {
	switch method {
	case models.CollectionMethodACH:
		if cfg.CollectionBankAccount == nil || *cfg.CollectionBankAccount == "" {
			return "", newError(ErrKindValidation,
				fmt.Sprintf("barber_id=%d has no bank account on file for ACH collection", cfg.BarberId))
		}
		return *cfg.CollectionBankAccount, nil
	case models.CollectionMethodCard:
		if cfg.CollectionPaymentMethod == nil || *cfg.CollectionPaymentMethod == "" {
			return "", newError(ErrKindValidation,
				fmt.Sprintf("barber_id=%d has no payment method on file for card collection", cfg.BarberId))
		}
		return *cfg.CollectionPaymentMethod, nil
	default:
		return "", newError(ErrKindValidation, fmt.Sprintf("unsupported collection method %q", method))
	}
}

func platformInstrumentFor(method models.CollectionMethod) string {
	if method == models.CollectionMethodACH {
		return config.PlatformFundingSource()
	}
	return config.PlatformStripeAccount()
}

func debitDescription(collection *models.PlatformCollection) string {
	if collection.Description != "" {
		return collection.Description
	}
	if collection.CollectionType == models.CollectionTypeBoothRent {
		return fmt.Sprintf("Booth rent collection #%d", collection.ID)
	}
	return fmt.Sprintf("Commission collection #%d", collection.ID)
}

// recordInFlight stores the gateway transaction id on a PROCESSING record
// that is waiting for asynchronous settlement.
func (s *CollectionService) recordInFlight(ctx context.Context, collectionId int, result *gateway.DebitResult) (*models.PlatformCollection, error) {
	err := s.DB.WithContext(ctx).Model(&models.PlatformCollection{}).
		Where("id = ? AND status = ?", collectionId, models.CollectionStatusProcessing).
		Updates(map[string]interface{}{
			"platform_transaction_id": result.TransactionId,
			"processing_fee":          result.ProcessingFee,
		}).Error
	if err != nil {
		return nil, wrapError(ErrKindInternal, "recording in-flight transfer", err)
	}
	return s.getCollection(ctx, collectionId)
}

// finalizeSuccess atomically moves the record to COLLECTED, stamps the
// gateway outcome, claims the related transactions, and writes the outbox
// event. One transaction: either all of it lands or none of it does.
func (s *CollectionService) finalizeSuccess(ctx context.Context, collectionId int, result *gateway.DebitResult) (*models.PlatformCollection, error) {
	var finalized *models.PlatformCollection
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		collection, err := models.GetCollectionForUpdate(tx, collectionId)
		if err != nil {
			return wrapError(ErrKindInternal, "locking collection", err)
		}
		if collection.Status == models.CollectionStatusCollected {
			finalized = collection
			return nil
		}
		if collection.Status != models.CollectionStatusProcessing {
			return newError(ErrKindInvalidState,
				fmt.Sprintf("collection %d is %s, cannot finalize success", collection.ID, collection.Status))
		}

		now := time.Now().UTC()
		net := collection.Amount.Sub(result.ProcessingFee)
		updates := map[string]interface{}{
			"status":         models.CollectionStatusCollected,
			"collected_at":   &now,
			"processing_fee": result.ProcessingFee,
			"net_amount":     net,
			"failure_reason": nil,
		}
		if result.TransactionId != "" {
			updates["platform_transaction_id"] = result.TransactionId
		}
		if err := tx.Model(&models.PlatformCollection{}).
			Where("id = ?", collection.ID).Updates(updates).Error; err != nil {
			return wrapError(ErrKindInternal, "finalizing collection", err)
		}

		if collection.CollectionType == models.CollectionTypeCommission {
			ids, err := models.RelatedTransactionIds(tx, collection.ID)
			if err != nil {
				return wrapError(ErrKindInternal, "loading related transactions", err)
			}
			if err := models.MarkTransactionsCollected(tx, ids, now); err != nil {
				return wrapError(ErrKindInternal, "marking transactions collected", err)
			}
		}

		collection.Status = models.CollectionStatusCollected
		collection.CollectedAt = &now
		collection.ProcessingFee = result.ProcessingFee
		collection.NetAmount = net
		if result.TransactionId != "" {
			collection.PlatformTransactionId = &result.TransactionId
		}
		collection.FailureReason = nil
		if err := models.EmitCollectionEvent(ctx, tx, collection, models.CollectionEventCollected); err != nil {
			return wrapError(ErrKindInternal, "emitting collected event", err)
		}

		finalized = collection
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Logger.WithFields(logrus.Fields{
		"collection_id": finalized.ID,
		"barber_id":     finalized.BarberId,
		"amount":        finalized.Amount.StringFixed(2),
		"net_amount":    finalized.NetAmount.StringFixed(2),
	}).Info("collection collected")
	return finalized, nil
}

// finalizeFailure records a failed attempt. Retryable failures with budget
// left go back to PENDING with the next scheduled_date on the backoff curve;
// everything else lands in terminal FAILED.
func (s *CollectionService) finalizeFailure(ctx context.Context, collectionId int, reason string, retryable bool) (*models.PlatformCollection, error) {
	var finalized *models.PlatformCollection
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		collection, err := models.GetCollectionForUpdate(tx, collectionId)
		if err != nil {
			return wrapError(ErrKindInternal, "locking collection", err)
		}
		if collection.Status != models.CollectionStatusProcessing {
			// A webhook may have already finalized this attempt.
			finalized = collection
			return nil
		}

		now := time.Now().UTC()
		truncated := reason
		if len(truncated) > 500 {
			truncated = truncated[:500]
		}

		willRetry := retryable && collection.RetryCount < collection.MaxRetries
		updates := map[string]interface{}{
			"failure_reason": &truncated,
		}
		eventType := models.CollectionEventFailed
		if willRetry {
			nextAt := now.Add(s.Retry.Backoff(collection.RetryCount))
			updates["status"] = models.CollectionStatusPending
			updates["scheduled_date"] = nextAt
			collection.Status = models.CollectionStatusPending
			collection.ScheduledDate = nextAt
			eventType = models.CollectionEventRetryScheduled
		} else {
			updates["status"] = models.CollectionStatusFailed
			collection.Status = models.CollectionStatusFailed
		}
		collection.FailureReason = &truncated

		if err := tx.Model(&models.PlatformCollection{}).
			Where("id = ?", collection.ID).Updates(updates).Error; err != nil {
			return wrapError(ErrKindInternal, "recording collection failure", err)
		}
		if err := models.EmitCollectionEvent(ctx, tx, collection, eventType); err != nil {
			return wrapError(ErrKindInternal, "emitting failure event", err)
		}

		finalized = collection
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Logger.WithFields(logrus.Fields{
		"collection_id": finalized.ID,
		"barber_id":     finalized.BarberId,
		"status":        finalized.Status,
		"retry_count":   finalized.RetryCount,
		"reason":        reason,
	}).Warn("collection attempt failed")
	return finalized, nil
}

// RetryFailedCollection is the manual retry entry point: FAILED records and
// PENDING records waiting out a backoff window are attempted immediately.
// Records past their retry budget are refused; operators lift the budget with
// OverrideRetryLimit first when they really mean it.
func (s *CollectionService) RetryFailedCollection(ctx context.Context, collectionId int) (*models.PlatformCollection, error) {
	collection, err := s.getCollection(ctx, collectionId)
	if err != nil {
		return nil, err
	}
	switch collection.Status {
	case models.CollectionStatusFailed, models.CollectionStatusPending:
	default:
		return nil, newError(ErrKindInvalidState,
			fmt.Sprintf("collection %d is %s and cannot be retried", collection.ID, collection.Status))
	}
	if collection.RetryCount >= collection.MaxRetries {
		return nil, newError(ErrKindRetryLimit,
			fmt.Sprintf("collection %d exhausted %d retries", collection.ID, collection.MaxRetries))
	}
	return s.AttemptCollection(ctx, collectionId)
}

// OverrideRetryLimit raises max_retries on a terminal FAILED record so an
// operator can force another attempt after the automatic budget ran out.
func (s *CollectionService) OverrideRetryLimit(ctx context.Context, collectionId int, newMaxRetries int) (*models.PlatformCollection, error) {
	if newMaxRetries <= 0 {
		return nil, newError(ErrKindValidation, "max retries must be positive")
	}
	collection, err := s.getCollection(ctx, collectionId)
	if err != nil {
		return nil, err
	}
	if collection.Status != models.CollectionStatusFailed {
		return nil, newError(ErrKindInvalidState,
			fmt.Sprintf("collection %d is %s, override applies to failed records only", collection.ID, collection.Status))
	}
	if newMaxRetries <= collection.RetryCount {
		return nil, newError(ErrKindValidation,
			fmt.Sprintf("max retries must exceed current attempt count %d", collection.RetryCount))
	}
	err = s.DB.WithContext(ctx).Model(&models.PlatformCollection{}).
		Where("id = ?", collectionId).
		Update("max_retries", newMaxRetries).Error
	if err != nil {
		return nil, wrapError(ErrKindInternal, "overriding retry limit", err)
	}

	actor, _ := utils.GetActorNameFromContext(ctx)
	s.Logger.WithFields(logrus.Fields{
		"collection_id": collectionId,
		"max_retries":   newMaxRetries,
		"actor":         actor,
		"operator":      utils.GetIsOperatorFromContext(ctx),
	}).Info("retry limit overridden")
	return s.getCollection(ctx, collectionId)
}
