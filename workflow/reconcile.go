package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/chairtab/platform_backend/gateway"
	"github.com/chairtab/platform_backend/models"
	"gorm.io/gorm"
)

const reconcileHandlerName = "collection-reconcile"

// ReconcileTransferStatus closes the loop on asynchronous rails: the webhook
// receiver reports the final status of a transfer and the owning collection
// is finalized through the same success/failure paths as a synchronous debit.
// Idempotent at two levels: a DB idempotency key dedupes redelivered
// webhooks, and a record no longer in PROCESSING is a no-op rather than an
// error.
func (s *CollectionService) ReconcileTransferStatus(ctx context.Context, gatewayTransactionId, finalStatus string) (*models.PlatformCollection, error) {
	status := strings.ToLower(strings.TrimSpace(finalStatus))
	switch status {
	case "completed", "failed":
	default:
		return nil, newError(ErrKindValidation, fmt.Sprintf("unsupported transfer status %q", finalStatus))
	}

	messageId := gatewayTransactionId + ":" + status
	skip, err := BeginIdempotency(s.DB.WithContext(ctx), reconcileHandlerName, messageId)
	if err != nil {
		if err == ErrIdempotencyInProgress {
			return nil, wrapError(ErrKindTransient, "reconciliation already in progress", err)
		}
		return nil, wrapError(ErrKindInternal, "beginning idempotent reconciliation", err)
	}

	collection, err := models.FindCollectionByGatewayId(s.DB.WithContext(ctx), gatewayTransactionId)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			notFound := newError(ErrKindNotFound,
				fmt.Sprintf("no collection for gateway transaction %s", gatewayTransactionId))
			// Release the key so a redelivery retries immediately instead of
			// waiting out the stale-claim window.
			if !skip {
				if merr := MarkIdempotencyFailed(s.DB.WithContext(ctx), reconcileHandlerName, messageId, notFound); merr != nil {
					s.Logger.WithError(merr).Error("marking reconciliation idempotency failed")
				}
			}
			return nil, notFound
		}
		return nil, wrapError(ErrKindInternal, "resolving gateway transaction", err)
	}
	if skip || collection.Status != models.CollectionStatusProcessing {
		// Duplicate delivery or a race already settled this record. The key
		// must settle too, or its STARTED row would turn the next duplicate
		// into an in-progress error instead of a no-op.
		if !skip {
			if err := MarkIdempotencySucceeded(s.DB.WithContext(ctx), reconcileHandlerName, messageId); err != nil {
				return nil, wrapError(ErrKindInternal, "marking reconciliation succeeded", err)
			}
		}
		return collection, nil
	}

	var finalized *models.PlatformCollection
	if status == "completed" {
		finalized, err = s.finalizeSuccess(ctx, collection.ID, &gateway.DebitResult{
			TransactionId: gatewayTransactionId,
			Status:        gateway.DebitCompleted,
			ProcessingFee: collection.ProcessingFee,
			NetAmount:     collection.Amount.Sub(collection.ProcessingFee),
		})
	} else {
		finalized, err = s.finalizeFailure(ctx, collection.ID,
			fmt.Sprintf("transfer %s failed at the rail", gatewayTransactionId), true)
	}
	if err != nil {
		if merr := MarkIdempotencyFailed(s.DB.WithContext(ctx), reconcileHandlerName, messageId, err); merr != nil {
			s.Logger.WithError(merr).Error("marking reconciliation idempotency failed")
		}
		return nil, err
	}
	if err := MarkIdempotencySucceeded(s.DB.WithContext(ctx), reconcileHandlerName, messageId); err != nil {
		return nil, wrapError(ErrKindInternal, "marking reconciliation succeeded", err)
	}
	return finalized, nil
}
