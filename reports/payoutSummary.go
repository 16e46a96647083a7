// Package reports builds read-only aggregates for dashboards. Nothing here is
// a source of truth; every figure is recomputed from the collection ledger on
// each call.
package reports

import (
	"context"
	"time"

	"github.com/chairtab/platform_backend/config"
	"github.com/chairtab/platform_backend/models"
	"github.com/shopspring/decimal"
)

// PayoutSummary is the platform-wide collection picture for a period.
type PayoutSummary struct {
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`

	PendingCount    int             `json:"pending_count"`
	PendingAmount   decimal.Decimal `json:"pending_amount"`
	ProcessingCount int             `json:"processing_count"`
	ProcessingAmount decimal.Decimal `json:"processing_amount"`
	CollectedCount  int             `json:"collected_count"`
	CollectedAmount decimal.Decimal `json:"collected_amount"`
	CollectedNet    decimal.Decimal `json:"collected_net"`
	ProcessingFees  decimal.Decimal `json:"processing_fees"`
	FailedCount     int             `json:"failed_count"`
	FailedAmount    decimal.Decimal `json:"failed_amount"`

	// NeedsAttentionCount is terminal FAILED records with retries exhausted.
	NeedsAttentionCount int `json:"needs_attention_count"`

	CommissionCollected decimal.Decimal `json:"commission_collected"`
	BoothRentCollected  decimal.Decimal `json:"booth_rent_collected"`
}

type statusAggregate struct {
	Status models.CollectionStatus
	Count  int
	Total  decimal.Decimal
	Net    decimal.Decimal
	Fees   decimal.Decimal
}

// GetPayoutSummary aggregates collections scheduled in [start, end].
func GetPayoutSummary(ctx context.Context, start, end time.Time) (*PayoutSummary, error) {
	db := config.GetDB().WithContext(ctx)

	var rows []statusAggregate
	err := db.Model(&models.PlatformCollection{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(amount),0) AS total, COALESCE(SUM(net_amount),0) AS net, COALESCE(SUM(processing_fee),0) AS fees").
		Where("scheduled_date >= ? AND scheduled_date <= ?", start, end).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	summary := PayoutSummary{PeriodStart: start, PeriodEnd: end}
	for _, row := range rows {
		switch row.Status {
		case models.CollectionStatusPending:
			summary.PendingCount = row.Count
			summary.PendingAmount = row.Total
		case models.CollectionStatusProcessing:
			summary.ProcessingCount = row.Count
			summary.ProcessingAmount = row.Total
		case models.CollectionStatusCollected:
			summary.CollectedCount = row.Count
			summary.CollectedAmount = row.Total
			summary.CollectedNet = row.Net
			summary.ProcessingFees = row.Fees
		case models.CollectionStatusFailed:
			summary.FailedCount = row.Count
			summary.FailedAmount = row.Total
		}
	}

	var needsAttention int64
	err = db.Model(&models.PlatformCollection{}).
		Where("status = ? AND retry_count >= max_retries", models.CollectionStatusFailed).
		Where("scheduled_date >= ? AND scheduled_date <= ?", start, end).
		Count(&needsAttention).Error
	if err != nil {
		return nil, err
	}
	summary.NeedsAttentionCount = int(needsAttention)

	var byType []struct {
		CollectionType models.CollectionType
		Total          decimal.Decimal
	}
	err = db.Model(&models.PlatformCollection{}).
		Select("collection_type, COALESCE(SUM(amount),0) AS total").
		Where("status = ?", models.CollectionStatusCollected).
		Where("scheduled_date >= ? AND scheduled_date <= ?", start, end).
		Group("collection_type").
		Scan(&byType).Error
	if err != nil {
		return nil, err
	}
	for _, row := range byType {
		switch row.CollectionType {
		case models.CollectionTypeCommission:
			summary.CommissionCollected = row.Total
		case models.CollectionTypeBoothRent:
			summary.BoothRentCollected = row.Total
		}
	}
	return &summary, nil
}
