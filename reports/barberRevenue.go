package reports

import (
	"context"
	"time"

	"github.com/chairtab/platform_backend/config"
	"github.com/chairtab/platform_backend/models"
	"github.com/chairtab/platform_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BarberRevenue summarizes one barber's external processing volume and what
// the platform has taken from it in a period.
type BarberRevenue struct {
	BarberId    int       `json:"barber_id"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`

	GrossVolume      decimal.Decimal `json:"gross_volume"`
	TransactionCount int             `json:"transaction_count"`

	CommissionOwed      decimal.Decimal `json:"commission_owed"`
	CommissionCollected decimal.Decimal `json:"commission_collected"`
	CommissionPending   decimal.Decimal `json:"commission_pending"`

	BoothRentCollected decimal.Decimal `json:"booth_rent_collected"`
	BoothRentPending   decimal.Decimal `json:"booth_rent_pending"`
	BoothRentOverdue   decimal.Decimal `json:"booth_rent_overdue"`
}

// GetBarberRevenue recomputes the barber's revenue picture for [start, end].
// Returns utils.ErrorRecordNotFound for an unknown barber.
func GetBarberRevenue(ctx context.Context, barberId int, start, end time.Time) (*BarberRevenue, error) {
	if err := models.ValidateBarberId(ctx, barberId); err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	db := config.GetDB().WithContext(ctx)

	report := BarberRevenue{BarberId: barberId, PeriodStart: start, PeriodEnd: end}

	var txnAgg struct {
		Gross     decimal.Decimal
		Count     int
		Owed      decimal.Decimal
		Collected decimal.Decimal
	}
	err := db.Model(&models.ExternalTransaction{}).
		Select(`COALESCE(SUM(amount),0) AS gross,
			COUNT(*) AS count,
			COALESCE(SUM(CASE WHEN commission_collected = 0 THEN commission_amount ELSE 0 END),0) AS owed,
			COALESCE(SUM(CASE WHEN commission_collected = 1 THEN commission_amount ELSE 0 END),0) AS collected`).
		Where("barber_id = ? AND processed_at >= ? AND processed_at <= ?", barberId, start, end).
		Where("status IN ?", []models.ExternalTransactionStatus{
			models.ExternalTransactionStatusSucceeded,
			models.ExternalTransactionStatusCompleted,
		}).
		Scan(&txnAgg).Error
	if err != nil {
		return nil, err
	}
	report.GrossVolume = txnAgg.Gross
	report.TransactionCount = txnAgg.Count
	report.CommissionOwed = txnAgg.Owed
	report.CommissionCollected = txnAgg.Collected

	report.CommissionPending, err = sumCollections(db, barberId, models.CollectionTypeCommission,
		[]models.CollectionStatus{models.CollectionStatusPending, models.CollectionStatusProcessing}, start, end)
	if err != nil {
		return nil, err
	}

	report.BoothRentCollected, err = sumCollections(db, barberId, models.CollectionTypeBoothRent,
		[]models.CollectionStatus{models.CollectionStatusCollected}, start, end)
	if err != nil {
		return nil, err
	}
	report.BoothRentPending, err = sumCollections(db, barberId, models.CollectionTypeBoothRent,
		[]models.CollectionStatus{models.CollectionStatusPending, models.CollectionStatusProcessing}, start, end)
	if err != nil {
		return nil, err
	}

	// Overdue: booth rent still pending with a scheduled date already past.
	var overdue decimal.Decimal
	err = db.Model(&models.PlatformCollection{}).
		Select("COALESCE(SUM(amount),0)").
		Where("barber_id = ? AND collection_type = ? AND status = ?",
			barberId, models.CollectionTypeBoothRent, models.CollectionStatusPending).
		Where("scheduled_date < ?", time.Now().UTC()).
		Scan(&overdue).Error
	if err != nil {
		return nil, err
	}
	report.BoothRentOverdue = overdue

	return &report, nil
}

func sumCollections(db *gorm.DB, barberId int, collectionType models.CollectionType, statuses []models.CollectionStatus, start, end time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := db.Model(&models.PlatformCollection{}).
		Select("COALESCE(SUM(amount),0)").
		Where("barber_id = ? AND collection_type = ? AND status IN ?", barberId, collectionType, statuses).
		Where("scheduled_date >= ? AND scheduled_date <= ?", start, end).
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}
