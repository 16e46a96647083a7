package models

import (
	"context"
	"errors"
	"time"

	"github.com/chairtab/platform_backend/config"
	"github.com/chairtab/platform_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ExternalTransaction is one charge a barber processed on their own external
// processor connection. Rows are append-only: the only mutation ever applied
// is the commission_collected flip, done by the collection workflow inside the
// same transaction that finalizes a successful collection.
type ExternalTransaction struct {
	ID                    int                       `gorm:"primary_key" json:"id"`
	ConnectionId          int                       `gorm:"index;not null" json:"connection_id" binding:"required"`
	BarberId              int                       `gorm:"index;not null" json:"barber_id"`
	AppointmentId         *int                      `gorm:"index" json:"appointment_id"`
	Amount                decimal.Decimal           `gorm:"type:decimal(20,4);not null" json:"amount" binding:"required"`
	CommissionRate        decimal.Decimal           `gorm:"type:decimal(8,4);not null" json:"commission_rate"`
	CommissionAmount      decimal.Decimal           `gorm:"type:decimal(20,4);not null" json:"commission_amount"`
	Currency              string                    `gorm:"size:3;not null;default:USD" json:"currency"`
	ProcessedAt           time.Time                 `gorm:"index;not null" json:"processed_at" binding:"required"`
	Status                ExternalTransactionStatus `gorm:"size:20;not null;index" json:"status"`
	CommissionCollected   bool                      `gorm:"not null;default:false;index" json:"commission_collected"`
	CommissionCollectedAt *time.Time                `json:"commission_collected_at"`
	CreatedAt             time.Time                 `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time                 `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewExternalTransaction struct {
	ConnectionId   int                       `json:"connection_id" binding:"required"`
	AppointmentId  *int                      `json:"appointment_id"`
	Amount         decimal.Decimal           `json:"amount" binding:"required"`
	CommissionRate decimal.Decimal           `json:"commission_rate"`
	Currency       string                    `json:"currency"`
	ProcessedAt    time.Time                 `json:"processed_at" binding:"required"`
	Status         ExternalTransactionStatus `json:"status"`
}

// CommissionFor computes the platform's cut of a single transaction amount,
// rounded to currency precision. Rounding happens per transaction, at record
// time, so batch totals are exact sums of what each row actually owes.
func CommissionFor(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Round(2)
}

func (input NewExternalTransaction) validate() error {
	if input.Amount.IsNegative() || input.Amount.IsZero() {
		return errors.New("amount must be positive")
	}
	if input.CommissionRate.IsNegative() || input.CommissionRate.GreaterThan(decimal.NewFromInt(1)) {
		return errors.New("commission rate must be between 0 and 1")
	}
	return nil
}

// RecordExternalTransaction appends a processor charge to the ledger. The
// commission amount is derived and frozen here; later rate changes never
// reprice already-recorded transactions.
func RecordExternalTransaction(ctx context.Context, input *NewExternalTransaction) (*ExternalTransaction, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	db := config.GetDB()
	var conn ProcessorConnection
	if err := db.WithContext(ctx).Where("id = ?", input.ConnectionId).First(&conn).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}

	currency := input.Currency
	if currency == "" {
		currency = "USD"
	}
	status := input.Status
	if status == "" {
		status = ExternalTransactionStatusSucceeded
	}

	record := ExternalTransaction{
		ConnectionId:     input.ConnectionId,
		BarberId:         conn.BarberId,
		AppointmentId:    input.AppointmentId,
		Amount:           input.Amount,
		CommissionRate:   input.CommissionRate,
		CommissionAmount: CommissionFor(input.Amount, input.CommissionRate),
		Currency:         currency,
		ProcessedAt:      input.ProcessedAt,
		Status:           status,
	}
	if err := db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// OutstandingCommissionTransactions returns commission-eligible transactions
// in [start, end] that no collected collection has claimed yet.
func OutstandingCommissionTransactions(ctx context.Context, barberId int, start, end time.Time) ([]*ExternalTransaction, error) {
	db := config.GetDB()
	var txns []*ExternalTransaction
	err := db.WithContext(ctx).
		Where("barber_id = ?", barberId).
		Where("processed_at >= ? AND processed_at <= ?", start, end).
		Where("commission_collected = ?", false).
		Where("status IN ?", []ExternalTransactionStatus{
			ExternalTransactionStatusSucceeded,
			ExternalTransactionStatusCompleted,
		}).
		Order("processed_at ASC").
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

// MarkTransactionsCollected flips commission_collected on the given rows.
// MUST be called on the same tx that moves the owning collection to COLLECTED;
// a crash between the two would either double-collect or silently forget
// collected money.
func MarkTransactionsCollected(tx *gorm.DB, transactionIds []int, collectedAt time.Time) error {
	if len(transactionIds) == 0 {
		return nil
	}
	return tx.Model(&ExternalTransaction{}).
		Where("id IN ? AND commission_collected = ?", transactionIds, false).
		Updates(map[string]interface{}{
			"commission_collected":    true,
			"commission_collected_at": &collectedAt,
		}).Error
}
