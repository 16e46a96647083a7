package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PlatformCollection is one attempt/record of collecting money from a barber:
// either accumulated commission on externally-processed transactions, or booth
// rent for a period.
//
// Status machine: PENDING -> PROCESSING -> {COLLECTED | FAILED}. A FAILED
// record re-enters PENDING only as a scheduled retry (same row, retry_count
// incremented, scheduled_date pushed forward) while retry_count < max_retries.
// Once COLLECTED, the amount and the related transaction set are immutable.
type PlatformCollection struct {
	ID               int              `gorm:"primary_key" json:"id"`
	BarberId         int              `gorm:"index;not null" json:"barber_id"`
	CollectionType   CollectionType   `gorm:"size:20;not null;index" json:"collection_type"`
	Amount           decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"amount"`
	Currency         string           `gorm:"size:3;not null;default:USD" json:"currency"`
	Status           CollectionStatus `gorm:"size:20;not null;index" json:"status"`
	CollectionMethod CollectionMethod `gorm:"size:10;not null" json:"collection_method"`
	Description      string           `gorm:"size:500" json:"description"`

	ScheduledDate time.Time  `gorm:"index;not null" json:"scheduled_date"`
	AttemptedAt   *time.Time `json:"attempted_at"`
	CollectedAt   *time.Time `json:"collected_at"`
	PeriodStart   *time.Time `json:"period_start"`
	PeriodEnd     *time.Time `json:"period_end"`

	// Gateway outcome.
	PlatformTransactionId *string         `gorm:"size:255;uniqueIndex" json:"platform_transaction_id"`
	ProcessingFee         decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"processing_fee"`
	NetAmount             decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"net_amount"`
	FailureReason         *string         `gorm:"size:500" json:"failure_reason"`

	// Retry state. Explicit columns, not a JSON blob, so the state machine is
	// visible to SQL and to the type checker.
	RetryCount      int        `gorm:"not null;default:0" json:"retry_count"`
	MaxRetries      int        `gorm:"not null;default:3" json:"max_retries"`
	LastAttemptAt   *time.Time `json:"last_attempt_at"`
	NotifyOnSuccess bool       `gorm:"not null;default:true" json:"notify_on_success"`
	NotifyOnFailure bool       `gorm:"not null;default:true" json:"notify_on_failure"`

	Transactions []CollectionTransaction `json:"transactions"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// CollectionTransaction ties a collection to the external transactions whose
// commission it collects. The set is written once at create time and the
// success path flips commission_collected on exactly these rows.
type CollectionTransaction struct {
	ID                    int       `gorm:"primary_key" json:"id"`
	PlatformCollectionId  int       `gorm:"index;not null" json:"platform_collection_id"`
	ExternalTransactionId int       `gorm:"index;not null" json:"external_transaction_id"`
	CreatedAt             time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// GetCollectionForUpdate loads a collection row under SELECT ... FOR UPDATE so
// a scheduler tick and a webhook cannot both finalize the same record.
func GetCollectionForUpdate(tx *gorm.DB, collectionId int) (*PlatformCollection, error) {
	var collection PlatformCollection
	err := tx.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", collectionId).
		First(&collection).Error
	if err != nil {
		return nil, err
	}
	return &collection, nil
}

// RelatedTransactionIds returns the external transaction ids tied to a
// collection, on the caller's tx so in-flight writes are visible.
func RelatedTransactionIds(tx *gorm.DB, collectionId int) ([]int, error) {
	var ids []int
	err := tx.Model(&CollectionTransaction{}).
		Where("platform_collection_id = ?", collectionId).
		Pluck("external_transaction_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ConflictingTransactionIds returns the subset of the requested ids that are
// already claimed: either marked commission_collected, or referenced by a
// collection still in flight or already collected. FAILED collections do not
// block (a regenerated collection may re-claim their transactions).
func ConflictingTransactionIds(tx *gorm.DB, transactionIds []int) ([]int, error) {
	if len(transactionIds) == 0 {
		return nil, nil
	}

	var collected []int
	if err := tx.Model(&ExternalTransaction{}).
		Where("id IN ? AND commission_collected = ?", transactionIds, true).
		Pluck("id", &collected).Error; err != nil {
		return nil, err
	}

	var claimed []int
	err := tx.Model(&CollectionTransaction{}).
		Joins("JOIN platform_collections pc ON pc.id = collection_transactions.platform_collection_id").
		Where("collection_transactions.external_transaction_id IN ?", transactionIds).
		Where("pc.status IN ?", []CollectionStatus{
			CollectionStatusPending,
			CollectionStatusProcessing,
			CollectionStatusCollected,
		}).
		Pluck("collection_transactions.external_transaction_id", &claimed).Error
	if err != nil {
		return nil, err
	}

	seen := make(map[int]struct{}, len(collected)+len(claimed))
	var out []int
	for _, id := range append(collected, claimed...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// LastCollectedCommissionAt returns when the barber's most recent commission
// collection was collected, or nil if there has never been one.
func LastCollectedCommissionAt(tx *gorm.DB, barberId int) (*time.Time, error) {
	var collection PlatformCollection
	err := tx.
		Where("barber_id = ? AND collection_type = ? AND status = ?",
			barberId, CollectionTypeCommission, CollectionStatusCollected).
		Order("collected_at DESC").
		First(&collection).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return collection.CollectedAt, nil
}

// FindCollectionByGatewayId resolves a webhook's gateway transaction id to the
// owning collection.
func FindCollectionByGatewayId(tx *gorm.DB, gatewayTransactionId string) (*PlatformCollection, error) {
	var collection PlatformCollection
	err := tx.
		Where("platform_transaction_id = ?", gatewayTransactionId).
		First(&collection).Error
	if err != nil {
		return nil, err
	}
	return &collection, nil
}

// BoothRentCollectionOverlapping finds a live booth-rent collection whose
// period overlaps [periodStart, periodEnd]. Any overlap blocks re-billing:
// a period partially charged already is never charged again.
func BoothRentCollectionOverlapping(tx *gorm.DB, barberId int, periodStart, periodEnd time.Time) (*PlatformCollection, error) {
	var collection PlatformCollection
	err := tx.
		Where("barber_id = ? AND collection_type = ?", barberId, CollectionTypeBoothRent).
		Where("status IN ?", []CollectionStatus{
			CollectionStatusPending,
			CollectionStatusProcessing,
			CollectionStatusCollected,
		}).
		Where("period_start < ? AND period_end > ?", periodEnd, periodStart).
		Order("id ASC").
		First(&collection).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &collection, nil
}

// LatestBoothRentPeriodEnd returns the period_end of the barber's most recent
// live booth-rent collection, or nil when none exists. FAILED collections do
// not count; an exhausted charge does not cover its period.
func LatestBoothRentPeriodEnd(tx *gorm.DB, barberId int) (*time.Time, error) {
	var collection PlatformCollection
	err := tx.
		Where("barber_id = ? AND collection_type = ?", barberId, CollectionTypeBoothRent).
		Where("status IN ?", []CollectionStatus{
			CollectionStatusPending,
			CollectionStatusProcessing,
			CollectionStatusCollected,
		}).
		Where("period_end IS NOT NULL").
		Order("period_end DESC").
		First(&collection).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return collection.PeriodEnd, nil
}
