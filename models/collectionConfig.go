package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chairtab/platform_backend/config"
	"github.com/chairtab/platform_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CollectionConfig is the per-barber collection policy. Exactly one active
// config per barber (unique index). Read-only to the collection workflow.
type CollectionConfig struct {
	ID                      int                 `gorm:"primary_key" json:"id"`
	BarberId                int                 `gorm:"uniqueIndex;not null" json:"barber_id" binding:"required"`
	PaymentMode             PaymentMode         `gorm:"size:20;not null;default:DECENTRALIZED" json:"payment_mode"`
	CollectionMethod        CollectionMethod    `gorm:"size:10;not null" json:"collection_method" binding:"required"`
	CollectionFrequency     CollectionFrequency `gorm:"size:10;not null;default:WEEKLY" json:"collection_frequency"`
	BoothRentAmount         *decimal.Decimal    `gorm:"type:decimal(20,4)" json:"booth_rent_amount"`
	MinimumCollectionAmount decimal.Decimal     `gorm:"type:decimal(20,4);not null;default:0" json:"minimum_collection_amount"`
	AutoCollection          bool                `gorm:"not null;default:false" json:"auto_collection"`

	// Opaque instrument references held by the payment rail.
	CollectionBankAccount   *string `gorm:"size:255" json:"collection_bank_account"`   // Dwolla funding source URL
	CollectionPaymentMethod *string `gorm:"size:255" json:"collection_payment_method"` // Stripe payment method id

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCollectionConfig struct {
	BarberId                int                 `json:"barber_id" validate:"required,gt=0"`
	PaymentMode             PaymentMode         `json:"payment_mode"`
	CollectionMethod        CollectionMethod    `json:"collection_method" validate:"required"`
	CollectionFrequency     CollectionFrequency `json:"collection_frequency"`
	BoothRentAmount         *decimal.Decimal    `json:"booth_rent_amount"`
	MinimumCollectionAmount decimal.Decimal     `json:"minimum_collection_amount"`
	AutoCollection          bool                `json:"auto_collection"`
	CollectionBankAccount   *string             `json:"collection_bank_account"`
	CollectionPaymentMethod *string             `json:"collection_payment_method"`
}

func collectionConfigCacheKey(barberId int) string {
	return fmt.Sprintf("collectionConfig:%d", barberId)
}

// GetCollectionConfigByBarber reads the barber's policy, redis-cached.
// Returns utils.ErrorRecordNotFound when no config exists.
func GetCollectionConfigByBarber(ctx context.Context, barberId int) (*CollectionConfig, error) {
	var cfg CollectionConfig
	exists, err := config.GetRedisObject(collectionConfigCacheKey(barberId), &cfg)
	if err != nil {
		return nil, err
	}
	if exists {
		return &cfg, nil
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Where("barber_id = ?", barberId).First(&cfg).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	if err := config.SetRedisObject(collectionConfigCacheKey(barberId), &cfg, time.Hour); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (input NewCollectionConfig) validate(ctx context.Context) error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	if !input.CollectionMethod.Valid() {
		return errors.New("collection method must be ACH or CARD")
	}
	if input.CollectionFrequency != "" && !input.CollectionFrequency.Valid() {
		return errors.New("invalid collection frequency")
	}
	if input.MinimumCollectionAmount.IsNegative() {
		return errors.New("minimum collection amount cannot be negative")
	}
	if input.BoothRentAmount != nil && input.BoothRentAmount.IsNegative() {
		return errors.New("booth rent amount cannot be negative")
	}
	if err := ValidateBarberId(ctx, input.BarberId); err != nil {
		return errors.New("barber not found")
	}
	return nil
}

// UpsertCollectionConfig creates or replaces the barber's policy and
// invalidates the cache. The unique index on barber_id keeps one active
// config per barber even under concurrent onboarding calls.
func UpsertCollectionConfig(ctx context.Context, input *NewCollectionConfig) (*CollectionConfig, error) {
	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	paymentMode := input.PaymentMode
	if paymentMode == "" {
		paymentMode = PaymentModeDecentralized
	}
	frequency := input.CollectionFrequency
	if frequency == "" {
		frequency = CollectionFrequencyWeekly
	}

	// An instrument sent as "" means not configured; storing NULL keeps the
	// missing-instrument check a simple nil test.
	cfg := CollectionConfig{
		BarberId:                input.BarberId,
		PaymentMode:             paymentMode,
		CollectionMethod:        input.CollectionMethod,
		CollectionFrequency:     frequency,
		BoothRentAmount:         input.BoothRentAmount,
		MinimumCollectionAmount: input.MinimumCollectionAmount,
		AutoCollection:          input.AutoCollection,
		CollectionBankAccount:   utils.NilIfEmpty(strings.TrimSpace(utils.DereferencePtr(input.CollectionBankAccount))),
		CollectionPaymentMethod: utils.NilIfEmpty(strings.TrimSpace(utils.DereferencePtr(input.CollectionPaymentMethod))),
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "barber_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"payment_mode", "collection_method", "collection_frequency",
			"booth_rent_amount", "minimum_collection_amount", "auto_collection",
			"collection_bank_account", "collection_payment_method", "updated_at",
		}),
	}).Create(&cfg).Error
	if err != nil {
		return nil, err
	}

	if err := config.RemoveRedisKey(collectionConfigCacheKey(input.BarberId)); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// CommissionBarberIds lists barbers whose payment mode owes after-the-fact
// commission (decentralized or hybrid).
func CommissionBarberIds(ctx context.Context) ([]int, error) {
	db := config.GetDB()
	var ids []int
	err := db.WithContext(ctx).Model(&CollectionConfig{}).
		Where("payment_mode IN ?", []PaymentMode{PaymentModeDecentralized, PaymentModeHybrid}).
		Order("barber_id ASC").
		Pluck("barber_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// BoothRentBarberIds lists barbers with booth rent configured.
func BoothRentBarberIds(ctx context.Context) ([]int, error) {
	db := config.GetDB()
	var ids []int
	err := db.WithContext(ctx).Model(&CollectionConfig{}).
		Where("booth_rent_amount IS NOT NULL AND booth_rent_amount > 0").
		Order("barber_id ASC").
		Pluck("barber_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
