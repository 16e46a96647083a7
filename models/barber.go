package models

import (
	"context"
	"time"

	"github.com/chairtab/platform_backend/config"
	"github.com/chairtab/platform_backend/utils"
	"gorm.io/gorm"
)

type Barber struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name" binding:"required"`
	Email     string    `gorm:"size:255;index" json:"email"`
	Active    bool      `gorm:"default:true;index" json:"active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ProcessorConnection links a barber to their own external payment processor
// (Stripe Connect, Square, etc.). External transactions arrive through one of
// these connections.
type ProcessorConnection struct {
	ID        int       `gorm:"primary_key" json:"id"`
	BarberId  int       `gorm:"index;not null" json:"barber_id" binding:"required"`
	Provider  string    `gorm:"size:50;not null" json:"provider" binding:"required"`
	Active    bool      `gorm:"default:true" json:"active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func GetBarberById(ctx context.Context, barberId int) (*Barber, error) {
	db := config.GetDB()
	var barber Barber
	if err := db.WithContext(ctx).Where("id = ?", barberId).First(&barber).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &barber, nil
}

func ValidateBarberId(ctx context.Context, barberId int) error {
	db := config.GetDB()
	var count int64
	if err := db.WithContext(ctx).Model(&Barber{}).Where("id = ?", barberId).Count(&count).Error; err != nil {
		return err
	}
	if count <= 0 {
		return utils.ErrorRecordNotFound
	}
	return nil
}
