package calc

import (
	"context"
	"errors"
	"time"

	"github.com/chairtab/platform_backend/config"
	"github.com/chairtab/platform_backend/models"
	"github.com/shopspring/decimal"
)

// BoothRentDue summarizes rent owed by one barber for a period.
type BoothRentDue struct {
	BarberId             int             `json:"barber_id"`
	Amount               decimal.Decimal `json:"amount"`
	Configured           bool            `json:"configured"`
	AlreadyCollected     bool            `json:"already_collected"`
	ExistingCollectionId *int            `json:"existing_collection_id,omitempty"`
	PeriodStart          time.Time       `json:"period_start"`
	PeriodEnd            time.Time       `json:"period_end"`
}

// ProrateBoothRent converts a configured rent amount into the amount due for
// an arbitrary period: rent x periodDays / frequencyDays, rounded to currency
// precision. Calendar days, not banking days, and monthly is a flat 30-day
// period regardless of the month.
func ProrateBoothRent(rent decimal.Decimal, frequency models.CollectionFrequency, periodStart, periodEnd time.Time) (decimal.Decimal, error) {
	if periodEnd.Before(periodStart) {
		return decimal.Zero, errors.New("period end before period start")
	}
	frequencyDays := frequency.PeriodDays()
	if frequencyDays == 0 {
		return decimal.Zero, errors.New("invalid collection frequency")
	}

	periodDays := int(periodEnd.Sub(periodStart).Hours() / 24)
	return rent.
		Mul(decimal.NewFromInt(int64(periodDays))).
		Div(decimal.NewFromInt(int64(frequencyDays))).
		Round(2), nil
}

// CalculateBoothRent computes rent due for [periodStart, periodEnd]. A barber
// with no booth rent configured gets a zero, Configured=false result (not an
// error). AlreadyCollected is set when a live booth-rent collection overlaps
// the period.
func CalculateBoothRent(ctx context.Context, barberId int, periodStart, periodEnd time.Time) (*BoothRentDue, error) {
	cfg, err := models.GetCollectionConfigByBarber(ctx, barberId)
	if err != nil {
		return nil, err
	}

	result := &BoothRentDue{
		BarberId:    barberId,
		Amount:      decimal.Zero,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
	}
	if cfg.BoothRentAmount == nil || cfg.BoothRentAmount.IsZero() {
		return result, nil
	}
	result.Configured = true

	amount, err := ProrateBoothRent(*cfg.BoothRentAmount, cfg.CollectionFrequency, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}
	result.Amount = amount

	existing, err := models.BoothRentCollectionOverlapping(config.GetDB().WithContext(ctx), barberId, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		result.AlreadyCollected = true
		result.ExistingCollectionId = &existing.ID
	}
	return result, nil
}
