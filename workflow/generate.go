package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/chairtab/platform_backend/calc"
	"github.com/chairtab/platform_backend/config"
	"github.com/chairtab/platform_backend/models"
	"github.com/shopspring/decimal"
)

// CollectionGenerationResult reports one barber's outcome from a generation
// sweep. Skips are reported, not errored: a barber under threshold today is
// normal, not a problem.
type CollectionGenerationResult struct {
	BarberId     int             `json:"barber_id"`
	CollectionId *int            `json:"collection_id,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Skipped      bool            `json:"skipped"`
	Reason       string          `json:"reason,omitempty"`
}

// GenerateCommissionCollections sweeps decentralized/hybrid barbers (all, or
// one when barberId is set) and creates one PENDING commission collection per
// barber covering every currently outstanding transaction. Barbers below
// their minimum threshold are skipped. One barber's failure does not abort
// the sweep.
func (s *CollectionService) GenerateCommissionCollections(ctx context.Context, barberId *int) ([]CollectionGenerationResult, error) {
	var barberIds []int
	if barberId != nil {
		barberIds = []int{*barberId}
	} else {
		ids, err := models.CommissionBarberIds(ctx)
		if err != nil {
			return nil, wrapError(ErrKindInternal, "listing commission barbers", err)
		}
		barberIds = ids
	}

	results := make([]CollectionGenerationResult, 0, len(barberIds))
	for _, id := range barberIds {
		result := s.generateCommissionFor(ctx, id)
		results = append(results, result)
	}
	return results, nil
}

func (s *CollectionService) generateCommissionFor(ctx context.Context, barberId int) CollectionGenerationResult {
	outstanding, err := calc.CalculateOutstandingCommission(ctx, barberId, nil, nil)
	if err != nil {
		config.LogError(s.Logger, "workflow", "GenerateCommissionCollections", "calculate", barberId, err)
		return CollectionGenerationResult{BarberId: barberId, Skipped: true, Reason: err.Error()}
	}
	if outstanding.TransactionCount == 0 {
		return CollectionGenerationResult{BarberId: barberId, Skipped: true, Reason: "no outstanding transactions"}
	}
	if !outstanding.MeetsMinimumThreshold {
		return CollectionGenerationResult{
			BarberId: barberId,
			Amount:   outstanding.TotalOwed,
			Skipped:  true,
			Reason:   "below minimum collection amount",
		}
	}

	collection, err := s.CreateCollection(ctx, &NewCollection{
		BarberId:       barberId,
		CollectionType: models.CollectionTypeCommission,
		Amount:         outstanding.TotalOwed,
		Description: fmt.Sprintf("Commission on %d transactions %s to %s",
			outstanding.TransactionCount,
			outstanding.PeriodStart.Format("2006-01-02"),
			outstanding.PeriodEnd.Format("2006-01-02")),
		PeriodStart:           &outstanding.PeriodStart,
		PeriodEnd:             &outstanding.PeriodEnd,
		RelatedTransactionIds: outstanding.TransactionIds,
	})
	if err != nil {
		config.LogError(s.Logger, "workflow", "GenerateCommissionCollections", "create", barberId, err)
		return CollectionGenerationResult{
			BarberId: barberId,
			Amount:   outstanding.TotalOwed,
			Skipped:  true,
			Reason:   err.Error(),
		}
	}
	return CollectionGenerationResult{
		BarberId:     barberId,
		CollectionId: &collection.ID,
		Amount:       collection.Amount,
	}
}

// GenerateBoothRentCollections creates booth rent collections one per
// configured barber. Periods are anchored end to end against the barber's
// last live booth-rent collection, so a sweep inside a period that is still
// running bills nothing no matter how often the scheduler ticks.
func (s *CollectionService) GenerateBoothRentCollections(ctx context.Context, barberId *int) ([]CollectionGenerationResult, error) {
	var barberIds []int
	if barberId != nil {
		barberIds = []int{*barberId}
	} else {
		ids, err := models.BoothRentBarberIds(ctx)
		if err != nil {
			return nil, wrapError(ErrKindInternal, "listing booth rent barbers", err)
		}
		barberIds = ids
	}

	now := time.Now().UTC()
	results := make([]CollectionGenerationResult, 0, len(barberIds))
	for _, id := range barberIds {
		results = append(results, s.generateBoothRentFor(ctx, id, now))
	}
	return results, nil
}

// nextBoothRentPeriod resolves the billing period for a sweep at `now`. With
// no prior live collection the trailing window [now-frequency, now] is due
// immediately; afterwards each period starts where the last one ended and
// becomes due only once it has fully elapsed.
func nextBoothRentPeriod(lastPeriodEnd *time.Time, frequency models.CollectionFrequency, now time.Time) (start, end time.Time, due bool) {
	days := frequency.PeriodDays()
	if lastPeriodEnd == nil {
		return now.AddDate(0, 0, -days), now, true
	}
	start = *lastPeriodEnd
	end = start.AddDate(0, 0, days)
	return start, end, !end.After(now)
}

func (s *CollectionService) generateBoothRentFor(ctx context.Context, barberId int, now time.Time) CollectionGenerationResult {
	cfg, err := models.GetCollectionConfigByBarber(ctx, barberId)
	if err != nil {
		config.LogError(s.Logger, "workflow", "GenerateBoothRentCollections", "config", barberId, err)
		return CollectionGenerationResult{BarberId: barberId, Skipped: true, Reason: err.Error()}
	}

	lastPeriodEnd, err := models.LatestBoothRentPeriodEnd(s.DB.WithContext(ctx), barberId)
	if err != nil {
		config.LogError(s.Logger, "workflow", "GenerateBoothRentCollections", "last period", barberId, err)
		return CollectionGenerationResult{BarberId: barberId, Skipped: true, Reason: err.Error()}
	}
	periodStart, periodEnd, billable := nextBoothRentPeriod(lastPeriodEnd, cfg.CollectionFrequency, now)
	if !billable {
		return CollectionGenerationResult{BarberId: barberId, Skipped: true, Reason: "booth rent period not yet ended"}
	}

	due, err := calc.CalculateBoothRent(ctx, barberId, periodStart, periodEnd)
	if err != nil {
		config.LogError(s.Logger, "workflow", "GenerateBoothRentCollections", "calculate", barberId, err)
		return CollectionGenerationResult{BarberId: barberId, Skipped: true, Reason: err.Error()}
	}
	if !due.Configured {
		return CollectionGenerationResult{BarberId: barberId, Skipped: true, Reason: "no booth rent configured"}
	}
	if due.AlreadyCollected {
		return CollectionGenerationResult{BarberId: barberId, Amount: due.Amount, Skipped: true, Reason: "period already collected"}
	}

	collection, err := s.CreateCollection(ctx, &NewCollection{
		BarberId:       barberId,
		CollectionType: models.CollectionTypeBoothRent,
		Amount:         due.Amount,
		Description: fmt.Sprintf("Booth rent %s to %s",
			due.PeriodStart.Format("2006-01-02"), due.PeriodEnd.Format("2006-01-02")),
		PeriodStart: &due.PeriodStart,
		PeriodEnd:   &due.PeriodEnd,
	})
	if err != nil {
		config.LogError(s.Logger, "workflow", "GenerateBoothRentCollections", "create", barberId, err)
		return CollectionGenerationResult{BarberId: barberId, Amount: due.Amount, Skipped: true, Reason: err.Error()}
	}
	return CollectionGenerationResult{
		BarberId:     barberId,
		CollectionId: &collection.ID,
		Amount:       collection.Amount,
	}
}
