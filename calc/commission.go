// Package calc holds the pure money calculators behind the collection
// workflow. Nothing in this package mutates the ledger.
package calc

import (
	"context"
	"time"

	"github.com/chairtab/platform_backend/config"
	"github.com/chairtab/platform_backend/models"
	"github.com/shopspring/decimal"
)

// OutstandingCommission summarizes commission owed by one barber over a window.
type OutstandingCommission struct {
	BarberId              int             `json:"barber_id"`
	TotalOwed             decimal.Decimal `json:"total_owed"`
	TransactionCount      int             `json:"transaction_count"`
	TransactionIds        []int           `json:"transaction_ids"`
	PeriodStart           time.Time       `json:"period_start"`
	PeriodEnd             time.Time       `json:"period_end"`
	MeetsMinimumThreshold bool            `json:"meets_minimum_threshold"`
}

// SumCommissions totals the commission amounts of the given transactions.
// Each row's commission was rounded to currency precision when it was
// recorded, so this is an exact decimal sum with no end-of-batch rounding.
func SumCommissions(txns []*models.ExternalTransaction) decimal.Decimal {
	total := decimal.Zero
	for _, txn := range txns {
		total = total.Add(txn.CommissionAmount)
	}
	return total
}

// DefaultCommissionWindow resolves the calculation window: start defaults to
// the barber's last collected commission, else 30 days back; end defaults to
// now.
func DefaultCommissionWindow(ctx context.Context, barberId int, start, end *time.Time, now time.Time) (time.Time, time.Time, error) {
	windowEnd := now
	if end != nil {
		windowEnd = *end
	}

	if start != nil {
		return *start, windowEnd, nil
	}

	lastCollected, err := models.LastCollectedCommissionAt(config.GetDB().WithContext(ctx), barberId)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if lastCollected != nil {
		return *lastCollected, windowEnd, nil
	}
	return now.AddDate(0, 0, -30), windowEnd, nil
}

// CalculateOutstandingCommission computes commission owed by a barber over
// [start, end]. Returns models config's NotFound error when the barber has no
// collection config; a window with no eligible transactions is a zero result,
// not an error.
func CalculateOutstandingCommission(ctx context.Context, barberId int, start, end *time.Time) (*OutstandingCommission, error) {
	cfg, err := models.GetCollectionConfigByBarber(ctx, barberId)
	if err != nil {
		return nil, err
	}

	windowStart, windowEnd, err := DefaultCommissionWindow(ctx, barberId, start, end, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	txns, err := models.OutstandingCommissionTransactions(ctx, barberId, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}

	result := &OutstandingCommission{
		BarberId:         barberId,
		TotalOwed:        SumCommissions(txns),
		TransactionCount: len(txns),
		TransactionIds:   make([]int, 0, len(txns)),
		PeriodStart:      windowStart,
		PeriodEnd:        windowEnd,
	}
	for _, txn := range txns {
		result.TransactionIds = append(result.TransactionIds, txn.ID)
	}
	result.MeetsMinimumThreshold = result.TotalOwed.GreaterThanOrEqual(cfg.MinimumCollectionAmount)
	return result, nil
}
