package calc

import (
	"testing"
	"time"

	"github.com/chairtab/platform_backend/models"
	"github.com/shopspring/decimal"
)

func day(d int) time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, d)
}

func TestProrateBoothRent_TwoWeeksAtWeeklyRate(t *testing.T) {
	got, err := ProrateBoothRent(decimal.RequireFromString("250"), models.CollectionFrequencyWeekly, day(0), day(14))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(decimal.RequireFromString("500.00")) {
		t.Fatalf("expected 500.00 for 14 days at 250/week, got %s", got.String())
	}
}

func TestProrateBoothRent_ExactPeriods(t *testing.T) {
	cases := []struct {
		name      string
		rent      string
		frequency models.CollectionFrequency
		days      int
		want      string
	}{
		{"one week at weekly", "250", models.CollectionFrequencyWeekly, 7, "250.00"},
		{"one day at daily", "40", models.CollectionFrequencyDaily, 1, "40.00"},
		{"thirty days at monthly", "900", models.CollectionFrequencyMonthly, 30, "900.00"},
		{"half week", "250", models.CollectionFrequencyWeekly, 3, "107.14"},
		{"ten days at monthly", "900", models.CollectionFrequencyMonthly, 10, "300.00"},
		{"zero days", "250", models.CollectionFrequencyWeekly, 0, "0.00"},
	}
	for _, tc := range cases {
		got, err := ProrateBoothRent(decimal.RequireFromString(tc.rent), tc.frequency, day(0), day(tc.days))
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if !got.Equal(decimal.RequireFromString(tc.want)) {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got.String())
		}
	}
}

func TestProrateBoothRent_InvalidInput(t *testing.T) {
	if _, err := ProrateBoothRent(decimal.RequireFromString("250"), models.CollectionFrequencyWeekly, day(7), day(0)); err == nil {
		t.Fatal("expected error for inverted period")
	}
	if _, err := ProrateBoothRent(decimal.RequireFromString("250"), models.CollectionFrequency("YEARLY"), day(0), day(7)); err == nil {
		t.Fatal("expected error for unknown frequency")
	}
}
